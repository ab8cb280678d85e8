package fetcher

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// scrollAndExpandScript scrolls to the bottom of the page and clicks any
// visible "load more"/"show more" toggle, defensively guarded so a missing
// element never throws.
const scrollAndExpandScript = `() => {
	try { window.scrollTo(0, document.body.scrollHeight); } catch (e) {}
	try {
		const needles = ['load more', 'show more', 'view more'];
		const candidates = Array.from(document.querySelectorAll('button, a'));
		for (const el of candidates) {
			const text = (el.innerText || '').trim().toLowerCase();
			if (needles.some(n => text.includes(n))) {
				el.click();
				break;
			}
		}
	} catch (e) {}
}`

// RenderedFetcher loads pages in a single shared headless-Chromium session
// via go-rod. One browser session is shared across a run's discovery and
// extraction phases; RenderedFetcher enforces that by lazily launching
// exactly one browser and reusing it for every Fetch call.
type RenderedFetcher struct {
	mu      sync.Mutex
	browser *rod.Browser
	headless bool
}

// NewRenderedFetcher creates a RenderedFetcher. The underlying browser is
// launched lazily on first Fetch so a run that never needs rendering never
// pays the startup cost.
func NewRenderedFetcher() *RenderedFetcher {
	return &RenderedFetcher{headless: true}
}

func (f *RenderedFetcher) ensureBrowser() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil {
		return f.browser, nil
	}
	u, err := launcher.New().Headless(f.headless).Launch()
	if err != nil {
		return nil, eris.Wrap(err, "rendered fetcher: launch browser")
	}
	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, eris.Wrap(err, "rendered fetcher: connect browser")
	}
	f.browser = browser
	return browser, nil
}

// Close releases the shared browser session. Safe to call once per run.
func (f *RenderedFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser == nil {
		return nil
	}
	err := f.browser.Close()
	f.browser = nil
	return err
}

// Fetch implements Fetcher for ModeRendered.
func (f *RenderedFetcher) Fetch(ctx context.Context, rawURL string, mode Mode, timeout time.Duration) (*FetchResult, error) {
	if mode != ModeRendered {
		return nil, eris.Errorf("rendered fetcher: unsupported mode %q", mode)
	}
	if err := CheckScheme(rawURL); err != nil {
		return &FetchResult{URL: rawURL, OK: false, Error: err.Error()}, nil
	}

	browser, err := f.ensureBrowser()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: rawURL})
	if err != nil {
		if ctx.Err() != nil {
			return &FetchResult{URL: rawURL, OK: false, TimedOut: true, Error: "timeout"}, nil
		}
		return &FetchResult{URL: rawURL, OK: false, Error: err.Error()}, nil
	}
	defer func() { _ = page.Close() }()

	if err := page.WaitLoad(); err != nil {
		zap.L().Debug("fetcher: page load wait failed, continuing", zap.String("url", rawURL), zap.Error(err))
	}

	if _, err := page.Eval(scrollAndExpandScript); err != nil {
		zap.L().Debug("fetcher: scroll/expand script failed, continuing", zap.String("url", rawURL), zap.Error(err))
	}

	html, err := page.HTML()
	if err != nil {
		if ctx.Err() != nil {
			return &FetchResult{URL: rawURL, OK: false, TimedOut: true, Error: "timeout"}, nil
		}
		return &FetchResult{URL: rawURL, OK: false, Error: err.Error()}, nil
	}

	info, err := page.Info()
	finalURL := rawURL
	if err == nil && info != nil {
		finalURL = info.URL
	}

	result := &FetchResult{
		URL:           rawURL,
		FinalURL:      finalURL,
		OK:            true,
		StatusCode:    200,
		HTML:          html,
		ExtractedText: StripHTML(html),
	}
	return result, nil
}
