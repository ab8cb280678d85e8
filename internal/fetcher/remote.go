package fetcher

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/AntoineDubuc/theodore/pkg/firecrawl"
	"github.com/AntoineDubuc/theodore/pkg/jina"
)

// FirecrawlFetcher implements Fetcher's ModeRendered using the hosted
// Firecrawl scrape API as an alternative to an in-process headless
// browser. Useful when the host cannot run Chromium (§4.1 rendered mode
// does not mandate a specific renderer, only that one be used).
type FirecrawlFetcher struct {
	client firecrawl.Client
}

// NewFirecrawlFetcher wraps a Firecrawl client as a Fetcher.
func NewFirecrawlFetcher(client firecrawl.Client) *FirecrawlFetcher {
	return &FirecrawlFetcher{client: client}
}

func (f *FirecrawlFetcher) Fetch(ctx context.Context, rawURL string, mode Mode, timeout time.Duration) (*FetchResult, error) {
	if mode != ModeRendered {
		return nil, eris.Errorf("firecrawl fetcher: unsupported mode %q", mode)
	}
	if err := CheckScheme(rawURL); err != nil {
		return &FetchResult{URL: rawURL, OK: false, Error: err.Error()}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := f.client.Scrape(ctx, firecrawl.ScrapeRequest{URL: rawURL, Formats: []string{"markdown", "html"}})
	if err != nil {
		if ctx.Err() != nil {
			return &FetchResult{URL: rawURL, OK: false, TimedOut: true, Error: "timeout"}, nil
		}
		return &FetchResult{URL: rawURL, OK: false, Error: err.Error()}, nil
	}
	if !resp.Success {
		return &FetchResult{URL: rawURL, OK: false, Error: "firecrawl: scrape not successful"}, nil
	}

	return &FetchResult{
		URL:        rawURL,
		FinalURL:   resp.Data.URL,
		OK:         true,
		StatusCode: resp.Data.StatusCode,
		HTML:       resp.Data.HTML,
		Markdown:   resp.Data.Markdown,
	}, nil
}

// JinaFetcher implements Fetcher's ModeStatic/ModeRendered using the Jina
// AI Reader API, which performs server-side rendering and returns
// pre-cleaned markdown — a useful fallback when both local fetch modes are
// blocked.
type JinaFetcher struct {
	client jina.Client
}

// NewJinaFetcher wraps a Jina Reader client as a Fetcher.
func NewJinaFetcher(client jina.Client) *JinaFetcher {
	return &JinaFetcher{client: client}
}

func (f *JinaFetcher) Fetch(ctx context.Context, rawURL string, mode Mode, timeout time.Duration) (*FetchResult, error) {
	if err := CheckScheme(rawURL); err != nil {
		return &FetchResult{URL: rawURL, OK: false, Error: err.Error()}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := f.client.Read(ctx, rawURL)
	if err != nil {
		if ctx.Err() != nil {
			return &FetchResult{URL: rawURL, OK: false, TimedOut: true, Error: "timeout"}, nil
		}
		return &FetchResult{URL: rawURL, OK: false, Error: err.Error()}, nil
	}
	if resp.Code != 0 && resp.Code != 200 {
		return &FetchResult{URL: rawURL, OK: false, Error: eris.Errorf("jina: status %d", resp.Code).Error()}, nil
	}

	return &FetchResult{
		URL:        rawURL,
		FinalURL:   resp.Data.URL,
		OK:         true,
		StatusCode: 200,
		Markdown:   resp.Data.Content,
	}, nil
}
