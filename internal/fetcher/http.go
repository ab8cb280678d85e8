package fetcher

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/AntoineDubuc/theodore/internal/resilience"
)

const userAgent = "Mozilla/5.0 (compatible; TheodoreResearchBot/1.0; +https://theodore.invalid/bot)"

// StaticFetcher performs plain HTTP GETs. It never renders JavaScript and
// never retries (callers own retry policy), but its transport sits behind
// a circuit breaker so a host that keeps failing at the transport level
// stops consuming fetch slots.
type StaticFetcher struct {
	client  *http.Client
	breaker *resilience.CircuitBreaker
}

// NewStaticFetcher builds a StaticFetcher. sslVerify=false disables TLS
// certificate verification process-wide for this fetcher while still
// refusing non-HTTP(S) schemes via CheckScheme.
func NewStaticFetcher(sslVerify bool) *StaticFetcher {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if !sslVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &StaticFetcher{
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
	}
}

// WithCircuitConfig overrides the transport circuit breaker tuning.
func (f *StaticFetcher) WithCircuitConfig(cfg resilience.CircuitBreakerConfig) *StaticFetcher {
	f.breaker = resilience.NewCircuitBreaker(cfg)
	return f
}

// Fetch implements Fetcher for ModeStatic. mode must be ModeStatic;
// ModeRendered is rejected since this fetcher never executes JavaScript.
func (f *StaticFetcher) Fetch(ctx context.Context, rawURL string, mode Mode, timeout time.Duration) (*FetchResult, error) {
	if mode != ModeStatic {
		return nil, eris.Errorf("static fetcher: unsupported mode %q", mode)
	}
	if err := CheckScheme(rawURL); err != nil {
		return &FetchResult{URL: rawURL, OK: false, Error: err.Error()}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "static fetcher: build request")
	}
	req.Header.Set("User-Agent", userAgent)

	// Non-2xx responses return a nil error here, so only transport-level
	// failures count against the breaker.
	resp, err := resilience.ExecuteVal(ctx, f.breaker, func(ctx context.Context) (*http.Response, error) {
		return f.client.Do(req.WithContext(ctx))
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return &FetchResult{URL: rawURL, OK: false, Error: err.Error()}, nil
		}
		if ctx.Err() != nil {
			return &FetchResult{URL: rawURL, OK: false, TimedOut: true, Error: "timeout"}, nil
		}
		return &FetchResult{URL: rawURL, OK: false, Error: err.Error()}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return &FetchResult{URL: rawURL, OK: false, Error: err.Error()}, nil
	}

	result := &FetchResult{
		URL:        rawURL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
	}

	blocked, blockType := DetectBlock(resp, body)
	if blocked {
		result.Blocked = true
		result.BlockType = blockType
		zap.L().Debug("fetcher: block detected", zap.String("url", rawURL), zap.String("type", string(blockType)))
		return result, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.OK = false
		result.Error = eris.Errorf("status %d", resp.StatusCode).Error()
		return result, nil
	}

	html := string(body)
	result.OK = true
	result.HTML = html
	result.ExtractedText = StripHTML(html)
	return result, nil
}
