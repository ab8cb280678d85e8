// Package fetcher implements the HTTP/Browser Fetcher: a single URL to
// (status, html, text) fetch with SSL, user-agent, timeout, and
// JS-rendering policy. Callers own retry policy; Fetcher never retries.
package fetcher

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// Mode selects the fetch strategy for a single URL.
type Mode string

const (
	ModeStatic   Mode = "static"
	ModeRendered Mode = "rendered"
)

// FetchResult is the structured outcome of one fetch attempt. Callers
// inspect OK before trusting any other field; a failed fetch (bad status,
// block, timeout, transport error) is returned as data. Fetch returns a
// non-nil error only when no request can be attempted: an unsupported mode,
// a request that cannot be built, or a browser session that cannot start.
type FetchResult struct {
	URL            string
	FinalURL       string
	OK             bool
	StatusCode     int
	HTML           string
	ExtractedText  string
	Markdown       string
	Blocked        bool
	BlockType      BlockType
	Error          string
	TimedOut       bool
}

// Fetcher performs the single-URL fetch operation described in the
// component contract. Implementations must honor ctx cancellation and
// must not retry internally.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, mode Mode, timeout time.Duration) (*FetchResult, error)
}

// disallowedSchemes are refused even when SSL verification is disabled.
var disallowedSchemes = map[string]bool{
	"file":       true,
	"javascript": true,
	"mailto":     true,
	"tel":        true,
	"data":       true,
}

// CheckScheme rejects non-HTTP(S) and explicitly dangerous schemes
// regardless of the process-wide SSL verification setting.
func CheckScheme(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	scheme := strings.ToLower(u.Scheme)
	if disallowedSchemes[scheme] {
		return errDisallowedScheme(scheme)
	}
	if scheme != "http" && scheme != "https" {
		return errDisallowedScheme(scheme)
	}
	return nil
}

type schemeError string

func (e schemeError) Error() string { return "fetcher: disallowed scheme: " + string(e) }

func errDisallowedScheme(scheme string) error { return schemeError(scheme) }
