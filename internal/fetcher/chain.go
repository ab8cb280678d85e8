package fetcher

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Chain tries fetchers for a given mode in priority order, returning the
// first successful result. It is the single entry point C3 and C6 use so
// that the shared-browser-session invariant (§5) is enforced in one place.
type Chain struct {
	static   Fetcher
	rendered []Fetcher
}

// NewChain builds a Chain with one static fetcher and an ordered list of
// rendered-mode fetchers tried in sequence until one succeeds.
func NewChain(static Fetcher, rendered ...Fetcher) *Chain {
	return &Chain{static: static, rendered: rendered}
}

// Fetch dispatches to the static fetcher for ModeStatic, or tries each
// rendered-mode fetcher in order for ModeRendered.
func (c *Chain) Fetch(ctx context.Context, rawURL string, mode Mode, timeout time.Duration) (*FetchResult, error) {
	if mode == ModeStatic {
		return c.static.Fetch(ctx, rawURL, mode, timeout)
	}

	var last *FetchResult
	for _, f := range c.rendered {
		result, err := f.Fetch(ctx, rawURL, mode, timeout)
		if err != nil {
			zap.L().Debug("fetcher: rendered backend error, trying next", zap.String("url", rawURL), zap.Error(err))
			continue
		}
		if result.OK {
			return result, nil
		}
		last = result
		zap.L().Debug("fetcher: rendered backend failed, trying next", zap.String("url", rawURL), zap.String("error", result.Error))
	}
	if last != nil {
		return last, nil
	}
	return &FetchResult{URL: rawURL, OK: false, Error: "no rendered fetch backend configured"}, nil
}
