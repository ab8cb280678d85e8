// Package extractor implements the Parallel Extractor: fetch a bounded set
// of URLs through a single shared fetcher session and reduce each to a
// clean text body for downstream aggregation.
package extractor

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AntoineDubuc/theodore/internal/fetcher"
	"github.com/AntoineDubuc/theodore/internal/model"
)

// DefaultConcurrency bounds fan-out when the caller does not override it.
const DefaultConcurrency = 10

// StoreLocatorConcurrency is used for hosts known to rate-limit aggressively.
const StoreLocatorConcurrency = 5

// minContentWords is the threshold below which a body is discarded as empty.
const minContentWords = 10

// DefaultFetchTimeout bounds each individual URL fetch.
const DefaultFetchTimeout = 15 * time.Second

// Extractor implements extract(urls, concurrency) -> [PageContent] against
// a single shared fetcher.Fetcher session.
type Extractor struct {
	fetcher      fetcher.Fetcher
	fetchTimeout time.Duration
}

// NewExtractor builds an Extractor over a shared fetcher session.
func NewExtractor(f fetcher.Fetcher) *Extractor {
	return &Extractor{fetcher: f, fetchTimeout: DefaultFetchTimeout}
}

// WithFetchTimeout overrides the per-URL fetch timeout.
func (e *Extractor) WithFetchTimeout(d time.Duration) *Extractor {
	e.fetchTimeout = d
	return e
}

// Extract fetches every URL with up to concurrency in flight, reducing each
// page to a PageContent in input order. It returns an error only when the
// shared session itself is unusable or every non-empty URL list produced
// zero non-empty pages.
func (e *Extractor) Extract(ctx context.Context, urls []string, concurrency int) ([]model.PageContent, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	results := make([]model.PageContent, len(urls))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			results[i] = e.extractOne(gCtx, u)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "extractor: shared session unusable")
	}

	nonEmpty := 0
	for _, r := range results {
		if r.ContentKind != model.ContentEmpty {
			nonEmpty++
		}
	}
	if nonEmpty == 0 {
		return results, eris.New("extractor: zero URLs produced non-empty content")
	}

	return results, nil
}

func (e *Extractor) extractOne(ctx context.Context, rawURL string) model.PageContent {
	page := model.PageContent{
		URL:         rawURL,
		FetchedAt:   time.Now(),
		ContentKind: model.ContentEmpty,
	}

	result, err := e.fetcher.Fetch(ctx, rawURL, fetcher.ModeRendered, e.fetchTimeout)
	if err != nil {
		page.Error = err.Error()
		return page
	}
	page.HTTPStatus = result.StatusCode
	if !result.OK {
		page.Error = result.Error
		return page
	}

	kind, body := pickBody(result)
	if kind == model.ContentEmpty || fetcher.WordCount(body) < minContentWords {
		zap.L().Debug("extractor: discarding short body", zap.String("url", rawURL), zap.Int("words", fetcher.WordCount(body)))
		page.Error = "content below minimum word threshold"
		return page
	}

	page.ContentKind = kind
	page.Body = fetcher.TruncateBody(body, model.MaxPageBodyChars)
	page.ByteSize = len(page.Body)
	return page
}

// pickBody implements the cleaned-HTML -> markdown -> raw-extracted-text
// preference order, returning the first non-empty representation.
func pickBody(result *fetcher.FetchResult) (model.ContentKind, string) {
	if result.HTML != "" {
		if cleaned := strings.TrimSpace(fetcher.StripHTML(result.HTML)); cleaned != "" {
			return model.ContentCleanedHTML, cleaned
		}
	}
	if md := strings.TrimSpace(result.Markdown); md != "" {
		return model.ContentMarkdown, md
	}
	if txt := strings.TrimSpace(result.ExtractedText); txt != "" {
		return model.ContentExtractedText, txt
	}
	return model.ContentEmpty, ""
}
