package extractor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntoineDubuc/theodore/internal/fetcher"
	"github.com/AntoineDubuc/theodore/internal/model"
)

// fakeFetcher is a table-driven fetcher.Fetcher test double keyed by URL,
// used in place of a real browser session.
type fakeFetcher struct {
	results map[string]*fetcher.FetchResult
	errs    map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string, mode fetcher.Mode, timeout time.Duration) (*fetcher.FetchResult, error) {
	if err, ok := f.errs[rawURL]; ok {
		return nil, err
	}
	if r, ok := f.results[rawURL]; ok {
		return r, nil
	}
	return &fetcher.FetchResult{URL: rawURL, OK: false, Error: "not found"}, nil
}

func TestExtract_PrefersCleanedHTMLThenMarkdownThenText(t *testing.T) {
	ff := &fakeFetcher{results: map[string]*fetcher.FetchResult{
		"https://acme.com/a": {URL: "https://acme.com/a", OK: true, StatusCode: 200,
			HTML: "<html><body><p>" + strings.Repeat("word ", 20) + "</p></body></html>"},
		"https://acme.com/b": {URL: "https://acme.com/b", OK: true, StatusCode: 200,
			Markdown: strings.Repeat("markdown content word ", 10)},
		"https://acme.com/c": {URL: "https://acme.com/c", OK: true, StatusCode: 200,
			ExtractedText: strings.Repeat("extracted text word ", 10)},
	}}

	e := NewExtractor(ff)
	pages, err := e.Extract(context.Background(), []string{
		"https://acme.com/a", "https://acme.com/b", "https://acme.com/c",
	}, 2)
	require.NoError(t, err)
	require.Len(t, pages, 3)

	assert.Equal(t, model.ContentCleanedHTML, pages[0].ContentKind)
	assert.Equal(t, model.ContentMarkdown, pages[1].ContentKind)
	assert.Equal(t, model.ContentExtractedText, pages[2].ContentKind)
}

func TestExtract_PreservesInputOrder(t *testing.T) {
	ff := &fakeFetcher{results: map[string]*fetcher.FetchResult{
		"https://acme.com/1": {OK: true, StatusCode: 200, Markdown: strings.Repeat("one ", 15)},
		"https://acme.com/2": {OK: true, StatusCode: 200, Markdown: strings.Repeat("two ", 15)},
		"https://acme.com/3": {OK: true, StatusCode: 200, Markdown: strings.Repeat("three ", 15)},
	}}

	e := NewExtractor(ff)
	urls := []string{"https://acme.com/3", "https://acme.com/1", "https://acme.com/2"}
	pages, err := e.Extract(context.Background(), urls, 3)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	for i, u := range urls {
		assert.Equal(t, u, pages[i].URL)
	}
}

func TestExtract_ShortBodyBecomesEmptyWithError(t *testing.T) {
	ff := &fakeFetcher{results: map[string]*fetcher.FetchResult{
		"https://acme.com/short": {OK: true, StatusCode: 200, Markdown: "too short"},
	}}

	e := NewExtractor(ff)
	pages, err := e.Extract(context.Background(), []string{"https://acme.com/short"}, 1)
	require.Error(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, model.ContentEmpty, pages[0].ContentKind)
	assert.NotEmpty(t, pages[0].Error)
}

func TestExtract_FailedFetchBecomesEmptyWithError(t *testing.T) {
	ff := &fakeFetcher{errs: map[string]error{
		"https://acme.com/broken": errors.New("connection reset"),
	}}

	e := NewExtractor(ff)
	pages, err := e.Extract(context.Background(), []string{"https://acme.com/broken"}, 1)
	require.Error(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, model.ContentEmpty, pages[0].ContentKind)
	assert.Equal(t, "connection reset", pages[0].Error)
}

func TestExtract_PartialSuccessDoesNotError(t *testing.T) {
	ff := &fakeFetcher{
		results: map[string]*fetcher.FetchResult{
			"https://acme.com/good": {OK: true, StatusCode: 200, Markdown: strings.Repeat("content word ", 15)},
		},
		errs: map[string]error{
			"https://acme.com/bad": errors.New("timeout"),
		},
	}

	e := NewExtractor(ff)
	pages, err := e.Extract(context.Background(), []string{"https://acme.com/good", "https://acme.com/bad"}, 2)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, model.ContentMarkdown, pages[0].ContentKind)
	assert.Equal(t, model.ContentEmpty, pages[1].ContentKind)
}

func TestExtract_TruncatesBody(t *testing.T) {
	ff := &fakeFetcher{results: map[string]*fetcher.FetchResult{
		"https://acme.com/long": {OK: true, StatusCode: 200, Markdown: strings.Repeat("w ", model.MaxPageBodyChars)},
	}}

	e := NewExtractor(ff)
	pages, err := e.Extract(context.Background(), []string{"https://acme.com/long"}, 1)
	require.NoError(t, err)
	assert.Len(t, pages[0].Body, model.MaxPageBodyChars)
}

func TestExtract_EmptyInputReturnsNil(t *testing.T) {
	e := NewExtractor(&fakeFetcher{})
	pages, err := e.Extract(context.Background(), nil, 5)
	require.NoError(t, err)
	assert.Nil(t, pages)
}
