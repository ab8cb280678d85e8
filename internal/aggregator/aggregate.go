// Package aggregator implements the Intelligence Aggregator: fuse a set of
// extracted pages into a structured CompanyRecord via a single LLM call,
// with deterministic classification fallbacks when the model omits fields.
package aggregator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/AntoineDubuc/theodore/internal/llmgateway"
	"github.com/AntoineDubuc/theodore/internal/model"
)

// DefaultTimeout is the phase timeout used when the caller does not
// override it.
const DefaultTimeout = 90 * time.Second

// DefaultCorpusBudget is the default total character budget for the
// concatenated page corpus fed to the extraction prompt.
const DefaultCorpusBudget = corpusBudget

// Aggregator implements aggregate(pages, company_name, seed_url) ->
// CompanyRecord(partial).
type Aggregator struct {
	gateway      *llmgateway.Gateway
	timeout      time.Duration
	corpusBudget int
}

// NewAggregator builds an Aggregator backed by an LLM gateway.
func NewAggregator(gateway *llmgateway.Gateway) *Aggregator {
	return &Aggregator{gateway: gateway, timeout: DefaultTimeout, corpusBudget: DefaultCorpusBudget}
}

// WithTimeout overrides the phase timeout.
func (a *Aggregator) WithTimeout(d time.Duration) *Aggregator {
	a.timeout = d
	return a
}

// WithCorpusBudget overrides the corpus character budget.
func (a *Aggregator) WithCorpusBudget(n int) *Aggregator {
	a.corpusBudget = n
	return a
}

// Aggregate implements aggregate(pages, company_name, seed_url) ->
// CompanyRecord(partial). The returned record has its structured fields at
// their defaults on failure; the coordinator owns id, name, website,
// created_at, and pages_crawled regardless of model output.
func (a *Aggregator) Aggregate(ctx context.Context, pages []model.PageContent, companyName, seedURL string) (*model.CompanyRecord, model.TokenUsage, error) {
	record := &model.CompanyRecord{}
	groups := groupByPageType(pages)
	corpus := buildCorpus(groups, a.corpusBudget)

	if corpus == "" {
		record.ScrapeStatus = model.ScrapePartial
		record.AISummary = ""
		return record, model.TokenUsage{}, nil
	}

	prompt := buildExtractionPrompt(companyName, seedURL, corpus)

	result, err := a.gateway.Call(ctx, extractionSystemPrompt, prompt, llmgateway.CallOptions{
		ExpectJSON:      true,
		MaxOutputTokens: 4096,
		Timeout:         a.timeout,
	})
	if err != nil {
		zap.L().Warn("aggregator: extraction call failed, falling back to raw text",
			zap.String("company", companyName),
			zap.Error(err),
		)
		record.ScrapeStatus = model.ScrapePartial
		// On a JSON parse failure the model still produced response text,
		// which makes a better summary fallback than the input corpus.
		var parseErr *llmgateway.JSONParseError
		if errors.As(err, &parseErr) {
			record.AISummary = truncate(parseErr.Raw, 2000)
		} else {
			record.AISummary = truncate(corpus, 2000)
		}
		applyClassificationFallbacks(record, corpus, groups)
		if result != nil {
			return record, result.Usage, nil
		}
		return record, model.TokenUsage{}, nil
	}

	if result.JSON == nil {
		record.AISummary = truncate(result.Text, 2000)
		record.ScrapeStatus = model.ScrapePartial
		applyClassificationFallbacks(record, corpus, groups)
		return record, result.Usage, nil
	}

	mergeFields(record, result.JSON)
	applyClassificationFallbacks(record, corpus, groups)

	// Success requires a summary plus at least one substantive field; a
	// summary alone is still only a partial extraction.
	substantive := record.Industry != "" || record.BusinessModel != "" || record.CompanyDescription != ""
	if record.AISummary != "" && substantive {
		record.ScrapeStatus = model.ScrapeSuccess
	} else {
		record.ScrapeStatus = model.ScrapePartial
	}

	return record, result.Usage, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
