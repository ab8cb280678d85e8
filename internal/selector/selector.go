// Package selector implements the Page Selector: pick the most informative
// subset of a discovery set's URLs to extract, via an LLM ranking with a
// deterministic heuristic fallback.
package selector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AntoineDubuc/theodore/internal/llmgateway"
	"github.com/AntoineDubuc/theodore/internal/model"
)

// maxCandidates bounds the prompt size per the selection contract.
const maxCandidates = 25

// DefaultTimeout is the phase timeout used when the caller does not
// override it.
const DefaultTimeout = 120 * time.Second

// Result is the outcome of one selection. Heuristic reports that the LLM
// ranking was unavailable and the keyword fallback produced the URLs.
type Result struct {
	URLs      []string
	Heuristic bool
	Usage     model.TokenUsage
}

// Selector implements select(discovery_set, company_name, k_target) -> [URL].
type Selector struct {
	gateway *llmgateway.Gateway
	timeout time.Duration
}

// NewSelector builds a Selector backed by an LLM gateway.
func NewSelector(gateway *llmgateway.Gateway) *Selector {
	return &Selector{gateway: gateway, timeout: DefaultTimeout}
}

// WithTimeout overrides the phase timeout.
func (s *Selector) WithTimeout(d time.Duration) *Selector {
	s.timeout = d
	return s
}

// Select implements select(discovery_set, company_name, k_target). An
// empty discovery set yields an empty result; an LLM failure degrades to
// the keyword heuristic and is reported via Result.Heuristic, never as an
// error.
func (s *Selector) Select(ctx context.Context, discovery *model.DiscoverySet, companyName string, kTarget int) (Result, error) {
	candidates := discovery.URLs()
	if len(candidates) == 0 {
		return Result{}, nil
	}

	truncated := candidates
	if len(truncated) > maxCandidates {
		truncated = truncated[:maxCandidates]
	}

	selected, usage, err := s.selectViaLLM(ctx, truncated, companyName, kTarget)
	if err != nil || len(selected) == 0 {
		zap.L().Debug("selector: LLM selection unavailable, using heuristic fallback",
			zap.String("company", companyName),
			zap.Error(err),
		)
		return Result{URLs: heuristicSelect(truncated, kTarget), Heuristic: true, Usage: usage}, nil
	}

	return Result{URLs: selected, Usage: usage}, nil
}

func (s *Selector) selectViaLLM(ctx context.Context, candidates []string, companyName string, kTarget int) ([]string, model.TokenUsage, error) {
	prompt := buildSelectionPrompt(candidates, companyName, kTarget)

	result, err := s.gateway.Call(ctx, selectionSystemPrompt, prompt, llmgateway.CallOptions{
		ExpectJSON:      true,
		MaxOutputTokens: 1024,
		Timeout:         s.timeout,
	})
	if err != nil {
		var usage model.TokenUsage
		if result != nil {
			usage = result.Usage
		}
		return nil, usage, err
	}

	raw, ok := result.JSON["urls"].([]any)
	if !ok {
		return nil, result.Usage, nil
	}

	candidateSet := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		candidateSet[c] = true
	}

	var out []string
	seen := make(map[string]bool)
	for _, v := range raw {
		u, ok := v.(string)
		if !ok || !candidateSet[u] || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
		if len(out) >= kTarget {
			break
		}
	}

	return out, result.Usage, nil
}

const selectionSystemPrompt = "You select the most informative web pages for researching a company. " +
	"Respond with a single JSON object of the form {\"urls\": [\"...\"]} and no other text."

func buildSelectionPrompt(candidates []string, companyName string, kTarget int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n\n", companyName)
	fmt.Fprintf(&b, "From the following %d candidate URLs, pick up to %d that are most likely to contain: "+
		"contact/location, founding year, employee count, leadership, products/services, partnerships, "+
		"certifications, recent news.\n\n", len(candidates), kTarget)
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c)
	}
	return b.String()
}
