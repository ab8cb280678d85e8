package aggregator

import (
	"regexp"
	"strings"

	"github.com/AntoineDubuc/theodore/internal/model"
)

// businessModelKeywords scores the business_model_type classification when
// the LLM omits it, mirroring C5's keyword-weight heuristic pattern.
var businessModelKeywords = map[string][]string{
	"saas":          {"subscription", "monthly plan", "free trial", "saas", "dashboard", "api access"},
	"marketplace":   {"marketplace", "buyers and sellers", "list your", "commission", "platform connects"},
	"ecommerce":     {"add to cart", "checkout", "shipping", "free returns", "shop now"},
	"manufacturing": {"manufacturing", "factory", "production line", "raw materials", "assembly"},
	"restaurant":    {"menu", "reservations", "dine-in", "takeout", "catering"},
	"services":      {"consulting", "our services", "we provide", "service offering"},
}

// techSophisticationSignals scores a corpus's apparent technical maturity.
var techSophisticationSignals = []string{
	"api", "cloud", "integration", "platform", "automation", "machine learning",
	"artificial intelligence", "data pipeline", "microservices", "real-time",
}

// companyStageKeywords scores the company_stage classification.
var companyStageKeywords = map[string][]string{
	"startup":     {"we're a startup", "early-stage", "just launched", "founded in 202"},
	"growth":      {"fast-growing", "rapidly expanding", "series a", "series b", "scaling"},
	"mature":      {"industry leader", "decades of experience", "established in 19", "trusted by thousands"},
	"established": {"since 19", "for over", "years of experience", "legacy"},
}

var jobListingSignals = regexp.MustCompile(`(?i)(open position|we'?re hiring|now hiring|job opening|apply now|join our team|current openings)`)

// classifyBusinessModelType returns the best keyword match, or "" if none.
func classifyBusinessModelType(corpus string) string {
	return bestKeywordMatch(corpus, businessModelKeywords)
}

// classifyCompanyStage returns the best keyword match, or "" if none.
func classifyCompanyStage(corpus string) string {
	return bestKeywordMatch(corpus, companyStageKeywords)
}

func bestKeywordMatch(corpus string, table map[string][]string) string {
	lower := strings.ToLower(corpus)
	bestLabel := ""
	bestScore := 0
	for label, keywords := range table {
		score := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestLabel = label
		}
	}
	return bestLabel
}

// classifyTechSophistication buckets a corpus into low/medium/high based on
// the density of technical vocabulary.
func classifyTechSophistication(corpus string) string {
	lower := strings.ToLower(corpus)
	hits := 0
	for _, sig := range techSophisticationSignals {
		if strings.Contains(lower, sig) {
			hits++
		}
	}
	switch {
	case hits >= 4:
		return "high"
	case hits >= 1:
		return "medium"
	default:
		return "low"
	}
}

// detectJobListings scans careers/jobs-grouped pages for hiring signals and
// returns whether listings were found and an approximate count of distinct
// signal occurrences across those pages.
func detectJobListings(groups map[model.PageType][]model.PageContent) (bool, int) {
	careerPages := groups[model.PageTypeCareers]
	if len(careerPages) == 0 {
		return false, 0
	}

	count := 0
	for _, p := range careerPages {
		matches := jobListingSignals.FindAllString(p.Body, -1)
		count += len(matches)
	}
	return count > 0, count
}
