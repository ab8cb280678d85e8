package aggregator

import (
	"fmt"
	"strings"

	"github.com/AntoineDubuc/theodore/internal/model"
)

// corpusBudget is the default total-character budget for the concatenated,
// labelled page sections fed to the extraction prompt.
const corpusBudget = 8_000

// pageTypeOrder fixes the section emission order, placing the homepage and
// about page first since they are the most diverse, highest-signal sources.
var pageTypeOrder = []model.PageType{
	model.PageTypeMain,
	model.PageTypeAbout,
	model.PageTypeProducts,
	model.PageTypeTeam,
	model.PageTypeCareers,
	model.PageTypeNews,
	model.PageTypeContact,
}

var pageTypeLabel = map[model.PageType]string{
	model.PageTypeMain:     "HOMEPAGE & GENERAL",
	model.PageTypeAbout:    "ABOUT",
	model.PageTypeProducts: "PRODUCTS & SERVICES",
	model.PageTypeTeam:     "TEAM & LEADERSHIP",
	model.PageTypeCareers:  "CAREERS & CULTURE",
	model.PageTypeNews:     "NEWS & UPDATES",
	model.PageTypeContact:  "CONTACT & LOCATION",
}

// groupByPageType buckets successfully extracted pages by inferred page
// type, preserving each bucket's input order.
func groupByPageType(pages []model.PageContent) map[model.PageType][]model.PageContent {
	groups := make(map[model.PageType][]model.PageContent)
	for _, p := range pages {
		if p.ContentKind == model.ContentEmpty || p.Body == "" {
			continue
		}
		pt := classifyPageType(p.URL)
		groups[pt] = append(groups[pt], p)
	}
	return groups
}

// buildCorpus concatenates grouped page bodies into labelled sections,
// favoring earlier/diverse pages and truncating the total to budget chars.
// "Diverse" is implemented by round-robining one page per group per pass
// before taking a second page from any group, so a single page-rich group
// cannot crowd out the others.
func buildCorpus(groups map[model.PageType][]model.PageContent, budget int) string {
	var b strings.Builder
	remaining := budget

	indices := make(map[model.PageType]int)
	for {
		wrote := false
		for _, pt := range pageTypeOrder {
			pages := groups[pt]
			i := indices[pt]
			if i >= len(pages) {
				continue
			}
			indices[pt] = i + 1
			wrote = true

			section := fmt.Sprintf("=== %s (%s) ===\n%s\n\n", pageTypeLabel[pt], pages[i].URL, pages[i].Body)
			if len(section) > remaining {
				section = section[:remaining]
			}
			b.WriteString(section)
			remaining -= len(section)
			if remaining <= 0 {
				return b.String()
			}
		}
		if !wrote {
			return b.String()
		}
	}
}

const extractionSystemPrompt = "You are a business intelligence analyst. Extract factual information only " +
	"from the provided website content. Never invent values not supported by the content. " +
	"Respond with a single JSON object and no other text."

// buildExtractionPrompt renders the structured extraction prompt
// enumerating every CompanyRecord field with its expected type and allowed
// values, with explicit empty-string/[]/{} default instructions.
func buildExtractionPrompt(companyName, seedURL, corpus string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\nWebsite: %s\n\n", companyName, seedURL)
	b.WriteString("Website content:\n")
	b.WriteString(corpus)
	b.WriteString("\n\n")
	b.WriteString(`Extract the following fields and return them as a single JSON object. Strings default to "", lists default to [], objects default to {}. Never hallucinate values the content does not support.

{
  "industry": "primary industry/sector",
  "business_model": "B2B, B2C, marketplace, SaaS, franchise, etc.",
  "target_market": "who they serve",
  "company_size": "startup, SMB, enterprise",
  "company_description": "brief description of what the company does",
  "value_proposition": "main value proposition or unique selling point",
  "key_services": ["service 1", "service 2"],
  "competitive_advantages": ["advantage 1"],
  "tech_stack": ["technology 1"],
  "pain_points": ["pain point this company solves for its customers"],
  "location": "headquarters city, state/country",
  "founding_year": year_as_number_or_null,
  "employee_count_range": "1-10, 11-50, 51-200, 201-1000, 1000+",
  "company_culture": "culture, values, work environment",
  "funding_status": "bootstrap, seed, series_a, series_b, public, acquired, etc.",
  "leadership_team": ["Name, Title"],
  "contact_info": {"email": "", "phone": "", "address": ""},
  "social_media": {"linkedin": "", "twitter": "", "facebook": "", "instagram": ""},
  "recent_news": ["announcement 1"],
  "certifications": ["certification 1"],
  "partnerships": ["partner 1"],
  "awards": ["award 1"],
  "company_stage": "startup, growth, mature, established",
  "tech_sophistication": "low, medium, high",
  "business_model_type": "saas, services, marketplace, ecommerce, manufacturing, restaurant, other",
  "geographic_scope": "local, regional, national, global",
  "decision_maker_type": "technical, business, hybrid",
  "sales_complexity": "simple, moderate, complex",
  "ai_summary": "comprehensive 2-3 paragraph business intelligence summary covering what the company does, who they serve, their market position, and key insights for sales qualification"
}`)
	return b.String()
}
