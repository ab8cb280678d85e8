package aggregator

import (
	"go.uber.org/zap"

	"github.com/AntoineDubuc/theodore/internal/model"
)

// mergeFields copies every recognized key from a parsed extraction response
// into record, coercing loosely-typed JSON values the way the LLM actually
// returns them. Unrecognized or mistyped keys are dropped with a debug log
// rather than failing the whole merge.
func mergeFields(record *model.CompanyRecord, fields map[string]any) {
	record.Industry = mergeString(fields, "industry")
	record.BusinessModel = mergeString(fields, "business_model")
	record.TargetMarket = mergeString(fields, "target_market")
	record.CompanySize = mergeString(fields, "company_size")
	record.CompanyDescription = mergeString(fields, "company_description")
	record.ValueProposition = mergeString(fields, "value_proposition")
	record.Location = mergeString(fields, "location")
	record.EmployeeCountRange = mergeString(fields, "employee_count_range")
	record.CompanyCulture = mergeString(fields, "company_culture")
	record.FundingStatus = mergeString(fields, "funding_status")
	record.CompanyStage = mergeString(fields, "company_stage")
	record.TechSophistication = mergeString(fields, "tech_sophistication")
	record.BusinessModelType = mergeString(fields, "business_model_type")
	record.GeographicScope = mergeString(fields, "geographic_scope")
	record.DecisionMakerType = mergeString(fields, "decision_maker_type")
	record.SalesComplexity = mergeString(fields, "sales_complexity")
	record.AISummary = mergeString(fields, "ai_summary")

	record.KeyServices = mergeStringList(fields, "key_services")
	record.CompetitiveAdvantages = mergeStringList(fields, "competitive_advantages")
	record.TechStack = mergeStringList(fields, "tech_stack")
	record.PainPoints = mergeStringList(fields, "pain_points")
	record.LeadershipTeam = mergeStringList(fields, "leadership_team")
	record.RecentNews = mergeStringList(fields, "recent_news")
	record.Certifications = mergeStringList(fields, "certifications")
	record.Partnerships = mergeStringList(fields, "partnerships")
	record.Awards = mergeStringList(fields, "awards")

	record.FoundingYear = mergeInt(fields, "founding_year")

	record.ContactInfo = mergeContactInfo(fields["contact_info"])
	record.SocialMedia = mergeStringMap(fields["social_media"])
}

func mergeString(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		zap.L().Debug("aggregator: field not a string, dropping", zap.String("field", key))
		return ""
	}
	return s
}

func mergeInt(fields map[string]any, key string) int {
	v, ok := fields[key]
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		zap.L().Debug("aggregator: field not numeric, dropping", zap.String("field", key))
		return 0
	}
}

func mergeStringList(fields map[string]any, key string) []string {
	v, ok := fields[key]
	if !ok || v == nil {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		zap.L().Debug("aggregator: field not a list, dropping", zap.String("field", key))
		return nil
	}
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func mergeContactInfo(v any) model.ContactInfo {
	obj, ok := v.(map[string]any)
	if !ok {
		return model.ContactInfo{}
	}
	ci := model.ContactInfo{}
	if s, ok := obj["email"].(string); ok {
		ci.Email = s
	}
	if s, ok := obj["phone"].(string); ok {
		ci.Phone = s
	}
	if s, ok := obj["address"].(string); ok {
		ci.Address = s
	}
	return ci
}

func mergeStringMap(v any) map[string]string {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string)
	for k, val := range obj {
		if s, ok := val.(string); ok && s != "" {
			out[k] = s
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// applyClassificationFallbacks fills company_stage, tech_sophistication,
// business_model_type, has_job_listings, and job_listings_count with
// deterministic heuristics when the LLM left them empty.
func applyClassificationFallbacks(record *model.CompanyRecord, corpus string, groups map[model.PageType][]model.PageContent) {
	if record.BusinessModelType == "" {
		record.BusinessModelType = classifyBusinessModelType(corpus)
	}
	if record.TechSophistication == "" {
		record.TechSophistication = classifyTechSophistication(corpus)
	}
	if record.CompanyStage == "" {
		record.CompanyStage = classifyCompanyStage(corpus)
	}

	hasListings, count := detectJobListings(groups)
	if hasListings {
		record.HasJobListings = true
		record.JobListingsCount = count
	}
}
