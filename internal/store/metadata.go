package store

import (
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AntoineDubuc/theodore/internal/model"
)

// DefaultMetadataBudget is the serialized size ceiling for small_metadata.
const DefaultMetadataBudget = 40 * 1024

// DefaultPrefixLen bounds the ai_summary and company_description prefixes
// projected into small_metadata.
const DefaultPrefixLen = 500

// metadataField is one entry of the declarative projection schema. Every
// field stored in the vector index's metadata is listed here once; the
// projector and its tests both read this table.
type metadataField struct {
	key     string
	extract func(r *model.CompanyRecord) any
}

// metadataSchema is the single source of truth for which record fields are
// projected into small_metadata. String prefixes are applied by
// ProjectMetadata; list fields are comma-joined.
var metadataSchema = []metadataField{
	{"name", func(r *model.CompanyRecord) any { return r.Name }},
	{"website", func(r *model.CompanyRecord) any { return r.Website }},
	{"industry", func(r *model.CompanyRecord) any { return r.Industry }},
	{"business_model", func(r *model.CompanyRecord) any { return r.BusinessModel }},
	{"company_stage", func(r *model.CompanyRecord) any { return r.CompanyStage }},
	{"tech_sophistication", func(r *model.CompanyRecord) any { return r.TechSophistication }},
	{"geographic_scope", func(r *model.CompanyRecord) any { return r.GeographicScope }},
	{"business_model_type", func(r *model.CompanyRecord) any { return r.BusinessModelType }},
	{"decision_maker_type", func(r *model.CompanyRecord) any { return r.DecisionMakerType }},
	{"location", func(r *model.CompanyRecord) any { return r.Location }},
	{"company_size", func(r *model.CompanyRecord) any { return r.CompanySize }},
	{"scrape_status", func(r *model.CompanyRecord) any { return string(r.ScrapeStatus) }},
	{"last_updated", func(r *model.CompanyRecord) any { return r.LastUpdated.UTC().Format(time.RFC3339) }},
	{"has_description", func(r *model.CompanyRecord) any { return r.HasDescription() }},
	{"key_services", func(r *model.CompanyRecord) any { return strings.Join(r.KeyServices, ",") }},
	{"tech_stack", func(r *model.CompanyRecord) any { return strings.Join(r.TechStack, ",") }},
}

// truncationOrder lists the long string keys trimmed, in priority order,
// when serialized metadata exceeds the budget.
var truncationOrder = []string{"ai_summary", "company_description", "location"}

// requiredMetadataKeys are never removed by budget enforcement.
var requiredMetadataKeys = func() map[string]bool {
	keys := make(map[string]bool, len(metadataSchema)+2)
	for _, f := range metadataSchema {
		keys[f.key] = true
	}
	keys["ai_summary"] = true
	keys["company_description"] = true
	return keys
}()

// ProjectMetadata renders the small_metadata view of a record, enforcing
// the serialized-size budget by truncating long string fields in the fixed
// priority order. Required keys always survive.
func ProjectMetadata(record *model.CompanyRecord, budget, prefixLen int) Metadata {
	if budget <= 0 {
		budget = DefaultMetadataBudget
	}
	if prefixLen <= 0 {
		prefixLen = DefaultPrefixLen
	}

	meta := make(Metadata, len(metadataSchema)+2)
	for _, f := range metadataSchema {
		meta[f.key] = f.extract(record)
	}
	meta["ai_summary"] = prefix(record.AISummary, prefixLen)
	meta["company_description"] = prefix(record.CompanyDescription, prefixLen)

	for _, key := range truncationOrder {
		if metadataSize(meta) <= budget {
			break
		}
		value, _ := meta[key].(string)
		if value == "" {
			continue
		}
		over := metadataSize(meta) - budget
		keep := len(value) - over
		if keep < 0 {
			keep = 0
		}
		meta[key] = value[:keep]
		zap.L().Warn("store: metadata over budget, truncated field",
			zap.String("record_id", record.ID),
			zap.String("field", key),
			zap.Int("kept_chars", keep),
		)
	}

	return meta
}

// prefix returns at most n leading bytes of s.
func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func metadataSize(meta Metadata) int {
	raw, err := json.Marshal(meta)
	if err != nil {
		return 0
	}
	return len(raw)
}
