package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/AntoineDubuc/theodore/internal/model"
)

// Hybrid composes a DocumentStore and a VectorIndex into the single
// logical store the coordinator persists to. Writes are sequenced
// document-first, vector-second; inconsistencies are repaired on read.
type Hybrid struct {
	docs      DocumentStore
	index     VectorIndex
	budget    int
	prefixLen int
}

// NewHybrid builds a Hybrid store. budget and prefixLen fall back to the
// package defaults when <= 0.
func NewHybrid(docs DocumentStore, index VectorIndex, budget, prefixLen int) *Hybrid {
	if budget <= 0 {
		budget = DefaultMetadataBudget
	}
	if prefixLen <= 0 {
		prefixLen = DefaultPrefixLen
	}
	return &Hybrid{docs: docs, index: index, budget: budget, prefixLen: prefixLen}
}

// Upsert writes the full record to the document store, then the vector and
// small metadata to the index. A record without an embedding skips the
// vector upsert but still persists the document. When record.ID is empty,
// an existing id is reused by exact case-insensitive name match, else a
// fresh UUID is minted. Returns the id actually written.
func (h *Hybrid) Upsert(ctx context.Context, record *model.CompanyRecord) (string, error) {
	if record.ID == "" {
		existing, err := h.docs.FindIDByName(ctx, record.Name)
		if err != nil {
			return "", eris.Wrap(err, "store: lookup id by name")
		}
		if existing != "" {
			record.ID = existing
		} else {
			record.ID = uuid.New().String()
		}
	}
	if record.LastUpdated.IsZero() {
		record.LastUpdated = time.Now().UTC()
	}

	if err := h.docs.Put(ctx, record); err != nil {
		return "", eris.Wrap(err, "store: put document")
	}

	if len(record.Embedding) == 0 {
		zap.L().Debug("store: no embedding, skipping vector upsert", zap.String("id", record.ID))
		return record.ID, nil
	}

	meta := ProjectMetadata(record, h.budget, h.prefixLen)
	if err := h.index.Upsert(ctx, record.ID, record.Embedding, meta); err != nil {
		return "", eris.Wrap(err, "store: upsert vector")
	}
	return record.ID, nil
}

// Get loads the document for id and overlays vector-index metadata for
// fields the document lacks. Document fields win on conflict. A vector
// entry with no backing document is stale; Get repairs it by deleting the
// vector entry and reports the record as absent.
func (h *Hybrid) Get(ctx context.Context, id string) (*model.CompanyRecord, error) {
	record, err := h.docs.Get(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "store: get document")
	}

	entries, err := h.index.Fetch(ctx, []string{id})
	if err != nil {
		return nil, eris.Wrap(err, "store: fetch vector entry")
	}
	entry, hasVector := entries[id]

	if record == nil {
		if hasVector {
			zap.L().Warn("store: vector entry without document, repairing", zap.String("id", id))
			if err := h.index.Delete(ctx, []string{id}); err != nil {
				return nil, eris.Wrap(err, "store: read-repair delete")
			}
		}
		return nil, nil
	}

	if hasVector {
		overlayMetadata(record, entry.Metadata)
		if len(record.Embedding) == 0 {
			record.Embedding = entry.Vector
		}
	}
	return record, nil
}

// FindByName scans vector-index metadata for a case-insensitive exact
// match on name, then a substring match, and resolves the hit via Get.
// The document store is consulted directly as a final fallback so records
// persisted without an embedding are still reachable by name.
func (h *Hybrid) FindByName(ctx context.Context, name string) (*model.CompanyRecord, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil, nil
	}

	entries, err := h.index.List(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "store: list vector entries")
	}

	var substringID string
	for _, entry := range entries {
		candidate, _ := entry.Metadata["name"].(string)
		lower := strings.ToLower(candidate)
		if lower == needle {
			return h.Get(ctx, entry.ID)
		}
		if substringID == "" && strings.Contains(lower, needle) {
			substringID = entry.ID
		}
	}
	if substringID != "" {
		return h.Get(ctx, substringID)
	}

	id, err := h.docs.FindIDByName(ctx, name)
	if err != nil {
		return nil, eris.Wrap(err, "store: find document by name")
	}
	if id == "" {
		return nil, nil
	}
	return h.Get(ctx, id)
}

// QuerySimilar runs a k-NN query seeded by id's stored vector, excluding
// id itself. Scores are cosine similarity mapped into [0,1], descending.
func (h *Hybrid) QuerySimilar(ctx context.Context, id string, k int, filter *QueryFilter) ([]QueryMatch, error) {
	entries, err := h.index.Fetch(ctx, []string{id})
	if err != nil {
		return nil, eris.Wrap(err, "store: fetch query vector")
	}
	entry, ok := entries[id]
	if !ok || len(entry.Vector) == 0 {
		return nil, eris.Errorf("store: no vector stored for id %s", id)
	}

	// Over-fetch by one so the query record itself can be dropped.
	matches, err := h.index.Query(ctx, entry.Vector, k+1, filter, true)
	if err != nil {
		return nil, eris.Wrap(err, "store: knn query")
	}

	out := make([]QueryMatch, 0, k)
	for _, m := range matches {
		if m.ID == id {
			continue
		}
		out = append(out, m)
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// Delete removes id from both stores. A missing record in either store is
// not an error.
func (h *Hybrid) Delete(ctx context.Context, id string) error {
	if err := h.docs.Delete(ctx, id); err != nil {
		return eris.Wrap(err, "store: delete document")
	}
	if err := h.index.Delete(ctx, []string{id}); err != nil {
		return eris.Wrap(err, "store: delete vector")
	}
	return nil
}

// Stats reports vector index statistics.
func (h *Hybrid) Stats(ctx context.Context) (IndexStats, error) {
	return h.index.Stats(ctx)
}

// reembedBatchSize bounds one ReembedStale sweep.
const reembedBatchSize = 100

// ReembedStale finds documents persisted without an embedding, re-embeds
// them, and upserts their vectors, making them reachable via k-NN again.
// Returns the number of records repaired. Per-record failures are logged
// and skipped so one bad record cannot stall the sweep.
func (h *Hybrid) ReembedStale(ctx context.Context, embedder Embedder) (int, error) {
	stale, err := h.docs.ListMissingEmbedding(ctx, reembedBatchSize)
	if err != nil {
		return 0, eris.Wrap(err, "store: list stale documents")
	}

	repaired := 0
	for _, record := range stale {
		vec, err := embedder.Embed(ctx, record)
		if err != nil {
			zap.L().Warn("store: re-embed failed, skipping record",
				zap.String("id", record.ID), zap.Error(err))
			continue
		}
		record.Embedding = vec
		record.LastUpdated = time.Now().UTC()
		if _, err := h.Upsert(ctx, record); err != nil {
			zap.L().Warn("store: re-embed upsert failed, skipping record",
				zap.String("id", record.ID), zap.Error(err))
			continue
		}
		repaired++
	}
	return repaired, nil
}

// overlayMetadata fills record fields that are empty in the document from
// the vector index's metadata, for documents written by older versions.
func overlayMetadata(record *model.CompanyRecord, meta Metadata) {
	fill := func(dst *string, key string) {
		if *dst != "" {
			return
		}
		if v, ok := meta[key].(string); ok {
			*dst = v
		}
	}
	fill(&record.Name, "name")
	fill(&record.Website, "website")
	fill(&record.Industry, "industry")
	fill(&record.BusinessModel, "business_model")
	fill(&record.CompanyStage, "company_stage")
	fill(&record.TechSophistication, "tech_sophistication")
	fill(&record.GeographicScope, "geographic_scope")
	fill(&record.BusinessModelType, "business_model_type")
	fill(&record.DecisionMakerType, "decision_maker_type")
	fill(&record.Location, "location")
	fill(&record.CompanySize, "company_size")
	fill(&record.AISummary, "ai_summary")
	fill(&record.CompanyDescription, "company_description")
}
