// Package store implements the Hybrid Store: a vector index holding
// (embedding, small metadata) pairs and a document store holding the full
// serialized CompanyRecord, presented as one logical store with an
// eventual-consistency read-repair invariant.
package store

import (
	"context"

	"github.com/AntoineDubuc/theodore/internal/model"
)

// Metadata is the bounded-size record subset stored alongside a vector.
type Metadata map[string]any

// VectorEntry is one row of the vector index.
type VectorEntry struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// QueryMatch is a single k-NN result. Score is in [0,1], higher = more
// similar.
type QueryMatch struct {
	ID       string
	Score    float64
	Metadata Metadata
}

// QueryFilter restricts k-NN results by metadata predicates.
type QueryFilter struct {
	Industry           string
	CompanyStage       string
	TechSophistication string
	CompanySizeIn      []string
}

// IndexStats summarizes the vector index.
type IndexStats struct {
	VectorCount int
	Dimension   int
}

// VectorIndex is the vector-store half of the hybrid contract.
type VectorIndex interface {
	Upsert(ctx context.Context, id string, vector []float32, meta Metadata) error
	Fetch(ctx context.Context, ids []string) (map[string]VectorEntry, error)
	Query(ctx context.Context, vector []float32, topK int, filter *QueryFilter, includeMetadata bool) ([]QueryMatch, error)
	Delete(ctx context.Context, ids []string) error
	List(ctx context.Context) ([]VectorEntry, error)
	Stats(ctx context.Context) (IndexStats, error)
}

// DocumentStore is the full-record half of the hybrid contract. Get
// returns (nil, nil) when the id is unknown.
type DocumentStore interface {
	Put(ctx context.Context, record *model.CompanyRecord) error
	Get(ctx context.Context, id string) (*model.CompanyRecord, error)
	Delete(ctx context.Context, id string) error
	FindIDByName(ctx context.Context, name string) (string, error)
	ListMissingEmbedding(ctx context.Context, limit int) ([]*model.CompanyRecord, error)
}

// Embedder produces a dense vector for a record. It matches
// embedding.Service's Embed method so the service plugs in directly.
type Embedder interface {
	Embed(ctx context.Context, record *model.CompanyRecord) ([]float32, error)
}
