package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/AntoineDubuc/theodore/internal/model"
	"github.com/AntoineDubuc/theodore/internal/resilience"
)

// PgxPool is the subset of pgxpool.Pool both Postgres-backed stores use.
// pgxmock's pool satisfies it for unit tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PoolConfig tunes the shared connection pool.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// NewPool opens a pgxpool for the hybrid store's two table abstractions.
func NewPool(ctx context.Context, connString string, cfg *PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse conn string")
	}
	if cfg != nil {
		if cfg.MaxConns > 0 {
			poolCfg.MaxConns = cfg.MaxConns
		}
		if cfg.MinConns > 0 {
			poolCfg.MinConns = cfg.MinConns
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return pool, nil
}

// storeRetry is the write-path retry tuning shared by both Postgres
// stores; transient pool/transport failures get a couple of quick retries.
func storeRetry() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxBackoff = 5 * time.Second
	cfg.OnRetry = resilience.RetryLogger("postgres", "write")
	return cfg
}

// PostgresDocumentStore implements DocumentStore over a JSONB column.
type PostgresDocumentStore struct {
	pool  PgxPool
	retry resilience.RetryConfig
}

// NewPostgresDocumentStore wraps an existing pool.
func NewPostgresDocumentStore(pool PgxPool) *PostgresDocumentStore {
	return &PostgresDocumentStore{pool: pool, retry: storeRetry()}
}

// WithRetryConfig overrides the write-path retry tuning.
func (s *PostgresDocumentStore) WithRetryConfig(cfg resilience.RetryConfig) *PostgresDocumentStore {
	s.retry = cfg
	return s
}

const documentMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id         TEXT PRIMARY KEY,
	name_lower TEXT NOT NULL,
	record     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_companies_name_lower ON companies(name_lower);
CREATE INDEX IF NOT EXISTS idx_companies_missing_embedding
	ON companies(id) WHERE NOT (record ? 'embedding');
`

// Migrate creates the document table.
func (s *PostgresDocumentStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, documentMigration)
	return eris.Wrap(err, "postgres: migrate documents")
}

// Put inserts or replaces the full serialized record, retrying transient
// pool failures.
func (s *PostgresDocumentStore) Put(ctx context.Context, record *model.CompanyRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal record")
	}
	err = resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO companies (id, name_lower, record, updated_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE SET name_lower = $2, record = $3, updated_at = $4`,
			record.ID, strings.ToLower(record.Name), raw, time.Now().UTC(),
		)
		return err
	})
	return eris.Wrapf(err, "postgres: put document %s", record.ID)
}

// Get loads a record by id, returning (nil, nil) when absent.
func (s *PostgresDocumentStore) Get(ctx context.Context, id string) (*model.CompanyRecord, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT record FROM companies WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get document %s", id)
	}
	var record model.CompanyRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal document %s", id)
	}
	return &record, nil
}

// Delete removes a record by id. Missing rows are not an error.
func (s *PostgresDocumentStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM companies WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: delete document %s", id)
}

// FindIDByName returns the id of the record whose name matches exactly,
// case-insensitively, or "" when none does.
func (s *PostgresDocumentStore) FindIDByName(ctx context.Context, name string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM companies WHERE name_lower = $1 ORDER BY updated_at DESC LIMIT 1`,
		strings.ToLower(strings.TrimSpace(name)),
	).Scan(&id)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", eris.Wrap(err, "postgres: find id by name")
	}
	return id, nil
}

// ListMissingEmbedding returns records stored without an embedding, oldest
// first, for the re-embed sweep.
func (s *PostgresDocumentStore) ListMissingEmbedding(ctx context.Context, limit int) ([]*model.CompanyRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record FROM companies WHERE NOT (record ? 'embedding') ORDER BY updated_at ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list missing embedding")
	}
	defer rows.Close()

	var out []*model.CompanyRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stale document")
		}
		var record model.CompanyRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal stale document")
		}
		out = append(out, &record)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate stale documents")
}

// PostgresVectorIndex implements VectorIndex over the pgvector extension.
type PostgresVectorIndex struct {
	pool      PgxPool
	dimension int
	retry     resilience.RetryConfig
}

// NewPostgresVectorIndex wraps an existing pool. dimension fixes the
// vector column width.
func NewPostgresVectorIndex(pool PgxPool, dimension int) *PostgresVectorIndex {
	return &PostgresVectorIndex{pool: pool, dimension: dimension, retry: storeRetry()}
}

// WithRetryConfig overrides the write-path retry tuning.
func (s *PostgresVectorIndex) WithRetryConfig(cfg resilience.RetryConfig) *PostgresVectorIndex {
	s.retry = cfg
	return s
}

// Migrate creates the pgvector extension, the vector table, and the
// cosine-distance index.
func (s *PostgresVectorIndex) Migrate(ctx context.Context) error {
	migration := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS company_vectors (
	id         TEXT PRIMARY KEY,
	embedding  vector(%d) NOT NULL,
	metadata   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_company_vectors_cosine
	ON company_vectors USING hnsw (embedding vector_cosine_ops);
`, s.dimension)
	_, err := s.pool.Exec(ctx, migration)
	return eris.Wrap(err, "postgres: migrate vectors")
}

// Upsert writes (vector, metadata) for id, replacing any existing row.
func (s *PostgresVectorIndex) Upsert(ctx context.Context, id string, vector []float32, meta Metadata) error {
	if len(vector) != s.dimension {
		return eris.Errorf("postgres: vector dimension %d, want %d", len(vector), s.dimension)
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal metadata")
	}
	err = resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO company_vectors (id, embedding, metadata, updated_at) VALUES ($1, $2::vector, $3, $4)
			 ON CONFLICT (id) DO UPDATE SET embedding = $2::vector, metadata = $3, updated_at = $4`,
			id, formatVector(vector), rawMeta, time.Now().UTC(),
		)
		return err
	})
	return eris.Wrapf(err, "postgres: upsert vector %s", id)
}

// Fetch loads vector entries by id. Unknown ids are simply absent from the
// returned map.
func (s *PostgresVectorIndex) Fetch(ctx context.Context, ids []string) (map[string]VectorEntry, error) {
	if len(ids) == 0 {
		return map[string]VectorEntry{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, embedding::text, metadata FROM company_vectors WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: fetch vectors")
	}
	defer rows.Close()

	out := make(map[string]VectorEntry, len(ids))
	for rows.Next() {
		var entry VectorEntry
		var rawVec string
		var rawMeta []byte
		if err := rows.Scan(&entry.ID, &rawVec, &rawMeta); err != nil {
			return nil, eris.Wrap(err, "postgres: scan vector entry")
		}
		entry.Vector, err = parseVector(rawVec)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: parse vector %s", entry.ID)
		}
		if err := json.Unmarshal(rawMeta, &entry.Metadata); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal metadata %s", entry.ID)
		}
		out[entry.ID] = entry
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate vector entries")
}

// Query runs a cosine k-NN search. Scores map pgvector's cosine distance
// into [0,1] via (2 - distance) / 2, monotone with the native ordering.
func (s *PostgresVectorIndex) Query(ctx context.Context, vector []float32, topK int, filter *QueryFilter, includeMetadata bool) ([]QueryMatch, error) {
	if len(vector) != s.dimension {
		return nil, eris.Errorf("postgres: query vector dimension %d, want %d", len(vector), s.dimension)
	}

	var b strings.Builder
	args := []any{formatVector(vector)}
	b.WriteString(`SELECT id, (2 - (embedding <=> $1::vector)) / 2 AS score, metadata FROM company_vectors`)

	var predicates []string
	addEq := func(key, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		predicates = append(predicates, fmt.Sprintf("metadata->>'%s' = $%d", key, len(args)))
	}
	if filter != nil {
		addEq("industry", filter.Industry)
		addEq("company_stage", filter.CompanyStage)
		addEq("tech_sophistication", filter.TechSophistication)
		if len(filter.CompanySizeIn) > 0 {
			args = append(args, filter.CompanySizeIn)
			predicates = append(predicates, fmt.Sprintf("metadata->>'company_size' = ANY($%d)", len(args)))
		}
	}
	if len(predicates) > 0 {
		b.WriteString(" WHERE " + strings.Join(predicates, " AND "))
	}

	args = append(args, topK)
	fmt.Fprintf(&b, " ORDER BY embedding <=> $1::vector ASC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: knn query")
	}
	defer rows.Close()

	var out []QueryMatch
	for rows.Next() {
		var m QueryMatch
		var rawMeta []byte
		if err := rows.Scan(&m.ID, &m.Score, &rawMeta); err != nil {
			return nil, eris.Wrap(err, "postgres: scan knn match")
		}
		if includeMetadata {
			if err := json.Unmarshal(rawMeta, &m.Metadata); err != nil {
				return nil, eris.Wrapf(err, "postgres: unmarshal match metadata %s", m.ID)
			}
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate knn matches")
}

// Delete removes vector entries by id. Missing rows are not an error.
func (s *PostgresVectorIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM company_vectors WHERE id = ANY($1)`, ids)
	return eris.Wrap(err, "postgres: delete vectors")
}

// List returns every (id, metadata) pair for metadata scans. Vectors are
// not loaded.
func (s *PostgresVectorIndex) List(ctx context.Context) ([]VectorEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, metadata FROM company_vectors`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list vectors")
	}
	defer rows.Close()

	var out []VectorEntry
	for rows.Next() {
		var entry VectorEntry
		var rawMeta []byte
		if err := rows.Scan(&entry.ID, &rawMeta); err != nil {
			return nil, eris.Wrap(err, "postgres: scan vector listing")
		}
		if err := json.Unmarshal(rawMeta, &entry.Metadata); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal listing metadata %s", entry.ID)
		}
		out = append(out, entry)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate vector listing")
}

// Stats reports the row count and configured dimension.
func (s *PostgresVectorIndex) Stats(ctx context.Context) (IndexStats, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM company_vectors`).Scan(&count)
	if err != nil {
		return IndexStats{}, eris.Wrap(err, "postgres: vector stats")
	}
	return IndexStats{VectorCount: count, Dimension: s.dimension}, nil
}

// formatVector renders a vector as pgvector's text literal, e.g. [1,2,3].
func formatVector(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVector parses pgvector's text literal back into a []float32.
func parseVector(s string) ([]float32, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "[")
	trimmed = strings.TrimSuffix(trimmed, "]")
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, eris.Wrapf(err, "parse vector element %d", i)
		}
		out[i] = float32(f)
	}
	return out, nil
}
