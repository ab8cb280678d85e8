package store

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/AntoineDubuc/theodore/internal/resilience"
)

// DLQStore persists dead-lettered research runs in the same Postgres
// instance as the document store.
type DLQStore struct {
	pool PgxPool
}

// NewDLQStore wraps an existing pool.
func NewDLQStore(pool PgxPool) *DLQStore {
	return &DLQStore{pool: pool}
}

const dlqMigration = `
CREATE TABLE IF NOT EXISTS research_dlq (
	id             TEXT PRIMARY KEY,
	company_name   TEXT NOT NULL,
	seed_url       TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL,
	failed_phase   TEXT,
	retry_count    INT NOT NULL DEFAULT 0,
	max_retries    INT NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	last_failed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_research_dlq_next_retry ON research_dlq(next_retry_at);
`

// Migrate creates the DLQ table.
func (s *DLQStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, dlqMigration)
	return eris.Wrap(err, "postgres: migrate dlq")
}

// Enqueue inserts or refreshes a dead-letter entry.
func (s *DLQStore) Enqueue(ctx context.Context, entry resilience.DLQEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO research_dlq
			(id, company_name, seed_url, error, error_type, failed_phase,
			 retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
			error = $4, error_type = $5, failed_phase = $6,
			retry_count = $7, next_retry_at = $9, last_failed_at = $11`,
		entry.ID, entry.CompanyName, entry.SeedURL, entry.Error, entry.ErrorType,
		entry.FailedPhase, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrapf(err, "postgres: enqueue dlq entry %s", entry.ID)
}

// Dequeue returns retryable entries whose next_retry_at has passed.
func (s *DLQStore) Dequeue(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, company_name, seed_url, error, error_type, failed_phase,
			retry_count, max_retries, next_retry_at, created_at, last_failed_at
		FROM research_dlq
		WHERE next_retry_at <= $1 AND retry_count < max_retries`
	args := []any{time.Now().UTC()}
	if filter.ErrorType != "" {
		args = append(args, filter.ErrorType)
		query += ` AND error_type = $2`
	}
	args = append(args, limit)
	query += ` ORDER BY next_retry_at ASC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dequeue dlq")
	}
	defer rows.Close()

	var out []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.CompanyName, &e.SeedURL, &e.Error, &e.ErrorType,
			&e.FailedPhase, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate dlq entries")
}

// Remove deletes an entry, typically after a successful retry.
func (s *DLQStore) Remove(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM research_dlq WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: remove dlq entry %s", id)
}

// Count reports the number of retained entries.
func (s *DLQStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM research_dlq`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count dlq")
}
