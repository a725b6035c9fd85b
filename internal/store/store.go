// Package store is the Postgres-backed persistence collaborator for
// terminal Records. It is intentionally thin: the core pipeline never
// depends on it directly (spec §1 treats persistence as an external
// collaborator), so Save is the only write path and it is idempotent
// on a Record's id.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sqlc-dev/pqtype"

	"bizintel/internal/errs"
	"bizintel/internal/model"
)

// Store wraps a shared pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open creates a connection pool against dsn. Callers should call
// migrate.Run once at process start before using the returned Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, &errs.PersistenceError{Op: "open", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &errs.PersistenceError{Op: "ping", Err: err}
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool's connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Save upserts rec by id: a re-run of the same job-id overwrites the
// prior row rather than producing a duplicate (idempotent-on-id, per
// the single-writer-until-terminal lifecycle in §3).
func (s *Store) Save(ctx context.Context, rec *model.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return &errs.PersistenceError{Op: "marshal", Err: err}
	}

	var scrapeErr pqtype.NullRawMessage
	if rec.ScrapeError != nil {
		raw, err := json.Marshal(rec.ScrapeError)
		if err != nil {
			return &errs.PersistenceError{Op: "marshal_scrape_error", Err: err}
		}
		scrapeErr = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
	}

	const q = `
		INSERT INTO records (id, name, website, normalized_website, scrape_status, scrape_error, body, total_cost_usd, created_at, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name               = EXCLUDED.name,
			website            = EXCLUDED.website,
			normalized_website = EXCLUDED.normalized_website,
			scrape_status      = EXCLUDED.scrape_status,
			scrape_error       = EXCLUDED.scrape_error,
			body               = EXCLUDED.body,
			total_cost_usd     = EXCLUDED.total_cost_usd,
			last_updated       = EXCLUDED.last_updated`

	_, err = s.pool.Exec(ctx, q,
		rec.ID, rec.Name, rec.Website, rec.NormalizedWebsite, string(rec.ScrapeStatus),
		scrapeErr, body, rec.TotalCostUSD, rec.CreatedAt, rec.LastUpdated,
	)
	if err != nil {
		return &errs.PersistenceError{Op: "save", Err: err}
	}
	return nil
}

// Get fetches a single Record by id.
func (s *Store) Get(ctx context.Context, id string) (*model.Record, error) {
	const q = `SELECT body FROM records WHERE id = $1`

	var body []byte
	if err := s.pool.QueryRow(ctx, q, id).Scan(&body); err != nil {
		return nil, &errs.PersistenceError{Op: "get", Err: err}
	}

	var rec model.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, &errs.PersistenceError{Op: "unmarshal", Err: err}
	}
	return &rec, nil
}

// ListByStatus returns up to limit records with the given status,
// most recently updated first.
func (s *Store) ListByStatus(ctx context.Context, status model.ScrapeStatus, limit int) ([]*model.Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	const q = `SELECT body FROM records WHERE scrape_status = $1 ORDER BY last_updated DESC LIMIT $2`

	rows, err := s.pool.Query(ctx, q, string(status), limit)
	if err != nil {
		return nil, &errs.PersistenceError{Op: "list", Err: err}
	}
	defer rows.Close()

	var out []*model.Record
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, &errs.PersistenceError{Op: "list_scan", Err: err}
		}
		var rec model.Record
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, &errs.PersistenceError{Op: "list_unmarshal", Err: err}
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &errs.PersistenceError{Op: "list_rows", Err: err}
	}
	return out, nil
}

// DeleteExpired removes rows older than cutoff-ago, mirroring the
// teacher's document/job retention sweeps.
func (s *Store) DeleteExpired(ctx context.Context, olderThanDays int) (int64, error) {
	const q = `DELETE FROM records WHERE last_updated < now() - ($1 || ' days')::interval`
	tag, err := s.pool.Exec(ctx, q, fmt.Sprintf("%d", olderThanDays))
	if err != nil {
		return 0, &errs.PersistenceError{Op: "delete_expired", Err: err}
	}
	return tag.RowsAffected(), nil
}
