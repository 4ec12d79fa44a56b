// Package pgstore mirrors cache entries to Postgres, one row per cache key.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/orbitlabs/orbit/internal/cache"
)

// DB is the subset of pgxpool.Pool the store needs; satisfied by pgxmock in
// tests.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store persists cache records in the cache_entries table.
type Store struct {
	db     DB
	logger *zap.Logger
}

// New connects a pool for the given DSN and returns a Store.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return NewWithDB(pool, logger), nil
}

// NewWithDB wraps an existing connection; used by tests.
func NewWithDB(db DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Save upserts the entry's row.
func (s *Store) Save(ctx context.Context, e cache.Entry) error {
	query := `
		INSERT INTO cache_entries (key, value, created_at, expires_at, hit_count, quality_tag, content_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
		    created_at = EXCLUDED.created_at,
		    expires_at = EXCLUDED.expires_at,
		    hit_count = EXCLUDED.hit_count,
		    quality_tag = EXCLUDED.quality_tag,
		    content_hash = EXCLUDED.content_hash;
	`
	_, err := s.db.Exec(ctx, query,
		e.Key, []byte(e.Value), e.CreatedAt, e.ExpiresAt, e.HitCount, e.QualityTag, e.ContentHash,
	)
	if err != nil {
		return fmt.Errorf("upsert cache entry %q: %w", e.Key, err)
	}
	return nil
}

// Delete removes the row for key; deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM cache_entries WHERE key = $1;`, key); err != nil {
		return fmt.Errorf("delete cache entry %q: %w", key, err)
	}
	return nil
}

// Load reads every row. Rows that fail to scan are skipped with a warning so
// one corrupt record cannot poison startup.
func (s *Store) Load(ctx context.Context) ([]cache.Entry, error) {
	query := `
		SELECT key, value, created_at, expires_at, hit_count, quality_tag, content_hash
		FROM cache_entries;
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query cache entries: %w", err)
	}
	defer rows.Close()

	var entries []cache.Entry
	for rows.Next() {
		var (
			e     cache.Entry
			value []byte
		)
		if err := rows.Scan(&e.Key, &value, &e.CreatedAt, &e.ExpiresAt, &e.HitCount, &e.QualityTag, &e.ContentHash); err != nil {
			s.logger.Warn("skipping unscannable cache row", zap.Error(err))
			continue
		}
		e.Value = json.RawMessage(value)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache entries: %w", err)
	}
	return entries, nil
}

// Schema is the DDL for the backing table, applied by deployment tooling.
const Schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key          TEXT PRIMARY KEY,
	value        JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL,
	hit_count    BIGINT NOT NULL DEFAULT 0,
	quality_tag  TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT ''
);
`
