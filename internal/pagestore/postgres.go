// Package pagestore provides a PostgreSQL-backed pages.Store. Each page is
// one JSONB document keyed by its id.
package pagestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/letei/pagecache/pkg/pages"
)

const schema = `
CREATE TABLE IF NOT EXISTS content_pages (
	id         TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres stores pages in the content_pages table.
type Postgres struct {
	pool *pgxpool.Pool
}

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewPostgres wraps an open pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	if pool == nil {
		panic("pagestore: pool must not be nil")
	}
	return &Postgres{pool: pool}
}

// Migrate creates the content_pages table when missing.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate content_pages: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// FindByID implements pages.Store.
func (s *Postgres) FindByID(ctx context.Context, id string) (pages.Page, error) {
	row := s.pool.QueryRow(ctx, `SELECT data FROM content_pages WHERE id = $1`, id)
	return scanPage(row, id)
}

// Create inserts a page, replacing the document if the id already exists.
func (s *Postgres) Create(ctx context.Context, id string, data pages.Page) (pages.Page, error) {
	raw, err := encode(data)
	if err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO content_pages (id, data) VALUES ($1, $2::jsonb)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
		RETURNING data`, id, raw)
	return scanPage(row, id)
}

// Update implements pages.Store.
func (s *Postgres) Update(ctx context.Context, id string, data pages.Page) (pages.Page, error) {
	raw, err := encode(data)
	if err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE content_pages SET data = $2::jsonb, updated_at = now()
		WHERE id = $1
		RETURNING data`, id, raw)
	return scanPage(row, id)
}

// Delete implements pages.Store.
func (s *Postgres) Delete(ctx context.Context, id string) (pages.Page, error) {
	row := s.pool.QueryRow(ctx, `DELETE FROM content_pages WHERE id = $1 RETURNING data`, id)
	return scanPage(row, id)
}

func encode(data pages.Page) (string, error) {
	if data == nil {
		data = pages.Page{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode page: %w", err)
	}
	return string(raw), nil
}

func scanPage(row pgx.Row, id string) (pages.Page, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pages.ErrNotFound
		}
		return nil, fmt.Errorf("page %s: %w", id, err)
	}

	var page pages.Page
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decode page %s: %w", id, err)
	}
	return page, nil
}
