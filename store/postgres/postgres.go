// Package postgres serves terminology tables in PostgreSQL as a validation
// support module.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gofhir/validationsupport/store"
	"github.com/gofhir/validationsupport/support"
)

// Schema creates the terminology tables.
const Schema = `
CREATE TABLE IF NOT EXISTS tx_code_system (
	url     TEXT PRIMARY KEY,
	name    TEXT NOT NULL DEFAULT '',
	version TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT 'complete'
);
CREATE TABLE IF NOT EXISTS tx_concept (
	system_url  TEXT NOT NULL REFERENCES tx_code_system(url) ON DELETE CASCADE,
	code        TEXT NOT NULL,
	display     TEXT NOT NULL DEFAULT '',
	abstract    BOOLEAN NOT NULL DEFAULT FALSE,
	parent_code TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (system_url, code)
);
CREATE INDEX IF NOT EXISTS tx_concept_parent ON tx_concept(system_url, parent_code);
CREATE TABLE IF NOT EXISTS tx_value_set (
	url      TEXT PRIMARY KEY,
	resource JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS tx_resource (
	id            TEXT PRIMARY KEY,
	resource_type TEXT NOT NULL,
	deleted_at    TIMESTAMPTZ
);`

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Store reads terminology from PostgreSQL.
type Store struct {
	q queryable
}

// NewPool opens a connection pool and checks it with a ping.
func NewPool(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// New creates a store over a pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{q: pool}
}

// Migrate creates the tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.q.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create terminology tables: %w", err)
	}
	return nil
}

// Support returns the validation support module over this store.
func (s *Store) Support(opts ...store.Option) *store.Support {
	return store.New("PostgresTerminologySupport", s, opts...)
}

// CodeSystem implements store.Reader.
func (s *Store) CodeSystem(ctx context.Context, url string) (*store.CodeSystemRow, error) {
	var row store.CodeSystemRow
	err := s.q.QueryRow(ctx,
		`SELECT url, name, version, content FROM tx_code_system WHERE url = $1`, url).
		Scan(&row.URL, &row.Name, &row.Version, &row.Content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Concept implements store.Reader.
func (s *Store) Concept(ctx context.Context, system, code string) (*store.ConceptRow, error) {
	row := store.ConceptRow{System: system}
	err := s.q.QueryRow(ctx,
		`SELECT code, display, abstract, parent_code FROM tx_concept WHERE system_url = $1 AND code = $2`, system, code).
		Scan(&row.Code, &row.Display, &row.Abstract, &row.ParentCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Concepts implements store.Reader.
func (s *Store) Concepts(ctx context.Context, system string) ([]store.ConceptRow, error) {
	rows, err := s.q.Query(ctx,
		`SELECT code, display, abstract, parent_code FROM tx_concept WHERE system_url = $1 ORDER BY code`, system)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ConceptRow
	for rows.Next() {
		r := store.ConceptRow{System: system}
		if err := rows.Scan(&r.Code, &r.Display, &r.Abstract, &r.ParentCode); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ChildCodes implements store.Reader.
func (s *Store) ChildCodes(ctx context.Context, system, code string) ([]string, error) {
	rows, err := s.q.Query(ctx,
		`SELECT code FROM tx_concept WHERE system_url = $1 AND parent_code = $2 ORDER BY code`, system, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ValueSet implements store.Reader.
func (s *Store) ValueSet(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := s.q.QueryRow(ctx, `SELECT resource FROM tx_value_set WHERE url = $1`, url).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Resource implements store.Reader.
func (s *Store) Resource(ctx context.Context, id string) (*support.StoredResource, error) {
	r := support.StoredResource{ID: id}
	var deleted *time.Time
	err := s.q.QueryRow(ctx,
		`SELECT resource_type, deleted_at FROM tx_resource WHERE id = $1`, id).
		Scan(&r.Type, &deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.DeletedAt = deleted
	return &r, nil
}

var _ store.Reader = (*Store)(nil)
