// Package sqlite stores a terminology snapshot in a local SQLite file and
// serves it as a validation support module.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofhir/fhir/r4"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/gofhir/validationsupport/store"
	"github.com/gofhir/validationsupport/support"
)

const schema = `
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
	abstract    INTEGER NOT NULL DEFAULT 0,
	parent_code TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (system_url, code)
);
CREATE INDEX IF NOT EXISTS tx_concept_parent ON tx_concept(system_url, parent_code);
CREATE TABLE IF NOT EXISTS tx_value_set (
	url      TEXT PRIMARY KEY,
	resource TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tx_resource (
	id            TEXT PRIMARY KEY,
	resource_type TEXT NOT NULL,
	deleted_at    TEXT
);`

// Store is a terminology database in a single SQLite file.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path. Call Migrate before
// first use.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "terminology.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	return &Store{db: db, path: path}, nil
}

// Migrate creates the tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create terminology tables: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Support returns the validation support module over this store.
func (s *Store) Support(opts ...store.Option) *store.Support {
	return store.New("SQLiteTerminologySupport("+s.path+")", s, opts...)
}

// CodeSystem implements store.Reader.
func (s *Store) CodeSystem(ctx context.Context, url string) (*store.CodeSystemRow, error) {
	var row store.CodeSystemRow
	err := s.db.QueryRowContext(ctx,
		`SELECT url, name, version, content FROM tx_code_system WHERE url = ?`, url).
		Scan(&row.URL, &row.Name, &row.Version, &row.Content)
	if errors.Is(err, sql.ErrNoRows) {
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
	err := s.db.QueryRowContext(ctx,
		`SELECT code, display, abstract, parent_code FROM tx_concept WHERE system_url = ? AND code = ?`, system, code).
		Scan(&row.Code, &row.Display, &row.Abstract, &row.ParentCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Concepts implements store.Reader.
func (s *Store) Concepts(ctx context.Context, system string) ([]store.ConceptRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, display, abstract, parent_code FROM tx_concept WHERE system_url = ? ORDER BY code`, system)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []store.ConceptRow
	for rows.Next() {
		r := store.ConceptRow{System: system}
		if err := rows.Scan(&r.Code, &r.Display, &r.Abstract, &r.ParentCode); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ChildCodes implements store.Reader.
func (s *Store) ChildCodes(ctx context.Context, system, code string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code FROM tx_concept WHERE system_url = ? AND parent_code = ? ORDER BY code`, system, code)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ValueSet implements store.Reader.
func (s *Store) ValueSet(ctx context.Context, url string) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT resource FROM tx_value_set WHERE url = ?`, url).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

// Resource implements store.Reader.
func (s *Store) Resource(ctx context.Context, id string) (*support.StoredResource, error) {
	r := support.StoredResource{ID: id}
	var deleted sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT resource_type, deleted_at FROM tx_resource WHERE id = ?`, id).
		Scan(&r.Type, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if deleted.Valid && deleted.String != "" {
		t, err := time.Parse(time.RFC3339Nano, deleted.String)
		if err != nil {
			return nil, fmt.Errorf("parse deleted_at of %s: %w", id, err)
		}
		r.DeletedAt = &t
	}
	return &r, nil
}

// PutCodeSystem replaces a CodeSystem and its concepts. Nested concepts
// are stored with their parent code; notSelectable marks a concept abstract.
func (s *Store) PutCodeSystem(ctx context.Context, cs *r4.CodeSystem) (retErr error) {
	if cs == nil || cs.Url == nil || *cs.Url == "" {
		return fmt.Errorf("code system is nil or has no URL")
	}
	url := *cs.Url

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tx_concept WHERE system_url = ?`, url); err != nil {
		return fmt.Errorf("delete concepts of %s: %w", url, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tx_code_system(url, name, version, content) VALUES(?,?,?,?)
		 ON CONFLICT(url) DO UPDATE SET name=excluded.name, version=excluded.version, content=excluded.content`,
		url, deref(cs.Name), deref(cs.Version), store.ContentMode(cs)); err != nil {
		return fmt.Errorf("upsert code system %s: %w", url, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO tx_concept(system_url, code, display, abstract, parent_code) VALUES(?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range store.FlattenConcepts(url, cs.Concept) {
		if _, err := stmt.ExecContext(ctx, c.System, c.Code, c.Display, c.Abstract, c.ParentCode); err != nil {
			return fmt.Errorf("insert concept %s: %w", c.Code, err)
		}
	}
	return tx.Commit()
}

// PutValueSet stores a ValueSet as JSON.
func (s *Store) PutValueSet(ctx context.Context, vs *r4.ValueSet) error {
	if vs == nil || vs.Url == nil || *vs.Url == "" {
		return fmt.Errorf("value set is nil or has no URL")
	}
	data, err := json.Marshal(vs)
	if err != nil {
		return fmt.Errorf("encode value set: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO tx_value_set(url, resource) VALUES(?,?) ON CONFLICT(url) DO UPDATE SET resource=excluded.resource`,
		*vs.Url, string(data)); err != nil {
		return fmt.Errorf("upsert value set %s: %w", *vs.Url, err)
	}
	return nil
}

// PutResource records a resource by persistent id.
func (s *Store) PutResource(ctx context.Context, r support.StoredResource) error {
	var deleted any
	if r.DeletedAt != nil {
		deleted = r.DeletedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tx_resource(id, resource_type, deleted_at) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET resource_type=excluded.resource_type, deleted_at=excluded.deleted_at`,
		r.ID, r.Type, deleted)
	if err != nil {
		return fmt.Errorf("upsert resource %s: %w", r.ID, err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ store.Reader = (*Store)(nil)
