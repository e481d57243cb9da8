package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gofhir/validationsupport/support"
)

// fakeDB answers queries from canned tables keyed by the first argument.
type fakeDB struct {
	systems   map[string][]any
	concepts  map[string][][]any
	resources map[string][]any
	valueSets map[string][]byte
	execs     []string
	queries   []string
	failWith  error
}

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...interface{}) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), f.failWith
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...interface{}) pgx.Row {
	f.queries = append(f.queries, sql)
	if f.failWith != nil {
		return fakeRow{err: f.failWith}
	}
	key := fmt.Sprint(args[0])
	switch {
	case strings.Contains(sql, "FROM tx_code_system"):
		if v, ok := f.systems[key]; ok {
			return fakeRow{values: v}
		}
	case strings.Contains(sql, "FROM tx_concept"):
		for _, v := range f.concepts[key] {
			if v[0] == args[1] {
				return fakeRow{values: v}
			}
		}
	case strings.Contains(sql, "FROM tx_value_set"):
		if v, ok := f.valueSets[key]; ok {
			return fakeRow{values: []any{v}}
		}
	case strings.Contains(sql, "FROM tx_resource"):
		if v, ok := f.resources[key]; ok {
			return fakeRow{values: v}
		}
	}
	return fakeRow{err: pgx.ErrNoRows}
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	f.queries = append(f.queries, sql)
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out [][]any
	for _, v := range f.concepts[fmt.Sprint(args[0])] {
		if strings.Contains(sql, "parent_code = $2") {
			if v[3] == args[1] {
				out = append(out, []any{v[0]})
			}
			continue
		}
		out = append(out, v)
	}
	return &fakeRows{rows: out, idx: -1}, nil
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.values, dest)
}

type fakeRows struct {
	rows [][]any
	idx  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool                                   { r.idx++; return r.idx < len(r.rows) }
func (r *fakeRows) Scan(dest ...any) error                       { return assign(r.rows[r.idx], dest) }
func (r *fakeRows) Values() ([]any, error)                       { return r.rows[r.idx], nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func assign(values, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("scan: %d values into %d targets", len(values), len(dest))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = values[i].(string)
		case *bool:
			*p = values[i].(bool)
		case *[]byte:
			*p = values[i].([]byte)
		case **time.Time:
			if values[i] != nil {
				t := values[i].(time.Time)
				*p = &t
			}
		default:
			return fmt.Errorf("scan: unsupported target %T", d)
		}
	}
	return nil
}

const fruitSystem = "http://example.org/cs/fruit"

func newFake() *fakeDB {
	return &fakeDB{
		systems: map[string][]any{
			fruitSystem: {fruitSystem, "Fruit", "1", "complete"},
		},
		concepts: map[string][][]any{
			fruitSystem: {
				{"apple", "Apple", false, "pome"},
				{"pear", "Pear", false, "pome"},
				{"pome", "Pome", true, ""},
			},
		},
		valueSets: map[string][]byte{
			"http://example.org/vs/fruit": []byte(`{"resourceType":"ValueSet","url":"http://example.org/vs/fruit","status":"active"}`),
		},
		resources: map[string][]any{
			"42": {"CodeSystem", time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)},
			"43": {"ValueSet", nil},
		},
	}
}

func TestStore_Migrate(t *testing.T) {
	db := newFake()
	s := &Store{q: db}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if len(db.execs) != 1 || !strings.Contains(db.execs[0], "tx_concept_parent") {
		t.Errorf("Migrate() executed %v", db.execs)
	}

	db.failWith = errors.New("permission denied")
	if err := s.Migrate(context.Background()); err == nil {
		t.Error("Migrate() should report exec failures")
	}
}

func TestSupport_LookupAndValidate(t *testing.T) {
	mod := (&Store{q: newFake()}).Support()
	ctx := context.Background()

	if mod.Name() != "PostgresTerminologySupport" {
		t.Errorf("Name() = %q", mod.Name())
	}

	res, err := mod.LookupCode(ctx, nil, support.LookupCodeRequest{System: fruitSystem, Code: "pome"})
	if err != nil {
		t.Fatalf("LookupCode() error = %v", err)
	}
	if !res.Found || !res.CodeIsAbstract || res.CodeDisplay != "Pome" {
		t.Errorf("LookupCode(pome) = %+v", res)
	}
	if len(res.Properties) != 2 {
		t.Errorf("LookupCode(pome) properties = %+v, want 2 children", res.Properties)
	}

	ok, err := mod.ValidateCode(ctx, nil, support.ConceptValidationOptions{}, fruitSystem, "apple", "", "")
	if err != nil || ok == nil || !ok.IsOK() {
		t.Errorf("ValidateCode(apple) = %+v, %v", ok, err)
	}

	bad, err := mod.ValidateCode(ctx, nil, support.ConceptValidationOptions{}, fruitSystem, "kiwi", "", "")
	if err != nil || bad == nil || bad.IsOK() {
		t.Errorf("ValidateCode(kiwi) = %+v, %v", bad, err)
	}

	cs, err := mod.FetchCodeSystem(ctx, fruitSystem+"|1")
	if err != nil || cs == nil {
		t.Fatalf("FetchCodeSystem() = %v, %v", cs, err)
	}
	if len(cs.Concept) != 1 || len(cs.Concept[0].Concept) != 2 {
		t.Errorf("FetchCodeSystem() tree = %+v", cs.Concept)
	}

	valueSet, err := mod.FetchValueSet(ctx, "http://example.org/vs/fruit")
	if err != nil || valueSet == nil || valueSet.Url == nil {
		t.Errorf("FetchValueSet() = %v, %v", valueSet, err)
	}
}

func TestSupport_LookupResource(t *testing.T) {
	mod := (&Store{q: newFake()}).Support()
	ctx := context.Background()

	deleted, err := mod.LookupResource(ctx, "42")
	if err != nil {
		t.Fatalf("LookupResource(42) error = %v", err)
	}
	if deleted.ResourceType() != "CodeSystem" || deleted.Deleted() == nil {
		t.Errorf("LookupResource(42) = %+v", deleted)
	}

	live, err := mod.LookupResource(ctx, "43")
	if err != nil {
		t.Fatalf("LookupResource(43) error = %v", err)
	}
	if live.Deleted() != nil {
		t.Errorf("LookupResource(43).Deleted() = %v", live.Deleted())
	}

	if _, err := mod.LookupResource(ctx, "44"); !support.IsNotFound(err) {
		t.Errorf("LookupResource(44) error = %v, want not found", err)
	}
}

func TestSupport_QueryErrorsAreFatal(t *testing.T) {
	db := newFake()
	db.failWith = errors.New("connection reset")
	mod := (&Store{q: db}).Support()

	_, err := mod.ValidateCode(context.Background(), nil, support.ConceptValidationOptions{}, fruitSystem, "apple", "", "")
	if err == nil || support.IsNoOpinion(err) {
		t.Errorf("ValidateCode() error = %v, want fatal error", err)
	}
	if mod.IsCodeSystemSupported(context.Background(), nil, fruitSystem) {
		t.Error("IsCodeSystemSupported() = true on a failing database")
	}
}
