// Package store provides a read-only terminology module backed by a SQL
// database. The dialect packages store/postgres and store/sqlite supply a
// Reader over the same three tables:
//
//	tx_code_system(url, name, version, content)
//	tx_concept(system_url, code, display, abstract, parent_code)
//	tx_value_set(url, resource)
//
// plus tx_resource(id, resource_type, deleted_at) for persistent id lookups.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gofhir/fhir/r4"
	"github.com/rs/zerolog"

	"github.com/gofhir/validationsupport/support"
)

// CodeSystemRow is a row of tx_code_system.
type CodeSystemRow struct {
	URL     string
	Name    string
	Version string
	// Content is the CodeSystem.content mode, e.g. "complete".
	Content string
}

// ConceptRow is a row of tx_concept.
type ConceptRow struct {
	System     string
	Code       string
	Display    string
	Abstract   bool
	ParentCode string
}

// Reader is the query surface of a terminology database. Every method
// returns nil without an error when nothing matches.
type Reader interface {
	CodeSystem(ctx context.Context, url string) (*CodeSystemRow, error)
	Concept(ctx context.Context, system, code string) (*ConceptRow, error)
	// Concepts returns every concept of a system ordered by code.
	Concepts(ctx context.Context, system string) ([]ConceptRow, error)
	ChildCodes(ctx context.Context, system, code string) ([]string, error)
	ValueSet(ctx context.Context, url string) ([]byte, error)
	Resource(ctx context.Context, id string) (*support.StoredResource, error)
}

// Support is the terminology module over a Reader.
type Support struct {
	name   string
	reader Reader
	logger zerolog.Logger
}

// Option configures a Support.
type Option func(*Support)

// WithLogger sets the module logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Support) { s.logger = logger }
}

// New creates a module named name reading through r.
func New(name string, r Reader, opts ...Option) *Support {
	s := &Support{name: name, reader: r, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements support.Module.
func (s *Support) Name() string {
	return s.name
}

// FetchCodeSystem implements support.CodeSystemFetcher. The concept
// hierarchy is rebuilt from parent_code.
func (s *Support) FetchCodeSystem(ctx context.Context, system string) (*r4.CodeSystem, error) {
	row, err := s.reader.CodeSystem(ctx, stripVersion(system))
	if err != nil || row == nil {
		return nil, wrap(err, "code system", system)
	}
	concepts, err := s.reader.Concepts(ctx, row.URL)
	if err != nil {
		return nil, wrap(err, "concepts of", system)
	}

	cs := &r4.CodeSystem{
		Url:     ptr(row.URL),
		Name:    ptr(row.Name),
		Version: ptr(row.Version),
		Concept: conceptTree(concepts),
	}
	return cs, nil
}

// conceptTree nests concepts under their parent code. Concepts whose parent
// is unknown are kept at the top level.
func conceptTree(rows []ConceptRow) []r4.CodeSystemConcept {
	known := make(map[string]bool, len(rows))
	for _, r := range rows {
		known[r.Code] = true
	}
	children := make(map[string][]ConceptRow)
	var roots []ConceptRow
	for _, r := range rows {
		if r.ParentCode != "" && r.ParentCode != r.Code && known[r.ParentCode] {
			children[r.ParentCode] = append(children[r.ParentCode], r)
			continue
		}
		roots = append(roots, r)
	}

	var build func(rows []ConceptRow, depth int) []r4.CodeSystemConcept
	build = func(rows []ConceptRow, depth int) []r4.CodeSystemConcept {
		out := make([]r4.CodeSystemConcept, 0, len(rows))
		for _, r := range rows {
			c := r4.CodeSystemConcept{Code: ptr(r.Code), Display: ptr(r.Display)}
			if r.Abstract {
				abstract := true
				c.Property = []r4.CodeSystemConceptProperty{{Code: ptr("notSelectable"), ValueBoolean: &abstract}}
			}
			// A parent_code cycle cannot nest deeper than the row count.
			if depth < len(known) {
				c.Concept = build(children[r.Code], depth+1)
			}
			out = append(out, c)
		}
		return out
	}
	return build(roots, 0)
}

// FetchValueSet implements support.ValueSetFetcher by decoding the stored
// resource.
func (s *Support) FetchValueSet(ctx context.Context, url string) (*r4.ValueSet, error) {
	data, err := s.reader.ValueSet(ctx, stripVersion(url))
	if err != nil || data == nil {
		return nil, wrap(err, "value set", url)
	}
	var vs r4.ValueSet
	if err := json.Unmarshal(data, &vs); err != nil {
		return nil, fmt.Errorf("failed to parse stored ValueSet %s: %w", url, err)
	}
	return &vs, nil
}

// IsCodeSystemSupported implements support.CodeSystemSupporter.
func (s *Support) IsCodeSystemSupported(ctx context.Context, _ *support.Context, system string) bool {
	row, err := s.reader.CodeSystem(ctx, stripVersion(system))
	if err != nil {
		s.logger.Warn().Err(err).Str("system", system).Msg("code system probe failed")
		return false
	}
	return row != nil
}

// IsValueSetSupported implements support.ValueSetSupporter.
func (s *Support) IsValueSetSupported(ctx context.Context, _ *support.Context, url string) bool {
	data, err := s.reader.ValueSet(ctx, stripVersion(url))
	if err != nil {
		s.logger.Warn().Err(err).Str("valueSet", url).Msg("value set probe failed")
		return false
	}
	return data != nil
}

// LookupCode implements support.CodeLookup. Parent and child codes are
// reported as Coding properties.
func (s *Support) LookupCode(ctx context.Context, _ *support.Context, req support.LookupCodeRequest) (*support.LookupCodeResult, error) {
	row, err := s.reader.CodeSystem(ctx, stripVersion(req.System))
	if err != nil || row == nil {
		return nil, wrap(err, "code system", req.System)
	}
	concept, err := s.reader.Concept(ctx, row.URL, req.Code)
	if err != nil {
		return nil, wrap(err, "concept", req.Code)
	}
	if concept == nil {
		res := support.LookupCodeNotFound(req.System, req.Code)
		res.ErrorMessage = fmt.Sprintf("Unable to find code[%s] in system[%s]", req.Code, req.System)
		return res, nil
	}

	res := support.NewLookupCodeResult(req.System, req.Code)
	res.Found = true
	res.CodeDisplay = concept.Display
	res.CodeSystemDisplayName = row.Name
	res.CodeSystemVersion = row.Version
	res.CodeIsAbstract = concept.Abstract

	var props []support.ConceptProperty
	if concept.ParentCode != "" {
		props = append(props, s.codingProperty(ctx, row.URL, "parent", concept.ParentCode))
	}
	children, err := s.reader.ChildCodes(ctx, row.URL, req.Code)
	if err != nil {
		return nil, wrap(err, "children of", req.Code)
	}
	for _, child := range children {
		props = append(props, s.codingProperty(ctx, row.URL, "child", child))
	}
	res.Properties = support.FilterProperties(props, req.PropertyNames)
	return res, nil
}

func (s *Support) codingProperty(ctx context.Context, system, name, code string) support.CodingConceptProperty {
	p := support.CodingConceptProperty{Name: name, System: system, Code: code}
	if c, err := s.reader.Concept(ctx, system, code); err == nil && c != nil {
		p.Display = c.Display
	}
	return p
}

// ValidateCode implements support.CodeValidator for plain system
// validation. Value set membership is left to the expanding modules of the
// chain, which fetch the stored ValueSet and CodeSystem from this module.
func (s *Support) ValidateCode(ctx context.Context, _ *support.Context, opts support.ConceptValidationOptions, system, code, display, valueSetURL string) (*support.CodeValidationResult, error) {
	if valueSetURL != "" || system == "" || strings.TrimSpace(code) == "" {
		return nil, nil
	}
	row, err := s.reader.CodeSystem(ctx, stripVersion(system))
	if err != nil || row == nil {
		return nil, wrap(err, "code system", system)
	}
	concept, err := s.reader.Concept(ctx, row.URL, code)
	if err != nil {
		return nil, wrap(err, "concept", code)
	}
	if concept == nil {
		msg := fmt.Sprintf("Unknown code '%s#%s'", system, code)
		res := &support.CodeValidationResult{Message: msg, Severity: support.SeverityError}
		return res.AddIssue(support.NewCodeValidationIssue(msg, support.SeverityError, support.IssueCodeCodeInvalid, support.IssueCodingInvalidCode)), nil
	}

	res := &support.CodeValidationResult{
		Code:              concept.Code,
		Display:           concept.Display,
		CodeSystemName:    row.Name,
		CodeSystemVersion: row.Version,
		SourceDetails:     "Code was validated against stored CodeSystem " + row.URL,
	}
	if opts.ValidateDisplay && display != "" && !strings.EqualFold(display, concept.Display) {
		msg := fmt.Sprintf("Concept Display \"%s\" does not match expected \"%s\" for '%s#%s'", display, concept.Display, system, code)
		res.Message = msg
		res.Severity = support.SeverityWarning
		res.AddIssue(support.NewCodeValidationIssue(msg, support.SeverityWarning, support.IssueCodeInvalid, support.IssueCodingInvalidDisplay))
	}
	return res, nil
}

// LookupResource returns the stored resource with the given persistent id,
// or a *support.NotFoundError.
func (s *Support) LookupResource(ctx context.Context, id string) (support.ResourceLookup, error) {
	r, err := s.reader.Resource(ctx, id)
	if err != nil {
		return nil, wrap(err, "resource", id)
	}
	if r == nil {
		return nil, support.NewNotFoundError("resource", id)
	}
	return *r, nil
}

func wrap(err error, what, id string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("query %s %s: %w", what, id, err)
}

func stripVersion(url string) string {
	if idx := strings.LastIndex(url, "|"); idx != -1 {
		return url[:idx]
	}
	return url
}

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var (
	_ support.CodeSystemFetcher   = (*Support)(nil)
	_ support.ValueSetFetcher     = (*Support)(nil)
	_ support.CodeSystemSupporter = (*Support)(nil)
	_ support.ValueSetSupporter   = (*Support)(nil)
	_ support.CodeLookup          = (*Support)(nil)
	_ support.CodeValidator       = (*Support)(nil)
)

// FlattenConcepts lists the concepts of a CodeSystem tree as rows, parents
// before children. A notSelectable or abstract property marks a concept
// abstract.
func FlattenConcepts(system string, concepts []r4.CodeSystemConcept) []ConceptRow {
	var out []ConceptRow
	var walk func(concepts []r4.CodeSystemConcept, parent string)
	walk = func(concepts []r4.CodeSystemConcept, parent string) {
		for i := range concepts {
			c := &concepts[i]
			if c.Code == nil || *c.Code == "" {
				continue
			}
			row := ConceptRow{System: system, Code: *c.Code, ParentCode: parent}
			if c.Display != nil {
				row.Display = *c.Display
			}
			for _, p := range c.Property {
				if p.Code != nil && (*p.Code == "notSelectable" || *p.Code == "abstract") && p.ValueBoolean != nil {
					row.Abstract = *p.ValueBoolean
				}
			}
			out = append(out, row)
			walk(c.Concept, row.Code)
		}
	}
	walk(concepts, "")
	return out
}

// ContentMode returns CodeSystem.content, defaulting to "complete".
func ContentMode(cs *r4.CodeSystem) string {
	data, err := json.Marshal(cs)
	if err != nil {
		return "complete"
	}
	var probe struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.Content == "" {
		return "complete"
	}
	return probe.Content
}
