package profile

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/gofhir/fhir/r4"
	"github.com/rs/zerolog"

	"github.com/gofhir/validationsupport/support"
)

// SnapshotGenerator builds snapshots for constraint profiles by applying the
// differential to the snapshot of the base definition. The base is fetched
// through the chain and generated first when it only has a differential.
type SnapshotGenerator struct {
	logger zerolog.Logger
}

// SnapshotOption configures a SnapshotGenerator.
type SnapshotOption func(*SnapshotGenerator)

// WithSnapshotLogger sets the generator logger.
func WithSnapshotLogger(logger zerolog.Logger) SnapshotOption {
	return func(g *SnapshotGenerator) { g.logger = logger }
}

// NewSnapshotGenerator creates a generator.
func NewSnapshotGenerator(opts ...SnapshotOption) *SnapshotGenerator {
	g := &SnapshotGenerator{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name implements support.Module.
func (g *SnapshotGenerator) Name() string {
	return "SnapshotGenerator"
}

type generatingKey struct{}

// GenerateSnapshot implements support.SnapshotGenerator. url and profileName
// override the result's url and name when non-empty. webURL is unused since
// no narrative is generated. A missing base yields a *support.NotFoundError.
func (g *SnapshotGenerator) GenerateSnapshot(ctx context.Context, sc *support.Context, differential *r4.StructureDefinition, url, webURL, profileName string) (*r4.StructureDefinition, error) {
	if differential == nil || differential.Differential == nil || sc == nil {
		return nil, nil
	}
	self := deref(differential.Url)
	baseURL := deref(differential.BaseDefinition)
	if baseURL == "" {
		return nil, fmt.Errorf("StructureDefinition %s has no baseDefinition", self)
	}

	generating, _ := ctx.Value(generatingKey{}).(map[string]bool)
	if baseURL == self || generating[stripVersion(baseURL)] {
		return nil, fmt.Errorf("circular baseDefinition chain at %s", baseURL)
	}
	next := make(map[string]bool, len(generating)+1)
	for k := range generating {
		next[k] = true
	}
	next[self] = true
	ctx = context.WithValue(ctx, generatingKey{}, next)

	base, err := sc.Root().FetchStructureDefinition(ctx, baseURL)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return nil, support.NewNotFoundError("StructureDefinition", baseURL)
	}
	if base.Snapshot == nil || len(base.Snapshot.Element) == 0 {
		g.logger.Debug().Str("base", baseURL).Msg("generating base snapshot")
		generated, err := sc.Root().GenerateSnapshot(ctx, base, "", "", "")
		if err != nil {
			return nil, err
		}
		if generated == nil || generated.Snapshot == nil {
			return nil, support.NewNotFoundError("StructureDefinition", baseURL)
		}
		base = generated
	}

	out := *differential
	out.Snapshot = &r4.StructureDefinitionSnapshot{
		Element: mergeDifferential(base.Snapshot.Element, differential.Differential.Element),
	}
	if url != "" {
		out.Url = &url
	}
	if profileName != "" {
		out.Name = &profileName
	}

	g.logger.Debug().
		Str("profile", deref(out.Url)).
		Str("base", baseURL).
		Int("elements", len(out.Snapshot.Element)).
		Msg("snapshot generated")
	return &out, nil
}

// mergeDifferential applies diff to a copy of base. Elements are matched by
// id, or by path and slice name when the differential has no ids. Unmatched
// elements are inserted after the block of their parent.
func mergeDifferential(base, diff []r4.ElementDefinition) []r4.ElementDefinition {
	out := slices.Clone(base)
	for i := range diff {
		d := &diff[i]
		if idx := findElement(out, d); idx >= 0 {
			mergeElement(&out[idx], d)
			continue
		}
		el := *d
		if el.Id == nil {
			id := elementID(d)
			el.Id = &id
		}
		out = slices.Insert(out, insertPosition(out, d), el)
	}
	return out
}

func elementID(e *r4.ElementDefinition) string {
	if e.Id != nil && *e.Id != "" {
		return *e.Id
	}
	id := deref(e.Path)
	if slice := deref(e.SliceName); slice != "" {
		id += ":" + slice
	}
	return id
}

func findElement(elements []r4.ElementDefinition, d *r4.ElementDefinition) int {
	want := elementID(d)
	for i := range elements {
		if elementID(&elements[i]) == want {
			return i
		}
	}
	return -1
}

// insertPosition returns the index after the last element of the new
// element's anchor block. A slice is anchored on its sliced element, any
// other element on its parent.
func insertPosition(elements []r4.ElementDefinition, d *r4.ElementDefinition) int {
	id := elementID(d)
	var anchor string
	if slice := deref(d.SliceName); slice != "" {
		anchor = strings.TrimSuffix(id, ":"+slice)
	} else if idx := strings.LastIndex(id, "."); idx > 0 {
		anchor = id[:idx]
	} else {
		return len(elements)
	}

	pos := -1
	for i := range elements {
		eid := elementID(&elements[i])
		if eid == anchor || strings.HasPrefix(eid, anchor+".") || strings.HasPrefix(eid, anchor+":") {
			pos = i
		}
	}
	if pos < 0 {
		return len(elements)
	}
	return pos + 1
}

// mergeElement overlays the constraints of d on dst. Invariants are
// appended; everything else d sets replaces the base value.
func mergeElement(dst *r4.ElementDefinition, d *r4.ElementDefinition) {
	if d.Min != nil {
		dst.Min = d.Min
	}
	if d.Max != nil {
		dst.Max = d.Max
	}
	if d.Short != nil {
		dst.Short = d.Short
	}
	if d.MustSupport != nil {
		dst.MustSupport = d.MustSupport
	}
	if d.Binding != nil {
		dst.Binding = d.Binding
	}
	if d.Slicing != nil {
		dst.Slicing = d.Slicing
	}
	if len(d.Type) > 0 {
		dst.Type = d.Type
	}
	if len(d.Constraint) > 0 {
		dst.Constraint = append(slices.Clone(dst.Constraint), d.Constraint...)
	}

	if d.FixedCode != nil {
		dst.FixedCode = d.FixedCode
	}
	if d.FixedString != nil {
		dst.FixedString = d.FixedString
	}
	if d.FixedUri != nil {
		dst.FixedUri = d.FixedUri
	}
	if d.FixedCoding != nil {
		dst.FixedCoding = d.FixedCoding
	}
	if d.FixedCodeableConcept != nil {
		dst.FixedCodeableConcept = d.FixedCodeableConcept
	}
	if d.PatternCode != nil {
		dst.PatternCode = d.PatternCode
	}
	if d.PatternString != nil {
		dst.PatternString = d.PatternString
	}
	if d.PatternCoding != nil {
		dst.PatternCoding = d.PatternCoding
	}
	if d.PatternCodeableConcept != nil {
		dst.PatternCodeableConcept = d.PatternCodeableConcept
	}
}

var _ support.SnapshotGenerator = (*SnapshotGenerator)(nil)
