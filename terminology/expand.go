package terminology

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gofhir/fhir/r4"

	"github.com/gofhir/validationsupport/support"
)

// expansionError is a ValueSet that cannot be expanded in memory.
type expansionError struct {
	msg string
}

func (e *expansionError) Error() string { return e.msg }

// missingCodeSystemError is an include whose CodeSystem is not available.
type missingCodeSystemError struct {
	system string
}

func (e *missingCodeSystemError) Error() string {
	return "Unable to expand ValueSet because CodeSystem could not be found: " + e.system
}

func asExpansionError(err error, target **expansionError) bool {
	if errors.As(err, target) {
		return true
	}
	var missing *missingCodeSystemError
	if errors.As(err, &missing) {
		*target = &expansionError{msg: missing.Error()}
		return true
	}
	return false
}

type expandedCode struct {
	system  string
	code    string
	display string
}

// codeSet is an insertion-ordered set of codes keyed by system and code.
type codeSet struct {
	items []expandedCode
	index map[string]int
}

func newCodeSet() *codeSet {
	return &codeSet{index: make(map[string]int)}
}

func codeKey(system, code string) string {
	return system + "\x00" + code
}

func (c *codeSet) add(e expandedCode) {
	key := codeKey(e.system, e.code)
	if _, ok := c.index[key]; ok {
		return
	}
	c.index[key] = len(c.items)
	c.items = append(c.items, e)
}

func (c *codeSet) has(system, code string) bool {
	_, ok := c.index[codeKey(system, code)]
	return ok
}

func (c *codeSet) union(other *codeSet) {
	for _, e := range other.items {
		c.add(e)
	}
}

func (c *codeSet) without(other *codeSet) *codeSet {
	out := newCodeSet()
	for _, e := range c.items {
		if !other.has(e.system, e.code) {
			out.add(e)
		}
	}
	return out
}

func (c *codeSet) intersect(other *codeSet) *codeSet {
	out := newCodeSet()
	for _, e := range c.items {
		if other.has(e.system, e.code) {
			out.add(e)
		}
	}
	return out
}

// ExpandValueSet implements support.ValueSetExpander. A ValueSet that needs a
// CodeSystem this module cannot resolve yields no opinion so that a later
// module can try; other expansion problems are reported in the outcome.
func (s *InMemorySupport) ExpandValueSet(ctx context.Context, sc *support.Context, opts *support.ValueSetExpansionOptions, valueSet *r4.ValueSet) (*support.ValueSetExpansionOutcome, error) {
	if valueSet == nil {
		return nil, nil
	}
	if opts == nil {
		opts = support.DefaultExpansionOptions()
	}

	codes, err := s.expandCodes(ctx, sc, valueSet, opts, map[string]bool{})
	if err != nil {
		var missing *missingCodeSystemError
		if errors.As(err, &missing) {
			s.logger.Debug().Str("valueSet", deref(valueSet.Url)).Str("system", missing.system).Msg("code system not available for expansion")
			return nil, nil
		}
		var ee *expansionError
		if errors.As(err, &ee) {
			return support.NewExpansionError(ee.Error(), false), nil
		}
		return nil, err
	}

	items := codes.items
	if opts.Filter != "" {
		needle := strings.ToLower(opts.Filter)
		filtered := make([]expandedCode, 0, len(items))
		for _, c := range items {
			if strings.Contains(strings.ToLower(c.display), needle) || strings.Contains(strings.ToLower(c.code), needle) {
				filtered = append(filtered, c)
			}
		}
		items = filtered
	}

	start, end := opts.Page(len(items))
	contains := make([]r4.ValueSetExpansionContains, 0, end-start)
	for _, c := range items[start:end] {
		entry := r4.ValueSetExpansionContains{System: ptr(c.system), Code: ptr(c.code)}
		if c.display != "" {
			entry.Display = ptr(c.display)
		}
		contains = append(contains, entry)
	}

	expanded := *valueSet
	expanded.Expansion = &r4.ValueSetExpansion{Contains: contains}
	return support.NewExpansionOutcome(&expanded), nil
}

// expandCodes computes the full code list of a ValueSet. visiting guards
// against ValueSets that include themselves.
func (s *InMemorySupport) expandCodes(ctx context.Context, sc *support.Context, valueSet *r4.ValueSet, opts *support.ValueSetExpansionOptions, visiting map[string]bool) (*codeSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	url := deref(valueSet.Url)
	if url != "" {
		if visiting[url] {
			return nil, &expansionError{msg: "ValueSet " + url + " includes itself"}
		}
		visiting[url] = true
		defer delete(visiting, url)
	}

	if valueSet.Expansion != nil && len(valueSet.Expansion.Contains) > 0 {
		set := newCodeSet()
		addContains(set, valueSet.Expansion.Contains)
		return set, nil
	}
	if valueSet.Compose == nil {
		return newCodeSet(), nil
	}

	set := newCodeSet()
	for i := range valueSet.Compose.Include {
		part, err := s.includeCodes(ctx, sc, &valueSet.Compose.Include[i], opts, visiting)
		if err != nil {
			return nil, err
		}
		set.union(part)
	}
	for i := range valueSet.Compose.Exclude {
		part, err := s.includeCodes(ctx, sc, &valueSet.Compose.Exclude[i], opts, visiting)
		if err != nil {
			return nil, err
		}
		set = set.without(part)
	}
	return set, nil
}

func addContains(set *codeSet, contains []r4.ValueSetExpansionContains) {
	for i := range contains {
		c := &contains[i]
		if c.Code != nil {
			set.add(expandedCode{system: deref(c.System), code: *c.Code, display: deref(c.Display)})
		}
		addContains(set, c.Contains)
	}
}

// includeCodes evaluates one compose include or exclude. System-based
// selection and nested ValueSets are intersected.
func (s *InMemorySupport) includeCodes(ctx context.Context, sc *support.Context, inc *r4.ValueSetComposeInclude, opts *support.ValueSetExpansionOptions, visiting map[string]bool) (*codeSet, error) {
	var result *codeSet

	if system := deref(inc.System); system != "" {
		cs, err := s.resolveCodeSystem(ctx, sc, system)
		if err != nil {
			return nil, err
		}
		switch {
		case len(inc.Concept) > 0:
			result = newCodeSet()
			for _, concept := range inc.Concept {
				if concept.Code == nil {
					continue
				}
				code := *concept.Code
				display := deref(concept.Display)
				if cs != nil {
					entry, ok := cs.concepts[code]
					if !ok {
						continue
					}
					if display == "" {
						display = entry.display
					}
				}
				result.add(expandedCode{system: system, code: code, display: display})
			}
		case cs == nil:
			if opts.FailOnMissingCodeSystem {
				return nil, &missingCodeSystemError{system: system}
			}
			result = newCodeSet()
		default:
			result, err = applyFilters(cs, inc.Filter)
			if err != nil {
				return nil, err
			}
		}
	}

	for _, ref := range inc.ValueSet {
		nested, err := s.resolveValueSet(ctx, sc, ref)
		if err != nil {
			return nil, err
		}
		if nested == nil {
			return nil, &expansionError{msg: "Unable to find imported ValueSet " + ref}
		}
		codes, err := s.expandCodes(ctx, sc, nested, opts, visiting)
		if err != nil {
			return nil, err
		}
		if result == nil {
			result = codes
		} else {
			result = result.intersect(codes)
		}
	}

	if result == nil {
		result = newCodeSet()
	}
	return result, nil
}

// applyFilters selects the codes of cs matching every filter. No filters
// selects the whole CodeSystem.
func applyFilters(cs *codeSystemData, filters []r4.ValueSetComposeIncludeFilter) (*codeSet, error) {
	selected := make([]string, len(cs.order))
	copy(selected, cs.order)

	for _, f := range filters {
		if f.Property == nil || f.Op == nil || f.Value == nil {
			continue
		}
		match, err := filterMatcher(cs, *f.Property, string(*f.Op), *f.Value)
		if err != nil {
			return nil, err
		}
		kept := selected[:0:0]
		for _, code := range selected {
			if match(code) {
				kept = append(kept, code)
			}
		}
		selected = kept
	}

	set := newCodeSet()
	for _, code := range selected {
		set.add(expandedCode{system: cs.url, code: code, display: cs.concepts[code].display})
	}
	return set, nil
}

func filterMatcher(cs *codeSystemData, property, op, value string) (func(string) bool, error) {
	switch op {
	case "is-a", "descendent-of", "is-not-a":
		if property != "concept" && property != "code" {
			break
		}
		descendants := cs.descendants(value)
		switch op {
		case "is-a":
			return func(code string) bool { return code == value || descendants[code] }, nil
		case "descendent-of":
			return func(code string) bool { return descendants[code] }, nil
		default:
			return func(code string) bool { return code != value && !descendants[code] }, nil
		}

	case "in", "not-in":
		wanted := make(map[string]bool)
		for _, v := range strings.Split(value, ",") {
			wanted[strings.TrimSpace(v)] = true
		}
		in := func(code string) bool { return wanted[cs.propertyValue(code, property)] }
		if op == "in" {
			return in, nil
		}
		return func(code string) bool { return !in(code) }, nil

	case "regex":
		re, err := regexp.Compile("^(?:" + value + ")$")
		if err != nil {
			return nil, &expansionError{msg: fmt.Sprintf("Invalid regex filter %q: %v", value, err)}
		}
		return func(code string) bool { return re.MatchString(cs.propertyValue(code, property)) }, nil

	case "=":
		return func(code string) bool { return cs.propertyValue(code, property) == value }, nil

	case "exists":
		want := value == "true"
		return func(code string) bool { return (cs.propertyValue(code, property) != "") == want }, nil
	}
	return nil, &expansionError{msg: fmt.Sprintf("Don't know how to handle op=%s on property %s", op, property)}
}

// descendants returns every code below start, excluding start itself.
func (cs *codeSystemData) descendants(start string) map[string]bool {
	out := make(map[string]bool)
	var walk func(code string)
	walk = func(code string) {
		for _, child := range cs.children[code] {
			if out[child] || child == start {
				continue
			}
			out[child] = true
			walk(child)
		}
	}
	walk(start)
	return out
}

// propertyValue returns the string form of a concept's property. code,
// concept and display are built in.
func (cs *codeSystemData) propertyValue(code, property string) string {
	entry, ok := cs.concepts[code]
	if !ok {
		return ""
	}
	switch property {
	case "code", "concept":
		return entry.code
	case "display":
		return entry.display
	}
	for _, p := range entry.properties {
		if p.PropertyName() != property {
			continue
		}
		switch v := p.(type) {
		case support.StringConceptProperty:
			return v.Value
		case support.CodingConceptProperty:
			return v.Code
		}
	}
	return ""
}
