package terminology

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gofhir/fhir/r4"
	"github.com/rs/zerolog"

	vs "github.com/gofhir/validationsupport"
	"github.com/gofhir/validationsupport/support"
)

// InMemorySupport is a validation support module backed by locally loaded
// CodeSystems and ValueSets. It fetches, validates, looks up and expands
// without any network access.
type InMemorySupport struct {
	fc     *vs.FhirContext
	logger zerolog.Logger

	mu          sync.RWMutex
	valueSets   map[string]*r4.ValueSet
	codeSystems map[string]*codeSystemData
}

// codeSystemData is an indexed CodeSystem.
type codeSystemData struct {
	resource *r4.CodeSystem
	url      string
	name     string
	version  string
	// order lists codes in definition order.
	order    []string
	concepts map[string]*conceptEntry
	parents  map[string][]string // code -> parent codes
	children map[string][]string // code -> child codes
}

// conceptEntry is one concept of a CodeSystem.
type conceptEntry struct {
	code         string
	display      string
	abstract     bool
	properties   []support.ConceptProperty
	designations []support.ConceptDesignation
}

// Option configures an InMemorySupport.
type Option func(*options)

type options struct {
	common bool
	logger zerolog.Logger
}

// WithoutCommonCodeSystems skips the built-in code systems.
func WithoutCommonCodeSystems() Option {
	return func(o *options) { o.common = false }
}

// WithLogger sets the module logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// NewInMemorySupport creates an in-memory module for a FHIR version. Common
// code systems are loaded unless WithoutCommonCodeSystems is given.
func NewInMemorySupport(version vs.FHIRVersion, opts ...Option) *InMemorySupport {
	o := options{common: true, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	s := &InMemorySupport{
		fc:          vs.NewFhirContext(version),
		logger:      o.logger,
		valueSets:   make(map[string]*r4.ValueSet),
		codeSystems: make(map[string]*codeSystemData),
	}
	if o.common {
		s.loadCommonCodeSystems()
	}
	return s
}

// Name implements support.Module.
func (s *InMemorySupport) Name() string {
	return "InMemoryTerminologySupport(" + s.fc.Version().String() + ")"
}

// AddValueSet stores a ValueSet, replacing any with the same URL.
func (s *InMemorySupport) AddValueSet(valueSet *r4.ValueSet) error {
	if valueSet == nil || valueSet.Url == nil || *valueSet.Url == "" {
		return fmt.Errorf("valueset is nil or has no URL")
	}
	s.mu.Lock()
	s.valueSets[*valueSet.Url] = valueSet
	s.mu.Unlock()
	return nil
}

// AddCodeSystem indexes and stores a CodeSystem, replacing any with the same URL.
func (s *InMemorySupport) AddCodeSystem(cs *r4.CodeSystem) error {
	if cs == nil || cs.Url == nil || *cs.Url == "" {
		return fmt.Errorf("codesystem is nil or has no URL")
	}
	data := indexCodeSystem(cs)
	s.mu.Lock()
	s.codeSystems[data.url] = data
	s.mu.Unlock()
	return nil
}

// CountValueSets returns the number of loaded ValueSets.
func (s *InMemorySupport) CountValueSets() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.valueSets)
}

// CountCodeSystems returns the number of loaded CodeSystems.
func (s *InMemorySupport) CountCodeSystems() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.codeSystems)
}

// FetchValueSet implements support.ValueSetFetcher.
func (s *InMemorySupport) FetchValueSet(_ context.Context, url string) (*r4.ValueSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valueSets[stripVersionFromURL(url)], nil
}

// FetchCodeSystem implements support.CodeSystemFetcher.
func (s *InMemorySupport) FetchCodeSystem(_ context.Context, system string) (*r4.CodeSystem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cs, ok := s.codeSystems[stripVersionFromURL(system)]; ok {
		return cs.resource, nil
	}
	return nil, nil
}

// FetchAllConformanceResources implements support.ConformanceResourceLister.
// CodeSystems come first, each group sorted by URL.
func (s *InMemorySupport) FetchAllConformanceResources(_ context.Context) ([]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	csURLs := make([]string, 0, len(s.codeSystems))
	for url := range s.codeSystems {
		csURLs = append(csURLs, url)
	}
	sort.Strings(csURLs)
	vsURLs := make([]string, 0, len(s.valueSets))
	for url := range s.valueSets {
		vsURLs = append(vsURLs, url)
	}
	sort.Strings(vsURLs)

	out := make([]any, 0, len(csURLs)+len(vsURLs))
	for _, url := range csURLs {
		out = append(out, s.codeSystems[url].resource)
	}
	for _, url := range vsURLs {
		out = append(out, s.valueSets[url])
	}
	return out, nil
}

// IsCodeSystemSupported implements support.CodeSystemSupporter.
func (s *InMemorySupport) IsCodeSystemSupported(_ context.Context, _ *support.Context, system string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.codeSystems[stripVersionFromURL(system)]
	return ok
}

// IsValueSetSupported implements support.ValueSetSupporter.
func (s *InMemorySupport) IsValueSetSupported(_ context.Context, _ *support.Context, url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.valueSets[stripVersionFromURL(url)]
	return ok
}

// ValidateCode implements support.CodeValidator. With a ValueSet URL the
// ValueSet is resolved through the chain; otherwise the code is checked
// against its CodeSystem. Unknown systems and ValueSets yield no opinion.
func (s *InMemorySupport) ValidateCode(ctx context.Context, sc *support.Context, opts support.ConceptValidationOptions, system, code, display, valueSetURL string) (*support.CodeValidationResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if strings.TrimSpace(code) == "" {
		return failure("No code provided", support.IssueCodeInvalid, support.IssueCodingInvalidCode), nil
	}

	if valueSetURL != "" {
		valueSet, err := s.resolveValueSet(ctx, sc, valueSetURL)
		if err != nil || valueSet == nil {
			return nil, err
		}
		return s.ValidateCodeInValueSet(ctx, sc, opts, system, code, display, valueSet)
	}

	if system == "" {
		return nil, nil
	}

	cs, err := s.resolveCodeSystem(ctx, sc, system)
	if err != nil || cs == nil {
		return nil, err
	}
	entry, ok := cs.concepts[code]
	if !ok {
		msg := fmt.Sprintf("Unknown code '%s#%s'", system, code)
		return failure(msg, support.IssueCodeCodeInvalid, support.IssueCodingInvalidCode), nil
	}
	res := &support.CodeValidationResult{
		Code:              entry.code,
		Display:           entry.display,
		CodeSystemName:    cs.name,
		CodeSystemVersion: cs.version,
		SourceDetails:     "Code was validated against in-memory CodeSystem " + cs.url,
	}
	checkDisplay(res, opts, system, code, display, entry.displays())
	return res, nil
}

// ValidateCodeInValueSet implements support.ValueSetCodeValidator. A ValueSet
// that cannot be expanded locally yields no opinion.
func (s *InMemorySupport) ValidateCodeInValueSet(ctx context.Context, sc *support.Context, opts support.ConceptValidationOptions, system, code, display string, valueSet *r4.ValueSet) (*support.CodeValidationResult, error) {
	if valueSet == nil {
		return nil, nil
	}
	url := deref(valueSet.Url)

	codes, err := s.expandCodes(ctx, sc, valueSet, &support.ValueSetExpansionOptions{FailOnMissingCodeSystem: true}, map[string]bool{})
	if err != nil {
		var ee *expansionError
		if asExpansionError(err, &ee) {
			s.logger.Debug().Str("valueSet", url).Err(err).Msg("cannot expand in memory")
			return nil, nil
		}
		return nil, err
	}

	inferSystem := system == "" || opts.InferSystem
	for _, c := range codes.items {
		if c.code != code {
			continue
		}
		if !inferSystem && c.system != system {
			continue
		}
		res := &support.CodeValidationResult{
			Code:          c.code,
			Display:       c.display,
			SourceDetails: "Code was validated against in-memory expansion of ValueSet " + url,
		}
		if cs := s.localCodeSystem(c.system); cs != nil {
			res.CodeSystemName = cs.name
			res.CodeSystemVersion = cs.version
		}
		checkDisplay(res, opts, c.system, c.code, display, []string{c.display})
		return res, nil
	}

	msg := fmt.Sprintf("Unknown code '%s#%s' for in-memory expansion of ValueSet '%s'", system, code, url)
	return failure(msg, support.IssueCodeCodeInvalid, support.IssueCodingNotInVS), nil
}

// LookupCode implements support.CodeLookup.
func (s *InMemorySupport) LookupCode(ctx context.Context, sc *support.Context, req support.LookupCodeRequest) (*support.LookupCodeResult, error) {
	cs, err := s.resolveCodeSystem(ctx, sc, req.System)
	if err != nil || cs == nil {
		return nil, err
	}
	entry, ok := cs.concepts[req.Code]
	if !ok {
		res := support.LookupCodeNotFound(req.System, req.Code)
		res.ErrorMessage = fmt.Sprintf("Unable to find code[%s] in system[%s]", req.Code, req.System)
		return res, nil
	}

	res := support.NewLookupCodeResult(req.System, req.Code)
	res.Found = true
	res.CodeDisplay = entry.display
	res.CodeSystemDisplayName = cs.name
	res.CodeSystemVersion = cs.version
	res.CodeIsAbstract = entry.abstract
	res.Designations = entry.designations

	if req.DisplayLanguage != "" {
		for _, d := range entry.designations {
			if strings.EqualFold(d.Language, req.DisplayLanguage) && d.Value != "" {
				res.CodeDisplay = d.Value
				break
			}
		}
	}

	props := append([]support.ConceptProperty(nil), entry.properties...)
	for _, parent := range cs.parents[req.Code] {
		props = append(props, cs.codingProperty("parent", parent))
	}
	for _, child := range cs.children[req.Code] {
		props = append(props, cs.codingProperty("child", child))
	}
	res.Properties = support.FilterProperties(props, req.PropertyNames)
	return res, nil
}

// resolveValueSet prefers the local copy and falls back to the chain.
func (s *InMemorySupport) resolveValueSet(ctx context.Context, sc *support.Context, url string) (*r4.ValueSet, error) {
	s.mu.RLock()
	valueSet := s.valueSets[stripVersionFromURL(url)]
	s.mu.RUnlock()
	if valueSet != nil || sc == nil {
		return valueSet, nil
	}
	return sc.Root().FetchValueSet(ctx, url)
}

// resolveCodeSystem prefers the local index and falls back to indexing a
// CodeSystem fetched through the chain.
func (s *InMemorySupport) resolveCodeSystem(ctx context.Context, sc *support.Context, system string) (*codeSystemData, error) {
	if cs := s.localCodeSystem(system); cs != nil {
		return cs, nil
	}
	if sc == nil || system == "" {
		return nil, nil
	}
	resource, err := sc.Root().FetchCodeSystem(ctx, system)
	if err != nil || resource == nil {
		return nil, err
	}
	return indexCodeSystem(resource), nil
}

func (s *InMemorySupport) localCodeSystem(system string) *codeSystemData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.codeSystems[stripVersionFromURL(system)]
}

func failure(message string, code support.IssueCode, coding support.IssueCoding) *support.CodeValidationResult {
	res := &support.CodeValidationResult{Message: message, Severity: support.SeverityError}
	return res.AddIssue(support.NewCodeValidationIssue(message, support.SeverityError, code, coding))
}

// checkDisplay downgrades a valid result to a warning when the supplied
// display matches none of the known ones.
func checkDisplay(res *support.CodeValidationResult, opts support.ConceptValidationOptions, system, code, display string, known []string) {
	if !opts.ValidateDisplay || display == "" {
		return
	}
	for _, k := range known {
		if strings.EqualFold(k, display) {
			return
		}
	}
	expected := ""
	if len(known) > 0 {
		expected = known[0]
	}
	msg := fmt.Sprintf("Concept Display \"%s\" does not match expected \"%s\" for '%s#%s'", display, expected, system, code)
	res.Message = msg
	res.Severity = support.SeverityWarning
	res.AddIssue(support.NewCodeValidationIssue(msg, support.SeverityWarning, support.IssueCodeInvalid, support.IssueCodingInvalidDisplay))
}

func (e *conceptEntry) displays() []string {
	out := []string{e.display}
	for _, d := range e.designations {
		if d.Value != "" {
			out = append(out, d.Value)
		}
	}
	return out
}

func (cs *codeSystemData) codingProperty(name, code string) support.ConceptProperty {
	p := support.CodingConceptProperty{Name: name, System: cs.url, Code: code}
	if e, ok := cs.concepts[code]; ok {
		p.Display = e.display
	}
	return p
}

// indexCodeSystem builds the lookup index of a CodeSystem. Hierarchy comes
// from nested concepts and from subsumedBy/parent properties.
func indexCodeSystem(cs *r4.CodeSystem) *codeSystemData {
	data := &codeSystemData{
		resource: cs,
		url:      deref(cs.Url),
		name:     deref(cs.Name),
		version:  deref(cs.Version),
		concepts: make(map[string]*conceptEntry),
		parents:  make(map[string][]string),
		children: make(map[string][]string),
	}
	data.addConcepts(cs.Concept, "")
	for code, parents := range data.parents {
		for _, parent := range parents {
			data.children[parent] = append(data.children[parent], code)
		}
	}
	for parent := range data.children {
		sort.Strings(data.children[parent])
	}
	return data
}

func (cs *codeSystemData) addConcepts(concepts []r4.CodeSystemConcept, parent string) {
	for i := range concepts {
		concept := &concepts[i]
		if concept.Code == nil {
			continue
		}
		code := *concept.Code
		entry := &conceptEntry{code: code, display: deref(concept.Display)}

		for _, prop := range concept.Property {
			name := deref(prop.Code)
			switch {
			case (name == "subsumedBy" || name == "parent") && prop.ValueCode != nil:
				cs.parents[code] = appendUnique(cs.parents[code], *prop.ValueCode)
				continue
			case (name == "notSelectable" || name == "abstract") && prop.ValueBoolean != nil:
				entry.abstract = *prop.ValueBoolean
			}
			if p := conceptProperty(name, prop); p != nil {
				entry.properties = append(entry.properties, p)
			}
		}
		for _, d := range concept.Designation {
			designation := support.ConceptDesignation{Language: deref(d.Language), Value: deref(d.Value)}
			if d.Use != nil {
				designation.UseSystem = deref(d.Use.System)
				designation.UseCode = deref(d.Use.Code)
				designation.UseDisplay = deref(d.Use.Display)
			}
			entry.designations = append(entry.designations, designation)
		}

		if parent != "" {
			cs.parents[code] = appendUnique(cs.parents[code], parent)
		}
		if _, seen := cs.concepts[code]; !seen {
			cs.order = append(cs.order, code)
		}
		cs.concepts[code] = entry
		cs.addConcepts(concept.Concept, code)
	}
}

func conceptProperty(name string, prop r4.CodeSystemConceptProperty) support.ConceptProperty {
	switch {
	case prop.ValueString != nil:
		return support.StringConceptProperty{Name: name, Value: *prop.ValueString}
	case prop.ValueCode != nil:
		return support.StringConceptProperty{Name: name, Value: *prop.ValueCode}
	case prop.ValueCoding != nil:
		c := support.CodingFromR4(prop.ValueCoding)
		return support.CodingConceptProperty{Name: name, System: c.System, Code: c.Code, Display: c.Display}
	case prop.ValueBoolean != nil:
		return support.StringConceptProperty{Name: name, Value: strconv.FormatBool(*prop.ValueBoolean)}
	}
	return nil
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptr(s string) *string {
	return &s
}

// stripVersionFromURL removes the version suffix from a canonical URL, e.g.
// "http://hl7.org/fhir/ValueSet/request-status|4.0.1".
func stripVersionFromURL(url string) string {
	if idx := strings.LastIndex(url, "|"); idx != -1 {
		return url[:idx]
	}
	return url
}

var (
	_ support.ValueSetFetcher           = (*InMemorySupport)(nil)
	_ support.CodeSystemFetcher         = (*InMemorySupport)(nil)
	_ support.ConformanceResourceLister = (*InMemorySupport)(nil)
	_ support.CodeSystemSupporter       = (*InMemorySupport)(nil)
	_ support.ValueSetSupporter         = (*InMemorySupport)(nil)
	_ support.CodeValidator             = (*InMemorySupport)(nil)
	_ support.ValueSetCodeValidator     = (*InMemorySupport)(nil)
	_ support.CodeLookup                = (*InMemorySupport)(nil)
	_ support.ValueSetExpander          = (*InMemorySupport)(nil)
)
