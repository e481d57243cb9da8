// Package binding checks the terminology bindings of a resource's coded
// elements through a validation support chain.
//
// A Binding names a FHIRPath location, the bound ValueSet and its strength.
// The Checker extracts every code, Coding or CodeableConcept found at that
// location and validates it:
//
//	checker := binding.NewChecker(chain)
//	issues, err := checker.Check(ctx, resourceJSON, []binding.Binding{{
//		Path:     "Observation.status",
//		ValueSet: "http://hl7.org/fhir/ValueSet/observation-status",
//		Strength: binding.StrengthRequired,
//	}})
//
// Required bindings produce errors, extensible bindings produce warnings and
// preferred or example bindings are not checked.
package binding

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofhir/fhirpath"
	"github.com/gofhir/fhirpath/types"
	"github.com/rs/zerolog"

	vs "github.com/gofhir/validationsupport"
	"github.com/gofhir/validationsupport/cache"
	"github.com/gofhir/validationsupport/support"
)

// Strength is a binding strength.
type Strength string

const (
	StrengthRequired   Strength = "required"
	StrengthExtensible Strength = "extensible"
	StrengthPreferred  Strength = "preferred"
	StrengthExample    Strength = "example"
)

// DefaultExpressionCacheSize bounds the compiled expression cache.
const DefaultExpressionCacheSize = 256

// Binding binds the coded element at Path to ValueSet.
type Binding struct {
	// Path is a FHIRPath expression selecting the coded element(s).
	Path     string
	ValueSet string
	Strength Strength
	// Condition is an optional FHIRPath boolean. The binding is skipped
	// when it evaluates to false or empty.
	Condition string
}

// Checker validates bindings against a chain.
type Checker struct {
	chain           *support.Chain
	expressions     *cache.Cache[string, *fhirpath.Expression]
	logic           *support.CodingsLogic
	validateDisplay bool
	logger          zerolog.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithLogic fixes how the codings of a CodeableConcept combine. By default
// the chain's policy applies.
func WithLogic(logic support.CodingsLogic) Option {
	return func(c *Checker) { c.logic = &logic }
}

// WithDisplayValidation enables display checks on Codings.
func WithDisplayValidation(enabled bool) Option {
	return func(c *Checker) { c.validateDisplay = enabled }
}

// WithExpressionCacheSize sets the number of compiled expressions kept.
func WithExpressionCacheSize(n int) Option {
	return func(c *Checker) { c.expressions = cache.New[string, *fhirpath.Expression](n) }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Checker) { c.logger = logger }
}

// NewChecker creates a Checker over chain.
func NewChecker(chain *support.Chain, opts ...Option) *Checker {
	c := &Checker{
		chain:       chain,
		expressions: cache.New[string, *fhirpath.Expression](DefaultExpressionCacheSize),
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CacheStats reports the compiled expression cache statistics.
func (c *Checker) CacheStats() cache.Stats {
	return c.expressions.Stats()
}

// Check validates every binding against resource (FHIR JSON). Terminology
// failures become issues; only chain failures and invalid expressions are
// returned as errors.
func (c *Checker) Check(ctx context.Context, resource []byte, bindings []Binding) ([]vs.Issue, error) {
	var issues []vs.Issue
	for _, b := range bindings {
		if err := ctx.Err(); err != nil {
			return issues, err
		}
		found, err := c.checkBinding(ctx, resource, b)
		if err != nil {
			return issues, fmt.Errorf("binding %s: %w", b.Path, err)
		}
		issues = append(issues, found...)
	}
	return issues, nil
}

func (c *Checker) checkBinding(ctx context.Context, resource []byte, b Binding) ([]vs.Issue, error) {
	severity, ok := severityFor(b.Strength)
	if !ok || b.ValueSet == "" {
		return nil, nil
	}

	if b.Condition != "" {
		applies, err := c.evalBool(resource, b.Condition)
		if err != nil {
			return nil, err
		}
		if !applies {
			c.logger.Debug().Str("path", b.Path).Msg("binding condition not met")
			return nil, nil
		}
	}

	elements, err := c.extract(resource, b.Path)
	if err != nil {
		return nil, err
	}

	var issues []vs.Issue
	for _, el := range elements {
		res, err := c.validate(ctx, el.codings, b.ValueSet)
		if err != nil {
			return nil, err
		}
		issues = append(issues, toIssues(res, b, el, severity)...)
	}
	return issues, nil
}

func (c *Checker) validate(ctx context.Context, codings []support.Coding, valueSetURL string) (*support.CodingsValidationResult, error) {
	opts := support.ConceptValidationOptions{ValidateDisplay: c.validateDisplay}
	if c.logic != nil {
		return c.chain.ValidateCodingsWithPolicy(ctx, opts, codings, valueSetURL, *c.logic)
	}
	return c.chain.ValidateCodings(ctx, opts, codings, valueSetURL)
}

func severityFor(s Strength) (vs.IssueSeverity, bool) {
	switch Strength(strings.ToLower(string(s))) {
	case StrengthRequired:
		return vs.SeverityError, true
	case StrengthExtensible:
		return vs.SeverityWarning, true
	default:
		return "", false
	}
}

func toIssues(res *support.CodingsValidationResult, b Binding, el element, severity vs.IssueSeverity) []vs.Issue {
	if res.Valid {
		var out []vs.Issue
		// Display mismatches on otherwise valid codes stay warnings.
		for _, cr := range res.Results {
			if cr.Result == nil {
				continue
			}
			for _, issue := range cr.Result.Issues {
				if issue.Severity == support.SeverityWarning {
					out = append(out, vs.WarningIssue(vs.IssueTypeCodeInvalid, issue.Message, el.path))
				}
			}
		}
		return out
	}

	msg := fmt.Sprintf("The value provided (%s) is not in the value set '%s'", describe(el.codings), b.ValueSet)
	if len(el.codings) > 1 {
		msg = fmt.Sprintf("None of the codings provided (%s) are in the value set '%s'", describe(el.codings), b.ValueSet)
		if res.Logic == support.CodingsLogicalAND {
			msg = fmt.Sprintf("Not all codings provided (%s) are in the value set '%s'", describe(el.codings), b.ValueSet)
		}
	}
	out := []vs.Issue{{Severity: severity, Code: vs.IssueTypeCodeInvalid, Diagnostics: msg, Expression: []string{el.path}}}
	for _, issue := range res.Issues() {
		if issue.Message == "" {
			continue
		}
		out = append(out, vs.InfoIssue(vs.IssueTypeInformational, issue.Message, el.path))
	}
	return out
}

func describe(codings []support.Coding) string {
	parts := make([]string, 0, len(codings))
	for _, c := range codings {
		if c.System == "" {
			parts = append(parts, c.Code)
			continue
		}
		parts = append(parts, c.System+"#"+c.Code)
	}
	return strings.Join(parts, ", ")
}

// element is one coded value found at a binding path.
type element struct {
	path    string
	codings []support.Coding
}

// extract finds the coded elements at path. A CodeableConcept yields its
// codings, a Coding yields itself and a primitive yields a system-less code.
// CodeableConcepts with only text are skipped.
func (c *Checker) extract(resource []byte, path string) ([]element, error) {
	all, err := c.eval(resource, path)
	if err != nil {
		return nil, err
	}

	var out []element
	for i := range all {
		item := fmt.Sprintf("(%s)[%d]", path, i)
		loc := path
		if len(all) > 1 {
			loc = fmt.Sprintf("%s[%d]", path, i)
		}

		codings, err := c.eval(resource, item+".coding")
		if err != nil {
			return nil, err
		}
		if len(codings) > 0 {
			el := element{path: loc}
			for j := range codings {
				coding, err := c.coding(resource, fmt.Sprintf("%s.coding[%d]", item, j))
				if err != nil {
					return nil, err
				}
				if coding.Code != "" {
					el.codings = append(el.codings, coding)
				}
			}
			if len(el.codings) > 0 {
				out = append(out, el)
			}
			continue
		}

		coding, err := c.coding(resource, item)
		if err != nil {
			return nil, err
		}
		if coding.Code != "" {
			out = append(out, element{path: loc, codings: []support.Coding{coding}})
			continue
		}

		text, err := c.evalString(resource, item+".text")
		if err != nil {
			return nil, err
		}
		if text != "" {
			continue
		}
		if code := stringOf(all[i]); code != "" && !strings.HasPrefix(code, "{") {
			out = append(out, element{path: loc, codings: []support.Coding{{Code: code}}})
		}
	}
	return out, nil
}

func (c *Checker) coding(resource []byte, expr string) (support.Coding, error) {
	var coding support.Coding
	fields := []struct {
		name string
		dst  *string
	}{
		{"system", &coding.System},
		{"version", &coding.Version},
		{"code", &coding.Code},
		{"display", &coding.Display},
	}
	for _, f := range fields {
		v, err := c.evalString(resource, expr+"."+f.name)
		if err != nil {
			return coding, err
		}
		*f.dst = v
	}
	return coding, nil
}

func (c *Checker) eval(resource []byte, expr string) (types.Collection, error) {
	compiled, err := c.compile(expr)
	if err != nil {
		return nil, err
	}
	result, err := compiled.Evaluate(resource)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate FHIRPath expression '%s': %w", expr, err)
	}
	return result, nil
}

func (c *Checker) evalString(resource []byte, expr string) (string, error) {
	result, err := c.eval(resource, expr)
	if err != nil || len(result) == 0 {
		return "", err
	}
	return stringOf(result[0]), nil
}

func (c *Checker) evalBool(resource []byte, expr string) (bool, error) {
	result, err := c.eval(resource, expr)
	if err != nil {
		return false, err
	}
	if len(result) == 0 {
		return false, nil
	}
	if len(result) == 1 {
		if b, ok := result[0].(types.Boolean); ok {
			return b.Bool(), nil
		}
	}
	return true, nil
}

func (c *Checker) compile(expr string) (*fhirpath.Expression, error) {
	return c.expressions.GetOrLoad(expr, func() (*fhirpath.Expression, error) {
		compiled, err := fhirpath.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("failed to compile FHIRPath expression '%s': %w", expr, err)
		}
		return compiled, nil
	})
}

func stringOf(v any) string {
	return strings.TrimSpace(fmt.Sprint(v))
}
