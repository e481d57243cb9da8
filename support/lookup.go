package support

import (
	"context"
	"fmt"

	vs "github.com/gofhir/validationsupport"
)

// LookupCodeRequest is the single input of a code lookup.
type LookupCodeRequest struct {
	System          string
	Code            string
	DisplayLanguage string
	// PropertyNames restricts the properties a module needs to return.
	// Empty means all.
	PropertyNames []string
}

// LookupCodeResult is the outcome of a code lookup. When Found is false the
// descriptive fields are undefined and callers must not rely on them.
type LookupCodeResult struct {
	SearchedForSystem     string
	SearchedForCode       string
	Found                 bool
	CodeDisplay           string
	CodeSystemDisplayName string
	CodeSystemVersion     string
	CodeIsAbstract        bool
	Properties            []ConceptProperty
	Designations          []ConceptDesignation
	ErrorMessage          string
}

// NewLookupCodeResult returns an empty result for the searched-for code.
func NewLookupCodeResult(system, code string) *LookupCodeResult {
	return &LookupCodeResult{SearchedForSystem: system, SearchedForCode: code}
}

// LookupCodeNotFound returns a not-found result for the searched-for code.
func LookupCodeNotFound(system, code string) *LookupCodeResult {
	return &LookupCodeResult{SearchedForSystem: system, SearchedForCode: code, Found: false}
}

// ThrowNotFoundIfAppropriate returns a *NotFoundError when the code was not
// found and nil otherwise.
func (r *LookupCodeResult) ThrowNotFoundIfAppropriate() error {
	if r.Found {
		return nil
	}
	return &NotFoundError{
		Kind:       "Code",
		Identifier: r.SearchedForCode,
		Message:    fmt.Sprintf("Unable to find code[%s] in system[%s]", r.SearchedForCode, r.SearchedForSystem),
	}
}

// ToParameters serializes the result as a $lookup response. propertyNames
// restricts the serialized properties; nil or empty serializes all of them.
func (r *LookupCodeResult) ToParameters(_ *vs.FhirContext, propertyNames []string) (*Parameters, error) {
	p := NewParameters()
	if isNotBlank(r.CodeSystemDisplayName) {
		p.AddString("name", r.CodeSystemDisplayName)
	}
	if isNotBlank(r.CodeSystemVersion) {
		p.AddString("version", r.CodeSystemVersion)
	}
	p.AddString("display", r.CodeDisplay)
	p.AddBoolean("abstract", r.CodeIsAbstract)

	for _, prop := range FilterProperties(r.Properties, propertyNames) {
		param, err := propertyParameter("property", prop)
		if err != nil {
			return nil, err
		}
		p.Add(param)
	}

	for _, d := range r.Designations {
		p.Add(ParametersParameter{
			Name: "designation",
			Part: []ParametersParameter{
				CodeParam("language", d.Language),
				CodingParam("use", Coding{System: d.UseSystem, Code: d.UseCode, Display: d.UseDisplay}),
				StringParam("value", d.Value),
			},
		})
	}
	return p, nil
}

// LookupCodeWithLanguage looks up a code with a display language.
//
// Deprecated: build a LookupCodeRequest and call CodeLookup.LookupCode.
func LookupCodeWithLanguage(ctx context.Context, l CodeLookup, sc *Context, system, code, displayLanguage string) (*LookupCodeResult, error) {
	return l.LookupCode(ctx, sc, LookupCodeRequest{System: system, Code: code, DisplayLanguage: displayLanguage})
}

// LookupCodeSimple looks up a code by system and code only.
//
// Deprecated: build a LookupCodeRequest and call CodeLookup.LookupCode.
func LookupCodeSimple(ctx context.Context, l CodeLookup, sc *Context, system, code string) (*LookupCodeResult, error) {
	return LookupCodeWithLanguage(ctx, l, sc, system, code, "")
}
