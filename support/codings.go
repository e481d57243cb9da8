package support

import (
	"context"
	"fmt"
)

// CodingsLogic decides how the validity of several codings combines.
type CodingsLogic int

const (
	// CodingsLogicalAND requires every coding to be valid.
	CodingsLogicalAND CodingsLogic = iota
	// CodingsLogicalOR requires at least one valid coding.
	CodingsLogicalOR
)

func (l CodingsLogic) String() string {
	if l == CodingsLogicalOR {
		return "OR"
	}
	return "AND"
}

// CodingResult pairs a coding with the chain's answer for it. Result is nil
// when no module had an opinion.
type CodingResult struct {
	Coding Coding
	Result *CodeValidationResult
}

// Valid reports whether the coding validated.
func (r CodingResult) Valid() bool {
	return r.Result != nil && r.Result.IsOK()
}

// CodingsValidationResult is the combined outcome of validating several
// codings of one CodeableConcept.
type CodingsValidationResult struct {
	Valid   bool
	Logic   CodingsLogic
	Results []CodingResult
}

// Issues returns the issues of every coding, plus a summary issue when the
// combination failed.
func (r *CodingsValidationResult) Issues() []CodeValidationIssue {
	var out []CodeValidationIssue
	for _, cr := range r.Results {
		if cr.Result == nil {
			if !r.Valid {
				out = append(out, NewCodeValidationIssue(
					fmt.Sprintf("Unable to validate code %s#%s", cr.Coding.System, cr.Coding.Code),
					SeverityError, IssueCodeNotFound, IssueCodingNotFound))
			}
			continue
		}
		out = append(out, cr.Result.Issues...)
	}
	if !r.Valid && len(r.Results) > 1 {
		msg := "None of the codings are valid"
		if r.Logic == CodingsLogicalAND {
			msg = "Not all codings are valid"
		}
		out = append(out, NewCodeValidationIssue(msg, SeverityError, IssueCodeCodeInvalid, IssueCodingInvalidCode))
	}
	return out
}

// ValidateCodings validates every coding against valueSetURL and combines the
// answers using the chain's policy: OR when any module enables it, AND
// otherwise.
func (c *Chain) ValidateCodings(ctx context.Context, opts ConceptValidationOptions, codings []Coding, valueSetURL string) (*CodingsValidationResult, error) {
	logic := CodingsLogicalAND
	if c.IsEnabledValidationForCodingsLogicalAnd() {
		logic = CodingsLogicalOR
	}
	return c.ValidateCodingsWithPolicy(ctx, opts, codings, valueSetURL, logic)
}

// ValidateCodingsWithPolicy is ValidateCodings with an explicit policy. A
// coding no module answers counts as invalid. An empty codings slice is
// invalid under either policy.
func (c *Chain) ValidateCodingsWithPolicy(ctx context.Context, opts ConceptValidationOptions, codings []Coding, valueSetURL string, logic CodingsLogic) (*CodingsValidationResult, error) {
	out := &CodingsValidationResult{Logic: logic}
	valid := 0
	for _, coding := range codings {
		res, err := c.ValidateCode(ctx, opts, coding.System, coding.Code, coding.Display, valueSetURL)
		if err != nil {
			return nil, err
		}
		cr := CodingResult{Coding: coding, Result: res}
		if cr.Valid() {
			valid++
		}
		out.Results = append(out.Results, cr)
	}

	switch logic {
	case CodingsLogicalOR:
		out.Valid = valid > 0
	default:
		out.Valid = len(codings) > 0 && valid == len(codings)
	}
	c.logger.Debug().
		Str("logic", logic.String()).
		Int("codings", len(codings)).
		Int("valid", valid).
		Bool("result", out.Valid).
		Msg("validated codings")
	return out, nil
}
