package support

import (
	"fmt"
	"strings"

	"github.com/gofhir/fhir/r4"

	vs "github.com/gofhir/validationsupport"
)

// IssueSeverity is the severity of a code validation outcome. The zero value
// means unset.
type IssueSeverity int

const (
	// SeverityFatal means no further checking could be performed.
	SeverityFatal IssueSeverity = iota + 1
	// SeverityError is important enough to fail the action.
	SeverityError
	// SeverityWarning may cause the action to be performed suboptimally.
	SeverityWarning
	// SeverityInformation has no bearing on success.
	SeverityInformation
)

var severityNames = map[IssueSeverity]string{
	SeverityFatal:       "FATAL",
	SeverityError:       "ERROR",
	SeverityWarning:     "WARNING",
	SeverityInformation: "INFORMATION",
}

// Name returns the upper-case enum name, e.g. "WARNING".
func (s IssueSeverity) Name() string {
	return severityNames[s]
}

// String returns the lower-case FHIR code, e.g. "warning", or "" when unset.
func (s IssueSeverity) String() string {
	return strings.ToLower(severityNames[s])
}

// ParseIssueSeverity parses a severity name, ignoring case.
func ParseIssueSeverity(s string) (IssueSeverity, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for sev, name := range severityNames {
		if name == upper {
			return sev, nil
		}
	}
	return 0, fmt.Errorf("unknown issue severity %q", s)
}

// IssueCode is the OperationOutcome issue type of a CodeValidationIssue.
type IssueCode string

const (
	IssueCodeNotFound    IssueCode = "not-found"
	IssueCodeCodeInvalid IssueCode = "code-invalid"
	IssueCodeInvalid     IssueCode = "invalid"
	IssueCodeOther       IssueCode = "processing"
)

// IssueCoding is the detailed terminology issue type of a CodeValidationIssue.
type IssueCoding string

const (
	IssueCodingVSInvalid      IssueCoding = "vs-invalid"
	IssueCodingNotFound       IssueCoding = "not-found"
	IssueCodingNotInVS        IssueCoding = "not-in-vs"
	IssueCodingInvalidCode    IssueCoding = "invalid-code"
	IssueCodingInvalidDisplay IssueCoding = "invalid-display"
	IssueCodingOther          IssueCoding = "other"
)

// CodeValidationIssue is one diagnostic attached to a validation result.
// It is immutable.
type CodeValidationIssue struct {
	message  string
	severity IssueSeverity
	code     IssueCode
	coding   IssueCoding
}

// NewCodeValidationIssue builds an issue.
func NewCodeValidationIssue(message string, severity IssueSeverity, code IssueCode, coding IssueCoding) CodeValidationIssue {
	return CodeValidationIssue{message: message, severity: severity, code: code, coding: coding}
}

func (i CodeValidationIssue) Message() string         { return i.message }
func (i CodeValidationIssue) Severity() IssueSeverity { return i.severity }
func (i CodeValidationIssue) Code() IssueCode         { return i.code }
func (i CodeValidationIssue) Coding() IssueCoding     { return i.coding }

// OutcomeIssue converts the issue to an OperationOutcome issue.
func (i CodeValidationIssue) OutcomeIssue(path string) vs.Issue {
	issue := vs.Issue{
		Severity:    vs.IssueSeverity(i.severity.String()),
		Code:        vs.IssueType(i.code),
		Diagnostics: i.message,
	}
	if issue.Severity == "" {
		issue.Severity = vs.SeverityError
	}
	if path != "" {
		issue.Expression = []string{path}
	}
	return issue
}

// Result part names of $validate-code.
const (
	ParamResult        = "result"
	ParamMessage       = "message"
	ParamDisplay       = "display"
	ParamSourceDetails = "sourceDetails"
)

// CodeValidationResult is the outcome of validating a code. A result is ok
// exactly when Code is non-blank; Severity may be set on an ok result.
type CodeValidationResult struct {
	Code              string
	Display           string
	Message           string
	Severity          IssueSeverity
	CodeSystemName    string
	CodeSystemVersion string
	// SourceDetails describes where the validation information came from.
	SourceDetails string
	Properties    []ConceptProperty
	Issues        []CodeValidationIssue
}

// IsOK reports whether the code was found valid.
func (r *CodeValidationResult) IsOK() bool {
	return strings.TrimSpace(r.Code) != ""
}

// AddIssue appends an issue and returns the result.
func (r *CodeValidationResult) AddIssue(issue CodeValidationIssue) *CodeValidationResult {
	r.Issues = append(r.Issues, issue)
	return r
}

// SeverityCode returns the lower-case severity, or "" when unset.
func (r *CodeValidationResult) SeverityCode() string {
	return r.Severity.String()
}

// SetSeverityCode sets the severity from its name, ignoring case.
func (r *CodeValidationResult) SetSeverityCode(code string) error {
	sev, err := ParseIssueSeverity(code)
	if err != nil {
		return err
	}
	r.Severity = sev
	return nil
}

// AsLookupCodeResult converts the result into a lookup result for the given
// searched-for system and code.
func (r *CodeValidationResult) AsLookupCodeResult(system, code string) *LookupCodeResult {
	out := NewLookupCodeResult(system, code)
	if r.IsOK() {
		out.Found = true
		out.CodeDisplay = r.Display
		out.CodeSystemDisplayName = r.CodeSystemName
		out.CodeSystemVersion = r.CodeSystemVersion
	}
	return out
}

// ToParameters serializes the result as a $validate-code response.
func (r *CodeValidationResult) ToParameters(_ *vs.FhirContext) *Parameters {
	p := NewParameters()
	p.AddBoolean(ParamResult, r.IsOK())
	if isNotBlank(r.Message) {
		p.AddString(ParamMessage, r.Message)
	}
	if isNotBlank(r.Display) {
		p.AddString(ParamDisplay, r.Display)
	}
	if isNotBlank(r.SourceDetails) {
		p.AddString(ParamSourceDetails, r.SourceDetails)
	}
	return p
}

// OutcomeIssues converts the result's issues to OperationOutcome issues.
func (r *CodeValidationResult) OutcomeIssues(path string) []vs.Issue {
	out := make([]vs.Issue, 0, len(r.Issues))
	for _, i := range r.Issues {
		out = append(out, i.OutcomeIssue(path))
	}
	return out
}

// ValueSetExpansionOutcome holds either an expanded ValueSet or an error
// message, never both.
type ValueSetExpansionOutcome struct {
	valueSet          *r4.ValueSet
	err               string
	errorIsFromServer bool
}

// Messages used when an outcome would otherwise carry neither side.
const (
	msgNoExpansion     = "Expansion produced no ValueSet"
	msgExpansionFailed = "Unable to expand ValueSet"
)

// NewExpansionOutcome wraps a successful expansion. A nil ValueSet yields a
// failed outcome.
func NewExpansionOutcome(valueSet *r4.ValueSet) *ValueSetExpansionOutcome {
	if valueSet == nil {
		return &ValueSetExpansionOutcome{err: msgNoExpansion}
	}
	return &ValueSetExpansionOutcome{valueSet: valueSet}
}

// NewExpansionError wraps a failed expansion. A blank message is replaced
// by a generic one.
func NewExpansionError(message string, fromServer bool) *ValueSetExpansionOutcome {
	if !isNotBlank(message) {
		message = msgExpansionFailed
	}
	return &ValueSetExpansionOutcome{err: message, errorIsFromServer: fromServer}
}

// ValueSet returns the expanded ValueSet, or nil on failure.
func (o *ValueSetExpansionOutcome) ValueSet() *r4.ValueSet { return o.valueSet }

// ErrorMessage returns the failure message, or "" on success. It is not
// named Error so the outcome never satisfies the error interface.
func (o *ValueSetExpansionOutcome) ErrorMessage() string { return o.err }

// IsSuccess reports whether the outcome holds a ValueSet.
func (o *ValueSetExpansionOutcome) IsSuccess() bool { return o.valueSet != nil }

// ErrorIsFromServer reports whether a remote server produced the failure.
func (o *ValueSetExpansionOutcome) ErrorIsFromServer() bool { return o.errorIsFromServer }

func isNotBlank(s string) bool {
	return strings.TrimSpace(s) != ""
}
