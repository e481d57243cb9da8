package validationsupport

// IssueSeverity represents the severity of an OperationOutcome issue.
type IssueSeverity string

const (
	SeverityFatal       IssueSeverity = "fatal"
	SeverityError       IssueSeverity = "error"
	SeverityWarning     IssueSeverity = "warning"
	SeverityInformation IssueSeverity = "information"
)

// IssueType represents OperationOutcome.issue.code.
type IssueType string

const (
	IssueTypeInvalid       IssueType = "invalid"
	IssueTypeProcessing    IssueType = "processing"
	IssueTypeNotFound      IssueType = "not-found"
	IssueTypeCodeInvalid   IssueType = "code-invalid"
	IssueTypeNotSupported  IssueType = "not-supported"
	IssueTypeException     IssueType = "exception"
	IssueTypeTimeout       IssueType = "timeout"
	IssueTypeInformational IssueType = "informational"
)

// Issue represents a single OperationOutcome issue.
type Issue struct {
	Severity IssueSeverity `json:"severity"`
	Code     IssueType     `json:"code"`

	// Diagnostics contains human-readable details about the issue
	Diagnostics string `json:"diagnostics,omitempty"`

	// Expression contains FHIRPath expression(s) to the element(s) in error
	Expression []string `json:"expression,omitempty"`
}

// IsError returns true if this is an error or fatal issue.
func (i Issue) IsError() bool {
	return i.Severity == SeverityError || i.Severity == SeverityFatal
}

// IsWarning returns true if this is a warning.
func (i Issue) IsWarning() bool {
	return i.Severity == SeverityWarning
}

// String returns a human-readable representation of the issue.
func (i Issue) String() string {
	path := ""
	if len(i.Expression) > 0 {
		path = " at " + i.Expression[0]
	}
	return string(i.Severity) + ": " + i.Diagnostics + path
}

// ErrorIssue builds an error issue located at path (may be empty).
func ErrorIssue(code IssueType, diagnostics, path string) Issue {
	return newIssue(SeverityError, code, diagnostics, path)
}

// WarningIssue builds a warning issue located at path (may be empty).
func WarningIssue(code IssueType, diagnostics, path string) Issue {
	return newIssue(SeverityWarning, code, diagnostics, path)
}

// InfoIssue builds an informational issue located at path (may be empty).
func InfoIssue(code IssueType, diagnostics, path string) Issue {
	return newIssue(SeverityInformation, code, diagnostics, path)
}

func newIssue(severity IssueSeverity, code IssueType, diagnostics, path string) Issue {
	issue := Issue{Severity: severity, Code: code, Diagnostics: diagnostics}
	if path != "" {
		issue.Expression = []string{path}
	}
	return issue
}

// HasErrors reports whether any issue is an error or fatal.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.IsError() {
			return true
		}
	}
	return false
}

// OperationOutcome is the FHIR OperationOutcome JSON shape.
type OperationOutcome struct {
	ResourceType string  `json:"resourceType"`
	Issue        []Issue `json:"issue"`
}

// NewOperationOutcome wraps issues in an OperationOutcome. An empty list
// yields a single informational "All OK" issue, as FHIR requires one.
func NewOperationOutcome(issues []Issue) *OperationOutcome {
	if len(issues) == 0 {
		issues = []Issue{InfoIssue(IssueTypeInformational, "All OK", "")}
	}
	return &OperationOutcome{ResourceType: "OperationOutcome", Issue: issues}
}
