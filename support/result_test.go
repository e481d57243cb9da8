package support

import (
	"testing"

	"github.com/gofhir/fhir/r4"

	vs "github.com/gofhir/validationsupport"
)

func TestCodeValidationResultIsOK(t *testing.T) {
	tests := []struct {
		name string
		code string
		want bool
	}{
		{"code set", "1234-5", true},
		{"empty", "", false},
		{"blank", "  \t", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &CodeValidationResult{Code: tt.code}
			if got := r.IsOK(); got != tt.want {
				t.Errorf("IsOK() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCodeValidationResultOKWithWarning(t *testing.T) {
	r := &CodeValidationResult{Code: "A", Severity: SeverityWarning, Message: "display mismatch"}
	if !r.IsOK() {
		t.Error("a result with a code is ok regardless of severity")
	}
	if r.SeverityCode() != "warning" {
		t.Errorf("SeverityCode() = %q", r.SeverityCode())
	}
}

func TestCodeValidationResultToParameters(t *testing.T) {
	tests := []struct {
		name      string
		result    *CodeValidationResult
		wantOK    bool
		wantNames []string
	}{
		{
			name:      "ok with display",
			result:    &CodeValidationResult{Code: "A", Display: "Alpha"},
			wantOK:    true,
			wantNames: []string{"result", "display"},
		},
		{
			name:      "failure with message",
			result:    &CodeValidationResult{Message: "Unknown code", Severity: SeverityError},
			wantOK:    false,
			wantNames: []string{"result", "message"},
		},
		{
			name:      "blank fields omitted",
			result:    &CodeValidationResult{Code: "A", Message: "  ", Display: "", SourceDetails: "local"},
			wantOK:    true,
			wantNames: []string{"result", "sourceDetails"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.result.ToParameters(vs.NewFhirContext(vs.R4))
			ok, found := p.Bool(ParamResult)
			if !found || ok != tt.wantOK {
				t.Errorf("result = %v, %v; want %v", ok, found, tt.wantOK)
			}
			if len(p.Parameter) != len(tt.wantNames) {
				t.Fatalf("parameters = %d, want %d", len(p.Parameter), len(tt.wantNames))
			}
			for i, name := range tt.wantNames {
				if p.Parameter[i].Name != name {
					t.Errorf("parameter[%d] = %s, want %s", i, p.Parameter[i].Name, name)
				}
			}
		})
	}
}

func TestSetSeverityCode(t *testing.T) {
	r := &CodeValidationResult{}
	if err := r.SetSeverityCode("Warning"); err != nil {
		t.Fatal(err)
	}
	if r.Severity != SeverityWarning {
		t.Errorf("Severity = %v", r.Severity)
	}
	if err := r.SetSeverityCode("bogus"); err == nil {
		t.Error("expected error for unknown severity")
	}
	if r.Severity != SeverityWarning {
		t.Error("failed parse must not change severity")
	}
}

func TestIssueSeverityNames(t *testing.T) {
	for sev, name := range map[IssueSeverity]string{
		SeverityFatal:       "fatal",
		SeverityError:       "error",
		SeverityWarning:     "warning",
		SeverityInformation: "information",
	} {
		if sev.String() != name {
			t.Errorf("String() = %q, want %q", sev.String(), name)
		}
		parsed, err := ParseIssueSeverity(sev.Name())
		if err != nil || parsed != sev {
			t.Errorf("ParseIssueSeverity(%q) = %v, %v", sev.Name(), parsed, err)
		}
	}
	var unset IssueSeverity
	if unset.String() != "" {
		t.Errorf("unset severity = %q", unset.String())
	}
}

func TestAsLookupCodeResult(t *testing.T) {
	ok := &CodeValidationResult{Code: "A", Display: "Alpha", CodeSystemName: "Example", CodeSystemVersion: "1.0"}
	got := ok.AsLookupCodeResult("http://example.org/cs", "A")
	if !got.Found || got.CodeDisplay != "Alpha" || got.CodeSystemVersion != "1.0" {
		t.Errorf("lookup = %+v", got)
	}

	failed := (&CodeValidationResult{Message: "nope"}).AsLookupCodeResult("http://example.org/cs", "Z")
	if failed.Found {
		t.Error("failed validation must convert to not found")
	}
	if failed.SearchedForCode != "Z" {
		t.Errorf("SearchedForCode = %q", failed.SearchedForCode)
	}
}

func TestCodeValidationIssueOutcome(t *testing.T) {
	issue := NewCodeValidationIssue("Unknown code", SeverityError, IssueCodeCodeInvalid, IssueCodingInvalidCode)
	r := (&CodeValidationResult{}).AddIssue(issue)

	out := r.OutcomeIssues("Observation.code")
	if len(out) != 1 {
		t.Fatalf("issues = %d", len(out))
	}
	if out[0].Severity != vs.SeverityError || out[0].Code != vs.IssueType("code-invalid") {
		t.Errorf("issue = %+v", out[0])
	}
	if len(out[0].Expression) != 1 || out[0].Expression[0] != "Observation.code" {
		t.Errorf("expression = %v", out[0].Expression)
	}
	if issue.Coding() != IssueCodingInvalidCode {
		t.Errorf("Coding() = %v", issue.Coding())
	}
}

func TestValueSetExpansionOutcome(t *testing.T) {
	ok := NewExpansionOutcome(&r4.ValueSet{})
	if !ok.IsSuccess() || ok.ErrorMessage() != "" {
		t.Errorf("success outcome = %+v", ok)
	}

	failed := NewExpansionError("Unable to expand", true)
	if failed.IsSuccess() || failed.ValueSet() != nil {
		t.Error("error outcome must not carry a ValueSet")
	}
	if failed.ErrorMessage() != "Unable to expand" || !failed.ErrorIsFromServer() {
		t.Errorf("error outcome = %+v", failed)
	}

	tests := []struct {
		name    string
		outcome *ValueSetExpansionOutcome
		want    string
	}{
		{"nil value set", NewExpansionOutcome(nil), "Expansion produced no ValueSet"},
		{"empty message", NewExpansionError("", false), "Unable to expand ValueSet"},
		{"blank message", NewExpansionError("  ", true), "Unable to expand ValueSet"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Exactly one side is set.
			if tt.outcome.IsSuccess() || tt.outcome.ValueSet() != nil {
				t.Error("outcome must not report success")
			}
			if got := tt.outcome.ErrorMessage(); got != tt.want {
				t.Errorf("ErrorMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpansionOptionsPage(t *testing.T) {
	tests := []struct {
		name       string
		opts       *ValueSetExpansionOptions
		n          int
		start, end int
	}{
		{"defaults", nil, 5, 0, 5},
		{"offset and count", &ValueSetExpansionOptions{Offset: 2, Count: 2}, 10, 2, 4},
		{"offset past end", &ValueSetExpansionOptions{Offset: 20, Count: 2}, 10, 10, 10},
		{"negative offset", &ValueSetExpansionOptions{Offset: -1}, 3, 0, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := tt.opts.Page(tt.n)
			if start != tt.start || end != tt.end {
				t.Errorf("Page(%d) = [%d, %d), want [%d, %d)", tt.n, start, end, tt.start, tt.end)
			}
		})
	}
}
