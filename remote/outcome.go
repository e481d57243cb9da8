package remote

import (
	"encoding/json"
	"strings"

	"github.com/gofhir/validationsupport/support"
)

// txIssueTypeSystem is the code system of OperationOutcome.issue.details
// codes in terminology responses.
const txIssueTypeSystem = "http://hl7.org/fhir/tools/CodeSystem/tx-issue-type"

type operationOutcome struct {
	ResourceType string         `json:"resourceType"`
	Issue        []outcomeIssue `json:"issue"`
}

type outcomeIssue struct {
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics,omitempty"`
	Details     *struct {
		Coding []support.Coding `json:"coding,omitempty"`
		Text   string           `json:"text,omitempty"`
	} `json:"details,omitempty"`
}

func (i outcomeIssue) message() string {
	if i.Details != nil && i.Details.Text != "" {
		return i.Details.Text
	}
	return i.Diagnostics
}

func (i outcomeIssue) coding() support.IssueCoding {
	if i.Details == nil {
		return support.IssueCodingOther
	}
	for _, c := range i.Details.Coding {
		if c.System != "" && c.System != txIssueTypeSystem {
			continue
		}
		switch support.IssueCoding(c.Code) {
		case support.IssueCodingVSInvalid, support.IssueCodingNotFound, support.IssueCodingNotInVS,
			support.IssueCodingInvalidCode, support.IssueCodingInvalidDisplay:
			return support.IssueCoding(c.Code)
		}
	}
	return support.IssueCodingOther
}

// validationIssue converts an OperationOutcome issue. Unknown severities map
// to error.
func (i outcomeIssue) validationIssue() support.CodeValidationIssue {
	sev, err := support.ParseIssueSeverity(i.Severity)
	if err != nil {
		sev = support.SeverityError
	}
	code := support.IssueCode(i.Code)
	if code == "" {
		code = support.IssueCodeOther
	}
	return support.NewCodeValidationIssue(i.message(), sev, code, i.coding())
}

// outcomeDiagnostics joins the issue messages of an OperationOutcome body.
// Anything that is not an OperationOutcome yields its first line.
func outcomeDiagnostics(data []byte) string {
	var oo operationOutcome
	if err := json.Unmarshal(data, &oo); err == nil && oo.ResourceType == "OperationOutcome" {
		msgs := make([]string, 0, len(oo.Issue))
		for _, issue := range oo.Issue {
			if m := issue.message(); m != "" {
				msgs = append(msgs, m)
			}
		}
		return strings.Join(msgs, "; ")
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(data)), "\n")
	if len(line) > 200 {
		line = line[:200]
	}
	return line
}
