package support

import (
	"context"
	"testing"
)

func TestValidateCodingsWithPolicy(t *testing.T) {
	const valueSet = "http://example.org/vs"
	m := &fakeModule{name: "m", validations: map[string]*CodeValidationResult{
		"http://example.org/cs|good|" + valueSet: {Code: "good"},
		"http://example.org/cs|bad|" + valueSet:  {Message: "not in value set", Severity: SeverityError},
	}}
	chain := NewChain(nil, WithModules(m))
	good := Coding{System: "http://example.org/cs", Code: "good"}
	bad := Coding{System: "http://example.org/cs", Code: "bad"}
	unknown := Coding{System: "http://example.org/other", Code: "x"}

	tests := []struct {
		name    string
		codings []Coding
		logic   CodingsLogic
		want    bool
	}{
		{"AND all valid", []Coding{good, good}, CodingsLogicalAND, true},
		{"AND one invalid", []Coding{good, bad}, CodingsLogicalAND, false},
		{"AND unanswered counts as invalid", []Coding{good, unknown}, CodingsLogicalAND, false},
		{"OR one valid", []Coding{bad, good}, CodingsLogicalOR, true},
		{"OR none valid", []Coding{bad, unknown}, CodingsLogicalOR, false},
		{"AND empty", nil, CodingsLogicalAND, false},
		{"OR empty", nil, CodingsLogicalOR, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := chain.ValidateCodingsWithPolicy(context.Background(), ConceptValidationOptions{}, tt.codings, valueSet, tt.logic)
			if err != nil {
				t.Fatal(err)
			}
			if got.Valid != tt.want {
				t.Errorf("Valid = %v, want %v", got.Valid, tt.want)
			}
			if len(got.Results) != len(tt.codings) {
				t.Errorf("results = %d, want %d", len(got.Results), len(tt.codings))
			}
		})
	}
}

func TestValidateCodingsUsesChainPolicy(t *testing.T) {
	const valueSet = "http://example.org/vs"
	validations := map[string]*CodeValidationResult{
		"http://example.org/cs|good|" + valueSet: {Code: "good"},
	}
	codings := []Coding{{System: "http://example.org/cs", Code: "good"}, {System: "http://example.org/cs", Code: "bad"}}

	andChain := NewChain(nil, WithModules(&fakeModule{name: "and", validations: validations}))
	res, err := andChain.ValidateCodings(context.Background(), ConceptValidationOptions{}, codings, valueSet)
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid || res.Logic != CodingsLogicalAND {
		t.Errorf("default policy result = %v (%s), want invalid under AND", res.Valid, res.Logic)
	}
	if len(res.Issues()) == 0 {
		t.Error("failed combination should report issues")
	}

	orChain := NewChain(nil, WithModules(&fakeModule{name: "or", validations: validations, codingsOR: true}))
	res, err = orChain.ValidateCodings(context.Background(), ConceptValidationOptions{}, codings, valueSet)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.Logic != CodingsLogicalOR {
		t.Errorf("OR policy result = %v (%s), want valid", res.Valid, res.Logic)
	}
}
