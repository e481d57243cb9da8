package support

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	vs "github.com/gofhir/validationsupport"
)

func TestLookupCodeResultToParameters(t *testing.T) {
	fc := vs.NewFhirContext(vs.R4)
	res := NewLookupCodeResult("http://example.org/cs", "A")
	res.Found = true
	res.CodeSystemDisplayName = "Example"
	res.CodeDisplay = "Alpha"
	res.CodeIsAbstract = true
	res.Properties = []ConceptProperty{
		StringConceptProperty{Name: "abstract-alias", Value: "foo"},
		CodingConceptProperty{Name: "parent", System: "http://example.org/cs", Code: "ROOT", Display: "Root"},
		NewGroupConceptProperty("grp").AddSubProperty(StringConceptProperty{Name: "inner", Value: "x"}),
	}
	res.Designations = []ConceptDesignation{{Language: "de", UseSystem: "http://snomed.info/sct", UseCode: "900000000000013009", Value: "Alpha-de"}}

	t.Run("all properties", func(t *testing.T) {
		p, err := res.ToParameters(fc, nil)
		if err != nil {
			t.Fatal(err)
		}
		if p.Value("name") != "Example" {
			t.Errorf("name = %q", p.Value("name"))
		}
		if _, ok := p.Get("version"); ok {
			t.Error("blank version must not be serialized")
		}
		if p.Value("display") != "Alpha" {
			t.Errorf("display = %q", p.Value("display"))
		}
		if abs, ok := p.Bool("abstract"); !ok || !abs {
			t.Errorf("abstract = %v, %v", abs, ok)
		}
		props := p.GetAll("property")
		if len(props) != 3 {
			t.Fatalf("property count = %d, want 3", len(props))
		}

		code, _ := props[0].GetPart("code")
		value, _ := props[0].GetPart("value")
		if code.StringValue() != "abstract-alias" || value.StringValue() != "foo" {
			t.Errorf("first property = %s/%s", code.StringValue(), value.StringValue())
		}

		coding, _ := props[1].GetPart("value")
		if coding.ValueCoding == nil || coding.ValueCoding.Code != "ROOT" {
			t.Errorf("coding property value = %+v", coding.ValueCoding)
		}

		subs := props[2].Parts("subproperty")
		if len(subs) != 1 {
			t.Fatalf("subproperty count = %d", len(subs))
		}
		if c, _ := subs[0].GetPart("code"); c.StringValue() != "inner" {
			t.Errorf("subproperty code = %q", c.StringValue())
		}

		designations := p.GetAll("designation")
		if len(designations) != 1 {
			t.Fatalf("designations = %d", len(designations))
		}
		if v, _ := designations[0].GetPart("value"); v.StringValue() != "Alpha-de" {
			t.Errorf("designation value = %q", v.StringValue())
		}
	})

	t.Run("filtered properties", func(t *testing.T) {
		p, err := res.ToParameters(fc, []string{"parent"})
		if err != nil {
			t.Fatal(err)
		}
		props := p.GetAll("property")
		if len(props) != 1 {
			t.Fatalf("property count = %d, want 1", len(props))
		}
		if c, _ := props[0].GetPart("code"); c.StringValue() != "parent" {
			t.Errorf("code = %q", c.StringValue())
		}
	})

	t.Run("json round trip", func(t *testing.T) {
		p, err := res.ToParameters(fc, []string{"abstract-alias"})
		if err != nil {
			t.Fatal(err)
		}
		data, err := json.Marshal(p)
		if err != nil {
			t.Fatal(err)
		}
		parsed, err := ParseParameters(data)
		if err != nil {
			t.Fatal(err)
		}
		prop, ok := parsed.Get("property")
		if !ok {
			t.Fatal("property missing after round trip")
		}
		if v, _ := prop.GetPart("value"); v.StringValue() != "foo" {
			t.Errorf("value = %q, want foo", v.StringValue())
		}
	})
}

type unknownProperty struct{}

func (unknownProperty) PropertyName() string { return "weird" }
func (unknownProperty) Type() string         { return "weird" }
func (unknownProperty) conceptProperty()     {}

func TestLookupCodeResultUnknownPropertyType(t *testing.T) {
	res := NewLookupCodeResult("http://example.org/cs", "A")
	res.Found = true
	res.Properties = []ConceptProperty{unknownProperty{}}

	_, err := res.ToParameters(nil, nil)
	if !errors.Is(err, ErrUnknownPropertyType) {
		t.Fatalf("error = %v, want ErrUnknownPropertyType", err)
	}
}

func TestThrowNotFoundIfAppropriate(t *testing.T) {
	found := NewLookupCodeResult("http://loinc.org", "1234-5")
	found.Found = true
	if err := found.ThrowNotFoundIfAppropriate(); err != nil {
		t.Errorf("found result returned %v", err)
	}

	err := LookupCodeNotFound("http://loinc.org", "9999-9").ThrowNotFoundIfAppropriate()
	if !IsNotFound(err) {
		t.Fatalf("error = %v, want not found", err)
	}
	if want := "Unable to find code[9999-9] in system[http://loinc.org]"; err.Error() != want {
		t.Errorf("message = %q, want %q", err.Error(), want)
	}
}

func TestDeprecatedLookupAdapters(t *testing.T) {
	m := &fakeModule{name: "m", lookups: map[string]*LookupCodeResult{
		"http://example.org/cs|A": {SearchedForSystem: "http://example.org/cs", SearchedForCode: "A", Found: true},
	}}
	chain := NewChain(nil, WithModules(m))
	ctx := context.Background()

	res, err := LookupCodeSimple(ctx, m, chain.Context(), "http://example.org/cs", "A")
	if err != nil || !res.Found {
		t.Errorf("LookupCodeSimple() = %+v, %v", res, err)
	}
	res, err = chain.LookupCodeWithLanguage(ctx, "http://example.org/cs", "A", "de")
	if err != nil || !res.Found {
		t.Errorf("chain.LookupCodeWithLanguage() = %+v, %v", res, err)
	}
	res, err = chain.LookupCodeSimple(ctx, "http://example.org/cs", "B")
	if err != nil || res.Found {
		t.Errorf("chain.LookupCodeSimple(B) = %+v, %v", res, err)
	}
}
