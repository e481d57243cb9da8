package terminology

import (
	"context"
	"strings"
	"testing"

	"github.com/gofhir/fhir/r4"

	vs "github.com/gofhir/validationsupport"
	"github.com/gofhir/validationsupport/support"
)

const (
	animalsSystem = "http://example.org/cs/animals"
	genderSystem  = "http://hl7.org/fhir/administrative-gender"
	genderVS      = "http://hl7.org/fhir/ValueSet/administrative-gender"
)

const animalsJSON = `{
  "resourceType": "CodeSystem",
  "url": "http://example.org/cs/animals",
  "name": "Animals",
  "version": "1.0",
  "concept": [
    {
      "code": "animal",
      "display": "Animal",
      "property": [{"code": "notSelectable", "valueBoolean": true}],
      "concept": [
        {
          "code": "mammal",
          "display": "Mammal",
          "concept": [
            {
              "code": "dog",
              "display": "Dog",
              "designation": [{"language": "es", "value": "Perro"}],
              "property": [{"code": "legs", "valueString": "4"}]
            },
            {
              "code": "cat",
              "display": "Cat",
              "property": [{"code": "legs", "valueString": "4"}]
            }
          ]
        },
        {
          "code": "bird",
          "display": "Bird",
          "property": [{"code": "legs", "valueString": "2"}]
        }
      ]
    }
  ]
}`

func newAnimals(t *testing.T, opts ...Option) *InMemorySupport {
	t.Helper()
	s := NewInMemorySupport(vs.R4, append([]Option{WithoutCommonCodeSystems()}, opts...)...)
	if _, err := s.LoadFromJSON([]byte(animalsJSON)); err != nil {
		t.Fatalf("LoadFromJSON() error = %v", err)
	}
	return s
}

func loadValueSet(t *testing.T, s *InMemorySupport, data string) *r4.ValueSet {
	t.Helper()
	stats, err := s.LoadFromJSON([]byte(data))
	if err != nil {
		t.Fatalf("LoadFromJSON() error = %v", err)
	}
	if stats.ValueSetsLoaded != 1 {
		t.Fatalf("ValueSetsLoaded = %d; want 1", stats.ValueSetsLoaded)
	}
	var url string
	if i := strings.Index(data, `"url": "`); i >= 0 {
		rest := data[i+len(`"url": "`):]
		url = rest[:strings.Index(rest, `"`)]
	}
	v, _ := s.FetchValueSet(context.Background(), url)
	if v == nil {
		t.Fatalf("ValueSet %s not stored", url)
	}
	return v
}

func expandedCodes(t *testing.T, out *support.ValueSetExpansionOutcome) []string {
	t.Helper()
	if out == nil {
		t.Fatal("expected an expansion outcome")
	}
	if !out.IsSuccess() {
		t.Fatalf("expansion failed: %s", out.ErrorMessage())
	}
	var codes []string
	for _, c := range out.ValueSet().Expansion.Contains {
		codes = append(codes, deref(c.Code))
	}
	return codes
}

func TestNewInMemorySupport(t *testing.T) {
	t.Run("common code systems", func(t *testing.T) {
		s := NewInMemorySupport(vs.R4)
		if got := s.CountCodeSystems(); got != len(builtinSystems) {
			t.Errorf("CountCodeSystems() = %d; want %d", got, len(builtinSystems))
		}
		withVS := 0
		for _, b := range builtinSystems {
			if b.valueSet != "" {
				withVS++
			}
		}
		if got := s.CountValueSets(); got != withVS {
			t.Errorf("CountValueSets() = %d; want %d", got, withVS)
		}
	})

	t.Run("without common code systems", func(t *testing.T) {
		s := NewInMemorySupport(vs.R4, WithoutCommonCodeSystems())
		if s.CountCodeSystems() != 0 || s.CountValueSets() != 0 {
			t.Errorf("expected empty module, got %d code systems and %d value sets", s.CountCodeSystems(), s.CountValueSets())
		}
	})

	t.Run("name", func(t *testing.T) {
		if got := NewInMemorySupport(vs.R4).Name(); got != "InMemoryTerminologySupport(R4)" {
			t.Errorf("Name() = %q", got)
		}
	})
}

func TestInMemorySupport_Add(t *testing.T) {
	s := NewInMemorySupport(vs.R4, WithoutCommonCodeSystems())

	if err := s.AddValueSet(nil); err == nil {
		t.Error("expected error for nil ValueSet")
	}
	if err := s.AddValueSet(&r4.ValueSet{}); err == nil {
		t.Error("expected error for ValueSet without URL")
	}
	if err := s.AddCodeSystem(&r4.CodeSystem{}); err == nil {
		t.Error("expected error for CodeSystem without URL")
	}

	if err := s.AddCustomCodeSystem("http://example.org/cs/colors", [][2]string{{"red", "Red"}, {"blue", "Blue"}}); err != nil {
		t.Fatalf("AddCustomCodeSystem() error = %v", err)
	}
	if err := s.AddCustomValueSet("http://example.org/vs/warm", "http://example.org/cs/colors", [][2]string{{"red", ""}}); err != nil {
		t.Fatalf("AddCustomValueSet() error = %v", err)
	}

	ctx := context.Background()
	res, err := s.ValidateCode(ctx, nil, support.ConceptValidationOptions{}, "http://example.org/cs/colors", "red", "", "http://example.org/vs/warm")
	if err != nil {
		t.Fatalf("ValidateCode() error = %v", err)
	}
	if !res.IsOK() || res.Display != "Red" {
		t.Errorf("expected red to be valid with display Red, got %+v", res)
	}

	res, err = s.ValidateCode(ctx, nil, support.ConceptValidationOptions{}, "http://example.org/cs/colors", "blue", "", "http://example.org/vs/warm")
	if err != nil {
		t.Fatalf("ValidateCode() error = %v", err)
	}
	if res.IsOK() {
		t.Error("expected blue to be outside the warm ValueSet")
	}
}

func TestInMemorySupport_Fetch(t *testing.T) {
	s := newAnimals(t)
	loadValueSet(t, s, `{"resourceType": "ValueSet", "url": "http://example.org/vs/all", "compose": {"include": [{"system": "http://example.org/cs/animals"}]}}`)
	ctx := context.Background()

	cs, err := s.FetchCodeSystem(ctx, animalsSystem+"|1.0")
	if err != nil || cs == nil {
		t.Fatalf("FetchCodeSystem() = %v, %v", cs, err)
	}
	if deref(cs.Name) != "Animals" {
		t.Errorf("Name = %q", deref(cs.Name))
	}

	missing, err := s.FetchCodeSystem(ctx, "http://example.org/cs/none")
	if err != nil || missing != nil {
		t.Errorf("expected nil for unknown CodeSystem, got %v, %v", missing, err)
	}

	all, err := s.FetchAllConformanceResources(ctx)
	if err != nil {
		t.Fatalf("FetchAllConformanceResources() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d resources; want 2", len(all))
	}
	if _, ok := all[0].(*r4.CodeSystem); !ok {
		t.Errorf("first resource is %T; want *r4.CodeSystem", all[0])
	}
	if _, ok := all[1].(*r4.ValueSet); !ok {
		t.Errorf("second resource is %T; want *r4.ValueSet", all[1])
	}

	if !s.IsCodeSystemSupported(ctx, nil, animalsSystem) {
		t.Error("expected animals to be supported")
	}
	if !s.IsValueSetSupported(ctx, nil, "http://example.org/vs/all|2.0") {
		t.Error("expected versioned ValueSet URL to be supported")
	}
	if s.IsValueSetSupported(ctx, nil, "http://example.org/vs/none") {
		t.Error("unexpected support for unknown ValueSet")
	}
}

func TestInMemorySupport_ValidateCode(t *testing.T) {
	s := NewInMemorySupport(vs.R4)
	ctx := context.Background()

	tests := []struct {
		name      string
		opts      support.ConceptValidationOptions
		system    string
		code      string
		display   string
		vsURL     string
		wantNil   bool
		wantOK    bool
		wantCode  support.IssueCoding
		wantSev   support.IssueSeverity
		wantInMsg string
	}{
		{name: "code in system", system: genderSystem, code: "male", wantOK: true},
		{name: "code in value set", system: genderSystem, code: "female", vsURL: genderVS, wantOK: true},
		{name: "versioned value set url", system: genderSystem, code: "other", vsURL: genderVS + "|4.0.1", wantOK: true},
		{name: "code not in value set", system: genderSystem, code: "invalid", vsURL: genderVS, wantCode: support.IssueCodingNotInVS, wantSev: support.SeverityError},
		{name: "unknown code in system", system: genderSystem, code: "invalid", wantCode: support.IssueCodingInvalidCode, wantSev: support.SeverityError, wantInMsg: "Unknown code"},
		{name: "empty code", system: genderSystem, code: "  ", wantCode: support.IssueCodingInvalidCode, wantSev: support.SeverityError, wantInMsg: "No code provided"},
		{name: "unknown system", system: "http://example.org/unknown", code: "x", wantNil: true},
		{name: "no system and no value set", code: "male", wantNil: true},
		{name: "unknown value set", system: genderSystem, code: "male", vsURL: "http://example.org/vs/unknown", wantNil: true},
		{name: "system inferred from value set", code: "unknown", vsURL: genderVS, wantOK: true},
		{
			name: "wrong display", opts: support.ConceptValidationOptions{ValidateDisplay: true},
			system: genderSystem, code: "male", display: "Man",
			wantOK: true, wantCode: support.IssueCodingInvalidDisplay, wantSev: support.SeverityWarning, wantInMsg: `"Man"`,
		},
		{
			name: "display case is ignored", opts: support.ConceptValidationOptions{ValidateDisplay: true},
			system: genderSystem, code: "male", display: "MALE", wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.ValidateCode(ctx, nil, tt.opts, tt.system, tt.code, tt.display, tt.vsURL)
			if err != nil {
				t.Fatalf("ValidateCode() error = %v", err)
			}
			if tt.wantNil {
				if res != nil {
					t.Fatalf("expected no opinion, got %+v", res)
				}
				return
			}
			if res == nil {
				t.Fatal("expected a result")
			}
			if res.IsOK() != tt.wantOK {
				t.Errorf("IsOK() = %v; want %v (message %q)", res.IsOK(), tt.wantOK, res.Message)
			}
			if res.Severity != tt.wantSev {
				t.Errorf("Severity = %v; want %v", res.Severity, tt.wantSev)
			}
			if tt.wantCode != "" {
				if len(res.Issues) != 1 || res.Issues[0].Coding() != tt.wantCode {
					t.Errorf("Issues = %+v; want one %s issue", res.Issues, tt.wantCode)
				}
			} else if len(res.Issues) != 0 {
				t.Errorf("unexpected issues %+v", res.Issues)
			}
			if tt.wantInMsg != "" && !strings.Contains(res.Message, tt.wantInMsg) {
				t.Errorf("Message = %q; want it to contain %q", res.Message, tt.wantInMsg)
			}
		})
	}

	t.Run("result details", func(t *testing.T) {
		res, err := s.ValidateCode(ctx, nil, support.ConceptValidationOptions{}, genderSystem, "male", "", "")
		if err != nil {
			t.Fatalf("ValidateCode() error = %v", err)
		}
		if res.Display != "Male" {
			t.Errorf("Display = %q; want Male", res.Display)
		}
		if res.CodeSystemName != "AdministrativeGender" {
			t.Errorf("CodeSystemName = %q", res.CodeSystemName)
		}
		if !strings.Contains(res.SourceDetails, genderSystem) {
			t.Errorf("SourceDetails = %q", res.SourceDetails)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := s.ValidateCode(cctx, nil, support.ConceptValidationOptions{}, genderSystem, "male", "", ""); err == nil {
			t.Error("expected context error")
		}
	})
}

func TestInMemorySupport_ValidateThroughChain(t *testing.T) {
	// The ValueSet lives in one module and its CodeSystem in another.
	valueSets := NewInMemorySupport(vs.R4, WithoutCommonCodeSystems())
	loadValueSet(t, valueSets, `{"resourceType": "ValueSet", "url": "http://example.org/vs/mammals", "compose": {"include": [{"system": "http://example.org/cs/animals", "filter": [{"property": "concept", "op": "is-a", "value": "mammal"}]}]}}`)
	codeSystems := newAnimals(t)

	chain := support.NewChain(vs.NewFhirContext(vs.R4), support.WithModules(valueSets, codeSystems))
	ctx := context.Background()

	res, err := chain.ValidateCode(ctx, support.ConceptValidationOptions{}, animalsSystem, "dog", "", "http://example.org/vs/mammals")
	if err != nil {
		t.Fatalf("ValidateCode() error = %v", err)
	}
	if res == nil || !res.IsOK() {
		t.Fatalf("expected dog to be a valid mammal, got %+v", res)
	}
	if res.CodeSystemName != "" {
		t.Errorf("CodeSystemName = %q; the CodeSystem is not local to the answering module", res.CodeSystemName)
	}

	res, err = chain.ValidateCode(ctx, support.ConceptValidationOptions{}, animalsSystem, "bird", "", "http://example.org/vs/mammals")
	if err != nil {
		t.Fatalf("ValidateCode() error = %v", err)
	}
	if res == nil || res.IsOK() {
		t.Fatalf("expected bird to be rejected, got %+v", res)
	}

	// Without a chain the ValueSet cannot be expanded, so the module has no opinion.
	res, err = valueSets.ValidateCode(ctx, nil, support.ConceptValidationOptions{}, animalsSystem, "dog", "", "http://example.org/vs/mammals")
	if err != nil || res != nil {
		t.Errorf("expected no opinion without a chain, got %+v, %v", res, err)
	}
}

func TestInMemorySupport_LookupCode(t *testing.T) {
	s := newAnimals(t)
	ctx := context.Background()

	t.Run("found with properties", func(t *testing.T) {
		res, err := s.LookupCode(ctx, nil, support.LookupCodeRequest{System: animalsSystem, Code: "dog"})
		if err != nil {
			t.Fatalf("LookupCode() error = %v", err)
		}
		if !res.Found {
			t.Fatal("expected dog to be found")
		}
		if res.CodeDisplay != "Dog" || res.CodeSystemDisplayName != "Animals" || res.CodeSystemVersion != "1.0" {
			t.Errorf("unexpected result %+v", res)
		}
		if len(res.Properties) != 2 {
			t.Fatalf("got %d properties; want 2", len(res.Properties))
		}
		if p, ok := res.Properties[0].(support.StringConceptProperty); !ok || p.Name != "legs" || p.Value != "4" {
			t.Errorf("Properties[0] = %#v", res.Properties[0])
		}
		if p, ok := res.Properties[1].(support.CodingConceptProperty); !ok || p.Name != "parent" || p.Code != "mammal" || p.Display != "Mammal" {
			t.Errorf("Properties[1] = %#v", res.Properties[1])
		}
		if len(res.Designations) != 1 || res.Designations[0].Value != "Perro" {
			t.Errorf("Designations = %+v", res.Designations)
		}
	})

	t.Run("display language", func(t *testing.T) {
		res, err := s.LookupCode(ctx, nil, support.LookupCodeRequest{System: animalsSystem, Code: "dog", DisplayLanguage: "ES"})
		if err != nil {
			t.Fatalf("LookupCode() error = %v", err)
		}
		if res.CodeDisplay != "Perro" {
			t.Errorf("CodeDisplay = %q; want Perro", res.CodeDisplay)
		}
	})

	t.Run("children and abstract", func(t *testing.T) {
		res, err := s.LookupCode(ctx, nil, support.LookupCodeRequest{System: animalsSystem, Code: "animal", PropertyNames: []string{"child"}})
		if err != nil {
			t.Fatalf("LookupCode() error = %v", err)
		}
		if !res.CodeIsAbstract {
			t.Error("expected animal to be abstract")
		}
		var children []string
		for _, p := range res.Properties {
			if p.PropertyName() != "child" {
				t.Errorf("unexpected property %s", p.PropertyName())
				continue
			}
			children = append(children, p.(support.CodingConceptProperty).Code)
		}
		if strings.Join(children, ",") != "bird,mammal" {
			t.Errorf("children = %v; want [bird mammal]", children)
		}
	})

	t.Run("unknown code", func(t *testing.T) {
		res, err := s.LookupCode(ctx, nil, support.LookupCodeRequest{System: animalsSystem, Code: "fish"})
		if err != nil {
			t.Fatalf("LookupCode() error = %v", err)
		}
		if res.Found {
			t.Error("expected fish not to be found")
		}
		if res.ErrorMessage != "Unable to find code[fish] in system[http://example.org/cs/animals]" {
			t.Errorf("ErrorMessage = %q", res.ErrorMessage)
		}
	})

	t.Run("unknown system", func(t *testing.T) {
		res, err := s.LookupCode(ctx, nil, support.LookupCodeRequest{System: "http://example.org/none", Code: "x"})
		if err != nil || res != nil {
			t.Errorf("expected no opinion, got %+v, %v", res, err)
		}
	})
}

func TestInMemorySupport_ExpandValueSet(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		vs      string
		opts    *support.ValueSetExpansionOptions
		want    string
		wantErr string
		wantNil bool
	}{
		{
			name: "whole system",
			vs:   `{"resourceType": "ValueSet", "url": "http://example.org/vs/t", "compose": {"include": [{"system": "http://example.org/cs/animals"}]}}`,
			want: "animal,mammal,dog,cat,bird",
		},
		{
			name: "is-a",
			vs:   `{"resourceType": "ValueSet", "url": "http://example.org/vs/t", "compose": {"include": [{"system": "http://example.org/cs/animals", "filter": [{"property": "concept", "op": "is-a", "value": "mammal"}]}]}}`,
			want: "mammal,dog,cat",
		},
		{
			name: "descendent-of",
			vs:   `{"resourceType": "ValueSet", "url": "http://example.org/vs/t", "compose": {"include": [{"system": "http://example.org/cs/animals", "filter": [{"property": "concept", "op": "descendent-of", "value": "animal"}]}]}}`,
			want: "mammal,dog,cat,bird",
		},
		{
			name: "is-not-a",
			vs:   `{"resourceType": "ValueSet", "url": "http://example.org/vs/t", "compose": {"include": [{"system": "http://example.org/cs/animals", "filter": [{"property": "concept", "op": "is-not-a", "value": "mammal"}]}]}}`,
			want: "animal,bird",
		},
		{
			name: "property equals",
			vs:   `{"resourceType": "ValueSet", "url": "http://example.org/vs/t", "compose": {"include": [{"system": "http://example.org/cs/animals", "filter": [{"property": "legs", "op": "=", "value": "2"}]}]}}`,
			want: "bird",
		},
		{
			name: "anchored regex",
			vs:   `{"resourceType": "ValueSet", "url": "http://example.org/vs/t", "compose": {"include": [{"system": "http://example.org/cs/animals", "filter": [{"property": "code", "op": "regex", "value": "[cd].."}]}]}}`,
			want: "dog,cat",
		},
		{
			name: "filters are combined",
			vs:   `{"resourceType": "ValueSet", "url": "http://example.org/vs/t", "compose": {"include": [{"system": "http://example.org/cs/animals", "filter": [{"property": "legs", "op": "exists", "value": "true"}, {"property": "concept", "op": "is-not-a", "value": "bird"}]}]}}`,
			want: "dog,cat",
		},
		{
			name: "explicit concepts",
			vs:   `{"resourceType": "ValueSet", "url": "http://example.org/vs/t", "compose": {"include": [{"system": "http://example.org/cs/animals", "concept": [{"code": "cat"}, {"code": "unicorn"}, {"code": "dog", "display": "Doggo"}]}]}}`,
			want: "cat,dog",
		},
		{
			name: "exclude",
			vs:   `{"resourceType": "ValueSet", "url": "http://example.org/vs/t", "compose": {"include": [{"system": "http://example.org/cs/animals"}], "exclude": [{"system": "http://example.org/cs/animals", "concept": [{"code": "animal"}, {"code": "bird"}]}]}}`,
			want: "mammal,dog,cat",
		},
		{
			name: "text filter",
			vs:   `{"resourceType": "ValueSet", "url": "http://example.org/vs/t", "compose": {"include": [{"system": "http://example.org/cs/animals"}]}}`,
			opts: &support.ValueSetExpansionOptions{Filter: "MAL"},
			want: "animal,mammal",
		},
		{
			name: "paging",
			vs:   `{"resourceType": "ValueSet", "url": "http://example.org/vs/t", "compose": {"include": [{"system": "http://example.org/cs/animals"}]}}`,
			opts: &support.ValueSetExpansionOptions{Offset: 1, Count: 2},
			want: "mammal,dog",
		},
		{
			name: "pre-expanded",
			vs:   `{"resourceType": "ValueSet", "url": "http://example.org/vs/t", "expansion": {"contains": [{"system": "http://example.org/other", "code": "z"}]}}`,
			want: "z",
		},
		{
			name:    "missing code system",
			vs:      `{"resourceType": "ValueSet", "url": "http://example.org/vs/t", "compose": {"include": [{"system": "http://example.org/cs/unknown"}]}}`,
			wantNil: true,
		},
		{
			name: "missing code system tolerated",
			vs:   `{"resourceType": "ValueSet", "url": "http://example.org/vs/t", "compose": {"include": [{"system": "http://example.org/cs/unknown"}]}}`,
			opts: &support.ValueSetExpansionOptions{},
			want: "",
		},
		{
			name:    "unsupported operator",
			vs:      `{"resourceType": "ValueSet", "url": "http://example.org/vs/t", "compose": {"include": [{"system": "http://example.org/cs/animals", "filter": [{"property": "concept", "op": "generalizes", "value": "dog"}]}]}}`,
			wantErr: "Don't know how to handle op=generalizes on property concept",
		},
		{
			name:    "self include",
			vs:      `{"resourceType": "ValueSet", "url": "http://example.org/vs/t", "compose": {"include": [{"valueSet": ["http://example.org/vs/t"]}]}}`,
			wantErr: "includes itself",
		},
		{
			name:    "missing imported value set",
			vs:      `{"resourceType": "ValueSet", "url": "http://example.org/vs/t", "compose": {"include": [{"valueSet": ["http://example.org/vs/none"]}]}}`,
			wantErr: "Unable to find imported ValueSet http://example.org/vs/none",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newAnimals(t)
			valueSet := loadValueSet(t, s, tt.vs)
			out, err := s.ExpandValueSet(ctx, nil, tt.opts, valueSet)
			if err != nil {
				t.Fatalf("ExpandValueSet() error = %v", err)
			}
			if tt.wantNil {
				if out != nil {
					t.Fatalf("expected no opinion, got %+v", out)
				}
				return
			}
			if tt.wantErr != "" {
				if out == nil || out.IsSuccess() {
					t.Fatalf("expected failed outcome, got %+v", out)
				}
				if !strings.Contains(out.ErrorMessage(), tt.wantErr) {
					t.Errorf("ErrorMessage() = %q; want it to contain %q", out.ErrorMessage(), tt.wantErr)
				}
				return
			}
			if got := strings.Join(expandedCodes(t, out), ","); got != tt.want {
				t.Errorf("codes = %q; want %q", got, tt.want)
			}
		})
	}

	t.Run("nested value set intersected with system", func(t *testing.T) {
		s := newAnimals(t)
		loadValueSet(t, s, `{"resourceType": "ValueSet", "url": "http://example.org/vs/four-legs", "compose": {"include": [{"system": "http://example.org/cs/animals", "filter": [{"property": "legs", "op": "=", "value": "4"}]}]}}`)
		valueSet := loadValueSet(t, s, `{"resourceType": "ValueSet", "url": "http://example.org/vs/t", "compose": {"include": [{"system": "http://example.org/cs/animals", "concept": [{"code": "dog"}, {"code": "bird"}], "valueSet": ["http://example.org/vs/four-legs"]}]}}`)
		out, err := s.ExpandValueSet(ctx, nil, nil, valueSet)
		if err != nil {
			t.Fatalf("ExpandValueSet() error = %v", err)
		}
		if got := strings.Join(expandedCodes(t, out), ","); got != "dog" {
			t.Errorf("codes = %q; want dog", got)
		}
	})

	t.Run("input is not modified", func(t *testing.T) {
		s := newAnimals(t)
		valueSet := loadValueSet(t, s, `{"resourceType": "ValueSet", "url": "http://example.org/vs/t", "compose": {"include": [{"system": "http://example.org/cs/animals"}]}}`)
		if _, err := s.ExpandValueSet(ctx, nil, nil, valueSet); err != nil {
			t.Fatalf("ExpandValueSet() error = %v", err)
		}
		if valueSet.Expansion != nil {
			t.Error("expected the stored ValueSet to stay unexpanded")
		}
	})
}
