package profile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofhir/fhir/r4"

	vs "github.com/gofhir/validationsupport"
	"github.com/gofhir/validationsupport/support"
)

func sd(url, typeName string) *r4.StructureDefinition {
	return &r4.StructureDefinition{Url: &url, Type: &typeName}
}

func TestSupport_Add(t *testing.T) {
	s := NewSupport()

	if err := s.AddStructureDefinition(nil); err == nil {
		t.Error("expected error for nil input")
	}
	if err := s.AddStructureDefinition(&r4.StructureDefinition{}); err == nil {
		t.Error("expected error for missing URL")
	}

	for _, def := range []*r4.StructureDefinition{
		sd("http://hl7.org/fhir/StructureDefinition/Patient", "Patient"),
		sd("http://example.org/StructureDefinition/MyPatient", "Patient"),
		sd("http://hl7.org/fhir/StructureDefinition/Observation", "Observation"),
	} {
		if err := s.AddStructureDefinition(def); err != nil {
			t.Fatalf("AddStructureDefinition() error = %v", err)
		}
	}
	if err := s.AddStructureDefinition(sd("http://example.org/StructureDefinition/MyPatient", "Patient")); err != nil {
		t.Fatal(err)
	}

	if s.Count() != 3 {
		t.Errorf("Count() = %d; want 3", s.Count())
	}
	types := s.Types()
	if len(types) != 2 || types[0] != "Observation" || types[1] != "Patient" {
		t.Errorf("Types() = %v", types)
	}

	ctx := context.Background()
	all, _ := s.FetchAllStructureDefinitions(ctx)
	want := []string{
		"http://hl7.org/fhir/StructureDefinition/Patient",
		"http://example.org/StructureDefinition/MyPatient",
		"http://hl7.org/fhir/StructureDefinition/Observation",
	}
	if len(all) != len(want) {
		t.Fatalf("got %d definitions; want %d", len(all), len(want))
	}
	for i := range want {
		if deref(all[i].Url) != want[i] {
			t.Errorf("all[%d] = %s; want %s (load order)", i, deref(all[i].Url), want[i])
		}
	}

	s.Clear()
	if s.Count() != 0 || len(s.Types()) != 0 {
		t.Error("expected Clear to empty the store")
	}
}

func TestSupport_Fetch(t *testing.T) {
	s := NewSupport()
	_ = s.AddStructureDefinition(sd("http://hl7.org/fhir/StructureDefinition/Patient", "Patient"))
	_ = s.AddStructureDefinition(sd("http://example.org/StructureDefinition/MyPatient", "Patient"))
	_ = s.AddStructureDefinition(sd("http://hl7.org/fhir/StructureDefinition/SimpleQuantity", "Quantity"))
	ctx := context.Background()

	tests := []struct {
		name string
		url  string
		want string
	}{
		{name: "exact", url: "http://example.org/StructureDefinition/MyPatient", want: "http://example.org/StructureDefinition/MyPatient"},
		{name: "versioned", url: "http://example.org/StructureDefinition/MyPatient|1.0.0", want: "http://example.org/StructureDefinition/MyPatient"},
		{name: "unknown", url: "http://example.org/StructureDefinition/Other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.FetchStructureDefinition(ctx, tt.url)
			if err != nil {
				t.Fatalf("FetchStructureDefinition() error = %v", err)
			}
			var url string
			if got != nil {
				url = deref(got.Url)
			}
			if url != tt.want {
				t.Errorf("got %q; want %q", url, tt.want)
			}
		})
	}

	byType, _ := s.FetchStructureDefinitionByType(ctx, "Patient")
	if deref(byType.Url) != "http://hl7.org/fhir/StructureDefinition/Patient" {
		t.Errorf("by type = %s; want the core definition", deref(byType.Url))
	}
	simple, _ := s.FetchStructureDefinitionByType(ctx, "SimpleQuantity")
	if simple == nil {
		t.Error("expected canonical URL fallback for SimpleQuantity")
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := s.FetchStructureDefinition(cctx, "http://example.org/StructureDefinition/MyPatient"); err == nil {
		t.Error("expected context error")
	}
}

const searchParamJSON = `{
  "resourceType": "SearchParameter",
  "url": "http://example.org/SearchParameter/patient-nickname",
  "name": "nickname",
  "code": "nickname",
  "base": ["Patient"],
  "type": "string",
  "status": "active",
  "expression": "Patient.name.where(use = 'nickname').given"
}`

const myPatientJSON = `{
  "resourceType": "StructureDefinition",
  "url": "http://example.org/StructureDefinition/MyPatient",
  "name": "MyPatient",
  "type": "Patient",
  "baseDefinition": "http://hl7.org/fhir/StructureDefinition/Patient",
  "derivation": "constraint"
}`

func TestSupport_LoadFromJSON(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    int
		wantErr bool
	}{
		{name: "structure definition", data: myPatientJSON, want: 1},
		{name: "search parameter", data: searchParamJSON, want: 1},
		{name: "bundle", data: `{"resourceType": "Bundle", "entry": [{"resource": ` + myPatientJSON + `}, {"resource": ` + searchParamJSON + `}, {"resource": {"resourceType": "Patient"}}]}`, want: 2},
		{name: "unsupported", data: `{"resourceType": "Patient"}`, wantErr: true},
		{name: "invalid", data: `[`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewSupport().LoadFromJSON([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadFromJSON() error = %v; wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("LoadFromJSON() = %d; want %d", got, tt.want)
			}
		})
	}
}

func TestSupport_SearchParameters(t *testing.T) {
	s := NewSupport()
	if _, err := s.LoadFromJSON([]byte(searchParamJSON)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadFromJSON([]byte(myPatientJSON)); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	sps, err := s.FetchAllSearchParameters(ctx)
	if err != nil || len(sps) != 1 {
		t.Fatalf("FetchAllSearchParameters() = %v, %v", sps, err)
	}

	chain := support.NewChain(vs.NewFhirContext(vs.R4), support.WithModules(s))
	res, err := chain.FetchResource(ctx, "SearchParameter", "http://example.org/SearchParameter/patient-nickname")
	if err != nil {
		t.Fatalf("FetchResource() error = %v", err)
	}
	if _, ok := res.(*r4.SearchParameter); !ok {
		t.Errorf("FetchResource() = %T; want *r4.SearchParameter", res)
	}

	all, _ := s.FetchAllConformanceResources(ctx)
	if len(all) != 2 {
		t.Fatalf("got %d resources; want 2", len(all))
	}
	if _, ok := all[0].(*r4.StructureDefinition); !ok {
		t.Errorf("first resource is %T; want StructureDefinition", all[0])
	}

	nonBase, err := chain.FetchAllNonBaseStructureDefinitions(ctx)
	if err != nil || len(nonBase) != 1 {
		t.Errorf("FetchAllNonBaseStructureDefinitions() = %d, %v; want 1", len(nonBase), err)
	}
}

func TestSupport_LoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"StructureDefinition-MyPatient.json":    myPatientJSON,
		"SearchParameter-patient-nickname.json": searchParamJSON,
		"StructureDefinition-broken.json":       `{`,
		"ValueSet-ignored.json":                 `{"resourceType": "ValueSet", "url": "http://example.org/vs"}`,
		"nested/extra-profile.json":             `{"resourceType": "StructureDefinition", "url": "http://example.org/StructureDefinition/Extra", "type": "Observation"}`,
	}
	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, filepath.FromSlash(name)), []byte(data), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	s := NewSupport()
	n, err := s.LoadFromDirectory(dir)
	if err != nil {
		t.Fatalf("LoadFromDirectory() error = %v", err)
	}
	if n != 2 {
		t.Errorf("LoadFromDirectory() = %d; want 2", n)
	}

	all := NewSupport()
	n, err = all.LoadAllFromDirectory(dir)
	if err != nil {
		t.Fatalf("LoadAllFromDirectory() error = %v", err)
	}
	if n != 3 {
		t.Errorf("LoadAllFromDirectory() = %d; want 3", n)
	}
}
