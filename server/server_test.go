package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	vs "github.com/gofhir/validationsupport"
	"github.com/gofhir/validationsupport/support"
	"github.com/gofhir/validationsupport/terminology"
)

const (
	colorSystem = "http://example.org/cs/color"
	warmVS      = "http://example.org/vs/warm"
)

const colorMapYAML = `
resourceType: ConceptMap
url: http://example.org/ConceptMap/color-to-rgb
sourceUri: http://example.org/vs/color
targetUri: http://example.org/vs/rgb
group:
  - source: http://example.org/cs/color
    target: http://example.org/cs/rgb
    element:
      - code: red
        target:
          - code: ff0000
            equivalence: equal
`

func newTestServer(t *testing.T, opts ...Option) (*Server, *vs.Metrics) {
	t.Helper()
	mem := terminology.NewInMemorySupport(vs.R4, terminology.WithoutCommonCodeSystems())
	if err := mem.AddCustomCodeSystem(colorSystem, [][2]string{{"red", "Red"}, {"green", "Green"}, {"blue", "Blue"}}); err != nil {
		t.Fatal(err)
	}
	if err := mem.AddCustomValueSet(warmVS, colorSystem, [][2]string{{"red", "Red"}}); err != nil {
		t.Fatal(err)
	}
	maps := terminology.NewConceptMapSupport()
	if err := maps.LoadYAML([]byte(colorMapYAML)); err != nil {
		t.Fatal(err)
	}

	metrics := vs.NewMetrics()
	chain := support.NewChain(vs.NewFhirContext(vs.R4), support.WithModules(mem, maps), support.WithMetrics(metrics))
	opts = append([]Option{WithMetrics(metrics)}, opts...)
	return New(chain, opts...), metrics
}

func do(t *testing.T, s *Server, method, target string, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, FHIRContentType)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var doc map[string]any
	if strings.Contains(rec.Header().Get(echo.HeaderContentType), "json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
			t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
		}
	}
	return rec, doc
}

// param returns the first parameter named name from a Parameters document.
func param(doc map[string]any, name string) map[string]any {
	params, _ := doc["parameter"].([]any)
	for _, p := range params {
		m, _ := p.(map[string]any)
		if m["name"] == name {
			return m
		}
	}
	return nil
}

func TestLookup(t *testing.T) {
	s, _ := newTestServer(t)

	rec, doc := do(t, s, http.MethodGet, "/CodeSystem/$lookup?system="+url.QueryEscape(colorSystem)+"&code=green", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if p := param(doc, "display"); p == nil || p["valueString"] != "Green" {
		t.Errorf("display = %v", p)
	}
	if p := param(doc, "abstract"); p == nil || p["valueBoolean"] != false {
		t.Errorf("abstract = %v", p)
	}

	body := `{"resourceType":"Parameters","parameter":[{"name":"coding","valueCoding":{"system":"` + colorSystem + `","code":"blue"}}]}`
	rec, doc = do(t, s, http.MethodPost, "/CodeSystem/$lookup", body)
	if rec.Code != http.StatusOK || param(doc, "display")["valueString"] != "Blue" {
		t.Errorf("POST lookup = %d %v", rec.Code, doc)
	}
}

func TestLookup_Errors(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name   string
		target string
		status int
		code   string
	}{
		{"missing code", "/CodeSystem/$lookup?system=" + url.QueryEscape(colorSystem), http.StatusBadRequest, "invalid"},
		{"unknown code", "/CodeSystem/$lookup?system=" + url.QueryEscape(colorSystem) + "&code=purple", http.StatusNotFound, "not-found"},
		{"unknown system", "/CodeSystem/$lookup?system=http://nowhere&code=x", http.StatusNotFound, "not-found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, doc := do(t, s, http.MethodGet, tt.target, "")
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if doc["resourceType"] != "OperationOutcome" {
				t.Fatalf("resourceType = %v", doc["resourceType"])
			}
			issue := doc["issue"].([]any)[0].(map[string]any)
			if issue["code"] != tt.code || issue["severity"] != "error" {
				t.Errorf("issue = %v", issue)
			}
		})
	}
}

func TestValidateCode(t *testing.T) {
	s, _ := newTestServer(t)
	system := url.QueryEscape(colorSystem)
	vsURL := url.QueryEscape(warmVS)

	tests := []struct {
		name   string
		target string
		want   bool
	}{
		{"code system ok", "/CodeSystem/$validate-code?url=" + system + "&code=blue", true},
		{"code system unknown code", "/CodeSystem/$validate-code?url=" + system + "&code=purple", false},
		{"code system unknown system", "/CodeSystem/$validate-code?url=http://nowhere&code=x", false},
		{"value set member", "/ValueSet/$validate-code?url=" + vsURL + "&system=" + system + "&code=red", true},
		{"value set non member", "/ValueSet/$validate-code?url=" + vsURL + "&system=" + system + "&code=blue", false},
		{"value set token coding", "/ValueSet/$validate-code?url=" + vsURL + "&coding=" + system + "%7Cred", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, doc := do(t, s, http.MethodGet, tt.target, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			result := param(doc, "result")
			if result == nil || result["valueBoolean"] != tt.want {
				t.Fatalf("result = %v, want %v", result, tt.want)
			}
			if !tt.want {
				if param(doc, "message") == nil {
					t.Error("failed validation has no message")
				}
				issues := param(doc, "issues")
				if issues == nil {
					t.Fatal("failed validation has no issues")
				}
				resource := issues["resource"].(map[string]any)
				if resource["resourceType"] != "OperationOutcome" {
					t.Errorf("issues resource = %v", resource)
				}
			}
		})
	}
}

func TestValidateCode_CodeableConcept(t *testing.T) {
	s, _ := newTestServer(t)
	body := func(codes ...string) string {
		var codings []string
		for _, c := range codes {
			codings = append(codings, `{"system":"`+colorSystem+`","code":"`+c+`"}`)
		}
		return `{"resourceType":"Parameters","parameter":[` +
			`{"name":"url","valueUri":"` + warmVS + `"},` +
			`{"name":"codeableConcept","valueCodeableConcept":{"coding":[` + strings.Join(codings, ",") + `]}}]}`
	}

	rec, doc := do(t, s, http.MethodPost, "/ValueSet/$validate-code", body("red"))
	if rec.Code != http.StatusOK || param(doc, "result")["valueBoolean"] != true {
		t.Errorf("single coding = %d %v", rec.Code, doc)
	}

	// AND is the default policy, so one coding outside the ValueSet fails.
	rec, doc = do(t, s, http.MethodPost, "/ValueSet/$validate-code", body("red", "blue"))
	if rec.Code != http.StatusOK || param(doc, "result")["valueBoolean"] != false {
		t.Errorf("mixed codings = %d %v", rec.Code, doc)
	}
}

func TestValidateCode_InlineValueSet(t *testing.T) {
	s, _ := newTestServer(t)
	body := `{"resourceType":"Parameters","parameter":[
		{"name":"valueSet","resource":{"resourceType":"ValueSet","url":"http://example.org/vs/cool",
			"compose":{"include":[{"system":"` + colorSystem + `","concept":[{"code":"blue"}]}]}}},
		{"name":"system","valueUri":"` + colorSystem + `"},
		{"name":"code","valueCode":"blue"}]}`

	rec, doc := do(t, s, http.MethodPost, "/ValueSet/$validate-code", body)
	if rec.Code != http.StatusOK || param(doc, "result")["valueBoolean"] != true {
		t.Errorf("inline ValueSet = %d %s", rec.Code, rec.Body.String())
	}
}

func TestValidateCode_BadInput(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{"no code", http.MethodGet, "/CodeSystem/$validate-code?url=" + url.QueryEscape(colorSystem), ""},
		{"no system", http.MethodGet, "/CodeSystem/$validate-code?code=red", ""},
		{"no value set", http.MethodGet, "/ValueSet/$validate-code?code=red", ""},
		{"not parameters", http.MethodPost, "/ValueSet/$validate-code", `{"resourceType":"Patient"}`},
		{"malformed body", http.MethodPost, "/ValueSet/$validate-code", `{`},
		{"bad boolean", http.MethodGet, "/ValueSet/$validate-code?url=x&code=red&inferSystem=maybe", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, doc := do(t, s, tt.method, tt.target, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (%s)", rec.Code, rec.Body.String())
			}
			if doc["resourceType"] != "OperationOutcome" {
				t.Errorf("resourceType = %v", doc["resourceType"])
			}
		})
	}
}

func TestExpand(t *testing.T) {
	s, _ := newTestServer(t)

	rec, doc := do(t, s, http.MethodGet, "/ValueSet/$expand?url="+url.QueryEscape(warmVS), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if doc["resourceType"] != "ValueSet" {
		t.Errorf("resourceType = %v", doc["resourceType"])
	}
	expansion := doc["expansion"].(map[string]any)
	contains := expansion["contains"].([]any)
	if len(contains) != 1 || contains[0].(map[string]any)["code"] != "red" {
		t.Errorf("contains = %v", contains)
	}
	if id, _ := expansion["identifier"].(string); !strings.HasPrefix(id, "urn:uuid:") {
		t.Errorf("identifier = %v", expansion["identifier"])
	}
	if expansion["timestamp"] == nil {
		t.Error("expansion has no timestamp")
	}

	rec, _ = do(t, s, http.MethodGet, "/ValueSet/$expand?url=http://example.org/vs/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing ValueSet status = %d", rec.Code)
	}

	rec, _ = do(t, s, http.MethodGet, "/ValueSet/$expand?url="+url.QueryEscape(warmVS)+"&count=many", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad count status = %d", rec.Code)
	}
}

func TestExpand_InlineWithPaging(t *testing.T) {
	s, _ := newTestServer(t)
	body := `{"resourceType":"Parameters","parameter":[
		{"name":"valueSet","resource":{"resourceType":"ValueSet","url":"http://example.org/vs/all",
			"compose":{"include":[{"system":"` + colorSystem + `"}]}}},
		{"name":"offset","valueInteger":1},
		{"name":"count","valueInteger":1}]}`

	rec, doc := do(t, s, http.MethodPost, "/ValueSet/$expand", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	contains := doc["expansion"].(map[string]any)["contains"].([]any)
	if len(contains) != 1 {
		t.Errorf("contains = %v, want one page entry", contains)
	}
}

func TestTranslate(t *testing.T) {
	s, _ := newTestServer(t)

	rec, doc := do(t, s, http.MethodGet, "/ConceptMap/$translate?system="+url.QueryEscape(colorSystem)+"&code=red", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if param(doc, "result")["valueBoolean"] != true {
		t.Fatalf("result = %v", doc)
	}
	match := param(doc, "match")
	if match == nil {
		t.Fatal("no match parameter")
	}
	var concept map[string]any
	for _, part := range match["part"].([]any) {
		p := part.(map[string]any)
		if p["name"] == "concept" {
			concept = p["valueCoding"].(map[string]any)
		}
	}
	if concept["code"] != "ff0000" || concept["system"] != "http://example.org/cs/rgb" {
		t.Errorf("concept = %v", concept)
	}

	rec, doc = do(t, s, http.MethodGet, "/ConceptMap/$translate?system="+url.QueryEscape(colorSystem)+"&code=blue", "")
	if rec.Code != http.StatusOK || param(doc, "result")["valueBoolean"] != false {
		t.Errorf("unmapped code = %d %v", rec.Code, doc)
	}

	rec, _ = do(t, s, http.MethodGet, "/ConceptMap/$translate", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("no input status = %d", rec.Code)
	}
}

func TestHealthAndMetadata(t *testing.T) {
	s, _ := newTestServer(t)

	rec, doc := do(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || doc["status"] != "ok" || doc["fhirVersion"] != "4.0.1" {
		t.Errorf("healthz = %d %v", rec.Code, doc)
	}
	if modules := doc["modules"].([]any); len(modules) != 2 {
		t.Errorf("modules = %v", modules)
	}

	rec, doc = do(t, s, http.MethodGet, "/metadata", "")
	if rec.Code != http.StatusOK || doc["resourceType"] != "CapabilityStatement" {
		t.Errorf("metadata = %d %v", rec.Code, doc)
	}
}

func TestMetrics(t *testing.T) {
	s, _ := newTestServer(t)
	do(t, s, http.MethodGet, "/CodeSystem/$lookup?system="+url.QueryEscape(colorSystem)+"&code=red", "")
	do(t, s, http.MethodGet, "/CodeSystem/$lookup", "")

	rec, _ := do(t, s, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`validationsupport_operation_total{operation="LookupCode",outcome="answered"} 1`,
		`txsupport_http_requests_total{method="GET",route="/CodeSystem/$lookup",status="200"} 1`,
		`txsupport_http_requests_total{method="GET",route="/CodeSystem/$lookup",status="400"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

func TestMiddleware(t *testing.T) {
	var logs bytes.Buffer
	s, _ := newTestServer(t, WithLogger(zerolog.New(&logs)))
	s.Echo().GET("/boom", func(echo.Context) error { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("request id = %q", got)
	}

	rec, doc := do(t, s, http.MethodGet, "/boom", "")
	if rec.Code != http.StatusInternalServerError || doc["resourceType"] != "OperationOutcome" {
		t.Errorf("panic response = %d %v", rec.Code, doc)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("generated request id missing")
	}

	out := logs.String()
	if !strings.Contains(out, `"request_id":"abc-123"`) || !strings.Contains(out, "panic recovered") {
		t.Errorf("logs = %s", out)
	}

	rec, doc = do(t, s, http.MethodGet, "/nowhere", "")
	if rec.Code != http.StatusNotFound || doc["resourceType"] != "OperationOutcome" {
		t.Errorf("unknown route = %d %v", rec.Code, doc)
	}
}
