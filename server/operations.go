package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gofhir/fhir/r4"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	vs "github.com/gofhir/validationsupport"
	"github.com/gofhir/validationsupport/support"
)

// lookup handles CodeSystem/$lookup.
func (s *Server) lookup(c echo.Context) error {
	p, err := readParameters(c)
	if err != nil {
		return err
	}
	system, code := p.Value("system"), p.Value("code")
	if cd, ok := coding(p, "coding"); ok {
		system, code = cd.System, cd.Code
	}
	if system == "" || code == "" {
		return badRequest("$lookup requires system and code, or coding")
	}

	var properties []string
	for _, param := range p.GetAll("property") {
		if v := param.StringValue(); v != "" {
			properties = append(properties, v)
		}
	}

	res, err := s.chain.LookupCode(c.Request().Context(), support.LookupCodeRequest{
		System:          system,
		Code:            code,
		DisplayLanguage: p.Value("displayLanguage"),
		PropertyNames:   properties,
	})
	if err != nil {
		return err
	}
	if err := res.ThrowNotFoundIfAppropriate(); err != nil {
		return err
	}
	out, err := res.ToParameters(s.chain.FhirContext(), properties)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, out)
}

// validateCodeSystemCode handles CodeSystem/$validate-code.
func (s *Server) validateCodeSystemCode(c echo.Context) error {
	p, err := readParameters(c)
	if err != nil {
		return err
	}
	system := firstValue(p, "url", "system")
	code, display := p.Value("code"), p.Value("display")
	if cd, ok := coding(p, "coding"); ok {
		system, code = cd.System, cd.Code
		if display == "" {
			display = cd.Display
		}
	}
	if code == "" {
		return badRequest("$validate-code requires code or coding")
	}
	if system == "" {
		return badRequest("CodeSystem/$validate-code requires url, system or a coding with a system")
	}

	opts := support.ConceptValidationOptions{ValidateDisplay: display != ""}
	res, err := s.chain.ValidateCode(c.Request().Context(), opts, system, code, display, "")
	if err != nil {
		return err
	}
	if res == nil {
		res = unvalidated(system, code, "CodeSystem "+system)
	}
	return s.writeValidation(c, res)
}

// validateValueSetCode handles ValueSet/$validate-code. A codeableConcept is
// validated coding by coding with the chain's AND/OR policy.
func (s *Server) validateValueSetCode(c echo.Context) error {
	p, err := readParameters(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	url := p.Value("url")
	inline, err := valueSetParam(p)
	if err != nil {
		return err
	}
	if url == "" && inline == nil {
		return badRequest("ValueSet/$validate-code requires url or valueSet")
	}
	inferSystem, err := boolParam(p, "inferSystem")
	if err != nil {
		return err
	}

	if concept := codeableConcept(p, "codeableConcept"); len(concept) > 0 {
		if url == "" {
			return badRequest("codeableConcept validation requires url")
		}
		opts := support.ConceptValidationOptions{InferSystem: inferSystem}
		combined, err := s.chain.ValidateCodings(ctx, opts, concept, url)
		if err != nil {
			return err
		}
		return s.writeValidation(c, codingsResult(combined))
	}

	system, code, display := p.Value("system"), p.Value("code"), p.Value("display")
	if cd, ok := coding(p, "coding"); ok {
		system, code = cd.System, cd.Code
		if display == "" {
			display = cd.Display
		}
	}
	if code == "" {
		return badRequest("$validate-code requires code, coding or codeableConcept")
	}
	opts := support.ConceptValidationOptions{ValidateDisplay: display != "", InferSystem: inferSystem}

	var res *support.CodeValidationResult
	if inline != nil {
		res, err = s.chain.ValidateCodeInValueSet(ctx, opts, system, code, display, inline)
		if url == "" && inline.Url != nil {
			url = *inline.Url
		}
	} else {
		res, err = s.chain.ValidateCode(ctx, opts, system, code, display, url)
	}
	if err != nil {
		return err
	}
	if res == nil {
		res = unvalidated(system, code, "ValueSet "+url)
	}
	return s.writeValidation(c, res)
}

func unvalidated(system, code, against string) *support.CodeValidationResult {
	msg := fmt.Sprintf("Unable to validate code %s#%s against %s", system, code, against)
	res := &support.CodeValidationResult{Message: msg, Severity: support.SeverityError}
	return res.AddIssue(support.NewCodeValidationIssue(msg, support.SeverityError, support.IssueCodeNotFound, support.IssueCodingNotFound))
}

// codingsResult folds a multi-coding answer into one validation result.
func codingsResult(r *support.CodingsValidationResult) *support.CodeValidationResult {
	out := &support.CodeValidationResult{Issues: r.Issues()}
	for _, cr := range r.Results {
		if r.Valid && cr.Valid() {
			out.Code = cr.Result.Code
			out.Display = cr.Result.Display
			out.SourceDetails = cr.Result.SourceDetails
			break
		}
	}
	if !r.Valid {
		out.Severity = support.SeverityError
		for _, i := range out.Issues {
			if sev := i.Severity(); sev == support.SeverityFatal || sev == support.SeverityError {
				out.Message = i.Message()
				break
			}
		}
	}
	return out
}

func outcomeFor(res *support.CodeValidationResult) *vs.OperationOutcome {
	return vs.NewOperationOutcome(res.OutcomeIssues(""))
}

func (s *Server) writeValidation(c echo.Context, res *support.CodeValidationResult) error {
	out := res.ToParameters(s.chain.FhirContext())
	if len(res.Issues) > 0 {
		issues, err := support.ResourceParam("issues", outcomeFor(res))
		if err != nil {
			return err
		}
		out.Add(issues)
	}
	return writeJSON(c, http.StatusOK, out)
}

// expand handles ValueSet/$expand.
func (s *Server) expand(c echo.Context) error {
	p, err := readParameters(c)
	if err != nil {
		return err
	}
	url := p.Value("url")
	inline, err := valueSetParam(p)
	if err != nil {
		return err
	}
	if url == "" && inline == nil {
		return badRequest("$expand requires url or valueSet")
	}

	opts := support.DefaultExpansionOptions()
	if opts.Offset, err = intParam(p, "offset", opts.Offset); err != nil {
		return err
	}
	if opts.Count, err = intParam(p, "count", opts.Count); err != nil {
		return err
	}
	if opts.IncludeHierarchy, err = boolParam(p, "includeHierarchy"); err != nil {
		return err
	}
	opts.Filter = p.Value("filter")
	opts.DisplayLanguage = p.Value("displayLanguage")

	ctx := c.Request().Context()
	var outcome *support.ValueSetExpansionOutcome
	if inline != nil {
		outcome, err = s.chain.ExpandValueSet(ctx, opts, inline)
	} else {
		outcome, err = s.chain.ExpandValueSetByURL(ctx, opts, url)
	}
	if err != nil {
		return err
	}
	if outcome == nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "No module was able to expand ValueSet "+url)
	}
	if !outcome.IsSuccess() {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, outcome.ErrorMessage())
	}

	data, err := expansionJSON(outcome.ValueSet())
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, FHIRContentType, data)
}

// expansionJSON encodes an expanded ValueSet, stamping the expansion with an
// identifier and timestamp when the expander left them out.
func expansionJSON(valueSet *r4.ValueSet) ([]byte, error) {
	doc, err := resourceDoc("ValueSet", valueSet)
	if err != nil {
		return nil, err
	}
	expansion := map[string]json.RawMessage{}
	if raw, ok := doc["expansion"]; ok {
		if err := json.Unmarshal(raw, &expansion); err != nil {
			return nil, fmt.Errorf("decode expansion: %w", err)
		}
	}
	if !present(expansion["identifier"]) {
		expansion["identifier"], _ = json.Marshal("urn:uuid:" + uuid.NewString())
	}
	if !present(expansion["timestamp"]) {
		expansion["timestamp"], _ = json.Marshal(time.Now().UTC().Format(time.RFC3339))
	}
	if doc["expansion"], err = json.Marshal(expansion); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// resourceDoc encodes v as a JSON object carrying resourceType.
func resourceDoc(resourceType string, v any) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", resourceType, err)
	}
	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("encode %s: %w", resourceType, err)
	}
	doc["resourceType"], _ = json.Marshal(resourceType)
	return doc, nil
}

func valueSetParam(p *support.Parameters) (*r4.ValueSet, error) {
	param, ok := p.Get("valueSet")
	if !ok || len(param.Resource) == 0 {
		return nil, nil
	}
	var valueSet r4.ValueSet
	if err := json.Unmarshal(param.Resource, &valueSet); err != nil {
		return nil, badRequest("decode valueSet: %v", err)
	}
	return &valueSet, nil
}

// translate handles ConceptMap/$translate.
func (s *Server) translate(c echo.Context) error {
	p, err := readParameters(c)
	if err != nil {
		return err
	}

	var input []support.Coding
	switch {
	case len(codings(p, "coding")) > 0:
		input = codings(p, "coding")
	case len(codeableConcept(p, "codeableConcept")) > 0:
		input = codeableConcept(p, "codeableConcept")
	case p.Value("code") != "":
		input = []support.Coding{{System: p.Value("system"), Version: p.Value("version"), Code: p.Value("code")}}
	default:
		return badRequest("$translate requires code, coding or codeableConcept")
	}

	reverse, err := boolParam(p, "reverse")
	if err != nil {
		return err
	}
	opts := []support.TranslateOption{support.WithReverse(reverse)}
	if url := p.Value("url"); url != "" {
		opts = append(opts, support.WithConceptMap(url, p.Value("conceptMapVersion")))
	}
	if source := p.Value("source"); source != "" {
		opts = append(opts, support.WithSourceValueSet(source))
	}
	if target := p.Value("target"); target != "" {
		opts = append(opts, support.WithTargetValueSet(target))
	}
	if id := c.QueryParam("id"); id != "" {
		opts = append(opts, support.WithResourceID(id))
	}
	req := support.NewTranslateCodeRequest(input, firstValue(p, "targetsystem", "targetSystem"), opts...)

	res, err := s.chain.TranslateConcept(c.Request().Context(), req)
	if err != nil {
		return err
	}
	if res == nil {
		res = &support.TranslateConceptResults{Message: "No ConceptMap is available for this translation"}
	}
	return writeJSON(c, http.StatusOK, res.ToParameters())
}
