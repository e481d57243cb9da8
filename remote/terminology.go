package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/gofhir/fhir/r4"

	"github.com/gofhir/validationsupport/support"
)

// ValidateCode implements support.CodeValidator. With a value set URL the
// code is checked with ValueSet/$validate-code, otherwise with
// CodeSystem/$validate-code. An unknown value set or system (404) is no
// opinion.
func (c *Client) ValidateCode(ctx context.Context, _ *support.Context, opts support.ConceptValidationOptions, system, code, display, valueSetURL string) (*support.CodeValidationResult, error) {
	if code == "" {
		return nil, nil
	}

	params := support.NewParameters()
	path := "ValueSet/$validate-code"
	if valueSetURL != "" {
		params.Add(support.URIParam("url", valueSetURL))
		if system != "" {
			params.Add(support.URIParam("system", system))
		}
	} else {
		if system == "" {
			return nil, nil
		}
		path = "CodeSystem/$validate-code"
		params.Add(support.URIParam("url", system))
	}
	params.AddCode("code", code)
	if display != "" {
		params.AddString("display", display)
	}
	if opts.InferSystem {
		params.AddBoolean("inferSystem", true)
	}

	return c.validate(ctx, path, params, code, display, valueSetURL != "")
}

// ValidateCodeInValueSet implements support.ValueSetCodeValidator by sending
// the value set with the request.
func (c *Client) ValidateCodeInValueSet(ctx context.Context, _ *support.Context, opts support.ConceptValidationOptions, system, code, display string, valueSet *r4.ValueSet) (*support.CodeValidationResult, error) {
	if code == "" || valueSet == nil {
		return nil, nil
	}
	vsParam, err := support.ResourceParam("valueSet", valueSet)
	if err != nil {
		return nil, err
	}

	params := support.NewParameters().Add(vsParam)
	if system != "" {
		params.Add(support.URIParam("system", system))
	}
	params.AddCode("code", code)
	if display != "" {
		params.AddString("display", display)
	}
	if opts.InferSystem {
		params.AddBoolean("inferSystem", true)
	}

	return c.validate(ctx, "ValueSet/$validate-code", params, code, display, true)
}

func (c *Client) validate(ctx context.Context, path string, params *support.Parameters, code, display string, inValueSet bool) (*support.CodeValidationResult, error) {
	var resp support.Parameters
	err := c.post(ctx, path, params, &resp)
	switch {
	case err == nil:
	case isStatus(err, 404):
		return nil, nil
	case isTimeout(err) || isClientError(err):
		c.logger.Warn().Err(err).Str("code", code).Msg("remote code validation failed")
		msg := "Remote terminology validation failed: " + failureMessage(err)
		r := &support.CodeValidationResult{Severity: support.SeverityError, Message: msg}
		return r.AddIssue(support.NewCodeValidationIssue(msg, support.SeverityError, support.IssueCodeOther, support.IssueCodingOther)), nil
	default:
		return nil, err
	}

	return c.validationResult(&resp, code, display, inValueSet)
}

// validationResult converts a $validate-code response.
func (c *Client) validationResult(resp *support.Parameters, code, display string, inValueSet bool) (*support.CodeValidationResult, error) {
	ok, found := resp.Bool("result")
	if !found {
		return nil, fmt.Errorf("$validate-code response from %s has no result parameter", c.baseURL)
	}

	r := &support.CodeValidationResult{
		Message:       resp.Value("message"),
		SourceDetails: "Code validation occurred using a remote terminology service at " + c.baseURL,
	}
	if issues, ok := resp.Get("issues"); ok && len(issues.Resource) > 0 {
		var oo operationOutcome
		if err := json.Unmarshal(issues.Resource, &oo); err == nil {
			for _, issue := range oo.Issue {
				r.AddIssue(issue.validationIssue())
			}
		}
	}

	if ok {
		r.Code = code
		r.Display = resp.Value("display")
		if r.Display == "" {
			r.Display = display
		}
		r.CodeSystemVersion = resp.Value("version")
		return r, nil
	}

	r.Severity = support.SeverityError
	if len(r.Issues) == 0 {
		coding := support.IssueCodingInvalidCode
		if inValueSet {
			coding = support.IssueCodingNotInVS
		}
		r.AddIssue(support.NewCodeValidationIssue(r.Message, support.SeverityError, support.IssueCodeCodeInvalid, coding))
	}
	return r, nil
}

// LookupCode implements support.CodeLookup with CodeSystem/$lookup. Failures
// other than 5xx come back as a not-found result carrying the reason.
func (c *Client) LookupCode(ctx context.Context, _ *support.Context, req support.LookupCodeRequest) (*support.LookupCodeResult, error) {
	if req.System == "" || req.Code == "" {
		return nil, nil
	}

	params := support.NewParameters()
	params.Add(support.URIParam("system", req.System))
	params.AddCode("code", req.Code)
	if req.DisplayLanguage != "" {
		params.AddCode("displayLanguage", req.DisplayLanguage)
	}
	for _, name := range req.PropertyNames {
		params.AddCode("property", name)
	}

	var resp support.Parameters
	if err := c.post(ctx, "CodeSystem/$lookup", params, &resp); err != nil {
		if IsServerError(err) || !(isTimeout(err) || isClientError(err)) {
			return nil, err
		}
		out := support.LookupCodeNotFound(req.System, req.Code)
		out.ErrorMessage = failureMessage(err)
		return out, nil
	}

	out := support.NewLookupCodeResult(req.System, req.Code)
	out.Found = true
	out.CodeSystemDisplayName = resp.Value("name")
	out.CodeSystemVersion = resp.Value("version")
	out.CodeDisplay = resp.Value("display")
	out.CodeIsAbstract, _ = resp.Bool("abstract")

	for _, p := range resp.GetAll("property") {
		if prop := parseProperty(p); prop != nil {
			out.Properties = append(out.Properties, prop)
		}
	}
	for _, d := range resp.GetAll("designation") {
		designation := support.ConceptDesignation{}
		if lang, ok := d.GetPart("language"); ok {
			designation.Language = lang.StringValue()
		}
		if use, ok := d.GetPart("use"); ok && use.ValueCoding != nil {
			designation.UseSystem = use.ValueCoding.System
			designation.UseCode = use.ValueCoding.Code
			designation.UseDisplay = use.ValueCoding.Display
		}
		if value, ok := d.GetPart("value"); ok {
			designation.Value = value.StringValue()
		}
		out.Designations = append(out.Designations, designation)
	}
	return out, nil
}

// parseProperty converts a property or subproperty parameter. A property
// with subproperties becomes a group.
func parseProperty(p support.ParametersParameter) support.ConceptProperty {
	codePart, ok := p.GetPart("code")
	if !ok {
		return nil
	}
	name := codePart.StringValue()

	if subs := p.Parts("subproperty"); len(subs) > 0 {
		group := support.NewGroupConceptProperty(name)
		for _, sub := range subs {
			if prop := parseProperty(sub); prop != nil {
				group.AddSubProperty(prop)
			}
		}
		return group
	}

	value, ok := p.GetPart("value")
	if !ok {
		return support.StringConceptProperty{Name: name}
	}
	switch {
	case value.ValueCoding != nil:
		return support.CodingConceptProperty{
			Name:    name,
			System:  value.ValueCoding.System,
			Code:    value.ValueCoding.Code,
			Display: value.ValueCoding.Display,
		}
	case value.ValueBoolean != nil:
		return support.StringConceptProperty{Name: name, Value: strconv.FormatBool(*value.ValueBoolean)}
	case value.ValueInteger != nil:
		return support.StringConceptProperty{Name: name, Value: strconv.Itoa(*value.ValueInteger)}
	default:
		return support.StringConceptProperty{Name: name, Value: value.StringValue()}
	}
}

// ExpandValueSet implements support.ValueSetExpander with ValueSet/$expand.
// A value set with a compose is sent inline, otherwise it is expanded by
// URL.
func (c *Client) ExpandValueSet(ctx context.Context, _ *support.Context, opts *support.ValueSetExpansionOptions, valueSet *r4.ValueSet) (*support.ValueSetExpansionOutcome, error) {
	if valueSet == nil {
		return nil, nil
	}
	if opts == nil {
		opts = support.DefaultExpansionOptions()
	}

	params := support.NewParameters()
	switch {
	case valueSet.Compose != nil:
		vsParam, err := support.ResourceParam("valueSet", valueSet)
		if err != nil {
			return nil, err
		}
		params.Add(vsParam)
	case valueSet.Url != nil && *valueSet.Url != "":
		params.Add(support.URIParam("url", *valueSet.Url))
	default:
		return nil, nil
	}
	if opts.Offset > 0 {
		params.Add(support.IntegerParam("offset", opts.Offset))
	}
	if opts.Count > 0 {
		params.Add(support.IntegerParam("count", opts.Count))
	}
	if opts.Filter != "" {
		params.AddString("filter", opts.Filter)
	}
	if opts.DisplayLanguage != "" {
		params.AddCode("displayLanguage", opts.DisplayLanguage)
	}
	if !opts.IncludeHierarchy {
		params.AddBoolean("excludeNested", true)
	}

	var expanded r4.ValueSet
	if err := c.post(ctx, "ValueSet/$expand", params, &expanded); err != nil {
		switch {
		case isTimeout(err):
			return support.NewExpansionError("Remote expansion timed out: "+err.Error(), false), nil
		case isClientError(err):
			return support.NewExpansionError(failureMessage(err), true), nil
		default:
			return nil, err
		}
	}
	return support.NewExpansionOutcome(&expanded), nil
}

// TranslateConcept implements support.ConceptTranslator with
// ConceptMap/$translate. Each coding is translated on its own and the
// matches are merged.
func (c *Client) TranslateConcept(ctx context.Context, req *support.TranslateCodeRequest) (*support.TranslateConceptResults, error) {
	if req == nil {
		return nil, nil
	}
	codings := req.Codings()
	if len(codings) == 0 {
		return nil, nil
	}

	path := "ConceptMap/$translate"
	if id := req.ResourceID(); id != "" {
		path = "ConceptMap/" + url.PathEscape(id) + "/$translate"
	}

	out := &support.TranslateConceptResults{}
	answered := false
	for _, coding := range codings {
		params := support.NewParameters()
		params.Add(support.CodingParam("coding", coding))
		if v := req.ConceptMapURL(); v != "" {
			params.Add(support.URIParam("url", v))
		}
		if v := req.ConceptMapVersion(); v != "" {
			params.AddString("conceptMapVersion", v)
		}
		if v := req.SourceValueSetURL(); v != "" {
			params.Add(support.URIParam("source", v))
		}
		if v := req.TargetValueSetURL(); v != "" {
			params.Add(support.URIParam("target", v))
		}
		if v := req.TargetSystemURL(); v != "" {
			params.Add(support.URIParam("targetsystem", v))
		}
		if req.IsReverse() {
			params.AddBoolean("reverse", true)
		}

		var resp support.Parameters
		if err := c.post(ctx, path, params, &resp); err != nil {
			switch {
			case isStatus(err, 404):
				continue
			case isTimeout(err) || isClientError(err):
				return &support.TranslateConceptResults{Message: failureMessage(err)}, nil
			default:
				return nil, err
			}
		}

		answered = true
		if ok, _ := resp.Bool("result"); ok {
			out.Result = true
		}
		if out.Message == "" {
			out.Message = resp.Value("message")
		}
		for _, match := range resp.GetAll("match") {
			var m support.TranslateConceptResult
			if eq, ok := match.GetPart("equivalence"); ok {
				m.Equivalence = eq.StringValue()
			} else if rel, ok := match.GetPart("relationship"); ok {
				m.Equivalence = rel.StringValue()
			}
			if concept, ok := match.GetPart("concept"); ok && concept.ValueCoding != nil {
				m.System = concept.ValueCoding.System
				m.Code = concept.ValueCoding.Code
				m.Display = concept.ValueCoding.Display
			}
			if source, ok := match.GetPart("source"); ok {
				m.ConceptMapURL = source.StringValue()
			}
			out.Results = append(out.Results, m)
		}
	}
	if !answered {
		return nil, nil
	}
	if out.Result {
		out.Message = ""
	}
	return out, nil
}

type searchBundle struct {
	Total *int `json:"total,omitempty"`
	Entry []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

// search runs a canonical URL search and returns the raw first match.
func (c *Client) search(ctx context.Context, resourceType, canonical string) (json.RawMessage, error) {
	query := url.Values{"url": {canonical}}
	var bundle searchBundle
	if err := c.get(ctx, resourceType, query, &bundle); err != nil {
		if isTimeout(err) || isClientError(err) {
			c.logger.Warn().Err(err).Str("url", canonical).Msgf("remote %s search failed", resourceType)
			return nil, nil
		}
		return nil, err
	}
	if len(bundle.Entry) == 0 {
		return nil, nil
	}
	return bundle.Entry[0].Resource, nil
}

// FetchCodeSystem implements support.CodeSystemFetcher.
func (c *Client) FetchCodeSystem(ctx context.Context, system string) (*r4.CodeSystem, error) {
	raw, err := c.search(ctx, "CodeSystem", system)
	if err != nil || raw == nil {
		return nil, err
	}
	var cs r4.CodeSystem
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, fmt.Errorf("failed to parse CodeSystem %s: %w", system, err)
	}
	return &cs, nil
}

// FetchValueSet implements support.ValueSetFetcher.
func (c *Client) FetchValueSet(ctx context.Context, valueSetURL string) (*r4.ValueSet, error) {
	raw, err := c.search(ctx, "ValueSet", valueSetURL)
	if err != nil || raw == nil {
		return nil, err
	}
	var vs r4.ValueSet
	if err := json.Unmarshal(raw, &vs); err != nil {
		return nil, fmt.Errorf("failed to parse ValueSet %s: %w", valueSetURL, err)
	}
	return &vs, nil
}

// IsCodeSystemSupported implements support.CodeSystemSupporter. The server
// is asked once per system; the answer is kept until InvalidateCaches.
func (c *Client) IsCodeSystemSupported(ctx context.Context, _ *support.Context, system string) bool {
	return c.probe(ctx, "CodeSystem", system)
}

// IsValueSetSupported implements support.ValueSetSupporter.
func (c *Client) IsValueSetSupported(ctx context.Context, _ *support.Context, valueSetURL string) bool {
	return c.probe(ctx, "ValueSet", valueSetURL)
}

func (c *Client) probe(ctx context.Context, resourceType, canonical string) bool {
	if canonical == "" {
		return false
	}
	key := resourceType + "|" + canonical
	c.mu.RLock()
	known, ok := c.probes[key]
	c.mu.RUnlock()
	if ok {
		return known
	}

	query := url.Values{"url": {canonical}, "_summary": {"true"}}
	var bundle searchBundle
	if err := c.get(ctx, resourceType, query, &bundle); err != nil {
		// Transient failures are not remembered.
		c.logger.Debug().Err(err).Str("url", canonical).Msg("support probe failed")
		return false
	}
	known = len(bundle.Entry) > 0 || (bundle.Total != nil && *bundle.Total > 0)

	c.mu.Lock()
	c.probes[key] = known
	c.mu.Unlock()
	return known
}

var (
	_ support.Module                     = (*Client)(nil)
	_ support.RemoteTerminologyIndicator = (*Client)(nil)
	_ support.CodeValidator              = (*Client)(nil)
	_ support.ValueSetCodeValidator      = (*Client)(nil)
	_ support.CodeLookup                 = (*Client)(nil)
	_ support.ValueSetExpander           = (*Client)(nil)
	_ support.ConceptTranslator          = (*Client)(nil)
	_ support.CodeSystemFetcher          = (*Client)(nil)
	_ support.ValueSetFetcher            = (*Client)(nil)
	_ support.CodeSystemSupporter        = (*Client)(nil)
	_ support.ValueSetSupporter          = (*Client)(nil)
	_ support.CacheInvalidator           = (*Client)(nil)
)
