package support

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofhir/fhir/r4"
	"github.com/rs/zerolog"

	vs "github.com/gofhir/validationsupport"
)

// Operation names, used for logging, metrics and the dispatch policy table.
const (
	OpFetchValueSet                 = "FetchValueSet"
	OpFetchCodeSystem               = "FetchCodeSystem"
	OpFetchStructureDefinition      = "FetchStructureDefinition"
	OpFetchResource                 = "FetchResource"
	OpFetchAllConformanceResources  = "FetchAllConformanceResources"
	OpFetchAllSearchParameters      = "FetchAllSearchParameters"
	OpFetchAllStructureDefinitions  = "FetchAllStructureDefinitions"
	OpIsCodeSystemSupported         = "IsCodeSystemSupported"
	OpIsValueSetSupported           = "IsValueSetSupported"
	OpExpandValueSet                = "ExpandValueSet"
	OpValidateCode                  = "ValidateCode"
	OpValidateCodeInValueSet        = "ValidateCodeInValueSet"
	OpLookupCode                    = "LookupCode"
	OpTranslateConcept              = "TranslateConcept"
	OpGenerateSnapshot              = "GenerateSnapshot"
	OpInvalidateCaches              = "InvalidateCaches"
	OpIsRemoteTerminologyConfigured = "IsRemoteTerminologyServiceConfigured"
	OpFetchBinary                   = "FetchBinary"
	OpIsCodingsLogicalAndEnabled    = "IsEnabledValidationForCodingsLogicalAnd"
)

// Policy is how the chain combines module answers for one operation.
type Policy int

const (
	// PolicyFirstNonAbsent returns the first non-nil module result.
	PolicyFirstNonAbsent Policy = iota
	// PolicyFirstTrue returns true as soon as one module says true.
	PolicyFirstTrue
	// PolicyAggregate merges the results of every answering module in order.
	PolicyAggregate
	// PolicyBroadcast calls every module and returns nothing.
	PolicyBroadcast
)

// DispatchPolicies is the explicit policy of every chain operation.
var DispatchPolicies = map[string]Policy{
	OpFetchValueSet:                 PolicyFirstNonAbsent,
	OpFetchCodeSystem:               PolicyFirstNonAbsent,
	OpFetchStructureDefinition:      PolicyFirstNonAbsent,
	OpFetchResource:                 PolicyFirstNonAbsent,
	OpFetchAllConformanceResources:  PolicyAggregate,
	OpFetchAllSearchParameters:      PolicyAggregate,
	OpFetchAllStructureDefinitions:  PolicyAggregate,
	OpIsCodeSystemSupported:         PolicyFirstTrue,
	OpIsValueSetSupported:           PolicyFirstTrue,
	OpExpandValueSet:                PolicyFirstNonAbsent,
	OpValidateCode:                  PolicyFirstNonAbsent,
	OpValidateCodeInValueSet:        PolicyFirstNonAbsent,
	OpLookupCode:                    PolicyFirstNonAbsent,
	OpTranslateConcept:              PolicyAggregate,
	OpGenerateSnapshot:              PolicyFirstNonAbsent,
	OpInvalidateCaches:              PolicyBroadcast,
	OpIsRemoteTerminologyConfigured: PolicyFirstTrue,
	OpFetchBinary:                   PolicyFirstNonAbsent,
	OpIsCodingsLogicalAndEnabled:    PolicyFirstTrue,
}

// Chain dispatches every operation to an ordered list of modules.
// It is safe for concurrent use; modules may be added while calls are in flight.
type Chain struct {
	fc      *vs.FhirContext
	logger  zerolog.Logger
	metrics *vs.Metrics

	mu      sync.RWMutex
	modules []Module

	sc *Context
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithModules appends modules in order.
func WithModules(modules ...Module) ChainOption {
	return func(c *Chain) {
		c.modules = append(c.modules, modules...)
	}
}

// WithLogger sets the logger used for dispatch tracing.
func WithLogger(logger zerolog.Logger) ChainOption {
	return func(c *Chain) {
		c.logger = logger
	}
}

// WithMetrics records every dispatch in m.
func WithMetrics(m *vs.Metrics) ChainOption {
	return func(c *Chain) {
		c.metrics = m
	}
}

// NewChain creates a chain for the given FHIR context. A nil context
// defaults to R4.
func NewChain(fc *vs.FhirContext, opts ...ChainOption) *Chain {
	if fc == nil {
		fc = vs.NewFhirContext(vs.R4)
	}
	c := &Chain{
		fc:     fc,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.sc = NewContext(c)
	return c
}

// AddModule appends a module to the end of the chain.
func (c *Chain) AddModule(m Module) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules = append(c.modules, m)
}

// Modules returns the modules in dispatch order.
func (c *Chain) Modules() []Module {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Module, len(c.modules))
	copy(out, c.modules)
	return out
}

// FhirContext returns the chain's FHIR context.
func (c *Chain) FhirContext() *vs.FhirContext {
	return c.fc
}

// Context returns the support context handed to modules.
func (c *Chain) Context() *Context {
	return c.sc
}

// Name lists the names of the chained modules.
func (c *Chain) Name() string {
	modules := c.Modules()
	names := make([]string, 0, len(modules))
	for _, m := range modules {
		names = append(names, m.Name())
	}
	return "ValidationSupportChain[" + strings.Join(names, ", ") + "]"
}

// --- dispatch ---

func (c *Chain) record(op string, start time.Time, outcome vs.Outcome) {
	if c.metrics != nil {
		c.metrics.RecordOperation(op, time.Since(start), outcome)
	}
}

func (c *Chain) fail(op string, start time.Time, m Module, err error) error {
	c.record(op, start, vs.OutcomeError)
	c.logger.Debug().Err(err).Str("operation", op).Str("module", m.Name()).Msg("module failed")
	return fmt.Errorf("%s via %s: %w", op, m.Name(), err)
}

// firstNonAbsent returns the first result a module reports as present.
func firstNonAbsent[C any, R any](c *Chain, op string, call func(C) (R, bool, error)) (R, error) {
	start := time.Now()
	var zero R
	for _, m := range c.Modules() {
		impl, ok := m.(C)
		if !ok {
			continue
		}
		res, present, err := call(impl)
		if err != nil {
			if IsNoOpinion(err) {
				continue
			}
			return zero, c.fail(op, start, m, err)
		}
		if present {
			c.record(op, start, vs.OutcomeAnswered)
			c.logger.Debug().Str("operation", op).Str("module", m.Name()).Msg("answered")
			return res, nil
		}
	}
	c.record(op, start, vs.OutcomeNoOpinion)
	return zero, nil
}

// aggregate collects every present module result in chain order.
func aggregate[C any, R any](c *Chain, op string, call func(C) (R, bool, error)) ([]R, error) {
	start := time.Now()
	var out []R
	for _, m := range c.Modules() {
		impl, ok := m.(C)
		if !ok {
			continue
		}
		res, present, err := call(impl)
		if err != nil {
			if IsNoOpinion(err) {
				continue
			}
			return nil, c.fail(op, start, m, err)
		}
		if present {
			out = append(out, res)
		}
	}
	if out == nil {
		c.record(op, start, vs.OutcomeNoOpinion)
	} else {
		c.record(op, start, vs.OutcomeAnswered)
	}
	return out, nil
}

// firstTrue returns true as soon as one module answers true.
func firstTrue[C any](c *Chain, op string, call func(C) bool) bool {
	start := time.Now()
	for _, m := range c.Modules() {
		impl, ok := m.(C)
		if !ok {
			continue
		}
		if call(impl) {
			c.record(op, start, vs.OutcomeAnswered)
			c.logger.Debug().Str("operation", op).Str("module", m.Name()).Msg("answered true")
			return true
		}
	}
	c.record(op, start, vs.OutcomeNoOpinion)
	return false
}

// --- fetch ---

// FetchValueSet resolves a ValueSet by canonical URL. A nil result means no
// module knows it.
func (c *Chain) FetchValueSet(ctx context.Context, url string) (*r4.ValueSet, error) {
	return firstNonAbsent(c, OpFetchValueSet, func(m ValueSetFetcher) (*r4.ValueSet, bool, error) {
		res, err := m.FetchValueSet(ctx, url)
		return res, res != nil, err
	})
}

// FetchCodeSystem resolves a CodeSystem by system URL.
func (c *Chain) FetchCodeSystem(ctx context.Context, system string) (*r4.CodeSystem, error) {
	return firstNonAbsent(c, OpFetchCodeSystem, func(m CodeSystemFetcher) (*r4.CodeSystem, bool, error) {
		res, err := m.FetchCodeSystem(ctx, system)
		return res, res != nil, err
	})
}

// FetchStructureDefinition resolves a StructureDefinition by canonical URL.
func (c *Chain) FetchStructureDefinition(ctx context.Context, url string) (*r4.StructureDefinition, error) {
	return firstNonAbsent(c, OpFetchStructureDefinition, func(m StructureDefinitionFetcher) (*r4.StructureDefinition, bool, error) {
		res, err := m.FetchStructureDefinition(ctx, url)
		return res, res != nil, err
	})
}

// FetchResource resolves a conformance resource. With an empty resourceType
// it probes StructureDefinition, ValueSet and CodeSystem in that order. When
// nothing resolves, the error is a *NotFoundError carrying uri.
func (c *Chain) FetchResource(ctx context.Context, resourceType, uri string) (any, error) {
	res, err := c.fetchTyped(ctx, resourceType, uri)
	if err != nil {
		return nil, err
	}

	if res == nil {
		res, err = firstNonAbsent(c, OpFetchResource, func(m ResourceFetcher) (any, bool, error) {
			r, err := m.FetchResource(ctx, resourceType, uri)
			return r, r != nil, err
		})
		if err != nil {
			return nil, err
		}
	}

	if res == nil && resourceType != "" && resourceType != "ValueSet" && strings.HasPrefix(uri, URLPrefixValueSet) {
		valueSet, err := c.FetchValueSet(ctx, uri)
		if err != nil {
			return nil, err
		}
		if valueSet != nil {
			res = valueSet
		}
	}

	if res == nil {
		kind := resourceType
		if kind == "" {
			kind = "Resource"
		}
		return nil, NewNotFoundError(kind, uri)
	}
	return res, nil
}

// fetchTyped dispatches to the typed fetchers. It never returns a typed nil.
func (c *Chain) fetchTyped(ctx context.Context, resourceType, uri string) (any, error) {
	switch resourceType {
	case "":
		for _, t := range []string{"StructureDefinition", "ValueSet", "CodeSystem"} {
			res, err := c.fetchTyped(ctx, t, uri)
			if err != nil || res != nil {
				return res, err
			}
		}
	case "StructureDefinition":
		sd, err := c.FetchStructureDefinition(ctx, uri)
		if err != nil || sd == nil {
			return nil, err
		}
		return sd, nil
	case "ValueSet":
		valueSet, err := c.FetchValueSet(ctx, uri)
		if err != nil || valueSet == nil {
			return nil, err
		}
		return valueSet, nil
	case "CodeSystem":
		cs, err := c.FetchCodeSystem(ctx, uri)
		if err != nil || cs == nil {
			return nil, err
		}
		return cs, nil
	}
	return nil, nil
}

// FetchAllConformanceResources merges the conformance resources of every
// module. nil means no module supports bulk loading.
func (c *Chain) FetchAllConformanceResources(ctx context.Context) ([]any, error) {
	parts, err := aggregate(c, OpFetchAllConformanceResources, func(m ConformanceResourceLister) ([]any, bool, error) {
		res, err := m.FetchAllConformanceResources(ctx)
		return res, res != nil, err
	})
	if err != nil || parts == nil {
		return nil, err
	}
	out := []any{}
	for _, p := range parts {
		out = append(out, p...)
	}
	return out, nil
}

// FetchAllSearchParameters merges the SearchParameters of every module.
func (c *Chain) FetchAllSearchParameters(ctx context.Context) ([]*r4.SearchParameter, error) {
	parts, err := aggregate(c, OpFetchAllSearchParameters, func(m SearchParameterLister) ([]*r4.SearchParameter, bool, error) {
		res, err := m.FetchAllSearchParameters(ctx)
		return res, res != nil, err
	})
	if err != nil || parts == nil {
		return nil, err
	}
	out := []*r4.SearchParameter{}
	for _, p := range parts {
		out = append(out, p...)
	}
	return out, nil
}

// FetchAllStructureDefinitions merges the StructureDefinitions of every
// module. A URL already returned by an earlier module is skipped.
func (c *Chain) FetchAllStructureDefinitions(ctx context.Context) ([]*r4.StructureDefinition, error) {
	parts, err := aggregate(c, OpFetchAllStructureDefinitions, func(m StructureDefinitionLister) ([]*r4.StructureDefinition, bool, error) {
		res, err := m.FetchAllStructureDefinitions(ctx)
		return res, res != nil, err
	})
	if err != nil || parts == nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	out := []*r4.StructureDefinition{}
	for _, p := range parts {
		for _, sd := range p {
			if sd == nil {
				continue
			}
			if sd.Url != nil {
				if _, dup := seen[*sd.Url]; dup {
					continue
				}
				seen[*sd.Url] = struct{}{}
			}
			out = append(out, sd)
		}
	}
	return out, nil
}

// FetchAllNonBaseStructureDefinitions returns FetchAllStructureDefinitions
// without the core definitions of the active version's resource types,
// preserving order.
func (c *Chain) FetchAllNonBaseStructureDefinitions(ctx context.Context) ([]*r4.StructureDefinition, error) {
	all, err := c.FetchAllStructureDefinitions(ctx)
	if err != nil || all == nil {
		return nil, err
	}
	return FilterNonBaseStructureDefinitions(c.fc, all), nil
}

// FilterNonBaseStructureDefinitions drops every definition whose URL is
// http://hl7.org/fhir/StructureDefinition/<T> for a resource type T of fc.
func FilterNonBaseStructureDefinitions(fc *vs.FhirContext, sds []*r4.StructureDefinition) []*r4.StructureDefinition {
	out := make([]*r4.StructureDefinition, 0, len(sds))
	for _, sd := range sds {
		if sd != nil && sd.Url != nil && strings.HasPrefix(*sd.Url, URLPrefixStructureDefinition) {
			if fc.IsResourceType(strings.TrimPrefix(*sd.Url, URLPrefixStructureDefinition)) {
				continue
			}
		}
		out = append(out, sd)
	}
	return out
}

// FetchBinary resolves binary content by key.
func (c *Chain) FetchBinary(ctx context.Context, key string) ([]byte, error) {
	return firstNonAbsent(c, OpFetchBinary, func(m BinaryFetcher) ([]byte, bool, error) {
		res, err := m.FetchBinary(ctx, key)
		return res, res != nil, err
	})
}

// --- probes ---

// IsCodeSystemSupported reports whether any module supports the system.
func (c *Chain) IsCodeSystemSupported(ctx context.Context, system string) bool {
	return firstTrue(c, OpIsCodeSystemSupported, func(m CodeSystemSupporter) bool {
		return m.IsCodeSystemSupported(ctx, c.sc, system)
	})
}

// IsValueSetSupported reports whether any module supports the ValueSet.
func (c *Chain) IsValueSetSupported(ctx context.Context, url string) bool {
	return firstTrue(c, OpIsValueSetSupported, func(m ValueSetSupporter) bool {
		return m.IsValueSetSupported(ctx, c.sc, url)
	})
}

// IsRemoteTerminologyServiceConfigured reports whether any module talks to a
// remote terminology server.
func (c *Chain) IsRemoteTerminologyServiceConfigured() bool {
	return firstTrue(c, OpIsRemoteTerminologyConfigured, func(m RemoteTerminologyIndicator) bool {
		return m.IsRemoteTerminologyServiceConfigured()
	})
}

// IsEnabledValidationForCodingsLogicalAnd reports whether any module asks for
// OR semantics when validating several codings.
func (c *Chain) IsEnabledValidationForCodingsLogicalAnd() bool {
	return firstTrue(c, OpIsCodingsLogicalAndEnabled, func(m CodingsPolicy) bool {
		return m.IsEnabledValidationForCodingsLogicalAnd()
	})
}

// --- terminology ---

// ExpandValueSet expands a ValueSet resource. nil opts means defaults.
func (c *Chain) ExpandValueSet(ctx context.Context, opts *ValueSetExpansionOptions, valueSet *r4.ValueSet) (*ValueSetExpansionOutcome, error) {
	if opts == nil {
		opts = DefaultExpansionOptions()
	}
	return firstNonAbsent(c, OpExpandValueSet, func(m ValueSetExpander) (*ValueSetExpansionOutcome, bool, error) {
		res, err := m.ExpandValueSet(ctx, c.sc, opts, valueSet)
		return res, res != nil, err
	})
}

// ExpandValueSetByURL resolves url through the chain and expands it. An
// unresolvable URL yields a *NotFoundError.
func (c *Chain) ExpandValueSetByURL(ctx context.Context, opts *ValueSetExpansionOptions, url string) (*ValueSetExpansionOutcome, error) {
	valueSet, err := c.FetchValueSet(ctx, url)
	if err != nil {
		return nil, err
	}
	if valueSet == nil {
		return nil, NewNotFoundError("ValueSet", url)
	}
	return c.ExpandValueSet(ctx, opts, valueSet)
}

// ValidateCode validates a code against a system and optionally a ValueSet.
func (c *Chain) ValidateCode(ctx context.Context, opts ConceptValidationOptions, system, code, display, valueSetURL string) (*CodeValidationResult, error) {
	return firstNonAbsent(c, OpValidateCode, func(m CodeValidator) (*CodeValidationResult, bool, error) {
		res, err := m.ValidateCode(ctx, c.sc, opts, system, code, display, valueSetURL)
		return res, res != nil, err
	})
}

// ValidateCodeInValueSet validates a code against a ValueSet resource.
func (c *Chain) ValidateCodeInValueSet(ctx context.Context, opts ConceptValidationOptions, system, code, display string, valueSet *r4.ValueSet) (*CodeValidationResult, error) {
	return firstNonAbsent(c, OpValidateCodeInValueSet, func(m ValueSetCodeValidator) (*CodeValidationResult, bool, error) {
		res, err := m.ValidateCodeInValueSet(ctx, c.sc, opts, system, code, display, valueSet)
		return res, res != nil, err
	})
}

// LookupCode looks up a code. When no module answers, the result is a
// not-found result rather than nil.
func (c *Chain) LookupCode(ctx context.Context, req LookupCodeRequest) (*LookupCodeResult, error) {
	res, err := firstNonAbsent(c, OpLookupCode, func(m CodeLookup) (*LookupCodeResult, bool, error) {
		res, err := m.LookupCode(ctx, c.sc, req)
		return res, res != nil, err
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return LookupCodeNotFound(req.System, req.Code), nil
	}
	return res, nil
}

// LookupCodeWithLanguage looks up a code with a display language.
//
// Deprecated: use LookupCode.
func (c *Chain) LookupCodeWithLanguage(ctx context.Context, system, code, displayLanguage string) (*LookupCodeResult, error) {
	return c.LookupCode(ctx, LookupCodeRequest{System: system, Code: code, DisplayLanguage: displayLanguage})
}

// LookupCodeSimple looks up a code by system and code.
//
// Deprecated: use LookupCode.
func (c *Chain) LookupCodeSimple(ctx context.Context, system, code string) (*LookupCodeResult, error) {
	return c.LookupCodeWithLanguage(ctx, system, code, "")
}

// TranslateConcept merges the translations of every module. Result is true
// if any module found a match.
func (c *Chain) TranslateConcept(ctx context.Context, req *TranslateCodeRequest) (*TranslateConceptResults, error) {
	parts, err := aggregate(c, OpTranslateConcept, func(m ConceptTranslator) (*TranslateConceptResults, bool, error) {
		res, err := m.TranslateConcept(ctx, req)
		return res, res != nil, err
	})
	if err != nil || parts == nil {
		return nil, err
	}
	out := &TranslateConceptResults{}
	for _, p := range parts {
		out.Result = out.Result || p.Result
		if out.Message == "" {
			out.Message = p.Message
		}
		out.Results = append(out.Results, p.Results...)
	}
	if out.Result {
		out.Message = ""
		for _, p := range parts {
			if p.Result && p.Message != "" {
				out.Message = p.Message
				break
			}
		}
	}
	return out, nil
}

// GenerateSnapshot produces a snapshot profile from a differential.
func (c *Chain) GenerateSnapshot(ctx context.Context, differential *r4.StructureDefinition, url, webURL, profileName string) (*r4.StructureDefinition, error) {
	return firstNonAbsent(c, OpGenerateSnapshot, func(m SnapshotGenerator) (*r4.StructureDefinition, bool, error) {
		res, err := m.GenerateSnapshot(ctx, c.sc, differential, url, webURL, profileName)
		return res, res != nil, err
	})
}

// InvalidateCaches clears the caches of every module.
func (c *Chain) InvalidateCaches() {
	start := time.Now()
	for _, m := range c.Modules() {
		if ci, ok := m.(CacheInvalidator); ok {
			ci.InvalidateCaches()
		}
	}
	c.record(OpInvalidateCaches, start, vs.OutcomeAnswered)
}
