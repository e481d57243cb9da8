package support

import (
	"context"

	"github.com/gofhir/fhir/r4"

	vs "github.com/gofhir/validationsupport"
)

// URLPrefixValueSet is the canonical prefix of core FHIR ValueSets.
const URLPrefixValueSet = "http://hl7.org/fhir/ValueSet/"

// URLPrefixStructureDefinition is the canonical prefix of core FHIR StructureDefinitions.
const URLPrefixStructureDefinition = "http://hl7.org/fhir/StructureDefinition/"

// Module is a unit of validation support. Besides Name, a module implements
// any subset of the capability interfaces below; the chain only calls the
// ones it implements.
//
// A module signals "no opinion" by not implementing an interface, by returning
// a nil result, or by returning an error matching ErrNotSupported. Any other
// error, a *NotFoundError included, is fatal for the operation.
type Module interface {
	// Name identifies the module in logs. It is never used for dispatch.
	Name() string
}

// DefaultName is the name of a module that has nothing better to report.
func DefaultName(fc *vs.FhirContext) string {
	version := vs.R4
	if fc != nil {
		version = fc.Version()
	}
	return "Unknown " + version.String() + " Validation Support"
}

// ValueSetFetcher resolves ValueSets by canonical URL.
type ValueSetFetcher interface {
	FetchValueSet(ctx context.Context, url string) (*r4.ValueSet, error)
}

// CodeSystemFetcher resolves CodeSystems by system URL.
type CodeSystemFetcher interface {
	FetchCodeSystem(ctx context.Context, system string) (*r4.CodeSystem, error)
}

// StructureDefinitionFetcher resolves StructureDefinitions by canonical URL.
type StructureDefinitionFetcher interface {
	FetchStructureDefinition(ctx context.Context, url string) (*r4.StructureDefinition, error)
}

// ResourceFetcher resolves arbitrary conformance resources. resourceType may
// be empty.
type ResourceFetcher interface {
	FetchResource(ctx context.Context, resourceType, uri string) (any, error)
}

// ConformanceResourceLister bulk-loads every conformance resource a module holds.
type ConformanceResourceLister interface {
	FetchAllConformanceResources(ctx context.Context) ([]any, error)
}

// SearchParameterLister bulk-loads SearchParameters.
type SearchParameterLister interface {
	FetchAllSearchParameters(ctx context.Context) ([]*r4.SearchParameter, error)
}

// StructureDefinitionLister bulk-loads StructureDefinitions.
type StructureDefinitionLister interface {
	FetchAllStructureDefinitions(ctx context.Context) ([]*r4.StructureDefinition, error)
}

// CodeSystemSupporter reports whether a module can validate codes of a system.
// It must not expand or fetch remotely as a side effect.
type CodeSystemSupporter interface {
	IsCodeSystemSupported(ctx context.Context, sc *Context, system string) bool
}

// ValueSetSupporter reports whether a module can validate codes against a ValueSet.
type ValueSetSupporter interface {
	IsValueSetSupported(ctx context.Context, sc *Context, url string) bool
}

// ValueSetExpander expands a ValueSet resource.
type ValueSetExpander interface {
	ExpandValueSet(ctx context.Context, sc *Context, opts *ValueSetExpansionOptions, valueSet *r4.ValueSet) (*ValueSetExpansionOutcome, error)
}

// CodeValidator validates a code against a system and, optionally, a ValueSet URL.
type CodeValidator interface {
	ValidateCode(ctx context.Context, sc *Context, opts ConceptValidationOptions, system, code, display, valueSetURL string) (*CodeValidationResult, error)
}

// ValueSetCodeValidator validates a code against a ValueSet resource.
type ValueSetCodeValidator interface {
	ValidateCodeInValueSet(ctx context.Context, sc *Context, opts ConceptValidationOptions, system, code, display string, valueSet *r4.ValueSet) (*CodeValidationResult, error)
}

// CodeLookup looks up a code.
type CodeLookup interface {
	LookupCode(ctx context.Context, sc *Context, req LookupCodeRequest) (*LookupCodeResult, error)
}

// ConceptTranslator translates codings through concept maps.
type ConceptTranslator interface {
	TranslateConcept(ctx context.Context, req *TranslateCodeRequest) (*TranslateConceptResults, error)
}

// SnapshotGenerator produces a snapshot from a differential profile.
type SnapshotGenerator interface {
	GenerateSnapshot(ctx context.Context, sc *Context, differential *r4.StructureDefinition, url, webURL, profileName string) (*r4.StructureDefinition, error)
}

// CacheInvalidator clears internal memoization. It must be safe to call
// concurrently with lookups.
type CacheInvalidator interface {
	InvalidateCaches()
}

// RemoteTerminologyIndicator is implemented by modules that call out to a
// remote terminology server.
type RemoteTerminologyIndicator interface {
	IsRemoteTerminologyServiceConfigured() bool
}

// BinaryFetcher resolves binary content by key.
type BinaryFetcher interface {
	FetchBinary(ctx context.Context, key string) ([]byte, error)
}

// CodingsPolicy exposes the multi-coding validation policy: false means every
// coding must validate, true means one valid coding suffices.
type CodingsPolicy interface {
	IsEnabledValidationForCodingsLogicalAnd() bool
}
