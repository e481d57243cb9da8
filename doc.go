// Package validationsupport provides a pluggable terminology and conformance
// support chain for FHIR validators and FHIRPath engines.
//
// A chain is an ordered list of modules. Each module implements any subset of
// small capability interfaces (fetch a ValueSet, look up a code, expand, validate,
// translate, generate a snapshot). The chain dispatches every call to its modules
// in order and returns the first answer; boolean probes return the first true.
// Modules receive a support context so they can call back into the whole chain,
// e.g. an expander asking a sibling module for a CodeSystem.
//
// # Quick Start
//
//	import (
//	    vs "github.com/gofhir/validationsupport"
//	    "github.com/gofhir/validationsupport/support"
//	    "github.com/gofhir/validationsupport/terminology"
//	)
//
//	mem := terminology.NewInMemorySupport(vs.R4)
//	if _, err := mem.LoadFromDirectory("./terminology"); err != nil {
//	    log.Fatal(err)
//	}
//
//	chain := support.NewChain(vs.NewFhirContext(vs.R4),
//	    support.WithModules(terminology.NewCachingSupport(mem)),
//	)
//
//	res, err := chain.LookupCode(ctx, support.LookupCodeRequest{
//	    System: "http://hl7.org/fhir/administrative-gender",
//	    Code:   "male",
//	})
//	params, err := res.ToParameters(chain.FhirContext(), nil)
//
// # Packages
//
//   - support: capability interfaces, chain, result types, Parameters
//   - terminology: in-memory terminology, caching wrapper, ConceptMap translation
//   - profile: StructureDefinition store and snapshot generation
//   - remote: remote terminology server client module
//   - store/postgres, store/sqlite: SQL-backed terminology modules
//   - binding: FHIRPath-driven binding checks with AND/OR coding policy
//   - loader: directory, embed.FS and S3 sources for conformance bundles
//   - registry: FHIR package download and dependency resolution
//   - server: $lookup, $validate-code, $expand and $translate over HTTP
//   - cmd/txsupport: CLI to serve, query and import terminology
package validationsupport
