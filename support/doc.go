// Package support defines validation support modules and the chain that
// dispatches to them.
//
// A module is any value with a Name method. Its capabilities are the small
// interfaces it chooses to implement (ValueSetFetcher, CodeValidator,
// CodeLookup and so on). The Chain asks modules in order and combines their
// answers according to DispatchPolicies:
//
//   - first-non-absent: fetches, expansion, validation, lookup and snapshot
//     generation return the first non-nil answer
//   - first-true: the Is*Supported probes return true on the first yes
//   - aggregate: bulk listings and translations merge every module's answer
//   - broadcast: InvalidateCaches reaches every module
//
// Modules that need to consult their siblings do so through the *Context they
// are given, whose Root is the chain.
//
// Example:
//
//	chain := support.NewChain(vs.NewFhirContext(vs.R4),
//	    support.WithModules(inMemory, remoteClient),
//	    support.WithLogger(log),
//	)
//
//	res, err := chain.ValidateCode(ctx, support.ConceptValidationOptions{},
//	    "http://loinc.org", "1234-5", "", "")
//	if err != nil {
//	    return err
//	}
//	if res == nil {
//	    // no module had an opinion
//	}
package support
