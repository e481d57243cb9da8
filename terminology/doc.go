// Package terminology provides validation support modules that answer
// terminology questions from local data.
//
// The package provides:
//   - InMemorySupport: fetches, validates, looks up and expands against
//     locally loaded CodeSystems and ValueSets, with common code systems
//     pre-loaded
//   - ConceptMapSupport: $translate over ConceptMaps loaded from JSON or YAML
//   - CachingSupport: memoizes any module, optionally sharing lookups
//     through a Redis backend
//
// Example usage:
//
//	mem := terminology.NewInMemorySupport(vs.R4)
//	if _, err := mem.LoadFromDirectory("./packages/hl7.fhir.r4.core"); err != nil {
//		return err
//	}
//
//	chain := support.NewChain(vs.NewFhirContext(vs.R4),
//		support.WithModules(terminology.NewCachingSupport(mem)))
//	result, err := chain.ValidateCode(ctx, support.ConceptValidationOptions{},
//		"http://hl7.org/fhir/administrative-gender", "male", "",
//		"http://hl7.org/fhir/ValueSet/administrative-gender")
package terminology
