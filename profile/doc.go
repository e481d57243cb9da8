// Package profile provides validation support modules for conformance
// resources: an in-memory store of StructureDefinitions and
// SearchParameters, and a snapshot generator for constraint profiles.
//
// Example usage:
//
//	profiles := profile.NewSupport()
//	if _, err := profiles.LoadFromDirectory("./packages/hl7.fhir.r4.core"); err != nil {
//		return err
//	}
//	chain := support.NewChain(nil, support.WithModules(profiles, profile.NewSnapshotGenerator()))
//	sd, err := chain.GenerateSnapshot(ctx, myProfile, "", "", "")
package profile
