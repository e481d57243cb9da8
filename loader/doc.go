// Package loader reads conformance and terminology resources from a Source
// and hands them to the modules that serve them.
//
// A Source lists and opens named JSON documents. DirSource reads a
// directory tree (FHIR package layout included), FSSource reads any fs.FS
// and S3Source reads a bucket prefix. Each document is a single resource or
// a Bundle of them.
//
// Resources are dispatched by type to every sink that accepts them:
//
//	mem := terminology.NewInMemorySupport(vs.R4)
//	profiles := profile.NewSupport()
//	stats, err := loader.Load(ctx, loader.NewDirSource("./package"), mem, profiles)
//
// CodeSystems reach the sinks before ValueSets so that filter expansion can
// see them. Documents are read and decoded concurrently; dispatch is
// sequential.
//
// BinarySupport exposes a Source to the validation support chain through
// FetchBinary.
package loader
