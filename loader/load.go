package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/gofhir/fhir/r4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Sinks receive decoded resources. A sink implements any subset.
type (
	CodeSystemSink interface {
		AddCodeSystem(cs *r4.CodeSystem) error
	}
	ValueSetSink interface {
		AddValueSet(vs *r4.ValueSet) error
	}
	StructureDefinitionSink interface {
		AddStructureDefinition(sd *r4.StructureDefinition) error
	}
	SearchParameterSink interface {
		AddSearchParameter(sp *r4.SearchParameter) error
	}
	// ConceptMapSink takes the raw ConceptMap JSON.
	ConceptMapSink interface {
		LoadJSON(data []byte) error
	}
	// CodeSystemStore and ValueSetStore are persistent sinks such as the
	// SQLite store.
	CodeSystemStore interface {
		PutCodeSystem(ctx context.Context, cs *r4.CodeSystem) error
	}
	ValueSetStore interface {
		PutValueSet(ctx context.Context, vs *r4.ValueSet) error
	}
)

// LoadStats counts what a Load delivered. Counters are per resource, not per
// sink.
type LoadStats struct {
	Files                int64
	CodeSystems          int64
	ValueSets            int64
	StructureDefinitions int64
	SearchParameters     int64
	ConceptMaps          int64
	Skipped              int64
	Errors               int64
}

// Total returns the number of resources delivered.
func (s *LoadStats) Total() int64 {
	return s.CodeSystems + s.ValueSets + s.StructureDefinitions + s.SearchParameters + s.ConceptMaps
}

// Options tunes Load.
type Options struct {
	// Workers bounds concurrent reads. Zero means GOMAXPROCS.
	Workers int
	Logger  zerolog.Logger
}

// resource is one decoded document entry.
type resource struct {
	name string
	kind string
	data json.RawMessage
}

// dispatch order: terminology before the resources whose expansion needs it.
var loadOrder = []string{"CodeSystem", "ValueSet", "ConceptMap", "StructureDefinition", "SearchParameter"}

// Load reads every document of src and delivers its resources to sinks.
// Unreadable documents and rejected resources are counted and logged; only
// listing failures and cancellation abort the load.
func Load(ctx context.Context, src Source, sinks ...any) (*LoadStats, error) {
	return LoadWithOptions(ctx, src, Options{Logger: zerolog.Nop()}, sinks...)
}

// LoadWithOptions is Load with explicit options.
func LoadWithOptions(ctx context.Context, src Source, opts Options, sinks ...any) (*LoadStats, error) {
	names, err := src.List(ctx)
	if err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	stats := &LoadStats{}
	decoded := make([][]resource, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := readAll(gctx, src, name)
			if err != nil {
				atomic.AddInt64(&stats.Errors, 1)
				opts.Logger.Warn().Err(err).Str("file", name).Msg("failed to read resource file")
				return nil
			}
			atomic.AddInt64(&stats.Files, 1)
			res, err := split(name, data)
			if err != nil {
				atomic.AddInt64(&stats.Errors, 1)
				opts.Logger.Warn().Err(err).Str("file", name).Msg("failed to decode resource file")
				return nil
			}
			decoded[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	byKind := make(map[string][]resource)
	for _, res := range decoded {
		for _, r := range res {
			byKind[r.kind] = append(byKind[r.kind], r)
		}
	}

	for _, kind := range loadOrder {
		for _, r := range byKind[kind] {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			delivered, err := deliver(ctx, r, sinks)
			switch {
			case err != nil:
				atomic.AddInt64(&stats.Errors, 1)
				opts.Logger.Warn().Err(err).Str("file", r.name).Str("resourceType", r.kind).Msg("failed to load resource")
			case !delivered:
				stats.Skipped++
			default:
				stats.count(kind)
			}
		}
		delete(byKind, kind)
	}
	for _, rest := range byKind {
		stats.Skipped += int64(len(rest))
	}

	opts.Logger.Info().
		Int64("files", stats.Files).
		Int64("codeSystems", stats.CodeSystems).
		Int64("valueSets", stats.ValueSets).
		Int64("structureDefinitions", stats.StructureDefinitions).
		Int64("errors", stats.Errors).
		Msg("resources loaded")
	return stats, nil
}

func (s *LoadStats) count(kind string) {
	switch kind {
	case "CodeSystem":
		s.CodeSystems++
	case "ValueSet":
		s.ValueSets++
	case "ConceptMap":
		s.ConceptMaps++
	case "StructureDefinition":
		s.StructureDefinitions++
	case "SearchParameter":
		s.SearchParameters++
	}
}

// split returns the resources of a document: itself, or a Bundle's entries.
func split(name string, data []byte) ([]resource, error) {
	var probe struct {
		ResourceType string `json:"resourceType"`
		Entry        []struct {
			Resource json.RawMessage `json:"resource"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}
	if probe.ResourceType != "Bundle" {
		return []resource{{name: name, kind: probe.ResourceType, data: data}}, nil
	}

	out := make([]resource, 0, len(probe.Entry))
	for i, e := range probe.Entry {
		if len(e.Resource) == 0 {
			continue
		}
		var entry struct {
			ResourceType string `json:"resourceType"`
		}
		if err := json.Unmarshal(e.Resource, &entry); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out = append(out, resource{name: fmt.Sprintf("%s#%d", name, i), kind: entry.ResourceType, data: e.Resource})
	}
	return out, nil
}

// deliver decodes r once and passes it to every sink that takes its type.
func deliver(ctx context.Context, r resource, sinks []any) (bool, error) {
	delivered := false
	switch r.kind {
	case "CodeSystem":
		var cs r4.CodeSystem
		if err := json.Unmarshal(r.data, &cs); err != nil {
			return false, err
		}
		for _, s := range sinks {
			var err error
			switch sink := s.(type) {
			case CodeSystemSink:
				err = sink.AddCodeSystem(&cs)
			case CodeSystemStore:
				err = sink.PutCodeSystem(ctx, &cs)
			default:
				continue
			}
			if err != nil {
				return delivered, err
			}
			delivered = true
		}
	case "ValueSet":
		var vs r4.ValueSet
		if err := json.Unmarshal(r.data, &vs); err != nil {
			return false, err
		}
		for _, s := range sinks {
			var err error
			switch sink := s.(type) {
			case ValueSetSink:
				err = sink.AddValueSet(&vs)
			case ValueSetStore:
				err = sink.PutValueSet(ctx, &vs)
			default:
				continue
			}
			if err != nil {
				return delivered, err
			}
			delivered = true
		}
	case "ConceptMap":
		for _, s := range sinks {
			if sink, ok := s.(ConceptMapSink); ok {
				if err := sink.LoadJSON(r.data); err != nil {
					return delivered, err
				}
				delivered = true
			}
		}
	case "StructureDefinition":
		var sd r4.StructureDefinition
		if err := json.Unmarshal(r.data, &sd); err != nil {
			return false, err
		}
		for _, s := range sinks {
			if sink, ok := s.(StructureDefinitionSink); ok {
				if err := sink.AddStructureDefinition(&sd); err != nil {
					return delivered, err
				}
				delivered = true
			}
		}
	case "SearchParameter":
		var sp r4.SearchParameter
		if err := json.Unmarshal(r.data, &sp); err != nil {
			return false, err
		}
		for _, s := range sinks {
			if sink, ok := s.(SearchParameterSink); ok {
				if err := sink.AddSearchParameter(&sp); err != nil {
					return delivered, err
				}
				delivered = true
			}
		}
	}
	return delivered, nil
}
