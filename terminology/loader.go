package terminology

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/gofhir/fhir/r4"
)

// LoadStats counts what a load call did.
type LoadStats struct {
	CodeSystemsLoaded int64
	ValueSetsLoaded   int64
	Skipped           int64
	Errors            int64
}

// Add accumulates other into s.
func (s *LoadStats) Add(other *LoadStats) {
	if other == nil {
		return
	}
	s.CodeSystemsLoaded += other.CodeSystemsLoaded
	s.ValueSetsLoaded += other.ValueSetsLoaded
	s.Skipped += other.Skipped
	s.Errors += other.Errors
}

type resourceProbe struct {
	ResourceType string `json:"resourceType"`
}

type bundle struct {
	ResourceType string `json:"resourceType"`
	Entry        []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

// LoadFromJSON loads a CodeSystem, a ValueSet or a Bundle of them. Other
// resource types are counted as skipped.
func (s *InMemorySupport) LoadFromJSON(data []byte) (*LoadStats, error) {
	var probe resourceProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	stats := &LoadStats{}
	switch probe.ResourceType {
	case "Bundle":
		return s.LoadBundle(data)
	case "CodeSystem":
		var cs r4.CodeSystem
		if err := json.Unmarshal(data, &cs); err != nil {
			return nil, fmt.Errorf("failed to parse CodeSystem: %w", err)
		}
		if err := s.AddCodeSystem(&cs); err != nil {
			stats.Errors++
			return stats, err
		}
		stats.CodeSystemsLoaded++
	case "ValueSet":
		var valueSet r4.ValueSet
		if err := json.Unmarshal(data, &valueSet); err != nil {
			return nil, fmt.Errorf("failed to parse ValueSet: %w", err)
		}
		if err := s.AddValueSet(&valueSet); err != nil {
			stats.Errors++
			return stats, err
		}
		stats.ValueSetsLoaded++
	default:
		stats.Skipped++
	}
	return stats, nil
}

// LoadBundle loads every CodeSystem and ValueSet entry of a Bundle. Entries
// that fail to parse are counted, not returned.
func (s *InMemorySupport) LoadBundle(data []byte) (*LoadStats, error) {
	var b bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("invalid bundle: %w", err)
	}
	if b.ResourceType != "Bundle" {
		return nil, fmt.Errorf("expected Bundle, got %q", b.ResourceType)
	}

	stats := &LoadStats{}
	for _, entry := range b.Entry {
		if entry.Resource == nil {
			continue
		}
		entryStats, err := s.LoadFromJSON(entry.Resource)
		if err != nil {
			stats.Errors++
			continue
		}
		stats.Add(entryStats)
	}
	return stats, nil
}

// LoadFromDirectory loads CodeSystem-*.json and ValueSet-*.json files from a
// package directory, CodeSystems first.
func (s *InMemorySupport) LoadFromDirectory(dirPath string) (*LoadStats, error) {
	info, err := os.Stat(dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to access directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dirPath)
	}
	return s.LoadFromFS(os.DirFS(dirPath), ".")
}

// LoadFromFS is LoadFromDirectory over any fs.FS, e.g. an embed.FS.
func (s *InMemorySupport) LoadFromFS(fsys fs.FS, dir string) (*LoadStats, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var codeSystems, valueSets []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		switch {
		case strings.HasPrefix(name, "CodeSystem-"):
			codeSystems = append(codeSystems, path.Join(dir, name))
		case strings.HasPrefix(name, "ValueSet-"):
			valueSets = append(valueSets, path.Join(dir, name))
		}
	}
	sort.Strings(codeSystems)
	sort.Strings(valueSets)

	stats := &LoadStats{}
	for _, file := range append(codeSystems, valueSets...) {
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			stats.Errors++
			s.logger.Warn().Err(err).Str("file", file).Msg("cannot read terminology file")
			continue
		}
		fileStats, err := s.LoadFromJSON(data)
		if err != nil {
			stats.Errors++
			s.logger.Warn().Err(err).Str("file", file).Msg("cannot load terminology file")
			continue
		}
		stats.Add(fileStats)
	}

	s.logger.Debug().
		Int64("codeSystems", stats.CodeSystemsLoaded).
		Int64("valueSets", stats.ValueSetsLoaded).
		Int64("errors", stats.Errors).
		Msg("terminology loaded")
	return stats, nil
}
