package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofhir/fhir/r4"
	"github.com/rs/zerolog"

	"github.com/gofhir/validationsupport/support"
)

// Support is an in-memory store of StructureDefinitions and SearchParameters.
// Listing returns resources in load order.
type Support struct {
	logger zerolog.Logger

	mu           sync.RWMutex
	byURL        map[string]*r4.StructureDefinition
	byType       map[string]*r4.StructureDefinition
	order        []string
	searchParams map[string]*r4.SearchParameter
	spOrder      []string
}

// Option configures a Support.
type Option func(*Support)

// WithLogger sets the module logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Support) { s.logger = logger }
}

// NewSupport creates an empty profile store.
func NewSupport(opts ...Option) *Support {
	s := &Support{
		logger:       zerolog.Nop(),
		byURL:        make(map[string]*r4.StructureDefinition),
		byType:       make(map[string]*r4.StructureDefinition),
		searchParams: make(map[string]*r4.SearchParameter),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements support.Module.
func (s *Support) Name() string {
	return "ProfileSupport"
}

// AddStructureDefinition stores a StructureDefinition. A definition with a
// known URL replaces the old one in place.
func (s *Support) AddStructureDefinition(sd *r4.StructureDefinition) error {
	if sd == nil || sd.Url == nil || *sd.Url == "" {
		return fmt.Errorf("structure definition is nil or has no URL")
	}
	url := *sd.Url

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byURL[url]; !ok {
		s.order = append(s.order, url)
	}
	s.byURL[url] = sd

	// Only the core definition of a type is indexed by type, so profiles of
	// Patient never shadow Patient itself.
	if typeName := deref(sd.Type); isBaseTypeDefinition(url, typeName) {
		s.byType[typeName] = sd
	}
	return nil
}

// AddSearchParameter stores a SearchParameter by URL.
func (s *Support) AddSearchParameter(sp *r4.SearchParameter) error {
	if sp == nil || sp.Url == nil || *sp.Url == "" {
		return fmt.Errorf("search parameter is nil or has no URL")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.searchParams[*sp.Url]; !ok {
		s.spOrder = append(s.spOrder, *sp.Url)
	}
	s.searchParams[*sp.Url] = sp
	return nil
}

// FetchStructureDefinition implements support.StructureDefinitionFetcher.
// A version suffix on the URL is ignored.
func (s *Support) FetchStructureDefinition(ctx context.Context, url string) (*r4.StructureDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byURL[stripVersion(url)], nil
}

// FetchStructureDefinitionByType returns the core definition of a type,
// falling back to the canonical URL for complex types like SimpleQuantity.
func (s *Support) FetchStructureDefinitionByType(ctx context.Context, typeName string) (*r4.StructureDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sd, ok := s.byType[typeName]; ok {
		return sd, nil
	}
	return s.byURL[support.URLPrefixStructureDefinition+typeName], nil
}

// FetchResource implements support.ResourceFetcher for SearchParameters.
// StructureDefinitions are served through FetchStructureDefinition.
func (s *Support) FetchResource(_ context.Context, resourceType, uri string) (any, error) {
	if resourceType != "" && resourceType != "SearchParameter" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sp, ok := s.searchParams[stripVersion(uri)]; ok {
		return sp, nil
	}
	return nil, nil
}

// FetchAllStructureDefinitions implements support.StructureDefinitionLister.
func (s *Support) FetchAllStructureDefinitions(_ context.Context) ([]*r4.StructureDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*r4.StructureDefinition, 0, len(s.order))
	for _, url := range s.order {
		out = append(out, s.byURL[url])
	}
	return out, nil
}

// FetchAllSearchParameters implements support.SearchParameterLister.
func (s *Support) FetchAllSearchParameters(_ context.Context) ([]*r4.SearchParameter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*r4.SearchParameter, 0, len(s.spOrder))
	for _, url := range s.spOrder {
		out = append(out, s.searchParams[url])
	}
	return out, nil
}

// FetchAllConformanceResources implements support.ConformanceResourceLister.
// StructureDefinitions come first.
func (s *Support) FetchAllConformanceResources(ctx context.Context) ([]any, error) {
	sds, _ := s.FetchAllStructureDefinitions(ctx)
	sps, _ := s.FetchAllSearchParameters(ctx)
	out := make([]any, 0, len(sds)+len(sps))
	for _, sd := range sds {
		out = append(out, sd)
	}
	for _, sp := range sps {
		out = append(out, sp)
	}
	return out, nil
}

// Count returns the number of loaded StructureDefinitions.
func (s *Support) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byURL)
}

// URLs returns the loaded StructureDefinition URLs, sorted.
func (s *Support) URLs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	urls := append([]string(nil), s.order...)
	sort.Strings(urls)
	return urls
}

// Types returns the types that have a core definition loaded, sorted.
func (s *Support) Types() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	types := make([]string, 0, len(s.byType))
	for t := range s.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Clear removes everything.
func (s *Support) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byURL = make(map[string]*r4.StructureDefinition)
	s.byType = make(map[string]*r4.StructureDefinition)
	s.order = nil
	s.searchParams = make(map[string]*r4.SearchParameter)
	s.spOrder = nil
}

// LoadFromFile loads a StructureDefinition, SearchParameter or Bundle file.
func (s *Support) LoadFromFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return s.LoadFromJSON(data)
}

// LoadFromJSON loads a StructureDefinition, a SearchParameter or a Bundle of
// them and returns how many resources were stored.
func (s *Support) LoadFromJSON(data []byte) (int, error) {
	var probe struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return 0, fmt.Errorf("invalid JSON: %w", err)
	}

	switch probe.ResourceType {
	case "Bundle":
		return s.LoadFromBundle(data)
	case "StructureDefinition":
		var sd r4.StructureDefinition
		if err := json.Unmarshal(data, &sd); err != nil {
			return 0, fmt.Errorf("failed to parse StructureDefinition: %w", err)
		}
		if err := s.AddStructureDefinition(&sd); err != nil {
			return 0, err
		}
		return 1, nil
	case "SearchParameter":
		var sp r4.SearchParameter
		if err := json.Unmarshal(data, &sp); err != nil {
			return 0, fmt.Errorf("failed to parse SearchParameter: %w", err)
		}
		if err := s.AddSearchParameter(&sp); err != nil {
			return 0, err
		}
		return 1, nil
	default:
		return 0, fmt.Errorf("unsupported resourceType: %s", probe.ResourceType)
	}
}

// LoadFromBundle loads the StructureDefinition and SearchParameter entries of
// a Bundle. Other entries and entries that fail to parse are skipped.
func (s *Support) LoadFromBundle(data []byte) (int, error) {
	var bundle struct {
		ResourceType string `json:"resourceType"`
		Entry        []struct {
			Resource json.RawMessage `json:"resource"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(data, &bundle); err != nil {
		return 0, fmt.Errorf("failed to parse Bundle: %w", err)
	}
	if bundle.ResourceType != "Bundle" {
		return 0, fmt.Errorf("expected Bundle, got %s", bundle.ResourceType)
	}

	count := 0
	for _, entry := range bundle.Entry {
		if entry.Resource == nil {
			continue
		}
		n, err := s.LoadFromJSON(entry.Resource)
		if err != nil {
			s.logger.Debug().Err(err).Msg("skipping bundle entry")
			continue
		}
		count += n
	}
	return count, nil
}

// LoadFromDirectory loads StructureDefinition-*.json and
// SearchParameter-*.json files from a package directory.
func (s *Support) LoadFromDirectory(dirPath string) (int, error) {
	var files []string
	for _, pattern := range []string{"StructureDefinition-*.json", "SearchParameter-*.json"} {
		matches, err := filepath.Glob(filepath.Join(dirPath, pattern))
		if err != nil {
			return 0, fmt.Errorf("failed to glob directory: %w", err)
		}
		files = append(files, matches...)
	}

	total := 0
	for _, file := range files {
		count, err := s.LoadFromFile(file)
		if err != nil {
			s.logger.Warn().Err(err).Str("file", file).Msg("cannot load profile file")
			continue
		}
		total += count
	}
	return total, nil
}

// LoadAllFromDirectory loads every JSON file below dirPath. Files that are
// not profiles are skipped silently.
func (s *Support) LoadAllFromDirectory(dirPath string) (int, error) {
	total := 0
	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		count, err := s.LoadFromFile(path)
		if err != nil {
			return nil
		}
		total += count
		return nil
	})
	return total, err
}

// isBaseTypeDefinition reports whether url is the core definition of
// typeName, e.g. http://hl7.org/fhir/StructureDefinition/Patient.
func isBaseTypeDefinition(url, typeName string) bool {
	return typeName != "" && url == support.URLPrefixStructureDefinition+typeName
}

func stripVersion(url string) string {
	if idx := strings.LastIndex(url, "|"); idx != -1 {
		return url[:idx]
	}
	return url
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var (
	_ support.StructureDefinitionFetcher = (*Support)(nil)
	_ support.StructureDefinitionLister  = (*Support)(nil)
	_ support.SearchParameterLister      = (*Support)(nil)
	_ support.ConformanceResourceLister  = (*Support)(nil)
	_ support.ResourceFetcher            = (*Support)(nil)
)
