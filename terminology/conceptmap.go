package terminology

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/gofhir/validationsupport/support"
)

// ConceptMap is the subset of a FHIR ConceptMap needed for translation. It
// decodes from FHIR JSON and from the same structure written as YAML.
type ConceptMap struct {
	ResourceType    string            `json:"resourceType" yaml:"resourceType"`
	ID              string            `json:"id,omitempty" yaml:"id,omitempty"`
	URL             string            `json:"url" yaml:"url"`
	Version         string            `json:"version,omitempty" yaml:"version,omitempty"`
	Name            string            `json:"name,omitempty" yaml:"name,omitempty"`
	SourceURI       string            `json:"sourceUri,omitempty" yaml:"sourceUri,omitempty"`
	SourceCanonical string            `json:"sourceCanonical,omitempty" yaml:"sourceCanonical,omitempty"`
	TargetURI       string            `json:"targetUri,omitempty" yaml:"targetUri,omitempty"`
	TargetCanonical string            `json:"targetCanonical,omitempty" yaml:"targetCanonical,omitempty"`
	Group           []ConceptMapGroup `json:"group,omitempty" yaml:"group,omitempty"`
}

// ConceptMapGroup maps codes of one source system to one target system.
type ConceptMapGroup struct {
	Source        string              `json:"source" yaml:"source"`
	SourceVersion string              `json:"sourceVersion,omitempty" yaml:"sourceVersion,omitempty"`
	Target        string              `json:"target" yaml:"target"`
	TargetVersion string              `json:"targetVersion,omitempty" yaml:"targetVersion,omitempty"`
	Element       []ConceptMapElement `json:"element,omitempty" yaml:"element,omitempty"`
}

// ConceptMapElement is one source code and its targets.
type ConceptMapElement struct {
	Code    string             `json:"code" yaml:"code"`
	Display string             `json:"display,omitempty" yaml:"display,omitempty"`
	Target  []ConceptMapTarget `json:"target,omitempty" yaml:"target,omitempty"`
}

// ConceptMapTarget is one mapped-to code.
type ConceptMapTarget struct {
	Code        string `json:"code" yaml:"code"`
	Display     string `json:"display,omitempty" yaml:"display,omitempty"`
	Equivalence string `json:"equivalence,omitempty" yaml:"equivalence,omitempty"`
	Comment     string `json:"comment,omitempty" yaml:"comment,omitempty"`
}

// SourceScope returns the source ValueSet, canonical or uri.
func (cm *ConceptMap) SourceScope() string {
	if cm.SourceCanonical != "" {
		return cm.SourceCanonical
	}
	return cm.SourceURI
}

// TargetScope returns the target ValueSet, canonical or uri.
func (cm *ConceptMap) TargetScope() string {
	if cm.TargetCanonical != "" {
		return cm.TargetCanonical
	}
	return cm.TargetURI
}

// ConceptMapSupport translates codings through loaded ConceptMaps.
type ConceptMapSupport struct {
	mu    sync.RWMutex
	maps  []*ConceptMap
	byURL map[string]*ConceptMap
	byID  map[string]*ConceptMap
}

// NewConceptMapSupport creates an empty translator.
func NewConceptMapSupport() *ConceptMapSupport {
	return &ConceptMapSupport{
		byURL: make(map[string]*ConceptMap),
		byID:  make(map[string]*ConceptMap),
	}
}

// Name implements support.Module.
func (s *ConceptMapSupport) Name() string {
	return "ConceptMapSupport"
}

// AddConceptMap registers a map. A map with the same URL is replaced.
func (s *ConceptMapSupport) AddConceptMap(cm *ConceptMap) error {
	if cm == nil || cm.URL == "" {
		return fmt.Errorf("conceptmap is nil or has no URL")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byURL[cm.URL]; ok {
		for i, m := range s.maps {
			if m == old {
				s.maps = append(s.maps[:i], s.maps[i+1:]...)
				break
			}
		}
		delete(s.byID, old.ID)
	}
	s.maps = append(s.maps, cm)
	s.byURL[cm.URL] = cm
	if cm.ID != "" {
		s.byID[cm.ID] = cm
	}
	return nil
}

// ConceptMaps returns the registered maps in registration order.
func (s *ConceptMapSupport) ConceptMaps() []*ConceptMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*ConceptMap(nil), s.maps...)
}

// LoadJSON registers a ConceptMap from FHIR JSON.
func (s *ConceptMapSupport) LoadJSON(data []byte) error {
	var cm ConceptMap
	if err := json.Unmarshal(data, &cm); err != nil {
		return fmt.Errorf("decode ConceptMap: %w", err)
	}
	return s.addChecked(&cm)
}

// LoadYAML registers a ConceptMap written as YAML.
func (s *ConceptMapSupport) LoadYAML(data []byte) error {
	var cm ConceptMap
	if err := yaml.Unmarshal(data, &cm); err != nil {
		return fmt.Errorf("decode ConceptMap: %w", err)
	}
	return s.addChecked(&cm)
}

// LoadFile registers a ConceptMap from a .json, .yaml or .yml file.
func (s *ConceptMapSupport) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return s.LoadYAML(data)
	case ".json":
		return s.LoadJSON(data)
	}
	return fmt.Errorf("unsupported conceptmap file %s", path)
}

func (s *ConceptMapSupport) addChecked(cm *ConceptMap) error {
	if cm.ResourceType != "" && cm.ResourceType != "ConceptMap" {
		return fmt.Errorf("expected ConceptMap, got %q", cm.ResourceType)
	}
	return s.AddConceptMap(cm)
}

// TranslateConcept implements support.ConceptTranslator. Without a concept
// map restriction every map is searched. No candidate map means no opinion.
func (s *ConceptMapSupport) TranslateConcept(_ context.Context, req *support.TranslateCodeRequest) (*support.TranslateConceptResults, error) {
	candidates := s.candidates(req)
	if len(candidates) == 0 {
		return nil, nil
	}

	out := &support.TranslateConceptResults{}
	for _, cm := range candidates {
		for _, g := range cm.Group {
			for _, coding := range req.Codings() {
				out.Results = append(out.Results, translateGroup(cm, g, coding, req)...)
			}
		}
	}

	out.Result = len(out.Results) > 0
	if !out.Result {
		out.Message = "No Matches found"
	}
	return out, nil
}

func (s *ConceptMapSupport) candidates(req *support.TranslateCodeRequest) []*ConceptMap {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id := req.ResourceID(); id != "" {
		if cm, ok := s.byID[id]; ok {
			return []*ConceptMap{cm}
		}
		return nil
	}
	if url := req.ConceptMapURL(); url != "" {
		cm, ok := s.byURL[url]
		if !ok || (req.ConceptMapVersion() != "" && cm.Version != req.ConceptMapVersion()) {
			return nil
		}
		return []*ConceptMap{cm}
	}

	var out []*ConceptMap
	for _, cm := range s.maps {
		source, target := cm.SourceScope(), cm.TargetScope()
		if req.IsReverse() {
			source, target = target, source
		}
		if req.SourceValueSetURL() != "" && source != req.SourceValueSetURL() {
			continue
		}
		if req.TargetValueSetURL() != "" && target != req.TargetValueSetURL() {
			continue
		}
		out = append(out, cm)
	}
	return out
}

// translateGroup matches one coding against a group, in either direction.
func translateGroup(cm *ConceptMap, g ConceptMapGroup, coding support.Coding, req *support.TranslateCodeRequest) []support.TranslateConceptResult {
	source, target := g.Source, g.Target
	if req.IsReverse() {
		source, target = target, source
	}
	if coding.System != "" && coding.System != source {
		return nil
	}
	if req.TargetSystemURL() != "" && req.TargetSystemURL() != target {
		return nil
	}

	var out []support.TranslateConceptResult
	for _, el := range g.Element {
		for _, t := range el.Target {
			to := support.TranslateConceptResult{
				System:        target,
				Code:          t.Code,
				Display:       t.Display,
				Equivalence:   t.Equivalence,
				ConceptMapURL: cm.URL,
				ValueSet:      cm.TargetScope(),
			}
			if req.IsReverse() {
				if t.Code != coding.Code {
					continue
				}
				to.Code, to.Display = el.Code, el.Display
				to.ValueSet = cm.SourceScope()
			} else if el.Code != coding.Code {
				continue
			}
			if to.Equivalence == "" {
				to.Equivalence = "equivalent"
			}
			out = append(out, to)
		}
	}
	return out
}

var _ support.ConceptTranslator = (*ConceptMapSupport)(nil)
