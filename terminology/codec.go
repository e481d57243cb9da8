package terminology

import (
	"encoding/json"
	"fmt"

	"github.com/gofhir/validationsupport/support"
)

// lookupDoc is the JSON form of a LookupCodeResult kept in a Backend.
type lookupDoc struct {
	System        string                       `json:"system"`
	Code          string                       `json:"code"`
	Found         bool                         `json:"found"`
	Display       string                       `json:"display,omitempty"`
	SystemName    string                       `json:"systemName,omitempty"`
	SystemVersion string                       `json:"systemVersion,omitempty"`
	Abstract      bool                         `json:"abstract,omitempty"`
	Properties    []propertyDoc                `json:"properties,omitempty"`
	Designations  []support.ConceptDesignation `json:"designations,omitempty"`
	Error         string                       `json:"error,omitempty"`
}

type propertyDoc struct {
	Name    string        `json:"name"`
	Type    string        `json:"type"`
	Value   string        `json:"value,omitempty"`
	System  string        `json:"system,omitempty"`
	Code    string        `json:"code,omitempty"`
	Display string        `json:"display,omitempty"`
	Sub     []propertyDoc `json:"sub,omitempty"`
}

func encodeLookup(r *support.LookupCodeResult) ([]byte, error) {
	doc := lookupDoc{
		System:        r.SearchedForSystem,
		Code:          r.SearchedForCode,
		Found:         r.Found,
		Display:       r.CodeDisplay,
		SystemName:    r.CodeSystemDisplayName,
		SystemVersion: r.CodeSystemVersion,
		Abstract:      r.CodeIsAbstract,
		Designations:  r.Designations,
		Error:         r.ErrorMessage,
	}
	props, err := encodeProperties(r.Properties)
	if err != nil {
		return nil, err
	}
	doc.Properties = props
	return json.Marshal(doc)
}

func encodeProperties(props []support.ConceptProperty) ([]propertyDoc, error) {
	var out []propertyDoc
	for _, p := range props {
		doc := propertyDoc{Name: p.PropertyName(), Type: p.Type()}
		switch v := p.(type) {
		case support.StringConceptProperty:
			doc.Value = v.Value
		case support.CodingConceptProperty:
			doc.System, doc.Code, doc.Display = v.System, v.Code, v.Display
		case *support.GroupConceptProperty:
			sub, err := encodeProperties(v.SubProperties)
			if err != nil {
				return nil, err
			}
			doc.Sub = sub
		default:
			return nil, fmt.Errorf("%w: %T", support.ErrUnknownPropertyType, p)
		}
		out = append(out, doc)
	}
	return out, nil
}

func decodeLookup(data []byte) (*support.LookupCodeResult, error) {
	var doc lookupDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode cached lookup: %w", err)
	}
	props, err := decodeProperties(doc.Properties)
	if err != nil {
		return nil, err
	}
	return &support.LookupCodeResult{
		SearchedForSystem:     doc.System,
		SearchedForCode:       doc.Code,
		Found:                 doc.Found,
		CodeDisplay:           doc.Display,
		CodeSystemDisplayName: doc.SystemName,
		CodeSystemVersion:     doc.SystemVersion,
		CodeIsAbstract:        doc.Abstract,
		Properties:            props,
		Designations:          doc.Designations,
		ErrorMessage:          doc.Error,
	}, nil
}

func decodeProperties(docs []propertyDoc) ([]support.ConceptProperty, error) {
	var out []support.ConceptProperty
	for _, d := range docs {
		switch d.Type {
		case support.TypeString:
			out = append(out, support.StringConceptProperty{Name: d.Name, Value: d.Value})
		case support.TypeCoding:
			out = append(out, support.CodingConceptProperty{Name: d.Name, System: d.System, Code: d.Code, Display: d.Display})
		case support.TypeGroup:
			sub, err := decodeProperties(d.Sub)
			if err != nil {
				return nil, err
			}
			g := support.NewGroupConceptProperty(d.Name)
			g.SubProperties = sub
			out = append(out, g)
		default:
			return nil, fmt.Errorf("%w: %q", support.ErrUnknownPropertyType, d.Type)
		}
	}
	return out, nil
}
