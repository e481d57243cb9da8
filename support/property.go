package support

import "fmt"

// Property type names as they appear on the wire.
const (
	TypeString = "string"
	TypeCoding = "Coding"
	TypeGroup  = "group"
)

// ConceptProperty is a property attached to a looked-up or validated code.
// The set of implementations is closed: StringConceptProperty,
// CodingConceptProperty and GroupConceptProperty.
type ConceptProperty interface {
	PropertyName() string
	Type() string
	conceptProperty()
}

// StringConceptProperty is a property with a string value.
type StringConceptProperty struct {
	Name  string
	Value string
}

func (p StringConceptProperty) PropertyName() string { return p.Name }
func (p StringConceptProperty) Type() string         { return TypeString }
func (StringConceptProperty) conceptProperty()       {}

// CodingConceptProperty is a property with a Coding value.
type CodingConceptProperty struct {
	Name    string
	System  string
	Code    string
	Display string
}

func (p CodingConceptProperty) PropertyName() string { return p.Name }
func (p CodingConceptProperty) Type() string         { return TypeCoding }
func (CodingConceptProperty) conceptProperty()       {}

// Coding returns the property value as a Coding.
func (p CodingConceptProperty) Coding() Coding {
	return Coding{System: p.System, Code: p.Code, Display: p.Display}
}

// GroupConceptProperty is a named, ordered group of sub-properties.
type GroupConceptProperty struct {
	Name          string
	SubProperties []ConceptProperty
}

// NewGroupConceptProperty returns an empty group.
func NewGroupConceptProperty(name string) *GroupConceptProperty {
	return &GroupConceptProperty{Name: name}
}

func (p *GroupConceptProperty) PropertyName() string { return p.Name }
func (p *GroupConceptProperty) Type() string         { return TypeGroup }
func (*GroupConceptProperty) conceptProperty()       {}

// AddSubProperty appends a child property and returns the group.
func (p *GroupConceptProperty) AddSubProperty(sub ConceptProperty) *GroupConceptProperty {
	p.SubProperties = append(p.SubProperties, sub)
	return p
}

// ConceptDesignation is one localized display form of a code.
type ConceptDesignation struct {
	Language   string `json:"language,omitempty"`
	UseSystem  string `json:"useSystem,omitempty"`
	UseCode    string `json:"useCode,omitempty"`
	UseDisplay string `json:"useDisplay,omitempty"`
	Value      string `json:"value,omitempty"`
}

// FilterProperties keeps the properties whose name is in names, preserving
// order. A nil or empty filter keeps everything.
func FilterProperties(props []ConceptProperty, names []string) []ConceptProperty {
	if len(names) == 0 {
		return props
	}
	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}
	out := make([]ConceptProperty, 0, len(props))
	for _, p := range props {
		if _, ok := wanted[p.PropertyName()]; ok {
			out = append(out, p)
		}
	}
	return out
}

// propertyParameter serializes one property as a "property" or "subproperty"
// parameter with its code part followed by its value part(s).
func propertyParameter(name string, prop ConceptProperty) (ParametersParameter, error) {
	param := ParametersParameter{Name: name}
	param.Part = append(param.Part, CodeParam("code", prop.PropertyName()))

	switch p := prop.(type) {
	case StringConceptProperty:
		param.Part = append(param.Part, StringParam("value", p.Value))
	case *StringConceptProperty:
		param.Part = append(param.Part, StringParam("value", p.Value))
	case CodingConceptProperty:
		param.Part = append(param.Part, CodingParam("value", p.Coding()))
	case *CodingConceptProperty:
		param.Part = append(param.Part, CodingParam("value", p.Coding()))
	case *GroupConceptProperty:
		for _, sub := range p.SubProperties {
			subParam, err := propertyParameter("subproperty", sub)
			if err != nil {
				return ParametersParameter{}, err
			}
			param.Part = append(param.Part, subParam)
		}
	default:
		return ParametersParameter{}, fmtUnknownProperty(prop)
	}
	return param, nil
}

func fmtUnknownProperty(prop ConceptProperty) error {
	return fmt.Errorf("%w: don't know how to handle %T", ErrUnknownPropertyType, prop)
}
