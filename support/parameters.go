package support

import (
	"encoding/json"
	"fmt"
)

// Parameters is the FHIR Parameters resource used as input and output of
// terminology operations.
type Parameters struct {
	ResourceType string                `json:"resourceType"`
	Parameter    []ParametersParameter `json:"parameter,omitempty"`
}

// ParametersParameter is one Parameters.parameter (or nested part).
type ParametersParameter struct {
	Name                 string                `json:"name"`
	ValueString          *string               `json:"valueString,omitempty"`
	ValueBoolean         *bool                 `json:"valueBoolean,omitempty"`
	ValueCode            *string               `json:"valueCode,omitempty"`
	ValueURI             *string               `json:"valueUri,omitempty"`
	ValueInteger         *int                  `json:"valueInteger,omitempty"`
	ValueCoding          *Coding               `json:"valueCoding,omitempty"`
	ValueCodeableConcept *CodeableConcept      `json:"valueCodeableConcept,omitempty"`
	Resource             json.RawMessage       `json:"resource,omitempty"`
	Part                 []ParametersParameter `json:"part,omitempty"`
}

// NewParameters returns an empty Parameters resource.
func NewParameters() *Parameters {
	return &Parameters{ResourceType: "Parameters"}
}

// ParseParameters decodes a Parameters resource.
func ParseParameters(data []byte) (*Parameters, error) {
	var p Parameters
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode Parameters: %w", err)
	}
	if p.ResourceType != "Parameters" {
		return nil, fmt.Errorf("expected resourceType Parameters, got %q", p.ResourceType)
	}
	return &p, nil
}

// StringParam builds a valueString parameter. An empty value yields a
// parameter without a value.
func StringParam(name, value string) ParametersParameter {
	p := ParametersParameter{Name: name}
	if value != "" {
		p.ValueString = &value
	}
	return p
}

// CodeParam builds a valueCode parameter. An empty value yields a parameter
// without a value.
func CodeParam(name, value string) ParametersParameter {
	p := ParametersParameter{Name: name}
	if value != "" {
		p.ValueCode = &value
	}
	return p
}

// URIParam builds a valueUri parameter.
func URIParam(name, value string) ParametersParameter {
	p := ParametersParameter{Name: name}
	if value != "" {
		p.ValueURI = &value
	}
	return p
}

// BooleanParam builds a valueBoolean parameter.
func BooleanParam(name string, value bool) ParametersParameter {
	return ParametersParameter{Name: name, ValueBoolean: &value}
}

// IntegerParam builds a valueInteger parameter.
func IntegerParam(name string, value int) ParametersParameter {
	return ParametersParameter{Name: name, ValueInteger: &value}
}

// CodingParam builds a valueCoding parameter.
func CodingParam(name string, value Coding) ParametersParameter {
	return ParametersParameter{Name: name, ValueCoding: &value}
}

// ResourceParam builds a parameter carrying an embedded resource.
func ResourceParam(name string, resource any) (ParametersParameter, error) {
	raw, err := json.Marshal(resource)
	if err != nil {
		return ParametersParameter{}, fmt.Errorf("encode %s resource: %w", name, err)
	}
	return ParametersParameter{Name: name, Resource: raw}, nil
}

// Add appends parameters.
func (p *Parameters) Add(params ...ParametersParameter) *Parameters {
	p.Parameter = append(p.Parameter, params...)
	return p
}

// AddString appends a valueString parameter.
func (p *Parameters) AddString(name, value string) *Parameters {
	return p.Add(StringParam(name, value))
}

// AddBoolean appends a valueBoolean parameter.
func (p *Parameters) AddBoolean(name string, value bool) *Parameters {
	return p.Add(BooleanParam(name, value))
}

// AddCode appends a valueCode parameter.
func (p *Parameters) AddCode(name, value string) *Parameters {
	return p.Add(CodeParam(name, value))
}

// AddCoding appends a valueCoding parameter.
func (p *Parameters) AddCoding(name string, value Coding) *Parameters {
	return p.Add(CodingParam(name, value))
}

// Get returns the first parameter with the given name.
func (p *Parameters) Get(name string) (ParametersParameter, bool) {
	for _, param := range p.Parameter {
		if param.Name == name {
			return param, true
		}
	}
	return ParametersParameter{}, false
}

// GetAll returns every parameter with the given name, in order.
func (p *Parameters) GetAll(name string) []ParametersParameter {
	var out []ParametersParameter
	for _, param := range p.Parameter {
		if param.Name == name {
			out = append(out, param)
		}
	}
	return out
}

// Value returns the string-like value of the named parameter, or "".
func (p *Parameters) Value(name string) string {
	param, ok := p.Get(name)
	if !ok {
		return ""
	}
	return param.StringValue()
}

// Bool returns the boolean value of the named parameter.
func (p *Parameters) Bool(name string) (value, ok bool) {
	param, found := p.Get(name)
	if !found || param.ValueBoolean == nil {
		return false, false
	}
	return *param.ValueBoolean, true
}

// GetPart returns the first part with the given name.
func (pp ParametersParameter) GetPart(name string) (ParametersParameter, bool) {
	for _, part := range pp.Part {
		if part.Name == name {
			return part, true
		}
	}
	return ParametersParameter{}, false
}

// Parts returns every part with the given name, in order.
func (pp ParametersParameter) Parts(name string) []ParametersParameter {
	var out []ParametersParameter
	for _, part := range pp.Part {
		if part.Name == name {
			out = append(out, part)
		}
	}
	return out
}

// StringValue returns valueString, valueCode or valueUri, whichever is set.
func (pp ParametersParameter) StringValue() string {
	switch {
	case pp.ValueString != nil:
		return *pp.ValueString
	case pp.ValueCode != nil:
		return *pp.ValueCode
	case pp.ValueURI != nil:
		return *pp.ValueURI
	}
	return ""
}
