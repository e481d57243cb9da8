package support

import "github.com/gofhir/fhir/r4"

// Coding is a plain code reference. It is comparable and serializes as a FHIR
// Coding.
type Coding struct {
	System  string `json:"system,omitempty"`
	Version string `json:"version,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// CodeableConcept is a set of codings with optional text.
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// CodingFromR4 converts an r4.Coding. A nil input yields the zero Coding.
func CodingFromR4(c *r4.Coding) Coding {
	if c == nil {
		return Coding{}
	}
	return Coding{
		System:  deref(c.System),
		Version: deref(c.Version),
		Code:    deref(c.Code),
		Display: deref(c.Display),
	}
}

// R4 converts the Coding to an r4.Coding, leaving empty fields nil.
func (c Coding) R4() r4.Coding {
	return r4.Coding{
		System:  ptr(c.System),
		Version: ptr(c.Version),
		Code:    ptr(c.Code),
		Display: ptr(c.Display),
	}
}

// IsEmpty reports whether neither system nor code is set.
func (c Coding) IsEmpty() bool {
	return c.System == "" && c.Code == ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
