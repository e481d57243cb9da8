package support

import (
	"hash/fnv"
	"slices"
	"strings"
)

// TranslateCodeRequest is the immutable input of a concept translation.
type TranslateCodeRequest struct {
	codings           []Coding
	targetSystemURL   string
	conceptMapURL     string
	conceptMapVersion string
	sourceValueSetURL string
	targetValueSetURL string
	resourceID        string
	reverse           bool
}

// TranslateOption configures a TranslateCodeRequest.
type TranslateOption func(*TranslateCodeRequest)

// WithConceptMap restricts translation to one concept map (version optional).
func WithConceptMap(url, version string) TranslateOption {
	return func(r *TranslateCodeRequest) {
		r.conceptMapURL = url
		r.conceptMapVersion = version
	}
}

// WithSourceValueSet sets the source value set scope.
func WithSourceValueSet(url string) TranslateOption {
	return func(r *TranslateCodeRequest) { r.sourceValueSetURL = url }
}

// WithTargetValueSet sets the target value set scope.
func WithTargetValueSet(url string) TranslateOption {
	return func(r *TranslateCodeRequest) { r.targetValueSetURL = url }
}

// WithResourceID sets the id of a specific ConceptMap resource.
func WithResourceID(id string) TranslateOption {
	return func(r *TranslateCodeRequest) { r.resourceID = id }
}

// WithReverse translates from target back to source.
func WithReverse(reverse bool) TranslateOption {
	return func(r *TranslateCodeRequest) { r.reverse = reverse }
}

// NewTranslateCodeRequest builds a request. The codings slice is copied.
func NewTranslateCodeRequest(codings []Coding, targetSystemURL string, opts ...TranslateOption) *TranslateCodeRequest {
	r := &TranslateCodeRequest{
		codings:         slices.Clone(codings),
		targetSystemURL: targetSystemURL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Codings returns a copy of the source codings.
func (r *TranslateCodeRequest) Codings() []Coding { return slices.Clone(r.codings) }

func (r *TranslateCodeRequest) TargetSystemURL() string   { return r.targetSystemURL }
func (r *TranslateCodeRequest) ConceptMapURL() string     { return r.conceptMapURL }
func (r *TranslateCodeRequest) ConceptMapVersion() string { return r.conceptMapVersion }
func (r *TranslateCodeRequest) SourceValueSetURL() string { return r.sourceValueSetURL }
func (r *TranslateCodeRequest) TargetValueSetURL() string { return r.targetValueSetURL }
func (r *TranslateCodeRequest) ResourceID() string        { return r.resourceID }
func (r *TranslateCodeRequest) IsReverse() bool           { return r.reverse }

// Equal compares every field, codings in order.
func (r *TranslateCodeRequest) Equal(other *TranslateCodeRequest) bool {
	if r == other {
		return true
	}
	if r == nil || other == nil {
		return false
	}
	return slices.Equal(r.codings, other.codings) &&
		r.targetSystemURL == other.targetSystemURL &&
		r.conceptMapURL == other.conceptMapURL &&
		r.conceptMapVersion == other.conceptMapVersion &&
		r.sourceValueSetURL == other.sourceValueSetURL &&
		r.targetValueSetURL == other.targetValueSetURL &&
		r.resourceID == other.resourceID &&
		r.reverse == other.reverse
}

// Key returns a string that is equal for equal requests. It is suitable as a
// map or cache key.
func (r *TranslateCodeRequest) Key() string {
	var b strings.Builder
	for _, c := range r.codings {
		b.WriteString(c.System)
		b.WriteByte('\x00')
		b.WriteString(c.Version)
		b.WriteByte('\x00')
		b.WriteString(c.Code)
		b.WriteByte('\x00')
		b.WriteString(c.Display)
		b.WriteByte('\x01')
	}
	for _, s := range []string{
		r.targetSystemURL, r.conceptMapURL, r.conceptMapVersion,
		r.sourceValueSetURL, r.targetValueSetURL, r.resourceID,
	} {
		b.WriteByte('\x02')
		b.WriteString(s)
	}
	if r.reverse {
		b.WriteString("\x02R")
	} else {
		b.WriteString("\x02F")
	}
	return b.String()
}

// Hash returns an FNV-1a hash consistent with Equal.
func (r *TranslateCodeRequest) Hash() uint64 {
	h := fnv.New64a()
	h.Write([]byte(r.Key()))
	return h.Sum64()
}

// TranslateConceptResult is one candidate translation.
type TranslateConceptResult struct {
	System        string
	Code          string
	Display       string
	Equivalence   string
	ConceptMapURL string
	ValueSet      string
}

// TranslateConceptResults is the outcome of a translation.
type TranslateConceptResults struct {
	Result  bool
	Message string
	Results []TranslateConceptResult
}

// Size returns the number of matches.
func (r *TranslateConceptResults) Size() int {
	return len(r.Results)
}

// ToParameters serializes the results as a $translate response.
func (r *TranslateConceptResults) ToParameters() *Parameters {
	p := NewParameters()
	p.AddBoolean("result", r.Result)
	if isNotBlank(r.Message) {
		p.AddString("message", r.Message)
	}
	for _, m := range r.Results {
		match := ParametersParameter{Name: "match"}
		if m.Equivalence != "" {
			match.Part = append(match.Part, CodeParam("equivalence", m.Equivalence))
		}
		match.Part = append(match.Part, CodingParam("concept", Coding{System: m.System, Code: m.Code, Display: m.Display}))
		if m.ConceptMapURL != "" {
			match.Part = append(match.Part, URIParam("source", m.ConceptMapURL))
		}
		p.Add(match)
	}
	return p
}
