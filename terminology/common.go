package terminology

import "github.com/gofhir/fhir/r4"

// builtinSystem is a small CodeSystem shipped with the module. Codes are
// code/display pairs in definition order.
type builtinSystem struct {
	url      string
	name     string
	valueSet string
	codes    [][2]string
}

var builtinSystems = []builtinSystem{
	{
		url:      "http://hl7.org/fhir/administrative-gender",
		name:     "AdministrativeGender",
		valueSet: "http://hl7.org/fhir/ValueSet/administrative-gender",
		codes:    [][2]string{{"male", "Male"}, {"female", "Female"}, {"other", "Other"}, {"unknown", "Unknown"}},
	},
	{
		url:      "http://terminology.hl7.org/CodeSystem/v2-0136",
		name:     "YesNoIndicator",
		valueSet: "http://terminology.hl7.org/ValueSet/v2-0136",
		codes:    [][2]string{{"Y", "Yes"}, {"N", "No"}},
	},
	{
		url:      "http://hl7.org/fhir/publication-status",
		name:     "PublicationStatus",
		valueSet: "http://hl7.org/fhir/ValueSet/publication-status",
		codes:    [][2]string{{"draft", "Draft"}, {"active", "Active"}, {"retired", "Retired"}, {"unknown", "Unknown"}},
	},
	{
		url:      "http://terminology.hl7.org/CodeSystem/data-absent-reason",
		name:     "DataAbsentReason",
		valueSet: "http://hl7.org/fhir/ValueSet/data-absent-reason",
		codes: [][2]string{
			{"unknown", "Unknown"},
			{"asked-unknown", "Asked But Unknown"},
			{"temp-unknown", "Temporarily Unknown"},
			{"not-asked", "Not Asked"},
			{"asked-declined", "Asked But Declined"},
			{"masked", "Masked"},
			{"not-applicable", "Not Applicable"},
			{"unsupported", "Unsupported"},
			{"as-text", "As Text"},
			{"error", "Error"},
			{"not-a-number", "Not a Number (NaN)"},
			{"negative-infinity", "Negative Infinity (NINF)"},
			{"positive-infinity", "Positive Infinity (PINF)"},
			{"not-performed", "Not Performed"},
			{"not-permitted", "Not Permitted"},
		},
	},
	{
		url:      "http://terminology.hl7.org/CodeSystem/v3-NullFlavor",
		name:     "NullFlavor",
		valueSet: "http://terminology.hl7.org/ValueSet/v3-NullFlavor",
		codes: [][2]string{
			{"NI", "NoInformation"},
			{"UNK", "unknown"},
			{"ASKU", "asked but unknown"},
			{"NAV", "temporarily unavailable"},
			{"NASK", "not asked"},
			{"MSK", "masked"},
			{"NA", "not applicable"},
			{"OTH", "other"},
		},
	},
	{
		url:      "http://hl7.org/fhir/contact-point-system",
		name:     "ContactPointSystem",
		valueSet: "http://hl7.org/fhir/ValueSet/contact-point-system",
		codes: [][2]string{
			{"phone", "Phone"}, {"fax", "Fax"}, {"email", "Email"}, {"pager", "Pager"},
			{"url", "URL"}, {"sms", "SMS"}, {"other", "Other"},
		},
	},
	{
		url:      "http://hl7.org/fhir/name-use",
		name:     "NameUse",
		valueSet: "http://hl7.org/fhir/ValueSet/name-use",
		codes: [][2]string{
			{"usual", "Usual"}, {"official", "Official"}, {"temp", "Temp"}, {"nickname", "Nickname"},
			{"anonymous", "Anonymous"}, {"old", "Old"}, {"maiden", "Name changed for Marriage"},
		},
	},
	{
		url:      "http://hl7.org/fhir/observation-status",
		name:     "ObservationStatus",
		valueSet: "http://hl7.org/fhir/ValueSet/observation-status",
		codes: [][2]string{
			{"registered", "Registered"}, {"preliminary", "Preliminary"}, {"final", "Final"},
			{"amended", "Amended"}, {"corrected", "Corrected"}, {"cancelled", "Cancelled"},
			{"entered-in-error", "Entered in Error"}, {"unknown", "Unknown"},
		},
	},
	{
		url:  "urn:iso:std:iso:3166",
		name: "ISO3166Part1",
		codes: [][2]string{
			{"AR", "Argentina"}, {"AU", "Australia"}, {"AT", "Austria"}, {"BE", "Belgium"},
			{"BR", "Brazil"}, {"CA", "Canada"}, {"CL", "Chile"}, {"CN", "China"},
			{"CO", "Colombia"}, {"DK", "Denmark"}, {"FI", "Finland"}, {"FR", "France"},
			{"DE", "Germany"}, {"IN", "India"}, {"IE", "Ireland"}, {"IT", "Italy"},
			{"JP", "Japan"}, {"MX", "Mexico"}, {"NL", "Netherlands"}, {"NZ", "New Zealand"},
			{"NO", "Norway"}, {"PE", "Peru"}, {"PT", "Portugal"}, {"ES", "Spain"},
			{"SE", "Sweden"}, {"CH", "Switzerland"}, {"GB", "United Kingdom"},
			{"US", "United States of America"}, {"UY", "Uruguay"},
		},
	},
}

// loadCommonCodeSystems registers the built-in CodeSystems and, where one is
// named, a ValueSet including the whole system.
func (s *InMemorySupport) loadCommonCodeSystems() {
	for _, b := range builtinSystems {
		_ = s.AddCodeSystem(b.codeSystem())
		if b.valueSet != "" {
			_ = s.AddValueSet(wholeSystemValueSet(b.valueSet, b.url))
		}
	}
}

func (b builtinSystem) codeSystem() *r4.CodeSystem {
	concepts := make([]r4.CodeSystemConcept, 0, len(b.codes))
	for _, c := range b.codes {
		concepts = append(concepts, r4.CodeSystemConcept{Code: ptr(c[0]), Display: ptr(c[1])})
	}
	return &r4.CodeSystem{Url: ptr(b.url), Name: ptr(b.name), Concept: concepts}
}

func wholeSystemValueSet(url, system string) *r4.ValueSet {
	return &r4.ValueSet{
		Url: ptr(url),
		Compose: &r4.ValueSetCompose{
			Include: []r4.ValueSetComposeInclude{{System: ptr(system)}},
		},
	}
}

// AddCustomCodeSystem registers a flat CodeSystem from code/display pairs.
func (s *InMemorySupport) AddCustomCodeSystem(url string, codes [][2]string) error {
	return s.AddCodeSystem(builtinSystem{url: url, codes: codes}.codeSystem())
}

// AddCustomValueSet registers a ValueSet listing explicit codes of one system.
func (s *InMemorySupport) AddCustomValueSet(url, system string, codes [][2]string) error {
	concepts := make([]r4.ValueSetComposeIncludeConcept, 0, len(codes))
	for _, c := range codes {
		concept := r4.ValueSetComposeIncludeConcept{Code: ptr(c[0])}
		if c[1] != "" {
			concept.Display = ptr(c[1])
		}
		concepts = append(concepts, concept)
	}
	return s.AddValueSet(&r4.ValueSet{
		Url: ptr(url),
		Compose: &r4.ValueSetCompose{
			Include: []r4.ValueSetComposeInclude{{System: ptr(system), Concept: concepts}},
		},
	})
}
