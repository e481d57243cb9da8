package validationsupport

import "sort"

// FhirContext carries the active FHIR version and its resource-type catalog.
// It is immutable and safe to share.
type FhirContext struct {
	version       FHIRVersion
	resourceTypes map[string]struct{}
	names         []string
}

// NewFhirContext returns the context for a FHIR version. An unsupported
// version falls back to R4.
func NewFhirContext(version FHIRVersion) *FhirContext {
	if !version.IsValid() {
		version = R4
	}
	names := resourceTypesFor(version)
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return &FhirContext{version: version, resourceTypes: set, names: names}
}

// Version returns the FHIR version of the context.
func (c *FhirContext) Version() FHIRVersion {
	return c.version
}

// ResourceTypeNames returns the sorted resource type names of the version.
func (c *FhirContext) ResourceTypeNames() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// IsResourceType reports whether name is a resource type of the version.
func (c *FhirContext) IsResourceType(name string) bool {
	_, ok := c.resourceTypes[name]
	return ok
}

func resourceTypesFor(version FHIRVersion) []string {
	set := make(map[string]struct{}, len(r4ResourceTypes))
	for _, n := range r4ResourceTypes {
		set[n] = struct{}{}
	}
	apply := func(removed, added []string) {
		for _, n := range removed {
			delete(set, n)
		}
		for _, n := range added {
			set[n] = struct{}{}
		}
	}
	switch version {
	case R4B:
		apply(r4bRemoved, r4bAdded)
	case R5:
		apply(r4bRemoved, r4bAdded)
		apply(r5Removed, r5Added)
	}

	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var r4ResourceTypes = []string{
	"Account", "ActivityDefinition", "AdverseEvent", "AllergyIntolerance", "Appointment",
	"AppointmentResponse", "AuditEvent", "Basic", "Binary", "BiologicallyDerivedProduct",
	"BodyStructure", "Bundle", "CapabilityStatement", "CarePlan", "CareTeam", "CatalogEntry",
	"ChargeItem", "ChargeItemDefinition", "Claim", "ClaimResponse", "ClinicalImpression",
	"CodeSystem", "Communication", "CommunicationRequest", "CompartmentDefinition", "Composition",
	"ConceptMap", "Condition", "Consent", "Contract", "Coverage", "CoverageEligibilityRequest",
	"CoverageEligibilityResponse", "DetectedIssue", "Device", "DeviceDefinition", "DeviceMetric",
	"DeviceRequest", "DeviceUseStatement", "DiagnosticReport", "DocumentManifest",
	"DocumentReference", "EffectEvidenceSynthesis", "Encounter", "Endpoint", "EnrollmentRequest",
	"EnrollmentResponse", "EpisodeOfCare", "EventDefinition", "Evidence", "EvidenceVariable",
	"ExampleScenario", "ExplanationOfBenefit", "FamilyMemberHistory", "Flag", "Goal",
	"GraphDefinition", "Group", "GuidanceResponse", "HealthcareService", "ImagingStudy",
	"Immunization", "ImmunizationEvaluation", "ImmunizationRecommendation", "ImplementationGuide",
	"InsurancePlan", "Invoice", "Library", "Linkage", "List", "Location", "Measure",
	"MeasureReport", "Media", "Medication", "MedicationAdministration", "MedicationDispense",
	"MedicationKnowledge", "MedicationRequest", "MedicationStatement", "MedicinalProduct",
	"MedicinalProductAuthorization", "MedicinalProductContraindication",
	"MedicinalProductIndication", "MedicinalProductIngredient", "MedicinalProductInteraction",
	"MedicinalProductManufactured", "MedicinalProductPackaged", "MedicinalProductPharmaceutical",
	"MedicinalProductUndesirableEffect", "MessageDefinition", "MessageHeader",
	"MolecularSequence", "NamingSystem", "NutritionOrder", "Observation", "ObservationDefinition",
	"OperationDefinition", "OperationOutcome", "Organization", "OrganizationAffiliation",
	"Parameters", "Patient", "PaymentNotice", "PaymentReconciliation", "Person", "PlanDefinition",
	"Practitioner", "PractitionerRole", "Procedure", "Provenance", "Questionnaire",
	"QuestionnaireResponse", "RelatedPerson", "RequestGroup", "ResearchDefinition",
	"ResearchElementDefinition", "ResearchStudy", "ResearchSubject", "RiskAssessment",
	"RiskEvidenceSynthesis", "Schedule", "SearchParameter", "ServiceRequest", "Slot", "Specimen",
	"SpecimenDefinition", "StructureDefinition", "StructureMap", "Subscription", "Substance",
	"SubstanceNucleicAcid", "SubstancePolymer", "SubstanceProtein",
	"SubstanceReferenceInformation", "SubstanceSourceMaterial", "SubstanceSpecification",
	"SupplyDelivery", "SupplyRequest", "Task", "TerminologyCapabilities", "TestReport",
	"TestScript", "ValueSet", "VerificationResult", "VisionPrescription",
}

var r4bRemoved = []string{
	"EffectEvidenceSynthesis", "MedicinalProduct", "MedicinalProductAuthorization",
	"MedicinalProductContraindication", "MedicinalProductIndication", "MedicinalProductIngredient",
	"MedicinalProductInteraction", "MedicinalProductManufactured", "MedicinalProductPackaged",
	"MedicinalProductPharmaceutical", "MedicinalProductUndesirableEffect", "RiskEvidenceSynthesis",
	"SubstanceNucleicAcid", "SubstancePolymer", "SubstanceProtein",
	"SubstanceReferenceInformation", "SubstanceSourceMaterial", "SubstanceSpecification",
}

var r4bAdded = []string{
	"AdministrableProductDefinition", "Citation", "ClinicalUseDefinition", "EvidenceReport",
	"Ingredient", "ManufacturedItemDefinition", "MedicinalProductDefinition", "NutritionProduct",
	"PackagedProductDefinition", "RegulatedAuthorization", "SubscriptionStatus",
	"SubscriptionTopic", "SubstanceDefinition",
}

var r5Removed = []string{
	"CatalogEntry", "DeviceUseStatement", "DocumentManifest", "Media", "RequestGroup",
	"ResearchDefinition", "ResearchElementDefinition",
}

var r5Added = []string{
	"ActorDefinition", "ArtifactAssessment", "BiologicallyDerivedProductDispense",
	"ConditionDefinition", "DeviceDispense", "DeviceUsage", "EncounterHistory", "FormularyItem",
	"GenomicStudy", "ImagingSelection", "InventoryItem", "InventoryReport", "NutritionIntake",
	"Permission", "RequestOrchestration", "Requirements", "SubstanceNucleicAcid",
	"SubstancePolymer", "SubstanceProtein", "SubstanceReferenceInformation",
	"SubstanceSourceMaterial", "TestPlan", "Transport",
}
