package validationsupport

import (
	"fmt"
	"strings"
)

// FHIRVersion represents a FHIR specification version.
type FHIRVersion string

// Supported FHIR versions.
const (
	// R4 is FHIR Release 4 (4.0.1)
	R4 FHIRVersion = "R4"
	// R4B is FHIR Release 4B (4.3.0)
	R4B FHIRVersion = "R4B"
	// R5 is FHIR Release 5 (5.0.0)
	R5 FHIRVersion = "R5"
)

// String returns the version string.
func (v FHIRVersion) String() string {
	return string(v)
}

// IsValid returns true if this is a supported FHIR version.
func (v FHIRVersion) IsValid() bool {
	_, ok := versionConfigs[v]
	return ok
}

// VersionString returns the full semantic version, e.g. "4.0.1".
func (v FHIRVersion) VersionString() string {
	return versionConfigs[v].FHIRVersionString
}

// CorePackage returns the core package id in "name#version" form.
func (v FHIRVersion) CorePackage() string {
	cfg, ok := versionConfigs[v]
	if !ok {
		return ""
	}
	return cfg.CorePackageName + "#" + cfg.CorePackageVersion
}

// TerminologyPackage returns the HL7 terminology package id in "name#version" form.
func (v FHIRVersion) TerminologyPackage() string {
	cfg, ok := versionConfigs[v]
	if !ok {
		return ""
	}
	return cfg.TermPackageName + "#" + cfg.TermPackageVersion
}

// ParseFHIRVersion accepts a release name ("R4", "r4b") or a semantic
// version ("4.0.1", "4.3", "5.0.0").
func ParseFHIRVersion(s string) (FHIRVersion, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	if v := FHIRVersion(norm); v.IsValid() {
		return v, nil
	}
	for v, cfg := range versionConfigs {
		if norm == cfg.FHIRVersionString || strings.HasPrefix(cfg.FHIRVersionString, norm+".") {
			return v, nil
		}
	}
	return "", fmt.Errorf("unsupported FHIR version: %q", s)
}

type versionConfig struct {
	CorePackageName    string
	CorePackageVersion string

	TermPackageName    string
	TermPackageVersion string

	// FHIRVersionString is the version string used in StructureDefinitions
	FHIRVersionString string
}

var versionConfigs = map[FHIRVersion]versionConfig{
	R4: {
		CorePackageName:    "hl7.fhir.r4.core",
		CorePackageVersion: "4.0.1",
		TermPackageName:    "hl7.terminology.r4",
		TermPackageVersion: "6.2.0",
		FHIRVersionString:  "4.0.1",
	},
	R4B: {
		CorePackageName:    "hl7.fhir.r4b.core",
		CorePackageVersion: "4.3.0",
		TermPackageName:    "hl7.terminology.r4",
		TermPackageVersion: "6.2.0",
		FHIRVersionString:  "4.3.0",
	},
	R5: {
		CorePackageName:    "hl7.fhir.r5.core",
		CorePackageVersion: "5.0.0",
		TermPackageName:    "hl7.terminology.r5",
		TermPackageVersion: "6.2.0",
		FHIRVersionString:  "5.0.0",
	},
}
