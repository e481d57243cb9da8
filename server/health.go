package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type healthResponse struct {
	Status      string   `json:"status"`
	FHIRVersion string   `json:"fhirVersion"`
	Modules     []string `json:"modules"`
	Remote      bool     `json:"remoteTerminology"`
}

func (s *Server) health(c echo.Context) error {
	var names []string
	for _, m := range s.chain.Modules() {
		names = append(names, m.Name())
	}
	return c.JSON(http.StatusOK, healthResponse{
		Status:      "ok",
		FHIRVersion: s.chain.FhirContext().Version().VersionString(),
		Modules:     names,
		Remote:      s.chain.IsRemoteTerminologyServiceConfigured(),
	})
}

type capabilityStatement struct {
	ResourceType string           `json:"resourceType"`
	Status       string           `json:"status"`
	Kind         string           `json:"kind"`
	FHIRVersion  string           `json:"fhirVersion"`
	Format       []string         `json:"format"`
	Rest         []capabilityRest `json:"rest"`
}

type capabilityRest struct {
	Mode     string               `json:"mode"`
	Resource []capabilityResource `json:"resource"`
}

type capabilityResource struct {
	Type      string                `json:"type"`
	Operation []capabilityOperation `json:"operation"`
}

type capabilityOperation struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

func operation(name, resource string) capabilityOperation {
	return capabilityOperation{
		Name:       name,
		Definition: "http://hl7.org/fhir/OperationDefinition/" + resource + "-" + name,
	}
}

// capabilities serves a CapabilityStatement listing the terminology
// operations.
func (s *Server) capabilities(c echo.Context) error {
	return writeJSON(c, http.StatusOK, capabilityStatement{
		ResourceType: "CapabilityStatement",
		Status:       "active",
		Kind:         "instance",
		FHIRVersion:  s.chain.FhirContext().Version().VersionString(),
		Format:       []string{"json"},
		Rest: []capabilityRest{{
			Mode: "server",
			Resource: []capabilityResource{
				{Type: "CodeSystem", Operation: []capabilityOperation{operation("lookup", "CodeSystem"), operation("validate-code", "CodeSystem")}},
				{Type: "ValueSet", Operation: []capabilityOperation{operation("expand", "ValueSet"), operation("validate-code", "ValueSet")}},
				{Type: "ConceptMap", Operation: []capabilityOperation{operation("translate", "ConceptMap")}},
			},
		}},
	})
}
