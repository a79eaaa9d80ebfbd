package fhir

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed reports JSON that is not a usable FHIR resource.
var ErrMalformed = errors.New("fhir: malformed resource")

// Resource type names the engine processes.
const (
	TypePatient          = "Patient"
	TypeServiceRequest   = "ServiceRequest"
	TypeDiagnosticReport = "DiagnosticReport"
)

// ParsedResource is the decoded form of an inbound FHIR resource. Exactly
// one of the pointers is set for a supported type; all are nil when Type
// names a resource the engine does not process.
type ParsedResource struct {
	Type string

	Patient          *PatientResource
	ServiceRequest   *ServiceRequestResource
	DiagnosticReport *DiagnosticReportResource
}

// ParseResource decodes raw JSON into a typed resource. The resourceType
// field is mandatory; its absence, or JSON that does not decode, returns
// ErrMalformed. Unrecognized resource types decode into a ParsedResource
// with only Type set, so callers can report them.
func ParseResource(raw []byte) (*ParsedResource, error) {
	var peek struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if peek.ResourceType == "" {
		return nil, fmt.Errorf("%w: missing resourceType", ErrMalformed)
	}

	out := &ParsedResource{Type: peek.ResourceType}
	switch peek.ResourceType {
	case TypePatient:
		var p PatientResource
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if p.ExternalID() == "" {
			return nil, fmt.Errorf("%w: Patient has no identifier", ErrMalformed)
		}
		out.Patient = &p
	case TypeServiceRequest:
		var s ServiceRequestResource
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if s.PlacerOrderID() == "" {
			return nil, fmt.Errorf("%w: ServiceRequest has no identifier", ErrMalformed)
		}
		if s.Subject == nil || s.Subject.Reference == "" {
			return nil, fmt.Errorf("%w: ServiceRequest has no subject", ErrMalformed)
		}
		out.ServiceRequest = &s
	case TypeDiagnosticReport:
		var d DiagnosticReportResource
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if d.OrderID() == "" {
			return nil, fmt.Errorf("%w: DiagnosticReport has no identifier", ErrMalformed)
		}
		out.DiagnosticReport = &d
	}
	return out, nil
}
