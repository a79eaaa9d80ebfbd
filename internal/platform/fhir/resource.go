// Package fhir holds the FHIR R4 resource types the engine exchanges with
// integration partners, plus the JSON codec and OperationOutcome helpers.
package fhir

// Coding is a reference to a code defined by a terminology system.
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// CodeableConcept is a value drawn from one or more terminologies, with an
// optional plain-text representation.
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Reference points at another resource.
type Reference struct {
	Reference string `json:"reference,omitempty"`
	Display   string `json:"display,omitempty"`
}

// Identifier is a business identifier such as an MRN or placer order number.
type Identifier struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

// HumanName is a name of a person.
type HumanName struct {
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
}

// ContactPoint is a phone number, email address, or similar.
type ContactPoint struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
	Use    string `json:"use,omitempty"`
}

// Address is a postal address.
type Address struct {
	Line       []string `json:"line,omitempty"`
	City       string   `json:"city,omitempty"`
	State      string   `json:"state,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Country    string   `json:"country,omitempty"`
}

// Meta carries resource metadata.
type Meta struct {
	VersionID   string `json:"versionId,omitempty"`
	LastUpdated string `json:"lastUpdated,omitempty"`
}

// PatientResource is a FHIR Patient.
type PatientResource struct {
	ResourceType string         `json:"resourceType"`
	ID           string         `json:"id,omitempty"`
	Meta         *Meta          `json:"meta,omitempty"`
	Identifier   []Identifier   `json:"identifier,omitempty"`
	Name         []HumanName    `json:"name,omitempty"`
	Gender       string         `json:"gender,omitempty"`
	BirthDate    string         `json:"birthDate,omitempty"`
	Telecom      []ContactPoint `json:"telecom,omitempty"`
	Address      []Address      `json:"address,omitempty"`
}

// ExternalID returns the first identifier value, the patient's external
// identifier from the sending system.
func (p *PatientResource) ExternalID() string {
	if len(p.Identifier) == 0 {
		return ""
	}
	return p.Identifier[0].Value
}

// FamilyName returns the family part of the first name entry.
func (p *PatientResource) FamilyName() string {
	if len(p.Name) == 0 {
		return ""
	}
	return p.Name[0].Family
}

// GivenName returns the first given name of the first name entry.
func (p *PatientResource) GivenName() string {
	if len(p.Name) == 0 || len(p.Name[0].Given) == 0 {
		return ""
	}
	return p.Name[0].Given[0]
}

// Phone returns the first phone telecom value.
func (p *PatientResource) Phone() string {
	for _, t := range p.Telecom {
		if t.System == "phone" || t.System == "" {
			return t.Value
		}
	}
	return ""
}

// PrimaryAddress returns the first address entry, or a zero Address.
func (p *PatientResource) PrimaryAddress() Address {
	if len(p.Address) == 0 {
		return Address{}
	}
	return p.Address[0]
}

// ServiceRequestResource is a FHIR ServiceRequest, the FHIR counterpart of
// an HL7v2 lab order.
type ServiceRequestResource struct {
	ResourceType string           `json:"resourceType"`
	ID           string           `json:"id,omitempty"`
	Identifier   []Identifier     `json:"identifier,omitempty"`
	Status       string           `json:"status,omitempty"`
	Intent       string           `json:"intent,omitempty"`
	Priority     string           `json:"priority,omitempty"`
	Code         *CodeableConcept `json:"code,omitempty"`
	Subject      *Reference       `json:"subject,omitempty"`
	AuthoredOn   string           `json:"authoredOn,omitempty"`
}

// PlacerOrderID returns the first identifier value, the placer's order
// identifier.
func (s *ServiceRequestResource) PlacerOrderID() string {
	if len(s.Identifier) == 0 {
		return ""
	}
	return s.Identifier[0].Value
}

// TestCoding returns the first coding of the request code, or a zero Coding.
func (s *ServiceRequestResource) TestCoding() Coding {
	if s.Code == nil || len(s.Code.Coding) == 0 {
		return Coding{}
	}
	return s.Code.Coding[0]
}

// ObservationResource is a FHIR Observation, used contained within
// diagnostic reports.
type ObservationResource struct {
	ResourceType   string            `json:"resourceType"`
	ID             string            `json:"id,omitempty"`
	Status         string            `json:"status,omitempty"`
	Code           CodeableConcept   `json:"code"`
	ValueString    string            `json:"valueString,omitempty"`
	Interpretation []CodeableConcept `json:"interpretation,omitempty"`
	ReferenceRange []ReferenceRange  `json:"referenceRange,omitempty"`
}

// ReferenceRange is the reference interval of an observation value.
type ReferenceRange struct {
	Text string `json:"text,omitempty"`
}

// DiagnosticReportResource is a FHIR DiagnosticReport. Observations are
// carried as contained resources referenced from Result.
type DiagnosticReportResource struct {
	ResourceType string                `json:"resourceType"`
	ID           string                `json:"id,omitempty"`
	Contained    []ObservationResource `json:"contained,omitempty"`
	Identifier   []Identifier          `json:"identifier,omitempty"`
	Status       string                `json:"status,omitempty"`
	Code         *CodeableConcept      `json:"code,omitempty"`
	Subject      *Reference            `json:"subject,omitempty"`
	Issued       string                `json:"issued,omitempty"`
	Result       []Reference           `json:"result,omitempty"`
	Conclusion   string                `json:"conclusion,omitempty"`
}

// OrderID returns the first identifier value, linking the report back to
// the originating order.
func (d *DiagnosticReportResource) OrderID() string {
	if len(d.Identifier) == 0 {
		return ""
	}
	return d.Identifier[0].Value
}
