// Package patient stores patient demographics keyed by the identifier the
// sending system uses, scoped per tenant.
package patient

import (
	"time"

	"github.com/google/uuid"

	"github.com/labbridge/labbridge/internal/platform/fhir"
	"github.com/labbridge/labbridge/internal/platform/hl7v2"
)

// Patient is a patient record. ExternalID is the partner system's
// identifier (an MRN or similar) and is unique within a tenant.
type Patient struct {
	ID         uuid.UUID  `json:"id"`
	TenantID   string     `json:"tenantId"`
	ExternalID string     `json:"externalId"`
	FamilyName string     `json:"familyName"`
	GivenName  string     `json:"givenName"`
	BirthDate  *time.Time `json:"birthDate,omitempty"`
	Gender     string     `json:"gender,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	Street     string     `json:"street,omitempty"`
	City       string     `json:"city,omitempty"`
	State      string     `json:"state,omitempty"`
	PostalCode string     `json:"postalCode,omitempty"`
	Country    string     `json:"country,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// FromHL7 builds a Patient from decoded PID demographics.
func FromHL7(tenantID string, info hl7v2.PatientInfo) *Patient {
	p := &Patient{
		TenantID:   tenantID,
		ExternalID: info.ExternalID,
		FamilyName: info.FamilyName,
		GivenName:  info.GivenName,
		Gender:     info.Gender,
		Phone:      info.Phone,
		Street:     info.Street,
		City:       info.City,
		State:      info.State,
		PostalCode: info.PostalCode,
		Country:    info.Country,
	}
	if t, err := time.Parse("2006-01-02", info.BirthDate); err == nil {
		p.BirthDate = &t
	}
	return p
}

// FromFHIR builds a Patient from a FHIR Patient resource.
func FromFHIR(tenantID string, res *fhir.PatientResource) *Patient {
	addr := res.PrimaryAddress()
	p := &Patient{
		TenantID:   tenantID,
		ExternalID: res.ExternalID(),
		FamilyName: res.FamilyName(),
		GivenName:  res.GivenName(),
		Gender:     res.Gender,
		Phone:      res.Phone(),
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
	}
	if len(addr.Line) > 0 {
		p.Street = addr.Line[0]
	}
	if t, err := time.Parse("2006-01-02", res.BirthDate); err == nil {
		p.BirthDate = &t
	}
	return p
}

// ToHL7 converts the record into generator demographics.
func (p *Patient) ToHL7() hl7v2.PatientInfo {
	info := hl7v2.PatientInfo{
		ExternalID: p.ExternalID,
		FamilyName: p.FamilyName,
		GivenName:  p.GivenName,
		Gender:     p.Gender,
		Phone:      p.Phone,
		Street:     p.Street,
		City:       p.City,
		State:      p.State,
		PostalCode: p.PostalCode,
		Country:    p.Country,
	}
	if p.BirthDate != nil {
		info.BirthDate = p.BirthDate.Format("2006-01-02")
	}
	return info
}

// ToFHIR converts the record into a FHIR Patient resource.
func (p *Patient) ToFHIR() *fhir.PatientResource {
	res := &fhir.PatientResource{
		ResourceType: fhir.TypePatient,
		ID:           p.ID.String(),
		Identifier:   []fhir.Identifier{{Value: p.ExternalID}},
		Gender:       p.Gender,
	}
	if p.FamilyName != "" || p.GivenName != "" {
		name := fhir.HumanName{Family: p.FamilyName}
		if p.GivenName != "" {
			name.Given = []string{p.GivenName}
		}
		res.Name = []fhir.HumanName{name}
	}
	if p.BirthDate != nil {
		res.BirthDate = p.BirthDate.Format("2006-01-02")
	}
	if p.Phone != "" {
		res.Telecom = []fhir.ContactPoint{{System: "phone", Value: p.Phone}}
	}
	if p.City != "" || p.Street != "" {
		addr := fhir.Address{
			City:       p.City,
			State:      p.State,
			PostalCode: p.PostalCode,
			Country:    p.Country,
		}
		if p.Street != "" {
			addr.Line = []string{p.Street}
		}
		res.Address = []fhir.Address{addr}
	}
	return res
}
