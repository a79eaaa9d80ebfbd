// Package result stores lab results and drives outbound delivery when a
// result reaches the completed state.
package result

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/labbridge/labbridge/internal/domain/patient"
	"github.com/labbridge/labbridge/internal/platform/fhir"
	"github.com/labbridge/labbridge/internal/platform/hl7v2"
)

// Result statuses.
const (
	StatusPending     = "pending"
	StatusPreliminary = "preliminary"
	StatusCompleted   = "completed"
	StatusCorrected   = "corrected"
)

// LabResult is the outcome of a lab order. One result exists per order;
// corrections replace the stored observations.
type LabResult struct {
	ID            uuid.UUID     `json:"id"`
	TenantID      string        `json:"tenantId"`
	OrderID       uuid.UUID     `json:"orderId"`
	PlacerOrderID string        `json:"placerOrderId"`
	PatientID     uuid.UUID     `json:"patientId"`
	TestCode      string        `json:"testCode"`
	TestName      string        `json:"testName,omitempty"`
	Status        string        `json:"status"`
	ReportedAt    *time.Time    `json:"reportedAt,omitempty"`
	Observations  []Observation `json:"observations,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Observation is a single measured value within a result.
type Observation struct {
	ID             uuid.UUID `json:"id"`
	ResultID       uuid.UUID `json:"resultId"`
	Position       int       `json:"position"`
	Code           string    `json:"code"`
	Name           string    `json:"name,omitempty"`
	ValueType      string    `json:"valueType,omitempty"`
	Value          string    `json:"value"`
	Unit           string    `json:"unit,omitempty"`
	ReferenceRange string    `json:"referenceRange,omitempty"`
	AbnormalFlag   string    `json:"abnormalFlag,omitempty"`
	Status         string    `json:"status,omitempty"`
}

// ToHL7 converts the result into generator form for ORU and RSP messages.
func (r *LabResult) ToHL7() hl7v2.ResultInfo {
	info := hl7v2.ResultInfo{
		OrderID:  r.PlacerOrderID,
		TestCode: r.TestCode,
		TestName: r.TestName,
		Status:   r.Status,
	}
	if r.ReportedAt != nil {
		info.ReportedAt = *r.ReportedAt
	}
	for _, o := range r.Observations {
		info.Observations = append(info.Observations, hl7v2.ObservationInfo{
			Code:           o.Code,
			Name:           o.Name,
			ValueType:      o.ValueType,
			Value:          o.Value,
			Unit:           o.Unit,
			ReferenceRange: o.ReferenceRange,
			AbnormalFlag:   o.AbnormalFlag,
			Status:         o.Status,
		})
	}
	return info
}

// ToFHIR converts the result into a DiagnosticReport with contained
// Observation resources.
func (r *LabResult) ToFHIR(p *patient.Patient) *fhir.DiagnosticReportResource {
	report := &fhir.DiagnosticReportResource{
		ResourceType: fhir.TypeDiagnosticReport,
		ID:           r.ID.String(),
		Identifier:   []fhir.Identifier{{Value: r.PlacerOrderID}},
		Status:       fhirReportStatus(r.Status),
		Code: &fhir.CodeableConcept{
			Coding: []fhir.Coding{{Code: r.TestCode, Display: r.TestName}},
		},
	}
	if p != nil {
		report.Subject = &fhir.Reference{Reference: "Patient/" + p.ExternalID}
	}
	if r.ReportedAt != nil {
		report.Issued = r.ReportedAt.UTC().Format(time.RFC3339)
	}

	for i, o := range r.Observations {
		obsID := "obs-" + strconv.Itoa(i+1)
		if o.ID != uuid.Nil {
			obsID = o.ID.String()
		}
		obs := fhir.ObservationResource{
			ResourceType: "Observation",
			ID:           obsID,
			Status:       "final",
			Code: fhir.CodeableConcept{
				Coding: []fhir.Coding{{Code: o.Code, Display: o.Name}},
			},
			ValueString: valueWithUnit(o),
		}
		if o.ReferenceRange != "" {
			obs.ReferenceRange = []fhir.ReferenceRange{{Text: o.ReferenceRange}}
		}
		if o.AbnormalFlag != "" {
			obs.Interpretation = []fhir.CodeableConcept{{Text: o.AbnormalFlag}}
		}
		report.Contained = append(report.Contained, obs)
		report.Result = append(report.Result, fhir.Reference{Reference: "#" + obsID})
	}
	return report
}

// FromFHIR maps a DiagnosticReport resource into a result. OrderID and
// PatientID are resolved by the caller.
func FromFHIR(tenantID string, report *fhir.DiagnosticReportResource) *LabResult {
	r := &LabResult{
		TenantID:      tenantID,
		PlacerOrderID: report.OrderID(),
		Status:        resultStatus(report.Status),
	}
	if report.Code != nil && len(report.Code.Coding) > 0 {
		r.TestCode = report.Code.Coding[0].Code
		r.TestName = report.Code.Coding[0].Display
	}
	if t, err := time.Parse(time.RFC3339, report.Issued); err == nil {
		r.ReportedAt = &t
	}

	for i, obs := range report.Contained {
		o := Observation{Position: i + 1, Value: obs.ValueString, Status: obs.Status}
		if len(obs.Code.Coding) > 0 {
			o.Code = obs.Code.Coding[0].Code
			o.Name = obs.Code.Coding[0].Display
		}
		if len(obs.ReferenceRange) > 0 {
			o.ReferenceRange = obs.ReferenceRange[0].Text
		}
		if len(obs.Interpretation) > 0 {
			o.AbnormalFlag = obs.Interpretation[0].Text
		}
		r.Observations = append(r.Observations, o)
	}
	return r
}

func fhirReportStatus(status string) string {
	switch status {
	case StatusPending:
		return "registered"
	case StatusPreliminary:
		return "preliminary"
	case StatusCompleted:
		return "final"
	case StatusCorrected:
		return "corrected"
	default:
		return "unknown"
	}
}

func resultStatus(fhirStatus string) string {
	switch fhirStatus {
	case "registered", "partial":
		return StatusPending
	case "preliminary":
		return StatusPreliminary
	case "final":
		return StatusCompleted
	case "amended", "corrected":
		return StatusCorrected
	default:
		return StatusPending
	}
}

func valueWithUnit(o Observation) string {
	if o.Unit == "" {
		return o.Value
	}
	return o.Value + " " + o.Unit
}
