// Package order stores lab orders received over either protocol.
package order

import (
	"time"

	"github.com/google/uuid"
)

// Source records which protocol delivered the order.
type Source string

const (
	SourceHL7  Source = "HL7"
	SourceFHIR Source = "FHIR"
)

// Order statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// LabOrder is a received test order. PlacerOrderID is the sender's order
// identifier and is unique within a tenant.
type LabOrder struct {
	ID            uuid.UUID  `json:"id"`
	TenantID      string     `json:"tenantId"`
	PatientID     uuid.UUID  `json:"patientId"`
	PlacerOrderID string     `json:"placerOrderId"`
	TestCode      string     `json:"testCode"`
	TestName      string     `json:"testName,omitempty"`
	CodingSystem  string     `json:"codingSystem,omitempty"`
	Priority      string     `json:"priority,omitempty"`
	Source        Source     `json:"source"`
	Status        string     `json:"status"`
	OrderedAt     *time.Time `json:"orderedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}
