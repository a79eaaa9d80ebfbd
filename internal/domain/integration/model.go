// Package integration manages the external systems connected to the engine:
// their credentials, delivery endpoints, and the failure and sync audit logs.
package integration

import (
	"time"

	"github.com/google/uuid"
)

// Type is the protocol an integration speaks.
type Type string

const (
	TypeHL7  Type = "HL7"
	TypeFHIR Type = "FHIR"
)

// Integration is an external system connected to a tenant. APIKey
// authenticates the partner's inbound traffic; OutboundAPIKey and
// BearerToken authenticate the engine when delivering outbound.
type Integration struct {
	ID       uuid.UUID `json:"id"`
	TenantID string    `json:"tenantId"`
	Name     string    `json:"name"`
	Type     Type      `json:"type"`

	// EndpointURL is where outbound messages are delivered. Empty for
	// inbound-only integrations.
	EndpointURL string `json:"endpointUrl,omitempty"`
	// ReceivingApp names the partner system in generated HL7 headers.
	ReceivingApp string `json:"receivingApp,omitempty"`

	APIKey         string `json:"-"`
	OutboundAPIKey string `json:"-"`
	BearerToken    string `json:"-"`

	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Delivery kinds recorded in the delivery log.
type DeliveryKind string

const (
	DeliveryResult DeliveryKind = "result_transmission"
	DeliverySync   DeliveryKind = "patient_sync"
)

// DeliveryLogEntry records a failed outbound delivery attempt. Successful
// deliveries are not logged.
type DeliveryLogEntry struct {
	ID            uuid.UUID    `json:"id"`
	TenantID      string       `json:"tenantId"`
	IntegrationID uuid.UUID    `json:"integrationId"`
	Kind          DeliveryKind `json:"kind"`
	ResultID      *uuid.UUID   `json:"resultId,omitempty"`
	PatientID     *uuid.UUID   `json:"patientId,omitempty"`
	Error         string       `json:"error"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// SyncLogEntry records one run of the patient sync orchestrator.
// TotalRecords always equals SyncedCount plus ErrorCount. StartDate and
// EndDate hold the requested modification window; nil means the bound was
// open.
type SyncLogEntry struct {
	ID            uuid.UUID  `json:"id"`
	TenantID      string     `json:"tenantId"`
	IntegrationID uuid.UUID  `json:"integrationId"`
	TotalRecords  int        `json:"totalRecords"`
	SyncedCount   int        `json:"syncedCount"`
	ErrorCount    int        `json:"errorCount"`
	StartDate     *time.Time `json:"startDate,omitempty"`
	EndDate       *time.Time `json:"endDate,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	FinishedAt    time.Time  `json:"finishedAt"`
	PerformedBy   string     `json:"performedBy"`
}
