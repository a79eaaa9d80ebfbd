package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labbridge/labbridge/internal/domain/patient"
	"github.com/labbridge/labbridge/internal/platform/fhir"
	"github.com/labbridge/labbridge/internal/platform/hl7v2"
)

// ErrValidation is returned when an order fails validation.
var ErrValidation = errors.New("order: validation failed")

// PatientStore is the slice of the patient service the order service needs.
type PatientStore interface {
	Upsert(ctx context.Context, p *patient.Patient) error
	GetByExternalID(ctx context.Context, tenantID, externalID string) (*patient.Patient, error)
}

// Service creates orders from inbound messages. The patient referenced by
// an order is upserted first, so orders can always resolve their subject.
type Service struct {
	repo     Repository
	patients PatientStore
	log      zerolog.Logger
}

func NewService(repo Repository, patients PatientStore, log zerolog.Logger) *Service {
	return &Service{repo: repo, patients: patients, log: log}
}

// CreateFromHL7 processes a decoded ORM message into an order.
func (s *Service) CreateFromHL7(ctx context.Context, tenantID string, payload *hl7v2.OrderPayload) (*LabOrder, error) {
	p := patient.FromHL7(tenantID, payload.Patient)
	if err := s.patients.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("upserting order patient: %w", err)
	}

	o := &LabOrder{
		TenantID:      tenantID,
		PatientID:     p.ID,
		PlacerOrderID: payload.PlacerOrderID,
		TestCode:      payload.TestCode,
		TestName:      payload.TestName,
		CodingSystem:  payload.CodingSystem,
		Priority:      payload.Priority,
		Source:        SourceHL7,
		Status:        StatusPending,
	}
	if payload.OrderedAt != "" {
		if t, err := hl7v2.ParseTimestamp(payload.OrderedAt); err == nil {
			o.OrderedAt = &t
		}
	}
	return o, s.save(ctx, o)
}

// CreateFromFHIR processes a ServiceRequest resource into an order. When the
// request's subject is unknown a skeleton patient record is created, to be
// filled in by a later Patient message.
func (s *Service) CreateFromFHIR(ctx context.Context, tenantID string, req *fhir.ServiceRequestResource) (*LabOrder, error) {
	externalID := subjectExternalID(req.Subject)
	if externalID == "" {
		return nil, fmt.Errorf("%w: subject reference is not a patient", ErrValidation)
	}

	p, err := s.patients.GetByExternalID(ctx, tenantID, externalID)
	if errors.Is(err, patient.ErrNotFound) {
		p = &patient.Patient{TenantID: tenantID, ExternalID: externalID}
		err = s.patients.Upsert(ctx, p)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving order patient: %w", err)
	}

	coding := req.TestCoding()
	o := &LabOrder{
		TenantID:      tenantID,
		PatientID:     p.ID,
		PlacerOrderID: req.PlacerOrderID(),
		TestCode:      coding.Code,
		TestName:      coding.Display,
		CodingSystem:  coding.System,
		Priority:      req.Priority,
		Source:        SourceFHIR,
		Status:        StatusPending,
	}
	return o, s.save(ctx, o)
}

func (s *Service) save(ctx context.Context, o *LabOrder) error {
	if o.PlacerOrderID == "" {
		return fmt.Errorf("%w: placerOrderId is required", ErrValidation)
	}
	if o.TestCode == "" {
		return fmt.Errorf("%w: testCode is required", ErrValidation)
	}

	if err := s.repo.Upsert(ctx, o); err != nil {
		return err
	}
	s.log.Info().
		Str("tenant_id", o.TenantID).
		Str("order_id", o.ID.String()).
		Str("placer_order_id", o.PlacerOrderID).
		Str("source", string(o.Source)).
		Msg("order stored")
	return nil
}

// Get returns an order by internal ID within the tenant.
func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID) (*LabOrder, error) {
	return s.repo.GetByID(ctx, tenantID, id)
}

// GetByPlacerOrderID returns an order by the sender's identifier.
func (s *Service) GetByPlacerOrderID(ctx context.Context, tenantID, placerOrderID string) (*LabOrder, error) {
	return s.repo.GetByPlacerOrderID(ctx, tenantID, placerOrderID)
}

// UpdateStatus moves an order through its lifecycle.
func (s *Service) UpdateStatus(ctx context.Context, tenantID string, id uuid.UUID, status string) error {
	switch status {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	return s.repo.UpdateStatus(ctx, tenantID, id, status)
}

// subjectExternalID extracts the patient identifier from a subject
// reference like "Patient/MRN12345".
func subjectExternalID(ref *fhir.Reference) string {
	if ref == nil {
		return ""
	}
	if rest, ok := strings.CutPrefix(ref.Reference, "Patient/"); ok {
		return rest
	}
	return ""
}
