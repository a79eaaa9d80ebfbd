package result

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labbridge/labbridge/internal/domain/order"
	"github.com/labbridge/labbridge/internal/domain/patient"
	"github.com/labbridge/labbridge/internal/platform/fhir"
)

// ErrValidation is returned when a result fails validation.
var ErrValidation = errors.New("result: validation failed")

// ErrOrderNotFound is returned when a result references an order the tenant
// does not have.
var ErrOrderNotFound = errors.New("result: order not found")

// OrderStore is the slice of the order service the result service needs.
type OrderStore interface {
	GetByPlacerOrderID(ctx context.Context, tenantID, placerOrderID string) (*order.LabOrder, error)
	UpdateStatus(ctx context.Context, tenantID string, id uuid.UUID, status string) error
}

// PatientStore resolves the patients results belong to.
type PatientStore interface {
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*patient.Patient, error)
	GetByExternalID(ctx context.Context, tenantID, externalID string) (*patient.Patient, error)
}

// CompletionNotifier receives each result exactly once when it reaches the
// completed state, and again for corrections. Implementations must not
// block; delivery runs in the notifier's own goroutines.
type CompletionNotifier interface {
	ResultCompleted(ctx context.Context, r *LabResult, p *patient.Patient)
}

// Service manages lab results and fires completion notifications.
type Service struct {
	repo     Repository
	orders   OrderStore
	patients PatientStore
	notifier CompletionNotifier
	log      zerolog.Logger
}

func NewService(repo Repository, orders OrderStore, patients PatientStore, log zerolog.Logger) *Service {
	return &Service{repo: repo, orders: orders, patients: patients, log: log}
}

// SetNotifier wires the outbound delivery engine. Called once at startup,
// after the engine is constructed.
func (s *Service) SetNotifier(n CompletionNotifier) {
	s.notifier = n
}

// IngestFHIR stores a result carried by an inbound DiagnosticReport. The
// referenced order must already exist.
func (s *Service) IngestFHIR(ctx context.Context, tenantID string, report *fhir.DiagnosticReportResource) (*LabResult, error) {
	r := FromFHIR(tenantID, report)
	return r, s.store(ctx, r)
}

// Create stores a result submitted through the management API.
func (s *Service) Create(ctx context.Context, r *LabResult) error {
	if r.Status == "" {
		r.Status = StatusPending
	}
	switch r.Status {
	case StatusPending, StatusPreliminary, StatusCompleted, StatusCorrected:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrValidation, r.Status)
	}
	return s.store(ctx, r)
}

func (s *Service) store(ctx context.Context, r *LabResult) error {
	if r.PlacerOrderID == "" {
		return fmt.Errorf("%w: placerOrderId is required", ErrValidation)
	}

	o, err := s.orders.GetByPlacerOrderID(ctx, r.TenantID, r.PlacerOrderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return fmt.Errorf("%w: no order with placer ID %q", ErrOrderNotFound, r.PlacerOrderID)
		}
		return err
	}
	r.OrderID = o.ID
	r.PatientID = o.PatientID
	if r.TestCode == "" {
		r.TestCode = o.TestCode
		r.TestName = o.TestName
	}

	// Completion is edge triggered: a replayed completed result must not
	// fan out again, but a correction always does.
	wasCompleted := false
	if existing, err := s.repo.GetByPlacerOrderID(ctx, r.TenantID, r.PlacerOrderID); err == nil {
		wasCompleted = existing.Status == StatusCompleted || existing.Status == StatusCorrected
	}

	if err := s.repo.Upsert(ctx, r); err != nil {
		return err
	}
	s.log.Info().
		Str("tenant_id", r.TenantID).
		Str("result_id", r.ID.String()).
		Str("placer_order_id", r.PlacerOrderID).
		Str("status", r.Status).
		Msg("result stored")

	switch r.Status {
	case StatusCompleted:
		if !wasCompleted {
			s.fireCompletion(ctx, r)
		}
	case StatusCorrected:
		s.fireCompletion(ctx, r)
	}
	return nil
}

// Complete transitions a result to completed. The transition happens at
// most once; repeated calls are no-ops.
func (s *Service) Complete(ctx context.Context, tenantID string, id uuid.UUID) (*LabResult, error) {
	transitioned, err := s.repo.MarkCompleted(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	r, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if transitioned {
		s.fireCompletion(ctx, r)
	}
	return r, nil
}

func (s *Service) fireCompletion(ctx context.Context, r *LabResult) {
	if err := s.orders.UpdateStatus(ctx, r.TenantID, r.OrderID, order.StatusCompleted); err != nil {
		s.log.Error().Err(err).
			Str("order_id", r.OrderID.String()).
			Msg("marking order completed")
	}

	p, err := s.patients.Get(ctx, r.TenantID, r.PatientID)
	if err != nil {
		s.log.Error().Err(err).
			Str("patient_id", r.PatientID.String()).
			Msg("resolving result patient for delivery")
		p = nil
	}
	if s.notifier != nil {
		s.notifier.ResultCompleted(ctx, r, p)
	}
}

// Get returns a result with its observations.
func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID) (*LabResult, error) {
	return s.repo.GetByID(ctx, tenantID, id)
}

// ResultStatus answers a RESULT_STATUS query. When no result exists yet the
// order's status is reported instead.
func (s *Service) ResultStatus(ctx context.Context, tenantID, placerOrderID string) (string, error) {
	r, err := s.repo.GetByPlacerOrderID(ctx, tenantID, placerOrderID)
	if err == nil {
		return r.Status, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	o, err := s.orders.GetByPlacerOrderID(ctx, tenantID, placerOrderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return "", fmt.Errorf("%w: no order with placer ID %q", ErrOrderNotFound, placerOrderID)
		}
		return "", err
	}
	return o.Status, nil
}

// PatientResults answers a PATIENT_RESULTS query by the partner system's
// patient identifier.
func (s *Service) PatientResults(ctx context.Context, tenantID, externalPatientID string, from, to *time.Time) ([]*LabResult, error) {
	p, err := s.patients.GetByExternalID(ctx, tenantID, externalPatientID)
	if err != nil {
		if errors.Is(err, patient.ErrNotFound) {
			return nil, fmt.Errorf("%w: no patient with external ID %q", ErrNotFound, externalPatientID)
		}
		return nil, err
	}
	return s.repo.ListByPatient(ctx, tenantID, p.ID, from, to)
}
