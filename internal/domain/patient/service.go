package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrValidation is returned when a patient record fails validation.
var ErrValidation = errors.New("patient: validation failed")

// Service implements patient demographics processing.
type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// Upsert stores the patient, replacing demographics when the tenant
// already holds a record with the same external ID.
func (s *Service) Upsert(ctx context.Context, p *Patient) error {
	if p.TenantID == "" {
		return fmt.Errorf("%w: tenantId is required", ErrValidation)
	}
	if p.ExternalID == "" {
		return fmt.Errorf("%w: externalId is required", ErrValidation)
	}

	if err := s.repo.Upsert(ctx, p); err != nil {
		return err
	}
	s.log.Debug().
		Str("tenant_id", p.TenantID).
		Str("external_id", p.ExternalID).
		Str("patient_id", p.ID.String()).
		Msg("patient upserted")
	return nil
}

// Get returns a patient by internal ID within the tenant.
func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, tenantID, id)
}

// GetByExternalID returns a patient by the partner system's identifier.
func (s *Service) GetByExternalID(ctx context.Context, tenantID, externalID string) (*Patient, error) {
	return s.repo.GetByExternalID(ctx, tenantID, externalID)
}

// List returns the tenant's patients, the sync working set. Nil bounds
// mean no restriction on modification time.
func (s *Service) List(ctx context.Context, tenantID string, from, to *time.Time) ([]*Patient, error) {
	return s.repo.ListByTenant(ctx, tenantID, from, to)
}
