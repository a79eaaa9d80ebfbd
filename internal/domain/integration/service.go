package integration

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrAuthentication is returned when an inbound API key does not resolve to
// an active integration. Callers must not distinguish a missing key from an
// unknown or inactive one.
var ErrAuthentication = errors.New("integration: authentication failed")

// ErrValidation is returned when an integration fails validation.
var ErrValidation = errors.New("integration: validation failed")

// Service implements integration management and the inbound credential gate.
type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// Authenticate resolves an inbound API key to its integration. It fails
// closed: empty keys, unknown keys, and inactive integrations all return
// ErrAuthentication.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (*Integration, error) {
	if apiKey == "" {
		return nil, ErrAuthentication
	}

	in, err := s.repo.GetByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrAuthentication
		}
		return nil, err
	}
	if !in.Active {
		s.log.Warn().Str("integration_id", in.ID.String()).Msg("rejected key for inactive integration")
		return nil, ErrAuthentication
	}
	return in, nil
}

// Create validates and persists a new integration. A fresh inbound API key
// is generated when none is supplied.
func (s *Service) Create(ctx context.Context, in *Integration) error {
	if err := validate(in); err != nil {
		return err
	}
	if in.APIKey == "" {
		in.APIKey = uuid.NewString()
	}

	if err := s.repo.Create(ctx, in); err != nil {
		return err
	}
	s.log.Info().
		Str("integration_id", in.ID.String()).
		Str("tenant_id", in.TenantID).
		Str("type", string(in.Type)).
		Msg("integration created")
	return nil
}

// Update validates and persists changes to an existing integration.
func (s *Service) Update(ctx context.Context, in *Integration) error {
	if err := validate(in); err != nil {
		return err
	}
	return s.repo.Update(ctx, in)
}

// Delete removes an integration within the caller's tenant.
func (s *Service) Delete(ctx context.Context, tenantID string, id uuid.UUID) error {
	return s.repo.Delete(ctx, tenantID, id)
}

// Get returns an integration within the caller's tenant.
func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID) (*Integration, error) {
	return s.repo.GetByID(ctx, tenantID, id)
}

// List returns every integration of the tenant.
func (s *Service) List(ctx context.Context, tenantID string) ([]*Integration, error) {
	return s.repo.ListByTenant(ctx, tenantID)
}

// ListActive returns the tenant's active integrations, the outbound fan-out
// set.
func (s *Service) ListActive(ctx context.Context, tenantID string) ([]*Integration, error) {
	return s.repo.ListActiveByTenant(ctx, tenantID)
}

func validate(in *Integration) error {
	if in.TenantID == "" {
		return fmt.Errorf("%w: tenantId is required", ErrValidation)
	}
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if in.Type != TypeHL7 && in.Type != TypeFHIR {
		return fmt.Errorf("%w: type must be HL7 or FHIR", ErrValidation)
	}
	if in.EndpointURL != "" {
		u, err := url.Parse(in.EndpointURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: endpointUrl must be an absolute URL", ErrValidation)
		}
	}
	return nil
}
