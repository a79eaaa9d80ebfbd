package patient

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no patient matches the lookup.
var ErrNotFound = errors.New("patient: not found")

// Repository is the persistence interface for patients.
type Repository interface {
	// Upsert inserts the patient or, when the tenant already has a record
	// with the same external ID, updates its demographics in place. The
	// stored record's ID and CreatedAt are preserved and written back to p.
	Upsert(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*Patient, error)
	GetByExternalID(ctx context.Context, tenantID, externalID string) (*Patient, error)
	// ListByTenant returns the tenant's patients, optionally restricted to
	// those modified within [from, to]. Nil bounds are open.
	ListByTenant(ctx context.Context, tenantID string, from, to *time.Time) ([]*Patient, error)
}
