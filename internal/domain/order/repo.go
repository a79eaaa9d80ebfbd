package order

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no order matches the lookup.
var ErrNotFound = errors.New("order: not found")

// Repository is the persistence interface for lab orders.
type Repository interface {
	// Upsert inserts the order or, when the tenant already has one with
	// the same placer order ID, refreshes its test fields. ID, status, and
	// created_at of the stored row are preserved and written back to o.
	Upsert(ctx context.Context, o *LabOrder) error
	UpdateStatus(ctx context.Context, tenantID string, id uuid.UUID, status string) error
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*LabOrder, error)
	GetByPlacerOrderID(ctx context.Context, tenantID, placerOrderID string) (*LabOrder, error)
	ListByPatient(ctx context.Context, tenantID string, patientID uuid.UUID) ([]*LabOrder, error)
}
