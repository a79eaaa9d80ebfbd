package result

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no result matches the lookup.
var ErrNotFound = errors.New("result: not found")

// Repository is the persistence interface for lab results.
type Repository interface {
	// Upsert inserts the result or, when the tenant already has one for
	// the same placer order ID, replaces its fields and observations. ID
	// and created_at of the stored row are preserved and written back to
	// r. A stored completed status is retained unless the incoming status
	// is corrected.
	Upsert(ctx context.Context, r *LabResult) error
	// MarkCompleted transitions the result to completed. It reports true
	// only when the status actually changed, so completion side effects
	// fire at most once.
	MarkCompleted(ctx context.Context, tenantID string, id uuid.UUID) (bool, error)
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*LabResult, error)
	GetByPlacerOrderID(ctx context.Context, tenantID, placerOrderID string) (*LabResult, error)
	// ListByPatient returns the patient's results, optionally bounded by
	// reported-at timestamps.
	ListByPatient(ctx context.Context, tenantID string, patientID uuid.UUID, from, to *time.Time) ([]*LabResult, error)
}
