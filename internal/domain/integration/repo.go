package integration

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no integration matches the lookup.
var ErrNotFound = errors.New("integration: not found")

// Repository is the persistence interface for integrations.
type Repository interface {
	Create(ctx context.Context, in *Integration) error
	Update(ctx context.Context, in *Integration) error
	Delete(ctx context.Context, tenantID string, id uuid.UUID) error
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*Integration, error)
	// GetByAPIKey looks up an integration by inbound API key across all
	// tenants. The key itself establishes the tenant.
	GetByAPIKey(ctx context.Context, apiKey string) (*Integration, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*Integration, error)
	ListActiveByTenant(ctx context.Context, tenantID string) ([]*Integration, error)
}

// DeliveryLogRepository persists failed delivery records.
type DeliveryLogRepository interface {
	Append(ctx context.Context, entry *DeliveryLogEntry) error
	ListByIntegration(ctx context.Context, tenantID string, integrationID uuid.UUID, limit int) ([]*DeliveryLogEntry, error)
}

// SyncLogRepository persists sync run records.
type SyncLogRepository interface {
	Append(ctx context.Context, entry *SyncLogEntry) error
	ListByIntegration(ctx context.Context, tenantID string, integrationID uuid.UUID, limit int) ([]*SyncLogEntry, error)
}
