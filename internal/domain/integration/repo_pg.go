package integration

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type integrationRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns a Postgres-backed Repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &integrationRepoPG{pool: pool}
}

const integrationCols = `id, tenant_id, name, type, endpoint_url, receiving_app,
	api_key, outbound_api_key, bearer_token, active, created_at, updated_at`

func scanIntegration(row pgx.Row) (*Integration, error) {
	var in Integration
	err := row.Scan(&in.ID, &in.TenantID, &in.Name, &in.Type, &in.EndpointURL, &in.ReceivingApp,
		&in.APIKey, &in.OutboundAPIKey, &in.BearerToken, &in.Active, &in.CreatedAt, &in.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &in, err
}

func (r *integrationRepoPG) Create(ctx context.Context, in *Integration) error {
	in.ID = uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO integration (id, tenant_id, name, type, endpoint_url, receiving_app,
			api_key, outbound_api_key, bearer_token, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		in.ID, in.TenantID, in.Name, in.Type, in.EndpointURL, in.ReceivingApp,
		in.APIKey, in.OutboundAPIKey, in.BearerToken, in.Active)
	return err
}

func (r *integrationRepoPG) Update(ctx context.Context, in *Integration) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE integration SET name=$3, type=$4, endpoint_url=$5, receiving_app=$6,
			api_key=$7, outbound_api_key=$8, bearer_token=$9, active=$10, updated_at=NOW()
		WHERE id = $1 AND tenant_id = $2`,
		in.ID, in.TenantID, in.Name, in.Type, in.EndpointURL, in.ReceivingApp,
		in.APIKey, in.OutboundAPIKey, in.BearerToken, in.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *integrationRepoPG) Delete(ctx context.Context, tenantID string, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM integration WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *integrationRepoPG) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*Integration, error) {
	return scanIntegration(r.pool.QueryRow(ctx,
		`SELECT `+integrationCols+` FROM integration WHERE id = $1 AND tenant_id = $2`, id, tenantID))
}

func (r *integrationRepoPG) GetByAPIKey(ctx context.Context, apiKey string) (*Integration, error) {
	return scanIntegration(r.pool.QueryRow(ctx,
		`SELECT `+integrationCols+` FROM integration WHERE api_key = $1`, apiKey))
}

func (r *integrationRepoPG) ListByTenant(ctx context.Context, tenantID string) ([]*Integration, error) {
	return r.list(ctx, `SELECT `+integrationCols+` FROM integration WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
}

func (r *integrationRepoPG) ListActiveByTenant(ctx context.Context, tenantID string) ([]*Integration, error) {
	return r.list(ctx, `SELECT `+integrationCols+` FROM integration WHERE tenant_id = $1 AND active ORDER BY created_at`, tenantID)
}

func (r *integrationRepoPG) list(ctx context.Context, sql string, args ...interface{}) ([]*Integration, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, in)
	}
	return items, rows.Err()
}

type deliveryLogRepoPG struct{ pool *pgxpool.Pool }

// NewDeliveryLogRepoPG returns a Postgres-backed DeliveryLogRepository.
func NewDeliveryLogRepoPG(pool *pgxpool.Pool) DeliveryLogRepository {
	return &deliveryLogRepoPG{pool: pool}
}

func (r *deliveryLogRepoPG) Append(ctx context.Context, entry *DeliveryLogEntry) error {
	entry.ID = uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO delivery_log (id, tenant_id, integration_id, kind, result_id, patient_id, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		entry.ID, entry.TenantID, entry.IntegrationID, entry.Kind, entry.ResultID, entry.PatientID, entry.Error)
	return err
}

func (r *deliveryLogRepoPG) ListByIntegration(ctx context.Context, tenantID string, integrationID uuid.UUID, limit int) ([]*DeliveryLogEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, integration_id, kind, result_id, patient_id, error, created_at
		FROM delivery_log
		WHERE tenant_id = $1 AND integration_id = $2
		ORDER BY created_at DESC LIMIT $3`,
		tenantID, integrationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*DeliveryLogEntry
	for rows.Next() {
		var e DeliveryLogEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.IntegrationID, &e.Kind, &e.ResultID, &e.PatientID, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &e)
	}
	return items, rows.Err()
}

type syncLogRepoPG struct{ pool *pgxpool.Pool }

// NewSyncLogRepoPG returns a Postgres-backed SyncLogRepository.
func NewSyncLogRepoPG(pool *pgxpool.Pool) SyncLogRepository {
	return &syncLogRepoPG{pool: pool}
}

func (r *syncLogRepoPG) Append(ctx context.Context, entry *SyncLogEntry) error {
	entry.ID = uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sync_log (id, tenant_id, integration_id, total_records, synced_count, error_count,
			start_date, end_date, started_at, finished_at, performed_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		entry.ID, entry.TenantID, entry.IntegrationID, entry.TotalRecords, entry.SyncedCount, entry.ErrorCount,
		entry.StartDate, entry.EndDate, entry.StartedAt, entry.FinishedAt, entry.PerformedBy)
	return err
}

func (r *syncLogRepoPG) ListByIntegration(ctx context.Context, tenantID string, integrationID uuid.UUID, limit int) ([]*SyncLogEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, integration_id, total_records, synced_count, error_count,
			start_date, end_date, started_at, finished_at, performed_by
		FROM sync_log
		WHERE tenant_id = $1 AND integration_id = $2
		ORDER BY started_at DESC LIMIT $3`,
		tenantID, integrationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*SyncLogEntry
	for rows.Next() {
		var e SyncLogEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.IntegrationID, &e.TotalRecords, &e.SyncedCount, &e.ErrorCount,
			&e.StartDate, &e.EndDate, &e.StartedAt, &e.FinishedAt, &e.PerformedBy); err != nil {
			return nil, err
		}
		items = append(items, &e)
	}
	return items, rows.Err()
}
