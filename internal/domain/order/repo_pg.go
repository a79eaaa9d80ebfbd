package order

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type orderRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns a Postgres-backed Repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &orderRepoPG{pool: pool}
}

const orderCols = `id, tenant_id, patient_id, placer_order_id, test_code, test_name,
	coding_system, priority, source, status, ordered_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*LabOrder, error) {
	var o LabOrder
	err := row.Scan(&o.ID, &o.TenantID, &o.PatientID, &o.PlacerOrderID, &o.TestCode, &o.TestName,
		&o.CodingSystem, &o.Priority, &o.Source, &o.Status, &o.OrderedAt, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &o, err
}

func (r *orderRepoPG) Upsert(ctx context.Context, o *LabOrder) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO lab_order (id, tenant_id, patient_id, placer_order_id, test_code, test_name,
			coding_system, priority, source, status, ordered_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (tenant_id, placer_order_id) DO UPDATE SET
			patient_id = EXCLUDED.patient_id,
			test_code = EXCLUDED.test_code,
			test_name = EXCLUDED.test_name,
			coding_system = EXCLUDED.coding_system,
			priority = EXCLUDED.priority,
			ordered_at = EXCLUDED.ordered_at,
			updated_at = NOW()
		RETURNING id, status, created_at, updated_at`,
		uuid.New(), o.TenantID, o.PatientID, o.PlacerOrderID, o.TestCode, o.TestName,
		o.CodingSystem, o.Priority, o.Source, o.Status, o.OrderedAt).
		Scan(&o.ID, &o.Status, &o.CreatedAt, &o.UpdatedAt)
}

func (r *orderRepoPG) UpdateStatus(ctx context.Context, tenantID string, id uuid.UUID, status string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE lab_order SET status = $3, updated_at = NOW() WHERE id = $1 AND tenant_id = $2`,
		id, tenantID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *orderRepoPG) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*LabOrder, error) {
	return scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderCols+` FROM lab_order WHERE id = $1 AND tenant_id = $2`, id, tenantID))
}

func (r *orderRepoPG) GetByPlacerOrderID(ctx context.Context, tenantID, placerOrderID string) (*LabOrder, error) {
	return scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderCols+` FROM lab_order WHERE tenant_id = $1 AND placer_order_id = $2`, tenantID, placerOrderID))
}

func (r *orderRepoPG) ListByPatient(ctx context.Context, tenantID string, patientID uuid.UUID) ([]*LabOrder, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderCols+` FROM lab_order WHERE tenant_id = $1 AND patient_id = $2 ORDER BY created_at DESC`,
		tenantID, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*LabOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}
