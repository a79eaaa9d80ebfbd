package result

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type resultRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns a Postgres-backed Repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &resultRepoPG{pool: pool}
}

const resultCols = `id, tenant_id, order_id, placer_order_id, patient_id, test_code, test_name,
	status, reported_at, created_at, updated_at`

func scanResult(row pgx.Row) (*LabResult, error) {
	var r LabResult
	err := row.Scan(&r.ID, &r.TenantID, &r.OrderID, &r.PlacerOrderID, &r.PatientID, &r.TestCode, &r.TestName,
		&r.Status, &r.ReportedAt, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &r, err
}

func (repo *resultRepoPG) Upsert(ctx context.Context, r *LabResult) error {
	tx, err := repo.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO lab_result (id, tenant_id, order_id, placer_order_id, patient_id, test_code, test_name,
			status, reported_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (tenant_id, placer_order_id) DO UPDATE SET
			order_id = EXCLUDED.order_id,
			patient_id = EXCLUDED.patient_id,
			test_code = EXCLUDED.test_code,
			test_name = EXCLUDED.test_name,
			status = CASE
				WHEN lab_result.status = 'completed' AND EXCLUDED.status <> 'corrected'
				THEN lab_result.status
				ELSE EXCLUDED.status
			END,
			reported_at = EXCLUDED.reported_at,
			updated_at = NOW()
		RETURNING id, status, created_at, updated_at`,
		uuid.New(), r.TenantID, r.OrderID, r.PlacerOrderID, r.PatientID, r.TestCode, r.TestName,
		r.Status, r.ReportedAt).
		Scan(&r.ID, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM lab_observation WHERE result_id = $1`, r.ID); err != nil {
		return err
	}
	for i := range r.Observations {
		o := &r.Observations[i]
		o.ID = uuid.New()
		o.ResultID = r.ID
		o.Position = i + 1
		_, err := tx.Exec(ctx, `
			INSERT INTO lab_observation (id, result_id, position, code, name, value_type, value,
				unit, reference_range, abnormal_flag, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			o.ID, o.ResultID, o.Position, o.Code, o.Name, o.ValueType, o.Value,
			o.Unit, o.ReferenceRange, o.AbnormalFlag, o.Status)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (repo *resultRepoPG) MarkCompleted(ctx context.Context, tenantID string, id uuid.UUID) (bool, error) {
	tag, err := repo.pool.Exec(ctx, `
		UPDATE lab_result SET status = 'completed', updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND status <> 'completed'`,
		id, tenantID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Distinguish already-completed from missing.
	var exists bool
	err = repo.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM lab_result WHERE id = $1 AND tenant_id = $2)`, id, tenantID).
		Scan(&exists)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (repo *resultRepoPG) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*LabResult, error) {
	r, err := scanResult(repo.pool.QueryRow(ctx,
		`SELECT `+resultCols+` FROM lab_result WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	if err != nil {
		return nil, err
	}
	if err := repo.loadObservations(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (repo *resultRepoPG) GetByPlacerOrderID(ctx context.Context, tenantID, placerOrderID string) (*LabResult, error) {
	r, err := scanResult(repo.pool.QueryRow(ctx,
		`SELECT `+resultCols+` FROM lab_result WHERE tenant_id = $1 AND placer_order_id = $2`, tenantID, placerOrderID))
	if err != nil {
		return nil, err
	}
	if err := repo.loadObservations(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (repo *resultRepoPG) ListByPatient(ctx context.Context, tenantID string, patientID uuid.UUID, from, to *time.Time) ([]*LabResult, error) {
	rows, err := repo.pool.Query(ctx, `
		SELECT `+resultCols+` FROM lab_result
		WHERE tenant_id = $1 AND patient_id = $2
			AND ($3::timestamptz IS NULL OR reported_at >= $3)
			AND ($4::timestamptz IS NULL OR reported_at <= $4)
		ORDER BY reported_at DESC NULLS LAST`,
		tenantID, patientID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*LabResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, r := range items {
		if err := repo.loadObservations(ctx, r); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (repo *resultRepoPG) loadObservations(ctx context.Context, r *LabResult) error {
	rows, err := repo.pool.Query(ctx, `
		SELECT id, result_id, position, code, name, value_type, value,
			unit, reference_range, abnormal_flag, status
		FROM lab_observation WHERE result_id = $1 ORDER BY position`, r.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.ID, &o.ResultID, &o.Position, &o.Code, &o.Name, &o.ValueType, &o.Value,
			&o.Unit, &o.ReferenceRange, &o.AbnormalFlag, &o.Status); err != nil {
			return err
		}
		r.Observations = append(r.Observations, o)
	}
	return rows.Err()
}
