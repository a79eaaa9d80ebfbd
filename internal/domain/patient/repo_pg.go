package patient

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type patientRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns a Postgres-backed Repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `id, tenant_id, external_id, family_name, given_name, birth_date, gender,
	phone, street, city, state, postal_code, country, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.TenantID, &p.ExternalID, &p.FamilyName, &p.GivenName, &p.BirthDate, &p.Gender,
		&p.Phone, &p.Street, &p.City, &p.State, &p.PostalCode, &p.Country, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *patientRepoPG) Upsert(ctx context.Context, p *Patient) error {
	// The conflict target makes repeated messages for the same patient
	// idempotent: id and created_at survive, demographics are replaced.
	return r.pool.QueryRow(ctx, `
		INSERT INTO lab_patient (id, tenant_id, external_id, family_name, given_name, birth_date, gender,
			phone, street, city, state, postal_code, country)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (tenant_id, external_id) DO UPDATE SET
			family_name = EXCLUDED.family_name,
			given_name = EXCLUDED.given_name,
			birth_date = EXCLUDED.birth_date,
			gender = EXCLUDED.gender,
			phone = EXCLUDED.phone,
			street = EXCLUDED.street,
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			postal_code = EXCLUDED.postal_code,
			country = EXCLUDED.country,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		uuid.New(), p.TenantID, p.ExternalID, p.FamilyName, p.GivenName, p.BirthDate, p.Gender,
		p.Phone, p.Street, p.City, p.State, p.PostalCode, p.Country).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.pool.QueryRow(ctx,
		`SELECT `+patientCols+` FROM lab_patient WHERE id = $1 AND tenant_id = $2`, id, tenantID))
}

func (r *patientRepoPG) GetByExternalID(ctx context.Context, tenantID, externalID string) (*Patient, error) {
	return scanPatient(r.pool.QueryRow(ctx,
		`SELECT `+patientCols+` FROM lab_patient WHERE tenant_id = $1 AND external_id = $2`, tenantID, externalID))
}

func (r *patientRepoPG) ListByTenant(ctx context.Context, tenantID string, from, to *time.Time) ([]*Patient, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+patientCols+` FROM lab_patient
		WHERE tenant_id = $1
			AND ($2::timestamptz IS NULL OR updated_at >= $2)
			AND ($3::timestamptz IS NULL OR updated_at <= $3)
		ORDER BY created_at`,
		tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}
