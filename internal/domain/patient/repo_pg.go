package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/clinicbridge/internal/platform/apperr"
	"github.com/ehr/clinicbridge/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const cols = `id, mbo, first_name, last_name, date_of_birth,
	insurance_active, supplemental_coverage, insurance_category, insurance_checked_at,
	created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.MBO, &p.FirstName, &p.LastName, &p.DateOfBirth,
		&p.InsuranceActive, &p.SupplementalCoverage, &p.InsuranceCategory, &p.InsuranceCheckedAt,
		&p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO patient (`+cols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		p.ID, p.MBO, p.FirstName, p.LastName, p.DateOfBirth,
		p.InsuranceActive, p.SupplementalCoverage, p.InsuranceCategory, p.InsuranceCheckedAt,
		p.CreatedAt, p.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("patient_mbo", "patient with MBO %s already exists", p.MBO)
	}
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *repoPG) get(ctx context.Context, where string, arg interface{}) (*Patient, error) {
	p, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+cols+` FROM patient WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("patient", arg)
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.get(ctx, "id = $1", id)
}

func (r *repoPG) GetByMBO(ctx context.Context, mbo string) (*Patient, error) {
	return r.get(ctx, "mbo = $1", mbo)
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	p.UpdatedAt = time.Now().UTC()
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE patient SET first_name = $2, last_name = $3, date_of_birth = $4,
			insurance_active = $5, supplemental_coverage = $6, insurance_category = $7,
			insurance_checked_at = $8, updated_at = $9
		WHERE id = $1`,
		p.ID, p.FirstName, p.LastName, p.DateOfBirth,
		p.InsuranceActive, p.SupplementalCoverage, p.InsuranceCategory,
		p.InsuranceCheckedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("patient", p.ID)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}
	rows, err := conn.Query(ctx, `SELECT `+cols+` FROM patient ORDER BY last_name, first_name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan patient: %w", err)
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
