package clinical

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

// =========== Finding Repository ===========

type findingRepoPG struct{ pool *pgxpool.Pool }

func NewFindingRepoPG(pool *pgxpool.Pool) FindingRepository { return &findingRepoPG{pool: pool} }

const findingCols = `id, appointment_id, anamnesis, clinical_status, therapy,
	external_id, signed_at, created_at, updated_at`

func scanFinding(row pgx.Row) (*Finding, error) {
	var f Finding
	err := row.Scan(&f.ID, &f.AppointmentID, &f.Anamnesis, &f.ClinicalStatus, &f.Therapy,
		&f.ExternalID, &f.SignedAt, &f.CreatedAt, &f.UpdatedAt)
	return &f, err
}

func (r *findingRepoPG) Create(ctx context.Context, f *Finding) error {
	f.ID = uuid.New()
	now := time.Now().UTC()
	f.CreatedAt, f.UpdatedAt = now, now
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO clinical_finding (`+findingCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		f.ID, f.AppointmentID, f.Anamnesis, f.ClinicalStatus, f.Therapy,
		f.ExternalID, f.SignedAt, f.CreatedAt, f.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("finding_exists", "appointment %s already has a finding", f.AppointmentID)
	}
	if err != nil {
		return fmt.Errorf("insert finding: %w", err)
	}
	return nil
}

func (r *findingRepoPG) one(ctx context.Context, query string, arg uuid.UUID) (*Finding, error) {
	f, err := scanFinding(db.Conn(ctx, r.pool).QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("finding", arg)
	}
	if err != nil {
		return nil, fmt.Errorf("get finding: %w", err)
	}
	return f, nil
}

func (r *findingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Finding, error) {
	return r.one(ctx, `SELECT `+findingCols+` FROM clinical_finding WHERE id = $1`, id)
}

func (r *findingRepoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Finding, error) {
	return r.one(ctx, `SELECT `+findingCols+` FROM clinical_finding WHERE appointment_id = $1`, appointmentID)
}

func (r *findingRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Finding, error) {
	return r.one(ctx, `SELECT `+findingCols+` FROM clinical_finding WHERE id = $1 FOR UPDATE`, id)
}

func (r *findingRepoPG) Update(ctx context.Context, f *Finding) error {
	f.UpdatedAt = time.Now().UTC()
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE clinical_finding SET anamnesis = $2, clinical_status = $3, therapy = $4,
			external_id = $5, signed_at = $6, updated_at = $7
		WHERE id = $1`,
		f.ID, f.Anamnesis, f.ClinicalStatus, f.Therapy, f.ExternalID, f.SignedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update finding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("finding", f.ID)
	}
	return nil
}

// =========== Recommendation Repository ===========

type recommendationRepoPG struct{ pool *pgxpool.Pool }

func NewRecommendationRepoPG(pool *pgxpool.Pool) RecommendationRepository {
	return &recommendationRepoPG{pool: pool}
}

func (r *recommendationRepoPG) Create(ctx context.Context, rec *Recommendation) error {
	rec.ID = uuid.New()
	rec.CreatedAt = time.Now().UTC()
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO therapy_recommendation (id, appointment_id, text, issued_by, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		rec.ID, rec.AppointmentID, rec.Text, rec.IssuedBy, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert recommendation: %w", err)
	}
	return nil
}

func (r *recommendationRepoPG) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Recommendation, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, appointment_id, text, issued_by, created_at
		FROM therapy_recommendation WHERE appointment_id = $1 ORDER BY created_at`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	defer rows.Close()

	var items []*Recommendation
	for rows.Next() {
		var rec Recommendation
		if err := rows.Scan(&rec.ID, &rec.AppointmentID, &rec.Text, &rec.IssuedBy, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		items = append(items, &rec)
	}
	return items, rows.Err()
}
