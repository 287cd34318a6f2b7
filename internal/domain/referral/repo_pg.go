package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/clinicbridge/internal/platform/apperr"
	"github.com/ehr/clinicbridge/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const cols = `id, external_id, patient_id, parent_id, diagnosis_code, diagnosis_name,
	procedure_code, procedure_name, department, category, note, status,
	owned, holder, held_at, created_at, updated_at`

func scanReferral(row pgx.Row) (*Referral, error) {
	var r Referral
	err := row.Scan(&r.ID, &r.ExternalID, &r.PatientID, &r.ParentID, &r.DiagnosisCode, &r.DiagnosisName,
		&r.ProcedureCode, &r.ProcedureName, &r.Department, &r.Category, &r.Note, &r.Status,
		&r.Owned, &r.Holder, &r.HeldAt, &r.CreatedAt, &r.UpdatedAt)
	return &r, err
}

func (p *repoPG) Create(ctx context.Context, r *Referral) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	_, err := db.Conn(ctx, p.pool).Exec(ctx, `
		INSERT INTO referral (`+cols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		r.ID, r.ExternalID, r.PatientID, r.ParentID, r.DiagnosisCode, r.DiagnosisName,
		r.ProcedureCode, r.ProcedureName, r.Department, r.Category, r.Note, r.Status,
		r.Owned, r.Holder, r.HeldAt, r.CreatedAt, r.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("referral_external_id", "referral %s already registered", r.External())
	}
	if err != nil {
		return fmt.Errorf("insert referral: %w", err)
	}
	return nil
}

func (p *repoPG) one(ctx context.Context, query string, key interface{}) (*Referral, error) {
	r, err := scanReferral(db.Conn(ctx, p.pool).QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("referral", key)
	}
	if err != nil {
		return nil, fmt.Errorf("get referral: %w", err)
	}
	return r, nil
}

func (p *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return p.one(ctx, `SELECT `+cols+` FROM referral WHERE id = $1`, id)
}

func (p *repoPG) GetByKey(ctx context.Context, key string) (*Referral, error) {
	return p.one(ctx, `SELECT `+cols+` FROM referral
		WHERE id::text = $1 OR external_id = $1
		ORDER BY (id::text = $1) DESC LIMIT 1`, key)
}

func (p *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Referral, error) {
	if db.TxFromContext(ctx) == nil {
		return nil, fmt.Errorf("lock referral %s: no transaction in context", id)
	}
	return p.one(ctx, `SELECT `+cols+` FROM referral WHERE id = $1 FOR UPDATE`, id)
}

func (p *repoPG) Update(ctx context.Context, r *Referral) error {
	r.UpdatedAt = time.Now().UTC()
	tag, err := db.Conn(ctx, p.pool).Exec(ctx, `
		UPDATE referral SET external_id = $2, status = $3, owned = $4, holder = $5,
			held_at = $6, note = $7, updated_at = $8
		WHERE id = $1`,
		r.ID, r.ExternalID, r.Status, r.Owned, r.Holder, r.HeldAt, r.Note, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update referral: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("referral", r.ID)
	}
	return nil
}

func (p *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Referral, int, error) {
	var where []string
	var args []interface{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Department != "" {
		add("department = $%d", f.Department)
	}
	if f.Owned != nil {
		add("owned = $%d", *f.Owned)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	conn := db.Conn(ctx, p.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM referral`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count referrals: %w", err)
	}
	args = append(args, limit, offset)
	rows, err := conn.Query(ctx, fmt.Sprintf(`SELECT `+cols+` FROM referral%s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list referrals: %w", err)
	}
	defer rows.Close()

	var items []*Referral
	for rows.Next() {
		r, err := scanReferral(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan referral: %w", err)
		}
		items = append(items, r)
	}
	return items, total, rows.Err()
}
