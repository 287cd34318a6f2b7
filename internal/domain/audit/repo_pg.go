package audit

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

const cols = `id, type, direction, outcome, payload, response, error,
	patient_id, referral_id, invoice_id, appointment_id, batch_id, created_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.Type, &m.Direction, &m.Outcome, &m.Payload, &m.Response, &m.Error,
		&m.PatientID, &m.ReferralID, &m.InvoiceID, &m.AppointmentID, &m.BatchID, &m.CreatedAt)
	return &m, err
}

func (r *repoPG) Append(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO audit_message (`+cols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		m.ID, m.Type, m.Direction, m.Outcome, m.Payload, m.Response, m.Error,
		m.PatientID, m.ReferralID, m.InvoiceID, m.AppointmentID, m.BatchID, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit message: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	m, err := scanMessage(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+cols+` FROM audit_message WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("audit message", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get audit message: %w", err)
	}
	return m, nil
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Message, int, error) {
	var where []string
	var args []interface{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.ReferralID != nil {
		add("referral_id = $%d", *f.ReferralID)
	}
	if f.InvoiceID != nil {
		add("invoice_id = $%d", *f.InvoiceID)
	}
	if f.AppointmentID != nil {
		add("appointment_id = $%d", *f.AppointmentID)
	}
	if f.BatchID != nil {
		add("batch_id = $%d", *f.BatchID)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.Outcome != "" {
		add("outcome = $%d", f.Outcome)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM audit_message`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit messages: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := conn.Query(ctx, fmt.Sprintf(`SELECT `+cols+` FROM audit_message%s
		ORDER BY created_at, id LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit messages: %w", err)
	}
	defer rows.Close()

	var items []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan audit message: %w", err)
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}
