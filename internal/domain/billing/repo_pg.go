package billing

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

// =========== Invoice Repository ===========

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository { return &invoiceRepoPG{pool: pool} }

const invoiceCols = `id, patient_id, referral_id, appointment_id, amount, payer, type, status,
	diagnosis_code, procedure_name, department, batch_id, external_id, sent_at,
	created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var i Invoice
	err := row.Scan(&i.ID, &i.PatientID, &i.ReferralID, &i.AppointmentID, &i.Amount, &i.Payer, &i.Type, &i.Status,
		&i.DiagnosisCode, &i.ProcedureName, &i.Department, &i.BatchID, &i.ExternalID, &i.SentAt,
		&i.CreatedAt, &i.UpdatedAt)
	return &i, err
}

func (r *invoiceRepoPG) Create(ctx context.Context, i *Invoice) error {
	i.ID = uuid.New()
	now := time.Now().UTC()
	if i.CreatedAt.IsZero() {
		i.CreatedAt = now
	}
	i.UpdatedAt = now
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO invoice (`+invoiceCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		i.ID, i.PatientID, i.ReferralID, i.AppointmentID, i.Amount, i.Payer, i.Type, i.Status,
		i.DiagnosisCode, i.ProcedureName, i.Department, i.BatchID, i.ExternalID, i.SentAt,
		i.CreatedAt, i.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("invoice_exists", "a live fund invoice already exists for this service")
	}
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

func (r *invoiceRepoPG) one(ctx context.Context, query string, id uuid.UUID) (*Invoice, error) {
	i, err := scanInvoice(db.Conn(ctx, r.pool).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("invoice", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return i, nil
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.one(ctx, `SELECT `+invoiceCols+` FROM invoice WHERE id = $1`, id)
}

func (r *invoiceRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.one(ctx, `SELECT `+invoiceCols+` FROM invoice WHERE id = $1 FOR UPDATE`, id)
}

func (r *invoiceRepoPG) GetMany(ctx context.Context, ids []uuid.UUID) ([]*Invoice, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+invoiceCols+` FROM invoice WHERE id = ANY($1) ORDER BY created_at, id`, ids)
	if err != nil {
		return nil, fmt.Errorf("get invoices: %w", err)
	}
	return collectInvoices(rows)
}

func collectInvoices(rows pgx.Rows) ([]*Invoice, error) {
	defer rows.Close()
	var items []*Invoice
	for rows.Next() {
		i, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

func (r *invoiceRepoPG) Update(ctx context.Context, i *Invoice) error {
	i.UpdatedAt = time.Now().UTC()
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE invoice SET status = $2, batch_id = $3, external_id = $4, sent_at = $5, updated_at = $6
		WHERE id = $1`,
		i.ID, i.Status, i.BatchID, i.ExternalID, i.SentAt, i.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("invoice", i.ID)
	}
	return nil
}

func (r *invoiceRepoPG) MarkSent(ctx context.Context, ids []uuid.UUID, batchID uuid.UUID, batchExternalID string, at time.Time) (int, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE invoice SET status = $2, batch_id = $3, external_id = $4 || ':' || id::text,
			sent_at = $5, updated_at = $5
		WHERE id = ANY($1) AND status = $6`,
		ids, InvoiceSent, batchID, batchExternalID, at, InvoiceIssued)
	if err != nil {
		return 0, fmt.Errorf("mark invoices sent: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *invoiceRepoPG) List(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
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
	if f.AppointmentID != nil {
		add("appointment_id = $%d", *f.AppointmentID)
	}
	if f.BatchID != nil {
		add("batch_id = $%d", *f.BatchID)
	}
	if f.Payer != "" {
		add("payer = $%d", f.Payer)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM invoice`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}
	args = append(args, limit, offset)
	rows, err := conn.Query(ctx, fmt.Sprintf(`SELECT `+invoiceCols+` FROM invoice%s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	items, err := collectInvoices(rows)
	return items, total, err
}

// =========== Batch Repository ===========

type batchRepoPG struct{ pool *pgxpool.Pool }

func NewBatchRepoPG(pool *pgxpool.Pool) BatchRepository { return &batchRepoPG{pool: pool} }

const batchCols = `id, type, status, external_id, invoice_ids, error, sent_at, created_at, updated_at`

func scanBatch(row pgx.Row) (*Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.Type, &b.Status, &b.ExternalID, &b.InvoiceIDs, &b.Error, &b.SentAt, &b.CreatedAt, &b.UpdatedAt)
	return &b, err
}

func (r *batchRepoPG) Create(ctx context.Context, b *Batch) error {
	b.ID = uuid.New()
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO invoice_batch (`+batchCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		b.ID, b.Type, b.Status, b.ExternalID, b.InvoiceIDs, b.Error, b.SentAt, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

func (r *batchRepoPG) one(ctx context.Context, query string, id uuid.UUID) (*Batch, error) {
	b, err := scanBatch(db.Conn(ctx, r.pool).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("invoice batch", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

func (r *batchRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Batch, error) {
	return r.one(ctx, `SELECT `+batchCols+` FROM invoice_batch WHERE id = $1`, id)
}

func (r *batchRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Batch, error) {
	return r.one(ctx, `SELECT `+batchCols+` FROM invoice_batch WHERE id = $1 FOR UPDATE`, id)
}

func (r *batchRepoPG) Update(ctx context.Context, b *Batch) error {
	b.UpdatedAt = time.Now().UTC()
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE invoice_batch SET status = $2, external_id = $3, error = $4, sent_at = $5, updated_at = $6
		WHERE id = $1`,
		b.ID, b.Status, b.ExternalID, b.Error, b.SentAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("invoice batch", b.ID)
	}
	return nil
}

func (r *batchRepoPG) List(ctx context.Context, status BatchStatus, limit, offset int) ([]*Batch, int, error) {
	conn := db.Conn(ctx, r.pool)
	clause, args := "", []interface{}{}
	if status != "" {
		clause, args = " WHERE status = $1", append(args, status)
	}
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM invoice_batch`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count batches: %w", err)
	}
	args = append(args, limit, offset)
	rows, err := conn.Query(ctx, fmt.Sprintf(`SELECT `+batchCols+` FROM invoice_batch%s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()
	var items []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan batch: %w", err)
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}
