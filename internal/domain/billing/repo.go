package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type InvoiceRepository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetMany(ctx context.Context, ids []uuid.UUID) ([]*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	// MarkSent moves every listed ISSUED invoice to SENT under batchID and
	// returns how many rows changed.
	MarkSent(ctx context.Context, ids []uuid.UUID, batchID uuid.UUID, batchExternalID string, at time.Time) (int, error)
	List(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error)
}

type BatchRepository interface {
	Create(ctx context.Context, b *Batch) error
	GetByID(ctx context.Context, id uuid.UUID) (*Batch, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Batch, error)
	Update(ctx context.Context, b *Batch) error
	List(ctx context.Context, status BatchStatus, limit, offset int) ([]*Batch, int, error)
}
