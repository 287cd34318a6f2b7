package referral

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Referral) error
	GetByID(ctx context.Context, id uuid.UUID) (*Referral, error)
	// GetByKey finds a referral by internal id or Central System id.
	GetByKey(ctx context.Context, key string) (*Referral, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Referral, error)
	Update(ctx context.Context, r *Referral) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Referral, int, error)
}
