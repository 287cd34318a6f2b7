package audit

import (
	"context"

	"github.com/google/uuid"
)

// Repository is append-only: there is no update or delete.
type Repository interface {
	Append(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Message, int, error)
}
