package clinical

import (
	"context"

	"github.com/google/uuid"
)

type FindingRepository interface {
	Create(ctx context.Context, f *Finding) error
	GetByID(ctx context.Context, id uuid.UUID) (*Finding, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Finding, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Finding, error)
	Update(ctx context.Context, f *Finding) error
}

type RecommendationRepository interface {
	Create(ctx context.Context, r *Recommendation) error
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Recommendation, error)
}
