package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "audit").Logger()}
}

// Record appends m. Callers run it inside the transaction of the state change
// it describes.
func (s *Service) Record(ctx context.Context, m *Message) error {
	if m.Type == "" || m.Direction == "" || m.Outcome == "" {
		return fmt.Errorf("audit message requires type, direction and outcome")
	}
	if err := s.repo.Append(ctx, m); err != nil {
		return err
	}
	s.logger.Debug().
		Str("type", string(m.Type)).
		Str("outcome", string(m.Outcome)).
		Str("id", m.ID.String()).
		Msg("audit message recorded")
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Message, error) {
	return s.repo.GetByID(ctx, id)
}

// Timeline lists messages matching f in creation order.
func (s *Service) Timeline(ctx context.Context, f Filter, limit, offset int) ([]*Message, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}
