package patient

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicbridge/internal/domain/audit"
	"github.com/ehr/clinicbridge/internal/platform/apperr"
	"github.com/ehr/clinicbridge/internal/platform/central"
	"github.com/ehr/clinicbridge/internal/platform/db"
	"github.com/ehr/clinicbridge/internal/platform/message"
)

type Service struct {
	repo     Repository
	tx       db.Transactor
	audit    *audit.Service
	central  central.Client
	renderer *message.Renderer
	now      func() time.Time
	logger   zerolog.Logger
}

func NewService(repo Repository, tx db.Transactor, auditSvc *audit.Service, client central.Client, renderer *message.Renderer, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		tx:       tx,
		audit:    auditSvc,
		central:  client,
		renderer: renderer,
		now:      time.Now,
		logger:   logger.With().Str("component", "patient").Logger(),
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) Create(ctx context.Context, p *Patient) error {
	if p.MBO == "" {
		return apperr.Invalid("mbo is required")
	}
	return s.repo.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// RefreshInsurance looks the patient's policy up at the Central System,
// stores the result as the local cache and records an incoming
// INSURANCE_CHECK message.
func (s *Service) RefreshInsurance(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	payload, err := s.renderer.Render(message.InsuranceQuery, message.Values{"patient_mbo": p.MBO})
	if err != nil {
		return nil, err
	}

	ins, callErr := s.central.LookupInsurance(ctx, p.MBO, payload)
	if callErr != nil {
		s.logger.Warn().Err(callErr).Str("patient_id", id.String()).Msg("insurance lookup failed")
		msg := audit.New(audit.TypeInsuranceCheck, payload).Inbound().Failed(callErr).ForPatient(id)
		if err := s.audit.Record(ctx, msg); err != nil {
			return nil, err
		}
		return nil, apperr.Transient(string(central.OpLookupInsurance), callErr)
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		checked := s.now().UTC()
		p.InsuranceActive = ins.Active
		p.SupplementalCoverage = ins.Supplemental
		p.InsuranceCategory = ins.Category
		p.InsuranceCheckedAt = &checked
		if ins.FirstName != "" {
			p.FirstName = ins.FirstName
		}
		if ins.LastName != "" {
			p.LastName = ins.LastName
		}
		if err := s.repo.Update(ctx, p); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.New(audit.TypeInsuranceCheck, payload).
			Inbound().Succeeded(ins.Response).ForPatient(id))
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
