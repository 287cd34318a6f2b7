package referral

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicbridge/internal/domain/audit"
	"github.com/ehr/clinicbridge/internal/domain/compliance"
	"github.com/ehr/clinicbridge/internal/domain/patient"
	"github.com/ehr/clinicbridge/internal/platform/apperr"
	"github.com/ehr/clinicbridge/internal/platform/central"
	"github.com/ehr/clinicbridge/internal/platform/db"
	"github.com/ehr/clinicbridge/internal/platform/message"
)

// StaffDirectory resolves the staff identity that takes over referrals for a
// department when an appointment completes.
type StaffDirectory interface {
	StaffFor(department string) (string, bool)
}

// DepartmentStaff is a static StaffDirectory.
type DepartmentStaff map[string]string

func (d DepartmentStaff) StaffFor(department string) (string, bool) {
	s, ok := d[department]
	return s, ok && s != ""
}

type Service struct {
	repo     Repository
	patients patient.Repository
	tx       db.Transactor
	audit    *audit.Service
	central  central.Client
	renderer *message.Renderer
	staff    StaffDirectory
	now      func() time.Time
	logger   zerolog.Logger
}

func NewService(
	repo Repository,
	patients patient.Repository,
	tx db.Transactor,
	auditSvc *audit.Service,
	client central.Client,
	renderer *message.Renderer,
	staff StaffDirectory,
	logger zerolog.Logger,
) *Service {
	if staff == nil {
		staff = DepartmentStaff{}
	}
	return &Service{
		repo:     repo,
		patients: patients,
		tx:       tx,
		audit:    auditSvc,
		central:  client,
		renderer: renderer,
		staff:    staff,
		now:      time.Now,
		logger:   logger.With().Str("component", "referral").Logger(),
	}
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

type SubmitInput struct {
	PatientID     uuid.UUID
	ParentKey     string
	DiagnosisCode string
	DiagnosisName string
	ProcedureCode string
	ProcedureName string
	Department    string
	Category      Category
	Note          string
}

// Submit sends a new referral to the Central System and stores it as SENT
// with the acknowledged external id. Nothing is stored when the Central
// System refuses it.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*Referral, error) {
	if !in.Category.Valid() {
		return nil, apperr.Invalid("unknown referral category %q", in.Category)
	}
	if in.DiagnosisCode == "" || in.Department == "" {
		return nil, apperr.Invalid("diagnosis_code and department are required")
	}
	p, err := s.patients.GetByID(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}

	r := &Referral{
		ID:            uuid.New(),
		PatientID:     p.ID,
		DiagnosisCode: in.DiagnosisCode,
		DiagnosisName: in.DiagnosisName,
		ProcedureCode: in.ProcedureCode,
		ProcedureName: in.ProcedureName,
		Department:    in.Department,
		Category:      in.Category,
		Note:          in.Note,
		Status:        StatusSent,
		CreatedAt:     s.now().UTC(),
	}

	parentExternal := ""
	if in.ParentKey != "" {
		parent, err := s.repo.GetByKey(ctx, in.ParentKey)
		if err != nil {
			return nil, err
		}
		if err := compliance.CanDeriveReferral(string(parent.Category)).Err(); err != nil {
			return nil, err
		}
		r.ParentID = &parent.ID
		parentExternal = parent.External()
	}

	payload, err := s.renderer.Render(message.ReferralSubmission, message.Values{
		"patient_mbo":        p.MBO,
		"referral_id":        r.ID.String(),
		"category":           string(r.Category),
		"diagnosis_code":     r.DiagnosisCode,
		"diagnosis_name":     r.DiagnosisName,
		"procedure_code":     r.ProcedureCode,
		"procedure_name":     r.ProcedureName,
		"department":         r.Department,
		"parent_external_id": parentExternal,
		"note":               r.Note,
	})
	if err != nil {
		return nil, err
	}

	ack, callErr := s.central.SubmitReferral(ctx, payload)
	if callErr != nil {
		s.logger.Warn().Err(callErr).Str("patient_id", p.ID.String()).Msg("referral submission rejected")
		if err := s.audit.Record(ctx, audit.New(audit.TypeReferralSubmit, payload).Failed(callErr).ForPatient(p.ID)); err != nil {
			return nil, err
		}
		return nil, apperr.Transient(string(central.OpSubmitReferral), callErr)
	}

	r.ExternalID = &ack.ExternalID
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, r); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.New(audit.TypeReferralSubmit, payload).
			Succeeded(ack.Response).ForReferral(r.ID).ForPatient(p.ID))
	})
	if err != nil {
		s.logger.Error().Err(err).Str("external_id", ack.ExternalID).Msg("referral acknowledged but not stored")
		return nil, err
	}

	s.logger.Info().Str("referral_id", r.ID.String()).Str("external_id", ack.ExternalID).Msg("referral submitted")
	return r, nil
}

// Takeover gives holder exclusive ownership of the referral and moves it to
// IN_PROGRESS. The ownership check, the Central System call, the audit entry
// and the status change happen under one row lock, so of two concurrent
// takeovers exactly one succeeds.
func (s *Service) Takeover(ctx context.Context, id uuid.UUID, holder string) (*Referral, error) {
	if holder == "" {
		return nil, apperr.Invalid("takeover requires a holder identity")
	}

	var (
		result  *Referral
		payload string
		callErr error
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		r, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := compliance.CanTakeOver(r.Owned, r.HolderName()).Err(); err != nil {
			return err
		}
		next, _, err := Next(r.Status, EventTakenOver)
		if err != nil {
			return err
		}

		payload, err = s.renderer.Render(message.TakeoverRequest, message.Values{
			"referral_external_id": r.External(),
			"holder":               holder,
			"department":           r.Department,
		})
		if err != nil {
			return err
		}

		ack, err := s.central.Takeover(ctx, r.External(), payload)
		if err != nil {
			callErr = err
			return err
		}

		from := r.Status
		at := s.now().UTC()
		r.Owned = true
		r.Holder = &holder
		r.HeldAt = &at
		r.Status = next
		if err := s.repo.Update(ctx, r); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, audit.New(audit.TypeTakeover, payload).
			Succeeded(ack.Response).ForReferral(r.ID).ForPatient(r.PatientID)); err != nil {
			return err
		}
		s.logTransition(r, from)
		result = r
		return nil
	})

	if callErr != nil {
		s.logger.Warn().Err(callErr).Str("referral_id", id.String()).Msg("takeover rejected by central system")
		if err := s.audit.Record(ctx, audit.New(audit.TypeTakeover, payload).Failed(callErr).ForReferral(id)); err != nil {
			return nil, err
		}
		return nil, apperr.Transient(string(central.OpTakeover), callErr)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AutoTakeover takes the referral over on behalf of the staff configured for
// department.
func (s *Service) AutoTakeover(ctx context.Context, id uuid.UUID, department string) (*Referral, error) {
	staff, ok := s.staff.StaffFor(department)
	if !ok {
		return nil, apperr.Invalid("no takeover staff configured for department %q", department)
	}
	return s.Takeover(ctx, id, staff)
}

// OnCalendarSynced reserves the referral unless it has already progressed.
func (s *Service) OnCalendarSynced(ctx context.Context, id uuid.UUID) error {
	return s.apply(ctx, id, EventCalendarSynced, nil)
}

// OnFindingSent marks the referral realized. It joins the caller's
// transaction so the finding and the referral change commit together.
func (s *Service) OnFindingSent(ctx context.Context, id uuid.UUID) error {
	return s.apply(ctx, id, EventFindingSent, nil)
}

// Release returns the referral to SENT and clears its ownership so it can be
// booked again.
func (s *Service) Release(ctx context.Context, id uuid.UUID) (*Referral, error) {
	var out *Referral
	err := s.apply(ctx, id, EventReleased, func(r *Referral) {
		r.Owned = false
		r.Holder = nil
		r.HeldAt = nil
		out = r
	})
	return out, err
}

// OnAppointmentCancelled releases the referral. Referrals in a state that
// cannot be released are left alone.
func (s *Service) OnAppointmentCancelled(ctx context.Context, id uuid.UUID) error {
	_, err := s.Release(ctx, id)
	if errors.Is(err, ErrInvalidTransition) {
		s.logger.Warn().Err(err).Str("referral_id", id.String()).Msg("release skipped on appointment cancellation")
		return nil
	}
	return err
}

// GetForUpdate locks the referral within the caller's transaction.
func (s *Service) GetForUpdate(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return s.repo.GetForUpdate(ctx, id)
}

// MarkCancelled applies a confirmed storno.
func (s *Service) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	return s.apply(ctx, id, EventCancelled, nil)
}

// MarkCancelFailed leaves the retry marker of a rejected storno.
func (s *Service) MarkCancelFailed(ctx context.Context, id uuid.UUID) error {
	return s.apply(ctx, id, EventCancelFailed, nil)
}

func (s *Service) apply(ctx context.Context, id uuid.UUID, ev Event, mutate func(*Referral)) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		r, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, changed, err := Next(r.Status, ev)
		if err != nil {
			return err
		}
		if mutate != nil {
			mutate(r)
		} else if !changed {
			return nil
		}
		from := r.Status
		r.Status = next
		if err := s.repo.Update(ctx, r); err != nil {
			return err
		}
		if changed {
			s.logTransition(r, from)
		}
		return nil
	})
}

func (s *Service) logTransition(r *Referral, from Status) {
	s.logger.Info().
		Str("referral_id", r.ID.String()).
		Str("from", string(from)).
		Str("to", string(r.Status)).
		Msg("referral status changed")
}

// Get resolves key as an internal or Central System id.
func (s *Service) Get(ctx context.Context, key string) (*Referral, error) {
	return s.repo.GetByKey(ctx, key)
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Referral, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}
