package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicbridge/internal/domain/compliance"
	"github.com/ehr/clinicbridge/internal/domain/patient"
	"github.com/ehr/clinicbridge/internal/domain/referral"
	"github.com/ehr/clinicbridge/internal/platform/apperr"
	"github.com/ehr/clinicbridge/internal/platform/calendar"
	"github.com/ehr/clinicbridge/internal/platform/db"
)

// InsuranceChecker refreshes a patient's cached insurance status.
type InsuranceChecker interface {
	RefreshInsurance(ctx context.Context, patientID uuid.UUID) (*patient.Patient, error)
}

// ReferralReader loads the referral an appointment is booked against.
type ReferralReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*referral.Referral, error)
}

// ReferralEvents receives the appointment events that drive the referral
// lifecycle.
type ReferralEvents interface {
	OnCalendarSynced(ctx context.Context, referralID uuid.UUID) error
	OnAppointmentCancelled(ctx context.Context, referralID uuid.UUID) error
	AutoTakeover(ctx context.Context, referralID uuid.UUID, department string) (*referral.Referral, error)
}

// FindingChecker reports whether an appointment has a signed finding.
type FindingChecker interface {
	HasSignedFinding(ctx context.Context, appointmentID uuid.UUID) (bool, error)
}

type Service struct {
	repo      Repository
	tx        db.Transactor
	insurance InsuranceChecker
	referrals ReferralReader
	events    ReferralEvents
	findings  FindingChecker
	calendar  calendar.Syncer
	now       func() time.Time
	logger    zerolog.Logger
}

func NewService(
	repo Repository,
	tx db.Transactor,
	insurance InsuranceChecker,
	referrals ReferralReader,
	events ReferralEvents,
	syncer calendar.Syncer,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		tx:        tx,
		insurance: insurance,
		referrals: referrals,
		events:    events,
		calendar:  syncer,
		now:       time.Now,
		logger:    logger.With().Str("component", "scheduling").Logger(),
	}
}

// SetFindingChecker wires the clinical module, which itself depends on
// appointments.
func (s *Service) SetFindingChecker(f FindingChecker) { s.findings = f }

func (s *Service) SetClock(now func() time.Time) { s.now = now }

type BookInput struct {
	PatientID  uuid.UUID
	ReferralID *uuid.UUID
	Department string
	StartAt    time.Time
	EndAt      time.Time
}

// Book refreshes the patient's insurance and creates the appointment only if
// the policy is active.
func (s *Service) Book(ctx context.Context, in BookInput) (*Appointment, error) {
	if in.StartAt.IsZero() || !in.EndAt.After(in.StartAt) {
		return nil, apperr.Invalid("end_at must be after start_at")
	}

	p, err := s.insurance.RefreshInsurance(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}
	if err := compliance.CanBook(p.MBO, p.InsuranceActive).Err(); err != nil {
		return nil, err
	}

	a := &Appointment{
		PatientID:             p.ID,
		Department:            in.Department,
		StartAt:               in.StartAt.UTC(),
		EndAt:                 in.EndAt.UTC(),
		Status:                StatusScheduled,
		InsuranceActive:       p.InsuranceActive,
		InsuranceCategory:     p.InsuranceCategory,
		InsuranceSupplemental: p.SupplementalCoverage,
	}

	if in.ReferralID != nil {
		r, err := s.referrals.GetByID(ctx, *in.ReferralID)
		if err != nil {
			return nil, err
		}
		if r.PatientID != p.ID {
			return nil, apperr.Invalid("referral %s belongs to another patient", r.ID)
		}
		switch r.Status {
		case referral.StatusCancelled, referral.StatusExpired, referral.StatusRealized:
			return nil, apperr.Conflict("referral_closed", "referral %s is %s and cannot be booked", r.ID, r.Status)
		}
		a.ReferralID = &r.ID
		a.ReferralDiagnosisCode = r.DiagnosisCode
		a.ReferralDiagnosisName = r.DiagnosisName
		a.ReferralProcedureCode = r.ProcedureCode
		a.ReferralProcedureName = r.ProcedureName
		a.ReferralCategory = string(r.Category)
		a.ReferralNote = r.Note
		if a.Department == "" {
			a.Department = r.Department
		}
	}
	if a.Department == "" {
		return nil, apperr.Invalid("department is required")
	}

	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info().Str("appointment_id", a.ID.String()).Str("patient_id", p.ID.String()).Msg("appointment booked")
	return a, nil
}

// StatusResult is returned by UpdateStatus. Warning carries a failed
// follow-up action that did not prevent the status change.
type StatusResult struct {
	Appointment *Appointment `json:"appointment"`
	Warning     string       `json:"warning,omitempty"`
}

// UpdateStatus changes the appointment status. Completing an appointment
// linked to a referral triggers an automatic takeover after the status is
// committed; its failure is reported as a warning only.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to Status) (*StatusResult, error) {
	if to == StatusCancelled {
		a, err := s.Cancel(ctx, id)
		if err != nil {
			return nil, err
		}
		return &StatusResult{Appointment: a}, nil
	}

	var (
		a       *Appointment
		changed bool
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.Status == to {
			return nil
		}
		if !a.Status.CanTransition(to) {
			return apperr.Conflict("appointment_transition", "appointment cannot move from %s to %s", a.Status, to)
		}
		a.Status = to
		changed = true
		return s.repo.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	res := &StatusResult{Appointment: a}
	if changed && to == StatusCompleted && a.ReferralID != nil {
		if _, err := s.events.AutoTakeover(ctx, *a.ReferralID, a.Department); err != nil {
			s.logger.Warn().Err(err).
				Str("appointment_id", a.ID.String()).
				Str("referral_id", a.ReferralID.String()).
				Msg("automatic takeover failed")
			res.Warning = "automatic referral takeover failed: " + err.Error()
		}
	}
	return res, nil
}

// Cancel soft-cancels the appointment and releases its referral in the same
// transaction. Appointments with a signed finding cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var a *Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.Status == StatusCancelled {
			return nil
		}
		if err := s.checkUnsigned(ctx, a.ID); err != nil {
			return err
		}
		a.Status = StatusCancelled
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		if a.ReferralID != nil {
			return s.events.OnAppointmentCancelled(ctx, *a.ReferralID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) checkUnsigned(ctx context.Context, appointmentID uuid.UUID) error {
	if s.findings == nil {
		return nil
	}
	signed, err := s.findings.HasSignedFinding(ctx, appointmentID)
	if err != nil {
		return err
	}
	return compliance.CanCancelAppointment(signed).Err()
}

// SyncCalendar pushes the appointment to the external calendar and reserves
// its referral.
func (s *Service) SyncCalendar(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusCancelled {
		return nil, apperr.Conflict("appointment_cancelled", "cancelled appointments are not synced")
	}

	syncID, err := s.calendar.Sync(ctx, a.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("calendar sync failed")
		return nil, apperr.Transient("calendar_sync", err)
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		at := s.now().UTC()
		a.CalendarSyncID = &syncID
		a.CalendarSyncedAt = &at
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		if a.ReferralID != nil {
			return s.events.OnCalendarSynced(ctx, *a.ReferralID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// HardDelete removes the appointment row. Administrative use only.
func (s *Service) HardDelete(ctx context.Context, id uuid.UUID) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.GetByID(ctx, id); err != nil {
			return err
		}
		if err := s.checkUnsigned(ctx, id); err != nil {
			return err
		}
		if err := s.repo.Delete(ctx, id); err != nil {
			return err
		}
		s.logger.Warn().Str("appointment_id", id.String()).Msg("appointment hard deleted")
		return nil
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}
