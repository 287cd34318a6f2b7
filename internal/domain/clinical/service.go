package clinical

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicbridge/internal/domain/audit"
	"github.com/ehr/clinicbridge/internal/domain/compliance"
	"github.com/ehr/clinicbridge/internal/domain/patient"
	"github.com/ehr/clinicbridge/internal/domain/referral"
	"github.com/ehr/clinicbridge/internal/domain/scheduling"
	"github.com/ehr/clinicbridge/internal/platform/apperr"
	"github.com/ehr/clinicbridge/internal/platform/central"
	"github.com/ehr/clinicbridge/internal/platform/db"
	"github.com/ehr/clinicbridge/internal/platform/message"
)

type AppointmentReader interface {
	Get(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
}

type PatientReader interface {
	Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

// ReferralLifecycle is the referral side of a finding transmission.
type ReferralLifecycle interface {
	GetByID(ctx context.Context, id uuid.UUID) (*referral.Referral, error)
	OnFindingSent(ctx context.Context, referralID uuid.UUID) error
}

type Service struct {
	findings        FindingRepository
	recommendations RecommendationRepository
	appointments    AppointmentReader
	patients        PatientReader
	referrals       ReferralLifecycle
	tx              db.Transactor
	audit           *audit.Service
	central         central.Client
	renderer        *message.Renderer
	now             func() time.Time
	logger          zerolog.Logger
}

func NewService(
	findings FindingRepository,
	recommendations RecommendationRepository,
	appointments AppointmentReader,
	patients PatientReader,
	referrals ReferralLifecycle,
	tx db.Transactor,
	auditSvc *audit.Service,
	client central.Client,
	renderer *message.Renderer,
	logger zerolog.Logger,
) *Service {
	return &Service{
		findings:        findings,
		recommendations: recommendations,
		appointments:    appointments,
		patients:        patients,
		referrals:       referrals,
		tx:              tx,
		audit:           auditSvc,
		central:         client,
		renderer:        renderer,
		now:             time.Now,
		logger:          logger.With().Str("component", "clinical").Logger(),
	}
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

type FindingInput struct {
	Anamnesis      string
	ClinicalStatus string
	Therapy        string
}

// Upsert creates or edits the draft finding of an appointment. It is refused
// while a signed finding exists.
func (s *Service) Upsert(ctx context.Context, appointmentID uuid.UUID, in FindingInput) (*Finding, error) {
	var out *Finding
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.Get(ctx, appointmentID)
		if err != nil {
			return err
		}
		if a.Status == scheduling.StatusCancelled {
			return apperr.Conflict("appointment_cancelled", "cannot write a finding for a cancelled appointment")
		}

		existing, err := s.findings.GetByAppointment(ctx, appointmentID)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		if existing != nil {
			if err := compliance.CanUpsertFinding(existing.Signed()).Err(); err != nil {
				return err
			}
			existing.Anamnesis = in.Anamnesis
			existing.ClinicalStatus = in.ClinicalStatus
			existing.Therapy = in.Therapy
			out = existing
			return s.findings.Update(ctx, existing)
		}

		out = &Finding{
			AppointmentID:  appointmentID,
			Anamnesis:      in.Anamnesis,
			ClinicalStatus: in.ClinicalStatus,
			Therapy:        in.Therapy,
		}
		return s.findings.Create(ctx, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Send transmits the finding, signs it and realizes the linked referral. The
// finding, the referral status and the audit entry commit together.
func (s *Service) Send(ctx context.Context, appointmentID uuid.UUID) (*Finding, error) {
	var (
		out      *Finding
		payload  string
		callErr  error
		appt     *scheduling.Appointment
		referrer *uuid.UUID
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		appt, err = s.appointments.Get(ctx, appointmentID)
		if err != nil {
			return err
		}
		referrer = appt.ReferralID

		f, err := s.findings.GetByAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		f, err = s.findings.GetForUpdate(ctx, f.ID)
		if err != nil {
			return err
		}
		if f.Signed() {
			return apperr.Conflict(compliance.RuleFindingSigned, "finding for appointment %s is already signed", appointmentID)
		}

		p, err := s.patients.Get(ctx, appt.PatientID)
		if err != nil {
			return err
		}
		refExternal := ""
		if appt.ReferralID != nil {
			r, err := s.referrals.GetByID(ctx, *appt.ReferralID)
			if err != nil {
				return err
			}
			refExternal = r.External()
		}

		payload, err = s.renderer.Render(message.FindingSubmission, message.Values{
			"referral_external_id": refExternal,
			"patient_mbo":          p.MBO,
			"anamnesis":            f.Anamnesis,
			"status":               f.ClinicalStatus,
			"therapy":              f.Therapy,
		})
		if err != nil {
			return err
		}

		ack, err := s.central.SendFinding(ctx, refExternal, payload)
		if err != nil {
			callErr = err
			return err
		}

		signed := s.now().UTC()
		f.ExternalID = &ack.ExternalID
		f.SignedAt = &signed
		if err := s.findings.Update(ctx, f); err != nil {
			return err
		}

		msg := audit.New(audit.TypeFindingSend, payload).Succeeded(ack.Response).
			ForAppointment(appt.ID).ForPatient(appt.PatientID)
		if appt.ReferralID != nil {
			msg.ForReferral(*appt.ReferralID)
			if err := s.referrals.OnFindingSent(ctx, *appt.ReferralID); err != nil {
				return err
			}
		}
		if err := s.audit.Record(ctx, msg); err != nil {
			return err
		}
		out = f
		return nil
	})

	if callErr != nil {
		s.logger.Warn().Err(callErr).Str("appointment_id", appointmentID.String()).Msg("finding transmission failed")
		msg := audit.New(audit.TypeFindingSend, payload).Failed(callErr).ForAppointment(appointmentID)
		if referrer != nil {
			msg.ForReferral(*referrer)
		}
		if err := s.audit.Record(ctx, msg); err != nil {
			return nil, err
		}
		return nil, apperr.Transient(string(central.OpSendFinding), callErr)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("appointment_id", appointmentID.String()).Str("external_id", out.External()).Msg("finding sent")
	return out, nil
}

// GetForUpdate locks the finding within the caller's transaction.
func (s *Service) GetForUpdate(ctx context.Context, id uuid.UUID) (*Finding, error) {
	return s.findings.GetForUpdate(ctx, id)
}

// Reopen turns a reversed finding back into an editable draft.
func (s *Service) Reopen(ctx context.Context, id uuid.UUID) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		f, err := s.findings.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		f.ExternalID = nil
		f.SignedAt = nil
		if err := s.findings.Update(ctx, f); err != nil {
			return err
		}
		s.logger.Info().Str("finding_id", id.String()).Str("appointment_id", f.AppointmentID.String()).
			Msg("finding reopened")
		return nil
	})
}

// HasSignedFinding implements scheduling.FindingChecker.
func (s *Service) HasSignedFinding(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	f, err := s.findings.GetByAppointment(ctx, appointmentID)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return f.Signed(), nil
}

func (s *Service) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Finding, error) {
	return s.findings.GetByAppointment(ctx, appointmentID)
}

// IssueRecommendation records a therapy recommendation. Appointments booked
// against a consultative referral do not accept one.
func (s *Service) IssueRecommendation(ctx context.Context, appointmentID uuid.UUID, text, issuedBy string) (*Recommendation, error) {
	if text == "" {
		return nil, apperr.Invalid("recommendation text is required")
	}
	a, err := s.appointments.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := compliance.CanRecommendTherapy(a.ReferralCategory).Err(); err != nil {
		return nil, err
	}
	rec := &Recommendation{AppointmentID: appointmentID, Text: text, IssuedBy: issuedBy}
	if err := s.recommendations.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) ListRecommendations(ctx context.Context, appointmentID uuid.UUID) ([]*Recommendation, error) {
	return s.recommendations.ListByAppointment(ctx, appointmentID)
}
