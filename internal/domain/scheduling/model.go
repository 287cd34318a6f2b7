package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusConfirmed Status = "CONFIRMED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCompleted, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
	StatusCompleted: {StatusCancelled},
}

// CanTransition reports whether an appointment may move from s to to.
func (s Status) CanTransition(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Appointment is one scheduled encounter. The Referral* and insurance fields
// are copied at booking and never updated afterwards.
type Appointment struct {
	ID               uuid.UUID  `json:"id"`
	PatientID        uuid.UUID  `json:"patient_id"`
	ReferralID       *uuid.UUID `json:"referral_id,omitempty"`
	Department       string     `json:"department"`
	StartAt          time.Time  `json:"start_at"`
	EndAt            time.Time  `json:"end_at"`
	Status           Status     `json:"status"`
	CalendarSyncID   *string    `json:"calendar_sync_id,omitempty"`
	CalendarSyncedAt *time.Time `json:"calendar_synced_at,omitempty"`

	ReferralDiagnosisCode string `json:"referral_diagnosis_code,omitempty"`
	ReferralDiagnosisName string `json:"referral_diagnosis_name,omitempty"`
	ReferralProcedureCode string `json:"referral_procedure_code,omitempty"`
	ReferralProcedureName string `json:"referral_procedure_name,omitempty"`
	ReferralCategory      string `json:"referral_category,omitempty"`
	ReferralNote          string `json:"referral_note,omitempty"`

	InsuranceActive       bool   `json:"insurance_active"`
	InsuranceCategory     string `json:"insurance_category,omitempty"`
	InsuranceSupplemental bool   `json:"insurance_supplemental"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Filter struct {
	PatientID  *uuid.UUID
	ReferralID *uuid.UUID
	Status     Status
}

func (f Filter) Matches(a *Appointment) bool {
	return (f.PatientID == nil || *f.PatientID == a.PatientID) &&
		(f.ReferralID == nil || (a.ReferralID != nil && *a.ReferralID == *f.ReferralID)) &&
		(f.Status == "" || f.Status == a.Status)
}
