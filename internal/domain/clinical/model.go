package clinical

import (
	"time"

	"github.com/google/uuid"
)

// Finding is the medical report written after an appointment. A finding with
// SignedAt set has been transmitted and is read-only until reversed.
type Finding struct {
	ID             uuid.UUID  `json:"id"`
	AppointmentID  uuid.UUID  `json:"appointment_id"`
	Anamnesis      string     `json:"anamnesis"`
	ClinicalStatus string     `json:"status"`
	Therapy        string     `json:"therapy"`
	ExternalID     *string    `json:"external_id,omitempty"`
	SignedAt       *time.Time `json:"signed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (f *Finding) Signed() bool { return f.SignedAt != nil }

func (f *Finding) External() string {
	if f.ExternalID == nil {
		return ""
	}
	return *f.ExternalID
}

// Recommendation is a therapy recommendation issued against an appointment.
type Recommendation struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Text          string    `json:"text"`
	IssuedBy      string    `json:"issued_by"`
	CreatedAt     time.Time `json:"created_at"`
}
