package referral

import (
	"time"

	"github.com/google/uuid"
)

// Status is the referral lifecycle state as stored and exchanged with the
// Central System.
type Status string

const (
	StatusSent         Status = "POSLANA"
	StatusReserved     Status = "REZERVIRANA"
	StatusInProgress   Status = "U_OBRADI"
	StatusRealized     Status = "REALIZIRANA"
	StatusCancelled    Status = "STORNIRANA"
	StatusCancelFailed Status = "STORNO_NEUSPJEH"
	StatusExpired      Status = "ISTEKLA"
)

func (s Status) Known() bool {
	switch s {
	case StatusSent, StatusReserved, StatusInProgress, StatusRealized,
		StatusCancelled, StatusCancelFailed, StatusExpired:
		return true
	}
	return false
}

// Category is the closed set of referral types.
type Category string

const (
	CategoryConsultative    Category = "A1"
	CategoryFullTreatment   Category = "C1"
	CategoryHospitalization Category = "D1"
)

func (c Category) Valid() bool {
	return c == CategoryConsultative || c == CategoryFullTreatment || c == CategoryHospitalization
}

type Referral struct {
	ID            uuid.UUID  `json:"id"`
	ExternalID    *string    `json:"external_id,omitempty"`
	PatientID     uuid.UUID  `json:"patient_id"`
	ParentID      *uuid.UUID `json:"parent_id,omitempty"`
	DiagnosisCode string     `json:"diagnosis_code"`
	DiagnosisName string     `json:"diagnosis_name"`
	ProcedureCode string     `json:"procedure_code"`
	ProcedureName string     `json:"procedure_name"`
	Department    string     `json:"department"`
	Category      Category   `json:"category"`
	Note          string     `json:"note,omitempty"`
	Status        Status     `json:"status"`
	Owned         bool       `json:"owned"`
	Holder        *string    `json:"holder,omitempty"`
	HeldAt        *time.Time `json:"held_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// External returns the Central System identifier or "".
func (r *Referral) External() string {
	if r.ExternalID == nil {
		return ""
	}
	return *r.ExternalID
}

func (r *Referral) HolderName() string {
	if r.Holder == nil {
		return ""
	}
	return *r.Holder
}

type Filter struct {
	PatientID  *uuid.UUID
	Status     Status
	Department string
	Owned      *bool
}

func (f Filter) Matches(r *Referral) bool {
	return (f.PatientID == nil || *f.PatientID == r.PatientID) &&
		(f.Status == "" || f.Status == r.Status) &&
		(f.Department == "" || f.Department == r.Department) &&
		(f.Owned == nil || *f.Owned == r.Owned)
}
