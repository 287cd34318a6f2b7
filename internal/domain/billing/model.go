package billing

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Payer string

const (
	PayerFund    Payer = "FUND"
	PayerPatient Payer = "PATIENT"
)

type InvoiceType string

const (
	TypeInstitutional InvoiceType = "INSTITUTIONAL"
	TypeCopayment     InvoiceType = "COPAYMENT"
)

type InvoiceStatus string

const (
	InvoiceIssued       InvoiceStatus = "ISSUED"
	InvoiceSent         InvoiceStatus = "SENT"
	InvoiceCancelled    InvoiceStatus = "CANCELLED"
	InvoiceCancelFailed InvoiceStatus = "CANCEL_FAILED"
)

// Invoice amounts and payer are fixed at issuance; later changes touch only
// status, batch linkage and the Central System id.
type Invoice struct {
	ID            uuid.UUID       `json:"id"`
	PatientID     uuid.UUID       `json:"patient_id"`
	ReferralID    *uuid.UUID      `json:"referral_id,omitempty"`
	AppointmentID *uuid.UUID      `json:"appointment_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Payer         Payer           `json:"payer"`
	Type          InvoiceType     `json:"type"`
	Status        InvoiceStatus   `json:"status"`
	DiagnosisCode string          `json:"diagnosis_code"`
	ProcedureName string          `json:"procedure_name"`
	Department    string          `json:"department"`
	BatchID       *uuid.UUID      `json:"batch_id,omitempty"`
	ExternalID    *string         `json:"external_id,omitempty"`
	SentAt        *time.Time      `json:"sent_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (i *Invoice) External() string {
	if i.ExternalID == nil {
		return ""
	}
	return *i.ExternalID
}

type BatchStatus string

const (
	BatchProcessing BatchStatus = "PROCESSING"
	BatchSent       BatchStatus = "SENT"
	BatchFailed     BatchStatus = "FAILED"
)

// Batch is one submission envelope. InvoiceIDs is kept so a failed batch can
// be resubmitted as is.
type Batch struct {
	ID         uuid.UUID   `json:"id"`
	Type       string      `json:"type"`
	Status     BatchStatus `json:"status"`
	ExternalID *string     `json:"external_id,omitempty"`
	InvoiceIDs []uuid.UUID `json:"invoice_ids"`
	Error      *string     `json:"error,omitempty"`
	SentAt     *time.Time  `json:"sent_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

type InvoiceFilter struct {
	PatientID     *uuid.UUID
	ReferralID    *uuid.UUID
	AppointmentID *uuid.UUID
	BatchID       *uuid.UUID
	Payer         Payer
	Status        InvoiceStatus
}

func (f InvoiceFilter) Matches(i *Invoice) bool {
	eq := func(want, got *uuid.UUID) bool {
		return want == nil || (got != nil && *got == *want)
	}
	return (f.PatientID == nil || *f.PatientID == i.PatientID) &&
		eq(f.ReferralID, i.ReferralID) &&
		eq(f.AppointmentID, i.AppointmentID) &&
		eq(f.BatchID, i.BatchID) &&
		(f.Payer == "" || f.Payer == i.Payer) &&
		(f.Status == "" || f.Status == i.Status)
}

// Tariff holds the pricing rule for a billable service.
type Tariff struct {
	Base             decimal.Decimal
	CopayRate        decimal.Decimal
	CopayCap         decimal.Decimal
	OncologyPrefixes []string
}

// DefaultTariff is 15.00 with a 20% copayment capped at 5.00 and full fund
// coverage for malignant neoplasms (ICD-10 chapter C).
func DefaultTariff() Tariff {
	return Tariff{
		Base:             decimal.RequireFromString("15.00"),
		CopayRate:        decimal.RequireFromString("0.20"),
		CopayCap:         decimal.RequireFromString("5.00"),
		OncologyPrefixes: []string{"C"},
	}
}

// OncologyExempt reports whether diagnosisCode is fully covered by the fund.
func (t Tariff) OncologyExempt(diagnosisCode string) bool {
	code := strings.ToUpper(strings.TrimSpace(diagnosisCode))
	for _, p := range t.OncologyPrefixes {
		if p != "" && strings.HasPrefix(code, strings.ToUpper(p)) {
			return true
		}
	}
	return false
}

// Copayment returns the patient's share and whether one is due at all.
func (t Tariff) Copayment(diagnosisCode string, supplemental bool) (decimal.Decimal, bool) {
	if t.OncologyExempt(diagnosisCode) || supplemental {
		return decimal.Zero, false
	}
	return decimal.Min(t.Base.Mul(t.CopayRate), t.CopayCap).Round(2), true
}
