package audit

import (
	"time"

	"github.com/google/uuid"
)

// Type names the domain action a message records.
type Type string

const (
	TypeReferralSubmit Type = "REFERRAL_SUBMIT"
	TypeTakeover       Type = "TAKEOVER"
	TypeFindingSend    Type = "FINDING_SEND"
	TypeStorno         Type = "STORNO"
	TypeInvoiceIssue   Type = "INVOICE_ISSUE"
	TypeBatchSubmit    Type = "BATCH_SUBMIT"
	TypeInsuranceCheck Type = "INSURANCE_CHECK"
)

type Direction string

const (
	Outgoing Direction = "OUTGOING"
	Incoming Direction = "INCOMING"
)

type Outcome string

const (
	Sent    Outcome = "SENT"
	Failed  Outcome = "FAILED"
	Pending Outcome = "PENDING"
)

// Message is one interaction attempt with the Central System. Messages are
// append-only.
type Message struct {
	ID            uuid.UUID  `json:"id"`
	Type          Type       `json:"type"`
	Direction     Direction  `json:"direction"`
	Outcome       Outcome    `json:"outcome"`
	Payload       string     `json:"payload"`
	Response      *string    `json:"response,omitempty"`
	Error         *string    `json:"error,omitempty"`
	PatientID     *uuid.UUID `json:"patient_id,omitempty"`
	ReferralID    *uuid.UUID `json:"referral_id,omitempty"`
	InvoiceID     *uuid.UUID `json:"invoice_id,omitempty"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	BatchID       *uuid.UUID `json:"batch_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// New starts an outgoing message of type t carrying payload.
func New(t Type, payload string) *Message {
	return &Message{Type: t, Direction: Outgoing, Outcome: Pending, Payload: payload}
}

func (m *Message) Inbound() *Message {
	m.Direction = Incoming
	return m
}

func (m *Message) Succeeded(response string) *Message {
	m.Outcome = Sent
	if response != "" {
		m.Response = &response
	}
	return m
}

func (m *Message) Failed(err error) *Message {
	m.Outcome = Failed
	if err != nil {
		s := err.Error()
		m.Error = &s
	}
	return m
}

func ptr(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func (m *Message) ForPatient(id uuid.UUID) *Message     { m.PatientID = ptr(id); return m }
func (m *Message) ForReferral(id uuid.UUID) *Message    { m.ReferralID = ptr(id); return m }
func (m *Message) ForInvoice(id uuid.UUID) *Message     { m.InvoiceID = ptr(id); return m }
func (m *Message) ForAppointment(id uuid.UUID) *Message { m.AppointmentID = ptr(id); return m }
func (m *Message) ForBatch(id uuid.UUID) *Message       { m.BatchID = ptr(id); return m }

// Filter selects messages for a timeline. Zero fields are ignored.
type Filter struct {
	PatientID     *uuid.UUID
	ReferralID    *uuid.UUID
	InvoiceID     *uuid.UUID
	AppointmentID *uuid.UUID
	BatchID       *uuid.UUID
	Type          Type
	Outcome       Outcome
}

// Matches reports whether m satisfies f.
func (f Filter) Matches(m *Message) bool {
	eq := func(want, got *uuid.UUID) bool {
		return want == nil || (got != nil && *got == *want)
	}
	return eq(f.PatientID, m.PatientID) &&
		eq(f.ReferralID, m.ReferralID) &&
		eq(f.InvoiceID, m.InvoiceID) &&
		eq(f.AppointmentID, m.AppointmentID) &&
		eq(f.BatchID, m.BatchID) &&
		(f.Type == "" || f.Type == m.Type) &&
		(f.Outcome == "" || f.Outcome == m.Outcome)
}
