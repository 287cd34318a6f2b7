package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

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

type ReferralReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*referral.Referral, error)
}

type AppointmentReader interface {
	Get(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
}

type FindingChecker interface {
	HasSignedFinding(ctx context.Context, appointmentID uuid.UUID) (bool, error)
}

// InsuranceChecker refreshes and returns the patient record.
type InsuranceChecker interface {
	RefreshInsurance(ctx context.Context, patientID uuid.UUID) (*patient.Patient, error)
}

type PatientReader interface {
	Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type Service struct {
	invoices     InvoiceRepository
	batches      BatchRepository
	tx           db.Transactor
	audit        *audit.Service
	central      central.Client
	renderer     *message.Renderer
	tariff       Tariff
	referrals    ReferralReader
	appointments AppointmentReader
	findings     FindingChecker
	insurance    InsuranceChecker
	patients     PatientReader
	now          func() time.Time
	logger       zerolog.Logger
}

func NewService(
	invoices InvoiceRepository,
	batches BatchRepository,
	tx db.Transactor,
	auditSvc *audit.Service,
	client central.Client,
	renderer *message.Renderer,
	tariff Tariff,
	referrals ReferralReader,
	appointments AppointmentReader,
	findings FindingChecker,
	insurance InsuranceChecker,
	patients PatientReader,
	logger zerolog.Logger,
) *Service {
	return &Service{
		invoices:     invoices,
		batches:      batches,
		tx:           tx,
		audit:        auditSvc,
		central:      client,
		renderer:     renderer,
		tariff:       tariff,
		referrals:    referrals,
		appointments: appointments,
		findings:     findings,
		insurance:    insurance,
		patients:     patients,
		now:          time.Now,
		logger:       logger.With().Str("component", "billing").Logger(),
	}
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

// IssueResult is the outcome of one billable event. Copayment is nil when the
// patient owes nothing.
type IssueResult struct {
	Fund            *Invoice        `json:"fund_invoice"`
	Copayment       *Invoice        `json:"copayment_invoice,omitempty"`
	CopaymentAmount decimal.Decimal `json:"copayment_amount"`
}

type billable struct {
	patient       *patient.Patient
	referralID    *uuid.UUID
	appointmentID *uuid.UUID
	referralExtID string
	diagnosisCode string
	procedureName string
	department    string
}

// IssueForReferral bills the service requested by a referral.
func (s *Service) IssueForReferral(ctx context.Context, referralID uuid.UUID) (*IssueResult, error) {
	r, err := s.referrals.GetByID(ctx, referralID)
	if err != nil {
		return nil, err
	}
	if r.Status == referral.StatusCancelled {
		return nil, apperr.Conflict("referral_closed", "referral %s is cancelled and cannot be billed", r.ID)
	}
	p, err := s.insurance.RefreshInsurance(ctx, r.PatientID)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, billable{
		patient:       p,
		referralID:    &r.ID,
		referralExtID: r.External(),
		diagnosisCode: r.DiagnosisCode,
		procedureName: r.ProcedureName,
		department:    r.Department,
	})
}

// IssueForAppointment bills a performed appointment. The appointment's finding
// must be signed.
func (s *Service) IssueForAppointment(ctx context.Context, appointmentID uuid.UUID) (*IssueResult, error) {
	a, err := s.appointments.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if a.Status == scheduling.StatusCancelled {
		return nil, apperr.Conflict("appointment_cancelled", "appointment %s is cancelled and cannot be billed", a.ID)
	}
	signed, err := s.findings.HasSignedFinding(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if err := compliance.CanBillAppointment(signed).Err(); err != nil {
		return nil, err
	}

	b := billable{
		appointmentID: &a.ID,
		referralID:    a.ReferralID,
		diagnosisCode: a.ReferralDiagnosisCode,
		procedureName: a.ReferralProcedureName,
		department:    a.Department,
	}
	if a.ReferralID != nil {
		r, err := s.referrals.GetByID(ctx, *a.ReferralID)
		if err != nil {
			return nil, err
		}
		b.referralExtID = r.External()
	}
	if b.patient, err = s.insurance.RefreshInsurance(ctx, a.PatientID); err != nil {
		return nil, err
	}
	return s.issue(ctx, b)
}

func (s *Service) issue(ctx context.Context, b billable) (*IssueResult, error) {
	copay, due := s.tariff.Copayment(b.diagnosisCode, b.patient.SupplementalCoverage)
	res := &IssueResult{CopaymentAmount: copay}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.checkDuplicate(ctx, b); err != nil {
			return err
		}

		created := s.now().UTC()
		fund := s.newInvoice(b, PayerFund, TypeInstitutional, s.tariff.Base, created)
		if err := s.invoices.Create(ctx, fund); err != nil {
			return err
		}
		res.Fund = fund

		if due {
			co := s.newInvoice(b, PayerPatient, TypeCopayment, copay, created)
			if err := s.invoices.Create(ctx, co); err != nil {
				return err
			}
			res.Copayment = co
		}

		payload, err := s.renderInvoice(fund, b.patient.MBO, b.referralExtID)
		if err != nil {
			return err
		}
		msg := audit.New(audit.TypeInvoiceIssue, payload).ForInvoice(fund.ID).ForPatient(fund.PatientID)
		if b.referralID != nil {
			msg.ForReferral(*b.referralID)
		}
		if b.appointmentID != nil {
			msg.ForAppointment(*b.appointmentID)
		}
		return s.audit.Record(ctx, msg)
	})
	if err != nil {
		return nil, err
	}

	ev := s.logger.Info().Str("invoice_id", res.Fund.ID.String()).Str("copayment", copay.StringFixed(2))
	if res.Copayment != nil {
		ev = ev.Str("copayment_invoice_id", res.Copayment.ID.String())
	}
	ev.Msg("invoices issued")
	return res, nil
}

// checkDuplicate refuses a second live fund invoice for the same billable
// event.
func (s *Service) checkDuplicate(ctx context.Context, b billable) error {
	f := InvoiceFilter{Payer: PayerFund}
	if b.appointmentID != nil {
		f.AppointmentID = b.appointmentID
	} else {
		f.ReferralID = b.referralID
	}
	existing, _, err := s.invoices.List(ctx, f, 100, 0)
	if err != nil {
		return err
	}
	for _, inv := range existing {
		if inv.Status == InvoiceCancelled {
			continue
		}
		if b.appointmentID == nil && inv.AppointmentID != nil {
			continue
		}
		return apperr.Conflict("invoice_exists", "fund invoice %s already issued for this service", inv.ID)
	}
	return nil
}

func (s *Service) newInvoice(b billable, payer Payer, typ InvoiceType, amount decimal.Decimal, created time.Time) *Invoice {
	return &Invoice{
		PatientID:     b.patient.ID,
		ReferralID:    b.referralID,
		AppointmentID: b.appointmentID,
		Amount:        amount,
		Payer:         payer,
		Type:          typ,
		Status:        InvoiceIssued,
		DiagnosisCode: b.diagnosisCode,
		ProcedureName: b.procedureName,
		Department:    b.department,
		CreatedAt:     created,
	}
}

func (s *Service) renderInvoice(inv *Invoice, mbo, referralExtID string) (string, error) {
	return s.renderer.Render(message.InvoiceSubmission, message.Values{
		"invoice_id":           inv.ID.String(),
		"payer":                string(inv.Payer),
		"invoice_type":         string(inv.Type),
		"amount":               inv.Amount.StringFixed(2),
		"patient_mbo":          mbo,
		"diagnosis_code":       inv.DiagnosisCode,
		"procedure_name":       inv.ProcedureName,
		"department":           inv.Department,
		"referral_external_id": referralExtID,
	})
}

type BatchInput struct {
	Type       string
	InvoiceIDs []uuid.UUID
}

// SubmitBatch transmits the named invoices in one envelope. Either the batch
// and every invoice end up SENT or none of them change.
func (s *Service) SubmitBatch(ctx context.Context, in BatchInput) (*Batch, error) {
	ids := dedupe(in.InvoiceIDs)
	if len(ids) == 0 {
		return nil, apperr.Invalid("a batch needs at least one invoice")
	}
	if in.Type == "" {
		in.Type = string(TypeInstitutional)
	}

	b := &Batch{Type: in.Type, Status: BatchProcessing, InvoiceIDs: ids}
	if err := s.batches.Create(ctx, b); err != nil {
		return nil, err
	}
	return s.transmit(ctx, b)
}

// ResubmitBatch retransmits a FAILED batch. A SENT batch is returned as is.
func (s *Service) ResubmitBatch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	var (
		b    *Batch
		done bool
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if b, err = s.batches.GetForUpdate(ctx, id); err != nil {
			return err
		}
		switch b.Status {
		case BatchSent:
			done = true
			return nil
		case BatchProcessing:
			return apperr.Conflict("batch_in_progress", "batch %s is still being transmitted", id)
		}
		b.Status = BatchProcessing
		b.Error = nil
		return s.batches.Update(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	if done {
		return b, nil
	}
	return s.transmit(ctx, b)
}

// RuleBatchRender names a batch whose payloads could not be rendered.
const RuleBatchRender = "batch_render"

type batchItem struct {
	invoice *Invoice
	payload string
}

func (s *Service) transmit(ctx context.Context, b *Batch) (*Batch, error) {
	items, err := s.prepare(ctx, b)
	if err != nil {
		return nil, s.fail(ctx, b, nil, "", err)
	}

	fragments := make([]string, len(items))
	for i, it := range items {
		fragments[i] = it.payload
	}
	envelope, err := s.renderer.Render(message.BatchEnvelope, message.Values{
		"batch_id":   b.ID.String(),
		"batch_type": b.Type,
		"count":      fmt.Sprint(len(items)),
		"invoices":   strings.Join(fragments, "\n"),
	})
	if err != nil {
		return nil, s.fail(ctx, b, nil, "", apperr.Internal(RuleBatchRender, err))
	}

	ack, callErr := s.central.SubmitBatch(ctx, envelope, len(items))
	if callErr != nil {
		s.logger.Warn().Err(callErr).Str("batch_id", b.ID.String()).Msg("batch rejected by central system")
		if err := s.fail(ctx, b, items, "", callErr); err != nil && !errors.Is(err, callErr) {
			return nil, err
		}
		return nil, apperr.Transient(string(central.OpSubmitBatch), callErr)
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		locked, err := s.batches.GetForUpdate(ctx, b.ID)
		if err != nil {
			return err
		}
		at := s.now().UTC()
		n, err := s.invoices.MarkSent(ctx, locked.InvoiceIDs, locked.ID, ack.ExternalID, at)
		if err != nil {
			return err
		}
		if n != len(locked.InvoiceIDs) {
			return apperr.Conflict("batch_partial", "only %d of %d invoices could be marked sent", n, len(locked.InvoiceIDs))
		}
		locked.Status = BatchSent
		locked.ExternalID = &ack.ExternalID
		locked.SentAt = &at
		locked.Error = nil
		if err := s.batches.Update(ctx, locked); err != nil {
			return err
		}
		for _, it := range items {
			if err := s.audit.Record(ctx, audit.New(audit.TypeBatchSubmit, it.payload).
				Succeeded(ack.Response).ForInvoice(it.invoice.ID).ForBatch(locked.ID).
				ForPatient(it.invoice.PatientID)); err != nil {
				return err
			}
		}
		b = locked
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("batch_id", b.ID.String()).Str("external_id", ack.ExternalID).
			Msg("batch acknowledged but not stored")
		return nil, s.fail(ctx, b, items, ack.Response, err)
	}

	s.logger.Info().Str("batch_id", b.ID.String()).Str("external_id", ack.ExternalID).
		Int("invoices", len(items)).Msg("batch sent")
	return b, nil
}

// prepare loads the batch members and renders one payload per invoice. Every
// member must still be ISSUED.
func (s *Service) prepare(ctx context.Context, b *Batch) ([]batchItem, error) {
	invoices, err := s.invoices.GetMany(ctx, b.InvoiceIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*Invoice, len(invoices))
	for _, inv := range invoices {
		byID[inv.ID] = inv
	}

	items := make([]batchItem, 0, len(b.InvoiceIDs))
	for _, id := range b.InvoiceIDs {
		inv, ok := byID[id]
		if !ok {
			return nil, apperr.NotFound("invoice", id)
		}
		if inv.Status != InvoiceIssued {
			return nil, apperr.Conflict("invoice_not_issued", "invoice %s is %s", id, inv.Status)
		}
		p, err := s.patients.Get(ctx, inv.PatientID)
		if err != nil {
			return nil, err
		}
		refExt := ""
		if inv.ReferralID != nil {
			r, err := s.referrals.GetByID(ctx, *inv.ReferralID)
			if err != nil {
				return nil, err
			}
			refExt = r.External()
		}
		payload, err := s.renderInvoice(inv, p.MBO, refExt)
		if err != nil {
			return nil, apperr.Internal(RuleBatchRender, err)
		}
		items = append(items, batchItem{invoice: inv, payload: payload})
	}
	return items, nil
}

// fail marks the batch FAILED and records a FAILED message per transmitted
// invoice. It returns cause, or the error that prevented recording it.
func (s *Service) fail(ctx context.Context, b *Batch, items []batchItem, response string, cause error) error {
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		locked, err := s.batches.GetForUpdate(ctx, b.ID)
		if err != nil {
			return err
		}
		reason := cause.Error()
		locked.Status = BatchFailed
		locked.Error = &reason
		if err := s.batches.Update(ctx, locked); err != nil {
			return err
		}
		for _, it := range items {
			msg := audit.New(audit.TypeBatchSubmit, it.payload).Failed(cause).
				ForInvoice(it.invoice.ID).ForBatch(locked.ID).ForPatient(it.invoice.PatientID)
			if response != "" {
				msg.Response = &response
			}
			if err := s.audit.Record(ctx, msg); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("batch_id", b.ID.String()).Msg("could not mark batch failed")
		return err
	}
	return cause
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// LockInvoice loads the invoice for update within the caller's transaction.
func (s *Service) LockInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.invoices.GetForUpdate(ctx, id)
}

// SetInvoiceStatus stores a reversal outcome on an invoice.
func (s *Service) SetInvoiceStatus(ctx context.Context, id uuid.UUID, status InvoiceStatus) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from := inv.Status
		inv.Status = status
		if err := s.invoices.Update(ctx, inv); err != nil {
			return err
		}
		s.logger.Info().Str("invoice_id", id.String()).Str("from", string(from)).Str("to", string(status)).
			Msg("invoice status changed")
		return nil
	})
}

func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.invoices.GetByID(ctx, id)
}

func (s *Service) ListInvoices(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	return s.invoices.List(ctx, f, limit, offset)
}

func (s *Service) GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	return s.batches.GetByID(ctx, id)
}

func (s *Service) ListBatches(ctx context.Context, status BatchStatus, limit, offset int) ([]*Batch, int, error) {
	return s.batches.List(ctx, status, limit, offset)
}
