package memstore

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinicbridge/internal/domain/audit"
	"github.com/ehr/clinicbridge/internal/domain/billing"
	"github.com/ehr/clinicbridge/internal/domain/clinical"
	"github.com/ehr/clinicbridge/internal/domain/patient"
	"github.com/ehr/clinicbridge/internal/domain/referral"
	"github.com/ehr/clinicbridge/internal/domain/scheduling"
	"github.com/ehr/clinicbridge/internal/platform/apperr"
)

func now() time.Time { return time.Now().UTC() }

// =========== patients ===========

type patientRepo struct{ s *Store }

func (r patientRepo) Create(ctx context.Context, p *patient.Patient) error {
	return r.s.do(ctx, func(t *tables) error {
		for _, existing := range t.patients {
			if existing.MBO == p.MBO {
				return apperr.Conflict("patient_mbo", "patient with MBO %s already exists", p.MBO)
			}
		}
		p.ID = uuid.New()
		p.CreatedAt, p.UpdatedAt = now(), now()
		t.patients[p.ID] = *p
		return nil
	})
}

func (r patientRepo) GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error) {
	var out patient.Patient
	err := r.s.do(ctx, func(t *tables) error {
		p, ok := t.patients[id]
		if !ok {
			return apperr.NotFound("patient", id)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r patientRepo) GetByMBO(ctx context.Context, mbo string) (*patient.Patient, error) {
	var out *patient.Patient
	err := r.s.do(ctx, func(t *tables) error {
		for _, p := range t.patients {
			if p.MBO == mbo {
				p := p
				out = &p
				return nil
			}
		}
		return apperr.NotFound("patient", mbo)
	})
	return out, err
}

func (r patientRepo) Update(ctx context.Context, p *patient.Patient) error {
	return r.s.do(ctx, func(t *tables) error {
		old, ok := t.patients[p.ID]
		if !ok {
			return apperr.NotFound("patient", p.ID)
		}
		p.CreatedAt = old.CreatedAt
		p.UpdatedAt = now()
		t.patients[p.ID] = *p
		return nil
	})
}

func (r patientRepo) List(ctx context.Context, limit, offset int) ([]*patient.Patient, int, error) {
	var items []*patient.Patient
	err := r.s.do(ctx, func(t *tables) error {
		for _, p := range t.patients {
			p := p
			items = append(items, &p)
		}
		return nil
	})
	sort.Slice(items, func(i, j int) bool {
		if items[i].LastName != items[j].LastName {
			return items[i].LastName < items[j].LastName
		}
		return items[i].FirstName < items[j].FirstName
	})
	return page(items, limit, offset), len(items), err
}

// =========== referrals ===========

type referralRepo struct{ s *Store }

func (r referralRepo) Create(ctx context.Context, ref *referral.Referral) error {
	return r.s.do(ctx, func(t *tables) error {
		if ref.ExternalID != nil {
			for _, existing := range t.referrals {
				if existing.External() == *ref.ExternalID {
					return apperr.Conflict("referral_external_id", "referral %s already registered", *ref.ExternalID)
				}
			}
		}
		if ref.ID == uuid.Nil {
			ref.ID = uuid.New()
		}
		if ref.CreatedAt.IsZero() {
			ref.CreatedAt = now()
		}
		ref.UpdatedAt = now()
		t.referrals[ref.ID] = *ref
		return nil
	})
}

func (r referralRepo) GetByID(ctx context.Context, id uuid.UUID) (*referral.Referral, error) {
	var out referral.Referral
	err := r.s.do(ctx, func(t *tables) error {
		ref, ok := t.referrals[id]
		if !ok {
			return apperr.NotFound("referral", id)
		}
		out = ref
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r referralRepo) GetByKey(ctx context.Context, key string) (*referral.Referral, error) {
	if id, err := uuid.Parse(key); err == nil {
		if ref, err := r.GetByID(ctx, id); err == nil {
			return ref, nil
		}
	}
	var out *referral.Referral
	err := r.s.do(ctx, func(t *tables) error {
		for _, ref := range t.referrals {
			if ref.External() == key {
				ref := ref
				out = &ref
				return nil
			}
		}
		return apperr.NotFound("referral", key)
	})
	return out, err
}

// GetForUpdate relies on the store-wide transaction lock.
func (r referralRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*referral.Referral, error) {
	if !inTx(ctx) {
		return nil, errNoTx
	}
	return r.GetByID(ctx, id)
}

func (r referralRepo) Update(ctx context.Context, ref *referral.Referral) error {
	return r.s.do(ctx, func(t *tables) error {
		old, ok := t.referrals[ref.ID]
		if !ok {
			return apperr.NotFound("referral", ref.ID)
		}
		ref.CreatedAt = old.CreatedAt
		ref.UpdatedAt = now()
		t.referrals[ref.ID] = *ref
		return nil
	})
}

func (r referralRepo) List(ctx context.Context, f referral.Filter, limit, offset int) ([]*referral.Referral, int, error) {
	var items []*referral.Referral
	err := r.s.do(ctx, func(t *tables) error {
		for _, ref := range t.referrals {
			if f.Matches(&ref) {
				ref := ref
				items = append(items, &ref)
			}
		}
		return nil
	})
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return page(items, limit, offset), len(items), err
}

// =========== appointments ===========

type appointmentRepo struct{ s *Store }

func (r appointmentRepo) Create(ctx context.Context, a *scheduling.Appointment) error {
	return r.s.do(ctx, func(t *tables) error {
		a.ID = uuid.New()
		a.CreatedAt, a.UpdatedAt = now(), now()
		t.appointments[a.ID] = *a
		return nil
	})
}

func (r appointmentRepo) GetByID(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	var out scheduling.Appointment
	err := r.s.do(ctx, func(t *tables) error {
		a, ok := t.appointments[id]
		if !ok {
			return apperr.NotFound("appointment", id)
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r appointmentRepo) Update(ctx context.Context, a *scheduling.Appointment) error {
	return r.s.do(ctx, func(t *tables) error {
		stored, ok := t.appointments[a.ID]
		if !ok {
			return apperr.NotFound("appointment", a.ID)
		}
		stored.Status = a.Status
		stored.CalendarSyncID = a.CalendarSyncID
		stored.CalendarSyncedAt = a.CalendarSyncedAt
		stored.UpdatedAt = now()
		a.UpdatedAt = stored.UpdatedAt
		t.appointments[a.ID] = stored
		return nil
	})
}

func (r appointmentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return r.s.do(ctx, func(t *tables) error {
		if _, ok := t.appointments[id]; !ok {
			return apperr.NotFound("appointment", id)
		}
		delete(t.appointments, id)
		return nil
	})
}

func (r appointmentRepo) List(ctx context.Context, f scheduling.Filter, limit, offset int) ([]*scheduling.Appointment, int, error) {
	var items []*scheduling.Appointment
	err := r.s.do(ctx, func(t *tables) error {
		for _, a := range t.appointments {
			if f.Matches(&a) {
				a := a
				items = append(items, &a)
			}
		}
		return nil
	})
	sort.Slice(items, func(i, j int) bool { return items[i].StartAt.Before(items[j].StartAt) })
	return page(items, limit, offset), len(items), err
}

// =========== clinical ===========

type findingRepo struct{ s *Store }

func (r findingRepo) Create(ctx context.Context, f *clinical.Finding) error {
	return r.s.do(ctx, func(t *tables) error {
		for _, existing := range t.findings {
			if existing.AppointmentID == f.AppointmentID {
				return apperr.Conflict("finding_exists", "appointment %s already has a finding", f.AppointmentID)
			}
		}
		f.ID = uuid.New()
		f.CreatedAt, f.UpdatedAt = now(), now()
		t.findings[f.ID] = *f
		return nil
	})
}

func (r findingRepo) GetByID(ctx context.Context, id uuid.UUID) (*clinical.Finding, error) {
	var out clinical.Finding
	err := r.s.do(ctx, func(t *tables) error {
		f, ok := t.findings[id]
		if !ok {
			return apperr.NotFound("finding", id)
		}
		out = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r findingRepo) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*clinical.Finding, error) {
	var out *clinical.Finding
	err := r.s.do(ctx, func(t *tables) error {
		for _, f := range t.findings {
			if f.AppointmentID == appointmentID {
				f := f
				out = &f
				return nil
			}
		}
		return apperr.NotFound("finding", appointmentID)
	})
	return out, err
}

func (r findingRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*clinical.Finding, error) {
	return r.GetByID(ctx, id)
}

func (r findingRepo) Update(ctx context.Context, f *clinical.Finding) error {
	return r.s.do(ctx, func(t *tables) error {
		old, ok := t.findings[f.ID]
		if !ok {
			return apperr.NotFound("finding", f.ID)
		}
		f.CreatedAt = old.CreatedAt
		f.UpdatedAt = now()
		t.findings[f.ID] = *f
		return nil
	})
}

type recommendationRepo struct{ s *Store }

func (r recommendationRepo) Create(ctx context.Context, rec *clinical.Recommendation) error {
	return r.s.do(ctx, func(t *tables) error {
		rec.ID = uuid.New()
		rec.CreatedAt = now()
		t.recommendations = append(t.recommendations, *rec)
		return nil
	})
}

func (r recommendationRepo) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*clinical.Recommendation, error) {
	var items []*clinical.Recommendation
	err := r.s.do(ctx, func(t *tables) error {
		for _, rec := range t.recommendations {
			if rec.AppointmentID == appointmentID {
				rec := rec
				items = append(items, &rec)
			}
		}
		return nil
	})
	return items, err
}

// =========== billing ===========

type invoiceRepo struct{ s *Store }

func (r invoiceRepo) Create(ctx context.Context, inv *billing.Invoice) error {
	return r.s.do(ctx, func(t *tables) error {
		inv.ID = uuid.New()
		if inv.CreatedAt.IsZero() {
			inv.CreatedAt = now()
		}
		inv.UpdatedAt = now()
		t.invoices[inv.ID] = *inv
		return nil
	})
}

func (r invoiceRepo) GetByID(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	var out billing.Invoice
	err := r.s.do(ctx, func(t *tables) error {
		inv, ok := t.invoices[id]
		if !ok {
			return apperr.NotFound("invoice", id)
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r invoiceRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	return r.GetByID(ctx, id)
}

func (r invoiceRepo) GetMany(ctx context.Context, ids []uuid.UUID) ([]*billing.Invoice, error) {
	var items []*billing.Invoice
	err := r.s.do(ctx, func(t *tables) error {
		for _, id := range ids {
			if inv, ok := t.invoices[id]; ok {
				items = append(items, &inv)
			}
		}
		return nil
	})
	return items, err
}

func (r invoiceRepo) Update(ctx context.Context, inv *billing.Invoice) error {
	return r.s.do(ctx, func(t *tables) error {
		stored, ok := t.invoices[inv.ID]
		if !ok {
			return apperr.NotFound("invoice", inv.ID)
		}
		stored.Status = inv.Status
		stored.BatchID = inv.BatchID
		stored.ExternalID = inv.ExternalID
		stored.SentAt = inv.SentAt
		stored.UpdatedAt = now()
		t.invoices[inv.ID] = stored
		return nil
	})
}

func (r invoiceRepo) MarkSent(ctx context.Context, ids []uuid.UUID, batchID uuid.UUID, batchExternalID string, at time.Time) (int, error) {
	n := 0
	err := r.s.do(ctx, func(t *tables) error {
		for _, id := range ids {
			inv, ok := t.invoices[id]
			if !ok || inv.Status != billing.InvoiceIssued {
				continue
			}
			ext := batchExternalID + ":" + id.String()
			sent := at
			bid := batchID
			inv.Status = billing.InvoiceSent
			inv.BatchID = &bid
			inv.ExternalID = &ext
			inv.SentAt = &sent
			inv.UpdatedAt = at
			t.invoices[id] = inv
			n++
		}
		return nil
	})
	return n, err
}

func (r invoiceRepo) List(ctx context.Context, f billing.InvoiceFilter, limit, offset int) ([]*billing.Invoice, int, error) {
	var items []*billing.Invoice
	err := r.s.do(ctx, func(t *tables) error {
		for _, inv := range t.invoices {
			if f.Matches(&inv) {
				inv := inv
				items = append(items, &inv)
			}
		}
		return nil
	})
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return page(items, limit, offset), len(items), err
}

type batchRepo struct{ s *Store }

func (r batchRepo) Create(ctx context.Context, b *billing.Batch) error {
	return r.s.do(ctx, func(t *tables) error {
		b.ID = uuid.New()
		b.CreatedAt, b.UpdatedAt = now(), now()
		stored := *b
		stored.InvoiceIDs = append([]uuid.UUID(nil), b.InvoiceIDs...)
		t.batches[b.ID] = stored
		return nil
	})
}

func (r batchRepo) GetByID(ctx context.Context, id uuid.UUID) (*billing.Batch, error) {
	var out billing.Batch
	err := r.s.do(ctx, func(t *tables) error {
		b, ok := t.batches[id]
		if !ok {
			return apperr.NotFound("invoice batch", id)
		}
		out = b
		out.InvoiceIDs = append([]uuid.UUID(nil), b.InvoiceIDs...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r batchRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*billing.Batch, error) {
	return r.GetByID(ctx, id)
}

func (r batchRepo) Update(ctx context.Context, b *billing.Batch) error {
	return r.s.do(ctx, func(t *tables) error {
		stored, ok := t.batches[b.ID]
		if !ok {
			return apperr.NotFound("invoice batch", b.ID)
		}
		stored.Status = b.Status
		stored.ExternalID = b.ExternalID
		stored.Error = b.Error
		stored.SentAt = b.SentAt
		stored.UpdatedAt = now()
		t.batches[b.ID] = stored
		return nil
	})
}

func (r batchRepo) List(ctx context.Context, status billing.BatchStatus, limit, offset int) ([]*billing.Batch, int, error) {
	var items []*billing.Batch
	err := r.s.do(ctx, func(t *tables) error {
		for _, b := range t.batches {
			if status == "" || b.Status == status {
				b := b
				items = append(items, &b)
			}
		}
		return nil
	})
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return page(items, limit, offset), len(items), err
}

// =========== audit ===========

type auditRepo struct{ s *Store }

func (r auditRepo) Append(ctx context.Context, m *audit.Message) error {
	return r.s.do(ctx, func(t *tables) error {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now()
		}
		t.messages = append(t.messages, *m)
		return nil
	})
}

func (r auditRepo) GetByID(ctx context.Context, id uuid.UUID) (*audit.Message, error) {
	var out *audit.Message
	err := r.s.do(ctx, func(t *tables) error {
		for _, m := range t.messages {
			if m.ID == id {
				m := m
				out = &m
				return nil
			}
		}
		return apperr.NotFound("audit message", id)
	})
	return out, err
}

func (r auditRepo) List(ctx context.Context, f audit.Filter, limit, offset int) ([]*audit.Message, int, error) {
	var items []*audit.Message
	err := r.s.do(ctx, func(t *tables) error {
		for _, m := range t.messages {
			if f.Matches(&m) {
				m := m
				items = append(items, &m)
			}
		}
		return nil
	})
	return page(items, limit, offset), len(items), err
}

var errNoTx = errors.New("memstore: row lock requested outside a transaction")

// Messages returns every audit message with the given type, oldest first.
func (s *Store) Messages(t audit.Type) []audit.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Message
	for _, m := range s.t.messages {
		if t == "" || m.Type == t {
			out = append(out, m)
		}
	}
	return out
}
