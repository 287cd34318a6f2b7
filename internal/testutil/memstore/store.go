// Package memstore keeps every repository in process memory for tests.
// Transactions are serialized and roll back every write on error, so services
// run against it with the same all-or-nothing behavior they get from
// Postgres.
package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ehr/clinicbridge/internal/domain/audit"
	"github.com/ehr/clinicbridge/internal/domain/billing"
	"github.com/ehr/clinicbridge/internal/domain/clinical"
	"github.com/ehr/clinicbridge/internal/domain/patient"
	"github.com/ehr/clinicbridge/internal/domain/referral"
	"github.com/ehr/clinicbridge/internal/domain/scheduling"
)

type txKey struct{}

type tables struct {
	patients        map[uuid.UUID]patient.Patient
	referrals       map[uuid.UUID]referral.Referral
	appointments    map[uuid.UUID]scheduling.Appointment
	findings        map[uuid.UUID]clinical.Finding
	recommendations []clinical.Recommendation
	invoices        map[uuid.UUID]billing.Invoice
	batches         map[uuid.UUID]billing.Batch
	messages        []audit.Message
}

func (t *tables) clone() tables {
	c := tables{
		patients:        make(map[uuid.UUID]patient.Patient, len(t.patients)),
		referrals:       make(map[uuid.UUID]referral.Referral, len(t.referrals)),
		appointments:    make(map[uuid.UUID]scheduling.Appointment, len(t.appointments)),
		findings:        make(map[uuid.UUID]clinical.Finding, len(t.findings)),
		recommendations: append([]clinical.Recommendation(nil), t.recommendations...),
		invoices:        make(map[uuid.UUID]billing.Invoice, len(t.invoices)),
		batches:         make(map[uuid.UUID]billing.Batch, len(t.batches)),
		messages:        append([]audit.Message(nil), t.messages...),
	}
	for k, v := range t.patients {
		c.patients[k] = v
	}
	for k, v := range t.referrals {
		c.referrals[k] = v
	}
	for k, v := range t.appointments {
		c.appointments[k] = v
	}
	for k, v := range t.findings {
		c.findings[k] = v
	}
	for k, v := range t.invoices {
		c.invoices[k] = v
	}
	for k, v := range t.batches {
		v.InvoiceIDs = append([]uuid.UUID(nil), v.InvoiceIDs...)
		c.batches[k] = v
	}
	return c
}

// Store holds all tables. The zero value is not usable; call New.
type Store struct {
	mu sync.Mutex
	t  tables
}

func New() *Store {
	s := &Store{}
	s.t = (&tables{}).clone()
	return s
}

// InTx implements db.Transactor. A nested call joins the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.t.clone()
	defer func() {
		if p := recover(); p != nil {
			s.t = snapshot
			panic(p)
		}
	}()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.t = snapshot
		return err
	}
	return nil
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// do runs fn against the tables, as its own transaction when ctx has none.
func (s *Store) do(ctx context.Context, fn func(t *tables) error) error {
	if inTx(ctx) {
		return fn(&s.t)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.t)
}

func (s *Store) Patients() patient.Repository { return patientRepo{s} }
func (s *Store) Referrals() referral.Repository { return referralRepo{s} }
func (s *Store) Appointments() scheduling.Repository { return appointmentRepo{s} }
func (s *Store) Findings() clinical.FindingRepository { return findingRepo{s} }
func (s *Store) Recommendations() clinical.RecommendationRepository { return recommendationRepo{s} }
func (s *Store) Invoices() billing.InvoiceRepository { return invoiceRepo{s} }
func (s *Store) Batches() billing.BatchRepository { return batchRepo{s} }
func (s *Store) Audit() audit.Repository { return auditRepo{s} }

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
