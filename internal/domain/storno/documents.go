package storno

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/clinicbridge/internal/domain/audit"
	"github.com/ehr/clinicbridge/internal/domain/billing"
	"github.com/ehr/clinicbridge/internal/domain/clinical"
	"github.com/ehr/clinicbridge/internal/domain/referral"
)

type ReferralStore interface {
	GetForUpdate(ctx context.Context, id uuid.UUID) (*referral.Referral, error)
	MarkCancelled(ctx context.Context, id uuid.UUID) error
	MarkCancelFailed(ctx context.Context, id uuid.UUID) error
}

type InvoiceStore interface {
	LockInvoice(ctx context.Context, id uuid.UUID) (*billing.Invoice, error)
	SetInvoiceStatus(ctx context.Context, id uuid.UUID, status billing.InvoiceStatus) error
}

type FindingStore interface {
	GetForUpdate(ctx context.Context, id uuid.UUID) (*clinical.Finding, error)
	Reopen(ctx context.Context, id uuid.UUID) error
}

type referralDocs struct{ store ReferralStore }

// Referrals reverses referrals: CANCELLED on success, CANCEL_FAILED as the
// retry marker.
func Referrals(store ReferralStore) Reversible { return referralDocs{store} }

func (d referralDocs) Lock(ctx context.Context, id uuid.UUID) (*Document, error) {
	r, err := d.store.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != referral.StatusCancelled {
		if _, _, err := referral.Next(r.Status, referral.EventCancelled); err != nil {
			return nil, err
		}
	}
	return &Document{
		ID:         r.ID,
		ExternalID: r.External(),
		CreatedAt:  r.CreatedAt,
		Reversed:   r.Status == referral.StatusCancelled,
		Link: func(m *audit.Message) {
			m.ForReferral(r.ID).ForPatient(r.PatientID)
		},
	}, nil
}

func (d referralDocs) MarkReversed(ctx context.Context, id uuid.UUID) error {
	return d.store.MarkCancelled(ctx, id)
}

func (d referralDocs) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return d.store.MarkCancelFailed(ctx, id)
}

type invoiceDocs struct{ store InvoiceStore }

// Invoices reverses invoices. An invoice still waiting for a batch is
// cancelled locally.
func Invoices(store InvoiceStore) Reversible { return invoiceDocs{store} }

func (d invoiceDocs) Lock(ctx context.Context, id uuid.UUID) (*Document, error) {
	inv, err := d.store.LockInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Document{
		ID:         inv.ID,
		ExternalID: inv.External(),
		CreatedAt:  inv.CreatedAt,
		Reversed:   inv.Status == billing.InvoiceCancelled,
		Local:      inv.Status == billing.InvoiceIssued && inv.External() == "",
		Link: func(m *audit.Message) {
			m.ForInvoice(inv.ID).ForPatient(inv.PatientID)
			if inv.ReferralID != nil {
				m.ForReferral(*inv.ReferralID)
			}
			if inv.BatchID != nil {
				m.ForBatch(*inv.BatchID)
			}
		},
	}, nil
}

func (d invoiceDocs) MarkReversed(ctx context.Context, id uuid.UUID) error {
	return d.store.SetInvoiceStatus(ctx, id, billing.InvoiceCancelled)
}

func (d invoiceDocs) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return d.store.SetInvoiceStatus(ctx, id, billing.InvoiceCancelFailed)
}

type reportDocs struct{ store FindingStore }

// Reports reverses signed clinical findings by reopening them as drafts.
// Findings carry no failure marker.
func Reports(store FindingStore) Reversible { return reportDocs{store} }

func (d reportDocs) Lock(ctx context.Context, id uuid.UUID) (*Document, error) {
	f, err := d.store.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Document{
		ID:         f.ID,
		ExternalID: f.External(),
		CreatedAt:  f.CreatedAt,
		Link: func(m *audit.Message) {
			m.ForAppointment(f.AppointmentID)
		},
	}, nil
}

func (d reportDocs) MarkReversed(ctx context.Context, id uuid.UUID) error {
	return d.store.Reopen(ctx, id)
}

func (reportDocs) MarkFailed(context.Context, uuid.UUID) error { return nil }
