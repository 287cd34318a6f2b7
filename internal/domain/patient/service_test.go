package patient_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ehr/clinicbridge/internal/app"
	"github.com/ehr/clinicbridge/internal/domain/audit"
	"github.com/ehr/clinicbridge/internal/domain/patient"
	"github.com/ehr/clinicbridge/internal/platform/apperr"
	"github.com/ehr/clinicbridge/internal/platform/central"
	"github.com/ehr/clinicbridge/internal/testutil/memstore"
)

func TestCreate(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	ctx := context.Background()

	if err := h.Patients.Create(ctx, &patient.Patient{}); !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("expected invalid without mbo, got %v", err)
	}
	h.Patient(t, "123456789")
	if err := h.Patients.Create(ctx, &patient.Patient{MBO: "123456789"}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict on duplicate mbo, got %v", err)
	}
}

func TestRefreshInsurance_StoresLookup(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	p := h.Patient(t, "123456789")
	checked := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	h.Patients.SetClock(func() time.Time { return checked })
	h.Central.SetInsurance(central.Insurance{
		MBO: "123456789", LastName: "Horvat-Kovač", Active: true, Supplemental: true, Category: "AO",
	})

	got, err := h.Patients.RefreshInsurance(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !got.InsuranceActive || !got.SupplementalCoverage || got.InsuranceCategory != "AO" {
		t.Fatalf("insurance not cached: %+v", got)
	}
	if got.FirstName != "Ana" || got.LastName != "Horvat-Kovač" {
		t.Fatalf("unexpected demographics %s %s", got.FirstName, got.LastName)
	}
	if got.InsuranceCheckedAt == nil || !got.InsuranceCheckedAt.Equal(checked) {
		t.Fatalf("unexpected check time %v", got.InsuranceCheckedAt)
	}

	msgs := h.Store.Messages(audit.TypeInsuranceCheck)
	if len(msgs) != 1 || msgs[0].Direction != audit.Incoming || msgs[0].Outcome != audit.Sent {
		t.Fatalf("expected one incoming insurance message, got %+v", msgs)
	}
}

func TestRefreshInsurance_FailureKeepsCache(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	p := h.Patient(t, "123456789")
	ctx := context.Background()
	if _, err := h.Patients.RefreshInsurance(ctx, p.ID); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	h.Central.Fail(central.OpLookupInsurance, errors.New("timeout"))

	if _, err := h.Patients.RefreshInsurance(ctx, p.ID); !errors.Is(err, apperr.ErrTransient) {
		t.Fatalf("expected transient, got %v", err)
	}
	got, _ := h.Patients.Get(ctx, p.ID)
	if !got.InsuranceActive {
		t.Fatal("cached status lost on failed lookup")
	}
	msgs := h.Store.Messages(audit.TypeInsuranceCheck)
	if len(msgs) != 2 || msgs[1].Outcome != audit.Failed {
		t.Fatalf("expected SENT then FAILED, got %+v", msgs)
	}
}
