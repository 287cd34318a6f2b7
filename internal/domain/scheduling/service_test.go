package scheduling_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinicbridge/internal/app"
	"github.com/ehr/clinicbridge/internal/domain/clinical"
	"github.com/ehr/clinicbridge/internal/domain/referral"
	"github.com/ehr/clinicbridge/internal/domain/scheduling"
	"github.com/ehr/clinicbridge/internal/domain/storno"
	"github.com/ehr/clinicbridge/internal/platform/apperr"
	"github.com/ehr/clinicbridge/internal/platform/central"
	"github.com/ehr/clinicbridge/internal/testutil/memstore"
)

func book(t *testing.T, h *memstore.Harness, patientID uuid.UUID, referralID *uuid.UUID) *scheduling.Appointment {
	t.Helper()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	a, err := h.Scheduling.Book(context.Background(), scheduling.BookInput{
		PatientID:  patientID,
		ReferralID: referralID,
		Department: "cardiology",
		StartAt:    start,
		EndAt:      start.Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	return a
}

func TestBook_CopiesReferralAndInsurance(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	p := h.Patient(t, "123456789")
	h.Central.SetInsurance(central.Insurance{MBO: "123456789", Active: true, Supplemental: true, Category: "AO"})
	r := h.Referral(t, p.ID, referral.CategoryFullTreatment)

	a := book(t, h, p.ID, &r.ID)
	if a.Status != scheduling.StatusScheduled {
		t.Fatalf("expected scheduled, got %s", a.Status)
	}
	if a.Department != "cardiology" || a.ReferralDiagnosisCode != "I20.9" || a.ReferralCategory != "C1" {
		t.Fatalf("referral data not copied: %+v", a)
	}
	if !a.InsuranceActive || !a.InsuranceSupplemental {
		t.Fatalf("insurance snapshot not copied: %+v", a)
	}
}

func TestBook_InactiveInsuranceRejected(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	p := h.Patient(t, "123456789")
	h.Central.SetInsurance(central.Insurance{MBO: "123456789", Active: false})

	_, err := h.Scheduling.Book(context.Background(), scheduling.BookInput{
		PatientID:  p.ID,
		Department: "cardiology",
		StartAt:    time.Now(),
		EndAt:      time.Now().Add(time.Hour),
	})
	if !errors.Is(err, apperr.ErrPolicyViolation) {
		t.Fatalf("expected policy violation, got %v", err)
	}
	if _, total, _ := h.Scheduling.List(context.Background(), scheduling.Filter{}, 10, 0); total != 0 {
		t.Fatalf("expected no appointment, got %d", total)
	}
}

func TestBook_InvalidWindow(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	p := h.Patient(t, "123456789")
	now := time.Now()

	_, err := h.Scheduling.Book(context.Background(), scheduling.BookInput{
		PatientID: p.ID, Department: "cardiology", StartAt: now, EndAt: now,
	})
	if !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("expected invalid, got %v", err)
	}
}

func TestSyncCalendar_ReservesReferral(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	p := h.Patient(t, "123456789")
	r := h.Referral(t, p.ID, referral.CategoryFullTreatment)
	a := book(t, h, p.ID, &r.ID)

	synced, err := h.Scheduling.SyncCalendar(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if synced.CalendarSyncID == nil || !strings.HasPrefix(*synced.CalendarSyncID, "cal-") {
		t.Fatalf("sync id not stored: %+v", synced)
	}
	got, _ := h.Referrals.GetByID(context.Background(), r.ID)
	if got.Status != referral.StatusReserved {
		t.Fatalf("expected reserved, got %s", got.Status)
	}
}

func TestSyncCalendar_FailureIsTransient(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	p := h.Patient(t, "123456789")
	r := h.Referral(t, p.ID, referral.CategoryFullTreatment)
	a := book(t, h, p.ID, &r.ID)
	h.Calendar.Err = errors.New("calendar down")

	if _, err := h.Scheduling.SyncCalendar(context.Background(), a.ID); !errors.Is(err, apperr.ErrTransient) {
		t.Fatalf("expected transient, got %v", err)
	}
	got, _ := h.Referrals.GetByID(context.Background(), r.ID)
	if got.Status != referral.StatusSent {
		t.Fatalf("referral changed on failed sync: %s", got.Status)
	}
}

func TestUpdateStatus_CompletedTakesReferralOver(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	p := h.Patient(t, "123456789")
	r := h.Referral(t, p.ID, referral.CategoryFullTreatment)
	a := book(t, h, p.ID, &r.ID)

	res, err := h.Scheduling.UpdateStatus(context.Background(), a.ID, scheduling.StatusCompleted)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if res.Warning != "" {
		t.Fatalf("unexpected warning %q", res.Warning)
	}
	got, _ := h.Referrals.GetByID(context.Background(), r.ID)
	if got.Status != referral.StatusInProgress || got.HolderName() != "dr-cardio" {
		t.Fatalf("expected takeover by dr-cardio, got %+v", got)
	}
}

func TestUpdateStatus_TakeoverFailureIsWarning(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	p := h.Patient(t, "123456789")
	r := h.Referral(t, p.ID, referral.CategoryFullTreatment)
	a := book(t, h, p.ID, &r.ID)
	if _, err := h.Referrals.Takeover(context.Background(), r.ID, "dr-other"); err != nil {
		t.Fatalf("takeover: %v", err)
	}

	res, err := h.Scheduling.UpdateStatus(context.Background(), a.ID, scheduling.StatusCompleted)
	if err != nil {
		t.Fatalf("status change must not fail: %v", err)
	}
	if res.Appointment.Status != scheduling.StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Appointment.Status)
	}
	if !strings.HasPrefix(res.Warning, "automatic referral takeover failed") {
		t.Fatalf("expected takeover warning, got %q", res.Warning)
	}
	stored, _ := h.Scheduling.Get(context.Background(), a.ID)
	if stored.Status != scheduling.StatusCompleted {
		t.Fatalf("status not committed: %s", stored.Status)
	}
}

func TestUpdateStatus_RejectsInvalidTransition(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	p := h.Patient(t, "123456789")
	a := book(t, h, p.ID, nil)
	ctx := context.Background()

	if _, err := h.Scheduling.UpdateStatus(ctx, a.ID, scheduling.StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := h.Scheduling.UpdateStatus(ctx, a.ID, scheduling.StatusConfirmed); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCancel_ReleasesReferral(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	p := h.Patient(t, "123456789")
	r := h.Referral(t, p.ID, referral.CategoryFullTreatment)
	a := book(t, h, p.ID, &r.ID)
	ctx := context.Background()
	if _, err := h.Referrals.Takeover(ctx, r.ID, "dr-a"); err != nil {
		t.Fatalf("takeover: %v", err)
	}

	got, err := h.Scheduling.Cancel(ctx, a.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != scheduling.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	ref, _ := h.Referrals.GetByID(ctx, r.ID)
	if ref.Status != referral.StatusSent || ref.Owned {
		t.Fatalf("referral not released: %+v", ref)
	}
}

func TestCancel_KeepsStornoRetryMarker(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	p := h.Patient(t, "123456789")
	r := h.Referral(t, p.ID, referral.CategoryFullTreatment)
	a := book(t, h, p.ID, &r.ID)
	ctx := context.Background()

	h.Central.Fail(central.OpCancel, errors.New("gateway timeout"))
	if _, err := h.Storno.Reverse(ctx, storno.TypeReferral, r.ID, "duplicate referral"); !errors.Is(err, apperr.ErrTransient) {
		t.Fatalf("expected transient storno failure, got %v", err)
	}

	if _, err := h.Scheduling.Cancel(ctx, a.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	ref, _ := h.Referrals.GetByID(ctx, r.ID)
	if ref.Status != referral.StatusCancelFailed {
		t.Fatalf("expected the retry marker to survive cancellation, got %s", ref.Status)
	}
	got, _ := h.Scheduling.Get(ctx, a.ID)
	if got.Status != scheduling.StatusCancelled {
		t.Fatalf("expected cancelled appointment, got %s", got.Status)
	}
}

func TestCancel_SignedFindingBlocks(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	p := h.Patient(t, "123456789")
	r := h.Referral(t, p.ID, referral.CategoryFullTreatment)
	a := book(t, h, p.ID, &r.ID)
	ctx := context.Background()

	in := clinical.FindingInput{Anamnesis: "Chest pain on exertion.", ClinicalStatus: "Normal ECG."}
	if _, err := h.Clinical.Upsert(ctx, a.ID, in); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := h.Clinical.Send(ctx, a.ID); err != nil {
		t.Fatalf("send: %v", err)
	}

	if _, err := h.Scheduling.Cancel(ctx, a.ID); !errors.Is(err, apperr.ErrPolicyViolation) {
		t.Fatalf("expected policy violation, got %v", err)
	}
	if err := h.Scheduling.HardDelete(ctx, a.ID); !errors.Is(err, apperr.ErrPolicyViolation) {
		t.Fatalf("expected policy violation on delete, got %v", err)
	}
	got, _ := h.Scheduling.Get(ctx, a.ID)
	if got.Status == scheduling.StatusCancelled {
		t.Fatal("appointment cancelled despite signed finding")
	}
}

func TestHardDelete(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	p := h.Patient(t, "123456789")
	a := book(t, h, p.ID, nil)
	ctx := context.Background()

	if err := h.Scheduling.HardDelete(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := h.Scheduling.Get(ctx, a.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to scheduling.Status
		want     bool
	}{
		{scheduling.StatusScheduled, scheduling.StatusConfirmed, true},
		{scheduling.StatusScheduled, scheduling.StatusCompleted, true},
		{scheduling.StatusConfirmed, scheduling.StatusScheduled, false},
		{scheduling.StatusCompleted, scheduling.StatusCancelled, true},
		{scheduling.StatusCancelled, scheduling.StatusScheduled, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}
