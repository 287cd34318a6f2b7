package referral_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ehr/clinicbridge/internal/app"
	"github.com/ehr/clinicbridge/internal/domain/audit"
	"github.com/ehr/clinicbridge/internal/domain/referral"
	"github.com/ehr/clinicbridge/internal/platform/apperr"
	"github.com/ehr/clinicbridge/internal/platform/central"
	"github.com/ehr/clinicbridge/internal/testutil/memstore"
)

var errUnavailable = errors.New("central system unavailable")

func TestSubmit_StoresSentReferral(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	p := h.Patient(t, "123456789")

	r := h.Referral(t, p.ID, referral.CategoryFullTreatment)
	if r.Status != referral.StatusSent {
		t.Fatalf("expected %s, got %s", referral.StatusSent, r.Status)
	}
	if !strings.HasPrefix(r.External(), "UPT-") {
		t.Fatalf("expected central id, got %q", r.External())
	}

	got, err := h.Referrals.Get(context.Background(), r.External())
	if err != nil {
		t.Fatalf("lookup by external id: %v", err)
	}
	if got.ID != r.ID {
		t.Fatalf("expected %s, got %s", r.ID, got.ID)
	}

	msgs := h.Store.Messages(audit.TypeReferralSubmit)
	if len(msgs) != 1 || msgs[0].Outcome != audit.Sent || *msgs[0].ReferralID != r.ID {
		t.Fatalf("expected one SENT submit message, got %+v", msgs)
	}
	if !strings.Contains(msgs[0].Payload, "<MBO>123456789</MBO>") {
		t.Fatalf("payload lacks patient: %s", msgs[0].Payload)
	}
}

func TestSubmit_CentralFailureStoresNothing(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	p := h.Patient(t, "123456789")
	h.Central.Fail(central.OpSubmitReferral, errUnavailable)

	_, err := h.Referrals.Submit(context.Background(), referral.SubmitInput{
		PatientID: p.ID, DiagnosisCode: "I10", Department: "cardiology", Category: referral.CategoryFullTreatment,
	})
	if !errors.Is(err, apperr.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	_, total, _ := h.Referrals.List(context.Background(), referral.Filter{}, 10, 0)
	if total != 0 {
		t.Fatalf("expected no referral stored, got %d", total)
	}
	msgs := h.Store.Messages(audit.TypeReferralSubmit)
	if len(msgs) != 1 || msgs[0].Outcome != audit.Failed || *msgs[0].PatientID != p.ID {
		t.Fatalf("expected one FAILED message for the patient, got %+v", msgs)
	}
}

func TestSubmit_Validation(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	p := h.Patient(t, "123456789")

	_, err := h.Referrals.Submit(context.Background(), referral.SubmitInput{
		PatientID: p.ID, DiagnosisCode: "I10", Department: "cardiology", Category: "Z9",
	})
	if !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("expected invalid category, got %v", err)
	}
}

func TestSubmit_DerivedFromConsultativeRejected(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	p := h.Patient(t, "123456789")
	parent := h.Referral(t, p.ID, referral.CategoryConsultative)

	_, err := h.Referrals.Submit(context.Background(), referral.SubmitInput{
		PatientID: p.ID, ParentKey: parent.External(), DiagnosisCode: "I10",
		Department: "cardiology", Category: referral.CategoryFullTreatment,
	})
	if !errors.Is(err, apperr.ErrPolicyViolation) {
		t.Fatalf("expected policy violation, got %v", err)
	}

	full := h.Referral(t, p.ID, referral.CategoryFullTreatment)
	child, err := h.Referrals.Submit(context.Background(), referral.SubmitInput{
		PatientID: p.ID, ParentKey: full.ID.String(), DiagnosisCode: "I10",
		Department: "cardiology", Category: referral.CategoryHospitalization,
	})
	if err != nil {
		t.Fatalf("derive from C1: %v", err)
	}
	if child.ParentID == nil || *child.ParentID != full.ID {
		t.Fatalf("expected parent %s, got %v", full.ID, child.ParentID)
	}
}

func TestTakeover_ConcurrentExactlyOneWins(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	p := h.Patient(t, "123456789")
	r := h.Referral(t, p.ID, referral.CategoryFullTreatment)

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      []string
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			holder := "dr-" + string(rune('a'+i))
			_, err := h.Referrals.Takeover(context.Background(), r.ID, holder)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins = append(wins, holder)
			case errors.Is(err, apperr.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if len(wins) != 1 || conflicts != n-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %v and %d", n-1, wins, conflicts)
	}
	got, _ := h.Referrals.GetByID(context.Background(), r.ID)
	if !got.Owned || got.HolderName() != wins[0] || got.Status != referral.StatusInProgress {
		t.Fatalf("unexpected referral state %+v", got)
	}
	if c := h.Central.Calls(central.OpTakeover); c != 1 {
		t.Fatalf("expected one takeover transmitted, got %d", c)
	}
	if msgs := h.Store.Messages(audit.TypeTakeover); len(msgs) != 1 {
		t.Fatalf("expected one takeover message, got %d", len(msgs))
	}
}

func TestTakeover_SecondAttemptKeepsHolder(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	p := h.Patient(t, "123456789")
	r := h.Referral(t, p.ID, referral.CategoryFullTreatment)
	ctx := context.Background()

	first, err := h.Referrals.Takeover(ctx, r.ID, "dr-a")
	if err != nil {
		t.Fatalf("first takeover: %v", err)
	}
	_, err = h.Referrals.Takeover(ctx, r.ID, "dr-b")
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Kind != apperr.KindConflict || ae.Rule != "ownership_held" {
		t.Fatalf("expected ownership conflict, got %v", err)
	}

	got, _ := h.Referrals.GetByID(ctx, r.ID)
	if got.HolderName() != "dr-a" || !got.HeldAt.Equal(*first.HeldAt) {
		t.Fatalf("holder changed: %+v", got)
	}
}

func TestTakeover_CentralFailureLeavesReferralUntouched(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	p := h.Patient(t, "123456789")
	r := h.Referral(t, p.ID, referral.CategoryFullTreatment)
	h.Central.Fail(central.OpTakeover, errUnavailable)

	_, err := h.Referrals.Takeover(context.Background(), r.ID, "dr-a")
	var ae *apperr.Error
	if !errors.As(err, &ae) || !ae.Retryable() {
		t.Fatalf("expected retryable transient error, got %v", err)
	}
	got, _ := h.Referrals.GetByID(context.Background(), r.ID)
	if got.Owned || got.Status != referral.StatusSent {
		t.Fatalf("referral changed on failure: %+v", got)
	}
	msgs := h.Store.Messages(audit.TypeTakeover)
	if len(msgs) != 1 || msgs[0].Outcome != audit.Failed {
		t.Fatalf("expected one FAILED takeover message, got %+v", msgs)
	}

	h.Central.Fail(central.OpTakeover, nil)
	if _, err := h.Referrals.Takeover(context.Background(), r.ID, "dr-a"); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestAutoTakeover_UsesDepartmentStaff(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	p := h.Patient(t, "123456789")
	r := h.Referral(t, p.ID, referral.CategoryFullTreatment)

	if _, err := h.Referrals.AutoTakeover(context.Background(), r.ID, "neurology"); !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("expected invalid for unknown department, got %v", err)
	}
	got, err := h.Referrals.AutoTakeover(context.Background(), r.ID, "cardiology")
	if err != nil {
		t.Fatalf("auto takeover: %v", err)
	}
	if got.HolderName() != "dr-cardio" {
		t.Fatalf("expected dr-cardio, got %q", got.HolderName())
	}
}

func TestRelease_ClearsOwnership(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	p := h.Patient(t, "123456789")
	r := h.Referral(t, p.ID, referral.CategoryFullTreatment)
	ctx := context.Background()

	if _, err := h.Referrals.Takeover(ctx, r.ID, "dr-a"); err != nil {
		t.Fatalf("takeover: %v", err)
	}
	got, err := h.Referrals.Release(ctx, r.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if got.Owned || got.Holder != nil || got.Status != referral.StatusSent {
		t.Fatalf("unexpected state after release: %+v", got)
	}
	if _, err := h.Referrals.Takeover(ctx, r.ID, "dr-b"); err != nil {
		t.Fatalf("takeover after release: %v", err)
	}
}

func TestOnCalendarSynced_DoesNotRegress(t *testing.T) {
	h := memstore.NewHarness(t, app.DefaultOptions())
	p := h.Patient(t, "123456789")
	r := h.Referral(t, p.ID, referral.CategoryFullTreatment)
	ctx := context.Background()

	if err := h.Referrals.OnCalendarSynced(ctx, r.ID); err != nil {
		t.Fatalf("sync: %v", err)
	}
	got, _ := h.Referrals.GetByID(ctx, r.ID)
	if got.Status != referral.StatusReserved {
		t.Fatalf("expected reserved, got %s", got.Status)
	}

	if _, err := h.Referrals.Takeover(ctx, r.ID, "dr-a"); err != nil {
		t.Fatalf("takeover: %v", err)
	}
	if err := h.Referrals.OnCalendarSynced(ctx, r.ID); err != nil {
		t.Fatalf("late sync: %v", err)
	}
	got, _ = h.Referrals.GetByID(ctx, r.ID)
	if got.Status != referral.StatusInProgress {
		t.Fatalf("late sync regressed status to %s", got.Status)
	}
}
