package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/ehr/clinicbridge/internal/domain/audit"
	"github.com/ehr/clinicbridge/internal/domain/patient"
)

func TestInTx_RollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(ctx context.Context) error {
		if err := s.Patients().Create(ctx, &patient.Patient{MBO: "123456789"}); err != nil {
			return err
		}
		if err := s.Audit().Append(ctx, audit.New(audit.TypeInsuranceCheck, "<q/>")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, total, _ := s.Patients().List(ctx, 10, 0); total != 0 {
		t.Fatalf("patient survived rollback: %d", total)
	}
	if n := len(s.Messages("")); n != 0 {
		t.Fatalf("message survived rollback: %d", n)
	}
}

func TestInTx_NestedJoinsOuter(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.InTx(ctx, func(ctx context.Context) error {
		if err := s.InTx(ctx, func(ctx context.Context) error {
			return s.Patients().Create(ctx, &patient.Patient{MBO: "123456789"})
		}); err != nil {
			return err
		}
		return errors.New("outer failure")
	})
	if err == nil {
		t.Fatal("expected outer error")
	}
	if _, total, _ := s.Patients().List(ctx, 10, 0); total != 0 {
		t.Fatalf("inner write committed independently: %d", total)
	}
}

func TestReferralLockRequiresTx(t *testing.T) {
	s := New()
	if _, err := s.Referrals().GetForUpdate(context.Background(), uuid.New()); !errors.Is(err, errNoTx) {
		t.Fatalf("expected errNoTx, got %v", err)
	}
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	if got := page(items, 2, 1); len(got) != 2 || got[0] != 2 {
		t.Errorf("unexpected page %v", got)
	}
	if got := page(items, 10, 5); got != nil {
		t.Errorf("expected empty page, got %v", got)
	}
}
