package memstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicbridge/internal/app"
	"github.com/ehr/clinicbridge/internal/domain/patient"
	"github.com/ehr/clinicbridge/internal/domain/referral"
	"github.com/ehr/clinicbridge/internal/platform/calendar"
	"github.com/ehr/clinicbridge/internal/platform/central"
)

// Repositories exposes every table of s as app.Repositories.
func (s *Store) Repositories() app.Repositories {
	return app.Repositories{
		Tx:              s,
		Patients:        s.Patients(),
		Referrals:       s.Referrals(),
		Appointments:    s.Appointments(),
		Findings:        s.Findings(),
		Recommendations: s.Recommendations(),
		Invoices:        s.Invoices(),
		Batches:         s.Batches(),
		Audit:           s.Audit(),
	}
}

// Harness is the full service graph on a fresh Store with mock
// collaborators.
type Harness struct {
	*app.Services
	Store    *Store
	Central  *central.Mock
	Calendar *calendar.Mock
}

// NewHarness wires the services with opts. Department "cardiology" is
// taken over by staff "dr-cardio" unless opts names its own staff.
func NewHarness(t testing.TB, opts app.Options) *Harness {
	t.Helper()
	if opts.DepartmentStaff == nil {
		opts.DepartmentStaff = map[string]string{"cardiology": "dr-cardio"}
	}
	h := &Harness{Store: New(), Central: central.NewMock(), Calendar: &calendar.Mock{}}
	svcs, err := app.NewServices(h.Store.Repositories(), h.Central, h.Calendar, opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("build services: %v", err)
	}
	h.Services = svcs
	return h
}

// Patient registers a patient with mbo.
func (h *Harness) Patient(t testing.TB, mbo string) *patient.Patient {
	t.Helper()
	p := &patient.Patient{MBO: mbo, FirstName: "Ana", LastName: "Horvat"}
	if err := h.Patients.Create(context.Background(), p); err != nil {
		t.Fatalf("create patient: %v", err)
	}
	return p
}

// Referral submits a cardiology referral of the given category for patientID.
func (h *Harness) Referral(t testing.TB, patientID uuid.UUID, category referral.Category) *referral.Referral {
	t.Helper()
	r, err := h.Referrals.Submit(context.Background(), referral.SubmitInput{
		PatientID:     patientID,
		DiagnosisCode: "I20.9",
		DiagnosisName: "Angina pectoris",
		ProcedureCode: "1011",
		ProcedureName: "Cardiology exam",
		Department:    "cardiology",
		Category:      category,
	})
	if err != nil {
		t.Fatalf("submit referral: %v", err)
	}
	return r
}
