package validate

import (
	"errors"
	"strings"
	"testing"

	"github.com/ehr/clinicbridge/internal/platform/apperr"
)

type sample struct {
	MBO       string `validate:"required,mbo"`
	Diagnosis string `validate:"required,icd10"`
	Category  string `validate:"required,oneof=A1 C1 D1"`
}

func TestValidate_OK(t *testing.T) {
	err := New().Validate(sample{MBO: "123456789", Diagnosis: "C50.9", Category: "A1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Messages(t *testing.T) {
	err := New().Validate(sample{MBO: "12ab", Diagnosis: "cancer", Category: "B7"})
	if !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	msg := err.Error()
	for _, want := range []string{
		"mbo must be a 9 digit insurance number",
		"diagnosis must be an ICD-10 code",
		"category must be one of A1, C1, D1",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}
}

func TestValidate_Required(t *testing.T) {
	err := New().Validate(sample{})
	if err == nil || !strings.Contains(err.Error(), "mbo is required") {
		t.Errorf("expected required message, got %v", err)
	}
}
