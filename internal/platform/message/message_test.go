package message

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer("HZZO-1234")
	if err != nil {
		t.Fatalf("NewRenderer() error: %v", err)
	}
	return r.WithClock(func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) })
}

func TestRender_TakeoverRequest(t *testing.T) {
	r := newTestRenderer(t)
	out, err := r.Render(TakeoverRequest, Values{
		"referral_external_id": "EXT-77",
		"holder":               "dr-horvat",
		"department":           "cardiology",
	})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	for _, want := range []string{
		"<Referral>EXT-77</Referral>",
		`<Holder department="cardiology">dr-horvat</Holder>`,
		"<Sender>HZZO-1234</Sender>",
		"<Created>2026-03-01T09:30:00Z</Created>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "{{") {
		t.Errorf("output contains unresolved placeholder:\n%s", out)
	}
}

func TestRender_UnresolvedPlaceholderFails(t *testing.T) {
	r := newTestRenderer(t)
	_, err := r.Render(TakeoverRequest, Values{"referral_external_id": "EXT-77"})
	if !errors.Is(err, ErrUnresolvedPlaceholder) {
		t.Fatalf("expected ErrUnresolvedPlaceholder, got %v", err)
	}
	if !strings.Contains(err.Error(), "holder") && !strings.Contains(err.Error(), "department") {
		t.Errorf("expected missing key in error, got %v", err)
	}
}

func TestRender_UnknownTemplate(t *testing.T) {
	r := newTestRenderer(t)
	if _, err := r.Render("discharge-letter", nil); !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("expected ErrUnknownTemplate, got %v", err)
	}
}

func TestRender_EscapesValues(t *testing.T) {
	r := newTestRenderer(t)
	if err := r.Register("note", "<Note>{{text}}</Note>"); err != nil {
		t.Fatal(err)
	}
	out, err := r.Render("note", Values{"text": `pain <3 days & "acute"`})
	if err != nil {
		t.Fatal(err)
	}
	want := "<Note>pain &lt;3 days &amp; &#34;acute&#34;</Note>"
	if out != want {
		t.Errorf("expected %s, got %s", want, out)
	}
}

func TestRender_RawNestsFragments(t *testing.T) {
	r := newTestRenderer(t)
	item, err := r.Render(InvoiceSubmission, Values{
		"invoice_id":           "inv-1",
		"payer":                "FUND",
		"invoice_type":         "INSTITUTIONAL",
		"amount":               "15.00",
		"patient_mbo":          "123456789",
		"diagnosis_code":       "I10",
		"procedure_name":       "ECG",
		"department":           "cardiology",
		"referral_external_id": "EXT-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	out, err := r.Render(BatchEnvelope, Values{
		"batch_id":   "b-1",
		"batch_type": "MONTHLY",
		"count":      "1",
		"invoices":   item,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `<Invoice id="inv-1">`) {
		t.Errorf("expected nested invoice to be inserted unescaped:\n%s", out)
	}
}

func TestRender_CallerOverridesHeader(t *testing.T) {
	r := newTestRenderer(t)
	out, err := r.Render(InsuranceQuery, Values{"patient_mbo": "123456789", "message_id": "fixed-id"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "<MessageID>fixed-id</MessageID>") {
		t.Errorf("expected caller message id, got:\n%s", out)
	}
}
