package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIs_MatchesKindSentinel(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
	}{
		{NotFound("referral", "r-1"), ErrNotFound},
		{Invalid("bad"), ErrInvalid},
		{Policy("category", "forbidden"), ErrPolicyViolation},
		{Conflict("ownership", "taken"), ErrConflict},
		{Transient("storno", errors.New("timeout")), ErrTransient},
		{Unsigned("finding", "unsigned"), ErrUnsignedDependency},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.sentinel) {
			t.Errorf("expected %v to match %v", tt.err, tt.sentinel)
		}
		if tt.sentinel != ErrNotFound && errors.Is(tt.err, ErrNotFound) {
			t.Errorf("unexpected ErrNotFound match for %v", tt.err)
		}
	}
}

func TestIs_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("takeover: %w", Conflict("ownership", "already owned"))
	if !errors.Is(err, ErrConflict) {
		t.Fatal("expected wrapped conflict to match")
	}
	if KindOf(err) != KindConflict {
		t.Errorf("expected KindConflict, got %v", KindOf(err))
	}
}

func TestTransient_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Transient("takeover", cause)
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable")
	}
	var ae *Error
	if !errors.As(err, &ae) || !ae.Retryable() {
		t.Error("expected transient error to be retryable")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NotFound("invoice", 1), http.StatusNotFound},
		{Invalid("x"), http.StatusBadRequest},
		{Policy("r", "x"), http.StatusForbidden},
		{Conflict("r", "x"), http.StatusConflict},
		{Transient("op", nil), http.StatusServiceUnavailable},
		{Unsigned("r", "x"), http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
		{Internal("batch_render", errors.New("boom")), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestToHTTP_Body(t *testing.T) {
	he := ToHTTP(Transient("storno", errors.New("503")))
	if he.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", he.Code)
	}
	body, ok := he.Message.(Body)
	if !ok {
		t.Fatalf("expected Body message, got %T", he.Message)
	}
	if !body.Retryable || body.Error != "transient_failure" || body.Rule != "storno" {
		t.Errorf("unexpected body: %+v", body)
	}

	he = ToHTTP(Policy("storno_age_window", "too old"))
	body = he.Message.(Body)
	if body.Retryable {
		t.Error("policy violations must not be retryable")
	}

	he = ToHTTP(Internal("batch_render", errors.New("missing placeholder")))
	body = he.Message.(Body)
	if body.Error != "internal" || body.Rule != "batch_render" || body.Message != "batch_render failed: missing placeholder" || body.Retryable {
		t.Errorf("unexpected internal body: %+v", body)
	}

	he = ToHTTP(errors.New("db down"))
	body = he.Message.(Body)
	if body.Message != "internal server error" {
		t.Errorf("internal errors must not leak details, got %q", body.Message)
	}
}
