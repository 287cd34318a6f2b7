package storno

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicbridge/internal/domain/audit"
	"github.com/ehr/clinicbridge/internal/platform/apperr"
	"github.com/ehr/clinicbridge/internal/platform/central"
	"github.com/ehr/clinicbridge/internal/platform/message"
	"github.com/ehr/clinicbridge/internal/platform/validate"
)

type directTx struct{}

func (directTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type auditLog struct{ msgs []*audit.Message }

func (l *auditLog) Append(_ context.Context, m *audit.Message) error {
	l.msgs = append(l.msgs, m)
	return nil
}

func (l *auditLog) GetByID(context.Context, uuid.UUID) (*audit.Message, error) {
	return nil, apperr.NotFound("audit message", "")
}

func (l *auditLog) List(context.Context, audit.Filter, int, int) ([]*audit.Message, int, error) {
	return nil, 0, nil
}

// stubDocs holds one document of any type.
type stubDocs struct {
	doc      Document
	reversed bool
	failed   bool
}

func (d *stubDocs) Lock(_ context.Context, id uuid.UUID) (*Document, error) {
	if id != d.doc.ID {
		return nil, apperr.NotFound("document", id)
	}
	doc := d.doc
	doc.Reversed = d.reversed
	doc.Link = func(*audit.Message) {}
	return &doc, nil
}

func (d *stubDocs) MarkReversed(context.Context, uuid.UUID) error { d.reversed = true; return nil }
func (d *stubDocs) MarkFailed(context.Context, uuid.UUID) error   { d.failed = true; return nil }

func newTestHandler(t *testing.T, created time.Time) (*Handler, *stubDocs, *central.Mock) {
	t.Helper()
	renderer, err := message.NewRenderer("123456")
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	client := central.NewMock()
	svc := NewService(DefaultWindows(), directTx{}, audit.NewService(&auditLog{}, zerolog.Nop()), client, renderer, zerolog.Nop())
	docs := &stubDocs{doc: Document{ID: uuid.New(), ExternalID: "UPT-1", CreatedAt: created}}
	svc.Register(TypeReferral, docs)
	return NewHandler(svc), docs, client
}

func reverseRequestCtx(docType, id, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	e.Validator = validate.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("type", "id")
	c.SetParamValues(docType, id)
	return c, rec
}

func TestHandler_Reverse(t *testing.T) {
	h, docs, _ := newTestHandler(t, time.Now().Add(-time.Hour))
	c, rec := reverseRequestCtx("referral", docs.doc.ID.String(), `{"reason":"duplicate"}`)

	if err := h.Reverse(c); err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var res Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.ExternalID != "UPT-1" || res.DocumentType != TypeReferral || !docs.reversed {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestHandler_ReverseErrors(t *testing.T) {
	tests := []struct {
		name      string
		created   time.Duration
		docType   string
		id        func(*stubDocs) string
		body      string
		fail      bool
		wantCode  int
		wantRetry bool
	}{
		{"bad id", -time.Hour, "referral", func(*stubDocs) string { return "nope" }, `{}`, false, http.StatusBadRequest, false},
		{"reason too long", -time.Hour, "referral", docID, `{"reason":"` + strings.Repeat("x", 501) + `"}`, false, http.StatusBadRequest, false},
		{"unknown type", -time.Hour, "prescription", docID, `{}`, false, http.StatusBadRequest, false},
		{"past window", -100 * time.Hour, "referral", docID, `{}`, false, http.StatusForbidden, false},
		{"central failure", -time.Hour, "referral", docID, `{}`, true, http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, docs, client := newTestHandler(t, time.Now().Add(tt.created))
			if tt.fail {
				client.Fail(central.OpCancel, central.ErrRejected)
			}
			c, _ := reverseRequestCtx(tt.docType, tt.id(docs), tt.body)

			err := h.Reverse(c)
			he, ok := err.(*echo.HTTPError)
			if !ok || he.Code != tt.wantCode {
				t.Fatalf("expected HTTP %d, got %v", tt.wantCode, err)
			}
			if body, ok := he.Message.(apperr.Body); ok && body.Retryable != tt.wantRetry {
				t.Errorf("expected retryable=%v, got %+v", tt.wantRetry, body)
			}
			if tt.fail && !docs.failed {
				t.Error("expected retry marker")
			}
		})
	}
}

func docID(d *stubDocs) string { return d.doc.ID.String() }
