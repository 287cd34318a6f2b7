// Package message renders outbound Central System payloads from named XML
// templates and a flat substitution map.
//
// Placeholders are written {{key}}. Values are XML-escaped; {{raw:key}}
// inserts the value verbatim and is meant for nesting rendered fragments.
// Rendering fails if any placeholder has no value.
package message

import (
	"embed"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasttemplate"
)

// Name identifies a template.
type Name string

const (
	ReferralSubmission Name = "referral-submission"
	TakeoverRequest    Name = "takeover-request"
	FindingSubmission  Name = "finding-submission"
	ReversalRequest    Name = "reversal-request"
	InvoiceSubmission  Name = "invoice-submission"
	BatchEnvelope      Name = "batch-envelope"
	InsuranceQuery     Name = "insurance-query"
)

// Values is the substitution map for one rendering.
type Values map[string]string

var (
	ErrUnknownTemplate       = errors.New("unknown message template")
	ErrUnresolvedPlaceholder = errors.New("unresolved template placeholder")
)

const rawPrefix = "raw:"

//go:embed templates/*.xml
var builtin embed.FS

// Renderer holds the parsed templates. It is safe for concurrent use.
type Renderer struct {
	institution string
	templates   map[Name]*fasttemplate.Template
	now         func() time.Time
}

// NewRenderer parses the built-in templates. institution is rendered into the
// {{institution}} header field of every message.
func NewRenderer(institution string) (*Renderer, error) {
	r := &Renderer{
		institution: institution,
		templates:   make(map[Name]*fasttemplate.Template),
		now:         time.Now,
	}
	for _, name := range []Name{
		ReferralSubmission, TakeoverRequest, FindingSubmission, ReversalRequest,
		InvoiceSubmission, BatchEnvelope, InsuranceQuery,
	} {
		body, err := builtin.ReadFile("templates/" + string(name) + ".xml")
		if err != nil {
			return nil, fmt.Errorf("load template %s: %w", name, err)
		}
		if err := r.Register(name, string(body)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces a template.
func (r *Renderer) Register(name Name, body string) error {
	t, err := fasttemplate.NewTemplate(body, "{{", "}}")
	if err != nil {
		return fmt.Errorf("parse template %s: %w", name, err)
	}
	r.templates[name] = t
	return nil
}

// WithClock returns a copy of r that stamps messages using now.
func (r *Renderer) WithClock(now func() time.Time) *Renderer {
	cp := *r
	cp.now = now
	return &cp
}

// Render substitutes values into the named template. The header keys
// message_id, institution and timestamp are filled in unless values sets them.
func (r *Renderer) Render(name Name, values Values) (string, error) {
	t, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}

	out, err := t.ExecuteFuncStringWithErr(func(w io.Writer, tag string) (int, error) {
		key := strings.TrimSpace(tag)
		raw := strings.HasPrefix(key, rawPrefix)
		key = strings.TrimPrefix(key, rawPrefix)

		v, ok := values[key]
		if !ok {
			v, ok = r.header(key)
		}
		if !ok {
			return 0, fmt.Errorf("%w: %q in %s", ErrUnresolvedPlaceholder, key, name)
		}
		if raw {
			return io.WriteString(w, v)
		}
		return escape(w, v)
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func (r *Renderer) header(key string) (string, bool) {
	switch key {
	case "institution":
		return r.institution, true
	case "message_id":
		return uuid.NewString(), true
	case "timestamp":
		return r.now().UTC().Format(time.RFC3339), true
	}
	return "", false
}

type countingWriter struct {
	w io.Writer
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += n
	return n, err
}

func escape(w io.Writer, s string) (int, error) {
	cw := &countingWriter{w: w}
	err := xml.EscapeText(cw, []byte(s))
	return cw.n, err
}
