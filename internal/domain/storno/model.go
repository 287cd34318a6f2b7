package storno

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinicbridge/internal/domain/audit"
)

// DocumentType names a reversible document kind.
type DocumentType string

const (
	TypeReferral DocumentType = "referral"
	TypeInvoice  DocumentType = "invoice"
	TypeReport   DocumentType = "report"
)

// Windows bounds how old a document may be when it is reversed.
type Windows struct {
	Referral time.Duration
	Default  time.Duration
}

func DefaultWindows() Windows {
	return Windows{Referral: 72 * time.Hour, Default: 192 * time.Hour}
}

func (w Windows) MaxAge(t DocumentType) time.Duration {
	if t == TypeReferral {
		return w.Referral
	}
	return w.Default
}

// Document is the part of a reversible entity storno works with.
type Document struct {
	ID         uuid.UUID
	ExternalID string
	CreatedAt  time.Time
	// Reversed is set once the document is in its terminal storno state.
	Reversed bool
	// Local marks a document the Central System never received. It is
	// reversed without a remote call.
	Local bool
	// Link attaches the document's subjects to an audit message.
	Link func(*audit.Message)
}

// Reversible adapts one document type. Lock runs inside the storno
// transaction and returns NotFound for a missing document.
type Reversible interface {
	Lock(ctx context.Context, id uuid.UUID) (*Document, error)
	MarkReversed(ctx context.Context, id uuid.UUID) error
	// MarkFailed stores the retry marker, where the type has one.
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

// Result describes a completed reversal.
type Result struct {
	DocumentType DocumentType `json:"document_type"`
	DocumentID   uuid.UUID    `json:"document_id"`
	ExternalID   string       `json:"external_id"`
	Confirmation string       `json:"confirmation"`
	ReversedAt   time.Time    `json:"reversed_at"`
}
