package storno

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicbridge/internal/domain/audit"
	"github.com/ehr/clinicbridge/internal/domain/compliance"
	"github.com/ehr/clinicbridge/internal/platform/apperr"
	"github.com/ehr/clinicbridge/internal/platform/central"
	"github.com/ehr/clinicbridge/internal/platform/db"
	"github.com/ehr/clinicbridge/internal/platform/message"
)

type Service struct {
	docs     map[DocumentType]Reversible
	windows  Windows
	tx       db.Transactor
	audit    *audit.Service
	central  central.Client
	renderer *message.Renderer
	now      func() time.Time
	logger   zerolog.Logger
}

func NewService(
	windows Windows,
	tx db.Transactor,
	auditSvc *audit.Service,
	client central.Client,
	renderer *message.Renderer,
	logger zerolog.Logger,
) *Service {
	return &Service{
		docs:     make(map[DocumentType]Reversible),
		windows:  windows,
		tx:       tx,
		audit:    auditSvc,
		central:  client,
		renderer: renderer,
		now:      time.Now,
		logger:   logger.With().Str("component", "storno").Logger(),
	}
}

// Register makes documents of type t reversible.
func (s *Service) Register(t DocumentType, r Reversible) { s.docs[t] = r }

func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Reverse cancels a document at the Central System. An invoice the Central
// System never received is cancelled locally.
//
// A document past its storno window is refused before anything changes. When
// the Central System refuses the reversal, the document keeps a retry marker
// and the error is Transient.
func (s *Service) Reverse(ctx context.Context, t DocumentType, id uuid.UUID, reason string) (*Result, error) {
	docs, ok := s.docs[t]
	if !ok {
		return nil, apperr.Invalid("unknown document type %q", t)
	}

	var (
		result  *Result
		doc     *Document
		payload string
		callErr error
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if doc, err = docs.Lock(ctx, id); err != nil {
			return err
		}
		if doc.Reversed {
			return apperr.Conflict("storno_already_applied", "%s %s is already cancelled", t, id)
		}
		now := s.now().UTC()
		if err := compliance.CanReverse(string(t), now.Sub(doc.CreatedAt), s.windows.MaxAge(t)).Err(); err != nil {
			return err
		}
		if doc.Local {
			if err := docs.MarkReversed(ctx, id); err != nil {
				return err
			}
			result = &Result{DocumentType: t, DocumentID: id, ReversedAt: now}
			return nil
		}
		if err := compliance.CanReverseTransmitted(string(t), doc.ExternalID).Err(); err != nil {
			return err
		}

		payload, err = s.renderer.Render(message.ReversalRequest, message.Values{
			"document_type":        string(t),
			"document_external_id": doc.ExternalID,
			"reason":               reason,
		})
		if err != nil {
			return err
		}

		ack, err := s.central.Cancel(ctx, string(t), doc.ExternalID, payload)
		if err != nil {
			callErr = err
			return err
		}

		if err := docs.MarkReversed(ctx, id); err != nil {
			return err
		}
		msg := audit.New(audit.TypeStorno, payload).Succeeded(ack.Response)
		doc.Link(msg)
		if err := s.audit.Record(ctx, msg); err != nil {
			return err
		}
		result = &Result{
			DocumentType: t,
			DocumentID:   id,
			ExternalID:   doc.ExternalID,
			Confirmation: ack.ExternalID,
			ReversedAt:   now,
		}
		return nil
	})

	if callErr != nil {
		return nil, s.markFailed(ctx, t, docs, doc, payload, callErr)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("document_type", string(t)).Str("document_id", id.String()).
		Str("external_id", result.ExternalID).Msg("document reversed")
	return result, nil
}

// markFailed stores the retry marker and the FAILED message together.
func (s *Service) markFailed(ctx context.Context, t DocumentType, docs Reversible, doc *Document, payload string, callErr error) error {
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := docs.MarkFailed(ctx, doc.ID); err != nil {
			return err
		}
		msg := audit.New(audit.TypeStorno, payload).Failed(callErr)
		doc.Link(msg)
		return s.audit.Record(ctx, msg)
	})
	if err != nil {
		return err
	}
	s.logger.Error().Err(callErr).Str("document_type", string(t)).Str("document_id", doc.ID.String()).
		Msg("storno rejected, document marked for retry")
	return apperr.Transient(string(central.OpCancel), callErr)
}
