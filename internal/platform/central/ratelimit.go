package central

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to the wrapped Client. Callers block until a
// token is available or ctx is done.
type RateLimited struct {
	next    Client
	limiter *rate.Limiter
}

func NewRateLimited(next Client, rps float64, burst int) *RateLimited {
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimited) wait(ctx context.Context, op Operation) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("central %s: rate limit: %w", op, err)
	}
	return nil
}

func (r *RateLimited) SubmitReferral(ctx context.Context, payload string) (Ack, error) {
	if err := r.wait(ctx, OpSubmitReferral); err != nil {
		return Ack{}, err
	}
	return r.next.SubmitReferral(ctx, payload)
}

func (r *RateLimited) Takeover(ctx context.Context, externalID, payload string) (Ack, error) {
	if err := r.wait(ctx, OpTakeover); err != nil {
		return Ack{}, err
	}
	return r.next.Takeover(ctx, externalID, payload)
}

func (r *RateLimited) SendFinding(ctx context.Context, referralExternalID, payload string) (Ack, error) {
	if err := r.wait(ctx, OpSendFinding); err != nil {
		return Ack{}, err
	}
	return r.next.SendFinding(ctx, referralExternalID, payload)
}

func (r *RateLimited) Cancel(ctx context.Context, documentType, externalID, payload string) (Ack, error) {
	if err := r.wait(ctx, OpCancel); err != nil {
		return Ack{}, err
	}
	return r.next.Cancel(ctx, documentType, externalID, payload)
}

func (r *RateLimited) SubmitBatch(ctx context.Context, payload string, invoiceCount int) (Ack, error) {
	if err := r.wait(ctx, OpSubmitBatch); err != nil {
		return Ack{}, err
	}
	return r.next.SubmitBatch(ctx, payload, invoiceCount)
}

func (r *RateLimited) LookupInsurance(ctx context.Context, mbo, payload string) (Insurance, error) {
	if err := r.wait(ctx, OpLookupInsurance); err != nil {
		return Insurance{}, err
	}
	return r.next.LookupInsurance(ctx, mbo, payload)
}
