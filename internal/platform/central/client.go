// Package central defines the boundary to the national health-insurance
// interchange. Transport, schema validation and signatures live behind Client.
package central

import (
	"context"
	"errors"
)

// Operation names a Central System call.
type Operation string

const (
	OpSubmitReferral  Operation = "submit_referral"
	OpTakeover        Operation = "takeover"
	OpSendFinding     Operation = "send_finding"
	OpCancel          Operation = "cancel"
	OpSubmitBatch     Operation = "submit_batch"
	OpLookupInsurance Operation = "lookup_insurance"
)

// ErrRejected is returned when the Central System refuses a message.
var ErrRejected = errors.New("rejected by central system")

// Ack is the acknowledgment of an accepted message.
type Ack struct {
	ExternalID string
	Response   string
}

// Insurance is the result of a policy lookup.
type Insurance struct {
	MBO          string
	FirstName    string
	LastName     string
	Active       bool
	Supplemental bool
	Category     string
	Response     string
}

// Client sends rendered payloads to the Central System. Every method may block
// on the network and returns a non-nil error on rejection or transport failure.
type Client interface {
	SubmitReferral(ctx context.Context, payload string) (Ack, error)
	Takeover(ctx context.Context, externalID, payload string) (Ack, error)
	SendFinding(ctx context.Context, referralExternalID, payload string) (Ack, error)
	Cancel(ctx context.Context, documentType, externalID, payload string) (Ack, error)
	SubmitBatch(ctx context.Context, payload string, invoiceCount int) (Ack, error)
	LookupInsurance(ctx context.Context, mbo, payload string) (Insurance, error)
}
