package central

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Mock is an in-process Client that acknowledges every call unless a failure
// has been injected for the operation. It keeps no referral, invoice or
// finding state; only insurance records and call counters.
type Mock struct {
	mu        sync.Mutex
	failures  map[Operation]error
	insurance map[string]Insurance
	calls     map[Operation]int
}

func NewMock() *Mock {
	return &Mock{
		failures:  make(map[Operation]error),
		insurance: make(map[string]Insurance),
		calls:     make(map[Operation]int),
	}
}

// Fail makes every subsequent op call return err. A nil err clears it.
func (m *Mock) Fail(op Operation, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// SetInsurance registers the lookup result for mbo. Unknown numbers resolve to
// an active policy without supplemental coverage.
func (m *Mock) SetInsurance(ins Insurance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insurance[ins.MBO] = ins
}

// Calls returns how many times op has been invoked.
func (m *Mock) Calls(op Operation) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *Mock) record(ctx context.Context, op Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	return m.failures[op]
}

func (m *Mock) ack(prefix string) Ack {
	id := prefix + "-" + uuid.NewString()[:8]
	return Ack{ExternalID: id, Response: fmt.Sprintf(`<Ack status="OK" id="%s"/>`, id)}
}

func (m *Mock) SubmitReferral(ctx context.Context, _ string) (Ack, error) {
	if err := m.record(ctx, OpSubmitReferral); err != nil {
		return Ack{}, err
	}
	return m.ack("UPT"), nil
}

func (m *Mock) Takeover(ctx context.Context, externalID, _ string) (Ack, error) {
	if err := m.record(ctx, OpTakeover); err != nil {
		return Ack{}, err
	}
	return Ack{ExternalID: externalID, Response: `<Ack status="OK"/>`}, nil
}

func (m *Mock) SendFinding(ctx context.Context, _ string, _ string) (Ack, error) {
	if err := m.record(ctx, OpSendFinding); err != nil {
		return Ack{}, err
	}
	return m.ack("NAL"), nil
}

func (m *Mock) Cancel(ctx context.Context, _ string, externalID, _ string) (Ack, error) {
	if err := m.record(ctx, OpCancel); err != nil {
		return Ack{}, err
	}
	return Ack{ExternalID: externalID, Response: `<Ack status="CANCELLED"/>`}, nil
}

func (m *Mock) SubmitBatch(ctx context.Context, _ string, _ int) (Ack, error) {
	if err := m.record(ctx, OpSubmitBatch); err != nil {
		return Ack{}, err
	}
	return m.ack("BATCH"), nil
}

func (m *Mock) LookupInsurance(ctx context.Context, mbo, _ string) (Insurance, error) {
	if err := m.record(ctx, OpLookupInsurance); err != nil {
		return Insurance{}, err
	}
	m.mu.Lock()
	ins, ok := m.insurance[mbo]
	m.mu.Unlock()
	if !ok {
		ins = Insurance{MBO: mbo, Active: true, Category: "AO"}
	}
	ins.Response = fmt.Sprintf(`<InsuranceStatus mbo="%s" active="%t" supplemental="%t"/>`, mbo, ins.Active, ins.Supplemental)
	return ins, nil
}
