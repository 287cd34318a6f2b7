// Package calendar links appointments to slots in the external calendar.
package calendar

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Syncer pushes an appointment to the external calendar and returns the
// calendar's identifier for it.
type Syncer interface {
	Sync(ctx context.Context, appointmentID uuid.UUID) (string, error)
}

// Mock assigns a fresh sync id per call unless Err is set.
type Mock struct {
	mu    sync.Mutex
	Err   error
	calls int
}

func (m *Mock) Sync(ctx context.Context, appointmentID uuid.UUID) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return "", m.Err
	}
	return "cal-" + appointmentID.String()[:8] + "-" + uuid.NewString()[:4], nil
}

func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
