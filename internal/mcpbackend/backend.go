// Package mcpbackend provides the queue.Backend implementation the
// session pool manages. A Session's Backend is a concurrency/health
// slot, not a connection to any one user's hub: upstream HTTP calls
// to a specific HubConfig are made per-request by the tool handlers
// (internal/upstream), already past the slot this package guards.
package mcpbackend

import (
	"context"
	"sync/atomic"

	"github.com/hubbridge/mcp-gateway/internal/queue"
)

// Slot is a trivial queue.Backend: it has no remote endpoint of its
// own to connect to, since the gateway is multi-tenant and resolves a
// concrete hub URL/token per call via hubconfig.Manager.Resolve. It
// exists so the pool's INITIALIZING/HEALTHY/RECONNECTING lifecycle
// and Min/Max/Target sizing apply uniformly regardless of which hub a
// given call ends up targeting.
type Slot struct {
	closed int32
}

// Factory builds a Slot-backed BackendFactory for queue.Pool.
func Factory() queue.BackendFactory {
	return func(ctx context.Context) (queue.Backend, error) {
		return &Slot{}, nil
	}
}

// Connect always succeeds immediately: a Slot has nothing to dial.
func (s *Slot) Connect(ctx context.Context) error {
	return nil
}

// HealthCheck reports unhealthy only once Close has been called,
// since a Slot itself never degrades on its own.
func (s *Slot) HealthCheck(ctx context.Context) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return context.Canceled
	}
	return nil
}

// Close marks the slot closed so a subsequent HealthCheck fails and
// the pool recycles it.
func (s *Slot) Close() error {
	atomic.StoreInt32(&s.closed, 1)
	return nil
}
