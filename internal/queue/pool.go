package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionState mirrors the backend session's documented lifecycle.
type SessionState int

const (
	StateInitializing SessionState = iota
	StateHealthy
	StateBusy
	StateReconnecting
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateHealthy:
		return "HEALTHY"
	case StateBusy:
		return "BUSY"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Backend abstracts the underlying MCP connection a Session wraps;
// the pool drives its lifecycle without knowing its transport.
type Backend interface {
	Connect(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// BackendFactory constructs a new Backend instance, called whenever
// the pool needs to (re)create a session's connection.
type BackendFactory func(ctx context.Context) (Backend, error)

// ErrNoSessionAvailable is returned by Lease when every session in
// the pool is currently BUSY or RECONNECTING and the pool is already
// at MaxSessions.
var ErrNoSessionAvailable = errors.New("pool: no session available")

// Session is one managed MCP backend connection, exclusively leased
// to at most one in-flight call at a time.
type Session struct {
	ID      string
	backend Backend

	mu        sync.Mutex
	state     SessionState
	idleSince time.Time
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config tunes the pool's sizing, health-check cadence and lease
// timeout.
type Config struct {
	Min              int
	Max              int
	Target           int
	ScaleUpFactor    float64 // k in "pending depth > k * active_sessions"
	LatencyThreshold time.Duration
	IdleTimeout      time.Duration
	HealthInterval   time.Duration
	LeaseTimeout     time.Duration
	CancelGrace      time.Duration
}

// Pool maintains Min..Max live Backend sessions, scaling toward
// Target based on observed queue depth and latency, and leasing
// HEALTHY sessions exclusively to callers for the duration of one
// upstream call.
type Pool struct {
	cfg     Config
	factory BackendFactory

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewPool builds a Pool and eagerly creates Min sessions.
func NewPool(ctx context.Context, cfg Config, factory BackendFactory) (*Pool, error) {
	p := &Pool{cfg: cfg, factory: factory, sessions: make(map[string]*Session)}
	for i := 0; i < cfg.Min; i++ {
		if _, err := p.createSession(ctx); err != nil {
			return nil, fmt.Errorf("seed pool session %d/%d: %w", i+1, cfg.Min, err)
		}
	}
	return p, nil
}

func (p *Pool) createSession(ctx context.Context) (*Session, error) {
	backend, err := p.factory(ctx)
	if err != nil {
		return nil, err
	}
	sess := &Session{ID: uuid.NewString(), backend: backend, state: StateInitializing}
	if err := backend.Connect(ctx); err != nil {
		sess.state = StateReconnecting
		return nil, fmt.Errorf("connect session %s: %w", sess.ID, err)
	}
	sess.state = StateHealthy
	sess.idleSince = time.Now()

	p.mu.Lock()
	p.sessions[sess.ID] = sess
	p.mu.Unlock()
	return sess, nil
}

// Size returns the current number of live (non-CLOSED) sessions.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.sessions {
		if s.State() != StateClosed {
			n++
		}
	}
	return n
}

// Lease finds a HEALTHY session, marks it BUSY, and returns it along
// with a release function the caller MUST invoke exactly once
// (success, error, or timeout) to return the session to the pool. If
// none is free and the pool is below Max, a new session is created
// on demand.
func (p *Pool) Lease(ctx context.Context) (*Session, func(outcome error), error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, nil, errors.New("pool: closed")
	}
	for _, s := range p.sessions {
		s.mu.Lock()
		if s.state == StateHealthy {
			s.state = StateBusy
			s.mu.Unlock()
			p.mu.Unlock()
			return s, p.releaseFunc(s), nil
		}
		s.mu.Unlock()
	}
	canGrow := len(p.sessions) < p.cfg.Max
	p.mu.Unlock()

	if !canGrow {
		return nil, nil, ErrNoSessionAvailable
	}
	sess, err := p.createSession(ctx)
	if err != nil {
		return nil, nil, err
	}
	sess.mu.Lock()
	sess.state = StateBusy
	sess.mu.Unlock()
	return sess, p.releaseFunc(sess), nil
}

func (p *Pool) releaseFunc(s *Session) func(error) {
	return func(outcome error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state == StateClosed {
			return
		}
		if outcome != nil {
			s.state = StateReconnecting
			return
		}
		s.state = StateHealthy
		s.idleSince = time.Now()
	}
}

// ForceRecycle closes and replaces a session that failed to honour a
// cancellation within the configured grace period, per the
// documented uncooperative-cancellation handling.
func (p *Pool) ForceRecycle(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	s, ok := p.sessions[sessionID]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	delete(p.sessions, sessionID)
	p.mu.Unlock()

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	_ = s.backend.Close()

	if p.Size() < p.cfg.Min {
		_, err := p.createSession(ctx)
		return err
	}
	return nil
}

// RunHealthChecks periodically probes every session; a failing check
// transitions that session to RECONNECTING, where it is then rebuilt.
// Blocks until ctx is cancelled; intended to run as a background
// goroutine owned by the bootstrap scope.
func (p *Pool) RunHealthChecks(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.healthCheckOnce(ctx)
		}
	}
}

func (p *Pool) healthCheckOnce(ctx context.Context) {
	p.mu.Lock()
	candidates := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		candidates = append(candidates, s)
	}
	p.mu.Unlock()

	for _, s := range candidates {
		s.mu.Lock()
		state := s.state
		s.mu.Unlock()
		switch state {
		case StateReconnecting:
			// Sessions parked here by a failed lease release get their
			// reconnect attempt on the next health tick.
			go p.reconnect(ctx, s)
		case StateHealthy:
			if err := s.backend.HealthCheck(ctx); err != nil {
				s.mu.Lock()
				s.state = StateReconnecting
				s.mu.Unlock()
				go p.reconnect(ctx, s)
			}
		}
	}
	p.scaleIdleSessions()
}

func (p *Pool) reconnect(ctx context.Context, s *Session) {
	if err := s.backend.Connect(ctx); err != nil {
		return
	}
	s.mu.Lock()
	if s.state == StateReconnecting {
		s.state = StateHealthy
		s.idleSince = time.Now()
	}
	s.mu.Unlock()
}

// scaleIdleSessions closes HEALTHY sessions that have been idle
// longer than IdleTimeout, never dropping below Min.
func (p *Pool) scaleIdleSessions() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) <= p.cfg.Min {
		return
	}
	for id, s := range p.sessions {
		if len(p.sessions) <= p.cfg.Min {
			return
		}
		s.mu.Lock()
		idle := s.state == StateHealthy && time.Since(s.idleSince) > p.cfg.IdleTimeout
		if idle {
			s.state = StateClosed
		}
		s.mu.Unlock()
		if idle {
			_ = s.backend.Close()
			delete(p.sessions, id)
		}
	}
}

// ShouldScaleUp reports whether the pool should grow given the
// current queue depth and a moving-average latency sample, per the
// documented "pending depth > k * active_sessions AND latency over
// threshold" rule.
func (p *Pool) ShouldScaleUp(pendingDepth int, avgLatency time.Duration) bool {
	active := p.Size()
	if active == 0 {
		return pendingDepth > 0
	}
	return float64(pendingDepth) > p.cfg.ScaleUpFactor*float64(active) && avgLatency > p.cfg.LatencyThreshold && active < p.cfg.Max
}

// Close tears down every session in the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	sessions := p.sessions
	p.sessions = make(map[string]*Session)
	p.mu.Unlock()

	var firstErr error
	for _, s := range sessions {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		if err := s.backend.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
