// Package breaker implements a per-HubConfig circuit breaker guarding
// calls into the upstream home-automation hub, plus bounded
// exponential-backoff retries for idempotent (read-only) calls.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// State is one of the breaker's three states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned by Allow (and Do) when the breaker is tripped
// and not yet due for a half-open probe.
var ErrOpen = errors.New("breaker: circuit open")

// Config controls trip/reset thresholds for one breaker instance.
type Config struct {
	FailureThreshold int           // consecutive failures before tripping
	OpenDuration     time.Duration // how long OPEN holds before allowing a probe
	HalfOpenMaxCalls int           // probes allowed while HALF_OPEN before deciding
}

// DefaultConfig matches the gateway's default breaker tuning.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		OpenDuration:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Breaker is a single CLOSED/OPEN/HALF_OPEN state machine, safe for
// concurrent use, keyed externally by the caller (one per HubConfig).
type Breaker struct {
	cfg Config

	mu           sync.Mutex
	state        State
	consecutive  int
	openedAt     time.Time
	halfOpenUsed int
}

// New builds a Breaker starting CLOSED.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, state: Closed}
}

// State returns the breaker's current state, resolving an expired
// OPEN window into HALF_OPEN as a side effect, matching the
// documented transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpenLocked()
	return b.state
}

func (b *Breaker) maybeTransitionToHalfOpenLocked() {
	if b.state == Open && time.Since(b.openedAt) >= b.cfg.OpenDuration {
		b.state = HalfOpen
		b.halfOpenUsed = 0
	}
}

// Allow reports whether a call may proceed right now, consuming one
// of the limited HALF_OPEN probe slots if applicable.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpenLocked()

	switch b.state {
	case Closed:
		return nil
	case HalfOpen:
		if b.halfOpenUsed >= b.cfg.HalfOpenMaxCalls {
			return ErrOpen
		}
		b.halfOpenUsed++
		return nil
	default: // Open
		return ErrOpen
	}
}

// RecordSuccess closes the breaker, resetting failure counters.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.consecutive = 0
	b.halfOpenUsed = 0
}

// RecordFailure registers a failed call. A failure while HALF_OPEN
// re-opens the breaker immediately; a failure while CLOSED trips it
// once FailureThreshold consecutive failures accumulate.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		b.tripLocked()
		return
	}
	b.consecutive++
	if b.consecutive >= b.cfg.FailureThreshold {
		b.tripLocked()
	}
}

func (b *Breaker) tripLocked() {
	b.state = Open
	b.openedAt = time.Now()
	b.halfOpenUsed = 0
}

// RetryAfter reports how long until an OPEN breaker will admit its
// next half-open probe, for the retry_after_ms hint surfaced to
// clients. Zero when the breaker is not OPEN (or already due).
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return 0
	}
	remaining := b.cfg.OpenDuration - time.Since(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Do runs fn if the breaker allows it, recording the outcome. When
// idempotent is true and fn fails with a retryable error, Do retries
// with exponential backoff and jitter via cenkalti/backoff, bounded by
// maxElapsed and re-checking Allow before every attempt.
func (b *Breaker) Do(ctx context.Context, idempotent bool, maxElapsed time.Duration, fn func(context.Context) error) error {
	if !idempotent {
		if err := b.Allow(); err != nil {
			return err
		}
		err := fn(ctx)
		b.record(err)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed
	if maxElapsed > 0 {
		// Scale the first wait to the budget so several attempts fit in it.
		bo.InitialInterval = maxElapsed / 20
	}
	boCtx := backoff.WithContext(bo, ctx)

	op := func() error {
		if err := b.Allow(); err != nil {
			return backoff.Permanent(err)
		}
		err := fn(ctx)
		b.record(err)
		return err
	}
	return backoff.Retry(op, boCtx)
}

func (b *Breaker) record(err error) {
	if err != nil {
		b.RecordFailure()
		return
	}
	b.RecordSuccess()
}

// Registry keeps one Breaker per HubConfig id, created lazily.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry builds a Registry whose breakers all share cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns (creating if necessary) the Breaker for hubConfigID.
func (r *Registry) Get(hubConfigID string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[hubConfigID]
	if !ok {
		b = New(r.cfg)
		r.breakers[hubConfigID] = b
	}
	return b
}
