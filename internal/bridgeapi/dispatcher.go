package bridgeapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hubbridge/mcp-gateway/internal/auth"
	"github.com/hubbridge/mcp-gateway/internal/breaker"
	"github.com/hubbridge/mcp-gateway/internal/cache"
	"github.com/hubbridge/mcp-gateway/internal/hubconfig"
	"github.com/hubbridge/mcp-gateway/internal/observability"
	"github.com/hubbridge/mcp-gateway/internal/queue"
	"github.com/hubbridge/mcp-gateway/internal/store"
	"github.com/hubbridge/mcp-gateway/internal/tools"
	"github.com/rs/zerolog/log"
)

// DispatcherConfig tunes per-call deadlines and the upstream HTTP
// timeout handed to tool handlers.
type DispatcherConfig struct {
	DefaultDeadline time.Duration // applied when the caller sends no X-Timeout
	MaxDeadline     time.Duration // ceiling any X-Timeout is clamped to
	HubCallTimeout  time.Duration // per-HTTP-call timeout against the hub
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.DefaultDeadline <= 0 {
		c.DefaultDeadline = 30 * time.Second
	}
	if c.MaxDeadline <= 0 {
		c.MaxDeadline = 120 * time.Second
	}
	if c.HubCallTimeout <= 0 {
		c.HubCallTimeout = 15 * time.Second
	}
	return c
}

// Dispatcher routes an authenticated tool call through admission
// (priority queue), resource acquisition (session pool), the
// fingerprint cache, and the per-hub circuit breaker, to the
// registered tool handler, appending one RequestRecord per admitted
// call.
type Dispatcher struct {
	registry   *tools.Registry
	authz      *auth.Pipeline
	hubconfigs *hubconfig.Manager
	st         *store.Store
	metrics    *observability.Metrics
	q          *queue.Queue
	pool       *queue.Pool
	cache      *cache.Cache
	prefixIdx  *cache.PrefixIndex
	breakers   *breaker.Registry
	cfg        DispatcherConfig

	handoff chan leasedSession
}

type leasedSession struct {
	session *queue.Session
	release func(error)
}

// NewDispatcher wires the already-constructed components together.
// Run must be started separately; it bridges queue admission to pool
// resource acquisition.
func NewDispatcher(registry *tools.Registry, authz *auth.Pipeline, hubconfigs *hubconfig.Manager, st *store.Store, metrics *observability.Metrics, q *queue.Queue, pool *queue.Pool, c *cache.Cache, prefixIdx *cache.PrefixIndex, breakers *breaker.Registry, cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		registry:   registry,
		authz:      authz,
		hubconfigs: hubconfigs,
		st:         st,
		metrics:    metrics,
		q:          q,
		pool:       pool,
		cache:      c,
		prefixIdx:  prefixIdx,
		breakers:   breakers,
		cfg:        cfg.withDefaults(),
		handoff:    make(chan leasedSession),
	}
}

// Run starts the pump loop that pairs a dequeued ticket with a leased
// pool session, one rendezvous at a time. It blocks until ctx is
// cancelled and should be started in its own goroutine at bootstrap.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if d.q.Len() == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}
		session, release, err := d.pool.Lease(ctx)
		if err != nil {
			// Every session is BUSY/RECONNECTING and the pool is at
			// Max: back off briefly and check again rather than
			// busy-spinning on Lease.
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
			continue
		}
		if !d.q.Dequeue() {
			release(nil)
			continue
		}
		// The dequeued waiter normally takes this send immediately, but
		// it may have abandoned (deadline fired or client disconnected
		// between its Wait returning and this rendezvous). An unbounded
		// send here would wedge the pump forever with the session held
		// BUSY, so give up after a grace period and return the lease.
		select {
		case d.handoff <- leasedSession{session: session, release: release}:
		case <-time.After(handoffGrace):
			release(nil)
		case <-ctx.Done():
			release(nil)
			return
		}
	}
}

// handoffGrace bounds how long the pump waits for a dequeued waiter to
// accept its session before reclaiming the lease. Waiters block on the
// handoff within microseconds of being dequeued, so expiry means the
// waiter is gone, not slow.
const handoffGrace = time.Second

// DispatchRequest carries everything a tool call needs to run.
type DispatchRequest struct {
	Identity        *auth.Identity
	ToolName        string
	Arguments       map[string]any
	Priority        queue.Priority
	HubConfigID     string
	ClientSessionID string // X-Session-ID, issued by /mcp/initialize
	RequestID       string // X-Request-ID echoed into the RequestRecord
	QueueDeadline   time.Duration
}

// DispatchOutcome is a completed call plus the telemetry the bridge
// surfaces in bridge_info.
type DispatchOutcome struct {
	Result *tools.CallResult
	Info   BridgeInfo
}

// callTimings accumulates the measurements one dispatched call leaves
// behind, shared between the execution path and the record/telemetry
// assembly.
type callTimings struct {
	startedAt    time.Time
	queueWait    time.Duration
	exec         time.Duration
	sessionID    string
	breakerState string
	executed     bool
}

// Dispatch authorizes, admits, and executes one tool call, routing
// read-only cacheable calls through the fingerprint cache and
// everything else through the priority queue, the session pool, and
// the hub's circuit breaker.
func (d *Dispatcher) Dispatch(ctx context.Context, req *DispatchRequest) (*DispatchOutcome, error) {
	def, ok := d.registry.Get(req.ToolName)
	if !ok {
		return nil, tools.NewToolError(tools.ErrNotFound, fmt.Sprintf("unknown tool %q", req.ToolName))
	}
	if err := d.authz.Authorize(ctx, req.Identity, req.ToolName, def.Class); err != nil {
		return nil, tools.NewToolError(tools.ErrForbidden, err.Error())
	}

	cfg, token, err := d.hubconfigs.Resolve(ctx, req.Identity.UserID, req.HubConfigID)
	if err != nil {
		if errors.Is(err, hubconfig.ErrNoUsableDefault) {
			return nil, tools.NewToolError(tools.ErrConflict, "multiple hub configs with no default; mark one via POST /hub-configs/{id}/default")
		}
		return nil, tools.NewToolError(tools.ErrNotFound, "no usable hub config: "+err.Error())
	}

	deadline := d.clampDeadline(req.QueueDeadline)
	enqueuedAt := time.Now()
	t := &callTimings{}

	result, callErr := d.execute(ctx, req, def, cfg, token, deadline, t)

	info := BridgeInfo{
		SessionID:       t.sessionID,
		Priority:        req.Priority.String(),
		QueueWaitMs:     int(t.queueWait.Milliseconds()),
		ExecutionTimeMs: int(t.exec.Milliseconds()),
		Cached:          callErr == nil && def.Cacheable() && !t.executed,
		BreakerState:    t.breakerState,
	}
	d.record(req, enqueuedAt, t, info, callErr)

	if callErr != nil {
		return nil, callErr
	}
	if def.Class == auth.Mutating && d.prefixIdx != nil && d.cache != nil {
		d.cache.InvalidatePrefix(d.prefixIdx, toolInvalidationPrefix(req.ToolName))
	}
	return &DispatchOutcome{Result: result, Info: info}, nil
}

// clampDeadline applies the default when the caller sent nothing and
// the configured ceiling otherwise; a request for exactly the ceiling
// is honoured, anything above it is clamped down.
func (d *Dispatcher) clampDeadline(requested time.Duration) time.Duration {
	if requested <= 0 {
		return d.cfg.DefaultDeadline
	}
	if requested > d.cfg.MaxDeadline {
		return d.cfg.MaxDeadline
	}
	return requested
}

func (d *Dispatcher) execute(ctx context.Context, req *DispatchRequest, def tools.Definition, cfg *store.HubConfig, token string, deadline time.Duration, t *callTimings) (*tools.CallResult, error) {
	if !def.Cacheable() {
		return d.runThroughQueueAndBreaker(ctx, req, def, cfg.ID, cfg.URL, token, deadline, t)
	}

	key, err := cache.Fingerprint(req.Identity.UserID, req.ToolName, req.Arguments)
	if err != nil {
		return nil, tools.NewToolError(tools.ErrInternalError, "fingerprint: "+err.Error())
	}
	ttl := time.Duration(def.CacheTTLSeconds) * time.Second
	value, err := d.cache.GetOrFill(ctx, key, ttl, func(ctx context.Context) (any, error) {
		return d.runThroughQueueAndBreaker(ctx, req, def, cfg.ID, cfg.URL, token, deadline, t)
	})
	if err != nil {
		return nil, err
	}
	result, ok := value.(*tools.CallResult)
	if !ok {
		return nil, tools.NewToolError(tools.ErrInternalError, "unexpected cached value type")
	}
	if d.prefixIdx != nil {
		d.prefixIdx.Track(req.ToolName, key)
	}
	return result, nil
}

// toolInvalidationPrefix maps a mutating tool name to the read-only
// tool name prefix whose cached results it may have invalidated. The
// mapping is conservative: call_service invalidates every get_* tool,
// since any of them may reflect the state it just changed.
func toolInvalidationPrefix(toolName string) string {
	switch toolName {
	case "call_service":
		return "get_"
	default:
		return toolName
	}
}

func (d *Dispatcher) runThroughQueueAndBreaker(ctx context.Context, req *DispatchRequest, def tools.Definition, hubConfigID, hubURL, hubToken string, deadline time.Duration, t *callTimings) (*tools.CallResult, error) {
	qctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	waitStart := time.Now()
	handle, err := d.q.Enqueue(req.Priority)
	if err != nil {
		return nil, tools.NewToolError(tools.ErrQueueFull, "request queue is at capacity")
	}
	if err := handle.Wait(qctx); err != nil {
		t.queueWait = time.Since(waitStart)
		if qctx.Err() == context.DeadlineExceeded {
			return nil, tools.NewToolError(tools.ErrTimeout, "timed out waiting for a free session")
		}
		return nil, tools.NewToolError(tools.ErrCancelled, "request cancelled while queued")
	}

	// Wait on qctx, not the bare request context: if the pump dropped
	// this waiter's handoff (see handoffGrace), a later send may still
	// arrive for another dequeued waiter and be taken here instead —
	// sessions are interchangeable — but a stranded waiter must resolve
	// at its own deadline rather than hang until client disconnect.
	var leased leasedSession
	select {
	case leased = <-d.handoff:
	case <-qctx.Done():
		t.queueWait = time.Since(waitStart)
		if qctx.Err() == context.DeadlineExceeded {
			return nil, tools.NewToolError(tools.ErrTimeout, "timed out waiting for a free session")
		}
		return nil, tools.NewToolError(tools.ErrCancelled, "request cancelled waiting for session handoff")
	}
	t.queueWait = time.Since(waitStart)
	t.startedAt = time.Now()
	t.sessionID = leased.session.ID
	t.executed = true
	d.metrics.Record("queue", t.queueWait, false)

	idempotent := def.Class == auth.ReadOnly
	br := d.breakers.Get(hubConfigID)

	var result *tools.CallResult
	execStart := time.Now()
	callErr := br.Do(ctx, idempotent, deadline, func(ctx context.Context) error {
		toolCtx := &tools.Context{
			Context:    ctx,
			Identity:   req.Identity,
			HubURL:     hubURL,
			HubToken:   hubToken,
			HubTimeout: d.cfg.HubCallTimeout,
		}
		r, err := d.registry.Call(req.ToolName, &tools.CallRequest{Context: toolCtx, Arguments: req.Arguments})
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	t.exec = time.Since(execStart)
	t.breakerState = br.State().String()
	leased.release(callErr)
	d.metrics.Record("hub", t.exec, callErr != nil)

	if callErr != nil {
		if callErr == breaker.ErrOpen {
			return nil, tools.NewToolError(tools.ErrUpstreamUnavailable, "circuit open for this hub").
				WithData(map[string]any{"retry_after_ms": br.RetryAfter().Milliseconds()})
		}
		if toolErr, ok := callErr.(*tools.ToolError); ok {
			return nil, toolErr
		}
		log.Warn().Err(callErr).Str("tool", req.ToolName).Msg("upstream call failed")
		return nil, tools.NewToolError(tools.ErrUpstreamError, callErr.Error())
	}
	return result, nil
}

// record appends the call's RequestRecord (and, on failure, an
// ErrorRecord). Calls rejected before admission — unknown tool,
// authorization denial, missing hub config, full queue — leave no
// record; everything the queue accepted does, including cache hits
// (with exec_ms=0).
func (d *Dispatcher) record(req *DispatchRequest, enqueuedAt time.Time, t *callTimings, info BridgeInfo, callErr error) {
	status := store.RequestStatusOK
	errorCode := ""
	if callErr != nil {
		toolErr, ok := callErr.(*tools.ToolError)
		if !ok {
			toolErr = tools.NewToolError(tools.ErrInternalError, callErr.Error())
		}
		if toolErr.Code == tools.ErrQueueFull {
			return
		}
		errorCode = string(toolErr.Code)
		switch toolErr.Code {
		case tools.ErrTimeout:
			status = store.RequestStatusTimeout
		case tools.ErrCancelled:
			status = store.RequestStatusCancelled
		default:
			status = store.RequestStatusErr
		}
	}

	rec := &store.RequestRecord{
		RequestRef: req.RequestID,
		SessionID:  req.ClientSessionID,
		UserID:     req.Identity.UserID,
		ToolName:   req.ToolName,
		Priority:   req.Priority.String(),
		EnqueuedAt: enqueuedAt,
		Status:     status,
		ErrorCode:  errorCode,
	}
	finished := time.Now()
	rec.FinishedAt = &finished
	if t.executed {
		started := t.startedAt
		rec.StartedAt = &started
	} else {
		// Cache hit or single-flight follower: served without leasing
		// a session, so the call "started" the moment it finished.
		rec.StartedAt = &finished
	}
	queueWaitMs := int(t.queueWait.Milliseconds())
	execMs := info.ExecutionTimeMs
	rec.QueueWaitMs = &queueWaitMs
	rec.ExecMs = &execMs

	// The request's own context may already be past its deadline when
	// a timed-out call is being recorded; persistence gets its own
	// short budget so the record still lands.
	recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.st.AppendRequest(recordCtx, rec); err != nil {
		log.Error().Err(err).Str("tool", req.ToolName).Msg("failed to append request record")
		return
	}
	if status != store.RequestStatusOK {
		if err := d.st.AppendError(recordCtx, &rec.ID, errorCode, callErr.Error(), ""); err != nil {
			log.Error().Err(err).Str("tool", req.ToolName).Msg("failed to append error record")
		}
	}
}
