package bridgeapi

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hubbridge/mcp-gateway/internal/auth"
	"github.com/hubbridge/mcp-gateway/internal/tools"
)

// tokenBucket is a per-caller token bucket: burst up to capacity, then
// a smooth refill rate, so interactive clients keep good latency while
// long-term throughput stays bounded.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(capacity int, refillRate float64) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// allow consumes one token if available; otherwise it reports how long
// until the next token arrives, for the Retry-After hint.
func (tb *tokenBucket) allow() (bool, time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens--
		return true, 0
	}
	wait := time.Duration((1.0 - tb.tokens) / tb.refillRate * float64(time.Second))
	return false, wait
}

// rateLimiter keeps one bucket per authenticated user, dropping
// buckets that have refilled completely and sat untouched.
type rateLimiter struct {
	perMinute int
	burst     int

	mu      sync.Mutex
	buckets map[int64]*tokenBucket
	lastUse map[int64]time.Time
}

func newRateLimiter(perMinute, burst int) *rateLimiter {
	if burst <= 0 {
		burst = perMinute
	}
	return &rateLimiter{
		perMinute: perMinute,
		burst:     burst,
		buckets:   make(map[int64]*tokenBucket),
		lastUse:   make(map[int64]time.Time),
	}
}

func (rl *rateLimiter) bucketFor(userID int64) *tokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[userID]
	if !ok {
		b = newTokenBucket(rl.burst, float64(rl.perMinute)/60.0)
		rl.buckets[userID] = b
	}
	rl.lastUse[userID] = time.Now()
	if len(rl.buckets) > 1024 {
		rl.evictIdleLocked()
	}
	return b
}

func (rl *rateLimiter) evictIdleLocked() {
	cutoff := time.Now().Add(-10 * time.Minute)
	for id, last := range rl.lastUse {
		if last.Before(cutoff) {
			delete(rl.buckets, id)
			delete(rl.lastUse, id)
		}
	}
}

// Middleware enforces the per-user limit on every authenticated
// request, answering 429 with a Retry-After header and a
// retry_after_ms hint when the bucket is dry. It must run after the
// auth middleware so the identity is already resolved.
func (rl *rateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, ok := auth.FromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		allowed, wait := rl.bucketFor(ident.UserID).allow()
		if !allowed {
			retryAfterMs := wait.Milliseconds()
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":          string(tools.ErrRateLimited),
				"message":        fmt.Sprintf("rate limit of %d requests/minute exceeded", rl.perMinute),
				"retry_after_ms": retryAfterMs,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
