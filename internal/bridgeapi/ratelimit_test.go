package bridgeapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hubbridge/mcp-gateway/internal/auth"
)

func TestTokenBucketAllowsBurstThenLimits(t *testing.T) {
	tb := newTokenBucket(3, 1.0)

	for i := 0; i < 3; i++ {
		if ok, _ := tb.allow(); !ok {
			t.Fatalf("expected burst request %d to be allowed", i+1)
		}
	}
	ok, wait := tb.allow()
	if ok {
		t.Fatal("expected the bucket to be empty after the burst")
	}
	if wait <= 0 {
		t.Fatalf("expected a positive retry hint, got %v", wait)
	}
}

func TestRateLimiterMiddlewareReturns429WithRetryAfter(t *testing.T) {
	rl := newRateLimiter(60, 2)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	ident := &auth.Identity{UserID: 42}
	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/mcp/status", nil)
		req = req.WithContext(auth.NewContext(req.Context(), ident))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
		if rec.Code == http.StatusTooManyRequests && rec.Header().Get("Retry-After") == "" {
			t.Fatal("expected a Retry-After header on 429")
		}
	}
	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Fatalf("expected the burst to pass, got %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Fatalf("expected the third request to be limited, got %v", statuses)
	}
}

func TestRateLimiterIsPerUser(t *testing.T) {
	rl := newRateLimiter(60, 1)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(userID int64) int {
		req := httptest.NewRequest(http.MethodGet, "/mcp/status", nil)
		req = req.WithContext(auth.NewContext(req.Context(), &auth.Identity{UserID: userID}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if send(1) != http.StatusOK {
		t.Fatal("first user's first request should pass")
	}
	if send(1) != http.StatusTooManyRequests {
		t.Fatal("first user's second request should be limited")
	}
	if send(2) != http.StatusOK {
		t.Fatal("a different user must not share the first user's bucket")
	}
}
