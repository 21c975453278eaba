package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFingerprintStableAcrossKeyOrder(t *testing.T) {
	a, err := Fingerprint(1, "get_entities", map[string]any{"domain": "light", "area": "kitchen"})
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	b, err := Fingerprint(1, "get_entities", map[string]any{"area": "kitchen", "domain": "light"})
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	if a != b {
		t.Errorf("fingerprints differ across key order: %s vs %s", a, b)
	}
}

func TestFingerprintDiffersByUser(t *testing.T) {
	a, _ := Fingerprint(1, "get_entities", map[string]any{"domain": "light"})
	b, _ := Fingerprint(2, "get_entities", map[string]any{"domain": "light"})
	if a == b {
		t.Errorf("expected different fingerprints for different users")
	}
}

func TestGetOrFillCoalescesConcurrentMisses(t *testing.T) {
	c, err := New(16)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var calls int32
	fill := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return "value", nil
	}

	var wg sync.WaitGroup
	results := make([]any, 8)
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrFill(context.Background(), "key", time.Minute, fill)
			if err != nil {
				t.Errorf("GetOrFill() error = %v", err)
			}
			results[i] = v
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("fill called %d times, want 1", got)
	}
	for _, v := range results {
		if v != "value" {
			t.Errorf("result = %v, want value", v)
		}
	}
}

func TestCacheExpiresEntriesPastTTL(t *testing.T) {
	c, _ := New(16)
	c.Set("key", "value", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("key"); ok {
		t.Errorf("expected expired entry to be evicted")
	}
}

func TestPrefixIndexInvalidation(t *testing.T) {
	c, _ := New(16)
	idx := NewPrefixIndex()

	key, _ := Fingerprint(1, "get_entities", map[string]any{"domain": "light"})
	c.Set(key, "entities", time.Minute)
	idx.Track("get_entities", key)

	c.InvalidatePrefix(idx, "get_entities")
	if _, ok := c.Get(key); ok {
		t.Errorf("expected key to be invalidated by prefix match")
	}
}
