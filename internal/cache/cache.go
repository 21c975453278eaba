// Package cache implements the fingerprint cache for read-only tool
// call results: a bounded LRU keyed by a SHA-256 fingerprint of
// (user, tool, normalized arguments), entries expiring on their own
// per-call TTL, concurrent misses on the same fingerprint coalesced
// into a single upstream call.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Entry is a cached tool call result plus its own expiry.
type Entry struct {
	Value     any
	ExpiresAt time.Time
}

// Cache is a TTL-aware LRU with single-flight coalescing of
// concurrent fills for the same key and conservative prefix-based
// invalidation for mutating tool calls.
type Cache struct {
	lru *lru.Cache[string, Entry]

	mu       sync.Mutex
	inFlight map[string]*call
}

type call struct {
	done  chan struct{}
	value any
	err   error
}

// New builds a Cache holding at most capacity entries.
func New(capacity int) (*Cache, error) {
	l, err := lru.New[string, Entry](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l, inFlight: make(map[string]*call)}, nil
}

// Fingerprint computes the cache key for a (user, tool, arguments)
// triple. Arguments are marshaled through their canonical JSON
// encoding (Go's encoding/json sorts map keys) so semantically
// identical argument sets produce the same fingerprint.
func Fingerprint(userID int64, toolName string, arguments any) (string, error) {
	normalized, err := normalize(arguments)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write([]byte(normalized))
	h.Write([]byte{0})
	var userBuf [8]byte
	for i := 0; i < 8; i++ {
		userBuf[i] = byte(userID >> (8 * (7 - i)))
	}
	h.Write(userBuf[:])
	return hex.EncodeToString(h.Sum(nil)), nil
}

func normalize(arguments any) ([]byte, error) {
	raw, err := json.Marshal(arguments)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return canonicalJSON(generic)
}

func canonicalJSON(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []byte("{")
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, _ := json.Marshal(k)
			out = append(out, kb...)
			out = append(out, ':')
			vb, err := canonicalJSON(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, vb...)
		}
		return append(out, '}'), nil
	case []any:
		out := []byte("[")
		for i, item := range val {
			if i > 0 {
				out = append(out, ',')
			}
			ib, err := canonicalJSON(item)
			if err != nil {
				return nil, err
			}
			out = append(out, ib...)
		}
		return append(out, ']'), nil
	default:
		return json.Marshal(val)
	}
}

// Get returns the cached value for key if present and unexpired.
func (c *Cache) Get(key string) (any, bool) {
	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.ExpiresAt) {
		c.lru.Remove(key)
		return nil, false
	}
	return entry.Value, true
}

// Set inserts value under key with the given TTL.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.lru.Add(key, Entry{Value: value, ExpiresAt: time.Now().Add(ttl)})
}

// GetOrFill returns the cached value for key, or calls fill exactly
// once across any number of concurrent callers racing on the same
// key, caching and returning its result.
func (c *Cache) GetOrFill(ctx context.Context, key string, ttl time.Duration, fill func(context.Context) (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	c.mu.Lock()
	if existing, ok := c.inFlight[key]; ok {
		c.mu.Unlock()
		select {
		case <-existing.done:
			return existing.value, existing.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	cl := &call{done: make(chan struct{})}
	c.inFlight[key] = cl
	c.mu.Unlock()

	value, err := fill(ctx)
	cl.value, cl.err = value, err
	close(cl.done)

	c.mu.Lock()
	delete(c.inFlight, key)
	c.mu.Unlock()

	if err == nil {
		c.Set(key, value, ttl)
	}
	return value, err
}

// InvalidatePrefix drops every cached entry whose key was computed
// from a tool name sharing the given prefix. Tool fingerprints embed
// the tool name ahead of the arguments, but the fingerprint itself is
// opaque, so invalidation here is tracked by a side index rather than
// by inspecting the hash.
func (c *Cache) InvalidatePrefix(index *PrefixIndex, prefix string) {
	for _, key := range index.keysForPrefix(prefix) {
		c.lru.Remove(key)
	}
}

// PrefixIndex tracks which cache keys were produced for which tool
// names, so mutating calls can invalidate every cached read sharing a
// declared prefix without walking the whole cache.
type PrefixIndex struct {
	mu     sync.Mutex
	byTool map[string]map[string]struct{}
}

// NewPrefixIndex builds an empty PrefixIndex.
func NewPrefixIndex() *PrefixIndex {
	return &PrefixIndex{byTool: make(map[string]map[string]struct{})}
}

// Track records that key was filled for toolName.
func (p *PrefixIndex) Track(toolName, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.byTool[toolName]
	if !ok {
		set = make(map[string]struct{})
		p.byTool[toolName] = set
	}
	set[key] = struct{}{}
}

func (p *PrefixIndex) keysForPrefix(prefix string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var keys []string
	for tool, set := range p.byTool {
		if !hasPrefix(tool, prefix) {
			continue
		}
		for k := range set {
			keys = append(keys, k)
		}
		delete(p.byTool, tool)
	}
	return keys
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
