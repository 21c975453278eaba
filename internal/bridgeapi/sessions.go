package bridgeapi

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// clientSession is one initialized MCP handshake: a logical context a
// remote client threads through tools/list and tools/call via the
// X-Session-ID header. It is bound to the authenticated user and lives
// in memory only; the durable login session behind the bearer token is
// a separate store.Session.
type clientSession struct {
	UserID    int64
	CreatedAt time.Time
	LastUsed  time.Time
}

// clientSessionRegistry tracks live client sessions, expiring those
// idle past the ttl.
type clientSessionRegistry struct {
	ttl time.Duration

	mu       sync.Mutex
	sessions map[string]*clientSession
}

func newClientSessionRegistry(ttl time.Duration) *clientSessionRegistry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &clientSessionRegistry{ttl: ttl, sessions: make(map[string]*clientSession)}
}

// Allocate creates a new session handle for userID and returns its id.
func (r *clientSessionRegistry) Allocate(userID int64) string {
	id := uuid.NewString()
	now := time.Now()
	r.mu.Lock()
	r.sessions[id] = &clientSession{UserID: userID, CreatedAt: now, LastUsed: now}
	r.sweepLocked(now)
	r.mu.Unlock()
	return id
}

// Validate reports whether id names a live session owned by userID,
// refreshing its idle timer on success.
func (r *clientSessionRegistry) Validate(id string, userID int64) bool {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.UserID != userID {
		return false
	}
	if now.Sub(s.LastUsed) > r.ttl {
		delete(r.sessions, id)
		return false
	}
	s.LastUsed = now
	return true
}

// sweepLocked drops idle sessions; called opportunistically under the
// registry lock so no background goroutine is needed.
func (r *clientSessionRegistry) sweepLocked(now time.Time) {
	for id, s := range r.sessions {
		if now.Sub(s.LastUsed) > r.ttl {
			delete(r.sessions, id)
		}
	}
}
