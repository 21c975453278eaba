package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hubbridge/mcp-gateway/internal/auth"
	"github.com/hubbridge/mcp-gateway/internal/observability"
	"github.com/hubbridge/mcp-gateway/internal/store"
)

func newTestHandlers(t *testing.T) (*Handlers, *store.Store, int64) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	user, err := st.CreateUser(ctx, "alice", "alice@example.com", "hash", false, false)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return New(st, observability.NewMetrics()), st, user.ID
}

func withIdentity(r *http.Request, ident *auth.Identity) *http.Request {
	return r.WithContext(auth.NewContext(r.Context(), ident))
}

func TestRequireAdminRejectsNonAdmin(t *testing.T) {
	h, _, uid := newTestHandlers(t)
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	r := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	r = withIdentity(r, &auth.Identity{UserID: uid, IsAdmin: false})
	w := httptest.NewRecorder()
	h.RequireAdmin(next).ServeHTTP(w, r)

	if called {
		t.Fatal("handler should not run for a non-admin identity")
	}
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestRequireAdminAllowsAdmin(t *testing.T) {
	h, _, uid := newTestHandlers(t)
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	r := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	r = withIdentity(r, &auth.Identity{UserID: uid, IsAdmin: true})
	w := httptest.NewRecorder()
	h.RequireAdmin(next).ServeHTTP(w, r)

	if !called {
		t.Fatal("handler should run for an admin identity")
	}
}

func TestStatsReturnsAggregateCounts(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	r := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	w := httptest.NewRecorder()
	h.Stats(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats store.Stats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestCleanupSweepsAndCompacts(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	r := httptest.NewRequest(http.MethodPost, "/admin/cleanup", nil)
	w := httptest.NewRecorder()
	h.Cleanup(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]int64
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["logs_deleted"]; !ok {
		t.Fatal("expected logs_deleted in response")
	}
}

func TestUpdateToolPermissionPersists(t *testing.T) {
	h, st, _ := newTestHandlers(t)
	body := strings.NewReader(`{"can_read": true, "can_write": false, "can_execute": false, "enabled": true}`)
	r := httptest.NewRequest(http.MethodPut, "/admin/tool-permissions/get_entities", body)
	w := httptest.NewRecorder()
	h.UpdateToolPermission(w, r, "get_entities")

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	perms, err := st.ListDefaultToolPermissions(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	p, ok := perms["get_entities"]
	if !ok || !p.CanRead || p.CanWrite {
		t.Fatalf("expected updated permission to persist, got %+v", p)
	}
}

func TestListUsersOmitsPasswordHash(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	r := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	w := httptest.NewRecorder()
	h.ListUsers(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if strings.Contains(body, "password_hash") || strings.Contains(body, "PasswordHash") {
		t.Fatal("user summary should never include the password hash")
	}
}

func TestLockThenUnlockUser(t *testing.T) {
	h, st, uid := newTestHandlers(t)
	ctx := context.Background()

	r := httptest.NewRequest(http.MethodPut, "/admin/users/1/lock", nil)
	w := httptest.NewRecorder()
	h.LockUser(w, r, uid)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	locked, err := st.GetUser(ctx, uid)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if locked.LockedUntil == nil || locked.LockedUntil.Before(time.Now().Add(24*time.Hour)) {
		t.Fatal("expected user to be locked far into the future")
	}

	r = httptest.NewRequest(http.MethodPut, "/admin/users/1/unlock", nil)
	w = httptest.NewRecorder()
	h.UnlockUser(w, r, uid)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	unlocked, err := st.GetUser(ctx, uid)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if unlocked.LockedUntil != nil {
		t.Fatal("expected user to be unlocked")
	}
}
