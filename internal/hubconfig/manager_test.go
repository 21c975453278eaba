package hubconfig

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/hubbridge/mcp-gateway/internal/crypto"
	"github.com/hubbridge/mcp-gateway/internal/store"
)

func newTestManager(t *testing.T) (*Manager, int64) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cipher, err := crypto.NewHubTokenCipher("test-system-key-material", "test-salt")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	user, err := st.CreateUser(ctx, "alice", "alice@example.com", "hash", false, false)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return New(st, cipher, true, 0), user.ID
}

func TestCreateRejectsNonAbsoluteURL(t *testing.T) {
	mgr, uid := newTestManager(t)
	if _, err := mgr.Create(context.Background(), uid, "home", "not-a-url", "tok", false); err != ErrInvalidURL {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
}

func TestCreateRejectsLoopbackWhenDisallowed(t *testing.T) {
	mgr, uid := newTestManager(t)
	mgr.allowLoopback = false
	if _, err := mgr.Create(context.Background(), uid, "home", "http://127.0.0.1:8123", "tok", false); err != ErrInvalidURL {
		t.Fatalf("expected ErrInvalidURL for loopback, got %v", err)
	}
}

func TestCreateEncryptsTokenAtRest(t *testing.T) {
	mgr, uid := newTestManager(t)
	sum, err := mgr.Create(context.Background(), uid, "home", "http://hub.local:8123", "supersecret", true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	raw, err := mgr.store.GetHubConfig(context.Background(), uid, sum.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if raw.TokenCipher == "supersecret" {
		t.Fatal("token was stored in plaintext")
	}
}

func TestOnlyOneDefaultPerUser(t *testing.T) {
	mgr, uid := newTestManager(t)
	ctx := context.Background()
	a, err := mgr.Create(ctx, uid, "a", "http://a.local", "tok-a", true)
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := mgr.Create(ctx, uid, "b", "http://b.local", "tok-b", true)
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	list, err := mgr.List(ctx, uid)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var defaults int
	for _, c := range list {
		if c.IsDefault {
			defaults++
		}
	}
	if defaults != 1 {
		t.Fatalf("expected exactly 1 default, got %d", defaults)
	}
	if err := mgr.SetDefault(ctx, uid, a.ID); err != nil {
		t.Fatalf("set default: %v", err)
	}
	got, err := mgr.Get(ctx, uid, a.ID)
	if err != nil {
		t.Fatalf("get a: %v", err)
	}
	if !got.IsDefault {
		t.Fatal("expected a to be default after SetDefault")
	}
	_ = b
}

func TestResolveFallsBackToMostRecentlyHealthy(t *testing.T) {
	mgr, uid := newTestManager(t)
	ctx := context.Background()
	cfg, err := mgr.Create(ctx, uid, "home", "http://hub.local", "tok", false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mgr.store.RecordProbe(ctx, cfg.ID, "ok", 12); err != nil {
		t.Fatalf("record probe: %v", err)
	}
	resolved, token, err := mgr.Resolve(ctx, uid, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ID != cfg.ID {
		t.Fatalf("expected to resolve %s, got %s", cfg.ID, resolved.ID)
	}
	if token != "tok" {
		t.Fatalf("expected decrypted token 'tok', got %q", token)
	}
}

func TestResolveReturnsNoUsableDefaultWithoutHealthyFallback(t *testing.T) {
	mgr, uid := newTestManager(t)
	ctx := context.Background()
	if _, err := mgr.Create(ctx, uid, "home", "http://hub.local", "tok-a", false); err != nil {
		t.Fatalf("create home: %v", err)
	}
	if _, err := mgr.Create(ctx, uid, "cabin", "http://cabin.local", "tok-b", false); err != nil {
		t.Fatalf("create cabin: %v", err)
	}

	// Neither config is default and neither has ever probed healthy,
	// so there is nothing to pick on the caller's behalf.
	if _, _, err := mgr.Resolve(ctx, uid, ""); err != ErrNoUsableDefault {
		t.Fatalf("Resolve() error = %v, want ErrNoUsableDefault", err)
	}
}

func TestResolveNotFoundWhenUserHasNoConfigs(t *testing.T) {
	mgr, uid := newTestManager(t)
	if _, _, err := mgr.Resolve(context.Background(), uid, ""); err != store.ErrNotFound {
		t.Fatalf("Resolve() error = %v, want store.ErrNotFound", err)
	}
}

func TestProbeRecordsOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"version": "1.0"}`))
	}))
	defer srv.Close()

	mgr, uid := newTestManager(t)
	ctx := context.Background()
	cfg, err := mgr.Create(ctx, uid, "home", srv.URL, "tok", true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	result, err := mgr.Probe(ctx, uid, cfg.ID)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if result.Status != "ok" {
		t.Fatalf("expected ok, got %q", result.Status)
	}
	got, err := mgr.Get(ctx, uid, cfg.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastProbeStatus == nil || *got.LastProbeStatus != "ok" {
		t.Fatal("expected last probe status to be recorded as ok")
	}
}
