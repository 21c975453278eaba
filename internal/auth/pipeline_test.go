package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hubbridge/mcp-gateway/internal/crypto"
	"github.com/hubbridge/mcp-gateway/internal/store"
)

func base64URLBigInt(n *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(n.Bytes())
}

func base64URLInt(e int) string {
	b := big.NewInt(int64(e)).Bytes()
	return base64.RawURLEncoding.EncodeToString(b)
}

func newTestPipeline(t *testing.T) (*Pipeline, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	signer := crypto.NewJWTSigner("test-hmac-secret", "mcp-gateway")
	p := New(st, signer, LockoutPolicy{Threshold: 3, BaseDuration: time.Minute, MaxDuration: time.Hour}, nil)
	return p, st
}

func TestAuthenticateWithGatewayJWT(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()

	user, err := st.CreateUser(ctx, "alice", "alice@example.com", "hash", false, false)
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	signer := crypto.NewJWTSigner("test-hmac-secret", "mcp-gateway")
	token, err := signer.IssueAccessToken(user.ID, "jti-1", false, time.Hour)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	if err := st.InsertSession(ctx, &store.Session{
		ID: "sess-1", UserID: user.ID, AccessTokenJTI: "jti-1",
		RefreshTokenHash: "rh-1", IssuedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour), RefreshExpiresAt: time.Now().Add(2 * time.Hour),
	}); err != nil {
		t.Fatalf("InsertSession() error = %v", err)
	}

	ident, err := p.Authenticate(ctx, "Bearer "+token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if ident.UserID != user.ID || ident.Method != "jwt" {
		t.Errorf("ident = %+v, want UserID=%d Method=jwt", ident, user.ID)
	}
}

func TestAuthenticateRejectsLockedUser(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()

	user, _ := st.CreateUser(ctx, "bob", "bob@example.com", "hash", false, false)
	locked := time.Now().Add(time.Hour)
	if err := st.SetUserLock(ctx, user.ID, &locked); err != nil {
		t.Fatalf("SetUserLock() error = %v", err)
	}

	signer := crypto.NewJWTSigner("test-hmac-secret", "mcp-gateway")
	token, _ := signer.IssueAccessToken(user.ID, "jti-2", false, time.Hour)
	if err := st.InsertSession(ctx, &store.Session{
		ID: "sess-2", UserID: user.ID, AccessTokenJTI: "jti-2",
		RefreshTokenHash: "rh-2", IssuedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour), RefreshExpiresAt: time.Now().Add(2 * time.Hour),
	}); err != nil {
		t.Fatalf("InsertSession() error = %v", err)
	}

	if _, err := p.Authenticate(ctx, "Bearer "+token); err != ErrLocked {
		t.Errorf("Authenticate() error = %v, want ErrLocked", err)
	}
}

func TestAuthenticateWithApiToken(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()

	user, _ := st.CreateUser(ctx, "carol", "carol@example.com", "hash", false, false)
	plaintext, hash, prefix, err := crypto.GenerateApiToken()
	if err != nil {
		t.Fatalf("GenerateApiToken() error = %v", err)
	}
	if err := st.CreateApiToken(ctx, &store.ApiToken{
		ID: "tok-1", UserID: user.ID, Name: "ci", TokenHash: hash, Prefix: prefix, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateApiToken() error = %v", err)
	}

	ident, err := p.Authenticate(ctx, "Bearer "+plaintext)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if ident.UserID != user.ID || ident.Method != "api_token" {
		t.Errorf("ident = %+v, want UserID=%d Method=api_token", ident, user.ID)
	}
}

func TestAuthenticateRejectsGarbageToken(t *testing.T) {
	p, _ := newTestPipeline(t)
	if _, err := p.Authenticate(context.Background(), "Bearer not-a-real-token"); err != ErrUnauthorized {
		t.Errorf("Authenticate() error = %v, want ErrUnauthorized", err)
	}
}

func TestAuthenticateRejectsMissingBearerPrefix(t *testing.T) {
	p, _ := newTestPipeline(t)
	if _, err := p.Authenticate(context.Background(), "token-without-bearer-prefix"); err != ErrUnauthorized {
		t.Errorf("Authenticate() error = %v, want ErrUnauthorized", err)
	}
}

func TestLockoutPolicyDoublesWithCeiling(t *testing.T) {
	policy := LockoutPolicy{Threshold: 5, BaseDuration: time.Minute, MaxDuration: 10 * time.Minute}
	if got := policy.LockDuration(1); got != time.Minute {
		t.Errorf("LockDuration(1) = %v, want 1m", got)
	}
	if got := policy.LockDuration(2); got != 2*time.Minute {
		t.Errorf("LockDuration(2) = %v, want 2m", got)
	}
	if got := policy.LockDuration(10); got != 10*time.Minute {
		t.Errorf("LockDuration(10) = %v, want capped at 10m", got)
	}
}

func TestAuthorizeFallsBackToDefaultAndAudits(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()
	user, _ := st.CreateUser(ctx, "dana", "dana@example.com", "hash", false, false)

	if err := st.SetDefaultToolPermission(ctx, "call_service", store.Permission{CanWrite: true, Enabled: true}); err != nil {
		t.Fatalf("SetDefaultToolPermission() error = %v", err)
	}
	ident := &Identity{UserID: user.ID}

	if err := p.Authorize(ctx, ident, "call_service", Mutating); err != nil {
		t.Errorf("Authorize() error = %v, want nil", err)
	}
	if err := p.Authorize(ctx, ident, "call_service", Meta); err != ErrForbidden {
		t.Errorf("Authorize() for unheld bit error = %v, want ErrForbidden", err)
	}

	n, err := st.CountLogsByCategoryLevel(ctx, "auth", "WARN")
	if err != nil {
		t.Fatalf("CountLogsByCategoryLevel() error = %v", err)
	}
	if n != 1 {
		t.Errorf("expected exactly one audited denial, got %d", n)
	}
}

// mockJWKSServer mirrors the upstream IdP's JWKS endpoint for testing
// the optional RS256 verification path.
type mockJWKSServer struct {
	*httptest.Server
	privateKey *rsa.PrivateKey
	kid        string
}

func newMockJWKSServer(t *testing.T) *mockJWKSServer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey() error = %v", err)
	}
	m := &mockJWKSServer{privateKey: key, kid: "test-key-id"}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := base64URLBigInt(key.PublicKey.N)
		e := base64URLInt(key.PublicKey.E)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"keys":[{"kid":"` + m.kid + `","kty":"RSA","use":"sig","n":"` + n + `","e":"` + e + `"}]}`))
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *mockJWKSServer) issueToken(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = m.kid
	return token.SignedString(m.privateKey)
}

func TestAuthenticateWithUpstreamJWT(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()
	user, _ := st.CreateUser(ctx, "erin", "erin@example.com", "hash", false, false)

	server := newMockJWKSServer(t)
	p.upstream = &JWKSConfig{Issuer: "https://idp.example.com", JWKSURL: server.URL}
	p.jwks = newJWKSCache(server.URL)

	token, err := server.issueToken(jwt.MapClaims{
		"sub": "erin",
		"iss": "https://idp.example.com",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	})
	if err != nil {
		t.Fatalf("issueToken() error = %v", err)
	}

	ident, err := p.Authenticate(ctx, "Bearer "+token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if ident.UserID != user.ID || ident.Method != "upstream_jwt" {
		t.Errorf("ident = %+v, want UserID=%d Method=upstream_jwt", ident, user.ID)
	}
}
