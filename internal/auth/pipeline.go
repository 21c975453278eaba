// Package auth implements the gateway's identity resolution and
// authorization pipeline: Bearer-token identification (gateway-issued
// JWT, optional upstream-IdP JWT, or opaque API token), account
// lockout, and per-tool permission checks.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/hubbridge/mcp-gateway/internal/crypto"
	"github.com/hubbridge/mcp-gateway/internal/store"
)

// ErrUnauthorized covers any failure to resolve a caller's identity:
// missing/malformed header, invalid signature, unknown token.
var ErrUnauthorized = errors.New("auth: unauthorized")

// ErrLocked is returned when the resolved identity's account is
// currently locked out.
var ErrLocked = errors.New("auth: account locked")

// Identity is the resolved caller of an authenticated request.
type Identity struct {
	UserID  int64
	IsAdmin bool
	Method  string // "jwt" | "upstream_jwt" | "api_token"
	TokenID string // session id or api token id, for audit/revocation
}

// LockoutPolicy controls the doubling-backoff lockout applied on
// repeated login failures.
type LockoutPolicy struct {
	Threshold    int           // consecutive failures before locking
	BaseDuration time.Duration // lock duration after reaching Threshold
	MaxDuration  time.Duration // ceiling on the doubling backoff
}

// DefaultLockoutPolicy matches the gateway's default tuning.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: 5, BaseDuration: time.Minute, MaxDuration: 24 * time.Hour}
}

// LockDuration computes the doubling-backoff duration for the Nth
// lockout (n=1 is the first time the threshold is crossed), capped at
// MaxDuration.
func (p LockoutPolicy) LockDuration(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.BaseDuration
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.MaxDuration {
			return p.MaxDuration
		}
	}
	return d
}

// Pipeline resolves identities and checks authorization, backed by
// the store and the gateway's own JWT signer. The optional upstream
// JWKS cache lets a fronting IdP's tokens authenticate directly.
type Pipeline struct {
	store   *store.Store
	signer  *crypto.JWTSigner
	lockout LockoutPolicy

	upstream *JWKSConfig
	jwks     *jwksCache
}

// New builds a Pipeline. upstream may be nil to disable the
// optional upstream-IdP JWT path.
func New(st *store.Store, signer *crypto.JWTSigner, lockout LockoutPolicy, upstream *JWKSConfig) *Pipeline {
	p := &Pipeline{store: st, signer: signer, lockout: lockout, upstream: upstream}
	if upstream != nil && upstream.JWKSURL != "" {
		p.jwks = newJWKSCache(upstream.JWKSURL)
	}
	return p
}

// Authenticate resolves the caller's Identity from an Authorization
// header value, in the documented order: gateway JWT first, then (if
// configured) upstream-IdP JWT, then opaque API token.
func (p *Pipeline) Authenticate(ctx context.Context, authHeader string) (*Identity, error) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, ErrUnauthorized
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return nil, ErrUnauthorized
	}

	if claims, err := p.signer.VerifyAccessToken(token); err == nil {
		return p.resolveFromGatewayJWT(ctx, claims)
	}

	if p.jwks != nil {
		if ident, err := p.tryUpstreamJWT(ctx, token); err == nil {
			return ident, nil
		}
	}

	return p.resolveFromApiToken(ctx, token)
}

func (p *Pipeline) resolveFromGatewayJWT(ctx context.Context, claims *crypto.AccessClaims) (*Identity, error) {
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, ErrUnauthorized
	}
	sess, err := p.store.FindSessionByAccessJTI(ctx, claims.ID)
	if err != nil || sess.Revoked {
		// A validly-signed, unexpired JWT whose backing session was
		// revoked by /auth/logout must stop authenticating immediately,
		// not merely at its own exp claim.
		return nil, ErrUnauthorized
	}
	user, err := p.store.GetUser(ctx, userID)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if err := p.checkLock(user); err != nil {
		return nil, err
	}
	return &Identity{UserID: user.ID, IsAdmin: user.IsAdmin, Method: "jwt", TokenID: claims.ID}, nil
}

func (p *Pipeline) tryUpstreamJWT(ctx context.Context, token string) (*Identity, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		rsaMethod, ok := t.Method.(*jwt.SigningMethodRSA)
		if !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		_ = rsaMethod
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		return p.jwks.publicKey(kid)
	})
	if err != nil || !parsed.Valid {
		return nil, ErrUnauthorized
	}

	if p.upstream.Issuer != "" {
		if iss, _ := claims["iss"].(string); iss != p.upstream.Issuer {
			return nil, ErrUnauthorized
		}
	}
	if err := p.checkUpstreamAudience(claims); err != nil {
		return nil, err
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrUnauthorized
	}

	user, err := p.store.FindUserByUsername(ctx, sub)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if err := p.checkLock(user); err != nil {
		return nil, err
	}
	return &Identity{UserID: user.ID, IsAdmin: user.IsAdmin, Method: "upstream_jwt"}, nil
}

func (p *Pipeline) checkUpstreamAudience(claims jwt.MapClaims) error {
	accepted := append([]string{}, p.upstream.AcceptedAudiences...)
	if p.upstream.Audience != "" {
		accepted = append(accepted, p.upstream.Audience)
	}
	if len(accepted) == 0 {
		return nil // DCR-style deployment with an unpredictable per-client audience
	}
	switch aud := claims["aud"].(type) {
	case string:
		if contains(accepted, aud) {
			return nil
		}
	case []interface{}:
		for _, a := range aud {
			if s, ok := a.(string); ok && contains(accepted, s) {
				return nil
			}
		}
	}
	return ErrUnauthorized
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func (p *Pipeline) resolveFromApiToken(ctx context.Context, plaintext string) (*Identity, error) {
	hash := crypto.HashApiToken(plaintext)
	tok, err := p.store.FindApiTokenByHash(ctx, hash)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if tok.ExpiresAt != nil && time.Now().After(*tok.ExpiresAt) {
		return nil, ErrUnauthorized
	}
	user, err := p.store.GetUser(ctx, tok.UserID)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if err := p.checkLock(user); err != nil {
		return nil, err
	}
	_ = p.store.TouchApiToken(ctx, tok.ID)
	return &Identity{UserID: user.ID, IsAdmin: user.IsAdmin, Method: "api_token", TokenID: tok.ID}, nil
}

func (p *Pipeline) checkLock(user *store.User) error {
	if user.LockedUntil != nil && user.LockedUntil.After(time.Now()) {
		return ErrLocked
	}
	return nil
}

// RecordLoginFailure applies the doubling-backoff lockout policy on a
// failed password login attempt.
func (p *Pipeline) RecordLoginFailure(ctx context.Context, userID int64) error {
	user, err := p.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	// Every failure at or past the threshold locks the account again,
	// so the Nth lockout falls on failure number Threshold+N-1.
	lockoutNumber := user.FailedLogins + 1 - p.lockout.Threshold + 1
	duration := p.lockout.LockDuration(lockoutNumber)
	_, err = p.store.RecordLoginFailure(ctx, userID, p.lockout.Threshold, duration)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("failed to record login failure")
	}
	return err
}

// RecordLoginSuccess clears any failure counter and lock on the user.
func (p *Pipeline) RecordLoginSuccess(ctx context.Context, userID int64) error {
	return p.store.ResetLoginFailures(ctx, userID)
}
