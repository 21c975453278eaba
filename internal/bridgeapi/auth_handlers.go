package bridgeapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hubbridge/mcp-gateway/internal/auth"
	"github.com/hubbridge/mcp-gateway/internal/crypto"
	"github.com/hubbridge/mcp-gateway/internal/store"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Login verifies a username/password pair, recording each wrong
// password against the lockout policy, and issues a fresh
// access/refresh session pair on success.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r, w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx := r.Context()
	user, err := s.store.FindUserByUsername(ctx, req.Username)
	if err != nil {
		writeError(r, w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if user.LockedUntil != nil && user.LockedUntil.After(time.Now()) {
		writeError(r, w, http.StatusLocked, "account is locked")
		return
	}
	if err := crypto.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		_ = s.authz.RecordLoginFailure(ctx, user.ID)
		writeError(r, w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := s.authz.RecordLoginSuccess(ctx, user.ID); err != nil {
		writeError(r, w, http.StatusInternalServerError, "failed to record login")
		return
	}

	resp, err := s.issueSession(ctx, user, r)
	if err != nil {
		writeError(r, w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) issueSession(ctx context.Context, user *store.User, r *http.Request) (*sessionResponse, error) {
	jti := uuid.NewString()
	accessToken, err := s.signer.IssueAccessToken(user.ID, jti, user.IsAdmin, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	refreshPlain, refreshHash, err := crypto.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &store.Session{
		ID:               uuid.NewString(),
		UserID:           user.ID,
		AccessTokenJTI:   jti,
		RefreshTokenHash: refreshHash,
		IssuedAt:         now,
		ExpiresAt:        now.Add(s.cfg.AccessTokenTTL),
		RefreshExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		UserAgent:        r.UserAgent(),
		RemoteAddr:       r.RemoteAddr,
	}
	if err := s.store.InsertSession(ctx, sess); err != nil {
		return nil, err
	}
	return &sessionResponse{AccessToken: accessToken, RefreshToken: refreshPlain, ExpiresAt: sess.ExpiresAt}, nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a valid, unexpired refresh token for a new
// access/refresh pair, atomically invalidating the old one so a
// stolen refresh token can be used at most once more than intended.
func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r, w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx := r.Context()
	hash := crypto.HashApiToken(req.RefreshToken)
	oldSess, err := s.store.FindSessionByRefreshHash(ctx, hash)
	if err != nil {
		writeError(r, w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	if oldSess.RefreshExpiresAt.Before(time.Now()) {
		writeError(r, w, http.StatusUnauthorized, "refresh token expired")
		return
	}
	user, err := s.store.GetUser(ctx, oldSess.UserID)
	if err != nil {
		writeError(r, w, http.StatusUnauthorized, "user not found")
		return
	}

	jti := uuid.NewString()
	accessToken, err := s.signer.IssueAccessToken(user.ID, jti, user.IsAdmin, s.cfg.AccessTokenTTL)
	if err != nil {
		writeError(r, w, http.StatusInternalServerError, err.Error())
		return
	}
	refreshPlain, refreshHash, err := crypto.GenerateRefreshToken()
	if err != nil {
		writeError(r, w, http.StatusInternalServerError, err.Error())
		return
	}
	now := time.Now()
	next := &store.Session{
		ID:               uuid.NewString(),
		UserID:           user.ID,
		AccessTokenJTI:   jti,
		RefreshTokenHash: refreshHash,
		IssuedAt:         now,
		ExpiresAt:        now.Add(s.cfg.AccessTokenTTL),
		RefreshExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		UserAgent:        r.UserAgent(),
		RemoteAddr:       r.RemoteAddr,
	}
	if err := s.store.ReplaceSession(ctx, oldSess.ID, next); err != nil {
		writeError(r, w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{AccessToken: accessToken, RefreshToken: refreshPlain, ExpiresAt: next.ExpiresAt})
}

// Logout revokes the session behind the presented access token.
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	ident, ok := auth.FromContext(r.Context())
	if !ok || ident.TokenID == "" {
		writeError(r, w, http.StatusBadRequest, "no active session on this token")
		return
	}
	sessions, err := s.store.ListSessionsForUser(r.Context(), ident.UserID)
	if err != nil {
		writeError(r, w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, sess := range sessions {
		if sess.AccessTokenJTI == ident.TokenID && !sess.Revoked {
			if err := s.store.RevokeSession(r.Context(), sess.ID); err != nil {
				writeError(r, w, http.StatusInternalServerError, err.Error())
				return
			}
			break
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type createApiTokenRequest struct {
	Name string `json:"name"`
}

type apiTokenResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Prefix string `json:"prefix"`
	Token  string `json:"token,omitempty"`
}

// CreateApiToken mints a new opaque API token for the caller, only
// ever returning the plaintext once in this response.
func (s *Server) CreateApiToken(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.FromContext(r.Context())
	var req createApiTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r, w, http.StatusBadRequest, "invalid request body")
		return
	}
	plaintext, hash, prefix, err := crypto.GenerateApiToken()
	if err != nil {
		writeError(r, w, http.StatusInternalServerError, err.Error())
		return
	}
	token := &store.ApiToken{
		ID:              uuid.NewString(),
		UserID:          ident.UserID,
		Name:            req.Name,
		TokenHash:       hash,
		Prefix:          prefix,
		PermissionsJSON: "{}",
		CreatedAt:       time.Now(),
	}
	if err := s.store.CreateApiToken(r.Context(), token); err != nil {
		writeError(r, w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, apiTokenResponse{ID: token.ID, Name: token.Name, Prefix: token.Prefix, Token: plaintext})
}

// ListApiTokens lists the caller's API tokens (never including the
// plaintext, which is shown only at creation time).
func (s *Server) ListApiTokens(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.FromContext(r.Context())
	tokens, err := s.store.ListApiTokensForUser(r.Context(), ident.UserID)
	if err != nil {
		writeError(r, w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]apiTokenResponse, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, apiTokenResponse{ID: t.ID, Name: t.Name, Prefix: t.Prefix})
	}
	writeJSON(w, http.StatusOK, out)
}

// RevokeApiToken revokes one of the caller's API tokens by id.
func (s *Server) RevokeApiToken(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.FromContext(r.Context())
	id := chiURLParam(r, "id")
	if err := s.store.RevokeApiToken(r.Context(), ident.UserID, id); err != nil {
		if err == store.ErrNotFound {
			writeError(r, w, http.StatusNotFound, "token not found")
			return
		}
		writeError(r, w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
