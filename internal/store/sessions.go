package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session mirrors the Session entity: a logged-in device's access and
// refresh token bookkeeping.
type Session struct {
	ID               string
	UserID           int64
	AccessTokenJTI   string
	RefreshTokenHash string
	IssuedAt         time.Time
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	UserAgent        string
	RemoteAddr       string
	Revoked          bool
}

type sessionRow struct {
	ID               string         `db:"id"`
	UserID           int64          `db:"user_id"`
	AccessTokenJTI   string         `db:"access_token_jti"`
	RefreshTokenHash string         `db:"refresh_token_hash"`
	IssuedAt         string         `db:"issued_at"`
	ExpiresAt        string         `db:"expires_at"`
	RefreshExpiresAt string         `db:"refresh_expires_at"`
	UserAgent        sql.NullString `db:"user_agent"`
	RemoteAddr       sql.NullString `db:"remote_addr"`
	Revoked          int            `db:"revoked"`
}

func (r sessionRow) toSession() (*Session, error) {
	issued, err := parseTime(r.IssuedAt)
	if err != nil {
		return nil, err
	}
	expires, err := parseTime(r.ExpiresAt)
	if err != nil {
		return nil, err
	}
	refreshExpires, err := parseTime(r.RefreshExpiresAt)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:               r.ID,
		UserID:           r.UserID,
		AccessTokenJTI:   r.AccessTokenJTI,
		RefreshTokenHash: r.RefreshTokenHash,
		IssuedAt:         issued,
		ExpiresAt:        expires,
		RefreshExpiresAt: refreshExpires,
		UserAgent:        r.UserAgent.String,
		RemoteAddr:       r.RemoteAddr.String,
		Revoked:          r.Revoked != 0,
	}, nil
}

// InsertSession creates a new session row. expiresAt must be strictly
// after issuedAt, and refreshExpiresAt must be >= expiresAt per the
// Session invariant.
func (s *Store) InsertSession(ctx context.Context, sess *Session) error {
	if !sess.ExpiresAt.After(sess.IssuedAt) {
		return fmt.Errorf("invalid session: expires_at must be after issued_at")
	}
	if sess.RefreshExpiresAt.Before(sess.ExpiresAt) {
		return fmt.Errorf("invalid session: refresh_expires_at must be >= expires_at")
	}
	return s.withWrite(ctx, func(tx *sqlxTx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, user_id, access_token_jti, refresh_token_hash, issued_at, expires_at, refresh_expires_at, user_agent, remote_addr, revoked)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
			sess.ID, sess.UserID, sess.AccessTokenJTI, sess.RefreshTokenHash,
			formatTime(sess.IssuedAt), formatTime(sess.ExpiresAt), formatTime(sess.RefreshExpiresAt),
			sess.UserAgent, sess.RemoteAddr)
		return err
	})
}

// GetSession retrieves a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var row sessionRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM sessions WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toSession()
}

// FindSessionByRefreshHash looks up a non-revoked, non-expired session
// by the hash of its refresh token, used by the /auth/refresh flow.
func (s *Store) FindSessionByRefreshHash(ctx context.Context, refreshHash string) (*Session, error) {
	var row sessionRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM sessions WHERE refresh_token_hash = ? AND revoked = 0`, refreshHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toSession()
}

// FindSessionByAccessJTI looks up the session that issued a given
// access-token jti, used to check revocation on every gateway-JWT
// authenticated request (the JWT signature alone does not reflect a
// logout that happened within the token's lifetime).
func (s *Store) FindSessionByAccessJTI(ctx context.Context, jti string) (*Session, error) {
	var row sessionRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM sessions WHERE access_token_jti = ?`, jti); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toSession()
}

// RevokeSession marks a session revoked so its access/refresh tokens
// are no longer accepted.
func (s *Store) RevokeSession(ctx context.Context, id string) error {
	return s.withWrite(ctx, func(tx *sqlxTx) error {
		_, err := tx.ExecContext(ctx, `UPDATE sessions SET revoked = 1 WHERE id = ?`, id)
		return err
	})
}

// ReplaceSession revokes the old session and inserts its successor in
// one transaction, used on refresh so the old refresh token becomes
// invalid atomically with the new session's creation.
func (s *Store) ReplaceSession(ctx context.Context, oldID string, next *Session) error {
	if !next.ExpiresAt.After(next.IssuedAt) {
		return fmt.Errorf("invalid session: expires_at must be after issued_at")
	}
	return s.withWrite(ctx, func(tx *sqlxTx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET revoked = 1 WHERE id = ?`, oldID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, user_id, access_token_jti, refresh_token_hash, issued_at, expires_at, refresh_expires_at, user_agent, remote_addr, revoked)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
			next.ID, next.UserID, next.AccessTokenJTI, next.RefreshTokenHash,
			formatTime(next.IssuedAt), formatTime(next.ExpiresAt), formatTime(next.RefreshExpiresAt),
			next.UserAgent, next.RemoteAddr)
		return err
	})
}

// ListSessionsForUser returns all sessions (including revoked/expired)
// belonging to a user, newest first.
func (s *Store) ListSessionsForUser(ctx context.Context, userID int64) ([]*Session, error) {
	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM sessions WHERE user_id = ? ORDER BY issued_at DESC`, userID); err != nil {
		return nil, err
	}
	out := make([]*Session, 0, len(rows))
	for _, r := range rows {
		sess, err := r.toSession()
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}
