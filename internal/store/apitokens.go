package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ApiToken mirrors the ApiToken entity. The plaintext token is never
// stored; only TokenHash (one-way) and Prefix (for display/lookup)
// persist.
type ApiToken struct {
	ID              string
	UserID          int64
	Name            string
	TokenHash       string
	Prefix          string
	PermissionsJSON string
	CreatedAt       time.Time
	ExpiresAt       *time.Time
	LastUsedAt      *time.Time
	Revoked         bool
}

type apiTokenRow struct {
	ID              string         `db:"id"`
	UserID          int64          `db:"user_id"`
	Name            string         `db:"name"`
	TokenHash       string         `db:"token_hash"`
	Prefix          string         `db:"prefix"`
	PermissionsJSON string         `db:"permissions_json"`
	CreatedAt       string         `db:"created_at"`
	ExpiresAt       sql.NullString `db:"expires_at"`
	LastUsedAt      sql.NullString `db:"last_used_at"`
	Revoked         int            `db:"revoked"`
}

func (r apiTokenRow) toToken() (*ApiToken, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, err
	}
	t := &ApiToken{
		ID:              r.ID,
		UserID:          r.UserID,
		Name:            r.Name,
		TokenHash:       r.TokenHash,
		Prefix:          r.Prefix,
		PermissionsJSON: r.PermissionsJSON,
		CreatedAt:       created,
		Revoked:         r.Revoked != 0,
	}
	if r.ExpiresAt.Valid {
		v, err := parseTime(r.ExpiresAt.String)
		if err != nil {
			return nil, err
		}
		t.ExpiresAt = &v
	}
	if r.LastUsedAt.Valid {
		v, err := parseTime(r.LastUsedAt.String)
		if err != nil {
			return nil, err
		}
		t.LastUsedAt = &v
	}
	return t, nil
}

// CreateApiToken persists a new API token record (the caller already
// generated the plaintext and hashed it; the plaintext is returned to
// the user exactly once and never reaches this layer).
func (s *Store) CreateApiToken(ctx context.Context, t *ApiToken) error {
	return s.withWrite(ctx, func(tx *sqlxTx) error {
		var expires any
		if t.ExpiresAt != nil {
			expires = formatTime(*t.ExpiresAt)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO api_tokens (id, user_id, name, token_hash, prefix, permissions_json, created_at, expires_at, revoked)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
			t.ID, t.UserID, t.Name, t.TokenHash, t.Prefix, t.PermissionsJSON, formatTime(t.CreatedAt), expires)
		return translateUniqueErr(err)
	})
}

// FindApiTokenByHash looks up a non-revoked token by its hash.
func (s *Store) FindApiTokenByHash(ctx context.Context, hash string) (*ApiToken, error) {
	var row apiTokenRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM api_tokens WHERE token_hash = ? AND revoked = 0`, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toToken()
}

// ListApiTokensForUser lists all tokens (including revoked) owned by a user.
func (s *Store) ListApiTokensForUser(ctx context.Context, userID int64) ([]*ApiToken, error) {
	var rows []apiTokenRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM api_tokens WHERE user_id = ? ORDER BY created_at DESC`, userID); err != nil {
		return nil, err
	}
	out := make([]*ApiToken, 0, len(rows))
	for _, r := range rows {
		t, err := r.toToken()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// RevokeApiToken marks a token (owned by userID) revoked. Returns
// ErrNotFound if the token doesn't exist or isn't owned by userID.
func (s *Store) RevokeApiToken(ctx context.Context, userID int64, id string) error {
	return s.withWrite(ctx, func(tx *sqlxTx) error {
		res, err := tx.ExecContext(ctx, `UPDATE api_tokens SET revoked = 1 WHERE id = ? AND user_id = ?`, id, userID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// TouchApiToken updates last_used_at to now; best-effort, called on
// each successful authentication via that token.
func (s *Store) TouchApiToken(ctx context.Context, id string) error {
	return s.withWrite(ctx, func(tx *sqlxTx) error {
		_, err := tx.ExecContext(ctx, `UPDATE api_tokens SET last_used_at = ? WHERE id = ?`, formatTime(now()), id)
		return err
	})
}
