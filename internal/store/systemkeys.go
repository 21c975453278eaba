package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SystemKey mirrors the SystemKey entity: exactly one active key per
// purpose at any time.
type SystemKey struct {
	KeyID     string
	Purpose   string
	Value     string
	CreatedAt time.Time
	RotatedAt *time.Time
	Active    bool
}

type systemKeyRow struct {
	KeyID     string         `db:"key_id"`
	Purpose   string         `db:"purpose"`
	Value     string         `db:"value"`
	CreatedAt string         `db:"created_at"`
	RotatedAt sql.NullString `db:"rotated_at"`
	Active    int            `db:"active"`
}

func (r systemKeyRow) toKey() (*SystemKey, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, err
	}
	k := &SystemKey{
		KeyID:     r.KeyID,
		Purpose:   r.Purpose,
		Value:     r.Value,
		CreatedAt: created,
		Active:    r.Active != 0,
	}
	if r.RotatedAt.Valid {
		v, err := parseTime(r.RotatedAt.String)
		if err != nil {
			return nil, err
		}
		k.RotatedAt = &v
	}
	return k, nil
}

// ActiveSystemKey returns the currently active key for a purpose.
func (s *Store) ActiveSystemKey(ctx context.Context, purpose string) (*SystemKey, error) {
	var row systemKeyRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM system_keys WHERE purpose = ? AND active = 1`, purpose); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toKey()
}

// EnsureSystemKey returns the active key for purpose, generating one
// via genValue() and persisting it if none exists yet.
func (s *Store) EnsureSystemKey(ctx context.Context, purpose string, genValue func() (string, error)) (*SystemKey, error) {
	if k, err := s.ActiveSystemKey(ctx, purpose); err == nil {
		return k, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	value, err := genValue()
	if err != nil {
		return nil, err
	}

	keyID := uuid.NewString()
	err = s.withWrite(ctx, func(tx *sqlxTx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO system_keys (key_id, purpose, value, created_at, active)
			VALUES (?, ?, ?, ?, 1)`, keyID, purpose, value, formatTime(now()))
		return translateUniqueErr(err)
	})
	if err != nil {
		// Another process may have won the race; re-read.
		if k, readErr := s.ActiveSystemKey(ctx, purpose); readErr == nil {
			return k, nil
		}
		return nil, err
	}
	return s.ActiveSystemKey(ctx, purpose)
}

// RotateSystemKey deactivates the current active key for purpose and
// activates a freshly generated one, atomically.
func (s *Store) RotateSystemKey(ctx context.Context, purpose string, genValue func() (string, error)) (*SystemKey, error) {
	value, err := genValue()
	if err != nil {
		return nil, err
	}
	keyID := uuid.NewString()

	err = s.withWrite(ctx, func(tx *sqlxTx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE system_keys SET active = 0, rotated_at = ? WHERE purpose = ? AND active = 1`,
			formatTime(now()), purpose); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO system_keys (key_id, purpose, value, created_at, active)
			VALUES (?, ?, ?, ?, 1)`, keyID, purpose, value, formatTime(now()))
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.ActiveSystemKey(ctx, purpose)
}
