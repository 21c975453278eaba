package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by lookup operations that find no row.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a uniqueness invariant would be violated.
var ErrConflict = errors.New("conflict")

// User mirrors the User entity from the data model.
type User struct {
	ID                 int64
	Username           string
	Email              string
	PasswordHash       string
	IsAdmin            bool
	MustChangePassword bool
	FailedLogins       int
	LockedUntil        *time.Time
	CreatedAt          time.Time
}

type userRow struct {
	ID                 int64          `db:"id"`
	Username           string         `db:"username"`
	Email              string         `db:"email"`
	PasswordHash       string         `db:"password_hash"`
	IsAdmin            int            `db:"is_admin"`
	MustChangePassword int            `db:"must_change_password"`
	FailedLogins       int            `db:"failed_logins"`
	LockedUntil        sql.NullString `db:"locked_until"`
	CreatedAt          string         `db:"created_at"`
}

func (r userRow) toUser() (*User, error) {
	u := &User{
		ID:                 r.ID,
		Username:           r.Username,
		Email:              r.Email,
		PasswordHash:       r.PasswordHash,
		IsAdmin:            r.IsAdmin != 0,
		MustChangePassword: r.MustChangePassword != 0,
		FailedLogins:       r.FailedLogins,
	}
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	u.CreatedAt = created

	if r.LockedUntil.Valid {
		t, err := parseTime(r.LockedUntil.String)
		if err != nil {
			return nil, fmt.Errorf("parse locked_until: %w", err)
		}
		u.LockedUntil = &t
	}
	return u, nil
}

// CreateUser inserts a new user with the given (already-hashed) password.
func (s *Store) CreateUser(ctx context.Context, username, email, passwordHash string, isAdmin, mustChangePassword bool) (*User, error) {
	var id int64
	err := s.withWrite(ctx, func(tx *sqlxTx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO users (username, email, password_hash, is_admin, must_change_password, failed_logins, created_at)
			VALUES (?, ?, ?, ?, ?, 0, ?)`,
			username, email, passwordHash, boolToInt(isAdmin), boolToInt(mustChangePassword), formatTime(now()))
		if err != nil {
			return translateUniqueErr(err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

// GetUser retrieves a user by primary key.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM users WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toUser()
}

// FindUserByUsername looks up a user by its unique username.
func (s *Store) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM users WHERE username = ?`, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toUser()
}

// RecordLoginFailure increments failed_logins and, if the threshold is
// reached, locks the account until now+lockDuration. It returns the
// updated user.
func (s *Store) RecordLoginFailure(ctx context.Context, userID int64, threshold int, lockDuration time.Duration) (*User, error) {
	err := s.withWrite(ctx, func(tx *sqlxTx) error {
		var failed int
		if err := tx.GetContext(ctx, &failed, `SELECT failed_logins FROM users WHERE id = ?`, userID); err != nil {
			return err
		}
		failed++

		var lockedUntil any
		if failed >= threshold {
			lockedUntil = formatTime(now().Add(lockDuration))
		}

		_, err := tx.ExecContext(ctx, `UPDATE users SET failed_logins = ?, locked_until = COALESCE(?, locked_until) WHERE id = ?`,
			failed, lockedUntil, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, userID)
}

// ResetLoginFailures clears the failure counter and any lock on success.
func (s *Store) ResetLoginFailures(ctx context.Context, userID int64) error {
	return s.withWrite(ctx, func(tx *sqlxTx) error {
		_, err := tx.ExecContext(ctx, `UPDATE users SET failed_logins = 0, locked_until = NULL WHERE id = ?`, userID)
		return err
	})
}

// SetPassword replaces the user's password hash and sets the
// forced-rotation flag to mustChangePassword.
func (s *Store) SetPassword(ctx context.Context, userID int64, passwordHash string, mustChangePassword bool) error {
	return s.withWrite(ctx, func(tx *sqlxTx) error {
		_, err := tx.ExecContext(ctx, `UPDATE users SET password_hash = ?, must_change_password = ? WHERE id = ?`,
			passwordHash, boolToInt(mustChangePassword), userID)
		return err
	})
}

// ListUsers returns all users ordered by id, for admin listing.
func (s *Store) ListUsers(ctx context.Context) ([]*User, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM users ORDER BY id`); err != nil {
		return nil, err
	}
	out := make([]*User, 0, len(rows))
	for _, r := range rows {
		u, err := r.toUser()
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// SetUserLock manually locks or unlocks a user account (admin override).
func (s *Store) SetUserLock(ctx context.Context, userID int64, lockedUntil *time.Time) error {
	return s.withWrite(ctx, func(tx *sqlxTx) error {
		var val any
		if lockedUntil != nil {
			val = formatTime(*lockedUntil)
		}
		_, err := tx.ExecContext(ctx, `UPDATE users SET locked_until = ? WHERE id = ?`, val, userID)
		return err
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
