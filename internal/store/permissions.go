package store

import (
	"context"
	"database/sql"
	"errors"
)

// Permission is the (can_read, can_write, can_execute, enabled) tuple
// shared by ToolPermission and DefaultToolPermission.
type Permission struct {
	CanRead    bool
	CanWrite   bool
	CanExecute bool
	Enabled    bool
}

// GetEffectivePermission resolves the per-user override for a tool if
// present, else falls back to the tool's default permission. Returns
// a fully-denied Permission{} (Enabled=false) if neither exists.
func (s *Store) GetEffectivePermission(ctx context.Context, userID int64, toolName string) (Permission, error) {
	var p permRow
	err := s.db.GetContext(ctx, &p, `
		SELECT can_read, can_write, can_execute, enabled
		FROM tool_permissions WHERE user_id = ? AND tool_name = ?`, userID, toolName)
	if err == nil {
		return p.toPermission(), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Permission{}, err
	}

	err = s.db.GetContext(ctx, &p, `
		SELECT can_read, can_write, can_execute, enabled
		FROM default_tool_permissions WHERE tool_name = ?`, toolName)
	if err == nil {
		return p.toPermission(), nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return Permission{}, nil
	}
	return Permission{}, err
}

type permRow struct {
	CanRead    int `db:"can_read"`
	CanWrite   int `db:"can_write"`
	CanExecute int `db:"can_execute"`
	Enabled    int `db:"enabled"`
}

func (p permRow) toPermission() Permission {
	return Permission{
		CanRead:    p.CanRead != 0,
		CanWrite:   p.CanWrite != 0,
		CanExecute: p.CanExecute != 0,
		Enabled:    p.Enabled != 0,
	}
}

// SetDefaultToolPermission upserts the default permission for a tool.
func (s *Store) SetDefaultToolPermission(ctx context.Context, toolName string, p Permission) error {
	return s.withWrite(ctx, func(tx *sqlxTx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO default_tool_permissions (tool_name, can_read, can_write, can_execute, enabled)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(tool_name) DO UPDATE SET
				can_read = excluded.can_read,
				can_write = excluded.can_write,
				can_execute = excluded.can_execute,
				enabled = excluded.enabled`,
			toolName, boolToInt(p.CanRead), boolToInt(p.CanWrite), boolToInt(p.CanExecute), boolToInt(p.Enabled))
		return err
	})
}

// ListDefaultToolPermissions returns all default permissions keyed by tool name.
func (s *Store) ListDefaultToolPermissions(ctx context.Context) (map[string]Permission, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT tool_name, can_read, can_write, can_execute, enabled FROM default_tool_permissions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Permission)
	for rows.Next() {
		var name string
		var p permRow
		if err := rows.Scan(&name, &p.CanRead, &p.CanWrite, &p.CanExecute, &p.Enabled); err != nil {
			return nil, err
		}
		out[name] = p.toPermission()
	}
	return out, rows.Err()
}

// SetToolPermission upserts a per-user override for a tool.
func (s *Store) SetToolPermission(ctx context.Context, userID int64, toolName string, p Permission) error {
	return s.withWrite(ctx, func(tx *sqlxTx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tool_permissions (user_id, tool_name, can_read, can_write, can_execute, enabled)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, tool_name) DO UPDATE SET
				can_read = excluded.can_read,
				can_write = excluded.can_write,
				can_execute = excluded.can_execute,
				enabled = excluded.enabled`,
			userID, toolName, boolToInt(p.CanRead), boolToInt(p.CanWrite), boolToInt(p.CanExecute), boolToInt(p.Enabled))
		return err
	})
}

// SeedDefaultToolPermissions inserts default rows for tools that don't
// already have one. Used at bootstrap so new tool registrations get a
// sane (typically disabled) default without overwriting admin edits.
func (s *Store) SeedDefaultToolPermissions(ctx context.Context, defaults map[string]Permission) error {
	return s.withWrite(ctx, func(tx *sqlxTx) error {
		for name, p := range defaults {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO default_tool_permissions (tool_name, can_read, can_write, can_execute, enabled)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(tool_name) DO NOTHING`,
				name, boolToInt(p.CanRead), boolToInt(p.CanWrite), boolToInt(p.CanExecute), boolToInt(p.Enabled)); err != nil {
				return err
			}
		}
		return nil
	})
}
