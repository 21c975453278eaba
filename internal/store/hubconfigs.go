package store

import (
	"context"
	"database/sql"
	"errors"
)

// HubConfig mirrors the HubConfig entity: a per-user upstream hub
// connection, with the credential kept only as ciphertext.
type HubConfig struct {
	ID                 string
	UserID             int64
	Name               string
	URL                string
	TokenCipher        string
	LastProbeAt        *string
	LastProbeStatus    *string
	LastProbeLatencyMs *int
	IsDefault          bool
}

type hubConfigRow struct {
	ID                 string         `db:"id"`
	UserID             int64          `db:"user_id"`
	Name               string         `db:"name"`
	URL                string         `db:"url"`
	TokenCipher        string         `db:"token_cipher"`
	LastProbeAt        sql.NullString `db:"last_probe_at"`
	LastProbeStatus    sql.NullString `db:"last_probe_status"`
	LastProbeLatencyMs sql.NullInt64  `db:"last_probe_latency_ms"`
	IsDefault          int            `db:"is_default"`
}

func (r hubConfigRow) toConfig() *HubConfig {
	c := &HubConfig{
		ID:          r.ID,
		UserID:      r.UserID,
		Name:        r.Name,
		URL:         r.URL,
		TokenCipher: r.TokenCipher,
		IsDefault:   r.IsDefault != 0,
	}
	if r.LastProbeAt.Valid {
		c.LastProbeAt = &r.LastProbeAt.String
	}
	if r.LastProbeStatus.Valid {
		c.LastProbeStatus = &r.LastProbeStatus.String
	}
	if r.LastProbeLatencyMs.Valid {
		v := int(r.LastProbeLatencyMs.Int64)
		c.LastProbeLatencyMs = &v
	}
	return c
}

// CreateHubConfig inserts a new hub config. If isDefault is set, any
// existing default for the user is cleared first, atomically.
func (s *Store) CreateHubConfig(ctx context.Context, c *HubConfig) error {
	return s.withWrite(ctx, func(tx *sqlxTx) error {
		if c.IsDefault {
			if _, err := tx.ExecContext(ctx, `UPDATE hub_configs SET is_default = 0 WHERE user_id = ?`, c.UserID); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO hub_configs (id, user_id, name, url, token_cipher, is_default)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.UserID, c.Name, c.URL, c.TokenCipher, boolToInt(c.IsDefault))
		return translateUniqueErr(err)
	})
}

// GetHubConfig retrieves a hub config owned by userID.
func (s *Store) GetHubConfig(ctx context.Context, userID int64, id string) (*HubConfig, error) {
	var row hubConfigRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM hub_configs WHERE id = ? AND user_id = ?`, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toConfig(), nil
}

// ListHubConfigs lists all hub configs owned by a user.
func (s *Store) ListHubConfigs(ctx context.Context, userID int64) ([]*HubConfig, error) {
	var rows []hubConfigRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM hub_configs WHERE user_id = ? ORDER BY id`, userID); err != nil {
		return nil, err
	}
	out := make([]*HubConfig, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toConfig())
	}
	return out, nil
}

// UpdateHubConfig updates name/url/token_cipher for an existing config.
func (s *Store) UpdateHubConfig(ctx context.Context, userID int64, id, name, url, tokenCipher string) error {
	return s.withWrite(ctx, func(tx *sqlxTx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE hub_configs SET name = ?, url = ?, token_cipher = ?
			WHERE id = ? AND user_id = ?`, name, url, tokenCipher, id, userID)
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

// DeleteHubConfig removes a hub config owned by userID.
func (s *Store) DeleteHubConfig(ctx context.Context, userID int64, id string) error {
	return s.withWrite(ctx, func(tx *sqlxTx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM hub_configs WHERE id = ? AND user_id = ?`, id, userID)
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

// SetDefaultHubConfig atomically clears any existing default for the
// user and marks id as the new default. Idempotent: calling it twice
// in a row with the same id leaves the same single default set.
func (s *Store) SetDefaultHubConfig(ctx context.Context, userID int64, id string) error {
	return s.withWrite(ctx, func(tx *sqlxTx) error {
		var exists int
		if err := tx.GetContext(ctx, &exists, `SELECT COUNT(1) FROM hub_configs WHERE id = ? AND user_id = ?`, id, userID); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `UPDATE hub_configs SET is_default = 0 WHERE user_id = ?`, userID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE hub_configs SET is_default = 1 WHERE id = ? AND user_id = ?`, id, userID)
		return err
	})
}

// GetDefaultHubConfig returns the user's default hub config, if any.
func (s *Store) GetDefaultHubConfig(ctx context.Context, userID int64) (*HubConfig, error) {
	var row hubConfigRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM hub_configs WHERE user_id = ? AND is_default = 1`, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toConfig(), nil
}

// MostRecentlyHealthyHubConfig returns the user's hub config with the
// most recent successful probe, used as the fallback when no default
// is set.
func (s *Store) MostRecentlyHealthyHubConfig(ctx context.Context, userID int64) (*HubConfig, error) {
	var row hubConfigRow
	if err := s.db.GetContext(ctx, &row, `
		SELECT * FROM hub_configs
		WHERE user_id = ? AND last_probe_status = 'ok'
		ORDER BY last_probe_at DESC LIMIT 1`, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toConfig(), nil
}

// RecordProbe stores the outcome of a probe against the hub config.
func (s *Store) RecordProbe(ctx context.Context, id string, status string, latencyMs int) error {
	return s.withWrite(ctx, func(tx *sqlxTx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE hub_configs SET last_probe_at = ?, last_probe_status = ?, last_probe_latency_ms = ?
			WHERE id = ?`, formatTime(now()), status, latencyMs, id)
		return err
	})
}
