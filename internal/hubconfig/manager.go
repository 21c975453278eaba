// Package hubconfig manages a user's saved hub connections: creating,
// updating, probing, and selecting a default, keeping the
// connection's auth token encrypted at rest and decrypting it only
// for the duration of a probe or dispatch call.
package hubconfig

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/hubbridge/mcp-gateway/internal/crypto"
	"github.com/hubbridge/mcp-gateway/internal/store"
	"github.com/hubbridge/mcp-gateway/internal/upstream"
)

// ErrInvalidURL is returned when a hub config's URL fails validation.
var ErrInvalidURL = errors.New("hubconfig: invalid hub url")

// ErrNoUsableDefault is returned by Resolve when the user has hub
// configs but none is marked default and none has ever probed healthy,
// so the gateway cannot pick one on the caller's behalf.
var ErrNoUsableDefault = errors.New("hubconfig: multiple configs with no default and no healthy probe")

// Manager owns hub config CRUD, probing, and default selection for
// all users. allowLoopback controls whether hub URLs pointing at
// loopback addresses are accepted: production deployments leave this
// false, local development and the test suite set it true.
type Manager struct {
	store         *store.Store
	cipher        *crypto.HubTokenCipher
	allowLoopback bool
	probeTimeout  time.Duration
}

// New builds a Manager backed by st, encrypting tokens with cipher.
// probeTimeout bounds the probe's HTTP round trips; <=0 selects the
// default.
func New(st *store.Store, cipher *crypto.HubTokenCipher, allowLoopback bool, probeTimeout time.Duration) *Manager {
	if probeTimeout <= 0 {
		probeTimeout = 10 * time.Second
	}
	return &Manager{store: st, cipher: cipher, allowLoopback: allowLoopback, probeTimeout: probeTimeout}
}

// Summary is a HubConfig without its token (neither ciphertext nor
// plaintext), suitable for returning to an API caller.
type Summary struct {
	ID                 string
	Name               string
	URL                string
	IsDefault          bool
	LastProbeAt        *string
	LastProbeStatus    *string
	LastProbeLatencyMs *int
}

func toSummary(c *store.HubConfig) *Summary {
	return &Summary{
		ID:                 c.ID,
		Name:               c.Name,
		URL:                c.URL,
		IsDefault:          c.IsDefault,
		LastProbeAt:        c.LastProbeAt,
		LastProbeStatus:    c.LastProbeStatus,
		LastProbeLatencyMs: c.LastProbeLatencyMs,
	}
}

// ValidateURL enforces absolute http/https URLs, rejecting loopback
// targets unless the manager was built with allowLoopback.
func (m *Manager) ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidURL
	}
	if !m.allowLoopback && isLoopbackHost(u.Hostname()) {
		return ErrInvalidURL
	}
	return nil
}

func isLoopbackHost(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

// Create validates url and encrypts token, persisting a new hub
// config for the user.
func (m *Manager) Create(ctx context.Context, userID int64, name, rawURL, token string, makeDefault bool) (*Summary, error) {
	if err := m.ValidateURL(rawURL); err != nil {
		return nil, err
	}
	cipherText, err := m.cipher.Encrypt(token)
	if err != nil {
		return nil, fmt.Errorf("hubconfig: encrypt token: %w", err)
	}
	cfg := &store.HubConfig{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        name,
		URL:         rawURL,
		TokenCipher: cipherText,
		IsDefault:   makeDefault,
	}
	if err := m.store.CreateHubConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return toSummary(cfg), nil
}

// Update replaces name/url/token for an existing hub config.
func (m *Manager) Update(ctx context.Context, userID int64, id, name, rawURL, token string) (*Summary, error) {
	if err := m.ValidateURL(rawURL); err != nil {
		return nil, err
	}
	cipherText, err := m.cipher.Encrypt(token)
	if err != nil {
		return nil, fmt.Errorf("hubconfig: encrypt token: %w", err)
	}
	if err := m.store.UpdateHubConfig(ctx, userID, id, name, rawURL, cipherText); err != nil {
		return nil, err
	}
	cfg, err := m.store.GetHubConfig(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return toSummary(cfg), nil
}

// Delete removes a hub config owned by userID.
func (m *Manager) Delete(ctx context.Context, userID int64, id string) error {
	return m.store.DeleteHubConfig(ctx, userID, id)
}

// List returns every hub config owned by userID.
func (m *Manager) List(ctx context.Context, userID int64) ([]*Summary, error) {
	cfgs, err := m.store.ListHubConfigs(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*Summary, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, toSummary(c))
	}
	return out, nil
}

// Get returns one hub config owned by userID.
func (m *Manager) Get(ctx context.Context, userID int64, id string) (*Summary, error) {
	cfg, err := m.store.GetHubConfig(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return toSummary(cfg), nil
}

// SetDefault marks id as the user's default hub config.
func (m *Manager) SetDefault(ctx context.Context, userID int64, id string) error {
	return m.store.SetDefaultHubConfig(ctx, userID, id)
}

// Resolve picks the hub config a dispatch call should use: the
// caller's explicit choice if given, else the default, else the most
// recently probed-healthy config, returning the config plus its
// decrypted token. A user who has configs but neither a default nor a
// healthy probe gets ErrNoUsableDefault rather than an arbitrary pick.
func (m *Manager) Resolve(ctx context.Context, userID int64, explicitID string) (*store.HubConfig, string, error) {
	var cfg *store.HubConfig
	var err error
	switch {
	case explicitID != "":
		cfg, err = m.store.GetHubConfig(ctx, userID, explicitID)
	default:
		cfg, err = m.store.GetDefaultHubConfig(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			cfg, err = m.store.MostRecentlyHealthyHubConfig(ctx, userID)
			if errors.Is(err, store.ErrNotFound) {
				configs, listErr := m.store.ListHubConfigs(ctx, userID)
				if listErr == nil && len(configs) > 0 {
					return nil, "", ErrNoUsableDefault
				}
			}
		}
	}
	if err != nil {
		return nil, "", err
	}
	token, err := m.cipher.Decrypt(cfg.TokenCipher)
	if err != nil {
		return nil, "", fmt.Errorf("hubconfig: decrypt token: %w", err)
	}
	return cfg, token, nil
}

// Probe decrypts the config's token, calls the hub's health endpoint,
// and records the outcome.
func (m *Manager) Probe(ctx context.Context, userID int64, id string) (upstream.ProbeResult, error) {
	cfg, err := m.store.GetHubConfig(ctx, userID, id)
	if err != nil {
		return upstream.ProbeResult{}, err
	}
	token, err := m.cipher.Decrypt(cfg.TokenCipher)
	if err != nil {
		return upstream.ProbeResult{}, fmt.Errorf("hubconfig: decrypt token: %w", err)
	}
	client := upstream.New(cfg.URL, token, m.probeTimeout)
	result := client.Probe(ctx)
	if err := m.store.RecordProbe(ctx, id, result.Status, result.LatencyMs); err != nil {
		return result, err
	}
	return result, nil
}
