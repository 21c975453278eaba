package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8443" {
		t.Errorf("BindAddr = %q, want :8443", cfg.BindAddr)
	}
	if cfg.PoolMin != 2 || cfg.PoolMax != 8 {
		t.Errorf("PoolMin/PoolMax = %d/%d, want 2/8", cfg.PoolMin, cfg.PoolMax)
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Errorf("AccessTokenTTL = %v, want 15m", cfg.AccessTokenTTL)
	}
	if cfg.AllowLoopbackHubs {
		t.Error("expected AllowLoopbackHubs to default false")
	}
}

func TestLoadHonoursBridgePrefixedEnvOverride(t *testing.T) {
	t.Setenv("BRIDGE_BIND_ADDR", ":9999")
	t.Setenv("BRIDGE_RETENTION_DAYS", "90")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9999" {
		t.Errorf("BindAddr = %q, want :9999 (env override)", cfg.BindAddr)
	}
	if cfg.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, want 90 (env override)", cfg.RetentionDays)
	}
}

func TestLoadRejectsPoolMinGreaterThanPoolMax(t *testing.T) {
	t.Setenv("BRIDGE_POOL_MIN", "20")
	t.Setenv("BRIDGE_POOL_MAX", "5")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error when pool_min exceeds pool_max")
	}
}
