// Package config loads the gateway's runtime configuration via viper:
// a config file (if present), overridden by BRIDGE_-prefixed
// environment variables, overridden by explicit defaults only where
// neither was set.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is every tunable the bootstrap command needs to construct
// the store, auth pipeline, queue, pool, cache, breaker registry, and
// HTTP server.
type Config struct {
	BindAddr  string `mapstructure:"bind_addr"`
	StorePath string `mapstructure:"store_path"`

	LogDir        string `mapstructure:"log_dir"`
	LogLevel      string `mapstructure:"log_level"`
	LogConsole    bool   `mapstructure:"log_console"`
	RetentionDays int    `mapstructure:"retention_days"`

	JWTIssuer        string        `mapstructure:"jwt_issuer"`
	JWTSigningKeyLen int           `mapstructure:"jwt_signing_key_len"`
	AccessTokenTTL   time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL  time.Duration `mapstructure:"refresh_token_ttl"`

	LockoutThreshold int           `mapstructure:"lockout_threshold"`
	LockoutBase      time.Duration `mapstructure:"lockout_base"`
	LockoutMax       time.Duration `mapstructure:"lockout_max"`

	UpstreamOIDCIssuer string `mapstructure:"upstream_oidc_issuer"`
	UpstreamJWKSURL    string `mapstructure:"upstream_jwks_url"`
	UpstreamAudience   string `mapstructure:"upstream_audience"`

	AllowLoopbackHubs bool          `mapstructure:"allow_loopback_hubs"`
	HubProbeTimeout   time.Duration `mapstructure:"hub_probe_timeout"`
	HubCallTimeout    time.Duration `mapstructure:"hub_call_timeout"`

	QueueCapacity        int           `mapstructure:"queue_capacity"`
	QueueDefaultDeadline time.Duration `mapstructure:"queue_default_deadline"`
	QueueMaxDeadline     time.Duration `mapstructure:"queue_max_deadline"`

	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
	RateLimitBurst     int `mapstructure:"rate_limit_burst"`

	PoolMin              int           `mapstructure:"pool_min"`
	PoolMax              int           `mapstructure:"pool_max"`
	PoolTarget           int           `mapstructure:"pool_target"`
	PoolScaleUpFactor    float64       `mapstructure:"pool_scale_up_factor"`
	PoolLatencyThreshold time.Duration `mapstructure:"pool_latency_threshold"`
	PoolIdleTimeout      time.Duration `mapstructure:"pool_idle_timeout"`
	PoolHealthInterval   time.Duration `mapstructure:"pool_health_interval"`
	PoolLeaseTimeout     time.Duration `mapstructure:"pool_lease_timeout"`
	PoolCancelGrace      time.Duration `mapstructure:"pool_cancel_grace"`

	CacheCapacity int `mapstructure:"cache_capacity"`

	BreakerFailureThreshold int           `mapstructure:"breaker_failure_threshold"`
	BreakerCooldown         time.Duration `mapstructure:"breaker_cooldown"`
	BreakerHalfOpenMax      int           `mapstructure:"breaker_half_open_max"`

	DefaultAdminUsername string `mapstructure:"default_admin_username"`
	DefaultAdminPassword string `mapstructure:"default_admin_password"`
}

// Load reads ./bridge.yaml (or /etc/bridge/bridge.yaml) if present,
// applies BRIDGE_-prefixed environment overrides, and fills in
// defaults for anything still unset.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("bridge")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/bridge/")
	v.AddConfigPath(".")

	v.SetDefault("bind_addr", ":8443")
	v.SetDefault("store_path", "./data/bridge.db")

	v.SetDefault("log_dir", "logs")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_console", false)
	v.SetDefault("retention_days", 30)

	v.SetDefault("jwt_issuer", "hubbridge-gateway")
	v.SetDefault("jwt_signing_key_len", 32)
	v.SetDefault("access_token_ttl", 15*time.Minute)
	v.SetDefault("refresh_token_ttl", 30*24*time.Hour)

	v.SetDefault("lockout_threshold", 5)
	v.SetDefault("lockout_base", 1*time.Minute)
	v.SetDefault("lockout_max", 24*time.Hour)

	v.SetDefault("upstream_oidc_issuer", "")
	v.SetDefault("upstream_jwks_url", "")
	v.SetDefault("upstream_audience", "")

	v.SetDefault("allow_loopback_hubs", false)
	v.SetDefault("hub_probe_timeout", 5*time.Second)
	v.SetDefault("hub_call_timeout", 15*time.Second)

	v.SetDefault("queue_capacity", 200)
	v.SetDefault("queue_default_deadline", 30*time.Second)
	v.SetDefault("queue_max_deadline", 120*time.Second)

	v.SetDefault("rate_limit_per_minute", 600)
	v.SetDefault("rate_limit_burst", 120)

	v.SetDefault("pool_min", 2)
	v.SetDefault("pool_max", 8)
	v.SetDefault("pool_target", 4)
	v.SetDefault("pool_scale_up_factor", 1.5)
	v.SetDefault("pool_latency_threshold", 2*time.Second)
	v.SetDefault("pool_idle_timeout", 5*time.Minute)
	v.SetDefault("pool_health_interval", 30*time.Second)
	v.SetDefault("pool_lease_timeout", 30*time.Second)
	v.SetDefault("pool_cancel_grace", 5*time.Second)

	v.SetDefault("cache_capacity", 2048)

	v.SetDefault("breaker_failure_threshold", 5)
	v.SetDefault("breaker_cooldown", 30*time.Second)
	v.SetDefault("breaker_half_open_max", 1)

	v.SetDefault("default_admin_username", "admin")
	v.SetDefault("default_admin_password", "Admin123!")

	v.SetEnvPrefix("BRIDGE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.PoolMin > cfg.PoolMax {
		return nil, fmt.Errorf("pool_min (%d) must not exceed pool_max (%d)", cfg.PoolMin, cfg.PoolMax)
	}
	return &cfg, nil
}
