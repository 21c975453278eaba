// Command bridge runs the MCP tool-invocation gateway: an HTTP
// surface that authenticates remote callers, enforces per-tool
// authorization, and proxies tool calls to a home-automation hub
// through a priority queue, session pool, fingerprint cache, and
// circuit breaker.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hubbridge/mcp-gateway/internal/auth"
	"github.com/hubbridge/mcp-gateway/internal/breaker"
	"github.com/hubbridge/mcp-gateway/internal/bridgeapi"
	"github.com/hubbridge/mcp-gateway/internal/cache"
	"github.com/hubbridge/mcp-gateway/internal/config"
	"github.com/hubbridge/mcp-gateway/internal/crypto"
	"github.com/hubbridge/mcp-gateway/internal/hubconfig"
	"github.com/hubbridge/mcp-gateway/internal/mcpbackend"
	"github.com/hubbridge/mcp-gateway/internal/observability"
	"github.com/hubbridge/mcp-gateway/internal/queue"
	"github.com/hubbridge/mcp-gateway/internal/store"
	"github.com/hubbridge/mcp-gateway/internal/tools"
)

func main() {
	root := &cobra.Command{
		Use:           "bridge",
		Short:         "MCP tool-invocation gateway for a home-automation hub",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(adminCmd())

	if err := root.Execute(); err != nil {
		code := 1
		if ec, ok := err.(exitError); ok {
			code = int(ec)
		}
		os.Exit(code)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway's HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad configuration: %v\n", err)
		return exitError(2)
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Dir: cfg.LogDir, Level: cfg.LogLevel, Console: cfg.LogConsole,
		MaxSizeMB: 50, MaxBackups: 14, MaxAgeDays: cfg.RetentionDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad configuration: %v\n", err)
		return exitError(2)
	}
	log.Logger = logger.With().Str("service", "bridge").Logger()
	zerolog.DefaultContextLogger = &log.Logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.StorePath)
	if err != nil {
		log.Error().Err(err).Msg("failed to open or migrate store")
		return exitError(3)
	}
	defer st.Close()

	jwtKey, err := st.EnsureSystemKey(ctx, "jwt_signing", randomKey)
	if err != nil {
		return fmt.Errorf("ensure jwt signing key: %w", err)
	}
	hubKey, err := st.EnsureSystemKey(ctx, "hub_token_encryption", randomKey)
	if err != nil {
		return fmt.Errorf("ensure hub token encryption key: %w", err)
	}

	signer := crypto.NewJWTSigner(jwtKey.Value, cfg.JWTIssuer)
	cipher, err := crypto.NewHubTokenCipher(hubKey.Value, hubKey.KeyID)
	if err != nil {
		return fmt.Errorf("build hub token cipher: %w", err)
	}

	registry := tools.NewRegistry()
	for _, def := range tools.Definitions() {
		registry.MustRegister(def)
	}
	if err := seedToolPermissions(ctx, st, registry); err != nil {
		return fmt.Errorf("seed default tool permissions: %w", err)
	}
	if err := seedDefaultAdmin(ctx, st, cfg, registry); err != nil {
		return fmt.Errorf("seed default admin: %w", err)
	}

	var upstreamJWKS *auth.JWKSConfig
	if cfg.UpstreamJWKSURL != "" {
		upstreamJWKS = &auth.JWKSConfig{
			Issuer: cfg.UpstreamOIDCIssuer, JWKSURL: cfg.UpstreamJWKSURL, Audience: cfg.UpstreamAudience,
		}
	}
	lockout := auth.LockoutPolicy{Threshold: cfg.LockoutThreshold, BaseDuration: cfg.LockoutBase, MaxDuration: cfg.LockoutMax}
	authz := auth.New(st, signer, lockout, upstreamJWKS)

	hubconfigs := hubconfig.New(st, cipher, cfg.AllowLoopbackHubs, cfg.HubProbeTimeout)

	q := queue.New(cfg.QueueCapacity)
	pool, err := queue.NewPool(ctx, queue.Config{
		Min: cfg.PoolMin, Max: cfg.PoolMax, Target: cfg.PoolTarget,
		ScaleUpFactor: cfg.PoolScaleUpFactor, LatencyThreshold: cfg.PoolLatencyThreshold,
		IdleTimeout: cfg.PoolIdleTimeout, HealthInterval: cfg.PoolHealthInterval,
		LeaseTimeout: cfg.PoolLeaseTimeout, CancelGrace: cfg.PoolCancelGrace,
	}, mcpbackend.Factory())
	if err != nil {
		return fmt.Errorf("build session pool: %w", err)
	}
	defer pool.Close()

	c, err := cache.New(cfg.CacheCapacity)
	if err != nil {
		return fmt.Errorf("build cache: %w", err)
	}
	prefixIdx := cache.NewPrefixIndex()

	breakerCfg := breaker.DefaultConfig()
	breakerCfg.FailureThreshold = cfg.BreakerFailureThreshold
	breakerCfg.OpenDuration = cfg.BreakerCooldown
	breakerCfg.HalfOpenMaxCalls = cfg.BreakerHalfOpenMax
	breakers := breaker.NewRegistry(breakerCfg)

	metrics := observability.NewMetrics()

	dispatcher := bridgeapi.NewDispatcher(registry, authz, hubconfigs, st, metrics, q, pool, c, prefixIdx, breakers, bridgeapi.DispatcherConfig{
		DefaultDeadline: cfg.QueueDefaultDeadline,
		MaxDeadline:     cfg.QueueMaxDeadline,
		HubCallTimeout:  cfg.HubCallTimeout,
	})
	go dispatcher.Run(ctx)
	go pool.RunHealthChecks(ctx)
	go runRetentionSweeper(ctx, st, cfg.RetentionDays)

	server := bridgeapi.NewServer(st, authz, signer, hubconfigs, registry, dispatcher, q, pool, metrics, bridgeapi.ServerConfig{
		AccessTokenTTL:     cfg.AccessTokenTTL,
		RefreshTokenTTL:    cfg.RefreshTokenTTL,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RateLimitBurst:     cfg.RateLimitBurst,
	})

	httpServer := &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      server.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.BindAddr).Msg("starting bridge HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("shutting down gracefully")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	log.Info().Msg("bridge stopped")
	return nil
}

func randomKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func seedDefaultAdmin(ctx context.Context, st *store.Store, cfg *config.Config, registry *tools.Registry) error {
	if _, err := st.FindUserByUsername(ctx, cfg.DefaultAdminUsername); err == nil {
		return nil
	}
	hash, err := crypto.HashPassword(cfg.DefaultAdminPassword)
	if err != nil {
		return err
	}
	admin, err := st.CreateUser(ctx, cfg.DefaultAdminUsername, cfg.DefaultAdminUsername+"@localhost", hash, true, true)
	if err != nil {
		return err
	}
	// The seeded admin gets explicit per-user grants for every tool,
	// including the mutating/meta ones whose system default is
	// disabled; later tool registrations need an explicit grant.
	for _, def := range registry.List() {
		full := store.Permission{CanRead: true, CanWrite: true, CanExecute: true, Enabled: true}
		if err := st.SetToolPermission(ctx, admin.ID, def.Name, full); err != nil {
			return err
		}
	}
	log.Warn().Str("username", cfg.DefaultAdminUsername).Msg("seeded default admin account; must_change_password is set")
	return nil
}

func seedToolPermissions(ctx context.Context, st *store.Store, registry *tools.Registry) error {
	defaults := make(map[string]store.Permission, len(registry.List()))
	for _, def := range registry.List() {
		// Read-only tools are usable out of the box; mutating and
		// meta-operation tools start disabled until an admin opts a
		// user in, since they can change hub state.
		defaults[def.Name] = store.Permission{
			CanRead:    def.Class == auth.ReadOnly,
			CanWrite:   false,
			CanExecute: false,
			Enabled:    def.Class == auth.ReadOnly,
		}
	}
	return st.SeedDefaultToolPermissions(ctx, defaults)
}

func runRetentionSweeper(ctx context.Context, st *store.Store, retentionDays int) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	horizon := time.Duration(retentionDays) * 24 * time.Hour
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logsDeleted, requestsDeleted, sessionsDeleted, err := st.SweepExpired(ctx, time.Now(), horizon)
			if err != nil {
				log.Error().Err(err).Msg("retention sweep failed")
				continue
			}
			if logsDeleted > 0 || requestsDeleted > 0 || sessionsDeleted > 0 {
				log.Info().
					Int64("logs_deleted", logsDeleted).
					Int64("requests_deleted", requestsDeleted).
					Int64("sessions_deleted", sessionsDeleted).
					Msg("retention sweep completed")
			}
		}
	}
}

