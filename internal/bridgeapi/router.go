package bridgeapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hubbridge/mcp-gateway/internal/admin"
	"github.com/hubbridge/mcp-gateway/internal/auth"
	"github.com/hubbridge/mcp-gateway/internal/crypto"
	"github.com/hubbridge/mcp-gateway/internal/hubconfig"
	"github.com/hubbridge/mcp-gateway/internal/observability"
	"github.com/hubbridge/mcp-gateway/internal/queue"
	"github.com/hubbridge/mcp-gateway/internal/store"
	"github.com/hubbridge/mcp-gateway/internal/tools"
)

// ServerConfig carries the HTTP layer's own tunables; zero values
// fall back to the gateway's defaults.
type ServerConfig struct {
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	RateLimitPerMinute int // 0 disables rate limiting
	RateLimitBurst     int
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = 15 * time.Minute
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	return c
}

// Server holds every dependency the HTTP layer needs to serve the
// bridge's routes.
type Server struct {
	store          *store.Store
	authz          *auth.Pipeline
	signer         *crypto.JWTSigner
	hubconfigs     *hubconfig.Manager
	registry       *tools.Registry
	dispatcher     *Dispatcher
	queue          *queue.Queue
	pool           *queue.Pool
	metrics        *observability.Metrics
	admin          *admin.Handlers
	clientSessions *clientSessionRegistry
	limiter        *rateLimiter
	cfg            ServerConfig
}

// NewServer assembles a Server from its fully-constructed
// dependencies (built at bootstrap, passed in here already wired).
func NewServer(st *store.Store, authz *auth.Pipeline, signer *crypto.JWTSigner, hubconfigs *hubconfig.Manager, registry *tools.Registry, dispatcher *Dispatcher, q *queue.Queue, pool *queue.Pool, metrics *observability.Metrics, cfg ServerConfig) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		store:          st,
		authz:          authz,
		signer:         signer,
		hubconfigs:     hubconfigs,
		registry:       registry,
		dispatcher:     dispatcher,
		queue:          q,
		pool:           pool,
		metrics:        metrics,
		admin:          admin.New(st, metrics),
		clientSessions: newClientSessionRegistry(time.Hour),
		cfg:            cfg,
	}
	if cfg.RateLimitPerMinute > 0 {
		s.limiter = newRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	}
	return s
}

// Routes builds the full chi router: unauthenticated health/auth
// routes, then everything else behind the bearer-token pipeline.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.metricsMiddleware)

	r.Get("/health", s.Health)
	r.Get("/metrics", s.Metrics)

	r.Post("/auth/login", s.Login)
	r.Post("/auth/refresh", s.Refresh)

	r.Group(func(r chi.Router) {
		r.Use(s.authz.Middleware)
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}

		r.Post("/auth/logout", s.Logout)
		r.Post("/auth/api-tokens", s.CreateApiToken)
		r.Get("/auth/api-tokens", s.ListApiTokens)
		r.Delete("/auth/api-tokens/{id}", s.RevokeApiToken)

		r.Post("/hub-configs", s.CreateHubConfig)
		r.Get("/hub-configs", s.ListHubConfigs)
		r.Get("/hub-configs/{id}", s.GetHubConfig)
		r.Put("/hub-configs/{id}", s.UpdateHubConfig)
		r.Delete("/hub-configs/{id}", s.DeleteHubConfig)
		r.Post("/hub-configs/{id}/probe", s.ProbeHubConfig)
		r.Post("/hub-configs/{id}/default", s.SetDefaultHubConfig)

		r.Post("/mcp/initialize", s.MCPInitialize)
		r.Post("/mcp/tools/list", s.MCPToolsList)
		r.Post("/mcp/tools/call", s.MCPToolsCall)
		r.Get("/mcp/status", s.MCPStatus)

		s.mountAdminRoutes(r)
	})

	return r
}

func chiURLParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}
