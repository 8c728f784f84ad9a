package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/faucetdb/licensor/internal/config"
	"github.com/faucetdb/licensor/internal/handler"
	"github.com/faucetdb/licensor/internal/license"
	"github.com/faucetdb/licensor/internal/metrics"
	"github.com/faucetdb/licensor/internal/server/middleware"
	"github.com/faucetdb/licensor/internal/service"
	"github.com/faucetdb/licensor/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxBodySize     int64 // bytes
	ClientRPM       int   // per IP on activate/sync
	KeyRPM          int   // per API key on authenticated routes
	APIKeyHeader    string
	SessionTTL      time.Duration
	BaseURL         string // advertised in /openapi.json; derived per request when empty
	TLSCertFile     string
	TLSKeyFile      string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		MaxBodySize:     1 << 20,
		ClientRPM:       600,
		KeyRPM:          1200,
		APIKeyHeader:    "X-API-Key",
		SessionTTL:      time.Hour,
	}
}

// Server is the top-level HTTP server for the license API. It owns the Chi
// router and holds the engine, the license store, the configuration store
// and the authentication service.
type Server struct {
	cfg        Config
	router     chi.Router
	engine     *license.Engine
	licenses   store.Store
	store      *config.Store
	authSvc    *service.AuthService
	metrics    *metrics.Collector
	onShutdown []func() error
	httpServer *http.Server
	logger     *slog.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithMetrics exposes c on GET /metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithShutdownHook registers fn to run after in-flight requests have drained
// and before the license store is closed. Hooks run in registration order.
func WithShutdownHook(fn func() error) Option {
	return func(s *Server) { s.onShutdown = append(s.onShutdown, fn) }
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, engine *license.Engine, licenses store.Store, cfgStore *config.Store, authSvc *service.AuthService, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		engine:   engine,
		licenses: licenses,
		store:    cfgStore,
		authSvc:  authSvc,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(middleware.Caller)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", s.apiKeyHeader(), "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", middleware.LicenseStatusHeader, "Location"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	r.Use(s.limitBody)

	// --- Probes and descriptions (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/openapi.json", handler.NewOpenAPIHandler(s.cfg.BaseURL).ServeSpec)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	licHandler := handler.NewLicenseHandler(s.engine)
	authenticate := middleware.Authenticate(s.authSvc, s.apiKeyHeader())

	r.Route("/api/v1", func(r chi.Router) {

		// Client endpoints called by installed software.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.cfg.ClientRPM))
			r.Post("/license/activate", licHandler.Activate)
			r.Post("/license/sync", licHandler.Sync)
		})

		// Account-side mutations reached with an API key or admin session.
		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Use(middleware.RateLimitByHeader(s.apiKeyHeader(), s.cfg.KeyRPM))
			r.Post("/license/renew", licHandler.Renew)
			r.Post("/license/upgrade", licHandler.Upgrade)
		})

		r.Route("/system", func(r chi.Router) {
			sysHandler := handler.NewSystemHandler(s.store, s.authSvc, s.cfg.SessionTTL)

			// Session endpoints are unauthenticated (login) or self-authenticated (logout)
			r.Post("/admin/session", sysHandler.Login)
			r.Delete("/admin/session", sysHandler.Logout)

			// License administration. Per-operation authorization is
			// enforced by the engine against the caller's role.
			r.Group(func(r chi.Router) {
				r.Use(authenticate)

				r.Get("/license", licHandler.List)
				r.Post("/license", licHandler.Create)
				r.Post("/license/bulk", licHandler.BulkGenerate)
				r.Post("/license/revoke", licHandler.Revoke)
				r.Get("/license/statistics", licHandler.Statistics)
				r.Get("/license/{key}", licHandler.Get)
				r.Get("/license/{key}/usage", licHandler.History)
			})

			// Identity management is reserved for admins.
			r.Group(func(r chi.Router) {
				r.Use(authenticate)
				r.Use(middleware.RequireAdmin())

				r.Get("/role", sysHandler.ListRoles)
				r.Post("/role", sysHandler.CreateRole)
				r.Get("/role/{roleId}", sysHandler.GetRole)
				r.Put("/role/{roleId}", sysHandler.UpdateRole)
				r.Delete("/role/{roleId}", sysHandler.DeleteRole)

				r.Get("/admin", sysHandler.ListAdmins)
				r.Post("/admin", sysHandler.CreateAdmin)

				r.Get("/api-key", sysHandler.ListAPIKeys)
				r.Post("/api-key", sysHandler.CreateAPIKey)
				r.Delete("/api-key/{keyId}", sysHandler.RevokeAPIKey)
			})
		})
	})

	s.router = r
}

func (s *Server) apiKeyHeader() string {
	if s.cfg.APIKeyHeader == "" {
		return "X-API-Key"
	}
	return s.cfg.APIKeyHeader
}

// limitBody caps request bodies at MaxBodySize. Handlers see a
// *http.MaxBytesError once the cap is exceeded.
func (s *Server) limitBody(next http.Handler) http.Handler {
	if s.cfg.MaxBodySize <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the license store and
// the configuration store both answer a ping, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	checks := map[string]string{
		"license_store": "ok",
		"config_store":  "ok",
	}
	if err := s.licenses.Ping(ctx); err != nil {
		checks["license_store"] = "error: " + err.Error()
		status = "degraded"
	}
	if err := s.store.Ping(ctx); err != nil {
		checks["config_store"] = "error: " + err.Error()
		status = "degraded"
	}

	httpStatus := http.StatusOK
	if status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests, running the shutdown hooks and closing the license store.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.TLSCertFile != "" {
			s.logger.Info("server starting", "addr", addr, "tls", true)
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			s.logger.Info("server starting", "addr", addr)
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	for _, fn := range s.onShutdown {
		if err := fn(); err != nil {
			s.logger.Warn("shutdown hook failed", "error", err)
		}
	}
	if err := s.licenses.Close(); err != nil {
		s.logger.Warn("close license store", "error", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
