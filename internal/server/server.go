package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/calgate/calgate/internal/gateway"
	"github.com/calgate/calgate/internal/handler"
	"github.com/calgate/calgate/internal/openapi"
	"github.com/calgate/calgate/internal/server/middleware"
	"github.com/calgate/calgate/internal/service"
	"github.com/calgate/calgate/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	BaseURL         string // advertised in the OpenAPI document

	// GatewayRateLimit caps protocol requests per API key per minute.
	// LoginRateLimit caps login attempts per IP per minute.
	GatewayRateLimit int
	LoginRateLimit   int
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:             "0.0.0.0",
		Port:             8080,
		ShutdownTimeout:  30 * time.Second,
		CORSOrigins:      []string{"*"},
		BaseURL:          "http://localhost:8080",
		GatewayRateLimit: 120,
		LoginRateLimit:   10,
	}
}

// Server is the top-level HTTP server for Calgate. It owns the Chi router,
// the protocol dispatcher, and the management API handlers.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	dispatcher *gateway.Dispatcher
	httpServer *http.Server
	logger     *slog.Logger

	sessions    *handler.SessionHandler
	keys        *handler.KeyHandler
	credentials *handler.CredentialHandler
	dashboard   *handler.DashboardHandler
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(
	cfg Config,
	st *store.Store,
	authSvc *service.AuthService,
	keySvc *service.KeyService,
	vault *service.Vault,
	analytics *service.Analytics,
	dispatcher *gateway.Dispatcher,
	logger *slog.Logger,
) *Server {
	s := &Server{
		cfg:         cfg,
		store:       st,
		dispatcher:  dispatcher,
		logger:      logger,
		sessions:    handler.NewSessionHandler(authSvc),
		keys:        handler.NewKeyHandler(keySvc),
		credentials: handler.NewCredentialHandler(vault),
		dashboard:   handler.NewDashboardHandler(analytics),
	}
	s.setupRouter(authSvc)
	return s
}

func (s *Server) setupRouter(authSvc *service.AuthService) {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Health check (no auth required) ---
	r.Get("/healthz", s.handleHealthz)

	// --- OpenAPI document (no auth required) ---
	doc, err := json.Marshal(openapi.Generate(s.cfg.BaseURL))
	if err != nil {
		s.logger.Error("openapi document generation failed", "error", err)
	} else {
		r.Get("/openapi.json", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write(doc)
		})
	}

	// --- Protocol endpoint ---
	// Identity is resolved inside the dispatcher, not by middleware, so an
	// invalid key maps to the gateway's own 403 shape.
	r.Group(func(r chi.Router) {
		if s.cfg.GatewayRateLimit > 0 {
			r.Use(middleware.RateLimitByHeader(gateway.APIKeyHeader, s.cfg.GatewayRateLimit))
		}
		r.Post("/mcp", s.dispatcher.ServeHTTP)
	})

	// --- Management API ---
	r.Route("/api/v1", func(r chi.Router) {

		// Login is unauthenticated and brute-force limited.
		r.Group(func(r chi.Router) {
			if s.cfg.LoginRateLimit > 0 {
				r.Use(middleware.RateLimit(s.cfg.LoginRateLimit))
			}
			r.Post("/session", s.sessions.Login)
		})
		r.Delete("/session", s.sessions.Logout)

		// Everything else requires a session.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(authSvc))

			// API key self-service
			r.Get("/keys", s.keys.ListKeys)
			r.Post("/keys", s.keys.CreateKey)
			r.Delete("/keys/{keyId}", s.keys.RevokeKey)

			// Calendar credentials
			r.Put("/credentials", s.credentials.PutCredentials)
			r.Get("/credentials/status", s.credentials.CredentialStatus)
			r.Delete("/credentials", s.credentials.DeleteCredentials)

			// Admin dashboard
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin())
				r.Get("/dashboard/stats", s.dashboard.Stats)
				r.Get("/dashboard/analytics", s.dashboard.Analytics)
				r.Get("/dashboard/requests", s.dashboard.Requests)
			})
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before closing the store.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

	if err := s.store.Close(); err != nil {
		s.logger.Warn("store close failed", "error", err)
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
