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

	"github.com/proposalgate/proposalgate/internal/handler"
	"github.com/proposalgate/proposalgate/internal/openapi"
	"github.com/proposalgate/proposalgate/internal/server/middleware"
	"github.com/proposalgate/proposalgate/internal/store"
	"github.com/proposalgate/proposalgate/internal/telemetry"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host               string
	Port               int
	ShutdownTimeout    time.Duration
	CORSOrigins        []string
	RateLimitPerMinute int
	// Version is reported in the OpenAPI document.
	Version string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ShutdownTimeout:    30 * time.Second,
		CORSOrigins:        []string{"*"},
		RateLimitPerMinute: 60,
	}
}

// Deps are the collaborators the router dispatches to.
type Deps struct {
	Access  *handler.AccessHandler
	Admin   *handler.AdminHandler
	Auth    middleware.TokenValidator
	Store   store.Store
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Server is the top-level HTTP server. It owns the chi router and the
// lifetime of the listener.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Metrics(s.deps.Metrics))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", handler.SessionHeader, "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// --- Health checks and metrics (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/openapi.json", s.handleOpenAPI())
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Public access endpoints, limited per client IP to slow down
		// reference guessing.
		r.Route("/access", func(r chi.Router) {
			r.Use(middleware.RateLimit(s.cfg.RateLimitPerMinute))
			r.Post("/present", s.deps.Access.Present)
			r.Get("/session", s.deps.Access.Session)
			r.Post("/session/extend", s.deps.Access.ExtendSession)
			r.Delete("/session", s.deps.Access.EndSession)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.Authenticate(s.deps.Auth))
			r.Use(middleware.RequireAdmin())

			r.Post("/credentials", s.deps.Admin.IssueCredential)
			r.Get("/credentials", s.deps.Admin.ListCredentials)
			r.Get("/credentials/{id}", s.deps.Admin.GetCredential)
			r.Delete("/credentials/{id}", s.deps.Admin.RevokeCredential)

			r.Get("/sessions", s.deps.Admin.ListSessions)
			r.Delete("/sessions/{id}", s.deps.Admin.EndSession)

			r.Post("/sweep", s.deps.Admin.Sweep)
			r.Post("/inspect", s.deps.Admin.Inspect)
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

// handleReadyz is a readiness probe. Returns 200 when the credential store
// answers a ping, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{"store": "ok"}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.deps.Store.Ping(ctx); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}

// handleOpenAPI serves the API document. It is generated once.
func (s *Server) handleOpenAPI() http.HandlerFunc {
	doc, err := json.Marshal(openapi.Generate(s.cfg.Version))
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"code":500,"message":"OpenAPI document unavailable"}}`))
			return
		}
		w.Write(doc)
	}
}

// ListenAndServe starts the HTTP server and blocks until ctx is cancelled or
// a SIGINT or SIGTERM is received. It then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
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
