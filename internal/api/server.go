package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/betagouv/euphrosyne-tools-api/internal/auth"
	"github.com/betagouv/euphrosyne-tools-api/internal/lifecycle"
)

// Lifecycle defines the operations exposed over HTTP.
type Lifecycle interface {
	Accept(op lifecycle.Operation) (lifecycle.AcceptResult, error)
	GetStatus(ctx context.Context, op lifecycle.Operation) (lifecycle.StatusView, error)
	Tracked() int
}

// Config holds API server configuration
type Config struct {
	Listen  string
	Auth    auth.Config
	Version string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	lifecycle Lifecycle
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, lc Lifecycle, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		lifecycle: lc,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)
	if !s.config.Auth.Enabled() {
		s.logger.Warn("no API credentials configured, lifecycle routes will reject every request")
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeLifecycleWrite)).
			Post("/data/projects/{projectID}/{operation}", s.handleAccept)
		r.With(s.requireScopes(auth.ScopeLifecycleRead, auth.ScopeLifecycleWrite)).
			Get("/data/projects/{projectID}/{operation}/{operationID}", s.handleStatus)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
