// Package server exposes the HTTP surface: the generate endpoint, health
// and metrics endpoints, and the middleware chain that wraps them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/schemaforge/schemaforge/internal/auth"
	"github.com/schemaforge/schemaforge/internal/engine"
	"github.com/schemaforge/schemaforge/internal/metrics"
)

// Config carries the transport settings the server needs.
type Config struct {
	Port           int
	RequestTimeout time.Duration
}

// Deps are the collaborators the router wires handlers to.
type Deps struct {
	Authorizer *auth.Authorizer
	Engine     *engine.Engine
	Health     *HealthHandler
	Metrics    metrics.Metrics
	Logger     *slog.Logger
}

type Server struct {
	Router *chi.Mux
	http   *http.Server
	logger *slog.Logger
}

// New builds the router and middleware chain. Authorization applies only to
// the /v1 subtree so health and metrics stay reachable by probes.
func New(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(cfg.RequestTimeout))
	r.Use(middleware.Recoverer)

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "schemaforge")
	})

	generate := NewGenerateHandler(deps.Engine, logger)
	r.Route("/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(deps.Authorizer))
		r.Post("/{environment}/processes/{processID}/generate", generate.ServeHTTP)
	})

	if deps.Health != nil {
		r.Get("/healthz", deps.Health.ServeHTTP)
	}
	if prom, ok := deps.Metrics.(*metrics.Prom); ok {
		r.Method(http.MethodGet, "/metrics", prom.Handler())
	}

	return &Server{
		Router: r,
		http: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: r,
		},
		logger: logger,
	}
}

// Start blocks serving requests until Shutdown is called or the listener
// fails.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
