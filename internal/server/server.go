// Package server exposes filter pipelines over HTTP.
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

	"github.com/tjfontaine/polyglot-time-awareness/internal/auth"
	"github.com/tjfontaine/polyglot-time-awareness/internal/core/ports"
)

// Config configures the HTTP host.
type Config struct {
	Port    int
	Timeout time.Duration // default 30s
	Logger  *slog.Logger
	// Authenticator is optional; nil disables API key checks.
	Authenticator *auth.Authenticator
	// Pipelines maps the {pipeline} path segment to its executor.
	Pipelines map[string]ports.PipelineExecutor
	// Store is reported on /healthz when set.
	Store ports.CorrelationStore
}

type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger
	http   *http.Server
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(timeout))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "time-awareness")
	})

	h := &handlers{pipelines: cfg.Pipelines, store: cfg.Store}

	r.Get("/healthz", h.health)
	r.Group(func(r chi.Router) {
		if cfg.Authenticator != nil {
			r.Use(AuthMiddleware(cfg.Authenticator))
		}
		r.Post("/{pipeline}/filter/inlet", h.inlet)
		r.Post("/{pipeline}/filter/outlet", h.outlet)
	})

	return &Server{
		Router: r,
		Port:   cfg.Port,
		logger: logger,
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
