package core

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"stride/internal/config"
)

// Server bundles the chassis dependencies and the router. Domain handlers
// are mounted onto it after construction, which keeps route registration
// under the caller's (and the tests') control.
type Server struct {
	Config       *config.Config
	Logger       *slog.Logger
	Validator    *Validator
	Metrics      *Metrics
	HealthProbes []HealthProbe

	router *chi.Mux
}

// NewServer builds the Server and installs the base middleware chain:
// recovery outermost, then request IDs, logging, and metrics.
func NewServer(cfg *config.Config, logger *slog.Logger, metrics *Metrics) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		Metrics:   metrics,
		router:    chi.NewRouter(),
	}

	s.router.Use(Recoverer(logger))
	s.router.Use(RequestID)
	s.router.Use(RequestLogger(logger))
	if metrics != nil {
		s.router.Use(MetricsMiddleware(metrics))
	}

	s.router.Get("/health", s.HandleHealth)
	if metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	return s, nil
}

// Handler returns the router as an http.Handler for http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}
