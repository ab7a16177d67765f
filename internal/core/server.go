// Package core provides the HTTP chassis for the floodguard API: the chi
// router, the global middleware chain, JSON response helpers, request
// validation, admin-key checks and the health endpoint. Domain handlers are
// mounted through V1RouteRegistrars so this package never imports them.
package core

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"floodguard/internal/config"
)

// MetricsCollector records API telemetry. Both metrics backends implement it.
type MetricsCollector interface {
	// RecordRequest records the latency and count of one request. endpoint is
	// the matched route pattern, not the raw path.
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// Server holds the dependencies shared by every route.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector

	// HealthProbes are run concurrently by GET /health.
	HealthProbes []HealthProbe
	// V1RouteRegistrars mount domain routes under /v1.
	V1RouteRegistrars []func(chi.Router)
	// MetricsHandler is served at GET /metrics when set.
	MetricsHandler http.Handler

	router *chi.Mux
}

// NewServer prepares a server for route mounting. The caller mounts routes
// with MountRoutes after setting the optional fields.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}
