// Package server exposes the control plane's REST API.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/me/subarray/internal/config"
	"github.com/me/subarray/internal/subarray"
)

// Server is the subarray control-plane REST API server.
type Server struct {
	router     chi.Router
	logger     *slog.Logger
	config     config.ServerConfig
	startTime  time.Time
	controller *subarray.Controller
	gatherer   prometheus.Gatherer // optional; enables /metrics
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithMetricsGatherer mounts /metrics over the given gatherer.
func WithMetricsGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// New creates a new Server with all routes registered.
func New(cfg config.ServerConfig, ctrl *subarray.Controller, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		logger:     logger.With("component", "server"),
		config:     cfg,
		startTime:  time.Now(),
		controller: ctrl,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// API routes (JSON)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/subarrays", func(r chi.Router) {
			r.Get("/", s.handleListSubarrays)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSubarray)
				r.Post("/addreceptors", s.handleAddReceptors)
				r.Post("/removereceptors", s.handleRemoveReceptors)
				r.Post("/removeallreceptors", s.handleRemoveAllReceptors)
				r.Post("/configure", s.handleConfigureScan)
				r.Post("/scan", s.handleScan)
				r.Post("/endscan", s.handleEndScan)
				r.Post("/gotoidle", s.handleGoToIdle)
				r.Post("/abort", s.handleAbort)
				r.Post("/obsreset", s.handleObsReset)
				r.Post("/restart", s.handleRestart)
				r.Post("/models/{type}", s.handleSubmitModel)
			})
		})
	})
}
