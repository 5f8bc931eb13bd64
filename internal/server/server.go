// Package server provides the HTTP API of the optimizer.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/auth"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/config"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/optimizer"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/server/middleware"
)

// OptimizerService is the part of optimizer.Service the API exposes.
type OptimizerService interface {
	Optimize(ctx context.Context, req *optimizer.Request) (*optimizer.Result, error)
	GetState(ctx context.Context, datacenterID string) (*domain.OptimizerState, error)
	ResetState(ctx context.Context, datacenterID string) error
	ListPlans(ctx context.Context, datacenterID string, limit int) ([]*domain.MigrationPlan, error)
	GetPlan(ctx context.Context, id string) (*domain.MigrationPlan, error)
}

// EventSource streams optimizer events.
type EventSource interface {
	Subscribe(ctx context.Context) <-chan domain.Event
}

// HealthChecker is a backend the readiness probe pings.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// VMRegistrar records pending VMs before a placement is executed against
// an inventory that needs their demand.
type VMRegistrar interface {
	AddVM(datacenterID string, vm *domain.VM) error
}

// Server represents the main HTTP server.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	mux        *http.ServeMux

	optimizer OptimizerService
	events    EventSource
	registrar VMRegistrar
	jwt       *auth.JWTManager
	gatherer  prometheus.Gatherer
	checks    map[string]HealthChecker
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithEvents enables the websocket event stream.
func WithEvents(events EventSource) ServerOption {
	return func(s *Server) {
		s.events = events
	}
}

// WithAuth enables bearer token authentication on /api/.
func WithAuth(manager *auth.JWTManager) ServerOption {
	return func(s *Server) {
		s.jwt = manager
	}
}

// WithMetrics serves the collectors of a registry on the metrics path.
func WithMetrics(gatherer prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.gatherer = gatherer
	}
}

// WithHealthCheck adds a backend to the readiness probe.
func WithHealthCheck(name string, checker HealthChecker) ServerOption {
	return func(s *Server) {
		s.checks[name] = checker
	}
}

// WithVMRegistrar registers placement VMs before executed placements.
func WithVMRegistrar(registrar VMRegistrar) ServerOption {
	return func(s *Server) {
		s.registrar = registrar
	}
}

// New creates a new server instance.
func New(cfg *config.Config, svc OptimizerService, logger *zap.Logger, opts ...ServerOption) *Server {
	mux := http.NewServeMux()

	s := &Server{
		config:    cfg,
		logger:    logger.With(zap.String("component", "server")),
		mux:       mux,
		optimizer: svc,
		checks:    make(map[string]HealthChecker),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      s.setupMiddleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.healthHandler)
	s.mux.HandleFunc("GET /healthz", s.healthHandler)
	s.mux.HandleFunc("GET /ready", s.readyHandler)
	s.mux.HandleFunc("GET /live", s.liveHandler)

	s.mux.HandleFunc("POST /api/v1/datacenters/{id}/placements", s.placeHandler)
	s.mux.HandleFunc("POST /api/v1/datacenters/{id}/consolidations", s.consolidateHandler)
	s.mux.HandleFunc("GET /api/v1/datacenters/{id}/plans", s.listPlansHandler)
	s.mux.HandleFunc("GET /api/v1/plans/{id}", s.getPlanHandler)
	s.mux.HandleFunc("GET /api/v1/datacenters/{id}/state", s.getStateHandler)
	s.mux.HandleFunc("DELETE /api/v1/datacenters/{id}/state", s.resetStateHandler)

	if s.events != nil {
		s.mux.Handle("GET /api/v1/events", newEventsHandler(s.events, s.logger))
	}

	if s.config.Metrics.Enabled && s.gatherer != nil {
		path := s.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.mux.Handle("GET "+path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	s.logger.Info("All routes registered",
		zap.Bool("auth", s.jwt != nil),
		zap.Bool("events", s.events != nil),
		zap.Bool("metrics", s.config.Metrics.Enabled && s.gatherer != nil),
	)
}

// setupMiddleware configures middleware chain.
func (s *Server) setupMiddleware(handler http.Handler) http.Handler {
	if s.jwt != nil {
		handler = middleware.NewAuthenticator(s.jwt, s.logger).Wrap(handler)
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.config.CORS.AllowedOrigins,
		AllowedMethods:   s.config.CORS.AllowedMethods,
		AllowedHeaders:   s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           86400, // 24 hours
	})

	handler = corsHandler.Handler(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)

	return handler
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		// Skip logging for probes
		switch r.URL.Path {
		case "/health", "/healthz", "/ready", "/live", s.config.Metrics.Path:
			return
		}

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("path", r.URL.Path),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack hands the connection to the websocket upgrader.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// healthHandler returns health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"ouracs"}`)
}

// readyHandler pings every registered backend.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ready := true
	details := map[string]string{}

	for name, check := range s.checks {
		if err := check.Health(ctx); err != nil {
			ready = false
			details[name] = "unhealthy"
		} else {
			details[name] = "healthy"
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]interface{}{
		"ready":      ready,
		"components": details,
	})
}

// liveHandler returns liveness status.
func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"alive":true}`)
}

// Run starts the HTTP server and blocks until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting server",
		zap.String("address", s.config.Server.Address()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	return s.Shutdown()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down server...")

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}

	s.logger.Info("Server stopped gracefully")
	return nil
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Server.Address()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to write JSON response", zap.Error(err))
	}
}
