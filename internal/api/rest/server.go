// Package rest exposes the detection engine over HTTP: the JSON API, the
// WebSocket event stream, health probes, and Prometheus exposition.
package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/davidleathers/anomaly-detection-backend/internal/infrastructure/config"
	"github.com/davidleathers/anomaly-detection-backend/internal/metrics"
	detectionsvc "github.com/davidleathers/anomaly-detection-backend/internal/service/detection"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// HealthCheck verifies one dependency; a nil map entry is skipped.
type HealthCheck func(ctx context.Context) error

// Server is the HTTP front of the detection service.
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	handler    *Handler
	hub        *StreamHub
	logger     *slog.Logger
	checks     map[string]HealthCheck
}

// NewServer assembles the routing table and middleware chain around an
// already-wired detection service.
func NewServer(
	cfg *config.Config,
	svc detectionsvc.Service,
	registry *metrics.Registry,
	checks map[string]HealthCheck,
	logger *slog.Logger,
) *Server {
	hub := NewStreamHub(logger)

	s := &Server{
		cfg:     cfg,
		hub:     hub,
		logger:  logger,
		checks:  checks,
		handler: NewHandler(svc, hub, logger),
	}

	middlewares := []Middleware{
		recoveryMiddleware(logger),
		loggingMiddleware(logger),
		rateLimitMiddleware(cfg.Security.RateLimit),
	}
	if registry != nil {
		middlewares = append(middlewares, metricsMiddleware(registry))
	}
	if cfg.Security.JWTSecret != "" {
		middlewares = append(middlewares, authMiddleware(cfg.Security.JWTSecret, logger))
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain(s.routes(), middlewares...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

func chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	v1 := http.NewServeMux()
	v1.HandleFunc("POST /detect", s.handler.handleDetect)
	v1.HandleFunc("POST /detect/batch", s.handler.handleDetectBatch)
	v1.HandleFunc("GET /history", s.handler.handleHistory)
	v1.HandleFunc("GET /metrics", s.handler.handleModelMetrics)
	v1.HandleFunc("POST /feedback", s.handler.handleFeedback)
	v1.HandleFunc("POST /train", s.handler.handleTrain)
	v1.HandleFunc("GET /train/status", s.handler.handleTrainStatus)
	v1.HandleFunc("GET /export", s.handler.handleExport)
	v1.HandleFunc("GET /stream", s.handler.handleStream)

	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", v1))
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	result := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if check == nil {
			continue
		}
		if err := check(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			result[name] = err.Error()
			continue
		}
		result[name] = "ok"
	}

	writeJSON(w, status, map[string]interface{}{
		"status": map[bool]string{true: "healthy", false: "unhealthy"}[status == http.StatusOK],
		"checks": result,
	})
}

// Start runs the stream hub and serves HTTP until the listener fails.
func (s *Server) Start() error {
	go s.hub.Run()
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the stream hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	return s.httpServer.Shutdown(ctx)
}
