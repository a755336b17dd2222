// Package apiserver provides the JSON/SSE API HTTP server implementation
package apiserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/culinara/v2/internal/application/generation"
	"github.com/culinara/v2/internal/infrastructure/config"
	"github.com/culinara/v2/internal/infrastructure/http/handlers"
	"github.com/culinara/v2/internal/infrastructure/http/middleware"
	"github.com/culinara/v2/internal/infrastructure/monitoring"
	"github.com/culinara/v2/internal/streaming"
)

// APIServer serves the generation API and its operational endpoints
type APIServer struct {
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server
	router  *chi.Mux
	metrics *monitoring.MetricsCollector

	service    *generation.Service
	dispatcher *streaming.Dispatcher
}

// NewAPIServer creates a new API server instance
func NewAPIServer(
	cfg *config.Config,
	log *zap.Logger,
	service *generation.Service,
	dispatcher *streaming.Dispatcher,
	metrics *monitoring.MetricsCollector,
) *APIServer {
	server := &APIServer{
		config:     cfg,
		logger:     log,
		service:    service,
		dispatcher: dispatcher,
		metrics:    metrics,
	}

	server.router = server.setupRoutes()
	server.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     server.router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// No WriteTimeout: generation streams stay open far longer than any
		// sane write deadline. The dispatcher enforces the stream timeout.
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	return server
}

// setupRoutes configures the API routes
func (s *APIServer) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger, s.metrics))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Security())
	if s.config.Server.EnableCORS {
		r.Use(middleware.CORS(s.config.Server.AllowedOrigins))
	}
	if s.config.RateLimit.Enable {
		r.Use(middleware.RateLimit(
			s.config.RateLimit.RequestsPerMin,
			s.config.RateLimit.BurstSize,
		))
	}

	// Operational endpoints
	r.Get("/health", s.handleHealthCheck)
	r.Method("GET", "/metrics", promhttp.Handler())

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.JSONOnly())

		streamH := handlers.NewStreamAPIHandlers(s.service, s.dispatcher, s.logger)
		r.Post("/generate/{step}/stream", streamH.GenerateStream)
	})

	return r
}

// handleHealthCheck handles GET /health
func (s *APIServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"service":   s.config.App.Name,
		"version":   s.config.App.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Start starts the HTTP server
func (s *APIServer) Start() error {
	s.logger.Info("Starting API server",
		zap.String("address", s.server.Addr),
		zap.Bool("cors", s.config.Server.EnableCORS),
		zap.Bool("rate_limit", s.config.RateLimit.Enable),
	)

	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the router, for tests
func (s *APIServer) Router() http.Handler {
	return s.router
}
