// Package api provides the read-only HTTP API: cached position summaries,
// recent alert history and health/metrics endpoints. All live data comes from
// the snapshot cache; no request ever triggers a chain call.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/position-sentinel/internal/logging"
	"github.com/position-sentinel/internal/models"
	"github.com/position-sentinel/internal/types"
)

// SummaryReader serves cached position summaries.
type SummaryReader interface {
	List(ctx context.Context, kind types.ContractKind, userID string) ([]*models.PositionSummary, error)
}

// AlertHistoryReader serves the append-only alert history.
type AlertHistoryReader interface {
	Recent(ctx context.Context, userID string, limit int) ([]*models.AlertLogEntry, error)
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	summaries  SummaryReader
	alerts     AlertHistoryReader
	config     *ServerConfig
	log        *zap.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestsPerSec  float64
	Burst           int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, summaries SummaryReader, alerts AlertHistoryReader) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		summaries: summaries,
		alerts:    alerts,
		config:    config,
		log:       logging.Named("api.server"),
	}

	s.setupRouter()
	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSec, s.config.Burst)

	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/summaries/loans", s.handleLoanSummaries).Methods("GET")
	api.HandleFunc("/summaries/lp", s.handleLpSummaries).Methods("GET")
	api.HandleFunc("/alerts/recent", s.handleRecentAlerts).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "position-sentinel",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info("starting API server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
