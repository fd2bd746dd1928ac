// Package server provides the REST status API with lifecycle management.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/raphaelgruber/docpipe/internal/config"
	"github.com/raphaelgruber/docpipe/internal/metrics"
	"github.com/raphaelgruber/docpipe/internal/service"
)

// Server wraps the HTTP server with dependencies and lifecycle management.
type Server struct {
	cfg      config.Config
	manager  *service.JobManager
	executor *service.Executor
	resolve  service.CollectionResolver
	metrics  *metrics.Collector
	logger   *slog.Logger

	httpServer *http.Server
}

// New creates the API server. resolve may be nil, which skips collection
// existence checks on submission (memory-only test setups).
func New(cfg config.Config, manager *service.JobManager, executor *service.Executor, resolve service.CollectionResolver, collector *metrics.Collector, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		manager:  manager,
		executor: executor,
		resolve:  resolve,
		metrics:  collector,
		logger:   logger,
	}

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      LoggingMiddleware(logger)(s.Routes()),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Routes builds the API handler. Exposed separately so tests can drive it
// through httptest without binding a port.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /collections/{id}/ingest", s.handleSubmit)
	mux.HandleFunc("GET /collections/{id}/ingestion-jobs", s.handleList)
	mux.HandleFunc("GET /collections/{id}/ingestion-jobs/{job_id}", s.handleGet)
	mux.HandleFunc("GET /collections/{id}/ingestion-jobs/{job_id}/events", s.handleEvents)
	mux.HandleFunc("GET /collections/{id}/ingestion-status", s.handleSummary)
	mux.HandleFunc("POST /collections/{id}/ingestion-jobs/{job_id}/retry", s.handleRetry)
	mux.HandleFunc("POST /collections/{id}/ingestion-jobs/{job_id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /config/ingestion", s.handleConfig)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	return mux
}

// ListenAndServe runs the server until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("API listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
