// Package web serves the analysis API over HTTP.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/heatcheck/internal/cache"
	"github.com/heatcheck/internal/config"
	"github.com/heatcheck/internal/db"
	"github.com/heatcheck/internal/logging"
	"github.com/heatcheck/internal/pipeline"
	"github.com/heatcheck/internal/review"
	"github.com/heatcheck/internal/web/handlers"
	"github.com/heatcheck/internal/web/metrics"
	"github.com/heatcheck/internal/web/middleware"
)

// Server represents the web server
type Server struct {
	config     config.ServerConfig
	logger     *logging.Logger
	handler    *handlers.AnalysisHandler
	metrics    *metrics.Metrics
	httpServer *http.Server
	router     *mux.Router
	closers    []func() error
}

// NewServer wires the pipeline, cache and optional review queue from cfg
func NewServer(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Server, error) {
	opts, err := cfg.Pipeline.Options()
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	p, err := pipeline.New(opts, logger)
	if err != nil {
		return nil, err
	}

	resultCache, err := cache.New(ctx, cfg.Cache.CacheOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	s := &Server{config: cfg.Server, logger: logger.WithComponent("web"), metrics: metrics.New()}
	s.closers = append(s.closers, resultCache.Close)

	var queue *review.Queue
	if cfg.Database.URL != "" {
		conn, err := db.NewConnection(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, conn.Close)

		queue = review.NewQueue(conn.DB, cfg.Database.ReviewTable, logger)
		if err := queue.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}

	s.handler = &handlers.AnalysisHandler{
		Pipeline:       p,
		Cache:          resultCache,
		CacheBackend:   cfg.Cache.Backend,
		Queue:          queue,
		Metrics:        s.metrics,
		Logger:         s.logger,
		MaxUpload:      cfg.Server.MaxUploadMB << 20,
		InputEncoding:  cfg.Input.InputEncoding(),
		ExportEncoding: cfg.Input.OutputEncoding(),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// newRoutedServer builds a server around an existing handler, without listening
func newRoutedServer(handler *handlers.AnalysisHandler, logger *logging.Logger) *Server {
	s := &Server{logger: logger, handler: handler, metrics: handler.Metrics}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/analyze", s.handler.Analyze).Methods("POST")
	api.HandleFunc("/deviation", s.handler.Deviation).Methods("POST")
	api.HandleFunc("/series", s.handler.Series).Methods("POST")
	api.HandleFunc("/repeats", s.handler.Repeats).Methods("POST")
	api.HandleFunc("/export", s.handler.Export).Methods("POST")
	api.HandleFunc("/publish", s.handler.Publish).Methods("POST")
	api.HandleFunc("/health", s.handler.Health).Methods("GET")

	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	s.router.Use(middleware.Recover(s.logger))
	s.router.Use(middleware.RequestLogging(s.logger, s.metrics))
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// down gracefully
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.Close()
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Server shutdown error", "error", err)
	}
	s.Close()
	s.logger.Info("Server stopped")
	return nil
}

// Close releases the cache and database connections
func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("Close failed", "error", err)
		}
	}
	s.closers = nil
}
