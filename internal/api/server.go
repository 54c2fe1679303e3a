package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/amaumene/totalrecall/internal/api/handlers"
	"github.com/amaumene/totalrecall/internal/api/middleware"
	"github.com/amaumene/totalrecall/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server represents the HTTP server
type Server struct {
	server *http.Server
	logger *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, runs handlers.RunHistory, sched handlers.Scheduler, logger *logrus.Logger) *Server {
	s := &Server{logger: logger}

	mux := http.NewServeMux()
	setupRoutes(mux, runs, sched, logger)

	s.server = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      middleware.Logging(mux, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the routed handler, for tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// setupRoutes configures all HTTP routes
func setupRoutes(mux *http.ServeMux, runs handlers.RunHistory, sched handlers.Scheduler, logger *logrus.Logger) {
	mux.Handle("/health", handlers.NewHealthHandler(runs, logger))
	mux.Handle("/status", handlers.NewStatusHandler(runs, sched, logger))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/api/sync", handlers.NewTriggerHandler(sched, logger))
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.logger.WithField("addr", ln.Addr().String()).Info("Starting HTTP server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
