// Package server provides the HTTP front of the gateway: the public
// OpenAI-compatible endpoints, the administrative surface and the
// operational probes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"helios-hq/helios/pkg/breaker"
	"helios-hq/helios/pkg/config"
	"helios-hq/helios/pkg/fallback"
	"helios-hq/helios/pkg/gateway"
	"helios-hq/helios/pkg/registry"
	"helios-hq/helios/pkg/server/middleware"
	"helios-hq/helios/pkg/telemetry/metrics"
)

// Server is the gateway's HTTP server.
type Server struct {
	config       config.ServerConfig
	orchestrator *gateway.Orchestrator
	store        registry.Store
	breakers     *breaker.Registry
	fallback     *fallback.Engine
	metrics      *metrics.Collector
	logger       *slog.Logger

	httpServer   *http.Server
	shutdownOnce sync.Once

	mu        sync.Mutex
	isRunning bool
}

// Options carries the server's collaborators.
type Options struct {
	Config       config.ServerConfig
	Orchestrator *gateway.Orchestrator
	Store        registry.Store
	Breakers     *breaker.Registry
	Fallback     *fallback.Engine
	Metrics      *metrics.Collector
	Logger       *slog.Logger
}

// New creates a server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:       opts.Config,
		orchestrator: opts.Orchestrator,
		store:        opts.Store,
		breakers:     opts.Breakers,
		fallback:     opts.Fallback,
		metrics:      opts.Metrics,
		logger:       logger,
	}
}

// Start runs the server and blocks until the context is canceled, a
// termination signal arrives, or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddress,
		Handler:      s.routes(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting gateway server", "address", s.config.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		s.logger.Info("gateway server stopped")
	})
	return shutdownErr
}

// routes registers handlers and wraps them in the middleware chain.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("POST /v1/embeddings", s.handleEmbeddings)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	if s.config.AdminEnabled == nil || *s.config.AdminEnabled {
		s.registerAdminRoutes(mux)
	}

	var handler http.Handler = mux
	handler = middleware.Logging(s.logger)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(s.logger)(handler)
	return handler
}
