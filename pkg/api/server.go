package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sandtrap-io/sandtrap/internal/logger"
)

// Server provides the HTTP control API.
//
// The scheduler uses it to register a task before starting the analysis VM
// and to remove the task afterwards; operators use it to inspect the
// server. It supports graceful shutdown with a configurable timeout.
type Server struct {
	server       *http.Server
	config       APIConfig
	shutdownOnce sync.Once
}

// NewServer creates a control API server in a stopped state. Call Start to
// begin serving requests.
func NewServer(config APIConfig, backend TaskBackend) *Server {
	config.applyDefaults()

	server := &http.Server{
		Addr:         net.JoinHostPort(config.Host, fmt.Sprintf("%d", config.Port)),
		Handler:      NewRouter(backend),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return &Server{
		server: server,
		config: config,
	}
}

// Start serves the control API and blocks until the context is cancelled or
// an error occurs. Cancellation triggers graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("control API listening", logger.KeyAddress, s.server.Addr)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("control API shutdown signal received")
		// Fresh context for shutdown, the incoming one is already cancelled.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("control API failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("control API shutdown error: %w", err)
			logger.Error("control API shutdown error", logger.KeyError, err.Error())
		} else {
			logger.Info("control API stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the configured control API port.
func (s *Server) Port() int {
	return s.config.Port
}
