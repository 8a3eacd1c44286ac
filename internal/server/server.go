// Package server exposes the engine over a headless HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/zkdca/internal/server/handler"
	"github.com/alanyoungcy/zkdca/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port   int
	APIKey string // empty disables authentication
}

// Handlers aggregates the handlers the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered and the middleware
// chain applied.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("POST /api/positions", handlers.Positions.CreatePosition)
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.GetPosition)
	mux.HandleFunc("DELETE /api/positions/{id}", handlers.Positions.CancelPosition)
	mux.HandleFunc("GET /api/positions/{id}/executions", handlers.Positions.ListExecutions)
	mux.HandleFunc("POST /api/positions/{id}/execute", handlers.Positions.TriggerExecution)
	mux.HandleFunc("GET /api/eligible", handlers.Positions.ListEligible)

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Start listens for requests until the server errors or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
