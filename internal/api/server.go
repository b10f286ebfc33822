// Package api exposes the HTTP surface of the authentication service:
// session endpoints (login, refresh, logout, password reset, two-factor
// enrolment) plus guarded account and team routes.
//
// The server follows the standard lifecycle:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Every route is wrapped by the request gate under a per-route policy;
// handlers read the admission result from the request context.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nexus-stack/nexus-core/internal/guard"
	"github.com/nexus-stack/nexus-core/internal/infrastructure/config"
	"github.com/nexus-stack/nexus-core/internal/infrastructure/logging"
	"github.com/nexus-stack/nexus-core/internal/session"
	"github.com/nexus-stack/nexus-core/internal/store"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.ServerConfig
	Logger   *logging.Logger
	Gate     *guard.Gate
	Sessions *session.Service
	Repos    *store.Repositories
	Version  string
}

// Server is the HTTP server for the authentication service.
type Server struct {
	cfg      config.ServerConfig
	logger   *logging.Logger
	gate     *guard.Gate
	sessions *session.Service
	repos    *store.Repositories
	version  string
	server   *http.Server
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Gate == nil {
		return nil, fmt.Errorf("request gate is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session service is required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}

	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		gate:     deps.Gate,
		sessions: deps.Sessions,
		repos:    deps.Repos,
		version:  deps.Version,
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting for in-flight
// requests up to the shutdown timeout.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
