// Package core provides the HTTP chassis for the Briefhub API. It creates a
// chi router and enforces cross-cutting concerns (security, logging, error
// handling) before requests reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"briefhub/internal/config"
)

// Server encapsulates all dependencies for the Briefhub API, allowing for
// easy injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Authenticator Authenticator // Resolves tokens to Actors; injected for testability.

	// V1RouteRegistrars are populated by the application entry point so
	// domain handler packages can register routes under /v1 without core
	// importing them (avoids import cycles).
	V1RouteRegistrars []func(chi.Router)

	// WebhookRegistrars register unauthenticated provider callback routes
	// under /webhooks. Webhook authenticity is enforced by signature
	// verification inside the handlers, not by the auth middleware.
	WebhookRegistrars []func(chi.Router)

	// HealthProbes are the subsystem checks executed by GET /health.
	HealthProbes []HealthProbe

	// shutdownHooks run in registration order during Shutdown.
	shutdownHooks []func(context.Context) error

	router *chi.Mux
}

// NewServer initializes dependencies, sets up the router, and prepares the
// server for route mounting. It performs a fail-fast check on critical
// configuration.
//
// The caller is responsible for mounting routes (via MountRoutes) after
// construction. This separation allows tests to customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a cleanup function executed during Shutdown.
// Hooks run in registration order; the first error aborts the sequence.
func (s *Server) OnShutdown(fn func(context.Context) error) {
	s.shutdownHooks = append(s.shutdownHooks, fn)
}

// Shutdown performs a graceful termination of server resources by running
// all registered shutdown hooks (database pools, outbound clients).
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	for _, hook := range s.shutdownHooks {
		if err := hook(ctx); err != nil {
			s.Logger.Error("shutdown hook failed", "error", err)
			return fmt.Errorf("running shutdown hook: %w", err)
		}
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
