// Package main is the entry point for the Briefhub API server.
//
// It loads configuration, connects the Postgres pool, wires the Stripe
// client and billing services, builds the HTTP server with the core chassis
// (middleware, routing, health checks), and starts listening for requests.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM):
// the listener drains in-flight requests, then registered shutdown hooks
// release the database pool.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"briefhub/internal/api/handlers"
	"briefhub/internal/auth"
	"briefhub/internal/billing"
	"briefhub/internal/config"
	"briefhub/internal/core"
	"briefhub/internal/db"
	"briefhub/internal/external"
)

// shutdownGrace is the deadline for draining in-flight requests and running
// shutdown hooks after a termination signal.
const shutdownGrace = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on
// error.
func run() error {
	cfg, err := config.LoadConfig(config.NewFileProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("briefhub API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database pool. NewPool pings before returning, so a bad DSN fails
	// startup here rather than on the first request.
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}

	// Repositories.
	accountRepo := db.NewAccountRepository(pool)
	projectRepo := db.NewProjectRepository(pool)
	subscriptionRepo := db.NewSubscriptionRepository(pool, logger)
	tokenRepo := db.NewAPITokenRepository(pool)

	// Services.
	authService := auth.NewService(tokenRepo, logger)

	prices := external.NewPriceMap(cfg.Billing)
	stripeClient := external.NewStripeClient(
		&http.Client{Timeout: 20 * time.Second},
		accountRepo,
		external.StripeClientConfig{
			SecretKey:  cfg.Billing.StripeSecretKey.Unmask(),
			AppBaseURL: cfg.Server.AppBaseURL,
			Prices:     prices,
			Logger:     logger,
		},
	)

	planRegistry := billing.NewStaticPlanRegistry()
	evaluator := billing.NewEvaluator(subscriptionRepo, projectRepo, planRegistry)
	usageReporter := billing.NewUsageReporter(projectRepo, subscriptionRepo, planRegistry)

	// HTTP server chassis.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Authenticator = authService
	srv.HealthProbes = append(srv.HealthProbes, db.NewProbe(pool))
	srv.OnShutdown(func(context.Context) error {
		pool.Close()
		return nil
	})

	// Domain handlers.
	projectsHandler := handlers.NewProjectsHandler(projectRepo, evaluator, srv.Validator, logger)
	billingHandler := handlers.NewBillingHandler(stripeClient, evaluator, usageReporter, srv.Validator, logger)
	webhookHandler := handlers.NewStripeWebhookHandler(
		&external.StripeVerifier{},
		subscriptionRepo,
		prices,
		cfg.Billing.StripeWebhookSecret.Unmask(),
		logger,
	)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		projectsHandler.RegisterRoutes,
		billingHandler.RegisterRoutes,
	)
	srv.WebhookRegistrars = append(srv.WebhookRegistrars, webhookHandler.RegisterRoutes)

	srv.MountRoutes()

	return serve(ctx, srv, cfg, logger)
}

// serve runs the HTTP listener until the context is cancelled by a signal,
// then performs a bounded graceful shutdown.
func serve(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}

		// Release server resources (database pool) after the listener drains.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured JSON slog.Logger for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}
