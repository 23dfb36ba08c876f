// Package main is the entry point for the LearnLoop subscription API.
//
// It loads configuration, connects to the document store, wires the change
// service and sweep processor, and serves the HTTP API with graceful
// shutdown on SIGINT/SIGTERM.
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

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"learnloop/internal/api/handlers"
	"learnloop/internal/auth"
	"learnloop/internal/billing"
	"learnloop/internal/config"
	"learnloop/internal/core"
	"learnloop/internal/external"
	"learnloop/internal/queue"
	"learnloop/internal/store"
	"learnloop/internal/subscription"
	"learnloop/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("subscription API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Connect(ctx, cfg.Mongo)
	if err != nil {
		return fmt.Errorf("connecting to document store: %w", err)
	}
	defer func() {
		if err := db.Client().Disconnect(context.Background()); err != nil {
			logger.Error("disconnecting from document store", "error", err)
		}
	}()

	entStore := store.NewEntitlementStore(db, logger)
	classifier := billing.NewClassifier(cfg.Billing.GracePeriod, cfg.Billing.BillingPeriod)

	stripeClient := external.NewStripeClient(external.DefaultHTTPClient(), external.StripeClientConfig{
		SecretKey:    cfg.Billing.StripeSecretKey.Unmask(),
		DashboardURL: cfg.Server.DashboardURL,
		Logger:       logger,
	})

	changeSvc := subscription.NewChangeService(entStore, stripeClient, classifier, cfg.Billing.BillingPeriod, logger)

	events, metrics, err := buildAWSDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	sweeper := subscription.NewSweepProcessor(entStore, events, metrics,
		cfg.Billing.BillingPeriod, cfg.Sweep.BatchSize, logger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Authenticator = auth.NewTokenVerifier(cfg.Auth)
	srv.HealthProbes = []core.HealthProbe{store.PingProbe{DB: db}}

	subHandler := handlers.NewSubscriptionHandler(changeSvc, sweeper, srv.Validator, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		subHandler.RegisterRoutes(r)
	})
	srv.MountRoutes()

	return serve(ctx, srv, cfg, logger)
}

// buildAWSDependencies wires the optional SQS publisher and CloudWatch
// metrics. Either is nil when its config is empty; the sweep runs fine
// without them.
func buildAWSDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (subscription.EventPublisher, subscription.MetricsRecorder, error) {
	if cfg.AWS.EntitlementEventsQueue == "" && cfg.AWS.MetricsNamespace == "" {
		return nil, nil, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, nil, fmt.Errorf("loading AWS configuration: %w", err)
	}

	var events subscription.EventPublisher
	if cfg.AWS.EntitlementEventsQueue != "" {
		sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		events = queue.NewEventPublisher(sqsClient, cfg.AWS, logger)
	}

	var metrics subscription.MetricsRecorder
	if cfg.AWS.MetricsNamespace != "" {
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		metrics = telemetry.NewSweepMetrics(cwClient, cfg.AWS.MetricsNamespace, logger)
	}

	return events, metrics, nil
}

// serve runs the HTTP server until the context is cancelled, then shuts it
// down with a 10-second deadline.
func serve(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
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

// newLogger creates the structured JSON logger used across the service.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
