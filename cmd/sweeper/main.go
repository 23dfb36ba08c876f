// Package main is the entrypoint for the pending-change sweeper.
//
// In AWS the binary runs as a Lambda function invoked by a nightly
// EventBridge rule. Outside Lambda it runs as a long-lived process with an
// in-process cron schedule, which is how local development executes it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/robfig/cron/v3"

	"learnloop/internal/config"
	"learnloop/internal/queue"
	"learnloop/internal/store"
	"learnloop/internal/subscription"
	"learnloop/internal/telemetry"
)

// SweepPayload is the EventBridge invocation payload. Force applies every
// pending change regardless of effective date; ReferenceTime overrides the
// cutoff for replaying a missed run.
type SweepPayload struct {
	Force         bool       `json:"force"`
	ReferenceTime *time.Time `json:"referenceTime"`
}

// Handler holds the sweeper dependencies for the Lambda handler function.
type Handler struct {
	Sweeper *subscription.SweepProcessor
	Logger  *slog.Logger
}

// Handle runs one sweep for an EventBridge invocation.
func (h *Handler) Handle(ctx context.Context, payload SweepPayload) (string, error) {
	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	result, err := h.Sweeper.Run(ctx, now, payload.Force)
	if err != nil {
		return "", fmt.Errorf("sweep failed after %d applied: %w", result.Processed, err)
	}

	return fmt.Sprintf("sweep complete: %d applied, %d skipped, %d batches",
		result.Processed, result.Skipped, result.Batches), nil
}

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

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("sweeper starting",
		"environment", cfg.Environment,
		"batch_size", cfg.Sweep.BatchSize,
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

	events, metrics, err := buildAWSDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}

	sweeper := subscription.NewSweepProcessor(entStore, events, metrics,
		cfg.Billing.BillingPeriod, cfg.Sweep.BatchSize, logger)
	handler := &Handler{Sweeper: sweeper, Logger: logger}

	if isLambdaEnvironment() {
		lambda.StartWithOptions(handler.Handle, lambda.WithContext(ctx))
		return nil
	}

	return runLocal(ctx, cfg, sweeper, logger)
}

// isLambdaEnvironment reports whether the process runs inside the AWS
// Lambda runtime.
func isLambdaEnvironment() bool {
	_, ok := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	return ok
}

// runLocal schedules sweeps with an in-process cron and blocks until a
// shutdown signal. Each scheduled run is retried a bounded number of times;
// a run that exhausts its attempts waits for the next schedule slot.
func runLocal(ctx context.Context, cfg *config.Config, sweeper *subscription.SweepProcessor, logger *slog.Logger) error {
	c := cron.New()
	_, err := c.AddFunc(cfg.Sweep.Schedule, func() {
		runWithRetry(ctx, sweeper, cfg.Sweep.MaxAttempts, logger)
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", cfg.Sweep.Schedule, err)
	}

	logger.Info("sweeper running on local schedule", "schedule", cfg.Sweep.Schedule)
	c.Start()
	<-ctx.Done()

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		logger.Warn("timed out waiting for running sweep to finish")
	}

	logger.Info("sweeper stopped")
	return nil
}

func runWithRetry(ctx context.Context, sweeper *subscription.SweepProcessor, maxAttempts int, logger *slog.Logger) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := sweeper.Run(ctx, time.Now().UTC(), false)
		if err == nil {
			return
		}

		logger.ErrorContext(ctx, "scheduled sweep failed",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"applied_before_failure", result.Processed,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * time.Minute):
		}
	}
}

// buildAWSDependencies wires the optional SQS publisher and CloudWatch
// metrics, mirroring the API process.
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
