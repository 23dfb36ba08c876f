// Package telemetry publishes sweep metrics to CloudWatch. A failed publish
// is logged and dropped; telemetry never fails a sweep.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"learnloop/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Metric and dimension names for the sweep dashboard.
const (
	MetricSweepProcessed = "SweepProcessed"
	MetricSweepSkipped   = "SweepSkipped"
	MetricSweepBatches   = "SweepBatches"
	MetricSweepDuration  = "SweepDuration"

	DimTrigger = "Trigger"
)

// SweepMetrics emits one datum per sweep counter, dimensioned by what
// triggered the run (scheduled or manual).
type SweepMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

func NewSweepMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *SweepMetrics {
	return &SweepMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordSweep publishes the counters from one sweep run.
func (m *SweepMetrics) RecordSweep(ctx context.Context, trigger string, result types.SweepResult, duration time.Duration) {
	dims := []cwtypes.Dimension{
		{
			Name:  aws.String(DimTrigger),
			Value: aws.String(trigger),
		},
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricSweepProcessed),
				Value:      aws.Float64(float64(result.Processed)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
			{
				MetricName: aws.String(MetricSweepSkipped),
				Value:      aws.Float64(float64(result.Skipped)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
			{
				MetricName: aws.String(MetricSweepBatches),
				Value:      aws.Float64(float64(result.Batches)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
			{
				MetricName: aws.String(MetricSweepDuration),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: dims,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish sweep metrics",
			"trigger", trigger,
			"error", err,
		)
	}
}
