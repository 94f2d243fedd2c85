// Package telemetry publishes run metrics to CloudWatch and run completion
// messages to SQS.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"cityflow/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// RunStats is what a finished daily run reports.
type RunStats struct {
	Succeeded       bool
	Metrics         int
	QualityFailures int
	Duration        time.Duration
}

// RunMetrics emits one batch of datums per run, all with the Stage
// dimension:
//   - DailyRunSucceeded or DailyRunFailed (count 1)
//   - MetricsComputed
//   - QualityFailures
//   - RunDurationSeconds
type RunMetrics struct {
	client    CloudWatchClient
	namespace string
	stage     string
	logger    *slog.Logger
}

// NewRunMetrics creates a RunMetrics publishing to the CityFlow namespace.
func NewRunMetrics(client CloudWatchClient, stage string, logger *slog.Logger) *RunMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunMetrics{
		client:    client,
		namespace: types.MetricNamespace,
		stage:     stage,
		logger:    logger,
	}
}

func (m *RunMetrics) datum(name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Dimensions: append([]cwtypes.Dimension{
			{Name: aws.String(types.DimStage), Value: aws.String(m.stage)},
		}, dims...),
	}
}

// RecordRun publishes the outcome of a daily run. Failures are logged and
// never returned: telemetry must not fail a run.
func (m *RunMetrics) RecordRun(ctx context.Context, s RunStats) {
	outcome := types.TelemetryDailyRunSucceeded
	if !s.Succeeded {
		outcome = types.TelemetryDailyRunFailed
	}
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			m.datum(outcome, 1, cwtypes.StandardUnitCount),
			m.datum(types.TelemetryMetricsComputed, float64(s.Metrics), cwtypes.StandardUnitCount),
			m.datum(types.TelemetryQualityFailures, float64(s.QualityFailures), cwtypes.StandardUnitCount),
			m.datum(types.TelemetryRunDurationSeconds, s.Duration.Seconds(), cwtypes.StandardUnitSeconds),
		},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record run metrics",
			"error", err.Error(),
			"succeeded", s.Succeeded,
		)
	}
}

// RecordFeed publishes a FeedFetched or FeedFailed count for one feed.
func (m *RunMetrics) RecordFeed(ctx context.Context, feed string, ok bool) {
	name := types.TelemetryFeedFetched
	if !ok {
		name = types.TelemetryFeedFailed
	}
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			m.datum(name, 1, cwtypes.StandardUnitCount,
				cwtypes.Dimension{Name: aws.String(types.DimFeed), Value: aws.String(feed)}),
		},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record feed metric",
			"error", err.Error(),
			"feed", feed,
		)
	}
}
