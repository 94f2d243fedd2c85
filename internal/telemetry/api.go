package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"cityflow/internal/types"
)

// apiFlushThreshold keeps each PutMetricData call well below the service
// limit of 1000 datums.
const apiFlushThreshold = 500

// APIMetrics buffers request datums and publishes them in batches, either
// when the buffer fills or on Flush. It satisfies core.MetricsCollector.
type APIMetrics struct {
	client    CloudWatchClient
	namespace string
	stage     string
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending []cwtypes.MetricDatum
}

func NewAPIMetrics(client CloudWatchClient, stage string, logger *slog.Logger) *APIMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIMetrics{
		client:    client,
		namespace: types.MetricNamespace,
		stage:     stage,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordRequest queues a latency and a count datum for the route.
func (m *APIMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		{Name: aws.String(types.DimStage), Value: aws.String(m.stage)},
		{Name: aws.String(types.DimRoute), Value: aws.String(method + " " + endpoint)},
		{Name: aws.String(types.DimCode), Value: aws.String(status)},
	}
	ts := aws.Time(m.now())

	m.mu.Lock()
	m.pending = append(m.pending,
		cwtypes.MetricDatum{
			MetricName: aws.String(types.TelemetryAPILatency),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Timestamp:  ts,
			Dimensions: dims,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(types.TelemetryAPIRequestCount),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  ts,
			Dimensions: dims,
		},
	)
	full := len(m.pending) >= apiFlushThreshold
	m.mu.Unlock()

	if full {
		go m.Flush(context.Background())
	}
}

// Flush publishes everything queued so far. Errors are logged and the batch
// is dropped.
func (m *APIMetrics) Flush(ctx context.Context) {
	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	m.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: batch,
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to publish api metrics", "error", err.Error(), "datums", len(batch))
	}
}

// Run flushes every interval until ctx is done, then flushes once more.
func (m *APIMetrics) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Flush(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			m.Flush(flushCtx)
			cancel()
			return
		}
	}
}
