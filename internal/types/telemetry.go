package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	TelemetryDailyRunSucceeded  = "DailyRunSucceeded"
	TelemetryDailyRunFailed     = "DailyRunFailed"
	TelemetryMetricsComputed    = "MetricsComputed"
	TelemetryQualityFailures    = "QualityFailures"
	TelemetryRunDurationSeconds = "RunDurationSeconds"
	TelemetryFeedFetched        = "FeedFetched"
	TelemetryFeedFailed         = "FeedFailed"
	TelemetryAPILatency         = "APILatency"
	TelemetryAPIRequestCount    = "APIRequestCount"

	// Dimension Keys
	DimStage = "Stage"
	DimFeed  = "Feed"
	DimRoute = "Route"
	DimCode  = "StatusCode"

	// Metric Namespace
	MetricNamespace = "CityFlow"
)
