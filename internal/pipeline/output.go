package pipeline

import (
	"time"

	"cityflow/internal/aggregate"
	"cityflow/internal/correlation"
	"cityflow/internal/ingest"
	"cityflow/internal/metrics"
	"cityflow/internal/reports"
	"cityflow/internal/types"
)

// Output is everything a daily run produced. It is built once by Run and
// not modified afterwards.
type Output struct {
	Date         string
	RunID        string
	Sources      Sources
	Aggregates   *aggregate.Set
	Metrics      *metrics.Set
	Correlations *correlation.Set
	Quality      QualitySummary
	Reports      Reports
	Summary      Summary
}

// QualitySummary lists the quality outcome of each loaded dataset and of
// each attempted metric.
type QualitySummary struct {
	API     []types.DatasetQuality `json:"api"`
	Batch   []types.DatasetQuality `json:"batch"`
	Metrics []types.MetricQuality  `json:"metrics"`
}

// Failures counts the datasets and metrics whose checks did not pass.
func (q QualitySummary) Failures() int {
	n := 0
	for _, list := range [][]types.DatasetQuality{q.API, q.Batch} {
		for _, d := range list {
			if !d.Passed {
				n++
			}
		}
	}
	for _, m := range q.Metrics {
		if !m.Passed {
			n++
		}
	}
	return n
}

// SummarizeQuality builds the per-dataset summary in source declaration
// order.
func SummarizeQuality(s Sources) QualitySummary {
	return QualitySummary{
		API:   summarize(ingest.SchemasOf(ingest.KindAPI), s.API),
		Batch: summarize(ingest.SchemasOf(ingest.KindBatch), s.Batch),
	}
}

func summarize(schemas []ingest.Schema, results map[string]ingest.Result) []types.DatasetQuality {
	out := []types.DatasetQuality{}
	for _, schema := range schemas {
		res, ok := results[schema.Name]
		if !ok {
			continue
		}
		out = append(out, types.DatasetQuality{
			Dataset:  schema.Name,
			Passed:   res.Quality.Passed,
			Messages: res.Quality.Messages,
			Rows:     res.Data.Len(),
			Metadata: res.Metadata,
		})
	}
	return out
}

// ProcessingReport records what a run loaded and produced.
type ProcessingReport struct {
	Date         string                  `json:"date"`
	RunID        string                  `json:"run_id,omitempty"`
	API          []types.DatasetQuality  `json:"api"`
	Batch        []types.DatasetQuality  `json:"batch"`
	Aggregates   []types.AggregateName   `json:"aggregates"`
	Metrics      []types.MetricName      `json:"metrics"`
	Correlations []types.CorrelationName `json:"correlations"`

	// MetricQuality has one entry per attempted metric, failed ones included.
	MetricQuality []types.MetricQuality `json:"metric_quality"`
}

// Reports are the documents persisted under the report kind.
type Reports struct {
	Processing     ProcessingReport
	MetricsSummary reports.MetricsSummary
	// RapportQuotidien is nil when no counter readings were loaded.
	RapportQuotidien *reports.RapportComplet
}

// Documents returns the reports keyed by their persisted name. The daily
// report is left out when it was not generated.
func (r Reports) Documents() map[types.ReportName]any {
	docs := map[types.ReportName]any{
		types.ReportProcessing:     r.Processing,
		types.ReportMetricsSummary: r.MetricsSummary,
	}
	if r.RapportQuotidien != nil {
		docs[types.ReportRapportQuotidien] = r.RapportQuotidien
	}
	return docs
}

// Summary condenses a run for logs, telemetry and notifications.
type Summary struct {
	Date            string        `json:"date"`
	RunID           string        `json:"run_id,omitempty"`
	APISources      int           `json:"api_sources"`
	BatchSources    int           `json:"batch_sources"`
	Aggregates      int           `json:"aggregates"`
	Metrics         int           `json:"metrics"`
	Correlations    int           `json:"correlations"`
	QualityFailures int           `json:"quality_failures"`
	Duration        time.Duration `json:"duration_ns"`
}

func (o *Output) summarize(elapsed time.Duration) Summary {
	return Summary{
		Date:            o.Date,
		RunID:           o.RunID,
		APISources:      len(o.Sources.API),
		BatchSources:    len(o.Sources.Batch),
		Aggregates:      o.Aggregates.Len(),
		Metrics:         o.Metrics.Len(),
		Correlations:    o.Correlations.Len(),
		QualityFailures: o.Quality.Failures(),
		Duration:        elapsed,
	}
}
