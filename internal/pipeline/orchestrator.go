// Package pipeline runs the daily processing: it loads the raw sources of a
// day, builds the aggregates, metrics, correlations and reports, and
// persists the results.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cityflow/internal/aggregate"
	"cityflow/internal/correlation"
	"cityflow/internal/geo"
	"cityflow/internal/ingest"
	"cityflow/internal/metrics"
	"cityflow/internal/reports"
	"cityflow/internal/storage"
	"cityflow/internal/types"
)

// ProcessedPrefix is where aggregates are materialised as JSON files.
const ProcessedPrefix = "processed/"

// ResultWriter persists computed documents. Implemented by
// db.ResultRepository and resultstore.BadgerStore.
type ResultWriter interface {
	Put(ctx context.Context, kind types.DocumentKind, date, name string, payload any) error
}

// Deps are the collaborators of an Orchestrator. Loader is required; nil
// engines get defaults, a nil Results disables persistence and a nil
// Processed store disables aggregate files.
type Deps struct {
	Loader       *Loader
	Metrics      *metrics.Engine
	Correlations *correlation.Engine
	Aggregates   *aggregate.Builder
	Reports      *reports.Builder
	Reference    *geo.ReferenceCache
	Results      ResultWriter
	Processed    storage.ObjectStore
	Clock        types.Clock
	Logger       *slog.Logger
}

// Orchestrator is the DailyOrchestrator.
type Orchestrator struct {
	loader       *Loader
	metrics      *metrics.Engine
	correlations *correlation.Engine
	aggregates   *aggregate.Builder
	reports      *reports.Builder
	reference    *geo.ReferenceCache
	results      ResultWriter
	processed    storage.ObjectStore
	clock        types.Clock
	logger       *slog.Logger
}

// NewOrchestrator wires an orchestrator from deps.
func NewOrchestrator(deps Deps) *Orchestrator {
	o := &Orchestrator{
		loader:       deps.Loader,
		metrics:      deps.Metrics,
		correlations: deps.Correlations,
		aggregates:   deps.Aggregates,
		reports:      deps.Reports,
		reference:    deps.Reference,
		results:      deps.Results,
		processed:    deps.Processed,
		clock:        deps.Clock,
		logger:       deps.Logger,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.clock == nil {
		o.clock = types.RealClock{}
	}
	if o.metrics == nil {
		o.metrics = metrics.NewEngine(metrics.DefaultParams(), o.logger)
	}
	if o.correlations == nil {
		o.correlations = correlation.NewEngine(o.logger)
	}
	if o.aggregates == nil {
		o.aggregates = aggregate.NewBuilder(o.logger)
	}
	if o.reports == nil {
		o.reports = reports.NewBuilder(o.clock)
	}
	if o.reference == nil {
		o.reference = geo.NewReferenceCache(nil, o.logger)
	}
	return o
}

// ResolveDate delegates to the loader.
func (o *Orchestrator) ResolveDate(ctx context.Context, desired string) (string, error) {
	return o.loader.ResolveDate(ctx, desired)
}

// Run processes one day. The returned Output is complete even when
// persistence fails; the error then reports the failed write.
func (o *Orchestrator) Run(ctx context.Context, date string) (*Output, error) {
	start := o.clock.Now()
	logger := o.logger.With("date", date, "run_id", types.GetRunID(ctx))

	sources, err := o.loader.Load(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("loading sources for %s: %w", date, err)
	}
	logger.InfoContext(ctx, "sources loaded", "api", len(sources.API), "batch", len(sources.Batch))

	aggs := o.aggregates.Build(ctx, aggregate.Inputs{
		Bikes:       sources.Data(ingest.SourceBikes),
		Traffic:     sources.Data(ingest.SourceTraffic),
		Weather:     sources.Data(ingest.SourceWeather),
		Comptage:    sources.Data(ingest.SourceComptageVelo),
		Validations: sources.Data(ingest.SourceValidations),
	})

	reference, err := o.reference.Mapping(ctx)
	if err != nil {
		logger.WarnContext(ctx, "coordinate reference unavailable", "error", err)
		reference = geo.Mapping{}
	}

	comptage := sources.Data(ingest.SourceComptageVelo)
	metricSet := o.metrics.CalculateAll(ctx, metrics.Inputs{
		Comptage:  comptage,
		Snapshot:  sources.Data(ingest.SourceBikes),
		Reference: reference,
		Chantiers: sources.Data(ingest.SourceChantiers),
		Qualite:   sources.Data(ingest.SourceQualiteService),
	}, start)

	corrSet := o.correlations.CalculateAll(ctx, correlation.Inputs{
		Comptage:    comptage,
		Chantiers:   sources.Data(ingest.SourceChantiers),
		Weather:     sources.Data(ingest.SourceWeather),
		Qualite:     sources.Data(ingest.SourceQualiteService),
		Validations: sources.Data(ingest.SourceValidations),
	})

	out := &Output{
		Date:         date,
		RunID:        types.GetRunID(ctx),
		Sources:      sources,
		Aggregates:   aggs,
		Metrics:      metricSet,
		Correlations: corrSet,
		Quality:      SummarizeQuality(sources),
	}
	out.Quality.Metrics = metricSet.Quality()
	out.Reports = o.buildReports(out)
	out.Summary = out.summarize(o.clock.Now().Sub(start))

	logger.InfoContext(ctx, "daily processing computed",
		"aggregates", aggs.Len(),
		"metrics", metricSet.Len(),
		"correlations", corrSet.Len(),
		"quality_failures", out.Summary.QualityFailures,
	)

	if err := o.persist(ctx, out); err != nil {
		return out, err
	}
	if err := o.materialise(ctx, out); err != nil {
		return out, err
	}
	return out, nil
}

func (o *Orchestrator) buildReports(out *Output) Reports {
	r := Reports{
		Processing: ProcessingReport{
			Date:          out.Date,
			RunID:         out.RunID,
			API:           out.Quality.API,
			Batch:         out.Quality.Batch,
			Aggregates:    out.Aggregates.Names(),
			Metrics:       out.Metrics.Names(),
			Correlations:  out.Correlations.Names(),
			MetricQuality: out.Quality.Metrics,
		},
		MetricsSummary: o.reports.MetricsSummary(out.Metrics),
	}
	if comptage := out.Sources.Data(ingest.SourceComptageVelo); !comptage.IsEmpty() {
		rapport := o.reports.RapportComplet(out.Date, comptage, out.Metrics)
		r.RapportQuotidien = &rapport
	}
	return r
}

// persist writes metrics one document per (date, metric), correlations as a
// single document and each report separately. Empty metrics are skipped.
func (o *Orchestrator) persist(ctx context.Context, out *Output) error {
	if o.results == nil {
		o.logger.WarnContext(ctx, "no result writer configured, results not persisted", "date", out.Date)
		return nil
	}

	for _, name := range out.Metrics.Names() {
		data := out.Metrics.Relation(name)
		if data.IsEmpty() {
			continue
		}
		if err := o.results.Put(ctx, types.KindMetric, out.Date, string(name), data); err != nil {
			return err
		}
	}
	if out.Correlations.Len() > 0 {
		if err := o.results.Put(ctx, types.KindCorrelations, out.Date, types.CorrelationsDocument, out.Correlations); err != nil {
			return err
		}
	}
	for name, payload := range out.Reports.Documents() {
		if err := o.results.Put(ctx, types.KindReport, out.Date, string(name), payload); err != nil {
			return err
		}
	}
	o.logger.InfoContext(ctx, "results persisted", "date", out.Date, "metrics", out.Metrics.Len())
	return nil
}

// materialise writes every non-empty aggregate to
// processed/<date>/aggregates/<name>.json.
func (o *Orchestrator) materialise(ctx context.Context, out *Output) error {
	if o.processed == nil {
		return nil
	}
	for _, name := range out.Aggregates.Names() {
		data := out.Aggregates.Get(name)
		if data.IsEmpty() {
			continue
		}
		body, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalCodec, fmt.Sprintf("failed to encode aggregate %s", name), err)
		}
		key := fmt.Sprintf("%s%s/aggregates/%s.json", ProcessedPrefix, out.Date, name)
		if err := o.processed.Put(ctx, key, body, "application/json"); err != nil {
			return err
		}
	}
	return nil
}
