// Package aggregate builds the per-source daily aggregates and the combined
// daily KPI table.
package aggregate

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"slices"

	"cityflow/internal/relation"
	"cityflow/internal/stats"
	"cityflow/internal/types"
)

// Inputs are the normalized source relations for one day.
type Inputs struct {
	Bikes       relation.Relation
	Traffic     relation.Relation
	Weather     relation.Relation
	Comptage    relation.Relation
	Validations relation.Relation
}

// Builder computes daily aggregates.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder creates a builder. A nil logger falls back to slog.Default().
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{logger: logger}
}

// Build computes the aggregate of every non-empty source, then the daily
// KPI table when at least one aggregate exists. A non-empty source whose
// aggregate comes out empty is logged with the columns it lacks.
func (b *Builder) Build(ctx context.Context, in Inputs) *Set {
	set := NewSet()
	add := func(name types.AggregateName, src relation.Relation, fn func(relation.Relation) relation.Relation, required ...string) {
		if src.IsEmpty() {
			return
		}
		out := fn(src)
		if out.IsEmpty() {
			b.logger.WarnContext(ctx, "aggregate is empty",
				"aggregate", string(name),
				"rows", src.Len(),
				"missing", src.Missing(required...),
			)
		}
		set.Put(name, out)
	}
	add(types.AggregateVelibRealtime, in.Bikes, b.VelibRealtime)
	add(types.AggregateTrafficDaily, in.Traffic, b.TrafficIncidents)
	add(types.AggregateWeatherDaily, in.Weather, b.WeatherDaily, weatherColumns...)
	add(types.AggregateComptageVelo, in.Comptage, b.ComptageVelo)
	add(types.AggregateValidations, in.Validations, b.Validations)

	if set.Len() > 0 {
		set.Put(types.AggregateDailyKPIs, b.BuildKPIs(set))
	}
	return set
}

// withJour adds a "jour" date column derived from src.
func withJour(r relation.Relation, src string) relation.Relation {
	return r.WithColumn("jour", func(row relation.Record) relation.Value {
		d, ok := row.Get(src).ToDate()
		if !ok {
			return relation.Null()
		}
		return relation.Date(d)
	})
}

func mean(col, out string) relation.Aggregation {
	return relation.Aggregation{Column: out, Fn: func(g relation.Relation) relation.Value {
		return relation.Number(stats.Mean(g.Floats(col)))
	}}
}

func sum(col, out string) relation.Aggregation {
	return relation.Aggregation{Column: out, Fn: func(g relation.Relation) relation.Value {
		return relation.Number(stats.Sum(g.Floats(col)))
	}}
}

// VelibRealtime counts distinct stations and averages the station counter
// per ingestion day.
func (b *Builder) VelibRealtime(r relation.Relation) relation.Relation {
	cols := []string{"jour", "nb_stations", "compteur_total_moyen"}
	if r.IsEmpty() || !r.Has("ingestion_date") {
		return relation.Empty(cols...)
	}
	station, ok := r.First("id_compteur", "id_site")
	if !ok {
		return relation.Empty(cols...)
	}
	total, ok := r.First("compteur_total", "sum_counts")
	if !ok {
		return relation.Empty(cols...)
	}
	return withJour(r, "ingestion_date").Aggregate([]string{"jour"},
		relation.Aggregation{Column: "nb_stations", Fn: func(g relation.Relation) relation.Value {
			return relation.Int(len(g.Unique(station)))
		}},
		mean(total, "compteur_total_moyen"),
	)
}

// ComptageVelo summarises hourly counts per counter and day.
func (b *Builder) ComptageVelo(r relation.Relation) relation.Relation {
	cols := []string{"compteur_id", "jour", "comptage_total", "comptage_moyen", "comptage_max"}
	if r.IsEmpty() || !r.Has("compteur_id", "date_heure", "comptage_horaire") {
		return relation.Empty(cols...)
	}
	return withJour(r, "date_heure").Aggregate([]string{"compteur_id", "jour"},
		sum("comptage_horaire", "comptage_total"),
		mean("comptage_horaire", "comptage_moyen"),
		relation.Aggregation{Column: "comptage_max", Fn: func(g relation.Relation) relation.Value {
			return relation.Number(stats.Max(g.Floats("comptage_horaire")))
		}},
	)
}

// TrafficIncidents counts disruptions per day and severity, one
// incidents_<severity> column per severity seen, plus the daily total.
// A missing severity is reported as "unknown".
func (b *Builder) TrafficIncidents(r relation.Relation) relation.Relation {
	if r.IsEmpty() || !r.Has("updated_at") {
		return relation.Empty("jour", "nb_incidents_total")
	}
	frame := withJour(r, "updated_at").WithColumn("gravite", func(row relation.Record) relation.Value {
		if s, ok := row.Get("severity").ToStr(); ok && s != "" {
			return relation.String(s)
		}
		return relation.String("unknown")
	})

	var severities []string
	for _, v := range frame.Filter(func(row relation.Record) bool { return !row.Get("jour").IsNull() }).Unique("gravite") {
		s, _ := v.Str()
		severities = append(severities, s)
	}
	slices.Sort(severities)

	cols := []string{"jour"}
	for _, s := range severities {
		cols = append(cols, "incidents_"+s)
	}
	cols = append(cols, "nb_incidents_total")

	var rows []relation.Record
	for _, g := range frame.GroupBy("jour") {
		rec := relation.Record{"jour": g.Key[0]}
		counts := map[string]int{}
		for _, row := range g.Rows.Rows() {
			s, _ := row.Get("gravite").Str()
			counts[s]++
		}
		for _, s := range severities {
			rec["incidents_"+s] = relation.Int(counts[s])
		}
		rec["nb_incidents_total"] = relation.Int(g.Rows.Len())
		rows = append(rows, rec)
	}
	return relation.New(cols, rows...)
}

// weatherColumns are required by WeatherDaily.
var weatherColumns = []string{"datetime", "tempmax", "tempmin", "precip"}

// WeatherDaily summarises the weather observations per day.
func (b *Builder) WeatherDaily(r relation.Relation) relation.Relation {
	cols := []string{"jour", "temperature_max", "temperature_min", "precipitation_mm", "vent_moyen"}
	if r.IsEmpty() || !r.Has(weatherColumns...) {
		return relation.Empty(cols...)
	}
	return withJour(r, "datetime").Aggregate([]string{"jour"},
		mean("tempmax", "temperature_max"),
		mean("tempmin", "temperature_min"),
		sum("precip", "precipitation_mm"),
		mean("windspeed", "vent_moyen"),
	)
}

// Validations sums validations per day and line.
func (b *Builder) Validations(r relation.Relation) relation.Relation {
	cols := []string{"date", "code_ligne", "nb_validations"}
	if r.IsEmpty() || !r.Has(cols...) {
		return relation.Empty(cols...)
	}
	return r.Aggregate([]string{"date", "code_ligne"}, sum("nb_validations", "nb_validations"))
}

// BuildKPIs outer-joins the aggregates on their day column, in set order.
// A "date" column is renamed to "jour"; aggregates without a day column,
// empty aggregates and an existing daily_kpis entry are skipped. Columns
// that collide with earlier ones get the suffix "_<aggregate>".
func (b *Builder) BuildKPIs(set *Set) relation.Relation {
	var base relation.Relation
	started := false
	for _, name := range set.Names() {
		agg := set.Get(name)
		if name == types.AggregateDailyKPIs || agg.IsEmpty() {
			continue
		}
		if !agg.Has("jour") {
			if !agg.Has("date") {
				continue
			}
			agg = agg.Rename(map[string]string{"date": "jour"})
		}
		agg = withJour(agg, "jour")
		if !started {
			base, started = agg, true
			continue
		}
		base = base.OuterJoin(agg, "jour", "_"+string(name))
	}
	if !started {
		return relation.Empty("jour")
	}
	return base
}

// Set is an ordered collection of aggregates keyed by name.
type Set struct {
	order []types.AggregateName
	data  map[types.AggregateName]relation.Relation
}

func NewSet() *Set {
	return &Set{data: map[types.AggregateName]relation.Relation{}}
}

// Put adds or replaces an aggregate. Insertion order is kept for new names.
func (s *Set) Put(name types.AggregateName, r relation.Relation) {
	if _, ok := s.data[name]; !ok {
		s.order = append(s.order, name)
	}
	s.data[name] = r
}

// Get returns the aggregate, or an empty relation when absent.
func (s *Set) Get(name types.AggregateName) relation.Relation {
	if r, ok := s.data[name]; ok {
		return r
	}
	return relation.Empty()
}

func (s *Set) Has(name types.AggregateName) bool {
	_, ok := s.data[name]
	return ok
}

func (s *Set) Names() []types.AggregateName {
	out := make([]types.AggregateName, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Set) Len() int { return len(s.order) }

// MarshalJSON encodes the set as an object of name to rows.
func (s *Set) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range s.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(string(name))
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := s.data[name].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
