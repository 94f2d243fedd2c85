// Package correlation relates bike traffic to public works, weather and
// transit quality on a daily basis.
package correlation

import (
	"context"
	"log/slog"

	"cloud.google.com/go/civil"

	"cityflow/internal/relation"
	"cityflow/internal/stats"
	"cityflow/internal/types"
)

// Inputs are the relations consumed by CalculateAll.
type Inputs struct {
	Comptage    relation.Relation
	Chantiers   relation.Relation
	Weather     relation.Relation
	Qualite     relation.Relation
	Validations relation.Relation
}

// Engine computes the cross-source correlations.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates an engine. A nil logger falls back to slog.Default().
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// CalculateAll runs every correlator whose inputs are both non-empty and
// keeps the non-empty results.
func (e *Engine) CalculateAll(ctx context.Context, in Inputs) *Set {
	set := NewSet()
	add := func(name types.CorrelationName, left, right relation.Relation, fn func() relation.Relation) {
		if left.IsEmpty() || right.IsEmpty() {
			return
		}
		data := fn()
		if data.IsEmpty() {
			e.logger.DebugContext(ctx, "correlation skipped", "correlation", string(name))
			return
		}
		set.Put(Result{Name: name, Data: data})
	}

	add(types.CorrelationChantiersVelo, in.Comptage, in.Chantiers, func() relation.Relation {
		return e.ChantiersVelo(in.Comptage, in.Chantiers)
	})
	add(types.CorrelationQualiteValidations, in.Qualite, in.Validations, func() relation.Relation {
		return e.QualiteValidations(in.Qualite, in.Validations)
	})
	add(types.CorrelationMeteoVelo, in.Weather, in.Comptage, func() relation.Relation {
		return e.MeteoVelo(in.Weather, in.Comptage)
	})
	return set
}

// dailyBikes sums comptage_horaire per calendar day of date_heure.
func dailyBikes(comptage relation.Relation) relation.Relation {
	if !comptage.Has("date_heure", "comptage_horaire") {
		return relation.Empty("date", "total_velos")
	}
	return withDay(comptage, "date_heure").Aggregate([]string{"date"}, relation.Aggregation{
		Column: "total_velos",
		Fn:     func(g relation.Relation) relation.Value { return relation.Number(stats.Sum(g.Floats("comptage_horaire"))) },
	})
}

func withDay(r relation.Relation, src string) relation.Relation {
	return r.WithColumn("date", func(row relation.Record) relation.Value {
		d, ok := row.Get(src).ToDate()
		if !ok {
			return relation.Null()
		}
		return relation.Date(d)
	})
}

// pairs returns the rows where both columns hold finite numbers.
func pairs(r relation.Relation, a, b string) ([]float64, []float64) {
	var xs, ys []float64
	for _, row := range r.Rows() {
		x, ok1 := row.Get(a).Float()
		y, ok2 := row.Get(b).Float()
		if ok1 && ok2 {
			xs = append(xs, x)
			ys = append(ys, y)
		}
	}
	return xs, ys
}

// ChantiersVelo joins the daily bike total with the number of public works
// active on that day. With more than one day, the Pearson correlation and
// the mean and sample deviation of the daily totals are added to every row.
func (e *Engine) ChantiersVelo(comptage, chantiers relation.Relation) relation.Relation {
	cols := []string{"date", "total_velos", "nb_chantiers_actifs"}
	if comptage.IsEmpty() || chantiers.IsEmpty() || !chantiers.Has("date_debut", "date_fin") {
		return relation.Empty(cols...)
	}
	daily := dailyBikes(comptage)
	if daily.IsEmpty() {
		return relation.Empty(cols...)
	}

	type interval struct{ debut, fin civil.Date }
	var works []interval
	for _, row := range chantiers.Rows() {
		debut, ok1 := row.Get("date_debut").ToDate()
		fin, ok2 := row.Get("date_fin").ToDate()
		if ok1 && ok2 {
			works = append(works, interval{debut, fin})
		}
	}

	out := daily.WithColumn("nb_chantiers_actifs", func(row relation.Record) relation.Value {
		d, _ := row.Get("date").Date()
		n := 0
		for _, w := range works {
			if !w.debut.After(d) && !w.fin.Before(d) {
				n++
			}
		}
		return relation.Int(n)
	})
	if out.Len() <= 1 {
		return out
	}

	corr := stats.Pearson(pairs(out, "total_velos", "nb_chantiers_actifs"))
	totals := out.Floats("total_velos")
	mean, std := stats.Mean(totals), stats.StdDev(totals)
	return out.
		WithColumn("correlation_chantiers_velo", constant(corr)).
		WithColumn("moyenne_velos", constant(mean)).
		WithColumn("ecart_type_velos", constant(std))
}

// MeteoVelo joins the daily bike total with the daily mean maximum
// temperature and total precipitation, and adds both Pearson correlations.
func (e *Engine) MeteoVelo(weather, comptage relation.Relation) relation.Relation {
	cols := []string{"date", "total_velos", "temperature_max", "precipitation"}
	if weather.IsEmpty() || comptage.IsEmpty() || !weather.Has("datetime", "tempmax", "precip") {
		return relation.Empty(cols...)
	}
	daily := dailyBikes(comptage)
	meteo := withDay(weather, "datetime").Aggregate([]string{"date"},
		relation.Aggregation{
			Column: "temperature_max",
			Fn:     func(g relation.Relation) relation.Value { return relation.Number(stats.Mean(g.Floats("tempmax"))) },
		},
		relation.Aggregation{
			Column: "precipitation",
			Fn:     func(g relation.Relation) relation.Value { return relation.Number(stats.Sum(g.Floats("precip"))) },
		},
	)
	out := daily.InnerJoin(meteo, []string{"date"}, "_meteo")
	if out.IsEmpty() {
		return relation.Empty(cols...)
	}
	corrTemp := stats.Pearson(pairs(out, "total_velos", "temperature_max"))
	corrPrecip := stats.Pearson(pairs(out, "total_velos", "precipitation"))
	return out.
		WithColumn("correlation_temperature", constant(corrTemp)).
		WithColumn("correlation_precipitation", constant(corrPrecip))
}

var (
	qualitePeriodColumns = []string{"date", "trimestre", "periode"}
	qualiteScoreColumns  = []string{"score_qualite", "ponctualite"}
)

// QualiteValidations averages the quality score per period. Validations
// only gate the computation: the two sources have no shared time axis, so
// no coefficient is produced.
func (e *Engine) QualiteValidations(qualite, validations relation.Relation) relation.Relation {
	cols := []string{"periode", "score_moyen_qualite"}
	if qualite.IsEmpty() || validations.IsEmpty() || !validations.Has("date", "nb_validations") {
		return relation.Empty(cols...)
	}
	period, ok := qualite.First(qualitePeriodColumns...)
	if !ok {
		return relation.Empty(cols...)
	}
	score, ok := qualite.First(qualiteScoreColumns...)
	if !ok {
		return relation.Empty(cols...)
	}
	return qualite.Aggregate([]string{period}, relation.Aggregation{
		Column: "score_moyen_qualite",
		Fn:     func(g relation.Relation) relation.Value { return relation.Number(stats.Mean(g.Floats(score))) },
	}).Rename(map[string]string{period: "periode"})
}

func constant(f float64) func(relation.Record) relation.Value {
	v := relation.Number(f)
	return func(relation.Record) relation.Value { return v }
}
