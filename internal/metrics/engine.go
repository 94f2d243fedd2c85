// Package metrics computes the CityFlow mobility metrics from counter
// readings, public-works records and transit quality records.
//
// Every metric is a pure function of its input relations. Missing required
// columns yield an empty relation with the metric's declared columns; values
// that fail coercion are skipped by the computation that needs them.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cityflow/internal/geo"
	"cityflow/internal/relation"
	"cityflow/internal/types"
)

// Counter reading columns.
const (
	colCompteur  = "compteur_id"
	colDateHeure = "date_heure"
	colComptage  = "comptage_horaire"
	colZone      = "arrondissement"
)

// Inputs are the relations consumed by CalculateAll.
type Inputs struct {
	// Comptage holds the hourly counter readings.
	Comptage relation.Relation
	// Snapshot is the same-day realtime snapshot used for coordinates.
	Snapshot relation.Relation
	// Reference is the static coordinate reference mapping.
	Reference geo.Mapping
	Chantiers relation.Relation
	Qualite   relation.Relation
}

// Engine computes metrics with a fixed set of parameters.
type Engine struct {
	params Params
	logger *slog.Logger
	groups map[types.MetricGroup]bool
}

// NewEngine creates an engine. A nil logger falls back to slog.Default().
func NewEngine(params Params, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{params: params, logger: logger}
}

// Params returns the engine parameters.
func (e *Engine) Params() Params { return e.params }

// Select returns an engine that only computes metrics of the given groups.
// Without arguments every group is computed.
func (e *Engine) Select(groups ...types.MetricGroup) *Engine {
	out := &Engine{params: e.params, logger: e.logger}
	if len(groups) > 0 {
		out.groups = map[types.MetricGroup]bool{}
		for _, g := range groups {
			out.groups[g] = true
		}
	}
	return out
}

func (e *Engine) enabled(name types.MetricName) bool {
	return e.groups == nil || e.groups[name.Group()]
}

// CalculateAll resolves coordinates once and computes every enabled metric.
// The public-works and quality groups are only computed when their relation
// is non-empty. Every attempted metric gets a quality entry in the set; a
// metric that panics is logged, flagged as failed and left out of the
// results.
func (e *Engine) CalculateAll(ctx context.Context, in Inputs, now time.Time) *Set {
	set := NewSet()
	readings := geo.Resolve(in.Comptage, geo.ExtractMapping(in.Snapshot), in.Reference)

	e.run(ctx, set, types.MetricDebitHoraire, func() Result { return plain(types.MetricDebitHoraire, e.DebitHoraire(readings)) })
	e.run(ctx, set, types.MetricDebitJournalier, func() Result {
		return plain(types.MetricDebitJournalier, e.DebitJournalier(readings))
	})
	e.run(ctx, set, types.MetricDMJA, func() Result { return plain(types.MetricDMJA, e.DMJA(readings)) })
	e.run(ctx, set, types.MetricProfilJourType, func() Result {
		return plain(types.MetricProfilJourType, e.ProfilJourType(readings))
	})
	e.run(ctx, set, types.MetricHeuresPointe, func() Result { return plain(types.MetricHeuresPointe, e.HeuresPointe(readings)) })

	e.run(ctx, set, types.MetricTauxDisponibilite, func() Result {
		return plain(types.MetricTauxDisponibilite, e.TauxDisponibilite(readings))
	})
	e.run(ctx, set, types.MetricTopCompteurs, func() Result { return plain(types.MetricTopCompteurs, e.TopCompteurs(readings)) })
	e.run(ctx, set, types.MetricCompteursFaibleActivite, func() Result {
		return plain(types.MetricCompteursFaibleActivite, e.CompteursFaibleActivite(readings))
	})
	e.run(ctx, set, types.MetricCompteursDefaillants, func() Result {
		return plain(types.MetricCompteursDefaillants, e.CompteursDefaillants(readings, now))
	})

	e.run(ctx, set, types.MetricDensiteParZone, func() Result {
		return plain(types.MetricDensiteParZone, e.DensiteParZone(readings))
	})
	e.run(ctx, set, types.MetricCorridorsCyclables, func() Result {
		return plain(types.MetricCorridorsCyclables, e.CorridorsCyclables(readings))
	})
	e.run(ctx, set, types.MetricEvolutionTemporelle, func() Result {
		return Result{
			Name:    types.MetricEvolutionTemporelle,
			Data:    e.EvolutionTemporelle(readings, e.params.EvolutionPeriode),
			Variant: string(e.params.EvolutionPeriode),
		}
	})
	e.run(ctx, set, types.MetricRatioWeekendSemaine, func() Result {
		return plain(types.MetricRatioWeekendSemaine, e.RatioWeekendSemaine(readings))
	})
	e.run(ctx, set, types.MetricCongestionCyclable, func() Result {
		return plain(types.MetricCongestionCyclable, e.CongestionCyclable(readings))
	})
	e.run(ctx, set, types.MetricAnomalies, func() Result { return plain(types.MetricAnomalies, e.Anomalies(readings)) })

	if !in.Chantiers.IsEmpty() {
		e.run(ctx, set, types.MetricChantiersActifs, func() Result {
			return plain(types.MetricChantiersActifs, e.ChantiersActifs(in.Chantiers, now))
		})
		e.run(ctx, set, types.MetricScoreCriticiteChantiers, func() Result {
			return plain(types.MetricScoreCriticiteChantiers, e.ScoreCriticiteChantiers(in.Chantiers))
		})
	}

	if !in.Qualite.IsEmpty() {
		e.run(ctx, set, types.MetricQualiteService, func() Result {
			data, variant := e.QualiteService(in.Qualite)
			return Result{Name: types.MetricQualiteService, Data: data, Variant: string(variant)}
		})
	}

	return set
}

func plain(name types.MetricName, data relation.Relation) Result {
	return Result{Name: name, Data: data}
}

func (e *Engine) run(ctx context.Context, set *Set, name types.MetricName, fn func() Result) {
	if !e.enabled(name) {
		return
	}
	q := types.NewQualityReport()
	defer func() {
		if rec := recover(); rec != nil {
			q.Add("error: computation failed: " + fmt.Sprint(rec))
			set.putQuality(name, q, 0)
			e.logger.ErrorContext(ctx, "metric computation failed", "metric", string(name), "error", fmt.Sprint(rec))
		}
	}()
	r := fn()
	rows := r.Data.Len()
	if rows == 0 {
		q.Add("warning: empty result")
	} else {
		q.Add(fmt.Sprintf("ok: %d rows", rows))
	}
	set.Put(r)
	set.putQuality(name, q, rows)
	e.logger.DebugContext(ctx, "metric computed", "metric", string(name), "rows", rows)
}

// reading accessors shared by the counter metrics

func timestamp(row relation.Record) (time.Time, bool) {
	return row.Get(colDateHeure).ToTime()
}

func count(row relation.Record) (float64, bool) {
	return row.Get(colComptage).ToFloat()
}
