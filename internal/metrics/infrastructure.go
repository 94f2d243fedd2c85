package metrics

import (
	"time"

	"cityflow/internal/relation"
	"cityflow/internal/stats"
)

// ChantiersActifs counts public works whose [date_debut, date_fin] interval
// contains ref, per zone when a zone column exists. Without date columns
// every record counts as active.
func (e *Engine) ChantiersActifs(r relation.Relation, ref time.Time) relation.Relation {
	zero := relation.New([]string{"nb_chantiers_actifs"}, relation.Record{"nb_chantiers_actifs": relation.Int(0)})
	if r.IsEmpty() {
		return zero
	}
	actifs := r
	if r.Has("date_debut", "date_fin") {
		actifs = r.Filter(func(row relation.Record) bool {
			debut, ok1 := row.Get("date_debut").ToTime()
			fin, ok2 := row.Get("date_fin").ToTime()
			return ok1 && ok2 && !debut.After(ref) && !fin.Before(ref)
		})
	}
	if actifs.IsEmpty() {
		return zero
	}
	if actifs.Has(colZone) {
		cols := []string{colZone, "nb_chantiers_actifs"}
		var rows []relation.Record
		for _, g := range actifs.GroupBy(colZone) {
			rows = append(rows, relation.Record{colZone: g.Key[0], "nb_chantiers_actifs": relation.Int(g.Rows.Len())})
		}
		return relation.New(cols, rows...)
	}
	return relation.New([]string{"nb_chantiers_actifs"}, relation.Record{"nb_chantiers_actifs": relation.Int(actifs.Len())})
}

// surfaceCandidates lists the accepted names of the works surface column.
var surfaceCandidates = []string{"surface", "surface_m2"}

// ScoreCriticiteChantiers scores zones by (works on the carriageway) times
// (mean surface). Without zone or surface columns a global count is
// returned instead.
func (e *Engine) ScoreCriticiteChantiers(r relation.Relation) relation.Relation {
	zero := relation.New([]string{"nb_chantiers", "score_criticite"},
		relation.Record{"nb_chantiers": relation.Int(0), "score_criticite": relation.Number(0)})
	if r.IsEmpty() {
		return zero
	}
	surChaussee := r
	if r.Has("emprise_chaussee") {
		surChaussee = r.Filter(func(row relation.Record) bool {
			if b, ok := row.Get("emprise_chaussee").Bool(); ok {
				return b
			}
			f, ok := row.Get("emprise_chaussee").Float()
			return ok && f == 1
		})
	}
	if surChaussee.IsEmpty() {
		return zero
	}

	surface, hasSurface := surChaussee.First(surfaceCandidates...)
	if surChaussee.Has(colZone) && hasSurface {
		cols := []string{colZone, "nb_chantiers_chaussee", "surface_moyenne", "score_criticite"}
		var rows []relation.Record
		for _, g := range surChaussee.GroupBy(colZone) {
			n := g.Rows.Len()
			mean := stats.Mean(g.Rows.Floats(surface))
			rows = append(rows, relation.Record{
				colZone:                 g.Key[0],
				"nb_chantiers_chaussee": relation.Int(n),
				"surface_moyenne":       relation.Number(mean),
				"score_criticite":       relation.Number(stats.Round(float64(n)*mean, 2)),
			})
		}
		return relation.New(cols, rows...)
	}
	n := surChaussee.Len()
	return relation.New([]string{"nb_chantiers", "score_criticite"},
		relation.Record{"nb_chantiers": relation.Int(n), "score_criticite": relation.Number(float64(n))})
}

// QualiteVariant tags the schema used by QualiteService.
type QualiteVariant string

const (
	QualiteEmpty             QualiteVariant = "empty"
	QualiteGroupedAggregates QualiteVariant = "grouped_aggregates"
	QualiteGroupedCount      QualiteVariant = "grouped_count"
	QualiteGlobalAggregates  QualiteVariant = "global_aggregates"
	QualiteGlobalCount       QualiteVariant = "global_count"
)

// QualiteDescription is reported when no usable column is present.
const QualiteDescription = "Données qualité service disponibles"

var (
	qualiteGroupColumns = []string{"operateur", "mode", "trimestre"}
	qualiteScoreColumns = []string{"score_qualite", "resultat_pct"}
	qualitePenaltyCols  = []string{"penalites", "penalite"}
)

// qualiteSchema is the set of optional columns found in a quality relation.
type qualiteSchema struct {
	groups  []string
	score   string
	penalty string
}

func resolveQualiteSchema(r relation.Relation) (qualiteSchema, QualiteVariant) {
	var s qualiteSchema
	for _, c := range qualiteGroupColumns {
		if r.Has(c) {
			s.groups = append(s.groups, c)
		}
	}
	s.score, _ = r.First(qualiteScoreColumns...)
	s.penalty, _ = r.First(qualitePenaltyCols...)
	hasAgg := s.score != "" || s.penalty != ""

	switch {
	case len(s.groups) > 0 && hasAgg:
		return s, QualiteGroupedAggregates
	case len(s.groups) > 0:
		return s, QualiteGroupedCount
	case hasAgg:
		return s, QualiteGlobalAggregates
	default:
		return s, QualiteGlobalCount
	}
}

func (s qualiteSchema) aggColumns() []string {
	var cols []string
	if s.score != "" {
		cols = append(cols, "score_qualite_moyen")
	}
	if s.penalty != "" {
		cols = append(cols, "penalites_total")
	}
	return cols
}

func (s qualiteSchema) aggregate(g relation.Relation, rec relation.Record) {
	if s.score != "" {
		rec["score_qualite_moyen"] = relation.Number(stats.Mean(g.Floats(s.score)))
	}
	if s.penalty != "" {
		rec["penalites_total"] = relation.Number(stats.Sum(g.Floats(s.penalty)))
	}
}

// QualiteService aggregates transit quality records by whichever of
// operateur, mode and trimestre are present, and reports which schema
// variant was used.
func (e *Engine) QualiteService(r relation.Relation) (relation.Relation, QualiteVariant) {
	if r.IsEmpty() {
		return relation.New([]string{"nb_enregistrements"}, relation.Record{"nb_enregistrements": relation.Int(0)}), QualiteEmpty
	}
	schema, variant := resolveQualiteSchema(r)

	switch variant {
	case QualiteGlobalCount:
		return relation.New([]string{"nb_enregistrements", "description"}, relation.Record{
			"nb_enregistrements": relation.Int(r.Len()),
			"description":        relation.String(QualiteDescription),
		}), variant

	case QualiteGlobalAggregates:
		rec := relation.Record{"nb_enregistrements": relation.Int(r.Len())}
		schema.aggregate(r, rec)
		return relation.New(append([]string{"nb_enregistrements"}, schema.aggColumns()...), rec), variant

	case QualiteGroupedCount:
		cols := append(append([]string{}, schema.groups...), "nb_enregistrements")
		var rows []relation.Record
		for _, g := range r.GroupBy(schema.groups...) {
			rec := g.KeyRecord(schema.groups)
			rec["nb_enregistrements"] = relation.Int(g.Rows.Len())
			rows = append(rows, rec)
		}
		return relation.New(cols, rows...), variant
	}

	cols := append(append([]string{}, schema.groups...), schema.aggColumns()...)
	var rows []relation.Record
	for _, g := range r.GroupBy(schema.groups...) {
		rec := g.KeyRecord(schema.groups)
		schema.aggregate(g.Rows, rec)
		rows = append(rows, rec)
	}
	return relation.New(cols, rows...), variant
}
