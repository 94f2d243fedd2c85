package metrics

import (
	"time"

	"cityflow/internal/geo"
	"cityflow/internal/relation"
	"cityflow/internal/stats"
)

// StatusDefaillant labels counters that stopped reporting.
const StatusDefaillant = "Défaillant"

// TauxDisponibilite is the share of expected hourly records actually
// received by each counter over DisponibilitePeriodeJours days.
func (e *Engine) TauxDisponibilite(r relation.Relation) relation.Relation {
	cols := []string{colCompteur, "nb_enregistrements_reels", "nb_enregistrements_attendus", "taux_disponibilite_pct"}
	if r.IsEmpty() || !r.Has(colCompteur, colDateHeure) {
		return relation.Empty(cols...)
	}
	attendus := 24 * e.params.DisponibilitePeriodeJours
	valid := r.Filter(func(row relation.Record) bool {
		_, ok := timestamp(row)
		return ok
	})
	var rows []relation.Record
	for _, g := range valid.GroupBy(colCompteur) {
		n := g.Rows.Len()
		pct := 0.0
		if attendus > 0 {
			pct = stats.Round(float64(n)/float64(attendus)*100, 2)
		}
		rows = append(rows, relation.Record{
			colCompteur:                   g.Key[0],
			"nb_enregistrements_reels":    relation.Int(n),
			"nb_enregistrements_attendus": relation.Int(attendus),
			"taux_disponibilite_pct":      relation.Number(pct),
		})
	}
	return relation.New(cols, rows...)
}

// TopCompteurs ranks the TopCompteursN counters by dmja. Coordinates are
// attached when the readings carry them.
func (e *Engine) TopCompteurs(r relation.Relation) relation.Relation {
	withCoords := r.Has(geo.ColumnLatitude, geo.ColumnLongitude)
	cols := []string{"rang", colCompteur, "dmja"}
	if withCoords {
		cols = append(cols, geo.ColumnLatitude, geo.ColumnLongitude)
	}
	dmja := e.DMJA(r)
	if dmja.IsEmpty() {
		return relation.Empty(cols...)
	}
	coords := map[string]relation.Record{}
	if withCoords {
		for _, row := range r.Rows() {
			id, ok := row.Get(colCompteur).ToStr()
			if !ok {
				continue
			}
			if _, seen := coords[id]; seen || row.Get(geo.ColumnLatitude).IsMissing() || row.Get(geo.ColumnLongitude).IsMissing() {
				continue
			}
			coords[id] = row
		}
	}

	var rows []relation.Record
	for i, row := range dmja.NLargest(e.params.TopCompteursN, "dmja").Rows() {
		rec := relation.Record{
			"rang":      relation.Int(i + 1),
			colCompteur: row.Get(colCompteur),
			"dmja":      row.Get("dmja"),
		}
		if withCoords {
			id, _ := row.Get(colCompteur).ToStr()
			if c, ok := coords[id]; ok {
				rec[geo.ColumnLatitude] = c.Get(geo.ColumnLatitude)
				rec[geo.ColumnLongitude] = c.Get(geo.ColumnLongitude)
			}
		}
		rows = append(rows, rec)
	}
	return relation.New(cols, rows...)
}

// CompteursFaibleActivite returns the counters whose dmja is below
// FaibleActiviteSeuilPct percent of the median dmja.
func (e *Engine) CompteursFaibleActivite(r relation.Relation) relation.Relation {
	cols := []string{colCompteur, "dmja", "mediane_dmja", "seuil_pct"}
	dmja := e.DMJA(r)
	if dmja.IsEmpty() {
		return relation.Empty(cols...)
	}
	mediane := stats.Median(dmja.Floats("dmja"))
	seuil := mediane * e.params.FaibleActiviteSeuilPct / 100

	var rows []relation.Record
	for _, row := range dmja.Rows() {
		v, ok := row.Get("dmja").Float()
		if !ok || !(v < seuil) {
			continue
		}
		rows = append(rows, relation.Record{
			colCompteur:    row.Get(colCompteur),
			"dmja":         relation.Number(v),
			"mediane_dmja": relation.Number(mediane),
			"seuil_pct":    relation.Number(e.params.FaibleActiviteSeuilPct),
		})
	}
	return relation.New(cols, rows...)
}

// CompteursDefaillants returns the counters whose most recent reading is
// more than DefaillantsSeuilHeures hours before now.
func (e *Engine) CompteursDefaillants(r relation.Relation, now time.Time) relation.Relation {
	cols := []string{colCompteur, "derniere_mesure", "heures_sans_donnees", "status"}
	if r.IsEmpty() || !r.Has(colCompteur, colDateHeure) {
		return relation.Empty(cols...)
	}
	var rows []relation.Record
	for _, g := range r.GroupBy(colCompteur) {
		var last time.Time
		for _, row := range g.Rows.Rows() {
			if t, ok := timestamp(row); ok && t.After(last) {
				last = t
			}
		}
		if last.IsZero() {
			continue
		}
		heures := stats.Round(now.Sub(last).Seconds()/3600, 1)
		if !(heures > e.params.DefaillantsSeuilHeures) {
			continue
		}
		rows = append(rows, relation.Record{
			colCompteur:           g.Key[0],
			"derniere_mesure":     relation.Time(last),
			"heures_sans_donnees": relation.Number(heures),
			"status":              relation.String(StatusDefaillant),
		})
	}
	return relation.New(cols, rows...)
}
