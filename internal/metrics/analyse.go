package metrics

import (
	"math"
	"time"

	"cloud.google.com/go/civil"

	"cityflow/internal/relation"
	"cityflow/internal/stats"
)

// Anomaly classes.
const (
	AnomaliePic   = "pic_exceptionnel"
	AnomalieCreux = "creux_exceptionnel"
)

// DensiteParZone sums hourly counts per zone. The zone column is supplied
// upstream; without it the result is empty.
func (e *Engine) DensiteParZone(r relation.Relation) relation.Relation {
	cols := []string{colZone, "debit_total", "debit_moyen", "nb_mesures"}
	if r.IsEmpty() || !r.Has(colCompteur, colComptage, colZone) {
		return relation.Empty(cols...)
	}
	var rows []relation.Record
	for _, g := range r.GroupBy(colZone) {
		xs := g.Rows.Floats(colComptage)
		rows = append(rows, relation.Record{
			colZone:       g.Key[0],
			"debit_total": relation.Number(stats.Sum(xs)),
			"debit_moyen": relation.Number(stats.Mean(xs)),
			"nb_mesures":  relation.Int(len(xs)),
		})
	}
	return relation.New(cols, rows...)
}

// CorridorsCyclables returns the counters whose dmja is strictly above the
// CorridorsPercentile percentile of the dmja distribution, by dmja
// descending.
func (e *Engine) CorridorsCyclables(r relation.Relation) relation.Relation {
	cols := []string{colCompteur, "dmja", "percentile", "seuil_dmja"}
	dmja := e.DMJA(r)
	if dmja.IsEmpty() {
		return relation.Empty(cols...)
	}
	seuil := stats.Quantile(dmja.Floats("dmja"), e.params.CorridorsPercentile/100)

	var rows []relation.Record
	for _, row := range dmja.Rows() {
		v, ok := row.Get("dmja").Float()
		if !ok || !(v > seuil) {
			continue
		}
		rows = append(rows, relation.Record{
			colCompteur:  row.Get(colCompteur),
			"dmja":       relation.Number(v),
			"percentile": relation.Number(e.params.CorridorsPercentile),
			"seuil_dmja": relation.Number(seuil),
		})
	}
	return relation.New(cols, rows...).SortByColumn("dmja", true)
}

// PeriodLabel returns the evolution bucket of t: the calendar day, the
// Monday-to-Sunday week as "YYYY-MM-DD/YYYY-MM-DD", or the month "YYYY-MM".
func PeriodLabel(t time.Time, p Periode) (relation.Value, bool) {
	d := civil.DateOf(t)
	switch p {
	case PeriodeJour:
		return relation.Date(d), true
	case PeriodeSemaine:
		offset := (int(t.Weekday()) + 6) % 7
		start := d.AddDays(-offset)
		return relation.String(start.String() + "/" + start.AddDays(6).String()), true
	case PeriodeMois:
		return relation.String(t.Format("2006-01")), true
	}
	return relation.Null(), false
}

// EvolutionTemporelle sums counts per period and reports the change from the
// previous period. The first period has no previous value.
func (e *Engine) EvolutionTemporelle(r relation.Relation, p Periode) relation.Relation {
	cols := []string{"periode", "debit_total", "debit_precedent", "variation_absolue", "taux_croissance_pct"}
	if r.IsEmpty() || !r.Has(colDateHeure, colComptage) {
		return relation.Empty(cols...)
	}
	if _, ok := PeriodLabel(time.Time{}, p); !ok {
		return relation.Empty(cols...)
	}
	labelled := r.WithColumn("periode", func(row relation.Record) relation.Value {
		t, ok := timestamp(row)
		if !ok {
			return relation.Null()
		}
		v, _ := PeriodLabel(t, p)
		return v
	})
	totals := labelled.Aggregate([]string{"periode"}, relation.Aggregation{
		Column: "debit_total",
		Fn:     func(g relation.Relation) relation.Value { return relation.Number(stats.Sum(g.Floats(colComptage))) },
	})

	rows := make([]relation.Record, 0, totals.Len())
	prev := math.NaN()
	for i, row := range totals.Rows() {
		total, _ := row.Get("debit_total").Float()
		rec := relation.Record{
			"periode":             row.Get("periode"),
			"debit_total":         relation.Number(total),
			"debit_precedent":     relation.Null(),
			"variation_absolue":   relation.Null(),
			"taux_croissance_pct": relation.Null(),
		}
		if i > 0 {
			variation := total - prev
			rec["debit_precedent"] = relation.Number(prev)
			rec["variation_absolue"] = relation.Number(variation)
			rec["taux_croissance_pct"] = relation.Number(stats.Round(variation/prev*100, 2))
		}
		rows = append(rows, rec)
		prev = total
	}
	return relation.New(cols, rows...)
}

// RatioWeekendSemaine compares the Saturday and Sunday total with the
// weekday total. The ratio is 0 when there is no weekday traffic.
func (e *Engine) RatioWeekendSemaine(r relation.Relation) relation.Relation {
	cols := []string{"debit_weekend", "debit_semaine", "ratio_weekend_semaine", "difference_pct"}
	if r.IsEmpty() || !r.Has(colDateHeure, colComptage) {
		return relation.Empty(cols...)
	}
	var weekend, semaine float64
	for _, row := range r.Rows() {
		t, ok := timestamp(row)
		if !ok {
			continue
		}
		v, ok := count(row)
		if !ok {
			continue
		}
		if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
			weekend += v
		} else {
			semaine += v
		}
	}
	ratio := 0.0
	if semaine > 0 {
		ratio = weekend / semaine
	}
	return relation.New(cols, relation.Record{
		"debit_weekend":         relation.Number(math.Trunc(weekend)),
		"debit_semaine":         relation.Number(math.Trunc(semaine)),
		"ratio_weekend_semaine": relation.Number(stats.Round(ratio, 3)),
		"difference_pct":        relation.Number(stats.Round((ratio-1)*100, 2)),
	})
}

// counterStats holds the per-counter mean and sample deviation.
type counterStats struct {
	mean float64
	std  float64
}

func perCounter(r relation.Relation) map[string]counterStats {
	out := map[string]counterStats{}
	for _, g := range r.GroupBy(colCompteur) {
		id, _ := g.Key[0].ToStr()
		xs := g.Rows.Floats(colComptage)
		out[id] = counterStats{mean: stats.Mean(xs), std: stats.StdDev(xs)}
	}
	return out
}

// CongestionCyclable flags readings above CongestionSeuilPct percent of
// their counter's mean. Beyond CongestionMaxResults rows only the largest
// exceedances are kept.
func (e *Engine) CongestionCyclable(r relation.Relation) relation.Relation {
	cols := []string{colCompteur, colDateHeure, colComptage, "debit_moyen", "seuil_pct", "depassement_pct"}
	if r.IsEmpty() || !r.Has(colCompteur, colComptage) {
		return relation.Empty(cols...)
	}
	means := perCounter(r)
	var rows []relation.Record
	for _, row := range r.Rows() {
		id, ok := row.Get(colCompteur).ToStr()
		if !ok || row.Get(colCompteur).IsMissing() {
			continue
		}
		v, ok := count(row)
		if !ok {
			continue
		}
		mean := means[id].mean
		if math.IsNaN(mean) || !(v > mean*e.params.CongestionSeuilPct/100) {
			continue
		}
		rows = append(rows, relation.Record{
			colCompteur:       row.Get(colCompteur),
			colDateHeure:      row.Get(colDateHeure),
			colComptage:       row.Get(colComptage),
			"debit_moyen":     relation.Number(mean),
			"seuil_pct":       relation.Number(e.params.CongestionSeuilPct),
			"depassement_pct": relation.Number(stats.Round((v/mean-1)*100, 2)),
		})
	}
	out := relation.New(cols, rows...)
	if out.Len() > e.params.CongestionMaxResults {
		out = out.NLargest(e.params.CongestionMaxResults, "depassement_pct")
	}
	return out
}

// Anomalies flags readings whose z-score against their counter exceeds
// AnomaliesSeuilZScore in absolute value. An undefined z-score counts as 0.
// Beyond AnomaliesMaxResults rows only the largest |z| are kept.
func (e *Engine) Anomalies(r relation.Relation) relation.Relation {
	cols := []string{colCompteur, colDateHeure, colComptage, "mean", "std", "zscore", "type_anomalie"}
	if r.IsEmpty() || !r.Has(colCompteur, colComptage) {
		return relation.Empty(cols...)
	}
	byCounter := perCounter(r)
	var rows []relation.Record
	for _, row := range r.Rows() {
		id, ok := row.Get(colCompteur).ToStr()
		if !ok || row.Get(colCompteur).IsMissing() {
			continue
		}
		st := byCounter[id]
		z := 0.0
		if v, ok := count(row); ok {
			z = (v - st.mean) / st.std
		}
		if math.IsNaN(z) || math.IsInf(z, 0) {
			z = 0
		}
		if !(math.Abs(z) > e.params.AnomaliesSeuilZScore) {
			continue
		}
		kind := AnomalieCreux
		if z > 0 {
			kind = AnomaliePic
		}
		rows = append(rows, relation.Record{
			colCompteur:     row.Get(colCompteur),
			colDateHeure:    row.Get(colDateHeure),
			colComptage:     row.Get(colComptage),
			"mean":          relation.Number(st.mean),
			"std":           relation.Number(st.std),
			"zscore":        relation.Number(z),
			"type_anomalie": relation.String(kind),
			"zscore_abs":    relation.Number(math.Abs(z)),
		})
	}
	out := relation.New(append(cols, "zscore_abs"), rows...)
	if out.Len() > e.params.AnomaliesMaxResults {
		out = out.NLargest(e.params.AnomaliesMaxResults, "zscore_abs")
	}
	return out.Select(cols...)
}
