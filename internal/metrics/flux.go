package metrics

import (
	"time"

	"cloud.google.com/go/civil"

	"cityflow/internal/relation"
	"cityflow/internal/stats"
)

var weekdays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday,
}

// DebitHoraire summarises the hourly count of each counter.
func (e *Engine) DebitHoraire(r relation.Relation) relation.Relation {
	cols := []string{colCompteur, "debit_horaire_moyen", "debit_horaire_median", "debit_horaire_min",
		"debit_horaire_max", "debit_total", "nb_mesures"}
	if r.IsEmpty() || !r.Has(colCompteur, colComptage) {
		return relation.Empty(cols...)
	}
	var rows []relation.Record
	for _, g := range r.GroupBy(colCompteur) {
		xs := g.Rows.Floats(colComptage)
		rows = append(rows, relation.Record{
			colCompteur:            g.Key[0],
			"debit_horaire_moyen":  relation.Number(stats.Mean(xs)),
			"debit_horaire_median": relation.Number(stats.Median(xs)),
			"debit_horaire_min":    relation.Number(stats.Min(xs)),
			"debit_horaire_max":    relation.Number(stats.Max(xs)),
			"debit_total":          relation.Number(stats.Sum(xs)),
			"nb_mesures":           relation.Int(len(xs)),
		})
	}
	return relation.New(cols, rows...)
}

// withDate adds a "date" column holding the calendar day of date_heure.
func withDate(r relation.Relation) relation.Relation {
	return r.WithColumn("date", func(row relation.Record) relation.Value {
		t, ok := timestamp(row)
		if !ok {
			return relation.Null()
		}
		return relation.Date(civil.DateOf(t))
	})
}

func dailySums(r relation.Relation) relation.Relation {
	return r.Aggregate([]string{colCompteur, "date"}, relation.Aggregation{
		Column: "debit_journalier",
		Fn:     func(g relation.Relation) relation.Value { return relation.Number(stats.Sum(g.Floats(colComptage))) },
	})
}

// DebitJournalier sums hourly counts per counter and day, restricted to the
// TopNCompteurs counters by total volume and to the LastNDays days before the
// most recent day.
func (e *Engine) DebitJournalier(r relation.Relation) relation.Relation {
	cols := []string{colCompteur, "date", "debit_journalier"}
	if r.IsEmpty() || !r.Has(colCompteur, colDateHeure, colComptage) {
		return relation.Empty(cols...)
	}
	frame := withDate(r)

	totals := frame.Aggregate([]string{colCompteur}, relation.Aggregation{
		Column: "total",
		Fn:     func(g relation.Relation) relation.Value { return relation.Number(stats.Sum(g.Floats(colComptage))) },
	}).NLargest(e.params.TopNCompteurs, "total")
	keep := map[string]bool{}
	for _, row := range totals.Rows() {
		id, _ := row.Get(colCompteur).ToStr()
		keep[id] = true
	}
	frame = frame.Filter(func(row relation.Record) bool {
		id, ok := row.Get(colCompteur).ToStr()
		return ok && keep[id]
	})

	var maxDate civil.Date
	found := false
	for _, row := range frame.Rows() {
		if d, ok := row.Get("date").Date(); ok && (!found || d.After(maxDate)) {
			maxDate, found = d, true
		}
	}
	if found {
		minDate := maxDate.AddDays(-e.params.LastNDays)
		frame = frame.Filter(func(row relation.Record) bool {
			d, ok := row.Get("date").Date()
			return ok && !d.Before(minDate)
		})
	}
	return dailySums(frame).Select(cols...)
}

// DMJA is the mean of the daily sums of each counter over all available days.
func (e *Engine) DMJA(r relation.Relation) relation.Relation {
	cols := []string{colCompteur, "dmja"}
	if r.IsEmpty() || !r.Has(colCompteur, colDateHeure, colComptage) {
		return relation.Empty(cols...)
	}
	daily := dailySums(withDate(r))
	return daily.Aggregate([]string{colCompteur}, relation.Aggregation{
		Column: "dmja",
		Fn:     func(g relation.Relation) relation.Value { return relation.Number(stats.Mean(g.Floats("debit_journalier"))) },
	})
}

// ProfilJourType is the mean hourly count per weekday and hour of day.
// Rows are ordered Monday to Sunday, then by hour.
func (e *Engine) ProfilJourType(r relation.Relation) relation.Relation {
	cols := []string{"jour", "heure", "debit_moyen"}
	if r.IsEmpty() || !r.Has(colDateHeure, colComptage) {
		return relation.Empty(cols...)
	}
	byDay := map[time.Weekday][]relation.Record{}
	for _, row := range r.Rows() {
		t, ok := timestamp(row)
		if !ok {
			continue
		}
		byDay[t.Weekday()] = append(byDay[t.Weekday()], relation.Record{
			"heure":     relation.Int(t.Hour()),
			colComptage: row.Get(colComptage),
		})
	}
	var rows []relation.Record
	for _, wd := range weekdays {
		recs := byDay[wd]
		if len(recs) == 0 {
			continue
		}
		hourly := relation.New([]string{"heure", colComptage}, recs...).Aggregate([]string{"heure"}, meanOf(colComptage, "debit_moyen"))
		for _, h := range hourly.Rows() {
			rows = append(rows, relation.Record{
				"jour":        relation.String(wd.String()),
				"heure":       h.Get("heure"),
				"debit_moyen": h.Get("debit_moyen"),
			})
		}
	}
	return relation.New(cols, rows...)
}

// HeuresPointe returns the hours whose mean count exceeds
// HeuresPointeSeuilPct percent of the mean of the hourly means.
func (e *Engine) HeuresPointe(r relation.Relation) relation.Relation {
	cols := []string{"heure", "debit_moyen", "seuil_pct", "debit_global_moyen"}
	if r.IsEmpty() || !r.Has(colDateHeure, colComptage) {
		return relation.Empty(cols...)
	}
	hourly := withHour(r).Aggregate([]string{"heure"}, meanOf(colComptage, "debit_moyen"))
	global := stats.Mean(hourly.Floats("debit_moyen"))
	seuil := global * e.params.HeuresPointeSeuilPct / 100

	var rows []relation.Record
	for _, h := range hourly.Rows() {
		m, ok := h.Get("debit_moyen").Float()
		if !ok || !(m > seuil) {
			continue
		}
		rows = append(rows, relation.Record{
			"heure":              h.Get("heure"),
			"debit_moyen":        relation.Number(m),
			"seuil_pct":          relation.Number(e.params.HeuresPointeSeuilPct),
			"debit_global_moyen": relation.Number(global),
		})
	}
	return relation.New(cols, rows...)
}

func withHour(r relation.Relation) relation.Relation {
	return r.WithColumn("heure", func(row relation.Record) relation.Value {
		t, ok := timestamp(row)
		if !ok {
			return relation.Null()
		}
		return relation.Int(t.Hour())
	})
}

func meanOf(src, dst string) relation.Aggregation {
	return relation.Aggregation{
		Column: dst,
		Fn:     func(g relation.Relation) relation.Value { return relation.Number(stats.Mean(g.Floats(src))) },
	}
}
