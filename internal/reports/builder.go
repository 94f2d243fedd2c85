// Package reports turns computed metrics into the JSON documents persisted
// for each processing day.
package reports

import (
	"fmt"
	"math"
	"time"

	"cityflow/internal/metrics"
	"cityflow/internal/relation"
	"cityflow/internal/types"
)

const (
	rapportTitre   = "Rapport Quotidien CityFlow Analytics"
	rapportVersion = "2.0"
	summaryTitre   = "Résumé des Métriques CityFlow Analytics"

	notAvailable = "N/A"

	defaultTopLimit  = 10
	zonesLimit       = 20
	alertesPerSource = 10
)

// Builder renders report documents. The clock stamps date_generation.
type Builder struct {
	clock    types.Clock
	topLimit int
}

// NewBuilder creates a builder. A nil clock uses the system clock.
func NewBuilder(clock types.Clock) *Builder {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Builder{clock: clock, topLimit: defaultTopLimit}
}

func (b *Builder) header(titre string) Header {
	return Header{Titre: titre, DateGeneration: b.clock.Now().Format(time.RFC3339)}
}

// RapportComplet assembles the daily report from the counter readings and
// the metric set.
func (b *Builder) RapportComplet(date string, comptage relation.Relation, set *metrics.Set) RapportComplet {
	return RapportComplet{
		Meta: Meta{
			Titre:          rapportTitre,
			Date:           date,
			DateGeneration: b.clock.Now().Format(time.RFC3339),
			Version:        rapportVersion,
		},
		ResumeExecutif:       b.ResumeExecutif(date, comptage, set),
		TopCompteurs:         b.TopCompteurs(set),
		ZonesCongestionnees:  b.ZonesCongestionnees(set),
		CompteursDefaillants: b.CompteursDefaillants(set),
		Alertes:              b.Alertes(set),
		ProfilJourType:       b.ProfilJourType(set),
		Chantiers:            b.Chantiers(set),
		Tendances:            b.Tendances(set),
		QualiteService:       b.QualiteService(set),
	}
}

// ResumeExecutif summarises the day's traffic. Growth figures come from the
// last evolution_temporelle period when it is daily or weekly.
func (b *Builder) ResumeExecutif(date string, comptage relation.Relation, set *metrics.Set) ResumeExecutif {
	r := ResumeExecutif{
		Date:                       date,
		EvolutionVsHier:            notAvailable,
		EvolutionVsSemaineDerniere: notAvailable,
	}
	if comptage.Has("comptage_horaire") {
		total := 0.0
		for _, v := range comptage.Floats("comptage_horaire") {
			total += v
		}
		r.TotalPassages = int64(total)
	}
	if comptage.Has("compteur_id") {
		r.CompteursActifs = len(comptage.Unique("compteur_id"))
	}
	r.CompteursDefaillants = set.Relation(types.MetricCompteursDefaillants).Len()

	if res, ok := set.Get(types.MetricEvolutionTemporelle); ok && !res.Data.IsEmpty() {
		last := res.Data.Row(res.Data.Len() - 1)
		if taux, ok := last.Get("taux_croissance_pct").Float(); ok {
			switch metrics.Periode(res.Variant) {
			case metrics.PeriodeJour:
				r.EvolutionVsHier = formatGrowth(taux)
			case metrics.PeriodeSemaine:
				r.EvolutionVsSemaineDerniere = formatGrowth(taux)
			}
		}
	}
	return r
}

func formatGrowth(pct float64) string {
	return fmt.Sprintf("%+.1f%%", pct)
}

// TopCompteurs returns the first ranked counters, or nil when top_compteurs
// was not computed.
func (b *Builder) TopCompteurs(set *metrics.Set) *TopCompteurs {
	res, ok := set.Get(types.MetricTopCompteurs)
	if !ok {
		return nil
	}
	return &TopCompteurs{
		Header:    b.header(fmt.Sprintf("Top %d Compteurs les Plus Fréquentés", b.topLimit)),
		Compteurs: res.Data.Head(b.topLimit),
	}
}

func (b *Builder) ZonesCongestionnees(set *metrics.Set) *ZonesCongestionnees {
	res, ok := set.Get(types.MetricCongestionCyclable)
	if !ok {
		return nil
	}
	return &ZonesCongestionnees{
		Header: b.header("Zones les Plus Congestionnées"),
		Zones:  res.Data.NLargest(zonesLimit, "depassement_pct"),
	}
}

func (b *Builder) CompteursDefaillants(set *metrics.Set) *CompteursDefaillants {
	res, ok := set.Get(types.MetricCompteursDefaillants)
	if !ok {
		return nil
	}
	return &CompteursDefaillants{Header: b.header("Compteurs Défaillants"), Compteurs: res.Data}
}

// Alertes lists congestion peaks and anomalies (first ten of each) followed
// by every failing counter. It is nil when none of the three metrics exist.
func (b *Builder) Alertes(set *metrics.Set) *Alertes {
	congestion, okC := set.Get(types.MetricCongestionCyclable)
	anomalies, okA := set.Get(types.MetricAnomalies)
	defaillants, okD := set.Get(types.MetricCompteursDefaillants)
	if !okC && !okA && !okD {
		return nil
	}
	out := &Alertes{Header: b.header("Alertes de la Journée"), Alertes: []Alerte{}}

	for _, row := range congestion.Data.Head(alertesPerSource).Rows() {
		debit := floatOrNaN(row.Get("comptage_horaire"))
		out.Alertes = append(out.Alertes, Alerte{
			Type:       AlertePicCongestion,
			CompteurID: text(row.Get("compteur_id")),
			DateHeure:  text(row.Get("date_heure")),
			Debit:      ptr(row.Get("comptage_horaire")),
			SeuilPct:   ptr(row.Get("seuil_pct")),
			Message: fmt.Sprintf("Pic de circulation détecté: %.0f vélos/h (%.1f%% au-dessus de la moyenne)",
				debit, floatOrNaN(row.Get("depassement_pct"))),
		})
	}
	for _, row := range anomalies.Data.Head(alertesPerSource).Rows() {
		kind := text(row.Get("type_anomalie"))
		out.Alertes = append(out.Alertes, Alerte{
			Type:         AlerteAnomalie,
			CompteurID:   text(row.Get("compteur_id")),
			DateHeure:    text(row.Get("date_heure")),
			Zscore:       ptr(row.Get("zscore")),
			TypeAnomalie: kind,
			Message:      fmt.Sprintf("Anomalie détectée: %s (Z-score: %.2f)", kind, floatOrNaN(row.Get("zscore"))),
		})
	}
	for _, row := range defaillants.Data.Rows() {
		out.Alertes = append(out.Alertes, Alerte{
			Type:              AlerteCompteurDefaillant,
			CompteurID:        text(row.Get("compteur_id")),
			HeuresSansDonnees: ptr(row.Get("heures_sans_donnees")),
			Message:           fmt.Sprintf("Compteur défaillant: %.1fh sans données", floatOrNaN(row.Get("heures_sans_donnees"))),
		})
	}
	return out
}

// ProfilJourType splits the weekday profile by day name.
func (b *Builder) ProfilJourType(set *metrics.Set) *ProfilJourType {
	res, ok := set.Get(types.MetricProfilJourType)
	if !ok {
		return nil
	}
	out := &ProfilJourType{Header: b.header("Profils Jour Type"), Profils: map[string]relation.Relation{}}
	for _, g := range res.Data.GroupBy("jour") {
		out.Profils[text(g.Key[0])] = g.Rows
	}
	return out
}

func (b *Builder) Chantiers(set *metrics.Set) *Chantiers {
	actifs, okA := set.Get(types.MetricChantiersActifs)
	score, okS := set.Get(types.MetricScoreCriticiteChantiers)
	if !okA && !okS {
		return nil
	}
	return &Chantiers{
		Header:          b.header("Analyse des Chantiers"),
		ChantiersActifs: actifs.Data,
		ZonesCritiques:  score.Data,
	}
}

// Tendances reports the period evolution and the weekend ratio as a single
// object.
func (b *Builder) Tendances(set *metrics.Set) *Tendances {
	evolution, okE := set.Get(types.MetricEvolutionTemporelle)
	ratio, okR := set.Get(types.MetricRatioWeekendSemaine)
	if !okE && !okR {
		return nil
	}
	out := &Tendances{
		Header:                b.header("Tendances et Évolutions"),
		Periode:               evolution.Variant,
		EvolutionHebdomadaire: evolution.Data,
		RatioWeekendSemaine:   map[string]any{},
	}
	if records := ratio.Data.Records(); len(records) > 0 {
		out.RatioWeekendSemaine = records[0]
	}
	return out
}

func (b *Builder) QualiteService(set *metrics.Set) *QualiteService {
	res, ok := set.Get(types.MetricQualiteService)
	if !ok {
		return nil
	}
	return &QualiteService{
		Header:      b.header("Qualité de Service des Transports"),
		Variante:    res.Variant,
		Indicateurs: res.Data,
	}
}

// MetricsSummary lists every computed metric with its shape.
func (b *Builder) MetricsSummary(set *metrics.Set) MetricsSummary {
	out := MetricsSummary{
		Meta:                 Meta{Titre: summaryTitre, DateGeneration: b.clock.Now().Format(time.RFC3339)},
		MetriquesDisponibles: []MetricInfo{},
	}
	for _, name := range set.Names() {
		res, _ := set.Get(name)
		out.MetriquesDisponibles = append(out.MetriquesDisponibles, MetricInfo{
			Nom:      string(name),
			Type:     "relation",
			Variante: res.Variant,
			NbLignes: res.Data.Len(),
			Colonnes: res.Data.Columns(),
		})
	}
	return out
}

func text(v relation.Value) string {
	s, _ := v.ToStr()
	return s
}

func ptr(v relation.Value) *float64 {
	f, ok := v.ToFloat()
	if !ok {
		return nil
	}
	return &f
}

func floatOrNaN(v relation.Value) float64 {
	if f, ok := v.ToFloat(); ok {
		return f
	}
	return math.NaN()
}
