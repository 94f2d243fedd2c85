package types

// MetricName enumerates the canonical metric identifiers produced by the
// metric engine. Downstream consumers (storage, reports, API) key on these
// values instead of free-form strings.
type MetricName string

const (
	MetricDebitHoraire            MetricName = "debit_horaire"
	MetricDebitJournalier         MetricName = "debit_journalier"
	MetricDMJA                    MetricName = "dmja"
	MetricProfilJourType          MetricName = "profil_jour_type"
	MetricHeuresPointe            MetricName = "heures_pointe"
	MetricTauxDisponibilite       MetricName = "taux_disponibilite"
	MetricTopCompteurs            MetricName = "top_compteurs"
	MetricCompteursFaibleActivite MetricName = "compteurs_faible_activite"
	MetricCompteursDefaillants    MetricName = "compteurs_defaillants"
	MetricDensiteParZone          MetricName = "densite_par_zone"
	MetricCorridorsCyclables      MetricName = "corridors_cyclables"
	MetricEvolutionTemporelle     MetricName = "evolution_temporelle"
	MetricRatioWeekendSemaine     MetricName = "ratio_weekend_semaine"
	MetricCongestionCyclable      MetricName = "congestion_cyclable"
	MetricAnomalies               MetricName = "anomalies"
	MetricChantiersActifs         MetricName = "chantiers_actifs"
	MetricScoreCriticiteChantiers MetricName = "score_criticite_chantiers"
	MetricQualiteService          MetricName = "qualite_service"
)

// MetricGroup is the routing category a metric belongs to.
type MetricGroup string

const (
	GroupFlux           MetricGroup = "flux"
	GroupPerformance    MetricGroup = "performance"
	GroupAnalyse        MetricGroup = "analyse"
	GroupInfrastructure MetricGroup = "infrastructure"
)

var allMetrics = []MetricName{
	MetricDebitHoraire,
	MetricDebitJournalier,
	MetricDMJA,
	MetricProfilJourType,
	MetricHeuresPointe,
	MetricTauxDisponibilite,
	MetricTopCompteurs,
	MetricCompteursFaibleActivite,
	MetricCompteursDefaillants,
	MetricDensiteParZone,
	MetricCorridorsCyclables,
	MetricEvolutionTemporelle,
	MetricRatioWeekendSemaine,
	MetricCongestionCyclable,
	MetricAnomalies,
	MetricChantiersActifs,
	MetricScoreCriticiteChantiers,
	MetricQualiteService,
}

var metricGroups = map[MetricName]MetricGroup{
	MetricDebitHoraire:            GroupFlux,
	MetricDebitJournalier:         GroupFlux,
	MetricDMJA:                    GroupFlux,
	MetricProfilJourType:          GroupFlux,
	MetricHeuresPointe:            GroupFlux,
	MetricTauxDisponibilite:       GroupPerformance,
	MetricTopCompteurs:            GroupPerformance,
	MetricCompteursFaibleActivite: GroupPerformance,
	MetricCompteursDefaillants:    GroupPerformance,
	MetricDensiteParZone:          GroupAnalyse,
	MetricCorridorsCyclables:      GroupAnalyse,
	MetricEvolutionTemporelle:     GroupAnalyse,
	MetricRatioWeekendSemaine:     GroupAnalyse,
	MetricCongestionCyclable:      GroupAnalyse,
	MetricAnomalies:               GroupAnalyse,
	MetricChantiersActifs:         GroupInfrastructure,
	MetricScoreCriticiteChantiers: GroupInfrastructure,
	MetricQualiteService:          GroupInfrastructure,
}

// AllMetrics returns every canonical metric name in computation order.
func AllMetrics() []MetricName {
	out := make([]MetricName, len(allMetrics))
	copy(out, allMetrics)
	return out
}

// Group returns the routing category of the metric.
func (m MetricName) Group() MetricGroup {
	return metricGroups[m]
}

// Valid reports whether m is one of the canonical metric names.
func (m MetricName) Valid() bool {
	_, ok := metricGroups[m]
	return ok
}

// CorrelationName enumerates the cross-source correlation results.
type CorrelationName string

const (
	CorrelationChantiersVelo      CorrelationName = "chantiers_velo"
	CorrelationQualiteValidations CorrelationName = "qualite_validations"
	CorrelationMeteoVelo          CorrelationName = "meteo_velo"
)

// AllCorrelations returns the correlation names in computation order.
func AllCorrelations() []CorrelationName {
	return []CorrelationName{
		CorrelationChantiersVelo,
		CorrelationQualiteValidations,
		CorrelationMeteoVelo,
	}
}

// Valid reports whether c is one of the canonical correlation names.
func (c CorrelationName) Valid() bool {
	switch c {
	case CorrelationChantiersVelo, CorrelationQualiteValidations, CorrelationMeteoVelo:
		return true
	}
	return false
}

// AggregateName enumerates the daily aggregates built per source.
type AggregateName string

const (
	AggregateVelibRealtime AggregateName = "velib_realtime"
	AggregateTrafficDaily  AggregateName = "traffic_daily"
	AggregateWeatherDaily  AggregateName = "weather_daily"
	AggregateComptageVelo  AggregateName = "comptage_velo_daily"
	AggregateValidations   AggregateName = "validations_daily"
	AggregateDailyKPIs     AggregateName = "daily_kpis"
)

// ReportName enumerates the report documents persisted per day.
type ReportName string

const (
	ReportProcessing       ReportName = "processing_report"
	ReportMetricsSummary   ReportName = "metrics_summary"
	ReportRapportQuotidien ReportName = "rapport_quotidien"
)

// Valid reports whether r is a persisted report name.
func (r ReportName) Valid() bool {
	switch r {
	case ReportProcessing, ReportMetricsSummary, ReportRapportQuotidien:
		return true
	}
	return false
}
