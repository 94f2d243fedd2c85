package metrics

// Periode is the calendar bucket used by evolution_temporelle.
type Periode string

const (
	PeriodeJour    Periode = "jour"
	PeriodeSemaine Periode = "semaine"
	PeriodeMois    Periode = "mois"
)

// Params holds the tunable thresholds of the metric engine.
type Params struct {
	TopNCompteurs             int
	LastNDays                 int
	HeuresPointeSeuilPct      float64
	DisponibilitePeriodeJours int
	TopCompteursN             int
	FaibleActiviteSeuilPct    float64
	DefaillantsSeuilHeures    float64
	CorridorsPercentile       float64
	CongestionSeuilPct        float64
	CongestionMaxResults      int
	AnomaliesSeuilZScore      float64
	AnomaliesMaxResults       int
	EvolutionPeriode          Periode
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		TopNCompteurs:             50,
		LastNDays:                 60,
		HeuresPointeSeuilPct:      120,
		DisponibilitePeriodeJours: 30,
		TopCompteursN:             200,
		FaibleActiviteSeuilPct:    20,
		DefaillantsSeuilHeures:    24,
		CorridorsPercentile:       75,
		CongestionSeuilPct:        150,
		CongestionMaxResults:      500,
		AnomaliesSeuilZScore:      3,
		AnomaliesMaxResults:       200,
		EvolutionPeriode:          PeriodeSemaine,
	}
}
