package reports

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cityflow/internal/metrics"
	"cityflow/internal/relation"
	"cityflow/internal/types"
)

var fixedNow = time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)

func newBuilder() *Builder {
	return NewBuilder(types.FixedClock{T: fixedNow})
}

func ts(s string) relation.Value {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return relation.Time(t)
}

func sampleSet() *metrics.Set {
	set := metrics.NewSet()
	set.Put(metrics.Result{Name: types.MetricTopCompteurs, Data: relation.New([]string{"rang", "compteur_id", "dmja"},
		relation.Record{"rang": relation.Int(1), "compteur_id": relation.String("A"), "dmja": relation.Number(120)},
		relation.Record{"rang": relation.Int(2), "compteur_id": relation.String("B"), "dmja": relation.Number(80)},
	)})
	set.Put(metrics.Result{Name: types.MetricCongestionCyclable, Data: relation.New(
		[]string{"compteur_id", "date_heure", "comptage_horaire", "debit_moyen", "seuil_pct", "depassement_pct"},
		relation.Record{"compteur_id": relation.String("A"), "date_heure": ts("2025-01-05T08:00:00Z"),
			"comptage_horaire": relation.Number(500), "debit_moyen": relation.Number(100),
			"seuil_pct": relation.Number(150), "depassement_pct": relation.Number(400)},
	)})
	set.Put(metrics.Result{Name: types.MetricAnomalies, Data: relation.New(
		[]string{"compteur_id", "date_heure", "comptage_horaire", "mean", "std", "zscore", "type_anomalie"},
		relation.Record{"compteur_id": relation.String("A"), "date_heure": ts("2025-01-05T08:00:00Z"),
			"comptage_horaire": relation.Number(500), "mean": relation.Number(100), "std": relation.Number(90),
			"zscore": relation.Number(4.444), "type_anomalie": relation.String(metrics.AnomaliePic)},
	)})
	set.Put(metrics.Result{Name: types.MetricCompteursDefaillants, Data: relation.New(
		[]string{"compteur_id", "derniere_mesure", "heures_sans_donnees", "status"},
		relation.Record{"compteur_id": relation.String("C"), "derniere_mesure": ts("2025-01-04T00:00:00Z"),
			"heures_sans_donnees": relation.Number(60), "status": relation.String(metrics.StatusDefaillant)},
	)})
	set.Put(metrics.Result{Name: types.MetricProfilJourType, Data: relation.New([]string{"jour", "heure", "debit_moyen"},
		relation.Record{"jour": relation.String("Monday"), "heure": relation.Int(8), "debit_moyen": relation.Number(10)},
		relation.Record{"jour": relation.String("Monday"), "heure": relation.Int(9), "debit_moyen": relation.Number(12)},
		relation.Record{"jour": relation.String("Sunday"), "heure": relation.Int(8), "debit_moyen": relation.Number(3)},
	)})
	set.Put(metrics.Result{Name: types.MetricEvolutionTemporelle, Variant: string(metrics.PeriodeSemaine), Data: relation.New(
		[]string{"periode", "debit_total", "debit_precedent", "variation_absolue", "taux_croissance_pct"},
		relation.Record{"periode": relation.String("2024-12-23/2024-12-29"), "debit_total": relation.Number(100)},
		relation.Record{"periode": relation.String("2024-12-30/2025-01-05"), "debit_total": relation.Number(105),
			"debit_precedent": relation.Number(100), "variation_absolue": relation.Number(5), "taux_croissance_pct": relation.Number(5.2)},
	)})
	set.Put(metrics.Result{Name: types.MetricRatioWeekendSemaine, Data: relation.New(
		[]string{"debit_weekend", "debit_semaine", "ratio_weekend_semaine", "difference_pct"},
		relation.Record{"debit_weekend": relation.Number(50), "debit_semaine": relation.Number(100),
			"ratio_weekend_semaine": relation.Number(0.5), "difference_pct": relation.Number(-50)},
	)})
	return set
}

func comptage() relation.Relation {
	return relation.New([]string{"compteur_id", "date_heure", "comptage_horaire"},
		relation.Record{"compteur_id": relation.String("A"), "date_heure": ts("2025-01-05T08:00:00Z"), "comptage_horaire": relation.Number(500)},
		relation.Record{"compteur_id": relation.String("A"), "date_heure": ts("2025-01-05T09:00:00Z"), "comptage_horaire": relation.Number(20.7)},
		relation.Record{"compteur_id": relation.String("B"), "date_heure": ts("2025-01-05T09:00:00Z"), "comptage_horaire": relation.Number(30)},
	)
}

func TestBuilder_ResumeExecutif(t *testing.T) {
	r := newBuilder().ResumeExecutif("2025-01-05", comptage(), sampleSet())
	assert.Equal(t, ResumeExecutif{
		Date:                       "2025-01-05",
		TotalPassages:              550,
		CompteursActifs:            2,
		CompteursDefaillants:       1,
		EvolutionVsHier:            "N/A",
		EvolutionVsSemaineDerniere: "+5.2%",
	}, r)
}

func TestBuilder_ResumeExecutif_DailyEvolution(t *testing.T) {
	set := metrics.NewSet()
	set.Put(metrics.Result{Name: types.MetricEvolutionTemporelle, Variant: string(metrics.PeriodeJour), Data: relation.New(
		[]string{"periode", "taux_croissance_pct"},
		relation.Record{"periode": relation.String("2025-01-05"), "taux_croissance_pct": relation.Number(-3.04)},
	)})
	r := newBuilder().ResumeExecutif("2025-01-05", relation.Empty(), set)
	assert.Equal(t, "-3.0%", r.EvolutionVsHier)
	assert.Equal(t, "N/A", r.EvolutionVsSemaineDerniere)
	assert.Zero(t, r.TotalPassages)
}

func TestBuilder_Alertes(t *testing.T) {
	a := newBuilder().Alertes(sampleSet())
	require.NotNil(t, a)
	assert.Equal(t, "Alertes de la Journée", a.Titre)
	assert.Equal(t, "2025-01-06T12:00:00Z", a.DateGeneration)
	require.Len(t, a.Alertes, 3)

	assert.Equal(t, AlertePicCongestion, a.Alertes[0].Type)
	assert.Equal(t, "Pic de circulation détecté: 500 vélos/h (400.0% au-dessus de la moyenne)", a.Alertes[0].Message)
	assert.Equal(t, "2025-01-05T08:00:00Z", a.Alertes[0].DateHeure)
	require.NotNil(t, a.Alertes[0].Debit)
	assert.Equal(t, 500.0, *a.Alertes[0].Debit)

	assert.Equal(t, AlerteAnomalie, a.Alertes[1].Type)
	assert.Equal(t, "Anomalie détectée: pic_exceptionnel (Z-score: 4.44)", a.Alertes[1].Message)

	assert.Equal(t, AlerteCompteurDefaillant, a.Alertes[2].Type)
	assert.Equal(t, "Compteur défaillant: 60.0h sans données", a.Alertes[2].Message)
	assert.Empty(t, a.Alertes[2].DateHeure)
}

func TestBuilder_SectionsAbsentWithoutMetrics(t *testing.T) {
	b := newBuilder()
	empty := metrics.NewSet()
	assert.Nil(t, b.TopCompteurs(empty))
	assert.Nil(t, b.ZonesCongestionnees(empty))
	assert.Nil(t, b.CompteursDefaillants(empty))
	assert.Nil(t, b.Alertes(empty))
	assert.Nil(t, b.ProfilJourType(empty))
	assert.Nil(t, b.Chantiers(empty))
	assert.Nil(t, b.Tendances(empty))
	assert.Nil(t, b.QualiteService(empty))

	raw, err := json.Marshal(b.RapportComplet("2025-01-05", relation.Empty(), empty))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.ElementsMatch(t, []string{"meta", "resume_executif"}, keys(doc))
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestBuilder_RapportComplet(t *testing.T) {
	rapport := newBuilder().RapportComplet("2025-01-05", comptage(), sampleSet())
	assert.Equal(t, Meta{
		Titre:          "Rapport Quotidien CityFlow Analytics",
		Date:           "2025-01-05",
		DateGeneration: "2025-01-06T12:00:00Z",
		Version:        "2.0",
	}, rapport.Meta)

	require.NotNil(t, rapport.TopCompteurs)
	assert.Equal(t, "Top 10 Compteurs les Plus Fréquentés", rapport.TopCompteurs.Titre)
	assert.Equal(t, 2, rapport.TopCompteurs.Compteurs.Len())

	require.NotNil(t, rapport.ProfilJourType)
	assert.Equal(t, 2, rapport.ProfilJourType.Profils["Monday"].Len())
	assert.Equal(t, 1, rapport.ProfilJourType.Profils["Sunday"].Len())

	require.NotNil(t, rapport.Tendances)
	assert.Equal(t, "semaine", rapport.Tendances.Periode)
	assert.Equal(t, 0.5, rapport.Tendances.RatioWeekendSemaine["ratio_weekend_semaine"])

	assert.Nil(t, rapport.Chantiers)
	assert.Nil(t, rapport.QualiteService)

	raw, err := json.Marshal(rapport)
	require.NoError(t, err)
	s := string(raw)
	assert.Contains(t, s, `"evolution_hebdomadaire":[{"periode":"2024-12-23/2024-12-29","debit_total":100,"debit_precedent":null`)
	assert.Contains(t, s, `"derniere_mesure":"2025-01-04T00:00:00Z"`)
	assert.NotContains(t, s, "NaN")
}

func TestBuilder_ZonesCongestionnees_Top20(t *testing.T) {
	var rows []relation.Record
	for i := 0; i < 25; i++ {
		rows = append(rows, relation.Record{"compteur_id": relation.Int(i), "depassement_pct": relation.Number(float64(i))})
	}
	set := metrics.NewSet()
	set.Put(metrics.Result{Name: types.MetricCongestionCyclable, Data: relation.New([]string{"compteur_id", "depassement_pct"}, rows...)})

	zones := newBuilder().ZonesCongestionnees(set)
	require.NotNil(t, zones)
	require.Equal(t, 20, zones.Zones.Len())
	top, _ := zones.Zones.Row(0).Get("depassement_pct").Float()
	assert.Equal(t, 24.0, top)
}

func TestBuilder_QualiteServiceAndChantiers(t *testing.T) {
	set := metrics.NewSet()
	set.Put(metrics.Result{Name: types.MetricQualiteService, Variant: string(metrics.QualiteGlobalCount), Data: relation.New(
		[]string{"nb_enregistrements", "description"},
		relation.Record{"nb_enregistrements": relation.Int(3), "description": relation.String(metrics.QualiteDescription)},
	)})
	set.Put(metrics.Result{Name: types.MetricChantiersActifs, Data: relation.New([]string{"nb_chantiers_actifs"},
		relation.Record{"nb_chantiers_actifs": relation.Int(4)})})

	b := newBuilder()
	q := b.QualiteService(set)
	require.NotNil(t, q)
	assert.Equal(t, "global_count", q.Variante)
	assert.Equal(t, "Qualité de Service des Transports", q.Titre)

	c := b.Chantiers(set)
	require.NotNil(t, c)
	assert.Equal(t, 1, c.ChantiersActifs.Len())
	raw, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"zones_critiques":[]`)
}

func TestBuilder_MetricsSummary(t *testing.T) {
	s := newBuilder().MetricsSummary(sampleSet())
	assert.Equal(t, "Résumé des Métriques CityFlow Analytics", s.Meta.Titre)
	require.Len(t, s.MetriquesDisponibles, 7)
	first := s.MetriquesDisponibles[0]
	assert.Equal(t, MetricInfo{
		Nom:      "top_compteurs",
		Type:     "relation",
		NbLignes: 2,
		Colonnes: []string{"rang", "compteur_id", "dmja"},
	}, first)
	assert.Equal(t, "semaine", s.MetriquesDisponibles[5].Variante)
}
