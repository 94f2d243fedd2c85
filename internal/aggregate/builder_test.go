package aggregate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cityflow/internal/relation"
	"cityflow/internal/types"
)

func rec(kv ...any) relation.Record {
	r := relation.Record{}
	for i := 0; i < len(kv); i += 2 {
		k := kv[i].(string)
		switch v := kv[i+1].(type) {
		case string:
			r[k] = relation.String(v)
		case float64:
			r[k] = relation.Number(v)
		case int:
			r[k] = relation.Int(v)
		case nil:
			r[k] = relation.Null()
		}
	}
	return r
}

func num(t *testing.T, row relation.Record, col string) float64 {
	t.Helper()
	f, ok := row.Get(col).Float()
	require.True(t, ok, "%s is not a finite number", col)
	return f
}

func str(row relation.Record, col string) string {
	s, _ := row.Get(col).ToStr()
	return s
}

func TestBuilder_VelibRealtime(t *testing.T) {
	b := NewBuilder(nil)
	out := b.VelibRealtime(relation.New([]string{"ingestion_date", "id_compteur", "compteur_total"},
		rec("ingestion_date", "2025-01-01", "id_compteur", "S1", "compteur_total", 10.0),
		rec("ingestion_date", "2025-01-01", "id_compteur", "S1", "compteur_total", 20.0),
		rec("ingestion_date", "2025-01-01", "id_compteur", "S2", "compteur_total", 30.0),
	))
	require.Equal(t, 1, out.Len())
	assert.Equal(t, []string{"jour", "nb_stations", "compteur_total_moyen"}, out.Columns())
	assert.Equal(t, "2025-01-01", str(out.Row(0), "jour"))
	assert.Equal(t, 2.0, num(t, out.Row(0), "nb_stations"))
	assert.Equal(t, 20.0, num(t, out.Row(0), "compteur_total_moyen"))

	fallback := b.VelibRealtime(relation.New([]string{"ingestion_date", "id_site", "sum_counts"},
		rec("ingestion_date", "2025-01-01", "id_site", "X", "sum_counts", 4.0),
	))
	assert.Equal(t, 1.0, num(t, fallback.Row(0), "nb_stations"))
	assert.Equal(t, 4.0, num(t, fallback.Row(0), "compteur_total_moyen"))

	assert.True(t, b.VelibRealtime(relation.New([]string{"id_site"}, rec("id_site", "X"))).IsEmpty())
}

func TestBuilder_ComptageVelo(t *testing.T) {
	out := NewBuilder(nil).ComptageVelo(relation.New([]string{"compteur_id", "date_heure", "comptage_horaire"},
		rec("compteur_id", "A", "date_heure", "2025-01-01T08:00:00Z", "comptage_horaire", 10.0),
		rec("compteur_id", "A", "date_heure", "2025-01-01T09:00:00Z", "comptage_horaire", 30.0),
		rec("compteur_id", "A", "date_heure", "not a date", "comptage_horaire", 1000.0),
		rec("compteur_id", "B", "date_heure", "2025-01-02T09:00:00Z", "comptage_horaire", 5.0),
	))
	require.Equal(t, 2, out.Len())
	a := out.Row(0)
	assert.Equal(t, "A", str(a, "compteur_id"))
	assert.Equal(t, 40.0, num(t, a, "comptage_total"))
	assert.Equal(t, 20.0, num(t, a, "comptage_moyen"))
	assert.Equal(t, 30.0, num(t, a, "comptage_max"))
	assert.Equal(t, "2025-01-02", str(out.Row(1), "jour"))
}

func TestBuilder_TrafficIncidents(t *testing.T) {
	out := NewBuilder(nil).TrafficIncidents(relation.New([]string{"updated_at", "severity"},
		rec("updated_at", "2025-01-01T08:00:00Z", "severity", "major"),
		rec("updated_at", "2025-01-01T09:00:00Z", "severity", "minor"),
		rec("updated_at", "2025-01-01T10:00:00Z", "severity", nil),
		rec("updated_at", "2025-01-02T10:00:00Z", "severity", "minor"),
	))
	require.Equal(t, 2, out.Len())
	assert.Equal(t, []string{"jour", "incidents_major", "incidents_minor", "incidents_unknown", "nb_incidents_total"}, out.Columns())

	first := out.Row(0)
	assert.Equal(t, 1.0, num(t, first, "incidents_major"))
	assert.Equal(t, 1.0, num(t, first, "incidents_unknown"))
	assert.Equal(t, 3.0, num(t, first, "nb_incidents_total"))

	second := out.Row(1)
	assert.Equal(t, 0.0, num(t, second, "incidents_major"))
	assert.Equal(t, 1.0, num(t, second, "nb_incidents_total"))
}

func TestBuilder_TrafficIncidents_NoSeverityColumn(t *testing.T) {
	out := NewBuilder(nil).TrafficIncidents(relation.New([]string{"updated_at"},
		rec("updated_at", "2025-01-01T08:00:00Z"),
	))
	assert.Equal(t, []string{"jour", "incidents_unknown", "nb_incidents_total"}, out.Columns())
}

func TestBuilder_WeatherDaily(t *testing.T) {
	b := NewBuilder(nil)
	out := b.WeatherDaily(relation.New([]string{"datetime", "tempmax", "tempmin", "precip", "windspeed"},
		rec("datetime", "2025-01-01", "tempmax", 10.0, "tempmin", 2.0, "precip", 1.5, "windspeed", 20.0),
		rec("datetime", "2025-01-01", "tempmax", 12.0, "tempmin", 4.0, "precip", 0.5, "windspeed", 10.0),
	))
	require.Equal(t, 1, out.Len())
	row := out.Row(0)
	assert.Equal(t, 11.0, num(t, row, "temperature_max"))
	assert.Equal(t, 3.0, num(t, row, "temperature_min"))
	assert.Equal(t, 2.0, num(t, row, "precipitation_mm"))
	assert.Equal(t, 15.0, num(t, row, "vent_moyen"))

	missing := b.WeatherDaily(relation.New([]string{"datetime"}, rec("datetime", "2025-01-01")))
	assert.True(t, missing.IsEmpty())
}

func TestBuilder_Validations(t *testing.T) {
	out := NewBuilder(nil).Validations(relation.New([]string{"date", "code_ligne", "nb_validations"},
		rec("date", "2025-01-01", "code_ligne", "L1", "nb_validations", 10.0),
		rec("date", "2025-01-01", "code_ligne", "L1", "nb_validations", 5.0),
		rec("date", "2025-01-01", "code_ligne", "L2", "nb_validations", 1.0),
	))
	require.Equal(t, 2, out.Len())
	assert.Equal(t, 15.0, num(t, out.Row(0), "nb_validations"))
}

func TestBuilder_BuildKPIs(t *testing.T) {
	set := NewSet()
	set.Put(types.AggregateWeatherDaily, relation.New([]string{"jour", "temperature_max"},
		rec("jour", "2025-01-01", "temperature_max", 10.0),
		rec("jour", "2025-01-02", "temperature_max", 12.0),
	))
	set.Put(types.AggregateTrafficDaily, relation.Empty("jour", "nb_incidents_total"))
	set.Put(types.AggregateValidations, relation.New([]string{"date", "code_ligne", "nb_validations"},
		rec("date", "2025-01-02", "code_ligne", "L1", "nb_validations", 7.0),
		rec("date", "2025-01-03", "code_ligne", "L1", "nb_validations", 3.0),
	))
	set.Put(types.AggregateComptageVelo, relation.New([]string{"jour", "temperature_max"},
		rec("jour", "2025-01-01", "temperature_max", 99.0),
	))

	kpis := NewBuilder(nil).BuildKPIs(set)
	assert.Equal(t, []string{"jour", "temperature_max", "code_ligne", "nb_validations", "temperature_max_comptage_velo_daily"}, kpis.Columns())
	require.Equal(t, 3, kpis.Len())

	assert.Equal(t, "2025-01-01", str(kpis.Row(0), "jour"))
	assert.True(t, kpis.Row(0).Get("nb_validations").IsNull())
	assert.Equal(t, 99.0, num(t, kpis.Row(0), "temperature_max_comptage_velo_daily"))
	assert.Equal(t, 7.0, num(t, kpis.Row(1), "nb_validations"))
	assert.True(t, kpis.Row(2).Get("temperature_max").IsNull())

	_, isDate := kpis.Row(2).Get("jour").Date()
	assert.True(t, isDate, "day keys are normalized to dates")
}

func TestBuilder_BuildKPIs_SingleDateAggregate(t *testing.T) {
	set := NewSet()
	set.Put(types.AggregateValidations, relation.New([]string{"date", "code_ligne", "nb_validations"},
		rec("date", "2025-01-02", "code_ligne", "L1", "nb_validations", 7.0),
		rec("date", "2025-01-02", "code_ligne", "L2", "nb_validations", 4.0),
		rec("date", "2025-01-03", "code_ligne", "L1", "nb_validations", 3.0),
	))

	kpis := NewBuilder(nil).BuildKPIs(set)
	assert.Equal(t, []string{"jour", "code_ligne", "nb_validations"}, kpis.Columns())
	require.Equal(t, 3, kpis.Len(), "no rows lost or duplicated")

	want := []struct {
		jour, ligne string
		n           float64
	}{
		{"2025-01-02", "L1", 7},
		{"2025-01-02", "L2", 4},
		{"2025-01-03", "L1", 3},
	}
	for i, w := range want {
		row := kpis.Row(i)
		assert.Equal(t, w.jour, str(row, "jour"))
		assert.Equal(t, w.ligne, str(row, "code_ligne"))
		assert.Equal(t, w.n, num(t, row, "nb_validations"))
	}
}

func TestBuilder_BuildKPIs_NothingToMerge(t *testing.T) {
	set := NewSet()
	set.Put(types.AggregateDailyKPIs, relation.New([]string{"jour"}, rec("jour", "2025-01-01")))
	set.Put(types.AggregateTrafficDaily, relation.Empty("jour"))
	assert.True(t, NewBuilder(nil).BuildKPIs(set).IsEmpty())
}

func TestBuilder_Build(t *testing.T) {
	set := NewBuilder(nil).Build(context.Background(), Inputs{
		Weather: relation.New([]string{"datetime", "tempmax", "tempmin", "precip", "windspeed"},
			rec("datetime", "2025-01-01", "tempmax", 10.0, "tempmin", 2.0, "precip", 1.5, "windspeed", 20.0)),
		Comptage: relation.New([]string{"compteur_id", "date_heure", "comptage_horaire"},
			rec("compteur_id", "A", "date_heure", "2025-01-01T08:00:00Z", "comptage_horaire", 10.0)),
	})
	assert.Equal(t, []types.AggregateName{
		types.AggregateWeatherDaily, types.AggregateComptageVelo, types.AggregateDailyKPIs,
	}, set.Names())

	kpis := set.Get(types.AggregateDailyKPIs)
	require.Equal(t, 1, kpis.Len())
	assert.Equal(t, 10.0, num(t, kpis.Row(0), "comptage_total"))

	b, err := json.Marshal(set)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"weather_daily":[{"jour":"2025-01-01"`)
}

func TestBuilder_Build_NoSources(t *testing.T) {
	set := NewBuilder(nil).Build(context.Background(), Inputs{})
	assert.Equal(t, 0, set.Len())
	assert.False(t, set.Has(types.AggregateDailyKPIs))
}
