package ingest

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"cityflow/internal/relation"
	"cityflow/internal/types"
)

// Source names.
const (
	SourceBikes               = "bikes"
	SourceTraffic             = "traffic"
	SourceWeather             = "weather"
	SourceComptageVelo        = "comptage_velo"
	SourceChantiers           = "chantiers"
	SourceQualiteService      = "qualite_service"
	SourceReferentielTroncons = "referentiel_troncons"
	SourceValidations         = "validations"
)

var schemas = []Schema{
	bikesSchema(),
	trafficSchema(),
	weatherSchema(),
	comptageVeloSchema(),
	chantiersSchema(),
	qualiteServiceSchema(),
	referentielTronconsSchema(),
	validationsSchema(),
}

// Schemas returns every known source in processing order: API feeds first,
// then batch files.
func Schemas() []Schema {
	return slices.Clone(schemas)
}

// SchemasOf returns the sources of one kind.
func SchemasOf(kind Kind) []Schema {
	var out []Schema
	for _, s := range schemas {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// Lookup finds a source by name.
func Lookup(name string) (Schema, bool) {
	for _, s := range schemas {
		if s.Name == name {
			return s, true
		}
	}
	return Schema{}, false
}

func bikesSchema() Schema {
	return Schema{
		Name:     SourceBikes,
		Kind:     KindAPI,
		Format:   FormatJSONLines,
		Explode:  "results",
		Required: []string{"id_compteur", "sum_counts"},
		Clean: []Step{
			castNumber("sum_counts"),
			castTime("date"),
		},
		Checks: []Check{negative("sum_counts", "warning: negative counts detected")},
	}
}

var trafficStatuses = []string{"active", "ended", "unknown", "ongoing"}

func trafficSchema() Schema {
	return Schema{
		Name:     SourceTraffic,
		Kind:     KindAPI,
		Format:   FormatJSONLines,
		Explode:  "disruptions",
		Required: []string{"id", "status", "updated_at", "severity"},
		Clean:    []Step{castTime("updated_at")},
		Checks:   []Check{checkStatuses},
		Enrich: []Enrichment{func(r relation.Relation, _ Context) relation.Relation {
			return r.WithColumn("is_active", func(row relation.Record) relation.Value {
				s, _ := row.Get("status").Str()
				return relation.Bool(s == "active" || s == "ongoing")
			})
		}},
	}
}

func checkStatuses(r relation.Relation, q *types.QualityReport) {
	if !r.Has("status") {
		return
	}
	var unexpected []string
	for _, v := range r.Unique("status") {
		s, _ := v.ToStr()
		if !slices.Contains(trafficStatuses, s) {
			unexpected = append(unexpected, s)
		}
	}
	if len(unexpected) > 0 {
		q.Add(fmt.Sprintf("warning: unexpected statuses detected %v", unexpected))
	}
}

func weatherSchema() Schema {
	return Schema{
		Name:     SourceWeather,
		Kind:     KindAPI,
		Format:   FormatJSONLines,
		Explode:  "days",
		Drop:     []string{"hours"},
		Required: []string{"datetime", "tempmax", "tempmin", "precip"},
		Clean: []Step{
			castDate("datetime"),
			castNumberPrefix("temp", "wind", "precip", "humidity", "pressure"),
		},
		Checks: []Check{func(r relation.Relation, q *types.QualityReport) {
			if anyRow(r, func(row relation.Record) bool {
				return less(row.Get("tempmax"), row.Get("tempmin"))
			}) {
				q.Add("warning: some rows have tempmax < tempmin")
			}
		}},
	}
}

func comptageVeloSchema() Schema {
	rename := map[string]string{
		"Identifiant du compteur":                 "compteur_id",
		"Nom du compteur":                         "compteur_nom",
		"Identifiant du site de comptage":         "site_id",
		"Nom du site de comptage":                 "site_nom",
		"Comptage horaire":                        "comptage_horaire",
		"Date et heure de comptage":               "date_heure",
		"Date d'installation du site de comptage": "date_installation",
		"Coordonnées géographiques":               "coordonnees",
		"Identifiant technique compteur":          "compteur_tech_id",
		"mois_annee_comptage":                     "mois_annee",
	}
	required := make([]string, 0, len(rename))
	for _, to := range rename {
		required = append(required, to)
	}
	slices.Sort(required)

	return Schema{
		Name:     SourceComptageVelo,
		Kind:     KindBatch,
		Format:   FormatCSV,
		File:     "comptage-velo-donnees-compteurs-cleaned.csv",
		Rename:   rename,
		Required: required,
		Clean: []Step{
			castNumber("comptage_horaire"),
			castTime("date_heure"),
			hourParts,
			castDate("date_installation"),
			splitPoint("coordonnees"),
		},
		Checks: []Check{negative("comptage_horaire", "warning: negative counts detected")},
	}
}

// hourParts derives the UTC calendar day and hour of each reading.
func hourParts(r relation.Relation) relation.Relation {
	if !r.Has("date_heure") {
		return r
	}
	r = r.WithColumn("date", func(row relation.Record) relation.Value {
		if t, ok := row.Get("date_heure").Time(); ok {
			return relation.Date(civil.DateOf(t))
		}
		return relation.Null()
	})
	return r.WithColumn("heure", func(row relation.Record) relation.Value {
		if t, ok := row.Get("date_heure").Time(); ok {
			return relation.Int(t.Hour())
		}
		return relation.Null()
	})
}

func chantiersSchema() Schema {
	return Schema{
		Name:   SourceChantiers,
		Kind:   KindBatch,
		Format: FormatCSV,
		File:   "chantiers-a-paris-cleaned.csv",
		Rename: map[string]string{
			"Référence Chantier":                  "chantier_id",
			"Code postal arrondissement - Commune": "code_commune",
			"Date début du chantier":              "date_debut",
			"Date fin du chantier":                "date_fin",
			"Surface (m2)":                        "surface_m2",
			"Synthèse - Nature du chantier":       "nature",
			"Encombrement espace public":          "encombrement",
			"Impact stationnement":                "impact_stationnement",
			"geo_shape":                           "geo_shape",
			"geo_point_2d":                        "geo_point",
		},
		Required: []string{"chantier_id", "date_debut", "date_fin", "geo_point"},
		Clean: []Step{
			castDate("date_debut", "date_fin"),
			castNumber("surface_m2"),
			splitPoint("geo_point"),
			geometryType("geo_shape"),
		},
		Checks: []Check{func(r relation.Relation, q *types.QualityReport) {
			if anyRow(r, func(row relation.Record) bool {
				return less(row.Get("date_fin"), row.Get("date_debut"))
			}) {
				q.Add("warning: some chantiers have date_fin < date_debut")
			}
		}},
		Enrich: []Enrichment{enrichChantiers},
	}
}

// enrichChantiers adds the duration, the active flag relative to the
// ingestion day, the postal arrondissement and whether the site encroaches
// on the roadway.
func enrichChantiers(r relation.Relation, ctx Context) relation.Relation {
	if r.Has("date_debut", "date_fin") {
		r = r.WithColumn("duree_jours", func(row relation.Record) relation.Value {
			debut, ok1 := row.Get("date_debut").Date()
			fin, ok2 := row.Get("date_fin").Date()
			if !ok1 || !ok2 {
				return relation.Null()
			}
			return relation.Int(fin.DaysSince(debut))
		})
		ref, refErr := civil.ParseDate(ctx.IngestionDate)
		r = r.WithColumn("actif", func(row relation.Record) relation.Value {
			debut, ok1 := row.Get("date_debut").Date()
			fin, ok2 := row.Get("date_fin").Date()
			if refErr != nil || !ok1 || !ok2 {
				return relation.Bool(false)
			}
			return relation.Bool(!debut.After(ref) && !fin.Before(ref))
		})
	}
	if r.Has("code_commune") {
		r = r.WithColumn("arrondissement", arrondissement)
	}
	if r.Has("encombrement") {
		r = r.WithColumn("emprise_chaussee", func(row relation.Record) relation.Value {
			s, ok := row.Get("encombrement").Str()
			if !ok {
				return relation.Null()
			}
			return relation.Bool(strings.Contains(strings.ToLower(s), "chauss"))
		})
	}
	return r
}

func qualiteServiceSchema() Schema {
	return Schema{
		Name:   SourceQualiteService,
		Kind:   KindBatch,
		Format: FormatCSV,
		File:   "indicateurs-de-qualite-de-service-sncf-et-ratp.csv",
		Rename: map[string]string{
			"OperatorName":                "operateur",
			"Theme":                       "theme",
			"Indicateur":                  "indicateur",
			"TransportMode":               "mode",
			"TransportSubmode":            "sous_mode",
			"ID_Line":                     "id_ligne",
			"Name_Line":                   "nom_ligne",
			"Trimestre":                   "trimestre",
			"Annee":                       "annee",
			"ResultatEnPourcentage":       "resultat_pct",
			"ResultatEnOccurrence":        "resultat_occ",
			"Objectif référence contrat ": "objectif_pct",
			"Penalite":                    "penalite",
		},
		Required: []string{"operateur", "theme", "indicateur", "trimestre", "annee", "resultat_pct"},
		Clean: []Step{
			castNumber("annee", "resultat_pct", "objectif_pct", "resultat_occ"),
			func(r relation.Relation) relation.Relation {
				if !r.Has("trimestre") {
					return r
				}
				return r.WithColumn("trimestre_num", trimestreNum)
			},
			castOuiNon("penalite"),
		},
		Checks: []Check{func(r relation.Relation, q *types.QualityReport) {
			if anyRow(r, func(row relation.Record) bool {
				f, ok := row.Get("resultat_pct").Float()
				return ok && (f < 0 || f > 100)
			}) {
				q.Add("warning: some scores are outside the 0-100 range")
			}
		}},
		Enrich: []Enrichment{func(r relation.Relation, _ Context) relation.Relation {
			if !r.Has("resultat_pct", "objectif_pct") {
				return r
			}
			return r.WithColumn("ecart_vs_objectif", func(row relation.Record) relation.Value {
				res, ok1 := row.Get("resultat_pct").Float()
				obj, ok2 := row.Get("objectif_pct").Float()
				if !ok1 || !ok2 {
					return relation.Null()
				}
				return relation.Number(res - obj)
			})
		}},
	}
}

func referentielTronconsSchema() Schema {
	return Schema{
		Name:   SourceReferentielTroncons,
		Kind:   KindBatch,
		Format: FormatCSV,
		File:   "referentiel-geographique-pour-les-donnees-trafic-issues-des-capteurs-permanents.csv",
		Rename: map[string]string{
			"Identifiant arc":         "troncon_id",
			"Date debut dispo data":   "date_debut",
			"Date fin dispo data":     "date_fin",
			"Libelle":                 "libelle",
			"Identifiant noeud aval":  "noeud_aval_id",
			"Libelle noeud aval":      "noeud_aval_libelle",
			"Identifiant noeud amont": "noeud_amont_id",
			"Libelle noeud amont":     "noeud_amont_libelle",
			"geo_point_2d":            "geo_point",
			"geo_shape":               "geo_shape",
		},
		Required: []string{"troncon_id", "libelle", "geo_shape"},
		Clean: []Step{
			castTime("date_debut", "date_fin"),
			castNumber("troncon_id"),
			splitPoint("geo_point"),
			geometryType("geo_shape"),
		},
		Checks: []Check{func(r relation.Relation, q *types.QualityReport) {
			if anyRow(r, func(row relation.Record) bool {
				return r.Has("geometry_type") && row.Get("geometry_type").IsNull()
			}) {
				q.Add("warning: some rows have invalid geometry")
			}
		}},
	}
}

func validationsSchema() Schema {
	return Schema{
		Name:   SourceValidations,
		Kind:   KindBatch,
		Format: FormatCSV,
		File:   "validations-reseau-surface-nombre-validations-par-jour-2eme-trimestre.csv",
		Rename: map[string]string{
			"JOUR":            "date",
			"CODE_STIF_TRNS":  "code_transport",
			"CODE_STIF_RES":   "code_reseau",
			"CODE_STIF_LIGNE": "code_ligne",
			"LIBELLE_LIGNE":   "ligne_libelle",
			"ID_GROUPOFLIGNE": "groupe_ligne_id",
			"CATEGORIE_TITRE": "categorie_titre",
			"NB_VALD":         "nb_validations",
		},
		Required: []string{"date", "code_ligne", "nb_validations"},
		Clean: []Step{
			castDate("date"),
			castNumber("nb_validations"),
		},
		Checks: []Check{negative("nb_validations", "warning: negative validation counts detected")},
		Enrich: []Enrichment{func(r relation.Relation, _ Context) relation.Relation {
			if !r.Has("date") {
				return r
			}
			return r.WithColumn("semaine", func(row relation.Record) relation.Value {
				d, ok := row.Get("date").Date()
				if !ok {
					return relation.Null()
				}
				_, week := d.In(time.UTC).ISOWeek()
				return relation.Int(week)
			})
		}},
	}
}

func negative(col, message string) Check {
	return func(r relation.Relation, q *types.QualityReport) {
		if anyRow(r, func(row relation.Record) bool {
			f, ok := row.Get(col).Float()
			return ok && f < 0
		}) {
			q.Add(message)
		}
	}
}

func anyRow(r relation.Relation, pred func(relation.Record) bool) bool {
	for _, row := range r.Rows() {
		if pred(row) {
			return true
		}
	}
	return false
}

// less compares two comparable non-null values of the same kind.
func less(a, b relation.Value) bool {
	if a.IsMissing() || b.IsMissing() || a.Kind() != b.Kind() {
		return false
	}
	return relation.Compare(a, b) < 0
}
