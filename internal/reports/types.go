package reports

import "cityflow/internal/relation"

// Section names of the daily report, in document order.
const (
	SectionResumeExecutif       = "resume_executif"
	SectionTopCompteurs         = "top_compteurs"
	SectionZonesCongestionnees  = "zones_congestionnees"
	SectionCompteursDefaillants = "compteurs_defaillants"
	SectionAlertes              = "alertes"
	SectionProfilJourType       = "profil_jour_type"
	SectionChantiers            = "chantiers"
	SectionTendances            = "tendances"
	SectionQualiteService       = "qualite_service"
)

// Sections returns the section names in document order.
func Sections() []string {
	return []string{
		SectionResumeExecutif, SectionTopCompteurs, SectionZonesCongestionnees,
		SectionCompteursDefaillants, SectionAlertes, SectionProfilJourType,
		SectionChantiers, SectionTendances, SectionQualiteService,
	}
}

// Header is shared by every generated section.
type Header struct {
	Titre          string `json:"titre"`
	DateGeneration string `json:"date_generation"`
}

type ResumeExecutif struct {
	Date                       string `json:"date"`
	TotalPassages              int64  `json:"total_passages"`
	CompteursActifs            int    `json:"compteurs_actifs"`
	CompteursDefaillants       int    `json:"compteurs_defaillants"`
	EvolutionVsHier            string `json:"evolution_vs_hier"`
	EvolutionVsSemaineDerniere string `json:"evolution_vs_semaine_derniere"`
}

type TopCompteurs struct {
	Header
	Compteurs relation.Relation `json:"compteurs"`
}

type ZonesCongestionnees struct {
	Header
	Zones relation.Relation `json:"zones"`
}

type CompteursDefaillants struct {
	Header
	Compteurs relation.Relation `json:"compteurs"`
}

// Alert types.
const (
	AlertePicCongestion      = "pic_congestion"
	AlerteAnomalie           = "anomalie"
	AlerteCompteurDefaillant = "compteur_defaillant"
)

// Alerte is one human-readable alert. Fields irrelevant to the alert type
// are omitted.
type Alerte struct {
	Type              string   `json:"type"`
	CompteurID        string   `json:"compteur_id"`
	DateHeure         string   `json:"date_heure,omitempty"`
	Debit             *float64 `json:"debit,omitempty"`
	SeuilPct          *float64 `json:"seuil_pct,omitempty"`
	Zscore            *float64 `json:"zscore,omitempty"`
	TypeAnomalie      string   `json:"type_anomalie,omitempty"`
	HeuresSansDonnees *float64 `json:"heures_sans_donnees,omitempty"`
	Message           string   `json:"message"`
}

type Alertes struct {
	Header
	Alertes []Alerte `json:"alertes"`
}

// ProfilJourType maps an English weekday name to its hourly profile.
type ProfilJourType struct {
	Header
	Profils map[string]relation.Relation `json:"profils"`
}

type Chantiers struct {
	Header
	ChantiersActifs relation.Relation `json:"chantiers_actifs"`
	ZonesCritiques  relation.Relation `json:"zones_critiques"`
}

type Tendances struct {
	Header
	Periode               string            `json:"periode,omitempty"`
	EvolutionHebdomadaire relation.Relation `json:"evolution_hebdomadaire"`
	RatioWeekendSemaine   map[string]any    `json:"ratio_weekend_semaine"`
}

type QualiteService struct {
	Header
	Variante    string            `json:"variante,omitempty"`
	Indicateurs relation.Relation `json:"indicateurs"`
}

// Meta describes a generated document.
type Meta struct {
	Titre          string `json:"titre"`
	Date           string `json:"date,omitempty"`
	DateGeneration string `json:"date_generation"`
	Version        string `json:"version,omitempty"`
}

// RapportComplet is the daily report document. Sections whose source
// metrics were not computed are omitted.
type RapportComplet struct {
	Meta                 Meta                  `json:"meta"`
	ResumeExecutif       ResumeExecutif        `json:"resume_executif"`
	TopCompteurs         *TopCompteurs         `json:"top_compteurs,omitempty"`
	ZonesCongestionnees  *ZonesCongestionnees  `json:"zones_congestionnees,omitempty"`
	CompteursDefaillants *CompteursDefaillants `json:"compteurs_defaillants,omitempty"`
	Alertes              *Alertes              `json:"alertes,omitempty"`
	ProfilJourType       *ProfilJourType       `json:"profil_jour_type,omitempty"`
	Chantiers            *Chantiers            `json:"chantiers,omitempty"`
	Tendances            *Tendances            `json:"tendances,omitempty"`
	QualiteService       *QualiteService       `json:"qualite_service,omitempty"`
}

// MetricInfo describes one computed metric in the summary.
type MetricInfo struct {
	Nom      string   `json:"nom"`
	Type     string   `json:"type"`
	Variante string   `json:"variante,omitempty"`
	NbLignes int      `json:"nb_lignes"`
	Colonnes []string `json:"colonnes"`
}

type MetricsSummary struct {
	Meta                 Meta         `json:"meta"`
	MetriquesDisponibles []MetricInfo `json:"metriques_disponibles"`
}
