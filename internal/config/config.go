// Package config defines the configuration shared by the CityFlow binaries
// (processor, api, fetcher). Configuration is loaded once at process start
// and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or an invalid format makes LoadConfig fail and the
// binary exit on startup.
package config

import (
	"time"

	"cityflow/internal/metrics"
	"cityflow/internal/types"
)

// SecretString is an alias for types.SecretString so secrets never leak into
// logs or config dumps.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subset they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"cityflow"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Storage       StorageConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Engine        EngineConfig
	Fetcher       FetcherConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// IsLocal reports whether the process runs against the local filesystem
// instead of AWS.
func (c *Config) IsLocal() bool {
	return c.Environment == localEnv
}

// ServerConfig holds the read API listener settings. RequestTimeout bounds
// each handler context.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080"`
	ReadTimeout        time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout       time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout    time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
	RequestTimeout     time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"29s"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// StorageConfig locates the raw and processed zones. When RawBucket is empty
// the zones are directories under LocalDataDir.
type StorageConfig struct {
	RawBucket       string `envconfig:"S3_RAW_BUCKET"`
	ProcessedBucket string `envconfig:"S3_PROCESSED_BUCKET"`
	LocalDataDir    string `envconfig:"LOCAL_DATA_DIR" default:"data"`
	// ReferenceKey is the raw zone key of the counter location table.
	ReferenceKey string `envconfig:"COORDINATES_REFERENCE_KEY" default:"raw/reference/compteurs.csv"`
}

// UseS3 reports whether the raw zone lives in S3.
func (s StorageConfig) UseS3() bool {
	return s.RawBucket != ""
}

// DatabaseConfig holds the result store settings. Without a URL, results go
// to the embedded store under ResultStoreDir.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"omitempty,url"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"5" validate:"min=1"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"1" validate:"min=0"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`

	ResultStoreDir string `envconfig:"RESULT_STORE_DIR" default:"data/results"`
}

// AWSConfig holds regional settings and optional resource identifiers.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"eu-west-3"`

	// RunQueueURL receives a message per finished daily run. Optional.
	RunQueueURL string `envconfig:"SQS_RUN_QUEUE" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// EngineConfig holds the metric engine thresholds.
type EngineConfig struct {
	TopNCompteurs             int     `envconfig:"TOP_N_COMPTEURS" default:"50" validate:"min=1"`
	LastNDays                 int     `envconfig:"LAST_N_DAYS" default:"60" validate:"min=1"`
	HeuresPointeSeuilPct      float64 `envconfig:"HEURES_POINTE_SEUIL_PCT" default:"120" validate:"gt=0"`
	DisponibilitePeriodeJours int     `envconfig:"DISPONIBILITE_PERIODE_JOURS" default:"30" validate:"min=1"`
	TopCompteursN             int     `envconfig:"TOP_COMPTEURS_N" default:"200" validate:"min=1"`
	FaibleActiviteSeuilPct    float64 `envconfig:"FAIBLE_ACTIVITE_SEUIL_PCT" default:"20" validate:"gte=0"`
	DefaillantsSeuilHeures    float64 `envconfig:"DEFAILLANTS_SEUIL_HEURES" default:"24" validate:"gt=0"`
	CorridorsPercentile       float64 `envconfig:"CORRIDORS_PERCENTILE" default:"75" validate:"gte=0,lte=100"`
	CongestionSeuilPct        float64 `envconfig:"CONGESTION_SEUIL_PCT" default:"150" validate:"gt=0"`
	CongestionMaxResults      int     `envconfig:"CONGESTION_MAX_RESULTS" default:"500" validate:"min=1"`
	AnomaliesSeuilZScore      float64 `envconfig:"ANOMALIES_SEUIL_ZSCORE" default:"3" validate:"gt=0"`
	AnomaliesMaxResults       int     `envconfig:"ANOMALIES_MAX_RESULTS" default:"200" validate:"min=1"`
	EvolutionPeriode          string  `envconfig:"EVOLUTION_PERIODE" default:"semaine" validate:"oneof=jour semaine mois"`
}

// Params converts the configuration into engine parameters.
func (e EngineConfig) Params() metrics.Params {
	return metrics.Params{
		TopNCompteurs:             e.TopNCompteurs,
		LastNDays:                 e.LastNDays,
		HeuresPointeSeuilPct:      e.HeuresPointeSeuilPct,
		DisponibilitePeriodeJours: e.DisponibilitePeriodeJours,
		TopCompteursN:             e.TopCompteursN,
		FaibleActiviteSeuilPct:    e.FaibleActiviteSeuilPct,
		DefaillantsSeuilHeures:    e.DefaillantsSeuilHeures,
		CorridorsPercentile:       e.CorridorsPercentile,
		CongestionSeuilPct:        e.CongestionSeuilPct,
		CongestionMaxResults:      e.CongestionMaxResults,
		AnomaliesSeuilZScore:      e.AnomaliesSeuilZScore,
		AnomaliesMaxResults:       e.AnomaliesMaxResults,
		EvolutionPeriode:          metrics.Periode(e.EvolutionPeriode),
	}
}

// FetcherConfig holds the realtime feed endpoints polled by the fetcher.
// A feed without URL is skipped.
type FetcherConfig struct {
	BasePrefix     string        `envconfig:"BASE_PREFIX" default:"raw/api"`
	EnableSources  []string      `envconfig:"ENABLE_SOURCES" default:"weather,traffic,bikes"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
	Retries        int           `envconfig:"HTTP_RETRIES" default:"1" validate:"min=0,max=5"`
	UserAgent      string        `envconfig:"FETCHER_USER_AGENT" default:"cityflow-fetcher/1.1"`

	WeatherBaseURL string       `envconfig:"WEATHER_BASE_URL" validate:"omitempty,url"`
	WeatherAPIKey  SecretString `envconfig:"WEATHER_API_KEY"`

	// TrafficMode selects the auth scheme: an apikey header (idfm) or HTTP
	// basic auth with the token as user (navitia).
	TrafficMode   string       `envconfig:"TRAFFIC_MODE" default:"idfm" validate:"oneof=idfm navitia"`
	TrafficURL    string       `envconfig:"TRAFFIC_URL" validate:"omitempty,url"`
	TrafficAPIKey SecretString `envconfig:"TRAFFIC_API_KEY"`

	BikesURL string `envconfig:"BIKES_URL" validate:"omitempty,url"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	EnableMetrics bool `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates an environment value could not be parsed into its
	// target type.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
