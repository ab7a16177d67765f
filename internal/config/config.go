// Package config defines the configuration structure for the floodguard
// services. Configuration is loaded once at process initialization (or Lambda
// cold start) and is immutable thereafter.
//
// Values are resolved from the OS environment first and a .env file second.
// Any invalid value causes the process to exit on startup.
package config

import (
	"time"

	"floodguard/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"floodguard"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Engine        EngineConfig
	Policy        PolicyConfig
	Estimators    EstimatorConfig
	Observability ObservabilityConfig
	Security      SecurityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo `ignored:"true"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
	RequestTimeout  time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"20s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
// An empty URL runs the service without persistence.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"omitempty,url"`

	// Tuning Parameters
	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10" validate:"gte=1"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"1" validate:"gte=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// AssessmentQueue receives every emitted RiskAssessment for notification
	// fan-out. Empty disables publishing.
	AssessmentQueue string `envconfig:"SQS_ASSESSMENTS" validate:"omitempty,url"`
	// OutcomeQueue is the FIFO queue of ground-truth outcomes consumed by
	// the outcome worker.
	OutcomeQueue string `envconfig:"SQS_OUTCOMES" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// EngineConfig tunes the forward assessment path.
type EngineConfig struct {
	CriticalLevel      float64       `envconfig:"CRITICAL_LEVEL_FT" default:"15" validate:"gt=0"`
	TrendWindow        time.Duration `envconfig:"TREND_WINDOW" default:"6h" validate:"gt=0"`
	SoilWindow         time.Duration `envconfig:"SOIL_WINDOW" default:"24h" validate:"gt=0"`
	MaxPopulation      float64       `envconfig:"MAX_POPULATION" default:"5000000" validate:"gt=0"`
	FreshReadingWindow time.Duration `envconfig:"FRESH_READING_WINDOW" default:"30m" validate:"gt=0"`
	ImminentImpact     time.Duration `envconfig:"IMMINENT_IMPACT" default:"120m" validate:"gte=0"`
	AnomalyThreshold   float64       `envconfig:"ANOMALY_Z_THRESHOLD" default:"3" validate:"gt=0"`
	AccuracyLogSize    int           `envconfig:"ACCURACY_LOG_SIZE" default:"100" validate:"gte=1,lte=10000"`
	ReadingLookback    time.Duration `envconfig:"READING_LOOKBACK" default:"24h" validate:"gt=0"`

	// HysteresisDeadband suppresses level downgrades until the score has
	// fallen this many points below the breakpoint. Zero disables it.
	HysteresisDeadband float64 `envconfig:"HYSTERESIS_DEADBAND" default:"0" validate:"gte=0,lte=20"`
}

// PolicyConfig holds the alert policy hyperparameters and training limits.
type PolicyConfig struct {
	LearningRate   float64 `envconfig:"POLICY_LEARNING_RATE" default:"0.1" validate:"gt=0,lte=1"`
	Discount       float64 `envconfig:"POLICY_DISCOUNT" default:"0.95" validate:"gte=0,lt=1"`
	Exploration    float64 `envconfig:"POLICY_EXPLORATION" default:"0.1" validate:"gte=0,lte=1"`
	Seed           uint64  `envconfig:"POLICY_SEED" default:"0"`
	WarmupEpisodes int     `envconfig:"POLICY_WARMUP_EPISODES" default:"0" validate:"gte=0"`

	SimulationChunk       int `envconfig:"POLICY_SIMULATION_CHUNK" default:"50" validate:"gte=1"`
	MaxSimulationEpisodes int `envconfig:"POLICY_MAX_SIMULATION_EPISODES" default:"100000" validate:"gte=1"`
	// SnapshotEvery persists the policy after this many recorded outcomes.
	SnapshotEvery int `envconfig:"POLICY_SNAPSHOT_EVERY" default:"10" validate:"gte=1"`
	// RefreshInterval bounds how often a location checks the store for a
	// snapshot saved by another process.
	RefreshInterval time.Duration `envconfig:"POLICY_REFRESH_INTERVAL" default:"5s" validate:"gt=0"`
	// IdleTimeout retires a location's actor after that long without work.
	IdleTimeout time.Duration `envconfig:"POLICY_IDLE_TIMEOUT" default:"30m" validate:"gt=0"`

	// Regression gate applied before a retrained policy is saved.
	MinAccuracy          float64 `envconfig:"POLICY_MIN_ACCURACY" default:"0.7" validate:"gte=0,lte=1"`
	MaxFalseNegativeRate float64 `envconfig:"POLICY_MAX_FNR" default:"0.1" validate:"gte=0,lte=1"`
}

// EstimatorConfig configures the optional predictive estimator ensemble.
type EstimatorConfig struct {
	// ModelPath points at a trained model file. Empty disables the ensemble.
	ModelPath       string        `envconfig:"ESTIMATOR_MODEL_PATH"`
	Timeout         time.Duration `envconfig:"ESTIMATOR_TIMEOUT" default:"50ms" validate:"gt=0"`
	BreakerFailures uint32        `envconfig:"ESTIMATOR_BREAKER_FAILURES" default:"3" validate:"gte=1"`
	BreakerCooldown time.Duration `envconfig:"ESTIMATOR_BREAKER_COOLDOWN" default:"30s"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	MetricsBackend  string `envconfig:"METRICS_BACKEND" default:"none" validate:"oneof=none cloudwatch prometheus"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"FloodGuard"`
}

// SecurityConfig holds admin access settings.
type SecurityConfig struct {
	// AdminKeyHash is a bcrypt hash of the key required for policy import
	// and simulation. Empty disables those endpoints.
	AdminKeyHash SecretString `envconfig:"ADMIN_KEY_HASH"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
