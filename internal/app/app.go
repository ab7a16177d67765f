// Package app holds the process wiring shared by the floodguard binaries:
// logger construction, translation of config sections into component
// parameters, and connection setup for Postgres and AWS.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/jackc/pgx/v5/pgxpool"

	"floodguard/internal/assessment"
	"floodguard/internal/config"
	"floodguard/internal/db"
	"floodguard/internal/estimators"
	"floodguard/internal/features"
	"floodguard/internal/monitor"
	"floodguard/internal/policy"
)

// NewLogger creates a JSON slog.Logger on stdout for the given level.
// Unknown levels fall back to info.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}

// EngineParams maps the engine section onto assessment.Params.
func EngineParams(c config.EngineConfig) assessment.Params {
	return assessment.Params{
		Features: features.Params{
			CriticalLevel: c.CriticalLevel,
			TrendWindow:   c.TrendWindow,
			SoilWindow:    c.SoilWindow,
			MaxPopulation: c.MaxPopulation,
		},
		Freshness:        c.FreshReadingWindow,
		ImminentImpact:   c.ImminentImpact,
		AnomalyThreshold: c.AnomalyThreshold,
		Deadband:         c.HysteresisDeadband,
	}
}

// Hyperparameters extracts the learning parameters of the policy section.
func Hyperparameters(c config.PolicyConfig) policy.Hyperparameters {
	return policy.Hyperparameters{
		LearningRate: c.LearningRate,
		Discount:     c.Discount,
		Exploration:  c.Exploration,
	}
}

// SupervisorConfig maps the policy and engine sections onto monitor.Config.
func SupervisorConfig(cfg *config.Config) monitor.Config {
	return monitor.Config{
		Hyperparameters:       Hyperparameters(cfg.Policy),
		Seed:                  cfg.Policy.Seed,
		WarmupEpisodes:        cfg.Policy.WarmupEpisodes,
		SimulationChunk:       cfg.Policy.SimulationChunk,
		MaxSimulationEpisodes: cfg.Policy.MaxSimulationEpisodes,
		SnapshotEvery:         cfg.Policy.SnapshotEvery,
		AccuracyLogSize:       cfg.Engine.AccuracyLogSize,
		RefreshInterval:       cfg.Policy.RefreshInterval,
		IdleTimeout:           cfg.Policy.IdleTimeout,
	}
}

// Gate is the regression gate configured for retrained policies.
func Gate(c config.PolicyConfig) policy.Gate {
	return policy.Gate{
		MinAccuracy:          c.MinAccuracy,
		MaxFalseNegativeRate: c.MaxFalseNegativeRate,
	}
}

// EnsembleConfig maps the estimator section onto estimators.EnsembleConfig.
func EnsembleConfig(c config.EstimatorConfig) estimators.EnsembleConfig {
	return estimators.EnsembleConfig{
		Timeout:         c.Timeout,
		BreakerFailures: c.BreakerFailures,
		BreakerCooldown: c.BreakerCooldown,
	}
}

// LoadEnsemble builds the estimator ensemble from the configured model
// file. It returns nil when no model is configured.
func LoadEnsemble(c config.EstimatorConfig, logger *slog.Logger) (*estimators.Ensemble, error) {
	if c.ModelPath == "" {
		return nil, nil
	}
	m, err := estimators.LoadModel(c.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("loading estimator model: %w", err)
	}
	return estimators.NewEnsembleFromModel(m, EnsembleConfig(c), logger), nil
}

// PoolConfig parses the database URL and applies the pool tuning.
func PoolConfig(c config.DatabaseConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(c.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	pc.MaxConns = c.MaxConns
	pc.MinConns = c.MinConns
	if c.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = c.MaxConnLifetime
	}
	if c.HealthCheckPeriod > 0 {
		pc.HealthCheckPeriod = c.HealthCheckPeriod
	}
	return pc, nil
}

// OpenDatabase connects, verifies the connection and applies the schema.
func OpenDatabase(ctx context.Context, c config.DatabaseConfig) (*pgxpool.Pool, error) {
	pc, err := PoolConfig(c)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return pool, nil
}

// Stores groups the repositories built over one connection.
type Stores struct {
	Readings    *db.ReadingRepository
	Assessments *db.AssessmentRepository
	Accuracy    *db.AccuracyRepository
	Policies    *db.PolicySnapshotRepository
}

// NewStores builds every repository over conn.
func NewStores(conn db.DBTX) Stores {
	return Stores{
		Readings:    db.NewReadingRepository(conn),
		Assessments: db.NewAssessmentRepository(conn),
		Accuracy:    db.NewAccuracyRepository(conn),
		Policies:    db.NewPolicySnapshotRepository(conn),
	}
}

// SupervisorOptions wires the stores into a supervisor.
func (s Stores) SupervisorOptions() []monitor.Option {
	return []monitor.Option{
		monitor.WithPolicyStore(s.Policies),
		monitor.WithAccuracyStore(s.Accuracy),
		monitor.WithAssessmentStore(s.Assessments),
	}
}

// LoadAWSConfig loads the default AWS configuration for the configured
// region. A non-empty EndpointURL redirects every client (LocalStack).
func LoadAWSConfig(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	if c.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(c.EndpointURL)
	}
	return awsCfg, nil
}
