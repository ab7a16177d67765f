package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "local")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "floodguard", cfg.Service)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15.0, cfg.Engine.CriticalLevel)
	assert.Equal(t, 6*time.Hour, cfg.Engine.TrendWindow)
	assert.Equal(t, 120*time.Minute, cfg.Engine.ImminentImpact)
	assert.Equal(t, 100, cfg.Engine.AccuracyLogSize)
	assert.Equal(t, 0.1, cfg.Policy.LearningRate)
	assert.Equal(t, 0.95, cfg.Policy.Discount)
	assert.Equal(t, 0.1, cfg.Policy.Exploration)
	assert.Equal(t, 50*time.Millisecond, cfg.Estimators.Timeout)
	assert.Equal(t, "none", cfg.Observability.MetricsBackend)
	assert.False(t, cfg.HasDatabase())
	assert.Equal(t, time.UTC, time.Local)
	assert.Equal(t, NewBuildInfo(), cfg.Build)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "staging")
	t.Setenv("DATABASE_URL", "postgres://flood:pw@localhost:5432/flood")
	t.Setenv("CRITICAL_LEVEL_FT", "18.5")
	t.Setenv("TREND_WINDOW", "3h")
	t.Setenv("POLICY_EXPLORATION", "0")
	t.Setenv("METRICS_BACKEND", "prometheus")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.HasDatabase())
	assert.Equal(t, "postgres://flood:pw@localhost:5432/flood", cfg.Database.URL.Unmask())
	assert.Equal(t, 18.5, cfg.Engine.CriticalLevel)
	assert.Equal(t, 3*time.Hour, cfg.Engine.TrendWindow)
	assert.Equal(t, 0.0, cfg.Policy.Exploration)
	assert.Equal(t, "prometheus", cfg.Observability.MetricsBackend)
}

func TestLoadConfigValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown environment", "APP_ENV", "qa"},
		{"discount of one", "POLICY_DISCOUNT", "1"},
		{"negative critical level", "CRITICAL_LEVEL_FT", "-2"},
		{"unknown metrics backend", "METRICS_BACKEND", "statsd"},
		{"bad queue url", "SQS_ASSESSMENTS", "not a url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("APP_ENV", "local")
			t.Setenv(tt.key, tt.val)

			_, err := LoadConfig()
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, ErrValidation, cfgErr.Type)
		})
	}
}

func TestLoadConfigParsingFailure(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("TREND_WINDOW", "six hours")

	_, err := LoadConfig()
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, ErrParsing, cfgErr.Type)
}

func TestValidateConnectionBounds(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	cfg, err := LoadConfig()
	require.NoError(t, err)

	cfg.Database.MinConns = 20
	cfg.Database.MaxConns = 5
	err = Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_MIN_CONNS")
}

func TestConfigErrorFormat(t *testing.T) {
	withCause := &ConfigError{Type: ErrParsing, Message: "bad", Err: errors.New("boom")}
	assert.Equal(t, "[PARSING_FAILED] bad: boom", withCause.Error())
	assert.Equal(t, "[VALIDATION_FAILED] bad", (&ConfigError{Type: ErrValidation, Message: "bad"}).Error())
}

func TestSecretStringRedacted(t *testing.T) {
	s := SecretString("postgres://secret")
	assert.Equal(t, "***REDACTED***", s.String())
	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"***REDACTED***"`, string(b))
	assert.Equal(t, "postgres://secret", s.Unmask())
}

func TestNewBuildInfoDefaults(t *testing.T) {
	info := NewBuildInfo()
	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, "none", info.Commit)
	assert.Equal(t, "unknown", info.BuildTime)
}
