package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.False(t, cfg.ConnectionString.IsSet())
	assert.Equal(t, "insightd", cfg.ServiceName)
	assert.Equal(t, DefaultVersion, cfg.ServiceVersion)
	assert.Equal(t, "development", cfg.Environment)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"no service name", func(c *Config) { c.ServiceName = "" }, "service_name"},
		{"no version", func(c *Config) { c.ServiceVersion = "" }, "service_version"},
		{"rate above one", func(c *Config) { c.Sampling.Rate = 1.5 }, "sampling.rate"},
		{"rate below zero", func(c *Config) { c.Sampling.Rate = -0.1 }, "sampling.rate"},
		{"metric interval", func(c *Config) { c.Metrics.ExportInterval = 0 }, "metrics.export_interval"},
		{"log interval", func(c *Config) { c.Logs.ExportInterval = 0 }, "logs.export_interval"},
		{"queue size", func(c *Config) { c.Logs.MaxQueueSize = 0 }, "must be positive"},
		{"batch exceeds queue", func(c *Config) { c.Logs.MaxBatchSize = c.Logs.MaxQueueSize + 1 }, "exceeds"},
		{"wildcard prefix", func(c *Config) { c.NATS.SubjectPrefix = "telemetry.>" }, "nats.subject_prefix"},
		{"empty token prefix", func(c *Config) { c.NATS.SubjectPrefix = "a..b" }, "empty token"},
		{"nats timeout", func(c *Config) { c.NATS.FlushTimeout = 0 }, "nats timeouts"},
		{"negative failure rate", func(c *Config) { c.FailureLog.PerSecond = -1 }, "per_second"},
		{"zero burst", func(c *Config) { c.FailureLog.Burst = 0 }, "burst"},
		{"shutdown timeout", func(c *Config) { c.Shutdown.Timeout = 0 }, "shutdown.timeout"},
		{"metrics disabled ignores interval", func(c *Config) { c.Metrics.Enabled = false; c.Metrics.ExportInterval = 0 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
