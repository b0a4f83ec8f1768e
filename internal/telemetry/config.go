package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/insightd/internal/config"
)

// Config holds telemetry configuration.
type Config struct {
	// ConnectionString describes the remote sink. Empty means degraded mode.
	ConnectionString config.Secret    `koanf:"connection_string"`
	ServiceName      string           `koanf:"service_name"`
	ServiceVersion   string           `koanf:"service_version"`
	Environment      string           `koanf:"environment"`
	Sampling         SamplingConfig   `koanf:"sampling"`
	Metrics          MetricsConfig    `koanf:"metrics"`
	Logs             LogsConfig       `koanf:"logs"`
	NATS             NATSConfig       `koanf:"nats"`
	FailureLog       FailureLogConfig `koanf:"failure_log"`
	Shutdown         ShutdownConfig   `koanf:"shutdown"`
}

// SamplingConfig controls trace sampling behavior.
type SamplingConfig struct {
	Rate float64 `koanf:"rate"` // 0.0-1.0
}

// MetricsConfig controls OTLP metrics export. Only used by OTLP transports.
type MetricsConfig struct {
	Enabled        bool            `koanf:"enabled"`
	ExportInterval config.Duration `koanf:"export_interval"`
}

// LogsConfig controls the batch processor feeding the OTLP sink.
type LogsConfig struct {
	ExportInterval config.Duration `koanf:"export_interval"`
	MaxQueueSize   int             `koanf:"max_queue_size"`
	MaxBatchSize   int             `koanf:"max_batch_size"`
}

// NATSConfig controls the NATS sink.
type NATSConfig struct {
	SubjectPrefix  string          `koanf:"subject_prefix"`
	ClientName     string          `koanf:"client_name"`
	ConnectTimeout config.Duration `koanf:"connect_timeout"`
	FlushTimeout   config.Duration `koanf:"flush_timeout"`
}

// FailureLogConfig rate-limits the warning written when a sink send fails.
type FailureLogConfig struct {
	PerSecond float64 `koanf:"per_second"`
	Burst     int     `koanf:"burst"`
}

// ShutdownConfig controls graceful shutdown behavior.
type ShutdownConfig struct {
	Timeout config.Duration `koanf:"timeout"`
}

// NewDefaultConfig returns telemetry defaults. No connection string is set,
// so a manager built from defaults runs in degraded mode.
func NewDefaultConfig() *Config {
	return &Config{
		ServiceName:    "insightd",
		ServiceVersion: DefaultVersion,
		Environment:    "development",
		Sampling: SamplingConfig{
			Rate: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			ExportInterval: config.Duration(15 * time.Second),
		},
		Logs: LogsConfig{
			ExportInterval: config.Duration(time.Second),
			MaxQueueSize:   2048,
			MaxBatchSize:   512,
		},
		NATS: NATSConfig{
			SubjectPrefix:  "insightd.telemetry",
			ClientName:     "insightd",
			ConnectTimeout: config.Duration(2 * time.Second),
			FlushTimeout:   config.Duration(5 * time.Second),
		},
		FailureLog: FailureLogConfig{
			PerSecond: 1,
			Burst:     5,
		},
		Shutdown: ShutdownConfig{
			Timeout: config.Duration(5 * time.Second),
		},
	}
}

// Validate checks configuration for errors. The connection string itself is
// checked by ParseDescriptor.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version is required")
	}
	if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
		return fmt.Errorf("sampling.rate must be between 0 and 1, got %f", c.Sampling.Rate)
	}
	if c.Metrics.Enabled && c.Metrics.ExportInterval.Duration() <= 0 {
		return fmt.Errorf("metrics.export_interval must be positive when metrics enabled")
	}
	if c.Logs.ExportInterval.Duration() <= 0 {
		return fmt.Errorf("logs.export_interval must be positive")
	}
	if c.Logs.MaxQueueSize <= 0 || c.Logs.MaxBatchSize <= 0 {
		return fmt.Errorf("logs.max_queue_size and logs.max_batch_size must be positive")
	}
	if c.Logs.MaxBatchSize > c.Logs.MaxQueueSize {
		return fmt.Errorf("logs.max_batch_size (%d) exceeds logs.max_queue_size (%d)", c.Logs.MaxBatchSize, c.Logs.MaxQueueSize)
	}
	if err := validateSubject(c.NATS.SubjectPrefix); err != nil {
		return fmt.Errorf("nats.subject_prefix: %w", err)
	}
	if c.NATS.ConnectTimeout.Duration() <= 0 || c.NATS.FlushTimeout.Duration() <= 0 {
		return fmt.Errorf("nats timeouts must be positive")
	}
	if c.FailureLog.PerSecond < 0 {
		return fmt.Errorf("failure_log.per_second must be >= 0, got %f", c.FailureLog.PerSecond)
	}
	if c.FailureLog.Burst < 1 {
		return fmt.Errorf("failure_log.burst must be >= 1, got %d", c.FailureLog.Burst)
	}
	if c.Shutdown.Timeout.Duration() <= 0 {
		return fmt.Errorf("shutdown.timeout must be positive")
	}
	return nil
}

// validateSubject checks a dotted NATS subject without wildcards.
func validateSubject(s string) error {
	if s == "" {
		return fmt.Errorf("subject is empty")
	}
	for _, tok := range strings.Split(s, ".") {
		if tok == "" {
			return fmt.Errorf("subject %q has an empty token", s)
		}
		if strings.ContainsAny(tok, "*> \t\r\n") {
			return fmt.Errorf("subject %q contains wildcards or whitespace", s)
		}
	}
	return nil
}
