package logging

import (
	"fmt"
	"regexp"
	"time"

	"github.com/fyrsmithlabs/insightd/internal/config"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration, decoded from the "logging" section.
type Config struct {
	Level      Level             `koanf:"level"`
	Format     string            `koanf:"format"`
	Output     OutputConfig      `koanf:"output"`
	Sampling   SamplingConfig    `koanf:"sampling"`
	Caller     CallerConfig      `koanf:"caller"`
	Stacktrace StacktraceConfig  `koanf:"stacktrace"`
	Fields     map[string]string `koanf:"fields"`
	Redaction  RedactionConfig   `koanf:"redaction"`
}

// OutputConfig selects the log destinations. OTEL only takes effect when
// the telemetry manager exposes an OTLP log provider.
type OutputConfig struct {
	Stdout bool `koanf:"stdout"`
	OTEL   bool `koanf:"otel"`
}

// SamplingConfig limits repeated messages per tick. Levels is keyed by level
// name ("trace", "debug", "info", "warn"); a level with no entry is not
// sampled, and error and above never are.
type SamplingConfig struct {
	Enabled bool                           `koanf:"enabled"`
	Tick    config.Duration                `koanf:"tick"`
	Levels  map[string]LevelSamplingConfig `koanf:"levels"`
}

// LevelSamplingConfig keeps the first Initial entries with a given message
// per tick, then every Thereafter-th. Thereafter 0 drops the rest.
type LevelSamplingConfig struct {
	Initial    int `koanf:"initial"`
	Thereafter int `koanf:"thereafter"`
}

type CallerConfig struct {
	Enabled bool `koanf:"enabled"`
	Skip    int  `koanf:"skip"`
}

type StacktraceConfig struct {
	Enabled bool  `koanf:"enabled"`
	Level   Level `koanf:"level"`
}

// RedactionConfig lists field names whose values are masked and patterns
// masked inside any string value.
type RedactionConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Fields   []string `koanf:"fields"`
	Patterns []string `koanf:"patterns"`
}

// NewDefaultConfig returns JSON logging at info to stdout.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  Level(zapcore.InfoLevel),
		Format: "json",
		Output: OutputConfig{Stdout: true},
		Sampling: SamplingConfig{
			Enabled: true,
			Tick:    config.Duration(time.Second),
			Levels: map[string]LevelSamplingConfig{
				"trace": {Initial: 1, Thereafter: 0},
				"debug": {Initial: 10, Thereafter: 0},
				"info":  {Initial: 100, Thereafter: 10},
				"warn":  {Initial: 100, Thereafter: 100},
			},
		},
		Caller:     CallerConfig{Enabled: true, Skip: 1},
		Stacktrace: StacktraceConfig{Enabled: true, Level: Level(zapcore.ErrorLevel)},
		Fields:     map[string]string{"service": "insightd"},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"password", "secret", "token", "api_key",
				"authorization", "bearer", "credential", "private_key",
				"connection_string", "instrumentation_key",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
				`(?i)instrumentationkey=[^;\s]+`,
			},
		},
	}
}

// sampledLevels resolves the Levels map. Callers run Validate first.
func (c SamplingConfig) sampledLevels() map[zapcore.Level]LevelSamplingConfig {
	out := make(map[zapcore.Level]LevelSamplingConfig, len(c.Levels))
	for name, rate := range c.Levels {
		lvl, err := ParseLevel(name)
		if err != nil || lvl >= zapcore.ErrorLevel || rate.Initial <= 0 {
			continue
		}
		out[lvl] = rate
	}
	return out
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if !c.Output.Stdout && !c.Output.OTEL {
		return fmt.Errorf("at least one output must be enabled (stdout or otel)")
	}
	if c.Caller.Enabled && c.Caller.Skip < 0 {
		return fmt.Errorf("caller skip must be >= 0, got %d", c.Caller.Skip)
	}

	if c.Sampling.Enabled {
		if c.Sampling.Tick.Duration() <= 0 {
			return fmt.Errorf("sampling tick must be > 0 when sampling enabled")
		}
		for name, rate := range c.Sampling.Levels {
			lvl, err := ParseLevel(name)
			if err != nil {
				return fmt.Errorf("sampling: %w", err)
			}
			if lvl >= zapcore.ErrorLevel {
				return fmt.Errorf("sampling: level %q cannot be sampled", name)
			}
			if rate.Initial < 0 || rate.Thereafter < 0 {
				return fmt.Errorf("sampling: level %q has negative rate", name)
			}
		}
	}

	if c.Redaction.Enabled {
		for _, pattern := range c.Redaction.Patterns {
			if len(pattern) > maxPatternLen {
				return fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, pattern)
			}
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("invalid redaction pattern %q: %w", pattern, err)
			}
		}
	}

	for k, v := range c.Fields {
		if k == "" {
			return fmt.Errorf("field key cannot be empty")
		}
		if v == "" {
			return fmt.Errorf("field %q has empty value", k)
		}
	}

	return nil
}
