// Package config provides configuration loading for insightd.
//
// Configuration is read once at startup from an optional YAML file and the
// process environment. Sections owned by other packages (telemetry, logging)
// are decoded by those packages through Loader.Unmarshal so that each package
// keeps its own defaults and validation.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the application-level settings.
type Config struct {
	Environment string       `koanf:"environment"`
	Server      ServerConfig `koanf:"server"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// NewDefaultConfig returns the built-in defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:            "",
			Port:            9090,
			ShutdownTimeout: Duration(10 * time.Second),
		},
	}
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Environment is empty
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
func (c *Config) Validate() error {
	if c.Environment == "" {
		return errors.New("environment is required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}

	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	return nil
}
