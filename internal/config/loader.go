package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/fyrsmithlabs/insightd/internal/sanitize"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment variable read by the loader.
	EnvPrefix = "INSIGHTD_"
)

// envAliases maps legacy environment variables onto config keys. They are
// applied after the file and before INSIGHTD_* variables.
var envAliases = []struct {
	env string
	key string
}{
	{"APPLICATIONINSIGHTS_CONNECTION_STRING", "telemetry.connection_string"},
	{"APPLICATION_INSIGHTS_CONNECTION_STRING", "telemetry.connection_string"},
	{"ENVIRONMENT", "environment"},
}

// sections lists the top-level keys that environment variables can address
// with a SECTION_FIELD suffix.
var sections = map[string]bool{
	"server":    true,
	"telemetry": true,
	"logging":   true,
}

// Loader holds merged configuration from file and environment.
type Loader struct {
	k    *koanf.Koanf
	path string
}

// NewLoader reads the YAML file at configPath (if it exists), then applies
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. INSIGHTD_* environment variables
//  2. Legacy aliases (APPLICATIONINSIGHTS_CONNECTION_STRING, ENVIRONMENT)
//  3. YAML config file (~/.config/insightd/config.yaml)
//  4. Package defaults supplied to Unmarshal
//
// # Security Considerations
//
// The file MUST have 0600 or 0400 permissions, live under ~/.config/insightd/
// or /etc/insightd/, and be at most 1MB.
//
// # Environment Variable Mapping
//
// The prefix is stripped, the remainder lowercased, and the first underscore
// after a known section becomes a dot. A double underscore descends one more
// level:
//
//	INSIGHTD_SERVER_HTTP_PORT                -> server.http_port
//	INSIGHTD_TELEMETRY_CONNECTION_STRING     -> telemetry.connection_string
//	INSIGHTD_TELEMETRY_SAMPLING__RATE        -> telemetry.sampling.rate
//	INSIGHTD_ENVIRONMENT                     -> environment
func NewLoader(configPath string) (*Loader, error) {
	k := koanf.New(".")

	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	for _, alias := range envAliases {
		if v := os.Getenv(alias.env); v != "" {
			if err := k.Set(alias.key, v); err != nil {
				return nil, fmt.Errorf("applying %s: %w", alias.env, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	return &Loader{k: k, path: configPath}, nil
}

// envKey maps an INSIGHTD_* variable name to a config key.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 2 && sections[parts[0]] {
		return parts[0] + "." + strings.ReplaceAll(parts[1], "__", ".")
	}
	return strings.ReplaceAll(lower, "__", ".")
}

// DefaultPath returns ~/.config/insightd/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "insightd", "config.yaml"), nil
}

// Path returns the config file path the loader was created with.
func (l *Loader) Path() string {
	return l.path
}

// Unmarshal decodes the given section ("" for the root) into out. Values
// already present in out are kept for keys the configuration does not set,
// so callers pass a struct pre-filled with defaults.
func (l *Loader) Unmarshal(section string, out interface{}) error {
	conf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.DecodeHookFuncType(secondsToDurationHook),
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           out,
			WeaklyTypedInput: true,
		},
	}
	if err := l.k.UnmarshalWithConf(section, out, conf); err != nil {
		return fmt.Errorf("failed to unmarshal %q: %w", section, err)
	}
	return nil
}

// secondsToDurationHook reads a numeric YAML value for a Duration field as
// seconds, matching Duration.UnmarshalText for bare integers in env vars.
func secondsToDurationHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(Duration(0)) {
		return data, nil
	}
	var secs float64
	switch from.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		secs = float64(reflect.ValueOf(data).Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		secs = float64(reflect.ValueOf(data).Uint())
	case reflect.Float32, reflect.Float64:
		secs = reflect.ValueOf(data).Float()
	default:
		return data, nil
	}
	if secs < 0 {
		return nil, fmt.Errorf("duration cannot be negative: %v", data)
	}
	return Duration(time.Duration(secs * float64(time.Second))), nil
}

// String returns the raw string value at key.
func (l *Loader) String(key string) string {
	return l.k.String(key)
}

// App decodes and validates the application-level settings.
func (l *Loader) App() (*Config, error) {
	cfg := NewDefaultConfig()
	if err := l.Unmarshal("", cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Load is shorthand for NewLoader(configPath) followed by App.
func Load(configPath string) (*Config, *Loader, error) {
	l, err := NewLoader(configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := l.App()
	if err != nil {
		return nil, nil, err
	}
	return cfg, l, nil
}

// readConfigFile opens the file once and validates it through the open
// descriptor.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// EnsureConfigDir creates the insightd config directory with 0700
// permissions if it doesn't exist.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", "insightd")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	return nil
}

// validateConfigPath checks that path lies in ~/.config/insightd or
// /etc/insightd once symlinks are resolved. It runs even if the file does
// not exist yet.
func validateConfigPath(path string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	if _, err := sanitize.WithinRoots(path, filepath.Join(home, ".config", "insightd"), "/etc/insightd"); err != nil {
		return fmt.Errorf("config file must be in ~/.config/insightd/ or /etc/insightd/: %w", err)
	}
	return nil
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	// Skip on Windows (different permission model)
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}
