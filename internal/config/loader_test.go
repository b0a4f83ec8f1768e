package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the insightd config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "insightd")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

type telemetrySection struct {
	ConnectionString Secret `koanf:"connection_string"`
	ServiceName      string `koanf:"service_name"`
	Sampling         struct {
		Rate float64 `koanf:"rate"`
	} `koanf:"sampling"`
}

func TestLoad_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `environment: staging
server:
  http_port: 8081
  shutdown_timeout: 3s
telemetry:
  connection_string: "IngestionEndpoint=localhost:4317"
  service_name: insightd-test
`, 0600)

	cfg, loader, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, path, loader.Path())

	var tel telemetrySection
	require.NoError(t, loader.Unmarshal("telemetry", &tel))
	assert.Equal(t, "IngestionEndpoint=localhost:4317", tel.ConnectionString.Value())
	assert.Equal(t, "insightd-test", tel.ServiceName)
}

func TestLoad_NumericDurationsAreSeconds(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `server:
  shutdown_timeout: 15
telemetry:
  nats:
    connect_timeout: 2
    flush_timeout: 0.5
`, 0600)

	cfg, loader, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout.Duration())

	var nats struct {
		ConnectTimeout Duration `koanf:"connect_timeout"`
		FlushTimeout   Duration `koanf:"flush_timeout"`
	}
	require.NoError(t, loader.Unmarshal("telemetry.nats", &nats))
	assert.Equal(t, 2*time.Second, nats.ConnectTimeout.Duration())
	assert.Equal(t, 500*time.Millisecond, nats.FlushTimeout.Duration())
}

func TestLoad_NegativeNumericDurationRejected(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  shutdown_timeout: -3\n", 0600)

	_, _, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative")
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dir := setupTestHome(t)

	cfg, _, err := Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, NewDefaultConfig(), cfg)
}

func TestLoad_DefaultPath(t *testing.T) {
	setupTestHome(t)

	cfg, loader, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Contains(t, loader.Path(), filepath.Join(".config", "insightd", "config.yaml"))
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `server:
  http_port: 8081
telemetry:
  service_name: from-file
  sampling:
    rate: 0.5
`, 0600)

	t.Setenv("INSIGHTD_SERVER_HTTP_PORT", "7070")
	t.Setenv("INSIGHTD_TELEMETRY_SERVICE_NAME", "from-env")
	t.Setenv("INSIGHTD_TELEMETRY_SAMPLING__RATE", "0.25")

	cfg, loader, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)

	var tel telemetrySection
	require.NoError(t, loader.Unmarshal("telemetry", &tel))
	assert.Equal(t, "from-env", tel.ServiceName)
	assert.Equal(t, 0.25, tel.Sampling.Rate)
}

func TestLoad_LegacyAliases(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `environment: file-env
telemetry:
  connection_string: "IngestionEndpoint=from-file:4317"
`, 0600)

	t.Setenv("APPLICATIONINSIGHTS_CONNECTION_STRING", "InstrumentationKey=abc;IngestionEndpoint=localhost:4317")
	t.Setenv("ENVIRONMENT", "production")

	cfg, loader, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "InstrumentationKey=abc;IngestionEndpoint=localhost:4317", loader.String("telemetry.connection_string"))

	// Prefixed variables still win over aliases.
	t.Setenv("INSIGHTD_ENVIRONMENT", "qa")
	cfg, _, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "qa", cfg.Environment)
}

func TestLoad_RejectsInsecurePermissions(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "environment: dev\n", 0644)

	_, _, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_RejectsPathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)

	_, _, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoad_RejectsOversizedFile(t *testing.T) {
	dir := setupTestHome(t)
	big := make([]byte, maxConfigFileSize+1)
	for i := range big {
		big[i] = '#'
	}
	path := writeConfig(t, dir, string(big), 0600)

	_, _, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoad_InvalidValues(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 70000\n", 0600)

	_, _, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server port")
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"INSIGHTD_SERVER_HTTP_PORT", "server.http_port"},
		{"INSIGHTD_TELEMETRY_CONNECTION_STRING", "telemetry.connection_string"},
		{"INSIGHTD_LOGGING_LEVEL", "logging.level"},
		{"INSIGHTD_TELEMETRY_SHUTDOWN__TIMEOUT", "telemetry.shutdown.timeout"},
		{"INSIGHTD_ENVIRONMENT", "environment"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, envKey(tt.in))
		})
	}
}

func TestEnsureConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, EnsureConfigDir())

	info, err := os.Stat(filepath.Join(home, ".config", "insightd"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestWatch_NotifiesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 10)
	require.NoError(t, Watch(ctx, path, func() { changed <- struct{}{} }, nil))

	require.NoError(t, os.WriteFile(path, []byte("a: 2\n"), 0600))

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("expected change notification")
	}
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 10)
	require.NoError(t, Watch(ctx, path, func() { changed <- struct{}{} }, nil))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("b: 1\n"), 0600))

	select {
	case <-changed:
		t.Fatal("unexpected change notification")
	case <-time.After(200 * time.Millisecond):
	}
}
