package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	cfg := &Config{Self: "node-1"}
	ApplyDefaults(cfg)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.Endpoint)
	assert.Equal(t, 1.0, cfg.Telemetry.SampleRate)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "inproc", cfg.Transport.Backend)
	assert.Equal(t, 30*time.Second, cfg.Session.LeaseDuration)
	assert.Equal(t, 5*time.Second, cfg.Session.ScanInterval)
	assert.Equal(t, ":9090", cfg.Metrics.ListenAddr)
}

func TestApplyDefaultsLeavesExplicitValues(t *testing.T) {
	cfg := &Config{
		Self: "node-1",
		Logging: LoggingConfig{
			Level:  "debug",
			Format: "json",
			Output: "/var/log/zoolite.log",
		},
		Session: SessionConfig{
			LeaseDuration: time.Minute,
		},
	}
	ApplyDefaults(cfg)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/var/log/zoolite.log", cfg.Logging.Output)
	assert.Equal(t, time.Minute, cfg.Session.LeaseDuration)
	assert.Equal(t, 5*time.Second, cfg.Session.ScanInterval)
}

func TestValidateRequiresSelf(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Self")
}

func TestValidateRejectsUnknownStorageBackend(t *testing.T) {
	cfg := &Config{Self: "node-1"}
	ApplyDefaults(cfg)
	cfg.Storage.Backend = "sqlite"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Storage.Backend")
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := &Config{Self: "node-1"}
	ApplyDefaults(cfg)

	require.NoError(t, Validate(cfg))
}

func TestLoadWithoutConfigFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("ZOOLITE_SELF", "node-env")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "node-env", cfg.Self)
	assert.Equal(t, "memory", cfg.Storage.Backend)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	contents := `
self: node-file
logging:
  level: warn
  format: json
  output: stdout
storage:
  backend: badger
  badger:
    dir: /var/lib/zoolite
session:
  lease_duration: 45s
`
	require.NoError(t, os.WriteFile(configPath, []byte(contents), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "node-file", cfg.Self)
	assert.Equal(t, "WARN", cfg.Logging.Level)
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/zoolite", cfg.Storage.Badger.Dir)
	assert.Equal(t, 45*time.Second, cfg.Session.LeaseDuration)
}

func TestLoadRejectsMissingSelf(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("logging:\n  level: info\n"), 0o644))

	_, err := Load(configPath)
	require.Error(t, err)
}

func TestTelemetrySDKConfigCarriesServiceIdentity(t *testing.T) {
	tc := TelemetryConfig{
		Enabled:    true,
		Endpoint:   "collector:4317",
		Insecure:   true,
		SampleRate: 0.5,
	}

	sdk := tc.SDKConfig("zoolite", "1.2.3")
	assert.Equal(t, "zoolite", sdk.ServiceName)
	assert.Equal(t, "1.2.3", sdk.ServiceVersion)
	assert.Equal(t, "collector:4317", sdk.Endpoint)
	assert.True(t, sdk.Insecure)
	assert.Equal(t, 0.5, sdk.SampleRate)
}
