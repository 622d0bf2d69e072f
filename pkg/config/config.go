// Package config loads the static Config for a coordination node: logging,
// tracing, the storage and transport backend selections, session lease
// defaults, and the metrics listen address. Precedence, highest first: CLI
// flags (bound by the caller via pflag before Load is called), environment
// variables prefixed ZOOLITE_, the config file, and finally the defaults
// applied by ApplyDefaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/zoolite/zoolite/internal/telemetry"
)

// Config is the complete static configuration for one coordination node.
type Config struct {
	// Self is this node's session/node identifier, used both as the
	// local session id and as the exchange manager's own peer name.
	// Required; has no sensible default.
	Self string `mapstructure:"self" yaml:"self" validate:"required"`

	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior, mirroring internal/logger.Config.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
}

// SDKConfig adapts TelemetryConfig to internal/telemetry.Config, filling in
// the service identity that the config file itself does not carry.
func (c TelemetryConfig) SDKConfig(serviceName, serviceVersion string) telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Endpoint:       c.Endpoint,
		Insecure:       c.Insecure,
		SampleRate:     c.SampleRate,
	}
}

// StorageConfig selects and configures the backing CAS store.
type StorageConfig struct {
	// Backend selects the coordstore/sessionstore adapter pair.
	Backend  string                `mapstructure:"backend" validate:"required,oneof=memory badger postgres" yaml:"backend"`
	Badger   BadgerStorageConfig   `mapstructure:"badger" yaml:"badger"`
	Postgres PostgresStorageConfig `mapstructure:"postgres" yaml:"postgres"`
}

// BadgerStorageConfig configures the embedded Badger adapter.
type BadgerStorageConfig struct {
	// Dir is the on-disk directory Badger opens its LSM tree in.
	Dir string `mapstructure:"dir" validate:"required_if=Backend badger" yaml:"dir"`
}

// PostgresStorageConfig configures the PostgreSQL adapter.
type PostgresStorageConfig struct {
	// DSN is a libpq connection string, passed straight to pgxpool.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// TransportConfig selects and configures the exchange manager's physical
// transport.
type TransportConfig struct {
	Backend string           `mapstructure:"backend" validate:"required,oneof=inproc tcp" yaml:"backend"`
	TCP     TCPTransportConfig `mapstructure:"tcp" yaml:"tcp"`
}

// TCPTransportConfig configures the length-framed TCP transport.
type TCPTransportConfig struct {
	// ListenAddr is the local address this node's TCP transport binds.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`

	// Peers maps every other known session id to its dialable address,
	// feeding a tcp.StaticResolver. The local node's own entry, if
	// present, is ignored.
	Peers map[string]string `mapstructure:"peers" yaml:"peers"`
}

// SessionConfig controls this node's session lease and the session
// manager's background expiration scan.
type SessionConfig struct {
	// LeaseDuration is how far into the future a fresh or renewed lease
	// is set. Default 30s.
	LeaseDuration time.Duration `mapstructure:"lease_duration" yaml:"lease_duration"`

	// ScanInterval is the session manager's expiration scan period.
	// Default 5s, matching the teacher's documented default.
	ScanInterval time.Duration `mapstructure:"scan_interval" yaml:"scan_interval"`
}

// MetricsConfig configures the Prometheus metrics HTTP listener.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// Load reads configuration from configPath (or the default search path if
// empty), overlays environment variables and built-in defaults, and
// validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if found {
		if err := v.Unmarshal(cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("ZOOLITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(configDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// ApplyDefaults fills in any zero-valued field with its built-in default.
// Explicit values, whether from flags, environment, or file, are left
// untouched.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}

	if cfg.Transport.Backend == "" {
		cfg.Transport.Backend = "inproc"
	}

	if cfg.Session.LeaseDuration <= 0 {
		cfg.Session.LeaseDuration = 30 * time.Second
	}
	if cfg.Session.ScanInterval <= 0 {
		cfg.Session.ScanInterval = 5 * time.Second
	}

	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9090"
	}
}

// Validate checks cfg against its struct tags, translating the first
// failing field into a readable error.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %q validation", fe.Namespace(), fe.Tag())
		}
		return err
	}
	return nil
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "zoolite")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "zoolite")
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}
