package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete mediabus configuration.
//
// This structure captures all configurable aspects of a mediabus node:
//   - Logging configuration
//   - Server-wide settings (timeouts, path interner, metrics)
//   - Bus settings (websocket listener and client dialing)
//   - Named catalog sources (type-specific sections)
//   - Providers publishing those sources on the bus
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (MEDIABUS_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Source Configuration Pattern:
// Each source implementation defines its own configuration type and factory
// function. A SourceConfig carries type-specific sections (memory, badger,
// filesystem, s3) and only the section matching the selected type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Bus configures the websocket bus daemon and how clients reach it
	Bus BusConfig `mapstructure:"bus" yaml:"bus"`

	// Sources maps source names to their configuration
	Sources map[string]SourceConfig `mapstructure:"sources" yaml:"sources" validate:"dive"`

	// Providers lists the providers published on the bus
	Providers []ProviderConfig `mapstructure:"providers" yaml:"providers" validate:"dive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// RequestTimeout bounds a single catalog request served to a client
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" validate:"required,gt=0"`

	// Interner selects how object identifiers map to path numbers
	// Valid values: sequential, hash
	Interner string `mapstructure:"interner" yaml:"interner" validate:"required,oneof=sequential hash"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled turns metrics collection and the HTTP endpoint on
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the metrics HTTP port
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// BusConfig configures the websocket bus.
type BusConfig struct {
	// Listen is the address the bus daemon listens on (host:port)
	Listen string `mapstructure:"listen" yaml:"listen" validate:"required,hostname_port"`

	// URL is the websocket URL clients dial. Default: derived from Listen
	URL string `mapstructure:"url" yaml:"url" validate:"omitempty,url"`

	// CallTimeout bounds each command-line client operation
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout" validate:"required,gt=0"`

	// SendQueue bounds the frames buffered per connected peer
	SendQueue int `mapstructure:"send_queue" yaml:"send_queue" validate:"gte=0"`

	// PingInterval is the websocket keepalive interval
	PingInterval time.Duration `mapstructure:"ping_interval" yaml:"ping_interval" validate:"gte=0"`

	// WriteTimeout bounds a single websocket write
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gte=0"`

	// RateLimit is the number of calls per second allowed per peer (0 = unlimited)
	RateLimit uint `mapstructure:"rate_limit" yaml:"rate_limit"`

	// RateBurst is the burst allowance on top of RateLimit
	RateBurst uint `mapstructure:"rate_burst" yaml:"rate_burst"`
}

// SourceConfig specifies one catalog source.
//
// The Type field determines which source implementation is used.
// Only the corresponding type-specific configuration section is used.
type SourceConfig struct {
	// Type specifies which source implementation to use
	// Valid values: memory, badger, filesystem, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger filesystem s3"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory,omitempty"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem,omitempty"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
}

// ProviderConfig defines a provider publishing a source.
type ProviderConfig struct {
	// Name is the provider name, the last element of its bus names
	Name string `mapstructure:"name" yaml:"name" validate:"required"`

	// Source is the name of the source the provider serves
	Source string `mapstructure:"source" yaml:"source" validate:"required"`

	// Generations lists the protocol generations to publish
	// Valid values: 1, 2, v1, v2, MediaServer1, MediaServer2 (empty means both)
	Generations []string `mapstructure:"generations" yaml:"generations,omitempty"`

	// RootName overrides the DisplayName of the root container
	RootName string `mapstructure:"root_name" yaml:"root_name,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (MEDIABUS_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath uses the default location; a missing file there is
// not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration, failing if an explicitly given file is
// missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("configuration file not found: %s (create one with: mediabus init --config %s)", configPath, configPath)
		}
	}
	return Load(configPath)
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the MEDIABUS_ prefix and underscores
	// Example: MEDIABUS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("MEDIABUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind the scalar keys so AutomaticEnv sees them during Unmarshal even
	// when the file does not mention them.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/mediabus/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// envKeys are the settings that may be supplied through the environment alone.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.shutdown_timeout",
	"server.request_timeout",
	"server.interner",
	"server.metrics.enabled",
	"server.metrics.port",
	"bus.listen",
	"bus.url",
	"bus.call_timeout",
	"bus.send_queue",
	"bus.ping_interval",
	"bus.write_timeout",
	"bus.rate_limit",
	"bus.rate_burst",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "mediabus")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "mediabus")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
