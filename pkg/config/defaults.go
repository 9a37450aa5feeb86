package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/mediabus/pkg/protocol"
)

// Default values used by ApplyDefaults.
const (
	DefaultBusListen       = "127.0.0.1:7070"
	DefaultMetricsPort     = 9090
	DefaultShutdownTimeout = 30 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
	DefaultCallTimeout     = 10 * time.Second
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Source-specific defaults are handled by source implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyBusDefaults(&cfg.Bus)

	// Add a default in-memory source and provider if none configured
	if len(cfg.Sources) == 0 && len(cfg.Providers) == 0 {
		cfg.Sources = map[string]SourceConfig{
			"library": {Type: "memory", Memory: map[string]any{"root_name": "Library"}},
		}
		cfg.Providers = []ProviderConfig{{Name: "library", Source: "library"}}
	}

	applySourceDefaults(cfg.Sources)
	applyProviderDefaults(cfg.Providers)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Interner == "" {
		cfg.Interner = string(protocol.InternerSequential)
	}
	cfg.Interner = strings.ToLower(cfg.Interner)

	// Metrics stay disabled unless asked for; the port is filled in
	// regardless so a generated config shows it.
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = DefaultMetricsPort
	}
}

// applyBusDefaults sets bus defaults. Websocket tuning left at zero is
// resolved by the bus server itself.
func applyBusDefaults(cfg *BusConfig) {
	if cfg.Listen == "" {
		cfg.Listen = DefaultBusListen
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
}

// applySourceDefaults initializes the type-specific section of every source
// and fills in defaults the source constructors cannot derive.
func applySourceDefaults(sources map[string]SourceConfig) {
	for name, src := range sources {
		src.Type = strings.ToLower(src.Type)
		switch src.Type {
		case "memory":
			if src.Memory == nil {
				src.Memory = make(map[string]any)
			}
		case "badger":
			if src.Badger == nil {
				src.Badger = make(map[string]any)
			}
			if _, ok := src.Badger["db_path"]; !ok {
				src.Badger["db_path"] = filepath.Join(getDataDir(), name)
			}
		case "filesystem":
			if src.Filesystem == nil {
				src.Filesystem = make(map[string]any)
			}
			if _, ok := src.Filesystem["watch"]; !ok {
				src.Filesystem["watch"] = true
			}
		case "s3":
			if src.S3 == nil {
				src.S3 = make(map[string]any)
			}
			if _, ok := src.S3["presign_expiry"]; !ok {
				src.S3["presign_expiry"] = "1h"
			}
		}
		sources[name] = src
	}
}

// applyProviderDefaults publishes every provider on both generations unless
// restricted.
func applyProviderDefaults(providers []ProviderConfig) {
	for i := range providers {
		p := &providers[i]
		if len(p.Generations) == 0 {
			p.Generations = []string{"1", "2"}
		}
	}
}

// getDataDir returns the directory holding persistent source data.
//
// Uses XDG_DATA_HOME if set, otherwise ~/.local/share.
func getDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "mediabus")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "data")
	}
	return filepath.Join(home, ".local", "share", "mediabus")
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Sources: map[string]SourceConfig{
			"library": {
				Type: "memory",
				Memory: map[string]any{
					"root_name":  "Library",
					"searchable": true,
				},
			},
		},
		Providers: []ProviderConfig{
			{Name: "library", Source: "library"},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
