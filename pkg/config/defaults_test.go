package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Server.RequestTimeout != DefaultRequestTimeout {
		t.Errorf("Expected request timeout %v, got %v", DefaultRequestTimeout, cfg.Server.RequestTimeout)
	}
	if cfg.Server.Metrics.Enabled {
		t.Error("Expected metrics to stay disabled")
	}
	if cfg.Server.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Expected metrics port %d, got %d", DefaultMetricsPort, cfg.Server.Metrics.Port)
	}
	if cfg.Bus.CallTimeout != DefaultCallTimeout {
		t.Errorf("Expected call timeout %v, got %v", DefaultCallTimeout, cfg.Bus.CallTimeout)
	}

	// A default in-memory source and provider are added
	if len(cfg.Sources) != 1 || cfg.Sources["library"].Type != "memory" {
		t.Errorf("Expected default memory source, got %+v", cfg.Sources)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].Source != "library" {
		t.Errorf("Expected default provider, got %+v", cfg.Providers)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "debug", Format: "json", Output: "stderr"},
		Server: ServerConfig{
			ShutdownTimeout: time.Minute,
			RequestTimeout:  2 * time.Second,
			Interner:        "HASH",
			Metrics:         MetricsConfig{Enabled: true, Port: 9191},
		},
		Bus: BusConfig{Listen: "0.0.0.0:8000", CallTimeout: time.Second},
		Sources: map[string]SourceConfig{
			"videos": {Type: "memory"},
		},
		Providers: []ProviderConfig{
			{Name: "videos", Source: "videos", Generations: []string{"1"}},
		},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level normalized to 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Output != "stderr" {
		t.Errorf("Expected explicit logging kept, got %+v", cfg.Logging)
	}
	if cfg.Server.ShutdownTimeout != time.Minute || cfg.Server.RequestTimeout != 2*time.Second {
		t.Errorf("Expected explicit timeouts kept, got %+v", cfg.Server)
	}
	if cfg.Server.Interner != "hash" {
		t.Errorf("Expected interner normalized to 'hash', got %q", cfg.Server.Interner)
	}
	if cfg.Server.Metrics.Port != 9191 {
		t.Errorf("Expected metrics port 9191, got %d", cfg.Server.Metrics.Port)
	}
	if cfg.Bus.Listen != "0.0.0.0:8000" || cfg.Bus.CallTimeout != time.Second {
		t.Errorf("Expected explicit bus settings kept, got %+v", cfg.Bus)
	}
	if _, ok := cfg.Sources["library"]; ok {
		t.Error("Default source must not be added when sources are configured")
	}
	if got := cfg.Providers[0].Generations; len(got) != 1 || got[0] != "1" {
		t.Errorf("Expected explicit generations kept, got %v", got)
	}
	if cfg.Sources["videos"].Memory == nil {
		t.Error("Expected memory section to be initialized")
	}
}

func TestApplyDefaults_SourceSections(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/data")

	cfg := &Config{
		Sources: map[string]SourceConfig{
			"db":     {Type: "Badger"},
			"disk":   {Type: "filesystem", Filesystem: map[string]any{"root": "/srv", "watch": false}},
			"bucket": {Type: "s3"},
		},
		Providers: []ProviderConfig{{Name: "db", Source: "db"}},
	}
	ApplyDefaults(cfg)

	db := cfg.Sources["db"]
	if db.Type != "badger" {
		t.Errorf("Expected type normalized to 'badger', got %q", db.Type)
	}
	if got := db.Badger["db_path"]; got != filepath.Join("/tmp/data", "mediabus", "db") {
		t.Errorf("Unexpected default db_path %v", got)
	}
	if got := cfg.Sources["disk"].Filesystem["watch"]; got != false {
		t.Errorf("Expected explicit watch=false kept, got %v", got)
	}
	if got := cfg.Sources["bucket"].S3["presign_expiry"]; got != "1h" {
		t.Errorf("Expected default presign_expiry '1h', got %v", got)
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	if searchable, _ := cfg.Sources["library"].Memory["searchable"].(bool); !searchable {
		t.Error("Expected default library to be searchable")
	}
}
