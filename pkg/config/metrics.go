package config

import (
	"github.com/marmos91/mediabus/pkg/metrics"
	promMetrics "github.com/marmos91/mediabus/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// The collectors below are never nil; they are no-ops when disabled.
	Fanout   metrics.FanoutMetrics
	Provider metrics.ServerMetrics
	Observer metrics.ObserverMetrics
	Source   metrics.SourceMetrics
	Bus      metrics.BusMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			Fanout:   metrics.NewNoopFanoutMetrics(),
			Provider: metrics.NewNoopServerMetrics(),
			Observer: metrics.NewNoopObserverMetrics(),
			Source:   metrics.NewNoopSourceMetrics(),
			Bus:      metrics.NewNoopBusMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Server.Metrics.Port,
	})

	return &MetricsResult{
		Server:   server,
		Fanout:   promMetrics.NewFanoutMetrics(),
		Provider: promMetrics.NewServerMetrics(),
		Observer: promMetrics.NewObserverMetrics(),
		Source:   promMetrics.NewSourceMetrics(),
		Bus:      promMetrics.NewBusMetrics(),
	}
}
