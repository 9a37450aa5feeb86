// Package metrics provides Prometheus metrics collection for mediabus
// components.
//
// All metrics are optional - if not initialized, components use no-op
// implementations. Interfaces and no-op implementations live here; the
// Prometheus implementations live in pkg/metrics/prometheus.
//
// Usage:
//
//	// Initialize global registry (typically in the serve command)
//	metrics.InitRegistry()
//
//	// Create metrics instances for components
//	fanout := prometheus.NewFanoutMetrics()
//
//	// Or pass nil for no-op behavior
//	c, err := client.Connect(ctx, conn, protocol.V2, "jamendo", nil)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry. It's safe to call
// multiple times - subsequent calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global Prometheus registry, or nil if metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true if InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
