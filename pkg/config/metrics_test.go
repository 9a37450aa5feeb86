package config

import "testing"

func TestInitializeMetrics_Disabled(t *testing.T) {
	result := InitializeMetrics(GetDefaultConfig())

	if result.Server != nil {
		t.Error("Expected no metrics server when disabled")
	}
	if result.Fanout == nil || result.Provider == nil || result.Observer == nil || result.Source == nil || result.Bus == nil {
		t.Errorf("Expected no-op collectors, got %+v", result)
	}
}
