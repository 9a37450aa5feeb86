package config

import (
	"context"
	"fmt"
	"sort"

	"github.com/marmos91/mediabus/internal/logger"
	"github.com/marmos91/mediabus/pkg/metrics"
	"github.com/marmos91/mediabus/pkg/protocol"
	"github.com/marmos91/mediabus/pkg/registry"
	"github.com/marmos91/mediabus/pkg/source"
)

// InitializeRegistry creates a fully configured Registry from the provided configuration.
//
// This function orchestrates the complete initialization process:
//  1. Creates and registers all sources from cfg.Sources, each wrapped
//     with operation metrics
//  2. Validates and adds all providers from cfg.Providers
//
// Sources created before a failure are closed again.
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	reg, err := config.InitializeRegistry(ctx, cfg, metrics.NewNoopSourceMetrics())
//	if err != nil {
//	    log.Fatalf("Failed to initialize registry: %v", err)
//	}
func InitializeRegistry(ctx context.Context, cfg *Config, m metrics.SourceMetrics) (*registry.Registry, error) {
	logger.Debug("Initializing registry from configuration")

	if err := validateRegistryConfig(cfg); err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.NewNoopSourceMetrics()
	}

	reg := registry.NewRegistry()

	// Step 1: Register all sources
	if err := registerSources(ctx, reg, cfg, m); err != nil {
		_ = reg.Close()
		return nil, fmt.Errorf("failed to register sources: %w", err)
	}
	logger.Debug("Registered sources", logger.KeyCount, reg.CountSources())

	// Step 2: Add all providers
	if err := addProviders(reg, cfg); err != nil {
		_ = reg.Close()
		return nil, fmt.Errorf("failed to add providers: %w", err)
	}
	logger.Debug("Registered providers", logger.KeyCount, reg.CountProviders())

	return reg, nil
}

// validateRegistryConfig performs basic validation on the configuration.
func validateRegistryConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("no sources configured: at least one source is required")
	}
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("no providers configured: at least one provider is required")
	}
	return nil
}

// registerSources creates and registers all configured sources in name order.
func registerSources(ctx context.Context, reg *registry.Registry, cfg *Config, m metrics.SourceMetrics) error {
	names := make([]string, 0, len(cfg.Sources))
	for name := range cfg.Sources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		srcCfg := cfg.Sources[name]
		logger.Debug("Creating source", logger.KeySource, name, "type", srcCfg.Type)

		src, err := CreateSource(ctx, &srcCfg)
		if err != nil {
			return fmt.Errorf("failed to create source %q: %w", name, err)
		}

		if err := reg.RegisterSource(name, source.Instrument(name, src, m)); err != nil {
			_ = src.Close()
			return fmt.Errorf("failed to register source %q: %w", name, err)
		}
	}

	return nil
}

// addProviders validates and adds all configured providers to the registry.
func addProviders(reg *registry.Registry, cfg *Config) error {
	for i, p := range cfg.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider #%d: name cannot be empty", i+1)
		}

		gens, err := ParseGenerations(p.Generations)
		if err != nil {
			return fmt.Errorf("provider %q: %w", p.Name, err)
		}

		if err := reg.AddProvider(&registry.ProviderConfig{
			Name:        p.Name,
			Source:      p.Source,
			Generations: gens,
			RootName:    p.RootName,
		}); err != nil {
			return fmt.Errorf("failed to add provider %q: %w", p.Name, err)
		}

		logger.Debug("Provider added", logger.KeyProvider, p.Name, logger.KeySource, p.Source)
	}

	return nil
}

// ParseGenerations converts configured generation names. An empty list
// yields nil, which the registry reads as every generation.
func ParseGenerations(names []string) ([]protocol.Generation, error) {
	if len(names) == 0 {
		return nil, nil
	}
	gens := make([]protocol.Generation, 0, len(names))
	for _, name := range names {
		gen, err := protocol.ParseGeneration(name)
		if err != nil {
			return nil, err
		}
		gens = append(gens, gen)
	}
	return gens, nil
}
