package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/marmos91/mediabus/pkg/protocol"
	"github.com/marmos91/mediabus/pkg/source"
)

// Registry manages all named resources: catalog sources and the providers
// that publish them. It provides thread-safe registration and lookup.
//
// Several providers may publish the same source, for example under
// different names or generations.
//
// Example usage:
//
//	reg := NewRegistry()
//	reg.RegisterSource("library", memSource)
//	reg.AddProvider(&ProviderConfig{Name: "jamendo", Source: "library"})
//
//	p, _ := reg.GetProvider("jamendo")
//	src, _ := reg.GetSourceForProvider("jamendo")
type Registry struct {
	mu        sync.RWMutex
	sources   map[string]source.Source
	providers map[string]*Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources:   make(map[string]source.Source),
		providers: make(map[string]*Provider),
	}
}

// RegisterSource adds a named catalog source to the registry.
// Returns an error if a source with the same name already exists.
func (r *Registry) RegisterSource(name string, src source.Source) error {
	if src == nil {
		return fmt.Errorf("cannot register nil source")
	}
	if name == "" {
		return fmt.Errorf("cannot register source with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("source %q already registered", name)
	}

	r.sources[name] = src
	return nil
}

// AddProvider creates a provider bound to a registered source.
// Returns an error if the provider already exists, the source is unknown,
// or a generation is invalid. An empty generation list means every
// supported generation.
func (r *Registry) AddProvider(config *ProviderConfig) error {
	if config == nil {
		return fmt.Errorf("cannot add nil provider")
	}
	if err := ValidateProviderName(config.Name); err != nil {
		return err
	}

	gens := slices.Clone(config.Generations)
	if len(gens) == 0 {
		gens = slices.Clone(protocol.Generations)
	}
	for _, gen := range gens {
		if !gen.Valid() {
			return fmt.Errorf("provider %q: invalid generation %d", config.Name, int(gen))
		}
	}
	slices.Sort(gens)
	gens = slices.Compact(gens)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[config.Name]; exists {
		return fmt.Errorf("provider %q already exists", config.Name)
	}
	if _, exists := r.sources[config.Source]; !exists {
		return fmt.Errorf("source %q not found", config.Source)
	}

	r.providers[config.Name] = &Provider{
		Name:        config.Name,
		Source:      config.Source,
		Generations: gens,
		RootName:    config.RootName,
	}
	return nil
}

// RemoveProvider removes a provider from the registry.
// Returns an error if the provider doesn't exist. The source stays
// registered.
func (r *Registry) RemoveProvider(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; !exists {
		return fmt.Errorf("provider %q not found", name)
	}

	delete(r.providers, name)
	return nil
}

// GetProvider retrieves a provider by name.
// The returned Provider is a copy and safe to modify.
func (r *Registry) GetProvider(name string) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("provider %q not found", name)
	}
	return p.clone(), nil
}

// GetSource retrieves a source by name.
func (r *Registry) GetSource(name string) (source.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, exists := r.sources[name]
	if !exists {
		return nil, fmt.Errorf("source %q not found", name)
	}
	return src, nil
}

// GetSourceForProvider retrieves the source published by the specified
// provider.
func (r *Registry) GetSourceForProvider(name string) (source.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("provider %q not found", name)
	}

	src, exists := r.sources[p.Source]
	if !exists {
		return nil, fmt.Errorf("source %q not found for provider %q", p.Source, name)
	}
	return src, nil
}

// ListProviders returns all providers sorted by name.
// The returned slice holds copies and is safe to modify.
func (r *Registry) ListProviders() []*Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.clone())
	}
	slices.SortFunc(out, func(a, b *Provider) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		default:
			return 0
		}
	})
	return out
}

// ListSources returns all registered source names, sorted.
func (r *Registry) ListSources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ListProvidersUsingSource returns the names of providers publishing the
// specified source, sorted.
func (r *Registry) ListProvidersUsingSource(sourceName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for _, p := range r.providers {
		if p.Source == sourceName {
			names = append(names, p.Name)
		}
	}
	slices.Sort(names)
	return names
}

// CountProviders returns the number of registered providers.
func (r *Registry) CountProviders() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// CountSources returns the number of registered sources.
func (r *Registry) CountSources() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// ProviderExists checks if a provider with the given name exists.
func (r *Registry) ProviderExists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.providers[name]
	return exists
}

// Close closes every registered source and empties the registry. All close
// errors are returned joined.
func (r *Registry) Close() error {
	r.mu.Lock()
	sources := r.sources
	r.sources = make(map[string]source.Source)
	r.providers = make(map[string]*Provider)
	r.mu.Unlock()

	var errs []error
	for name, src := range sources {
		if err := src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close source %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
