package registry

import (
	"fmt"
	"slices"

	"github.com/marmos91/mediabus/pkg/protocol"
)

// Provider represents a configured provider that binds together:
//   - A provider name (the last element of its bus name and the first
//     segment of its object paths)
//   - A catalog source instance
//   - The protocol generations it is published under
//
// Multiple providers can reference the same source.
type Provider struct {
	Name        string
	Source      string // Name of the catalog source
	Generations []protocol.Generation

	// RootName overrides the DisplayName of the root container. Empty keeps
	// the source's own name.
	RootName string
}

// ProviderConfig contains all configuration needed to create a provider.
type ProviderConfig struct {
	Name        string
	Source      string
	Generations []protocol.Generation
	RootName    string
}

// Serves reports whether the provider is published under gen.
func (p *Provider) Serves(gen protocol.Generation) bool {
	return slices.Contains(p.Generations, gen)
}

func (p *Provider) clone() *Provider {
	out := *p
	out.Generations = slices.Clone(p.Generations)
	return &out
}

// ValidateProviderName checks that name can be used both as a bus name
// element and as an object path segment: ASCII letters, digits and
// underscores, not starting with a digit.
func ValidateProviderName(name string) error {
	if name == "" {
		return fmt.Errorf("provider name cannot be empty")
	}
	for i, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case c >= '0' && c <= '9':
			if i == 0 {
				return fmt.Errorf("provider name %q cannot start with a digit", name)
			}
		default:
			return fmt.Errorf("provider name %q contains invalid character %q", name, c)
		}
	}
	return nil
}
