package memory

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/marmos91/mediabus/pkg/property"
	"github.com/marmos91/mediabus/pkg/source"
)

// Fixture is the YAML layout of a seeded catalog:
//
//	name: Jamendo
//	searchable: true
//	children:
//	  - id: album-1
//	    name: Sound of Silence
//	    type: music
//	    children:
//	      - id: track-1
//	        name: Song
//	        properties:
//	          Artist: Someone
//	          Duration: 180
//	          URLs: [http://example.com/track-1.ogg]
//
// An entry with a children key, or with container: true, is a container.
type Fixture struct {
	Name       string         `yaml:"name"`
	Searchable bool           `yaml:"searchable"`
	Children   []FixtureEntry `yaml:"children"`
}

// FixtureEntry is one object of a Fixture.
type FixtureEntry struct {
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name"`
	Type       string         `yaml:"type"`
	Container  bool           `yaml:"container"`
	Properties map[string]any `yaml:"properties"`
	Children   []FixtureEntry `yaml:"children"`
}

func (e *FixtureEntry) isContainer() bool {
	return e.Container || e.Children != nil
}

// LoadFile reads a YAML fixture from path.
func LoadFile(path string) (*MemorySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Load reads a YAML fixture from r.
func Load(r io.Reader) (*MemorySource, error) {
	var fx Fixture
	if err := yaml.NewDecoder(r).Decode(&fx); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	return FromFixture(&fx)
}

// FromFixture builds a catalog from fx.
func FromFixture(fx *Fixture) (*MemorySource, error) {
	s := NewMemorySource(MemorySourceConfig{RootName: fx.Name, Searchable: fx.Searchable})
	for i := range fx.Children {
		if err := s.addEntry(source.RootID, &fx.Children[i]); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *MemorySource) addEntry(parent string, e *FixtureEntry) error {
	props, err := property.FromMap(e.Properties)
	if err != nil {
		return fmt.Errorf("fixture entry %q: %w", e.ID, err)
	}
	if e.Name != "" {
		props[property.DisplayName] = property.String(e.Name)
	}
	if e.Type != "" {
		props[property.Type] = property.String(e.Type)
	}

	id, err := s.Add(parent, &source.Object{
		ID:         e.ID,
		Container:  e.isContainer(),
		Properties: props,
	})
	if err != nil {
		return fmt.Errorf("fixture entry %q: %w", e.ID, err)
	}
	for i := range e.Children {
		if err := s.addEntry(id, &e.Children[i]); err != nil {
			return err
		}
	}
	return nil
}

// Dump renders the catalog as a Fixture, for writing back to YAML.
func (s *MemorySource) Dump() *Fixture {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root := s.nodes[source.RootID]
	fx := &Fixture{
		Name:       root.props.DisplayName(),
		Searchable: s.searchable,
	}
	fx.Children = s.dumpChildren(root)
	return fx
}

func (s *MemorySource) dumpChildren(n *node) []FixtureEntry {
	var out []FixtureEntry
	for _, id := range n.children {
		child := s.nodes[id]
		e := FixtureEntry{
			ID:        child.id,
			Name:      child.props.DisplayName(),
			Type:      child.props.Type(),
			Container: child.container,
		}
		for name, v := range child.props {
			if name == property.DisplayName || name == property.Type {
				continue
			}
			if e.Properties == nil {
				e.Properties = make(map[string]any)
			}
			e.Properties[string(name)] = v.Interface()
		}
		if child.container {
			e.Children = s.dumpChildren(child)
		}
		out = append(out, e)
	}
	return out
}
