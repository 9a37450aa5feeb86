package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/mediabus/pkg/protocol"
	"github.com/marmos91/mediabus/pkg/source"
	"github.com/marmos91/mediabus/pkg/source/memory"
)

func newMemorySource() *memory.MemorySource {
	return memory.NewMemorySource(memory.MemorySourceConfig{RootName: "Library"})
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NotNil(t, reg)
	assert.Zero(t, reg.CountSources())
	assert.Zero(t, reg.CountProviders())
}

func TestRegisterSource(t *testing.T) {
	reg := NewRegistry()
	src := newMemorySource()

	require.NoError(t, reg.RegisterSource("library", src))
	assert.Equal(t, 1, reg.CountSources())

	assert.Error(t, reg.RegisterSource("library", src), "duplicate name")
	assert.Error(t, reg.RegisterSource("", src), "empty name")
	assert.Error(t, reg.RegisterSource("nil", nil), "nil source")

	got, err := reg.GetSource("library")
	require.NoError(t, err)
	assert.Same(t, src, got.(*memory.MemorySource))

	_, err = reg.GetSource("missing")
	assert.Error(t, err)
}

func TestAddProvider(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterSource("library", newMemorySource()))

	tests := []struct {
		name    string
		config  *ProviderConfig
		wantErr bool
	}{
		{"valid", &ProviderConfig{Name: "jamendo", Source: "library"}, false},
		{"duplicate", &ProviderConfig{Name: "jamendo", Source: "library"}, true},
		{"nil", nil, true},
		{"empty name", &ProviderConfig{Source: "library"}, true},
		{"bad name", &ProviderConfig{Name: "my-music", Source: "library"}, true},
		{"unknown source", &ProviderConfig{Name: "other", Source: "nope"}, true},
		{"bad generation", &ProviderConfig{Name: "third", Source: "library", Generations: []protocol.Generation{7}}, true},
		{"v1 only", &ProviderConfig{Name: "legacy", Source: "library", Generations: []protocol.Generation{protocol.V1, protocol.V1}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.AddProvider(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}

	p, err := reg.GetProvider("jamendo")
	require.NoError(t, err)
	assert.Equal(t, []protocol.Generation{protocol.V1, protocol.V2}, p.Generations)
	assert.True(t, p.Serves(protocol.V1))

	legacy, err := reg.GetProvider("legacy")
	require.NoError(t, err)
	assert.Equal(t, []protocol.Generation{protocol.V1}, legacy.Generations)
	assert.False(t, legacy.Serves(protocol.V2))
}

func TestGetProviderReturnsCopy(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterSource("library", newMemorySource()))
	require.NoError(t, reg.AddProvider(&ProviderConfig{Name: "jamendo", Source: "library"}))

	p, err := reg.GetProvider("jamendo")
	require.NoError(t, err)
	p.Generations[0] = 9
	p.Source = "changed"

	again, err := reg.GetProvider("jamendo")
	require.NoError(t, err)
	assert.Equal(t, "library", again.Source)
	assert.Equal(t, protocol.V1, again.Generations[0])
}

func TestSourceForProviderAndListing(t *testing.T) {
	reg := NewRegistry()
	src := newMemorySource()
	require.NoError(t, reg.RegisterSource("library", src))
	require.NoError(t, reg.RegisterSource("spare", newMemorySource()))
	require.NoError(t, reg.AddProvider(&ProviderConfig{Name: "zeta", Source: "library"}))
	require.NoError(t, reg.AddProvider(&ProviderConfig{Name: "alpha", Source: "library"}))

	got, err := reg.GetSourceForProvider("zeta")
	require.NoError(t, err)
	assert.Same(t, src, got.(*memory.MemorySource))

	_, err = reg.GetSourceForProvider("missing")
	assert.Error(t, err)

	var names []string
	for _, p := range reg.ListProviders() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"alpha", "zeta"}, names)
	assert.Equal(t, []string{"library", "spare"}, reg.ListSources())
	assert.Equal(t, []string{"alpha", "zeta"}, reg.ListProvidersUsingSource("library"))
	assert.Empty(t, reg.ListProvidersUsingSource("spare"))

	require.NoError(t, reg.RemoveProvider("alpha"))
	assert.False(t, reg.ProviderExists("alpha"))
	assert.Error(t, reg.RemoveProvider("alpha"))
	assert.Equal(t, 2, reg.CountSources())
}

func TestCloseClosesSources(t *testing.T) {
	reg := NewRegistry()
	src := newMemorySource()
	require.NoError(t, reg.RegisterSource("library", src))
	require.NoError(t, reg.AddProvider(&ProviderConfig{Name: "jamendo", Source: "library"}))

	require.NoError(t, reg.Close())
	assert.Zero(t, reg.CountSources())
	assert.Zero(t, reg.CountProviders())

	_, err := src.Resolve(t.Context(), source.RootID, nil)
	assert.ErrorIs(t, err, source.ErrClosed)
}

func TestValidateProviderName(t *testing.T) {
	for _, name := range []string{"jamendo", "Rhythmbox", "my_music2", "_x"} {
		assert.NoError(t, ValidateProviderName(name), name)
	}
	for _, name := range []string{"", "2fast", "a.b", "a/b", "a-b", "münchen"} {
		assert.Error(t, ValidateProviderName(name), name)
	}
}
