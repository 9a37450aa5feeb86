package memory

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/mediabus/pkg/property"
	"github.com/marmos91/mediabus/pkg/source"
)

const fixtureYAML = `
name: Jamendo
searchable: true
children:
  - id: album-1
    name: Sound of Silence
    type: music
    children:
      - id: track-1
        name: Song
        properties:
          Artist: Someone
          Duration: 180
          URLs: [http://example.com/track-1.ogg]
      - id: track-2
        name: Other Song
  - id: empty
    name: Empty
    container: true
  - id: loose
    name: Loose Track
`

func loadFixture(t *testing.T) *MemorySource {
	t.Helper()
	s, err := Load(strings.NewReader(fixtureYAML))
	require.NoError(t, err)
	return s
}

func TestLoadFixture(t *testing.T) {
	s := loadFixture(t)
	ctx := context.Background()

	root, err := s.Resolve(ctx, source.RootID, nil)
	require.NoError(t, err)
	assert.True(t, root.Container)
	assert.Equal(t, "Jamendo", root.Properties.DisplayName())
	assert.Equal(t, uint64(3), root.Properties.ChildCount())
	assert.True(t, root.Properties.Searchable())

	track, err := s.Resolve(ctx, "track-1", []property.Name{property.Artist, property.Duration, property.URLs})
	require.NoError(t, err)
	assert.False(t, track.Container)
	assert.Equal(t, "album-1", track.ParentID)
	assert.Equal(t, "Someone", track.Properties.Artist())
	assert.Equal(t, int64(180), track.Properties.Duration())
	assert.Equal(t, []string{"http://example.com/track-1.ogg"}, track.Properties.URLs())
	assert.Len(t, track.Properties, 3)

	empty, err := s.Resolve(ctx, "empty", nil)
	require.NoError(t, err)
	assert.True(t, empty.Container)
	assert.Equal(t, uint64(0), empty.Properties.ChildCount())
}

func TestLoadFixtureRejectsUnknownProperty(t *testing.T) {
	_, err := Load(strings.NewReader(`
children:
  - id: x
    properties:
      Colour: red
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Colour")
}

func TestResolveMissing(t *testing.T) {
	s := loadFixture(t)
	_, err := s.Resolve(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, source.ErrNotFound)
}

func TestChildrenFilterAndWindow(t *testing.T) {
	s := loadFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter source.ChildFilter
		offset uint32
		max    uint32
		want   []string
	}{
		{"all", source.ChildrenAll, 0, 0, []string{"album-1", "empty", "loose"}},
		{"containers", source.ChildrenContainers, 0, 0, []string{"album-1", "empty"}},
		{"items", source.ChildrenItems, 0, 0, []string{"loose"}},
		{"offset", source.ChildrenAll, 1, 0, []string{"empty", "loose"}},
		{"max", source.ChildrenAll, 0, 2, []string{"album-1", "empty"}},
		{"past end", source.ChildrenAll, 5, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			objs, err := s.Children(ctx, source.RootID, tt.filter, tt.offset, tt.max, []property.Name{property.DisplayName})
			require.NoError(t, err)
			var ids []string
			for _, o := range objs {
				ids = append(ids, o.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestChildrenOfItem(t *testing.T) {
	s := loadFixture(t)
	_, err := s.Children(context.Background(), "loose", source.ChildrenAll, 0, 0, nil)
	assert.ErrorIs(t, err, source.ErrNotContainer)
}

func TestSearch(t *testing.T) {
	s := loadFixture(t)
	ctx := context.Background()

	objs, err := s.Search(ctx, source.RootID, source.MustParseQuery("song"), 0, 0, []property.Name{property.DisplayName})
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "track-1", objs[0].ID)
	assert.Equal(t, "track-2", objs[1].ID)

	objs, err = s.Search(ctx, source.RootID, source.MustParseQuery(`Artist = "Someone"`), 0, 0, nil)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "track-1", objs[0].ID)

	objs, err = s.Search(ctx, "album-1", source.MustParseQuery("*"), 1, 1, nil)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "track-2", objs[0].ID)
}

func TestMutationsNotifyWatchers(t *testing.T) {
	s := loadFixture(t)

	var mu sync.Mutex
	var got []string
	cancel := s.Watch(func(id string) {
		mu.Lock()
		got = append(got, id)
		mu.Unlock()
	})

	id, err := s.Add("album-1", &source.Object{Properties: property.Table{property.DisplayName: property.String("New")}})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.NoError(t, s.Update(id, property.Table{property.Artist: property.String("A")}))
	require.NoError(t, s.Update("album-1", property.Table{property.DisplayName: property.String("Renamed")}))
	require.NoError(t, s.Remove("album-1"))

	cancel()
	require.NoError(t, s.Update("empty", property.Table{property.DisplayName: property.String("Quiet")}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"album-1", "album-1", "album-1", source.RootID}, got)

	_, err = s.Resolve(context.Background(), "track-1", nil)
	assert.ErrorIs(t, err, source.ErrNotFound, "subtree removed with its container")
}

func TestAddRejectsDuplicatesAndDerivedNames(t *testing.T) {
	s := loadFixture(t)

	_, err := s.Add(source.RootID, &source.Object{ID: "loose"})
	assert.Error(t, err)

	id, err := s.Add(source.RootID, &source.Object{Properties: property.Table{
		property.DisplayName: property.String("x"),
		property.Path:        property.String("/bogus"),
	}})
	require.NoError(t, err)

	obj, err := s.Resolve(context.Background(), id, nil)
	require.NoError(t, err)
	assert.False(t, obj.Properties.Has(property.Path))
}

func TestRemoveRoot(t *testing.T) {
	s := loadFixture(t)
	assert.Error(t, s.Remove(source.RootID))
}

func TestDumpRoundTrip(t *testing.T) {
	s := loadFixture(t)

	again, err := FromFixture(s.Dump())
	require.NoError(t, err)
	assert.Equal(t, s.Len(), again.Len())

	track, err := again.Resolve(context.Background(), "track-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "Someone", track.Properties.Artist())
}

func TestClosed(t *testing.T) {
	s := loadFixture(t)
	require.NoError(t, s.Close())
	_, err := s.Resolve(context.Background(), source.RootID, nil)
	assert.ErrorIs(t, err, source.ErrClosed)
}
