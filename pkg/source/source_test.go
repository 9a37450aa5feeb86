package source_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/mediabus/pkg/property"
	"github.com/marmos91/mediabus/pkg/source"
	"github.com/marmos91/mediabus/pkg/source/memory"
)

func song() property.Table {
	return property.Table{
		property.DisplayName: property.String("Sound of Silence"),
		property.Artist:      property.String("Simon & Garfunkel"),
		property.Genre:       property.String("Folk"),
		property.Duration:    property.Int(185),
		property.URLs:        property.StringList([]string{"http://a/1.ogg", "http://b/1.mp3"}),
	}
}

func TestParseQuery(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"", true},
		{"*", true},
		{"silence", true},
		{"SILENCE", true},
		{`"of Silence"`, true},
		{"sound silence", true},
		{"sound jazz", false},
		{"jazz or silence", true},
		{`Artist contains "garfunkel"`, true},
		{`Artist = "Simon & Garfunkel"`, true},
		{`Artist = "simon & garfunkel"`, false},
		{`Artist != "Simon & Garfunkel"`, false},
		{`Genre = Folk and Duration = 185`, true},
		{`Genre = Folk and Duration = 186`, false},
		{`(Genre = Rock or Genre = Folk) and silence`, true},
		{`URLs contains ".mp3"`, true},
		{`Album = ""`, true},
		{`mimetype contains "audio"`, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q, err := source.ParseQuery(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.Match(song()))
			assert.Equal(t, tt.query, q.String())
		})
	}
}

func TestParseQueryErrors(t *testing.T) {
	for _, bad := range []string{
		`Colour = red`,
		`Artist =`,
		`(silence`,
		`silence)`,
		`= x`,
		`silence or`,
	} {
		t.Run(bad, func(t *testing.T) {
			_, err := source.ParseQuery(bad)
			assert.Error(t, err)
		})
	}
}

func TestQueryNames(t *testing.T) {
	q := source.MustParseQuery(`Artist = x and (Genre = y or z)`)
	assert.Equal(t, []property.Name{property.Artist, property.Genre, property.DisplayName}, q.Names())
}

func TestContains(t *testing.T) {
	q := source.Contains(property.Artist, `Simon "&"`)
	assert.False(t, q.Match(song()))
	assert.True(t, source.Contains(property.Artist, "simon").Match(song()))

	var nilQuery *source.Query
	assert.True(t, nilQuery.Match(song()))
}

func TestWindow(t *testing.T) {
	items := []int{0, 1, 2, 3, 4}
	assert.Equal(t, items, source.Window(items, 0, 0))
	assert.Equal(t, []int{2, 3}, source.Window(items, 2, 2))
	assert.Equal(t, []int{4}, source.Window(items, 4, 10))
	assert.Nil(t, source.Window(items, 5, 0))
	assert.Nil(t, source.Window(items, 9, 2))
	assert.Equal(t, []int{0}, source.Window(items, 0, 1))
	assert.Equal(t, []int{1, 2, 3, 4}, source.Window(items, 1, math.MaxUint32))
}

func TestProject(t *testing.T) {
	tbl := song()
	got := source.Project(tbl, []property.Name{property.Artist, property.Album})
	assert.Equal(t, property.Table{property.Artist: property.String("Simon & Garfunkel")}, got)
	assert.True(t, source.Project(tbl, nil).Equal(tbl))
}

func TestChildFilter(t *testing.T) {
	assert.True(t, source.ChildrenAll.Accepts(true))
	assert.True(t, source.ChildrenAll.Accepts(false))
	assert.True(t, source.ChildrenContainers.Accepts(true))
	assert.False(t, source.ChildrenContainers.Accepts(false))
	assert.False(t, source.ChildrenItems.Accepts(true))
	assert.Equal(t, "items", source.ChildrenItems.String())
}

func TestWatchers(t *testing.T) {
	var w source.Watchers
	var a, b []string
	cancelA := w.Add(func(id string) { a = append(a, id) })
	w.Add(func(id string) { b = append(b, id) })
	assert.Equal(t, 2, w.Len())

	w.Notify("x")
	cancelA()
	cancelA()
	w.Notify("y")

	assert.Equal(t, []string{"x"}, a)
	assert.Equal(t, []string{"x", "y"}, b)
	assert.Equal(t, 1, w.Len())
}

func TestCopy(t *testing.T) {
	src := memory.NewMemorySource(memory.MemorySourceConfig{RootName: "src"})
	album, err := src.Add(source.RootID, &source.Object{
		Container:  true,
		Properties: property.Table{property.DisplayName: property.String("Album")},
	})
	require.NoError(t, err)
	_, err = src.Add(album, &source.Object{Properties: song()})
	require.NoError(t, err)
	_, err = src.Add(source.RootID, &source.Object{Properties: property.Table{property.DisplayName: property.String("Loose")}})
	require.NoError(t, err)

	dst := memory.NewMemorySource(memory.MemorySourceConfig{RootName: "dst"})
	n, err := source.Copy(context.Background(), dst, src, source.RootID, source.RootID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 4, dst.Len())

	hits, err := dst.Search(context.Background(), source.RootID, source.MustParseQuery("silence"), 0, 0, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Simon & Garfunkel", hits[0].Properties.Artist())
}

type recordingMetrics struct {
	ops  []string
	errs int
}

func (m *recordingMetrics) RecordOperation(src, op string, _ time.Duration, err error) {
	m.ops = append(m.ops, src+"/"+op)
	if err != nil {
		m.errs++
	}
}

func TestInstrument(t *testing.T) {
	mem := memory.NewMemorySource(memory.MemorySourceConfig{RootName: "root"})
	m := &recordingMetrics{}
	s := source.Instrument("mem", mem, m)
	ctx := context.Background()

	_, err := s.Resolve(ctx, source.RootID, nil)
	require.NoError(t, err)
	_, err = s.Children(ctx, source.RootID, source.ChildrenAll, 0, 0, nil)
	require.NoError(t, err)
	_, err = s.Search(ctx, "missing", nil, 0, 0, nil)
	assert.True(t, errors.Is(err, source.ErrNotFound))

	assert.Equal(t, []string{"mem/resolve", "mem/children", "mem/search"}, m.ops)
	assert.Equal(t, 1, m.errs)
}
