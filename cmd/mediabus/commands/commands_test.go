package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/mediabus/pkg/bus"
	"github.com/marmos91/mediabus/pkg/bus/wsbus"
	"github.com/marmos91/mediabus/pkg/protocol"
	"github.com/marmos91/mediabus/pkg/registry"
	"github.com/marmos91/mediabus/pkg/server"
	"github.com/marmos91/mediabus/pkg/source"
	"github.com/marmos91/mediabus/pkg/source/badger"
	"github.com/marmos91/mediabus/pkg/source/memory"
)

const libraryYAML = `
name: Library
searchable: true
children:
  - id: album-1
    name: Kind of Blue
    children:
      - id: track-1
        name: So What
        properties:
          Artist: Miles Davis
          Genre: Jazz
      - id: track-2
        name: Freddie Freeloader
        properties:
          Artist: Miles Davis
  - id: loose
    name: Loose Track
    properties:
      Artist: Somebody Else
`

// startDaemon serves a "library" provider on a websocket bus and returns
// the bus URL.
func startDaemon(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	hub := bus.NewHub()
	ts := httptest.NewServer(wsbus.NewServer(hub, wsbus.ServerConfig{}, nil).Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(hub.Close)

	src, err := memory.Load(strings.NewReader(libraryYAML))
	require.NoError(t, err)
	reg := registry.NewRegistry()
	require.NoError(t, reg.RegisterSource("library", src))
	require.NoError(t, reg.AddProvider(&registry.ProviderConfig{Name: "library", Source: "library"}))

	conn, err := hub.Connect()
	require.NoError(t, err)
	srv, err := server.New(conn, server.Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, reg)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = conn.Close()
	})

	require.Eventually(t, func() bool {
		names, err := conn.ListNames(context.Background())
		return err == nil && slices.Contains(names, protocol.V2.BusName("library"))
	}, 2*time.Second, 10*time.Millisecond)

	return "ws" + strings.TrimPrefix(ts.URL, "http") + wsbus.BusPath
}

// resetFlags restores every flag to its default between runs.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := runTo(t, context.Background(), &out, args...)
	return out.String(), err
}

// runTo executes the root command with ctx, writing its output to out.
func runTo(t *testing.T, ctx context.Context, out io.Writer, args ...string) error {
	t.Helper()
	root := GetRootCmd()
	resetFlags(root)

	var errOut bytes.Buffer
	root.SetOut(out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	t.Cleanup(func() {
		root.SetOut(nil)
		root.SetErr(nil)
		root.SetArgs(nil)
	})

	return root.ExecuteContext(ctx)
}

// syncBuffer is a bytes.Buffer safe to read while a command writes to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mediabus "+Version)
}

func TestProviders(t *testing.T) {
	url := startDaemon(t)

	out, err := run(t, "providers", "--bus", url, "-o", "json")
	require.NoError(t, err)

	var list ProviderList
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Equal(t, ProviderList{
		{Generation: "MediaServer2", Provider: "library", BusName: protocol.V2.BusName("library")},
		{Generation: "MediaServer1", Provider: "library", BusName: protocol.V1.BusName("library")},
	}, list)

	out, err = run(t, "providers", "--bus", url, "-g", "1")
	require.NoError(t, err)
	assert.Contains(t, out, protocol.V1.BusName("library"))
	assert.NotContains(t, out, protocol.V2.BusName("library"))
}

func TestProps(t *testing.T) {
	url := startDaemon(t)

	out, err := run(t, "props", "library", "--bus", url, "-o", "json", "--names", "DisplayName,ChildCount")
	require.NoError(t, err)

	var props map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &props))
	assert.Equal(t, "Library", props["DisplayName"])
	assert.EqualValues(t, 2, props["ChildCount"])

	out, err = run(t, "props", "library", "--bus", url)
	require.NoError(t, err)
	assert.Contains(t, out, "DisplayName")
	assert.Contains(t, out, "Library")
}

func TestPropsUnknownProvider(t *testing.T) {
	url := startDaemon(t)

	_, err := run(t, "props", "nobody", "--bus", url)
	assert.Error(t, err)
}

func TestBrowse(t *testing.T) {
	url := startDaemon(t)

	out, err := run(t, "browse", "library", "--bus", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Kind of Blue")
	assert.Contains(t, out, "Loose Track")

	out, err = run(t, "browse", "library", "--bus", url, "--max", "1", "-o", "json")
	require.NoError(t, err)
	var children []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &children))
	require.Len(t, children, 1)
	assert.Equal(t, "Kind of Blue", children[0]["DisplayName"])
}

func TestSearch(t *testing.T) {
	url := startDaemon(t)

	out, err := run(t, "search", "library", `Artist contains "miles"`, "--bus", url, "-o", "json", "--names", "DisplayName")
	require.NoError(t, err)

	var matches []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &matches))
	var names []string
	for _, m := range matches {
		names = append(names, m["DisplayName"].(string))
	}
	assert.ElementsMatch(t, []string{"So What", "Freddie Freeloader"}, names)
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	out, err := run(t, "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# mediabus configuration")

	_, err = run(t, "init", "--config", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = run(t, "init", "--config", path, "--force")
	assert.NoError(t, err)
}

func TestImport(t *testing.T) {
	dir := t.TempDir()
	fixture := filepath.Join(dir, "library.yaml")
	require.NoError(t, os.WriteFile(fixture, []byte(libraryYAML), 0o644))
	dbPath := filepath.Join(dir, "db")

	out, err := run(t, "import", fixture, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 4 objects")

	ctx := context.Background()
	src, err := badger.NewBadgerSource(ctx, badger.BadgerSourceConfig{DBPath: dbPath})
	require.NoError(t, err)
	defer src.Close()

	root, err := src.Resolve(ctx, source.RootID, nil)
	require.NoError(t, err)
	assert.Equal(t, "Library", root.Properties.DisplayName())

	children, err := src.Children(ctx, source.RootID, source.ChildrenAll, 0, 0, nil)
	require.NoError(t, err)
	require.Len(t, children, 2)
}

func TestImportRequiresTarget(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	_, err := run(t, "import", "library.yaml")
	assert.ErrorContains(t, err, "--db or --source")
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestWatchServesClientMetrics(t *testing.T) {
	url := startDaemon(t)
	port := freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var out syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- runTo(t, ctx, &out, "watch", "library", "--bus", url, "--metrics-port", fmt.Sprint(port), "-o", "json")
	}()

	scrape := func() string {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
		if err != nil {
			return ""
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return string(body)
	}
	require.Eventually(t, func() bool {
		body := scrape()
		return strings.Contains(body, `mediabus_observer_handles{provider="org.gnome.UPnP.MediaServer2.library"} 1`) &&
			strings.Contains(body, "mediabus_fanout_requests_total") &&
			strings.Contains(body, "mediabus_fanout_completions_total") &&
			strings.Contains(out.String(), `"event":"watching"`)
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}

	var first WatchEvent
	line, _, _ := strings.Cut(out.String(), "\n")
	require.NoError(t, json.Unmarshal([]byte(line), &first))
	assert.Equal(t, "watching", first.Event)
	assert.Equal(t, "library", first.Provider)
	assert.Equal(t, "Library", first.Properties["DisplayName"])
}
