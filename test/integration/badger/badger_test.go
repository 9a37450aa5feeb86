//go:build integration

package badger_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/mediabus/pkg/property"
	"github.com/marmos91/mediabus/pkg/source"
	"github.com/marmos91/mediabus/pkg/source/badger"
)

// TestBadgerSource_Integration runs integration tests for the BadgerDB catalog.
//
// Prerequisites:
//   - None (BadgerDB is embedded, no external services needed)
//   - Run with: go test -tags=integration ./test/integration/badger/...
//
// These tests verify that the BadgerDB catalog:
//   - Creates its root container on first open
//   - Persists objects across restarts
//   - Updates, searches and removes subtrees
func TestBadgerSource_Integration(t *testing.T) {
	ctx := context.Background()

	// ========================================================================
	// Setup: Create temporary directory for test database
	// ========================================================================

	tempDir, err := os.MkdirTemp("", "mediabus-badger-*")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tempDir)

	dbPath := filepath.Join(tempDir, "catalog.db")
	config := badger.BadgerSourceConfig{DBPath: dbPath, RootName: "Archive", Searchable: true}

	var albumID, trackID string

	// ========================================================================
	// Test: Create source and verify the root
	// ========================================================================

	t.Run("CreateSourceAndRoot", func(t *testing.T) {
		src, err := badger.NewBadgerSource(ctx, config)
		if err != nil {
			t.Fatalf("Failed to create BadgerSource: %v", err)
		}
		defer src.Close()

		root, err := src.Resolve(ctx, source.RootID, nil)
		if err != nil {
			t.Fatalf("Failed to resolve root: %v", err)
		}
		if !root.Container {
			t.Error("Root is not a container")
		}
		if got := root.Properties.DisplayName(); got != "Archive" {
			t.Errorf("Root DisplayName = %q, want %q", got, "Archive")
		}
	})

	// ========================================================================
	// Test: Store a small hierarchy
	// ========================================================================

	t.Run("PutHierarchy", func(t *testing.T) {
		src, err := badger.NewBadgerSource(ctx, config)
		if err != nil {
			t.Fatalf("Failed to create BadgerSource: %v", err)
		}
		defer src.Close()

		albumID, err = src.Put(ctx, &source.Object{
			ParentID:   source.RootID,
			Container:  true,
			Properties: property.Table{property.DisplayName: property.String("Blue Train")},
		})
		if err != nil {
			t.Fatalf("Failed to store album: %v", err)
		}

		trackID, err = src.Put(ctx, &source.Object{
			ParentID: albumID,
			Properties: property.Table{
				property.DisplayName: property.String("Moment's Notice"),
				property.Artist:      property.String("John Coltrane"),
				property.URLs:        property.StringList([]string{"http://example.com/moments-notice.flac"}),
			},
		})
		if err != nil {
			t.Fatalf("Failed to store track: %v", err)
		}
	})

	// ========================================================================
	// Test: Verify persistence across restarts
	// ========================================================================

	t.Run("PersistenceAcrossRestart", func(t *testing.T) {
		src, err := badger.NewBadgerSource(ctx, config)
		if err != nil {
			t.Fatalf("Failed to reopen BadgerSource: %v", err)
		}
		defer src.Close()

		children, err := src.Children(ctx, source.RootID, source.ChildrenAll, 0, 0, nil)
		if err != nil {
			t.Fatalf("Failed to list root: %v", err)
		}
		if len(children) != 1 || children[0].ID != albumID {
			t.Fatalf("Root children = %v, want the album %q", children, albumID)
		}

		track, err := src.Resolve(ctx, trackID, nil)
		if err != nil {
			t.Fatalf("Failed to resolve track after restart: %v", err)
		}
		if got := track.Properties.Artist(); got != "John Coltrane" {
			t.Errorf("Artist = %q, want %q", got, "John Coltrane")
		}
		if track.ParentID != albumID {
			t.Errorf("ParentID = %q, want %q", track.ParentID, albumID)
		}
	})

	// ========================================================================
	// Test: Update and search
	// ========================================================================

	t.Run("UpdateAndSearch", func(t *testing.T) {
		src, err := badger.NewBadgerSource(ctx, config)
		if err != nil {
			t.Fatalf("Failed to create BadgerSource: %v", err)
		}
		defer src.Close()

		changed := make(chan string, 4)
		cancel := src.Watch(func(id string) { changed <- id })
		defer cancel()

		err = src.Update(ctx, trackID, property.Table{property.Genre: property.String("Hard Bop")})
		if err != nil {
			t.Fatalf("Failed to update track: %v", err)
		}
		select {
		case <-changed:
		default:
			t.Error("Update did not notify watchers")
		}

		matches, err := src.Search(ctx, source.RootID, source.MustParseQuery(`Genre = "Hard Bop"`), 0, 0, nil)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(matches) != 1 || matches[0].ID != trackID {
			t.Errorf("Search matched %v, want only %q", matches, trackID)
		}
	})

	// ========================================================================
	// Test: Remove a subtree
	// ========================================================================

	t.Run("RemoveSubtree", func(t *testing.T) {
		src, err := badger.NewBadgerSource(ctx, config)
		if err != nil {
			t.Fatalf("Failed to create BadgerSource: %v", err)
		}
		defer src.Close()

		if err := src.Remove(ctx, albumID); err != nil {
			t.Fatalf("Failed to remove album: %v", err)
		}
		if _, err := src.Resolve(ctx, trackID, nil); err == nil {
			t.Error("Track still resolves after its album was removed")
		}

		children, err := src.Children(ctx, source.RootID, source.ChildrenAll, 0, 0, nil)
		if err != nil {
			t.Fatalf("Failed to list root: %v", err)
		}
		if len(children) != 0 {
			t.Errorf("Root still has %d children", len(children))
		}
	})
}
