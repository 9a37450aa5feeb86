// Package fs implements a catalog source over a local directory tree.
//
// Directories are containers and regular files are items. An object's
// identifier is its slash-separated path relative to the root directory, the
// root itself being "". Hidden entries (leading dot) are skipped. MIME types
// are sniffed from file content; item URLs are file:// URLs unless a base
// URL is configured. With Watch enabled, fsnotify reports changes for every
// directory in the tree.
package fs

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gabriel-vasile/mimetype"

	"github.com/marmos91/mediabus/internal/logger"
	"github.com/marmos91/mediabus/pkg/property"
	"github.com/marmos91/mediabus/pkg/source"
)

// FSSourceConfig configures an FSSource.
type FSSourceConfig struct {
	// Root is the directory served as the catalog root.
	Root string

	// RootName is the root's DisplayName. Default: the directory's name.
	RootName string

	// BaseURL, when set, replaces file:// URLs with BaseURL/<id>.
	BaseURL string

	// Watch enables change notifications through fsnotify.
	Watch bool
}

// FSSource serves a directory tree.
type FSSource struct {
	root     string
	rootName string
	baseURL  string
	watch    bool

	watchers source.Watchers

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
	closed  bool
}

// NewFSSource creates a source for config.Root, which must be a directory.
func NewFSSource(ctx context.Context, config FSSourceConfig) (*FSSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if config.Root == "" {
		return nil, fmt.Errorf("filesystem source: root is required")
	}
	root, err := filepath.Abs(config.Root)
	if err != nil {
		return nil, fmt.Errorf("filesystem source: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("filesystem source: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("filesystem source: %s is not a directory", root)
	}

	name := config.RootName
	if name == "" {
		name = filepath.Base(root)
	}
	return &FSSource{
		root:     root,
		rootName: name,
		baseURL:  strings.TrimSuffix(config.BaseURL, "/"),
		watch:    config.Watch,
	}, nil
}

// abs maps an identifier to its file path, refusing ids that leave the root.
func (s *FSSource) abs(id string) (string, error) {
	if id == source.RootID {
		return s.root, nil
	}
	clean := path.Clean("/" + id)[1:]
	if clean != id || clean == "" || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", source.ErrNotFound, id)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// idOf maps a file path below the root to its identifier.
func (s *FSSource) idOf(p string) (string, bool) {
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if rel == "." {
		return source.RootID, true
	}
	return filepath.ToSlash(rel), true
}

func parentOf(id string) string {
	dir := path.Dir(id)
	if dir == "." {
		return source.RootID
	}
	return dir
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func wants(names []property.Name, want ...property.Name) bool {
	if names == nil {
		return true
	}
	for _, n := range want {
		if slices.Contains(names, n) {
			return true
		}
	}
	return false
}

func (s *FSSource) object(id string, info fs.FileInfo, names []property.Name) (*source.Object, error) {
	p, err := s.abs(id)
	if err != nil {
		return nil, err
	}

	props := property.NewTable()
	obj := &source.Object{ID: id, ParentID: parentOf(id), Container: info.IsDir()}

	if id == source.RootID {
		props[property.DisplayName] = property.String(s.rootName)
	} else {
		props[property.DisplayName] = property.String(info.Name())
	}

	if obj.Container {
		props[property.Type] = property.String(property.TypeContainer)
		props[property.Searchable] = property.Bool(true)
		if wants(names, property.ChildCount) {
			entries, err := s.entries(p)
			if err != nil {
				return nil, err
			}
			props[property.ChildCount] = property.UInt(uint64(len(entries)))
		}
	} else {
		props[property.Size] = property.Int(info.Size())
		props[property.Date] = property.String(info.ModTime().UTC().Format(time.RFC3339))
		props[property.URLs] = property.StringList([]string{s.url(id, p)})
		if wants(names, property.MIMEType, property.Type) {
			mime := "application/octet-stream"
			if m, err := mimetype.DetectFile(p); err == nil {
				mime, _, _ = strings.Cut(m.String(), ";")
			} else {
				logger.Debug("MIME detection failed", logger.KeyPath, p, logger.KeyError, err)
			}
			props[property.MIMEType] = property.String(mime)
			props[property.Type] = property.String(typeOf(mime))
		}
	}

	obj.Properties = source.Project(props, names)
	return obj, nil
}

// typeOf maps a MIME type to the catalog Type of an item.
func typeOf(mime string) string {
	major, _, _ := strings.Cut(mime, "/")
	switch major {
	case "audio":
		return property.TypeMusic
	case "video":
		return property.TypeVideo
	case "image":
		return property.TypeImage
	default:
		return property.TypeItem
	}
}

func (s *FSSource) url(id, p string) string {
	if s.baseURL != "" {
		segments := strings.Split(id, "/")
		for i, seg := range segments {
			segments[i] = url.PathEscape(seg)
		}
		return s.baseURL + "/" + strings.Join(segments, "/")
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String()
}

// entries lists the visible directory entries of dir in name order.
func (s *FSSource) entries(dir string) ([]fs.DirEntry, error) {
	all, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, e := range all {
		if hidden(e.Name()) || !(e.IsDir() || e.Type().IsRegular()) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *FSSource) stat(id string) (string, fs.FileInfo, error) {
	p, err := s.abs(id)
	if err != nil {
		return "", nil, err
	}
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return "", nil, fmt.Errorf("%w: %q", source.ErrNotFound, id)
	}
	if err != nil {
		return "", nil, err
	}
	return p, info, nil
}

// Resolve implements source.Source.
func (s *FSSource) Resolve(ctx context.Context, id string, names []property.Name) (*source.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, info, err := s.stat(id)
	if err != nil {
		return nil, err
	}
	return s.object(id, info, names)
}

// Children implements source.Source.
func (s *FSSource) Children(ctx context.Context, id string, filter source.ChildFilter, offset, maxCount uint32, names []property.Name) ([]*source.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, info, err := s.stat(id)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %q", source.ErrNotContainer, id)
	}

	entries, err := s.entries(p)
	if err != nil {
		return nil, err
	}
	var matched []fs.DirEntry
	for _, e := range entries {
		if filter.Accepts(e.IsDir()) {
			matched = append(matched, e)
		}
	}

	page := source.Window(matched, offset, maxCount)
	out := make([]*source.Object, 0, len(page))
	for _, e := range page {
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		childID := path.Join(id, e.Name())
		obj, err := s.object(childID, info, names)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// Search implements source.Source by walking the tree below id in lexical
// order. MIME types are only sniffed when the query reads them.
func (s *FSSource) Search(ctx context.Context, id string, query *source.Query, offset, maxCount uint32, names []property.Name) ([]*source.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, info, err := s.stat(id)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %q", source.ErrNotContainer, id)
	}

	queryNames := []property.Name{property.DisplayName}
	if query != nil {
		queryNames = append(queryNames, query.Names()...)
	}

	var matched []string
	err = filepath.WalkDir(p, func(walked string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if walked == p {
			return nil
		}
		if hidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			return nil
		}
		childID, ok := s.idOf(walked)
		if !ok {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		obj, err := s.object(childID, fi, queryNames)
		if err != nil {
			return err
		}
		if query.Match(obj.Properties) {
			matched = append(matched, childID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	page := source.Window(matched, offset, maxCount)
	out := make([]*source.Object, 0, len(page))
	for _, childID := range page {
		obj, err := s.Resolve(ctx, childID, names)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// Watch implements source.Source. The fsnotify watcher starts with the
// first subscription when watching is enabled.
func (s *FSSource) Watch(fn func(id string)) func() {
	cancel := s.watchers.Add(fn)
	if s.watch {
		if err := s.startWatcher(); err != nil {
			logger.Warn("Filesystem watcher unavailable", logger.KeyPath, s.root, logger.KeyError, err)
		}
	}
	return cancel
}

func (s *FSSource) startWatcher() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil || s.closed {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := s.addTree(w, s.root); err != nil {
		_ = w.Close()
		return err
	}
	s.watcher = w
	s.done = make(chan struct{})
	go s.watchLoop(w, s.done)
	return nil
}

// addTree watches dir and every visible directory below it.
func (s *FSSource) addTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && hidden(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}

func (s *FSSource) watchLoop(w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			s.handleEvent(w, ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("Filesystem watcher error", logger.KeyPath, s.root, logger.KeyError, err)
		}
	}
}

func (s *FSSource) handleEvent(w *fsnotify.Watcher, ev fsnotify.Event) {
	if hidden(filepath.Base(ev.Name)) {
		return
	}
	id, ok := s.idOf(ev.Name)
	if !ok || id == source.RootID {
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := s.addTree(w, ev.Name); err != nil {
				logger.Debug("Failed to watch new directory", logger.KeyPath, ev.Name, logger.KeyError, err)
			}
		}
	}
	if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Write) {
		s.watchers.Notify(parentOf(id))
	}
}

// Close stops the watcher.
func (s *FSSource) Close() error {
	s.mu.Lock()
	s.closed = true
	w, done := s.watcher, s.done
	s.watcher = nil
	s.mu.Unlock()

	if w == nil {
		return nil
	}
	err := w.Close()
	<-done
	return err
}

var _ source.Source = (*FSSource)(nil)
