// Package memory implements an in-memory catalog source.
//
// The catalog is a mutable tree. Add, Update and Remove notify watchers so a
// provider serving the tree emits Updated signals for the affected
// containers. Nothing is persisted; use LoadFile to seed a tree from a YAML
// fixture.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/marmos91/mediabus/pkg/property"
	"github.com/marmos91/mediabus/pkg/source"
)

// MemorySourceConfig configures a MemorySource.
type MemorySourceConfig struct {
	// RootName is the DisplayName of the root container.
	RootName string

	// Searchable marks every container as searchable.
	Searchable bool
}

// MemorySource is a thread-safe in-memory catalog.
type MemorySource struct {
	mu         sync.RWMutex
	nodes      map[string]*node
	nextID     uint64
	searchable bool
	closed     bool

	watchers source.Watchers
}

type node struct {
	id        string
	parent    string
	container bool
	props     property.Table
	children  []string
}

// NewMemorySource creates a catalog holding only the root container.
func NewMemorySource(config MemorySourceConfig) *MemorySource {
	root := &node{
		id:        source.RootID,
		container: true,
		props:     property.NewTable(),
	}
	if config.RootName != "" {
		root.props[property.DisplayName] = property.String(config.RootName)
	}
	return &MemorySource{
		nodes:      map[string]*node{source.RootID: root},
		searchable: config.Searchable,
	}
}

func (s *MemorySource) lookup(id string) (*node, error) {
	if s.closed {
		return nil, source.ErrClosed
	}
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", source.ErrNotFound, id)
	}
	return n, nil
}

func (s *MemorySource) object(n *node, names []property.Name) *source.Object {
	props := n.props
	if n.container && !props.Has(property.ChildCount) {
		props = props.Clone()
		props[property.ChildCount] = property.UInt(uint64(len(n.children)))
	}
	if n.container && s.searchable && !props.Has(property.Searchable) {
		props = props.Clone()
		props[property.Searchable] = property.Bool(true)
	}
	if !props.Has(property.Type) {
		props = props.Clone()
		if n.container {
			props[property.Type] = property.String(property.TypeContainer)
		} else {
			props[property.Type] = property.String(property.TypeItem)
		}
	}
	return &source.Object{
		ID:         n.id,
		ParentID:   n.parent,
		Container:  n.container,
		Properties: source.Project(props, names),
	}
}

// Resolve implements source.Source.
func (s *MemorySource) Resolve(ctx context.Context, id string, names []property.Name) (*source.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.object(n, names), nil
}

// Children implements source.Source.
func (s *MemorySource) Children(ctx context.Context, id string, filter source.ChildFilter, offset, maxCount uint32, names []property.Name) ([]*source.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if !n.container {
		return nil, fmt.Errorf("%w: %q", source.ErrNotContainer, id)
	}

	var matched []*node
	for _, childID := range n.children {
		child := s.nodes[childID]
		if filter.Accepts(child.container) {
			matched = append(matched, child)
		}
	}

	page := source.Window(matched, offset, maxCount)
	out := make([]*source.Object, 0, len(page))
	for _, child := range page {
		out = append(out, s.object(child, names))
	}
	return out, nil
}

// Search implements source.Source. Objects are visited depth-first in
// insertion order; the container itself is not a candidate.
func (s *MemorySource) Search(ctx context.Context, id string, query *source.Query, offset, maxCount uint32, names []property.Name) ([]*source.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if !n.container {
		return nil, fmt.Errorf("%w: %q", source.ErrNotContainer, id)
	}

	var matched []*node
	var walk func(*node)
	walk = func(parent *node) {
		for _, childID := range parent.children {
			child := s.nodes[childID]
			if query.Match(s.object(child, nil).Properties) {
				matched = append(matched, child)
			}
			if child.container {
				walk(child)
			}
		}
	}
	walk(n)

	page := source.Window(matched, offset, maxCount)
	out := make([]*source.Object, 0, len(page))
	for _, child := range page {
		out = append(out, s.object(child, names))
	}
	return out, nil
}

// Watch implements source.Source.
func (s *MemorySource) Watch(fn func(id string)) func() {
	return s.watchers.Add(fn)
}

// Close implements source.Source. Later calls fail.
func (s *MemorySource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Put implements source.Writer.
func (s *MemorySource) Put(ctx context.Context, obj *source.Object) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.Add(obj.ParentID, obj)
}

// Add inserts obj under parent and returns its identifier. An empty
// obj.ID is replaced with a fresh one. Watchers are notified with parent.
func (s *MemorySource) Add(parent string, obj *source.Object) (string, error) {
	s.mu.Lock()
	p, err := s.lookup(parent)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	if !p.container {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %q", source.ErrNotContainer, parent)
	}

	id := obj.ID
	if id == "" {
		for {
			s.nextID++
			id = strconv.FormatUint(s.nextID, 10)
			if _, taken := s.nodes[id]; !taken {
				break
			}
		}
	} else if _, taken := s.nodes[id]; taken {
		s.mu.Unlock()
		return "", fmt.Errorf("object %q already exists", id)
	}

	props := obj.Properties.Clone()
	if props == nil {
		props = property.NewTable()
	}
	for _, name := range source.Derived {
		delete(props, name)
	}

	s.nodes[id] = &node{
		id:        id,
		parent:    parent,
		container: obj.Container,
		props:     props,
	}
	p.children = append(p.children, id)
	s.mu.Unlock()

	s.watchers.Notify(parent)
	return id, nil
}

// Update merges props into the object id. Watchers are notified with id
// when it is a container and with its parent otherwise.
func (s *MemorySource) Update(id string, props property.Table) error {
	s.mu.Lock()
	n, err := s.lookup(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	n.props.Merge(props, nil)
	for _, name := range source.Derived {
		delete(n.props, name)
	}
	notify := n.parent
	if n.container {
		notify = id
	}
	s.mu.Unlock()

	s.watchers.Notify(notify)
	return nil
}

// Remove deletes id and everything below it. The root cannot be removed.
// Watchers are notified with the former parent.
func (s *MemorySource) Remove(id string) error {
	if id == source.RootID {
		return fmt.Errorf("cannot remove the root container")
	}

	s.mu.Lock()
	n, err := s.lookup(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if p, ok := s.nodes[n.parent]; ok {
		p.children = slices.DeleteFunc(p.children, func(c string) bool { return c == id })
	}
	var drop func(*node)
	drop = func(n *node) {
		for _, c := range n.children {
			drop(s.nodes[c])
		}
		delete(s.nodes, n.id)
	}
	drop(n)
	parent := n.parent
	s.mu.Unlock()

	s.watchers.Notify(parent)
	return nil
}

// Len returns the number of objects, the root included.
func (s *MemorySource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

var (
	_ source.Source = (*MemorySource)(nil)
	_ source.Writer = (*MemorySource)(nil)
)
