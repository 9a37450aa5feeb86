// Package source defines the catalog backend a provider serves from.
//
// A Source answers three questions about a hierarchical catalog: what are
// the properties of one object, what are the children of a container, and
// which objects below a container match a query. Implementations live in
// subpackages (memory, badger, fs, s3). Sources never compute object paths;
// Path, Parent, Items and Containers are owned by the server, which knows
// the path layout.
package source

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/marmos91/mediabus/pkg/property"
)

// RootID is the identifier of a catalog's root container.
const RootID = ""

// Object is one catalog entry as a source reports it.
type Object struct {
	// ID is the source's opaque identifier. RootID names the root.
	ID string

	// ParentID is the identifier of the containing container. It is
	// meaningless for the root.
	ParentID string

	// Container is true for containers and false for items.
	Container bool

	// Properties holds whatever the source knows about the requested
	// names. Missing names are filled with defaults by the caller.
	Properties property.Table
}

// Clone returns a deep copy of o.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	out := *o
	out.Properties = o.Properties.Clone()
	return &out
}

// ChildFilter selects which children Children returns.
type ChildFilter int

const (
	ChildrenAll ChildFilter = iota
	ChildrenContainers
	ChildrenItems
)

func (f ChildFilter) String() string {
	switch f {
	case ChildrenAll:
		return "all"
	case ChildrenContainers:
		return "containers"
	case ChildrenItems:
		return "items"
	default:
		return fmt.Sprintf("ChildFilter(%d)", int(f))
	}
}

// Accepts reports whether an object of the given class passes f.
func (f ChildFilter) Accepts(container bool) bool {
	switch f {
	case ChildrenContainers:
		return container
	case ChildrenItems:
		return !container
	default:
		return true
	}
}

// Source is a catalog backend.
//
// All methods are safe for concurrent use. names lists the properties the
// caller wants; a source may return fewer (the caller fills defaults) and
// may return more (the caller filters). offset and maxCount page through
// results in the source's stable order; maxCount 0 means no limit.
type Source interface {
	// Resolve returns the object id names.
	Resolve(ctx context.Context, id string, names []property.Name) (*Object, error)

	// Children returns the children of container id that pass filter.
	Children(ctx context.Context, id string, filter ChildFilter, offset, maxCount uint32, names []property.Name) ([]*Object, error)

	// Search returns the objects below container id matching query.
	Search(ctx context.Context, id string, query *Query, offset, maxCount uint32, names []property.Name) ([]*Object, error)

	// Watch registers fn to be called with the identifier of every
	// container whose content changed. cancel stops delivery.
	Watch(fn func(id string)) (cancel func())

	// Close releases the source's resources.
	Close() error
}

// Sentinel errors returned by sources. Wrap them with %w so callers can
// match with errors.Is.
var (
	ErrNotFound     = errors.New("object not found")
	ErrNotContainer = errors.New("object is not a container")
	ErrClosed       = errors.New("source is closed")
)

// Derived lists the properties the server computes from the path layout
// and the child listing. Sources need not supply them and their values are
// ignored.
var Derived = []property.Name{
	property.Path,
	property.Parent,
	property.Items,
	property.ItemCount,
	property.Containers,
	property.ContainerCount,
}

// IsDerived reports whether name is in Derived.
func IsDerived(name property.Name) bool {
	return slices.Contains(Derived, name)
}

// Window returns the [offset, offset+maxCount) slice of items, clamped to its
// bounds. maxCount 0 means no limit.
func Window[T any](items []T, offset, maxCount uint32) []T {
	if int(offset) >= len(items) {
		return nil
	}
	items = items[offset:]
	if maxCount > 0 && int(maxCount) < len(items) {
		items = items[:maxCount]
	}
	return items
}

// Project returns a table holding only the listed names of t. A nil names
// slice keeps everything.
func Project(t property.Table, names []property.Name) property.Table {
	if names == nil {
		return t.Clone()
	}
	return t.Filter(names)
}
