package source

import (
	"context"
	"fmt"

	"github.com/marmos91/mediabus/pkg/property"
)

// Writer is a source that accepts new objects.
type Writer interface {
	// Put stores obj. An object with an empty ID under a non-root parent
	// is assigned a fresh identifier, which Put returns.
	Put(ctx context.Context, obj *Object) (id string, err error)
}

// Copy walks the catalog of src below from and stores every object in dst
// under parent, preserving the hierarchy. Identifiers are assigned by dst.
// It returns the number of objects written.
func Copy(ctx context.Context, dst Writer, src Source, from, parent string) (int, error) {
	children, err := src.Children(ctx, from, ChildrenAll, 0, 0, property.All())
	if err != nil {
		return 0, fmt.Errorf("list %q: %w", from, err)
	}

	written := 0
	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		props := child.Properties.Clone()
		for _, name := range Derived {
			delete(props, name)
		}
		obj := &Object{
			ParentID:   parent,
			Container:  child.Container,
			Properties: props,
		}
		id, err := dst.Put(ctx, obj)
		if err != nil {
			return written, fmt.Errorf("store %q: %w", child.ID, err)
		}
		written++

		if child.Container {
			n, err := Copy(ctx, dst, src, child.ID, id)
			written += n
			if err != nil {
				return written, err
			}
		}
	}
	return written, nil
}
