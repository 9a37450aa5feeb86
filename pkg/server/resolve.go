package server

import (
	"context"

	"github.com/marmos91/mediabus/internal/logger"
	"github.com/marmos91/mediabus/pkg/bus"
	"github.com/marmos91/mediabus/pkg/property"
	"github.com/marmos91/mediabus/pkg/protocol"
	"github.com/marmos91/mediabus/pkg/source"
)

// fetchNames returns the names the source is asked for: the request minus
// the names the server derives itself. The result is never nil, so a
// request made only of derived names fetches no source properties.
func fetchNames(names []property.Name) []property.Name {
	out := make([]property.Name, 0, len(names))
	for _, name := range names {
		if !source.IsDerived(name) {
			out = append(out, name)
		}
	}
	return out
}

// applicable filters names down to those valid for an object of the given
// class. Names of interfaces the object does not expose are absent from
// replies, not defaulted.
func applicable(names []property.Name, container bool) []property.Name {
	out := make([]property.Name, 0, len(names))
	for _, name := range names {
		if iface, ok := property.InterfaceOf(name); ok && iface.AppliesTo(container) {
			out = append(out, name)
		}
	}
	return out
}

func (h *handler) get(ctx context.Context, req *request, name property.Name) (*bus.Reply, error) {
	t, err := h.resolve(ctx, req, []property.Name{name})
	if err != nil {
		return nil, err
	}
	v, ok := t.Get(name)
	if !ok {
		return nil, &protocol.Error{Code: protocol.ErrUnknownProperty, Message: "no value for " + string(name), Path: req.msg.Path}
	}
	return &bus.Reply{Values: []property.Value{v}}, nil
}

func (h *handler) getAll(ctx context.Context, req *request) (*bus.Reply, error) {
	var names []property.Name
	if req.iface != nil {
		names = property.PropertiesOf(*req.iface)
	} else {
		names = applicable(property.All(), req.ref.Container)
	}
	t, err := h.resolve(ctx, req, names)
	if err != nil {
		return nil, err
	}
	return &bus.Reply{Tables: []property.Table{t}}, nil
}

func (h *handler) list(ctx context.Context, req *request, filter source.ChildFilter, offset, maxCount uint32, names []property.Name) (*bus.Reply, error) {
	objs, err := h.pub.src.Children(ctx, req.ref.ID, filter, offset, maxCount, fetchNames(names))
	if err != nil {
		return nil, protocol.BackendError(req.msg.Path, err)
	}
	return h.tables(ctx, req, objs, names)
}

func (h *handler) search(ctx context.Context, req *request, query *source.Query, offset, maxCount uint32, names []property.Name) (*bus.Reply, error) {
	objs, err := h.pub.src.Search(ctx, req.ref.ID, query, offset, maxCount, fetchNames(names))
	if err != nil {
		return nil, protocol.BackendError(req.msg.Path, err)
	}
	return h.tables(ctx, req, objs, names)
}

func (h *handler) tables(ctx context.Context, req *request, objs []*source.Object, names []property.Name) (*bus.Reply, error) {
	out := make([]property.Table, 0, len(objs))
	for _, obj := range objs {
		t, err := h.table(ctx, obj, applicable(names, obj.Container))
		if err != nil {
			return nil, protocol.BackendError(req.msg.Path, err)
		}
		out = append(out, t)
	}
	return &bus.Reply{Tables: out}, nil
}

// resolve fetches req's object and builds the table of names.
func (h *handler) resolve(ctx context.Context, req *request, names []property.Name) (property.Table, error) {
	obj, err := h.pub.src.Resolve(ctx, req.ref.ID, fetchNames(names))
	if err != nil {
		return nil, protocol.BackendError(req.msg.Path, err)
	}
	if obj.Container != req.ref.Container {
		return nil, protocol.InvalidPathError(req.msg.Path, "object class changed")
	}
	t, err := h.table(ctx, obj, names)
	if err != nil {
		return nil, protocol.BackendError(req.msg.Path, err)
	}
	return t, nil
}

// table builds a table holding exactly names for obj. Identifier-derived
// names are computed through the codec; names the source omitted get their
// default.
func (h *handler) table(ctx context.Context, obj *source.Object, names []property.Name) (property.Table, error) {
	out := make(property.Table, len(names))
	var kids *childPaths

	for _, name := range names {
		switch name {
		case property.Path:
			out[name] = property.String(h.codec.Encode(h.pub.name, obj.ID, obj.Container))

		case property.Parent:
			// The root is its own parent.
			parent := obj.ParentID
			if obj.ID == source.RootID {
				parent = source.RootID
			}
			out[name] = property.String(h.codec.Encode(h.pub.name, parent, true))

		case property.Items, property.ItemCount, property.Containers, property.ContainerCount:
			if kids == nil {
				var err error
				if kids, err = h.children(ctx, obj.ID); err != nil {
					return nil, err
				}
			}
			out[name] = kids.value(name)

		default:
			out[name] = h.value(obj, name)
		}
	}
	return out, nil
}

// value returns the source's value for name, or the synthesized one.
func (h *handler) value(obj *source.Object, name property.Name) property.Value {
	switch {
	case name == property.DisplayName && obj.ID == source.RootID && h.pub.rootName != "":
		return property.String(h.pub.rootName)
	case name == property.Searchable && !h.gen.SupportsSearch():
		return property.Bool(false)
	}

	if v, ok := obj.Properties.Get(name); ok {
		if kind, _ := property.KindOf(name); v.Kind() == kind {
			return v.Clone()
		}
		logger.Warn("Source value has wrong kind",
			logger.KeyProvider, h.pub.name,
			logger.KeyID, obj.ID,
			logger.KeyNames, string(name))
	}

	if name == property.Type && obj.Container {
		return property.String(property.TypeContainer)
	}
	def, _ := property.Default(name)
	return def
}

// childPaths are the encoded paths of a container's children.
type childPaths struct {
	items      []string
	containers []string
}

func (h *handler) children(ctx context.Context, id string) (*childPaths, error) {
	objs, err := h.pub.src.Children(ctx, id, source.ChildrenAll, 0, 0, []property.Name{})
	if err != nil {
		return nil, err
	}
	out := &childPaths{items: []string{}, containers: []string{}}
	for _, obj := range objs {
		path := h.codec.Encode(h.pub.name, obj.ID, obj.Container)
		if obj.Container {
			out.containers = append(out.containers, path)
		} else {
			out.items = append(out.items, path)
		}
	}
	return out, nil
}

func (c *childPaths) value(name property.Name) property.Value {
	switch name {
	case property.Items:
		return property.StringList(c.items)
	case property.Containers:
		return property.StringList(c.containers)
	case property.ItemCount:
		return property.UInt(uint64(len(c.items)))
	default:
		return property.UInt(uint64(len(c.containers)))
	}
}
