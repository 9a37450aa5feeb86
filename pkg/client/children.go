package client

import (
	"context"
	"time"

	"github.com/marmos91/mediabus/pkg/bus"
	"github.com/marmos91/mediabus/pkg/property"
	"github.com/marmos91/mediabus/pkg/protocol"
	"github.com/marmos91/mediabus/pkg/source"
)

// filterArg converts names to the filter argument of the listing methods,
// dropping unknown names.
func (c *Client) filterArg(path string, names []property.Name) property.Value {
	filter := make([]string, 0, len(names))
	dropped := 0
	for _, name := range names {
		if !property.Known(name) {
			dropped++
			continue
		}
		filter = append(filter, string(name))
	}
	if dropped > 0 {
		c.metrics.RecordDropped(dropped)
	}
	return property.StringList(filter)
}

// container checks that path names a container of this client's provider.
func (c *Client) container(path string) error {
	ref, err := c.object(path)
	if err != nil {
		return err
	}
	if !ref.Container {
		return protocol.InvalidPathError(path, "not a container")
	}
	return nil
}

// ListChildren returns the children of the container at path, at most maxCount
// of them (0 for no limit) starting at offset, each with names. Under
// MediaServer2 this is one ListChildren call. Under MediaServer1 the
// container's Containers and Items properties are read and each child's
// properties fetched in turn; children whose request failed are left out
// and reported through a PartialFailure error.
func (c *Client) ListChildren(ctx context.Context, path string, offset, maxCount uint32, names []property.Name) ([]property.Table, error) {
	if c.isClosed() {
		return nil, closedError(path)
	}
	if err := c.container(path); err != nil {
		return nil, err
	}

	if c.gen.SupportsListMethods() {
		r, err := c.conn.Call(ctx, c.listMessage(path, protocol.MethodListChildren, offset, maxCount, names))
		if err != nil {
			return nil, protocol.FromBusError(path, err)
		}
		return r.Tables, nil
	}

	children, err := c.GetProperties(ctx, path, []property.Name{property.Containers, property.Items})
	if err != nil {
		return nil, err
	}
	paths := source.Window(childPaths(children), offset, maxCount)

	var (
		tables            []property.Table
		succeeded, failed int
		first             error
	)
	for _, child := range paths {
		t, err := c.GetProperties(ctx, child, names)
		if err != nil {
			failed++
			if first == nil {
				first = err
			}
			continue
		}
		succeeded++
		tables = append(tables, t)
	}
	if tables == nil {
		tables = []property.Table{}
	}
	return settle(path, tables, succeeded, failed, first)
}

// ListChildrenAsync is the asynchronous form of ListChildren. Under
// MediaServer1 the per-child requests are issued concurrently and the list
// keeps the provider's child order.
func (c *Client) ListChildrenAsync(ctx context.Context, path string, offset, maxCount uint32, names []property.Name, cb Callback[[]property.Table]) *AsyncResult[[]property.Table] {
	if c.isClosed() {
		res := newAsyncResult[[]property.Table]()
		res.resolve(nil, closedError(path))
		return res
	}
	if err := c.container(path); err != nil {
		return failed(c, err, cb)
	}

	if c.gen.SupportsListMethods() {
		return c.listAsync(ctx, path, c.listMessage(path, protocol.MethodListChildren, offset, maxCount, names), cb)
	}

	list := newPendingList(c, path, cb)
	c.getPropertiesAsync(ctx, path, []property.Name{property.Containers, property.Items}, func(children property.Table, err error) {
		if err != nil {
			list.fail(err)
			return
		}
		paths := source.Window(childPaths(children), offset, maxCount)
		list.start(len(paths))
		for i, child := range paths {
			c.getPropertiesAsync(ctx, child, names, func(t property.Table, err error) {
				list.set(i, t, err)
			}, true)
		}
	}, true)
	return list.result
}

// childPaths lists containers before items, each in provider order.
func childPaths(t property.Table) []string {
	containers, _ := t[property.Containers].AsStringList()
	items, _ := t[property.Items].AsStringList()
	out := make([]string, 0, len(containers)+len(items))
	out = append(out, containers...)
	return append(out, items...)
}

// Search returns the objects below the container at path matching query.
// Only MediaServer2 providers search; MediaServer1 clients get NotSupported.
func (c *Client) Search(ctx context.Context, path, query string, offset, maxCount uint32, names []property.Name) ([]property.Table, error) {
	if c.isClosed() {
		return nil, closedError(path)
	}
	msg, err := c.searchMessage(path, query, offset, maxCount, names)
	if err != nil {
		return nil, err
	}
	r, err := c.conn.Call(ctx, msg)
	if err != nil {
		return nil, protocol.FromBusError(path, err)
	}
	return r.Tables, nil
}

// SearchAsync is the asynchronous form of Search.
func (c *Client) SearchAsync(ctx context.Context, path, query string, offset, maxCount uint32, names []property.Name, cb Callback[[]property.Table]) *AsyncResult[[]property.Table] {
	if c.isClosed() {
		res := newAsyncResult[[]property.Table]()
		res.resolve(nil, closedError(path))
		return res
	}
	msg, err := c.searchMessage(path, query, offset, maxCount, names)
	if err != nil {
		return failed(c, err, cb)
	}
	return c.listAsync(ctx, path, msg, cb)
}

func (c *Client) searchMessage(path, query string, offset, maxCount uint32, names []property.Name) (*bus.Message, error) {
	if !c.gen.SupportsSearch() {
		return nil, protocol.NotSupportedError("search", c.gen)
	}
	if err := c.container(path); err != nil {
		return nil, err
	}
	msg := c.listMessage(path, protocol.MethodSearchObjects, offset, maxCount, names)
	msg.Args = append([]property.Value{property.String(query)}, msg.Args...)
	return msg, nil
}

func (c *Client) listMessage(path, member string, offset, maxCount uint32, names []property.Name) *bus.Message {
	c.metrics.RecordCall(member)
	return &bus.Message{
		Destination: c.busName,
		Path:        path,
		Interface:   c.gen.InterfaceName(property.InterfaceContainer),
		Member:      member,
		Args: []property.Value{
			property.UInt(uint64(offset)),
			property.UInt(uint64(maxCount)),
			c.filterArg(path, names),
		},
	}
}

// listAsync sends a single listing call and completes with its tables.
func (c *Client) listAsync(ctx context.Context, path string, msg *bus.Message, cb Callback[[]property.Table]) *AsyncResult[[]property.Table] {
	start := time.Now()
	list := newPendingList(c, path, cb)
	c.conn.Go(ctx, msg, func(r *bus.Reply) {
		if r.Err != nil {
			c.metrics.RecordCompletion(c.gen.String(), outcomeError, time.Since(start))
			list.fail(protocol.FromBusError(path, r.Err))
			return
		}
		c.metrics.RecordCompletion(c.gen.String(), outcomeSuccess, time.Since(start))
		tables := r.Tables
		if tables == nil {
			tables = []property.Table{}
		}
		list.finish(tables, nil)
	})
	return list.result
}
