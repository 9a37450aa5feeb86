// Package client pulls catalog objects from providers on the bus.
//
// A Client is bound to one provider and one protocol generation. Objects
// are addressed by their object paths as published by the provider; Root
// returns the provider's root container. Property requests are split by
// interface and issued as one call per interface, then merged into a single
// table; see GetPropertiesAsync.
package client

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/marmos91/mediabus/internal/logger"
	"github.com/marmos91/mediabus/pkg/bus"
	"github.com/marmos91/mediabus/pkg/metrics"
	"github.com/marmos91/mediabus/pkg/property"
	"github.com/marmos91/mediabus/pkg/protocol"
)

// ListProviders returns the names of the providers of gen currently on the
// bus, sorted.
func ListProviders(ctx context.Context, conn bus.Conn, gen protocol.Generation) ([]string, error) {
	names, err := conn.ListNames(ctx)
	if err != nil {
		return nil, protocol.FromBusError("", err)
	}
	var providers []string
	for _, name := range names {
		if provider, ok := gen.ProviderFromBusName(name); ok {
			providers = append(providers, provider)
		}
	}
	slices.Sort(providers)
	return providers, nil
}

// Client is a handle on one provider.
type Client struct {
	conn      bus.Conn
	gen       protocol.Generation
	provider  string
	busName   string
	root      string
	metrics   metrics.FanoutMetrics
	observers *ObserverRegistry

	mu          sync.Mutex
	idle        *sync.Cond
	closed      bool
	nextSub     uint64
	onUpdated   map[uint64]func(path string)
	onDestroyed map[uint64]func()

	// delivering counts the notifications in progress per goroutine.
	delivering map[uint64]int
}

// Connect returns a client for provider. It fails with ProviderNotFound when
// no connection owns the provider's bus name. A nil m disables metrics.
func Connect(ctx context.Context, conn bus.Conn, gen protocol.Generation, provider string, m metrics.FanoutMetrics) (*Client, error) {
	if !gen.Valid() {
		return nil, fmt.Errorf("invalid protocol generation %d", int(gen))
	}
	busName := gen.BusName(provider)
	if _, err := conn.NameOwner(ctx, busName); err != nil {
		return nil, protocol.FromBusError("", err)
	}
	if m == nil {
		m = metrics.NewNoopFanoutMetrics()
	}

	c := &Client{
		conn:        conn,
		gen:         gen,
		provider:    provider,
		busName:     busName,
		root:        gen.PathPrefix() + "/" + provider,
		metrics:     m,
		observers:   ObserverFor(conn),
		onUpdated:   make(map[uint64]func(string)),
		onDestroyed: make(map[uint64]func()),
		delivering:  make(map[uint64]int),
	}
	c.idle = sync.NewCond(&c.mu)
	c.observers.register(busName, c)

	logger.Debug("Client connected",
		logger.KeyProvider, provider,
		logger.KeyGeneration, gen.String(),
		logger.KeyPeer, conn.UniqueName())
	return c, nil
}

// Provider returns the provider name.
func (c *Client) Provider() string { return c.provider }

// Generation returns the protocol generation.
func (c *Client) Generation() protocol.Generation { return c.gen }

// BusName returns the provider's bus name.
func (c *Client) BusName() string { return c.busName }

// Root returns the path of the provider's root container.
func (c *Client) Root() string { return c.root }

// OnUpdated registers fn to be called with the path of every container the
// provider reports as changed.
func (c *Client) OnUpdated(fn func(path string)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.onUpdated[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.onUpdated, id)
		c.mu.Unlock()
	}
}

// OnDestroyed registers fn to be called when the provider leaves the bus.
func (c *Client) OnDestroyed(fn func()) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.onDestroyed[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.onDestroyed, id)
		c.mu.Unlock()
	}
}

// updated implements handle.
func (c *Client) updated(path string) {
	c.notify(func() []func() {
		fns := make([]func(), 0, len(c.onUpdated))
		for _, id := range sortedKeys(c.onUpdated) {
			fn := c.onUpdated[id]
			fns = append(fns, func() { fn(path) })
		}
		return fns
	})
}

// destroyed implements handle.
func (c *Client) destroyed() {
	c.notify(func() []func() {
		fns := make([]func(), 0, len(c.onDestroyed))
		for _, id := range sortedKeys(c.onDestroyed) {
			fns = append(fns, c.onDestroyed[id])
		}
		return fns
	})
}

// notify runs the callbacks collected under c.mu by collect, stopping as
// soon as the client is closed. Close waits for notify to return unless it
// is called from one of these callbacks.
func (c *Client) notify(collect func() []func()) {
	id := goid()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	fns := collect()
	c.delivering[id]++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.delivering[id]--; c.delivering[id] == 0 {
			delete(c.delivering, id)
		}
		c.idle.Broadcast()
		c.mu.Unlock()
	}()

	for i, fn := range fns {
		if i > 0 && c.isClosed() {
			return
		}
		fn()
	}
}

func sortedKeys[V any](m map[uint64]V) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Close disposes of the client. Notifications stop once Close returns:
// callbacks already running on other goroutines are waited for. A Close
// issued from within the client's own callback returns without waiting for
// that callback. Calls still in flight are drained but their callbacks are
// not invoked; their Finish reports a Cancelled error.
func (c *Client) Close() error {
	c.mu.Lock()
	first := !c.closed
	c.closed = true
	c.mu.Unlock()

	if first {
		c.observers.unregister(c.busName, c)
		logger.Debug("Client closed", logger.KeyProvider, c.provider, logger.KeyGeneration, c.gen.String())
	}
	c.waitIdle()
	return nil
}

// waitIdle blocks until no notification is running on a goroutine other
// than the caller's.
func (c *Client) waitIdle() {
	self := goid()
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.deliveringElsewhere(self) {
		c.idle.Wait()
	}
}

func (c *Client) deliveringElsewhere(self uint64) bool {
	for id := range c.delivering {
		if id != self {
			return true
		}
	}
	return false
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func closedError(path string) error {
	return &protocol.Error{Code: protocol.ErrCancelled, Message: "client closed", Path: path}
}

// object checks that path names an object of this client's provider.
func (c *Client) object(path string) (protocol.ObjectRef, error) {
	ref, err := protocol.ParsePath(c.gen.PathPrefix(), path)
	if err != nil {
		return ref, err
	}
	if ref.Provider != c.provider {
		return ref, protocol.InvalidPathError(path, "object of provider "+ref.Provider)
	}
	return ref, nil
}

// plan partitions names for the object at ref. Names of interfaces the
// object does not expose are dropped along with unknown names.
func (c *Client) plan(ref protocol.ObjectRef, path string, names []property.Name) []property.Part {
	parts := property.Partition(names).Only(func(iface property.Interface) bool {
		return iface.AppliesTo(ref.Container)
	})
	if len(parts.Dropped) > 0 {
		c.metrics.RecordDropped(len(parts.Dropped))
		logger.Warn("Property names dropped",
			logger.KeyPath, path,
			logger.KeyNames, fmt.Sprint(parts.Dropped))
	}
	nonEmpty := parts.NonEmpty()
	c.metrics.RecordRequest(c.gen.String(), len(nonEmpty))
	return nonEmpty
}

// GetProperties fetches names of the object at path, issuing the
// per-interface calls one after the other. It returns the merged table, a
// PartialFailure error alongside the partial table when some calls failed,
// or no table and the first error when all of them failed.
func (c *Client) GetProperties(ctx context.Context, path string, names []property.Name) (property.Table, error) {
	if c.isClosed() {
		return nil, closedError(path)
	}
	ref, err := c.object(path)
	if err != nil {
		return nil, err
	}
	parts := c.plan(ref, path, names)
	req := newPendingRequest(c, path, len(parts), nil)
	if len(parts) == 0 {
		req.complete()
	} else {
		req.issueSequential(ctx, parts)
	}
	return req.result.Finish(context.WithoutCancel(ctx))
}

// GetPropertiesAsync is the asynchronous form of GetProperties. The calls
// are issued concurrently and the returned result completes when the last
// reply has been merged; cb, if not nil, is then invoked once on the event
// loop. A malformed path fails at once without issuing calls.
func (c *Client) GetPropertiesAsync(ctx context.Context, path string, names []property.Name, cb Callback[property.Table]) *AsyncResult[property.Table] {
	return c.getPropertiesAsync(ctx, path, names, cb, false)
}

// getPropertiesAsync implements GetPropertiesAsync. With internal set, cb
// is invoked even after Close so that aggregates built on top of the
// request can settle.
func (c *Client) getPropertiesAsync(ctx context.Context, path string, names []property.Name, cb Callback[property.Table], internal bool) *AsyncResult[property.Table] {
	if c.isClosed() {
		res := newAsyncResult[property.Table]()
		err := closedError(path)
		res.resolve(nil, err)
		if internal && cb != nil {
			cb(nil, err)
		}
		return res
	}
	ref, err := c.object(path)
	if err != nil {
		return failed(c, err, cb)
	}
	parts := c.plan(ref, path, names)
	req := newPendingRequest(c, path, len(parts), cb)
	req.internal = internal
	if len(parts) == 0 {
		c.post(req.complete)
		return req.result
	}
	req.issue(ctx, parts)
	return req.result
}

// post runs fn on the connection's event loop, or on a goroutine of its
// own once the loop has stopped.
func (c *Client) post(fn func()) {
	if !c.conn.Post(fn) {
		go fn()
	}
}

// failed returns a result already holding err and reports it to cb on the
// event loop of c's connection, keeping callbacks off the caller's stack.
func failed[T any](c *Client, err error, cb Callback[T]) *AsyncResult[T] {
	res := newAsyncResult[T]()
	var zero T
	res.resolve(zero, err)
	if cb != nil {
		c.post(func() { cb(zero, err) })
	}
	return res
}
