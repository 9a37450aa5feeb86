package client

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/mediabus/internal/logger"
	"github.com/marmos91/mediabus/pkg/bus"
	"github.com/marmos91/mediabus/pkg/property"
	"github.com/marmos91/mediabus/pkg/protocol"
)

// Completion outcomes recorded in metrics.
const (
	outcomeSuccess   = "success"
	outcomePartial   = "partial"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
)

// AsyncResult is the pending result of an asynchronous call. Finish blocks
// until the result is available.
type AsyncResult[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

func newAsyncResult[T any]() *AsyncResult[T] {
	return &AsyncResult[T]{done: make(chan struct{})}
}

// resolve stores the result. Only the first call counts.
func (r *AsyncResult[T]) resolve(value T, err error) bool {
	resolved := false
	r.once.Do(func() {
		r.value, r.err = value, err
		close(r.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the result is available.
func (r *AsyncResult[T]) Done() <-chan struct{} {
	return r.done
}

// Finish waits for the result. It returns ctx's error if ctx ends first;
// the call itself keeps running and its result stays available.
func (r *AsyncResult[T]) Finish(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Callback receives the result of an asynchronous call. It runs on the
// connection's event loop and must not block. Once the connection has
// closed it runs on a goroutine of its own.
type Callback[T any] func(T, error)

// outcome classifies a finished aggregate.
func outcome(succeeded, failed int) string {
	switch {
	case failed == 0:
		return outcomeSuccess
	case succeeded == 0:
		return outcomeError
	default:
		return outcomePartial
	}
}

// settle turns the per-part tallies of an aggregate into its result:
// everything on success, the partial value with a PartialFailure wrapping
// the first error when some parts failed, and no value with the first error
// when every part failed.
func settle[T any](path string, value T, succeeded, failed int, first error) (T, error) {
	switch {
	case failed == 0:
		return value, nil
	case succeeded == 0:
		var zero T
		return zero, first
	default:
		return value, protocol.PartialFailureError(path, first)
	}
}

// pendingRequest aggregates the replies of one property request issued as
// one call per interface partition.
//
// The counter is decremented under mu and the completion runs exactly once,
// when it reaches zero. A failed partition contributes no properties and
// does not abort its siblings. If the owning client was closed meanwhile the
// caller's callback is suppressed, but every reply is still consumed.
type pendingRequest struct {
	owner *Client
	path  string
	start time.Time

	mu        sync.Mutex
	table     property.Table
	remaining int
	succeeded int
	failed    int
	first     error
	finished  bool

	result   *AsyncResult[property.Table]
	cb       Callback[property.Table]
	internal bool
}

func newPendingRequest(owner *Client, path string, parts int, cb Callback[property.Table]) *pendingRequest {
	return &pendingRequest{
		owner:     owner,
		path:      path,
		start:     time.Now(),
		table:     property.NewTable(),
		remaining: parts,
		result:    newAsyncResult[property.Table](),
		cb:        cb,
	}
}

// message builds the call for part: Properties.Get for a single name,
// Properties.GetAll for several.
func (p *pendingRequest) message(part property.Part) *bus.Message {
	c := p.owner
	iface := c.gen.InterfaceName(part.Interface)
	msg := &bus.Message{
		Destination: c.busName,
		Path:        p.path,
		Interface:   protocol.PropertiesInterface,
		Member:      protocol.MethodGetAll,
		Args:        []property.Value{property.String(iface)},
	}
	if part.Single() {
		msg.Member = protocol.MethodGet
		msg.Args = append(msg.Args, property.String(string(part.Names[0])))
	}
	return msg
}

// issue sends one call per part. Replies are merged on the event loop.
func (p *pendingRequest) issue(ctx context.Context, parts []property.Part) {
	for _, part := range parts {
		msg := p.message(part)
		p.owner.metrics.RecordCall(msg.Member)
		p.owner.conn.Go(ctx, msg, func(r *bus.Reply) {
			p.reply(part, r)
		})
	}
}

// issueSequential sends one call per part, waiting for each reply before
// sending the next.
func (p *pendingRequest) issueSequential(ctx context.Context, parts []property.Part) {
	for _, part := range parts {
		msg := p.message(part)
		p.owner.metrics.RecordCall(msg.Member)
		r, err := p.owner.conn.Call(ctx, msg)
		if r == nil {
			r = &bus.Reply{}
		}
		if err != nil && r.Err == nil {
			r.Err = bus.NewError(bus.ErrNameFailed, err.Error())
		}
		p.reply(part, r)
	}
}

// reply merges one partition's reply and completes the request when it was
// the last one outstanding.
func (p *pendingRequest) reply(part property.Part, r *bus.Reply) {
	p.mu.Lock()
	if p.remaining <= 0 {
		p.mu.Unlock()
		logger.Warn("Reply for a completed request dropped", logger.KeyPath, p.path)
		return
	}

	if r.Err != nil {
		p.failed++
		if p.first == nil {
			p.first = protocol.FromBusError(p.path, r.Err)
		}
	} else {
		p.succeeded++
		p.merge(part, r)
	}

	p.remaining--
	last := p.remaining == 0
	p.mu.Unlock()

	if last {
		p.complete()
	}
}

// merge copies the requested names of part from r. Must hold mu.
func (p *pendingRequest) merge(part property.Part, r *bus.Reply) {
	if part.Single() {
		name := part.Names[0]
		v := r.Value(0)
		if kind, _ := property.KindOf(name); v.IsValid() && v.Kind() == kind {
			p.table[name] = v.Clone()
		}
		return
	}
	p.table.Merge(r.Table(), part.Names)
}

// complete settles the request once. Callers must have observed the counter
// reach zero.
func (p *pendingRequest) complete() {
	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		return
	}
	p.finished = true
	table, err := settle(p.path, p.table, p.succeeded, p.failed, p.first)
	result := outcome(p.succeeded, p.failed)
	p.mu.Unlock()

	c := p.owner
	if c.isClosed() {
		c.metrics.RecordCompletion(c.gen.String(), outcomeCancelled, time.Since(p.start))
		err := closedError(p.path)
		p.result.resolve(nil, err)
		if p.internal && p.cb != nil {
			p.cb(nil, err)
		}
		logger.Debug("Completion suppressed for closed client", logger.KeyPath, p.path)
		return
	}

	c.metrics.RecordCompletion(c.gen.String(), result, time.Since(p.start))
	p.result.resolve(table, err)
	if p.cb != nil {
		p.cb(table, err)
	}
}

// pendingList aggregates per-child property requests into an ordered list.
// Children whose request failed are left out of the list.
type pendingList struct {
	owner *Client
	path  string

	mu        sync.Mutex
	tables    []property.Table
	remaining int
	succeeded int
	failed    int
	first     error

	result *AsyncResult[[]property.Table]
	cb     Callback[[]property.Table]
}

func newPendingList(owner *Client, path string, cb Callback[[]property.Table]) *pendingList {
	return &pendingList{
		owner:  owner,
		path:   path,
		result: newAsyncResult[[]property.Table](),
		cb:     cb,
	}
}

// start prepares n slots. With n == 0 the list completes at once.
func (l *pendingList) start(n int) {
	l.mu.Lock()
	l.tables = make([]property.Table, n)
	l.remaining = n
	l.mu.Unlock()
	if n == 0 {
		l.finish([]property.Table{}, nil)
	}
}

// set records the result for slot i.
func (l *pendingList) set(i int, t property.Table, err error) {
	l.mu.Lock()
	if l.remaining <= 0 {
		l.mu.Unlock()
		return
	}
	if err != nil {
		l.failed++
		if l.first == nil {
			l.first = err
		}
	} else {
		l.succeeded++
		l.tables[i] = t
	}
	l.remaining--
	if l.remaining > 0 {
		l.mu.Unlock()
		return
	}

	tables := make([]property.Table, 0, len(l.tables))
	for _, t := range l.tables {
		if t != nil {
			tables = append(tables, t)
		}
	}
	value, ferr := settle(l.path, tables, l.succeeded, l.failed, l.first)
	l.mu.Unlock()

	l.finish(value, ferr)
}

// fail completes the list with err before any child was requested.
func (l *pendingList) fail(err error) {
	l.finish(nil, err)
}

func (l *pendingList) finish(tables []property.Table, err error) {
	if l.owner.isClosed() {
		l.result.resolve(nil, closedError(l.path))
		return
	}
	if l.result.resolve(tables, err) && l.cb != nil {
		l.cb(tables, err)
	}
}
