package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/marmos91/mediabus/internal/logger"
	"github.com/marmos91/mediabus/pkg/property"
)

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("bus: connection closed")

// Endpoint is the Conn implementation shared by in-process and remote
// connections. Incoming frames are fed through Deliver; outgoing frames go
// through the Link.
type Endpoint struct {
	link   Link
	serial atomic.Uint32
	queue  *taskQueue
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	unique  string
	pending map[uint32]*pendingCall
	exports map[string]Handler
	subs    map[uint64]*subscription
	nextSub uint64
	closed  bool
}

type pendingCall struct {
	fn     ReplyFunc
	direct bool
	stop   func() bool
}

type subscription struct {
	match Match
	fn    func(*Signal)
}

// NewEndpoint creates a connection over link and starts its event loop.
// The unique name is assigned once the hub has accepted the connection.
func NewEndpoint(link Link) *Endpoint {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Endpoint{
		link:    link,
		queue:   newTaskQueue(),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[uint32]*pendingCall),
		exports: make(map[string]Handler),
		subs:    make(map[uint64]*subscription),
	}
	go func() {
		e.queue.run()
		close(e.done)
	}()
	return e
}

func (e *Endpoint) setUniqueName(name string) {
	e.mu.Lock()
	e.unique = name
	e.mu.Unlock()
}

// UniqueName returns the name the hub assigned.
func (e *Endpoint) UniqueName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unique
}

// Done is closed once the event loop has stopped.
func (e *Endpoint) Done() <-chan struct{} { return e.done }

// Deliver accepts a frame from the hub. It never blocks.
func (e *Endpoint) Deliver(f *Frame) {
	switch f.Kind {
	case FrameReply:
		e.resolve(f.ReplySerial, f.Reply)
	case FrameCall:
		e.queue.push(func() { e.dispatch(f) })
	case FrameSignal:
		e.queue.push(func() { e.signal(f.Signal) })
	case FrameHello:
		e.setUniqueName(f.Destination)
	}
}

// resolve completes the pending call serial with r. Replies for unknown
// serials (late, expired or already failed) are dropped.
func (e *Endpoint) resolve(serial uint32, r *Reply) {
	e.mu.Lock()
	pc, ok := e.pending[serial]
	delete(e.pending, serial)
	var stop func() bool
	if ok {
		stop = pc.stop
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	if stop != nil {
		stop()
	}
	e.complete(pc, r)
}

func (e *Endpoint) complete(pc *pendingCall, r *Reply) {
	if r == nil {
		r = &Reply{}
	}
	if pc.direct {
		pc.fn(r)
		return
	}
	if !e.queue.push(func() { pc.fn(r) }) {
		go pc.fn(r)
	}
}

func (e *Endpoint) dispatch(f *Frame) {
	msg := f.Message
	if msg == nil {
		return
	}

	var once sync.Once
	reply := func(r *Reply) {
		once.Do(func() {
			if r == nil {
				r = &Reply{}
			}
			err := e.link.Send(&Frame{
				Kind:        FrameReply,
				ReplySerial: f.Serial,
				Destination: msg.Sender,
				Reply:       r,
			})
			if err != nil {
				logger.Debug("Reply dropped", logger.KeyMethod, msg.Member, logger.KeyError, err)
			}
		})
	}

	h := e.handlerFor(msg.Path)
	if h == nil {
		reply(ErrorReply(ErrNameUnknownObject, "no object at path "+msg.Path))
		return
	}
	h.Handle(e.ctx, msg, reply)
}

// handlerFor returns the handler with the longest exported prefix of path.
func (e *Endpoint) handlerFor(path string) Handler {
	e.mu.Lock()
	defer e.mu.Unlock()

	var best string
	var h Handler
	for prefix, handler := range e.exports {
		if underPrefix(path, prefix) && len(prefix) >= len(best) {
			best, h = prefix, handler
		}
	}
	return h
}

func (e *Endpoint) signal(sig *Signal) {
	if sig == nil {
		return
	}
	e.mu.Lock()
	ids := make([]uint64, 0, len(e.subs))
	for id, sub := range e.subs {
		if sub.match.Matches(sig) {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.mu.Lock()
		sub, ok := e.subs[id]
		e.mu.Unlock()
		if ok {
			sub.fn(sig)
		}
	}
}

// Go implements Conn.
func (e *Endpoint) Go(ctx context.Context, msg *Message, fn ReplyFunc) {
	e.send(ctx, msg, &pendingCall{fn: fn})
}

// Call implements Conn.
func (e *Endpoint) Call(ctx context.Context, msg *Message) (*Reply, error) {
	ch := make(chan *Reply, 1)
	e.send(ctx, msg, &pendingCall{fn: func(r *Reply) { ch <- r }, direct: true})
	r := <-ch
	if r.Err != nil {
		return r, r.Err
	}
	return r, nil
}

func (e *Endpoint) send(ctx context.Context, msg *Message, pc *pendingCall) {
	serial := e.serial.Add(1)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.complete(pc, ErrorReply(ErrNameDisconnected, ErrClosed.Error()))
		return
	}
	e.pending[serial] = pc
	e.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		e.resolve(serial, ErrorReply(ErrNameNoReply, ctx.Err().Error()))
	})
	e.mu.Lock()
	if _, ok := e.pending[serial]; !ok {
		// Expired or failed before it could be sent.
		e.mu.Unlock()
		stop()
		return
	}
	pc.stop = stop
	e.mu.Unlock()

	err := e.link.Send(&Frame{
		Kind:        FrameCall,
		Serial:      serial,
		Destination: msg.Destination,
		Message:     msg,
	})
	if err != nil {
		e.resolve(serial, ErrorReply(ErrNameDisconnected, err.Error()))
	}
}

func (e *Endpoint) daemonCall(ctx context.Context, member string, args ...property.Value) (*Reply, error) {
	return e.Call(ctx, &Message{
		Destination: DaemonName,
		Path:        DaemonPath,
		Interface:   DaemonInterface,
		Member:      member,
		Args:        args,
	})
}

// RequestName implements Conn.
func (e *Endpoint) RequestName(ctx context.Context, name string) error {
	r, err := e.daemonCall(ctx, MethodRequestName, property.String(name))
	if err != nil {
		return err
	}
	code, _ := r.Value(0).AsUInt()
	switch code {
	case RequestNamePrimaryOwner, RequestNameAlreadyOwner:
		return nil
	default:
		return fmt.Errorf("bus name %s is already owned", name)
	}
}

// ReleaseName implements Conn.
func (e *Endpoint) ReleaseName(ctx context.Context, name string) error {
	r, err := e.daemonCall(ctx, MethodReleaseName, property.String(name))
	if err != nil {
		return err
	}
	code, _ := r.Value(0).AsUInt()
	switch code {
	case ReleaseNameReleased:
		return nil
	case ReleaseNameNotOwner:
		return fmt.Errorf("bus name %s is owned by another connection", name)
	default:
		return fmt.Errorf("bus name %s is not owned", name)
	}
}

// ListNames implements Conn.
func (e *Endpoint) ListNames(ctx context.Context) ([]string, error) {
	r, err := e.daemonCall(ctx, MethodListNames)
	if err != nil {
		return nil, err
	}
	names, _ := r.Value(0).AsStringList()
	return names, nil
}

// NameOwner implements Conn.
func (e *Endpoint) NameOwner(ctx context.Context, name string) (string, error) {
	r, err := e.daemonCall(ctx, MethodGetNameOwner, property.String(name))
	if err != nil {
		return "", err
	}
	owner, _ := r.Value(0).AsString()
	return owner, nil
}

// Export implements Conn.
func (e *Endpoint) Export(prefix string, h Handler) (func(), error) {
	if !strings.HasPrefix(prefix, "/") {
		return nil, fmt.Errorf("invalid object path %q", prefix)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if _, ok := e.exports[prefix]; ok {
		return nil, fmt.Errorf("object path %s already exported", prefix)
	}
	e.exports[prefix] = h

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.exports[prefix] == h {
			delete(e.exports, prefix)
		}
	}, nil
}

// Emit implements Conn.
func (e *Endpoint) Emit(sig *Signal) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return e.link.Send(&Frame{Kind: FrameSignal, Signal: sig})
}

// Subscribe implements Conn.
func (e *Endpoint) Subscribe(m Match, fn func(*Signal)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextSub++
	id := e.nextSub
	e.subs[id] = &subscription{match: m, fn: fn}

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Post implements Conn.
func (e *Endpoint) Post(fn func()) bool {
	return e.queue.push(fn)
}

// Close implements Conn.
func (e *Endpoint) Close() error {
	if !e.shutdown() {
		return nil
	}
	return e.link.Close()
}

// Disconnected tears the endpoint down after the link was lost.
func (e *Endpoint) Disconnected() {
	e.shutdown()
}

// shutdown fails pending calls and stops the loop once they have run. It
// reports false if the endpoint was already closed.
func (e *Endpoint) shutdown() bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.closed = true
	pending := e.pending
	e.pending = make(map[uint32]*pendingCall)
	e.exports = make(map[string]Handler)
	e.subs = make(map[uint64]*subscription)
	e.mu.Unlock()

	for _, pc := range pending {
		if pc.stop != nil {
			pc.stop()
		}
		e.complete(pc, ErrorReply(ErrNameDisconnected, ErrClosed.Error()))
	}
	e.cancel()
	e.queue.close()
	return true
}

var _ Conn = (*Endpoint)(nil)
var _ Peer = (*Endpoint)(nil)
