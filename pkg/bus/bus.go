// Package bus implements a small asynchronous remote-object bus.
//
// Connections get a unique name (":1.N") from a Hub and may own additional
// well-known names. Method calls are addressed to a bus name and an object
// path; replies carry typed values or property tables. Signals are broadcast
// to every connection and filtered by subscription. The Hub itself answers
// the daemon methods RequestName, ReleaseName, ListNames and GetNameOwner and
// announces ownership changes with NameOwnerChanged.
//
// Every Conn runs a single event loop: asynchronous reply callbacks, method
// handlers and signal subscribers all run on it, one at a time.
package bus

import (
	"context"

	"github.com/marmos91/mediabus/pkg/property"
)

// Daemon identity.
const (
	DaemonName      = "org.freedesktop.DBus"
	DaemonPath      = "/org/freedesktop/DBus"
	DaemonInterface = "org.freedesktop.DBus"

	MethodRequestName  = "RequestName"
	MethodReleaseName  = "ReleaseName"
	MethodListNames    = "ListNames"
	MethodGetNameOwner = "GetNameOwner"

	SignalNameOwnerChanged = "NameOwnerChanged"
)

// RequestName and ReleaseName reply codes.
const (
	RequestNamePrimaryOwner uint64 = 1
	RequestNameExists       uint64 = 3
	RequestNameAlreadyOwner uint64 = 4

	ReleaseNameReleased    uint64 = 1
	ReleaseNameNonExistent uint64 = 2
	ReleaseNameNotOwner    uint64 = 3
)

// Standard error names.
const (
	ErrNameFailed           = "org.freedesktop.DBus.Error.Failed"
	ErrNameServiceUnknown   = "org.freedesktop.DBus.Error.ServiceUnknown"
	ErrNameNameHasNoOwner   = "org.freedesktop.DBus.Error.NameHasNoOwner"
	ErrNameUnknownObject    = "org.freedesktop.DBus.Error.UnknownObject"
	ErrNameUnknownInterface = "org.freedesktop.DBus.Error.UnknownInterface"
	ErrNameUnknownMethod    = "org.freedesktop.DBus.Error.UnknownMethod"
	ErrNameUnknownProperty  = "org.freedesktop.DBus.Error.UnknownProperty"
	ErrNameInvalidArgs      = "org.freedesktop.DBus.Error.InvalidArgs"
	ErrNameNoReply          = "org.freedesktop.DBus.Error.NoReply"
	ErrNameDisconnected     = "org.freedesktop.DBus.Error.Disconnected"
	ErrNameLimitsExceeded   = "org.freedesktop.DBus.Error.LimitsExceeded"
)

// Error is an error reply.
type Error struct {
	Name    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// NewError builds an error reply value.
func NewError(name, message string) *Error {
	return &Error{Name: name, Message: message}
}

// Message is a method call.
type Message struct {
	// Sender is filled in by the hub with the caller's unique name.
	Sender      string
	Destination string
	Path        string
	Interface   string
	Member      string
	Args        []property.Value
}

// Arg returns the i-th argument, or an invalid value.
func (m *Message) Arg(i int) property.Value {
	if i < 0 || i >= len(m.Args) {
		return property.Value{}
	}
	return m.Args[i]
}

// StringArg returns the i-th argument as a string.
func (m *Message) StringArg(i int) (string, bool) {
	return m.Arg(i).AsString()
}

// Reply answers a Message. Exactly one of Err or the payload is meaningful.
type Reply struct {
	Values []property.Value
	Tables []property.Table
	Err    *Error
}

// ErrorReply builds a reply carrying err.
func ErrorReply(name, message string) *Reply {
	return &Reply{Err: NewError(name, message)}
}

// Value returns the i-th value of the reply.
func (r *Reply) Value(i int) property.Value {
	if r == nil || i < 0 || i >= len(r.Values) {
		return property.Value{}
	}
	return r.Values[i]
}

// Table returns the first table of the reply, or nil.
func (r *Reply) Table() property.Table {
	if r == nil || len(r.Tables) == 0 {
		return nil
	}
	return r.Tables[0]
}

// Signal is a broadcast event.
type Signal struct {
	// Sender is filled in by the hub with the emitter's unique name.
	Sender    string
	Path      string
	Interface string
	Member    string
	Args      []property.Value
}

// Match selects signals for a subscription. Empty fields match anything;
// PathPrefix matches the path itself and anything below it.
type Match struct {
	Sender     string
	Interface  string
	Member     string
	PathPrefix string
}

// Matches reports whether sig satisfies m.
func (m Match) Matches(sig *Signal) bool {
	if m.Sender != "" && m.Sender != sig.Sender {
		return false
	}
	if m.Interface != "" && m.Interface != sig.Interface {
		return false
	}
	if m.Member != "" && m.Member != sig.Member {
		return false
	}
	if m.PathPrefix != "" && !underPrefix(sig.Path, m.PathPrefix) {
		return false
	}
	return true
}

func underPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
		return false
	}
	return prefix == "/" || path[len(prefix)] == '/'
}

// ReplyFunc receives the reply to a call. It is invoked exactly once.
type ReplyFunc func(*Reply)

// Handler serves method calls for an exported path prefix. Handle runs on
// the connection's event loop and must not block; reply may be invoked later
// from any goroutine, and only its first invocation counts.
type Handler interface {
	Handle(ctx context.Context, msg *Message, reply ReplyFunc)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message, reply ReplyFunc)

func (f HandlerFunc) Handle(ctx context.Context, msg *Message, reply ReplyFunc) {
	f(ctx, msg, reply)
}

// Conn is a connection to the bus.
type Conn interface {
	// UniqueName returns the connection's unique name.
	UniqueName() string

	// RequestName claims a well-known name; it fails if another
	// connection owns it.
	RequestName(ctx context.Context, name string) error

	// ReleaseName gives up a well-known name.
	ReleaseName(ctx context.Context, name string) error

	// ListNames returns every name currently on the bus.
	ListNames(ctx context.Context) ([]string, error)

	// NameOwner returns the unique name owning name.
	NameOwner(ctx context.Context, name string) (string, error)

	// Go sends msg and returns immediately. fn runs once on the event
	// loop with the reply, a NoReply error if ctx ends first, or a
	// Disconnected error if the connection closes first.
	Go(ctx context.Context, msg *Message, fn ReplyFunc)

	// Call sends msg and blocks until the reply arrives. Error replies
	// are returned as *Error.
	Call(ctx context.Context, msg *Message) (*Reply, error)

	// Export serves calls to prefix and every path below it.
	Export(prefix string, h Handler) (unexport func(), err error)

	// Emit broadcasts sig.
	Emit(sig *Signal) error

	// Subscribe registers fn for signals matching m. fn runs on the
	// event loop.
	Subscribe(m Match, fn func(*Signal)) (cancel func())

	// Post queues fn to run on the event loop. It reports false once the
	// loop has stopped accepting work.
	Post(fn func()) bool

	// Close disconnects. Pending calls fail with Disconnected.
	Close() error
}
