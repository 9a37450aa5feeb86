package bus

// FrameKind discriminates frames exchanged between connections and the hub.
type FrameKind uint32

const (
	FrameCall FrameKind = iota + 1
	FrameReply
	FrameSignal
	// FrameHello is sent by the hub to a newly attached remote peer and
	// carries its unique name in Destination.
	FrameHello
)

func (k FrameKind) String() string {
	switch k {
	case FrameCall:
		return "call"
	case FrameReply:
		return "reply"
	case FrameSignal:
		return "signal"
	case FrameHello:
		return "hello"
	default:
		return "unknown"
	}
}

// Frame is the unit routed by the hub.
type Frame struct {
	Kind FrameKind

	// Serial numbers calls per sender; ReplySerial echoes it in replies.
	Serial      uint32
	ReplySerial uint32

	// Destination is the bus name a call targets, or the unique name a
	// reply returns to.
	Destination string

	Message *Message
	Reply   *Reply
	Signal  *Signal
}

// Peer is a hub-side connection. Deliver must not block.
type Peer interface {
	Deliver(f *Frame)
}

// Link carries frames from a connection to the hub.
type Link interface {
	Send(f *Frame) error
	Close() error
}
