package bus

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/marmos91/mediabus/internal/logger"
	"github.com/marmos91/mediabus/pkg/property"
)

// Hub routes frames between attached peers and owns the name registry.
//
// Name changes and their NameOwnerChanged broadcasts happen under sigMu, so
// every peer sees ownership signals in the order the changes were made.
type Hub struct {
	sigMu sync.Mutex

	mu     sync.RWMutex
	next   uint64
	peers  map[string]Peer     // unique name -> peer
	owners map[string]string   // well-known name -> unique name
	owned  map[string][]string // unique name -> well-known names
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		peers:  make(map[string]Peer),
		owners: make(map[string]string),
		owned:  make(map[string][]string),
	}
}

// Attach registers p and returns its unique name.
func (h *Hub) Attach(p Peer) (string, error) {
	h.sigMu.Lock()
	defer h.sigMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return "", fmt.Errorf("hub closed")
	}
	h.next++
	unique := fmt.Sprintf(":1.%d", h.next)
	h.peers[unique] = p
	h.mu.Unlock()

	logger.Debug("Peer attached", logger.KeyPeer, unique)
	h.nameOwnerChanged(unique, "", unique)
	return unique, nil
}

// Detach removes a peer and releases every name it owned.
func (h *Hub) Detach(unique string) {
	h.sigMu.Lock()
	defer h.sigMu.Unlock()

	h.mu.Lock()
	if _, ok := h.peers[unique]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.peers, unique)
	names := h.owned[unique]
	delete(h.owned, unique)
	for _, name := range names {
		delete(h.owners, name)
	}
	h.mu.Unlock()

	logger.Debug("Peer detached", logger.KeyPeer, unique, logger.KeyCount, len(names))
	for _, name := range names {
		h.nameOwnerChanged(name, unique, "")
	}
	h.nameOwnerChanged(unique, unique, "")
}

// Close detaches every peer.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	peers := make([]string, 0, len(h.peers))
	for unique := range h.peers {
		peers = append(peers, unique)
	}
	h.mu.Unlock()

	for _, unique := range peers {
		h.Detach(unique)
	}
}

// Connect attaches an in-process connection.
func (h *Hub) Connect() (*Endpoint, error) {
	link := &hubLink{hub: h}
	ep := NewEndpoint(link)
	unique, err := h.Attach(ep)
	if err != nil {
		ep.shutdown()
		return nil, err
	}
	link.unique = unique
	ep.setUniqueName(unique)
	return ep, nil
}

// Route handles a frame sent by the peer named from.
func (h *Hub) Route(from string, f *Frame) {
	switch f.Kind {
	case FrameCall:
		h.routeCall(from, f)
	case FrameReply:
		if p := h.peer(f.Destination); p != nil {
			p.Deliver(f)
		}
	case FrameSignal:
		if f.Signal == nil {
			return
		}
		sig := *f.Signal
		sig.Sender = from
		h.broadcast(&sig)
	}
}

func (h *Hub) routeCall(from string, f *Frame) {
	if f.Message == nil {
		return
	}
	msg := *f.Message
	msg.Sender = from

	if f.Destination == DaemonName {
		h.replyTo(from, f.Serial, h.daemon(from, &msg))
		return
	}

	target := h.resolve(f.Destination)
	p := h.peer(target)
	if p == nil {
		h.replyTo(from, f.Serial, ErrorReply(ErrNameServiceUnknown,
			fmt.Sprintf("the name %s was not provided by any service", f.Destination)))
		return
	}
	p.Deliver(&Frame{
		Kind:        FrameCall,
		Serial:      f.Serial,
		Destination: f.Destination,
		Message:     &msg,
	})
}

func (h *Hub) replyTo(unique string, serial uint32, r *Reply) {
	if p := h.peer(unique); p != nil {
		p.Deliver(&Frame{Kind: FrameReply, ReplySerial: serial, Destination: unique, Reply: r})
	}
}

func (h *Hub) peer(unique string) Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.peers[unique]
}

// resolve maps a bus name to the unique name that should receive calls.
func (h *Hub) resolve(name string) string {
	if strings.HasPrefix(name, ":") {
		return name
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.owners[name]
}

func (h *Hub) broadcast(sig *Signal) {
	h.mu.RLock()
	peers := make([]Peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		cp := *sig
		p.Deliver(&Frame{Kind: FrameSignal, Signal: &cp})
	}
}

// nameOwnerChanged broadcasts an ownership change. Must hold sigMu.
func (h *Hub) nameOwnerChanged(name, oldOwner, newOwner string) {
	h.broadcast(&Signal{
		Sender:    DaemonName,
		Path:      DaemonPath,
		Interface: DaemonInterface,
		Member:    SignalNameOwnerChanged,
		Args: []property.Value{
			property.String(name),
			property.String(oldOwner),
			property.String(newOwner),
		},
	})
}

// daemon answers calls addressed to the hub itself.
func (h *Hub) daemon(from string, msg *Message) *Reply {
	if msg.Interface != "" && msg.Interface != DaemonInterface {
		return ErrorReply(ErrNameUnknownInterface, msg.Interface)
	}

	switch msg.Member {
	case MethodRequestName:
		name, ok := msg.StringArg(0)
		if !ok || name == "" || strings.HasPrefix(name, ":") || name == DaemonName {
			return ErrorReply(ErrNameInvalidArgs, "invalid bus name")
		}
		return &Reply{Values: []property.Value{property.UInt(h.requestName(from, name))}}

	case MethodReleaseName:
		name, ok := msg.StringArg(0)
		if !ok {
			return ErrorReply(ErrNameInvalidArgs, "missing bus name")
		}
		return &Reply{Values: []property.Value{property.UInt(h.releaseName(from, name))}}

	case MethodListNames:
		return &Reply{Values: []property.Value{property.StringList(h.listNames())}}

	case MethodGetNameOwner:
		name, _ := msg.StringArg(0)
		if name == DaemonName {
			return &Reply{Values: []property.Value{property.String(DaemonName)}}
		}
		owner := h.resolve(name)
		if owner == "" || h.peer(owner) == nil {
			return ErrorReply(ErrNameNameHasNoOwner, "could not get owner of name "+name)
		}
		return &Reply{Values: []property.Value{property.String(owner)}}

	default:
		return ErrorReply(ErrNameUnknownMethod, msg.Member)
	}
}

func (h *Hub) requestName(from, name string) uint64 {
	h.sigMu.Lock()
	defer h.sigMu.Unlock()

	h.mu.Lock()
	owner, taken := h.owners[name]
	switch {
	case taken && owner == from:
		h.mu.Unlock()
		return RequestNameAlreadyOwner
	case taken:
		h.mu.Unlock()
		return RequestNameExists
	}
	h.owners[name] = from
	h.owned[from] = append(h.owned[from], name)
	h.mu.Unlock()

	logger.Debug("Name acquired", logger.KeyBusName, name, logger.KeyPeer, from)
	h.nameOwnerChanged(name, "", from)
	return RequestNamePrimaryOwner
}

func (h *Hub) releaseName(from, name string) uint64 {
	h.sigMu.Lock()
	defer h.sigMu.Unlock()

	h.mu.Lock()
	owner, taken := h.owners[name]
	switch {
	case !taken:
		h.mu.Unlock()
		return ReleaseNameNonExistent
	case owner != from:
		h.mu.Unlock()
		return ReleaseNameNotOwner
	}
	delete(h.owners, name)
	h.owned[from] = slices.DeleteFunc(h.owned[from], func(n string) bool { return n == name })
	h.mu.Unlock()

	logger.Debug("Name released", logger.KeyBusName, name, logger.KeyPeer, from)
	h.nameOwnerChanged(name, from, "")
	return ReleaseNameReleased
}

func (h *Hub) listNames() []string {
	h.mu.RLock()
	names := make([]string, 0, 1+len(h.peers)+len(h.owners))
	names = append(names, DaemonName)
	for unique := range h.peers {
		names = append(names, unique)
	}
	for name := range h.owners {
		names = append(names, name)
	}
	h.mu.RUnlock()

	slices.Sort(names[1:])
	return names
}

// hubLink is the Link of an in-process connection.
type hubLink struct {
	hub    *Hub
	unique string
}

func (l *hubLink) Send(f *Frame) error {
	l.hub.Route(l.unique, f)
	return nil
}

func (l *hubLink) Close() error {
	l.hub.Detach(l.unique)
	return nil
}
