package server

import (
	"context"
	"time"

	"github.com/marmos91/mediabus/internal/logger"
	"github.com/marmos91/mediabus/pkg/bus"
	"github.com/marmos91/mediabus/pkg/property"
	"github.com/marmos91/mediabus/pkg/protocol"
	"github.com/marmos91/mediabus/pkg/source"
)

// handler serves one provider's path subtree for one generation.
type handler struct {
	srv   *Server
	pub   *publication
	gen   protocol.Generation
	codec *protocol.Codec
}

// request is a decoded inbound call.
type request struct {
	msg   *bus.Message
	ref   protocol.ObjectRef
	iface *property.Interface
}

// Handle implements bus.Handler. Decoding happens on the event loop; the
// source is consulted from a goroutine and the reply sent from there.
func (h *handler) Handle(ctx context.Context, msg *bus.Message, reply bus.ReplyFunc) {
	start := time.Now()

	ref, err := h.codec.DecodeObject(msg.Path)
	if err == nil && ref.Provider != h.pub.name {
		err = protocol.InvalidPathError(msg.Path, "foreign provider")
	}
	if err != nil {
		h.finish(msg, start, reply, nil, err)
		return
	}

	serve, berr := h.route(msg, ref)
	if berr != nil {
		h.finish(msg, start, reply, &bus.Reply{Err: berr}, nil)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(ctx, h.srv.timeout)
		defer cancel()
		r, err := serve(ctx)
		h.finish(msg, start, reply, r, err)
	}()
}

// route validates the call's interface, member and arguments and returns
// the function computing the reply.
func (h *handler) route(msg *bus.Message, ref protocol.ObjectRef) (func(context.Context) (*bus.Reply, error), *bus.Error) {
	req := &request{msg: msg, ref: ref}
	containerIface := h.gen.InterfaceName(property.InterfaceContainer)

	switch msg.Interface {
	case protocol.PropertiesInterface:
		ifaceName, _ := msg.StringArg(0)
		if ifaceName != "" {
			iface, ok := h.gen.InterfaceFor(ifaceName)
			if !ok || !iface.AppliesTo(ref.Container) {
				return nil, bus.NewError(bus.ErrNameUnknownInterface, ifaceName)
			}
			req.iface = &iface
		}

		switch msg.Member {
		case protocol.MethodGet:
			raw, _ := msg.StringArg(1)
			name := property.Name(raw)
			if !h.validFor(req, name) {
				return nil, bus.NewError(bus.ErrNameUnknownProperty, raw)
			}
			return func(ctx context.Context) (*bus.Reply, error) { return h.get(ctx, req, name) }, nil

		case protocol.MethodGetAll:
			return func(ctx context.Context) (*bus.Reply, error) { return h.getAll(ctx, req) }, nil
		}

	case containerIface, "":
		if !ref.Container {
			break
		}
		switch msg.Member {
		case protocol.MethodListChildren, protocol.MethodListContainers, protocol.MethodListItems:
			if !h.gen.SupportsListMethods() {
				break
			}
			offset, maxCount, names, berr := listArgs(msg, 0)
			if berr != nil {
				return nil, berr
			}
			filter := childFilter(msg.Member)
			return func(ctx context.Context) (*bus.Reply, error) {
				return h.list(ctx, req, filter, offset, maxCount, names)
			}, nil

		case protocol.MethodSearchObjects:
			if !h.gen.SupportsSearch() {
				break
			}
			raw, ok := msg.StringArg(0)
			if !ok {
				return nil, bus.NewError(bus.ErrNameInvalidArgs, "query must be a string")
			}
			query, err := source.ParseQuery(raw)
			if err != nil {
				return nil, bus.NewError(bus.ErrNameInvalidArgs, err.Error())
			}
			offset, maxCount, names, berr := listArgs(msg, 1)
			if berr != nil {
				return nil, berr
			}
			return func(ctx context.Context) (*bus.Reply, error) {
				return h.search(ctx, req, query, offset, maxCount, names)
			}, nil
		}
	}

	return nil, bus.NewError(bus.ErrNameUnknownMethod, msg.Interface+"."+msg.Member)
}

// validFor reports whether name may be requested on req's object: it must
// belong to the requested interface (any interface when unspecified) and
// that interface must apply to the object's class.
func (h *handler) validFor(req *request, name property.Name) bool {
	if !property.IsValid(req.iface, name) {
		return false
	}
	iface, _ := property.InterfaceOf(name)
	return iface.AppliesTo(req.ref.Container)
}

func childFilter(member string) source.ChildFilter {
	switch member {
	case protocol.MethodListContainers:
		return source.ChildrenContainers
	case protocol.MethodListItems:
		return source.ChildrenItems
	default:
		return source.ChildrenAll
	}
}

// listArgs reads (offset, maxCount, filter) starting at argument first. A filter
// of ["*"] or an empty filter selects every property; unknown names are
// ignored.
func listArgs(msg *bus.Message, first int) (offset, maxCount uint32, names []property.Name, berr *bus.Error) {
	o, ok1 := msg.Arg(first).AsUInt()
	m, ok2 := msg.Arg(first + 1).AsUInt()
	if !ok1 || !ok2 {
		return 0, 0, nil, bus.NewError(bus.ErrNameInvalidArgs, "offset and max must be unsigned integers")
	}
	filter, ok := msg.Arg(first + 2).AsStringList()
	if !ok && msg.Arg(first+2).IsValid() {
		return 0, 0, nil, bus.NewError(bus.ErrNameInvalidArgs, "filter must be a string list")
	}

	if len(filter) == 0 || (len(filter) == 1 && filter[0] == "*") {
		names = property.All()
	} else {
		for _, raw := range filter {
			if property.Known(property.Name(raw)) {
				names = append(names, property.Name(raw))
			}
		}
	}
	return clampUint32(o), clampUint32(m), names, nil
}

func clampUint32(v uint64) uint32 {
	if v > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(v)
}

// finish sends the reply and records the call.
func (h *handler) finish(msg *bus.Message, start time.Time, reply bus.ReplyFunc, r *bus.Reply, err error) {
	if err != nil {
		r = &bus.Reply{Err: protocol.ToBusError(h.gen, err)}
	}
	var callErr error
	if r != nil && r.Err != nil {
		callErr = r.Err
	}

	duration := time.Since(start)
	h.srv.metrics.RecordRequest(h.pub.name, msg.Member, duration, callErr)
	if callErr != nil {
		logger.Debug("Call failed",
			logger.KeyProvider, h.pub.name,
			logger.KeyPath, msg.Path,
			logger.KeyMethod, msg.Member,
			logger.KeySender, msg.Sender,
			logger.KeyError, callErr)
	} else {
		logger.Debug("Call served",
			logger.KeyProvider, h.pub.name,
			logger.KeyPath, msg.Path,
			logger.KeyMethod, msg.Member,
			logger.KeyDuration, duration)
	}
	reply(r)
}
