package client

import (
	"slices"
	"sync"

	"github.com/marmos91/mediabus/internal/logger"
	"github.com/marmos91/mediabus/pkg/bus"
	"github.com/marmos91/mediabus/pkg/metrics"
	"github.com/marmos91/mediabus/pkg/property"
	"github.com/marmos91/mediabus/pkg/protocol"
)

// Notification kinds recorded in metrics.
const (
	eventUpdated   = "updated"
	eventDestroyed = "destroyed"
	eventAppeared  = "appeared"
)

// handle is a live client object tracked by an ObserverRegistry.
type handle interface {
	updated(path string)
	destroyed()
}

// ObserverRegistry routes provider presence changes and Updated signals to
// the live client handles of one bus connection.
//
// Handles are keyed by the provider's bus name, which names both the
// provider and its protocol generation. Registration is re-checked under
// the registry's lock immediately before every delivery, so a delivery
// that starts after removal skips the handle. One that started before may
// still be running; Client.Close waits for those.
type ObserverRegistry struct {
	conn    bus.Conn
	metrics metrics.ObserverMetrics

	mu      sync.Mutex
	handles map[string][]handle

	nextSub     uint64
	subscribers map[uint64]func(protocol.Generation, string)

	cancels []func()
}

var (
	observersMu sync.Mutex
	observers   = make(map[bus.Conn]*ObserverRegistry)
)

// ObserverFor returns the registry of conn, creating it and its signal
// subscriptions on first use.
func ObserverFor(conn bus.Conn) *ObserverRegistry {
	observersMu.Lock()
	defer observersMu.Unlock()

	if r, ok := observers[conn]; ok {
		return r
	}
	r := &ObserverRegistry{
		conn:        conn,
		metrics:     metrics.NewNoopObserverMetrics(),
		handles:     make(map[string][]handle),
		subscribers: make(map[uint64]func(protocol.Generation, string)),
	}
	r.cancels = append(r.cancels,
		conn.Subscribe(bus.Match{
			Sender:    bus.DaemonName,
			Interface: bus.DaemonInterface,
			Member:    bus.SignalNameOwnerChanged,
		}, r.onNameOwnerChanged),
		conn.Subscribe(bus.Match{Member: protocol.SignalUpdated}, r.onUpdated),
	)
	observers[conn] = r
	return r
}

// ForgetObserver drops the registry of conn and its subscriptions. Handles
// still registered receive nothing further.
func ForgetObserver(conn bus.Conn) {
	observersMu.Lock()
	r, ok := observers[conn]
	delete(observers, conn)
	observersMu.Unlock()

	if !ok {
		return
	}
	for _, cancel := range r.cancels {
		cancel()
	}
	r.mu.Lock()
	r.handles = make(map[string][]handle)
	r.mu.Unlock()
}

// SetMetrics replaces the registry's metrics. Nil restores the no-op.
func (r *ObserverRegistry) SetMetrics(m metrics.ObserverMetrics) {
	if m == nil {
		m = metrics.NewNoopObserverMetrics()
	}
	r.mu.Lock()
	r.metrics = m
	r.mu.Unlock()
}

// register prepends h to the handles of provider.
func (r *ObserverRegistry) register(provider string, h handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handles[provider] = append([]handle{h}, r.handles[provider]...)
	r.metrics.SetHandles(provider, len(r.handles[provider]))
}

// unregister removes h from provider by identity, deleting the provider's
// list once empty. It reports whether h was registered.
func (r *ObserverRegistry) unregister(provider string, h handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.handles[provider]
	i := slices.IndexFunc(list, func(x handle) bool { return x == h })
	if i < 0 {
		return false
	}
	list = slices.Delete(list, i, i+1)
	if len(list) == 0 {
		delete(r.handles, provider)
	} else {
		r.handles[provider] = list
	}
	r.metrics.SetHandles(provider, len(list))
	return true
}

// Handles returns the number of live handles for provider's bus name.
func (r *ObserverRegistry) Handles(busName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles[busName])
}

// Providers returns the bus names that have live handles, sorted.
func (r *ObserverRegistry) Providers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// OnNewProvider registers fn to be called once for every provider that
// appears on the bus after registration.
func (r *ObserverRegistry) OnNewProvider(fn func(gen protocol.Generation, provider string)) (cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSub++
	id := r.nextSub
	r.subscribers[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.subscribers, id)
		r.mu.Unlock()
	}
}

// deliver invokes notify on every handle registered under provider at the
// time of the call that is still registered when its turn comes.
func (r *ObserverRegistry) deliver(provider, event string, notify func(handle)) {
	r.mu.Lock()
	snapshot := slices.Clone(r.handles[provider])
	r.mu.Unlock()

	for _, h := range snapshot {
		r.mu.Lock()
		live := slices.Contains(r.handles[provider], h)
		m := r.metrics
		r.mu.Unlock()
		if !live {
			continue
		}
		notify(h)
		m.RecordDelivery(event)
	}
}

// contentChanged forwards an Updated signal for path to provider's handles.
func (r *ObserverRegistry) contentChanged(provider, path string) {
	r.deliver(provider, eventUpdated, func(h handle) { h.updated(path) })
}

// providerGone tells provider's handles that it left the bus. Handles stay
// registered until they are closed.
func (r *ObserverRegistry) providerGone(provider string) {
	r.deliver(provider, eventDestroyed, func(h handle) { h.destroyed() })
}

// providerAppeared tells every new-provider subscriber about provider.
func (r *ObserverRegistry) providerAppeared(gen protocol.Generation, provider string) {
	r.mu.Lock()
	ids := make([]uint64, 0, len(r.subscribers))
	for id := range r.subscribers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	r.mu.Unlock()

	for _, id := range ids {
		r.mu.Lock()
		fn, ok := r.subscribers[id]
		m := r.metrics
		r.mu.Unlock()
		if !ok {
			continue
		}
		fn(gen, provider)
		m.RecordDelivery(eventAppeared)
	}
}

func (r *ObserverRegistry) onNameOwnerChanged(sig *bus.Signal) {
	if len(sig.Args) < 3 {
		return
	}
	name, _ := sig.Args[0].AsString()
	oldOwner, _ := sig.Args[1].AsString()
	newOwner, _ := sig.Args[2].AsString()

	for _, gen := range protocol.Generations {
		provider, ok := gen.ProviderFromBusName(name)
		if !ok {
			continue
		}
		switch {
		case newOwner == "":
			logger.Debug("Provider left", logger.KeyBusName, name)
			r.providerGone(name)
		case oldOwner == "":
			logger.Debug("Provider appeared", logger.KeyBusName, name)
			r.providerAppeared(gen, provider)
		}
		return
	}
}

func (r *ObserverRegistry) onUpdated(sig *bus.Signal) {
	for _, gen := range protocol.Generations {
		if sig.Interface != gen.InterfaceName(property.InterfaceContainer) {
			continue
		}
		ref, err := protocol.ParsePath(gen.PathPrefix(), sig.Path)
		if err != nil {
			logger.Debug("Updated signal with foreign path ignored", logger.KeyPath, sig.Path)
			return
		}
		r.contentChanged(gen.BusName(ref.Provider), sig.Path)
		return
	}
}
