package server

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/marmos91/mediabus/internal/logger"
	"github.com/marmos91/mediabus/pkg/bus"
	"github.com/marmos91/mediabus/pkg/metrics"
	"github.com/marmos91/mediabus/pkg/property"
	"github.com/marmos91/mediabus/pkg/protocol"
	"github.com/marmos91/mediabus/pkg/registry"
	"github.com/marmos91/mediabus/pkg/source"
)

// DefaultRequestTimeout bounds the time a source may take to answer one
// inbound call.
const DefaultRequestTimeout = 30 * time.Second

// Config configures a Server.
type Config struct {
	// Interner selects the identifier interner used by each generation's
	// codec. Default: sequential.
	Interner protocol.InternerKind

	// RequestTimeout bounds each inbound call. Default: DefaultRequestTimeout.
	RequestTimeout time.Duration

	// Metrics records request outcomes. Nil disables metrics.
	Metrics metrics.ServerMetrics
}

// Server publishes catalog sources as providers on a bus connection.
//
// Architecture:
// Each published provider owns one well-known bus name per protocol
// generation (org.gnome.UPnP.MediaServerN.<provider>) and one exported path
// subtree per generation (/org/gnome/UPnP/MediaServerN/<provider>). Inbound
// property and listing calls are decoded through the generation's codec,
// resolved against the provider's source, and answered with exactly the
// requested properties. Source change notifications are re-emitted as
// Updated signals on the affected container's path.
//
// Lifecycle:
//  1. Creation: New() with a bus connection
//  2. Publication: Publish() per provider, or Serve() with a registry
//  3. Shutdown: Unpublish()/Close(), or cancellation of Serve()'s context
//
// Thread safety:
// Server is safe for concurrent use. Inbound calls are answered from
// goroutines so a slow source never stalls the connection's event loop.
//
// Example usage:
//
//	srv, _ := server.New(conn, server.Config{})
//	srv.Publish(ctx, &registry.Provider{Name: "jamendo"}, src)
type Server struct {
	conn    bus.Conn
	codecs  map[protocol.Generation]*protocol.Codec
	timeout time.Duration
	metrics metrics.ServerMetrics

	// mu protects published
	mu        sync.Mutex
	published map[string]*publication
}

// publication is one provider exported on the bus.
type publication struct {
	name        string
	src         source.Source
	rootName    string
	generations []protocol.Generation

	unexports   []func()
	cancelWatch func()
}

// New creates a server on conn.
func New(conn bus.Conn, config Config) (*Server, error) {
	if conn == nil {
		return nil, fmt.Errorf("server: connection is required")
	}

	codecs := make(map[protocol.Generation]*protocol.Codec, len(protocol.Generations))
	for _, gen := range protocol.Generations {
		interner, err := protocol.NewInterner(config.Interner)
		if err != nil {
			return nil, err
		}
		codecs[gen] = gen.NewCodec(interner)
	}

	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	m := config.Metrics
	if m == nil {
		m = metrics.NewNoopServerMetrics()
	}

	return &Server{
		conn:      conn,
		codecs:    codecs,
		timeout:   timeout,
		metrics:   m,
		published: make(map[string]*publication),
	}, nil
}

// Codec returns the codec used for gen.
func (s *Server) Codec(gen protocol.Generation) *protocol.Codec {
	return s.codecs[gen]
}

// Publish exports src as provider p under each of p's generations (every
// generation when p lists none). Paths are exported before the bus names are
// claimed, so the first call a client sends after seeing the name finds the
// handler. On failure everything claimed so far is released.
func (s *Server) Publish(ctx context.Context, p *registry.Provider, src source.Source) error {
	if p == nil || src == nil {
		return fmt.Errorf("server: provider and source are required")
	}
	if err := registry.ValidateProviderName(p.Name); err != nil {
		return err
	}
	gens := p.Generations
	if len(gens) == 0 {
		gens = protocol.Generations
	}

	s.mu.Lock()
	if _, exists := s.published[p.Name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("provider %q already published", p.Name)
	}
	pub := &publication{
		name:        p.Name,
		src:         src,
		rootName:    p.RootName,
		generations: slices.Clone(gens),
	}
	s.published[p.Name] = pub
	s.mu.Unlock()

	if err := s.export(ctx, pub); err != nil {
		s.mu.Lock()
		delete(s.published, p.Name)
		s.mu.Unlock()
		s.withdraw(context.WithoutCancel(ctx), pub)
		return err
	}

	pub.cancelWatch = src.Watch(func(id string) { s.emitUpdated(pub, id) })

	s.metrics.SetPublished(s.count())
	logger.Info("Provider published",
		logger.KeyProvider, p.Name,
		logger.KeyGeneration, fmt.Sprint(pub.generations))
	return nil
}

func (s *Server) export(ctx context.Context, pub *publication) error {
	for _, gen := range pub.generations {
		codec, ok := s.codecs[gen]
		if !ok {
			return fmt.Errorf("provider %q: unsupported generation %d", pub.name, int(gen))
		}
		root := codec.Encode(pub.name, source.RootID, true)
		unexport, err := s.conn.Export(root, &handler{srv: s, pub: pub, gen: gen, codec: codec})
		if err != nil {
			return fmt.Errorf("export %s: %w", root, err)
		}
		pub.unexports = append(pub.unexports, unexport)

		name := gen.BusName(pub.name)
		if err := s.conn.RequestName(ctx, name); err != nil {
			return fmt.Errorf("request name %s: %w", name, err)
		}
		logger.Debug("Bus name acquired", logger.KeyBusName, name, logger.KeyPath, root)
	}
	return nil
}

// withdraw releases the names and paths of pub. Names never claimed are
// skipped by the daemon.
func (s *Server) withdraw(ctx context.Context, pub *publication) {
	if pub.cancelWatch != nil {
		pub.cancelWatch()
	}
	for _, gen := range pub.generations {
		name := gen.BusName(pub.name)
		if err := s.conn.ReleaseName(ctx, name); err != nil {
			logger.Debug("Bus name not released", logger.KeyBusName, name, logger.KeyError, err)
		}
	}
	for _, unexport := range pub.unexports {
		unexport()
	}
}

// Unpublish withdraws provider name from the bus. Its source stays open.
func (s *Server) Unpublish(ctx context.Context, name string) error {
	s.mu.Lock()
	pub, exists := s.published[name]
	delete(s.published, name)
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("provider %q not published", name)
	}
	s.withdraw(ctx, pub)
	s.metrics.SetPublished(s.count())
	logger.Info("Provider withdrawn", logger.KeyProvider, name)
	return nil
}

// Published returns the names of published providers, sorted.
func (s *Server) Published() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.published))
	for name := range s.published {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (s *Server) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.published)
}

// PublishAll publishes every provider of reg. It stops at the first failure,
// leaving the providers published so far in place.
func (s *Server) PublishAll(ctx context.Context, reg *registry.Registry) error {
	for _, p := range reg.ListProviders() {
		src, err := reg.GetSourceForProvider(p.Name)
		if err != nil {
			return err
		}
		if err := s.Publish(ctx, p, src); err != nil {
			return err
		}
	}
	return nil
}

// Serve publishes every provider of reg and blocks until ctx is cancelled,
// then withdraws them. Returns ctx's error after a clean shutdown.
func (s *Server) Serve(ctx context.Context, reg *registry.Registry) error {
	if err := s.PublishAll(ctx, reg); err != nil {
		s.Close(context.WithoutCancel(ctx))
		return err
	}
	logger.Info("Serving providers", logger.KeyCount, s.count())

	<-ctx.Done()
	logger.Info("Shutdown signal received", logger.KeyError, ctx.Err())

	const stopTimeout = 10 * time.Second
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	s.Close(stopCtx)
	return ctx.Err()
}

// Close withdraws every published provider.
func (s *Server) Close(ctx context.Context) {
	for _, name := range s.Published() {
		if err := s.Unpublish(ctx, name); err != nil {
			logger.Debug("Unpublish skipped", logger.KeyProvider, name, logger.KeyError, err)
		}
	}
}

// emitUpdated announces a change below container id on every generation the
// provider is published under.
func (s *Server) emitUpdated(pub *publication, id string) {
	for _, gen := range pub.generations {
		path := s.codecs[gen].Encode(pub.name, id, true)
		err := s.conn.Emit(&bus.Signal{
			Path:      path,
			Interface: gen.InterfaceName(property.InterfaceContainer),
			Member:    protocol.SignalUpdated,
		})
		if err != nil {
			if !errors.Is(err, bus.ErrClosed) {
				logger.Warn("Updated signal not sent", logger.KeyPath, path, logger.KeyError, err)
			}
			continue
		}
		logger.Debug("Updated signal sent", logger.KeyProvider, pub.name, logger.KeyPath, path)
	}
	s.metrics.RecordUpdate(pub.name)
}
