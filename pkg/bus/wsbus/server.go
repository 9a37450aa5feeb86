// Package wsbus carries the bus over websockets so providers and clients in
// different processes can share one hub. Frames are XDR-encoded binary
// messages.
package wsbus

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/marmos91/mediabus/internal/logger"
	"github.com/marmos91/mediabus/internal/ratelimiter"
	"github.com/marmos91/mediabus/pkg/bus"
	"github.com/marmos91/mediabus/pkg/metrics"
)

// BusPath is the websocket endpoint served by the hub.
const BusPath = "/bus"

// ServerConfig tunes the websocket hub.
type ServerConfig struct {
	// SendQueue bounds the frames buffered per peer; a peer that falls
	// further behind is disconnected.
	SendQueue int

	// PingInterval between keepalive pings; a peer silent for two
	// intervals is disconnected.
	PingInterval time.Duration

	// WriteTimeout bounds a single websocket write.
	WriteTimeout time.Duration

	// RateLimit and RateBurst limit calls per peer per second (0 disables).
	RateLimit uint
	RateBurst uint
}

func (c *ServerConfig) applyDefaults() {
	if c.SendQueue <= 0 {
		c.SendQueue = 1024
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// Server exposes a bus.Hub over websockets.
type Server struct {
	hub      *bus.Hub
	cfg      ServerConfig
	limiter  *ratelimiter.Keyed
	metrics  metrics.BusMetrics
	upgrader websocket.Upgrader
	router   chi.Router

	mu     sync.Mutex
	server *http.Server
}

// NewServer creates a websocket front end for hub.
func NewServer(hub *bus.Hub, cfg ServerConfig, m metrics.BusMetrics) *Server {
	cfg.applyDefaults()
	if m == nil {
		m = metrics.NewNoopBusMetrics()
	}
	s := &Server{
		hub:     hub,
		cfg:     cfg,
		limiter: ratelimiter.NewKeyed(cfg.RateLimit, cfg.RateBurst),
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get(BusPath, s.handleBus)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler serving the bus endpoint.
func (s *Server) Handler() http.Handler { return s.router }

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	logger.Info("Bus listening", logger.KeyAddress, ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.hub.Close()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleBus(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Bus upgrade failed", logger.KeyAddress, r.RemoteAddr, logger.KeyError, err)
		return
	}

	p := &remotePeer{
		ws:     ws,
		send:   make(chan []byte, s.cfg.SendQueue),
		closed: make(chan struct{}),
		cfg:    s.cfg,
	}
	unique, err := s.hub.Attach(p)
	if err != nil {
		_ = ws.Close()
		return
	}
	p.unique = unique
	s.metrics.PeerConnected()
	logger.Info("Bus peer connected", logger.KeyPeer, unique, logger.KeyAddress, r.RemoteAddr)

	// Hello goes first so the peer learns its name before anything else.
	p.Deliver(&bus.Frame{Kind: bus.FrameHello, Destination: unique})

	go p.writeLoop()
	s.readLoop(p)

	s.hub.Detach(unique)
	s.limiter.Forget(unique)
	p.close()
	s.metrics.PeerDisconnected()
	logger.Info("Bus peer disconnected", logger.KeyPeer, unique)
}

func (s *Server) readLoop(p *remotePeer) {
	p.ws.SetReadLimit(8 << 20)
	_ = p.ws.SetReadDeadline(time.Now().Add(2 * s.cfg.PingInterval))
	p.ws.SetPongHandler(func(string) error {
		return p.ws.SetReadDeadline(time.Now().Add(2 * s.cfg.PingInterval))
	})

	for {
		kind, data, err := p.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Bus read failed", logger.KeyPeer, p.unique, logger.KeyError, err)
			}
			return
		}
		_ = p.ws.SetReadDeadline(time.Now().Add(2 * s.cfg.PingInterval))
		if kind != websocket.BinaryMessage {
			continue
		}

		f, err := decodeFrame(data)
		if err != nil {
			logger.Warn("Bus frame rejected", logger.KeyPeer, p.unique, logger.KeyError, err)
			s.metrics.FrameRejected()
			continue
		}
		s.metrics.FrameReceived(f.Kind.String())

		if f.Kind == bus.FrameCall && !s.limiter.Allow(p.unique) {
			s.metrics.FrameRejected()
			p.Deliver(&bus.Frame{
				Kind:        bus.FrameReply,
				ReplySerial: f.Serial,
				Destination: p.unique,
				Reply:       bus.ErrorReply(bus.ErrNameLimitsExceeded, "call rate exceeded"),
			})
			continue
		}
		s.hub.Route(p.unique, f)
	}
}

// remotePeer is the hub side of a websocket connection.
type remotePeer struct {
	ws     *websocket.Conn
	unique string
	send   chan []byte
	cfg    ServerConfig

	once   sync.Once
	closed chan struct{}
}

// Deliver queues f for the writer. A peer whose queue is full is cut off.
func (p *remotePeer) Deliver(f *bus.Frame) {
	data, err := encodeFrame(f)
	if err != nil {
		logger.Error("Bus frame encode failed", logger.KeyPeer, p.unique, logger.KeyError, err)
		return
	}
	select {
	case <-p.closed:
	case p.send <- data:
	default:
		logger.Warn("Bus peer too slow, disconnecting", logger.KeyPeer, p.unique)
		p.close()
	}
}

func (p *remotePeer) writeLoop() {
	ticker := time.NewTicker(p.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.closed:
			return
		case data := <-p.send:
			_ = p.ws.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
			if err := p.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				p.close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(p.cfg.WriteTimeout)
			if err := p.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				p.close()
				return
			}
		}
	}
}

func (p *remotePeer) close() {
	p.once.Do(func() {
		close(p.closed)
		_ = p.ws.Close()
	})
}
