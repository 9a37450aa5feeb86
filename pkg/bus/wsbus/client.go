package wsbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marmos91/mediabus/internal/logger"
	"github.com/marmos91/mediabus/pkg/bus"
)

// Dial connects to a websocket hub at url (ws://host:port/bus) and returns a
// bus connection. The connection is usable once Dial returns; its unique
// name is already assigned.
func Dial(ctx context.Context, url string) (*bus.Endpoint, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial bus %s: %w", url, err)
	}

	hello, early, err := readHello(ctx, ws)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}

	link := &clientLink{ws: ws}
	ep := bus.NewEndpoint(link)
	ep.Deliver(hello)
	for _, f := range early {
		ep.Deliver(f)
	}

	go func() {
		defer ep.Disconnected()
		for {
			kind, data, err := ws.ReadMessage()
			if err != nil {
				logger.Debug("Bus connection lost", logger.KeyPeer, hello.Destination, logger.KeyError, err)
				return
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			f, err := decodeFrame(data)
			if err != nil {
				logger.Warn("Bus frame rejected", logger.KeyPeer, hello.Destination, logger.KeyError, err)
				continue
			}
			ep.Deliver(f)
		}
	}()

	logger.Debug("Bus connected", logger.KeyAddress, url, logger.KeyPeer, hello.Destination)
	return ep, nil
}

// readHello waits for the hello frame. Signals broadcast while the hub was
// attaching the connection may arrive first; they are returned in order.
func readHello(ctx context.Context, ws *websocket.Conn) (*bus.Frame, []*bus.Frame, error) {
	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.SetReadDeadline(deadline)
	defer func() { _ = ws.SetReadDeadline(time.Time{}) }()

	var early []*bus.Frame
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			return nil, nil, fmt.Errorf("read bus hello: %w", err)
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		f, err := decodeFrame(data)
		if err != nil {
			return nil, nil, err
		}
		if f.Kind != bus.FrameHello {
			early = append(early, f)
			continue
		}
		if f.Destination == "" {
			return nil, nil, fmt.Errorf("read bus hello: empty unique name")
		}
		return f, early, nil
	}
}

// clientLink writes frames to the websocket. gorilla allows one concurrent
// writer, hence the mutex.
type clientLink struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (l *clientLink) Send(f *bus.Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return l.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (l *clientLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = l.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return l.ws.Close()
}
