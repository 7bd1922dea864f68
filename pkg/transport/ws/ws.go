// Package ws implements the voxflow transport contract over a WebSocket
// connection. Each message is one JSON envelope as defined by the transport
// package; connection lifecycle is published on the session event bus so
// collaborators can react without joining the frame chain.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxflow/voxflow/pkg/event"
	"github.com/voxflow/voxflow/pkg/frame"
	"github.com/voxflow/voxflow/pkg/transport"
)

// frameBuffer is the inbound frame channel depth.
const frameBuffer = 64

// Conn is a WebSocket-backed [transport.Transport].
type Conn struct {
	ws        *websocket.Conn
	bus       *event.Bus
	sessionID string

	frames    chan frame.Frame
	closed    chan struct{}
	closeOnce sync.Once
}

var _ transport.Transport = (*Conn)(nil)

// Option configures a connection.
type Option func(*Conn)

// WithEventBus publishes client-connected / client-disconnected events for
// sessionID on bus.
func WithEventBus(bus *event.Bus, sessionID string) Option {
	return func(c *Conn) {
		c.bus = bus
		c.sessionID = sessionID
	}
}

// Accept upgrades an incoming HTTP request to a WebSocket transport.
func Accept(w http.ResponseWriter, r *http.Request, opts ...Option) (*Conn, error) {
	sock, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("ws: accept: %w", err)
	}
	return newConn(sock, opts...), nil
}

// Dial connects to a voxflow WebSocket endpoint.
func Dial(ctx context.Context, url string, opts ...Option) (*Conn, error) {
	sock, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %q: %w", url, err)
	}
	return newConn(sock, opts...), nil
}

func newConn(sock *websocket.Conn, opts ...Option) *Conn {
	c := &Conn{
		ws:     sock,
		frames: make(chan frame.Frame, frameBuffer),
		closed: make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.publish(event.ClientConnected)
	go c.readLoop()
	return c
}

// Frames implements [transport.Transport].
func (c *Conn) Frames() <-chan frame.Frame { return c.frames }

// Send implements [transport.Transport]. Frames without a wire
// representation are dropped silently.
func (c *Conn) Send(ctx context.Context, f frame.Frame) error {
	data, err := transport.Encode(f)
	if err != nil {
		if errors.Is(err, transport.ErrUnsupportedFrame) {
			return nil
		}
		return err
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("ws: write %s: %w", f.Name(), err)
	}
	return nil
}

// Close implements [transport.Transport].
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// readLoop decodes inbound messages into frames until the peer disconnects.
func (c *Conn) readLoop() {
	defer close(c.frames)
	defer c.publish(event.ClientDisconnected)

	ctx := context.Background()
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			select {
			case <-c.closed:
			default:
				slog.Debug("ws read ended", "session_id", c.sessionID, "err", err)
			}
			return
		}
		f, err := transport.Decode(data)
		if err != nil {
			slog.Warn("ws: dropping undecodable message", "session_id", c.sessionID, "err", err)
			continue
		}
		select {
		case c.frames <- f:
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) publish(kind event.Kind) {
	if c.bus != nil {
		c.bus.Publish(event.Event{Kind: kind, SessionID: c.sessionID})
	}
}
