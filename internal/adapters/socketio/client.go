package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/Grid/internal/core"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeWait               = 5 * time.Second
	sendBuffer              = 32
)

var (
	ErrClosed           = errors.New("socketio: connection closed")
	ErrConnectRefused   = errors.New("socketio: namespace connect refused")
	ErrAlreadyConnected = errors.New("socketio: already connected")
	ErrNotConnected     = errors.New("socketio: not connected")
	ErrUnsupportedURL   = errors.New("socketio: unsupported url scheme")
)

// EndpointURL turns a grid address (http://host:port) into the websocket
// endpoint python-socketio serves.
func EndpointURL(addr string) (string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("parse address %q: %w", addr, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedURL, u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type Option func(*Client)

func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h }
}

// WithHandshakeTimeout bounds Connect when the caller's context has no deadline.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) { c.handshakeTimeout = d }
}

// Client is a core.Channel over one Socket.IO websocket session.
// It connects once; after Close a new Client is needed.
type Client struct {
	url              string
	header           http.Header
	dialer           *websocket.Dialer
	handshakeTimeout time.Duration
	logger           zerolog.Logger

	hmu      sync.RWMutex
	handlers map[string]core.EventHandler

	mu         sync.Mutex
	conn       *websocket.Conn
	sid        string
	pingWait   time.Duration
	cancel     context.CancelFunc
	writerDone chan struct{}
	closed     bool

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	wg        conc.WaitGroup
}

var _ core.Channel = (*Client)(nil)

func NewClient(addr string, opts ...Option) (*Client, error) {
	endpoint, err := EndpointURL(addr)
	if err != nil {
		return nil, err
	}
	c := &Client{
		url:              endpoint,
		handshakeTimeout: defaultHandshakeTimeout,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		handlers: make(map[string]core.EventHandler),
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = log.With().Str("module", "socketio").Str("url", c.url).Logger()
	return c, nil
}

func (c *Client) On(event string, h core.EventHandler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers[event] = h
}

func (c *Client) handler(event string) (core.EventHandler, bool) {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	h, ok := c.handlers[event]
	return h, ok
}

func (c *Client) Done() <-chan struct{} { return c.done }

// SID is the Socket.IO session id assigned by the server.
func (c *Client) SID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.conn != nil {
		return ErrAlreadyConnected
	}

	if _, ok := ctx.Deadline(); !ok && c.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.handshakeTimeout)
		defer cancel()
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	open, err := handshake(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return err
	}

	c.conn = conn
	c.sid = open.SID
	c.pingWait = time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond
	_ = conn.SetReadDeadline(c.readDeadline())

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.writerDone = make(chan struct{})

	c.wg.Go(func() { c.writePump(runCtx) })
	c.wg.Go(func() { c.readPump(runCtx) })

	c.logger.Info().Str("sid", open.SID).Dur("ping_wait", c.pingWait).Msg("connected")
	return nil
}

// handshake reads the Engine.IO open packet and joins the default namespace.
func handshake(ctx context.Context, conn *websocket.Conn) (OpenPayload, error) {
	var open OpenPayload
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	p, err := readPacket(conn)
	if err != nil {
		return open, fmt.Errorf("read open packet: %w", err)
	}
	if p.Engine != EngineOpen {
		return open, fmt.Errorf("%w: expected open packet, got %q", ErrMalformed, p.Engine)
	}
	if err := json.Unmarshal(p.Data, &open); err != nil {
		return open, fmt.Errorf("%w: open payload: %v", ErrMalformed, err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, ConnectPacket(nil).Encode()); err != nil {
		return open, fmt.Errorf("send connect: %w", err)
	}

	for {
		p, err := readPacket(conn)
		if err != nil {
			return open, fmt.Errorf("read connect reply: %w", err)
		}
		switch {
		case p.Engine == EnginePing:
			if err := conn.WriteMessage(websocket.TextMessage, PongPacket().Encode()); err != nil {
				return open, fmt.Errorf("send pong: %w", err)
			}
		case p.Engine == EngineMessage && p.Type == PacketConnect:
			_ = conn.SetWriteDeadline(time.Time{})
			return open, nil
		case p.Engine == EngineMessage && p.Type == PacketConnectError:
			return open, fmt.Errorf("%w: %s", ErrConnectRefused, p.Data)
		case p.Engine == EngineClose:
			return open, ErrClosed
		}
	}
}

func readPacket(conn *websocket.Conn) (Packet, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return Packet{}, err
	}
	return Decode(data)
}

func (c *Client) readDeadline() time.Time {
	if c.pingWait <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.pingWait)
}

// Emit queues one event for the write pump. It blocks while the queue is full.
func (c *Client) Emit(event string, args ...any) error {
	p, err := EventPacket(event, args...)
	if err != nil {
		return err
	}
	return c.enqueue(p.Encode())
}

func (c *Client) enqueue(frame []byte) error {
	c.mu.Lock()
	connected := c.conn != nil
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case <-c.done:
		return ErrClosed
	case c.send <- frame:
		return nil
	}
}

// Close sends a namespace disconnect, closes the socket and waits for the
// pumps. It must not be called from an event handler.
func (c *Client) Close() error {
	c.shutdown(true)
	c.wg.Wait()
	return nil
}

func (c *Client) shutdown(notify bool) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn, cancel, writerDone := c.conn, c.cancel, c.writerDone
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			<-writerDone
			deadline := time.Now().Add(time.Second)
			if notify {
				_ = conn.SetWriteDeadline(deadline)
				_ = conn.WriteMessage(websocket.TextMessage, DisconnectPacket().Encode())
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = conn.Close()
		}
		close(c.done)
		c.logger.Info().Bool("local", notify).Msg("disconnected")
	})
}
