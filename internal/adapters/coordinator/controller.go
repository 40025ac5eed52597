// Package coordinator serves the grid side of the socket protocol: it
// identifies itself to each worker and answers its commands.
package coordinator

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Grid/internal/adapters/socketio"
	"github.com/dkeye/Grid/internal/app"
	"github.com/dkeye/Grid/internal/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type Controller struct {
	Registry    *app.Registry
	Handler     app.CommandHandler
	Identity    string
	PingPeriod  time.Duration
	PingTimeout time.Duration
	ReadLimit   int64
	// Limiter, when set, caps socket opens per remote IP.
	Limiter *app.ConnectLimiter
}

const (
	defaultPingPeriod  = 25 * time.Second
	defaultPingTimeout = 20 * time.Second
)

func NewController(reg *app.Registry, handler app.CommandHandler, identity string) *Controller {
	return &Controller{
		Registry:    reg,
		Handler:     handler,
		Identity:    identity,
		PingPeriod:  defaultPingPeriod,
		PingTimeout: defaultPingTimeout,
		ReadLimit:   1 << 20,
	}
}

func (ctl *Controller) pingPeriod() time.Duration {
	if ctl.PingPeriod <= 0 {
		return defaultPingPeriod
	}
	return ctl.PingPeriod
}

func (ctl *Controller) pingTimeout() time.Duration {
	if ctl.PingTimeout <= 0 {
		return defaultPingTimeout
	}
	return ctl.PingTimeout
}

type socketConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *socketConn) TrySend(p socketio.Packet) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- p.Encode():
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *socketConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *Controller) HandleSocket(ctx context.Context, c *gin.Context) {
	if c.Query("transport") != "websocket" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only the websocket transport is supported"})
		return
	}

	token := c.GetString("client_token")
	if ctl.Limiter != nil && !ctl.Limiter.Allow(c.ClientIP()) {
		log.Warn().Str("module", "coordinator").Str("ip", c.ClientIP()).Msg("connect rate limited")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections"})
		return
	}

	sid := core.SessionID(uuid.NewString())
	log.Info().Str("module", "coordinator").Str("sid", string(sid)).Msg("new socket connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "coordinator").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &socketConn{
		conn: ws,
		send: make(chan []byte, 32),
	}

	open, err := socketio.OpenPacket(socketio.OpenPayload{
		SID:          string(sid),
		Upgrades:     []string{},
		PingInterval: int(ctl.pingPeriod() / time.Millisecond),
		PingTimeout:  int(ctl.pingTimeout() / time.Millisecond),
		MaxPayload:   int(ctl.ReadLimit),
	})
	if err != nil {
		log.Error().Err(err).Str("module", "coordinator").Msg("open packet")
		conn.Close()
		return
	}
	_ = conn.TrySend(open)

	ctx, cancel := context.WithCancel(ctx)
	ctl.Registry.Bind(app.SessionInfo{
		SID:         sid,
		ClientToken: token,
		RemoteAddr:  c.Request.RemoteAddr,
	}, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, conn)
}

func (ctl *Controller) emit(c *socketConn, event string, args ...any) {
	p, err := socketio.EventPacket(event, args...)
	if err != nil {
		log.Error().Err(err).Str("module", "coordinator").Str("event", event).Msg("emit encode")
		return
	}
	if err := c.TrySend(p); err != nil {
		log.Warn().Err(err).Str("module", "coordinator").Str("event", event).Msg("emit dropped")
	}
}
