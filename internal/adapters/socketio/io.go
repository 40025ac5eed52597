package socketio

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

func (c *Client) writePump(ctx context.Context) {
	defer close(c.writerDone)
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug().Msg("writePump ctx done")
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("writePump set deadline")
				go c.shutdown(false)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error().Err(err).Msg("writePump write error")
				go c.shutdown(false)
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.logger.Debug().Msg("readPump closing")
		c.shutdown(false)
	}()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug().Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					c.logger.Error().Err(err).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(c.readDeadline())
			if !c.handleFrame(data) {
				return
			}
		}
	}
}

// handleFrame processes one inbound frame and reports whether the session
// is still alive.
func (c *Client) handleFrame(data []byte) bool {
	p, err := Decode(data)
	if err != nil {
		c.logger.Warn().Err(err).Bytes("frame", data).Msg("bad frame")
		return true
	}

	switch p.Engine {
	case EnginePing:
		if err := c.enqueue(PongPacket().Encode()); err != nil && !errors.Is(err, ErrClosed) {
			c.logger.Error().Err(err).Msg("queue pong")
		}
	case EngineClose:
		c.logger.Info().Msg("server closed transport")
		return false
	case EngineMessage:
		return c.handleMessage(p)
	case EnginePong, EngineNoop, EngineOpen, EngineUpgrade:
	}
	return true
}

func (c *Client) handleMessage(p Packet) bool {
	if p.Namespace != DefaultNamespace {
		c.logger.Warn().Str("namespace", p.Namespace).Msg("packet for unknown namespace")
		return true
	}

	switch p.Type {
	case PacketEvent:
		name, args, err := p.Event()
		if err != nil {
			c.logger.Warn().Err(err).Msg("bad event")
			return true
		}
		h, ok := c.handler(name)
		if !ok {
			c.logger.Debug().Str("event", name).Msg("no handler for event")
			return true
		}
		h(args)
	case PacketDisconnect:
		c.logger.Info().Msg("server disconnected namespace")
		return false
	case PacketBinaryEvent, PacketBinaryAck:
		c.logger.Warn().Msg("binary packets are not supported")
	case PacketAck, PacketConnect, PacketConnectError:
	}
	return true
}
