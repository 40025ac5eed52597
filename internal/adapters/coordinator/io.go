package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Grid/internal/adapters/socketio"
	"github.com/dkeye/Grid/internal/core"
	"github.com/dkeye/Grid/internal/protocol"
)

func (ctl *Controller) writePump(ctx context.Context, c *socketConn) {
	ticker := time.NewTicker(ctl.pingPeriod())
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "coordinator").Msg("writePump ctx done")
			_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = c.conn.WriteMessage(websocket.TextMessage, socketio.DisconnectPacket().Encode())
			return
		case <-ticker.C:
			if err := ctl.write(c, socketio.PingPacket().Encode()); err != nil {
				log.Error().Err(err).Str("module", "coordinator").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "coordinator").Msg("writePump channel closed")
				return
			}
			if err := ctl.write(c, data); err != nil {
				log.Error().Err(err).Str("module", "coordinator").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) write(c *socketConn, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *socketConn) {
	defer func() {
		log.Info().Str("module", "coordinator").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Registry.Unbind(sid)
		cancel()
		c.Close()
	}()

	pingWait := ctl.pingPeriod() + ctl.pingTimeout()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "coordinator").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_ = c.conn.SetReadDeadline(time.Now().Add(pingWait))
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					log.Error().Err(err).Str("module", "coordinator").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			if !ctl.handleFrame(ctx, sid, c, data) {
				return
			}
		}
	}
}

func (ctl *Controller) handleFrame(ctx context.Context, sid core.SessionID, c *socketConn, data []byte) bool {
	p, err := socketio.Decode(data)
	if err != nil {
		log.Error().Err(err).Str("module", "coordinator").Msg("bad frame")
		return true
	}

	switch p.Engine {
	case socketio.EngineClose:
		return false
	case socketio.EnginePing:
		_ = c.TrySend(socketio.PongPacket())
		return true
	case socketio.EngineMessage:
	default:
		return true
	}

	switch p.Type {
	case socketio.PacketConnect:
		ctl.handleConnect(sid, c)
	case socketio.PacketDisconnect:
		return false
	case socketio.PacketEvent:
		name, args, err := p.Event()
		if err != nil {
			log.Error().Err(err).Str("module", "coordinator").Msg("bad event")
			return true
		}
		switch name {
		case protocol.EventCommand:
			ctl.handleCommand(ctx, sid, c, args)
		default:
			log.Warn().Str("module", "coordinator").Str("event", name).Msg("unknown event")
		}
	default:
		log.Warn().Str("module", "coordinator").Str("type", string(p.Type)).Msg("unsupported packet")
	}
	return true
}

func (ctl *Controller) handleConnect(sid core.SessionID, c *socketConn) {
	data, _ := json.Marshal(socketio.ConnectPayload{SID: string(sid)})
	_ = c.TrySend(socketio.ConnectPacket(data))
	ctl.emit(c, protocol.EventIdentity, ctl.Identity)
	log.Info().Str("module", "coordinator").Str("sid", string(sid)).Str("identity", ctl.Identity).Msg("announced identity")
}

func (ctl *Controller) handleCommand(ctx context.Context, sid core.SessionID, c *socketConn, args []json.RawMessage) {
	if len(args) == 0 {
		log.Error().Str("module", "coordinator").Msg("command without payload")
		return
	}
	var cmd protocol.CommandPayload
	if err := json.Unmarshal(args[0], &cmd); err != nil {
		log.Error().Err(err).Str("module", "coordinator").Msg("bad command payload")
		return
	}
	payload, err := protocol.DecodeHex(cmd.Message)
	if err != nil {
		log.Error().Err(err).Str("module", "coordinator").Msg("bad command hex")
		return
	}
	ctl.Registry.RecordCommand(sid)

	reply, err := ctl.Handler(ctx, sid, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "coordinator").Str("sid", string(sid)).Msg("command failed")
		return
	}
	if reply == nil {
		reply = []byte(protocol.AckMarker)
	}
	log.Debug().Str("module", "coordinator").Str("sid", string(sid)).Int("in", len(payload)).Int("out", len(reply)).Msg("command handled")
	ctl.emit(c, protocol.EventCommand, protocol.EncodeHex(reply))
}
