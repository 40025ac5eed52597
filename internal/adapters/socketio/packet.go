// Package socketio speaks Engine.IO v4 / Socket.IO v5 over a websocket:
// enough of the protocol to exchange named JSON events on the default
// namespace with a python-socketio peer.
package socketio

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Engine.IO packet types.
const (
	EngineOpen    byte = '0'
	EngineClose   byte = '1'
	EnginePing    byte = '2'
	EnginePong    byte = '3'
	EngineMessage byte = '4'
	EngineUpgrade byte = '5'
	EngineNoop    byte = '6'
)

// Socket.IO packet types, carried inside an EngineMessage.
const (
	PacketConnect      byte = '0'
	PacketDisconnect   byte = '1'
	PacketEvent        byte = '2'
	PacketAck          byte = '3'
	PacketConnectError byte = '4'
	PacketBinaryEvent  byte = '5'
	PacketBinaryAck    byte = '6'
)

const DefaultNamespace = "/"

var (
	ErrEmptyFrame = errors.New("empty frame")
	ErrMalformed  = errors.New("malformed packet")
)

// Packet is one websocket text frame.
type Packet struct {
	Engine    byte
	Type      byte // only for EngineMessage
	Namespace string
	AckID     int // -1 when absent
	Data      []byte
}

// OpenPayload is the body of the server's EngineOpen packet.
type OpenPayload struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload,omitempty"`
}

// ConnectPayload is the body of a server PacketConnect reply.
type ConnectPayload struct {
	SID string `json:"sid"`
}

func enginePacket(t byte) Packet {
	return Packet{Engine: t, Namespace: DefaultNamespace, AckID: -1}
}

func messagePacket(t byte, data []byte) Packet {
	return Packet{Engine: EngineMessage, Type: t, Namespace: DefaultNamespace, AckID: -1, Data: data}
}

func PingPacket() Packet { return enginePacket(EnginePing) }
func PongPacket() Packet { return enginePacket(EnginePong) }

func OpenPacket(p OpenPayload) (Packet, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Packet{}, err
	}
	pkt := enginePacket(EngineOpen)
	pkt.Data = data
	return pkt, nil
}

// ConnectPacket asks for (client side, data nil) or confirms (server side)
// a namespace connection.
func ConnectPacket(data []byte) Packet { return messagePacket(PacketConnect, data) }

func DisconnectPacket() Packet { return messagePacket(PacketDisconnect, nil) }

func ConnectErrorPacket(message string) (Packet, error) {
	data, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return Packet{}, err
	}
	return messagePacket(PacketConnectError, data), nil
}

// EventPacket builds ["name", args...].
func EventPacket(name string, args ...any) (Packet, error) {
	data, err := json.Marshal(append([]any{name}, args...))
	if err != nil {
		return Packet{}, fmt.Errorf("encode event %s: %w", name, err)
	}
	return messagePacket(PacketEvent, data), nil
}

func Decode(frame []byte) (Packet, error) {
	if len(frame) == 0 {
		return Packet{}, ErrEmptyFrame
	}
	p := enginePacket(frame[0])
	rest := frame[1:]

	switch p.Engine {
	case EngineOpen, EngineClose, EnginePing, EnginePong, EngineUpgrade, EngineNoop:
		p.Data = rest
		return p, nil
	case EngineMessage:
	default:
		return Packet{}, fmt.Errorf("%w: engine type %q", ErrMalformed, p.Engine)
	}

	if len(rest) == 0 {
		return Packet{}, fmt.Errorf("%w: missing socket type", ErrMalformed)
	}
	p.Type, rest = rest[0], rest[1:]
	if p.Type < PacketConnect || p.Type > PacketBinaryAck {
		return Packet{}, fmt.Errorf("%w: socket type %q", ErrMalformed, p.Type)
	}

	if p.Type == PacketBinaryEvent || p.Type == PacketBinaryAck {
		i := bytes.IndexByte(rest, '-')
		if i < 0 {
			return Packet{}, fmt.Errorf("%w: missing attachment count", ErrMalformed)
		}
		rest = rest[i+1:]
	}

	if len(rest) > 0 && rest[0] == '/' {
		if i := bytes.IndexByte(rest, ','); i >= 0 {
			p.Namespace, rest = string(rest[:i]), rest[i+1:]
		} else {
			p.Namespace, rest = string(rest), nil
		}
	}

	n := 0
	for n < len(rest) && rest[n] >= '0' && rest[n] <= '9' {
		n++
	}
	if n > 0 {
		id, err := strconv.Atoi(string(rest[:n]))
		if err != nil {
			return Packet{}, fmt.Errorf("%w: ack id: %v", ErrMalformed, err)
		}
		p.AckID, rest = id, rest[n:]
	}

	p.Data = rest
	return p, nil
}

func (p Packet) Encode() []byte {
	buf := make([]byte, 0, len(p.Data)+8)
	buf = append(buf, p.Engine)
	if p.Engine != EngineMessage {
		return append(buf, p.Data...)
	}
	buf = append(buf, p.Type)
	if p.Namespace != "" && p.Namespace != DefaultNamespace {
		buf = append(buf, p.Namespace...)
		buf = append(buf, ',')
	}
	if p.AckID >= 0 {
		buf = strconv.AppendInt(buf, int64(p.AckID), 10)
	}
	return append(buf, p.Data...)
}

// Event splits an event packet into its name and arguments.
func (p Packet) Event() (string, []json.RawMessage, error) {
	if p.Engine != EngineMessage || p.Type != PacketEvent {
		return "", nil, fmt.Errorf("%w: not an event", ErrMalformed)
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(p.Data, &parts); err != nil {
		return "", nil, fmt.Errorf("%w: event body: %v", ErrMalformed, err)
	}
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("%w: event without name", ErrMalformed)
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("%w: event name: %v", ErrMalformed, err)
	}
	return name, parts[1:], nil
}
