package core

import (
	"context"
	"encoding/json"
)

type SessionID string

// EventHandler receives the JSON arguments of one inbound event.
// Handlers run on the channel's read goroutine and must not block on it.
type EventHandler func(args []json.RawMessage)

// Channel abstracts an event-based, bidirectional connection to one remote.
// Owned by the adapter that created it; the owner must Close() it.
type Channel interface {
	Connect(ctx context.Context) error
	Close() error
	// Emit sends one event; args are JSON-encoded.
	Emit(event string, args ...any) error
	// On registers h for event, replacing any previous handler.
	On(event string, h EventHandler)
	// Done is closed once the connection is gone.
	Done() <-chan struct{}
}

// Serializer turns a byte string into the envelope the worker layer
// expects to decode.
type Serializer interface {
	Serialize(b []byte) ([]byte, error)
}

// MessageTransport is the contract a worker expects from its transport.
// RecvMsg sends msg and returns the remote's reply; SendMsg is the raw
// fire-and-forget direction.
type MessageTransport interface {
	SendMsg(ctx context.Context, msg []byte) ([]byte, error)
	RecvMsg(ctx context.Context, msg []byte) ([]byte, error)
}
