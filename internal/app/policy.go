package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Grid/internal/core"
)

type ReplyMode string

const (
	ReplyEcho ReplyMode = "echo"
	ReplyAck  ReplyMode = "ack"
)

var ErrUnknownReplyMode = errors.New("unknown reply mode")

// CommandHandler executes one decoded command for a session. A nil reply is
// answered with the acknowledgement marker.
type CommandHandler func(ctx context.Context, sid core.SessionID, payload []byte) ([]byte, error)

func EchoHandler(_ context.Context, _ core.SessionID, payload []byte) ([]byte, error) {
	return payload, nil
}

func AckHandler(context.Context, core.SessionID, []byte) ([]byte, error) {
	return nil, nil
}

func HandlerFor(mode ReplyMode) (CommandHandler, error) {
	switch mode {
	case ReplyEcho, "":
		return EchoHandler, nil
	case ReplyAck:
		return AckHandler, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownReplyMode, mode)
	}
}
