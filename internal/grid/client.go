// Package grid implements the worker-side transport for an OpenGrid mesh:
// synchronous request/reply over an event channel to one coordinator.
package grid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Grid/internal/core"
	"github.com/dkeye/Grid/internal/domain"
	"github.com/dkeye/Grid/internal/protocol"
)

// DefaultIdentityWait bounds how long Connect waits for the identity event.
const DefaultIdentityWait = 5 * time.Second

var (
	ErrUnauthorized    = errors.New("grid: app is not an OpenGrid app")
	ErrNotImplemented  = errors.New("grid: raw send is not implemented")
	ErrRequestInFlight = errors.New("grid: a request is already waiting for its reply")
	ErrDisconnected    = errors.New("grid: channel closed")
	ErrIdentityTimeout = errors.New("grid: remote did not announce its identity")
)

type slotState int

const (
	slotIdle slotState = iota
	slotWaiting
	slotFilled
	// the waiter gave up; the late reply is discarded when it lands
	slotAbandoned
)

type reply struct {
	data []byte
	err  error
}

// Option configures a Client.
type Option func(*Client)

// WithWorkerID sets the worker id carried in log events.
func WithWorkerID(id domain.WorkerID) Option {
	return func(c *Client) { c.id = id }
}

// WithIdentity sets the identity string the remote must announce.
func WithIdentity(identity string) Option {
	return func(c *Client) { c.identity = identity }
}

// WithIdentityWait makes Connect wait up to d for the identity event.
// Zero leaves the check fully asynchronous.
func WithIdentityWait(d time.Duration) Option {
	return func(c *Client) { c.identityWait = d }
}

// WithLogMsgs logs every result received from the coordinator.
func WithLogMsgs(on bool) Option {
	return func(c *Client) { c.logMsgs = on }
}

// Client moves opaque command bytes between a worker and a grid coordinator.
// At most one request may be outstanding: replies carry no correlation id.
type Client struct {
	id           domain.WorkerID
	ch           core.Channel
	serde        core.Serializer
	identity     string
	identityWait time.Duration
	logMsgs      bool
	logger       zerolog.Logger

	mu      sync.Mutex
	state   slotState
	replies chan reply

	identified chan error
	authErr    error
	authFailed chan struct{}
	authOnce   sync.Once
}

var _ core.MessageTransport = (*Client)(nil)

// New wires the identity and result handlers into ch. The serializer is
// used only to build the placeholder returned for acknowledgements.
func New(ch core.Channel, s core.Serializer, opts ...Option) *Client {
	c := &Client{
		id:           domain.DefaultWorkerID,
		ch:           ch,
		serde:        s,
		identity:     protocol.ServiceIdentity,
		identityWait: DefaultIdentityWait,
		replies:      make(chan reply, 1),
		identified:   make(chan error, 1),
		authFailed:   make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = log.With().Str("module", "grid").Str("worker", string(c.id)).Logger()

	ch.On(protocol.EventIdentity, c.onIdentity)
	ch.On(protocol.EventCommand, c.onResult)
	return c
}

// ID returns the worker id this client connects as.
func (c *Client) ID() domain.WorkerID { return c.id }

// Connect opens the channel. Unless the identity wait is zero it also blocks
// until the remote has proven to be the expected service.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.ch.Connect(ctx); err != nil {
		return err
	}
	if c.identityWait <= 0 {
		return nil
	}

	timer := time.NewTimer(c.identityWait)
	defer timer.Stop()

	select {
	case err := <-c.identified:
		if err != nil {
			_ = c.ch.Close()
			return err
		}
		c.logger.Info().Str("identity", c.identity).Msg("coordinator identified")
		return nil
	case <-timer.C:
		_ = c.ch.Close()
		return ErrIdentityTimeout
	case <-ctx.Done():
		_ = c.ch.Close()
		return ctx.Err()
	case <-c.ch.Done():
		return ErrDisconnected
	}
}

// Disconnect closes the channel.
func (c *Client) Disconnect() error {
	return c.ch.Close()
}

// SendMsg is the raw send direction, which the grid protocol does not offer.
func (c *Client) SendMsg(context.Context, []byte) ([]byte, error) {
	return nil, ErrNotImplemented
}

// RecvMsg ships msg to the coordinator and blocks until its reply arrives.
// There is no timeout; only ctx can end the wait early.
func (c *Client) RecvMsg(ctx context.Context, msg []byte) ([]byte, error) {
	if err := c.authError(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.state != slotIdle {
		c.mu.Unlock()
		return nil, ErrRequestInFlight
	}
	// waiting before emit, so a fast reply always finds the slot open
	c.state = slotWaiting
	c.mu.Unlock()

	payload := protocol.CommandPayload{Message: protocol.EncodeHex(msg)}
	if err := c.ch.Emit(protocol.EventCommand, payload); err != nil {
		c.release()
		return nil, err
	}
	c.logger.Debug().Int("bytes", len(msg)).Msg("command sent")

	select {
	case r := <-c.replies:
		c.release()
		if r.err != nil {
			return nil, r.err
		}
		if protocol.IsAck(r.data) {
			// empty result for the serializer to continue
			return c.serde.Serialize([]byte{})
		}
		return r.data, nil
	case <-ctx.Done():
		c.abandon()
		return nil, ctx.Err()
	case <-c.authFailed:
		c.release()
		return nil, c.authError()
	case <-c.ch.Done():
		c.release()
		return nil, ErrDisconnected
	}
}

func (c *Client) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.replies:
	default:
	}
	c.state = slotIdle
}

func (c *Client) abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == slotFilled {
		<-c.replies
		c.state = slotIdle
		return
	}
	c.state = slotAbandoned
	c.logger.Warn().Msg("request abandoned; its reply will be discarded")
}

func (c *Client) authError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authErr
}

func (c *Client) onIdentity(args []json.RawMessage) {
	var who string
	if len(args) > 0 {
		if err := json.Unmarshal(args[0], &who); err != nil {
			who = string(args[0])
		}
	}

	var err error
	if who != c.identity {
		err = fmt.Errorf("%w: remote announced %q", ErrUnauthorized, who)
		c.authOnce.Do(func() {
			c.mu.Lock()
			c.authErr = err
			c.mu.Unlock()
			close(c.authFailed)
		})
		c.logger.Error().Err(err).Msg("identity check failed")
	}

	select {
	case c.identified <- err:
	default:
	}
}

func (c *Client) onResult(args []json.RawMessage) {
	if len(args) == 0 {
		c.logger.Warn().Msg("result event without payload")
		return
	}
	var raw string
	if err := json.Unmarshal(args[0], &raw); err != nil {
		c.logger.Warn().Err(err).Msg("result payload is not a string")
		return
	}
	if c.logMsgs {
		c.logger.Info().Str("args", raw).Msg("receiving result from client")
	}

	var r reply
	if raw == protocol.AckMarker {
		r.data = []byte(protocol.AckMarker)
	} else {
		r.data, r.err = protocol.DecodeHex(raw)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case slotWaiting:
		c.replies <- r
		c.state = slotFilled
	case slotAbandoned:
		c.state = slotIdle
		c.logger.Debug().Msg("dropped reply of abandoned request")
	case slotIdle, slotFilled:
		c.logger.Warn().Msg("unsolicited result dropped")
	}
}
