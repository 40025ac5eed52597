package grid

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Grid/internal/core"
	"github.com/dkeye/Grid/internal/protocol"
)

// MockSerializer mocks core.Serializer
type MockSerializer struct {
	mock.Mock
}

func (m *MockSerializer) Serialize(b []byte) ([]byte, error) {
	args := m.Called(b)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type emitted struct {
	event   string
	payload protocol.CommandPayload
}

// fakeChannel is an in-memory core.Channel. Handlers fire on their own
// goroutine, like a real read pump.
type fakeChannel struct {
	mu       sync.Mutex
	handlers map[string]core.EventHandler
	emits    []emitted

	identity   string
	connectErr error
	emitErr    error
	onEmit     func(f *fakeChannel, p protocol.CommandPayload)

	done      chan struct{}
	closeOnce sync.Once
}

func newFakeChannel(identity string) *fakeChannel {
	return &fakeChannel{
		handlers: make(map[string]core.EventHandler),
		identity: identity,
		done:     make(chan struct{}),
	}
}

func (f *fakeChannel) Connect(context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	if f.identity != "" {
		go f.fire(protocol.EventIdentity, f.identity)
	}
	return nil
}

func (f *fakeChannel) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeChannel) Emit(event string, args ...any) error {
	if f.emitErr != nil {
		return f.emitErr
	}
	p, _ := args[0].(protocol.CommandPayload)
	f.mu.Lock()
	f.emits = append(f.emits, emitted{event: event, payload: p})
	onEmit := f.onEmit
	f.mu.Unlock()
	if onEmit != nil {
		go onEmit(f, p)
	}
	return nil
}

func (f *fakeChannel) On(event string, h core.EventHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = h
}

func (f *fakeChannel) Done() <-chan struct{} { return f.done }

func (f *fakeChannel) fire(event string, arg any) {
	raw, _ := json.Marshal(arg)
	f.mu.Lock()
	h := f.handlers[event]
	f.mu.Unlock()
	if h != nil {
		h([]json.RawMessage{raw})
	}
}

func (f *fakeChannel) emitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.emits)
}

func replyWith(b []byte) func(*fakeChannel, protocol.CommandPayload) {
	return func(f *fakeChannel, _ protocol.CommandPayload) {
		f.fire(protocol.EventCommand, protocol.EncodeHex(b))
	}
}

func connected(t *testing.T, ch *fakeChannel, s core.Serializer, opts ...Option) *Client {
	t.Helper()
	c := New(ch, s, opts...)
	require.NoError(t, c.Connect(context.Background()))
	return c
}

func (c *Client) slot() slotState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func TestRecvMsgHelloWorld(t *testing.T) {
	ch := newFakeChannel(protocol.ServiceIdentity)
	ch.onEmit = func(f *fakeChannel, p protocol.CommandPayload) {
		assert.Equal(t, "b'68656c6c6f'", p.Message)
		f.fire(protocol.EventCommand, protocol.EncodeHex([]byte("world")))
	}
	c := connected(t, ch, &MockSerializer{})

	got, err := c.RecvMsg(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), got)
	assert.Equal(t, protocol.EventCommand, ch.emits[0].event)
	assert.Equal(t, slotIdle, c.slot())
}

func TestRecvMsgReturnsArbitraryBytes(t *testing.T) {
	want := []byte{0x00, 0x01, 0xfe, 0xff, 'A', 'C', 'K', 0x00}
	ch := newFakeChannel(protocol.ServiceIdentity)
	ch.onEmit = replyWith(want)
	c := connected(t, ch, &MockSerializer{})

	got, err := c.RecvMsg(context.Background(), []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRecvMsgAckReturnsSerializedEmpty(t *testing.T) {
	placeholder := []byte{40, 0xc4, 0x00}
	tests := []struct {
		name string
		ack  string
	}{
		{name: "hex encoded marker", ack: protocol.EncodeHex([]byte(protocol.AckMarker))},
		{name: "raw marker", ack: protocol.AckMarker},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &MockSerializer{}
			s.On("Serialize", []byte{}).Return(placeholder, nil).Once()

			ch := newFakeChannel(protocol.ServiceIdentity)
			ch.onEmit = func(f *fakeChannel, _ protocol.CommandPayload) {
				f.fire(protocol.EventCommand, tt.ack)
			}
			c := connected(t, ch, s)

			got, err := c.RecvMsg(context.Background(), []byte("cmd"))
			require.NoError(t, err)
			assert.Equal(t, placeholder, got)
			assert.NotEqual(t, []byte(protocol.AckMarker), got)
			s.AssertExpectations(t)
		})
	}
}

func TestRecvMsgAckSerializerError(t *testing.T) {
	boom := errors.New("boom")
	s := &MockSerializer{}
	s.On("Serialize", mock.Anything).Return(nil, boom)

	ch := newFakeChannel(protocol.ServiceIdentity)
	ch.onEmit = replyWith([]byte(protocol.AckMarker))
	c := connected(t, ch, s)

	_, err := c.RecvMsg(context.Background(), []byte("cmd"))
	assert.ErrorIs(t, err, boom)
}

func TestRecvMsgBadHexReply(t *testing.T) {
	ch := newFakeChannel(protocol.ServiceIdentity)
	ch.onEmit = func(f *fakeChannel, _ protocol.CommandPayload) {
		f.fire(protocol.EventCommand, "b'xyz'")
	}
	c := connected(t, ch, &MockSerializer{})

	_, err := c.RecvMsg(context.Background(), []byte("cmd"))
	assert.Error(t, err)
	assert.Equal(t, slotIdle, c.slot())
}

func TestConnectRejectsWrongIdentity(t *testing.T) {
	ch := newFakeChannel("NotOpenGrid")
	c := New(ch, &MockSerializer{})

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "NotOpenGrid")

	select {
	case <-ch.Done():
	default:
		t.Fatal("channel left open after identity mismatch")
	}

	_, err = c.RecvMsg(context.Background(), []byte("hello"))
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Zero(t, ch.emitCount())
}

func TestAsyncIdentityMismatchPoisonsSession(t *testing.T) {
	ch := newFakeChannel("NotOpenGrid")
	c := New(ch, &MockSerializer{}, WithIdentityWait(0))

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return c.authError() != nil }, time.Second, 5*time.Millisecond)

	_, err := c.RecvMsg(context.Background(), []byte("hello"))
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Zero(t, ch.emitCount())
}

func TestIdentityMismatchWakesWaiter(t *testing.T) {
	ch := newFakeChannel("")
	c := New(ch, &MockSerializer{}, WithIdentityWait(0))
	require.NoError(t, c.Connect(context.Background()))

	errc := make(chan error, 1)
	go func() {
		_, err := c.RecvMsg(context.Background(), []byte("hello"))
		errc <- err
	}()
	require.Eventually(t, func() bool { return ch.emitCount() == 1 }, time.Second, 5*time.Millisecond)

	ch.fire(protocol.EventIdentity, "Impostor")
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrUnauthorized)
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}
}

func TestCustomIdentity(t *testing.T) {
	ch := newFakeChannel("MyGrid")
	c := New(ch, &MockSerializer{}, WithIdentity("MyGrid"))
	assert.NoError(t, c.Connect(context.Background()))
}

func TestConnectIdentityTimeout(t *testing.T) {
	ch := newFakeChannel("")
	c := New(ch, &MockSerializer{}, WithIdentityWait(20*time.Millisecond))

	assert.ErrorIs(t, c.Connect(context.Background()), ErrIdentityTimeout)
}

func TestConnectErrorPropagatesUnchanged(t *testing.T) {
	dialErr := errors.New("connection refused")
	ch := newFakeChannel(protocol.ServiceIdentity)
	ch.connectErr = dialErr
	c := New(ch, &MockSerializer{})

	assert.Equal(t, dialErr, c.Connect(context.Background()))
}

func TestSecondRequestRejectedWhileWaiting(t *testing.T) {
	ch := newFakeChannel(protocol.ServiceIdentity)
	c := connected(t, ch, &MockSerializer{})

	first := make(chan []byte, 1)
	go func() {
		got, err := c.RecvMsg(context.Background(), []byte("first"))
		assert.NoError(t, err)
		first <- got
	}()
	require.Eventually(t, func() bool { return ch.emitCount() == 1 }, time.Second, 5*time.Millisecond)

	_, err := c.RecvMsg(context.Background(), []byte("second"))
	assert.ErrorIs(t, err, ErrRequestInFlight)
	assert.Equal(t, 1, ch.emitCount())

	ch.fire(protocol.EventCommand, protocol.EncodeHex([]byte("one")))
	assert.Equal(t, []byte("one"), <-first)
}

func TestAbandonedReplyIsNotDeliveredToNextRequest(t *testing.T) {
	ch := newFakeChannel(protocol.ServiceIdentity)
	c := connected(t, ch, &MockSerializer{})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := c.RecvMsg(ctx, []byte("slow"))
		errc <- err
	}()
	require.Eventually(t, func() bool { return ch.emitCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	_, err := c.RecvMsg(context.Background(), []byte("next"))
	assert.ErrorIs(t, err, ErrRequestInFlight)

	ch.fire(protocol.EventCommand, protocol.EncodeHex([]byte("late")))
	assert.Equal(t, slotIdle, c.slot())

	ch.onEmit = replyWith([]byte("fresh"))
	got, err := c.RecvMsg(context.Background(), []byte("next"))
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), got)
}

func TestUnsolicitedReplyDropped(t *testing.T) {
	ch := newFakeChannel(protocol.ServiceIdentity)
	c := connected(t, ch, &MockSerializer{})

	ch.fire(protocol.EventCommand, protocol.EncodeHex([]byte("stray")))
	assert.Equal(t, slotIdle, c.slot())

	ch.onEmit = replyWith([]byte("mine"))
	got, err := c.RecvMsg(context.Background(), []byte("q"))
	require.NoError(t, err)
	assert.Equal(t, []byte("mine"), got)
}

func TestDisconnectWhileWaiting(t *testing.T) {
	ch := newFakeChannel(protocol.ServiceIdentity)
	c := connected(t, ch, &MockSerializer{})

	errc := make(chan error, 1)
	go func() {
		_, err := c.RecvMsg(context.Background(), []byte("q"))
		errc <- err
	}()
	require.Eventually(t, func() bool { return ch.emitCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())
	assert.ErrorIs(t, <-errc, ErrDisconnected)
}

func TestEmitErrorPropagatesAndFreesSlot(t *testing.T) {
	emitErr := errors.New("write: broken pipe")
	ch := newFakeChannel(protocol.ServiceIdentity)
	c := connected(t, ch, &MockSerializer{})
	ch.emitErr = emitErr

	_, err := c.RecvMsg(context.Background(), []byte("q"))
	assert.Equal(t, emitErr, err)
	assert.Equal(t, slotIdle, c.slot())
}

func TestSendMsgNotImplemented(t *testing.T) {
	c := New(newFakeChannel(protocol.ServiceIdentity), &MockSerializer{})
	for _, msg := range [][]byte{nil, []byte("x"), make([]byte, 1024)} {
		got, err := c.SendMsg(context.Background(), msg)
		assert.ErrorIs(t, err, ErrNotImplemented)
		assert.Nil(t, got)
	}
}
