package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Grid/internal/core"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	base := time.Now()

	canceled := false
	r.Bind(SessionInfo{SID: "b", ConnectedAt: base.Add(time.Second)}, func() { canceled = true })
	r.Bind(SessionInfo{SID: "a", ConnectedAt: base}, nil)
	assert.Equal(t, 2, r.Count())

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, core.SessionID("a"), list[0].SID)
	assert.Equal(t, core.SessionID("b"), list[1].SID)

	r.RecordCommand("a")
	r.RecordCommand("a")
	r.RecordCommand("missing")
	info, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, int64(2), info.Commands)

	assert.True(t, r.Cancel("b"))
	assert.True(t, canceled)
	assert.True(t, r.Cancel("a"))
	assert.False(t, r.Cancel("missing"))

	r.Unbind("a")
	_, ok = r.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Count())
}

func TestBindStampsConnectTime(t *testing.T) {
	r := NewRegistry()
	r.Bind(SessionInfo{SID: "x"}, nil)
	info, ok := r.Get("x")
	require.True(t, ok)
	assert.False(t, info.ConnectedAt.IsZero())
}

func TestHandlerFor(t *testing.T) {
	ctx := context.Background()

	h, err := HandlerFor(ReplyEcho)
	require.NoError(t, err)
	out, err := h(ctx, "s", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), out)

	h, err = HandlerFor(ReplyAck)
	require.NoError(t, err)
	out, err = h(ctx, "s", []byte("hello"))
	require.NoError(t, err)
	assert.Nil(t, out)

	_, err = HandlerFor("shout")
	assert.ErrorIs(t, err, ErrUnknownReplyMode)
}
