package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWorkerID(t *testing.T) {
	id, err := ParseWorkerID("alice")
	require.NoError(t, err)
	assert.Equal(t, WorkerID("alice"), id)

	id, err = ParseWorkerID("")
	require.NoError(t, err)
	_, perr := uuid.Parse(string(id))
	assert.NoError(t, perr)

	_, err = ParseWorkerID(strings.Repeat("x", MaxWorkerIDLen+1))
	assert.ErrorIs(t, err, ErrWorkerIDTooLong)

	_, err = ParseWorkerID("bad id")
	assert.ErrorIs(t, err, ErrWorkerIDSpaces)
}

func TestNewWorker(t *testing.T) {
	w, err := NewWorker(string(DefaultWorkerID), "http://localhost:5000")
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkerID, w.ID)
	assert.Equal(t, "http://localhost:5000", w.Address)
}
