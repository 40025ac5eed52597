// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const MaxWorkerIDLen = 36

var (
	ErrWorkerIDTooLong = errors.New("worker id too long")
	ErrWorkerIDSpaces  = errors.New("worker id must not contain whitespace")
)

// DefaultWorkerID mirrors the grid stack's default worker id.
const DefaultWorkerID WorkerID = "0"

type WorkerID string

// Worker is the local identity a grid client connects as.
type Worker struct {
	ID      WorkerID `json:"id"`
	Address string   `json:"address"`
}

// ParseWorkerID validates id; an empty id gets a fresh uuid.
func ParseWorkerID(id string) (WorkerID, error) {
	if id == "" {
		return WorkerID(uuid.NewString()), nil
	}
	if len(id) > MaxWorkerIDLen {
		return "", ErrWorkerIDTooLong
	}
	if strings.ContainsAny(id, " \t\r\n") {
		return "", ErrWorkerIDSpaces
	}
	return WorkerID(id), nil
}

func NewWorker(id, addr string) (*Worker, error) {
	wid, err := ParseWorkerID(id)
	if err != nil {
		return nil, err
	}
	return &Worker{ID: wid, Address: addr}, nil
}
