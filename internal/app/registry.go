package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Grid/internal/core"
)

// SessionInfo is a read-only view of one connected worker for APIs.
type SessionInfo struct {
	SID         core.SessionID `json:"sid"`
	ClientToken string         `json:"client_token,omitempty"`
	RemoteAddr  string         `json:"remote_addr"`
	ConnectedAt time.Time      `json:"connected_at"`
	Commands    int64          `json:"commands"`
}

type sessionEntry struct {
	Info   SessionInfo
	Cancel context.CancelFunc
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

func (r *Registry) Bind(info SessionInfo, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info.ConnectedAt.IsZero() {
		info.ConnectedAt = time.Now()
	}
	r.sessions[info.SID] = &sessionEntry{Info: info, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(info.SID)).Str("remote", info.RemoteAddr).Msg("bound session")
}

func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

func (r *Registry) Get(sid core.SessionID) (SessionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Info, true
	}
	return SessionInfo{}, false
}

// List returns sessions oldest first.
func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.Info)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].SID < out[j].SID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) RecordCommand(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok {
		e.Info.Commands++
	}
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
