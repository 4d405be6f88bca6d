package app

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/One2Many/internal/core"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Signal      core.SignalConnection
	Cancel      context.CancelFunc
	ClientToken string
	ConnectedAt time.Time
}

// Session is a read-only view of a registered connection.
type Session struct {
	ID          core.SessionID
	Signal      core.SignalConnection
	ClientToken string
	ConnectedAt time.Time
}

// Registry maps session ids to their signaling channel.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

func (r *Registry) Register(sid core.SessionID, sig core.SignalConnection, cancel context.CancelFunc, clientToken string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{
		Signal:      sig,
		Cancel:      cancel,
		ClientToken: clientToken,
		ConnectedAt: time.Now(),
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("client", clientToken).Msg("registered session")
}

func (r *Registry) Lookup(sid core.SessionID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return Session{}, false
	}
	return Session{ID: sid, Signal: e.Signal, ClientToken: e.ClientToken, ConnectedAt: e.ConnectedAt}, true
}

// Unregister removes sid and cancels its connection context. Calling it for
// an unknown sid is a no-op.
func (r *Registry) Unregister(sid core.SessionID) bool {
	r.mu.Lock()
	e, ok := r.sessions[sid]
	delete(r.sessions, sid)
	r.mu.Unlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unregistered session")
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for sid, e := range r.sessions {
		out = append(out, Session{ID: sid, Signal: e.Signal, ClientToken: e.ClientToken, ConnectedAt: e.ConnectedAt})
	}
	return out
}
