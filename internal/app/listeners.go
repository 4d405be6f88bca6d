package app

import (
	"sync"

	"github.com/dkeye/One2Many/internal/core"
)

// ListenerRecord is a session playing back a recorded asset.
type ListenerRecord struct {
	SessionID core.SessionID
	Pipeline  core.Pipeline
	Endpoint  core.WebRTCEndpoint
	Signal    core.SignalConnection
}

// Pipelines keeps per-session pipelines that live outside the presenter and
// viewer bookkeeping: playback listeners and standalone recordings.
type Pipelines[T any] struct {
	mu    sync.Mutex
	items map[core.SessionID][]T
}

func NewPipelines[T any]() *Pipelines[T] {
	return &Pipelines[T]{items: make(map[core.SessionID][]T)}
}

func (p *Pipelines[T]) Add(sid core.SessionID, v T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[sid] = append(p.items[sid], v)
}

// Remove drops the entries of sid for which match returns true and returns them.
func (p *Pipelines[T]) Remove(sid core.SessionID, match func(T) bool) []T {
	p.mu.Lock()
	defer p.mu.Unlock()
	var removed, kept []T
	for _, v := range p.items[sid] {
		if match(v) {
			removed = append(removed, v)
		} else {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		delete(p.items, sid)
	} else {
		p.items[sid] = kept
	}
	return removed
}

// Take removes and returns everything held for sid.
func (p *Pipelines[T]) Take(sid core.SessionID) []T {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.items[sid]
	delete(p.items, sid)
	return out
}

// Contains reports whether any entry of sid satisfies match.
func (p *Pipelines[T]) Contains(sid core.SessionID, match func(T) bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range p.items[sid] {
		if match(v) {
			return true
		}
	}
	return false
}

func (p *Pipelines[T]) Has(sid core.SessionID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items[sid]) > 0
}

func (p *Pipelines[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, v := range p.items {
		n += len(v)
	}
	return n
}
