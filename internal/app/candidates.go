package app

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/One2Many/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// CandidateSink receives remote ICE candidates, normally a WebRTC endpoint.
type CandidateSink interface {
	AddICECandidate(ctx context.Context, c webrtc.ICECandidateInit) error
}

type candidateSlot struct {
	// mu is held while delivering so a candidate routed right after a flush
	// can not overtake the ones still being drained.
	mu      sync.Mutex
	sink    CandidateSink
	pending []webrtc.ICECandidateInit
}

// CandidateQueue buffers ICE candidates per session until an endpoint exists.
type CandidateQueue struct {
	mu    sync.Mutex
	slots map[core.SessionID]*candidateSlot
}

func NewCandidateQueue() *CandidateQueue {
	return &CandidateQueue{slots: make(map[core.SessionID]*candidateSlot)}
}

func (q *CandidateQueue) slot(sid core.SessionID) *candidateSlot {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.slots[sid]
	if !ok {
		s = &candidateSlot{}
		q.slots[sid] = s
	}
	return s
}

// Route delivers c right away when sid already has an endpoint, otherwise
// appends it to the session queue.
func (q *CandidateQueue) Route(ctx context.Context, sid core.SessionID, c webrtc.ICECandidateInit) (delivered bool, err error) {
	s := q.slot(sid)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink != nil {
		return true, s.sink.AddICECandidate(ctx, c)
	}
	s.pending = append(s.pending, c)
	log.Debug().Str("module", "app.candidates").Str("sid", string(sid)).Int("pending", len(s.pending)).Msg("queued candidate")
	return false, nil
}

// FlushTo binds sink to sid and drains queued candidates into it in arrival
// order. Every candidate is attempted; delivery errors are joined.
func (q *CandidateQueue) FlushTo(ctx context.Context, sid core.SessionID, sink CandidateSink) (int, error) {
	s := q.slot(sid)
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.pending
	s.pending = nil
	s.sink = sink

	var errs []error
	for _, c := range pending {
		if err := sink.AddICECandidate(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	if len(pending) > 0 {
		log.Info().Str("module", "app.candidates").Str("sid", string(sid)).Int("flushed", len(pending)).Msg("flushed queued candidates")
	}
	return len(pending), errors.Join(errs...)
}

// Unbind forgets sid's endpoint binding, but only while sink is still the
// bound endpoint. A newer negotiation's binding is left alone.
func (q *CandidateQueue) Unbind(sid core.SessionID, sink CandidateSink) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.slots[sid]
	if !ok {
		return
	}
	s.mu.Lock()
	bound := s.sink == sink
	s.mu.Unlock()
	if bound {
		delete(q.slots, sid)
	}
}

// Clear drops queued candidates and the bound endpoint without delivering.
func (q *CandidateQueue) Clear(sid core.SessionID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.slots, sid)
}

// Pending reports how many candidates wait for sid.
func (q *CandidateQueue) Pending(sid core.SessionID) int {
	q.mu.Lock()
	s, ok := q.slots[sid]
	q.mu.Unlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
