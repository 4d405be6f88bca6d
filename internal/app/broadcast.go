package app

import (
	"sync"

	"github.com/dkeye/One2Many/internal/core"
	"github.com/dkeye/One2Many/internal/domain"
	"github.com/rs/zerolog/log"
)

// PresenterRecord is the media state owned by the broadcasting session.
// Handle fields are written only through Broadcast.Attach.
type PresenterRecord struct {
	SessionID  core.SessionID
	Signal     core.SignalConnection
	Generation uint64

	Pipeline core.Pipeline
	Endpoint core.WebRTCEndpoint
	Recorder core.RecorderEndpoint
}

type ViewerRecord struct {
	SessionID core.SessionID
	Endpoint  core.WebRTCEndpoint
	Signal    core.SignalConnection
}

// Teardown is what a released presenter leaves behind for the caller to
// clean up outside the lock.
type Teardown struct {
	Presenter *PresenterRecord
	Viewers   []*ViewerRecord
}

type BroadcastStatus struct {
	State       domain.PresenterState
	PresenterID core.SessionID
	Viewers     int
}

// Broadcast is the single presenter slot plus the viewers attached to it.
// Every mutation happens under mu; media engine calls never do.
type Broadcast struct {
	mu         sync.Mutex
	presenter  *PresenterRecord
	state      domain.PresenterState
	generation uint64
	viewers    map[core.SessionID]*ViewerRecord
}

func NewBroadcast() *Broadcast {
	return &Broadcast{viewers: make(map[core.SessionID]*ViewerRecord)}
}

// Claim moves Idle to Negotiating and hands out the new record.
func (b *Broadcast) Claim(sid core.SessionID, sig core.SignalConnection) (*PresenterRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.presenter != nil {
		return nil, domain.ErrPresenterBusy
	}
	b.generation++
	rec := &PresenterRecord{SessionID: sid, Signal: sig, Generation: b.generation}
	b.presenter = rec
	b.state = domain.PresenterNegotiating
	log.Info().Str("module", "app.broadcast").Str("sid", string(sid)).Uint64("gen", rec.Generation).Msg("presenter claimed")
	return rec, nil
}

// Current reports whether rec still owns the slot.
func (b *Broadcast) Current(rec *PresenterRecord) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.presenter != nil && b.presenter == rec
}

// Attach runs fn on rec only if rec still owns the slot.
func (b *Broadcast) Attach(rec *PresenterRecord, fn func(*PresenterRecord)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.presenter == nil || b.presenter != rec {
		return domain.ErrNoActivePresenter
	}
	fn(rec)
	return nil
}

func (b *Broadcast) Activate(rec *PresenterRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.presenter == nil || b.presenter != rec {
		return domain.ErrNoActivePresenter
	}
	b.state = domain.PresenterActive
	log.Info().Str("module", "app.broadcast").Str("sid", string(rec.SessionID)).Msg("presenter active")
	return nil
}

// Active returns the presenter only once negotiation finished.
func (b *Broadcast) Active() (*PresenterRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.presenter == nil || b.state != domain.PresenterActive {
		return nil, domain.ErrNoActivePresenter
	}
	return b.presenter, nil
}

// IsPresenter reports whether sid owns the slot in any non-idle state.
func (b *Broadcast) IsPresenter(sid core.SessionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.presenter != nil && b.presenter.SessionID == sid
}

// Release returns the slot to Idle if sid owns it, detaching every viewer.
func (b *Broadcast) Release(sid core.SessionID) (Teardown, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.presenter == nil || b.presenter.SessionID != sid {
		return Teardown{}, false
	}
	return b.releaseLocked(), true
}

// ReleaseRecord is Release keyed by record identity, so a stale
// orchestration can never take down a newer presenter of the same session.
func (b *Broadcast) ReleaseRecord(rec *PresenterRecord) (Teardown, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.presenter == nil || b.presenter != rec {
		return Teardown{}, false
	}
	return b.releaseLocked(), true
}

func (b *Broadcast) releaseLocked() Teardown {
	sid := b.presenter.SessionID
	td := Teardown{Presenter: b.presenter, Viewers: make([]*ViewerRecord, 0, len(b.viewers))}
	for _, v := range b.viewers {
		td.Viewers = append(td.Viewers, v)
	}
	b.presenter = nil
	b.state = domain.PresenterIdle
	b.viewers = make(map[core.SessionID]*ViewerRecord)
	log.Info().Str("module", "app.broadcast").Str("sid", string(sid)).Int("viewers", len(td.Viewers)).Msg("presenter released")
	return td
}

// AddViewer registers v under presenter, which must still be the active one.
func (b *Broadcast) AddViewer(presenter *PresenterRecord, v *ViewerRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.presenter == nil || b.presenter != presenter || b.state != domain.PresenterActive {
		return domain.ErrNoActivePresenter
	}
	b.viewers[v.SessionID] = v
	log.Info().Str("module", "app.broadcast").Str("sid", string(v.SessionID)).Int("viewers", len(b.viewers)).Msg("viewer added")
	return nil
}

// ViewerAlive reports whether v is still registered and its presenter still active.
func (b *Broadcast) ViewerAlive(presenter *PresenterRecord, v *ViewerRecord) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.presenter == nil || b.presenter != presenter {
		return false
	}
	return b.viewers[v.SessionID] == v
}

func (b *Broadcast) RemoveViewer(sid core.SessionID) (*ViewerRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.viewers[sid]
	if ok {
		delete(b.viewers, sid)
	}
	return v, ok
}

// RemoveViewerRecord removes v only if it is still the record stored for its session.
func (b *Broadcast) RemoveViewerRecord(v *ViewerRecord) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.viewers[v.SessionID]; ok && cur == v {
		delete(b.viewers, v.SessionID)
		return true
	}
	return false
}

func (b *Broadcast) IsViewer(sid core.SessionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.viewers[sid]
	return ok
}

func (b *Broadcast) Status() BroadcastStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := BroadcastStatus{State: b.state, Viewers: len(b.viewers)}
	if b.presenter != nil {
		st.PresenterID = b.presenter.SessionID
	}
	return st
}
