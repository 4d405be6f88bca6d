package orch

import (
	"context"

	"github.com/dkeye/One2Many/internal/app"
	"github.com/dkeye/One2Many/internal/core"
	"github.com/dkeye/One2Many/internal/metrics"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Stop ends whatever role sid holds. A presenter takes its viewers down with
// it; a viewer or listener only releases its own media. Safe to call for any sid.
func (o *Orchestrator) Stop(sid core.SessionID) {
	if td, ok := o.Broadcast.Release(sid); ok {
		o.teardownPresenter(td)
	} else if v, ok := o.Broadcast.RemoveViewer(sid); ok {
		log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("viewer stopped")
		o.release(sid, "viewer endpoint", v.Endpoint)
	}
	for _, l := range o.Listeners.Take(sid) {
		o.release(sid, "playback pipeline", l.Pipeline)
	}
	o.Candidates.Clear(sid)
	o.syncMetrics()
}

func (o *Orchestrator) teardownPresenter(td app.Teardown) {
	sid := td.Presenter.SessionID
	log.Info().Str("module", "orch").Str("sid", string(sid)).Int("viewers", len(td.Viewers)).Msg("presenter teardown")
	for _, v := range td.Viewers {
		if v.Signal != nil {
			o.notifier().NotifyStopCommunication(v.Signal)
		}
		o.Candidates.Clear(v.SessionID)
	}
	// Viewer and recorder endpoints live on this pipeline.
	o.release(sid, "presenter pipeline", td.Presenter.Pipeline)
	o.Candidates.Clear(sid)
	metrics.PresenterTeardowns.Inc()
	o.syncMetrics()
}

// failPresenter tears rec down only if it still owns the slot.
func (o *Orchestrator) failPresenter(rec *app.PresenterRecord) bool {
	td, ok := o.Broadcast.ReleaseRecord(rec)
	if !ok {
		return false
	}
	o.teardownPresenter(td)
	return true
}

// ResetCandidates drops whatever sid queued before a new negotiation. Callers
// run it before handing the negotiation to a goroutine.
func (o *Orchestrator) ResetCandidates(sid core.SessionID) {
	o.Candidates.Clear(sid)
}

// OnICECandidate hands a remote candidate to the session endpoint, or queues
// it until the endpoint exists.
func (o *Orchestrator) OnICECandidate(ctx context.Context, sid core.SessionID, c webrtc.ICECandidateInit) {
	ctx, cancel := o.callContext(ctx)
	defer cancel()
	delivered, err := o.Candidates.Route(ctx, sid, c)
	if delivered {
		metrics.ICECandidatesTotal.WithLabelValues("delivered").Inc()
	} else {
		metrics.ICECandidatesTotal.WithLabelValues("queued").Inc()
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("add ice candidate")
	}
}

// flush drains queued candidates into ep and binds it for later ones.
// Delivery errors are not fatal to the negotiation; the endpoint reports
// them through ICE state instead. If owned stops holding after the bind, a
// teardown cleared the queue first and the binding is undone.
func (o *Orchestrator) flush(ctx context.Context, sid core.SessionID, ep core.WebRTCEndpoint, owned func() bool) bool {
	if _, err := o.Candidates.FlushTo(ctx, sid, ep); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("flush candidates")
	}
	if owned() {
		return true
	}
	o.Candidates.Unbind(sid, ep)
	return false
}
