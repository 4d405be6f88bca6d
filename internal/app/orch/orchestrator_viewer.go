package orch

import (
	"context"
	"time"

	"github.com/dkeye/One2Many/internal/app"
	"github.com/dkeye/One2Many/internal/core"
	"github.com/dkeye/One2Many/internal/domain"
	"github.com/rs/zerolog/log"
)

// StartViewer attaches sid to the active presenter and returns the SDP
// answer. Failures tear down only this viewer.
func (o *Orchestrator) StartViewer(ctx context.Context, sid core.SessionID, sig core.SignalConnection, offer string) (answer string, err error) {
	logger := log.With().Str("module", "orch").Str("sid", string(sid)).Str("kind", "viewer").Logger()
	start := time.Now()

	var v *app.ViewerRecord
	defer func() {
		observe("viewer", start, err)
		if err == nil {
			return
		}
		logger.Info().Err(err).Msg("viewer rejected")
		if v == nil {
			o.Stop(sid)
			return
		}
		o.failViewer(v)
	}()

	presenter, err := o.Broadcast.Active()
	if err != nil {
		return "", err
	}
	// A repeated viewer request replaces the previous one.
	if old, ok := o.Broadcast.RemoveViewer(sid); ok {
		o.release(sid, "previous viewer endpoint", old.Endpoint)
	}

	ctx, cancel := o.callContext(ctx)
	defer cancel()

	endpoint, err := presenter.Pipeline.CreateWebRTCEndpoint(ctx)
	if err != nil {
		return "", domain.NewStepError("create webrtc endpoint", err)
	}
	rec := &app.ViewerRecord{SessionID: sid, Endpoint: endpoint, Signal: sig}
	if err = o.Broadcast.AddViewer(presenter, rec); err != nil {
		// The presenter went away; its pipeline release already took the endpoint.
		return "", err
	}
	v = rec
	o.syncMetrics()
	if !o.live(sid) {
		return "", domain.ErrSessionClosed
	}

	if !o.flush(ctx, sid, endpoint, func() bool { return o.Broadcast.ViewerAlive(presenter, rec) }) {
		return "", domain.ErrNoActivePresenter
	}

	if err = endpoint.OnICECandidate(ctx, o.forwardCandidates(sig)); err != nil {
		return "", domain.NewStepError("subscribe ice candidates", err)
	}
	answer, err = endpoint.ProcessOffer(ctx, offer)
	if err != nil {
		return "", domain.NewStepError("process offer", err)
	}
	if !o.Broadcast.ViewerAlive(presenter, rec) {
		return "", domain.ErrNoActivePresenter
	}
	if err = presenter.Endpoint.Connect(ctx, endpoint, core.MediaAll); err != nil {
		return "", domain.NewStepError("connect presenter", err)
	}
	if !o.Broadcast.ViewerAlive(presenter, rec) {
		return "", domain.ErrNoActivePresenter
	}
	if err = endpoint.GatherCandidates(ctx); err != nil {
		return "", domain.NewStepError("gather candidates", err)
	}
	logger.Info().Dur("took", time.Since(start)).Msg("viewer accepted")
	return answer, nil
}

// failViewer removes v if it is still registered and releases its endpoint.
// When the presenter was torn down meanwhile the pipeline release already
// covered the endpoint.
func (o *Orchestrator) failViewer(v *app.ViewerRecord) {
	if o.Broadcast.RemoveViewerRecord(v) {
		o.release(v.SessionID, "viewer endpoint", v.Endpoint)
		o.Candidates.Clear(v.SessionID)
	}
	o.syncMetrics()
}
