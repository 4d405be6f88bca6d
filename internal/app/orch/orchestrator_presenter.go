package orch

import (
	"context"
	"time"

	"github.com/dkeye/One2Many/internal/app"
	"github.com/dkeye/One2Many/internal/core"
	"github.com/dkeye/One2Many/internal/domain"
	"github.com/rs/zerolog/log"
)

// ClaimPresenter is the synchronous half of a presenter request: it drops
// stale candidates and takes the presenter slot. On conflict the requester
// is stopped and domain.ErrPresenterBusy returned.
func (o *Orchestrator) ClaimPresenter(sid core.SessionID, sig core.SignalConnection) (*app.PresenterRecord, error) {
	o.Candidates.Clear(sid)
	rec, err := o.Broadcast.Claim(sid, sig)
	if err != nil {
		log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("presenter slot busy")
		o.Stop(sid)
		return nil, err
	}
	o.syncMetrics()
	return rec, nil
}

// StartPresenter claims the slot and negotiates in one call.
func (o *Orchestrator) StartPresenter(ctx context.Context, sid core.SessionID, sig core.SignalConnection, offer, fileName string) (string, error) {
	rec, err := o.ClaimPresenter(sid, sig)
	if err != nil {
		observe("presenter", time.Now(), err)
		return "", err
	}
	return o.NegotiatePresenter(ctx, rec, offer, fileName)
}

// NegotiatePresenter builds the presenter pipeline for a claimed record and
// returns the SDP answer. After every media call the slot is checked again;
// if rec lost it the sequence stops with domain.ErrNoActivePresenter.
func (o *Orchestrator) NegotiatePresenter(ctx context.Context, rec *app.PresenterRecord, offer, fileName string) (answer string, err error) {
	sid := rec.SessionID
	logger := log.With().Str("module", "orch").Str("sid", string(sid)).Str("kind", "presenter").Logger()
	start := time.Now()

	// Set once the pipeline hangs off rec; teardown releases it from there.
	var orphan core.Pipeline
	defer func() {
		observe("presenter", start, err)
		if err == nil {
			return
		}
		if o.failPresenter(rec) {
			logger.Warn().Err(err).Msg("presenter negotiation failed, torn down")
			return
		}
		logger.Info().Err(err).Msg("presenter gone during negotiation")
		if orphan != nil {
			o.release(sid, "orphaned pipeline", orphan)
		}
	}()

	ctx, cancel := o.callContext(ctx)
	defer cancel()

	client, err := o.mediaClient(ctx)
	if err != nil {
		return "", err
	}
	if !o.Broadcast.Current(rec) {
		return "", domain.ErrNoActivePresenter
	}

	pipeline, err := client.CreatePipeline(ctx)
	if err != nil {
		return "", domain.NewStepError("create pipeline", err)
	}
	orphan = pipeline
	if err = o.Broadcast.Attach(rec, func(r *app.PresenterRecord) { r.Pipeline = pipeline }); err != nil {
		return "", err
	}
	orphan = nil

	endpoint, err := pipeline.CreateWebRTCEndpoint(ctx)
	if err != nil {
		return "", domain.NewStepError("create webrtc endpoint", err)
	}
	if err = o.Broadcast.Attach(rec, func(r *app.PresenterRecord) { r.Endpoint = endpoint }); err != nil {
		return "", err
	}

	if !o.flush(ctx, sid, endpoint, func() bool { return o.Broadcast.Current(rec) }) {
		return "", domain.ErrNoActivePresenter
	}

	if err = endpoint.OnICECandidate(ctx, o.forwardCandidates(rec.Signal)); err != nil {
		return "", domain.NewStepError("subscribe ice candidates", err)
	}

	answer, err = endpoint.ProcessOffer(ctx, offer)
	if err != nil {
		return "", domain.NewStepError("process offer", err)
	}
	if !o.Broadcast.Current(rec) {
		return "", domain.ErrNoActivePresenter
	}

	go o.startPresenterRecorder(context.WithoutCancel(ctx), rec, pipeline, endpoint, fileName)

	if err = endpoint.GatherCandidates(ctx); err != nil {
		return "", domain.NewStepError("gather candidates", err)
	}
	if err = o.Broadcast.Activate(rec); err != nil {
		return "", err
	}
	o.syncMetrics()
	logger.Info().Dur("took", time.Since(start)).Msg("presenter accepted")
	return answer, nil
}

// startPresenterRecorder records the presenter audio next to the answer
// path. Its failures never affect the broadcast.
func (o *Orchestrator) startPresenterRecorder(parent context.Context, rec *app.PresenterRecord, pipeline core.Pipeline, endpoint core.WebRTCEndpoint, fileName string) {
	logger := log.With().Str("module", "orch").Str("sid", string(rec.SessionID)).Str("file", fileName).Logger()
	if fileName == "" {
		logger.Debug().Msg("no file name, presenter not recorded")
		return
	}
	if err := domain.ValidateFileName(fileName); err != nil {
		logger.Warn().Err(err).Msg("presenter not recorded")
		return
	}
	ctx, cancel := o.callContext(parent)
	defer cancel()

	uri := domain.RecordingURI(o.Options.RecordsURI, fileName, o.Options.RecordExt)
	recorder, err := pipeline.CreateRecorderEndpoint(ctx, uri, o.Options.RecordProfile)
	if err != nil {
		logger.Error().Err(err).Msg("create recorder")
		return
	}
	if !o.Broadcast.Current(rec) {
		return
	}
	if err := endpoint.Connect(ctx, recorder, core.MediaAudio); err != nil {
		logger.Error().Err(err).Msg("connect recorder")
		return
	}
	if err := recorder.Record(ctx); err != nil {
		logger.Error().Err(err).Msg("start recording")
		return
	}
	if err := o.Broadcast.Attach(rec, func(r *app.PresenterRecord) { r.Recorder = recorder }); err != nil {
		return
	}
	logger.Info().Str("uri", uri).Msg("recording started")
}
