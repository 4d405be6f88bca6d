package orch

import (
	"context"
	"time"

	"github.com/dkeye/One2Many/internal/app"
	"github.com/dkeye/One2Many/internal/core"
	"github.com/dkeye/One2Many/internal/domain"
	"github.com/rs/zerolog/log"
)

// StartRecording builds a standalone audio recording pipeline for sid. It is
// not part of the broadcast; the pipeline lives until sid disconnects.
func (o *Orchestrator) StartRecording(ctx context.Context, sid core.SessionID, fileName string) (err error) {
	logger := log.With().Str("module", "orch").Str("sid", string(sid)).Str("kind", "record").Str("file", fileName).Logger()
	start := time.Now()
	defer func() {
		observe("record", start, err)
		if err != nil {
			logger.Error().Err(err).Msg("recording not started")
		}
	}()

	if err = domain.ValidateFileName(fileName); err != nil {
		return err
	}
	ctx, cancel := o.callContext(ctx)
	defer cancel()

	client, err := o.mediaClient(ctx)
	if err != nil {
		return err
	}
	pipeline, err := client.CreatePipeline(ctx)
	if err != nil {
		return domain.NewStepError("create pipeline", err)
	}
	// Tracked before anything else can fail so disconnect still releases it.
	o.Recordings.Add(sid, pipeline)
	if !o.live(sid) {
		for _, p := range o.Recordings.Remove(sid, func(p core.Pipeline) bool { return p == pipeline }) {
			o.release(sid, "recording pipeline", p)
		}
		return domain.ErrSessionClosed
	}

	source, err := pipeline.CreateWebRTCEndpoint(ctx)
	if err != nil {
		return domain.NewStepError("create webrtc endpoint", err)
	}
	uri := domain.RecordingURI(o.Options.RecordsURI, fileName, o.Options.RecordExt)
	recorder, err := pipeline.CreateRecorderEndpoint(ctx, uri, o.Options.RecordProfile)
	if err != nil {
		return domain.NewStepError("create recorder", err)
	}
	if err = source.Connect(ctx, recorder, core.MediaAudio); err != nil {
		return domain.NewStepError("connect recorder", err)
	}
	if err = recorder.Record(ctx); err != nil {
		return domain.NewStepError("record", err)
	}
	logger.Info().Str("uri", uri).Msg("recording started")
	return nil
}

// Play streams a recorded asset to sid over a fresh pipeline and returns the
// SDP answer. The pipeline is released at end of stream and sid is told with
// a playEnd notice.
func (o *Orchestrator) Play(ctx context.Context, sid core.SessionID, sig core.SignalConnection, offer, fileName string) (answer string, err error) {
	logger := log.With().Str("module", "orch").Str("sid", string(sid)).Str("kind", "play").Str("file", fileName).Logger()
	start := time.Now()

	var rec *app.ListenerRecord
	var pipeline core.Pipeline
	defer func() {
		observe("play", start, err)
		if err == nil {
			return
		}
		logger.Info().Err(err).Msg("playback rejected")
		if rec != nil {
			// Stop, disconnect or end of stream may have taken it already.
			if len(o.Listeners.Remove(sid, func(l *app.ListenerRecord) bool { return l == rec })) == 0 {
				return
			}
			o.Candidates.Clear(sid)
		}
		if pipeline != nil {
			o.release(sid, "playback pipeline", pipeline)
		}
	}()

	if err = domain.ValidateFileName(fileName); err != nil {
		return "", err
	}
	ctx, cancel := o.callContext(ctx)
	defer cancel()

	client, err := o.mediaClient(ctx)
	if err != nil {
		return "", err
	}
	pipeline, err = client.CreatePipeline(ctx)
	if err != nil {
		return "", domain.NewStepError("create pipeline", err)
	}

	uri := domain.RecordingURI(o.Options.RecordsURI, fileName, o.Options.RecordExt)
	player, err := pipeline.CreatePlayerEndpoint(ctx, uri)
	if err != nil {
		return "", domain.NewStepError("create player", err)
	}

	endpoint, err := pipeline.CreateWebRTCEndpoint(ctx)
	if err != nil {
		return "", domain.NewStepError("create webrtc endpoint", err)
	}
	rec = &app.ListenerRecord{SessionID: sid, Pipeline: pipeline, Endpoint: endpoint, Signal: sig}
	o.Listeners.Add(sid, rec)
	if !o.live(sid) {
		return "", domain.ErrSessionClosed
	}

	if err = player.OnEndOfStream(ctx, o.playEnded(rec)); err != nil {
		return "", domain.NewStepError("subscribe end of stream", err)
	}

	listening := func() bool {
		return o.Listeners.Contains(sid, func(l *app.ListenerRecord) bool { return l == rec })
	}
	if !o.flush(ctx, sid, endpoint, listening) {
		return "", domain.ErrSessionClosed
	}

	if err = endpoint.OnICECandidate(ctx, o.forwardCandidates(sig)); err != nil {
		return "", domain.NewStepError("subscribe ice candidates", err)
	}
	answer, err = endpoint.ProcessOffer(ctx, offer)
	if err != nil {
		return "", domain.NewStepError("process offer", err)
	}
	if err = player.Connect(ctx, endpoint, core.MediaAll); err != nil {
		return "", domain.NewStepError("connect player", err)
	}
	if err = endpoint.GatherCandidates(ctx); err != nil {
		return "", domain.NewStepError("gather candidates", err)
	}
	if err = player.Play(ctx); err != nil {
		return "", domain.NewStepError("play", err)
	}
	logger.Info().Str("uri", uri).Msg("playback started")
	return answer, nil
}

// playEnded releases the playback pipeline once, whichever of end of stream
// and disconnect comes first.
func (o *Orchestrator) playEnded(rec *app.ListenerRecord) func() {
	return func() {
		removed := o.Listeners.Remove(rec.SessionID, func(l *app.ListenerRecord) bool { return l == rec })
		if len(removed) == 0 {
			return
		}
		log.Info().Str("module", "orch").Str("sid", string(rec.SessionID)).Msg("end of stream")
		o.Candidates.Clear(rec.SessionID)
		o.release(rec.SessionID, "playback pipeline", rec.Pipeline)
		o.notifier().NotifyPlayEnd(rec.Signal)
	}
}
