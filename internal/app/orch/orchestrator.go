package orch

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/One2Many/internal/app"
	"github.com/dkeye/One2Many/internal/core"
	"github.com/dkeye/One2Many/internal/domain"
	"github.com/dkeye/One2Many/internal/metrics"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Options configures how the orchestrator talks to the media server.
type Options struct {
	// URI of the media server, handed to the connector on first use.
	URI string
	// RecordsURI is the directory URI recordings are written to and played from.
	RecordsURI    string
	RecordExt     string
	RecordProfile string
	// CallTimeout bounds one orchestration and every release call.
	CallTimeout time.Duration
}

type Orchestrator struct {
	Registry   *app.Registry
	Broadcast  *app.Broadcast
	Candidates *app.CandidateQueue
	Listeners  *app.Pipelines[*app.ListenerRecord]
	Recordings *app.Pipelines[core.Pipeline]
	Engine     core.MediaConnector
	Notifier   core.Notifier
	Options    Options

	clientMu sync.Mutex
	client   core.MediaClient
	connect  singleflight.Group
}

func New(engine core.MediaConnector, opts Options) *Orchestrator {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	return &Orchestrator{
		Registry:   app.NewRegistry(),
		Broadcast:  app.NewBroadcast(),
		Candidates: app.NewCandidateQueue(),
		Listeners:  app.NewPipelines[*app.ListenerRecord](),
		Recordings: app.NewPipelines[core.Pipeline](),
		Engine:     engine,
		Options:    opts,
	}
}

// mediaClient returns the shared media server client, connecting on first
// use. Concurrent first callers share one attempt; a failed attempt is
// reported and left for the next request.
func (o *Orchestrator) mediaClient(ctx context.Context) (core.MediaClient, error) {
	o.clientMu.Lock()
	c := o.client
	o.clientMu.Unlock()
	if c != nil {
		return c, nil
	}

	v, err, _ := o.connect.Do("client", func() (any, error) {
		o.clientMu.Lock()
		if o.client != nil {
			c := o.client
			o.clientMu.Unlock()
			return c, nil
		}
		o.clientMu.Unlock()

		c, err := o.Engine.Connect(ctx, o.Options.URI)
		if err != nil {
			metrics.MediaClientConnects.WithLabelValues("error").Inc()
			log.Error().Err(err).Str("module", "orch").Str("uri", o.Options.URI).Msg("could not find media server")
			return nil, &domain.ConnectionError{URI: o.Options.URI, Err: err}
		}
		metrics.MediaClientConnects.WithLabelValues("ok").Inc()
		log.Info().Str("module", "orch").Str("uri", o.Options.URI).Msg("media server connected")

		o.clientMu.Lock()
		o.client = c
		o.clientMu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(core.MediaClient), nil
}

// Close drops the shared media client.
func (o *Orchestrator) Close() error {
	o.clientMu.Lock()
	c := o.client
	o.client = nil
	o.clientMu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

// Disconnect is the full teardown of a closed connection. Besides Stop it
// releases standalone recordings and drops the registry entry.
//
// The entry goes first: an orchestration that commits a record after this
// point sees the session gone and undoes the record itself.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	o.Registry.Unregister(sid)
	o.Stop(sid)
	for _, p := range o.Recordings.Take(sid) {
		o.release(sid, "recording pipeline", p)
	}
	metrics.ActiveSessions.Set(float64(o.Registry.Len()))
}

// live reports whether sid is still connected. Checked right after a record
// is committed, never before.
func (o *Orchestrator) live(sid core.SessionID) bool {
	_, ok := o.Registry.Lookup(sid)
	return ok
}

// RoleOf derives the role of sid from the presenter, viewer and listener records.
func (o *Orchestrator) RoleOf(sid core.SessionID) domain.Role {
	switch {
	case o.Broadcast.IsPresenter(sid):
		return domain.RolePresenter
	case o.Broadcast.IsViewer(sid):
		return domain.RoleViewer
	case o.Listeners.Has(sid):
		return domain.RoleListener
	default:
		return domain.RoleNone
	}
}

func (o *Orchestrator) callContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, o.Options.CallTimeout)
}

type releaser interface {
	Release(ctx context.Context) error
}

func (o *Orchestrator) release(sid core.SessionID, what string, r releaser) {
	if r == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.Options.CallTimeout)
	defer cancel()
	if err := r.Release(ctx); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Str("what", what).Msg("release failed")
		return
	}
	log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("what", what).Msg("released")
}

// forwardCandidates sends every locally gathered candidate to sig.
func (o *Orchestrator) forwardCandidates(sig core.SignalConnection) func(webrtc.ICECandidateInit) {
	return func(c webrtc.ICECandidateInit) {
		o.notifier().NotifyICECandidate(sig, c)
	}
}

func (o *Orchestrator) notifier() core.Notifier {
	if o.Notifier == nil {
		return nopNotifier{}
	}
	return o.Notifier
}

func (o *Orchestrator) syncMetrics() {
	st := o.Broadcast.Status()
	metrics.PresenterState.Set(float64(st.State))
	metrics.ActiveViewers.Set(float64(st.Viewers))
}

func observe(kind string, start time.Time, err error) {
	result := "accepted"
	if err != nil {
		result = "rejected"
	}
	metrics.OrchestrationsTotal.WithLabelValues(kind, result).Inc()
	metrics.OrchestrationDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

type nopNotifier struct{}

func (nopNotifier) NotifyICECandidate(core.SignalConnection, webrtc.ICECandidateInit) {}
func (nopNotifier) NotifyStopCommunication(core.SignalConnection)                     {}
func (nopNotifier) NotifyPlayEnd(core.SignalConnection)                               {}
