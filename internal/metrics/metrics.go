package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "one2many_active_sessions",
		Help: "Number of open signaling sessions",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "one2many_sessions_total",
		Help: "Total number of signaling sessions",
	})

	// PresenterState is 0 idle, 1 negotiating, 2 active.
	PresenterState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "one2many_presenter_state",
		Help: "Presenter slot state (0=idle, 1=negotiating, 2=active)",
	})

	ActiveViewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "one2many_active_viewers",
		Help: "Number of viewers attached to the presenter",
	})

	OrchestrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "one2many_orchestrations_total",
		Help: "Finished orchestrations by kind and result",
	}, []string{"kind", "result"}) // kind: presenter|viewer|play|start, result: accepted|rejected

	OrchestrationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "one2many_orchestration_seconds",
		Help:    "Time from request to SDP answer",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"kind"})

	SignallingMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "one2many_signalling_messages_total",
		Help: "Total signalling messages",
	}, []string{"type", "direction"}) // direction: "in" | "out"

	ICECandidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "one2many_ice_candidates_total",
		Help: "Remote ICE candidates by routing outcome",
	}, []string{"route"}) // "delivered" | "queued"

	MediaClientConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "one2many_media_client_connects_total",
		Help: "Media server connection attempts",
	}, []string{"result"})

	PresenterTeardowns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "one2many_presenter_teardowns_total",
		Help: "Presenter teardowns, each notifying all attached viewers",
	})

	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "one2many_rate_limited_total",
		Help: "Negotiation requests refused by the per-session rate limit",
	}, []string{"kind"})

	MediaCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "one2many_media_calls_total",
		Help: "Media server requests by method and result",
	}, []string{"method", "result"})
)
