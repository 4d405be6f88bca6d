package signal

import (
	"sync"
	"time"

	"github.com/dkeye/One2Many/internal/core"
	"github.com/dkeye/One2Many/internal/metrics"
)

type limitKey struct {
	sid  core.SessionID
	kind string
}

// RateLimiter caps negotiation requests per session and request kind over a
// sliding window. Kinds are counted apart, so viewer retries never lock the
// same session out of play.
type RateLimiter struct {
	mu       sync.Mutex
	windows  map[limitKey][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

// NewRateLimiter allows limit requests per interval. A limit of zero or less
// turns limiting off.
func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		windows:  make(map[limitKey][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow records one request of kind for sid. When the window is full it
// returns false and how long until the oldest request leaves it.
func (rl *RateLimiter) Allow(sid core.SessionID, kind string) (time.Duration, bool) {
	if rl.limit <= 0 {
		return 0, true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	key := limitKey{sid: sid, kind: kind}
	hits := prune(rl.windows[key], now.Add(-rl.interval))
	if len(hits) >= rl.limit {
		rl.windows[key] = hits
		metrics.RateLimitedTotal.WithLabelValues(kind).Inc()
		return hits[0].Add(rl.interval).Sub(now), false
	}
	rl.windows[key] = append(hits, now)
	return 0, true
}

// prune drops hits at or before cutoff. hits is in arrival order.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

// Forget drops every window of a closed session.
func (rl *RateLimiter) Forget(sid core.SessionID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k := range rl.windows {
		if k.sid == sid {
			delete(rl.windows, k)
		}
	}
}
