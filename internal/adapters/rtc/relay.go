package rtc

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

// rtpWriter is anything packets can be fanned out to: a local track of a
// downstream peer or a recorder.
type rtpWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// OutTrack is one downstream subscription of a relay.
type OutTrack struct {
	w     rtpWriter
	state atomic.Int32
}

func NewOutTrack(w rtpWriter) *OutTrack {
	return &OutTrack{w: w}
}

func (ot *OutTrack) GetState() TrackState { return TrackState(ot.state.Load()) }
func (ot *OutTrack) MarkOk()              { ot.state.Store(int32(TrackStateOk)) }
func (ot *OutTrack) MarkMuted()           { ot.state.Store(int32(TrackStateMuted)) }
func (ot *OutTrack) MarkDelete()          { ot.state.Store(int32(TrackStateDelete)) }

// Relay fans the packets of one media kind out to every subscribed element.
// Its source is either a remote track or a file player.
type Relay struct {
	Kind webrtc.RTPCodecType

	mu        sync.RWMutex
	outTracks map[string]*OutTrack
	keyFrame  func()

	cancel context.CancelFunc
}

func NewRelay(kind webrtc.RTPCodecType) *Relay {
	return &Relay{Kind: kind, outTracks: make(map[string]*OutTrack)}
}

// Start reads src until ctx ends or the track dies.
func (r *Relay) Start(ctx context.Context, src *webrtc.TrackRemote, logger *zerolog.Logger) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.cancel = cancel
	r.mu.Unlock()
	go r.loop(ctx, src, logger)
}

func (r *Relay) loop(ctx context.Context, src *webrtc.TrackRemote, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done")
			return
		default:
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay source ended")
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outTracks)
	r.mu.RUnlock()

	var dirty []string
	for dst, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, dst)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.w.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Str("dst", dst).Msg("relay write RTP error, dropping subscriber")
				ot.MarkDelete()
				dirty = append(dirty, dst)
			}
		}
	}
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dst := range dirty {
		if ot, ok := r.outTracks[dst]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, dst)
		}
	}
}

func (r *Relay) AddOutTrack(dst string, ot *OutTrack) {
	r.mu.Lock()
	r.outTracks[dst] = ot
	r.mu.Unlock()
	r.RequestKeyFrame()
}

// RemoveOutTrack marks the subscription of dst for deletion.
func (r *Relay) RemoveOutTrack(dst string) {
	r.mu.RLock()
	ot, ok := r.outTracks[dst]
	r.mu.RUnlock()
	if ok {
		ot.MarkDelete()
	}
}

func (r *Relay) Subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, ot := range r.outTracks {
		if ot.GetState() != TrackStateDelete {
			n++
		}
	}
	return n
}

// OnKeyFrameRequest sets how the source is asked for a fresh key frame.
func (r *Relay) OnKeyFrameRequest(fn func()) {
	r.mu.Lock()
	r.keyFrame = fn
	r.mu.Unlock()
}

func (r *Relay) RequestKeyFrame() {
	r.mu.RLock()
	fn := r.keyFrame
	r.mu.RUnlock()
	if fn != nil && r.Kind == webrtc.RTPCodecTypeVideo {
		fn()
	}
}

// Stop ends the source loop and drops every subscriber.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}
