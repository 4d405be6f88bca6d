package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/One2Many/internal/core"
	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// webRTCEndpoint is one PeerConnection inside a pipeline. What the remote
// peer sends is fanned out through relays; what it receives is written to
// local tracks by upstream relays.
type webRTCEndpoint struct {
	element
	pc     *webrtc.PeerConnection
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	mu        sync.Mutex
	onICE     func(webrtc.ICECandidateInit)
	pending   []webrtc.ICECandidateInit
	remoteSet bool
	closed    bool
	relays    map[webrtc.RTPCodecType]*Relay
	tracks    map[webrtc.RTPCodecType]*webrtc.TrackLocalStaticRTP
	upstream  map[webrtc.RTPCodecType]*Relay
}

func newWebRTCEndpoint(ctx context.Context, p *pipeline, pc *webrtc.PeerConnection) *webRTCEndpoint {
	id := uuid.NewString()
	// The endpoint outlives the request that created it.
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ep := &webRTCEndpoint{
		element: element{id: id, p: p},
		pc:      pc,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With().Str("module", "rtc").Str("endpoint", id).Logger(),
		relays: map[webrtc.RTPCodecType]*Relay{
			webrtc.RTPCodecTypeAudio: NewRelay(webrtc.RTPCodecTypeAudio),
			webrtc.RTPCodecTypeVideo: NewRelay(webrtc.RTPCodecTypeVideo),
		},
		tracks:   make(map[webrtc.RTPCodecType]*webrtc.TrackLocalStaticRTP),
		upstream: make(map[webrtc.RTPCodecType]*Relay),
	}
	ep.start()
	return ep
}

func (e *webRTCEndpoint) start() {
	e.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		e.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})

	e.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		e.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			for _, r := range e.relays {
				r.Stop()
			}
		}
	})

	e.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		e.mu.Lock()
		fn := e.onICE
		e.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	e.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logger := e.logger.With().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("codec", track.Codec().MimeType).
			Logger()
		logger.Info().Msg("OnTrack received")

		r := e.relays[track.Kind()]
		if r == nil {
			return
		}
		ssrc := uint32(track.SSRC())
		r.OnKeyFrameRequest(func() {
			if err := e.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
				logger.Debug().Err(err).Msg("send PLI")
			}
		})
		r.Start(e.ctx, track, &logger)
		r.RequestKeyFrame()
	})
}

func (e *webRTCEndpoint) ProcessOffer(_ context.Context, offer string) (string, error) {
	intents, err := offerIntents(offer)
	if err != nil {
		return "", err
	}
	if err := e.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		return "", err
	}

	// Everything the peer wants to receive gets a local track that upstream
	// relays write into.
	for kind, in := range intents {
		if !in.Receives {
			continue
		}
		if err := e.addLocalTrack(kind); err != nil {
			return "", err
		}
	}

	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}

	e.mu.Lock()
	e.remoteSet = true
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()
	var errs []error
	for _, c := range pending {
		if err := e.pc.AddICECandidate(c); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		e.logger.Warn().Err(err).Msg("early candidates rejected")
	}
	return e.pc.LocalDescription().SDP, nil
}

func (e *webRTCEndpoint) addLocalTrack(kind webrtc.RTPCodecType) error {
	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == webrtc.RTPCodecTypeVideo {
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	track, err := webrtc.NewTrackLocalStaticRTP(capability, kind.String(), "one2many")
	if err != nil {
		return err
	}
	sender, err := e.pc.AddTrack(track)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.tracks[kind] = track
	e.mu.Unlock()
	go e.readRTCP(kind, sender)
	return nil
}

// readRTCP drains the sender and passes key frame requests upstream.
func (e *webRTCEndpoint) readRTCP(kind webrtc.RTPCodecType, sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range packets {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				e.mu.Lock()
				up := e.upstream[kind]
				e.mu.Unlock()
				if up != nil {
					up.RequestKeyFrame()
				}
			}
		}
	}
}

// AddICECandidate holds candidates that arrive before the offer.
func (e *webRTCEndpoint) AddICECandidate(_ context.Context, c webrtc.ICECandidateInit) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrReleased
	}
	if !e.remoteSet {
		e.pending = append(e.pending, c)
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	return e.pc.AddICECandidate(c)
}

func (e *webRTCEndpoint) OnICECandidate(_ context.Context, fn func(webrtc.ICECandidateInit)) error {
	e.mu.Lock()
	e.onICE = fn
	e.mu.Unlock()
	return nil
}

// GatherCandidates is a no-op: pion gathers as soon as the answer is set
// and trickles through OnICECandidate.
func (e *webRTCEndpoint) GatherCandidates(context.Context) error {
	return nil
}

func (e *webRTCEndpoint) Connect(_ context.Context, sink core.MediaElement, mediaType core.MediaType) error {
	return link(e.id, e, sink, mediaType)
}

func (e *webRTCEndpoint) relay(kind webrtc.RTPCodecType) *Relay {
	return e.relays[kind]
}

func (e *webRTCEndpoint) writer(kind webrtc.RTPCodecType) rtpWriter {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tracks[kind]; ok {
		return t
	}
	return nil
}

func (e *webRTCEndpoint) linked(kind webrtc.RTPCodecType, upstream *Relay) {
	e.mu.Lock()
	e.upstream[kind] = upstream
	e.mu.Unlock()
}

func (e *webRTCEndpoint) Release(context.Context) error {
	e.p.remove(e.id)
	return e.close()
}

func (e *webRTCEndpoint) close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	for _, r := range e.relays {
		r.Stop()
	}
	if err := e.pc.Close(); err != nil {
		e.logger.Error().Err(err).Msg("close error")
		return err
	}
	e.logger.Info().Msg("closed")
	return nil
}
