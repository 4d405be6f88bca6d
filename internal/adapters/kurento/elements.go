package kurento

import (
	"context"

	"github.com/dkeye/One2Many/internal/core"
	"github.com/pion/webrtc/v4"
)

type element struct {
	c  *Client
	id string
}

func (e *element) ID() string { return e.id }

func (e *element) Connect(ctx context.Context, sink core.MediaElement, mediaType core.MediaType) error {
	params := map[string]any{"sink": sink.ID()}
	if mediaType != core.MediaAll {
		params["mediaType"] = string(mediaType)
	}
	return e.c.invoke(ctx, e.id, "connect", params, nil)
}

func (e *element) Release(ctx context.Context) error {
	return e.c.release(ctx, e.id)
}

type pipeline struct {
	element
}

func (p *pipeline) CreateWebRTCEndpoint(ctx context.Context) (core.WebRTCEndpoint, error) {
	id, err := p.c.create(ctx, "WebRtcEndpoint", map[string]any{"mediaPipeline": p.id})
	if err != nil {
		return nil, err
	}
	return &webRTCEndpoint{element{c: p.c, id: id}}, nil
}

func (p *pipeline) CreateRecorderEndpoint(ctx context.Context, uri, profile string) (core.RecorderEndpoint, error) {
	ctor := map[string]any{"mediaPipeline": p.id, "uri": uri}
	if profile != "" {
		ctor["mediaProfile"] = profile
	}
	id, err := p.c.create(ctx, "RecorderEndpoint", ctor)
	if err != nil {
		return nil, err
	}
	return &recorderEndpoint{element{c: p.c, id: id}}, nil
}

func (p *pipeline) CreatePlayerEndpoint(ctx context.Context, uri string) (core.PlayerEndpoint, error) {
	id, err := p.c.create(ctx, "PlayerEndpoint", map[string]any{"mediaPipeline": p.id, "uri": uri})
	if err != nil {
		return nil, err
	}
	return &playerEndpoint{element{c: p.c, id: id}}, nil
}

// iceCandidate is the Kurento IceCandidate complex type.
type iceCandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
	Module        string `json:"__module__,omitempty"`
	Type          string `json:"__type__,omitempty"`
}

func fromInit(c webrtc.ICECandidateInit) iceCandidate {
	out := iceCandidate{Candidate: c.Candidate, Module: "kurento", Type: "IceCandidate"}
	if c.SDPMid != nil {
		out.SDPMid = *c.SDPMid
	}
	if c.SDPMLineIndex != nil {
		out.SDPMLineIndex = *c.SDPMLineIndex
	}
	return out
}

func (c iceCandidate) toInit() webrtc.ICECandidateInit {
	mid, idx := c.SDPMid, c.SDPMLineIndex
	return webrtc.ICECandidateInit{Candidate: c.Candidate, SDPMid: &mid, SDPMLineIndex: &idx}
}

type webRTCEndpoint struct {
	element
}

func (w *webRTCEndpoint) ProcessOffer(ctx context.Context, offer string) (string, error) {
	var answer string
	if err := w.c.invoke(ctx, w.id, "processOffer", map[string]any{"offer": offer}, &answer); err != nil {
		return "", err
	}
	return answer, nil
}

func (w *webRTCEndpoint) AddICECandidate(ctx context.Context, c webrtc.ICECandidateInit) error {
	return w.c.invoke(ctx, w.id, "addIceCandidate", map[string]any{"candidate": fromInit(c)}, nil)
}

func (w *webRTCEndpoint) OnICECandidate(ctx context.Context, fn func(webrtc.ICECandidateInit)) error {
	return w.c.subscribe(ctx, w.id, eventIceCandidate, func(d eventData) {
		if d.Candidate == nil {
			return
		}
		fn(d.Candidate.toInit())
	})
}

func (w *webRTCEndpoint) GatherCandidates(ctx context.Context) error {
	return w.c.invoke(ctx, w.id, "gatherCandidates", nil, nil)
}

type recorderEndpoint struct {
	element
}

func (r *recorderEndpoint) Record(ctx context.Context) error {
	return r.c.invoke(ctx, r.id, "record", nil, nil)
}

type playerEndpoint struct {
	element
}

func (p *playerEndpoint) Play(ctx context.Context) error {
	return p.c.invoke(ctx, p.id, "play", nil, nil)
}

func (p *playerEndpoint) OnEndOfStream(ctx context.Context, fn func()) error {
	return p.c.subscribe(ctx, p.id, eventEndOfStream, func(eventData) { fn() })
}
