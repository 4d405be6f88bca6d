package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/One2Many/internal/core"
	"github.com/pion/webrtc/v4"
)

// Step names passed to Engine.Hook.
const (
	StepConnect        = "connect"
	StepCreatePipeline = "create pipeline"
	StepCreateWebRTC   = "create webrtc endpoint"
	StepCreateRecorder = "create recorder"
	StepCreatePlayer   = "create player"
	StepProcessOffer   = "process offer"
	StepAddCandidate   = "add candidate"
	StepSubscribe      = "subscribe"
	StepGather         = "gather candidates"
	StepLink           = "link"
	StepRecord         = "record"
	StepPlay           = "play"
	StepRelease        = "release"
)

// Engine is an in-memory core.MediaConnector. Hook, when set, runs before
// every media call and may block or fail it.
type Engine struct {
	Hook func(ctx context.Context, step, object string) error

	mu       sync.Mutex
	seq      int
	connects int
	elements map[string]*Element
	order    []*Element
	released []string
	links    []Link
}

// Link is one recorded Connect call.
type Link struct {
	Source, Sink string
	Media        core.MediaType
}

func NewEngine() *Engine {
	return &Engine{elements: make(map[string]*Element)}
}

func (e *Engine) step(ctx context.Context, step, object string) error {
	e.mu.Lock()
	hook := e.Hook
	e.mu.Unlock()
	if hook == nil {
		return nil
	}
	return hook(ctx, step, object)
}

// SetHook replaces Hook under the engine lock.
func (e *Engine) SetHook(fn func(ctx context.Context, step, object string) error) {
	e.mu.Lock()
	e.Hook = fn
	e.mu.Unlock()
}

func (e *Engine) Connect(ctx context.Context, uri string) (core.MediaClient, error) {
	if err := e.step(ctx, StepConnect, uri); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.connects++
	e.mu.Unlock()
	return &client{e: e}, nil
}

func (e *Engine) Connects() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connects
}

func (e *Engine) newElement(kind, parent string) *Element {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	el := &Element{e: e, Kind: kind, Parent: parent, id: fmt.Sprintf("%s-%d", kind, e.seq)}
	e.elements[el.id] = el
	e.order = append(e.order, el)
	return el
}

// Elements returns every element of kind created so far, in creation order.
func (e *Engine) Elements(kind string) []*Element {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Element
	for _, el := range e.order {
		if el.Kind == kind {
			out = append(out, el)
		}
	}
	return out
}

// Released reports whether id was released directly or through its pipeline.
func (e *Engine) Released(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id != "" {
		for _, r := range e.released {
			if r == id {
				return true
			}
		}
		el, ok := e.elements[id]
		if !ok {
			return false
		}
		id = el.Parent
	}
	return false
}

func (e *Engine) Links() []Link {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Link(nil), e.links...)
}

type client struct {
	e *Engine
}

func (c *client) CreatePipeline(ctx context.Context) (core.Pipeline, error) {
	if err := c.e.step(ctx, StepCreatePipeline, ""); err != nil {
		return nil, err
	}
	return c.e.newElement(KindPipeline, ""), nil
}

func (c *client) Close() error { return nil }

const (
	KindPipeline = "pipeline"
	KindWebRTC   = "webrtc"
	KindRecorder = "recorder"
	KindPlayer   = "player"
)

// Element implements every media interface; Kind tells which one it stands for.
type Element struct {
	e      *Engine
	id     string
	Kind   string
	Parent string
	URI    string

	mu         sync.Mutex
	candidates []webrtc.ICECandidateInit
	onICE      func(webrtc.ICECandidateInit)
	onEOS      func()
	offer      string
	recording  bool
	playing    bool
}

func (el *Element) ID() string { return el.id }

func (el *Element) Connect(ctx context.Context, sink core.MediaElement, mediaType core.MediaType) error {
	if err := el.e.step(ctx, StepLink, el.id); err != nil {
		return err
	}
	el.e.mu.Lock()
	el.e.links = append(el.e.links, Link{Source: el.id, Sink: sink.ID(), Media: mediaType})
	el.e.mu.Unlock()
	return nil
}

func (el *Element) Release(ctx context.Context) error {
	if err := el.e.step(ctx, StepRelease, el.id); err != nil {
		return err
	}
	el.e.mu.Lock()
	el.e.released = append(el.e.released, el.id)
	el.e.mu.Unlock()
	return nil
}

func (el *Element) CreateWebRTCEndpoint(ctx context.Context) (core.WebRTCEndpoint, error) {
	if err := el.e.step(ctx, StepCreateWebRTC, el.id); err != nil {
		return nil, err
	}
	return el.e.newElement(KindWebRTC, el.id), nil
}

func (el *Element) CreateRecorderEndpoint(ctx context.Context, uri, profile string) (core.RecorderEndpoint, error) {
	if err := el.e.step(ctx, StepCreateRecorder, el.id); err != nil {
		return nil, err
	}
	r := el.e.newElement(KindRecorder, el.id)
	r.URI = uri
	return r, nil
}

func (el *Element) CreatePlayerEndpoint(ctx context.Context, uri string) (core.PlayerEndpoint, error) {
	if err := el.e.step(ctx, StepCreatePlayer, el.id); err != nil {
		return nil, err
	}
	p := el.e.newElement(KindPlayer, el.id)
	p.URI = uri
	return p, nil
}

func (el *Element) ProcessOffer(ctx context.Context, offer string) (string, error) {
	if err := el.e.step(ctx, StepProcessOffer, el.id); err != nil {
		return "", err
	}
	el.mu.Lock()
	el.offer = offer
	el.mu.Unlock()
	return "answer:" + el.id, nil
}

func (el *Element) AddICECandidate(ctx context.Context, c webrtc.ICECandidateInit) error {
	if err := el.e.step(ctx, StepAddCandidate, el.id); err != nil {
		return err
	}
	el.mu.Lock()
	el.candidates = append(el.candidates, c)
	el.mu.Unlock()
	return nil
}

func (el *Element) OnICECandidate(ctx context.Context, fn func(webrtc.ICECandidateInit)) error {
	if err := el.e.step(ctx, StepSubscribe, el.id); err != nil {
		return err
	}
	el.mu.Lock()
	el.onICE = fn
	el.mu.Unlock()
	return nil
}

func (el *Element) GatherCandidates(ctx context.Context) error {
	return el.e.step(ctx, StepGather, el.id)
}

func (el *Element) Record(ctx context.Context) error {
	if err := el.e.step(ctx, StepRecord, el.id); err != nil {
		return err
	}
	el.mu.Lock()
	el.recording = true
	el.mu.Unlock()
	return nil
}

func (el *Element) Play(ctx context.Context) error {
	if err := el.e.step(ctx, StepPlay, el.id); err != nil {
		return err
	}
	el.mu.Lock()
	el.playing = true
	el.mu.Unlock()
	return nil
}

func (el *Element) OnEndOfStream(ctx context.Context, fn func()) error {
	if err := el.e.step(ctx, StepSubscribe, el.id); err != nil {
		return err
	}
	el.mu.Lock()
	el.onEOS = fn
	el.mu.Unlock()
	return nil
}

// Candidates returns the remote candidates delivered so far, in order.
func (el *Element) Candidates() []webrtc.ICECandidateInit {
	el.mu.Lock()
	defer el.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), el.candidates...)
}

func (el *Element) Recording() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.recording
}

func (el *Element) Playing() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.playing
}

// EmitCandidate fakes a locally gathered candidate.
func (el *Element) EmitCandidate(c webrtc.ICECandidateInit) {
	el.mu.Lock()
	fn := el.onICE
	el.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// EndOfStream fakes the player reaching the end of its asset.
func (el *Element) EndOfStream() {
	el.mu.Lock()
	fn := el.onEOS
	el.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Candidate builds a host candidate line with the given foundation.
func Candidate(foundation int) webrtc.ICECandidateInit {
	mid := "0"
	var idx uint16
	return webrtc.ICECandidateInit{
		Candidate:     fmt.Sprintf("candidate:%d 1 udp 2122260223 192.0.2.1 %d typ host", foundation, 50000+foundation),
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
}

// Offer returns the last SDP offer processed by the endpoint.
func (el *Element) Offer() string {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.offer
}
