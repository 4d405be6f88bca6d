// Package rtc is an embedded media engine: pipelines of pion PeerConnections
// joined by RTP relays, with Ogg/Opus recording and playback.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/dkeye/One2Many/internal/core"
	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrReleased  = errors.New("element released")
	ErrNotSource = errors.New("element has no media output")
	ErrNotSink   = errors.New("element takes no media input")
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// Engine is a core.MediaConnector that runs the media plane in process.
type Engine struct {
	Config webrtc.Configuration
}

func NewEngine(cfg webrtc.Configuration) *Engine {
	return &Engine{Config: cfg}
}

// Connect builds the pion API. uri is only logged; there is no remote server.
func (e *Engine) Connect(_ context.Context, uri string) (core.MediaClient, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("pli interceptor: %w", err)
	}
	ir.Add(pli)

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir))
	log.Info().Str("module", "rtc").Str("uri", uri).Msg("embedded media engine ready")
	return &client{api: api, cfg: e.Config}, nil
}

type client struct {
	api *webrtc.API
	cfg webrtc.Configuration

	mu        sync.Mutex
	pipelines map[string]*pipeline
}

func (c *client) CreatePipeline(context.Context) (core.Pipeline, error) {
	p := &pipeline{
		client:   c,
		id:       uuid.NewString(),
		elements: make(map[string]releasable),
	}
	c.mu.Lock()
	if c.pipelines == nil {
		c.pipelines = make(map[string]*pipeline)
	}
	c.pipelines[p.id] = p
	c.mu.Unlock()
	log.Debug().Str("module", "rtc").Str("pipeline", p.id).Msg("pipeline created")
	return p, nil
}

func (c *client) Close() error {
	c.mu.Lock()
	ps := make([]*pipeline, 0, len(c.pipelines))
	for _, p := range c.pipelines {
		ps = append(ps, p)
	}
	c.mu.Unlock()
	for _, p := range ps {
		p.Release(context.Background())
	}
	return nil
}

type releasable interface {
	core.MediaElement
	close() error
}

// source elements feed relays, sink elements take writers.
type source interface {
	relay(kind webrtc.RTPCodecType) *Relay
}

type sink interface {
	writer(kind webrtc.RTPCodecType) rtpWriter
	linked(kind webrtc.RTPCodecType, upstream *Relay)
}

type pipeline struct {
	client *client
	id     string

	mu       sync.Mutex
	released bool
	elements map[string]releasable
}

func (p *pipeline) ID() string { return p.id }

func (p *pipeline) add(el releasable) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return ErrReleased
	}
	p.elements[el.ID()] = el
	return nil
}

// remove forgets id and unsubscribes it from every relay in the pipeline.
func (p *pipeline) remove(id string) {
	p.mu.Lock()
	delete(p.elements, id)
	others := make([]releasable, 0, len(p.elements))
	for _, el := range p.elements {
		others = append(others, el)
	}
	p.mu.Unlock()
	for _, el := range others {
		if src, ok := el.(source); ok {
			for _, kind := range kinds(core.MediaAll) {
				if r := src.relay(kind); r != nil {
					r.RemoveOutTrack(id)
				}
			}
		}
	}
}

func (p *pipeline) Release(context.Context) error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil
	}
	p.released = true
	els := p.elements
	p.elements = make(map[string]releasable)
	p.mu.Unlock()

	var errs []error
	for _, el := range els {
		if err := el.close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.client.mu.Lock()
	delete(p.client.pipelines, p.id)
	p.client.mu.Unlock()
	log.Debug().Str("module", "rtc").Str("pipeline", p.id).Int("elements", len(els)).Msg("pipeline released")
	return errors.Join(errs...)
}

func (p *pipeline) CreateWebRTCEndpoint(ctx context.Context) (core.WebRTCEndpoint, error) {
	pc, err := p.client.api.NewPeerConnection(p.client.cfg)
	if err != nil {
		return nil, err
	}
	ep := newWebRTCEndpoint(ctx, p, pc)
	if err := p.add(ep); err != nil {
		_ = pc.Close()
		return nil, err
	}
	return ep, nil
}

func (p *pipeline) CreateRecorderEndpoint(_ context.Context, uri, profile string) (core.RecorderEndpoint, error) {
	path, err := filePath(uri)
	if err != nil {
		return nil, err
	}
	r := &recorderEndpoint{element: element{id: uuid.NewString(), p: p}, path: path, profile: profile}
	if err := p.add(r); err != nil {
		return nil, err
	}
	return r, nil
}

func (p *pipeline) CreatePlayerEndpoint(_ context.Context, uri string) (core.PlayerEndpoint, error) {
	path, err := filePath(uri)
	if err != nil {
		return nil, err
	}
	pl := newPlayerEndpoint(p, path)
	if err := p.add(pl); err != nil {
		return nil, err
	}
	return pl, nil
}

// element is the shared part of every pipeline member.
type element struct {
	id string
	p  *pipeline
}

func (e *element) ID() string { return e.id }

// link subscribes dst to the relays of src for the requested media.
func link(srcID string, src source, dst core.MediaElement, mediaType core.MediaType) error {
	s, ok := dst.(sink)
	if !ok {
		return ErrNotSink
	}
	n := 0
	for _, kind := range kinds(mediaType) {
		r := src.relay(kind)
		w := s.writer(kind)
		if r == nil || w == nil {
			continue
		}
		r.AddOutTrack(dst.ID(), NewOutTrack(w))
		s.linked(kind, r)
		n++
	}
	log.Debug().Str("module", "rtc").Str("src", srcID).Str("dst", dst.ID()).Str("media", string(mediaType)).Int("tracks", n).Msg("linked")
	return nil
}

func kinds(mt core.MediaType) []webrtc.RTPCodecType {
	switch mt {
	case core.MediaAudio:
		return []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio}
	case core.MediaVideo:
		return []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo}
	default:
		return []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo}
	}
}

// filePath accepts file:// URIs and plain paths.
func filePath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "":
		return uri, nil
	case "file":
		return u.Path, nil
	default:
		return "", fmt.Errorf("unsupported media uri scheme %q", u.Scheme)
	}
}
