package rtc

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/dkeye/One2Many/internal/core"
	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	opusFrame        = 20 * time.Millisecond
	opusFrameSamples = 960
	opusPayloadType  = 111
)

// playerEndpoint streams an Ogg/Opus file into its audio relay, one page
// per 20ms frame.
type playerEndpoint struct {
	element
	path   string
	audio  *Relay
	logger zerolog.Logger

	mu      sync.Mutex
	onEOS   func()
	cancel  context.CancelFunc
	closed  bool
	playing bool
}

func newPlayerEndpoint(p *pipeline, path string) *playerEndpoint {
	id := uuid.NewString()
	return &playerEndpoint{
		element: element{id: id, p: p},
		path:    path,
		audio:   NewRelay(webrtc.RTPCodecTypeAudio),
		logger:  log.With().Str("module", "rtc").Str("player", id).Str("path", path).Logger(),
	}
}

func (pl *playerEndpoint) OnEndOfStream(_ context.Context, fn func()) error {
	pl.mu.Lock()
	pl.onEOS = fn
	pl.mu.Unlock()
	return nil
}

// Play opens the file right away so a missing asset fails the call.
func (pl *playerEndpoint) Play(ctx context.Context) error {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.closed {
		return ErrReleased
	}
	if pl.playing {
		return nil
	}
	f, err := os.Open(pl.path)
	if err != nil {
		return err
	}
	ogg, _, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return err
	}
	playCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	pl.cancel = cancel
	pl.playing = true
	go pl.pump(playCtx, f, ogg)
	return nil
}

func (pl *playerEndpoint) pump(ctx context.Context, f *os.File, ogg *oggreader.OggReader) {
	defer f.Close()
	pl.logger.Info().Msg("playing")

	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()
	pkt := &rtp.Packet{Header: rtp.Header{
		Version:        2,
		PayloadType:    opusPayloadType,
		SequenceNumber: uint16(rand.Uint32()),
		Timestamp:      rand.Uint32(),
		SSRC:           rand.Uint32(),
	}}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		page, _, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			pl.logger.Info().Msg("end of stream")
			pl.endOfStream()
			return
		}
		if err != nil {
			pl.logger.Error().Err(err).Msg("ogg read")
			pl.endOfStream()
			return
		}
		pkt.Payload = page
		pl.audio.forward(pkt, &pl.logger)
		pkt.SequenceNumber++
		pkt.Timestamp += opusFrameSamples
	}
}

func (pl *playerEndpoint) endOfStream() {
	pl.mu.Lock()
	fn := pl.onEOS
	closed := pl.closed
	pl.mu.Unlock()
	if fn != nil && !closed {
		fn()
	}
}

func (pl *playerEndpoint) Connect(_ context.Context, sink core.MediaElement, mediaType core.MediaType) error {
	return link(pl.id, pl, sink, mediaType)
}

func (pl *playerEndpoint) relay(kind webrtc.RTPCodecType) *Relay {
	if kind == webrtc.RTPCodecTypeAudio {
		return pl.audio
	}
	return nil
}

func (pl *playerEndpoint) Release(context.Context) error {
	pl.p.remove(pl.id)
	return pl.close()
}

func (pl *playerEndpoint) close() error {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	pl.closed = true
	if pl.cancel != nil {
		pl.cancel()
	}
	pl.audio.Stop()
	return nil
}
