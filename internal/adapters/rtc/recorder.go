package rtc

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/dkeye/One2Many/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"
)

// recorderEndpoint writes the Opus audio it is linked to into an Ogg file.
// Packets arriving before Record are dropped.
type recorderEndpoint struct {
	element
	path    string
	profile string

	mu     sync.Mutex
	w      *oggwriter.OggWriter
	closed bool
}

func (r *recorderEndpoint) Record(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrReleased
	}
	if r.w != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	w, err := oggwriter.New(r.path, 48000, 2)
	if err != nil {
		return err
	}
	r.w = w
	log.Info().Str("module", "rtc").Str("recorder", r.id).Str("path", r.path).Str("profile", r.profile).Msg("recording")
	return nil
}

// WriteRTP makes the recorder a relay subscriber.
func (r *recorderEndpoint) WriteRTP(p *rtp.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	return r.w.WriteRTP(p)
}

func (r *recorderEndpoint) writer(kind webrtc.RTPCodecType) rtpWriter {
	if kind != webrtc.RTPCodecTypeAudio {
		return nil
	}
	return r
}

func (r *recorderEndpoint) linked(webrtc.RTPCodecType, *Relay) {}

func (r *recorderEndpoint) Connect(context.Context, core.MediaElement, core.MediaType) error {
	return ErrNotSource
}

func (r *recorderEndpoint) Release(context.Context) error {
	r.p.remove(r.id)
	return r.close()
}

func (r *recorderEndpoint) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.w == nil {
		return nil
	}
	err := r.w.Close()
	r.w = nil
	log.Info().Str("module", "rtc").Str("recorder", r.id).Str("path", r.path).Msg("recording closed")
	return err
}
