package rtc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/One2Many/internal/core"
	"github.com/dkeye/One2Many/internal/testutil"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"
)

type countingWriter struct {
	mu  sync.Mutex
	n   int
	err error
}

func (w *countingWriter) WriteRTP(*rtp.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.n++
	return nil
}

func (w *countingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

func TestRelayForward(t *testing.T) {
	logger := zerolog.Nop()
	r := NewRelay(webrtc.RTPCodecTypeAudio)
	ok := &countingWriter{}
	muted := &countingWriter{}
	broken := &countingWriter{err: errors.New("closed")}

	r.AddOutTrack("ok", NewOutTrack(ok))
	mt := NewOutTrack(muted)
	mt.MarkMuted()
	r.AddOutTrack("muted", mt)
	r.AddOutTrack("broken", NewOutTrack(broken))

	for i := 0; i < 3; i++ {
		r.forward(&rtp.Packet{Payload: []byte{1}}, &logger)
	}
	if ok.count() != 3 {
		t.Fatalf("ok writer got %d packets", ok.count())
	}
	if muted.count() != 0 {
		t.Fatal("muted writer received packets")
	}
	if r.Subscribers() != 2 {
		t.Fatalf("broken writer not dropped, subscribers=%d", r.Subscribers())
	}

	r.RemoveOutTrack("ok")
	r.forward(&rtp.Packet{Payload: []byte{1}}, &logger)
	if ok.count() != 3 || r.Subscribers() != 1 {
		t.Fatal("removed subscriber still fed")
	}
}

func TestOfferIntents(t *testing.T) {
	offer := strings.Join([]string{
		"v=0",
		"o=- 1 2 IN IP4 127.0.0.1",
		"s=-",
		"t=0 0",
		"m=audio 9 UDP/TLS/RTP/SAVPF 111",
		"c=IN IP4 0.0.0.0",
		"a=sendonly",
		"a=rtpmap:111 opus/48000/2",
		"m=video 9 UDP/TLS/RTP/SAVPF 96",
		"c=IN IP4 0.0.0.0",
		"a=recvonly",
		"a=rtpmap:96 VP8/90000",
		"m=video 0 UDP/TLS/RTP/SAVPF 96",
		"c=IN IP4 0.0.0.0",
		"a=sendrecv",
		"",
	}, "\r\n")

	in, err := offerIntents(offer)
	if err != nil {
		t.Fatalf("offerIntents: %v", err)
	}
	if a := in[webrtc.RTPCodecTypeAudio]; !a.Sends || a.Receives {
		t.Fatalf("audio intent %+v", a)
	}
	// The rejected section must not turn video into sendrecv.
	if v := in[webrtc.RTPCodecTypeVideo]; v.Sends || !v.Receives {
		t.Fatalf("video intent %+v", v)
	}

	if _, err := offerIntents("not sdp"); err == nil {
		t.Fatal("garbage offer accepted")
	}
}

func TestFilePath(t *testing.T) {
	cases := map[string]string{
		"file:///tmp/records/a.ogg": "/tmp/records/a.ogg",
		"/var/rec/b.ogg":            "/var/rec/b.ogg",
	}
	for in, want := range cases {
		got, err := filePath(in)
		if err != nil || got != want {
			t.Errorf("filePath(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := filePath("http://example.com/x.webm"); err == nil {
		t.Error("http uri accepted")
	}
}

func newClient(t *testing.T) core.MediaClient {
	t.Helper()
	c, err := NewEngine(webrtc.Configuration{}).Connect(context.Background(), "embedded://")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func writeOgg(t *testing.T, path string, frames int) {
	t.Helper()
	w, err := oggwriter.New(path, 48000, 2)
	if err != nil {
		t.Fatalf("oggwriter: %v", err)
	}
	for i := 0; i < frames; i++ {
		pkt := &rtp.Packet{
			Header:  rtp.Header{Version: 2, PayloadType: 111, SequenceNumber: uint16(i), Timestamp: uint32(i * 960)},
			Payload: []byte{0xfc, 0xff, 0xfe},
		}
		if err := w.WriteRTP(pkt); err != nil {
			t.Fatalf("WriteRTP: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestPlayerIntoRecorder(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.ogg")
	dst := filepath.Join(dir, "out", "copy.ogg")
	writeOgg(t, src, 5)

	ctx := context.Background()
	p, err := newClient(t).CreatePipeline(ctx)
	if err != nil {
		t.Fatal(err)
	}
	player, err := p.CreatePlayerEndpoint(ctx, "file://"+src)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := p.CreateRecorderEndpoint(ctx, "file://"+dst, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := player.Connect(ctx, rec, core.MediaAudio); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := rec.Connect(ctx, player, core.MediaAll); !errors.Is(err, ErrNotSource) {
		t.Fatalf("recorder as source: %v", err)
	}
	if err := rec.Record(ctx); err != nil {
		t.Fatalf("Record: %v", err)
	}

	eos := make(chan struct{})
	var once sync.Once
	player.OnEndOfStream(ctx, func() { once.Do(func() { close(eos) }) })
	if err := player.Play(ctx); err != nil {
		t.Fatalf("Play: %v", err)
	}
	testutil.RequireClosed(t, eos, 5*time.Second, "end of stream")

	if err := p.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	in, _ := os.Stat(src)
	out, err := os.Stat(dst)
	if err != nil {
		t.Fatalf("recording missing: %v", err)
	}
	// Headers alone are well below the size of the five frames plus headers.
	if out.Size() < in.Size()/2 {
		t.Fatalf("recording too small: %d bytes (source %d)", out.Size(), in.Size())
	}
	if err := player.Play(ctx); !errors.Is(err, ErrReleased) {
		t.Fatalf("Play after release: %v", err)
	}
}

func TestPlayerMissingFile(t *testing.T) {
	ctx := context.Background()
	p, _ := newClient(t).CreatePipeline(ctx)
	player, err := p.CreatePlayerEndpoint(ctx, filepath.Join(t.TempDir(), "nope.ogg"))
	if err != nil {
		t.Fatal(err)
	}
	if err := player.Play(ctx); err == nil {
		t.Fatal("missing asset played")
	}
}

func TestWebRTCEndpointAnswersRecvOnlyOffer(t *testing.T) {
	ctx := context.Background()
	p, _ := newClient(t).CreatePipeline(ctx)
	ep, err := p.CreateWebRTCEndpoint(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release(ctx)

	viewer, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	defer viewer.Close()
	if _, err := viewer.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		t.Fatal(err)
	}
	offer, err := viewer.CreateOffer(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := viewer.SetLocalDescription(offer); err != nil {
		t.Fatal(err)
	}

	// Candidates before the offer are held, not rejected.
	if err := ep.AddICECandidate(ctx, testutil.Candidate(1)); err != nil {
		t.Fatalf("early candidate: %v", err)
	}
	answer, err := ep.ProcessOffer(ctx, offer.SDP)
	if err != nil {
		t.Fatalf("ProcessOffer: %v", err)
	}
	if !strings.Contains(answer, "a=sendonly") {
		t.Fatalf("answer does not send audio:\n%s", answer)
	}
	if err := viewer.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		t.Fatalf("viewer rejected answer: %v", err)
	}
	if ep.(*webRTCEndpoint).writer(webrtc.RTPCodecTypeAudio) == nil {
		t.Fatal("no local audio track for the viewer")
	}
}
