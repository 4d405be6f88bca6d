package testutil

import (
	"sync"

	"github.com/dkeye/One2Many/internal/core"
	"github.com/pion/webrtc/v4"
)

// Signal is a core.SignalConnection that keeps every frame it was sent.
type Signal struct {
	Name string

	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func NewSignal(name string) *Signal { return &Signal{Name: name} }

func (s *Signal) TrySend(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *Signal) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Signal) Frames() []core.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Frame(nil), s.frames...)
}

func (s *Signal) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Notice is one call made on a Notifier.
type Notice struct {
	Kind      string // "iceCandidate" | "stopCommunication" | "playEnd"
	To        core.SignalConnection
	Candidate webrtc.ICECandidateInit
}

// Notifier records notices in call order.
type Notifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *Notifier) add(x Notice) {
	n.mu.Lock()
	n.notices = append(n.notices, x)
	n.mu.Unlock()
}

func (n *Notifier) NotifyICECandidate(sig core.SignalConnection, c webrtc.ICECandidateInit) {
	n.add(Notice{Kind: "iceCandidate", To: sig, Candidate: c})
}

func (n *Notifier) NotifyStopCommunication(sig core.SignalConnection) {
	n.add(Notice{Kind: "stopCommunication", To: sig})
}

func (n *Notifier) NotifyPlayEnd(sig core.SignalConnection) {
	n.add(Notice{Kind: "playEnd", To: sig})
}

// Sent returns the notices of kind addressed to sig.
func (n *Notifier) Sent(sig core.SignalConnection, kind string) []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Notice
	for _, x := range n.notices {
		if x.To == sig && x.Kind == kind {
			out = append(out, x)
		}
	}
	return out
}
