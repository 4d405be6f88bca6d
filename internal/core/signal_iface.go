package core

import "github.com/pion/webrtc/v4"

// Frame is a raw encoded signaling message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Notifier pushes unsolicited server messages to a session.
// Implemented by the signaling adapter, which owns the wire format.
type Notifier interface {
	NotifyICECandidate(sig SignalConnection, c webrtc.ICECandidateInit)
	NotifyStopCommunication(sig SignalConnection)
	NotifyPlayEnd(sig SignalConnection)
}
