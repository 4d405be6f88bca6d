package signal

import (
	"github.com/dkeye/One2Many/internal/core"
	"github.com/pion/webrtc/v4"
)

// Notifier pushes unsolicited server messages over signal connections.
type Notifier struct{}

func (Notifier) NotifyICECandidate(sig core.SignalConnection, c webrtc.ICECandidateInit) {
	sendJSON(sig, iceCandidateMessage{ID: "iceCandidate", Candidate: c})
}

func (Notifier) NotifyStopCommunication(sig core.SignalConnection) {
	sendJSON(sig, idMessage{ID: "stopCommunication"})
}

func (Notifier) NotifyPlayEnd(sig core.SignalConnection) {
	sendJSON(sig, idMessage{ID: "playEnd"})
}
