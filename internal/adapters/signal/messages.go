package signal

import "github.com/pion/webrtc/v4"

// inbound is every client message; which fields matter depends on ID.
type inbound struct {
	ID        string                   `json:"id"`
	SDPOffer  string                   `json:"sdpOffer,omitempty"`
	FileName  string                   `json:"fileName,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

type presenterRequest struct {
	SDPOffer string `json:"sdpOffer" validate:"required,sdp"`
	FileName string `json:"fileName" validate:"omitempty,filename"`
}

type viewerRequest struct {
	SDPOffer string `json:"sdpOffer" validate:"required,sdp"`
}

type playRequest struct {
	SDPOffer string `json:"sdpOffer" validate:"required,sdp"`
	FileName string `json:"fileName" validate:"required,filename"`
}

type startRequest struct {
	FileName string `json:"fileName" validate:"required,filename"`
}

type outbound interface {
	kind() string
}

const (
	accepted = "accepted"
	rejected = "rejected"
)

// response answers presenter, viewer and play requests.
type response struct {
	ID        string `json:"id"`
	Response  string `json:"response"`
	SDPAnswer string `json:"sdpAnswer,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (m response) kind() string { return m.ID }

type iceCandidateMessage struct {
	ID        string                  `json:"id"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

func (m iceCandidateMessage) kind() string { return m.ID }

// idMessage carries no payload: stopCommunication, playEnd.
type idMessage struct {
	ID string `json:"id"`
}

func (m idMessage) kind() string { return m.ID }

type errorMessage struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (m errorMessage) kind() string { return m.ID }
