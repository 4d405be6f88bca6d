package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaType selects which tracks a Connect call links.
type MediaType string

const (
	MediaAll   MediaType = ""
	MediaAudio MediaType = "AUDIO"
	MediaVideo MediaType = "VIDEO"
)

// MediaConnector opens a client to a media server.
type MediaConnector interface {
	Connect(ctx context.Context, uri string) (MediaClient, error)
}

// MediaClient is a live connection to the media server, shared by all sessions.
type MediaClient interface {
	CreatePipeline(ctx context.Context) (Pipeline, error)
	Close() error
}

// MediaElement is any media server object that can be linked and released.
type MediaElement interface {
	ID() string
	// Connect links this element as a source into sink.
	Connect(ctx context.Context, sink MediaElement, mediaType MediaType) error
	// Release frees the element. Releasing a pipeline releases its children.
	Release(ctx context.Context) error
}

// Pipeline groups connectable endpoints.
type Pipeline interface {
	ID() string
	Release(ctx context.Context) error
	CreateWebRTCEndpoint(ctx context.Context) (WebRTCEndpoint, error)
	CreateRecorderEndpoint(ctx context.Context, uri, profile string) (RecorderEndpoint, error)
	CreatePlayerEndpoint(ctx context.Context, uri string) (PlayerEndpoint, error)
}

type WebRTCEndpoint interface {
	MediaElement
	// ProcessOffer negotiates the remote offer and returns the SDP answer.
	ProcessOffer(ctx context.Context, offer string) (string, error)
	AddICECandidate(ctx context.Context, c webrtc.ICECandidateInit) error
	// OnICECandidate registers a callback for locally gathered candidates.
	OnICECandidate(ctx context.Context, fn func(webrtc.ICECandidateInit)) error
	GatherCandidates(ctx context.Context) error
}

type RecorderEndpoint interface {
	MediaElement
	Record(ctx context.Context) error
}

type PlayerEndpoint interface {
	MediaElement
	Play(ctx context.Context) error
	OnEndOfStream(ctx context.Context, fn func()) error
}
