package rtc

import (
	"errors"
	"fmt"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

var ErrNoMedia = errors.New("offer has no audio or video section")

// mediaIntent is what the remote peer wants per media kind.
type mediaIntent struct {
	Sends    bool
	Receives bool
}

// offerIntents reads the direction of every audio and video section.
func offerIntents(offer string) (map[webrtc.RTPCodecType]mediaIntent, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(offer)); err != nil {
		return nil, fmt.Errorf("parse offer: %w", err)
	}
	sessionDir := direction(sd.Attributes, "sendrecv")

	out := make(map[webrtc.RTPCodecType]mediaIntent)
	for _, md := range sd.MediaDescriptions {
		kind := webrtc.NewRTPCodecType(md.MediaName.Media)
		if kind == 0 {
			continue
		}
		// A rejected section has port 0.
		if md.MediaName.Port.Value == 0 {
			continue
		}
		dir := direction(md.Attributes, sessionDir)
		in := out[kind]
		in.Sends = in.Sends || dir == "sendrecv" || dir == "sendonly"
		in.Receives = in.Receives || dir == "sendrecv" || dir == "recvonly"
		out[kind] = in
	}
	if len(out) == 0 {
		return nil, ErrNoMedia
	}
	return out, nil
}

func direction(attrs []sdp.Attribute, fallback string) string {
	for _, a := range attrs {
		switch a.Key {
		case "sendrecv", "sendonly", "recvonly", "inactive":
			return a.Key
		}
	}
	return fallback
}
