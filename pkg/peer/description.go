package peer

import (
	"media-coordinator/pkg/signal"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
)

// parseDescription converts a wire description and checks that it has the
// expected type and parses as SDP. It returns the media kinds it offers.
func parseDescription(d *signal.Description, want webrtc.SDPType) (webrtc.SessionDescription, []string, error) {
	if d == nil {
		return webrtc.SessionDescription{}, nil, ErrMissingPayload
	}

	typ := webrtc.NewSDPType(d.Type)
	if typ != want {
		return webrtc.SessionDescription{}, nil, errors.Wrapf(ErrDescriptionType, "got %q, want %q", d.Type, want)
	}

	parsed := &sdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(d.SDP)); err != nil {
		return webrtc.SessionDescription{}, nil, errors.Wrap(ErrMalformedDescription, err.Error())
	}

	kinds := make([]string, 0, len(parsed.MediaDescriptions))
	for _, md := range parsed.MediaDescriptions {
		kinds = append(kinds, md.MediaName.Media)
	}

	return webrtc.SessionDescription{Type: typ, SDP: d.SDP}, kinds, nil
}

func wireDescription(d webrtc.SessionDescription) *signal.Description {
	return &signal.Description{Type: d.Type.String(), SDP: d.SDP}
}

func parseCandidate(c *signal.Candidate) (webrtc.ICECandidateInit, error) {
	if c == nil {
		return webrtc.ICECandidateInit{}, ErrMissingPayload
	}

	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}, nil
}

func wireCandidate(c webrtc.ICECandidateInit) *signal.Candidate {
	return &signal.Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
