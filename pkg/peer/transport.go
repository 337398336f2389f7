package peer

import (
	"media-coordinator/pkg/media"

	"github.com/pion/webrtc/v3"
)

// Transport is the connection underneath a session. Callbacks may fire on
// any goroutine.
type Transport interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error

	// Rollback abandons an unfinished exchange and leaves the transport with
	// no local or remote description and its local tracks still attached.
	Rollback() error

	AddTrack(webrtc.TrackLocal) error
	RemoveTracks() error

	Close() error

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnTrack(func(media.RemoteTrack))
	OnNegotiationNeeded(func())
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
}

// TransportFactory opens a transport for a newly seen peer.
type TransportFactory func(peerID string) (Transport, error)
