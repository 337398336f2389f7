package signal

// Kind tags a signaling message.
type Kind string

// Messages exchanged between peers through the relay.
const (
	KindJoined    Kind = "joined"
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
	KindLeft      Kind = "left"
)

// Control messages between a peer and the relay itself.
const (
	KindJoin    Kind = "join"
	KindLeave   Kind = "leave"
	KindWelcome Kind = "welcome"
	KindError   Kind = "error"
)

// Message is the single envelope used on the signaling channel. From is
// stamped by the relay; To addresses a peer within Room.
type Message struct {
	Kind        Kind         `json:"kind" msgpack:"kind"`
	Room        string       `json:"room,omitempty" msgpack:"room,omitempty"`
	From        string       `json:"from,omitempty" msgpack:"from,omitempty"`
	To          string       `json:"to,omitempty" msgpack:"to,omitempty"`
	Description *Description `json:"description,omitempty" msgpack:"description,omitempty"`
	Candidate   *Candidate   `json:"candidate,omitempty" msgpack:"candidate,omitempty"`
	Error       string       `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Description is a session description on the wire ("offer", "answer").
type Description struct {
	Type string `json:"type" msgpack:"type"`
	SDP  string `json:"sdp" msgpack:"sdp"`
}

// Candidate is a network-path candidate on the wire.
type Candidate struct {
	Candidate        string  `json:"candidate" msgpack:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty" msgpack:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty" msgpack:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty" msgpack:"usernameFragment,omitempty"`
}

// IsPeerMessage reports whether the kind is relayed between peers rather
// than consumed by the relay.
func (k Kind) IsPeerMessage() bool {
	switch k {
	case KindJoined, KindOffer, KindAnswer, KindCandidate, KindLeft:
		return true
	}

	return false
}
