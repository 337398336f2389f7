package peer

// Phase is the negotiation phase of a session.
type Phase int

const (
	PhaseNew Phase = iota
	PhaseHaveLocalOffer
	PhaseHaveRemoteOffer
	PhaseStable
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseNew:
		return "new"
	case PhaseHaveLocalOffer:
		return "have-local-offer"
	case PhaseHaveRemoteOffer:
		return "have-remote-offer"
	case PhaseStable:
		return "stable"
	case PhaseClosed:
		return "closed"
	}

	return "unknown"
}

// settled reports whether a fresh local offer may start from this phase.
func (p Phase) settled() bool {
	return p == PhaseNew || p == PhaseStable
}
