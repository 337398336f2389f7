package peer

import (
	"github.com/pkg/errors"
)

var (
	ErrUnexpectedAnswer     = errors.New("answer received without a local offer")
	ErrMissingPayload       = errors.New("message without payload")
	ErrDescriptionType      = errors.New("unexpected description type")
	ErrMalformedDescription = errors.New("malformed session description")
)

// NegotiationError is a contained failure of one negotiation step. The
// session stays open after it.
type NegotiationError struct {
	PeerID string
	Op     string
	Err    error
}

func (e *NegotiationError) Error() string {
	return "negotiation with " + e.PeerID + ": " + e.Op + ": " + e.Err.Error()
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}
