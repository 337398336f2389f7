package peer

import "media-coordinator/pkg/signal"

// Signal carries outbound messages to the remote peer.
type Signal interface {
	Send(*signal.Message) error
}

// Loop runs functions one at a time on the goroutine that owns session state.
type Loop interface {
	Post(func())
}
