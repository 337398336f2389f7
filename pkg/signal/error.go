package signal

import (
	"github.com/pkg/errors"
)

var (
	// ErrClosed is returned when sending on a client that was already closed.
	ErrClosed = errors.New("signaling channel closed")

	// ErrUnknownCodec is returned for a codec name that is not registered.
	ErrUnknownCodec = errors.New("unknown signaling codec")
)
