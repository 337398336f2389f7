package media

import (
	"github.com/pkg/errors"
)

var (
	// ErrCapabilityUnavailable matches every error returned when a local
	// capture device cannot be used.
	ErrCapabilityUnavailable = errors.New("capability unavailable")

	ErrDeviceNotFound   = errors.New("device not found")
	ErrPermissionDenied = errors.New("permission denied")
)

// CapabilityError reports why a device could not be acquired. It matches
// ErrCapabilityUnavailable and its cause with errors.Is.
type CapabilityError struct {
	Device string
	Err    error
}

func (e *CapabilityError) Error() string {
	return e.Device + ": " + ErrCapabilityUnavailable.Error() + ": " + e.Err.Error()
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

func (e *CapabilityError) Is(target error) bool {
	return target == ErrCapabilityUnavailable
}

func unavailable(device string, err error) error {
	return &CapabilityError{Device: device, Err: err}
}
