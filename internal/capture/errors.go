package capture

import (
	"errors"
	"fmt"
)

// DeviceErrorKind tags the acquisition failure classes once, at the
// boundary, instead of string-matching platform error names downstream.
type DeviceErrorKind string

const (
	DeviceErrorPermissionDenied DeviceErrorKind = "permission-denied"
	DeviceErrorNotFound         DeviceErrorKind = "not-found"
	DeviceErrorInUse            DeviceErrorKind = "in-use"
	DeviceErrorUnsupported      DeviceErrorKind = "unsupported"
	DeviceErrorOverConstrained  DeviceErrorKind = "over-constrained"
)

// DeviceAccessError wraps a device acquisition failure with its kind.
type DeviceAccessError struct {
	Kind DeviceErrorKind
	Err  error
}

func (e *DeviceAccessError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("device access failed: %s", e.Kind)
	}
	return fmt.Sprintf("device access failed (%s): %v", e.Kind, e.Err)
}

func (e *DeviceAccessError) Unwrap() error { return e.Err }

// ErrNoAudioCaptured is raised when a session stops with zero collected
// chunks; the session stays Stopped and never reaches Finalized.
var ErrNoAudioCaptured = errors.New("no audio captured")

// ErrDeviceBusy is returned when a second session tries to record while
// another session holds the device.
var ErrDeviceBusy = errors.New("recording device already in use")

// ErrInvalidTransition is returned for operations that are not legal in the
// session's current state.
var ErrInvalidTransition = errors.New("invalid capture session transition")

// ErrNotFinalized is returned when the assembled buffer is requested before
// assembly completed.
var ErrNotFinalized = errors.New("capture session not finalized")
