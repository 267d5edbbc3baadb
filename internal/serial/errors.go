package serial

import "errors"

// Domain-specific errors for serial device operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDeviceUnavailable is returned when no configured port can be opened.
	// Fatal at startup; mid-run it drives the reopen-with-backoff loop.
	ErrDeviceUnavailable = errors.New("serial: device unavailable")

	// ErrDeviceGone is returned when the underlying device faults mid-operation
	// (I/O error, unplug). The caller must stop reading and reopen.
	ErrDeviceGone = errors.New("serial: device lost")

	// ErrCommandTimeout is returned when a command could not acquire the
	// channel, or did not complete, within its allotted time.
	ErrCommandTimeout = errors.New("serial: command timed out")

	// ErrClosed is returned for operations on a closed channel.
	ErrClosed = errors.New("serial: channel closed")
)
