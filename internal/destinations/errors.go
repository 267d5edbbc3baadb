package destinations

import "errors"

var (
	// ErrConnectionFailed indicates a connect attempt did not reach the
	// connected state. Drives the session's backoff machine.
	ErrConnectionFailed = errors.New("destinations: connection failed")

	// ErrNotConnected indicates a publish was attempted while the
	// session is not connected. The message is dropped and counted.
	ErrNotConnected = errors.New("destinations: not connected")

	// ErrPublishFailed indicates the transport rejected or timed out a
	// publish while connected.
	ErrPublishFailed = errors.New("destinations: publish failed")

	// ErrSubscribeFailed indicates the transport rejected a subscription.
	ErrSubscribeFailed = errors.New("destinations: subscribe failed")

	// ErrUnknownDestination indicates a publish to a destination name
	// that is not configured.
	ErrUnknownDestination = errors.New("destinations: unknown destination")
)
