package auth

import "errors"

var (
	// ErrProviderUnavailable indicates the token utility could not be
	// executed. Token destinations stay in backoff until it recovers.
	ErrProviderUnavailable = errors.New("auth: token provider unavailable")

	// ErrInvalidToken indicates a token that is structurally not a
	// three-part JWT or whose payload does not decode.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrBadSignature indicates a token whose signature does not verify
	// against the declared issuer key.
	ErrBadSignature = errors.New("auth: signature verification failed")

	// ErrKeyUnavailable indicates the device did not expose the key
	// material needed for the operation.
	ErrKeyUnavailable = errors.New("auth: key material unavailable")
)
