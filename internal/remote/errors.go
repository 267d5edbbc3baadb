package remote

import "errors"

var (
	// ErrStoreUnavailable indicates the nonce store could not be read or
	// written. The request is dropped; failing open would permit replays.
	ErrStoreUnavailable = errors.New("remote: nonce store unavailable")
)
