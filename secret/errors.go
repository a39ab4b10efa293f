package secret

import "errors"

// Errors returned by the path-secret store's operations (spec §4.2).
var (
	ErrUnknownID     = errors.New("secret: unknown credential id")
	ErrRetired       = errors.New("secret: credential retired")
	ErrStaleKey      = errors.New("secret: key id below accepted window")
	ErrCryptoRetired = errors.New("secret: key id space exhausted")

	// ErrReplayPotentiallyDetected is a warning-grade signal: a packet
	// number fell below the left edge of the replay window. It may be
	// downgraded to a single warning (spec §4.2).
	ErrReplayPotentiallyDetected = errors.New("secret: replay potentially detected")

	// ErrReplayDefinitelyDetected: a packet number inside the window
	// was seen before. Fatal for that key (spec §4.2).
	ErrReplayDefinitelyDetected = errors.New("secret: replay definitely detected")

	ErrUnknownSubtype    = errors.New("secret: unknown secret-control subtype")
	ErrProtocolViolation = errors.New("secret: protocol violation")
)

// ReplayPotentiallyDetectedError carries the gap between the rejected
// packet number and the window's left edge, as required by spec §4.2's
// check_dedup return type.
type ReplayPotentiallyDetectedError struct {
	Gap uint64
}

func (e *ReplayPotentiallyDetectedError) Error() string {
	return ErrReplayPotentiallyDetected.Error()
}

func (e *ReplayPotentiallyDetectedError) Unwrap() error {
	return ErrReplayPotentiallyDetected
}
