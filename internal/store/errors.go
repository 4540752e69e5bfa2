package store

import "errors"

var (
	// ErrNotFound is returned when no credential or session has the given id.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateReference is returned by PutCredential/PutSession when the
	// id is already taken.
	ErrDuplicateReference = errors.New("duplicate reference")
	// ErrAlreadyConsumed is returned when a single-use credential has already
	// been used.
	ErrAlreadyConsumed = errors.New("credential already consumed")
	// ErrRevoked is returned when a credential was explicitly revoked.
	ErrRevoked = errors.New("credential revoked")
	// ErrExpired is returned when a credential is past its expiry.
	ErrExpired = errors.New("credential expired")
	// ErrSessionEnded is returned for sessions that were ended or have expired.
	ErrSessionEnded = errors.New("session ended")
	// ErrMaxExtensionsReached is returned when a session cannot be extended
	// any further.
	ErrMaxExtensionsReached = errors.New("maximum session extensions reached")
)

// errForState maps a terminal credential state to its error.
func errForState(state string) error {
	switch state {
	case "consumed":
		return ErrAlreadyConsumed
	case "revoked":
		return ErrRevoked
	case "expired":
		return ErrExpired
	default:
		return nil
	}
}
