package service

import (
	"errors"

	"github.com/proposalgate/proposalgate/internal/codec"
	"github.com/proposalgate/proposalgate/internal/store"
)

// Validation and session failures share their sentinels with the store and
// codec so errors.Is works across layers.
var (
	ErrNotFound             = store.ErrNotFound
	ErrExpired              = store.ErrExpired
	ErrAlreadyConsumed      = store.ErrAlreadyConsumed
	ErrRevoked              = store.ErrRevoked
	ErrSessionEnded         = store.ErrSessionEnded
	ErrMaxExtensionsReached = store.ErrMaxExtensionsReached
	ErrDuplicateReference   = store.ErrDuplicateReference
	ErrInvalidSignature     = codec.ErrInvalidSignature
	ErrWrongTokenType       = codec.ErrWrongTokenType
)

var (
	ErrDurationOutOfBounds  = errors.New("duration out of bounds")
	ErrResourceNotFound     = errors.New("resource not found")
	ErrRecipientNotEligible = errors.New("recipient not eligible")
	ErrInvalidRecipient     = errors.New("invalid recipient")
	ErrInvalidScope         = errors.New("invalid scope")
	// ErrUnsupported is returned for operations the signed strategy cannot
	// perform, such as revoking a stateless token.
	ErrUnsupported = errors.New("operation not supported by the signed strategy")

	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Reason returns a stable machine-readable name for err, used in logs,
// metric labels and admin responses. Unrecognized errors are "internal".
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrAlreadyConsumed):
		return "already_consumed"
	case errors.Is(err, ErrRevoked):
		return "revoked"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrWrongTokenType):
		return "wrong_token_type"
	case errors.Is(err, ErrRecipientNotEligible):
		return "recipient_not_eligible"
	case errors.Is(err, ErrSessionEnded):
		return "session_ended"
	case errors.Is(err, ErrMaxExtensionsReached):
		return "max_extensions_reached"
	case errors.Is(err, ErrDurationOutOfBounds):
		return "duration_out_of_bounds"
	case errors.Is(err, ErrResourceNotFound):
		return "resource_not_found"
	case errors.Is(err, ErrInvalidRecipient):
		return "invalid_recipient"
	case errors.Is(err, ErrInvalidScope):
		return "invalid_scope"
	case errors.Is(err, ErrDuplicateReference):
		return "duplicate_reference"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	default:
		return "internal"
	}
}

// IsAccessDenied reports whether err is a routine refusal of a presented
// credential or session, as opposed to an infrastructure failure.
func IsAccessDenied(err error) bool {
	switch Reason(err) {
	case "not_found", "expired", "already_consumed", "revoked", "invalid_signature",
		"wrong_token_type", "recipient_not_eligible", "session_ended":
		return true
	}
	return false
}
