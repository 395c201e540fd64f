package onion

import "errors"

var (
	// ErrInvalidInput covers malformed caller arguments such as a wrong
	// hop count or an unusable address.
	ErrInvalidInput = errors.New("invalid onion input")

	// ErrPayloadTooLarge is returned when a payload does not fit the
	// packet size budget.
	ErrPayloadTooLarge = errors.New("onion payload too large")

	// ErrAuthenticationFailed is returned when a layer fails to open. Wrong
	// keys, tampering and packets that were never meant for us are
	// deliberately indistinguishable.
	ErrAuthenticationFailed = errors.New("onion authentication failed")

	// ErrExpired is returned when a return tag opens under neither the
	// current nor the previous secret.
	ErrExpired = errors.New("onion return tag expired")

	// ErrMalformed is returned for buffers that are structurally invalid
	// before or after decryption.
	ErrMalformed = errors.New("malformed onion packet")

	// ErrNoFallback is returned when a virtual destination is decoded but
	// no fallback handler was configured.
	ErrNoFallback = errors.New("no fallback delivery handler")
)

// DropReason classifies a decode error for logging and metrics. It never
// leaves the node.
func DropReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrAuthenticationFailed):
		return "authentication"
	case errors.Is(err, ErrNoFallback):
		return "no_fallback"
	case errors.Is(err, ErrPayloadTooLarge):
		return "too_large"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	}
	return "other"
}
