package messaging

import (
	"context"
	"errors"
)

// Broker-independent publish failure classes. Adapters wrap the underlying
// client error with one of these so callers can decide whether to retry.
var (
	// ErrUnavailable covers connectivity problems: closed or reconnecting
	// connections, timeouts, no responders.
	ErrUnavailable = errors.New("messaging: broker unavailable")

	// ErrBrokerBusy is returned when the broker is up but temporarily refuses work.
	ErrBrokerBusy = errors.New("messaging: broker busy")

	// ErrPayloadTooLarge is returned when a message exceeds the broker's limit.
	ErrPayloadTooLarge = errors.New("messaging: payload too large")

	// ErrInvalidSubject is returned for subjects the broker rejects.
	ErrInvalidSubject = errors.New("messaging: invalid subject")

	// ErrRejected is returned for any other request the broker refuses outright.
	ErrRejected = errors.New("messaging: rejected by broker")
)

// IsRetryable reports whether a publish error is worth another attempt.
// Unclassified errors are treated as transient.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrPayloadTooLarge),
		errors.Is(err, ErrInvalidSubject),
		errors.Is(err, ErrRejected):
		return false
	default:
		return true
	}
}
