package dialog

import (
	"context"
	"errors"
)

// Sentinel errors for the pipeline's failure taxonomy. Provider adapters
// return wrapped causes; the orchestrator classifies them with [Classify]
// before surfacing an Error event to the client.
var (
	// ErrInvalidFrame marks a malformed inbound audio frame. Session-scoped:
	// the frame is rejected, the session survives.
	ErrInvalidFrame = errors.New("dialog: invalid audio frame")

	// ErrProviderTransient marks a retryable provider failure.
	ErrProviderTransient = errors.New("dialog: transient provider failure")

	// ErrProviderTimeout marks a provider call that exceeded its deadline.
	ErrProviderTimeout = errors.New("dialog: provider deadline exceeded")

	// ErrProviderUnavailable marks a provider failure that survived retries.
	ErrProviderUnavailable = errors.New("dialog: provider unavailable")

	// ErrProtocolViolation marks an unparseable or out-of-contract inbound
	// message. The message is dropped, the session survives.
	ErrProtocolViolation = errors.New("dialog: protocol violation")
)

// ErrorKind is the wire-level classification carried by Error events.
type ErrorKind string

const (
	KindInvalidFrame        ErrorKind = "InvalidFrame"
	KindProviderTransient   ErrorKind = "ProviderTransient"
	KindProviderTimeout     ErrorKind = "ProviderTimeout"
	KindProviderUnavailable ErrorKind = "ProviderUnavailable"
	KindProtocolViolation   ErrorKind = "ProtocolViolation"
	KindInternal            ErrorKind = "Internal"
)

// Classify maps an error to its wire-level kind. Deadline errors from the
// context package count as timeouts so provider adapters need no special
// wrapping.
func Classify(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrInvalidFrame):
		return KindInvalidFrame
	case errors.Is(err, ErrProviderTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindProviderTimeout
	case errors.Is(err, ErrProviderUnavailable):
		return KindProviderUnavailable
	case errors.Is(err, ErrProviderTransient):
		return KindProviderTransient
	case errors.Is(err, ErrProtocolViolation):
		return KindProtocolViolation
	default:
		return KindInternal
	}
}
