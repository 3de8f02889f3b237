package core

import "errors"

// Sentinel errors shared across the subsystems. Callers match them with
// errors.Is; wrap with fmt.Errorf("...: %w", err) to add context.
var (
	// ErrDuplicateID is returned by the history store when an append reuses
	// an identifier. The engine downgrades it to a no-op success when the
	// redelivered content is identical.
	ErrDuplicateID = errors.New("duplicate message id")

	// ErrInvalidStateTransition rejects a single offending mutation, such as
	// editing a deleted message. Conversation processing continues.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrProviderUnavailable reports an embedding or generation backend that
	// could not be reached or answered with a server error.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrTimeout reports a bounded external call that did not complete.
	ErrTimeout = errors.New("provider timeout")

	// ErrRateLimited is retryable with backoff, up to a bounded count.
	ErrRateLimited = errors.New("rate limited")
)
