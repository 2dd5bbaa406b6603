package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrInvalidRange - a time window or interval whose end does not come
	// after its start; the store is left untouched
	ErrInvalidRange = errors.New("invalid range")

	// ErrNotFound - resource not found (unknown window, task or entry id);
	// reported to the caller, never fatal
	ErrNotFound = errors.New("not found")

	// ErrAmbiguous - several candidates match and no hint disambiguates;
	// the caller should ask for a more specific reference
	ErrAmbiguous = errors.New("ambiguous reference")

	// ErrDuplicateEvent - duplicate delivery detected; ignored silently
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrInvalidInput - malformed command or argument; shown as a validation error
	ErrInvalidInput = errors.New("invalid input")

	// ErrPermissionDenied - upstream API rejected the credentials
	ErrPermissionDenied = errors.New("permission denied")

	// ErrConflict - concurrent mutation detected; retryable
	ErrConflict = errors.New("conflict")

	// ErrTransient - temporary failure (network, rate limit); retryable
	ErrTransient = errors.New("transient error")

	// ErrInternal - unexpected failure; generic message to the user
	ErrInternal = errors.New("internal error")
)
