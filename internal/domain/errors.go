package domain

import "errors"

// Request-level errors surfaced to callers. Use errors.Is to test for them;
// services wrap them with the offending detail.
var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyTerminal  = errors.New("request already terminal")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotEligible      = errors.New("not eligible")
	ErrTransportFailure = errors.New("transport failure")
)

// Store-level facts. Repositories return these so services can translate
// them into the request-level errors above.
var (
	// ErrConflict is returned when a guarded write lost a compare-and-swap.
	ErrConflict = errors.New("conflict")
	// ErrDuplicate is returned when an idempotency key is already stored.
	ErrDuplicate = errors.New("duplicate")
)
