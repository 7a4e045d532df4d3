package session

import "errors"

var (
	// ErrInvariant reports a structurally invalid session, for example
	// per-player slices of different lengths. It is a programming error.
	ErrInvariant = errors.New("session invariant violated")

	// ErrNonMonotonic is returned when a running session receives a state
	// older than the previous state for the same player.
	ErrNonMonotonic = errors.New("timestamp went backwards")

	ErrFrozen    = errors.New("session is saved and cannot grow")
	ErrWrongKind = errors.New("operation not valid for this session kind")
)
