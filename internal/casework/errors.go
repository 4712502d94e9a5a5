package casework

import "errors"

// Error taxonomy. Handlers and the engine branch on these with errors.Is;
// wrapped variants carry the detail.
var (
	// ErrNotFound means a referenced case, group, emergency, or assignment
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState means an operation's precondition on current status
	// does not hold (e.g. grouping a case that is not open and ungrouped).
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidInput means malformed or out-of-range input, including a
	// stored location that does not parse as a coordinate pair.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTransition means a status change was requested out of the
	// monotone lifecycle order.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrTransientConflict means a write lost a race (e.g. a serialization
	// failure) and the whole read-then-write sequence may be retried.
	ErrTransientConflict = errors.New("transient conflict")
)
