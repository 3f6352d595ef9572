package rga

import (
	"errors"
	"fmt"
)

// Sentinel error kinds, per spec.md §7. Every *Error wraps exactly one of
// these; check with errors.Is.
var (
	// ErrPrecondition is returned by a local AddRight/Remove whose anchor
	// or target is unknown or already removed. Caller bug, reported
	// synchronously.
	ErrPrecondition = errors.New("rga: precondition violated")

	// ErrUnknownReference is returned when a downstream op names a node
	// not present in the index. Fatal: it indicates a lost causal
	// dependency on a transport that isn't buffering out-of-order
	// delivery (see spec.md §9 Open Questions).
	ErrUnknownReference = errors.New("rga: unknown reference")

	// ErrInvalidReplicaID is returned by New when id is outside
	// [0, 2^ReplicaBits).
	ErrInvalidReplicaID = errors.New("rga: invalid replica id")
)

// Error carries the offending Timestamp alongside one of the sentinel
// kinds above, so callers can log or display it without re-deriving
// context.
type Error struct {
	Kind      error
	Timestamp Timestamp
	Op        string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Op, e.Kind, e.Timestamp)
}

func (e *Error) Unwrap() error {
	return e.Kind
}
