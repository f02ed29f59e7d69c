package identity

import (
	"errors"
	"fmt"
)

var (
	// ErrLookup is the Kind of every profile lookup failure.
	ErrLookup = errors.New("identity lookup failed")
	// ErrInvalidInput reports an empty or malformed DID.
	ErrInvalidInput = errors.New("invalid input")
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Msg may include human-readable context.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }
