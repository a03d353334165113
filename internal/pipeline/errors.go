package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState indicates an operation that the copy's current state does not allow
	ErrInvalidState = errors.New("invalid copy state")

	// ErrNilCopy indicates that a nil copy was passed to the pipeline
	ErrNilCopy = errors.New("copy must not be nil")

	// ErrTerminated indicates that the pipeline no longer accepts work
	ErrTerminated = errors.New("pipeline is terminated")

	// ErrNotRegistered indicates that the copy was never registered with this pipeline
	ErrNotRegistered = errors.New("copy is not registered with this pipeline")
)

// StateError wraps an error with the pipeline operation that produced it.
type StateError struct {
	Op    string // The operation that failed
	Label string // The pipeline label
	Copy  string // Description of the copy involved (if any)
	Err   error  // The underlying error
}

// Error implements the error interface.
func (e *StateError) Error() string {
	if e.Copy == "" {
		return fmt.Sprintf("pipeline %s: %s: %v", e.Label, e.Op, e.Err)
	}
	return fmt.Sprintf("pipeline %s: %s %s: %v", e.Label, e.Op, e.Copy, e.Err)
}

// Unwrap returns the underlying error.
func (e *StateError) Unwrap() error {
	return e.Err
}

func (p *Pipeline) stateError(op string, root Root, err error) error {
	se := &StateError{Op: op, Label: p.label, Err: err}
	if root != nil {
		se.Copy = describe(root)
	}
	return se
}

func describe(root Root) string {
	if s, ok := root.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", root)
}
