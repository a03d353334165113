package nodestore

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the cause StatusError reports for a NotFound status.
	ErrNotFound = errors.New("node not found")

	// ErrDataCorrupt reports a node that fails to decode or breaks a store
	// invariant, such as an entry newer than the last flush record.
	ErrDataCorrupt = errors.New("data corruption detected")

	// ErrBackendClosed is returned by backend iteration after Close.
	ErrBackendClosed = errors.New("backend is closed")

	ErrInvalidNode = errors.New("invalid node")
	ErrInvalidHash = errors.New("invalid hash")

	// ErrInvalidConfig wraps every node store and batch writer config failure.
	ErrInvalidConfig = errors.New("invalid configuration")

	ErrUnsupportedBackend    = errors.New("unsupported backend")
	ErrUnsupportedCompressor = errors.New("unsupported compressor")

	// ErrSnapshotUnsupported is returned when a detached view or snapshot
	// needs a point-in-time view the backend cannot provide.
	ErrSnapshotUnsupported = errors.New("snapshots not supported")

	// ErrShutdown is returned for reads and writes after the family closed
	// its data source.
	ErrShutdown = errors.New("database is shutting down")
)

// NodeStoreError records which store operation failed, on which backend and,
// for single-key operations, for which key.
type NodeStoreError struct {
	Operation string
	Hash      Hash256 // zero for batch and whole-store operations
	Backend   string
	Cause     error
}

// Error implements the error interface.
func (e *NodeStoreError) Error() string {
	if e.Hash.IsZero() {
		return fmt.Sprintf("nodestore %s error on backend %s: %v",
			e.Operation, e.Backend, e.Cause)
	}
	return fmt.Sprintf("nodestore %s error on backend %s for key %s: %v",
		e.Operation, e.Backend, e.Hash, e.Cause)
}

// Unwrap returns the underlying error.
func (e *NodeStoreError) Unwrap() error {
	return e.Cause
}

// NewError creates a new NodeStoreError.
func NewError(operation, backend string, hash Hash256, cause error) *NodeStoreError {
	return &NodeStoreError{
		Operation: operation,
		Hash:      hash,
		Backend:   backend,
		Cause:     cause,
	}
}

// StatusError converts a backend Status into an error. OK maps to nil.
func StatusError(operation, backend string, hash Hash256, status Status) error {
	var cause error
	switch status {
	case OK:
		return nil
	case NotFound:
		cause = ErrNotFound
	case DataCorrupt:
		cause = ErrDataCorrupt
	default:
		cause = fmt.Errorf("backend status %s", status)
	}
	return NewError(operation, backend, hash, cause)
}

// IsDataCorrupt reports whether err stems from a corrupt node.
func IsDataCorrupt(err error) bool {
	return errors.Is(err, ErrDataCorrupt)
}
