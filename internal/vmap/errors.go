package vmap

import "errors"

var (
	// ErrImmutable is returned when modifying a copy that has been copied.
	ErrImmutable = errors.New("copy is immutable")

	// ErrReleased is returned when using a copy after its last Release.
	ErrReleased = errors.New("copy is released")

	// ErrMapFull is returned when a mutable copy holds MaxPendingEntries changes.
	ErrMapFull = errors.New("copy has reached its pending entry limit")

	// ErrEmptyValue is returned by Put for a zero length value.
	ErrEmptyValue = errors.New("value must not be empty")

	// ErrReservedKey is returned when writing the key that holds flush metadata.
	ErrReservedKey = errors.New("key is reserved")

	// ErrClosed is returned by accessors and data sources after shutdown.
	ErrClosed = errors.New("map family is closed")

	// ErrCopyState is returned by lifecycle callbacks invoked out of order.
	ErrCopyState = errors.New("invalid copy state")
)
