package pipeline

// Root is a single versioned copy managed by a Pipeline.
//
// Flags are owned by the implementation. The pipeline only reads them and
// calls the lifecycle methods from its worker goroutine, except for
// ComputeHash which may also run on a goroutine calling HashCopy. Calls to
// ComputeHash are serialized by the pipeline.
type Root interface {
	// IsImmutable reports whether the copy has been frozen by a newer copy.
	IsImmutable() bool
	// IsDestroyed reports whether the owner released the copy.
	IsDestroyed() bool
	// IsDetached reports whether the copy has a self-contained view and no
	// longer needs to live in the chain.
	IsDetached() bool
	IsHashed() bool
	IsFlushed() bool
	IsMerged() bool
	// ShouldBeFlushed reports whether the owner explicitly requested a flush.
	ShouldBeFlushed() bool

	// EstimatedSize is the approximate number of bytes held by the copy.
	EstimatedSize() int64
	SetEstimatedSize(size int64)

	ComputeHash() error
	Flush() error
	// Merge folds the copy into its immediate successor.
	Merge() error
	Detach() error
	Snapshot(path string) error

	// OnShutdown is invoked once when the pipeline stops. immediate is true
	// when the pipeline stopped because of an error.
	OnShutdown(immediate bool)
}
