package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// dummyFamily is shared by every copy created from the same original.
type dummyFamily struct {
	pipeline    *Pipeline
	shouldFlush func(index int) bool
	shutdowns   atomic.Int32
	immediate   atomic.Bool
}

// dummyRoot is a Root that only tracks flags. It returns an error whenever
// the pipeline drives it through an illegal transition, which terminates
// the pipeline and is reported by validity checks.
type dummyRoot struct {
	family *dummyFamily
	index  int
	prev   *dummyRoot

	immutable       atomic.Bool
	destroyed       atomic.Bool
	detached        atomic.Bool
	hashed          atomic.Bool
	flushed         atomic.Bool
	merged          atomic.Bool
	shouldBeFlushed atomic.Bool
	estimatedSize   atomic.Int64

	crashOnFlush        atomic.Bool
	crashOnHash         atomic.Bool
	releaseInIsDetached atomic.Bool
	shutdownCalled      atomic.Bool

	hash      atomic.Pointer[string]
	hashCalls atomic.Int32

	// When set, Flush and Merge block until the channel is closed.
	flushGate chan struct{}
	mergeGate chan struct{}

	flushStarted Latch
	flushedLatch Latch
	mergedLatch  Latch
	snapshots    atomic.Int32
}

func newDummyPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	p, err := New(cfg, t.Name())
	require.NoError(t, err)
	t.Cleanup(p.Terminate)
	return p
}

func newDummyRoot(t *testing.T, p *Pipeline) *dummyRoot {
	t.Helper()
	root := &dummyRoot{family: &dummyFamily{pipeline: p}}
	require.NoError(t, p.RegisterCopy(root))
	return root
}

// copy freezes r and registers its successor.
func (r *dummyRoot) copy(t *testing.T) *dummyRoot {
	t.Helper()
	r.immutable.Store(true)
	next := &dummyRoot{family: r.family, index: r.index + 1, prev: r}
	next.estimatedSize.Store(r.estimatedSize.Load())
	if r.family.shouldFlush != nil && r.family.shouldFlush(next.index) {
		next.shouldBeFlushed.Store(true)
	}
	require.NoError(t, r.family.pipeline.RegisterCopy(next))
	return next
}

func (r *dummyRoot) release() error {
	r.destroyed.Store(true)
	return r.family.pipeline.DestroyCopy(r)
}

func (r *dummyRoot) getHash(t *testing.T) string {
	t.Helper()
	if !r.hashed.Load() {
		require.NoError(t, r.family.pipeline.HashCopy(r))
	}
	h := r.hash.Load()
	require.NotNil(t, h)
	return *h
}

func (r *dummyRoot) waitUntilFlushed(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.flushedLatch.Wait(ctx), "copy %d should be flushed", r.index)
}

func (r *dummyRoot) waitUntilFlushStarted(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.flushStarted.Wait(ctx), "copy %d should start flushing", r.index)
}

func (r *dummyRoot) waitUntilMerged(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.mergedLatch.Wait(ctx), "copy %d should be merged", r.index)
}

func (r *dummyRoot) String() string {
	return fmt.Sprintf("copy-%d", r.index)
}

func (r *dummyRoot) IsImmutable() bool { return r.immutable.Load() }
func (r *dummyRoot) IsDestroyed() bool { return r.destroyed.Load() }
func (r *dummyRoot) IsHashed() bool    { return r.hashed.Load() }
func (r *dummyRoot) IsFlushed() bool   { return r.flushed.Load() }
func (r *dummyRoot) IsMerged() bool    { return r.merged.Load() }

func (r *dummyRoot) IsDetached() bool {
	// Simulates an owner releasing the copy while the pipeline inspects it.
	if r.releaseInIsDetached.CompareAndSwap(true, false) {
		_ = r.release()
	}
	return r.detached.Load()
}

func (r *dummyRoot) ShouldBeFlushed() bool     { return r.shouldBeFlushed.Load() }
func (r *dummyRoot) EstimatedSize() int64      { return r.estimatedSize.Load() }
func (r *dummyRoot) SetEstimatedSize(v int64)  { r.estimatedSize.Store(v) }
func (r *dummyRoot) setShouldBeFlushed(v bool) { r.shouldBeFlushed.Store(v) }

func (r *dummyRoot) ComputeHash() error {
	r.hashCalls.Add(1)
	if r.crashOnHash.Load() {
		return errors.New("hash crashed")
	}
	if r.hashed.Load() {
		return fmt.Errorf("%s hashed twice", r)
	}
	if !r.immutable.Load() {
		return fmt.Errorf("%s is mutable", r)
	}
	if r.prev != nil && !r.prev.hashed.Load() {
		return fmt.Errorf("%s hashed before %s", r, r.prev)
	}
	h := fmt.Sprintf("hash-%d", r.index)
	r.hash.Store(&h)
	r.hashed.Store(true)
	return nil
}

func (r *dummyRoot) Flush() error {
	r.flushStarted.Release()
	if r.flushGate != nil {
		<-r.flushGate
	}
	switch {
	case r.crashOnFlush.Load():
		return errors.New("flush crashed")
	case !r.hashed.Load():
		return fmt.Errorf("%s flushed before hashing", r)
	case r.flushed.Load() || r.merged.Load():
		return fmt.Errorf("%s already resolved", r)
	}
	r.flushed.Store(true)
	r.flushedLatch.Release()
	return nil
}

func (r *dummyRoot) Merge() error {
	if r.mergeGate != nil {
		<-r.mergeGate
	}
	switch {
	case !r.destroyed.Load() && !r.detached.Load():
		return fmt.Errorf("%s merged while alive", r)
	case !r.hashed.Load():
		return fmt.Errorf("%s merged before hashing", r)
	case r.shouldBeFlushed.Load():
		return fmt.Errorf("%s is flush eligible", r)
	case r.flushed.Load() || r.merged.Load():
		return fmt.Errorf("%s already resolved", r)
	}
	r.merged.Store(true)
	r.mergedLatch.Release()
	return nil
}

func (r *dummyRoot) Detach() error {
	if r.destroyed.Load() {
		return fmt.Errorf("%s: %w: detach of destroyed copy", r, ErrInvalidState)
	}
	if !r.hashed.Load() {
		return fmt.Errorf("%s detached before hashing", r)
	}
	r.detached.Store(true)
	return nil
}

func (r *dummyRoot) Snapshot(string) error {
	if !r.hashed.Load() {
		return fmt.Errorf("%s snapshot before hashing", r)
	}
	r.snapshots.Add(1)
	return nil
}

func (r *dummyRoot) OnShutdown(immediate bool) {
	r.shutdownCalled.Store(true)
	r.family.immediate.Store(immediate)
	r.family.shutdowns.Add(1)
}

// assertShutdownNotified checks that exactly the copies left in the chain
// received one shutdown notification each.
func assertShutdownNotified(t *testing.T, copies []*dummyRoot) {
	t.Helper()
	var notified int32
	for i, c := range copies {
		resolved := c.IsFlushed() || c.IsMerged()
		require.Equal(t, !resolved, c.shutdownCalled.Load(),
			"copy #%d: flushed=%v merged=%v", i, c.IsFlushed(), c.IsMerged())
		if c.shutdownCalled.Load() {
			notified++
		}
	}
	require.Equal(t, notified, copies[0].family.shutdowns.Load(), "each copy is notified once")
}

// setupCopies builds a chain of count copies, the newest of which is mutable.
func setupCopies(t *testing.T, p *Pipeline, count int, shouldFlush func(int) bool) []*dummyRoot {
	t.Helper()
	copies := make([]*dummyRoot, 0, count)
	var mutable *dummyRoot
	for i := 0; i < count; i++ {
		if mutable == nil {
			mutable = newDummyRoot(t, p)
		} else {
			mutable = mutable.copy(t)
		}
		if shouldFlush(i) {
			mutable.setShouldBeFlushed(true)
		}
		copies = append(copies, mutable)
	}
	assertValidity(t, copies)
	return copies
}

// assertValidity checks that every copy is in a state the pipeline allows,
// waiting briefly for copies that should be resolved by now.
func assertValidity(t *testing.T, copies []*dummyRoot) {
	t.Helper()

	oldestUndestroyedFound := false
	allDestroyed := true

	for i, c := range copies {
		allDestroyed = allDestroyed && c.destroyed.Load()
		gone := c.destroyed.Load() || c.detached.Load()

		if c.ShouldBeFlushed() {
			require.False(t, c.IsMerged(), "copy should be flushed, not merged. Copy #%d", i)
		} else {
			require.False(t, c.IsFlushed(), "copy is not marked for flushing. Copy #%d", i)
		}
		if c.IsFlushed() || c.IsMerged() {
			require.True(t, c.IsHashed(), "copy must be hashed before it is resolved. Copy #%d", i)
		}
		if c.IsMerged() {
			require.True(t, gone, "only destroyed or detached copies should be merged. Copy #%d", i)
			require.True(t, c.IsImmutable(), "mutable copy should not be merged. Copy #%d", i)
		}

		var next *dummyRoot
		if i+1 < len(copies) {
			next = copies[i+1]
		}
		mergeable := gone && c.IsImmutable() && !c.ShouldBeFlushed() && next != nil && next.IsImmutable()

		if oldestUndestroyedFound {
			if c.ShouldBeFlushed() {
				require.False(t, c.IsFlushed(), "only the oldest copy can be flushed. Copy #%d", i)
			} else if mergeable {
				c.waitUntilMerged(t)
			}
			continue
		}

		if !gone {
			// This copy blocks every younger copy from flushing.
			oldestUndestroyedFound = true
			continue
		}
		if c.IsImmutable() && c.ShouldBeFlushed() {
			c.waitUntilFlushed(t)
		} else if mergeable {
			c.waitUntilMerged(t)
		}
	}

	if allDestroyed && len(copies) > 0 {
		require.True(t, copies[0].family.pipeline.AwaitTermination(2*time.Second), "worker should stop")
	}
	require.NoError(t, copies[0].family.pipeline.TerminatedByError())
}
