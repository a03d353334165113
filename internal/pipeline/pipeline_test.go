package pipeline

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func testConfig() Config {
	return Config{CopyFlushThreshold: 0, FamilyThrottleThreshold: 0}
}

func everyTenth(i int) bool { return i%10 == 0 }

func TestRegisterCopy(t *testing.T) {
	t.Run("RejectsNil", func(t *testing.T) {
		p := newDummyPipeline(t, testConfig())
		require.ErrorIs(t, p.RegisterCopy(nil), ErrNilCopy)
	})

	t.Run("RejectsImmutable", func(t *testing.T) {
		p := newDummyPipeline(t, testConfig())
		root := &dummyRoot{family: &dummyFamily{pipeline: p}}
		root.immutable.Store(true)

		err := p.RegisterCopy(root)
		require.ErrorIs(t, err, ErrInvalidState)

		var se *StateError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "register", se.Op)

		p.Terminate()
		assert.True(t, p.AwaitTermination(2*time.Second))
	})

	t.Run("RejectsDuplicate", func(t *testing.T) {
		p := newDummyPipeline(t, testConfig())
		root := newDummyRoot(t, p)
		require.ErrorIs(t, p.RegisterCopy(root), ErrInvalidState)
	})

	t.Run("RejectsSecondMutable", func(t *testing.T) {
		p := newDummyPipeline(t, testConfig())
		root := newDummyRoot(t, p)
		other := &dummyRoot{family: root.family, index: 1}
		require.ErrorIs(t, p.RegisterCopy(other), ErrInvalidState)

		// Freezing the newest copy makes room for its successor.
		next := root.copy(t)
		assert.Equal(t, 2, p.Stats().Copies)
		assert.False(t, next.IsImmutable())
	})

	t.Run("RejectsAfterTerminate", func(t *testing.T) {
		p := newDummyPipeline(t, testConfig())
		p.Terminate()
		root := &dummyRoot{family: &dummyFamily{pipeline: p}}
		require.ErrorIs(t, p.RegisterCopy(root), ErrTerminated)
	})
}

func TestDestroyCopy(t *testing.T) {
	p := newDummyPipeline(t, testConfig())
	copies := setupCopies(t, p, 3, func(int) bool { return false })

	require.NoError(t, copies[0].release())
	require.NoError(t, copies[1].release())
	require.ErrorIs(t, p.DestroyCopy(copies[1]), ErrInvalidState, "destroying a copy twice must fail")

	stranger := &dummyRoot{family: copies[0].family}
	require.ErrorIs(t, p.DestroyCopy(stranger), ErrNotRegistered)
	require.ErrorIs(t, p.DestroyCopy(nil), ErrNilCopy)
}

func TestOrderedReleaseAndOrDetach(t *testing.T) {
	cases := []struct {
		name    string
		detach  bool
		release bool
	}{
		{"Detach", true, false},
		{"Release", false, true},
		{"DetachAndRelease", true, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newDummyPipeline(t, testConfig())
			copies := setupCopies(t, p, 100, everyTenth)

			for _, c := range copies {
				if tc.detach {
					detachOrReject(t, p, c)
				}
				if tc.release {
					require.NoError(t, c.release())
				}
				assertValidity(t, copies)
			}
		})
	}
}

func TestRandomReleaseAndOrDetach(t *testing.T) {
	cases := []struct {
		name    string
		detach  bool
		release bool
	}{
		{"Detach", true, false},
		{"Release", false, true},
		{"DetachAndRelease", true, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			const copyCount = 100
			p := newDummyPipeline(t, testConfig())
			copies := setupCopies(t, p, copyCount, everyTenth)

			for _, i := range releaseOrder(copyCount, rand.New(rand.NewSource(42))) {
				c := copies[i]
				if tc.detach {
					detachOrReject(t, p, c)
				}
				if tc.release {
					require.NoError(t, c.release())
				}
				assertValidity(t, copies)
			}
		})
	}
}

func TestRandomReleasePreHash(t *testing.T) {
	const copyCount = 100
	p := newDummyPipeline(t, testConfig())
	copies := setupCopies(t, p, copyCount, everyTenth)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < copyCount/2; i++ {
		c := copies[i]
		if i > 0 {
			require.False(t, c.IsHashed(), "copy %d should not be hashed yet", i)
		}
		c.getHash(t)
		require.True(t, c.IsHashed())
		assertValidity(t, copies)
	}

	// Some copies are asked for their hash again.
	for i := 0; i < copyCount-1; i++ {
		if rng.Float32() > 0.5 {
			c := copies[i]
			c.getHash(t)
			require.True(t, c.IsHashed())
			assertValidity(t, copies)
		}
	}

	for _, i := range releaseOrder(copyCount, rng) {
		require.NoError(t, copies[i].release())
		assertValidity(t, copies)
	}
}

func TestHashCopyRejectsMutable(t *testing.T) {
	p := newDummyPipeline(t, testConfig())
	copies := setupCopies(t, p, 2, func(int) bool { return false })
	require.ErrorIs(t, p.HashCopy(copies[1]), ErrInvalidState)
	assert.False(t, copies[1].IsHashed())
}

func TestTerminateWaitsForJobs(t *testing.T) {
	p := newDummyPipeline(t, testConfig())
	root := newDummyRoot(t, p)
	root.flushGate = make(chan struct{})
	copy1 := root.copy(t)
	copy1.mergeGate = make(chan struct{})
	copy2 := copy1.copy(t)
	copy3 := copy2.copy(t)

	// root is flush eligible but its flush blocks until the gate opens.
	root.setShouldBeFlushed(true)
	require.NoError(t, root.release())
	root.waitUntilFlushStarted(t)
	assert.False(t, root.IsFlushed(), "should not have finished flushing yet")
	close(root.flushGate)

	for _, c := range []*dummyRoot{copy1, copy2, copy3} {
		assert.False(t, c.ShouldBeFlushed())
	}

	// copy1 would not block if it were processed, but it is still alive.
	close(copy1.mergeGate)

	p.Terminate()

	assert.True(t, root.IsFlushed(), "flush should complete before terminate returns")
	for _, c := range []*dummyRoot{copy1, copy2, copy3} {
		assert.False(t, c.IsMerged(), "%s should never merge", c)
	}

	require.NoError(t, copy1.release())
	require.NoError(t, copy2.release())
	require.NoError(t, copy3.release())

	for _, c := range []*dummyRoot{copy1, copy2, copy3} {
		assert.False(t, c.IsMerged(), "%s should never merge", c)
	}
}

func TestShutdownAfterLastCopyDestroyed(t *testing.T) {
	const copyCount = 10
	p := newDummyPipeline(t, testConfig())
	copies := setupCopies(t, p, copyCount, func(i int) bool { return i != 0 && i%3 == 0 })

	rng := rand.New(rand.NewSource(837))
	for _, i := range rng.Perm(copyCount - 1) {
		c := copies[i]
		require.False(t, c.shutdownCalled.Load(), "should not be invoked yet")
		require.NoError(t, c.release())
		require.False(t, c.shutdownCalled.Load(), "should not be invoked yet")
	}

	last := copies[copyCount-1]
	require.NoError(t, last.release())
	require.True(t, p.AwaitTermination(5*time.Second), "timed out")
	assert.True(t, last.shutdownCalled.Load(), "shutdown handler should now be invoked")
	assertShutdownNotified(t, copies)
	assert.False(t, last.family.immediate.Load())
	assert.NoError(t, p.TerminatedByError())
}

func TestShutdownOnTerminate(t *testing.T) {
	const copyCount = 10
	p := newDummyPipeline(t, testConfig())
	copies := setupCopies(t, p, copyCount, func(i int) bool { return i != 0 && i%3 == 0 })

	for i := 0; i < copyCount/2; i++ {
		c := copies[i]
		require.False(t, c.shutdownCalled.Load())
		require.NoError(t, c.release())
		require.False(t, c.shutdownCalled.Load())
	}

	p.Terminate()
	last := copies[copyCount-1]
	require.True(t, p.AwaitTermination(5*time.Second), "timed out")
	for _, c := range copies[copyCount/2:] {
		assert.True(t, c.shutdownCalled.Load(), "%s is still in the chain", c)
	}
	assertShutdownNotified(t, copies)
	assert.False(t, last.family.immediate.Load())
	assert.True(t, p.IsTerminated())
	assert.False(t, p.IsAlive())

	// Terminating twice is harmless.
	shutdowns := last.family.shutdowns.Load()
	p.Terminate()
	assert.Equal(t, shutdowns, last.family.shutdowns.Load())
}

func TestShutdownOnFlushError(t *testing.T) {
	const copyCount = 10
	p := newDummyPipeline(t, testConfig())
	copies := setupCopies(t, p, copyCount, func(int) bool { return true })

	half := copyCount / 2
	for i := 0; i < half; i++ {
		c := copies[i]
		require.False(t, c.shutdownCalled.Load())
		require.NoError(t, c.release())
		require.False(t, c.shutdownCalled.Load())
	}

	copies[half].crashOnFlush.Store(true)
	require.NoError(t, copies[half].release())

	last := copies[copyCount-1]
	require.True(t, p.AwaitTermination(5*time.Second), "timed out")
	assert.True(t, last.family.immediate.Load(), "error shutdown is immediate")
	for i, c := range copies {
		assert.Equal(t, i >= half, c.shutdownCalled.Load(), "copy #%d", i)
	}
	assertShutdownNotified(t, copies)

	err := p.TerminatedByError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush crashed")
	assert.False(t, copies[half].IsFlushed())
}

func TestHashFailureTerminatesPipeline(t *testing.T) {
	p := newDummyPipeline(t, testConfig())
	copies := setupCopies(t, p, 4, func(int) bool { return false })
	copies[0].crashOnHash.Store(true)

	err := p.HashCopy(copies[1])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash crashed")

	require.True(t, p.AwaitTermination(5*time.Second), "timed out")
	assert.True(t, p.IsTerminated())
	require.Error(t, p.TerminatedByError())
	assert.Contains(t, p.TerminatedByError().Error(), "hash crashed")

	// The failed hash is never retried.
	copies[0].crashOnHash.Store(false)
	require.ErrorIs(t, p.HashCopy(copies[1]), ErrTerminated)
	require.ErrorIs(t, p.DetachCopy(copies[2]), ErrTerminated)
	assert.Equal(t, int32(1), copies[0].hashCalls.Load())
	assert.False(t, copies[0].IsHashed())

	assert.True(t, copies[0].family.immediate.Load(), "error shutdown is immediate")
	assertShutdownNotified(t, copies)
	assert.Equal(t, int32(len(copies)), copies[0].family.shutdowns.Load())

	root := &dummyRoot{family: copies[0].family}
	require.ErrorIs(t, p.RegisterCopy(root), ErrTerminated)
}

func TestSizeBasedFlushes(t *testing.T) {
	const threshold = 10_000

	for _, copyCount := range []int{11, 50, 99, 100, 500, 1000, 1111} {
		copyCount := copyCount
		t.Run(strconv.Itoa(copyCount), func(t *testing.T) {
			p := newDummyPipeline(t, Config{CopyFlushThreshold: threshold})
			copies := setupCopies(t, p, copyCount, func(int) bool { return false })

			last := copies[len(copies)-1]
			after := last.copy(t)
			after.setShouldBeFlushed(true)
			after.copy(t) // makes after immutable and flush eligible

			// Every 11th copy accumulates enough merged size to flush.
			for _, c := range copies {
				c.SetEstimatedSize(threshold/10 - 1)
			}

			// Release everything while the worker is paused so that no copy is
			// inspected before it has been released.
			require.NoError(t, p.PausePipelineAndRun("releaseAll", func() error {
				for _, c := range copies {
					if err := c.release(); err != nil {
						return err
					}
				}
				return nil
			}))
			require.NoError(t, after.release())
			after.waitUntilFlushed(t)

			flushed := 0
			for _, c := range copies {
				if c.IsFlushed() {
					flushed++
				}
			}
			assert.Equal(t, copyCount/11, flushed)
		})
	}
}

func TestSmallCopiesAreNeverFlushed(t *testing.T) {
	const (
		copyCount = 1000
		threshold = 1_000_000
	)
	p := newDummyPipeline(t, Config{CopyFlushThreshold: threshold})
	copies := setupCopies(t, p, copyCount, func(int) bool { return false })
	for _, c := range copies {
		c.SetEstimatedSize(threshold / (copyCount + 1))
	}

	last := copies[len(copies)-1]
	after := last.copy(t)
	after.setShouldBeFlushed(true)
	after.copy(t)

	for _, c := range copies {
		require.NoError(t, c.release())
	}
	last.waitUntilMerged(t)
	for _, c := range copies {
		assert.False(t, c.IsFlushed(), "small copy should not be flushed")
	}

	require.NoError(t, after.release())
	after.waitUntilFlushed(t)
	assert.True(t, after.IsFlushed())
}

func TestUndestroyedCopyBlocksFlushes(t *testing.T) {
	const copyCount = 10
	p := newDummyPipeline(t, testConfig())
	copies := setupCopies(t, p, copyCount, func(i int) bool { return i == 0 || i == 5 })

	// Copy 5 cannot flush while copy 0 is alive, but 1 through 4 can merge.
	for i := 1; i <= 5; i++ {
		require.NoError(t, copies[i].release())
	}
	copies[4].waitUntilMerged(t)

	for i, c := range copies {
		assert.False(t, c.IsFlushed(), "copy %d should not be flushed yet", i)
		if i != 0 && i < 5 {
			assert.True(t, c.IsMerged(), "copy %d should be merged by now", i)
		}
	}

	require.NoError(t, copies[0].release())
	copies[5].waitUntilFlushed(t)
	assert.True(t, copies[0].IsFlushed())
	assert.True(t, copies[5].IsFlushed())

	for i := 6; i < copyCount; i++ {
		require.NoError(t, copies[i].release())
	}
	require.True(t, p.AwaitTermination(2*time.Second))
}

func TestUndestroyedDetachedCopyDoesNotBlock(t *testing.T) {
	const copyCount = 10
	p := newDummyPipeline(t, testConfig())
	copies := setupCopies(t, p, copyCount, func(i int) bool { return i == 5 })

	require.NoError(t, p.DetachCopy(copies[0]))
	copies[0].waitUntilMerged(t)
	assert.True(t, copies[0].IsMerged())

	for i := 1; i < 6; i++ {
		require.NoError(t, copies[i].release())
	}
	copies[5].waitUntilFlushed(t)
	assert.True(t, copies[5].IsFlushed())

	for i := 6; i < copyCount; i++ {
		require.NoError(t, copies[i].release())
	}
	// The detached copy is still registered until its owner releases it.
	assert.True(t, p.IsAlive())
	require.NoError(t, copies[0].release())
	require.True(t, p.AwaitTermination(2*time.Second))
}

func TestMergeReleaseRace(t *testing.T) {
	const copyCount = 10
	p := newDummyPipeline(t, testConfig())
	copies := setupCopies(t, p, copyCount, func(i int) bool { return i == 5 })

	for i := 0; i < 4; i++ {
		require.NoError(t, copies[i].release())
	}
	copies[3].waitUntilMerged(t)
	assert.False(t, copies[4].IsMerged())

	// Copy 4 releases itself the next time the worker inspects it. Copy 5
	// must still not flush before copy 4 is resolved.
	copies[4].releaseInIsDetached.Store(true)
	require.NoError(t, copies[5].release())
	for i := 6; i < 9; i++ {
		require.NoError(t, copies[i].release())
	}

	require.Eventually(t, copies[5].IsFlushed, time.Second, 5*time.Millisecond, "copy should have been flushed")
	assert.True(t, copies[4].IsMerged())

	require.NoError(t, copies[9].release())
	require.True(t, p.AwaitTermination(2*time.Second))
	require.NoError(t, p.TerminatedByError())
}

func TestFamilySizeBackpressure(t *testing.T) {
	const (
		threshold     = 10_000
		estimatedSize = 100
	)
	p := newDummyPipeline(t, Config{FamilyThrottleThreshold: threshold})

	original := newDummyRoot(t, p)
	original.SetEstimatedSize(estimatedSize)
	original.family.shouldFlush = func(i int) bool { return i%2 == 1 }
	copies := []*dummyRoot{original}

	copyAndPause := func() time.Duration {
		c := copies[len(copies)-1].copy(t)
		copies = append(copies, c)
		return p.CalculateFamilySizeBackpressurePause()
	}

	for i := 0; i < threshold/estimatedSize; i++ {
		assert.Zero(t, copyAndPause(), "no backpressure expected below the threshold")
	}

	const overThreshold = 10
	for i := 0; i < overThreshold; i++ {
		expected := time.Duration((i+1)*(i+1)) * time.Millisecond
		assert.Equal(t, expected, copyAndPause())
	}
	assert.Equal(t, 100*time.Millisecond, p.Stats().LastPause)

	for i := 0; i < overThreshold+2; i++ {
		require.NoError(t, copies[0].release())
		copies = copies[1:]
	}

	require.Eventually(t, func() bool {
		return p.FamilySize() < threshold-estimatedSize
	}, 2*time.Second, 5*time.Millisecond, "worker should catch up")
	assert.Zero(t, copyAndPause())

	for _, c := range copies {
		require.NoError(t, c.release())
	}
}

func TestApplyBackpressureHonoursContext(t *testing.T) {
	p := newDummyPipeline(t, Config{FamilyThrottleThreshold: 100})
	root := newDummyRoot(t, p)
	root.SetEstimatedSize(10_000)
	next := root.copy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := p.ApplyBackpressure(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	require.NoError(t, root.release())
	require.NoError(t, next.release())
}

func TestConcurrentHashing(t *testing.T) {
	const (
		copyCount  = 100
		goroutines = 50
	)
	p := newDummyPipeline(t, testConfig())
	copies := setupCopies(t, p, copyCount, func(int) bool { return false })
	penultimate := copies[len(copies)-2]
	last := copies[len(copies)-1]

	hashes := make([]string, goroutines)
	var g errgroup.Group
	for i := 0; i < goroutines; i++ {
		i := i
		g.Go(func() error {
			if err := p.HashCopy(penultimate); err != nil {
				return err
			}
			hashes[i] = *penultimate.hash.Load()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, h := range hashes {
		assert.Equal(t, hashes[0], h)
	}
	for _, c := range copies[:len(copies)-1] {
		assert.True(t, c.IsHashed(), "%s not hashed", c)
	}
	assert.False(t, last.IsHashed())
	assert.Equal(t, uint64(copyCount-1), p.Stats().Hashes)
	require.NoError(t, p.TerminatedByError())
}

func TestPausePipelineAndExecute(t *testing.T) {
	p := newDummyPipeline(t, testConfig())

	v, err := PausePipelineAndExecute(p, "answer", func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = PausePipelineAndExecute(p, "panic", func() (int, error) { panic("boom") })
	require.Error(t, err)
	assert.True(t, p.IsAlive(), "a failing job does not stop the pipeline")

	p.Terminate()

	// Once stopped, jobs run on the caller.
	v, err = PausePipelineAndExecute(p, "after", func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestPausePipelineAndRunConcurrent(t *testing.T) {
	p := newDummyPipeline(t, testConfig())

	var (
		mu      sync.Mutex
		running int
		maxSeen int
	)
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			return p.PausePipelineAndRun("count", func() error {
				mu.Lock()
				running++
				if running > maxSeen {
					maxSeen = running
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, maxSeen, "paused jobs run one at a time on the worker")
}

func TestSnapshot(t *testing.T) {
	p := newDummyPipeline(t, testConfig())
	copies := setupCopies(t, p, 3, func(int) bool { return false })

	require.NoError(t, p.Snapshot(copies[1], t.TempDir()))
	assert.Equal(t, int32(1), copies[1].snapshots.Load())
	assert.True(t, copies[0].IsHashed(), "older copies are hashed first")
	assert.True(t, copies[1].IsHashed())

	require.ErrorIs(t, p.Snapshot(copies[2], t.TempDir()), ErrInvalidState)
}

func TestDetachCopyErrors(t *testing.T) {
	p := newDummyPipeline(t, testConfig())
	copies := setupCopies(t, p, 3, func(int) bool { return false })

	require.ErrorIs(t, p.DetachCopy(copies[2]), ErrInvalidState, "mutable copies cannot be detached")
	require.ErrorIs(t, p.DetachCopy(nil), ErrNilCopy)

	require.NoError(t, copies[1].release())
	require.NoError(t, p.DetachCopy(copies[0]))
	assert.True(t, copies[0].detached.Load())
}

func TestPipelineSizeStat(t *testing.T) {
	const copyCount = 100
	p := newDummyPipeline(t, testConfig())
	copies := setupCopies(t, p, copyCount, func(int) bool { return false })
	assert.Equal(t, copyCount, p.Stats().Copies)

	newCopy := copies[copyCount-1].copy(t)
	assert.Equal(t, copyCount+1, p.Stats().Copies)

	for i := 0; i < copyCount/2; i++ {
		require.NoError(t, copies[i].release())
	}
	require.Eventually(t, func() bool { return p.Stats().Copies == copyCount/2+1 },
		10*time.Second, 5*time.Millisecond, "copies are not merged")

	for i := copyCount / 2; i < copyCount; i++ {
		require.NoError(t, copies[i].release())
	}
	// One more copy so the last released copy can merge into newCopy.
	newNewCopy := newCopy.copy(t)
	require.Eventually(t, func() bool { return p.Stats().Copies == 2 },
		10*time.Second, 5*time.Millisecond, "copies are not merged")

	require.NoError(t, newCopy.release())
	require.NoError(t, newNewCopy.release())
}

func TestFlushCountStat(t *testing.T) {
	p := newDummyPipeline(t, testConfig())
	copies := setupCopies(t, p, 81, func(i int) bool { return i > 0 && i%20 == 0 })
	assert.Zero(t, p.Stats().Flushes)

	for i := 0; i < 39; i++ {
		require.NoError(t, copies[i].release())
	}
	require.Eventually(t, func() bool { return p.Stats().Flushes == 1 },
		10*time.Second, 5*time.Millisecond, "copy is not flushed")

	// An alive copy 39 prevents 40 from flushing; an alive copy 40 does not.
	require.NoError(t, copies[39].release())
	require.NoError(t, copies[40].release())
	require.Eventually(t, func() bool { return p.Stats().Flushes == 2 },
		10*time.Second, 5*time.Millisecond, "copy is not flushed")

	newCopy := copies[80].copy(t)
	for i := 41; i < 81; i++ {
		require.NoError(t, copies[i].release())
	}
	require.Eventually(t, func() bool { return p.Stats().Flushes == 4 },
		10*time.Second, 5*time.Millisecond, "copy is not flushed")
	assert.Equal(t, 0, p.Stats().FlushBacklog)

	require.NoError(t, newCopy.release())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.Error(t, Config{CopyFlushThreshold: -1}.Validate())
	require.Error(t, Config{FamilyThrottleThreshold: -1}.Validate())

	_, err := New(Config{CopyFlushThreshold: -1}, "invalid")
	require.Error(t, err)
}

// detachOrReject detaches c, expecting a rejection for the mutable copy.
func detachOrReject(t *testing.T, p *Pipeline, c *dummyRoot) {
	t.Helper()
	err := p.DetachCopy(c)
	if !c.IsImmutable() {
		require.ErrorIs(t, err, ErrInvalidState)
		return
	}
	require.NoError(t, err)
}

// releaseOrder returns a shuffled order of all but the newest copy, followed
// by the newest copy.
func releaseOrder(count int, rng *rand.Rand) []int {
	order := rng.Perm(count - 1)
	return append(order, count-1)
}
