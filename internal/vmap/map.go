// Package vmap implements a copy-on-write map family whose copies are
// hashed, flushed and merged by a pipeline.
//
// Every copy except the newest is immutable. A copy holds only the changes
// made while it was mutable and reads through older unresolved copies and
// then the data source. Once the owner releases (or detaches) a copy, the
// pipeline either flushes it to the data source or folds it into its
// successor.
package vmap

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/LeJamon/vmapd/internal/pipeline"
	"github.com/LeJamon/vmapd/internal/storage/nodestore"
)

// Key addresses a map entry.
type Key = nodestore.Hash256

// KeyOf derives a Key from arbitrary bytes.
func KeyOf(b []byte) Key {
	return nodestore.Hash256FromData(b)
}

const entryOverhead = 64

type entry struct {
	value   []byte
	deleted bool
	version uint64
}

func (e entry) size() int64 {
	return int64(nodestore.HashSize + len(e.value) + entryOverhead)
}

type family struct {
	cfg      Config
	source   *DataSource
	pipeline *pipeline.Pipeline
	logger   *zap.Logger

	// mu guards every copy's delta and older/newer links, the last flush
	// record and the accessor set.
	mu        sync.RWMutex
	flushed   nodestore.Meta
	accessors map[*Accessor]struct{}
	closed    bool

	shutdownOnce sync.Once
}

// Map is one copy of a map family.
type Map struct {
	fam     *family
	version uint64

	delta map[Key]entry
	older *Map
	newer *Map

	refs          atomic.Int32
	immutable     atomic.Bool
	destroyed     atomic.Bool
	detached      atomic.Bool
	hashed        atomic.Bool
	flushed       atomic.Bool
	merged        atomic.Bool
	shouldFlush   atomic.Bool
	estimatedSize atomic.Int64

	// hash and accessor are written once before hashed and detached are set.
	hash     nodestore.Hash256
	accessor *Accessor

	flushedLatch pipeline.Latch
	mergedLatch  pipeline.Latch
}

var _ pipeline.Root = (*Map)(nil)

// Open starts a family on source and returns its first mutable copy. The
// first copy continues from the last flushed version, if any. Once Open
// succeeds the family owns source and closes it on shutdown.
func Open(ctx context.Context, source *DataSource, cfg Config, opts ...Option) (*Map, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	meta, found, err := nodestore.ReadMeta(ctx, source.db)
	if err != nil {
		return nil, fmt.Errorf("read flush record: %w", err)
	}

	popts := []pipeline.Option{pipeline.WithLogger(o.logger)}
	if o.registerer != nil {
		popts = append(popts, pipeline.WithRegisterer(o.registerer))
	}
	p, err := pipeline.New(cfg.Pipeline, cfg.Label, popts...)
	if err != nil {
		return nil, err
	}

	f := &family{
		cfg:       cfg,
		source:    source,
		pipeline:  p,
		logger:    o.logger.With(zap.String("map", cfg.Label)),
		accessors: make(map[*Accessor]struct{}),
	}
	version := uint64(0)
	if found {
		f.flushed = meta
		version = meta.Version + 1
	}

	m := f.newMap(version)
	if err := p.RegisterCopy(m); err != nil {
		p.Terminate()
		return nil, err
	}
	f.logger.Info("opened map family",
		zap.Uint64("version", version),
		zap.Bool("resumed", found))
	return m, nil
}

func (f *family) newMap(version uint64) *Map {
	m := &Map{fam: f, version: version, delta: make(map[Key]entry)}
	m.refs.Store(1)
	if f.cfg.FlushInterval > 0 && version != 0 && version%f.cfg.FlushInterval == 0 {
		m.shouldFlush.Store(true)
	}
	return m
}

// Version returns the version of this copy.
func (m *Map) Version() uint64 { return m.version }

// Pipeline returns the pipeline shared by the family.
func (m *Map) Pipeline() *pipeline.Pipeline { return m.fam.pipeline }

func (m *Map) String() string {
	return fmt.Sprintf("%s@%d", m.fam.cfg.Label, m.version)
}

// Get returns the value stored under key as seen by this copy.
func (m *Map) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	if m.destroyed.Load() {
		return nil, false, ErrReleased
	}
	if m.detached.Load() {
		return m.accessor.Get(ctx, key)
	}

	f := m.fam
	f.mu.RLock()
	for c := m; c != nil; c = c.older {
		if e, ok := c.delta[key]; ok {
			f.mu.RUnlock()
			if e.deleted {
				return nil, false, nil
			}
			return clone(e.value), true, nil
		}
	}
	f.mu.RUnlock()
	return f.source.get(ctx, key)
}

// Put stores value under key. Only the mutable copy accepts writes.
func (m *Map) Put(key Key, value []byte) error {
	if len(value) == 0 {
		return ErrEmptyValue
	}
	return m.write(key, entry{value: clone(value), version: m.version})
}

// Delete removes key. Deleting an absent key is not an error.
func (m *Map) Delete(key Key) error {
	return m.write(key, entry{deleted: true, version: m.version})
}

func (m *Map) write(key Key, e entry) error {
	if key == nodestore.MetaKey {
		return ErrReservedKey
	}

	f := m.fam
	f.mu.Lock()
	defer f.mu.Unlock()

	if m.destroyed.Load() {
		return ErrReleased
	}
	if m.immutable.Load() {
		return ErrImmutable
	}
	old, exists := m.delta[key]
	if !exists && f.cfg.MaxPendingEntries > 0 && len(m.delta) >= f.cfg.MaxPendingEntries {
		return ErrMapFull
	}
	m.delta[key] = e
	delta := e.size()
	if exists {
		delta -= old.size()
	}
	m.estimatedSize.Add(delta)
	return nil
}

// Copy makes this copy immutable and returns a new mutable copy. When the
// family holds too much unresolved data the caller is throttled after the
// new copy is registered. If ctx ends during that pause the new copy is
// returned together with ctx's error and the caller owns it.
func (m *Map) Copy(ctx context.Context) (*Map, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f := m.fam

	f.mu.Lock()
	if m.destroyed.Load() {
		f.mu.Unlock()
		return nil, ErrReleased
	}
	if m.immutable.Load() {
		f.mu.Unlock()
		return nil, ErrImmutable
	}
	next := f.newMap(m.version + 1)
	next.older = m
	m.newer = next
	m.immutable.Store(true)
	f.mu.Unlock()

	if err := f.pipeline.RegisterCopy(next); err != nil {
		return nil, err
	}
	if err := f.pipeline.ApplyBackpressure(ctx); err != nil {
		return next, err
	}
	return next, nil
}

// Reserve adds a reference to this copy.
func (m *Map) Reserve() error {
	for {
		r := m.refs.Load()
		if r <= 0 {
			return ErrReleased
		}
		if m.refs.CompareAndSwap(r, r+1) {
			return nil
		}
	}
}

// Release drops a reference. Dropping the last one destroys the copy.
func (m *Map) Release() error {
	for {
		r := m.refs.Load()
		if r <= 0 {
			return ErrReleased
		}
		if !m.refs.CompareAndSwap(r, r-1) {
			continue
		}
		if r > 1 {
			return nil
		}
		m.destroyed.Store(true)
		return m.fam.pipeline.DestroyCopy(m)
	}
}

// Hash returns the chained hash of this copy, hashing any older unhashed
// copies first.
func (m *Map) Hash() (nodestore.Hash256, error) {
	if !m.hashed.Load() {
		if err := m.fam.pipeline.HashCopy(m); err != nil {
			return nodestore.Hash256{}, err
		}
	}
	return m.hash, nil
}

// DetachView freezes this copy into an Accessor that stays readable after
// the copy is flushed or merged. The copy must be immutable.
func (m *Map) DetachView() (*Accessor, error) {
	if err := m.fam.pipeline.DetachCopy(m); err != nil {
		return nil, err
	}
	return m.accessor, nil
}

// SnapshotTo writes the full state visible through this copy to a new store
// at path. The copy must be immutable.
func (m *Map) SnapshotTo(path string) error {
	return m.fam.pipeline.Snapshot(m, path)
}

// SetShouldBeFlushed marks the mutable copy to be flushed rather than merged.
func (m *Map) SetShouldBeFlushed(flush bool) error {
	m.fam.mu.Lock()
	defer m.fam.mu.Unlock()
	if m.immutable.Load() {
		return ErrImmutable
	}
	m.shouldFlush.Store(flush)
	return nil
}

// WaitUntilFlushed blocks until this copy has been flushed.
func (m *Map) WaitUntilFlushed(ctx context.Context) error {
	return m.flushedLatch.Wait(ctx)
}

// WaitUntilMerged blocks until this copy has been merged into its successor.
func (m *Map) WaitUntilMerged(ctx context.Context) error {
	return m.mergedLatch.Wait(ctx)
}

func (m *Map) IsImmutable() bool     { return m.immutable.Load() }
func (m *Map) IsDestroyed() bool     { return m.destroyed.Load() }
func (m *Map) IsDetached() bool      { return m.detached.Load() }
func (m *Map) IsHashed() bool        { return m.hashed.Load() }
func (m *Map) IsFlushed() bool       { return m.flushed.Load() }
func (m *Map) IsMerged() bool        { return m.merged.Load() }
func (m *Map) ShouldBeFlushed() bool { return m.shouldFlush.Load() }

func (m *Map) EstimatedSize() int64     { return m.estimatedSize.Load() }
func (m *Map) SetEstimatedSize(n int64) { m.estimatedSize.Store(n) }

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
