package nodestore

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// DatabaseImpl wraps a Backend to implement the Database interface.
type DatabaseImpl struct {
	backend Backend
	cache   *Cache
	closed  atomic.Bool
	stats   struct {
		reads       atomic.Uint64
		cacheHits   atomic.Uint64
		cacheMisses atomic.Uint64
		writes      atomic.Uint64
		deletes     atomic.Uint64
		readBytes   atomic.Uint64
		writeBytes  atomic.Uint64
	}
}

var _ Database = (*DatabaseImpl)(nil)

// NewDatabase creates a new Database from an open Backend.
func NewDatabase(backend Backend, cacheSize int, cacheTTL time.Duration) *DatabaseImpl {
	var cache *Cache
	if cacheSize > 0 {
		cache = NewCache(cacheSize, cacheTTL)
	}
	return &DatabaseImpl{
		backend: backend,
		cache:   cache,
	}
}

// Open validates config, creates and opens its backend, and wraps it in a
// Database.
func Open(config *Config) (*DatabaseImpl, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	backend, err := CreateBackend(config.Backend, config)
	if err != nil {
		return nil, err
	}
	if err := backend.Open(config.CreateIfMissing); err != nil {
		return nil, NewError("open", backend.Name(), Hash256{}, err)
	}
	return NewDatabase(backend, config.CacheSize, config.CacheTTL), nil
}

// Backend returns the underlying storage backend.
func (d *DatabaseImpl) Backend() Backend {
	return d.backend
}

// Store persists a node to the store.
func (d *DatabaseImpl) Store(ctx context.Context, node *Node) error {
	return d.StoreBatch(ctx, []*Node{node})
}

// Fetch retrieves a node by its key. A missing key yields nil, nil.
func (d *DatabaseImpl) Fetch(ctx context.Context, key Hash256) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.closed.Load() {
		return nil, ErrShutdown
	}

	d.stats.reads.Add(1)
	if d.cache != nil {
		if node, found := d.cache.Get(key); found {
			d.stats.cacheHits.Add(1)
			return node, nil
		}
		d.stats.cacheMisses.Add(1)
	}

	node, status := d.backend.Fetch(key)
	if status == NotFound {
		return nil, nil
	}
	if status != OK {
		return nil, StatusError("fetch", d.backend.Name(), key, status)
	}

	d.stats.readBytes.Add(uint64(len(node.Data)))
	if d.cache != nil {
		d.cache.Put(node)
	}
	return node, nil
}

// FetchBatch retrieves multiple nodes; missing keys leave a nil slot.
func (d *DatabaseImpl) FetchBatch(ctx context.Context, keys []Hash256) ([]*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.closed.Load() {
		return nil, ErrShutdown
	}

	nodes, status := d.backend.FetchBatch(keys)
	if status != OK {
		return nil, StatusError("fetch batch", d.backend.Name(), Hash256{}, status)
	}
	return nodes, nil
}

// StoreBatch stores multiple nodes in one backend batch. Tombstones delete
// their key from both the backend and the cache.
func (d *DatabaseImpl) StoreBatch(ctx context.Context, nodes []*Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.closed.Load() {
		return ErrShutdown
	}
	for _, node := range nodes {
		if err := node.Validate(); err != nil {
			return err
		}
	}

	if status := d.backend.StoreBatch(nodes); status != OK {
		return StatusError("store batch", d.backend.Name(), Hash256{}, status)
	}

	for _, node := range nodes {
		if node.Type == NodeTombstone {
			d.stats.deletes.Add(1)
			if d.cache != nil {
				d.cache.Remove(node.Hash)
			}
			continue
		}
		d.stats.writes.Add(1)
		d.stats.writeBytes.Add(uint64(len(node.Data)))
		if d.cache != nil {
			d.cache.Put(node)
		}
	}
	return nil
}

// ForEach iterates over every node in the backend.
func (d *DatabaseImpl) ForEach(fn func(*Node) error) error {
	if d.closed.Load() {
		return ErrShutdown
	}
	return d.backend.ForEach(fn)
}

// Snapshot returns a point-in-time view of the backend.
func (d *DatabaseImpl) Snapshot() (SnapshotReader, error) {
	if d.closed.Load() {
		return nil, ErrShutdown
	}
	s, ok := d.backend.(Snapshotter)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotUnsupported, d.backend.Name())
	}
	return s.Snapshot()
}

// Sweep drops cached entries. Expired entries are removed by the cache on
// its own schedule.
func (d *DatabaseImpl) Sweep() error {
	if d.cache != nil {
		d.cache.Clear()
	}
	return nil
}

// Stats returns performance statistics.
func (d *DatabaseImpl) Stats() Statistics {
	stats := Statistics{
		Reads:       d.stats.reads.Load(),
		CacheHits:   d.stats.cacheHits.Load(),
		CacheMisses: d.stats.cacheMisses.Load(),
		ReadBytes:   d.stats.readBytes.Load(),
		Writes:      d.stats.writes.Load(),
		Deletes:     d.stats.deletes.Load(),
		WriteBytes:  d.stats.writeBytes.Load(),
		BackendName: d.backend.Name(),
	}
	if d.cache != nil {
		cs := d.cache.Stats()
		stats.CacheSize = uint64(cs.CurrentSize)
		stats.CacheMaxSize = uint64(cs.MaxSize)
	}
	return stats
}

// Close closes the backend. Calling Close more than once is a no-op.
func (d *DatabaseImpl) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	if d.cache != nil {
		d.cache.Clear()
	}
	return d.backend.Close()
}

// Sync forces pending writes to disk.
func (d *DatabaseImpl) Sync() error {
	if d.closed.Load() {
		return ErrShutdown
	}
	if status := d.backend.Sync(); status != OK {
		return StatusError("sync", d.backend.Name(), Hash256{}, status)
	}
	return nil
}
