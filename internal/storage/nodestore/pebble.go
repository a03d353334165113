package nodestore

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
)

const defaultPebbleCacheSize = 128 << 20

// PebbleBackend implements a PebbleDB storage backend.
type PebbleBackend struct {
	db     *pebble.DB
	codec  *codec
	config *Config

	open       atomic.Bool
	deletePath atomic.Bool

	stats struct {
		reads        atomic.Int64
		writes       atomic.Int64
		deletes      atomic.Int64
		bytesRead    atomic.Int64
		bytesWritten atomic.Int64
	}
}

// NewPebbleBackend creates a new PebbleDB backend.
func NewPebbleBackend(config *Config) (Backend, error) {
	if config == nil {
		config = DefaultConfig()
	}
	c, err := newCodec(config)
	if err != nil {
		return nil, err
	}
	return &PebbleBackend{codec: c, config: config}, nil
}

// Name returns the name of this backend.
func (p *PebbleBackend) Name() string {
	return fmt.Sprintf("pebble(%s)", p.config.Path)
}

// Open opens the backend for use.
func (p *PebbleBackend) Open(createIfMissing bool) error {
	if !p.open.CompareAndSwap(false, true) {
		return fmt.Errorf("backend already open")
	}

	if createIfMissing {
		if err := os.MkdirAll(p.config.Path, 0755); err != nil {
			p.open.Store(false)
			return fmt.Errorf("failed to create directory %s: %w", p.config.Path, err)
		}
	}

	opts := p.buildOptions(createIfMissing)
	db, err := pebble.Open(p.config.Path, opts)
	opts.Cache.Unref()
	if err != nil {
		p.open.Store(false)
		return fmt.Errorf("failed to open PebbleDB at %s: %w", p.config.Path, err)
	}
	p.db = db
	return nil
}

// buildOptions tunes pebble for point lookups by 32-byte key and
// bursty batch writes from flushes.
func (p *PebbleBackend) buildOptions(createIfMissing bool) *pebble.Options {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(defaultPebbleCacheSize),
		ErrorIfNotExists:            !createIfMissing,
		MaxOpenFiles:                1000,
		MemTableSize:                64 << 20,
		MemTableStopWritesThreshold: 4,
		MaxConcurrentCompactions: func() int {
			return runtime.NumCPU()
		},
		L0CompactionThreshold: 4,
		L0StopWritesThreshold: 20,
		LBaseMaxBytes:         256 << 20,
		Levels:                make([]pebble.LevelOptions, 7),
	}

	for i := range opts.Levels {
		opts.Levels[i] = pebble.LevelOptions{
			BlockSize:      32 << 10,
			IndexBlockSize: 256 << 10,
			FilterPolicy:   bloom.FilterPolicy(10),
			FilterType:     pebble.TableFilter,
			TargetFileSize: int64(8<<20) << uint(i),
			// Payloads are already compressed by the codec.
			Compression: pebble.NoCompression,
		}
		if opts.Levels[i].TargetFileSize > 256<<20 {
			opts.Levels[i].TargetFileSize = 256 << 20
		}
	}
	return opts
}

// Close closes the backend and releases resources.
func (p *PebbleBackend) Close() error {
	if !p.open.CompareAndSwap(true, false) {
		return nil
	}

	var err error
	if p.db != nil {
		if flushErr := p.db.Flush(); flushErr != nil {
			err = flushErr
		}
		if closeErr := p.db.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		p.db = nil
	}

	if p.deletePath.Load() && p.config.Path != "" {
		if removeErr := os.RemoveAll(p.config.Path); removeErr != nil && err == nil {
			err = removeErr
		}
	}
	return err
}

// IsOpen returns true if the backend is currently open.
func (p *PebbleBackend) IsOpen() bool {
	return p.open.Load()
}

// Fetch retrieves a single object by key.
func (p *PebbleBackend) Fetch(key Hash256) (*Node, Status) {
	if !p.IsOpen() {
		return nil, BackendError
	}
	return p.get(p.db, key)
}

func (p *PebbleBackend) get(r pebble.Reader, key Hash256) (*Node, Status) {
	value, closer, err := r.Get(key[:])
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, NotFound
		}
		return nil, BackendError
	}
	defer closer.Close()

	node, err := p.codec.decode(key, value)
	if err != nil {
		return nil, DataCorrupt
	}
	p.stats.reads.Add(1)
	p.stats.bytesRead.Add(int64(len(value)))
	return node, OK
}

// FetchBatch retrieves multiple objects. Missing keys leave a nil slot.
func (p *PebbleBackend) FetchBatch(keys []Hash256) ([]*Node, Status) {
	if !p.IsOpen() {
		return nil, BackendError
	}

	results := make([]*Node, len(keys))
	for i, key := range keys {
		node, status := p.get(p.db, key)
		switch status {
		case OK:
			results[i] = node
		case NotFound:
		default:
			return nil, status
		}
	}
	return results, OK
}

// Store saves a single object.
func (p *PebbleBackend) Store(node *Node) Status {
	if node == nil {
		return BackendError
	}
	return p.StoreBatch([]*Node{node})
}

// StoreBatch applies all nodes in one atomic pebble batch.
func (p *PebbleBackend) StoreBatch(nodes []*Node) Status {
	if !p.IsOpen() {
		return BackendError
	}
	if len(nodes) == 0 {
		return OK
	}

	batch := p.db.NewBatch()
	defer batch.Close()

	var written, deleted, bytes int64
	for _, node := range nodes {
		if node == nil {
			continue
		}
		if node.Type == NodeTombstone {
			if err := batch.Delete(node.Hash[:], nil); err != nil {
				return BackendError
			}
			deleted++
			continue
		}
		value, err := p.codec.encode(node)
		if err != nil {
			return BackendError
		}
		if err := batch.Set(node.Hash[:], value, nil); err != nil {
			return BackendError
		}
		written++
		bytes += int64(len(value))
	}

	mode := pebble.NoSync
	if p.config.SyncWrites {
		mode = pebble.Sync
	}
	if err := batch.Commit(mode); err != nil {
		return BackendError
	}

	p.stats.writes.Add(written)
	p.stats.deletes.Add(deleted)
	p.stats.bytesWritten.Add(bytes)
	return OK
}

// Sync forces pending writes to be flushed.
func (p *PebbleBackend) Sync() Status {
	if !p.IsOpen() {
		return BackendError
	}
	if err := p.db.Flush(); err != nil {
		return BackendError
	}
	return OK
}

// ForEach iterates over all objects in the backend.
func (p *PebbleBackend) ForEach(fn func(*Node) error) error {
	if !p.IsOpen() {
		return ErrBackendClosed
	}
	iter, err := p.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	return p.iterate(iter, fn)
}

func (p *PebbleBackend) iterate(iter *pebble.Iterator, fn func(*Node) error) error {
	for iter.First(); iter.Valid(); iter.Next() {
		key, ok := keyFromBytes(iter.Key())
		if !ok {
			continue
		}
		node, err := p.codec.decode(key, iter.Value())
		if err != nil {
			iter.Close()
			return NewError("iterate", p.Name(), key, err)
		}
		if err := fn(node); err != nil {
			iter.Close()
			return err
		}
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return err
	}
	return iter.Close()
}

// Snapshot returns a pebble snapshot of the current state.
func (p *PebbleBackend) Snapshot() (SnapshotReader, error) {
	if !p.IsOpen() {
		return nil, ErrBackendClosed
	}
	return &pebbleSnapshot{backend: p, snap: p.db.NewSnapshot()}, nil
}

type pebbleSnapshot struct {
	backend *PebbleBackend
	snap    *pebble.Snapshot
}

func (s *pebbleSnapshot) Fetch(key Hash256) (*Node, Status) {
	return s.backend.get(s.snap, key)
}

func (s *pebbleSnapshot) ForEach(fn func(*Node) error) error {
	iter, err := s.snap.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	return s.backend.iterate(iter, fn)
}

func (s *pebbleSnapshot) Close() error {
	return s.snap.Close()
}

// SetDeletePath marks the backend for deletion when closed.
func (p *PebbleBackend) SetDeletePath() {
	p.deletePath.Store(true)
}

// FdRequired returns the number of file descriptors needed.
func (p *PebbleBackend) FdRequired() int {
	return 500
}

// Info returns information about this backend.
func (p *PebbleBackend) Info() BackendInfo {
	return BackendInfo{
		Name:            "pebble",
		Description:     "LSM-tree database backend",
		FileDescriptors: p.FdRequired(),
		Persistent:      true,
		Compression:     true,
		Snapshots:       true,
	}
}

// Metrics returns the pebble engine metrics, or nil when closed.
func (p *PebbleBackend) Metrics() *pebble.Metrics {
	if !p.IsOpen() {
		return nil
	}
	return p.db.Metrics()
}

// Compact triggers manual compaction of the whole key space.
func (p *PebbleBackend) Compact() error {
	if !p.IsOpen() {
		return ErrBackendClosed
	}
	start := make([]byte, HashSize)
	end := make([]byte, HashSize+1)
	for i := 0; i < HashSize; i++ {
		end[i] = 0xff
	}
	return p.db.Compact(start, end, true)
}
