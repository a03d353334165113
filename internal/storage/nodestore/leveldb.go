package nodestore

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBBackend implements a goleveldb storage backend.
type LevelDBBackend struct {
	db     *leveldb.DB
	codec  *codec
	config *Config

	open       atomic.Bool
	deletePath atomic.Bool
}

// NewLevelDBBackend creates a new goleveldb backend.
func NewLevelDBBackend(config *Config) (Backend, error) {
	if config == nil {
		config = DefaultConfig()
	}
	c, err := newCodec(config)
	if err != nil {
		return nil, err
	}
	return &LevelDBBackend{codec: c, config: config}, nil
}

func (l *LevelDBBackend) Name() string {
	return fmt.Sprintf("leveldb(%s)", l.config.Path)
}

func (l *LevelDBBackend) Open(createIfMissing bool) error {
	if !l.open.CompareAndSwap(false, true) {
		return fmt.Errorf("backend already open")
	}

	db, err := leveldb.OpenFile(l.config.Path, &opt.Options{
		ErrorIfMissing:     !createIfMissing,
		Filter:             filter.NewBloomFilter(10),
		BlockCacheCapacity: 32 << 20,
		WriteBuffer:        16 << 20,
		Compression:        opt.NoCompression,
	})
	if err != nil {
		l.open.Store(false)
		return fmt.Errorf("failed to open LevelDB at %s: %w", l.config.Path, err)
	}
	l.db = db
	return nil
}

func (l *LevelDBBackend) Close() error {
	if !l.open.CompareAndSwap(true, false) {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	if l.deletePath.Load() && l.config.Path != "" {
		if removeErr := os.RemoveAll(l.config.Path); removeErr != nil && err == nil {
			err = removeErr
		}
	}
	return err
}

func (l *LevelDBBackend) IsOpen() bool {
	return l.open.Load()
}

type leveldbReader interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

func (l *LevelDBBackend) get(r leveldbReader, key Hash256) (*Node, Status) {
	value, err := r.Get(key[:], nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, NotFound
		}
		return nil, BackendError
	}
	node, err := l.codec.decode(key, value)
	if err != nil {
		return nil, DataCorrupt
	}
	return node, OK
}

func (l *LevelDBBackend) Fetch(key Hash256) (*Node, Status) {
	if !l.IsOpen() {
		return nil, BackendError
	}
	return l.get(l.db, key)
}

func (l *LevelDBBackend) FetchBatch(keys []Hash256) ([]*Node, Status) {
	if !l.IsOpen() {
		return nil, BackendError
	}
	results := make([]*Node, len(keys))
	for i, key := range keys {
		node, status := l.get(l.db, key)
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

func (l *LevelDBBackend) Store(node *Node) Status {
	if node == nil {
		return BackendError
	}
	return l.StoreBatch([]*Node{node})
}

func (l *LevelDBBackend) StoreBatch(nodes []*Node) Status {
	if !l.IsOpen() {
		return BackendError
	}
	if len(nodes) == 0 {
		return OK
	}

	batch := new(leveldb.Batch)
	for _, node := range nodes {
		if node == nil {
			continue
		}
		if node.Type == NodeTombstone {
			batch.Delete(node.Hash[:])
			continue
		}
		value, err := l.codec.encode(node)
		if err != nil {
			return BackendError
		}
		batch.Put(node.Hash[:], value)
	}

	if err := l.db.Write(batch, &opt.WriteOptions{Sync: l.config.SyncWrites}); err != nil {
		return BackendError
	}
	return OK
}

// Sync is a no-op: committed batches are already in the journal, and
// SyncWrites controls whether the journal is fsynced per batch.
func (l *LevelDBBackend) Sync() Status {
	if !l.IsOpen() {
		return BackendError
	}
	return OK
}

func (l *LevelDBBackend) ForEach(fn func(*Node) error) error {
	if !l.IsOpen() {
		return ErrBackendClosed
	}
	return l.iterate(l.db, fn)
}

func (l *LevelDBBackend) iterate(r leveldbReader, fn func(*Node) error) error {
	iter := r.NewIterator(nil, nil)
	defer iter.Release()

	for iter.Next() {
		key, ok := keyFromBytes(iter.Key())
		if !ok {
			continue
		}
		node, err := l.codec.decode(key, iter.Value())
		if err != nil {
			return NewError("iterate", l.Name(), key, err)
		}
		if err := fn(node); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Snapshot returns a goleveldb snapshot of the current state.
func (l *LevelDBBackend) Snapshot() (SnapshotReader, error) {
	if !l.IsOpen() {
		return nil, ErrBackendClosed
	}
	snap, err := l.db.GetSnapshot()
	if err != nil {
		return nil, err
	}
	return &leveldbSnapshot{backend: l, snap: snap}, nil
}

type leveldbSnapshot struct {
	backend *LevelDBBackend
	snap    *leveldb.Snapshot
}

func (s *leveldbSnapshot) Fetch(key Hash256) (*Node, Status) {
	return s.backend.get(s.snap, key)
}

func (s *leveldbSnapshot) ForEach(fn func(*Node) error) error {
	return s.backend.iterate(s.snap, fn)
}

func (s *leveldbSnapshot) Close() error {
	s.snap.Release()
	return nil
}

func (l *LevelDBBackend) SetDeletePath() {
	l.deletePath.Store(true)
}

func (l *LevelDBBackend) FdRequired() int {
	return 500
}

func (l *LevelDBBackend) Info() BackendInfo {
	return BackendInfo{
		Name:            "leveldb",
		Description:     "goleveldb LSM-tree backend",
		FileDescriptors: l.FdRequired(),
		Persistent:      true,
		Compression:     true,
		Snapshots:       true,
	}
}

// Compact compacts the whole key space.
func (l *LevelDBBackend) Compact() error {
	if !l.IsOpen() {
		return ErrBackendClosed
	}
	return l.db.CompactRange(util.Range{})
}
