package nodestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
)

const (
	boltFileName = "nodes.db"

	// Read transactions held by snapshots block writers that need to grow
	// the memory map, so the initial mapping is sized generously.
	boltInitialMmapSize = 1 << 30
	boltCompactTxSize   = 64 << 20
)

var boltBucket = []byte("nodes")

// BoltBackend implements a bbolt storage backend. All nodes live in a single
// bucket of one file under the configured path.
type BoltBackend struct {
	db     *bbolt.DB
	codec  *codec
	config *Config

	open       atomic.Bool
	deletePath atomic.Bool
}

// NewBoltBackend creates a new bbolt backend.
func NewBoltBackend(config *Config) (Backend, error) {
	if config == nil {
		config = DefaultConfig()
	}
	c, err := newCodec(config)
	if err != nil {
		return nil, err
	}
	return &BoltBackend{codec: c, config: config}, nil
}

func (b *BoltBackend) Name() string {
	return fmt.Sprintf("bbolt(%s)", b.config.Path)
}

func (b *BoltBackend) file() string {
	return filepath.Join(b.config.Path, boltFileName)
}

func (b *BoltBackend) Open(createIfMissing bool) error {
	if !b.open.CompareAndSwap(false, true) {
		return fmt.Errorf("backend already open")
	}
	db, err := b.openFile(createIfMissing)
	if err != nil {
		b.open.Store(false)
		return err
	}
	b.db = db
	return nil
}

func (b *BoltBackend) openFile(createIfMissing bool) (*bbolt.DB, error) {
	if createIfMissing {
		if err := os.MkdirAll(b.config.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", b.config.Path, err)
		}
	} else if _, err := os.Stat(b.file()); err != nil {
		return nil, fmt.Errorf("failed to open bbolt at %s: %w", b.config.Path, err)
	}

	db, err := bbolt.Open(b.file(), 0600, &bbolt.Options{
		Timeout:         time.Second,
		NoSync:          !b.config.SyncWrites,
		InitialMmapSize: boltInitialMmapSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt at %s: %w", b.config.Path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket %s: %w", boltBucket, err)
	}
	return db, nil
}

func (b *BoltBackend) Close() error {
	if !b.open.CompareAndSwap(true, false) {
		return nil
	}
	err := b.db.Sync()
	if closeErr := b.db.Close(); err == nil {
		err = closeErr
	}
	b.db = nil
	if b.deletePath.Load() && b.config.Path != "" {
		if removeErr := os.RemoveAll(b.config.Path); removeErr != nil && err == nil {
			err = removeErr
		}
	}
	return err
}

func (b *BoltBackend) IsOpen() bool {
	return b.open.Load()
}

// get decodes the value under key. The codec copies the value, so the
// result stays valid after tx ends.
func (b *BoltBackend) get(tx *bbolt.Tx, key Hash256) (*Node, Status) {
	bucket := tx.Bucket(boltBucket)
	if bucket == nil {
		return nil, BackendError
	}
	value := bucket.Get(key[:])
	if value == nil {
		return nil, NotFound
	}
	node, err := b.codec.decode(key, value)
	if err != nil {
		return nil, DataCorrupt
	}
	return node, OK
}

func (b *BoltBackend) Fetch(key Hash256) (*Node, Status) {
	if !b.IsOpen() {
		return nil, BackendError
	}
	var node *Node
	status := BackendError
	err := b.db.View(func(tx *bbolt.Tx) error {
		node, status = b.get(tx, key)
		return nil
	})
	if err != nil {
		return nil, BackendError
	}
	return node, status
}

func (b *BoltBackend) FetchBatch(keys []Hash256) ([]*Node, Status) {
	if !b.IsOpen() {
		return nil, BackendError
	}
	results := make([]*Node, len(keys))
	status := OK
	err := b.db.View(func(tx *bbolt.Tx) error {
		for i, key := range keys {
			node, s := b.get(tx, key)
			switch s {
			case OK:
				results[i] = node
			case NotFound:
			default:
				status = s
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, BackendError
	}
	if status != OK {
		return nil, status
	}
	return results, OK
}

func (b *BoltBackend) Store(node *Node) Status {
	if node == nil {
		return BackendError
	}
	return b.StoreBatch([]*Node{node})
}

// StoreBatch applies all nodes in one read-write transaction.
func (b *BoltBackend) StoreBatch(nodes []*Node) Status {
	if !b.IsOpen() {
		return BackendError
	}
	if len(nodes) == 0 {
		return OK
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", boltBucket)
		}
		for _, node := range nodes {
			if node == nil {
				continue
			}
			if node.Type == NodeTombstone {
				if err := bucket.Delete(node.Hash[:]); err != nil {
					return err
				}
				continue
			}
			value, err := b.codec.encode(node)
			if err != nil {
				return err
			}
			if err := bucket.Put(node.Hash[:], value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return BackendError
	}
	return OK
}

func (b *BoltBackend) Sync() Status {
	if !b.IsOpen() {
		return BackendError
	}
	if err := b.db.Sync(); err != nil {
		return BackendError
	}
	return OK
}

func (b *BoltBackend) ForEach(fn func(*Node) error) error {
	if !b.IsOpen() {
		return ErrBackendClosed
	}
	return b.db.View(func(tx *bbolt.Tx) error {
		return b.iterate(tx, fn)
	})
}

func (b *BoltBackend) iterate(tx *bbolt.Tx, fn func(*Node) error) error {
	bucket := tx.Bucket(boltBucket)
	if bucket == nil {
		return fmt.Errorf("bucket %s not found", boltBucket)
	}
	c := bucket.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		key, ok := keyFromBytes(k)
		if !ok {
			continue
		}
		node, err := b.codec.decode(key, v)
		if err != nil {
			return NewError("iterate", b.Name(), key, err)
		}
		if err := fn(node); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot holds a read-only transaction until the snapshot is closed.
func (b *BoltBackend) Snapshot() (SnapshotReader, error) {
	if !b.IsOpen() {
		return nil, ErrBackendClosed
	}
	tx, err := b.db.Begin(false)
	if err != nil {
		return nil, err
	}
	return &boltSnapshot{backend: b, tx: tx}, nil
}

// boltSnapshot serializes access because a bbolt transaction is not safe
// for concurrent use.
type boltSnapshot struct {
	backend *BoltBackend

	mu sync.Mutex
	tx *bbolt.Tx
}

func (s *boltSnapshot) Fetch(key Hash256) (*Node, Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil, BackendError
	}
	return s.backend.get(s.tx, key)
}

func (s *boltSnapshot) ForEach(fn func(*Node) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return ErrBackendClosed
	}
	return s.backend.iterate(s.tx, fn)
}

func (s *boltSnapshot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	return err
}

func (b *BoltBackend) SetDeletePath() {
	b.deletePath.Store(true)
}

func (b *BoltBackend) FdRequired() int {
	return 1
}

func (b *BoltBackend) Info() BackendInfo {
	return BackendInfo{
		Name:            "bbolt",
		Description:     "bbolt B+tree backend",
		FileDescriptors: b.FdRequired(),
		Persistent:      true,
		Compression:     true,
		Snapshots:       true,
	}
}

// Compact rewrites the store into a fresh file, dropping free pages, and
// reopens it. No snapshot may be open.
func (b *BoltBackend) Compact() error {
	if !b.IsOpen() {
		return ErrBackendClosed
	}
	tmp := b.file() + ".compact"
	_ = os.Remove(tmp)
	dst, err := bbolt.Open(tmp, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return err
	}
	if err := bbolt.Compact(dst, b.db, boltCompactTxSize); err != nil {
		dst.Close()
		os.Remove(tmp)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := b.db.Close(); err != nil {
		return err
	}
	renameErr := os.Rename(tmp, b.file())
	db, err := b.openFile(false)
	if err != nil {
		b.open.Store(false)
		b.db = nil
		return errors.Join(renameErr, err)
	}
	b.db = db
	return renameErr
}
