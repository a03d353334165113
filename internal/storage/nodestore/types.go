// Package nodestore provides persistent key-value storage for the entries of
// a versioned map family. Nodes are addressed by a 32-byte key and carry the
// version of the copy that last wrote them. The package offers caching,
// compression, batched writes and point-in-time snapshots on top of
// interchangeable backends.
package nodestore

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"time"
)

// HashSize is the size of a Hash256 in bytes.
const HashSize = 32

// Hash256 is a 32-byte key or digest.
type Hash256 [HashSize]byte

// Hash256FromData returns the first half of the SHA-512 digest of data.
func Hash256FromData(data []byte) Hash256 {
	sum := sha512.Sum512(data)
	var h Hash256
	copy(h[:], sum[:HashSize])
	return h
}

// Hash256FromHex parses a hex encoded hash.
func Hash256FromHex(s string) (Hash256, error) {
	var h Hash256
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidHash, HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// IsZero reports whether every byte of the hash is zero.
func (h Hash256) IsZero() bool {
	return h == Hash256{}
}

// String returns the upper case hex encoding of the hash.
func (h Hash256) String() string {
	return fmt.Sprintf("%X", h[:])
}

// Blob is an opaque byte payload.
type Blob []byte

// NodeType represents the kind of record stored in the nodestore.
type NodeType uint32

const (
	// NodeUnknown represents an unknown or invalid node type
	NodeUnknown NodeType = 0
	// NodeEntry represents a live map entry
	NodeEntry NodeType = 1
	// NodeTombstone marks a deleted entry; backends remove the key when storing it
	NodeTombstone NodeType = 2
	// NodeMeta holds the version and hash of the last flushed copy
	NodeMeta NodeType = 3
)

// String returns the string representation of the NodeType.
func (nt NodeType) String() string {
	switch nt {
	case NodeUnknown:
		return "NodeUnknown"
	case NodeEntry:
		return "NodeEntry"
	case NodeTombstone:
		return "NodeTombstone"
	case NodeMeta:
		return "NodeMeta"
	default:
		return fmt.Sprintf("NodeType(%d)", uint32(nt))
	}
}

// Node represents a stored record with its metadata.
type Node struct {
	Type      NodeType  // Type of the record
	Hash      Hash256   // Key of the record
	Data      Blob      // Payload
	Version   uint64    // Version of the copy that wrote the record
	CreatedAt time.Time // Timestamp when the node was created
}

// NewNode creates a new Node keyed by key.
func NewNode(nodeType NodeType, key Hash256, data Blob, version uint64) *Node {
	return &Node{
		Type:      nodeType,
		Hash:      key,
		Data:      data,
		Version:   version,
		CreatedAt: time.Now(),
	}
}

// Size returns the size of the node's data in bytes.
func (n *Node) Size() int {
	return len(n.Data)
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	c := *n
	c.Data = make(Blob, len(n.Data))
	copy(c.Data, n.Data)
	return &c
}

// Validate checks that the node is well formed for its type.
func (n *Node) Validate() error {
	if n == nil {
		return ErrInvalidNode
	}
	switch n.Type {
	case NodeEntry:
		if len(n.Data) == 0 {
			return fmt.Errorf("%w: entry %s has no data", ErrInvalidNode, n.Hash)
		}
	case NodeTombstone:
		if len(n.Data) != 0 {
			return fmt.Errorf("%w: tombstone %s carries data", ErrInvalidNode, n.Hash)
		}
	case NodeMeta:
		if len(n.Data) != metaSize {
			return fmt.Errorf("%w: meta record has %d bytes", ErrInvalidNode, len(n.Data))
		}
	default:
		return fmt.Errorf("%w: unknown type %s", ErrInvalidNode, n.Type)
	}
	return nil
}

// IsValid returns true if the node passes Validate.
func (n *Node) IsValid() bool {
	return n.Validate() == nil
}

// Database defines the main interface for the NodeStore.
type Database interface {
	// Store persists a node to the store.
	Store(ctx context.Context, node *Node) error

	// Fetch retrieves a node by its key. A missing node is returned as nil
	// without an error.
	Fetch(ctx context.Context, key Hash256) (*Node, error)

	// FetchBatch retrieves multiple nodes efficiently in a single operation.
	FetchBatch(ctx context.Context, keys []Hash256) ([]*Node, error)

	// StoreBatch stores multiple nodes in a single operation. Tombstones
	// delete their key.
	StoreBatch(ctx context.Context, nodes []*Node) error

	// ForEach iterates over all stored nodes.
	ForEach(fn func(*Node) error) error

	// Snapshot returns a point-in-time reader over the store.
	Snapshot() (SnapshotReader, error)

	// Sweep removes expired entries from caches.
	Sweep() error

	// Stats returns performance statistics.
	Stats() Statistics

	// Close gracefully closes the database and releases resources.
	Close() error

	// Sync forces any pending writes to be flushed to disk.
	Sync() error
}

// Statistics holds performance metrics for the NodeStore.
type Statistics struct {
	// Read metrics
	Reads       uint64 // Total number of read operations
	CacheHits   uint64 // Number of successful cache hits
	CacheMisses uint64 // Number of cache misses
	ReadBytes   uint64 // Total bytes read

	// Write metrics
	Writes     uint64 // Total number of write operations
	Deletes    uint64 // Total number of tombstones applied
	WriteBytes uint64 // Total bytes written

	// Cache metrics
	CacheSize    uint64 // Current number of items in cache
	CacheMaxSize uint64 // Maximum cache size

	// Backend metrics
	BackendName string // Name of the storage backend
}

// String returns a formatted string representation of the statistics.
func (s Statistics) String() string {
	cacheHitRate := float64(0)
	if s.Reads > 0 {
		cacheHitRate = float64(s.CacheHits) / float64(s.Reads) * 100
	}

	return fmt.Sprintf(`NodeStore Statistics:
  Backend: %s
  Reads: %d (%.2f%% cache hit rate)
  Cache: %d/%d items
  Writes: %d
  Deletes: %d
  Read Bytes: %d
  Write Bytes: %d`,
		s.BackendName,
		s.Reads, cacheHitRate,
		s.CacheSize, s.CacheMaxSize,
		s.Writes,
		s.Deletes,
		s.ReadBytes,
		s.WriteBytes)
}

// Status represents the status of a backend operation.
type Status int

const (
	// OK indicates the operation was successful
	OK Status = iota
	// NotFound indicates the requested object was not found
	NotFound
	// DataCorrupt indicates the stored data is corrupted
	DataCorrupt
	// BackendError indicates an error in the storage backend
	BackendError
	// Unknown indicates an unknown error occurred
	Unknown
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case NotFound:
		return "NotFound"
	case DataCorrupt:
		return "DataCorrupt"
	case BackendError:
		return "BackendError"
	case Unknown:
		return "Unknown"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

//go:generate mockgen -source types.go -destination backend_mocks.go -package nodestore

// Backend defines the interface for storage backends.
type Backend interface {
	// Name returns a human-readable name for this backend.
	Name() string

	// Open opens the backend for use.
	Open(createIfMissing bool) error

	// Close closes the backend and releases resources.
	Close() error

	// IsOpen returns true if the backend is currently open.
	IsOpen() bool

	// Fetch retrieves a single object by key.
	Fetch(key Hash256) (*Node, Status)

	// FetchBatch retrieves multiple objects efficiently.
	FetchBatch(keys []Hash256) ([]*Node, Status)

	// Store saves a single object.
	Store(node *Node) Status

	// StoreBatch saves multiple objects atomically. Tombstones delete their key.
	StoreBatch(nodes []*Node) Status

	// Sync forces pending writes to be flushed.
	Sync() Status

	// ForEach iterates over all objects in the backend.
	ForEach(fn func(*Node) error) error

	// SetDeletePath marks the backend for deletion when closed.
	SetDeletePath()

	// FdRequired returns the number of file descriptors needed.
	FdRequired() int
}

// Snapshotter is implemented by backends that can provide a consistent
// point-in-time view while writes continue.
type Snapshotter interface {
	Snapshot() (SnapshotReader, error)
}

// SnapshotReader is a read-only point-in-time view of a backend.
type SnapshotReader interface {
	// Fetch retrieves a single object by key as of the snapshot.
	Fetch(key Hash256) (*Node, Status)

	// ForEach iterates over all objects in the snapshot.
	ForEach(fn func(*Node) error) error

	// Close releases the snapshot.
	Close() error
}
