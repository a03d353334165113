package nodestore

import (
	"bytes"
	"sort"
	"sync"
	"sync/atomic"
)

// MemoryBackend implements an in-memory Backend.
// Data does not survive Close.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[Hash256]*Node

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

// NewMemoryBackend creates a new in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data: make(map[Hash256]*Node),
	}
}

// Name returns the name of this backend.
func (m *MemoryBackend) Name() string {
	return "memory"
}

// Open opens the backend for use.
func (m *MemoryBackend) Open(createIfMissing bool) error {
	if !m.open.CompareAndSwap(false, true) {
		return ErrBackendClosed
	}
	return nil
}

// Close closes the backend and clears all data.
func (m *MemoryBackend) Close() error {
	if !m.open.CompareAndSwap(true, false) {
		return nil
	}
	m.mu.Lock()
	m.data = make(map[Hash256]*Node)
	m.mu.Unlock()
	return nil
}

// IsOpen returns true if the backend is currently open.
func (m *MemoryBackend) IsOpen() bool {
	return m.open.Load()
}

// Fetch retrieves a single object by key.
func (m *MemoryBackend) Fetch(key Hash256) (*Node, Status) {
	if !m.IsOpen() {
		return nil, BackendError
	}

	m.mu.RLock()
	node, found := m.data[key]
	m.mu.RUnlock()
	if !found {
		return nil, NotFound
	}

	m.stats.reads.Add(1)
	m.stats.bytesRead.Add(int64(len(node.Data)))
	return node.Clone(), OK
}

// FetchBatch retrieves multiple objects; missing keys leave a nil slot.
func (m *MemoryBackend) FetchBatch(keys []Hash256) ([]*Node, Status) {
	if !m.IsOpen() {
		return nil, BackendError
	}

	results := make([]*Node, len(keys))
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i, key := range keys {
		if node, found := m.data[key]; found {
			results[i] = node.Clone()
			m.stats.reads.Add(1)
			m.stats.bytesRead.Add(int64(len(node.Data)))
		}
	}
	return results, OK
}

// Store saves a single object.
func (m *MemoryBackend) Store(node *Node) Status {
	if node == nil {
		return BackendError
	}
	return m.StoreBatch([]*Node{node})
}

// StoreBatch applies all nodes under one lock acquisition.
func (m *MemoryBackend) StoreBatch(nodes []*Node) Status {
	if !m.IsOpen() {
		return BackendError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, node := range nodes {
		if node == nil {
			continue
		}
		if node.Type == NodeTombstone {
			delete(m.data, node.Hash)
			m.stats.deletes.Add(1)
			continue
		}
		m.data[node.Hash] = node.Clone()
		m.stats.writes.Add(1)
		m.stats.bytesWritten.Add(int64(len(node.Data)))
	}
	return OK
}

// Sync is a no-op for the memory backend.
func (m *MemoryBackend) Sync() Status {
	if !m.IsOpen() {
		return BackendError
	}
	return OK
}

// ForEach iterates over all objects in key order.
func (m *MemoryBackend) ForEach(fn func(*Node) error) error {
	if !m.IsOpen() {
		return ErrBackendClosed
	}
	m.mu.RLock()
	nodes := sortedNodes(m.data)
	m.mu.RUnlock()
	return forEachNode(nodes, fn)
}

// Snapshot copies the current contents.
func (m *MemoryBackend) Snapshot() (SnapshotReader, error) {
	if !m.IsOpen() {
		return nil, ErrBackendClosed
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := &memorySnapshot{data: make(map[Hash256]*Node, len(m.data))}
	for k, v := range m.data {
		snap.data[k] = v.Clone()
	}
	return snap, nil
}

type memorySnapshot struct {
	data map[Hash256]*Node
}

func (s *memorySnapshot) Fetch(key Hash256) (*Node, Status) {
	node, ok := s.data[key]
	if !ok {
		return nil, NotFound
	}
	return node.Clone(), OK
}

func (s *memorySnapshot) ForEach(fn func(*Node) error) error {
	return forEachNode(sortedNodes(s.data), fn)
}

func (s *memorySnapshot) Close() error { return nil }

func sortedNodes(data map[Hash256]*Node) []*Node {
	nodes := make([]*Node, 0, len(data))
	for _, n := range data {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return bytes.Compare(nodes[i].Hash[:], nodes[j].Hash[:]) < 0
	})
	return nodes
}

func forEachNode(nodes []*Node, fn func(*Node) error) error {
	for _, n := range nodes {
		if err := fn(n.Clone()); err != nil {
			return err
		}
	}
	return nil
}

// SetDeletePath is a no-op for the memory backend.
func (m *MemoryBackend) SetDeletePath() {
	m.deletePath.Store(true)
}

// FdRequired returns 0.
func (m *MemoryBackend) FdRequired() int {
	return 0
}

// Size returns the number of nodes stored in the backend.
func (m *MemoryBackend) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Info returns information about this backend.
func (m *MemoryBackend) Info() BackendInfo {
	return BackendInfo{
		Name:        "memory",
		Description: "In-memory storage backend",
		Snapshots:   true,
	}
}
