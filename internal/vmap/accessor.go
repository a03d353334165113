package vmap

import (
	"context"
	"sync"

	"github.com/LeJamon/vmapd/internal/storage/nodestore"
)

// Accessor is a read-only view of one copy that does not depend on the copy
// staying unresolved. It is invalidated when the family shuts down.
type Accessor struct {
	fam     *family
	version uint64
	hash    nodestore.Hash256
	entries map[Key]entry

	mu   sync.RWMutex
	snap nodestore.SnapshotReader
}

// Version returns the version of the copy this view was taken from.
func (a *Accessor) Version() uint64 { return a.version }

// Hash returns the hash of the copy this view was taken from.
func (a *Accessor) Hash() nodestore.Hash256 { return a.hash }

// Get returns the value stored under key.
func (a *Accessor) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if e, ok := a.entries[key]; ok {
		if e.deleted {
			return nil, false, nil
		}
		return clone(e.value), true, nil
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.snap == nil {
		return nil, false, ErrClosed
	}
	node, status := a.snap.Fetch(key)
	switch status {
	case nodestore.OK:
	case nodestore.NotFound:
		return nil, false, nil
	default:
		return nil, false, nodestore.StatusError("accessor fetch", "snapshot", key, status)
	}
	if node.Type != nodestore.NodeEntry {
		return nil, false, nil
	}
	return clone(node.Data), true, nil
}

// ForEach calls fn for every live entry, in no particular order.
func (a *Accessor) ForEach(fn func(key Key, value []byte) error) error {
	return a.forEachNode(func(n *nodestore.Node) error {
		return fn(n.Hash, n.Data)
	})
}

func (a *Accessor) forEachNode(fn func(*nodestore.Node) error) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.snap == nil {
		return ErrClosed
	}

	err := a.snap.ForEach(func(n *nodestore.Node) error {
		if n.Type != nodestore.NodeEntry {
			return nil
		}
		if _, overridden := a.entries[n.Hash]; overridden {
			return nil
		}
		return fn(n)
	})
	if err != nil {
		return err
	}
	for k, e := range a.entries {
		if e.deleted {
			continue
		}
		if err := fn(nodestore.NewNode(nodestore.NodeEntry, k, clone(e.value), e.version)); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying data source snapshot.
func (a *Accessor) Close() error {
	a.fam.mu.Lock()
	delete(a.fam.accessors, a)
	a.fam.mu.Unlock()
	return a.release()
}

func (a *Accessor) release() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.snap == nil {
		return nil
	}
	err := a.snap.Close()
	a.snap = nil
	return err
}
