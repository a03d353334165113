package vmap

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/LeJamon/vmapd/internal/storage/nodestore"
)

func stateErr(m *Map, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrCopyState, m, fmt.Sprintf(format, args...))
}

// ComputeHash derives this copy's hash from its predecessor's hash, its
// version and its own changes in key order.
func (m *Map) ComputeHash() error {
	if !m.immutable.Load() {
		return stateErr(m, "hash of a mutable copy")
	}
	if m.hashed.Load() {
		return stateErr(m, "already hashed")
	}

	f := m.fam
	f.mu.RLock()
	prev := f.flushed.Hash
	if m.older != nil {
		if !m.older.hashed.Load() {
			f.mu.RUnlock()
			return stateErr(m, "older copy %s is not hashed", m.older)
		}
		prev = m.older.hash
	}
	h := chainHash(prev, m.version, m.delta)
	f.mu.RUnlock()

	m.hash = h
	m.hashed.Store(true)
	return nil
}

func chainHash(prev nodestore.Hash256, version uint64, delta map[Key]entry) nodestore.Hash256 {
	keys := make([]Key, 0, len(delta))
	for k := range delta {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})

	d := sha512.New()
	var buf [8]byte
	d.Write(prev[:])
	binary.BigEndian.PutUint64(buf[:], version)
	d.Write(buf[:])
	for _, k := range keys {
		e := delta[k]
		d.Write(k[:])
		if e.deleted {
			d.Write([]byte{0})
			continue
		}
		d.Write([]byte{1})
		binary.BigEndian.PutUint32(buf[:4], uint32(len(e.value)))
		d.Write(buf[:4])
		d.Write(e.value)
	}

	var h nodestore.Hash256
	copy(h[:], d.Sum(nil)[:nodestore.HashSize])
	return h
}

// Flush writes this copy's changes and a flush record to the data source.
// Only the oldest unresolved copy can be flushed.
func (m *Map) Flush() error {
	if !m.immutable.Load() || !m.hashed.Load() {
		return stateErr(m, "flush requires an immutable hashed copy")
	}
	if m.flushed.Load() || m.merged.Load() {
		return stateErr(m, "already resolved")
	}

	f := m.fam
	f.mu.RLock()
	if m.older != nil {
		f.mu.RUnlock()
		return stateErr(m, "older copy %s is unresolved", m.older)
	}
	nodes := make([]*nodestore.Node, 0, len(m.delta)+1)
	for k, e := range m.delta {
		if e.deleted {
			nodes = append(nodes, nodestore.NewNode(nodestore.NodeTombstone, k, nil, e.version))
		} else {
			nodes = append(nodes, nodestore.NewNode(nodestore.NodeEntry, k, e.value, e.version))
		}
	}
	f.mu.RUnlock()

	meta := nodestore.Meta{Version: m.version, Hash: m.hash}
	nodes = append(nodes, meta.Node())
	if err := f.source.write(context.Background(), nodes); err != nil {
		return fmt.Errorf("flush %s: %w", m, err)
	}

	f.mu.Lock()
	f.flushed = meta
	if m.newer != nil {
		m.newer.older = nil
	}
	m.newer = nil
	m.delta = nil
	f.mu.Unlock()

	m.flushed.Store(true)
	m.flushedLatch.Release()
	f.logger.Debug("flushed changes",
		zap.Uint64("version", m.version),
		zap.Int("nodes", len(nodes)))
	return nil
}

// Merge folds this copy's changes into its successor. Entries already
// present in the successor win.
func (m *Map) Merge() error {
	if !m.destroyed.Load() && !m.detached.Load() {
		return stateErr(m, "merge of a live copy")
	}
	if !m.immutable.Load() || !m.hashed.Load() {
		return stateErr(m, "merge requires an immutable hashed copy")
	}
	if m.flushed.Load() || m.merged.Load() {
		return stateErr(m, "already resolved")
	}

	f := m.fam
	f.mu.Lock()
	next := m.newer
	if next == nil || !next.immutable.Load() || !next.hashed.Load() {
		f.mu.Unlock()
		return stateErr(m, "successor is not an immutable hashed copy")
	}
	for k, e := range m.delta {
		if _, ok := next.delta[k]; !ok {
			next.delta[k] = e
		}
	}
	next.older = m.older
	if m.older != nil {
		m.older.newer = next
	}
	m.older, m.newer, m.delta = nil, nil, nil
	f.mu.Unlock()

	m.merged.Store(true)
	m.mergedLatch.Release()
	return nil
}

// Detach freezes the state visible through this copy into its accessor.
func (m *Map) Detach() error {
	if m.detached.Load() {
		return nil
	}
	if m.destroyed.Load() {
		return stateErr(m, "detach of a released copy")
	}
	if !m.immutable.Load() || !m.hashed.Load() {
		return stateErr(m, "detach requires an immutable hashed copy")
	}
	a, err := m.view()
	if err != nil {
		return err
	}
	m.accessor = a
	m.detached.Store(true)
	f := m.fam
	f.logger.Debug("detached copy", zap.Uint64("version", m.version), zap.Int("entries", len(a.entries)))
	return nil
}

// Snapshot writes the full state visible through this copy to a new store
// at path.
func (m *Map) Snapshot(path string) error {
	if !m.immutable.Load() || !m.hashed.Load() {
		return stateErr(m, "snapshot requires an immutable hashed copy")
	}
	a := m.accessor
	if !m.detached.Load() {
		var err error
		if a, err = m.view(); err != nil {
			return err
		}
		defer a.Close()
	}
	if err := m.fam.source.writeSnapshot(path, a); err != nil {
		return fmt.Errorf("snapshot %s to %s: %w", m, path, err)
	}
	m.fam.logger.Info("wrote snapshot", zap.Uint64("version", m.version), zap.String("path", path))
	return nil
}

// view materializes the changes of this copy and every older unresolved
// copy over a point-in-time snapshot of the data source.
func (m *Map) view() (*Accessor, error) {
	f := m.fam
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrClosed
	}
	if m.flushed.Load() || m.merged.Load() {
		return nil, stateErr(m, "already resolved")
	}
	entries := make(map[Key]entry)
	for c := m; c != nil; c = c.older {
		for k, e := range c.delta {
			if _, seen := entries[k]; !seen {
				entries[k] = e
			}
		}
	}
	snap, err := f.source.db.Snapshot()
	if err != nil {
		return nil, err
	}
	a := &Accessor{fam: f, version: m.version, hash: m.hash, entries: entries, snap: snap}
	f.accessors[a] = struct{}{}
	return a, nil
}

// OnShutdown closes the family's accessors and data source.
func (m *Map) OnShutdown(immediate bool) {
	m.fam.shutdown(immediate)
}

func (f *family) shutdown(immediate bool) {
	f.shutdownOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		accessors := f.accessors
		f.accessors = nil
		flushed := f.flushed
		f.mu.Unlock()

		for a := range accessors {
			a.release()
		}
		if err := f.source.Close(); err != nil {
			f.logger.Error("closing data source", zap.Error(err))
		}
		f.logger.Info("map family shut down",
			zap.Bool("immediate", immediate),
			zap.Uint64("flushed_version", flushed.Version),
			zap.Int("open_accessors", len(accessors)))
	})
}
