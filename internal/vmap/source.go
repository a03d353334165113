package vmap

import (
	"context"
	"fmt"
	"sync"

	"github.com/LeJamon/vmapd/internal/storage/nodestore"
)

// DataSource is the durable store shared by every copy of a family.
// Writes go through a batch writer; reads go to the database directly.
type DataSource struct {
	db     nodestore.Database
	writer *nodestore.BatchWriter
	config *nodestore.Config

	closeOnce sync.Once
	closeErr  error
}

// OpenDataSource opens the node store described by cfg.
func OpenDataSource(cfg *nodestore.Config) (*DataSource, error) {
	db, err := nodestore.Open(cfg)
	if err != nil {
		return nil, err
	}
	s, err := NewDataSource(db, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewDataSource wraps an open database. cfg supplies the batch settings and
// the backend type used for disk snapshots.
func NewDataSource(db nodestore.Database, cfg *nodestore.Config) (*DataSource, error) {
	if cfg == nil {
		cfg = nodestore.DefaultConfig()
	}
	bwc := nodestore.DefaultBatchWriteConfig()
	if cfg.BatchSize > 0 {
		bwc.LimitSize = cfg.BatchSize
		bwc.PreallocationSize = min(bwc.PreallocationSize, cfg.BatchSize)
	}
	if cfg.FlushInterval > 0 {
		bwc.FlushInterval = cfg.FlushInterval
	}
	writer, err := nodestore.NewBatchWriter(db, bwc)
	if err != nil {
		return nil, err
	}
	return &DataSource{db: db, writer: writer, config: cfg.Clone()}, nil
}

// Database returns the underlying node store.
func (s *DataSource) Database() nodestore.Database {
	return s.db
}

// BatchStats returns the batch writer statistics.
func (s *DataSource) BatchStats() nodestore.BatchWriterStats {
	return s.writer.Stats()
}

// write stores nodes in order and makes them durable.
func (s *DataSource) write(ctx context.Context, nodes []*nodestore.Node) error {
	c := nodestore.NewBatchWriteCollector()
	for _, n := range nodes {
		c.Add(n.Hash, s.writer.WriteNode(n))
	}
	s.writer.Flush()
	if err := c.Wait(ctx); err != nil {
		return err
	}
	return s.db.Sync()
}

// writeSnapshot copies the state visible through a into a fresh backend of
// the configured type at path.
func (s *DataSource) writeSnapshot(path string, a *Accessor) error {
	cfg := s.config.Clone()
	cfg.Path = path
	if cfg.Backend == "memory" {
		return fmt.Errorf("%w: memory backend cannot hold a disk snapshot", nodestore.ErrSnapshotUnsupported)
	}
	backend, err := nodestore.CreateBackend(cfg.Backend, cfg)
	if err != nil {
		return err
	}
	if err := backend.Open(true); err != nil {
		return err
	}

	batchSize := max(cfg.BatchSize, 1)
	batch := make([]*nodestore.Node, 0, batchSize)
	store := func() error {
		if status := backend.StoreBatch(batch); status != nodestore.OK {
			return nodestore.StatusError("snapshot", backend.Name(), nodestore.Hash256{}, status)
		}
		batch = batch[:0]
		return nil
	}

	err = a.forEachNode(func(n *nodestore.Node) error {
		batch = append(batch, n)
		if len(batch) >= batchSize {
			return store()
		}
		return nil
	})
	if err == nil {
		batch = append(batch, nodestore.Meta{Version: a.version, Hash: a.hash}.Node())
		err = store()
	}
	if err == nil {
		if status := backend.Sync(); status != nodestore.OK {
			err = nodestore.StatusError("snapshot sync", backend.Name(), nodestore.Hash256{}, status)
		}
	}
	if closeErr := backend.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close stops the batch writer and closes the database. Only the first call
// has an effect.
func (s *DataSource) Close() error {
	s.closeOnce.Do(func() {
		werr := s.writer.Close()
		derr := s.db.Close()
		if werr != nil {
			s.closeErr = werr
		} else {
			s.closeErr = derr
		}
	})
	return s.closeErr
}

func (s *DataSource) get(ctx context.Context, key Key) ([]byte, bool, error) {
	node, err := s.db.Fetch(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if node == nil || node.Type != nodestore.NodeEntry {
		return nil, false, nil
	}
	return clone(node.Data), true, nil
}
