package nodestore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultPreallocationSize is the default number of writes to preallocate space for.
	DefaultPreallocationSize = 256

	// DefaultLimitSize is the default maximum number of writes in a batch before flushing.
	DefaultLimitSize = 65536

	// DefaultFlushInterval is the default interval between periodic flushes.
	DefaultFlushInterval = 100 * time.Millisecond
)

// BatchStore is the write side of a Database.
type BatchStore interface {
	StoreBatch(ctx context.Context, nodes []*Node) error
	Sync() error
}

// BatchWriteConfig holds configuration for the batch writer.
type BatchWriteConfig struct {
	// PreallocationSize is the initial capacity of the write buffer.
	PreallocationSize int

	// LimitSize is the maximum number of writes to batch before flushing.
	LimitSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// SyncOnFlush determines whether to sync the store after each flush.
	SyncOnFlush bool
}

// DefaultBatchWriteConfig returns a BatchWriteConfig with sensible defaults.
func DefaultBatchWriteConfig() *BatchWriteConfig {
	return &BatchWriteConfig{
		PreallocationSize: DefaultPreallocationSize,
		LimitSize:         DefaultLimitSize,
		FlushInterval:     DefaultFlushInterval,
		SyncOnFlush:       false,
	}
}

// Validate checks if the configuration is valid.
func (c *BatchWriteConfig) Validate() error {
	if c.PreallocationSize <= 0 {
		return fmt.Errorf("%w: preallocation_size must be positive", ErrInvalidConfig)
	}
	if c.LimitSize <= 0 {
		return fmt.Errorf("%w: limit_size must be positive", ErrInvalidConfig)
	}
	if c.LimitSize < c.PreallocationSize {
		return fmt.Errorf("%w: limit_size must be >= preallocation_size", ErrInvalidConfig)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("%w: flush_interval must be positive", ErrInvalidConfig)
	}
	return nil
}

type pendingWrite struct {
	node   *Node
	result chan error
}

// BatchWriter accumulates node writes and hands them to a BatchStore
// periodically or when the batch limit is reached.
type BatchWriter struct {
	store  BatchStore
	config *BatchWriteConfig

	mu       sync.Mutex
	pending  []*pendingWrite
	flushMu  sync.Mutex
	shutdown atomic.Bool

	stopCh chan struct{}
	wg     sync.WaitGroup

	stats struct {
		totalWrites   atomic.Int64
		batchedWrites atomic.Int64
		flushes       atomic.Int64
		errors        atomic.Int64
		bytesWritten  atomic.Int64
	}
}

// NewBatchWriter creates a new BatchWriter and starts its flush goroutine.
func NewBatchWriter(store BatchStore, config *BatchWriteConfig) (*BatchWriter, error) {
	if store == nil {
		return nil, fmt.Errorf("store must not be nil")
	}
	if config == nil {
		config = DefaultBatchWriteConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	bw := &BatchWriter{
		store:   store,
		config:  config,
		pending: make([]*pendingWrite, 0, config.PreallocationSize),
		stopCh:  make(chan struct{}),
	}

	bw.wg.Add(1)
	go bw.flushWorker()

	return bw, nil
}

// WriteNode submits a node for batched writing. The returned channel
// receives the result of the batch the node ends up in.
func (bw *BatchWriter) WriteNode(node *Node) <-chan error {
	result := make(chan error, 1)
	if node == nil {
		result <- fmt.Errorf("%w: node cannot be nil", ErrInvalidNode)
		close(result)
		return result
	}
	if bw.shutdown.Load() {
		result <- ErrShutdown
		close(result)
		return result
	}

	bw.mu.Lock()
	bw.pending = append(bw.pending, &pendingWrite{node: node.Clone(), result: result})
	shouldFlush := len(bw.pending) >= bw.config.LimitSize
	bw.mu.Unlock()

	bw.stats.totalWrites.Add(1)
	if shouldFlush {
		bw.flush()
	}
	return result
}

// WriteNodeSync submits a node for batched writing and waits for completion.
func (bw *BatchWriter) WriteNodeSync(node *Node) error {
	return <-bw.WriteNode(node)
}

func (bw *BatchWriter) flushWorker() {
	defer bw.wg.Done()

	ticker := time.NewTicker(bw.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-bw.stopCh:
			bw.flush()
			return
		case <-ticker.C:
			bw.flush()
		}
	}
}

// flush writes all pending nodes. flushMu keeps batches in submission order
// when the limit-triggered and the periodic flush race.
func (bw *BatchWriter) flush() {
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()

	bw.mu.Lock()
	if len(bw.pending) == 0 {
		bw.mu.Unlock()
		return
	}
	toFlush := bw.pending
	bw.pending = make([]*pendingWrite, 0, bw.config.PreallocationSize)
	bw.mu.Unlock()

	nodes := make([]*Node, len(toFlush))
	var totalBytes int64
	for i, pw := range toFlush {
		nodes[i] = pw.node
		totalBytes += int64(len(pw.node.Data))
	}

	err := bw.store.StoreBatch(context.Background(), nodes)
	if err != nil {
		err = fmt.Errorf("batch store failed: %w", err)
		bw.stats.errors.Add(1)
	} else {
		bw.stats.batchedWrites.Add(int64(len(toFlush)))
		bw.stats.bytesWritten.Add(totalBytes)
		if bw.config.SyncOnFlush {
			if syncErr := bw.store.Sync(); syncErr != nil {
				err = fmt.Errorf("sync failed: %w", syncErr)
				bw.stats.errors.Add(1)
			}
		}
	}
	bw.stats.flushes.Add(1)

	for _, pw := range toFlush {
		pw.result <- err
		close(pw.result)
	}
}

// Flush forces an immediate flush of all pending writes.
func (bw *BatchWriter) Flush() {
	bw.flush()
}

// Close shuts down the batch writer and flushes any pending writes.
func (bw *BatchWriter) Close() error {
	if !bw.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	close(bw.stopCh)
	bw.wg.Wait()
	return nil
}

// PendingCount returns the number of pending writes.
func (bw *BatchWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.pending)
}

// Stats returns statistics about the batch writer.
func (bw *BatchWriter) Stats() BatchWriterStats {
	return BatchWriterStats{
		TotalWrites:   bw.stats.totalWrites.Load(),
		BatchedWrites: bw.stats.batchedWrites.Load(),
		Flushes:       bw.stats.flushes.Load(),
		Errors:        bw.stats.errors.Load(),
		BytesWritten:  bw.stats.bytesWritten.Load(),
		PendingCount:  bw.PendingCount(),
	}
}

// BatchWriterStats holds statistics for the batch writer.
type BatchWriterStats struct {
	TotalWrites   int64 // Total number of writes submitted
	BatchedWrites int64 // Number of writes successfully batched
	Flushes       int64 // Number of flush operations
	Errors        int64 // Number of errors encountered
	BytesWritten  int64 // Total bytes written
	PendingCount  int   // Current number of pending writes
}

// String returns a formatted string representation of the statistics.
func (s BatchWriterStats) String() string {
	return fmt.Sprintf("batch writer: %d submitted, %d written in %d flushes, %d errors, %d bytes, %d pending",
		s.TotalWrites, s.BatchedWrites, s.Flushes, s.Errors, s.BytesWritten, s.PendingCount)
}

// BatchWriteCollector waits for a group of batched writes.
type BatchWriteCollector struct {
	results []<-chan error
	hashes  []Hash256
}

// NewBatchWriteCollector creates a new collector for batch write results.
func NewBatchWriteCollector() *BatchWriteCollector {
	return &BatchWriteCollector{}
}

// Add adds a write result channel to the collector.
func (c *BatchWriteCollector) Add(hash Hash256, result <-chan error) {
	c.results = append(c.results, result)
	c.hashes = append(c.hashes, hash)
}

// Wait waits for all writes and returns the first error, annotated with the
// number of failed writes when there is more than one.
func (c *BatchWriteCollector) Wait(ctx context.Context) error {
	var firstErr error
	var failed int
	for i, ch := range c.results {
		select {
		case err := <-ch:
			if err != nil {
				failed++
				if firstErr == nil {
					firstErr = NewError("write", "batch", c.hashes[i], err)
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failed > 1 {
		return fmt.Errorf("%d writes failed, first error: %w", failed, firstErr)
	}
	return firstErr
}

// Count returns the number of tracked writes.
func (c *BatchWriteCollector) Count() int {
	return len(c.results)
}
