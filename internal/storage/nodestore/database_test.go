package nodestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryDatabase(t *testing.T, cacheSize int) *DatabaseImpl {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Backend = "memory"
	cfg.CacheSize = cacheSize
	cfg.CacheTTL = 0
	db, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDatabaseFetchMissing(t *testing.T) {
	db := newMemoryDatabase(t, 10)
	node, err := db.Fetch(context.Background(), testKey(1))
	require.NoError(t, err)
	assert.Nil(t, node)
}

func TestDatabaseCache(t *testing.T) {
	ctx := context.Background()
	db := newMemoryDatabase(t, 10)

	require.NoError(t, db.Store(ctx, NewNode(NodeEntry, testKey(1), Blob("v"), 1)))
	for i := 0; i < 3; i++ {
		node, err := db.Fetch(ctx, testKey(1))
		require.NoError(t, err)
		assert.Equal(t, Blob("v"), node.Data)
	}

	stats := db.Stats()
	assert.Equal(t, uint64(3), stats.Reads)
	assert.Equal(t, uint64(3), stats.CacheHits)
	assert.Equal(t, uint64(1), stats.Writes)
	assert.Equal(t, uint64(1), stats.CacheSize)
	assert.Equal(t, "memory", stats.BackendName)

	require.NoError(t, db.StoreBatch(ctx, []*Node{NewNode(NodeTombstone, testKey(1), nil, 2)}))
	node, err := db.Fetch(ctx, testKey(1))
	require.NoError(t, err)
	assert.Nil(t, node, "tombstone must evict the cached entry")
	assert.Equal(t, uint64(1), db.Stats().Deletes)
}

func TestDatabaseCacheEviction(t *testing.T) {
	ctx := context.Background()
	db := newMemoryDatabase(t, 2)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.Store(ctx, NewNode(NodeEntry, testKey(i), Blob("v"), 1)))
	}
	assert.Equal(t, 2, db.cache.Size())
	assert.Equal(t, uint64(3), db.cache.Stats().Evictions)

	node, err := db.Fetch(ctx, testKey(0))
	require.NoError(t, err)
	require.NotNil(t, node, "evicted entries are still read from the backend")
}

func TestDatabaseRejectsInvalidNodes(t *testing.T) {
	db := newMemoryDatabase(t, 0)
	err := db.StoreBatch(context.Background(), []*Node{NewNode(NodeEntry, testKey(1), nil, 1)})
	assert.ErrorIs(t, err, ErrInvalidNode)
}

func TestDatabaseContextAndClose(t *testing.T) {
	db := newMemoryDatabase(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := db.Fetch(ctx, testKey(1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, db.Store(ctx, NewNode(NodeEntry, testKey(1), Blob("v"), 1)), context.Canceled)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
	_, err = db.Fetch(context.Background(), testKey(1))
	assert.ErrorIs(t, err, ErrShutdown)
	assert.ErrorIs(t, db.Sync(), ErrShutdown)
	_, err = db.Snapshot()
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestDatabaseBackendFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	backend.EXPECT().Name().Return("mock").AnyTimes()

	db := NewDatabase(backend, 0, 0)

	backend.EXPECT().Fetch(testKey(1)).Return(nil, DataCorrupt)
	_, err := db.Fetch(context.Background(), testKey(1))
	assert.ErrorIs(t, err, ErrDataCorrupt)
	assert.True(t, IsDataCorrupt(err))

	var nsErr *NodeStoreError
	require.True(t, errors.As(err, &nsErr))
	assert.Equal(t, "fetch", nsErr.Operation)
	assert.Equal(t, testKey(1), nsErr.Hash)
	assert.Contains(t, err.Error(), testKey(1).String())

	backend.EXPECT().StoreBatch(gomock.Any()).Return(BackendError)
	err = db.Store(context.Background(), NewNode(NodeEntry, testKey(2), Blob("v"), 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BackendError")

	backend.EXPECT().Sync().Return(BackendError)
	require.Error(t, db.Sync())

	_, err = db.Snapshot()
	assert.ErrorIs(t, err, ErrSnapshotUnsupported)

	backend.EXPECT().Close().Return(nil)
	require.NoError(t, db.Close())
}

func TestOpenValidatesConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "rocksdb"
	_, err := Open(cfg)
	assert.ErrorIs(t, err, ErrUnsupportedBackend)

	cfg = DefaultConfig()
	cfg.Compressor = "zstd"
	_, err = Open(cfg)
	assert.ErrorIs(t, err, ErrUnsupportedCompressor)

	cfg = DefaultConfig()
	cfg.Path = ""
	_, err = Open(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.BatchSize = 0
	_, err = Open(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplyOptions(
		WithBackend("leveldb"),
		WithPath("/tmp/x"),
		WithCacheSize(5),
		WithCacheTTL(time.Minute),
		WithCompression("none", 0),
		WithSyncWrites(true),
		WithCreateIfMissing(false),
	)
	clone := cfg.Clone()
	assert.Equal(t, cfg, clone)
	assert.NotSame(t, cfg, clone)
	assert.Equal(t, "leveldb", clone.Backend)
	assert.True(t, clone.SyncWrites)
	assert.Contains(t, cfg.String(), "/tmp/x")
	require.NoError(t, cfg.Validate())
}

func TestDatabaseSnapshot(t *testing.T) {
	ctx := context.Background()
	db := newMemoryDatabase(t, 4)
	require.NoError(t, db.Store(ctx, NewNode(NodeEntry, testKey(1), Blob("a"), 1)))

	snap, err := db.Snapshot()
	require.NoError(t, err)
	defer snap.Close()

	require.NoError(t, db.Store(ctx, NewNode(NodeEntry, testKey(1), Blob("b"), 2)))
	got, status := snap.Fetch(testKey(1))
	require.Equal(t, OK, status)
	assert.Equal(t, Blob("a"), got.Data)
}
