package vmap

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/LeJamon/vmapd/internal/storage/nodestore"
)

const waitTimeout = 5 * time.Second

func key(i int) Key {
	return KeyOf([]byte(fmt.Sprintf("key-%d", i)))
}

func storeConfig(t *testing.T, backend string) *nodestore.Config {
	t.Helper()
	cfg := nodestore.DefaultConfig()
	cfg.Backend = backend
	cfg.Path = t.TempDir()
	cfg.CacheTTL = 0
	cfg.CacheSize = 64
	cfg.FlushInterval = time.Hour
	return cfg
}

func openSource(t *testing.T, cfg *nodestore.Config) *DataSource {
	t.Helper()
	source, err := OpenDataSource(cfg)
	require.NoError(t, err)
	return source
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Label = "test"
	cfg.FlushInterval = 0
	return cfg
}

func openMap(t *testing.T, source *DataSource, cfg Config) *Map {
	t.Helper()
	m, err := Open(context.Background(), source, cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(m.Pipeline().Terminate)
	return m
}

func newMemoryMap(t *testing.T) *Map {
	t.Helper()
	return openMap(t, openSource(t, storeConfig(t, "memory")), testConfig())
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	t.Cleanup(cancel)
	return ctx
}

func mustCopy(t *testing.T, m *Map) *Map {
	t.Helper()
	next, err := m.Copy(context.Background())
	require.NoError(t, err)
	return next
}

func requireValue(t *testing.T, r interface {
	Get(context.Context, Key) ([]byte, bool, error)
}, k Key, want string) {
	t.Helper()
	v, ok, err := r.Get(context.Background(), k)
	require.NoError(t, err)
	require.True(t, ok, "key %s missing", k)
	require.Equal(t, want, string(v))
}

func requireAbsent(t *testing.T, r interface {
	Get(context.Context, Key) ([]byte, bool, error)
}, k Key) {
	t.Helper()
	_, ok, err := r.Get(context.Background(), k)
	require.NoError(t, err)
	require.False(t, ok, "key %s present", k)
}
