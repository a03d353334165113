package config

import (
	"fmt"
	"time"

	"github.com/LeJamon/vmapd/internal/storage/nodestore"
)

// NodeDBConfig represents the [node_db] section
// Configures the persistent store that flushed copies are written to
type NodeDBConfig struct {
	Type            string `toml:"type" mapstructure:"type"`
	Path            string `toml:"path" mapstructure:"path"`
	CacheSize       int    `toml:"cache_size" mapstructure:"cache_size"`
	CacheAge        int    `toml:"cache_age" mapstructure:"cache_age"`
	Compressor      string `toml:"compressor" mapstructure:"compressor"`
	BatchLimit      int    `toml:"batch_limit" mapstructure:"batch_limit"`
	FlushIntervalMs int    `toml:"flush_interval_ms" mapstructure:"flush_interval_ms"`
	SyncOnFlush     bool   `toml:"sync_on_flush" mapstructure:"sync_on_flush"`
}

// Validate performs validation on the NodeDB configuration
func (n *NodeDBConfig) Validate() error {
	// Validate type
	if n.Type == "" {
		return fmt.Errorf("node_db type is required")
	}
	validTypes := nodestore.AvailableBackends()
	if !contains_slice(validTypes, n.GetType()) {
		return fmt.Errorf("invalid node_db type: %s (valid options: %v)", n.Type, validTypes)
	}

	// Validate path
	if n.Path == "" && n.GetType() != "memory" {
		return fmt.Errorf("node_db path is required")
	}

	// Validate cache settings
	if n.CacheSize < 0 {
		return fmt.Errorf("cache_size must be non-negative, got %d", n.CacheSize)
	}
	if n.CacheAge < 0 {
		return fmt.Errorf("cache_age must be non-negative, got %d", n.CacheAge)
	}

	// Validate batch settings
	if n.BatchLimit < 0 {
		return fmt.Errorf("batch_limit must be non-negative, got %d", n.BatchLimit)
	}
	if n.FlushIntervalMs < 0 {
		return fmt.Errorf("flush_interval_ms must be non-negative, got %d", n.FlushIntervalMs)
	}

	return nil
}

// GetType returns the normalized backend name
func (n *NodeDBConfig) GetType() string {
	switch n.Type {
	case "pebble", "Pebble", "PebbleDB":
		return "pebble"
	case "leveldb", "LevelDB":
		return "leveldb"
	case "bbolt", "BoltDB", "bolt":
		return "bbolt"
	case "memory", "Memory":
		return "memory"
	default:
		return n.Type
	}
}

// GetCacheSize returns cache size with default
func (n *NodeDBConfig) GetCacheSize() int {
	if n.CacheSize == 0 {
		return 16384
	}
	return n.CacheSize
}

// GetBatchLimit returns batch limit with default
func (n *NodeDBConfig) GetBatchLimit() int {
	if n.BatchLimit == 0 {
		return 256
	}
	return n.BatchLimit
}

// GetFlushInterval returns the batch writer flush interval with default
func (n *NodeDBConfig) GetFlushInterval() time.Duration {
	if n.FlushIntervalMs == 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(n.FlushIntervalMs) * time.Millisecond
}

// NodeStoreConfig converts the section into a node store configuration.
// A cache_age of 0 keeps cached nodes until they are evicted by size.
func (n *NodeDBConfig) NodeStoreConfig() *nodestore.Config {
	cfg := nodestore.DefaultConfig()
	cfg.Backend = n.GetType()
	cfg.Path = n.Path
	cfg.CacheSize = n.GetCacheSize()
	cfg.CacheTTL = time.Duration(n.CacheAge) * time.Second
	if n.Compressor != "" {
		cfg.Compressor = n.Compressor
	}
	cfg.BatchSize = n.GetBatchLimit()
	cfg.FlushInterval = n.GetFlushInterval()
	cfg.SyncWrites = n.SyncOnFlush
	return cfg
}

// contains_slice checks if a slice contains a string
func contains_slice(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
