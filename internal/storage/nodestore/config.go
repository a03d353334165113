package nodestore

import (
	"fmt"
	"time"

	"github.com/LeJamon/vmapd/internal/storage/nodestore/compression"
)

// Config holds configuration options for the NodeStore.
type Config struct {
	// Backend specifies the storage backend to use
	Backend string `mapstructure:"backend" json:"backend" yaml:"backend"`

	// Path specifies the file system path for data storage
	Path string `mapstructure:"path" json:"path" yaml:"path"`

	// Cache configuration
	CacheSize int           `mapstructure:"cache_size" json:"cache_size" yaml:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl" json:"cache_ttl" yaml:"cache_ttl"`

	// Compression configuration
	Compressor       string `mapstructure:"compressor" json:"compressor" yaml:"compressor"`
	CompressionLevel int    `mapstructure:"compression_level" json:"compression_level" yaml:"compression_level"`

	// Batch writer configuration
	BatchSize     int           `mapstructure:"batch_size" json:"batch_size" yaml:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval" json:"flush_interval" yaml:"flush_interval"`

	// SyncWrites makes every batch durable before StoreBatch returns
	SyncWrites      bool `mapstructure:"sync_writes" json:"sync_writes" yaml:"sync_writes"`
	CreateIfMissing bool `mapstructure:"create_if_missing" json:"create_if_missing" yaml:"create_if_missing"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend:          "pebble",
		Path:             "./nodestore",
		CacheSize:        2000,
		CacheTTL:         time.Hour,
		Compressor:       "lz4",
		CompressionLevel: 1,
		BatchSize:        256,
		FlushInterval:    100 * time.Millisecond,
		SyncWrites:       false,
		CreateIfMissing:  true,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Backend == "" {
		return fmt.Errorf("%w: backend must be specified", ErrInvalidConfig)
	}
	if !IsBackendAvailable(c.Backend) {
		return fmt.Errorf("%w: %s", ErrUnsupportedBackend, c.Backend)
	}
	if c.Path == "" && c.Backend != "memory" {
		return fmt.Errorf("%w: path must be specified", ErrInvalidConfig)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("%w: cache_size must be non-negative", ErrInvalidConfig)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("%w: cache_ttl must be non-negative", ErrInvalidConfig)
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > 9 {
		return fmt.Errorf("%w: compression_level must be between 0 and 9", ErrInvalidConfig)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch_size must be at least 1", ErrInvalidConfig)
	}
	if c.FlushInterval < 0 {
		return fmt.Errorf("%w: flush_interval must be non-negative", ErrInvalidConfig)
	}
	if !compression.IsAvailable(c.Compressor) {
		return fmt.Errorf("%w: %s", ErrUnsupportedCompressor, c.Compressor)
	}
	return nil
}

// Option represents a functional option for configuring the NodeStore.
type Option func(*Config)

// WithPath sets the storage path.
func WithPath(path string) Option {
	return func(c *Config) {
		c.Path = path
	}
}

// WithBackend sets the storage backend.
func WithBackend(backend string) Option {
	return func(c *Config) {
		c.Backend = backend
	}
}

// WithCacheSize sets the cache size (number of items).
func WithCacheSize(size int) Option {
	return func(c *Config) {
		c.CacheSize = size
	}
}

// WithCacheTTL sets the cache time-to-live duration.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.CacheTTL = ttl
	}
}

// WithCompression sets the compression algorithm and level.
func WithCompression(compressor string, level int) Option {
	return func(c *Config) {
		c.Compressor = compressor
		c.CompressionLevel = level
	}
}

// WithSyncWrites controls whether batches are synced before returning.
func WithSyncWrites(sync bool) Option {
	return func(c *Config) {
		c.SyncWrites = sync
	}
}

// WithCreateIfMissing controls whether the database should be created if it doesn't exist.
func WithCreateIfMissing(create bool) Option {
	return func(c *Config) {
		c.CreateIfMissing = create
	}
}

// ApplyOptions applies the given options to the config.
func (c *Config) ApplyOptions(options ...Option) {
	for _, option := range options {
		option(c)
	}
}

// Clone creates a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns a string representation of the configuration.
func (c *Config) String() string {
	return fmt.Sprintf(`NodeStore Configuration:
  Backend: %s
  Path: %s
  Cache: %d items, TTL: %v
  Compression: %s (level %d)
  Batch: %d nodes, interval %v
  Sync Writes: %t
  Create If Missing: %t`,
		c.Backend,
		c.Path,
		c.CacheSize, c.CacheTTL,
		c.Compressor, c.CompressionLevel,
		c.BatchSize, c.FlushInterval,
		c.SyncWrites,
		c.CreateIfMissing)
}
