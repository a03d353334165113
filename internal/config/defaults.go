package config

import (
	"github.com/spf13/viper"

	"github.com/LeJamon/vmapd/internal/pipeline"
)

// setDefaults sets all default values
func setDefaults(v *viper.Viper) {
	// Pipeline defaults
	v.SetDefault("pipeline.copy_flush_threshold", pipeline.DefaultCopyFlushThreshold)
	v.SetDefault("pipeline.family_throttle_threshold", pipeline.DefaultFamilyThrottleThreshold)

	// Map defaults
	v.SetDefault("map.label", "vmap")
	v.SetDefault("map.flush_interval", 20)
	v.SetDefault("map.max_pending_entries", 0) // 0 means unbounded

	// NodeDB defaults
	v.SetDefault("node_db.type", "pebble")
	v.SetDefault("node_db.path", "./db/vmap")
	v.SetDefault("node_db.cache_size", 16384)
	v.SetDefault("node_db.cache_age", 300)
	v.SetDefault("node_db.compressor", "lz4")
	v.SetDefault("node_db.batch_limit", 256)
	v.SetDefault("node_db.flush_interval_ms", 100)
	v.SetDefault("node_db.sync_on_flush", false)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}
