package config

import (
	"github.com/LeJamon/vmapd/internal/pipeline"
	"github.com/LeJamon/vmapd/internal/vmap"
)

// Config represents the complete vmapd configuration
type Config struct {
	// [pipeline] resolution thresholds
	Pipeline PipelineConfig `toml:"pipeline" mapstructure:"pipeline"`

	// [map] family settings
	Map MapConfig `toml:"map" mapstructure:"map"`

	// [node_db] persistent store backing the family
	NodeDB NodeDBConfig `toml:"node_db" mapstructure:"node_db"`

	// [log] diagnostics
	Log LogConfig `toml:"log" mapstructure:"log"`

	// Internal fields for configuration management
	configPath string `toml:"-" mapstructure:"-"`
}

// PipelineConfig represents the [pipeline] section
type PipelineConfig struct {
	CopyFlushThreshold      int64 `toml:"copy_flush_threshold" mapstructure:"copy_flush_threshold"`
	FamilyThrottleThreshold int64 `toml:"family_throttle_threshold" mapstructure:"family_throttle_threshold"`
}

// MapConfig represents the [map] section
type MapConfig struct {
	Label             string `toml:"label" mapstructure:"label"`
	FlushInterval     uint64 `toml:"flush_interval" mapstructure:"flush_interval"`
	MaxPendingEntries int    `toml:"max_pending_entries" mapstructure:"max_pending_entries"`
}

// GetConfigPath returns the path of the file the configuration was read
// from, or "" when only defaults and the environment were used.
func (c *Config) GetConfigPath() string {
	return c.configPath
}

// PipelineSettings converts the [pipeline] section.
func (c *Config) PipelineSettings() pipeline.Config {
	return pipeline.Config{
		CopyFlushThreshold:      c.Pipeline.CopyFlushThreshold,
		FamilyThrottleThreshold: c.Pipeline.FamilyThrottleThreshold,
	}
}

// MapSettings converts the [map] and [pipeline] sections into a family
// configuration.
func (c *Config) MapSettings() vmap.Config {
	return vmap.Config{
		Label:             c.Map.Label,
		Pipeline:          c.PipelineSettings(),
		FlushInterval:     c.Map.FlushInterval,
		MaxPendingEntries: c.Map.MaxPendingEntries,
	}
}
