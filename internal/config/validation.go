package config

import "fmt"

// ValidateConfig performs validation on the complete configuration
func ValidateConfig(config *Config) error {
	if err := config.PipelineSettings().Validate(); err != nil {
		return fmt.Errorf("pipeline validation failed: %w", err)
	}

	if err := validateMap(&config.Map); err != nil {
		return fmt.Errorf("map validation failed: %w", err)
	}

	if err := config.NodeDB.Validate(); err != nil {
		return fmt.Errorf("node_db validation failed: %w", err)
	}
	if err := config.NodeDB.NodeStoreConfig().Validate(); err != nil {
		return fmt.Errorf("node_db validation failed: %w", err)
	}

	if err := config.Log.Validate(); err != nil {
		return fmt.Errorf("log validation failed: %w", err)
	}

	// Cross-validation checks
	if config.Pipeline.CopyFlushThreshold > 0 && config.Pipeline.FamilyThrottleThreshold > 0 &&
		config.Pipeline.FamilyThrottleThreshold < config.Pipeline.CopyFlushThreshold {
		return fmt.Errorf("family_throttle_threshold (%d) must not be below copy_flush_threshold (%d)",
			config.Pipeline.FamilyThrottleThreshold, config.Pipeline.CopyFlushThreshold)
	}

	return nil
}

func validateMap(m *MapConfig) error {
	if m.Label == "" {
		return fmt.Errorf("label is required")
	}
	if m.MaxPendingEntries < 0 {
		return fmt.Errorf("max_pending_entries must be non-negative, got %d", m.MaxPendingEntries)
	}
	return nil
}
