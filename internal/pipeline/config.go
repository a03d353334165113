package pipeline

import "fmt"

const (
	// DefaultCopyFlushThreshold is the accumulated copy size that triggers a flush.
	DefaultCopyFlushThreshold int64 = 512 << 20

	// DefaultFamilyThrottleThreshold is the unflushed family size above which
	// new copies are slowed down.
	DefaultFamilyThrottleThreshold int64 = 4 << 30
)

// Config holds the thresholds used by the pipeline. A non-positive
// threshold disables the corresponding behavior.
type Config struct {
	// CopyFlushThreshold makes a copy flush eligible once its estimated size,
	// including the sizes of the copies merged into it, reaches this value.
	CopyFlushThreshold int64

	// FamilyThrottleThreshold is the total size of immutable unflushed
	// copies above which backpressure is applied.
	FamilyThrottleThreshold int64
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		CopyFlushThreshold:      DefaultCopyFlushThreshold,
		FamilyThrottleThreshold: DefaultFamilyThrottleThreshold,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.CopyFlushThreshold < 0 {
		return fmt.Errorf("copy_flush_threshold must be non-negative")
	}
	if c.FamilyThrottleThreshold < 0 {
		return fmt.Errorf("family_throttle_threshold must be non-negative")
	}
	return nil
}
