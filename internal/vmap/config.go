package vmap

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/LeJamon/vmapd/internal/pipeline"
)

// Config controls a map family.
type Config struct {
	// Label names the family in logs and metrics.
	Label string

	// Pipeline holds the flush and throttle thresholds.
	Pipeline pipeline.Config

	// FlushInterval flags every copy whose version is a non-zero multiple
	// of it for flushing. Zero disables interval flushes.
	FlushInterval uint64

	// MaxPendingEntries bounds the number of changes a mutable copy may
	// hold. Zero means unbounded.
	MaxPendingEntries int
}

// DefaultConfig returns the configuration used by the CLI.
func DefaultConfig() Config {
	return Config{
		Label:         "vmap",
		Pipeline:      pipeline.DefaultConfig(),
		FlushInterval: 20,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Label == "" {
		return fmt.Errorf("label must be specified")
	}
	if c.MaxPendingEntries < 0 {
		return fmt.Errorf("max pending entries must be non-negative")
	}
	return c.Pipeline.Validate()
}

type options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger for the family and its pipeline.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegisterer exposes the family pipeline statistics to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}
