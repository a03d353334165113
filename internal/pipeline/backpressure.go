package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// FamilySize returns the total estimated size of the immutable copies that
// are still waiting to be flushed or merged.
func (p *Pipeline) FamilySize() int64 {
	var size int64
	for n := p.copies.First(); n != nil; n = n.Next() {
		if n.Removed() {
			continue
		}
		c := n.Value()
		if c.IsImmutable() && !c.IsFlushed() && !c.IsMerged() {
			size += c.EstimatedSize()
		}
	}
	return size
}

// CalculateFamilySizeBackpressurePause returns how long a caller creating a
// new copy should wait. The pause grows with the square of the percentage by
// which the family size exceeds the throttle threshold.
func (p *Pipeline) CalculateFamilySizeBackpressurePause() time.Duration {
	threshold := p.cfg.FamilyThrottleThreshold
	if threshold <= 0 {
		p.stats.lastPause.Store(0)
		return 0
	}

	size := p.FamilySize()
	if size <= threshold {
		p.stats.lastPause.Store(0)
		return 0
	}

	over := (size - threshold) * 100 / threshold
	pause := time.Duration(over*over) * time.Millisecond
	p.stats.lastPause.Store(int64(pause))
	return pause
}

// ApplyBackpressure sleeps for the current backpressure pause.
func (p *Pipeline) ApplyBackpressure(ctx context.Context) error {
	pause := p.CalculateFamilySizeBackpressurePause()
	if pause <= 0 {
		return nil
	}

	p.logger.Debug("applying backpressure", zap.Duration("pause", pause), zap.Int64("family_size", p.FamilySize()))

	timer := time.NewTimer(pause)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
