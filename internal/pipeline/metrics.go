package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats is a point-in-time view of the pipeline counters.
type Stats struct {
	Copies       int           // Copies still in the family chain
	LiveCopies   int64         // Registered copies that are not destroyed
	FlushBacklog int           // Immutable copies in the chain that are flush eligible
	FamilySize   int64         // Estimated size of unresolved immutable copies
	Hashes       uint64        // Copies hashed
	Flushes      uint64        // Copies flushed
	Merges       uint64        // Copies merged
	LastPause    time.Duration // Last backpressure pause computed
}

// Stats returns the current pipeline statistics.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Copies:       p.copies.Size(),
		LiveCopies:   p.live.Load(),
		FlushBacklog: p.FlushBacklogSize(),
		FamilySize:   p.FamilySize(),
		Hashes:       p.stats.hashes.Load(),
		Flushes:      p.stats.flushes.Load(),
		Merges:       p.stats.merges.Load(),
		LastPause:    time.Duration(p.stats.lastPause.Load()),
	}
}

// FlushBacklogSize returns the number of immutable copies waiting to be flushed.
func (p *Pipeline) FlushBacklogSize() int {
	count := 0
	for n := p.copies.First(); n != nil; n = n.Next() {
		if n.Removed() {
			continue
		}
		c := n.Value()
		if c.IsImmutable() && p.shouldFlush(c) {
			count++
		}
	}
	return count
}

type metrics struct {
	reg        prometheus.Registerer
	collectors []prometheus.Collector
}

func newMetrics(reg prometheus.Registerer, p *Pipeline) (*metrics, error) {
	labels := prometheus.Labels{"pipeline": p.label}
	m := &metrics{reg: reg}

	m.collectors = []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "vmap",
			Subsystem:   "lifecycle",
			Name:        "copies",
			Help:        "Number of copies in the family chain.",
			ConstLabels: labels,
		}, func() float64 { return float64(p.copies.Size()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "vmap",
			Subsystem:   "lifecycle",
			Name:        "live_copies",
			Help:        "Number of registered copies that have not been destroyed.",
			ConstLabels: labels,
		}, func() float64 { return float64(p.live.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "vmap",
			Subsystem:   "lifecycle",
			Name:        "family_size_bytes",
			Help:        "Estimated size of immutable copies waiting to be flushed or merged.",
			ConstLabels: labels,
		}, func() float64 { return float64(p.FamilySize()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "vmap",
			Subsystem:   "lifecycle",
			Name:        "backpressure_seconds",
			Help:        "Last backpressure pause computed for a new copy.",
			ConstLabels: labels,
		}, func() float64 { return time.Duration(p.stats.lastPause.Load()).Seconds() }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "vmap",
			Subsystem:   "lifecycle",
			Name:        "hashes_total",
			Help:        "Number of copies hashed.",
			ConstLabels: labels,
		}, func() float64 { return float64(p.stats.hashes.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "vmap",
			Subsystem:   "lifecycle",
			Name:        "flushes_total",
			Help:        "Number of copies flushed to the data source.",
			ConstLabels: labels,
		}, func() float64 { return float64(p.stats.flushes.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "vmap",
			Subsystem:   "lifecycle",
			Name:        "merges_total",
			Help:        "Number of copies merged into their successor.",
			ConstLabels: labels,
		}, func() float64 { return float64(p.stats.merges.Load()) }),
	}

	for i, c := range m.collectors {
		if err := reg.Register(c); err != nil {
			for _, registered := range m.collectors[:i] {
				reg.Unregister(registered)
			}
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) unregister() {
	for _, c := range m.collectors {
		m.reg.Unregister(c)
	}
}
