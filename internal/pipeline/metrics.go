package pipeline

import (
	"sync/atomic"
)

// Metrics holds per-pipeline counters. They complement the process-wide
// Prometheus collectors and are what Stats reports.
type Metrics struct {
	Received  atomic.Uint64 // records taken in
	Batches   atomic.Uint64 // batches flushed
	Published atomic.Uint64 // records handed downstream
	Lagged    atomic.Uint64 // bus messages missed
	Overflows atomic.Uint64 // records skipped for timestamp overflow
}

// Stats is a point-in-time copy of Metrics.
type Stats struct {
	Received  uint64
	Batches   uint64
	Published uint64
	Lagged    uint64
	Overflows uint64
}

func (m *Metrics) snapshot() Stats {
	return Stats{
		Received:  m.Received.Load(),
		Batches:   m.Batches.Load(),
		Published: m.Published.Load(),
		Lagged:    m.Lagged.Load(),
		Overflows: m.Overflows.Load(),
	}
}
