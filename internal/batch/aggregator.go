// Package batch groups packet records into batches using a size threshold
// and a time threshold, whichever is reached first.
package batch

import (
	"time"

	"firestige.xyz/pktstream/internal/core"
	"firestige.xyz/pktstream/internal/metrics"
)

// Default thresholds for the two pipelines.
const (
	DefaultStreamMaxSize   = 64
	DefaultStreamInterval  = 200 * time.Millisecond
	DefaultStorageMaxSize  = 10000
	DefaultStorageInterval = 100 * time.Millisecond
)

// Flush triggers, used as metric labels.
const (
	TriggerSize  = "size"
	TriggerTime  = "time"
	TriggerDrain = "drain"
)

// Config holds the thresholds of one aggregator.
type Config struct {
	// Name labels the flush metrics, e.g. "stream" or "storage".
	Name     string
	MaxSize  int
	Interval time.Duration
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// Aggregator is not safe for concurrent use. Each pipeline owns its own.
type Aggregator struct {
	name      string
	maxSize   int
	interval  time.Duration
	buf       core.Batch
	lastFlush time.Time
	now       func() time.Time
}

// New creates an aggregator. Non-positive thresholds fall back to the
// stream defaults.
func New(cfg Config, opts ...Option) *Aggregator {
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultStreamMaxSize
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultStreamInterval
	}

	a := &Aggregator{
		name:     cfg.Name,
		maxSize:  maxSize,
		interval: interval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.buf = make(core.Batch, 0, a.capHint())
	a.lastFlush = a.now()
	return a
}

// Add buffers rec and returns a batch when either threshold is reached.
func (a *Aggregator) Add(rec core.PacketRecord) (core.Batch, bool) {
	a.buf = append(a.buf, rec)
	if len(a.buf) >= a.maxSize {
		return a.flush(a.now(), TriggerSize), true
	}
	return a.Tick()
}

// Tick applies only the time threshold. Callers invoke it while idle.
func (a *Aggregator) Tick() (core.Batch, bool) {
	if len(a.buf) == 0 {
		return nil, false
	}
	now := a.now()
	if now.Sub(a.lastFlush) < a.interval {
		return nil, false
	}
	return a.flush(now, TriggerTime), true
}

// Drain flushes whatever is buffered regardless of thresholds.
func (a *Aggregator) Drain() (core.Batch, bool) {
	if len(a.buf) == 0 {
		return nil, false
	}
	return a.flush(a.now(), TriggerDrain), true
}

// Len returns the number of buffered records.
func (a *Aggregator) Len() int {
	return len(a.buf)
}

// Interval returns the time threshold.
func (a *Aggregator) Interval() time.Duration {
	return a.interval
}

// Until returns how long until the time threshold would fire.
func (a *Aggregator) Until() time.Duration {
	d := a.interval - a.now().Sub(a.lastFlush)
	if d < 0 {
		return 0
	}
	return d
}

func (a *Aggregator) flush(now time.Time, trigger string) core.Batch {
	out := a.buf
	a.buf = make(core.Batch, 0, a.capHint())
	a.lastFlush = now

	metrics.BatchFlushesTotal.WithLabelValues(a.name, trigger).Inc()
	metrics.BatchSize.WithLabelValues(a.name).Observe(float64(len(out)))
	return out
}

func (a *Aggregator) capHint() int {
	return min(a.maxSize, 1024)
}
