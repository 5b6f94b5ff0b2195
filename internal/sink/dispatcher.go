package sink

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sourcegraph/conc"

	"firestige.xyz/pktstream/internal/metrics"
)

const (
	defaultMaxInFlight  = 4
	defaultWriteTimeout = 10 * time.Second
)

// Result is the outcome of one batch on one sink.
type Result struct {
	Sink     string
	Points   int
	Err      error
	Duration time.Duration
}

// DispatcherConfig bounds the asynchronous writes.
type DispatcherConfig struct {
	// MaxInFlight caps concurrent writes across all sinks.
	MaxInFlight int
	// WriteTimeout bounds a single WriteBatch call.
	WriteTimeout time.Duration
}

// Dispatcher fans every batch out to all sinks without waiting for them.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	sem     chan struct{}
	wg      conc.WaitGroup
}

// NewDispatcher takes ownership of sinks; Close closes them.
func NewDispatcher(cfg DispatcherConfig, sinks ...Sink) *Dispatcher {
	inFlight := cfg.MaxInFlight
	if inFlight <= 0 {
		inFlight = defaultMaxInFlight
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &Dispatcher{
		sinks:   sinks,
		timeout: timeout,
		sem:     make(chan struct{}, inFlight),
	}
}

// Sinks returns the configured sink names.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

// Write starts one write per sink and returns a channel that yields each
// outcome and is then closed. It blocks only while MaxInFlight writes are
// already running. Outcomes are logged and counted whether or not the
// caller reads the channel. Writes run detached from ctx cancellation so
// that a shutdown still delivers the final batch.
func (d *Dispatcher) Write(ctx context.Context, points []*write.Point) <-chan Result {
	results := make(chan Result, len(d.sinks))
	if len(points) == 0 || len(d.sinks) == 0 {
		close(results)
		return results
	}

	pending := make(chan struct{}, len(d.sinks))
	for _, s := range d.sinks {
		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
			r := Result{Sink: s.Name(), Points: len(points), Err: ctx.Err()}
			d.record(r)
			results <- r
			pending <- struct{}{}
			continue
		}

		d.wg.Go(func() {
			defer func() {
				<-d.sem
				pending <- struct{}{}
			}()
			r := d.writeOne(context.WithoutCancel(ctx), s, points)
			d.record(r)
			results <- r
		})
	}

	go func() {
		for range d.sinks {
			<-pending
		}
		close(results)
	}()
	return results
}

func (d *Dispatcher) writeOne(ctx context.Context, s Sink, points []*write.Point) Result {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := s.WriteBatch(ctx, points)
	return Result{Sink: s.Name(), Points: len(points), Err: err, Duration: time.Since(start)}
}

func (d *Dispatcher) record(r Result) {
	metrics.SinkWriteSeconds.WithLabelValues(r.Sink).Observe(r.Duration.Seconds())
	if r.Err != nil {
		metrics.SinkWritesTotal.WithLabelValues(r.Sink, "error").Inc()
		slog.Warn("sink write failed",
			"sink", r.Sink,
			"points", r.Points,
			"error", r.Err)
		return
	}
	metrics.SinkWritesTotal.WithLabelValues(r.Sink, "ok").Inc()
	metrics.SinkPointsTotal.WithLabelValues(r.Sink).Add(float64(r.Points))
	slog.Debug("sink write done",
		"sink", r.Sink,
		"points", r.Points,
		"duration", r.Duration)
}

// Close waits for in-flight writes and closes every sink.
func (d *Dispatcher) Close() error {
	d.wg.Wait()
	var errs []error
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
