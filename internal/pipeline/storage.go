package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"firestige.xyz/pktstream/internal/batch"
	"firestige.xyz/pktstream/internal/bus"
	"firestige.xyz/pktstream/internal/core"
	"firestige.xyz/pktstream/internal/message"
	"firestige.xyz/pktstream/internal/metrics"
	"firestige.xyz/pktstream/internal/sink"
)

const storageConsumer = "storage"

// Subscription is the bus cursor the storage writer reads from.
type Subscription interface {
	Recv(ctx context.Context) (message.Message, error)
	Close()
}

// PointWriter accepts point batches without waiting for delivery.
type PointWriter interface {
	Write(ctx context.Context, points []*write.Point) <-chan sink.Result
}

// StorageConfig contains storage writer configuration.
type StorageConfig struct {
	Subscription Subscription
	Writer       PointWriter
	Batch        batch.Config
	BatchOpts    []batch.Option
}

// Storage aggregates bus readings and hands them to the sinks.
type Storage struct {
	sub     Subscription
	out     PointWriter
	agg     *batch.Aggregator
	metrics Metrics
}

// NewStorage creates the storage writer. The subscription must be taken
// before the stream pipeline starts publishing.
func NewStorage(cfg StorageConfig) *Storage {
	if cfg.Batch.Name == "" {
		cfg.Batch.Name = storageConsumer
	}
	if cfg.Batch.MaxSize <= 0 {
		cfg.Batch.MaxSize = batch.DefaultStorageMaxSize
	}
	if cfg.Batch.Interval <= 0 {
		cfg.Batch.Interval = batch.DefaultStorageInterval
	}
	return &Storage{
		sub: cfg.Subscription,
		out: cfg.Writer,
		agg: batch.New(cfg.Batch, cfg.BatchOpts...),
	}
}

// Run consumes the bus until it is closed and drained or ctx is cancelled.
// Either way the buffered remainder is written before Run returns.
func (s *Storage) Run(ctx context.Context) error {
	defer s.sub.Close()
	slog.Info("storage writer starting")

	for {
		if b, ok := s.agg.Tick(); ok {
			s.flush(ctx, b)
		}

		msg, err := s.recv(ctx)
		switch {
		case err == nil:
			s.handle(ctx, msg)
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			// Time threshold reached with nothing new; Tick runs next.
		case errors.Is(err, bus.ErrClosed), ctx.Err() != nil:
			s.drain(ctx)
			return nil
		default:
			var lagged *bus.LaggedError
			if errors.As(err, &lagged) {
				s.metrics.Lagged.Add(lagged.Skipped)
				metrics.BusLaggedTotal.WithLabelValues(storageConsumer).Add(float64(lagged.Skipped))
				slog.Warn("storage writer lagged", "skipped", lagged.Skipped)
				continue
			}
			slog.Error("storage writer receive failed", "error", err)
			s.drain(ctx)
			return err
		}
	}
}

// recv waits at most until the aggregator's time threshold when records
// are buffered.
func (s *Storage) recv(ctx context.Context) (message.Message, error) {
	if s.agg.Len() == 0 {
		return s.sub.Recv(ctx)
	}
	rctx, cancel := context.WithTimeout(ctx, max(s.agg.Until(), time.Millisecond))
	defer cancel()
	return s.sub.Recv(rctx)
}

func (s *Storage) handle(ctx context.Context, msg message.Message) {
	switch m := msg.(type) {
	case message.Batch:
		for _, rec := range m.Readings {
			s.add(ctx, rec)
		}
	case message.Data:
		s.add(ctx, core.PacketRecord{
			TimestampNanos: m.Timestamp,
			WireLength:     m.Value,
			Protocol:       core.ProtocolOther,
		})
	default:
		// Signals are not telemetry.
	}
}

func (s *Storage) add(ctx context.Context, rec core.PacketRecord) {
	s.metrics.Received.Add(1)
	if b, ok := s.agg.Add(rec); ok {
		s.flush(ctx, b)
	}
}

func (s *Storage) drain(ctx context.Context) {
	if b, ok := s.agg.Drain(); ok {
		s.flush(context.WithoutCancel(ctx), b)
	}
	st := s.Stats()
	slog.Info("storage writer stopped",
		"records", st.Received,
		"points", st.Published,
		"lagged", st.Lagged,
		"overflows", st.Overflows)
}

func (s *Storage) flush(ctx context.Context, b core.Batch) {
	points := make([]*write.Point, 0, len(b))
	for _, rec := range b {
		p, err := sink.RecordPoint(rec)
		if err != nil {
			s.metrics.Overflows.Add(1)
			metrics.TimestampOverflowsTotal.Inc()
			slog.Debug("record skipped", "timestamp", rec.TimestampNanos, "error", err)
			continue
		}
		points = append(points, p)
	}
	if len(points) == 0 {
		return
	}

	s.metrics.Batches.Add(1)
	s.metrics.Published.Add(uint64(len(points)))
	s.out.Write(ctx, points)
}

// Stats returns writer statistics.
func (s *Storage) Stats() Stats {
	return s.metrics.snapshot()
}
