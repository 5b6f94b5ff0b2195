// Package pipeline wires the capture source, the aggregators, the bus and
// the sinks together.
//
//	capture.Source → Stream (stream aggregator) → bus ─┬→ SSE / WebSocket clients
//	                                                    └→ Storage (storage aggregator) → sink.Dispatcher
//
// There is exactly one capture handle per process. The storage path is an
// ordinary bus subscriber with its own thresholds.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"firestige.xyz/pktstream/internal/batch"
	"firestige.xyz/pktstream/internal/capture"
	"firestige.xyz/pktstream/internal/core"
	"firestige.xyz/pktstream/internal/message"
)

// PacketSource is the capture side of the stream pipeline.
type PacketSource interface {
	Interface() string
	Run(ctx context.Context, v capture.Visitor) error
}

// Publisher is the bus side of the stream pipeline.
type Publisher interface {
	Publish(msg message.Message)
}

// StreamConfig contains stream pipeline configuration.
type StreamConfig struct {
	Source    PacketSource
	Bus       Publisher
	Batch     batch.Config
	BatchOpts []batch.Option
}

// Stream turns captured records into Batch messages on the bus.
type Stream struct {
	source  PacketSource
	bus     Publisher
	agg     *batch.Aggregator
	metrics Metrics
}

// NewStream creates the stream pipeline.
func NewStream(cfg StreamConfig) *Stream {
	if cfg.Batch.Name == "" {
		cfg.Batch.Name = "stream"
	}
	return &Stream{
		source: cfg.Source,
		bus:    cfg.Bus,
		agg:    batch.New(cfg.Batch, cfg.BatchOpts...),
	}
}

// Run captures until ctx is cancelled, then publishes whatever is still
// buffered.
func (s *Stream) Run(ctx context.Context) error {
	slog.Info("stream pipeline starting", "interface", s.source.Interface())

	err := s.source.Run(ctx, s)

	if b, ok := s.agg.Drain(); ok {
		s.publish(b)
	}
	st := s.Stats()
	slog.Info("stream pipeline stopped",
		"interface", s.source.Interface(),
		"records", st.Received,
		"batches", st.Batches)
	return err
}

// Packet implements capture.Visitor.
func (s *Stream) Packet(rec core.PacketRecord) {
	s.metrics.Received.Add(1)
	if b, ok := s.agg.Add(rec); ok {
		s.publish(b)
	}
}

// Idle implements capture.Visitor.
func (s *Stream) Idle(time.Time) {
	if b, ok := s.agg.Tick(); ok {
		s.publish(b)
	}
}

func (s *Stream) publish(b core.Batch) {
	s.metrics.Batches.Add(1)
	s.metrics.Published.Add(uint64(len(b)))
	s.bus.Publish(message.Batch{Readings: b})
}

// Stats returns pipeline statistics.
func (s *Stream) Stats() Stats {
	return s.metrics.snapshot()
}
