// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CapturePacketsTotal counts captured frames by interface and transport tag
	CapturePacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pktstream_capture_packets_total",
			Help: "Total number of packets captured",
		},
		[]string{"interface", "protocol"},
	)

	// CaptureErrorsTotal counts non-packet read outcomes (timeout, device)
	CaptureErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pktstream_capture_errors_total",
			Help: "Total number of capture reads that returned no packet",
		},
		[]string{"interface", "kind"},
	)

	// CaptureKernelDrops mirrors the handle's kernel drop counter
	CaptureKernelDrops = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pktstream_capture_kernel_drops",
			Help: "Packets dropped by the kernel as reported by the capture handle",
		},
		[]string{"interface"},
	)

	// BatchFlushesTotal counts aggregator flushes by path and trigger
	BatchFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pktstream_batch_flushes_total",
			Help: "Total number of batches flushed",
		},
		[]string{"path", "trigger"},
	)

	// BatchSize tracks flushed batch length distribution
	BatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pktstream_batch_size",
			Help:    "Number of records per flushed batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1 .. 16384
		},
		[]string{"path"},
	)

	// BusPublishedTotal counts messages accepted by the bus
	BusPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pktstream_bus_published_total",
			Help: "Total number of messages published to the bus",
		},
		[]string{"type"},
	)

	// BusDroppedTotal counts messages published while nobody was subscribed
	BusDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pktstream_bus_dropped_total",
			Help: "Total number of messages dropped because the bus had no subscribers",
		},
	)

	// BusLaggedTotal counts messages a consumer lost by falling behind
	BusLaggedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pktstream_bus_lagged_messages_total",
			Help: "Total number of messages skipped by lagging subscribers",
		},
		[]string{"consumer"},
	)

	// BusSubscribers tracks active subscriber cursors
	BusSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pktstream_bus_subscribers",
			Help: "Current number of bus subscribers",
		},
	)

	// BusRetained tracks messages held in the bus ring
	BusRetained = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pktstream_bus_retained",
			Help: "Messages currently retained in the bus ring",
		},
	)

	// ClientsConnected tracks connected clients per adapter
	ClientsConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pktstream_clients_connected",
			Help: "Current number of connected streaming clients",
		},
		[]string{"adapter"},
	)

	// SignalsReceivedTotal counts inbound signaling messages by adapter and outcome
	SignalsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pktstream_signals_received_total",
			Help: "Total number of inbound signaling messages",
		},
		[]string{"adapter", "result"},
	)

	// SinkWritesTotal counts sink batch writes by result
	SinkWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pktstream_sink_writes_total",
			Help: "Total number of batch writes issued to sinks",
		},
		[]string{"sink", "result"},
	)

	// SinkPointsTotal counts points handed to sinks successfully
	SinkPointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pktstream_sink_points_total",
			Help: "Total number of points written to sinks",
		},
		[]string{"sink"},
	)

	// SinkWriteSeconds measures sink batch write latency
	SinkWriteSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pktstream_sink_write_seconds",
			Help:    "Latency of sink batch writes in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16), // 0.5ms to ~16s
		},
		[]string{"sink"},
	)

	// TimestampOverflowsTotal counts records that could not become points
	TimestampOverflowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pktstream_timestamp_overflows_total",
			Help: "Total number of records skipped because their timestamp overflowed",
		},
	)
)
