// Package capture reads frames from one live interface and reduces each of
// them to a core.PacketRecord.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"firestige.xyz/pktstream/internal/core"
	"firestige.xyz/pktstream/internal/metrics"
)

// Capture engines.
const (
	EnginePcap     = "pcap"
	EngineAFPacket = "afpacket"
)

const (
	defaultSnapLen      = 65535
	defaultReadTimeout  = 100 * time.Millisecond
	defaultBufferSizeMB = 16
	defaultBPFFilter    = "tcp or udp"

	shortBackoff  = 10 * time.Millisecond
	longBackoff   = 50 * time.Millisecond
	statsInterval = time.Second

	warnBurst  = 5
	warnWindow = 10 * time.Second
)

// Config describes the capture handle.
type Config struct {
	Interface    string
	Engine       string
	SnapLen      int
	Promiscuous  bool
	ReadTimeout  time.Duration
	BufferSizeMB int
	Immediate    bool
	BPFFilter    string
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig(iface string) Config {
	return Config{
		Interface:    iface,
		Engine:       EnginePcap,
		SnapLen:      defaultSnapLen,
		Promiscuous:  true,
		ReadTimeout:  defaultReadTimeout,
		BufferSizeMB: defaultBufferSizeMB,
		Immediate:    true,
		BPFFilter:    defaultBPFFilter,
	}
}

func (c *Config) applyDefaults() {
	if c.Engine == "" {
		c.Engine = EnginePcap
	}
	if c.SnapLen <= 0 {
		c.SnapLen = defaultSnapLen
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.BufferSizeMB <= 0 {
		c.BufferSizeMB = defaultBufferSizeMB
	}
}

// Stats are the cumulative counters reported by a handle.
type Stats struct {
	Received         uint64
	KernelDropped    uint64
	InterfaceDropped uint64
}

// Handle is a live capture handle. ReadPacketData returns
// core.ErrCaptureTimeout when the read timeout expires with no frame.
type Handle interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
	Stats() (Stats, error)
	Close()
}

// Visitor receives the output of Run. Both methods are called from the
// capture goroutine.
type Visitor interface {
	// Packet is called once per captured frame.
	Packet(rec core.PacketRecord)
	// Idle is called after every read timeout or device error.
	Idle(now time.Time)
}

// Source owns the single capture handle of the process.
type Source struct {
	iface    string
	handle   Handle
	linkType layers.LinkType
	lastTS   int64

	shortBackoff time.Duration
	longBackoff  time.Duration
	now          func() time.Time
	warn         *logLimiter
}

// Device enumeration and handle constructors, replaced in tests.
var (
	findAllDevs = pcap.FindAllDevs
	engines     = map[string]func(Config) (Handle, error){
		EnginePcap:     openPcap,
		EngineAFPacket: openAFPacket,
	}
)

// Open verifies that the interface exists and opens a handle on it with the
// configured engine.
func Open(cfg Config) (*Source, error) {
	cfg.applyDefaults()

	devs, err := findAllDevs()
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate devices: %v", core.ErrOpen, err)
	}
	found := false
	for _, d := range devs {
		if d.Name == cfg.Interface {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", core.ErrInterfaceNotFound, cfg.Interface)
	}

	var h Handle
	if open, ok := engines[cfg.Engine]; ok {
		h, err = open(cfg)
	} else {
		err = fmt.Errorf("unknown engine %q", cfg.Engine)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrOpen, cfg.Interface, err)
	}

	slog.Info("capture handle opened",
		"interface", cfg.Interface,
		"engine", cfg.Engine,
		"snap_len", cfg.SnapLen,
		"buffer_size_mb", cfg.BufferSizeMB,
		"bpf_filter", cfg.BPFFilter)

	return NewSource(cfg.Interface, h), nil
}

// NewSource wraps an already opened handle.
func NewSource(iface string, h Handle) *Source {
	return &Source{
		iface:        iface,
		handle:       h,
		linkType:     h.LinkType(),
		shortBackoff: shortBackoff,
		longBackoff:  longBackoff,
		now:          time.Now,
		warn:         newLogLimiter(warnBurst, warnWindow),
	}
}

// Interface returns the captured interface name.
func (s *Source) Interface() string {
	return s.iface
}

// NextPacket reads one frame. It returns core.ErrCaptureTimeout when no frame
// arrived within the read timeout and a *core.DeviceError for any other
// handle failure.
func (s *Source) NextPacket() (core.PacketRecord, error) {
	data, ci, err := s.handle.ReadPacketData()
	if err != nil {
		if errors.Is(err, core.ErrCaptureTimeout) {
			return core.PacketRecord{}, core.ErrCaptureTimeout
		}
		return core.PacketRecord{}, &core.DeviceError{Interface: s.iface, Err: err}
	}

	ts := ci.Timestamp.UnixNano()
	if ts < s.lastTS {
		ts = s.lastTS
	}
	s.lastTS = ts

	wireLen := ci.Length
	if wireLen <= 0 {
		wireLen = ci.CaptureLength
	}
	if wireLen <= 0 {
		wireLen = len(data)
	}

	return core.PacketRecord{
		TimestampNanos: ts,
		WireLength:     uint32(wireLen),
		Protocol:       Classify(data, s.linkType),
	}, nil
}

// Run reads frames until ctx is cancelled. After a read timeout it waits
// briefly before reading again; after a device error it waits longer. Run
// returns nil on cancellation; the handle stays open until Close.
func (s *Source) Run(ctx context.Context, v Visitor) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	slog.Info("capture started", "interface", s.iface)
	defer slog.Info("capture stopped", "interface", s.iface)

	lastStats := s.now()
	for {
		if ctx.Err() != nil {
			return nil
		}

		rec, err := s.NextPacket()
		switch {
		case err == nil:
			metrics.CapturePacketsTotal.WithLabelValues(s.iface, rec.Protocol.String()).Inc()
			v.Packet(rec)
		case errors.Is(err, core.ErrCaptureTimeout):
			v.Idle(s.now())
			if !sleep(ctx, s.shortBackoff) {
				return nil
			}
		default:
			metrics.CaptureErrorsTotal.WithLabelValues(s.iface, "device").Inc()
			if ok, skipped := s.warn.Allow(s.now()); ok {
				slog.Warn("capture read failed", "interface", s.iface, "error", err, "suppressed", skipped)
			}
			v.Idle(s.now())
			if !sleep(ctx, s.longBackoff) {
				return nil
			}
		}

		if now := s.now(); now.Sub(lastStats) >= statsInterval {
			lastStats = now
			s.publishStats()
		}
	}
}

// Stats returns the handle counters.
func (s *Source) Stats() (Stats, error) {
	return s.handle.Stats()
}

// Close releases the handle. It must not be called while Run is reading.
func (s *Source) Close() {
	s.handle.Close()
}

func (s *Source) publishStats() {
	st, err := s.handle.Stats()
	if err != nil {
		metrics.CaptureErrorsTotal.WithLabelValues(s.iface, "stats").Inc()
		return
	}
	metrics.CaptureKernelDrops.WithLabelValues(s.iface).Set(float64(st.KernelDropped))
}

// sleep waits for d or until ctx ends. It reports whether the full duration
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
