package sink

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"firestige.xyz/pktstream/internal/core"
)

// UDPName is the registered name of the UDP line protocol sink.
const UDPName = "udp"

const defaultMaxDatagram = 1400

// UDPConfig configures the datagram sink.
type UDPConfig struct {
	Addr        string        `mapstructure:"addr"`
	MaxDatagram int           `mapstructure:"max_datagram"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// UDP sends line protocol datagrams to an InfluxDB UDP listener or a
// Telegraf socket_listener. Nothing is acknowledged.
type UDP struct {
	cfg  UDPConfig
	conn net.Conn
}

// NewUDP is the Factory of the udp sink.
func NewUDP(options map[string]any) (Sink, error) {
	cfg := UDPConfig{MaxDatagram: defaultMaxDatagram, Timeout: time.Second}
	if err := decodeOptions(options, &cfg); err != nil {
		return nil, err
	}
	return NewUDPWithConfig(cfg)
}

// NewUDPWithConfig connects the socket.
func NewUDPWithConfig(cfg UDPConfig) (*UDP, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: udp addr is required", core.ErrConfigInvalid)
	}
	if cfg.MaxDatagram <= 0 {
		cfg.MaxDatagram = defaultMaxDatagram
	}
	conn, err := net.Dial("udp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp %s: %w", cfg.Addr, err)
	}
	return &UDP{cfg: cfg, conn: conn}, nil
}

func (s *UDP) Name() string {
	return UDPName
}

// WriteBatch packs as many lines as fit into each datagram. A line longer
// than the limit is sent alone.
func (s *UDP) WriteBatch(ctx context.Context, points []*write.Point) error {
	if s.cfg.Timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.Timeout))
	}

	var buf strings.Builder
	flush := func() error {
		if buf.Len() == 0 {
			return nil
		}
		_, err := s.conn.Write([]byte(buf.String()))
		buf.Reset()
		return err
	}

	for _, p := range points {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := lineProtocol(p)
		if buf.Len() > 0 && buf.Len()+len(line) > s.cfg.MaxDatagram {
			if err := flush(); err != nil {
				return fmt.Errorf("udp send to %s: %w", s.cfg.Addr, err)
			}
		}
		buf.WriteString(line)
	}
	if err := flush(); err != nil {
		return fmt.Errorf("udp send to %s: %w", s.cfg.Addr, err)
	}
	return nil
}

func (s *UDP) Close() error {
	return s.conn.Close()
}
