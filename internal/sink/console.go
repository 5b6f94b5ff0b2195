package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"firestige.xyz/pktstream/internal/core"
)

// ConsoleName is the registered name of the console sink.
const ConsoleName = "console"

// ConsoleConfig selects the output format: "line" or "json".
type ConsoleConfig struct {
	Format string `mapstructure:"format"`
}

// Console prints points, for development.
type Console struct {
	mu     sync.Mutex
	format string
	out    io.Writer
}

// NewConsole is the Factory of the console sink.
func NewConsole(options map[string]any) (Sink, error) {
	cfg := ConsoleConfig{Format: "line"}
	if err := decodeOptions(options, &cfg); err != nil {
		return nil, err
	}
	return NewConsoleWriter(cfg, os.Stdout)
}

// NewConsoleWriter prints to out.
func NewConsoleWriter(cfg ConsoleConfig, out io.Writer) (*Console, error) {
	if cfg.Format == "" {
		cfg.Format = "line"
	}
	if cfg.Format != "line" && cfg.Format != "json" {
		return nil, fmt.Errorf("%w: invalid console format %q, must be line or json", core.ErrConfigInvalid, cfg.Format)
	}
	return &Console{format: cfg.Format, out: out}, nil
}

func (s *Console) Name() string {
	return ConsoleName
}

type consolePoint struct {
	Measurement string `json:"measurement"`
	Protocol    string `json:"protocol"`
	Length      any    `json:"length"`
	Timestamp   int64  `json:"timestamp"`
}

func (s *Console) WriteBatch(_ context.Context, points []*write.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		if s.format == "line" {
			if _, err := io.WriteString(s.out, lineProtocol(p)); err != nil {
				return err
			}
			continue
		}

		cp := consolePoint{Measurement: p.Name(), Timestamp: p.Time().UnixNano()}
		for _, tag := range p.TagList() {
			if tag.Key == TagProtocol {
				cp.Protocol = tag.Value
			}
		}
		for _, f := range p.FieldList() {
			if f.Key == FieldLength {
				cp.Length = f.Value
			}
		}
		b, err := json.Marshal(cp)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(s.out, "%s\n", b); err != nil {
			return err
		}
	}
	return nil
}

func (s *Console) Close() error {
	return nil
}
