// Package sink writes packet statistics to time-series backends.
//
// Every backend consumes the same InfluxDB point: measurement packet_stats,
// one tag "protocol", one integer field "length" and a nanosecond timestamp.
// Delivery is at-most-once. A failed write is reported and never retried.
package sink

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/mitchellh/mapstructure"

	"firestige.xyz/pktstream/internal/core"
)

const (
	// Measurement is the measurement name of every point.
	Measurement = "packet_stats"
	// TagProtocol carries the TCP/UDP/OTHER tag.
	TagProtocol = "protocol"
	// FieldLength carries the frame wire length.
	FieldLength = "length"
)

// Sink is one time-series destination.
type Sink interface {
	Name() string
	WriteBatch(ctx context.Context, points []*write.Point) error
	Close() error
}

// BuildPoint assembles one point. The timestamp is given as seconds plus
// microseconds, the resolution libpcap reports, and must fit in int64
// nanoseconds.
func BuildPoint(measurement, protocol string, length uint32, tsSec, tsMicros int64) (*write.Point, error) {
	secNanos, ok := checkedMul(tsSec, int64(time.Second))
	if !ok {
		return nil, fmt.Errorf("%w: %d s", core.ErrTimestampOverflow, tsSec)
	}
	microNanos, ok := checkedMul(tsMicros, int64(time.Microsecond))
	if !ok {
		return nil, fmt.Errorf("%w: %d us", core.ErrTimestampOverflow, tsMicros)
	}
	ns, ok := checkedAdd(secNanos, microNanos)
	if !ok {
		return nil, fmt.Errorf("%w: %d s + %d us", core.ErrTimestampOverflow, tsSec, tsMicros)
	}

	return write.NewPoint(
		measurement,
		map[string]string{TagProtocol: protocol},
		map[string]interface{}{FieldLength: int64(length)},
		time.Unix(0, ns),
	), nil
}

// RecordPoint converts a captured record at microsecond resolution.
func RecordPoint(rec core.PacketRecord) (*write.Point, error) {
	sec := rec.TimestampNanos / int64(time.Second)
	micros := (rec.TimestampNanos % int64(time.Second)) / int64(time.Microsecond)
	return BuildPoint(Measurement, rec.Protocol.String(), rec.WireLength, sec, micros)
}

func checkedMul(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	c := a * b
	return c, c/b == a
}

func checkedAdd(a, b int64) (int64, bool) {
	c := a + b
	if (b > 0 && c < a) || (b < 0 && c > a) {
		return 0, false
	}
	return c, true
}

// lineProtocol renders a point as one newline-terminated line with
// nanosecond precision.
func lineProtocol(p *write.Point) string {
	return strings.TrimRight(write.PointToLineProtocol(p, time.Nanosecond), "\n") + "\n"
}

// Factory builds a sink from its export options.
type Factory func(options map[string]any) (Sink, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a sink type available to New.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Names returns the registered sink types.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New builds a sink of the named type.
func New(name string, options map[string]any) (Sink, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown sink %q", core.ErrConfigInvalid, name)
	}
	s, err := f(options)
	if err != nil {
		return nil, fmt.Errorf("sink %s: %w", name, err)
	}
	return s, nil
}

func init() {
	Register(InfluxDBName, NewInfluxDB)
	Register(UDPName, NewUDP)
	Register(KafkaName, NewKafka)
	Register(ConsoleName, NewConsole)
}

// decodeOptions fills out from a loosely typed option map, accepting
// duration strings and numbers given as strings.
func decodeOptions(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	return nil
}
