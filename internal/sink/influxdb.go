package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"firestige.xyz/pktstream/internal/core"
)

// InfluxDBName is the registered name of the InfluxDB sink.
const InfluxDBName = "influxdb"

// InfluxDBConfig configures the InfluxDB v2 HTTP writer.
type InfluxDBConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Org     string        `mapstructure:"org"`
	Bucket  string        `mapstructure:"bucket"`
	Gzip    bool          `mapstructure:"gzip"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// InfluxDB writes points with the blocking write API, one HTTP request per
// batch.
type InfluxDB struct {
	cfg    InfluxDBConfig
	client influxdb2.Client
	api    api.WriteAPIBlocking
}

// NewInfluxDB is the Factory of the influxdb sink.
func NewInfluxDB(options map[string]any) (Sink, error) {
	cfg := InfluxDBConfig{Gzip: true, Timeout: 10 * time.Second}
	if err := decodeOptions(options, &cfg); err != nil {
		return nil, err
	}
	return NewInfluxDBWithConfig(cfg)
}

// NewInfluxDBWithConfig creates the client. No request is made until the
// first write.
func NewInfluxDBWithConfig(cfg InfluxDBConfig) (*InfluxDB, error) {
	switch {
	case cfg.URL == "":
		return nil, fmt.Errorf("%w: influxdb url is required", core.ErrConfigInvalid)
	case cfg.Org == "":
		return nil, fmt.Errorf("%w: influxdb org is required", core.ErrConfigInvalid)
	case cfg.Bucket == "":
		return nil, fmt.Errorf("%w: influxdb bucket is required", core.ErrConfigInvalid)
	case cfg.Token == "":
		return nil, fmt.Errorf("%w: influxdb token is required", core.ErrConfigInvalid)
	}

	opts := influxdb2.DefaultOptions().
		SetUseGZip(cfg.Gzip).
		SetPrecision(time.Nanosecond)
	if cfg.Timeout > 0 {
		opts.SetHTTPRequestTimeout(uint(max(cfg.Timeout/time.Second, 1)))
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	slog.Info("influxdb sink created",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
		"gzip", cfg.Gzip)

	return &InfluxDB{
		cfg:    cfg,
		client: client,
		api:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

func (s *InfluxDB) Name() string {
	return InfluxDBName
}

func (s *InfluxDB) WriteBatch(ctx context.Context, points []*write.Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := s.api.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influxdb write %d points: %w", len(points), err)
	}
	return nil
}

func (s *InfluxDB) Close() error {
	s.client.Close()
	return nil
}
