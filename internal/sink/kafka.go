package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/pktstream/internal/core"
)

// KafkaName is the registered name of the Kafka sink.
const KafkaName = "kafka"

// KafkaConfig configures the Kafka writer.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	Compression  string        `mapstructure:"compression"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes one line protocol message per point, keyed by protocol.
type Kafka struct {
	cfg    KafkaConfig
	writer messageWriter
}

// NewKafka is the Factory of the kafka sink.
func NewKafka(options map[string]any) (Sink, error) {
	cfg := KafkaConfig{
		BatchSize:    100,
		BatchTimeout: 100 * time.Millisecond,
		Compression:  "snappy",
		MaxAttempts:  1,
	}
	if err := decodeOptions(options, &cfg); err != nil {
		return nil, err
	}
	return NewKafkaWithConfig(cfg)
}

// NewKafkaWithConfig creates the writer. Brokers are contacted lazily.
func NewKafkaWithConfig(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka brokers are required", core.ErrConfigInvalid)
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("%w: kafka topic is required", core.ErrConfigInvalid)
	}

	wc := kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
	}
	switch cfg.Compression {
	case "none", "":
	case "gzip":
		wc.CompressionCodec = compress.Gzip.Codec()
	case "snappy":
		wc.CompressionCodec = compress.Snappy.Codec()
	case "lz4":
		wc.CompressionCodec = compress.Lz4.Codec()
	default:
		return nil, fmt.Errorf("%w: invalid kafka compression %q", core.ErrConfigInvalid, cfg.Compression)
	}

	slog.Info("kafka sink created",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"compression", cfg.Compression)

	return &Kafka{cfg: cfg, writer: kafka.NewWriter(wc)}, nil
}

func (s *Kafka) Name() string {
	return KafkaName
}

func (s *Kafka) WriteBatch(ctx context.Context, points []*write.Point) error {
	if len(points) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(points))
	for _, p := range points {
		var key string
		for _, tag := range p.TagList() {
			if tag.Key == TagProtocol {
				key = tag.Value
			}
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(key),
			Value: []byte(lineProtocol(p)),
			Time:  p.Time(),
		})
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write to %s: %w", s.cfg.Topic, err)
	}
	return nil
}

func (s *Kafka) Close() error {
	return s.writer.Close()
}
