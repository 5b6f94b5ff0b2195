// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/pktstream/internal/core"
)

// Config is the complete process configuration.
// Maps to the `pktstream:` root key in YAML.
type Config struct {
	Capture         CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Bus             BusConfig     `mapstructure:"bus" yaml:"bus"`
	Stream          BatchConfig   `mapstructure:"stream" yaml:"stream"`
	Storage         StorageConfig `mapstructure:"storage" yaml:"storage"`
	Server          ServerConfig  `mapstructure:"server" yaml:"server"`
	Metrics         MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Log             LogConfig     `mapstructure:"log" yaml:"log"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	PIDFile         string        `mapstructure:"pid_file" yaml:"pid_file"`
}

// ─── Capture ───

// CaptureConfig configures the single capture handle.
type CaptureConfig struct {
	Interface    string        `mapstructure:"interface" yaml:"interface"`
	Engine       string        `mapstructure:"engine" yaml:"engine"` // pcap | afpacket
	SnapLen      int           `mapstructure:"snap_len" yaml:"snap_len"`
	Promiscuous  bool          `mapstructure:"promiscuous" yaml:"promiscuous"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	BufferSizeMB int           `mapstructure:"buffer_size_mb" yaml:"buffer_size_mb"`
	Immediate    bool          `mapstructure:"immediate" yaml:"immediate"`
	BPFFilter    string        `mapstructure:"bpf_filter" yaml:"bpf_filter"`
}

// ─── Bus & Batching ───

// BusConfig sizes the distribution bus.
type BusConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

// BatchConfig holds the two flush thresholds of an aggregator.
type BatchConfig struct {
	MaxSize  int           `mapstructure:"max_size" yaml:"max_size"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// ─── Storage ───

// StorageConfig configures the storage writer and its sinks.
type StorageConfig struct {
	BatchConfig  `mapstructure:",squash" yaml:",inline"`
	MaxInFlight  int            `mapstructure:"max_in_flight" yaml:"max_in_flight"`
	WriteTimeout time.Duration  `mapstructure:"write_timeout" yaml:"write_timeout"`
	InfluxDB     InfluxDBConfig `mapstructure:"influxdb" yaml:"influxdb"`
	Exports      []ExportConfig `mapstructure:"exports" yaml:"exports"`
}

// InfluxDBConfig is the primary sink.
type InfluxDBConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	URL     string        `mapstructure:"url" yaml:"url"`
	Token   string        `mapstructure:"token" yaml:"token"`
	Org     string        `mapstructure:"org" yaml:"org"`
	Bucket  string        `mapstructure:"bucket" yaml:"bucket"`
	Gzip    bool          `mapstructure:"gzip" yaml:"gzip"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Options returns the option map understood by the influxdb sink.
func (c InfluxDBConfig) Options() map[string]any {
	return map[string]any{
		"url":     c.URL,
		"token":   c.Token,
		"org":     c.Org,
		"bucket":  c.Bucket,
		"gzip":    c.Gzip,
		"timeout": c.Timeout,
	}
}

// ExportConfig adds a secondary sink by name with sink-specific options.
type ExportConfig struct {
	Name   string         `mapstructure:"name" yaml:"name"`
	Config map[string]any `mapstructure:"config" yaml:"config"`
}

// ─── Servers ───

// ServerConfig groups the three listeners.
type ServerConfig struct {
	HTTP      HTTPServerConfig      `mapstructure:"http" yaml:"http"`
	Signal    SignalServerConfig    `mapstructure:"signal" yaml:"signal"`
	WebSocket WebSocketServerConfig `mapstructure:"websocket" yaml:"websocket"`
}

// HTTPServerConfig configures health and static files.
type HTTPServerConfig struct {
	Listen    string `mapstructure:"listen" yaml:"listen"`
	StaticDir string `mapstructure:"static_dir" yaml:"static_dir"`
}

// SignalServerConfig configures SSE and POST signaling.
type SignalServerConfig struct {
	Listen    string        `mapstructure:"listen" yaml:"listen"`
	Heartbeat time.Duration `mapstructure:"heartbeat" yaml:"heartbeat"`
}

// WebSocketServerConfig configures the WebSocket duplex.
type WebSocketServerConfig struct {
	Listen       string        `mapstructure:"listen" yaml:"listen"`
	Heartbeat    time.Duration `mapstructure:"heartbeat" yaml:"heartbeat"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains log destinations besides stdout.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `pktstream: ...`.
type configRoot struct {
	PktStream Config `mapstructure:"pktstream"`
}

// legacyEnv maps config keys to the environment names deployments already use.
var legacyEnv = map[string]string{
	"pktstream.capture.interface":       "CAPTURE_IFACE",
	"pktstream.storage.influxdb.token":  "INFLUX_TOKEN",
	"pktstream.storage.influxdb.url":    "INFLUX_URL",
	"pktstream.storage.influxdb.org":    "INFLUX_ORG",
	"pktstream.storage.influxdb.bucket": "INFLUX_BUCKET",
}

// Load loads configuration from path. An empty path uses defaults and the
// environment only. Env vars map from keys via the replacer, e.g.
// "pktstream.log.level" → PKTSTREAM_LOG_LEVEL.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envName := strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
		if err := v.BindEnv(key, envName, legacy); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", legacy, err)
		}
	}

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.PktStream

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "pktstream." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Capture defaults
	v.SetDefault("pktstream.capture.interface", "")
	v.SetDefault("pktstream.capture.engine", "pcap")
	v.SetDefault("pktstream.capture.snap_len", 65535)
	v.SetDefault("pktstream.capture.promiscuous", true)
	v.SetDefault("pktstream.capture.read_timeout", "100ms")
	v.SetDefault("pktstream.capture.buffer_size_mb", 16)
	v.SetDefault("pktstream.capture.immediate", true)
	v.SetDefault("pktstream.capture.bpf_filter", "tcp or udp")

	// Bus and stream batching
	v.SetDefault("pktstream.bus.capacity", 1024)
	v.SetDefault("pktstream.stream.max_size", 64)
	v.SetDefault("pktstream.stream.interval", "200ms")

	// Storage defaults
	v.SetDefault("pktstream.storage.max_size", 10000)
	v.SetDefault("pktstream.storage.interval", "100ms")
	v.SetDefault("pktstream.storage.max_in_flight", 4)
	v.SetDefault("pktstream.storage.write_timeout", "10s")
	v.SetDefault("pktstream.storage.influxdb.enabled", true)
	v.SetDefault("pktstream.storage.influxdb.url", "http://localhost:8086")
	v.SetDefault("pktstream.storage.influxdb.token", "")
	v.SetDefault("pktstream.storage.influxdb.org", "Asgard")
	v.SetDefault("pktstream.storage.influxdb.bucket", "factory_data")
	v.SetDefault("pktstream.storage.influxdb.gzip", true)
	v.SetDefault("pktstream.storage.influxdb.timeout", "10s")

	// Server defaults
	v.SetDefault("pktstream.server.http.listen", ":3030")
	v.SetDefault("pktstream.server.http.static_dir", "static")
	v.SetDefault("pktstream.server.signal.listen", ":3031")
	v.SetDefault("pktstream.server.signal.heartbeat", "15s")
	v.SetDefault("pktstream.server.websocket.listen", ":3032")
	v.SetDefault("pktstream.server.websocket.heartbeat", "15s")
	v.SetDefault("pktstream.server.websocket.write_timeout", "10s")

	// Metrics defaults
	v.SetDefault("pktstream.metrics.enabled", true)
	v.SetDefault("pktstream.metrics.listen", ":9091")
	v.SetDefault("pktstream.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("pktstream.log.level", "info")
	v.SetDefault("pktstream.log.format", "json")
	v.SetDefault("pktstream.log.outputs.file.enabled", false)
	v.SetDefault("pktstream.log.outputs.file.path", "/var/log/pktstream/pktstream.log")
	v.SetDefault("pktstream.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("pktstream.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("pktstream.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("pktstream.log.outputs.file.rotation.compress", true)

	v.SetDefault("pktstream.shutdown_timeout", "10s")
	v.SetDefault("pktstream.pid_file", "")
}

// ValidateAndApplyDefaults validates configuration and fills the values that
// must never be zero. Every failure wraps core.ErrConfigInvalid.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return invalid("log.level %q (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return invalid("log.format %q (must be json/text)", cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return invalid("log.outputs.file.path is required when file output is enabled")
	}

	// ── Capture ──
	if cfg.Capture.Interface == "" {
		return invalid("capture.interface is required (or set CAPTURE_IFACE)")
	}
	if cfg.Capture.Engine != "pcap" && cfg.Capture.Engine != "afpacket" {
		return invalid("capture.engine %q (must be pcap/afpacket)", cfg.Capture.Engine)
	}
	if cfg.Capture.SnapLen <= 0 {
		return invalid("capture.snap_len must be positive")
	}
	if cfg.Capture.ReadTimeout <= 0 {
		return invalid("capture.read_timeout must be positive")
	}
	if cfg.Capture.BufferSizeMB <= 0 {
		return invalid("capture.buffer_size_mb must be positive")
	}

	// ── Bus & thresholds ──
	if cfg.Bus.Capacity <= 0 {
		return invalid("bus.capacity must be positive")
	}
	if cfg.Stream.MaxSize <= 0 || cfg.Stream.Interval <= 0 {
		return invalid("stream.max_size and stream.interval must be positive")
	}
	if cfg.Storage.MaxSize <= 0 || cfg.Storage.Interval <= 0 {
		return invalid("storage.max_size and storage.interval must be positive")
	}
	if cfg.Storage.MaxInFlight <= 0 {
		cfg.Storage.MaxInFlight = 4
	}

	// ── Sinks ──
	if db := cfg.Storage.InfluxDB; db.Enabled {
		switch {
		case db.URL == "":
			return invalid("storage.influxdb.url is required")
		case db.Org == "":
			return invalid("storage.influxdb.org is required")
		case db.Bucket == "":
			return invalid("storage.influxdb.bucket is required")
		case db.Token == "":
			return invalid("storage.influxdb.token is required (or set INFLUX_TOKEN)")
		}
	}
	for i, exp := range cfg.Storage.Exports {
		if exp.Name == "" {
			return invalid("storage.exports[%d].name is required", i)
		}
	}

	// ── Servers ──
	if cfg.Server.HTTP.Listen == "" || cfg.Server.Signal.Listen == "" || cfg.Server.WebSocket.Listen == "" {
		return invalid("server listen addresses are required")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return invalid("metrics.listen is required when metrics are enabled")
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return nil
}

// Redacted returns a copy safe to print.
func (cfg Config) Redacted() Config {
	if cfg.Storage.InfluxDB.Token != "" {
		cfg.Storage.InfluxDB.Token = "******"
	}
	return cfg
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrConfigInvalid, fmt.Sprintf(format, args...))
}
