package daemon

import (
	"errors"
	"fmt"
	"reflect"

	"firestige.xyz/pktstream/internal/batch"
	"firestige.xyz/pktstream/internal/capture"
	"firestige.xyz/pktstream/internal/config"
	"firestige.xyz/pktstream/internal/sink"
)

const (
	streamBatch  = "stream"
	storageBatch = "storage"
)

// buildSinks creates the primary InfluxDB sink followed by every export.
// On failure the sinks already created are closed.
func buildSinks(cfg config.StorageConfig) ([]sink.Sink, error) {
	var sinks []sink.Sink
	fail := func(err error) ([]sink.Sink, error) {
		errs := []error{err}
		for _, s := range sinks {
			errs = append(errs, s.Close())
		}
		return nil, errors.Join(errs...)
	}

	if cfg.InfluxDB.Enabled {
		s, err := sink.New(sink.InfluxDBName, cfg.InfluxDB.Options())
		if err != nil {
			return fail(fmt.Errorf("influxdb sink: %w", err))
		}
		sinks = append(sinks, s)
	}

	for i, exp := range cfg.Exports {
		s, err := sink.New(exp.Name, exp.Config)
		if err != nil {
			return fail(fmt.Errorf("export %d (%s): %w", i, exp.Name, err))
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func captureConfig(c config.CaptureConfig) capture.Config {
	return capture.Config{
		Interface:    c.Interface,
		Engine:       c.Engine,
		SnapLen:      c.SnapLen,
		Promiscuous:  c.Promiscuous,
		ReadTimeout:  c.ReadTimeout,
		BufferSizeMB: c.BufferSizeMB,
		Immediate:    c.Immediate,
		BPFFilter:    c.BPFFilter,
	}
}

func batchConfig(name string, c config.BatchConfig) batch.Config {
	return batch.Config{
		Name:     name,
		MaxSize:  c.MaxSize,
		Interval: c.Interval,
	}
}

// restartRequired names the sections that differ between prev and next and
// only take effect on restart.
func restartRequired(prev, next *config.Config) []string {
	var sections []string
	if next.Log.Format != prev.Log.Format || next.Log.Outputs != prev.Log.Outputs {
		sections = append(sections, "log")
	}
	if next.Capture != prev.Capture {
		sections = append(sections, "capture")
	}
	if next.Bus != prev.Bus {
		sections = append(sections, "bus")
	}
	if next.Stream != prev.Stream {
		sections = append(sections, "stream")
	}
	if !storageEqual(prev.Storage, next.Storage) {
		sections = append(sections, "storage")
	}
	if next.Server != prev.Server {
		sections = append(sections, "server")
	}
	if next.Metrics != prev.Metrics {
		sections = append(sections, "metrics")
	}
	if next.ShutdownTimeout != prev.ShutdownTimeout || next.PIDFile != prev.PIDFile {
		sections = append(sections, "process")
	}
	return sections
}

func storageEqual(a, b config.StorageConfig) bool {
	return a.BatchConfig == b.BatchConfig &&
		a.MaxInFlight == b.MaxInFlight &&
		a.WriteTimeout == b.WriteTimeout &&
		a.InfluxDB == b.InfluxDB &&
		reflect.DeepEqual(a.Exports, b.Exports)
}
