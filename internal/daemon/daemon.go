// Package daemon implements the daemon lifecycle manager.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/pktstream/internal/bus"
	"firestige.xyz/pktstream/internal/capture"
	"firestige.xyz/pktstream/internal/config"
	logpkg "firestige.xyz/pktstream/internal/log"
	"firestige.xyz/pktstream/internal/metrics"
	"firestige.xyz/pktstream/internal/pipeline"
	"firestige.xyz/pktstream/internal/server"
	"firestige.xyz/pktstream/internal/sink"
)

// Version is stamped at build time.
var Version = "0.1.0"

const defaultShutdownTimeout = 10 * time.Second

// PacketSource is a capture source the daemon owns.
type PacketSource interface {
	pipeline.PacketSource
	Close()
}

// SourceOpener opens the capture source for a configuration.
type SourceOpener func(cfg capture.Config) (PacketSource, error)

func openCapture(cfg capture.Config) (PacketSource, error) {
	return capture.Open(cfg)
}

// Daemon manages the pktstream process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.Config
	configPath string
	openSource SourceOpener

	// Core components
	bus           *bus.Bus
	dispatcher    *sink.Dispatcher
	source        PacketSource
	stream        *pipeline.Stream
	storage       *pipeline.Storage
	servers       []*server.Server
	metricsServer *metrics.Server // nil if metrics disabled

	// Lifecycle management
	ctx           context.Context
	cancel        context.CancelFunc
	storageCancel context.CancelFunc
	streamDone    chan struct{}
	storageDone   chan struct{}
	streamErr     error
	sigChan       chan os.Signal
	stopOnce      sync.Once
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithSourceOpener replaces the capture engine, mainly for tests.
func WithSourceOpener(open SourceOpener) Option {
	return func(d *Daemon) {
		d.openSource = open
	}
}

// New loads the configuration at configPath and creates a Daemon.
func New(configPath string, opts ...Option) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	d := NewWithConfig(cfg, opts...)
	d.configPath = configPath
	return d, nil
}

// NewWithConfig creates a Daemon from an already validated configuration.
func NewWithConfig(cfg *config.Config, opts ...Option) *Daemon {
	d := &Daemon{
		config:      cfg,
		openSource:  openCapture,
		streamDone:  make(chan struct{}),
		storageDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Start initializes and starts all daemon components. The storage writer
// subscribes before capture starts so it sees every batch.
func (d *Daemon) Start() error {
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting pktstream daemon",
		"version", Version,
		"interface", d.config.Capture.Interface,
		"engine", d.config.Capture.Engine,
		"config", d.configPath,
	)

	if err := d.start(); err != nil {
		d.Stop()
		return err
	}

	slog.Info("daemon started successfully")
	return nil
}

func (d *Daemon) start() error {
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	d.bus = bus.New(d.config.Bus.Capacity)

	if err := d.startStorage(); err != nil {
		return fmt.Errorf("failed to start storage writer: %w", err)
	}

	if err := d.startStream(); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}

	if err := d.startServers(); err != nil {
		return fmt.Errorf("failed to start servers: %w", err)
	}
	return nil
}

// Stop performs graceful shutdown of all daemon components. It is safe to
// call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")
	timeout := d.config.ShutdownTimeout

	// 1. Stop capture; the stream pipeline publishes its remainder.
	d.cancel()
	if d.stream != nil {
		if !waitFor(d.streamDone, timeout) {
			slog.Warn("stream pipeline did not stop in time")
		} else if d.source != nil {
			d.source.Close()
		}
	}

	// 2. Stop the adapters; streaming handlers end with the root context.
	for _, srv := range d.servers {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("error stopping server", "server", srv.Name(), "error", err)
		}
		cancel()
	}

	// 3. Close the bus; the storage writer drains it and flushes.
	if d.bus != nil {
		slog.Debug("closing bus", "retained", d.bus.Len())
		d.bus.Close()
	}
	if d.storage != nil {
		if !waitFor(d.storageDone, timeout) {
			slog.Warn("storage writer did not drain in time, abandoning remainder")
			d.storageCancel()
			<-d.storageDone
		}
	}

	// 4. Wait for in-flight sink writes and release the sinks.
	if d.dispatcher != nil {
		if err := d.dispatcher.Close(); err != nil {
			slog.Error("error closing sinks", "error", err)
		}
	}

	if d.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := d.metricsServer.Stop(ctx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
		cancel()
	}

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	if d.stream != nil {
		st := d.stream.Stats()
		slog.Info("daemon stopped gracefully",
			"received", st.Received,
			"batches", st.Batches,
		)
		return
	}
	slog.Info("daemon stopped gracefully")
}

// Run blocks until shutdown is triggered by SIGTERM/SIGINT, by ctx, or by
// the capture pipeline stopping on its own. SIGHUP reloads the log level.
func (d *Daemon) Run(ctx context.Context) error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.streamDone:
			if d.ctx.Err() != nil {
				// Stop was called elsewhere.
				return nil
			}
			slog.Error("capture pipeline stopped unexpectedly", "error", d.streamErr)
			d.Stop()
			if d.streamErr != nil {
				return d.streamErr
			}
			return errors.New("capture pipeline stopped")

		case <-ctx.Done():
			slog.Info("context cancelled", "error", ctx.Err())
			d.Stop()
			return nil
		}
	}
}

// Reload re-reads the configuration file.
// Hot-reloadable: log level.
// Cold (requires restart): everything else.
func (d *Daemon) Reload() error {
	if d.configPath == "" {
		return errors.New("no config file to reload")
	}
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	hotReloaded := []string{}
	if newConfig.Log.Level != d.config.Log.Level {
		if err := logpkg.SetLevel(newConfig.Log.Level); err != nil {
			return fmt.Errorf("failed to apply log level: %w", err)
		}
		d.config.Log.Level = newConfig.Log.Level
		hotReloaded = append(hotReloaded, "log.level")
	}

	requiresRestart := restartRequired(d.config, newConfig)

	slog.Info("configuration reloaded",
		"hot_reloaded", hotReloaded,
		"requires_restart", requiresRestart,
	)
	return nil
}

// Addrs returns the bound address of every running server by name.
func (d *Daemon) Addrs() map[string]string {
	addrs := make(map[string]string, len(d.servers)+1)
	for _, srv := range d.servers {
		addrs[srv.Name()] = srv.Addr()
	}
	if d.metricsServer != nil {
		addrs["metrics"] = d.metricsServer.Addr()
	}
	return addrs
}

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}
	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

// startStorage builds the sinks and runs the storage writer on its own
// context so it can outlive capture and drain the bus.
func (d *Daemon) startStorage() error {
	sinks, err := buildSinks(d.config.Storage)
	if err != nil {
		return err
	}
	if len(sinks) == 0 {
		slog.Warn("no sinks configured, storage writer only counts readings")
	}

	d.dispatcher = sink.NewDispatcher(sink.DispatcherConfig{
		MaxInFlight:  d.config.Storage.MaxInFlight,
		WriteTimeout: d.config.Storage.WriteTimeout,
	}, sinks...)

	d.storage = pipeline.NewStorage(pipeline.StorageConfig{
		Subscription: d.bus.Subscribe(),
		Writer:       d.dispatcher,
		Batch: batchConfig(storageBatch, config.BatchConfig{
			MaxSize:  d.config.Storage.MaxSize,
			Interval: d.config.Storage.Interval,
		}),
	})

	var ctx context.Context
	ctx, d.storageCancel = context.WithCancel(context.Background())
	go func() {
		defer close(d.storageDone)
		if err := d.storage.Run(ctx); err != nil {
			slog.Error("storage writer stopped with error", "error", err)
		}
	}()

	slog.Info("storage writer started", "sinks", d.dispatcher.Sinks())
	return nil
}

func (d *Daemon) startStream() error {
	src, err := d.openSource(captureConfig(d.config.Capture))
	if err != nil {
		return err
	}
	d.source = src

	d.stream = pipeline.NewStream(pipeline.StreamConfig{
		Source: src,
		Bus:    d.bus,
		Batch:  batchConfig(streamBatch, d.config.Stream),
	})

	go func() {
		defer close(d.streamDone)
		err := d.stream.Run(d.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			d.streamErr = err
		}
	}()
	return nil
}

func (d *Daemon) startServers() error {
	srv := d.config.Server
	d.servers = []*server.Server{
		server.NewHTTPServer(server.HTTPConfig{
			Addr:      srv.HTTP.Listen,
			StaticDir: srv.HTTP.StaticDir,
		}),
		server.NewSignalServer(server.SignalConfig{
			Addr:      srv.Signal.Listen,
			Heartbeat: srv.Signal.Heartbeat,
		}, d.bus),
		server.NewWSServer(server.WSConfig{
			Addr:         srv.WebSocket.Listen,
			Heartbeat:    srv.WebSocket.Heartbeat,
			WriteTimeout: srv.WebSocket.WriteTimeout,
		}, d.bus),
	}

	for _, s := range d.servers {
		if err := s.Start(d.ctx); err != nil {
			return err
		}
	}
	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	return d.metricsServer.Start(d.ctx)
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.config.PIDFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.config.PIDFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.config.PIDFile, err)
	}

	slog.Debug("PID file written", "path", d.config.PIDFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.config.PIDFile == "" {
		return nil
	}

	if err := os.Remove(d.config.PIDFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.config.PIDFile, err)
	}

	slog.Debug("PID file removed", "path", d.config.PIDFile)
	return nil
}

func waitFor(done <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
