// Package server exposes the bus to browsers: Server-Sent Events and HTTP
// POST for signaling, a WebSocket duplex carrying binary telemetry frames,
// and a plain HTTP server for health and static files.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"firestige.xyz/pktstream/internal/bus"
	"firestige.xyz/pktstream/internal/message"
)

const (
	defaultHeartbeat       = 15 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// Broker is the bus as seen by the adapters.
type Broker interface {
	Publish(msg message.Message)
	Subscribe() *bus.Subscriber
}

// Server is one listening HTTP server. Requests inherit the context passed
// to Start, so streaming handlers end when it is cancelled.
type Server struct {
	name string
	srv  *http.Server

	mu sync.Mutex
	ln net.Listener
}

func newServer(name, addr string, h http.Handler) *Server {
	return &Server{
		name: name,
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

// Name returns the server name used in logs.
func (s *Server) Name() string {
	return s.name
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("%s server listen %s: %w", s.name, s.srv.Addr, err)
	}
	s.srv.BaseContext = func(net.Listener) context.Context { return ctx }

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "server", s.name, "error", err)
		}
	}()

	slog.Info("server started", "server", s.name, "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.srv.Addr
}

// Shutdown stops accepting connections and waits for handlers up to the
// ctx deadline, then closes whatever is left.
func (s *Server) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultShutdownTimeout)
		defer cancel()
	}

	err := s.srv.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		err = s.srv.Close()
	}
	slog.Info("server stopped", "server", s.name)
	return err
}
