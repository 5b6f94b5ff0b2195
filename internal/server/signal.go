package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"firestige.xyz/pktstream/internal/bus"
	"firestige.xyz/pktstream/internal/message"
	"firestige.xyz/pktstream/internal/metrics"
)

const (
	// SignalPath serves both the SSE stream and the signal POST.
	SignalPath = "/signal"

	maxSignalBody = 1 << 20
	adapterSSE    = "sse"
	adapterPOST   = "post"
)

// SignalConfig configures the signaling server.
type SignalConfig struct {
	Addr      string
	Heartbeat time.Duration
}

type signalHandler struct {
	bus       Broker
	heartbeat time.Duration
}

// NewSignalServer serves GET /signal as an SSE stream of every bus message
// and accepts POST /signal to publish a Signal.
func NewSignalServer(cfg SignalConfig, b Broker) *Server {
	h := &signalHandler{bus: b, heartbeat: cfg.Heartbeat}
	if h.heartbeat <= 0 {
		h.heartbeat = defaultHeartbeat
	}

	cors := newCORS(
		[]string{http.MethodOptions, http.MethodGet, http.MethodPost},
		[]string{"content-type", "accept", "last-event-id", "origin"},
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+SignalPath, h.serveEvents)
	mux.HandleFunc("POST "+SignalPath, h.servePost)
	return newServer("signal", cfg.Addr, cors.wrap(mux))
}

func (h *signalHandler) servePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSignalBody))
	if err != nil {
		metrics.SignalsReceivedTotal.WithLabelValues(adapterPOST, "invalid").Inc()
		http.Error(w, "request body too large", http.StatusBadRequest)
		return
	}

	sig, err := message.DecodeSignalRequest(body)
	if err != nil {
		metrics.SignalsReceivedTotal.WithLabelValues(adapterPOST, "invalid").Inc()
		slog.Debug("rejected signal", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "invalid signal", http.StatusBadRequest)
		return
	}

	slog.Info("signal received", "adapter", adapterPOST, "remote", r.RemoteAddr, "has_candidate", sig.Candidate != nil)
	h.bus.Publish(sig)
	metrics.SignalsReceivedTotal.WithLabelValues(adapterPOST, "ok").Inc()
	w.WriteHeader(http.StatusOK)
}

func (h *signalHandler) serveEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Subscribe before the headers go out so a client that has seen the
	// response cannot miss a message.
	sub := h.bus.Subscribe()
	defer sub.Close()

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := uuid.NewString()
	log := slog.With("adapter", adapterSSE, "client", client, "remote", r.RemoteAddr)
	metrics.ClientsConnected.WithLabelValues(adapterSSE).Inc()
	defer metrics.ClientsConnected.WithLabelValues(adapterSSE).Dec()
	log.Info("client connected")
	defer log.Info("client disconnected")

	ctx := r.Context()
	for {
		msg, err := recvWithin(ctx, sub, h.heartbeat)
		switch {
		case err == nil:
			if err := writeEvent(w, msg); err != nil {
				log.Debug("event write failed", "error", err)
				return
			}
		case ctx.Err() != nil, errors.Is(err, bus.ErrClosed):
			return
		case errors.Is(err, context.DeadlineExceeded):
			if _, err := io.WriteString(w, ":\n\n"); err != nil {
				return
			}
		default:
			var lagged *bus.LaggedError
			if errors.As(err, &lagged) {
				metrics.BusLaggedTotal.WithLabelValues(adapterSSE).Add(float64(lagged.Skipped))
				log.Warn("client lagged", "skipped", lagged.Skipped)
				continue
			}
			log.Error("receive failed", "error", err)
			return
		}
		flusher.Flush()
	}
}

func writeEvent(w io.Writer, msg message.Message) error {
	data, err := message.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// recvWithin waits for the next message for at most d. A
// context.DeadlineExceeded with ctx still alive means the subscriber was idle.
func recvWithin(ctx context.Context, sub *bus.Subscriber, d time.Duration) (message.Message, error) {
	rctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return sub.Recv(rctx)
}
