package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"

	"firestige.xyz/pktstream/internal/bus"
	"firestige.xyz/pktstream/internal/message"
	"firestige.xyz/pktstream/internal/metrics"
)

const (
	adapterWS = "ws"

	defaultWriteTimeout = 10 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultReadLimit    = 1 << 20
)

// WSConfig configures the WebSocket server.
type WSConfig struct {
	Addr         string
	Heartbeat    time.Duration
	WriteTimeout time.Duration
	PongWait     time.Duration
	ReadLimit    int64
}

type wsHandler struct {
	bus      Broker
	cfg      WSConfig
	upgrader websocket.Upgrader
}

// NewWSServer serves /signal as a WebSocket. Telemetry goes out as binary
// frames of 12-byte records; signals travel as JSON text frames both ways.
func NewWSServer(cfg WSConfig, b Broker) *Server {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}

	h := &wsHandler{
		bus: b,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}

	cors := newCORS(
		[]string{http.MethodGet, http.MethodOptions},
		[]string{"sec-websocket-protocol", "origin", "upgrade"},
	)

	mux := http.NewServeMux()
	mux.HandleFunc(SignalPath, h.serveWS)
	return newServer("websocket", cfg.Addr, cors.wrap(mux))
}

func (h *wsHandler) serveWS(w http.ResponseWriter, r *http.Request) {
	sub := h.bus.Subscribe()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		sub.Close()
		slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		sub:  sub,
		bus:  h.bus,
		cfg:  h.cfg,
	}
	c.log = slog.With("adapter", adapterWS, "client", c.id, "remote", r.RemoteAddr)
	c.serve(r.Context())
}

// wsClient is one connection: an inbound loop and an outbound loop, the
// first to finish ends both.
type wsClient struct {
	id        string
	conn      *websocket.Conn
	sub       *bus.Subscriber
	bus       Broker
	cfg       WSConfig
	log       *slog.Logger
	closeOnce sync.Once
}

func (c *wsClient) serve(parent context.Context) {
	metrics.ClientsConnected.WithLabelValues(adapterWS).Inc()
	defer metrics.ClientsConnected.WithLabelValues(adapterWS).Dec()
	c.log.Info("client connected")

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var wg conc.WaitGroup
	wg.Go(func() {
		defer cancel()
		c.readLoop()
	})
	wg.Go(func() {
		defer cancel()
		c.writeLoop(ctx)
	})

	<-ctx.Done()
	c.close()
	if r := wg.WaitAndRecover(); r != nil {
		c.log.Error("client loop panicked", "panic", r.Value, "stack", string(r.Stack))
	}
	c.sub.Close()
	c.log.Info("client disconnected")
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

// readLoop republishes Signal text frames. Everything else is ignored.
func (c *wsClient) readLoop() {
	c.conn.SetReadLimit(c.cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("read failed", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		if mt != websocket.TextMessage {
			continue
		}

		msg, err := message.Unmarshal(data)
		if err != nil {
			metrics.SignalsReceivedTotal.WithLabelValues(adapterWS, "invalid").Inc()
			c.log.Debug("ignored malformed frame", "error", err)
			continue
		}
		sig, ok := msg.(message.Signal)
		if !ok {
			metrics.SignalsReceivedTotal.WithLabelValues(adapterWS, "ignored").Inc()
			continue
		}
		c.bus.Publish(sig)
		metrics.SignalsReceivedTotal.WithLabelValues(adapterWS, "ok").Inc()
	}
}

// writeLoop forwards bus messages and pings the peer when idle.
func (c *wsClient) writeLoop(ctx context.Context) {
	for {
		msg, err := recvWithin(ctx, c.sub, c.cfg.Heartbeat)
		switch {
		case err == nil:
			if err := c.send(msg); err != nil {
				c.log.Debug("write failed", "error", err)
				return
			}
		case ctx.Err() != nil:
			c.writeClose(websocket.CloseGoingAway)
			return
		case errors.Is(err, bus.ErrClosed):
			c.writeClose(websocket.CloseNormalClosure)
			return
		case errors.Is(err, context.DeadlineExceeded):
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		default:
			var lagged *bus.LaggedError
			if errors.As(err, &lagged) {
				metrics.BusLaggedTotal.WithLabelValues(adapterWS).Add(float64(lagged.Skipped))
				c.log.Warn("client lagged", "skipped", lagged.Skipped)
				continue
			}
			c.log.Error("receive failed", "error", err)
			return
		}
	}
}

func (c *wsClient) send(msg message.Message) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if frame, ok := message.EncodeBinary(msg); ok {
		return c.conn.WriteMessage(websocket.BinaryMessage, frame)
	}
	data, err := message.Marshal(msg)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClient) writeClose(code int) {
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline)
}
