package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pktstream/internal/bus"
	"firestige.xyz/pktstream/internal/core"
	"firestige.xyz/pktstream/internal/message"
)

func newWSTestServer(t *testing.T, cfg WSConfig) (*bus.Bus, string) {
	t.Helper()
	b := bus.New(64)
	ts := httptest.NewServer(NewWSServer(cfg, b).Handler())
	t.Cleanup(ts.Close)
	return b, "ws" + strings.TrimPrefix(ts.URL, "http") + SignalPath
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return mt, data
}

func testBatch(n int) message.Batch {
	readings := make(core.Batch, n)
	for i := range readings {
		readings[i] = core.PacketRecord{TimestampNanos: int64(1000 + i), WireLength: uint32(60 + i)}
	}
	return message.Batch{Readings: readings}
}

func TestWS_BatchAsBinaryFrame(t *testing.T) {
	b, url := newWSTestServer(t, WSConfig{})
	conn := dial(t, url)
	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, time.Second, time.Millisecond)

	b.Publish(testBatch(3))
	mt, data := readFrame(t, conn)
	assert.Equal(t, websocket.BinaryMessage, mt)
	require.Len(t, data, 36)

	recs, err := message.DecodeRecords(data)
	require.NoError(t, err)
	assert.Equal(t, message.Data{Timestamp: 1002, Value: 62}, recs[2])

	b.Publish(message.Data{Timestamp: -1, Value: 7})
	mt, data = readFrame(t, conn)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Len(t, data, 12)
}

func TestWS_SignalRoundTrip(t *testing.T) {
	b, url := newWSTestServer(t, WSConfig{})
	observer := b.Subscribe()
	defer observer.Close()

	sender := dial(t, url)
	require.Eventually(t, func() bool { return b.Subscribers() == 2 }, time.Second, time.Millisecond)

	// Malformed and non-signal frames are ignored without closing the socket.
	require.NoError(t, sender.WriteMessage(websocket.TextMessage, []byte("{broken")))
	require.NoError(t, sender.WriteMessage(websocket.TextMessage, []byte(`{"type":"Data","payload":{"timestamp":1,"value":2}}`)))
	require.NoError(t, sender.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	require.NoError(t, sender.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"Signal","payload":{"sdp":"offer","candidate":"c1"}}`)))

	ctx := t.Context()
	msg, err := observer.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, message.NewSignal("offer", "c1"), msg)

	// The republished signal also reaches WebSocket clients as text.
	mt, data := readFrame(t, sender)
	assert.Equal(t, websocket.TextMessage, mt)
	var env map[string]any
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "Signal", env["type"])
}

func TestWS_OneClientLeavesOthersKeepReceiving(t *testing.T) {
	b, url := newWSTestServer(t, WSConfig{})
	first := dial(t, url)
	second := dial(t, url)
	require.Eventually(t, func() bool { return b.Subscribers() == 2 }, time.Second, time.Millisecond)

	b.Publish(testBatch(1))
	readFrame(t, first)
	readFrame(t, second)

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	for i := 1; i <= 3; i++ {
		b.Publish(testBatch(i))
		mt, data := readFrame(t, second)
		assert.Equal(t, websocket.BinaryMessage, mt)
		assert.Len(t, data, 12*i)
	}
}

func TestWS_IdlePing(t *testing.T) {
	_, url := newWSTestServer(t, WSConfig{Heartbeat: 20 * time.Millisecond})
	conn := dial(t, url)

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping while idle")
	}
}

func TestWS_BusCloseEndsConnection(t *testing.T) {
	b, url := newWSTestServer(t, WSConfig{})
	conn := dial(t, url)
	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, time.Second, time.Millisecond)

	b.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	require.Eventually(t, func() bool { return b.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}
