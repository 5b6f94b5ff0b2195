package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pktstream/internal/bus"
	"firestige.xyz/pktstream/internal/core"
	"firestige.xyz/pktstream/internal/message"
)

func newSignalTestServer(t *testing.T, heartbeat time.Duration) (*bus.Bus, *httptest.Server) {
	t.Helper()
	b := bus.New(64)
	srv := NewSignalServer(SignalConfig{Heartbeat: heartbeat}, b)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return b, ts
}

func postSignal(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+SignalPath, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestPostSignal_Publishes(t *testing.T) {
	b, ts := newSignalTestServer(t, time.Minute)
	sub := b.Subscribe()
	defer sub.Close()

	resp := postSignal(t, ts.URL, `{"sdp":"v=0","candidate":"cand-1"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	msg, ok, err := sub.TryRecv()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, message.NewSignal("v=0", "cand-1"), msg)
}

func TestPostSignal_MalformedIsRejectedWithoutPublish(t *testing.T) {
	b, ts := newSignalTestServer(t, time.Minute)
	sub := b.Subscribe()
	defer sub.Close()

	for _, body := range []string{
		``,
		`not json`,
		`{"candidate":"c"}`,
		`{"sdp":42}`,
		`[]`,
	} {
		resp := postSignal(t, ts.URL, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body %q", body)
	}
	_, ok, err := sub.TryRecv()
	require.NoError(t, err)
	assert.False(t, ok, "rejected requests must not publish")

	// The adapter keeps serving.
	resp := postSignal(t, ts.URL, `{"sdp":"v=0"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, ok, _ = sub.TryRecv()
	assert.True(t, ok)
}

func TestCORSPreflight(t *testing.T) {
	_, ts := newSignalTestServer(t, time.Minute)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+SignalPath, nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "OPTIONS, GET, POST", resp.Header.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "content-type, accept, last-event-id, origin", resp.Header.Get("Access-Control-Allow-Headers"))
}

type sseReader struct {
	resp *http.Response
	r    *bufio.Reader
}

func openSSE(t *testing.T, ctx context.Context, url string) *sseReader {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+SignalPath, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return &sseReader{resp: resp, r: bufio.NewReader(resp.Body)}
}

// next returns the next event block without its trailing blank line.
func (s *sseReader) next(t *testing.T) string {
	t.Helper()
	var lines []string
	for {
		line, err := s.r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			return strings.Join(lines, "\n")
		}
		lines = append(lines, line)
	}
}

func TestSSE_StreamsMessages(t *testing.T) {
	b, ts := newSignalTestServer(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := openSSE(t, ctx, ts.URL)
	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, time.Second, time.Millisecond)

	b.Publish(message.Batch{Readings: core.Batch{{TimestampNanos: 5, WireLength: 60, Protocol: core.ProtocolTCP}}})
	b.Publish(message.NewSignal("v=0", ""))

	assert.Equal(t,
		`data: {"type":"Batch","payload":{"readings":[{"timestamp":5,"value":60}]}}`,
		stream.next(t))
	assert.Equal(t,
		`data: {"type":"Signal","payload":{"sdp":"v=0","candidate":null}}`,
		stream.next(t))
}

func TestSSE_Heartbeat(t *testing.T) {
	_, ts := newSignalTestServer(t, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := openSSE(t, ctx, ts.URL)
	assert.Equal(t, ":", stream.next(t))
}

func TestSSE_DisconnectReleasesSubscription(t *testing.T) {
	b, ts := newSignalTestServer(t, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	openSSE(t, ctx, ts.URL)
	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, time.Second, time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return b.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSSE_EndsWhenBusCloses(t *testing.T) {
	b, ts := newSignalTestServer(t, time.Minute)
	stream := openSSE(t, context.Background(), ts.URL)
	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, time.Second, time.Millisecond)

	b.Close()
	_, err := stream.r.ReadString('\n')
	assert.Error(t, err, "stream should end")
}
