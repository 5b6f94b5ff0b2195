package sink

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSink struct {
	name    string
	err     error
	delay   time.Duration
	mu      sync.Mutex
	batches [][]*write.Point
	closed  atomic.Bool
	active  atomic.Int32
	peak    atomic.Int32
}

func (m *mockSink) Name() string { return m.name }

func (m *mockSink) WriteBatch(ctx context.Context, points []*write.Point) error {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	m.batches = append(m.batches, points)
	m.mu.Unlock()
	return m.err
}

func (m *mockSink) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func collect(ch <-chan Result) map[string]Result {
	out := map[string]Result{}
	for r := range ch {
		out[r.Sink] = r
	}
	return out
}

func TestDispatcher_WritesEverySink(t *testing.T) {
	good := &mockSink{name: "good"}
	bad := &mockSink{name: "bad", err: errors.New("unreachable")}
	d := NewDispatcher(DispatcherConfig{}, good, bad)

	pts := []*write.Point{mustPoint(t, "TCP", 60, 1, 0)}
	results := collect(d.Write(t.Context(), pts))

	require.Len(t, results, 2)
	assert.NoError(t, results["good"].Err)
	assert.Equal(t, 1, results["good"].Points)
	assert.EqualError(t, results["bad"].Err, "unreachable")
	assert.Equal(t, 1, good.count())
	assert.Equal(t, 1, bad.count(), "failed writes are not retried")

	require.NoError(t, d.Close())
	assert.True(t, good.closed.Load())
	assert.True(t, bad.closed.Load())
}

func TestDispatcher_DoesNotWaitForSinks(t *testing.T) {
	slow := &mockSink{name: "slow", delay: 100 * time.Millisecond}
	d := NewDispatcher(DispatcherConfig{MaxInFlight: 4}, slow)

	start := time.Now()
	ch := d.Write(t.Context(), []*write.Point{mustPoint(t, "TCP", 60, 1, 0)})
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	r := <-ch
	assert.NoError(t, r.Err)
	require.NoError(t, d.Close())
}

func TestDispatcher_BoundsInFlight(t *testing.T) {
	s := &mockSink{name: "s", delay: 20 * time.Millisecond}
	d := NewDispatcher(DispatcherConfig{MaxInFlight: 2}, s)

	pts := []*write.Point{mustPoint(t, "TCP", 60, 1, 0)}
	for i := 0; i < 6; i++ {
		d.Write(t.Context(), pts)
	}
	require.NoError(t, d.Close())

	assert.Equal(t, 6, s.count())
	assert.LessOrEqual(t, s.peak.Load(), int32(2))
}

func TestDispatcher_WriteTimeout(t *testing.T) {
	s := &mockSink{name: "stuck", delay: time.Hour}
	d := NewDispatcher(DispatcherConfig{WriteTimeout: 20 * time.Millisecond}, s)

	r := <-d.Write(t.Context(), []*write.Point{mustPoint(t, "TCP", 60, 1, 0)})
	assert.ErrorIs(t, r.Err, context.DeadlineExceeded)
	require.NoError(t, d.Close())
}

func TestDispatcher_SurvivesCallerCancellation(t *testing.T) {
	s := &mockSink{name: "s", delay: 10 * time.Millisecond}
	d := NewDispatcher(DispatcherConfig{}, s)

	ctx, cancel := context.WithCancel(context.Background())
	ch := d.Write(ctx, []*write.Point{mustPoint(t, "TCP", 60, 1, 0)})
	cancel()

	r := <-ch
	assert.NoError(t, r.Err, "an accepted batch is delivered even when the caller is shutting down")
	require.NoError(t, d.Close())
}

func TestDispatcher_EmptyBatch(t *testing.T) {
	s := &mockSink{name: "s"}
	d := NewDispatcher(DispatcherConfig{}, s)

	_, open := <-d.Write(t.Context(), nil)
	assert.False(t, open)
	assert.Equal(t, 0, s.count())
	assert.Equal(t, []string{"s"}, d.Sinks())
}
