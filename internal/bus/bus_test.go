package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pktstream/internal/message"
)

func data(i int) message.Message {
	return message.Data{Timestamp: int64(i), Value: uint32(i)}
}

func recvData(t *testing.T, sub *Subscriber) int64 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, err := sub.Recv(ctx)
	require.NoError(t, err)
	d, ok := msg.(message.Data)
	require.True(t, ok, "expected Data, got %T", msg)
	return d.Timestamp
}

func TestPublish_NoSubscribersIsNoop(t *testing.T) {
	b := New(4)
	b.Publish(data(1))
	assert.Equal(t, uint64(0), b.Seq())

	sub := b.Subscribe()
	defer sub.Close()

	_, ok, err := sub.TryRecv()
	require.NoError(t, err)
	assert.False(t, ok, "subscriber must not see messages published before it subscribed")
}

func TestSubscribe_NoReplay(t *testing.T) {
	b := New(8)
	early := b.Subscribe()
	defer early.Close()

	b.Publish(data(1))
	b.Publish(data(2))

	late := b.Subscribe()
	defer late.Close()
	b.Publish(data(3))

	assert.Equal(t, int64(1), recvData(t, early))
	assert.Equal(t, int64(3), recvData(t, late))
}

func TestRecv_PublishOrder(t *testing.T) {
	b := New(16)
	sub := b.Subscribe()
	defer sub.Close()

	for i := 0; i < 10; i++ {
		b.Publish(data(i))
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, int64(i), recvData(t, sub))
	}
}

func TestRecv_LaggedExactCount(t *testing.T) {
	b := New(1024)
	sub := b.Subscribe()
	defer sub.Close()

	for i := 0; i < 2000; i++ {
		b.Publish(data(i))
	}

	_, err := sub.Recv(context.Background())
	var lagged *LaggedError
	require.True(t, errors.As(err, &lagged), "expected LaggedError, got %v", err)
	assert.Equal(t, uint64(976), lagged.Skipped)

	// Resumes from the oldest retained message, in order, with no second lag.
	for i := 976; i < 2000; i++ {
		require.Equal(t, int64(i), recvData(t, sub))
	}
	_, ok, err := sub.TryRecv()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecv_LaggedOncePerGap(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	defer sub.Close()

	for i := 0; i < 6; i++ {
		b.Publish(data(i))
	}
	_, err := sub.Recv(context.Background())
	var lagged *LaggedError
	require.ErrorAs(t, err, &lagged)
	assert.Equal(t, uint64(2), lagged.Skipped)
	assert.Equal(t, int64(2), recvData(t, sub))

	// Second gap while stalled again.
	for i := 6; i < 20; i++ {
		b.Publish(data(i))
	}
	_, err = sub.Recv(context.Background())
	require.ErrorAs(t, err, &lagged)
	assert.Equal(t, uint64(13), lagged.Skipped) // next was 3, oldest is 16
	assert.Equal(t, int64(16), recvData(t, sub))
}

func TestRecv_SlowSubscriberDoesNotAffectFast(t *testing.T) {
	b := New(8)
	fast := b.Subscribe()
	defer fast.Close()
	slow := b.Subscribe()
	defer slow.Close()

	const total = 100
	for i := 0; i < total; i++ {
		b.Publish(data(i))
		assert.Equal(t, int64(i), recvData(t, fast))
	}

	// The slow subscriber lagged and still resumes in order.
	_, err := slow.Recv(context.Background())
	var lagged *LaggedError
	require.ErrorAs(t, err, &lagged)
	assert.Equal(t, uint64(total-8), lagged.Skipped)
	for i := total - 8; i < total; i++ {
		assert.Equal(t, int64(i), recvData(t, slow))
	}
	assert.Zero(t, fast.Pending())
}

func TestRecv_BlocksUntilPublish(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	defer sub.Close()

	done := make(chan int64, 1)
	go func() {
		msg, err := sub.Recv(context.Background())
		if err == nil {
			done <- msg.(message.Data).Timestamp
		}
	}()

	select {
	case <-done:
		t.Fatal("Recv returned before anything was published")
	case <-time.After(20 * time.Millisecond):
	}

	b.Publish(data(7))
	select {
	case ts := <-done:
		assert.Equal(t, int64(7), ts)
	case <-time.After(time.Second):
		t.Fatal("Recv did not wake up after Publish")
	}
}

func TestRecv_ContextCancelConsumesNothing(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := sub.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	b.Publish(data(1))
	assert.Equal(t, int64(1), recvData(t, sub))
}

func TestClose_DrainsThenErrClosed(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	defer sub.Close()

	b.Publish(data(1))
	b.Close()
	b.Publish(data(2))

	assert.Equal(t, int64(1), recvData(t, sub))
	_, err := sub.Recv(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClose_WakesBlockedSubscriber(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	defer sub.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Recv(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked Recv not woken by Close")
	}
}

func TestSubscriberClose(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	assert.Equal(t, 1, b.Subscribers())

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, b.Subscribers())

	_, err := sub.Recv(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	// Back to zero subscribers: publishes are dropped again.
	seq := b.Seq()
	b.Publish(data(1))
	assert.Equal(t, seq, b.Seq())
}

func TestPublish_Concurrent(t *testing.T) {
	b := New(4096)
	sub := b.Subscribe()
	defer sub.Close()

	const producers, each = 8, 200
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				b.Publish(data(p*each + i))
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int64]bool, producers*each)
	for i := 0; i < producers*each; i++ {
		seen[recvData(t, sub)] = true
	}
	assert.Len(t, seen, producers*each)
}

func TestNew_MinimumCapacity(t *testing.T) {
	assert.Equal(t, 1, New(0).Capacity())
	assert.Equal(t, 1024, New(1024).Capacity())
}

func TestLen_TracksRetainedMessages(t *testing.T) {
	b := New(4)
	assert.Equal(t, 0, b.Len())

	b.Publish(data(0))
	assert.Equal(t, 0, b.Len(), "dropped messages are not retained")

	sub := b.Subscribe()
	for i := 1; i <= 3; i++ {
		b.Publish(data(i))
	}
	assert.Equal(t, 3, b.Len())

	for i := 4; i <= 10; i++ {
		b.Publish(data(i))
	}
	assert.Equal(t, 4, b.Len(), "retention is capped at capacity")

	sub.Close()
	assert.Equal(t, 4, b.Len(), "retained messages outlive the last subscriber")
}
