// Package bus implements the bounded multi-subscriber broadcast that decouples
// the capture path from every downstream consumer.
//
// The bus retains the last Capacity messages in a ring. Each subscriber owns a
// cursor into the publish sequence; publishing never waits for a subscriber.
// A subscriber that falls more than Capacity messages behind loses the
// overwritten messages, is told exactly how many with a *LaggedError, and then
// resumes from the oldest message still retained.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"firestige.xyz/pktstream/internal/message"
	"firestige.xyz/pktstream/internal/metrics"
)

// ErrClosed is returned by Recv once the bus is closed and the subscriber has
// consumed everything that was published before Close.
var ErrClosed = errors.New("bus: closed")

// LaggedError reports how many messages a subscriber missed.
type LaggedError struct {
	Skipped uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("bus: subscriber lagged, %d messages skipped", e.Skipped)
}

type slot struct {
	seq uint64
	msg message.Message
}

// Bus is safe for concurrent Publish and Subscribe. Capacity is fixed at
// construction.
type Bus struct {
	mu       sync.RWMutex
	ring     []slot
	capacity uint64
	tail     uint64 // sequence number of the next publish
	subs     int
	closed   bool

	// wake is closed and replaced on every publish and on Close.
	wake chan struct{}
}

// New creates a bus retaining at most capacity messages.
func New(capacity int) *Bus {
	if capacity < 1 {
		capacity = 1
	}
	return &Bus{
		ring:     make([]slot, capacity),
		capacity: uint64(capacity),
		wake:     make(chan struct{}),
	}
}

// Publish broadcasts msg to every current subscriber. It never blocks on
// subscribers. With no subscribers the message is dropped.
func (b *Bus) Publish(msg message.Message) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if b.subs == 0 {
		b.mu.Unlock()
		metrics.BusDroppedTotal.Inc()
		return
	}

	b.ring[b.tail%b.capacity] = slot{seq: b.tail, msg: msg}
	b.tail++
	retained := min(b.tail, b.capacity)
	close(b.wake)
	b.wake = make(chan struct{})
	b.mu.Unlock()

	metrics.BusRetained.Set(float64(retained))
	metrics.BusPublishedTotal.WithLabelValues(string(msg.Kind())).Inc()
}

// Subscribe returns a cursor positioned at the current sequence. History is
// not replayed.
func (b *Bus) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs++
	metrics.BusSubscribers.Inc()
	return &Subscriber{bus: b, next: b.tail}
}

// Close wakes every subscriber. Messages already retained can still be
// received; afterwards Recv returns ErrClosed. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.wake)
}

// Capacity returns the fixed retention window.
func (b *Bus) Capacity() int {
	return int(b.capacity)
}

// Seq returns the sequence number the next published message will get.
func (b *Bus) Seq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tail
}

// Len returns how many messages the ring currently holds, at most Capacity.
// Messages published while nobody subscribed were dropped and are not held.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int(min(b.tail, b.capacity))
}

// Subscribers returns the number of open subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.subs
}

func (b *Bus) unsubscribe() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs--
	metrics.BusSubscribers.Dec()
	if b.subs == 0 {
		// Nothing can read the retained messages any more.
		clear(b.ring)
	}
}

// Subscriber is one consumer's cursor. It must be used from a single
// goroutine; different subscribers are fully independent.
type Subscriber struct {
	bus    *Bus
	next   uint64
	closed bool
}

// Recv blocks until the next message is available.
//
// It returns a *LaggedError once per gap when the subscriber fell behind the
// retention window, ErrClosed after the bus was closed and drained, and
// ctx.Err() if ctx ends first. A cancelled Recv consumes nothing.
func (s *Subscriber) Recv(ctx context.Context) (message.Message, error) {
	if s.closed {
		return nil, ErrClosed
	}

	for {
		msg, lagged, wait, err := s.poll()
		if err != nil {
			return nil, err
		}
		if lagged > 0 {
			return nil, &LaggedError{Skipped: lagged}
		}
		if msg != nil {
			return msg, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// TryRecv is the non-blocking form of Recv. ok is false when nothing is
// pending.
func (s *Subscriber) TryRecv() (msg message.Message, ok bool, err error) {
	if s.closed {
		return nil, false, ErrClosed
	}
	msg, lagged, _, err := s.poll()
	switch {
	case err != nil:
		return nil, false, err
	case lagged > 0:
		return nil, false, &LaggedError{Skipped: lagged}
	default:
		return msg, msg != nil, nil
	}
}

// poll takes the read lock for exactly one step of the cursor.
func (s *Subscriber) poll() (msg message.Message, lagged uint64, wait <-chan struct{}, err error) {
	b := s.bus
	b.mu.RLock()
	defer b.mu.RUnlock()

	if s.next < b.tail {
		oldest := uint64(0)
		if b.tail > b.capacity {
			oldest = b.tail - b.capacity
		}
		if s.next < oldest {
			lagged = oldest - s.next
			s.next = oldest
			return nil, lagged, nil, nil
		}
		sl := b.ring[s.next%b.capacity]
		s.next++
		return sl.msg, 0, nil, nil
	}

	if b.closed {
		return nil, 0, nil, ErrClosed
	}
	return nil, 0, b.wake, nil
}

// Pending returns how many published messages this subscriber has not read,
// including ones already overwritten.
func (s *Subscriber) Pending() uint64 {
	s.bus.mu.RLock()
	defer s.bus.mu.RUnlock()
	return s.bus.tail - s.next
}

// Close releases the cursor. It is safe to call more than once.
func (s *Subscriber) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.bus.unsubscribe()
}
