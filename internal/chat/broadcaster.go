package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var ErrSubscriptionClosed = errors.New("subscription closed")

// LagError reports that a subscriber fell behind and its oldest undelivered
// messages were dropped. Receiving resumes after the error.
type LagError struct {
	Missed int64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("subscription lagged, %d messages dropped", e.Missed)
}

const defaultSubscriberBuffer = 256

// Broadcaster is the process-wide fanout primitive. Every subscriber
// receives every message published after it subscribed, in publish order.
// Publish never blocks on a slow subscriber: each subscription has a
// bounded buffer and overflow drops the oldest message, surfacing a
// LagError on the subscriber's next receive.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	bufSize int
}

func NewBroadcaster(bufSize int) *Broadcaster {
	if bufSize <= 0 {
		bufSize = defaultSubscriberBuffer
	}
	return &Broadcaster{
		subs:    make(map[*Subscription]struct{}),
		bufSize: bufSize,
	}
}

func (b *Broadcaster) Subscribe() *Subscription {
	sub := &Subscription{
		b:  b,
		ch: make(chan []byte, b.bufSize),
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Publish delivers msg to all current subscribers. The lock is held only
// for non-blocking channel operations, never across I/O.
func (b *Broadcaster) Publish(msg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		select {
		case sub.ch <- msg:
			continue
		default:
		}

		// The consumer may have made room between the two attempts; only
		// a second full buffer justifies a drop.
		select {
		case sub.ch <- msg:
			continue
		default:
		}

		// Buffer full: drop the oldest and retry. Publish is the only
		// sender and it runs under b.mu, so after one drain there is room.
		select {
		case <-sub.ch:
			sub.missed.Add(1)
		default:
		}

		select {
		case sub.ch <- msg:
		default:
			sub.missed.Add(1)
		}
	}
}

func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Subscription is a single consumer's handle on the fanout channel.
type Subscription struct {
	b      *Broadcaster
	ch     chan []byte
	missed atomic.Int64
	once   sync.Once
}

// Recv returns the next message in publish order. When the subscriber has
// lagged it returns a *LagError exactly once before resuming delivery.
func (s *Subscription) Recv(ctx context.Context) ([]byte, error) {
	if n := s.missed.Swap(0); n > 0 {
		return nil, &LagError{Missed: n}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-s.ch:
		if !ok {
			return nil, ErrSubscriptionClosed
		}
		return msg, nil
	}
}

// C exposes the delivery channel for select-based consumers. Callers
// should check TakeLag after each receive.
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

// TakeLag returns and resets the count of messages dropped since the last
// check.
func (s *Subscription) TakeLag() int64 {
	return s.missed.Swap(0)
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.b.mu.Lock()
		delete(s.b.subs, s)
		close(s.ch)
		s.b.mu.Unlock()
	})
}
