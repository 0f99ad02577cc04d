package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDeliversInPublishOrder(t *testing.T) {
	b := NewBroadcaster(128)
	sub := b.Subscribe()
	defer sub.Close()

	for i := 0; i < 100; i++ {
		b.Publish([]byte(fmt.Sprintf("msg-%d", i)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 100; i++ {
		msg, err := sub.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("msg-%d", i), string(msg))
	}
}

func TestBroadcasterIsLiveOnly(t *testing.T) {
	b := NewBroadcaster(16)

	b.Publish([]byte("before"))

	sub := b.Subscribe()
	defer sub.Close()

	b.Publish([]byte("after"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, err := sub.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "after", string(msg))
}

func TestBroadcasterAllSubscribersSeeEveryMessage(t *testing.T) {
	b := NewBroadcaster(64)

	subs := make([]*Subscription, 5)
	for i := range subs {
		subs[i] = b.Subscribe()
		defer subs[i].Close()
	}

	for i := 0; i < 20; i++ {
		b.Publish([]byte(fmt.Sprintf("m%d", i)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for _, sub := range subs {
		for i := 0; i < 20; i++ {
			msg, err := sub.Recv(ctx)
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("m%d", i), string(msg))
		}
	}
}

func TestBroadcasterSlowSubscriberDropsOldest(t *testing.T) {
	b := NewBroadcaster(4)
	sub := b.Subscribe()
	defer sub.Close()

	// Nobody is reading: the publisher must not block, the oldest
	// messages must give way.
	for i := 0; i < 10; i++ {
		b.Publish([]byte(fmt.Sprintf("m%d", i)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := sub.Recv(ctx)
	var lag *LagError
	require.ErrorAs(t, err, &lag)
	assert.Equal(t, int64(6), lag.Missed)

	// Delivery resumes with the newest four, still in publish order.
	for i := 6; i < 10; i++ {
		msg, err := sub.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("m%d", i), string(msg))
	}
}

func TestBroadcasterPublishDoesNotBlock(t *testing.T) {
	b := NewBroadcaster(1)
	sub := b.Subscribe()
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			b.Publish([]byte("x"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestBroadcasterAccountsForEveryMessage(t *testing.T) {
	b := NewBroadcaster(8)
	sub := b.Subscribe()
	defer sub.Close()

	const total = 5000

	go func() {
		for i := 0; i < total; i++ {
			b.Publish([]byte("x"))
		}
	}()

	// With a consumer racing the publisher, every message must end up
	// either delivered or counted as missed, never both or neither.
	var received, missed int64
	timeout := time.After(5 * time.Second)
	for received+missed < total {
		missed += sub.TakeLag()
		if received+missed >= total {
			break
		}
		select {
		case <-sub.C():
			received++
		case <-timeout:
			t.Fatalf("stalled: received=%d missed=%d", received, missed)
		}
	}
	missed += sub.TakeLag()

	assert.Equal(t, int64(total), received+missed)
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	b := NewBroadcaster(4)
	sub := b.Subscribe()

	sub.Close()
	sub.Close()

	assert.Equal(t, 0, b.Subscribers())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := sub.Recv(ctx)
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
}

func TestSubscriptionRecvHonorsContext(t *testing.T) {
	b := NewBroadcaster(4)
	sub := b.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := sub.Recv(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
