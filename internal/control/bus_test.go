package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(zap.NewNop())
	sub := bus.Subscribe()

	bus.Publish("first")
	bus.Publish("second")
	bus.Publish("third")

	assert.Equal(t, "first", <-sub)
	assert.Equal(t, "second", <-sub)
	assert.Equal(t, "third", <-sub)
}

func TestBusFanOut(t *testing.T) {
	bus := NewBus(zap.NewNop())
	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.Publish("event")

	assert.Equal(t, "event", <-a)
	assert.Equal(t, "event", <-b)
}

func TestBusSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus(zap.NewNop())
	slow := bus.Subscribe()
	fast := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			bus.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// Each subscriber keeps what fit in its buffer, nothing more, and
	// delivery order stays FIFO.
	assert.Len(t, slow, subscriberBuffer)
	assert.Equal(t, 0, <-fast)
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(zap.NewNop())
	sub := bus.Subscribe()

	bus.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	require.NotPanics(t, func() { bus.Publish("late") })
}

func TestBusClose(t *testing.T) {
	bus := NewBus(zap.NewNop())
	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.Close()

	_, open := <-a
	assert.False(t, open)
	_, open = <-b
	assert.False(t, open)

	require.NotPanics(t, func() { bus.Publish("late") })
}
