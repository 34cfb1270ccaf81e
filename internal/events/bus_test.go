package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	bus := NewBus(nil)
	_, ch1 := bus.Subscribe(4)
	_, ch2 := bus.Subscribe(4)

	bus.Publish(TopicStreamTick, StreamTick{Stream: "s1", Amount: 700})

	for _, ch := range []<-chan Event{ch1, ch2} {
		ev := <-ch
		assert.Equal(t, TopicStreamTick, ev.Topic)
		payload, ok := ev.Payload.(StreamTick)
		require.True(t, ok)
		assert.Equal(t, uint64(700), payload.Amount)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus(nil)
	_, ch := bus.Subscribe(1)

	// Second publish overflows the buffer and is dropped, not queued.
	bus.Publish(TopicTaskCreated, TaskCreated{Task: "t1"})
	bus.Publish(TopicTaskCreated, TaskCreated{Task: "t2"})

	ev := <-ch
	assert.Equal(t, "t1", ev.Payload.(TaskCreated).Task)
	assert.Equal(t, uint64(1), bus.Dropped())

	select {
	case extra := <-ch:
		t.Fatalf("unexpected buffered event %+v", extra)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(nil)
	id, ch := bus.Subscribe(1)
	bus.Unsubscribe(id)

	_, open := <-ch
	assert.False(t, open)

	// Publishing after removal reaches nobody and drops nothing.
	bus.Publish(TopicRobotRegistered, RobotRegistered{Robot: "r1"})
	assert.Equal(t, uint64(0), bus.Dropped())

	// Double unsubscribe is a no-op.
	bus.Unsubscribe(id)
}

func TestNilBusIsSafe(t *testing.T) {
	var bus *Bus
	bus.Publish(TopicTaskCompleted, TaskCompleted{Task: "t1"})
}

func TestDefaultBufferApplied(t *testing.T) {
	bus := NewBus(nil)
	_, ch := bus.Subscribe(0)
	assert.Equal(t, 64, cap(ch))
}
