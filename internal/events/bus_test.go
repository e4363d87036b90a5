package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shortTimers(t *testing.T) {
	t.Helper()
	oldPing, oldIdle := pingInterval, idleTimeout
	pingInterval = 10 * time.Millisecond
	idleTimeout = 25 * time.Millisecond
	t.Cleanup(func() {
		pingInterval = oldPing
		idleTimeout = oldIdle
	})
}

func drain(sub *Subscription, max int, timeout time.Duration) []Event {
	var out []Event
	deadline := time.After(timeout)
	for len(out) < max {
		select {
		case event, ok := <-sub.Events:
			if !ok {
				return out
			}
			out = append(out, event)
		case <-deadline:
			return out
		}
	}
	return out
}

func TestPublishAndReceive(t *testing.T) {
	b := NewBus()
	defer b.Stop()

	sub := b.Subscribe()
	b.Publish(EventToolExecution, ToolExecutionData{ToolName: "add", Success: true})

	events := drain(sub, 1, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, EventToolExecution, events[0].Type)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestFilteredSubscription(t *testing.T) {
	b := NewBus()
	defer b.Stop()

	sub := b.Subscribe(EventToolExecution)
	b.Publish(EventSystemAlert, SystemAlertData{Message: "noise"})
	b.Publish(EventToolExecution, ToolExecutionData{ToolName: "add"})
	b.Publish(EventServerStatus, ServerStatusData{ServerName: "math"})

	events := drain(sub, 2, 100*time.Millisecond)
	require.Len(t, events, 1)
	assert.Equal(t, EventToolExecution, events[0].Type)
}

func TestReplayOnSubscribe(t *testing.T) {
	b := NewBus()
	defer b.Stop()

	for i := 0; i < 3; i++ {
		b.Publish(EventToolExecution, ToolExecutionData{ToolName: fmt.Sprintf("tool-%d", i)})
	}
	for i := 0; i < 5; i++ {
		b.Publish(EventSystemAlert, SystemAlertData{Message: fmt.Sprintf("alert-%d", i)})
	}

	// A filtered late joiner receives exactly the matching history.
	sub := b.Subscribe(EventToolExecution)
	events := drain(sub, 4, 100*time.Millisecond)
	require.Len(t, events, 3)
	for i, event := range events {
		data := event.Data.(ToolExecutionData)
		assert.Equal(t, fmt.Sprintf("tool-%d", i), data.ToolName, "replay must be in publish order")
	}
}

func TestReplayCappedAtTen(t *testing.T) {
	b := NewBus()
	defer b.Stop()

	for i := 0; i < 25; i++ {
		b.Publish(EventActivity, i)
	}

	sub := b.Subscribe()
	events := drain(sub, ReplayOnSubscribe+1, 100*time.Millisecond)
	require.Len(t, events, ReplayOnSubscribe)
	// The ten most recent, oldest first.
	assert.Equal(t, 15, events[0].Data.(int))
	assert.Equal(t, 24, events[len(events)-1].Data.(int))
}

func TestRingBounded(t *testing.T) {
	b := NewBus()
	defer b.Stop()

	for i := 0; i < ReplayBufferSize+50; i++ {
		b.Publish(EventActivity, i)
	}
	assert.Equal(t, ReplayBufferSize, b.RecentEventCount())
}

func TestSlowSubscriberEvicted(t *testing.T) {
	b := NewBus()
	defer b.Stop()

	sub := b.Subscribe()
	for i := 0; i < subscriberQueueSize+10; i++ {
		b.Publish(EventActivity, i)
	}

	assert.Equal(t, 0, b.SubscriberCount())

	// Channel closed on eviction; draining terminates.
	events := drain(sub, subscriberQueueSize+10, time.Second)
	assert.Len(t, events, subscriberQueueSize)
}

func TestPingDelivered(t *testing.T) {
	shortTimers(t)

	b := NewBus()
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop()

	sub := b.Subscribe()
	events := drain(sub, 1, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, EventPing, events[0].Type)
}

func TestIdleSubscriberEvicted(t *testing.T) {
	shortTimers(t)

	b := NewBus()
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop()

	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	// A single undrained event marks the reader as stalled. Eviction follows
	// once the backlog outlives the idle window, long before the queue fills.
	b.Publish(EventActivity, "pending")

	assert.Eventually(t, func() bool {
		return b.SubscriberCount() == 0
	}, time.Second, 5*time.Millisecond)

	// Channel closed on eviction; draining terminates.
	events := drain(sub, subscriberQueueSize, 100*time.Millisecond)
	assert.NotEmpty(t, events)
}

func TestDrainingSubscriberNotEvicted(t *testing.T) {
	shortTimers(t)

	b := NewBus()
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop()

	sub := b.Subscribe()

	// Keep consuming across several idle windows; the subscriber stays.
	deadline := time.After(4 * idleTimeout)
	for {
		select {
		case <-sub.Events:
			continue
		case <-deadline:
		}
		break
	}
	assert.Equal(t, 1, b.SubscriberCount())
}

func TestUnsubscribe(t *testing.T) {
	b := NewBus()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub.ID)
	assert.Equal(t, 0, b.SubscriberCount())

	_, open := <-sub.Events
	assert.False(t, open)
}

func TestStopClosesSubscribers(t *testing.T) {
	b := NewBus()
	require.NoError(t, b.Start(context.Background()))

	sub := b.Subscribe()
	b.Stop()
	b.Stop() // idempotent

	events := drain(sub, 10, 100*time.Millisecond)
	assert.Empty(t, events)

	// No delivery after shutdown.
	b.Publish(EventActivity, "late")
	assert.Equal(t, 0, b.RecentEventCount())
}
