// ABOUTME: Tests for the event bus: per-subscriber sequences, bounded queues, and subscription lifecycle.
// ABOUTME: Uses a directly constructed bus with a tiny queue to exercise oldest-drop without bulk publishing.
package engine

import (
	"testing"
	"time"
)

// quietBus builds a bus without the heartbeat loop so tests control
// every published event.
func quietBus(queueSize int) *EventBus {
	return &EventBus{
		subs:      make(map[string][]*Subscription),
		queueSize: queueSize,
		heartbeat: time.Hour,
		stop:      make(chan struct{}),
	}
}

func TestSubscriberSequenceIsMonotonic(t *testing.T) {
	bus := quietBus(defaultQueueSize)
	sub := bus.Subscribe("exec1")
	defer sub.Close()

	bus.Publish("exec1", EventNodeStarted, "a", nil)
	bus.Publish("exec1", EventNodeCompleted, "a", nil)
	bus.Publish("exec1", EventExecutionCompleted, "", nil)

	events := sub.Drain()
	if len(events) != 3 {
		t.Fatalf("drained %d events", len(events))
	}
	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			t.Errorf("event %d seq = %d", i, ev.Seq)
		}
		if ev.ExecutionID != "exec1" {
			t.Errorf("event %d execution = %q", i, ev.ExecutionID)
		}
	}
}

func TestSubscribeSeesOnlyLaterEvents(t *testing.T) {
	bus := quietBus(defaultQueueSize)
	bus.Publish("exec1", EventNodeStarted, "a", nil)

	sub := bus.Subscribe("exec1")
	defer sub.Close()
	bus.Publish("exec1", EventNodeCompleted, "a", nil)

	events := sub.Drain()
	if len(events) != 1 || events[0].Type != EventNodeCompleted {
		t.Errorf("events = %v", events)
	}
	if events[0].Seq != 1 {
		t.Errorf("seq starts at %d", events[0].Seq)
	}
}

func TestSubscribersAreIsolatedPerExecution(t *testing.T) {
	bus := quietBus(defaultQueueSize)
	sub1 := bus.Subscribe("exec1")
	sub2 := bus.Subscribe("exec2")
	defer sub1.Close()
	defer sub2.Close()

	bus.Publish("exec1", EventNodeStarted, "a", nil)

	if got := len(sub1.Drain()); got != 1 {
		t.Errorf("exec1 subscriber got %d events", got)
	}
	if got := len(sub2.Drain()); got != 0 {
		t.Errorf("exec2 subscriber got %d events", got)
	}
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	bus := quietBus(3)
	sub := bus.Subscribe("exec1")
	defer sub.Close()

	for i := 0; i < 5; i++ {
		bus.Publish("exec1", EventExecutionUpdate, "", map[string]any{"i": i})
	}

	events := sub.Drain()
	if len(events) != 3 {
		t.Fatalf("queue held %d events, want 3", len(events))
	}
	// The two oldest were discarded; the survivors keep their original
	// sequence numbers so the gap is visible.
	if events[0].Seq != 3 || events[2].Seq != 5 {
		t.Errorf("surviving seqs = %d..%d", events[0].Seq, events[2].Seq)
	}
	if sub.Dropped() != 2 {
		t.Errorf("dropped = %d", sub.Dropped())
	}
}

func TestNotifySignalsPendingEvents(t *testing.T) {
	bus := quietBus(defaultQueueSize)
	sub := bus.Subscribe("exec1")
	defer sub.Close()

	bus.Publish("exec1", EventNodeStarted, "a", nil)
	select {
	case <-sub.Events():
	case <-time.After(time.Second):
		t.Fatal("no notification after publish")
	}
	if len(sub.Drain()) != 1 {
		t.Error("drain after notify returned nothing")
	}
}

func TestClosedSubscriptionIgnoresPublishes(t *testing.T) {
	bus := quietBus(defaultQueueSize)
	sub := bus.Subscribe("exec1")
	sub.Close()

	bus.Publish("exec1", EventNodeStarted, "a", nil)
	if got := len(sub.Drain()); got != 0 {
		t.Errorf("closed subscription collected %d events", got)
	}
}
