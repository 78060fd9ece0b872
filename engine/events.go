// ABOUTME: Streaming event bus: typed execution events fanned out to per-execution subscribers.
// ABOUTME: Each subscriber gets a monotonic sequence, a bounded queue with oldest-drop, and heartbeats.
package engine

import (
	"sync"
	"time"
)

// EventType identifies an execution event.
type EventType string

const (
	EventExecutionStarted   EventType = "execution_started"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionFailed    EventType = "execution_failed"
	EventExecutionAborted   EventType = "execution_aborted"
	EventExecutionUpdate    EventType = "execution_update"
	EventExecutionPaused    EventType = "execution_paused"
	EventExecutionResumed   EventType = "execution_resumed"
	EventNodeStarted        EventType = "node_started"
	EventNodeCompleted      EventType = "node_completed"
	EventNodeFailed         EventType = "node_failed"
	EventNodeSkipped        EventType = "node_skipped"
	EventNodeMaxIter        EventType = "node_maxiter_reached"
	EventBranchDecided      EventType = "branch_decided"
	EventHeartbeat          EventType = "heartbeat"
)

// Event is one entry in an execution's event stream. Seq is assigned
// per subscriber, monotonically from 1, so each consumer can detect its
// own gaps after queue overflow.
type Event struct {
	Seq         uint64         `json:"seq"`
	ExecutionID string         `json:"execution_id"`
	Type        EventType      `json:"type"`
	NodeID      string         `json:"node_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// defaultHeartbeatInterval keeps idle subscribers' connections warm.
const defaultHeartbeatInterval = 30 * time.Second

// defaultQueueSize bounds each subscriber's backlog.
const defaultQueueSize = 256

// Subscription is one consumer's view of an execution's stream.
type Subscription struct {
	bus    *EventBus
	execID string

	mu      sync.Mutex
	queue   []Event
	seq     uint64
	dropped uint64
	notify  chan struct{}
	closed  bool
}

// Events returns a channel that signals when the subscription has
// pending events. Consumers call Drain after each signal.
func (s *Subscription) Events() <-chan struct{} { return s.notify }

// Drain returns and clears all queued events.
func (s *Subscription) Drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

// Dropped returns how many events were discarded because the consumer
// fell behind.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close detaches the subscription from the bus.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

func (s *Subscription) push(execID string, typ EventType, nodeID string, payload map[string]any, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.seq++
	ev := Event{
		Seq:         s.seq,
		ExecutionID: execID,
		Type:        typ,
		NodeID:      nodeID,
		Timestamp:   ts,
		Payload:     payload,
	}
	if len(s.queue) >= s.bus.queueSize {
		// Oldest-drop: the consumer is behind, newest data wins.
		s.queue = s.queue[1:]
		s.dropped++
	}
	s.queue = append(s.queue, ev)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// EventBus fans execution events out to subscribers. Publishing never
// blocks on a slow consumer.
type EventBus struct {
	mu        sync.RWMutex
	subs      map[string][]*Subscription // execution id -> subscribers
	queueSize int
	heartbeat time.Duration
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewEventBus creates a bus with default queue size and heartbeat
// interval and starts the heartbeat loop.
func NewEventBus() *EventBus {
	bus := &EventBus{
		subs:      make(map[string][]*Subscription),
		queueSize: defaultQueueSize,
		heartbeat: defaultHeartbeatInterval,
		stop:      make(chan struct{}),
	}
	go bus.heartbeatLoop()
	return bus
}

// Subscribe attaches a new consumer to an execution's stream. The
// subscriber sees only events published after this call.
func (b *EventBus) Subscribe(executionID string) *Subscription {
	sub := &Subscription{
		bus:    b,
		execID: executionID,
		notify: make(chan struct{}, 1),
	}
	b.mu.Lock()
	b.subs[executionID] = append(b.subs[executionID], sub)
	b.mu.Unlock()
	return sub
}

func (b *EventBus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	subs := b.subs[sub.execID]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.execID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.execID]) == 0 {
		delete(b.subs, sub.execID)
	}
	b.mu.Unlock()

	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()
}

// Publish delivers an event to every subscriber of the execution.
func (b *EventBus) Publish(executionID string, typ EventType, nodeID string, payload map[string]any) {
	ts := time.Now().UTC()
	b.mu.RLock()
	subs := b.subs[executionID]
	b.mu.RUnlock()
	for _, sub := range subs {
		sub.push(executionID, typ, nodeID, payload, ts)
	}
}

// Close stops the heartbeat loop. Subscribers keep their queued events.
func (b *EventBus) Close() {
	b.stopOnce.Do(func() { close(b.stop) })
}

func (b *EventBus) heartbeatLoop() {
	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.mu.RLock()
			ids := make([]string, 0, len(b.subs))
			for id := range b.subs {
				ids = append(ids, id)
			}
			b.mu.RUnlock()
			for _, id := range ids {
				b.Publish(id, EventHeartbeat, "", nil)
			}
		}
	}
}
