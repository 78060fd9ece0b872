// ABOUTME: Append-only JSONL event log with filtering, tailing, and summarization.
// ABOUTME: A Recorder drains a bus subscription to disk; queries power the stats and metrics commands.
package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// EventFilter specifies criteria for filtering logged events.
type EventFilter struct {
	Types  []EventType // filter by event type(s); empty means all types
	NodeID string      // filter by specific node; empty means all nodes
	Since  *time.Time  // events at or after this time; nil means no lower bound
	Until  *time.Time  // events at or before this time; nil means no upper bound
	Limit  int         // max results; 0 means unlimited
	Offset int         // skip first N results after filtering
}

// EventSummary holds aggregate statistics about an execution's events.
type EventSummary struct {
	TotalEvents int
	ByType      map[EventType]int
	ByNode      map[string]int
	FirstEvent  *time.Time
	LastEvent   *time.Time
}

// NodeMetrics aggregates per-node timing from completed events.
type NodeMetrics struct {
	NodeID     string
	Executions int
	Failures   int
	TotalMS    int64
}

// Recorder drains a bus subscription into a JSONL file, one event per
// line. Run it on its own goroutine; it returns when the subscription
// signals no more events and done is closed.
type Recorder struct {
	sub  *Subscription
	file *os.File
	enc  *json.Encoder
}

// NewRecorder creates the log file (and parent dirs) and wraps the
// subscription.
func NewRecorder(sub *Subscription, path string) (*Recorder, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create event log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &Recorder{sub: sub, file: f, enc: json.NewEncoder(f)}, nil
}

// Run drains events until done is closed, then flushes the remainder
// and closes the file.
func (r *Recorder) Run(done <-chan struct{}) error {
	defer r.file.Close()
	for {
		select {
		case <-r.sub.Events():
			if err := r.writeAll(r.sub.Drain()); err != nil {
				return err
			}
		case <-done:
			if err := r.writeAll(r.sub.Drain()); err != nil {
				return err
			}
			return nil
		}
	}
}

func (r *Recorder) writeAll(events []Event) error {
	for _, ev := range events {
		if ev.Type == EventHeartbeat {
			continue
		}
		if err := r.enc.Encode(ev); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
	}
	return nil
}

// LoadEvents reads a JSONL event log back into memory.
func LoadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("event log line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	return events, nil
}

// ApplyFilter returns only the events matching all filter criteria,
// with pagination applied last.
func ApplyFilter(events []Event, filter EventFilter) []Event {
	var filtered []Event
	for _, ev := range events {
		if len(filter.Types) > 0 && !containsType(filter.Types, ev.Type) {
			continue
		}
		if filter.NodeID != "" && ev.NodeID != filter.NodeID {
			continue
		}
		if filter.Since != nil && ev.Timestamp.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && ev.Timestamp.After(*filter.Until) {
			continue
		}
		filtered = append(filtered, ev)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(filtered) {
			return nil
		}
		filtered = filtered[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(filtered) {
		filtered = filtered[:filter.Limit]
	}
	return filtered
}

// TailEvents returns the last n events. If there are fewer than n
// events, all events are returned.
func TailEvents(events []Event, n int) []Event {
	if n <= 0 {
		return nil
	}
	if n >= len(events) {
		return events
	}
	return events[len(events)-n:]
}

// Summarize produces aggregate statistics about an event log.
func Summarize(events []Event) *EventSummary {
	summary := &EventSummary{
		TotalEvents: len(events),
		ByType:      make(map[EventType]int),
		ByNode:      make(map[string]int),
	}
	for i, ev := range events {
		summary.ByType[ev.Type]++
		if ev.NodeID != "" {
			summary.ByNode[ev.NodeID]++
		}
		ts := ev.Timestamp
		if i == 0 || ts.Before(*summary.FirstEvent) {
			t := ts
			summary.FirstEvent = &t
		}
		if i == 0 || ts.After(*summary.LastEvent) {
			t := ts
			summary.LastEvent = &t
		}
	}
	return summary
}

// CollectNodeMetrics folds node_completed/node_failed payloads into
// per-node timing aggregates, sorted by node id at the call site.
func CollectNodeMetrics(events []Event) map[string]*NodeMetrics {
	metrics := make(map[string]*NodeMetrics)
	get := func(nodeID string) *NodeMetrics {
		m, ok := metrics[nodeID]
		if !ok {
			m = &NodeMetrics{NodeID: nodeID}
			metrics[nodeID] = m
		}
		return m
	}
	for _, ev := range events {
		switch ev.Type {
		case EventNodeCompleted, EventNodeMaxIter:
			m := get(ev.NodeID)
			m.Executions++
			m.TotalMS += payloadInt64(ev.Payload, "duration_ms")
		case EventNodeFailed:
			m := get(ev.NodeID)
			m.Failures++
			m.TotalMS += payloadInt64(ev.Payload, "duration_ms")
		}
	}
	return metrics
}

func containsType(types []EventType, t EventType) bool {
	for _, typ := range types {
		if typ == t {
			return true
		}
	}
	return false
}

func payloadInt64(payload map[string]any, key string) int64 {
	switch v := payload[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
