// ABOUTME: Server-sent events streaming of execution events with full-history replay.
// ABOUTME: A per-run collector drains the bus subscription; SSE consumers read the shared history.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/2389-research/dipeo/engine"
)

// collect drains the subscription into the run's event history until a
// terminal execution event arrives. Waiters are woken by replacing the
// changed channel.
func (run *Run) collect(sub *engine.Subscription) {
	defer sub.Close()
	for range sub.Events() {
		events := sub.Drain()
		terminal := false
		for _, ev := range events {
			switch ev.Type {
			case engine.EventExecutionCompleted, engine.EventExecutionFailed, engine.EventExecutionAborted:
				terminal = true
			}
		}
		run.mu.Lock()
		run.events = append(run.events, events...)
		run.ended = terminal
		close(run.changed)
		run.changed = make(chan struct{})
		run.mu.Unlock()
		if terminal {
			return
		}
	}
}

// snapshot returns the events at or after offset plus the channel that
// signals the next append and whether the stream has ended.
func (run *Run) snapshot(offset int) ([]engine.Event, <-chan struct{}, bool) {
	run.mu.RLock()
	defer run.mu.RUnlock()
	var pending []engine.Event
	if offset < len(run.events) {
		pending = append(pending, run.events[offset:]...)
	}
	done := run.ended && offset+len(pending) >= len(run.events)
	return pending, run.changed, done
}

// handleEvents streams the execution's events as SSE. The full history
// replays first, then live events follow until the execution ends or
// the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	run := s.run(chi.URLParam(r, "id"))
	if run == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown execution"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	offset := 0
	for {
		events, changed, done := run.snapshot(offset)
		for _, ev := range events {
			if ev.Type == engine.EventHeartbeat {
				fmt.Fprint(w, ": heartbeat\n\n")
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		}
		offset += len(events)
		if len(events) > 0 {
			flusher.Flush()
		}
		if done {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-changed:
		}
	}
}
