// ABOUTME: Handler methods for the execution endpoints: submit, status, control signals, and hook triggers.
// ABOUTME: Submissions carry inline diagram source or a storage reference; hooks stage the event payload as variables.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/2389-research/dipeo/diagram"
	"github.com/2389-research/dipeo/engine"
)

// submitRequest is the body for POST /executions and POST /hooks/{event}.
type submitRequest struct {
	// Diagram is inline diagram source; Ref loads from diagram storage
	// instead. Exactly one must be set.
	Diagram string `json:"diagram,omitempty"`
	Ref     string `json:"ref,omitempty"`
	// Format selects yaml or json for inline source; default yaml.
	Format string `json:"format,omitempty"`

	Variables      map[string]any `json:"variables,omitempty"`
	MaxIterations  int            `json:"max_iterations,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
	Debug          bool           `json:"debug,omitempty"`

	// Payload is the hook event body; only used by the hook endpoint.
	Payload map[string]any `json:"payload,omitempty"`
}

type submitResponse struct {
	ExecutionID string   `json:"execution_id"`
	DiagramID   string   `json:"diagram_id,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

type statusResponse struct {
	ExecutionID     string                      `json:"execution_id"`
	DiagramID       string                      `json:"diagram_id,omitempty"`
	Status          engine.ExecStatus           `json:"status"`
	Error           string                      `json:"error,omitempty"`
	NodeStates      map[string]engine.NodeState `json:"node_states"`
	Variables       map[string]any              `json:"variables,omitempty"`
	BranchDecisions map[string]string           `json:"branch_decisions,omitempty"`
	Diagnostics     []string                    `json:"diagnostics,omitempty"`
	CreatedAt       time.Time                   `json:"created_at"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	s.startRun(w, req)
}

// handleHook starts a hook-triggered execution. The event name and
// payload are staged as the hook_event and hook_payload variables that
// hook-trigger start nodes read.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if req.Variables == nil {
		req.Variables = make(map[string]any)
	}
	req.Variables["hook_event"] = chi.URLParam(r, "event")
	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	req.Variables["hook_payload"] = payload
	s.startRun(w, req)
}

func (s *Server) startRun(w http.ResponseWriter, req submitRequest) {
	d, err := s.loadDiagram(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	compiled, diagnostics, err := engine.Compile(d)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":       err.Error(),
			"diagnostics": diagnosticStrings(diagnostics),
		})
		return
	}

	run := &Run{
		ID:          newRunID(),
		DiagramID:   d.ID,
		CreatedAt:   time.Now().UTC(),
		diagnostics: diagnostics,
		changed:     make(chan struct{}),
	}
	run.interviewer = &httpInterviewer{run: run}

	eng := s.newEngine(run)
	// Collect history before starting so SSE consumers can replay the
	// stream from the first event.
	go run.collect(run.bus.Subscribe(run.ID))

	exec, err := eng.Start(context.Background(), compiled, engine.Options{
		ExecutionID:    run.ID,
		Variables:      req.Variables,
		DebugMode:      req.Debug,
		MaxIterations:  req.MaxIterations,
		TimeoutSeconds: req.TimeoutSeconds,
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	run.exec = exec
	s.addRun(run)

	writeJSON(w, http.StatusAccepted, submitResponse{
		ExecutionID: exec.ID,
		DiagramID:   d.ID,
		Warnings:    diagnosticStrings(diagnostics),
	})
}

func (s *Server) loadDiagram(req submitRequest) (*diagram.Diagram, error) {
	switch {
	case req.Diagram != "" && req.Ref != "":
		return nil, fmt.Errorf("set either diagram or ref, not both")
	case req.Diagram != "":
		format := diagram.Format(req.Format)
		if format == "" {
			format = diagram.FormatYAML
		}
		return diagram.Parse([]byte(req.Diagram), format)
	case req.Ref != "":
		if s.cfg.Services.Diagrams == nil {
			return nil, fmt.Errorf("no diagram storage configured")
		}
		return s.cfg.Services.Diagrams.Load(req.Ref)
	default:
		return nil, fmt.Errorf("empty diagram source")
	}
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	runs := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	s.mu.RUnlock()
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })

	out := make([]map[string]any, 0, len(runs))
	for _, run := range runs {
		out = append(out, map[string]any{
			"execution_id": run.ID,
			"diagram_id":   run.DiagramID,
			"status":       run.exec.Status(),
			"created_at":   run.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": out})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	run := s.run(chi.URLParam(r, "id"))
	if run == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown execution"))
		return
	}
	ec := run.exec.Context()
	run.mu.RLock()
	diagnostics := diagnosticStrings(run.diagnostics)
	run.mu.RUnlock()
	resp := statusResponse{
		ExecutionID:     run.ID,
		DiagramID:       run.DiagramID,
		Status:          run.exec.Status(),
		NodeStates:      ec.NodeStates(),
		Variables:       ec.Variables(),
		BranchDecisions: ec.BranchDecisions(),
		Diagnostics:     diagnostics,
		CreatedAt:       run.CreatedAt,
	}
	if err := run.exec.Err(); err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.signal(w, r, func(run *Run) { run.exec.Pause() })
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.signal(w, r, func(run *Run) { run.exec.Resume() })
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	s.signal(w, r, func(run *Run) { run.exec.Abort() })
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")
	s.signal(w, r, func(run *Run) { run.exec.SkipNode(nodeID) })
}

func (s *Server) signal(w http.ResponseWriter, r *http.Request, apply func(*Run)) {
	run := s.run(chi.URLParam(r, "id"))
	if run == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown execution"))
		return
	}
	apply(run)
	writeJSON(w, http.StatusOK, map[string]any{
		"execution_id": run.ID,
		"status":       run.exec.Status(),
	})
}

func diagnosticStrings(diagnostics []engine.Diagnostic) []string {
	var out []string
	for _, d := range diagnostics {
		out = append(out, d.String())
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
