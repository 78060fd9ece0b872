// ABOUTME: HTTP bridge for user_response nodes: questions queue up and block until answered over REST.
// ABOUTME: GET lists pending questions; POST on a question id delivers the answer to the waiting handler.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// PendingQuestion is a user_response prompt waiting for a human answer.
type PendingQuestion struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
	Answered bool     `json:"answered"`
	Answer   string   `json:"answer,omitempty"`
}

// httpInterviewer satisfies the engine's Interviewer port by parking
// questions on the run until an answer arrives via the answer endpoint.
type httpInterviewer struct {
	run *Run
}

func (h *httpInterviewer) Ask(ctx context.Context, prompt string, options []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	run := h.run
	qid := newRunID()
	answerCh := make(chan string, 1)

	run.mu.Lock()
	run.questions = append(run.questions, PendingQuestion{
		ID:       qid,
		Question: prompt,
		Options:  options,
	})
	if run.answerChans == nil {
		run.answerChans = make(map[string]chan string)
	}
	run.answerChans[qid] = answerCh
	run.mu.Unlock()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case answer := <-answerCh:
		run.mu.Lock()
		for i := range run.questions {
			if run.questions[i].ID == qid {
				run.questions[i].Answered = true
				run.questions[i].Answer = answer
			}
		}
		delete(run.answerChans, qid)
		run.mu.Unlock()
		return answer, nil
	}
}

func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	run := s.run(chi.URLParam(r, "id"))
	if run == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown execution"))
		return
	}
	run.mu.RLock()
	questions := make([]PendingQuestion, len(run.questions))
	copy(questions, run.questions)
	run.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{"questions": questions})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	run := s.run(chi.URLParam(r, "id"))
	if run == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown execution"))
		return
	}
	var req struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	qid := chi.URLParam(r, "qid")
	run.mu.Lock()
	ch, ok := run.answerChans[qid]
	run.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown or already answered question"))
		return
	}
	select {
	case ch <- req.Answer:
		writeJSON(w, http.StatusOK, map[string]any{"id": qid, "answered": true})
	default:
		writeError(w, http.StatusConflict, fmt.Errorf("question already answered"))
	}
}
