// ABOUTME: HTTP control surface for diagram executions with chi routing and SSE streaming.
// ABOUTME: Endpoints submit diagrams, query status, stream events, and send pause/resume/abort/skip signals.
package server

import (
	"crypto/rand"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/2389-research/dipeo/engine"
)

// Config wires the server's engine collaborators. Each submitted
// execution gets its own engine and event bus built from this template.
type Config struct {
	Services *engine.Services
	Registry *engine.HandlerRegistry

	MaxParallel         int
	DefaultMaxIteration int
}

// Server exposes the execution engine over HTTP.
type Server struct {
	cfg    Config
	router chi.Router

	mu   sync.RWMutex
	runs map[string]*Run
}

// Run tracks one submitted execution.
type Run struct {
	ID        string
	DiagramID string
	CreatedAt time.Time

	exec        *engine.Execution
	bus         *engine.EventBus
	interviewer *httpInterviewer

	mu          sync.RWMutex
	diagnostics []engine.Diagnostic
	events      []engine.Event
	changed     chan struct{}
	ended       bool
	questions   []PendingQuestion
	answerChans map[string]chan string
}

// New creates a server with all routes registered.
func New(cfg Config) *Server {
	if cfg.Services == nil {
		cfg.Services = &engine.Services{}
	}
	s := &Server{
		cfg:  cfg,
		runs: make(map[string]*Run),
	}
	r := chi.NewRouter()
	r.Post("/executions", s.handleSubmit)
	r.Get("/executions", s.handleList)
	r.Get("/executions/{id}", s.handleStatus)
	r.Get("/executions/{id}/events", s.handleEvents)
	r.Post("/executions/{id}/pause", s.handlePause)
	r.Post("/executions/{id}/resume", s.handleResume)
	r.Post("/executions/{id}/abort", s.handleAbort)
	r.Post("/executions/{id}/nodes/{nodeID}/skip", s.handleSkip)
	r.Get("/executions/{id}/questions", s.handleQuestions)
	r.Post("/executions/{id}/questions/{qid}/answer", s.handleAnswer)
	r.Post("/hooks/{event}", s.handleHook)
	s.router = r
	return s
}

// ServeHTTP delegates to the chi router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) run(id string) *Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runs[id]
}

func (s *Server) addRun(run *Run) {
	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()
}

// newEngine builds a per-run engine: a fresh bus for SSE isolation and
// a service set whose interviewer bridges user_response nodes to the
// question endpoints.
func (s *Server) newEngine(run *Run) *engine.Engine {
	services := *s.cfg.Services
	if services.Interviewer == nil {
		services.Interviewer = run.interviewer
	}
	run.bus = engine.NewEventBus()
	return engine.New(engine.EngineConfig{
		Registry:            s.cfg.Registry,
		Services:            &services,
		Bus:                 run.bus,
		MaxParallel:         s.cfg.MaxParallel,
		DefaultMaxIteration: s.cfg.DefaultMaxIteration,
	})
}

func newRunID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
