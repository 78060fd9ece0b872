// ABOUTME: Engine entry points: configuration, execution start options, and the Execution control handle.
// ABOUTME: The scheduler loop itself lives in scheduler.go; this file owns lifecycle and control signals.
package engine

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// EngineConfig wires the engine's collaborators. Zero-value fields get
// working defaults from New.
type EngineConfig struct {
	Registry *HandlerRegistry
	Services *Services
	Bus      *EventBus

	// MaxParallel bounds concurrent handler invocations per execution.
	MaxParallel int
	// DefaultMaxIteration caps person_job nodes that configure no cap.
	DefaultMaxIteration int
	// Logger receives progress lines; nil uses the standard logger.
	Logger *log.Logger
}

// Options are per-execution start options.
type Options struct {
	// ExecutionID overrides the generated id, letting callers subscribe
	// to the event stream before the execution starts.
	ExecutionID string
	// Variables seed the execution variable map.
	Variables map[string]any
	// DebugMode enables per-node metric capture in event payloads.
	DebugMode bool
	// MaxIterations overrides the engine-wide person_job cap.
	MaxIterations int
	// TimeoutSeconds bounds the execution wall clock; 0 means no limit.
	TimeoutSeconds int
}

// Engine runs executable diagrams.
type Engine struct {
	cfg EngineConfig
}

// New creates an engine, filling config defaults: the built-in handler
// registry, an empty service set, a fresh event bus, parallelism 10,
// and a person_job cap of 100.
func New(cfg EngineConfig) *Engine {
	if cfg.Registry == nil {
		cfg.Registry = DefaultHandlerRegistry()
	}
	if cfg.Services == nil {
		cfg.Services = &Services{}
	}
	if cfg.Bus == nil {
		cfg.Bus = NewEventBus()
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 10
	}
	if cfg.DefaultMaxIteration <= 0 {
		cfg.DefaultMaxIteration = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Engine{cfg: cfg}
}

// Bus returns the engine's event bus so callers can subscribe before
// starting an execution.
func (e *Engine) Bus() *EventBus { return e.cfg.Bus }

// Execution is the control handle for one running diagram.
type Execution struct {
	ID string

	engine *Engine
	ctx    *ExecutionContext
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	paused  bool
	resume  chan struct{}
	skipReq map[string]bool
	aborted bool
}

// Start begins executing a diagram and returns its control handle. The
// scheduler runs on its own goroutine; use Wait to block for the result.
func (e *Engine) Start(ctx context.Context, diagram *ExecutableDiagram, opts Options) (*Execution, error) {
	if diagram == nil || diagram.NodeCount() == 0 {
		return nil, fmt.Errorf("diagram has no nodes")
	}
	if diagram.StartNode() == nil {
		return nil, fmt.Errorf("diagram has no start node")
	}

	execID := opts.ExecutionID
	if execID == "" {
		execID = ulid.MustNew(ulid.Now(), rand.Reader).String()
	}
	execCtx := NewExecutionContext(execID, diagram, opts.Variables)

	runCtx, cancel := context.WithCancel(ctx)
	if opts.TimeoutSeconds > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutSeconds)*time.Second)
	}

	exec := &Execution{
		ID:      execID,
		engine:  e,
		ctx:     execCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		resume:  make(chan struct{}, 1),
		skipReq: make(map[string]bool),
	}

	go func() {
		defer close(exec.done)
		defer cancel()
		e.run(runCtx, exec, opts)
	}()

	return exec, nil
}

// Execute runs a diagram to completion and returns its terminal status.
func (e *Engine) Execute(ctx context.Context, diagram *ExecutableDiagram, opts Options) (*Execution, error) {
	exec, err := e.Start(ctx, diagram, opts)
	if err != nil {
		return nil, err
	}
	if err := exec.Wait(ctx); err != nil {
		return exec, err
	}
	return exec, exec.Err()
}

// Wait blocks until the execution reaches a terminal status or ctx is
// cancelled.
func (ex *Execution) Wait(ctx context.Context) error {
	select {
	case <-ex.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the execution-level status.
func (ex *Execution) Status() ExecStatus { return ex.ctx.Status() }

// Err returns the first error recorded for the execution, if any.
func (ex *Execution) Err() error { return ex.ctx.Err() }

// Context returns the underlying execution context for state queries.
func (ex *Execution) Context() *ExecutionContext { return ex.ctx }

// Pause stops the scheduler from dispatching new nodes. Nodes already
// running complete and their results are recorded.
func (ex *Execution) Pause() {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.aborted || ex.ctx.Status().Terminal() {
		return
	}
	ex.paused = true
}

// Resume restarts dispatch after a pause.
func (ex *Execution) Resume() {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if !ex.paused {
		return
	}
	ex.paused = false
	select {
	case ex.resume <- struct{}{}:
	default:
	}
}

// Abort cancels in-flight work and terminates the execution.
func (ex *Execution) Abort() {
	ex.mu.Lock()
	ex.aborted = true
	ex.paused = false
	select {
	case ex.resume <- struct{}{}:
	default:
	}
	ex.mu.Unlock()
	ex.cancel()
}

// SkipNode short-circuits a pending node to skipped. The skip applies
// on the scheduler's next pass; running or finished nodes are not
// affected.
func (ex *Execution) SkipNode(nodeID string) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.skipReq[nodeID] = true
}

func (ex *Execution) isPaused() bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.paused
}

func (ex *Execution) isAborted() bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.aborted
}

func (ex *Execution) takeSkip(nodeID string) bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.skipReq[nodeID] {
		delete(ex.skipReq, nodeID)
		return true
	}
	return false
}
