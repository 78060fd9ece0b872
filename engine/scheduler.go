// ABOUTME: The scheduler loop: computes ready nodes, dispatches handlers concurrently, applies results.
// ABOUTME: Owns all execution-state mutation, branch recording, loop re-arming, and terminal classification.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// nodeResult carries one handler invocation's outcome back to the loop.
type nodeResult struct {
	nodeID  string
	env     *Envelope
	err     error
	started time.Time
}

// run is the scheduler loop for one execution. It is the only goroutine
// that mutates the execution context.
func (e *Engine) run(ctx context.Context, exec *Execution, opts Options) {
	ec := exec.ctx
	bus := e.cfg.Bus

	ec.setStatus(ExecRunning)
	bus.Publish(ec.ExecutionID, EventExecutionStarted, "", map[string]any{
		"diagram":    ec.Diagram.Name,
		"node_count": ec.Diagram.NodeCount(),
	})
	e.cfg.Logger.Printf("component=engine action=start execution=%s diagram=%s nodes=%d",
		ec.ExecutionID, ec.Diagram.Name, ec.Diagram.NodeCount())

	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = e.cfg.DefaultMaxIteration
	}

	sem := make(chan struct{}, e.cfg.MaxParallel)
	results := make(chan nodeResult)
	running := 0

	finish := func(status ExecStatus, event EventType, payload map[string]any) {
		// Drain in-flight handlers so their results are not lost.
		for running > 0 {
			res := <-results
			running--
			e.applyResult(exec, res, maxIter)
		}
		ec.setStatus(status)
		bus.Publish(ec.ExecutionID, event, "", payload)
		e.cfg.Logger.Printf("component=engine action=finish %s", ec.Summary())
	}

	for {
		if exec.isAborted() || ctx.Err() != nil {
			reason := "abort requested"
			if ctx.Err() == context.DeadlineExceeded {
				reason = "execution timeout exceeded"
			}
			ec.setError(fmt.Errorf("execution aborted: %s", reason))
			finish(ExecAborted, EventExecutionAborted, map[string]any{"reason": reason})
			return
		}

		if exec.isPaused() {
			ec.setStatus(ExecPaused)
			bus.Publish(ec.ExecutionID, EventExecutionPaused, "", nil)
			e.waitForResume(ctx, exec, results, &running, maxIter)
			if exec.isAborted() || ctx.Err() != nil {
				continue
			}
			ec.setStatus(ExecRunning)
			bus.Publish(ec.ExecutionID, EventExecutionResumed, "", nil)
		}

		ready, progressed := e.readyNodes(exec)
		if progressed {
			// Skips were applied; recompute before dispatching.
			continue
		}

		if len(ready) == 0 {
			if running > 0 {
				select {
				case res := <-results:
					running--
					e.applyResult(exec, res, maxIter)
				case <-ctx.Done():
				}
				continue
			}
			e.classifyStall(exec, finish)
			return
		}

		for _, node := range ready {
			iteration := ec.markRunning(node.ID)
			bus.Publish(ec.ExecutionID, EventNodeStarted, node.ID, map[string]any{
				"node_type": string(node.Type),
				"iteration": iteration,
			})
			running++
			go func(node *ExecutableNode) {
				sem <- struct{}{}
				defer func() { <-sem }()
				started := time.Now()
				env, err := e.safeExecute(ctx, exec, node)
				results <- nodeResult{nodeID: node.ID, env: env, err: err, started: started}
			}(node)
		}
	}
}

// waitForResume parks the loop while paused, still applying results of
// nodes that were already in flight.
func (e *Engine) waitForResume(ctx context.Context, exec *Execution, results chan nodeResult, running *int, maxIter int) {
	for exec.isPaused() {
		select {
		case <-exec.resume:
		case res := <-results:
			*running = *running - 1
			e.applyResult(exec, res, maxIter)
		case <-ctx.Done():
			return
		}
	}
}

// safeExecute resolves inputs and dispatches the handler, converting
// panics into errors so one bad handler cannot kill the scheduler.
func (e *Engine) safeExecute(ctx context.Context, exec *Execution, node *ExecutableNode) (env *Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			env = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	handler := e.cfg.Registry.Get(node.Type)
	if handler == nil {
		return nil, fmt.Errorf("no handler registered for node type %q", node.Type)
	}
	for _, svc := range handler.RequiredServices() {
		if !hasService(e.cfg.Services, svc) {
			return nil, fmt.Errorf("handler %s requires unwired service %q", node.Type, svc)
		}
	}

	inputs, err := ResolveInputs(node, exec.ctx, e.cfg.Services)
	if err != nil {
		return nil, err
	}
	return handler.Execute(ctx, node, exec.ctx.View(), inputs, e.cfg.Services)
}

// applyResult writes one handler outcome back to the state store and
// publishes the matching lifecycle event.
func (e *Engine) applyResult(exec *Execution, res nodeResult, maxIter int) {
	ec := exec.ctx
	bus := e.cfg.Bus
	node := ec.Diagram.Node(res.nodeID)
	duration := time.Since(res.started)

	if res.err != nil {
		ec.markFailed(res.nodeID, res.err)
		ec.setError(&NodeExecutionError{NodeID: res.nodeID, NodeType: node.Type, Err: res.err})
		bus.Publish(ec.ExecutionID, EventNodeFailed, res.nodeID, map[string]any{
			"error":       res.err.Error(),
			"duration_ms": duration.Milliseconds(),
		})
		e.cfg.Logger.Printf("component=engine action=node_failed execution=%s node=%s error=%v",
			ec.ExecutionID, res.nodeID, res.err)
		return
	}

	env := res.env
	if env == nil {
		env = NewObjectEnvelope(nil, res.nodeID)
	}
	env = env.withTrace(ec.ExecutionID)
	// Loop members tag outputs with the producing iteration so the
	// resolver can drop values from another pass. Condition outputs stay
	// untagged: their branch envelopes cross iteration boundaries on
	// loop-back and exit edges.
	if node.InLoop && node.Type != NodeCondition {
		if _, ok := metaInt(env, MetaIteration); !ok {
			env = env.WithMeta(MetaIteration, ec.ExecCount(res.nodeID))
		}
	}
	if staged, ok := env.Meta(MetaSetVariables).(map[string]any); ok {
		ec.setVariables(staged)
	}

	payload := map[string]any{
		"node_type":   string(node.Type),
		"duration_ms": duration.Milliseconds(),
		"exec_count":  ec.ExecCount(res.nodeID),
	}
	if usage := env.Meta("token_usage"); usage != nil {
		payload["token_usage"] = usage
	}

	switch node.Type {
	case NodeCondition:
		branch := env.MetaString(MetaBranch)
		if branch == "" {
			branch = BranchFalse
		}
		ec.markBranchTaken(res.nodeID, branch)
		ec.markCompleted(res.nodeID, branch, env)
		payload["branch"] = branch
		bus.Publish(ec.ExecutionID, EventBranchDecided, res.nodeID, map[string]any{"branch": branch})
		bus.Publish(ec.ExecutionID, EventNodeCompleted, res.nodeID, payload)
		e.rearmLoop(exec, node, branch)

	case NodePersonJob:
		ec.markCompleted(res.nodeID, DefaultOutput, env)
		capIters := node.PersonJob.MaxIteration
		if capIters <= 0 {
			capIters = maxIter
		}
		if ec.ExecCount(res.nodeID) >= capIters {
			ec.markMaxIter(res.nodeID)
			payload["max_iteration"] = capIters
			bus.Publish(ec.ExecutionID, EventNodeMaxIter, res.nodeID, payload)
		} else {
			bus.Publish(ec.ExecutionID, EventNodeCompleted, res.nodeID, payload)
		}
		e.rearmDownstreamConditions(ec, node)

	default:
		ec.markCompleted(res.nodeID, DefaultOutput, env)
		bus.Publish(ec.ExecutionID, EventNodeCompleted, res.nodeID, payload)
		e.rearmDownstreamConditions(ec, node)
	}
}

// rearmDownstreamConditions resets completed condition nodes that
// depend on freshly produced output, so a loop's condition re-evaluates
// each time its body finishes another iteration. Acyclic conditions are
// untouched: their sources never produce twice.
func (e *Engine) rearmDownstreamConditions(ec *ExecutionContext, node *ExecutableNode) {
	for _, edge := range ec.Diagram.OutgoingEdges(node.ID) {
		target := ec.Diagram.Node(edge.Target)
		if target == nil || target.Type != NodeCondition {
			continue
		}
		if ec.NodeState(target.ID).Status == StatusCompleted {
			ec.rearm(target.ID)
		}
	}
}

// rearmLoop re-arms completed nodes on the taken branch's path so a
// cycle back through this condition can run again. Traversal stops at
// the condition itself; nodes past other conditions are left alone.
func (e *Engine) rearmLoop(exec *Execution, cond *ExecutableNode, branch string) {
	ec := exec.ctx
	seen := map[string]bool{cond.ID: true}
	var queue []string
	for _, edge := range ec.Diagram.OutgoingEdges(cond.ID) {
		if edge.SourceOutput == branch {
			queue = append(queue, edge.Target)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		if ec.rearm(id) {
			// Only nodes that were actually reset pull their successors
			// back; fresh pending nodes already flow forward normally.
			for _, edge := range ec.Diagram.OutgoingEdges(id) {
				queue = append(queue, edge.Target)
			}
		}
	}
}

// readyNodes computes the dispatchable set. It also applies pending
// skip requests and auto-skips branch-dead nodes; when it does either,
// it reports progress so the loop recomputes before dispatching.
func (e *Engine) readyNodes(exec *Execution) ([]*ExecutableNode, bool) {
	ec := exec.ctx
	var ready []*ExecutableNode
	progressed := false

	for _, node := range ec.Diagram.Nodes() {
		if ec.NodeState(node.ID).Status != StatusPending {
			continue
		}

		if exec.takeSkip(node.ID) {
			e.skipNode(exec, node, "skip requested")
			progressed = true
			continue
		}

		in := ec.Diagram.IncomingEdges(node.ID)
		if len(in) == 0 {
			ready = append(ready, node)
			continue
		}

		disposition := e.classifyInputs(ec, node, in)
		switch disposition {
		case inputsReady:
			ready = append(ready, node)
		case inputsDead:
			e.skipNode(exec, node, "all inputs on untaken branches")
			progressed = true
		}
	}

	// Deterministic dispatch order.
	sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })
	return ready, progressed
}

type inputDisposition int

const (
	inputsWaiting inputDisposition = iota
	inputsReady
	inputsDead
)

// classifyInputs decides whether a pending node can run now, must wait,
// or is dead because every input sits on an untaken branch or skipped
// path.
func (e *Engine) classifyInputs(ec *ExecutionContext, node *ExecutableNode, in []*ExecutableEdge) inputDisposition {
	execCount := ec.ExecCount(node.ID)

	// A person_job's first execution fires as soon as any tagged
	// first-execution input arrives, without waiting for loop-back edges.
	if node.Type == NodePersonJob && execCount == 0 {
		hasFirstEdges := false
		for _, edge := range in {
			if !edge.IsFirstExecution() {
				continue
			}
			hasFirstEdges = true
			if e.edgeLive(ec, edge) {
				return inputsReady
			}
		}
		if hasFirstEdges {
			return inputsWaiting
		}
	}

	live := 0
	for _, edge := range in {
		src := ec.NodeState(edge.Source)
		switch src.Status {
		case StatusCompleted, StatusSkipped, StatusMaxIterReached:
			if e.edgeLive(ec, edge) {
				live++
			}
		default:
			// An unfinished parent always defers the node; permanently
			// blocked parents surface through the stall classifier.
			return inputsWaiting
		}
	}
	if live == 0 {
		return inputsDead
	}
	return inputsReady
}

// edgeLive reports whether an edge currently carries a usable value: a
// stored source output that is not the null envelope of a skip, and not
// sitting on an untaken condition branch.
func (e *Engine) edgeLive(ec *ExecutionContext, edge *ExecutableEdge) bool {
	src := ec.NodeState(edge.Source)
	if src.Status == StatusSkipped {
		return false
	}
	env := ec.Output(edge.Source, edge.SourceOutput)
	if env == nil {
		return false
	}
	if branch := ec.BranchTaken(edge.Source); branch != "" {
		if edge.SourceOutput == BranchTrue || edge.SourceOutput == BranchFalse {
			return edge.SourceOutput == branch
		}
	}
	return true
}

// skipNode marks a node skipped with the null envelope downstream
// resolution expects, and publishes NODE_SKIPPED.
func (e *Engine) skipNode(exec *Execution, node *ExecutableNode, reason string) {
	ec := exec.ctx
	ec.markSkipped(node.ID, NewObjectEnvelope(nil, node.ID).withTrace(ec.ExecutionID))
	e.cfg.Bus.Publish(ec.ExecutionID, EventNodeSkipped, node.ID, map[string]any{"reason": reason})
}

// classifyStall decides the terminal status once nothing is running and
// nothing is ready: clean completion, failure propagation, or deadlock.
func (e *Engine) classifyStall(exec *Execution, finish func(ExecStatus, EventType, map[string]any)) {
	ec := exec.ctx
	states := ec.NodeStates()

	var pending []string
	anyFailed := false
	endCompleted := false
	for id, st := range states {
		switch st.Status {
		case StatusPending, StatusRunning, StatusPaused:
			pending = append(pending, id)
		case StatusFailed:
			anyFailed = true
		case StatusCompleted:
			if ec.Diagram.Node(id).Type == NodeEnd {
				endCompleted = true
			}
		}
	}
	sort.Strings(pending)

	switch {
	case len(pending) == 0 && !anyFailed:
		finish(ExecCompleted, EventExecutionCompleted, map[string]any{
			"duration_ms": ec.Duration().Milliseconds(),
		})
	case anyFailed && !endCompleted:
		err := ec.Err()
		msg := "execution failed"
		if err != nil {
			msg = err.Error()
		}
		finish(ExecFailed, EventExecutionFailed, map[string]any{
			"error":   msg,
			"blocked": pending,
		})
	case anyFailed && endCompleted:
		// Independent branches finished; the failure was not fatal.
		finish(ExecCompleted, EventExecutionCompleted, map[string]any{
			"duration_ms":  ec.Duration().Milliseconds(),
			"failed_nodes": true,
		})
	default:
		diag := fmt.Sprintf("scheduler deadlock: nodes %s are pending but none can advance",
			strings.Join(pending, ", "))
		ec.setError(fmt.Errorf("%s", diag))
		finish(ExecFailed, EventExecutionFailed, map[string]any{"error": diag})
	}
}
