// Package executor implements the Graph Executor: validates a workflow
// graph, schedules its nodes under a bounded-concurrency semaphore,
// invokes the host-supplied TaskRunner, consults the Gate Engine for
// gated completion, and emits the full event taxonomy over the Event
// Bus. Grounded on the teacher's graph/engine.go scheduler loop and
// graph/scheduler.go Frontier, generalized from a generic-state reducer
// engine into SPEC_FULL.md's fixed {Results, Payload} execution context.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentcore/taskgraph/eventbus"
	"github.com/agentcore/taskgraph/gate"
	"github.com/agentcore/taskgraph/session"
	"github.com/agentcore/taskgraph/store"
	"github.com/agentcore/taskgraph/workflow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Executor runs workflow.Graphs via Start/Resume (or the Run convenience
// wrapper); a single Executor value may be reused across concurrent runs
// since its config is immutable after New and all mutable bookkeeping
// lives in the Run handle.
type Executor struct {
	runner TaskRunner
	cfg    *config
}

// New builds an Executor bound to runner, applying functional options
// (and/or a FromOptions(Options) option for the legacy dual-config path).
func New(runner TaskRunner, opts ...Option) (*Executor, error) {
	if runner == nil {
		return nil, fmt.Errorf("executor: runner must not be nil")
	}
	cfg := defaultConfig()
	for _, o := range opts {
		if err := o(cfg); err != nil {
			return nil, err
		}
	}
	return &Executor{runner: runner, cfg: cfg}, nil
}

func (e *Executor) now() time.Time { return e.cfg.clock() }

func (e *Executor) emit(ev eventbus.Event) {
	if e.cfg.emitter == nil {
		return
	}
	ev.Ts = e.now()
	e.cfg.emitter.Emit(ev)
}

// Run is a handle to one in-progress or finished graph execution. It
// holds all mutable scheduling state so that a blocked run can be handed
// back to the host, bypassed or fed fresh evidence, and resumed
// (SPEC_FULL.md §3: "blocked nodes may later transition back to running
// ... or terminate the workflow"). Exported fields are intentionally
// none; callers interact with a Run only through Executor methods.
type Run struct {
	id      string
	g       *workflow.Graph
	payload map[string]any

	nodeState map[string]workflow.NodeState
	output    map[string]any
	retries   map[string]int

	// reason, gateResult, and nextToolCalls carry the remaining fields of
	// NodeOutcome (SPEC_FULL.md §7's nodeResults[id].{reason,gateResult,
	// nextToolCalls}) across the scheduling steps that produce them,
	// since a gate evaluation or a runner-reported reason happens well
	// before buildResult assembles the final per-node record.
	reason        map[string]string
	gateResult    map[string]*gate.Result
	nextToolCalls map[string][]NextToolCall

	// spans holds the in-flight tracing span for each currently-executing
	// node (SPEC_FULL.md §4.7), started in dispatch and ended once
	// handleOutcome knows the node's final gate/error status.
	spans map[string]trace.Span

	// pendingIn/satisfiedIn implement the incoming-edge resolution rule of
	// SPEC_FULL.md §4.4.3/§3: a node becomes ready when every incoming
	// edge has been resolved (active+source-terminal, or void) and at
	// least one resolved to satisfied; it becomes skipped if all its
	// incoming edges resolve void.
	pendingIn   map[string]int
	satisfiedIn map[string]int

	// edgeActive records a decision node's per-edge condition outcome,
	// keyed by "from->to" (SPEC_FULL.md §4.4.3). Edges from non-decision
	// nodes never appear here and are treated as always active.
	edgeActive map[string]bool

	fr *frontier
}

func (rs *Run) setEdgeActive(e workflow.Edge, active bool) {
	if rs.edgeActive == nil {
		rs.edgeActive = make(map[string]bool)
	}
	rs.edgeActive[edgeKey(e)] = active
}

func edgeKey(e workflow.Edge) string { return e.From + "->" + e.To }

// Status reports a node's current NodeState within this run.
func (rs *Run) Status(nodeID string) workflow.NodeState { return rs.nodeState[nodeID] }

// Start validates g (if not already validated) and seeds the frontier
// with every source node, returning a Run handle that Resume (or Run)
// drives to completion.
func (e *Executor) Start(g *workflow.Graph, runID string, payload map[string]any) (*Run, error) {
	if !g.Validated() {
		if err := g.Validate(); err != nil {
			return nil, err
		}
	}

	rs := &Run{
		id:            runID,
		g:             g,
		payload:       payload,
		nodeState:     make(map[string]workflow.NodeState, len(g.Nodes)),
		output:        make(map[string]any, len(g.Nodes)),
		retries:       make(map[string]int, len(g.Nodes)),
		pendingIn:     make(map[string]int, len(g.Nodes)),
		satisfiedIn:   make(map[string]int, len(g.Nodes)),
		reason:        make(map[string]string, len(g.Nodes)),
		gateResult:    make(map[string]*gate.Result, len(g.Nodes)),
		nextToolCalls: make(map[string][]NextToolCall, len(g.Nodes)),
		fr:            newFrontier(),
	}
	for _, n := range g.Nodes {
		rs.nodeState[n.ID] = workflow.StatePending
		rs.pendingIn[n.ID] = len(g.InEdges(n.ID))
	}
	for _, n := range g.Nodes {
		if rs.pendingIn[n.ID] == 0 {
			rs.nodeState[n.ID] = workflow.StateReady
			rs.fr.push(n.ID, g.TopoRank(n.ID))
		}
	}

	e.emit(eventbus.Event{Type: eventbus.TypeTaskgraphCreated, RunID: runID, Data: map[string]any{"graph": g.Name}})
	return rs, nil
}

// Run is the all-in-one convenience: Start followed by Resume to
// completion.
func (e *Executor) Run(ctx context.Context, g *workflow.Graph, runID string, payload map[string]any) (*Result, error) {
	rs, err := e.Start(g, runID, payload)
	if err != nil {
		return nil, err
	}
	return e.Resume(ctx, rs)
}

type dispatchOutcome struct {
	nodeID string
	res    RunnerResult
	err    error
}

// Resume drives rs until the running set empties and nothing is ready
// (SPEC_FULL.md §4.4's scheduler loop termination condition), then
// returns the terminal (or blocked) Result. Calling Resume again on a
// Run that still has blocked nodes re-attempts them (useful after fresh
// evidence arrives or CompleteNodeBypass was called).
func (e *Executor) Resume(ctx context.Context, rs *Run) (*Result, error) {
	g := rs.g
	for _, n := range g.Nodes {
		if rs.nodeState[n.ID] == workflow.StateBlocked {
			rs.nodeState[n.ID] = workflow.StateReady
			rs.fr.push(n.ID, g.TopoRank(n.ID))
		}
	}
	sem := make(chan struct{}, e.cfg.concurrencyLimit)
	results := make(chan dispatchOutcome)
	inFlight := 0

	// dispatch does all reading/writing of rs synchronously on the
	// Resume loop's own goroutine (the single owner of rs's maps) before
	// handing a plain value snapshot to the worker goroutine, which then
	// touches only its own locals, e.runner, and the channels — never rs
	// — so no two goroutines ever access rs concurrently.
	dispatch := func(nodeID string) {
		node, _ := g.Node(nodeID)
		rs.nodeState[nodeID] = workflow.StateRunning
		e.emit(eventbus.Event{Type: eventbus.TypeNodeStarted, RunID: rs.id, NodeID: nodeID})
		view := e.buildContextView(g, rs)

		runCtx := ctx
		if e.cfg.tracer != nil {
			var span trace.Span
			runCtx, span = e.cfg.tracer.StartNodeSpan(ctx, nodeID)
			if rs.spans == nil {
				rs.spans = make(map[string]trace.Span)
			}
			rs.spans[nodeID] = span
		}

		inFlight++
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			start := e.now()
			out, err := e.invokeWithTimeout(runCtx, node, view)
			status := "success"
			if err != nil {
				status = "error"
			}
			e.cfg.metrics.recordStepLatency(rs.id, nodeID, e.now().Sub(start), status)

			select {
			case results <- dispatchOutcome{nodeID: nodeID, res: out, err: err}:
			case <-ctx.Done():
			}
		}()
	}

	for {
		for rs.fr.len() > 0 && inFlight < e.cfg.concurrencyLimit {
			id, _ := rs.fr.pop()
			dispatch(id)
		}
		e.cfg.metrics.setQueueDepth(rs.fr.len())
		e.cfg.metrics.setInflight(inFlight)

		if inFlight == 0 {
			break
		}

		select {
		case <-ctx.Done():
			e.cancelAll(rs)
			goto done
		case out := <-results:
			inFlight--
			e.handleOutcome(ctx, rs, out.nodeID, out.res, out.err)
		}
	}

done:
	result := e.buildResult(rs)
	e.emit(eventbus.Event{Type: eventbus.TypeWorkflowCompleted, RunID: rs.id, Data: map[string]any{"status": string(result.Status)}})
	return result, nil
}

// invokeWithTimeout wraps a TaskRunner invocation with the node's
// effective timeout, grounded on the teacher's timeout.go
// executeNodeWithTimeout (per-node deadline via context, never a
// goroutine-killing mechanism since Go cannot preempt a runner; the
// runner is expected to respect ctx like any well-behaved Go API).
func (e *Executor) invokeWithTimeout(ctx context.Context, node *workflow.Node, view workflow.ContextView) (RunnerResult, error) {
	timeout := time.Duration(node.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = e.cfg.defaultNodeTimeout
	}
	if timeout <= 0 {
		return e.runner.Run(ctx, *node, view)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res, err := e.runner.Run(timeoutCtx, *node, view)
	if err == nil && timeoutCtx.Err() == context.DeadlineExceeded {
		return res, &RunnerError{NodeID: node.ID, Cause: fmt.Errorf("node %s exceeded timeout of %v", node.ID, timeout)}
	}
	return res, err
}

func (e *Executor) buildContextView(g *workflow.Graph, rs *Run) workflow.ContextView {
	results := make(map[string]any, len(rs.output))
	for k, v := range rs.output {
		results[k] = v
	}
	return workflow.ContextView{
		Results:   results,
		Payload:   rs.payload,
		GraphMeta: workflow.GraphMeta{Name: g.Name},
	}
}

// endNodeSpan closes the span opened for nodeID in dispatch, attaching
// attrs (gate status/reason, terminal status) before ending it (SPEC_FULL.md
// §4.7: "one span per node execution, gate results attached as span
// attributes"). A no-op when no tracer is configured or the node already
// had its span ended.
func (e *Executor) endNodeSpan(rs *Run, nodeID string, attrs ...attribute.KeyValue) {
	span, ok := rs.spans[nodeID]
	if !ok || span == nil {
		return
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	span.End()
	delete(rs.spans, nodeID)
}

// handleOutcome processes one node's runner return (success or error),
// applying retry/onError semantics (§4.4.2), gate evaluation (§4.4.1),
// and decision-edge activation (§4.4.3), then advances the ready set.
func (e *Executor) handleOutcome(ctx context.Context, rs *Run, nodeID string, res RunnerResult, runErr error) {
	g := rs.g
	node, _ := g.Node(nodeID)

	if runErr != nil {
		e.endNodeSpan(rs, nodeID, attribute.String("taskgraph.status", "error"), attribute.String("taskgraph.error", runErr.Error()))
		e.handleFailure(rs, node, runErr)
		return
	}

	rs.output[nodeID] = res.Output

	if node.Kind == workflow.KindDecision {
		if !e.activateDecisionEdges(rs, node) {
			e.endNodeSpan(rs, nodeID, attribute.String("taskgraph.status", "error"), attribute.String("taskgraph.error", "no-matching-edge"))
			e.handleFailure(rs, node, &NoMatchingEdgeError{NodeID: nodeID})
			return
		}
	}

	if !g.EffectiveGateRequired(node) {
		e.endNodeSpan(rs, nodeID, attribute.String("taskgraph.status", "completed"))
		e.completeNode(ctx, rs, node, res, nil)
		return
	}

	policy := resolveGatePolicy(e.cfg.gatePolicy, g.Defaults.GatePolicy, node.GatePolicy)
	gctx := gate.Context{TaskID: node.ID, TaskType: inferRuleset(g, node), TaskName: node.Label}
	var evidence session.Evidence
	if e.cfg.store != nil {
		if ev, err := e.cfg.store.GetEvidence(ctx); err == nil {
			evidence = ev
		}
	}
	gresult := gate.Evaluate(evidence, policy, gctx, e.now())
	rs.gateResult[nodeID] = &gresult
	rs.nextToolCalls[nodeID] = convertNextToolCalls(gresult.NextToolCalls)

	switch gresult.Status {
	case gate.StatusPassed:
		e.endNodeSpan(rs, nodeID,
			attribute.String("taskgraph.status", "completed"),
			attribute.String("taskgraph.gate.status", string(gresult.Status)),
		)
		e.completeNode(ctx, rs, node, res, &gresult)
	default:
		rs.nodeState[nodeID] = workflow.StateBlocked
		rs.reason[nodeID] = gresult.Reason
		e.cfg.metrics.incGated(rs.id, nodeID)
		e.endNodeSpan(rs, nodeID,
			attribute.String("taskgraph.status", "blocked"),
			attribute.String("taskgraph.gate.status", string(gresult.Status)),
			attribute.String("taskgraph.gate.reason", gresult.Reason),
		)
		e.emit(eventbus.Event{Type: eventbus.TypeNodeGated, RunID: rs.id, NodeID: nodeID, Data: map[string]any{
			"status": string(gresult.Status), "reason": gresult.Reason,
		}})
	}
}

// inferRuleset heuristically classifies a node's ruleset as "frontend"
// or "backend" from the graph name, the node's label/ID, and any string
// payload values (SPEC_FULL.md §4.3/§4.7: "ruleset ∈ {frontend, backend}
// inferred from task type"). It returns "" when neither matches, so that
// gate.buildArgs omits the ruleset arg rather than passing through an
// unconstrained string.
func inferRuleset(g *workflow.Graph, node *workflow.Node) string {
	haystack := strings.ToLower(g.Name + " " + node.ID + " " + node.Label)
	for _, v := range node.Payload {
		if s, ok := v.(string); ok {
			haystack += " " + strings.ToLower(s)
		}
	}

	frontendKeywords := []string{"frontend", "front-end", "ui", "client", "web", "css", "react", "vue", "component"}
	backendKeywords := []string{"backend", "back-end", "api", "server", "service", "db", "database", "sql", "endpoint"}

	for _, kw := range frontendKeywords {
		if strings.Contains(haystack, kw) {
			return "frontend"
		}
	}
	for _, kw := range backendKeywords {
		if strings.Contains(haystack, kw) {
			return "backend"
		}
	}
	return ""
}

// convertNextToolCalls copies a gate evaluation's remediation suggestions
// into the executor's own NextToolCall shape so callers never need to
// import the gate package just to read nodeResults[id].nextToolCalls.
func convertNextToolCalls(calls []gate.NextToolCall) []NextToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]NextToolCall, len(calls))
	for i, c := range calls {
		out[i] = NextToolCall{Tool: c.Tool, Args: c.Args, Reason: c.Reason, Priority: c.Priority}
	}
	return out
}

// CompleteNodeBypass force-completes a blocked node, recording a
// mandatory audit event. The bypass path must never be silent
// (SPEC_FULL.md §4.4.1). Call Resume afterward to let scheduling
// continue past the bypassed node.
func (e *Executor) CompleteNodeBypass(ctx context.Context, rs *Run, nodeID, reason string) error {
	if reason == "" {
		return fmt.Errorf("executor: bypass requires a reason")
	}
	node, ok := rs.g.Node(nodeID)
	if !ok {
		return fmt.Errorf("executor: unknown node %s", nodeID)
	}
	if rs.nodeState[nodeID] != workflow.StateBlocked {
		return fmt.Errorf("executor: node %s is not blocked", nodeID)
	}
	e.emit(eventbus.Event{Type: eventbus.TypeNodeBypassGates, RunID: rs.id, NodeID: nodeID, Data: map[string]any{"reason": reason}})
	e.completeNode(ctx, rs, node, RunnerResult{Output: rs.output[nodeID], Reason: reason}, nil)
	return nil
}

func (e *Executor) completeNode(ctx context.Context, rs *Run, node *workflow.Node, res RunnerResult, gresult *gate.Result) {
	rs.nodeState[node.ID] = workflow.StateCompleted
	rs.reason[node.ID] = res.Reason
	if gresult != nil {
		rs.gateResult[node.ID] = gresult
		rs.nextToolCalls[node.ID] = convertNextToolCalls(gresult.NextToolCalls)
	} else if len(res.NextToolCalls) > 0 {
		rs.nextToolCalls[node.ID] = res.NextToolCalls
	}
	e.emit(eventbus.Event{Type: eventbus.TypeNodeCompleted, RunID: rs.id, NodeID: node.ID, Data: map[string]any{"reason": res.Reason}})
	e.maybeAutoCheckpoint(ctx, rs, node, res)
	e.resolveSuccessors(rs, node.ID, true)
}

// maybeAutoCheckpoint implements the large-edit auto-checkpoint trigger
// (SPEC_FULL.md §9 open question, decided in DESIGN.md): when configured
// via WithAutoCheckpointThreshold and a completed node's output reports
// filesChanged at or beyond that count, request a checkpoint immediately
// rather than waiting for the normal checkpoint-reason trigger. Still
// consults the Governor first so a custom Governor implementation can
// veto it; the built-in Governor never does, since checkpoint_create is
// always in its allow-list. Failure to checkpoint (denied or a
// persistence error) is logged via the event bus, never fatal to the run.
func (e *Executor) maybeAutoCheckpoint(ctx context.Context, rs *Run, node *workflow.Node, res RunnerResult) {
	if e.cfg.autoCheckpointThreshold <= 0 || e.cfg.store == nil {
		return
	}
	changed := filesChangedFrom(res.Output)
	if len(changed) < e.cfg.autoCheckpointThreshold {
		return
	}

	if e.cfg.governor != nil {
		if allowed, reason := e.cfg.governor.IsActionAllowed(ActionCheckpointCreate); !allowed {
			e.emit(eventbus.Event{Type: eventbus.TypeStatePersistenceDegraded, RunID: rs.id, NodeID: node.ID, Data: map[string]any{
				"error": (&GovernorDeniedError{Action: ActionCheckpointCreate, Reason: reason}).Error(),
			}})
			return
		}
	}

	cp, err := e.cfg.store.CreateCheckpoint(ctx, store.CheckpointParams{
		Name:         fmt.Sprintf("auto-%s", node.ID),
		Reason:       session.ReasonAutoThreshold,
		FilesChanged: changed,
	})
	if err != nil {
		e.emit(eventbus.Event{Type: eventbus.TypeStatePersistenceDegraded, RunID: rs.id, NodeID: node.ID, Data: map[string]any{
			"error": (&PersistenceError{Op: "auto_checkpoint", Cause: err}).Error(),
		}})
		return
	}
	e.emit(eventbus.Event{Type: eventbus.TypeResourceCheckpoint, RunID: rs.id, NodeID: node.ID, Data: map[string]any{"checkpointId": cp.ID}})
}

// filesChangedFrom reads a `filesChanged []string`-shaped entry out of a
// runner's free-form output map, the same permissive map[string]any
// convention buildContextView uses for accumulated node results.
func filesChangedFrom(output any) []string {
	m, ok := output.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := m["filesChanged"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// handleFailure applies the retry budget then, if exhausted, the node's
// onError policy (SPEC_FULL.md §4.4.2).
func (e *Executor) handleFailure(rs *Run, node *workflow.Node, cause error) {
	budget := node.Retries
	if budget <= 0 {
		budget = e.cfg.retryBudget
	}
	if rs.retries[node.ID] < budget {
		rs.retries[node.ID]++
		e.cfg.metrics.incRetries(rs.id, node.ID, "error")
		rs.nodeState[node.ID] = workflow.StateReady
		rs.fr.push(node.ID, rs.g.TopoRank(node.ID))
		return
	}

	switch node.OnError {
	case workflow.OnErrorSkip:
		rs.nodeState[node.ID] = workflow.StateSkipped
		e.emit(eventbus.Event{Type: eventbus.TypeNodeSkipped, RunID: rs.id, NodeID: node.ID})
		e.resolveSuccessors(rs, node.ID, true) // dependents proceed as if completed, no output
	case workflow.OnErrorContinue:
		rs.nodeState[node.ID] = workflow.StateCompleted
		rs.output[node.ID] = map[string]any{"error": cause.Error()}
		rs.reason[node.ID] = cause.Error()
		e.emit(eventbus.Event{Type: eventbus.TypeNodeCompleted, RunID: rs.id, NodeID: node.ID, Data: map[string]any{"error": cause.Error()}})
		e.resolveSuccessors(rs, node.ID, true)
	default: // OnErrorFail
		rs.nodeState[node.ID] = workflow.StateFailed
		e.emit(eventbus.Event{Type: eventbus.TypeNodeFailed, RunID: rs.id, NodeID: node.ID, Data: map[string]any{"error": cause.Error()}})
		e.resolveSuccessors(rs, node.ID, false)
	}
}

// activateDecisionEdges evaluates a decision node's outgoing edge
// conditions against the current context view and records which ones
// activated. Returns false if no edge activated (no-matching-edge,
// SPEC_FULL.md §4.4.3).
func (e *Executor) activateDecisionEdges(rs *Run, node *workflow.Node) bool {
	edges := rs.g.OutEdges(node.ID)
	view := e.buildContextView(rs.g, rs)
	anyActive := false
	for _, edge := range edges {
		active := true
		if edge.Condition != nil {
			ok, err := edge.Condition.Evaluate(view)
			active = err == nil && ok
		}
		rs.setEdgeActive(edge, active)
		if active {
			anyActive = true
		}
	}
	return anyActive || len(edges) == 0
}

// resolveSuccessors processes a terminal (or skip-propagating) node's
// outgoing edges, decrementing each target's pending-incoming counter and
// incrementing its satisfied counter when the edge resolved active. Once
// a target's pending count reaches zero it becomes ready (if it has at
// least one satisfied edge) or transitively skipped (SPEC_FULL.md §3,
// §4.4.2, §4.4.3).
func (e *Executor) resolveSuccessors(rs *Run, nodeID string, sourceSatisfied bool) {
	g := rs.g
	for _, edge := range g.OutEdges(nodeID) {
		active := sourceSatisfied
		if rs.edgeActive != nil {
			if v, ok := rs.edgeActive[edgeKey(edge)]; ok {
				active = active && v
			}
		}
		rs.pendingIn[edge.To]--
		if active {
			rs.satisfiedIn[edge.To]++
		}
		if rs.pendingIn[edge.To] > 0 {
			continue
		}
		target, _ := g.Node(edge.To)
		if target == nil || rs.nodeState[edge.To].IsTerminal() {
			continue
		}
		if rs.satisfiedIn[edge.To] > 0 {
			rs.nodeState[edge.To] = workflow.StateReady
			rs.fr.push(edge.To, g.TopoRank(edge.To))
		} else {
			rs.nodeState[edge.To] = workflow.StateSkipped
			e.emit(eventbus.Event{Type: eventbus.TypeNodeSkipped, RunID: rs.id, NodeID: edge.To})
			e.resolveSuccessors(rs, edge.To, false) // transitive skip: the skipped node's edges resolve void
		}
	}
}

// cancelAll marks every non-terminal node failed/cancelled or skipped,
// per SPEC_FULL.md §4.4.4's workflow-level cancellation semantics.
func (e *Executor) cancelAll(rs *Run) {
	for _, n := range rs.g.Nodes {
		switch rs.nodeState[n.ID] {
		case workflow.StateRunning:
			rs.nodeState[n.ID] = workflow.StateFailed
			e.emit(eventbus.Event{Type: eventbus.TypeNodeFailed, RunID: rs.id, NodeID: n.ID, Data: map[string]any{"error": "cancelled"}})
		case workflow.StatePending, workflow.StateReady:
			rs.nodeState[n.ID] = workflow.StateSkipped
			e.emit(eventbus.Event{Type: eventbus.TypeNodeSkipped, RunID: rs.id, NodeID: n.ID})
		}
	}
}

func (e *Executor) buildResult(rs *Run) *Result {
	res := &Result{NodeResults: make(map[string]NodeOutcome, len(rs.g.Nodes))}
	anyFailed, anyBlocked := false, false
	for _, n := range rs.g.Nodes {
		st := rs.nodeState[n.ID]
		switch st {
		case workflow.StateCompleted:
			res.CompletedNodes = append(res.CompletedNodes, n.ID)
		case workflow.StateBlocked:
			res.BlockedNodes = append(res.BlockedNodes, n.ID)
			anyBlocked = true
		case workflow.StateFailed:
			res.FailedNodes = append(res.FailedNodes, n.ID)
			anyFailed = true
		case workflow.StateSkipped:
			res.SkippedNodes = append(res.SkippedNodes, n.ID)
		}
		res.NodeResults[n.ID] = NodeOutcome{
			Status:        string(st),
			Output:        rs.output[n.ID],
			Reason:        rs.reason[n.ID],
			GateResult:    rs.gateResult[n.ID],
			NextToolCalls: rs.nextToolCalls[n.ID],
		}
	}
	switch {
	case anyBlocked:
		res.Status = StatusBlocked
	case anyFailed:
		res.Status = StatusFailed
	default:
		res.Status = StatusCompleted
	}
	return res
}
