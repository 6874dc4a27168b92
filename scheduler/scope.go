//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package scheduler

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/trpc-workflow-go/event"
	"trpc.group/trpc-go/trpc-workflow-go/executor"
	"trpc.group/trpc-go/trpc-workflow-go/executor/builtin"
	itelemetry "trpc.group/trpc-go/trpc-workflow-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/telemetry/metric"
	"trpc.group/trpc-go/trpc-workflow-go/telemetry/trace"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

type edgeState uint8

const (
	edgePending edgeState = iota
	edgeTaken
	edgeNotTaken
	// edgeBroken marks an edge whose source failed or was skipped because
	// of a failure.
	edgeBroken
)

// scope is the state of one pass over a set of nodes: the top level of the
// graph, or one iteration of a loop body. Only its coordinator mutates it.
type scope struct {
	r         *run
	loop      int
	iteration *int
	parallel  bool

	edges    []edgeState
	enqueued []bool
	latest   []*workflow.NodeExecutionStatus
	outputs  map[string]any
	statuses []*workflow.NodeExecutionStatus
	failed   bool
	// edgeErrs holds the evaluation errors of broken edge predicates.
	edgeErrs map[int]error
}

// call is everything a worker needs to run one node.
type call struct {
	idx    int
	node   *workflow.Node
	inputs map[string]any
	ec     *executor.ExecutionContext
}

type result struct {
	idx      int
	output   map[string]any
	err      error
	started  time.Time
	finished time.Time
	// nested holds the records produced inside a loop body.
	nested []*workflow.NodeExecutionStatus
	// bodyOutputs holds the outputs of the last loop iteration.
	bodyOutputs map[string]any
}

func (r *run) newScope(loop int, iteration *int, outputs map[string]any, parallel bool) *scope {
	n := r.graph.Len()
	return &scope{
		r:         r,
		loop:      loop,
		iteration: iteration,
		parallel:  parallel,
		edges:     make([]edgeState, len(r.graph.Definition().Edges)),
		enqueued:  make([]bool, n),
		latest:    make([]*workflow.NodeExecutionStatus, n),
		outputs:   outputs,
	}
}

func (sc *scope) member(i int) bool {
	return sc.r.graph.Owner(i) == sc.loop
}

// execute runs the scope to completion. Nodes become ready once every
// incoming edge is resolved and are dispatched in the order they became
// ready, ties broken by definition order.
func (sc *scope) execute(ctx context.Context) {
	g := sc.r.graph
	var ready []int
	for i := 0; i < g.Len(); i++ {
		if !sc.member(i) {
			continue
		}
		for _, e := range g.Incoming(i) {
			if g.Source(e) == sc.loop {
				sc.edges[e] = edgeTaken
			}
		}
	}
	for i := 0; i < g.Len(); i++ {
		if sc.member(i) && sc.resolved(i) {
			ready = append(ready, sc.enqueue(i))
		}
	}

	var (
		pool     *ants.Pool
		results  chan *result
		inflight int
	)
	if sc.parallel && sc.r.workers > 1 {
		p, err := ants.NewPool(sc.r.workers)
		if err != nil {
			log.Warnf("workflow %s: failed to create worker pool, running sequentially: %v", sc.r.id, err)
		} else {
			pool = p
			defer pool.Release()
			results = make(chan *result, sc.r.workers)
		}
	}

	for {
		for len(ready) > 0 && ctx.Err() == nil && (pool == nil || inflight < sc.r.workers) {
			idx := ready[0]
			ready = ready[1:]
			if err := sc.conditionError(idx); err != nil {
				ready = append(ready, sc.failUnrun(ctx, idx, err)...)
				continue
			}
			if ok, reason := sc.decide(idx); !ok {
				ready = append(ready, sc.skip(ctx, idx, reason)...)
				continue
			}
			c := sc.prepare(idx)
			sc.start(ctx, idx)
			if pool == nil {
				ready = append(ready, sc.complete(ctx, sc.invoke(ctx, c))...)
				continue
			}
			inflight++
			if err := pool.Submit(func() { results <- sc.invoke(ctx, c) }); err != nil {
				inflight--
				now := time.Now()
				ready = append(ready, sc.complete(ctx, &result{
					idx:      idx,
					err:      fmt.Errorf("failed to submit node %s: %w", c.node.ID, err),
					started:  now,
					finished: now,
				})...)
			}
		}
		if inflight == 0 {
			break
		}
		res := <-results
		inflight--
		ready = append(ready, sc.complete(ctx, res)...)
	}
	sc.abandon(ctx)
}

// resolved reports whether every incoming edge of node i has an outcome.
func (sc *scope) resolved(i int) bool {
	for _, e := range sc.r.graph.Incoming(i) {
		if sc.edges[e] == edgePending {
			return false
		}
	}
	return true
}

func (sc *scope) newStatus(i int) *workflow.NodeExecutionStatus {
	node := sc.r.graph.Node(i)
	st := &workflow.NodeExecutionStatus{
		NodeID:   node.ID,
		NodeType: node.Type,
		Status:   workflow.NodePending,
	}
	if sc.iteration != nil {
		it := *sc.iteration
		st.Iteration = &it
	}
	sc.statuses = append(sc.statuses, st)
	return st
}

func (sc *scope) enqueue(i int) int {
	sc.enqueued[i] = true
	sc.latest[i] = sc.newStatus(i)
	return i
}

// decide reports whether a ready node runs. A failed upstream skips every
// node but a merge that still has a taken branch; a node without any taken
// incoming edge sits on an unselected branch.
func (sc *scope) decide(i int) (bool, string) {
	g := sc.r.graph
	in := g.Incoming(i)
	if len(in) == 0 {
		return true, ""
	}
	taken, broken := 0, -1
	for _, e := range in {
		switch sc.edges[e] {
		case edgeTaken:
			taken++
		case edgeBroken:
			if broken < 0 {
				broken = g.Source(e)
			}
		}
	}
	if broken >= 0 && (g.Node(i).Type != workflow.NodeTypeMerge || taken == 0) {
		return false, fmt.Sprintf("upstream node %s failed", g.Node(broken).ID)
	}
	return taken > 0, ""
}

func (sc *scope) prepare(i int) *call {
	g := sc.r.graph
	node := g.Node(i)
	inputs := make(map[string]any)
	var preds []string
	for _, e := range g.Incoming(i) {
		if sc.edges[e] != edgeTaken {
			continue
		}
		src := g.Node(g.Source(e)).ID
		out, ok := sc.outputs[src]
		if !ok {
			continue
		}
		if _, seen := inputs[src]; !seen {
			preds = append(preds, src)
		}
		inputs[src] = out
	}
	if node.Type == workflow.NodeTypeImageInput {
		maps.Copy(inputs, sc.r.inputs)
	}
	ec := &executor.ExecutionContext{
		ExecutionID:  sc.r.id,
		WorkflowName: sc.r.name,
		Inputs:       sc.r.inputs,
		Outputs:      maps.Clone(sc.outputs),
		Predecessors: preds,
		Iteration:    -1,
		Config:       sc.r.config,
	}
	if sc.iteration != nil {
		ec.Iteration = *sc.iteration
	}
	return &call{idx: i, node: node, inputs: inputs, ec: ec}
}

func (sc *scope) start(ctx context.Context, i int) {
	st := sc.latest[i]
	now := time.Now()
	st.Status = workflow.NodeRunning
	st.StartedAt = &now
	sc.r.emit(ctx, event.New(sc.r.id, event.TypeNodeStart,
		event.WithNode(st.NodeID, st.NodeType),
		event.WithStatus(string(workflow.NodeRunning)),
		event.WithIteration(sc.iteration),
	))
}

// invoke executes one node. It runs on a worker in parallel mode and must
// not touch scope state.
func (sc *scope) invoke(ctx context.Context, c *call) *result {
	ctx, span := trace.Tracer.Start(ctx, fmt.Sprintf("%s %s", itelemetry.SpanNamePrefixExecuteNode, c.node.ID))
	defer span.End()

	res := &result{idx: c.idx, started: time.Now()}
	exec, err := sc.r.registry.Get(c.node.Type)
	switch {
	case err != nil:
		res.err = err
	case c.node.Type == workflow.NodeTypeLoop:
		sc.runLoop(ctx, exec, c, res)
	default:
		res.output, res.err = sc.r.call(ctx, exec, c.node, c.inputs, c.ec)
	}
	res.finished = time.Now()

	itelemetry.TraceNode(span, sc.r.id, c.node.ID, c.node.Type, c.ec.Iteration, res.err)
	status := workflow.NodeCompleted
	if res.err != nil {
		status = workflow.NodeFailed
	}
	metric.RecordNode(ctx, c.node.Type, string(status), res.finished.Sub(res.started))
	return res
}

func (sc *scope) complete(ctx context.Context, res *result) []int {
	g := sc.r.graph
	node := g.Node(res.idx)
	st := sc.latest[res.idx]
	st.FinishedAt = &res.finished
	sc.statuses = append(sc.statuses, res.nested...)
	maps.Copy(sc.outputs, res.bodyOutputs)

	if res.err != nil {
		st.Status = workflow.NodeFailed
		st.Error = res.err.Error()
		sc.failed = true
		log.Warnf("workflow %s: node %s (%s) failed: %v", sc.r.id, node.ID, node.Type, res.err)
		sc.r.emit(ctx, event.New(sc.r.id, event.TypeNodeError,
			event.WithNode(node.ID, node.Type),
			event.WithStatus(string(workflow.NodeFailed)),
			event.WithError(st.Error),
			event.WithIteration(sc.iteration),
		))
		return sc.settle(res.idx, func(int) edgeState { return edgeBroken })
	}

	st.Status = workflow.NodeCompleted
	st.Progress = 1
	st.Output = res.output
	sc.outputs[node.ID] = res.output
	sc.r.emit(ctx, event.New(sc.r.id, event.TypeNodeComplete,
		event.WithNode(node.ID, node.Type),
		event.WithStatus(string(workflow.NodeCompleted)),
		event.WithOutput(res.output),
		event.WithIteration(sc.iteration),
	))
	return sc.settle(res.idx, func(e int) edgeState {
		return sc.edgeOutcome(node, e, res.output)
	})
}

// edgeOutcome resolves an outgoing edge of a completed node. An if node
// only takes the edges labelled with its selected branch; a predicate on
// the edge must hold against the accumulated outputs. A predicate that
// cannot be evaluated breaks the edge.
func (sc *scope) edgeOutcome(node *workflow.Node, e int, output map[string]any) edgeState {
	edge := sc.r.graph.Edge(e)
	if node.Type == workflow.NodeTypeIf {
		if label := edge.Branch(); label != "" {
			if branch, _ := output[builtin.OutputBranch].(string); branch != label {
				return edgeNotTaken
			}
		}
	}
	if edge.Condition.IsPredicate() {
		ok, err := edge.Condition.Evaluate(sc.outputs)
		if err != nil {
			if sc.edgeErrs == nil {
				sc.edgeErrs = make(map[int]error)
			}
			sc.edgeErrs[e] = fmt.Errorf("edge %s condition: %w", edge.ID, err)
			return edgeBroken
		}
		if !ok {
			return edgeNotTaken
		}
	}
	return edgeTaken
}

// conditionError returns the predicate error of an incoming edge of node i.
// The node fails with it instead of running.
func (sc *scope) conditionError(i int) error {
	for _, e := range sc.r.graph.Incoming(i) {
		if err := sc.edgeErrs[e]; err != nil {
			return err
		}
	}
	return nil
}

// failUnrun fails node i without invoking it. The body of a loop node is
// recorded as skipped.
func (sc *scope) failUnrun(ctx context.Context, i int, err error) []int {
	now := time.Now()
	next := sc.complete(ctx, &result{idx: i, err: err, started: now, finished: now})
	reason := fmt.Sprintf("upstream node %s failed", sc.r.graph.Node(i).ID)
	for _, b := range sc.r.graph.Body(i) {
		sc.finishSkipped(ctx, sc.newStatus(b), reason)
	}
	return next
}

// settle assigns outcomes to the outgoing edges of node i and returns the
// nodes that became ready, in definition order.
func (sc *scope) settle(i int, outcome func(e int) edgeState) []int {
	g := sc.r.graph
	var next []int
	for _, e := range g.Outgoing(i) {
		t := g.Target(e)
		if !sc.member(t) {
			continue
		}
		sc.edges[e] = outcome(e)
		if !sc.enqueued[t] && sc.resolved(t) {
			next = append(next, sc.enqueue(t))
		}
	}
	sort.Ints(next)
	return next
}

func (sc *scope) skip(ctx context.Context, i int, reason string) []int {
	sc.markSkipped(ctx, i, reason)
	state := edgeNotTaken
	if reason != "" {
		state = edgeBroken
	}
	return sc.settle(i, func(int) edgeState { return state })
}

func (sc *scope) markSkipped(ctx context.Context, i int, reason string) {
	if sc.latest[i] == nil {
		sc.enqueue(i)
	}
	st := sc.latest[i]
	sc.finishSkipped(ctx, st, reason)
	for _, b := range sc.r.graph.Body(i) {
		sc.finishSkipped(ctx, sc.newStatus(b), reason)
	}
}

func (sc *scope) finishSkipped(ctx context.Context, st *workflow.NodeExecutionStatus, reason string) {
	now := time.Now()
	st.Status = workflow.NodeSkipped
	st.Error = reason
	st.FinishedAt = &now
	sc.r.emit(ctx, event.New(sc.r.id, event.TypeNodeSkipped,
		event.WithNode(st.NodeID, st.NodeType),
		event.WithStatus(string(workflow.NodeSkipped)),
		event.WithError(reason),
		event.WithIteration(st.Iteration),
	))
}

// abandon skips whatever was left undecided by a cancelled run.
func (sc *scope) abandon(ctx context.Context) {
	if ctx.Err() == nil {
		return
	}
	reason := fmt.Sprintf("%v: %v", executor.ErrCancelled, ctx.Err())
	for i := 0; i < sc.r.graph.Len(); i++ {
		if !sc.member(i) {
			continue
		}
		if st := sc.latest[i]; st != nil && st.Status.Terminal() {
			continue
		}
		sc.markSkipped(ctx, i, reason)
	}
}

func (sc *scope) firstError() string {
	for _, st := range sc.statuses {
		if st.Status == workflow.NodeFailed {
			return fmt.Sprintf("node %s: %s", st.NodeID, st.Error)
		}
	}
	return ""
}
