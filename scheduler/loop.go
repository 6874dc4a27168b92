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

	"trpc.group/trpc-go/trpc-workflow-go/executor"
	"trpc.group/trpc-go/trpc-workflow-go/executor/builtin"
	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// Keys of the loop node output.
const (
	loopOutputIterations = "iterations"
	loopOutputResults    = "results"
	loopOutputCapped     = "capped"
)

// runLoop drives a loop node. The controller is asked before every
// iteration whether to continue; each iteration runs the body as a
// sequential scope whose outputs carry over to the next one.
func (sc *scope) runLoop(ctx context.Context, ctrl executor.Executor, c *call, res *result) {
	r := sc.r
	g := r.graph
	node := c.node

	limit := r.maxLoop
	if n, ok := workflow.ToInt(node.Parameters["max_iterations"]); ok && n >= 0 && n < limit {
		limit = n
	}

	outputs := maps.Clone(c.ec.Outputs)
	if outputs == nil {
		outputs = make(map[string]any)
	}
	results := make([]any, 0)
	iterations := 0
	capped := false

	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			res.err = fmt.Errorf("%w: %v", executor.ErrCancelled, err)
			break
		}
		ec := *c.ec
		ec.Iteration = i
		ec.Outputs = outputs
		decision, err := r.call(ctx, ctrl, node, c.inputs, &ec)
		if err != nil {
			res.err = err
			break
		}
		if cont, _ := decision[builtin.OutputContinue].(bool); !cont {
			break
		}
		if i >= limit {
			capped = true
			log.Warnf("workflow %s: loop %s stopped at the %d iteration cap", r.id, node.ID, limit)
			break
		}

		it := i
		body := r.newScope(c.idx, &it, maps.Clone(outputs), false)
		body.outputs[node.ID] = decision
		body.execute(ctx)

		res.nested = append(res.nested, body.statuses...)
		results = append(results, iterationOutputs(body.statuses))
		outputs = body.outputs
		iterations++
		if body.failed {
			res.err = fmt.Errorf("loop %s iteration %d: %s", node.ID, i, body.firstError())
			break
		}
	}

	if iterations == 0 {
		reason := ""
		if res.err != nil {
			reason = fmt.Sprintf("upstream node %s failed", node.ID)
		}
		idle := r.newScope(c.idx, nil, nil, false)
		for _, b := range g.Body(c.idx) {
			idle.finishSkipped(ctx, idle.newStatus(b), reason)
		}
		res.nested = append(res.nested, idle.statuses...)
	}

	res.bodyOutputs = make(map[string]any)
	for _, b := range g.Body(c.idx) {
		id := g.Node(b).ID
		if out, ok := outputs[id]; ok {
			res.bodyOutputs[id] = out
		}
	}
	if res.err != nil {
		return
	}
	res.output = map[string]any{
		loopOutputIterations: iterations,
		loopOutputResults:    results,
	}
	if capped {
		res.output[loopOutputCapped] = true
	}
}

// iterationOutputs maps every body node that completed in one iteration to
// its output.
func iterationOutputs(statuses []*workflow.NodeExecutionStatus) map[string]any {
	out := make(map[string]any)
	for _, st := range statuses {
		if st.Status == workflow.NodeCompleted {
			out[st.NodeID] = st.Output
		}
	}
	return out
}
