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
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-workflow-go/event"
	"trpc.group/trpc-go/trpc-workflow-go/executor"
	"trpc.group/trpc-go/trpc-workflow-go/executor/builtin"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

func newRegistry(extra map[string]executor.Func) *executor.Registry {
	reg := executor.NewRegistry()
	builtin.Register(reg)
	for typ, fn := range extra {
		reg.RegisterExecutor(typ, fn)
	}
	return reg
}

func detections(n int) executor.Func {
	return func(context.Context, workflow.Node, map[string]any, *executor.ExecutionContext) (map[string]any, error) {
		dets := make([]any, n)
		for i := range dets {
			dets[i] = map[string]any{"class": "bolt", "confidence": 0.9}
		}
		return map[string]any{"detections": dets, "count": n}, nil
	}
}

func echo(value any) executor.Func {
	return func(context.Context, workflow.Node, map[string]any, *executor.ExecutionContext) (map[string]any, error) {
		return map[string]any{"value": value}, nil
	}
}

func failing(msg string) executor.Func {
	return func(context.Context, workflow.Node, map[string]any, *executor.ExecutionContext) (map[string]any, error) {
		return nil, errors.New(msg)
	}
}

func chain(ids ...string) []workflow.Edge {
	var edges []workflow.Edge
	for i := 1; i < len(ids); i++ {
		edges = append(edges, workflow.Edge{ID: ids[i-1] + "-" + ids[i], Source: ids[i-1], Target: ids[i]})
	}
	return edges
}

func statusOf(t *testing.T, resp *workflow.ExecutionResponse, id string) workflow.NodeExecutionStatus {
	t.Helper()
	st, ok := resp.LastStatus(id)
	require.True(t, ok, "no status for %s", id)
	return st
}

func TestRun_ImageInputThenModel(t *testing.T) {
	s := New(newRegistry(map[string]executor.Func{"yolo": detections(2)}))
	def := &workflow.Definition{
		Name: "inspect",
		Nodes: []workflow.Node{
			{ID: "n1", Type: "imageinput"},
			{ID: "n2", Type: "yolo"},
		},
		Edges: chain("n1", "n2"),
	}

	resp, err := s.Run(context.Background(), def, map[string]any{"image_ids": []any{"img-1"}})
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionCompleted, resp.Status)
	assert.Equal(t, "inspect", resp.WorkflowName)
	require.Len(t, resp.NodeStatuses, 2)
	for _, st := range resp.NodeStatuses {
		assert.Equal(t, workflow.NodeCompleted, st.Status)
		assert.Equal(t, 1.0, st.Progress)
		assert.Nil(t, st.Iteration)
	}
	assert.Equal(t, 1, resp.FinalOutput["n1"].(map[string]any)[builtin.OutputCount])
	assert.Equal(t, 2, resp.FinalOutput["n2"].(map[string]any)["count"])
	require.NotNil(t, resp.ExecutionTimeMs)
	assert.GreaterOrEqual(t, *resp.ExecutionTimeMs, 0.0)
	assert.Empty(t, resp.Error)
}

func TestRun_UnregisteredExecutor(t *testing.T) {
	s := New(newRegistry(nil))
	def := &workflow.Definition{
		Nodes: []workflow.Node{
			{ID: "n1", Type: "imageinput"},
			{ID: "n2", Type: "yolo"},
		},
		Edges: chain("n1", "n2"),
	}

	resp, err := s.Run(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionFailed, resp.Status)
	assert.Equal(t, workflow.NodeCompleted, statusOf(t, resp, "n1").Status)
	n2 := statusOf(t, resp, "n2")
	assert.Equal(t, workflow.NodeFailed, n2.Status)
	assert.Equal(t, "executor not registered: yolo", n2.Error)
	assert.Equal(t, "1 node(s) failed: n2", resp.Error)
	assert.NotContains(t, resp.FinalOutput, "n2")
}

func TestExecute_InvalidDefinition(t *testing.T) {
	s := New(newRegistry(nil))
	events, err := s.Execute(context.Background(), &workflow.Definition{}, nil)
	require.Error(t, err)
	assert.Nil(t, events)
	assert.True(t, errors.Is(err, workflow.ErrInvalidDefinition))

	_, err = s.Run(context.Background(), &workflow.Definition{
		Nodes: []workflow.Node{{ID: "a", Type: "yolo"}, {ID: "b", Type: "yolo"}},
		Edges: append(chain("a", "b"), workflow.Edge{ID: "back", Source: "b", Target: "a"}),
	}, nil)
	var cycle *workflow.CycleDetectedError
	require.ErrorAs(t, err, &cycle)
}

func TestRun_UpstreamFailureCascades(t *testing.T) {
	s := New(newRegistry(map[string]executor.Func{
		"bad":  failing("model crashed"),
		"good": echo(1),
	}))
	def := &workflow.Definition{
		Nodes: []workflow.Node{
			{ID: "n1", Type: "bad"},
			{ID: "n2", Type: "good"},
			{ID: "n3", Type: "good"},
		},
		Edges: chain("n1", "n2", "n3"),
	}

	resp, err := s.Run(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionFailed, resp.Status)
	assert.Equal(t, "model crashed", statusOf(t, resp, "n1").Error)
	n2 := statusOf(t, resp, "n2")
	assert.Equal(t, workflow.NodeSkipped, n2.Status)
	assert.Equal(t, "upstream node n1 failed", n2.Error)
	n3 := statusOf(t, resp, "n3")
	assert.Equal(t, workflow.NodeSkipped, n3.Status)
	assert.Equal(t, "upstream node n2 failed", n3.Error)
	assert.Equal(t, "1 node(s) failed: n1", resp.Error)
}

func ifWorkflow(threshold int) *workflow.Definition {
	return &workflow.Definition{
		Name: "branching",
		Nodes: []workflow.Node{
			{ID: "detect", Type: "yolo"},
			{ID: "check", Type: "if", Parameters: map[string]any{
				"condition": map[string]any{"field": "detect.count", "operator": ">=", "value": threshold},
			}},
			{ID: "ocr", Type: "paddleocr"},
			{ID: "report", Type: "vl"},
			{ID: "join", Type: "merge"},
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "detect", Target: "check"},
			{ID: "e2", Source: "check", Target: "ocr", SourceHandle: "true"},
			{ID: "e3", Source: "check", Target: "report", SourceHandle: "false"},
			{ID: "e4", Source: "ocr", Target: "join"},
			{ID: "e5", Source: "report", Target: "join"},
		},
	}
}

func TestRun_IfSkipsUnselectedBranch(t *testing.T) {
	reg := newRegistry(map[string]executor.Func{
		"yolo":      detections(3),
		"paddleocr": echo("text"),
		"vl":        echo("caption"),
	})
	s := New(reg)

	resp, err := s.Run(context.Background(), ifWorkflow(2), nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionCompleted, resp.Status)
	check := statusOf(t, resp, "check")
	assert.Equal(t, true, check.Output[builtin.OutputResult])
	assert.Equal(t, workflow.HandleTrue, check.Output[builtin.OutputBranch])
	assert.Equal(t, workflow.NodeCompleted, statusOf(t, resp, "ocr").Status)
	report := statusOf(t, resp, "report")
	assert.Equal(t, workflow.NodeSkipped, report.Status)
	assert.Empty(t, report.Error)

	join := statusOf(t, resp, "join")
	assert.Equal(t, workflow.NodeCompleted, join.Status)
	assert.Equal(t, map[string]any{"value": "text"}, join.Output)

	resp, err = s.Run(context.Background(), ifWorkflow(5), nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.NodeSkipped, statusOf(t, resp, "ocr").Status)
	assert.Equal(t, workflow.NodeCompleted, statusOf(t, resp, "report").Status)
	assert.Equal(t, map[string]any{"value": "caption"}, statusOf(t, resp, "join").Output)
}

func TestRun_MergeRunsWithOneFailedBranch(t *testing.T) {
	s := New(newRegistry(map[string]executor.Func{
		"ok":  echo("fine"),
		"bad": failing("boom"),
	}))
	def := &workflow.Definition{
		Nodes: []workflow.Node{
			{ID: "in", Type: "imageinput"},
			{ID: "a", Type: "ok"},
			{ID: "b", Type: "bad"},
			{ID: "m", Type: "merge"},
		},
		Edges: []workflow.Edge{
			{ID: "1", Source: "in", Target: "a"},
			{ID: "2", Source: "in", Target: "b"},
			{ID: "3", Source: "a", Target: "m"},
			{ID: "4", Source: "b", Target: "m"},
		},
	}

	resp, err := s.Run(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionFailed, resp.Status)
	m := statusOf(t, resp, "m")
	assert.Equal(t, workflow.NodeCompleted, m.Status)
	assert.Equal(t, map[string]any{"value": "fine"}, m.Output)
}

func TestRun_EdgePredicate(t *testing.T) {
	s := New(newRegistry(map[string]executor.Func{
		"yolo": detections(1),
		"vl":   echo("caption"),
	}))
	def := &workflow.Definition{
		Nodes: []workflow.Node{{ID: "d", Type: "yolo"}, {ID: "v", Type: "vl"}},
		Edges: []workflow.Edge{{
			ID: "e", Source: "d", Target: "v",
			Condition: &workflow.Condition{Field: "d.detections.#", Operator: "gt", Value: 1},
		}},
	}

	resp, err := s.Run(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionCompleted, resp.Status)
	v := statusOf(t, resp, "v")
	assert.Equal(t, workflow.NodeSkipped, v.Status)
	assert.Empty(t, v.Error)
}

func loopWorkflow(params map[string]any) *workflow.Definition {
	return &workflow.Definition{
		Name: "per-item",
		Nodes: []workflow.Node{
			{ID: "in", Type: "imageinput"},
			{ID: "each", Type: "loop", Parameters: params},
			{ID: "work", Type: "item"},
			{ID: "after", Type: "vl"},
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "in", Target: "each"},
			{ID: "e2", Source: "each", Target: "work", SourceHandle: "body"},
			{ID: "e3", Source: "work", Target: "each", LoopBack: true},
			{ID: "e4", Source: "each", Target: "after", SourceHandle: "done"},
		},
	}
}

func itemExecutor(_ context.Context, _ workflow.Node, inputs map[string]any, ec *executor.ExecutionContext) (map[string]any, error) {
	ctrl, _ := inputs["each"].(map[string]any)
	return map[string]any{"seen": ctrl[builtin.OutputItem], "iteration": ec.Iteration}, nil
}

func TestRun_LoopOverItems(t *testing.T) {
	s := New(newRegistry(map[string]executor.Func{
		"item": itemExecutor,
		"vl":   echo("done"),
	}))

	resp, err := s.Run(context.Background(), loopWorkflow(map[string]any{"items": []any{"a", "b", "c"}}), nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionCompleted, resp.Status)

	work := resp.StatusesOf("work")
	require.Len(t, work, 3)
	for i, st := range work {
		require.NotNil(t, st.Iteration)
		assert.Equal(t, i, *st.Iteration)
		assert.Equal(t, workflow.NodeCompleted, st.Status)
		assert.Equal(t, i, st.Output["iteration"])
	}
	assert.Equal(t, "a", work[0].Output["seen"])
	assert.Equal(t, "c", work[2].Output["seen"])

	each := statusOf(t, resp, "each")
	assert.Equal(t, workflow.NodeCompleted, each.Status)
	assert.Equal(t, 3, each.Output[loopOutputIterations])
	assert.Len(t, each.Output[loopOutputResults], 3)
	assert.NotContains(t, each.Output, loopOutputCapped)
	assert.Equal(t, workflow.NodeCompleted, statusOf(t, resp, "after").Status)
}

func TestRun_LoopCap(t *testing.T) {
	s := New(newRegistry(map[string]executor.Func{
		"item": itemExecutor,
		"vl":   echo("done"),
	}), WithMaxLoopIterations(2))

	resp, err := s.Run(context.Background(), loopWorkflow(map[string]any{"count": 10}), nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionCompleted, resp.Status)
	assert.Len(t, resp.StatusesOf("work"), 2)
	each := statusOf(t, resp, "each")
	assert.Equal(t, 2, each.Output[loopOutputIterations])
	assert.Equal(t, true, each.Output[loopOutputCapped])
}

func TestRun_LoopWithoutIterationsSkipsBody(t *testing.T) {
	s := New(newRegistry(map[string]executor.Func{
		"item": itemExecutor,
		"vl":   echo("done"),
	}))

	resp, err := s.Run(context.Background(), loopWorkflow(map[string]any{"items": []any{}}), nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionCompleted, resp.Status)
	work := statusOf(t, resp, "work")
	assert.Equal(t, workflow.NodeSkipped, work.Status)
	assert.Equal(t, 0, statusOf(t, resp, "each").Output[loopOutputIterations])
	assert.Equal(t, workflow.NodeCompleted, statusOf(t, resp, "after").Status)
}

func TestRun_LoopBodyFailure(t *testing.T) {
	s := New(newRegistry(map[string]executor.Func{
		"item": failing("bad crop"),
		"vl":   echo("done"),
	}))

	resp, err := s.Run(context.Background(), loopWorkflow(map[string]any{"count": 3}), nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionFailed, resp.Status)
	assert.Len(t, resp.StatusesOf("work"), 1)
	each := statusOf(t, resp, "each")
	assert.Equal(t, workflow.NodeFailed, each.Status)
	assert.Equal(t, "loop each iteration 0: node work: bad crop", each.Error)
	after := statusOf(t, resp, "after")
	assert.Equal(t, workflow.NodeSkipped, after.Status)
	assert.Equal(t, "upstream node each failed", after.Error)
}

// barrier returns an executor that only succeeds once n calls are in flight
// at the same time.
func barrier(n int32) executor.Func {
	var started atomic.Int32
	all := make(chan struct{})
	return func(ctx context.Context, node workflow.Node, _ map[string]any, _ *executor.ExecutionContext) (map[string]any, error) {
		if started.Add(1) == n {
			close(all)
		}
		select {
		case <-all:
			return map[string]any{"node": node.ID}, nil
		case <-time.After(2 * time.Second):
			return nil, errors.New("ran alone")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func fanOut() *workflow.Definition {
	return &workflow.Definition{
		Nodes: []workflow.Node{
			{ID: "in", Type: "imageinput"},
			{ID: "a", Type: "slow"},
			{ID: "b", Type: "slow"},
			{ID: "c", Type: "slow"},
			{ID: "m", Type: "merge"},
		},
		Edges: []workflow.Edge{
			{ID: "1", Source: "in", Target: "a"},
			{ID: "2", Source: "in", Target: "b"},
			{ID: "3", Source: "in", Target: "c"},
			{ID: "4", Source: "a", Target: "m"},
			{ID: "5", Source: "b", Target: "m"},
			{ID: "6", Source: "c", Target: "m"},
		},
	}
}

func TestRun_ParallelMode(t *testing.T) {
	s := New(newRegistry(map[string]executor.Func{"slow": barrier(3)}),
		WithMode(ModeParallel), WithWorkers(3))

	resp, err := s.Run(context.Background(), fanOut(), nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionCompleted, resp.Status, resp.Error)
	assert.Len(t, resp.NodeStatuses, 5)
	assert.Equal(t, map[string]any{"node": "c"}, statusOf(t, resp, "m").Output)
}

func TestRun_ConfigSelectsParallelMode(t *testing.T) {
	s := New(newRegistry(map[string]executor.Func{"slow": barrier(3)}))

	resp, err := s.Run(context.Background(), fanOut(), nil,
		WithConfig(map[string]any{"mode": "parallel", "max_workers": 3}))
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionCompleted, resp.Status, resp.Error)
}

func TestRun_NodeTimeout(t *testing.T) {
	block := executor.Func(func(ctx context.Context, _ workflow.Node, _ map[string]any, _ *executor.ExecutionContext) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s := New(newRegistry(map[string]executor.Func{"block": block}), WithCancelGrace(time.Second))
	def := &workflow.Definition{Nodes: []workflow.Node{
		{ID: "n1", Type: "block", Parameters: map[string]any{"timeout_seconds": 0.05}},
	}}

	resp, err := s.Run(context.Background(), def, nil)
	require.NoError(t, err)
	n1 := statusOf(t, resp, "n1")
	assert.Equal(t, workflow.NodeFailed, n1.Status)
	assert.Contains(t, n1.Error, "executor timeout")
}

func TestRun_PanicIsNodeFailure(t *testing.T) {
	s := New(newRegistry(map[string]executor.Func{
		"boom": func(context.Context, workflow.Node, map[string]any, *executor.ExecutionContext) (map[string]any, error) {
			panic("nil detections")
		},
	}))
	def := &workflow.Definition{Nodes: []workflow.Node{{ID: "n1", Type: "boom"}}}

	resp, err := s.Run(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, "executor panic: nil detections", statusOf(t, resp, "n1").Error)
}

func TestExecute_Cancellation(t *testing.T) {
	started := make(chan struct{})
	block := executor.Func(func(ctx context.Context, _ workflow.Node, _ map[string]any, _ *executor.ExecutionContext) (map[string]any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s := New(newRegistry(map[string]executor.Func{"block": block, "vl": echo(1)}),
		WithCancelGrace(time.Second))
	def := &workflow.Definition{
		Nodes: []workflow.Node{{ID: "n1", Type: "block"}, {ID: "n2", Type: "vl"}},
		Edges: chain("n1", "n2"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := s.Execute(ctx, def, nil)
	require.NoError(t, err)
	<-started
	cancel()

	all, resp := event.Collect(events)
	require.NotNil(t, resp)
	assert.Equal(t, workflow.ExecutionFailed, resp.Status)
	assert.Equal(t, "cancelled: context canceled", resp.Error)
	n1 := statusOf(t, resp, "n1")
	assert.Equal(t, workflow.NodeFailed, n1.Status)
	assert.Equal(t, "cancelled: context canceled", n1.Error)
	n2 := statusOf(t, resp, "n2")
	assert.Equal(t, workflow.NodeSkipped, n2.Status)
	assert.Equal(t, "cancelled: context canceled", n2.Error)
	assert.Equal(t, event.TypeWorkflowComplete, all[len(all)-1].Type)
}

func TestExecute_EventOrder(t *testing.T) {
	s := New(newRegistry(map[string]executor.Func{
		"yolo":      detections(0),
		"paddleocr": echo("text"),
		"vl":        echo("caption"),
	}))

	events, err := s.Execute(context.Background(), ifWorkflow(1), nil, WithExecutionID("exec-1"))
	require.NoError(t, err)
	all, resp := event.Collect(events)
	require.NotNil(t, resp)
	assert.Equal(t, "exec-1", resp.ExecutionID)

	require.GreaterOrEqual(t, len(all), 2)
	assert.Equal(t, event.TypeWorkflowStart, all[0].Type)
	last := all[len(all)-1]
	assert.Equal(t, event.TypeWorkflowComplete, last.Type)
	assert.Equal(t, string(workflow.ExecutionCompleted), last.Status)
	assert.Equal(t, resp.FinalOutput, last.Output)

	started := make(map[string]bool)
	finished := make(map[string]int)
	for _, e := range all {
		assert.Equal(t, "exec-1", e.ExecutionID)
		switch e.Type {
		case event.TypeNodeStart:
			assert.False(t, started[e.NodeID], "node %s started twice", e.NodeID)
			started[e.NodeID] = true
		case event.TypeNodeComplete, event.TypeNodeError:
			assert.True(t, started[e.NodeID], "node %s finished before starting", e.NodeID)
			finished[e.NodeID]++
		case event.TypeNodeSkipped:
			assert.False(t, started[e.NodeID], "skipped node %s was started", e.NodeID)
			finished[e.NodeID]++
		}
	}
	for _, st := range resp.NodeStatuses {
		assert.Equal(t, 1, finished[st.NodeID], st.NodeID)
	}
	assert.Len(t, resp.NodeStatuses, 5)
}

func TestNew_SanitisesOptions(t *testing.T) {
	s := New(executor.NewRegistry(), WithWorkers(0), WithNodeTimeout(-1), WithMaxLoopIterations(-3))
	opts := s.Options()
	assert.Equal(t, 1, opts.Workers)
	assert.Equal(t, defaultNodeTimeout, opts.NodeTimeout)
	assert.Equal(t, defaultMaxLoopIterations, opts.MaxLoopIterations)
	assert.Equal(t, ModeSequential, opts.Mode)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeSequential, m)
	m, err = ParseMode("parallel")
	require.NoError(t, err)
	assert.Equal(t, ModeParallel, m)
	_, err = ParseMode("turbo")
	assert.Error(t, err)
}

func TestNewRun_ConfigOverrides(t *testing.T) {
	s := New(executor.NewRegistry(), WithMaxLoopIterations(10))
	g, err := workflow.Compile(&workflow.Definition{Nodes: []workflow.Node{{ID: "a", Type: "x"}}})
	require.NoError(t, err)

	r := s.newRun(g, nil, runOptions{config: map[string]any{
		"parallel":             true,
		"workers":              8,
		"node_timeout_seconds": 2,
		"max_loop_iterations":  50,
	}}, nil)
	assert.Equal(t, ModeParallel, r.mode)
	assert.Equal(t, 8, r.workers)
	assert.Equal(t, 2*time.Second, r.nodeTimeout)
	assert.Equal(t, 10, r.maxLoop, "config may only lower the cap")

	r = s.newRun(g, nil, runOptions{config: map[string]any{"max_loop_iterations": 3, "mode": "bogus"}}, nil)
	assert.Equal(t, 3, r.maxLoop)
	assert.Equal(t, ModeSequential, r.mode)
	assert.NotNil(t, r.inputs)
}

func TestExecute_RejectsUnsupportedConditionOperator(t *testing.T) {
	s := New(newRegistry(map[string]executor.Func{"yolo": detections(2), "vl": echo("caption")}))
	def := &workflow.Definition{
		Nodes: []workflow.Node{{ID: "n1", Type: "yolo"}, {ID: "n2", Type: "vl"}},
		Edges: []workflow.Edge{{
			ID: "e", Source: "n1", Target: "n2",
			Condition: &workflow.Condition{Field: "n1.count", Operator: "greater_than", Value: 1},
		}},
	}

	events, err := s.Execute(context.Background(), def, nil)
	assert.Nil(t, events)
	var invalid *workflow.InvalidConditionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "e", invalid.EdgeID)
	assert.ErrorIs(t, err, workflow.ErrInvalidDefinition)
}

func TestRun_EdgePredicateErrorFailsTarget(t *testing.T) {
	s := New(newRegistry(map[string]executor.Func{
		"yolo": func(context.Context, workflow.Node, map[string]any, *executor.ExecutionContext) (map[string]any, error) {
			return map[string]any{"score": math.Inf(1)}, nil
		},
		"vl":  echo("caption"),
		"ocr": echo("text"),
	}))
	def := &workflow.Definition{
		Nodes: []workflow.Node{{ID: "d", Type: "yolo"}, {ID: "v", Type: "vl"}, {ID: "o", Type: "ocr"}},
		Edges: []workflow.Edge{
			{
				ID: "e", Source: "d", Target: "v",
				Condition: &workflow.Condition{Field: "d.score", Operator: ">", Value: 0.5},
			},
			{ID: "e2", Source: "v", Target: "o"},
		},
	}

	resp, err := s.Run(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionFailed, resp.Status)
	assert.Equal(t, "1 node(s) failed: v", resp.Error)
	assert.Equal(t, workflow.NodeCompleted, statusOf(t, resp, "d").Status)
	v := statusOf(t, resp, "v")
	assert.Equal(t, workflow.NodeFailed, v.Status)
	assert.Contains(t, v.Error, "edge e condition:")
	o := statusOf(t, resp, "o")
	assert.Equal(t, workflow.NodeSkipped, o.Status)
	assert.Equal(t, "upstream node v failed", o.Error)
}

func TestCallOutcome(t *testing.T) {
	node := &workflow.Node{ID: "n1", Type: "yolo"}
	expired, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-expired.Done()
	ok := callResult{output: map[string]any{"count": 2}}

	// Returned before the deadline, observed after it.
	out, err := callOutcome(context.Background(), expired, node, time.Second, ok, false)
	require.NoError(t, err)
	assert.Equal(t, 2, out["count"])

	_, err = callOutcome(context.Background(), expired, node, time.Second, ok, true)
	assert.ErrorIs(t, err, executor.ErrExecutorTimeout)

	_, err = callOutcome(context.Background(), expired, node, time.Second,
		callResult{err: context.DeadlineExceeded}, false)
	assert.ErrorIs(t, err, executor.ErrExecutorTimeout)

	modelDown := errors.New("model unavailable")
	_, err = callOutcome(context.Background(), context.Background(), node, time.Second,
		callResult{err: modelDown}, false)
	assert.ErrorIs(t, err, modelDown)

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	_, err = callOutcome(cancelled, cancelled, node, time.Second, callResult{err: context.Canceled}, true)
	assert.ErrorIs(t, err, executor.ErrCancelled)

	out, err = callOutcome(cancelled, cancelled, node, time.Second, callResult{}, true)
	require.NoError(t, err)
	assert.NotNil(t, out)
}
