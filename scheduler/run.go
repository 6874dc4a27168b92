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
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"trpc.group/trpc-go/trpc-workflow-go/event"
	"trpc.group/trpc-go/trpc-workflow-go/executor"
	itelemetry "trpc.group/trpc-go/trpc-workflow-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/telemetry/metric"
	"trpc.group/trpc-go/trpc-workflow-go/telemetry/trace"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// run holds the immutable settings of one execution. Mutable state lives in
// scopes, each owned by exactly one goroutine.
type run struct {
	registry    *executor.Registry
	graph       *workflow.Graph
	id          string
	name        string
	inputs      map[string]any
	config      map[string]any
	mode        Mode
	workers     int
	nodeTimeout time.Duration
	cancelGrace time.Duration
	maxLoop     int

	events   chan<- *event.Event
	dropping atomic.Bool
}

func (r *run) execute(ctx context.Context) {
	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameExecuteWorkflow)
	defer span.End()
	itelemetry.TraceWorkflow(span, r.id, r.name, string(r.mode), r.graph.Len())

	started := time.Now()
	log.Infof("workflow %s (%s) started: %d nodes, mode=%s", r.name, r.id, r.graph.Len(), r.mode)
	r.emit(ctx, event.New(r.id, event.TypeWorkflowStart,
		event.WithStatus(string(workflow.ExecutionRunning))))

	top := r.newScope(-1, nil, make(map[string]any), r.mode == ModeParallel)
	top.execute(ctx)

	resp := r.response(top, started, ctx.Err())
	metric.RecordRun(ctx, r.name, string(resp.Status))
	log.Infof("workflow %s (%s) finished: status=%s in %.1fms",
		r.name, r.id, resp.Status, *resp.ExecutionTimeMs)
	r.emit(ctx, event.New(r.id, event.TypeWorkflowComplete,
		event.WithStatus(string(resp.Status)),
		event.WithOutput(resp.FinalOutput),
		event.WithError(resp.Error),
		event.WithResult(resp),
	))
}

func (r *run) response(top *scope, started time.Time, cancelErr error) *workflow.ExecutionResponse {
	finished := time.Now()
	elapsed := float64(finished.Sub(started).Microseconds()) / 1000
	resp := &workflow.ExecutionResponse{
		ExecutionID:     r.id,
		Status:          workflow.ExecutionCompleted,
		WorkflowName:    r.name,
		NodeStatuses:    make([]workflow.NodeExecutionStatus, 0, len(top.statuses)),
		FinalOutput:     make(map[string]any),
		ExecutionTimeMs: &elapsed,
		StartedAt:       started,
		FinishedAt:      &finished,
	}
	var failed []string
	for _, st := range top.statuses {
		resp.NodeStatuses = append(resp.NodeStatuses, *st)
		switch st.Status {
		case workflow.NodeCompleted:
			resp.FinalOutput[st.NodeID] = st.Output
		case workflow.NodeFailed:
			failed = append(failed, st.NodeID)
		}
	}
	if len(failed) > 0 {
		resp.Status = workflow.ExecutionFailed
		resp.Error = fmt.Sprintf("%d node(s) failed: %s", len(failed), strings.Join(failed, ", "))
	}
	if cancelErr != nil {
		resp.Status = workflow.ExecutionFailed
		resp.Error = fmt.Sprintf("%v: %v", executor.ErrCancelled, cancelErr)
	}
	return resp
}

// emit blocks while the consumer is slow. Once the run is cancelled a send
// waits at most the cancel grace, and after one drop later events are only
// delivered if there is buffer room.
func (r *run) emit(ctx context.Context, e *event.Event) {
	select {
	case r.events <- e:
		return
	default:
	}
	if ctx.Err() == nil {
		select {
		case r.events <- e:
			return
		case <-ctx.Done():
		}
	}
	if r.dropping.Load() {
		log.Debugf("workflow %s: dropped %s event of %q", r.id, e.Type, e.NodeID)
		return
	}
	timer := time.NewTimer(r.cancelGrace)
	defer timer.Stop()
	select {
	case r.events <- e:
	case <-timer.C:
		r.dropping.Store(true)
		log.Warnf("workflow %s: consumer gone, dropping events from %s on", r.id, e.Type)
	}
}

func (r *run) timeoutFor(node *workflow.Node) time.Duration {
	if f, ok := workflow.ToFloat(node.Parameters["timeout_seconds"]); ok && f > 0 {
		return time.Duration(f * float64(time.Second))
	}
	return r.nodeTimeout
}

type callResult struct {
	output map[string]any
	err    error
}

// call runs one executor invocation under the node deadline. A call that
// outlives its deadline or the run gets the cancel grace to return; after
// that its result is discarded.
func (r *run) call(
	ctx context.Context,
	exec executor.Executor,
	node *workflow.Node,
	inputs map[string]any,
	ec *executor.ExecutionContext,
) (map[string]any, error) {
	timeout := r.timeoutFor(node)
	nctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- callResult{err: fmt.Errorf("executor panic: %v", p)}
			}
		}()
		out, err := exec.Run(nctx, *node, inputs, ec)
		done <- callResult{output: out, err: err}
	}()

	var (
		res  callResult
		late bool
	)
	select {
	case res = <-done:
	case <-nctx.Done():
		late = true
		grace := time.NewTimer(r.cancelGrace)
		select {
		case res = <-done:
		case <-grace.C:
			res = callResult{err: nctx.Err()}
		}
		grace.Stop()
	}
	return callOutcome(ctx, nctx, node, timeout, res, late)
}

// callOutcome classifies a finished call. late reports that the result was
// only collected after the node context was done. A success collected
// before that stands even if the deadline has passed since; one collected
// after the node deadline is a timeout.
func callOutcome(
	ctx, nctx context.Context,
	node *workflow.Node,
	timeout time.Duration,
	res callResult,
	late bool,
) (map[string]any, error) {
	timedOut := ctx.Err() == nil && errors.Is(nctx.Err(), context.DeadlineExceeded)
	switch {
	case res.err == nil && !(late && timedOut):
		if res.output == nil {
			res.output = make(map[string]any)
		}
		return res.output, nil
	case ctx.Err() != nil:
		return nil, fmt.Errorf("%w: %v", executor.ErrCancelled, ctx.Err())
	case timedOut && (late || errors.Is(res.err, context.DeadlineExceeded)):
		return nil, fmt.Errorf("%w: node %s exceeded %s", executor.ErrExecutorTimeout, node.ID, timeout)
	default:
		return nil, res.err
	}
}
