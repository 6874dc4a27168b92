//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package execution runs workflows on behalf of callers and keeps a history
// of every run.
package execution

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-workflow-go/event"
	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/scheduler"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// Errors.
var (
	ErrNotFound   = errors.New("execution not found")
	ErrNotRunning = errors.New("execution is not running")
)

// Store persists execution records. A record is saved with status running
// when the run starts and overwritten with the final response.
type Store interface {
	Save(ctx context.Context, resp *workflow.ExecutionResponse) error
	// Get returns ErrNotFound for an unknown id.
	Get(ctx context.Context, id string) (*workflow.ExecutionResponse, error)
	// List returns up to limit records, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]*workflow.ExecutionResponse, error)
	Close() error
}

// Service starts runs on a scheduler, records them and tracks the ones in
// flight so they can be observed and cancelled.
type Service struct {
	sched *scheduler.Scheduler
	store Store

	mu      sync.Mutex
	running map[string]*tracker
}

// NewService creates a service.
func NewService(sched *scheduler.Scheduler, store Store) *Service {
	return &Service{
		sched:   sched,
		store:   store,
		running: make(map[string]*tracker),
	}
}

// Scheduler returns the underlying scheduler.
func (s *Service) Scheduler() *scheduler.Scheduler { return s.sched }

// Run executes def and blocks until it finishes.
func (s *Service) Run(
	ctx context.Context,
	def *workflow.Definition,
	inputs map[string]any,
	opts ...scheduler.RunOption,
) (*workflow.ExecutionResponse, error) {
	events, err := s.Stream(ctx, def, inputs, opts...)
	if err != nil {
		return nil, err
	}
	_, resp := event.Collect(events)
	if resp == nil {
		return nil, errors.New("workflow finished without a completion event")
	}
	return resp, nil
}

// Stream starts def and returns its events. When ctx ends the run is
// cancelled and the remaining events are drained without being delivered.
func (s *Service) Stream(
	ctx context.Context,
	def *workflow.Definition,
	inputs map[string]any,
	opts ...scheduler.RunOption,
) (<-chan *event.Event, error) {
	id := uuid.New().String()
	runCtx, cancel := context.WithCancel(ctx)
	opts = append(opts, scheduler.WithExecutionID(id))
	events, err := s.sched.Execute(runCtx, def, inputs, opts...)
	if err != nil {
		cancel()
		return nil, err
	}

	t := newTracker(id, def.Name, cancel)
	s.mu.Lock()
	s.running[id] = t
	s.mu.Unlock()
	if err := s.store.Save(ctx, t.snapshot()); err != nil {
		log.Errorf("execution %s: save running record: %v", id, err)
	}

	out := make(chan *event.Event, s.sched.Options().EventBuffer)
	go func() {
		defer close(out)
		defer cancel()
		delivering := true
		for e := range events {
			t.apply(e)
			if e.IsTerminal() && e.Result != nil {
				s.finish(context.WithoutCancel(ctx), id, e.Result)
			}
			if !delivering {
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				delivering = false
			}
		}
		s.mu.Lock()
		delete(s.running, id)
		s.mu.Unlock()
	}()
	return out, nil
}

// Start runs def in the background and returns its execution id. The run
// outlives ctx and is only stopped by Cancel.
func (s *Service) Start(
	ctx context.Context,
	def *workflow.Definition,
	inputs map[string]any,
	opts ...scheduler.RunOption,
) (string, error) {
	events, err := s.Stream(context.WithoutCancel(ctx), def, inputs, opts...)
	if err != nil {
		return "", err
	}
	first := <-events
	go func() {
		for range events {
		}
	}()
	if first == nil {
		return "", errors.New("workflow produced no events")
	}
	return first.ExecutionID, nil
}

func (s *Service) finish(ctx context.Context, id string, resp *workflow.ExecutionResponse) {
	if err := s.store.Save(ctx, resp); err != nil {
		log.Errorf("execution %s: save result: %v", id, err)
	}
}

// Get returns the record of an execution. A run still in flight reports the
// node statuses seen so far.
func (s *Service) Get(ctx context.Context, id string) (*workflow.ExecutionResponse, error) {
	s.mu.Lock()
	t, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		return t.snapshot(), nil
	}
	return s.store.Get(ctx, id)
}

// List returns recorded executions, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]*workflow.ExecutionResponse, error) {
	return s.store.List(ctx, limit)
}

// Cancel stops a running execution.
func (s *Service) Cancel(id string) error {
	s.mu.Lock()
	t, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	log.Infof("execution %s: cancel requested", id)
	t.cancel()
	return nil
}

// Running reports whether id is in flight.
func (s *Service) Running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

// tracker folds the event stream of one run into a response.
type tracker struct {
	cancel context.CancelFunc

	mu   sync.Mutex
	resp workflow.ExecutionResponse
}

func newTracker(id, name string, cancel context.CancelFunc) *tracker {
	return &tracker{
		cancel: cancel,
		resp: workflow.ExecutionResponse{
			ExecutionID:  id,
			Status:       workflow.ExecutionRunning,
			WorkflowName: name,
			NodeStatuses: []workflow.NodeExecutionStatus{},
			StartedAt:    time.Now(),
		},
	}
}

func (t *tracker) apply(e *event.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e.Type {
	case event.TypeNodeStart:
		ts := e.Timestamp
		t.resp.NodeStatuses = append(t.resp.NodeStatuses, workflow.NodeExecutionStatus{
			NodeID:    e.NodeID,
			NodeType:  e.NodeType,
			Status:    workflow.NodeRunning,
			Iteration: e.Iteration,
			StartedAt: &ts,
		})
	case event.TypeNodeComplete, event.TypeNodeError, event.TypeNodeSkipped:
		ts := e.Timestamp
		st := t.find(e)
		if st == nil {
			t.resp.NodeStatuses = append(t.resp.NodeStatuses, workflow.NodeExecutionStatus{
				NodeID:    e.NodeID,
				NodeType:  e.NodeType,
				Iteration: e.Iteration,
			})
			st = &t.resp.NodeStatuses[len(t.resp.NodeStatuses)-1]
		}
		st.Status = workflow.NodeStatus(e.Status)
		st.Output = e.Output
		st.Error = e.Error
		st.FinishedAt = &ts
		if e.Type == event.TypeNodeComplete {
			st.Progress = 1
		}
	case event.TypeWorkflowComplete:
		if e.Result != nil {
			t.resp = *e.Result
		}
	}
}

// find returns the running record matching e.
func (t *tracker) find(e *event.Event) *workflow.NodeExecutionStatus {
	for i := len(t.resp.NodeStatuses) - 1; i >= 0; i-- {
		st := &t.resp.NodeStatuses[i]
		if st.NodeID == e.NodeID && st.Status == workflow.NodeRunning && sameIteration(st.Iteration, e.Iteration) {
			return st
		}
	}
	return nil
}

func sameIteration(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (t *tracker) snapshot() *workflow.ExecutionResponse {
	t.mu.Lock()
	defer t.mu.Unlock()
	resp := t.resp
	resp.NodeStatuses = append([]workflow.NodeExecutionStatus(nil), t.resp.NodeStatuses...)
	return &resp
}
