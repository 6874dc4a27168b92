//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package scheduler executes compiled workflows against an executor registry.
//
// A run is driven by a single coordinator that owns every piece of run state.
// In parallel mode the coordinator hands ready nodes to a bounded worker pool
// and receives their results over a channel; workers never touch run state.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-workflow-go/event"
	"trpc.group/trpc-go/trpc-workflow-go/executor"
	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// Mode selects how ready nodes are dispatched.
type Mode string

// Execution modes.
const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// ParseMode validates a mode name. The empty string means sequential.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSequential:
		return ModeSequential, nil
	case ModeParallel:
		return ModeParallel, nil
	}
	return "", fmt.Errorf("unknown execution mode %q", s)
}

const (
	defaultEventBuffer       = 256
	defaultWorkers           = 4
	defaultNodeTimeout       = 5 * time.Minute
	defaultCancelGrace       = 5 * time.Second
	defaultMaxLoopIterations = 100
)

// Options contains the scheduler configuration.
type Options struct {
	// Mode is the default execution mode (default: sequential).
	Mode Mode
	// Workers bounds concurrent node executions in parallel mode (default: 4).
	Workers int
	// NodeTimeout is the deadline of one executor call (default: 5m).
	// A node overrides it with parameters.timeout_seconds.
	NodeTimeout time.Duration
	// CancelGrace is how long in-flight calls may take to return once the run
	// is cancelled or a call times out (default: 5s).
	CancelGrace time.Duration
	// MaxLoopIterations caps every loop node (default: 100).
	MaxLoopIterations int
	// EventBuffer is the buffer size of the event channel (default: 256).
	EventBuffer int
}

// Option is a function that configures a Scheduler.
type Option func(*Options)

// WithMode sets the default execution mode.
func WithMode(mode Mode) Option {
	return func(o *Options) {
		o.Mode = mode
	}
}

// WithWorkers sets the parallel worker count.
func WithWorkers(n int) Option {
	return func(o *Options) {
		o.Workers = n
	}
}

// WithNodeTimeout sets the default executor call deadline.
func WithNodeTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.NodeTimeout = d
	}
}

// WithCancelGrace sets the grace period given to in-flight calls.
func WithCancelGrace(d time.Duration) Option {
	return func(o *Options) {
		o.CancelGrace = d
	}
}

// WithMaxLoopIterations sets the loop iteration cap.
func WithMaxLoopIterations(n int) Option {
	return func(o *Options) {
		o.MaxLoopIterations = n
	}
}

// WithEventBuffer sets the event channel buffer size.
func WithEventBuffer(n int) Option {
	return func(o *Options) {
		o.EventBuffer = n
	}
}

// Scheduler executes workflow definitions.
type Scheduler struct {
	registry *executor.Registry
	opts     Options
}

// New creates a scheduler resolving node types through registry.
func New(registry *executor.Registry, opts ...Option) *Scheduler {
	options := Options{
		Mode:              ModeSequential,
		Workers:           defaultWorkers,
		NodeTimeout:       defaultNodeTimeout,
		CancelGrace:       defaultCancelGrace,
		MaxLoopIterations: defaultMaxLoopIterations,
		EventBuffer:       defaultEventBuffer,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Workers < 1 {
		options.Workers = 1
	}
	if options.NodeTimeout <= 0 {
		options.NodeTimeout = defaultNodeTimeout
	}
	if options.CancelGrace < 0 {
		options.CancelGrace = 0
	}
	if options.MaxLoopIterations < 0 {
		options.MaxLoopIterations = defaultMaxLoopIterations
	}
	if options.EventBuffer < 0 {
		options.EventBuffer = defaultEventBuffer
	}
	return &Scheduler{registry: registry, opts: options}
}

// Registry returns the executor registry.
func (s *Scheduler) Registry() *executor.Registry { return s.registry }

// Options returns the effective configuration.
func (s *Scheduler) Options() Options { return s.opts }

// RunOption configures a single execution.
type RunOption func(*runOptions)

type runOptions struct {
	executionID string
	config      map[string]any
}

// WithExecutionID fixes the execution id instead of generating one.
func WithExecutionID(id string) RunOption {
	return func(o *runOptions) {
		o.executionID = id
	}
}

// WithConfig passes the per-run config map. The keys mode, max_workers,
// node_timeout_seconds and max_loop_iterations override the scheduler
// options; the whole map is visible to executors.
func WithConfig(cfg map[string]any) RunOption {
	return func(o *runOptions) {
		o.config = cfg
	}
}

// Execute validates def and starts running it. The returned channel yields
// workflow_start first and workflow_complete last, and is closed after it.
// Structural errors are returned before anything runs.
func (s *Scheduler) Execute(
	ctx context.Context,
	def *workflow.Definition,
	inputs map[string]any,
	opts ...RunOption,
) (<-chan *event.Event, error) {
	g, err := workflow.Compile(def)
	if err != nil {
		return nil, err
	}
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.executionID == "" {
		ro.executionID = uuid.New().String()
	}
	events := make(chan *event.Event, s.opts.EventBuffer)
	r := s.newRun(g, inputs, ro, events)
	go func() {
		defer close(events)
		r.execute(ctx)
	}()
	return events, nil
}

// Run executes def and blocks until it finishes.
func (s *Scheduler) Run(
	ctx context.Context,
	def *workflow.Definition,
	inputs map[string]any,
	opts ...RunOption,
) (*workflow.ExecutionResponse, error) {
	events, err := s.Execute(ctx, def, inputs, opts...)
	if err != nil {
		return nil, err
	}
	_, result := event.Collect(events)
	if result == nil {
		return nil, errors.New("workflow finished without a completion event")
	}
	return result, nil
}

func (s *Scheduler) newRun(g *workflow.Graph, inputs map[string]any, ro runOptions, events chan<- *event.Event) *run {
	if inputs == nil {
		inputs = map[string]any{}
	}
	r := &run{
		registry:    s.registry,
		graph:       g,
		id:          ro.executionID,
		name:        g.Definition().Name,
		inputs:      inputs,
		config:      ro.config,
		mode:        s.opts.Mode,
		workers:     s.opts.Workers,
		nodeTimeout: s.opts.NodeTimeout,
		cancelGrace: s.opts.CancelGrace,
		maxLoop:     s.opts.MaxLoopIterations,
		events:      events,
	}
	cfg := ro.config
	if v, ok := cfg["mode"].(string); ok && v != "" {
		if m, err := ParseMode(v); err == nil {
			r.mode = m
		} else {
			log.Warnf("workflow %s: %v, using %s", r.id, err, r.mode)
		}
	}
	if parallel, ok := cfg["parallel"].(bool); ok && parallel {
		r.mode = ModeParallel
	}
	for _, key := range []string{"max_workers", "workers"} {
		if n, ok := workflow.ToInt(cfg[key]); ok && n > 0 {
			r.workers = n
			break
		}
	}
	if f, ok := workflow.ToFloat(cfg["node_timeout_seconds"]); ok && f > 0 {
		r.nodeTimeout = time.Duration(f * float64(time.Second))
	}
	if n, ok := workflow.ToInt(cfg["max_loop_iterations"]); ok && n >= 0 && n < r.maxLoop {
		r.maxLoop = n
	}
	return r
}
