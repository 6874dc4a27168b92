//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package executor defines the node executor contract and the registry that
// maps node types onto executors.
package executor

import (
	"context"
	"errors"
	"fmt"

	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// Executor runs one node. The returned map becomes the node output.
type Executor interface {
	Run(ctx context.Context, node workflow.Node, inputs map[string]any, ec *ExecutionContext) (map[string]any, error)
}

// Func adapts a plain function to Executor.
type Func func(ctx context.Context, node workflow.Node, inputs map[string]any, ec *ExecutionContext) (map[string]any, error)

// Run implements Executor.
func (f Func) Run(ctx context.Context, node workflow.Node, inputs map[string]any, ec *ExecutionContext) (map[string]any, error) {
	return f(ctx, node, inputs, ec)
}

// Factory creates an executor for one node type.
type Factory func() Executor

// ExecutionContext carries run level state into an executor call.
type ExecutionContext struct {
	ExecutionID  string
	WorkflowName string
	// Inputs is the payload the run was started with.
	Inputs map[string]any
	// Outputs holds the outputs produced so far, keyed by node id.
	// Executors must treat it as read-only.
	Outputs map[string]any
	// Predecessors lists the ids of the nodes feeding this call through a
	// taken edge, in edge definition order.
	Predecessors []string
	// Iteration is the zero based loop iteration, or -1 outside loops.
	Iteration int
	Config    map[string]any
}

// Errors.
var (
	ErrNotRegistered   = errors.New("executor not registered")
	ErrExecutorTimeout = errors.New("executor timeout")
	ErrCancelled       = errors.New("cancelled")
)

// NotRegisteredError is returned by Registry.Get for an unknown type.
type NotRegisteredError struct {
	Type string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("executor not registered: %s", e.Type)
}

// Is implements errors.Is.
func (e *NotRegisteredError) Is(target error) bool { return target == ErrNotRegistered }
