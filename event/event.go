//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package event provides the progress events a workflow run emits.
package event

import (
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// Type is the kind of a progress event. The values are part of the wire
// format.
type Type string

// Event types.
const (
	TypeWorkflowStart    Type = "workflow_start"
	TypeNodeStart        Type = "node_start"
	TypeNodeComplete     Type = "node_complete"
	TypeNodeError        Type = "node_error"
	TypeNodeSkipped      Type = "node_skipped"
	TypeWorkflowComplete Type = "workflow_complete"
)

// Event is one state transition of a run.
type Event struct {
	// ID is the unique identifier of the event.
	ID string `json:"id"`

	// ExecutionID identifies the run that emitted the event.
	ExecutionID string `json:"execution_id"`

	Type Type `json:"type"`

	// NodeID and NodeType are empty for workflow level events.
	NodeID   string `json:"node_id,omitempty"`
	NodeType string `json:"node_type,omitempty"`

	// Status is the node status for node events and the run status for
	// workflow_complete.
	Status string         `json:"status,omitempty"`
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`

	// Iteration is set for nodes running inside a loop body.
	Iteration *int `json:"iteration,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// Result carries the aggregate response on workflow_complete. It is
	// not serialized and is meant for in-process consumers.
	Result *workflow.ExecutionResponse `json:"-"`
}

// Option configures an Event.
type Option func(*Event)

// WithNode sets the node the event is about.
func WithNode(id, nodeType string) Option {
	return func(e *Event) {
		e.NodeID = id
		e.NodeType = nodeType
	}
}

// WithStatus sets the status.
func WithStatus(status string) Option {
	return func(e *Event) {
		e.Status = status
	}
}

// WithOutput sets the output.
func WithOutput(output map[string]any) Option {
	return func(e *Event) {
		e.Output = output
	}
}

// WithError sets the error message.
func WithError(msg string) Option {
	return func(e *Event) {
		e.Error = msg
	}
}

// WithIteration sets the loop iteration.
func WithIteration(it *int) Option {
	return func(e *Event) {
		if it != nil {
			v := *it
			e.Iteration = &v
		}
	}
}

// WithResult attaches the aggregate response.
func WithResult(r *workflow.ExecutionResponse) Option {
	return func(e *Event) {
		e.Result = r
	}
}

// New creates an event with a generated ID and timestamp.
func New(executionID string, typ Type, opts ...Option) *Event {
	e := &Event{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		Type:        typ,
		Timestamp:   time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsTerminal reports whether the event closes the run.
func (e *Event) IsTerminal() bool {
	return e != nil && e.Type == TypeWorkflowComplete
}

// IsNodeTerminal reports whether the event finishes a node.
func (e *Event) IsNodeTerminal() bool {
	switch e.Type {
	case TypeNodeComplete, TypeNodeError, TypeNodeSkipped:
		return true
	}
	return false
}

// Clone returns a copy of the event. Output is copied one level deep.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Output != nil {
		clone.Output = make(map[string]any, len(e.Output))
		for k, v := range e.Output {
			clone.Output[k] = v
		}
	}
	if e.Iteration != nil {
		it := *e.Iteration
		clone.Iteration = &it
	}
	return &clone
}

// Collect drains ch and returns every event together with the result
// carried by workflow_complete, if one arrived.
func Collect(ch <-chan *Event) ([]*Event, *workflow.ExecutionResponse) {
	var (
		events []*Event
		result *workflow.ExecutionResponse
	)
	for e := range ch {
		events = append(events, e)
		if e.IsTerminal() {
			result = e.Result
		}
	}
	return events, result
}
