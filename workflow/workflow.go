//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package workflow holds the workflow definition model, its structural
// validator and the compiled, index based graph the scheduler walks.
package workflow

import "time"

// Built-in node types.
const (
	NodeTypeImageInput = "imageinput"
	NodeTypeIf         = "if"
	NodeTypeLoop       = "loop"
	NodeTypeMerge      = "merge"
)

// Model service node types. They are resolved by remote executors.
const (
	NodeTypeYOLO      = "yolo"
	NodeTypeEDOCR2    = "edocr2"
	NodeTypeEDGNet    = "edgnet"
	NodeTypeSkinModel = "skinmodel"
	NodeTypePaddleOCR = "paddleocr"
	NodeTypeVL        = "vl"
)

// Source handles understood by control nodes.
const (
	HandleTrue  = "true"
	HandleFalse = "false"
	HandleBody  = "body"
	HandleLoop  = "loop"
	HandleDone  = "done"
)

// Position is the editor position of a node. Execution ignores it.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is one step of a workflow.
type Node struct {
	ID         string         `json:"id" yaml:"id"`
	Type       string         `json:"type" yaml:"type"`
	Label      string         `json:"label,omitempty" yaml:"label,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Position   *Position      `json:"position,omitempty" yaml:"position,omitempty"`
}

// Edge connects two nodes.
type Edge struct {
	ID           string     `json:"id" yaml:"id"`
	Source       string     `json:"source" yaml:"source"`
	Target       string     `json:"target" yaml:"target"`
	SourceHandle string     `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
	TargetHandle string     `json:"targetHandle,omitempty" yaml:"targetHandle,omitempty"`
	Condition    *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
	// LoopBack marks the edge closing a loop body. It must target a loop node.
	LoopBack bool `json:"loopBack,omitempty" yaml:"loopBack,omitempty"`
}

// Branch returns the if-branch label carried by the edge, or "".
func (e Edge) Branch() string {
	switch e.SourceHandle {
	case HandleTrue, HandleFalse:
		return e.SourceHandle
	}
	if e.Condition != nil {
		return e.Condition.Branch
	}
	return ""
}

// IsBodyHandle reports whether the edge leaves a loop node into its body.
func (e Edge) IsBodyHandle() bool {
	return e.SourceHandle == HandleBody || e.SourceHandle == HandleLoop
}

// Definition is a complete workflow graph as submitted by a caller.
type Definition struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
	Nodes       []Node `json:"nodes" yaml:"nodes"`
	Edges       []Edge `json:"edges" yaml:"edges"`
}

// Clone returns a deep copy of the definition. Parameter maps and slices are
// copied so that the clone can be modified independently.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	out := &Definition{
		Name:        d.Name,
		Description: d.Description,
		Version:     d.Version,
		Nodes:       make([]Node, len(d.Nodes)),
		Edges:       make([]Edge, len(d.Edges)),
	}
	for i, n := range d.Nodes {
		n.Parameters = CloneMap(n.Parameters)
		if n.Position != nil {
			p := *n.Position
			n.Position = &p
		}
		out.Nodes[i] = n
	}
	for i, e := range d.Edges {
		if e.Condition != nil {
			c := *e.Condition
			c.Value = cloneValue(c.Value)
			e.Condition = &c
		}
		out.Edges[i] = e
	}
	return out
}

// CloneMap deep copies a JSON-like map.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = cloneValue(x)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// NodeStatus is the lifecycle state of one node execution.
type NodeStatus string

// Node states.
const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

// Terminal reports whether no further transition can happen.
func (s NodeStatus) Terminal() bool {
	return s == NodeCompleted || s == NodeFailed || s == NodeSkipped
}

// ExecutionStatus is the aggregate state of a run.
type ExecutionStatus string

// Run states.
const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// NodeExecutionStatus records one execution of one node. Nodes inside a loop
// body get one record per iteration.
type NodeExecutionStatus struct {
	NodeID     string         `json:"node_id"`
	NodeType   string         `json:"node_type,omitempty"`
	Status     NodeStatus     `json:"status"`
	Progress   float64        `json:"progress"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	Iteration  *int           `json:"iteration,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// ExecutionResponse is the aggregate result of one run.
type ExecutionResponse struct {
	ExecutionID     string                `json:"execution_id"`
	Status          ExecutionStatus       `json:"status"`
	WorkflowName    string                `json:"workflow_name"`
	NodeStatuses    []NodeExecutionStatus `json:"node_statuses"`
	FinalOutput     map[string]any        `json:"final_output,omitempty"`
	ExecutionTimeMs *float64              `json:"execution_time_ms,omitempty"`
	Error           string                `json:"error,omitempty"`
	StartedAt       time.Time             `json:"started_at"`
	FinishedAt      *time.Time            `json:"finished_at,omitempty"`
}

// LastStatus returns the most recent record for nodeID.
func (r *ExecutionResponse) LastStatus(nodeID string) (NodeExecutionStatus, bool) {
	for i := len(r.NodeStatuses) - 1; i >= 0; i-- {
		if r.NodeStatuses[i].NodeID == nodeID {
			return r.NodeStatuses[i], true
		}
	}
	return NodeExecutionStatus{}, false
}

// StatusesOf returns every record of nodeID in execution order.
func (r *ExecutionResponse) StatusesOf(nodeID string) []NodeExecutionStatus {
	var out []NodeExecutionStatus
	for _, st := range r.NodeStatuses {
		if st.NodeID == nodeID {
			out = append(out, st)
		}
	}
	return out
}
