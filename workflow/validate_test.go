//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chain(ids ...string) *Definition {
	def := &Definition{Name: "chain", Version: "1"}
	for i, id := range ids {
		def.Nodes = append(def.Nodes, Node{ID: id, Type: "yolo"})
		if i > 0 {
			def.Edges = append(def.Edges, Edge{ID: "e" + id, Source: ids[i-1], Target: id})
		}
	}
	return def
}

func messages(errs []error) []string {
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}

func TestValidate_EmptyGraph(t *testing.T) {
	err := Validate(&Definition{Name: "empty"})
	var empty *EmptyGraphError
	require.ErrorAs(t, err, &empty)
	assert.ErrorIs(t, err, ErrInvalidDefinition)
	assert.Contains(t, err.Error(), "empty graph")

	assert.Error(t, Validate(nil))
}

func TestValidate_DuplicateNodeID(t *testing.T) {
	def := &Definition{Nodes: []Node{
		{ID: "node1", Type: "imageinput"},
		{ID: "node1", Type: "yolo"},
	}}
	err := Validate(def)
	var dup *DuplicateNodeIDError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "node1", dup.NodeID)
	assert.Contains(t, err.Error(), "node1")
	assert.Contains(t, err.Error(), "duplicate")
}

func TestValidate_DanglingEdge(t *testing.T) {
	def := chain("a", "b")
	def.Edges = append(def.Edges, Edge{ID: "bad", Source: "b", Target: "ghost"})
	err := Validate(def)
	var dangling *DanglingEdgeError
	require.ErrorAs(t, err, &dangling)
	assert.Equal(t, "bad", dangling.EdgeID)
	assert.Equal(t, "target", dangling.Endpoint)
	assert.Equal(t, "ghost", dangling.NodeID)
}

func TestValidate_Cycle(t *testing.T) {
	def := chain("a", "b", "c")
	def.Edges = append(def.Edges, Edge{ID: "back", Source: "c", Target: "a"})
	err := Validate(def)
	var cycle *CycleDetectedError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"a", "b", "c", "a"}, cycle.Path)
}

func TestValidate_FirstFailureWins(t *testing.T) {
	def := &Definition{
		Nodes: []Node{{ID: "x", Type: "yolo"}, {ID: "x", Type: "yolo"}},
		Edges: []Edge{{ID: "e1", Source: "x", Target: "missing"}},
	}
	var dup *DuplicateNodeIDError
	assert.ErrorAs(t, Validate(def), &dup)

	want := []string{
		"duplicate node id: x",
		`dangling edge e1: target node "missing" does not exist`,
	}
	if diff := cmp.Diff(want, messages(ValidateAll(def))); diff != "" {
		t.Fatalf("ValidateAll mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate_Idempotent(t *testing.T) {
	defs := []*Definition{
		chain("a", "b", "c"),
		{},
		{Nodes: []Node{{ID: "n"}, {ID: "n"}}},
	}
	for _, def := range defs {
		first := messages(ValidateAll(def))
		second := messages(ValidateAll(def))
		assert.Empty(t, cmp.Diff(first, second))
	}
}

func loopDefinition() *Definition {
	return &Definition{
		Name: "loop",
		Nodes: []Node{
			{ID: "in", Type: NodeTypeImageInput},
			{ID: "loop", Type: NodeTypeLoop, Parameters: map[string]any{"count": 3}},
			{ID: "work", Type: "yolo"},
			{ID: "check", Type: "edocr2"},
			{ID: "out", Type: NodeTypeMerge},
		},
		Edges: []Edge{
			{ID: "e1", Source: "in", Target: "loop"},
			{ID: "e2", Source: "loop", Target: "work", SourceHandle: HandleBody},
			{ID: "e3", Source: "work", Target: "check"},
			{ID: "e4", Source: "check", Target: "loop", LoopBack: true},
			{ID: "e5", Source: "loop", Target: "out", SourceHandle: HandleDone},
		},
	}
}

func TestValidate_LoopBackEdgeAllowed(t *testing.T) {
	require.NoError(t, Validate(loopDefinition()))
}

func TestValidate_UntaggedLoopEdgeRejected(t *testing.T) {
	def := loopDefinition()
	def.Edges[3].LoopBack = false
	err := Validate(def)
	var loopErr *InvalidLoopEdgeError
	require.ErrorAs(t, err, &loopErr)
	assert.Equal(t, "e4", loopErr.EdgeID)
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestValidate_LoopBackMustTargetLoop(t *testing.T) {
	def := chain("a", "b")
	def.Edges = append(def.Edges, Edge{ID: "lb", Source: "b", Target: "a", LoopBack: true})
	var loopErr *InvalidLoopEdgeError
	require.ErrorAs(t, Validate(def), &loopErr)
	assert.Contains(t, loopErr.Error(), "must target a loop node")
}

func TestValidate_LoopBodyEnteredFromOutside(t *testing.T) {
	def := loopDefinition()
	def.Edges = append(def.Edges, Edge{ID: "side", Source: "in", Target: "check"})
	var loopErr *InvalidLoopEdgeError
	require.ErrorAs(t, Validate(def), &loopErr)
	assert.Equal(t, "side", loopErr.EdgeID)
	assert.Contains(t, loopErr.Error(), "from outside")
}

func TestValidate_LoopWithoutBackEdge(t *testing.T) {
	def := loopDefinition()
	def.Edges = def.Edges[:3]
	var loopErr *InvalidLoopEdgeError
	require.ErrorAs(t, Validate(def), &loopErr)
	assert.Equal(t, "loop", loopErr.NodeID)
}

func TestValidate_ErrorsMatchSentinel(t *testing.T) {
	errs := []error{
		&EmptyGraphError{},
		&DuplicateNodeIDError{NodeID: "a"},
		&DanglingEdgeError{EdgeID: "e", Endpoint: "source", NodeID: "a"},
		&InvalidLoopEdgeError{NodeID: "l", Reason: "r"},
		&CycleDetectedError{Path: []string{"a", "a"}},
		&InvalidConditionError{EdgeID: "e", Operator: "matches"},
	}
	for _, err := range errs {
		assert.True(t, errors.Is(err, ErrInvalidDefinition), err.Error())
	}
}

func TestValidate_EdgeConditionOperator(t *testing.T) {
	def := chain("n1", "n2")
	def.Edges[0].Condition = &Condition{Field: "n1.count", Operator: "greater_than", Value: 1}

	err := Validate(def)
	var invalid *InvalidConditionError
	require.ErrorAs(t, err, &invalid)
	assert.ErrorIs(t, err, ErrInvalidDefinition)
	assert.Equal(t, "en2", invalid.EdgeID)
	assert.Equal(t, "greater_than", invalid.Operator)
	assert.Equal(t, `invalid condition on edge en2: unsupported operator "greater_than"`, err.Error())

	def.Edges[0].Condition.Operator = "gt"
	assert.NoError(t, Validate(def))

	// A branch label alone is not a predicate.
	def.Edges[0].Condition = &Condition{Branch: HandleTrue, Operator: "whatever"}
	assert.NoError(t, Validate(def))
}

func TestValidate_NodeConditionOperators(t *testing.T) {
	def := &Definition{
		Nodes: []Node{
			{ID: "check", Type: NodeTypeIf, Parameters: map[string]any{
				"condition": map[string]any{"field": "n1.count", "operator": "between", "value": 2},
			}},
			{ID: "flat", Type: NodeTypeIf, Parameters: map[string]any{
				"field": "n1.count", "operator": "approx", "value": 2,
			}},
			{ID: "n1", Type: "yolo"},
		},
		Edges: []Edge{
			{ID: "e1", Source: "n1", Target: "check"},
			{ID: "e2", Source: "n1", Target: "flat"},
		},
	}
	loop := loopDefinition()
	for i := range loop.Nodes {
		if loop.Nodes[i].Type == NodeTypeLoop {
			loop.Nodes[i].Parameters = map[string]any{
				"count":          3,
				"stop_condition": map[string]any{"field": "work.done", "operator": "is"},
			}
		}
	}

	want := []string{
		`invalid condition on node check (condition): unsupported operator "between"`,
		`invalid condition on node flat (operator): unsupported operator "approx"`,
	}
	if diff := cmp.Diff(want, messages(ValidateAll(def))); diff != "" {
		t.Fatalf("ValidateAll mismatch (-want +got):\n%s", diff)
	}

	err := Validate(loop)
	var invalid *InvalidConditionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "loop", invalid.NodeID)
	assert.Equal(t, "stop_condition", invalid.Key)
}
