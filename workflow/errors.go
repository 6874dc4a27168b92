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
	"fmt"
	"strings"
)

// ErrInvalidDefinition is matched by every structural validation error.
var ErrInvalidDefinition = errors.New("invalid workflow definition")

// EmptyGraphError reports a definition without nodes.
type EmptyGraphError struct{}

func (e *EmptyGraphError) Error() string {
	return "empty graph: workflow must contain at least one node"
}

// Is implements errors.Is.
func (e *EmptyGraphError) Is(target error) bool { return target == ErrInvalidDefinition }

// DuplicateNodeIDError reports a node id used more than once.
type DuplicateNodeIDError struct {
	NodeID string
}

func (e *DuplicateNodeIDError) Error() string {
	return fmt.Sprintf("duplicate node id: %s", e.NodeID)
}

// Is implements errors.Is.
func (e *DuplicateNodeIDError) Is(target error) bool { return target == ErrInvalidDefinition }

// DanglingEdgeError reports an edge whose endpoint is not a known node.
type DanglingEdgeError struct {
	EdgeID string
	// Endpoint is "source" or "target".
	Endpoint string
	NodeID   string
}

func (e *DanglingEdgeError) Error() string {
	return fmt.Sprintf("dangling edge %s: %s node %q does not exist", e.EdgeID, e.Endpoint, e.NodeID)
}

// Is implements errors.Is.
func (e *DanglingEdgeError) Is(target error) bool { return target == ErrInvalidDefinition }

// InvalidLoopEdgeError reports a malformed loop construct.
type InvalidLoopEdgeError struct {
	EdgeID string
	NodeID string
	Reason string
}

func (e *InvalidLoopEdgeError) Error() string {
	switch {
	case e.EdgeID != "":
		return fmt.Sprintf("invalid loop edge %s: %s", e.EdgeID, e.Reason)
	default:
		return fmt.Sprintf("invalid loop node %s: %s", e.NodeID, e.Reason)
	}
}

// Is implements errors.Is.
func (e *InvalidLoopEdgeError) Is(target error) bool { return target == ErrInvalidDefinition }

// CycleDetectedError reports a cycle that is not a tagged loop back-edge.
type CycleDetectedError struct {
	// Path lists the node ids of the cycle, first id repeated at the end.
	Path []string
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("cycle detected: %s", strings.Join(e.Path, " -> "))
}

// Is implements errors.Is.
func (e *CycleDetectedError) Is(target error) bool { return target == ErrInvalidDefinition }

// InvalidConditionError reports a predicate with an unsupported operator,
// either on an edge or in the condition parameters of an if or loop node.
type InvalidConditionError struct {
	EdgeID string
	NodeID string
	// Key is the node parameter holding the predicate.
	Key      string
	Operator string
}

func (e *InvalidConditionError) Error() string {
	if e.EdgeID != "" {
		return fmt.Sprintf("invalid condition on edge %s: unsupported operator %q", e.EdgeID, e.Operator)
	}
	return fmt.Sprintf("invalid condition on node %s (%s): unsupported operator %q", e.NodeID, e.Key, e.Operator)
}

// Is implements errors.Is.
func (e *InvalidConditionError) Is(target error) bool { return target == ErrInvalidDefinition }
