//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package builtin provides the control flow executors every registry carries:
// imageinput, if, loop and merge.
package builtin

import (
	"context"
	"fmt"
	"maps"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"trpc.group/trpc-go/trpc-workflow-go/executor"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// Output keys produced by the control executors.
const (
	OutputResult   = "result"
	OutputBranch   = "branch"
	OutputContinue = "continue"
	OutputIndex    = "index"
	OutputItem     = "item"
	OutputCount    = "image_count"
)

const defaultLoopVariable = "item"

// Register installs the control executors into reg.
func Register(reg *executor.Registry) {
	reg.RegisterExecutor(workflow.NodeTypeImageInput, executor.Func(imageInput))
	reg.RegisterExecutor(workflow.NodeTypeIf, executor.Func(ifBranch))
	reg.RegisterExecutor(workflow.NodeTypeLoop, executor.Func(loopControl))
	reg.RegisterExecutor(workflow.NodeTypeMerge, executor.Func(merge))
}

// imageInput emits the run payload layered over the node parameters.
func imageInput(_ context.Context, node workflow.Node, _ map[string]any, ec *executor.ExecutionContext) (map[string]any, error) {
	if required, _ := node.Parameters["required"].(bool); required && len(ec.Inputs) == 0 {
		return nil, fmt.Errorf("imageinput %s: run was started without inputs", node.ID)
	}
	out := workflow.CloneMap(node.Parameters)
	if out == nil {
		out = make(map[string]any, len(ec.Inputs)+1)
	}
	delete(out, "required")
	maps.Copy(out, ec.Inputs)
	switch ids := out["image_ids"].(type) {
	case []any:
		out[OutputCount] = len(ids)
	case []string:
		out[OutputCount] = len(ids)
	}
	return out, nil
}

// ifBranch evaluates parameters.condition, or flat field/operator/value
// parameters, against the outputs accumulated so far.
func ifBranch(_ context.Context, node workflow.Node, _ map[string]any, ec *executor.ExecutionContext) (map[string]any, error) {
	cond := workflow.ParameterCondition(node.Parameters, "condition")
	if cond == nil {
		cond = workflow.ConditionFromMap(node.Parameters)
	}
	if cond == nil {
		return nil, fmt.Errorf("if node %s: missing condition", node.ID)
	}
	ok, err := cond.Evaluate(ec.Outputs)
	if err != nil {
		return nil, fmt.Errorf("if node %s: %w", node.ID, err)
	}
	branch := workflow.HandleFalse
	if ok {
		branch = workflow.HandleTrue
	}
	return map[string]any{OutputResult: ok, OutputBranch: branch}, nil
}

// loopControl decides whether iteration ec.Iteration of a loop runs. The
// scheduler calls it before every iteration and binds the returned item.
func loopControl(_ context.Context, node workflow.Node, _ map[string]any, ec *executor.ExecutionContext) (map[string]any, error) {
	p := node.Parameters
	i := max(ec.Iteration, 0)
	variable, _ := p["variable"].(string)
	if variable == "" {
		variable = defaultLoopVariable
	}

	items, hasItems, err := loopItems(node, ec)
	if err != nil {
		return nil, err
	}
	bounded := hasItems
	cont := true
	out := map[string]any{OutputIndex: i}
	if hasItems {
		if i < len(items) {
			out[OutputItem] = items[i]
			out[variable] = items[i]
		} else {
			cont = false
		}
	} else {
		out[variable] = i
	}
	for _, key := range []string{"count", "max_iterations"} {
		v, present := p[key]
		if !present || v == nil {
			continue
		}
		n, ok := workflow.ToInt(v)
		if !ok {
			return nil, fmt.Errorf("loop node %s: %s must be an integer in int32 range, got %v", node.ID, key, v)
		}
		bounded = true
		if i >= n {
			cont = false
		}
	}
	if cond := workflow.ParameterCondition(p, "condition"); cond != nil {
		bounded = true
		if cont {
			ok, err := cond.Evaluate(ec.Outputs)
			if err != nil {
				return nil, fmt.Errorf("loop node %s condition: %w", node.ID, err)
			}
			cont = ok
		}
	}
	if cond := workflow.ParameterCondition(p, "stop_condition"); cond != nil {
		bounded = true
		if cont && i > 0 {
			stop, err := cond.Evaluate(ec.Outputs)
			if err != nil {
				return nil, fmt.Errorf("loop node %s stop_condition: %w", node.ID, err)
			}
			cont = !stop
		}
	}
	if !bounded {
		return nil, fmt.Errorf("loop node %s: one of items, items_path, count, max_iterations or condition is required", node.ID)
	}
	out[OutputContinue] = cont
	return out, nil
}

func loopItems(node workflow.Node, ec *executor.ExecutionContext) ([]any, bool, error) {
	if v, ok := node.Parameters["items"]; ok {
		switch items := v.(type) {
		case []any:
			return items, true, nil
		case []string:
			out := make([]any, len(items))
			for i, s := range items {
				out[i] = s
			}
			return out, true, nil
		default:
			return nil, false, fmt.Errorf("loop node %s: items must be a list, got %T", node.ID, v)
		}
	}
	path, _ := node.Parameters["items_path"].(string)
	if path == "" {
		return nil, false, nil
	}
	doc, err := json.Marshal(ec.Outputs)
	if err != nil {
		return nil, false, fmt.Errorf("loop node %s: encode outputs: %w", node.ID, err)
	}
	res := gjson.GetBytes(doc, path)
	switch {
	case !res.Exists():
		return nil, true, nil
	case !res.IsArray():
		return nil, false, fmt.Errorf("loop node %s: items_path %q is not a list", node.ID, path)
	}
	items, _ := res.Value().([]any)
	return items, true, nil
}

// merge unions the outputs of the branches that completed. Later
// predecessors override earlier ones on key collision.
func merge(_ context.Context, _ workflow.Node, inputs map[string]any, ec *executor.ExecutionContext) (map[string]any, error) {
	out := make(map[string]any)
	for _, pred := range ec.Predecessors {
		if m, ok := inputs[pred].(map[string]any); ok {
			maps.Copy(out, m)
		}
	}
	return out, nil
}
