//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package workflow

// Validate checks the structural rules of def in order and returns the first
// violation: empty graph, duplicate node id, dangling edge, unsupported
// condition operator, malformed loop, then cycles.
func Validate(def *Definition) error {
	if errs := ValidateAll(def); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// ValidateAll returns every violation found. Later rules are only checked
// once the earlier ones pass, since they need a well formed index.
func ValidateAll(def *Definition) []error {
	_, errs := validate(def)
	return errs
}

func validate(def *Definition) (*Graph, []error) {
	if def == nil || len(def.Nodes) == 0 {
		return nil, []error{&EmptyGraphError{}}
	}
	var errs []error
	index := make(map[string]int, len(def.Nodes))
	reported := make(map[string]bool)
	for i, n := range def.Nodes {
		if _, dup := index[n.ID]; dup {
			if !reported[n.ID] {
				errs = append(errs, &DuplicateNodeIDError{NodeID: n.ID})
				reported[n.ID] = true
			}
			continue
		}
		index[n.ID] = i
	}
	for i, e := range def.Edges {
		if _, ok := index[e.Source]; !ok {
			errs = append(errs, &DanglingEdgeError{EdgeID: edgeLabel(i, e), Endpoint: "source", NodeID: e.Source})
		}
		if _, ok := index[e.Target]; !ok {
			errs = append(errs, &DanglingEdgeError{EdgeID: edgeLabel(i, e), Endpoint: "target", NodeID: e.Target})
		}
	}
	errs = append(errs, checkConditions(def)...)
	if len(errs) > 0 {
		return nil, errs
	}
	g := newGraph(def, index)
	if errs := g.checkLoops(); len(errs) > 0 {
		return nil, errs
	}
	if err := g.detectCycle(); err != nil {
		return nil, []error{err}
	}
	return g, nil
}

// nodeConditionKeys lists the parameters holding predicates per node type.
var nodeConditionKeys = map[string][]string{
	NodeTypeIf:   {"condition"},
	NodeTypeLoop: {"condition", "stop_condition"},
}

func checkConditions(def *Definition) []error {
	var errs []error
	for i, e := range def.Edges {
		if e.Condition.IsPredicate() && !ValidOperator(e.Condition.Operator) {
			errs = append(errs, &InvalidConditionError{EdgeID: edgeLabel(i, e), Operator: e.Condition.Operator})
		}
	}
	for _, n := range def.Nodes {
		for _, key := range nodeConditionKeys[n.Type] {
			if c := ParameterCondition(n.Parameters, key); c != nil && !ValidOperator(c.Operator) {
				errs = append(errs, &InvalidConditionError{NodeID: n.ID, Key: key, Operator: c.Operator})
			}
		}
		// An if node may also carry its predicate as flat parameters.
		if n.Type == NodeTypeIf && ParameterCondition(n.Parameters, "condition") == nil {
			if c := ConditionFromMap(n.Parameters); c != nil && !ValidOperator(c.Operator) {
				errs = append(errs, &InvalidConditionError{NodeID: n.ID, Key: "operator", Operator: c.Operator})
			}
		}
	}
	return errs
}
