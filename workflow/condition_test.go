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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionEvaluate(t *testing.T) {
	outputs := map[string]any{
		"yolo": map[string]any{
			"detections": []any{
				map[string]any{"class": "hole", "confidence": 0.91},
				map[string]any{"class": "slot", "confidence": 0.42},
			},
			"label": "drawing-A",
			"ok":    true,
			"empty": []any{},
		},
		"ocr": map[string]any{"count": 3, "text": "M8 x 1.25"},
	}
	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"count greater", Condition{Field: "yolo.detections.#", Operator: ">", Value: 1}, true},
		{"count alias", Condition{Field: "yolo.detections.#", Operator: "gte", Value: 3}, false},
		{"number equal int", Condition{Field: "ocr.count", Operator: "==", Value: 3}, true},
		{"number equal string", Condition{Field: "ocr.count", Operator: "eq", Value: "3"}, true},
		{"string equal", Condition{Field: "yolo.label", Operator: "==", Value: "drawing-A"}, true},
		{"not equal", Condition{Field: "yolo.label", Operator: "!=", Value: "drawing-B"}, true},
		{"bool equal", Condition{Field: "yolo.ok", Operator: "==", Value: true}, true},
		{"less", Condition{Field: "yolo.detections.1.confidence", Operator: "<", Value: 0.5}, true},
		{"contains substring", Condition{Field: "ocr.text", Operator: "contains", Value: "M8"}, true},
		{"contains element", Condition{Field: "yolo.detections.#.class", Operator: "contains", Value: "slot"}, true},
		{"contains key", Condition{Field: "ocr", Operator: "contains", Value: "text"}, true},
		{"exists", Condition{Field: "ocr.text", Operator: "exists"}, true},
		{"not exists", Condition{Field: "ocr.missing", Operator: "not_exists"}, true},
		{"empty array", Condition{Field: "yolo.empty", Operator: "empty"}, true},
		{"not empty", Condition{Field: "yolo.detections", Operator: "not_empty"}, true},
		{"truthy default", Condition{Field: "yolo.ok"}, true},
		{"truthy missing", Condition{Field: "nothing.here"}, false},
		{"compare non number", Condition{Field: "yolo.label", Operator: ">", Value: 1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.cond.Evaluate(outputs)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestConditionUnsupportedOperator(t *testing.T) {
	c := &Condition{Field: "a", Operator: "matches"}
	_, err := c.Evaluate(map[string]any{"a": 1})
	assert.ErrorContains(t, err, "unsupported condition operator")
	assert.False(t, ValidOperator("matches"))
	assert.True(t, ValidOperator("GT"))
}

func TestConditionWithoutFieldAlwaysMatches(t *testing.T) {
	c := &Condition{Branch: HandleTrue}
	assert.False(t, c.IsPredicate())
	ok, err := c.Evaluate(nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestParameterCondition(t *testing.T) {
	params := map[string]any{
		"condition": map[string]any{"field": "n1.score", "operator": ">=", "value": 0.5},
	}
	c := ParameterCondition(params, "condition")
	require.NotNil(t, c)
	assert.Equal(t, "n1.score", c.Field)
	assert.Equal(t, 0.5, c.Value)
	assert.Nil(t, ParameterCondition(params, "stop_condition"))
	assert.Nil(t, ConditionFromMap(map[string]any{"operator": "=="}))
}

func TestEdgeBranch(t *testing.T) {
	assert.Equal(t, "true", Edge{SourceHandle: "true"}.Branch())
	assert.Equal(t, "false", Edge{Condition: &Condition{Branch: "false"}}.Branch())
	assert.Equal(t, "", Edge{SourceHandle: "out"}.Branch())
	assert.True(t, Edge{SourceHandle: HandleLoop}.IsBodyHandle())
}

func TestToIntRejectsOutOfRange(t *testing.T) {
	n, ok := ToInt(float64(3))
	require.True(t, ok)
	assert.Equal(t, 3, n)
	n, ok = ToInt("-7")
	require.True(t, ok)
	assert.Equal(t, -7, n)
	n, ok = ToInt(float64(math.MaxInt32))
	require.True(t, ok)
	assert.Equal(t, math.MaxInt32, n)

	for _, v := range []any{1e19, -1e19, math.Inf(1), math.Inf(-1), math.NaN(), float64(math.MaxInt32) + 1, "1e19"} {
		_, ok := ToInt(v)
		assert.False(t, ok, "%v", v)
	}
}
