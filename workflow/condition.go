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
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// Condition operators. Aliases such as "eq" or "gt" are accepted as well.
const (
	OpEqual        = "=="
	OpNotEqual     = "!="
	OpGreater      = ">"
	OpGreaterEqual = ">="
	OpLess         = "<"
	OpLessEqual    = "<="
	OpContains     = "contains"
	OpExists       = "exists"
	OpNotExists    = "not_exists"
	OpEmpty        = "empty"
	OpNotEmpty     = "not_empty"
	OpTruthy       = "truthy"
)

var operatorAliases = map[string]string{
	"=":   OpEqual,
	"eq":  OpEqual,
	"ne":  OpNotEqual,
	"<>":  OpNotEqual,
	"gt":  OpGreater,
	"gte": OpGreaterEqual,
	"ge":  OpGreaterEqual,
	"lt":  OpLess,
	"lte": OpLessEqual,
	"le":  OpLessEqual,
	"":    OpTruthy,
}

var knownOperators = map[string]bool{
	OpEqual: true, OpNotEqual: true, OpGreater: true, OpGreaterEqual: true,
	OpLess: true, OpLessEqual: true, OpContains: true, OpExists: true,
	OpNotExists: true, OpEmpty: true, OpNotEmpty: true, OpTruthy: true,
}

// Condition is either an if-branch label, a predicate over the accumulated
// outputs, or both. Field is a gjson path rooted at the outputs map keyed by
// node id, e.g. "yolo_1.detections.#".
type Condition struct {
	Branch   string `json:"branch,omitempty" yaml:"branch,omitempty"`
	Field    string `json:"field,omitempty" yaml:"field,omitempty"`
	Operator string `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    any    `json:"value,omitempty" yaml:"value,omitempty"`
}

// IsPredicate reports whether the condition tests a field.
func (c *Condition) IsPredicate() bool {
	return c != nil && c.Field != ""
}

// NormalizeOperator maps aliases onto the canonical operator.
func NormalizeOperator(op string) string {
	op = strings.ToLower(strings.TrimSpace(op))
	if canonical, ok := operatorAliases[op]; ok {
		return canonical
	}
	return op
}

// ValidOperator reports whether op is supported.
func ValidOperator(op string) bool {
	return knownOperators[NormalizeOperator(op)]
}

// Evaluate tests the predicate against outputs.
func (c *Condition) Evaluate(outputs map[string]any) (bool, error) {
	doc, err := json.Marshal(outputs)
	if err != nil {
		return false, fmt.Errorf("encode outputs for condition: %w", err)
	}
	return c.Match(doc)
}

// Match tests the predicate against an already encoded JSON document.
func (c *Condition) Match(doc []byte) (bool, error) {
	if !c.IsPredicate() {
		return true, nil
	}
	res := gjson.GetBytes(doc, c.Field)
	switch op := NormalizeOperator(c.Operator); op {
	case OpExists:
		return res.Exists(), nil
	case OpNotExists:
		return !res.Exists(), nil
	case OpEmpty:
		return isEmpty(res), nil
	case OpNotEmpty:
		return !isEmpty(res), nil
	case OpTruthy:
		return isTruthy(res), nil
	case OpEqual:
		return equals(res, c.Value), nil
	case OpNotEqual:
		return !equals(res, c.Value), nil
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		return compare(res, c.Value, op), nil
	case OpContains:
		return contains(res, c.Value), nil
	default:
		return false, fmt.Errorf("unsupported condition operator %q", c.Operator)
	}
}

// ConditionFromMap builds a predicate from a decoded JSON object such as
// {"field": "n1.count", "operator": ">", "value": 3}. It returns nil when the
// object has no field.
func ConditionFromMap(m map[string]any) *Condition {
	field, _ := m["field"].(string)
	if field == "" {
		return nil
	}
	op, _ := m["operator"].(string)
	branch, _ := m["branch"].(string)
	return &Condition{Branch: branch, Field: field, Operator: op, Value: m["value"]}
}

// ParameterCondition reads the predicate stored under key in node
// parameters.
func ParameterCondition(params map[string]any, key string) *Condition {
	switch v := params[key].(type) {
	case map[string]any:
		return ConditionFromMap(v)
	case *Condition:
		return v
	case Condition:
		return &v
	}
	return nil
}

func isEmpty(res gjson.Result) bool {
	switch {
	case !res.Exists(), res.Type == gjson.Null:
		return true
	case res.Type == gjson.String:
		return res.Str == ""
	case res.IsArray():
		return len(res.Array()) == 0
	case res.IsObject():
		return len(res.Map()) == 0
	}
	return false
}

func isTruthy(res gjson.Result) bool {
	switch res.Type {
	case gjson.True:
		return true
	case gjson.Number:
		return res.Num != 0
	case gjson.String:
		return res.Str != "" && res.Str != "false"
	case gjson.JSON:
		return !isEmpty(res)
	}
	return false
}

func equals(res gjson.Result, want any) bool {
	if !res.Exists() {
		return want == nil
	}
	switch w := want.(type) {
	case nil:
		return res.Type == gjson.Null
	case bool:
		return (res.Type == gjson.True && w) || (res.Type == gjson.False && !w)
	case string:
		if res.Type == gjson.Number {
			f, err := strconv.ParseFloat(w, 64)
			return err == nil && f == res.Num
		}
		return res.String() == w
	}
	if f, ok := toFloat(want); ok {
		got, ok := resultFloat(res)
		return ok && got == f
	}
	b, err := json.Marshal(want)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(res.Value(), gjson.ParseBytes(b).Value())
}

func compare(res gjson.Result, want any, op string) bool {
	got, ok := resultFloat(res)
	if !ok {
		return false
	}
	f, ok := toFloat(want)
	if !ok {
		return false
	}
	switch op {
	case OpGreater:
		return got > f
	case OpGreaterEqual:
		return got >= f
	case OpLess:
		return got < f
	default:
		return got <= f
	}
}

func contains(res gjson.Result, want any) bool {
	switch {
	case res.IsArray():
		for _, el := range res.Array() {
			if equals(el, want) {
				return true
			}
		}
	case res.IsObject():
		_, ok := res.Map()[fmt.Sprint(want)]
		return ok
	case res.Type == gjson.String:
		return strings.Contains(res.Str, fmt.Sprint(want))
	}
	return false
}

func resultFloat(res gjson.Result) (float64, bool) {
	switch res.Type {
	case gjson.Number:
		return res.Num, true
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(res.Str), 64)
		return f, err == nil
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// ToInt converts a decoded JSON number into an int. Non-finite values and
// values outside the int32 range are rejected.
func ToInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

// ToFloat converts a decoded JSON number, or a numeric string, into a
// float64.
func ToFloat(v any) (float64, bool) {
	return toFloat(v)
}
