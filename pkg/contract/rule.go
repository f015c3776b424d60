// Package contract evaluates declarative rules over JSON-like payloads and
// loads per-module contract documents.
//
// A rule addresses a field by dot-notation path and checks it with one
// operator:
//
//	pre:
//	  - { path: action, op: in, value: [start, step, generate, direct] }
//	  - { path: user.profile.age, op: gte, value: 3 }
//	  - { path: email, op: regex, value: '^.+@.+\..+$' }
//
// Operators: eq, neq, gt, gte, lt, lte, in, nin, required, type, minLength,
// maxLength, regex, notEmpty. Unknown operators always fail.
package contract

import (
	"math"
	"reflect"
	"regexp"
	"strings"
)

type Rule struct {
	Path    string `yaml:"path" json:"path"`
	Op      string `yaml:"op" json:"op"`
	Value   any    `yaml:"value,omitempty" json:"value,omitempty"`
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
}

// Violation records one failed rule. Actual is nil when the path was absent.
type Violation struct {
	Path     string `json:"path"`
	Op       string `json:"op"`
	Expected any    `json:"expected"`
	Actual   any    `json:"actual"`
	Message  string `json:"message,omitempty"`
}

// Evaluate checks every rule against data and returns the full violation set,
// in rule order. It never short-circuits and keeps no state between calls.
func Evaluate(data map[string]any, rules []Rule) []Violation {
	var violations []Violation
	for _, rule := range rules {
		op := rule.Op
		if op == "" {
			op = "required"
		}
		val, exists := resolvePath(data, rule.Path)
		if !check(op, rule.Value, val, exists) {
			violations = append(violations, Violation{
				Path:     rule.Path,
				Op:       op,
				Expected: rule.Value,
				Actual:   val,
				Message:  rule.Message,
			})
		}
	}
	return violations
}

// resolvePath walks data along a dot-separated path. The empty path and "."
// address the whole document. The second result distinguishes "absent" from
// "present but null".
func resolvePath(data map[string]any, path string) (any, bool) {
	if path == "" || path == "." {
		return data, true
	}
	var cur any = data
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := obj[part]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func check(op string, expected, actual any, exists bool) bool {
	switch op {
	case "required":
		return exists && actual != nil
	case "notEmpty":
		return exists && !isEmpty(actual)
	case "type":
		tag, _ := expected.(string)
		return exists && isType(actual, tag)
	case "eq":
		return exists && strictEqual(actual, expected)
	case "neq":
		return exists && !strictEqual(actual, expected)
	case "gt":
		a, b, ok := numericPair(actual, expected)
		return exists && ok && a > b
	case "gte":
		a, b, ok := numericPair(actual, expected)
		return exists && ok && a >= b
	case "lt":
		a, b, ok := numericPair(actual, expected)
		return exists && ok && a < b
	case "lte":
		a, b, ok := numericPair(actual, expected)
		return exists && ok && a <= b
	case "in":
		return exists && contains(expected, actual)
	case "nin":
		list, ok := expected.([]any)
		return exists && ok && !containsList(list, actual)
	case "minLength":
		n, ok := asNumber(expected)
		return exists && ok && length(actual) >= int(n)
	case "maxLength":
		n, ok := asNumber(expected)
		return exists && ok && length(actual) <= int(n)
	case "regex":
		pattern, _ := expected.(string)
		s, isStr := actual.(string)
		if !exists || !isStr {
			return false
		}
		re, err := regexp.Compile(stripDelimiters(pattern))
		if err != nil {
			return false
		}
		return re.MatchString(s)
	default:
		// Fail closed on operators this evaluator does not know.
		return false
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// isType matches a value's runtime kind against a type tag. JSON objects and
// arrays are distinct kinds here; "int" means a numeric with no fractional
// part (JSON itself carries only one number type).
func isType(v any, tag string) bool {
	switch tag {
	case "string":
		_, ok := v.(string)
		return ok
	case "int", "integer":
		n, ok := asNumber(v)
		return ok && n == math.Trunc(n)
	case "number", "float", "double":
		_, ok := asNumber(v)
		return ok
	case "bool", "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "null":
		return v == nil
	}
	return false
}

// strictEqual is type-and-value equality, except that numerics compare by
// value: rule documents decode integers as int while JSON payloads decode all
// numbers as float64, and 1 must equal 1.0 across that seam.
func strictEqual(a, b any) bool {
	if an, ok := asNumber(a); ok {
		bn, ok := asNumber(b)
		return ok && an == bn
	}
	if _, ok := asNumber(b); ok {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func numericPair(a, b any) (float64, float64, bool) {
	an, aok := asNumber(a)
	bn, bok := asNumber(b)
	return an, bn, aok && bok
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func contains(expected, actual any) bool {
	list, ok := expected.([]any)
	if !ok {
		return false
	}
	return containsList(list, actual)
}

func containsList(list []any, v any) bool {
	for _, item := range list {
		if strictEqual(v, item) {
			return true
		}
	}
	return false
}

func length(v any) int {
	switch t := v.(type) {
	case string:
		return len([]rune(t))
	case []any:
		return len(t)
	case map[string]any:
		return len(t)
	}
	return 0
}

// stripDelimiters removes a PCRE-style /.../ wrapper (with optional trailing
// flags we can honor) so contract documents written for the legacy deployment
// keep working.
func stripDelimiters(pattern string) string {
	if len(pattern) < 2 || !strings.HasPrefix(pattern, "/") {
		return pattern
	}
	end := strings.LastIndex(pattern, "/")
	if end <= 0 {
		return pattern
	}
	body, flags := pattern[1:end], pattern[end+1:]
	for _, f := range flags {
		if f != 'i' && f != 's' && f != 'm' {
			return pattern
		}
	}
	if flags != "" {
		body = "(?" + flags + ")" + body
	}
	return body
}
