// Teleport
// Copyright (C) 2025 Gravitational, Inc.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package filter

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// dateShapedValue gates string operands before attempting timestamp
// comparison, so ordinary strings never go through time parsing.
var dateShapedValue = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([Tt ]\d{2}:\d{2}:\d{2}(\.\d+)?([Zz]|[+-]\d{2}:\d{2})?)?$`)

// Match returns the subset of candidates satisfying the expression. A
// candidate is kept when any OR-branch succeeds.
func (e *Expression) Match(candidates []map[string]any) []map[string]any {
	var matched []map[string]any
	for _, candidate := range candidates {
		if e.Matches(candidate) {
			matched = append(matched, candidate)
		}
	}
	return matched
}

// Matches reports whether a single candidate satisfies the expression.
func (e *Expression) Matches(candidate map[string]any) bool {
	for _, branch := range e.branches {
		if branchMatches(branch, candidate) {
			return true
		}
	}
	return false
}

func branchMatches(branch Branch, candidate map[string]any) bool {
	for key, node := range branch {
		actual, present := lookupFold(candidate, key)
		if !nodeMatches(node, actual, present) {
			return false
		}
	}
	return true
}

// nodeMatches evaluates a condition tree against an actual value. For a
// multi-valued actual the whole node re-applies to each element and at least
// one element must satisfy it, which keeps bracket sub-filter conditions
// bound to the same element.
func nodeMatches(node *Node, actual any, present bool) bool {
	if elems, ok := toSlice(actual); ok && present {
		if presenceOnly(node) {
			return evalPresence(node, len(elems) > 0)
		}
		for _, elem := range elems {
			if nodeMatchesScalar(node, elem, true) {
				return true
			}
		}
		return false
	}
	return nodeMatchesScalar(node, actual, present)
}

func nodeMatchesScalar(node *Node, actual any, present bool) bool {
	for _, cond := range node.Conditions {
		if !evalCondition(cond, actual, present) {
			return false
		}
	}
	if len(node.Children) == 0 {
		return true
	}

	// Descending into sub-attributes requires a complex actual; a missing
	// intermediate value is "no match" for positive conditions while
	// absence-style conditions still get their say.
	child, ok := actual.(map[string]any)
	if !ok {
		child = nil
	}
	for key, sub := range node.Children {
		subActual, subPresent := lookupFold(child, key)
		if !nodeMatches(sub, subActual, subPresent) {
			return false
		}
	}
	return true
}

// presenceOnly reports whether the node consists of a single bare presence
// condition, which applies to a multi-valued attribute as a whole rather
// than per element.
func presenceOnly(node *Node) bool {
	return len(node.Children) == 0 && len(node.Conditions) == 1 && node.Conditions[0].Op == Pr
}

func evalPresence(node *Node, hasValue bool) bool {
	cond := node.Conditions[0]
	return hasValue != cond.Not
}

func evalCondition(cond Condition, actual any, present bool) bool {
	var result bool
	switch cond.Op {
	case Pr:
		result = present && actual != nil
	case Eq:
		result = present && looseEqual(actual, cond.Value)
	case Ne:
		result = present && !looseEqual(actual, cond.Value)
	case Co:
		result = present && strings.Contains(asString(actual), asString(cond.Value))
	case Sw:
		result = present && strings.HasPrefix(asString(actual), asString(cond.Value))
	case Ew:
		result = present && strings.HasSuffix(asString(actual), asString(cond.Value))
	case Gt, Lt, Ge, Le:
		result = present && evalOrdering(cond.Op, actual, cond.Value)
	default:
		result = false
	}
	if cond.Not {
		return !result
	}
	return result
}

// looseEqual compares a candidate value against a filter literal. Numeric
// values compare numerically across int/float representations, and the
// literal strings "true"/"false" coerce to booleans when the actual value is
// a boolean.
func looseEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}
	if ab, ok := actual.(bool); ok {
		if eb, ok := boolish(expected); ok {
			return ab == eb
		}
		return false
	}
	if af, ok := toFloat(actual); ok {
		ef, ok := toFloat(expected)
		return ok && af == ef
	}
	as, aok := actual.(string)
	es, eok := expected.(string)
	if aok && eok {
		return as == es
	}
	return actual == expected
}

// evalOrdering evaluates gt/lt/ge/le. Date-shaped values compare as
// timestamps; otherwise values of the same type compare in their natural
// order, and mismatched types never satisfy an ordering comparator.
func evalOrdering(op Comparator, actual, expected any) bool {
	if at, ok := toTime(actual); ok {
		et, ok := toTime(expected)
		if !ok {
			return false
		}
		return orderingHolds(op, compareTimes(at, et))
	}

	if af, ok := toFloat(actual); ok {
		ef, ok := toFloat(expected)
		if !ok {
			return false
		}
		switch {
		case af < ef:
			return orderingHolds(op, -1)
		case af > ef:
			return orderingHolds(op, 1)
		default:
			return orderingHolds(op, 0)
		}
	}

	as, aok := actual.(string)
	es, eok := expected.(string)
	if aok && eok {
		return orderingHolds(op, strings.Compare(as, es))
	}
	return false
}

func orderingHolds(op Comparator, cmp int) bool {
	switch op {
	case Gt:
		return cmp > 0
	case Lt:
		return cmp < 0
	case Ge:
		return cmp >= 0
	case Le:
		return cmp <= 0
	default:
		return false
	}
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

func toTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		if !dateShapedValue.MatchString(v) {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func boolish(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		if strings.EqualFold(v, "true") {
			return true, true
		}
		if strings.EqualFold(v, "false") {
			return false, true
		}
	}
	return false, false
}

func asString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func toSlice(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []map[string]any:
		elems := make([]any, len(v))
		for i, m := range v {
			elems[i] = m
		}
		return elems, true
	case []string:
		elems := make([]any, len(v))
		for i, s := range v {
			elems[i] = s
		}
		return elems, true
	default:
		return nil, false
	}
}

// lookupFold finds a map entry by case-insensitive key.
func lookupFold(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
