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

// Package filter implements the RFC 7644 §3.4.2.2 filter expression
// language: a scanner, a parser producing disjunctive normal form, and a
// matcher evaluating candidates against the parsed expression. The package
// depends only on the module's error vocabulary; it has no schema awareness.
package filter

import (
	"strconv"
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/scim"
)

// Condition is one terminal comparison: an optionally negated comparator and
// its expected value. Pr and Np conditions carry a nil value.
type Condition struct {
	Not   bool
	Op    Comparator
	Value any
}

// Node is one position in a branch's attribute tree: the conditions that
// apply at this path, plus deeper path segments. A node evaluated against a
// multi-valued actual applies as a whole to each element, preserving
// same-element binding for bracket sub-filters.
type Node struct {
	Conditions []Condition
	Children   map[string]*Node
}

// Branch is one AND-branch of the disjunctive normal form: a mapping from
// lower-camel-cased first path segments to their condition trees. A
// candidate matches a branch iff every entry is satisfied.
type Branch map[string]*Node

// Expression is a parsed filter: an OR-list of AND-branches. Expressions are
// immutable after construction and safe for concurrent matching.
type Expression struct {
	raw      string
	branches []Branch
}

// maxNesting bounds group/bracket recursion to protect against adversarial
// inputs.
const maxNesting = 50

// New parses a filter expression string.
func New(raw string) (*Expression, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, scim.NewInvalidFilter("empty filter expression")
	}
	branches, err := parseFilter(raw, 0)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Expression{raw: raw, branches: branches}, nil
}

// FromBranches builds an expression from a pre-built branch structure.
func FromBranches(branches []Branch) *Expression {
	return &Expression{branches: branches}
}

// String returns the verbatim source the expression was parsed from.
func (e *Expression) String() string { return e.raw }

// Branches exposes the parsed OR-branches.
func (e *Expression) Branches() []Branch { return e.branches }

func parseFilter(raw string, depth int) ([]Branch, error) {
	if depth > maxNesting {
		return nil, scim.NewInvalidFilter("filter expression exceeds maximum nesting depth")
	}
	tokens, err := scan(raw)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return parseTokens(tokens, depth)
}

// parseTokens applies operator precedence by progressive splitting: the
// token stream splits on "or" first, each part on "and", and each remaining
// term parses independently. AND-parts combine by Cartesian merge so that a
// term contributing several branches multiplies out against its siblings.
func parseTokens(tokens []token, depth int) ([]Branch, error) {
	orParts, err := splitLogical(tokens, "or")
	if err != nil {
		return nil, trace.Wrap(err)
	}

	var out []Branch
	for _, orPart := range orParts {
		andParts, err := splitLogical(orPart, "and")
		if err != nil {
			return nil, trace.Wrap(err)
		}

		combined := []Branch{{}}
		for _, andPart := range andParts {
			termBranches, err := parseTerm(andPart, depth)
			if err != nil {
				return nil, trace.Wrap(err)
			}
			combined = crossMerge(combined, termBranches)
		}
		out = append(out, combined...)
	}

	if len(out) == 0 {
		return nil, scim.NewInvalidFilter("empty filter expression")
	}
	return out, nil
}

// splitLogical splits the token stream on a top-level logical operator.
func splitLogical(tokens []token, op string) ([][]token, error) {
	var parts [][]token
	var current []token
	for _, tok := range tokens {
		if tok.kind == tokLogical && tok.text == op {
			if len(current) == 0 {
				return nil, scim.NewInvalidFilter("unexpected %q in filter expression", op)
			}
			parts = append(parts, current)
			current = nil
			continue
		}
		current = append(current, tok)
	}
	if len(current) == 0 {
		return nil, scim.NewInvalidFilter("filter expression ends with a dangling operator")
	}
	return append(parts, current), nil
}

// parseTerm parses one AND-part: an optionally negated group, or an
// attribute path with an optional bracket sub-filter and comparison.
func parseTerm(tokens []token, depth int) ([]Branch, error) {
	negated := false
	for len(tokens) > 0 && tokens[0].kind == tokLogical && tokens[0].text == "not" {
		negated = !negated
		tokens = tokens[1:]
	}
	if len(tokens) == 0 {
		return nil, scim.NewInvalidFilter("dangling 'not' in filter expression")
	}

	switch head := tokens[0]; head.kind {
	case tokGroup:
		if len(tokens) > 1 {
			return nil, scim.NewInvalidFilter("unexpected token after group %q", head.text)
		}
		branches, err := parseFilter(head.text, depth+1)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if negated {
			branches = negateBranches(branches)
		}
		return branches, nil

	case tokPath:
		return parseComparison(tokens, negated, depth)

	default:
		return nil, scim.NewInvalidFilter("unexpected token %q in filter expression", head.text)
	}
}

// parseComparison parses `path [bracketFilter] [path] [comparator [value]]`.
func parseComparison(tokens []token, negated bool, depth int) ([]Branch, error) {
	segments := SplitPath(tokens[0].text)
	tokens = tokens[1:]

	var bracket string
	hasBracket := false
	if len(tokens) > 0 && tokens[0].kind == tokBracket {
		bracket = tokens[0].text
		hasBracket = true
		tokens = tokens[1:]
	}

	var trailing []string
	if hasBracket && len(tokens) > 0 && tokens[0].kind == tokPath {
		trailing = SplitPath(strings.TrimPrefix(tokens[0].text, "."))
		tokens = tokens[1:]
	}

	// With a bracket present, negation applies to the whole term via De
	// Morgan below rather than to the trailing condition alone.
	condNegated := negated && !hasBracket
	cond, err := parseCondition(tokens, condNegated)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	if !hasBracket {
		if cond == nil {
			// A bare path asserts presence.
			cond = &Condition{Not: negated, Op: Pr}
		}
		return []Branch{nest(segments, &Node{Conditions: []Condition{*cond}})}, nil
	}

	// Bracket sub-filters parse independently; each resulting branch is
	// re-prefixed onto the consumed path segments and multiplied out
	// against the rest of the expression.
	subBranches, err := parseFilter(bracket, depth+1)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	var out []Branch
	for _, sub := range subBranches {
		element := &Node{Children: map[string]*Node{}}
		for key, node := range sub {
			element.Children[key] = node
		}
		if cond != nil || len(trailing) > 0 {
			leafCond := cond
			if leafCond == nil {
				leafCond = &Condition{Op: Pr}
			}
			if len(trailing) == 0 {
				return nil, scim.NewInvalidFilter("comparator after bracket sub-filter requires a sub-attribute path")
			}
			mergeNode(element, &Node{Children: nestChildren(trailing, &Node{Conditions: []Condition{*leafCond}})})
		}
		out = append(out, nest(segments, element))
	}

	if negated {
		out = negateBranches(out)
	}
	return out, nil
}

// parseCondition parses the optional trailing `comparator [value]` pair.
// Returns nil when the token stream is empty.
func parseCondition(tokens []token, negated bool) (*Condition, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if tokens[0].kind != tokComparator {
		return nil, scim.NewInvalidFilter("unexpected token %q in filter expression, expected a comparator", tokens[0].text)
	}
	op := comparators[tokens[0].text]
	tokens = tokens[1:]

	if op == Pr || op == Np {
		if len(tokens) > 0 {
			return nil, scim.NewInvalidFilter("comparator %q takes no value, got %q", op, tokens[0].text)
		}
		if op == Np {
			// np is sugar for "not pr"; fold it so double negation cancels.
			return &Condition{Not: !negated, Op: Pr}, nil
		}
		return &Condition{Not: negated, Op: Pr}, nil
	}

	if len(tokens) == 0 {
		return nil, scim.NewInvalidFilter("comparator %q is missing its comparison value", op)
	}
	if len(tokens) > 1 {
		return nil, scim.NewInvalidFilter("unexpected token %q after comparison value", tokens[1].text)
	}

	value, err := literalValue(tokens[0])
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Condition{Not: negated, Op: op, Value: value}, nil
}

// literalValue unwraps a value token: quoted strings lose their quotes,
// numbers become int64/float64, and the bare words true/false/null become
// their typed values.
func literalValue(tok token) (any, error) {
	switch tok.kind {
	case tokString:
		return tok.text, nil
	case tokNumber:
		if strings.Contains(tok.text, ".") {
			f, err := strconv.ParseFloat(tok.text, 64)
			if err != nil {
				return nil, scim.NewInvalidFilter("invalid number literal %q", tok.text)
			}
			return f, nil
		}
		n, err := strconv.ParseInt(tok.text, 10, 64)
		if err != nil {
			return nil, scim.NewInvalidFilter("invalid number literal %q", tok.text)
		}
		return n, nil
	case tokPath:
		switch strings.ToLower(tok.text) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return nil, nil
		}
	}
	return nil, scim.NewInvalidFilter("unexpected token %q, expected a comparison value", tok.text)
}

// nest wraps a leaf node under the given path segments, producing a branch.
func nest(segments []string, leaf *Node) Branch {
	node := leaf
	for i := len(segments) - 1; i >= 1; i-- {
		node = &Node{Children: map[string]*Node{normalizeSegment(segments[i]): node}}
	}
	return Branch{normalizeSegment(segments[0]): node}
}

// nestChildren builds a single-entry children map chaining the leaf under
// the given path segments.
func nestChildren(segments []string, leaf *Node) map[string]*Node {
	node := leaf
	for i := len(segments) - 1; i >= 1; i-- {
		node = &Node{Children: map[string]*Node{normalizeSegment(segments[i]): node}}
	}
	return map[string]*Node{normalizeSegment(segments[0]): node}
}

// crossMerge computes the Cartesian AND-product of two branch sets.
func crossMerge(left, right []Branch) []Branch {
	out := make([]Branch, 0, len(left)*len(right))
	for _, l := range left {
		for _, r := range right {
			merged := cloneBranch(l)
			for key, node := range r {
				if existing, ok := merged[key]; ok {
					mergeNode(existing, node)
				} else {
					merged[key] = cloneNode(node)
				}
			}
			out = append(out, merged)
		}
	}
	return out
}

// negateBranches applies De Morgan's laws to a disjunctive normal form:
// the negation of (B1 or B2) is (not B1) and (not B2), and the negation of
// an AND-branch is the disjunction of its negated atoms. The result is
// re-multiplied back into DNF.
func negateBranches(branches []Branch) []Branch {
	out := []Branch{{}}
	for _, branch := range branches {
		atoms := collectAtoms(branch, nil)
		var next []Branch
		for _, existing := range out {
			for _, atom := range atoms {
				flipped := atom.cond
				flipped.Not = !flipped.Not
				merged := cloneBranch(existing)
				addAtom(merged, atom.path, flipped)
				next = append(next, merged)
			}
		}
		out = next
	}
	return out
}

type atom struct {
	path []string
	cond Condition
}

func collectAtoms(branch Branch, prefix []string) []atom {
	var atoms []atom
	for key, node := range branch {
		path := append(append([]string(nil), prefix...), key)
		for _, cond := range node.Conditions {
			atoms = append(atoms, atom{path: path, cond: cond})
		}
		if len(node.Children) > 0 {
			atoms = append(atoms, collectAtoms(node.Children, path)...)
		}
	}
	return atoms
}

func addAtom(branch Branch, path []string, cond Condition) {
	node, ok := branch[path[0]]
	if !ok {
		node = &Node{}
		branch[path[0]] = node
	}
	for _, seg := range path[1:] {
		if node.Children == nil {
			node.Children = map[string]*Node{}
		}
		child, ok := node.Children[seg]
		if !ok {
			child = &Node{}
			node.Children[seg] = child
		}
		node = child
	}
	node.Conditions = append(node.Conditions, cond)
}

func mergeNode(dst, src *Node) {
	dst.Conditions = append(dst.Conditions, src.Conditions...)
	for key, child := range src.Children {
		if dst.Children == nil {
			dst.Children = map[string]*Node{}
		}
		if existing, ok := dst.Children[key]; ok {
			mergeNode(existing, child)
		} else {
			dst.Children[key] = cloneNode(child)
		}
	}
}

func cloneBranch(branch Branch) Branch {
	out := make(Branch, len(branch))
	for key, node := range branch {
		out[key] = cloneNode(node)
	}
	return out
}

func cloneNode(node *Node) *Node {
	dup := &Node{Conditions: append([]Condition(nil), node.Conditions...)}
	if len(node.Children) > 0 {
		dup.Children = make(map[string]*Node, len(node.Children))
		for key, child := range node.Children {
			dup.Children[key] = cloneNode(child)
		}
	}
	return dup
}
