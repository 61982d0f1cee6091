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

	"github.com/gravitational/scim"
)

type tokenKind int

const (
	tokPath tokenKind = iota
	tokLogical
	tokComparator
	tokNumber
	tokString
	tokGroup
	tokBracket
)

// token is one lexical unit of a filter expression. Group and bracket tokens
// carry their inner substring verbatim for recursive re-scanning.
type token struct {
	kind tokenKind
	text string
}

// Comparator is an RFC 7644 §3.4.2.2 comparison operator. Np ("not present")
// is the negated form of Pr.
type Comparator string

const (
	Eq Comparator = "eq"
	Ne Comparator = "ne"
	Co Comparator = "co"
	Sw Comparator = "sw"
	Ew Comparator = "ew"
	Gt Comparator = "gt"
	Lt Comparator = "lt"
	Ge Comparator = "ge"
	Le Comparator = "le"
	Pr Comparator = "pr"
	Np Comparator = "np"
)

var comparators = map[string]Comparator{
	"eq": Eq, "ne": Ne, "co": Co, "sw": Sw, "ew": Ew,
	"gt": Gt, "lt": Lt, "ge": Ge, "le": Le, "pr": Pr, "np": Np,
}

var (
	numberRe = regexp.MustCompile(`^-?\d+(\.\d+)?`)
	wordRe   = regexp.MustCompile(`^[-$_.:0-9A-Za-z]+`)
)

// scan tokenizes a filter expression. Parenthesized groups and bracketed
// sub-filters are captured as opaque balanced substrings; bare words are
// classified as logical operators, comparators, or attribute-path words.
func scan(input string) ([]token, error) {
	var tokens []token
	rest := input
	for len(rest) > 0 {
		switch c := rest[0]; {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			rest = rest[1:]

		case c == '(':
			inner, remainder, ok := scanBalanced(rest, '(', ')')
			if !ok {
				return nil, scim.NewInvalidFilter("missing closing ')' in filter expression %q", input)
			}
			tokens = append(tokens, token{kind: tokGroup, text: inner})
			rest = remainder

		case c == '[':
			inner, remainder, ok := scanBalanced(rest, '[', ']')
			if !ok {
				return nil, scim.NewInvalidFilter("missing closing ']' in filter expression %q", input)
			}
			tokens = append(tokens, token{kind: tokBracket, text: inner})
			rest = remainder

		case c == '"':
			text, remainder, ok := scanString(rest)
			if !ok {
				return nil, scim.NewInvalidFilter("unterminated string literal in filter expression %q", input)
			}
			tokens = append(tokens, token{kind: tokString, text: text})
			rest = remainder

		case c >= '0' && c <= '9' || (c == '-' && len(rest) > 1 && rest[1] >= '0' && rest[1] <= '9'):
			match := numberRe.FindString(rest)
			tokens = append(tokens, token{kind: tokNumber, text: match})
			rest = rest[len(match):]

		case wordRe.MatchString(rest):
			match := wordRe.FindString(rest)
			tokens = append(tokens, classifyWord(match))
			rest = rest[len(match):]

		default:
			return nil, scim.NewInvalidFilter("unexpected token %q in filter expression %q", string(c), input)
		}
	}
	return tokens, nil
}

func classifyWord(word string) token {
	switch lower := strings.ToLower(word); lower {
	case "and", "or", "not":
		return token{kind: tokLogical, text: lower}
	default:
		if _, ok := comparators[lower]; ok {
			return token{kind: tokComparator, text: lower}
		}
		return token{kind: tokPath, text: word}
	}
}

// scanBalanced consumes a balanced open..close run from the head of input,
// skipping over quoted strings, and returns the inner substring and the
// remainder. ok is false when the closer is missing.
func scanBalanced(input string, open, close byte) (inner, remainder string, ok bool) {
	depth := 0
	for i := 0; i < len(input); i++ {
		switch input[i] {
		case '"':
			_, rest, ok := scanString(input[i:])
			if !ok {
				return "", "", false
			}
			i = len(input) - len(rest) - 1
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return input[1:i], input[i+1:], true
			}
		}
	}
	return "", "", false
}

// scanString consumes a double-quoted string literal from the head of input
// and returns its unquoted value and the remainder.
func scanString(input string) (text, remainder string, ok bool) {
	for i := 1; i < len(input); i++ {
		switch input[i] {
		case '\\':
			i++
		case '"':
			unquoted, err := strconv.Unquote(input[:i+1])
			if err != nil {
				// Fall back to a literal strip for escapes strconv does
				// not recognize.
				unquoted = strings.ReplaceAll(input[1:i], `\"`, `"`)
			}
			return unquoted, input[i+1:], true
		}
	}
	return "", "", false
}

// SplitPath splits a dotted attribute path into segments. A URN-qualified
// extension path ("urn:...:2.0:User:employeeNumber") keeps the URN intact as
// the first segment: dots inside the URN never split.
func SplitPath(path string) []string {
	if idx := strings.LastIndex(path, ":"); idx >= 0 {
		return append([]string{path[:idx]}, strings.Split(path[idx+1:], ".")...)
	}
	return strings.Split(path, ".")
}

// normalizeSegment lower-camel-cases a plain path segment; URN segments pass
// through untouched.
func normalizeSegment(seg string) string {
	if seg == "" || strings.Contains(seg, ":") {
		return seg
	}
	return strings.ToLower(seg[:1]) + seg[1:]
}
