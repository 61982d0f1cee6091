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

package patch

import (
	"reflect"
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/scim"
	"github.com/gravitational/scim/attribute"
	"github.com/gravitational/scim/filter"
	"github.com/gravitational/scim/schema"
)

// segment is one step of a patch path: an attribute name plus an optional
// bracket filter narrowing a multi-valued value.
type segment struct {
	name   string
	filter string
}

// splitPath splits a patch path into segments. Dots inside bracket filters
// (sub-filter paths, decimal literals) never split.
func splitPath(path string) ([]segment, error) {
	var segments []segment
	var name strings.Builder

	flush := func(filterExpr string) error {
		if name.Len() == 0 {
			return scim.NewInvalidPath("malformed attribute path %q", path)
		}
		segments = append(segments, segment{name: name.String(), filter: filterExpr})
		name.Reset()
		return nil
	}

	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '.':
			if err := flush(""); err != nil {
				return nil, trace.Wrap(err)
			}
		case '[':
			inner, next, ok := scanBracket(path[i:])
			if !ok {
				return nil, scim.NewInvalidPath("missing closing ']' in attribute path %q", path)
			}
			if err := flush(inner); err != nil {
				return nil, trace.Wrap(err)
			}
			i += next - 1
			if i+1 < len(path) {
				if path[i+1] != '.' {
					return nil, scim.NewInvalidPath("unexpected character %q after filter in path %q", string(path[i+1]), path)
				}
				i++
			}
		default:
			name.WriteByte(path[i])
		}
	}
	if name.Len() > 0 {
		segments = append(segments, segment{name: name.String()})
	}
	if len(segments) == 0 {
		return nil, scim.NewInvalidPath("empty attribute path")
	}
	return segments, nil
}

// scanBracket consumes a balanced [...] run from the head of input, skipping
// quoted strings, and returns the inner substring and the index just past
// the closing bracket.
func scanBracket(input string) (inner string, next int, ok bool) {
	depth := 0
	for i := 0; i < len(input); i++ {
		switch input[i] {
		case '"':
			for i++; i < len(input); i++ {
				if input[i] == '\\' {
					i++
				} else if input[i] == '"' {
					break
				}
			}
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return input[1:i], i + 1, true
			}
		}
	}
	return "", 0, false
}

// target is one concrete (object, property) pair a patch operation applies
// to. When the path's final segment carried a bracket filter, matched holds
// the narrowed elements (aliasing the live slice elements) and the target is
// the narrowed set rather than a leaf property.
type target struct {
	parent  map[string]any
	prop    string
	matched []map[string]any
}

// resolve walks a patch path against the resource's attribute-set map and
// returns the concrete targets plus the attribute definition of the
// filtered-out path. lazy creates missing intermediate complex containers
// (add semantics); without it, a missing intermediate is simply no match.
// The returned attribute is nil when the path names a whole extension
// namespace.
func resolve(def *schema.Definition, data map[string]any, path string, lazy bool) ([]target, *attribute.Type, error) {
	nsID, rest := def.ResolveNamespace(path)

	container := data
	if nsID != "" {
		if rest == "" {
			// The whole extension namespace is the target.
			key := actualKey(data, nsID)
			return []target{{parent: data, prop: key}}, nil, nil
		}
		sub := foldGet(data, nsID)
		if sub == nil {
			if !lazy {
				return nil, nil, nil
			}
			created := map[string]any{}
			data[nsID] = created
			sub = created
		}
		m, ok := sub.(map[string]any)
		if !ok {
			return nil, nil, scim.NewInvalidPath("extension %q does not hold a complex value", nsID)
		}
		container = m
	}

	segments, err := splitPath(rest)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}

	// Resolve the attribute definition for the filtered-out path before
	// walking: an unresolvable path is invalidPath regardless of the data.
	attr, err := def.Attribute(attributePath(nsID, segments))
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}

	parents := []map[string]any{container}
	for idx, seg := range segments {
		last := idx == len(segments)-1
		if last {
			targets, err := resolveLeaf(parents, seg, lazy)
			return targets, attr, trace.Wrap(err)
		}

		var next []map[string]any
		for _, parent := range parents {
			key := actualKey(parent, seg.name)
			value, ok := parent[key]
			if !ok || value == nil {
				if !lazy {
					// Missing intermediate: no match, not an error.
					continue
				}
				created := map[string]any{}
				parent[key] = created
				value = created
			}
			narrowed, err := narrow(value, seg.filter)
			if err != nil {
				return nil, nil, trace.Wrap(err)
			}
			next = append(next, narrowed...)
		}
		parents = next
	}
	return nil, attr, nil
}

// resolveLeaf produces the targets for the path's final segment.
func resolveLeaf(parents []map[string]any, seg segment, lazy bool) ([]target, error) {
	var targets []target
	for _, parent := range parents {
		key := actualKey(parent, seg.name)
		value, ok := parent[key]

		if seg.filter == "" {
			if !ok && !lazy {
				continue
			}
			targets = append(targets, target{parent: parent, prop: key})
			continue
		}

		if !ok {
			continue
		}
		expr, err := filter.New(seg.filter)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		matched := expr.Match(elementMaps(value))
		if len(matched) == 0 {
			continue
		}
		targets = append(targets, target{parent: parent, prop: key, matched: matched})
	}
	return targets, nil
}

// narrow turns an intermediate value into the set of maps traversal
// continues through, applying a bracket filter when present. Scalar values
// in the way are traversal misses, not errors.
func narrow(value any, filterExpr string) ([]map[string]any, error) {
	switch v := value.(type) {
	case map[string]any:
		if filterExpr == "" {
			return []map[string]any{v}, nil
		}
		expr, err := filter.New(filterExpr)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return expr.Match([]map[string]any{v}), nil
	case []any:
		elems := elementMaps(v)
		if filterExpr == "" {
			return elems, nil
		}
		expr, err := filter.New(filterExpr)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return expr.Match(elems), nil
	default:
		return nil, nil
	}
}

// attributePath reassembles the dotted attribute path with filters stripped,
// re-qualifying with the extension URN when present.
func attributePath(nsID string, segments []segment) string {
	names := make([]string, len(segments))
	for i, seg := range segments {
		names[i] = seg.name
	}
	path := strings.Join(names, ".")
	if nsID != "" {
		return nsID + ":" + path
	}
	return path
}

// elementMaps extracts the complex elements of a multi-valued value;
// non-map elements do not participate in filtered traversal.
func elementMaps(value any) []map[string]any {
	elems, ok := value.([]any)
	if !ok {
		if m, ok := value.(map[string]any); ok {
			return []map[string]any{m}
		}
		return nil
	}
	out := make([]map[string]any, 0, len(elems))
	for _, elem := range elems {
		if m, ok := elem.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// actualKey returns the existing case-insensitive key match in m, or name
// itself when absent.
func actualKey(m map[string]any, name string) string {
	if _, ok := m[name]; ok {
		return name
	}
	for k := range m {
		if strings.EqualFold(k, name) {
			return k
		}
	}
	return name
}

func foldGet(m map[string]any, name string) any {
	return m[actualKey(m, name)]
}

// sameMap reports whether two maps are the same underlying object.
func sameMap(a, b map[string]any) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
