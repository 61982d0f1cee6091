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
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/scim"
	"github.com/gravitational/scim/attribute"
	"github.com/gravitational/scim/filter"
	"github.com/gravitational/scim/schema"
)

// Finalizer lets the caller round-trip the patched resource through an
// external store before the final comparison; it returns the raw attribute
// set the result is reconstructed from. Awaited exactly once per Apply.
type Finalizer func(ctx context.Context, res *schema.Resource) (map[string]any, error)

type applyOptions struct {
	finalize Finalizer
	logger   *slog.Logger
}

// ApplyOption configures a single Apply call.
type ApplyOption func(*applyOptions)

// WithFinalizer installs the store round-trip hook.
func WithFinalizer(fn Finalizer) ApplyOption {
	return func(o *applyOptions) { o.finalize = fn }
}

// WithLogger installs a logger for per-operation debug output.
func WithLogger(logger *slog.Logger) ApplyOption {
	return func(o *applyOptions) { o.logger = logger }
}

// Apply runs the patch against a resource. The resource itself is never
// mutated: operations apply in order to a working copy constructed through
// the resource's own definition, and the first failing operation aborts the
// whole apply. The returned resource is nil when the outcome is deep-equal
// to the original (ignoring meta) — "nothing changed".
func (p *PatchOp) Apply(ctx context.Context, res *schema.Resource, opts ...ApplyOption) (*schema.Resource, error) {
	options := applyOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}

	def := res.Definition()
	original := res.ToMap()

	working, err := def.Coerce(original, res.Direction())
	if err != nil {
		return nil, trace.Wrap(err, "cloning resource for patching")
	}

	for i, op := range p.Operations {
		options.logger.DebugContext(ctx, "applying patch operation",
			"op", op.Op, "path", op.Path, "index", i+1)

		previous := working.ToMap()
		data := working.ToMap()
		if err := applyOperation(def, data, op); err != nil {
			return nil, trace.Wrap(err, "applying operation %d", i+1)
		}

		next, err := def.Coerce(data, res.Direction())
		if err != nil {
			return nil, trace.Wrap(err, "validating the result of operation %d", i+1)
		}
		if err := checkImmutable(def, previous, next.ToMap()); err != nil {
			return nil, trace.Wrap(err, "applying operation %d", i+1)
		}
		working = next
	}

	if options.finalize != nil {
		raw, err := options.finalize(ctx, working)
		if err != nil {
			return nil, trace.Wrap(err, "finalizing patched resource")
		}
		working, err = def.Coerce(raw, res.Direction())
		if err != nil {
			return nil, trace.Wrap(err, "reconstructing finalized resource")
		}
	}

	if equalIgnoringMeta(original, working.ToMap()) {
		return nil, nil
	}
	return working, nil
}

// applyOperation mutates the working attribute-set map per one operation.
// Coercion of the result happens in the caller.
func applyOperation(def *schema.Definition, data map[string]any, op Operation) error {
	switch op.Op {
	case OpAdd:
		if !op.hasPath || op.Path == "" {
			return trace.Wrap(applyPathless(def, data, OpAdd, op.Value))
		}
		return trace.Wrap(applyAdd(def, data, op.Path, op.Value))
	case OpRemove:
		return trace.Wrap(applyRemove(def, data, op.Path, op.Value))
	case OpReplace:
		return trace.Wrap(applyReplace(def, data, op))
	default:
		return scim.NewInvalidSyntax("invalid patch op %q", op.Op)
	}
}

// applyPathless handles add/replace without a path: the value must be a
// plain object whose entries apply as individual path-qualified operations.
func applyPathless(def *schema.Definition, data map[string]any, opName string, value any) error {
	entries, ok := value.(map[string]any)
	if !ok {
		return scim.NewInvalidValue("a %q op without a path requires an object value, got %T", opName, value)
	}
	for key, entry := range entries {
		if strings.EqualFold(key, "schemas") {
			continue
		}
		if err := applyAdd(def, data, key, entry); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

func applyAdd(def *schema.Definition, data map[string]any, path string, value any) error {
	targets, attr, err := resolve(def, data, path, true)
	if err != nil {
		return trace.Wrap(err)
	}
	if len(targets) == 0 {
		return scim.NewNoTarget("no target found for 'add' op at path %q", path)
	}

	for _, t := range targets {
		if t.matched != nil {
			// The filter narrowed to concrete elements: merge into each.
			entries, ok := value.(map[string]any)
			if !ok {
				return scim.NewInvalidValue("'add' op on filtered path %q requires an object value, got %T", path, value)
			}
			for _, elem := range t.matched {
				mergeInto(elem, entries)
			}
			continue
		}

		switch {
		case attr == nil:
			// Whole extension namespace.
			entries, ok := value.(map[string]any)
			if !ok {
				return scim.NewInvalidValue("'add' op on extension %q requires an object value, got %T", path, value)
			}
			existing, ok := t.parent[t.prop].(map[string]any)
			if !ok {
				existing = map[string]any{}
				t.parent[t.prop] = existing
			}
			mergeInto(existing, entries)

		case attr.MultiValued():
			elems, ok := value.([]any)
			if !ok {
				elems = []any{value}
			}
			if existing, ok := t.parent[t.prop].([]any); ok {
				t.parent[t.prop] = append(existing, elems...)
			} else {
				t.parent[t.prop] = elems
			}

		case attr.Type() == attribute.Complex:
			entries, isObject := value.(map[string]any)
			existing, hasExisting := t.parent[t.prop].(map[string]any)
			if isObject && hasExisting {
				mergeInto(existing, entries)
			} else {
				t.parent[t.prop] = value
			}

		default:
			t.parent[t.prop] = value
		}
	}
	return nil
}

func applyRemove(def *schema.Definition, data map[string]any, path string, value any) error {
	targets, attr, err := resolve(def, data, path, false)
	if err != nil {
		return trace.Wrap(err)
	}
	if len(targets) == 0 {
		return scim.NewNoTarget("no target found for 'remove' op at path %q", path)
	}

	for _, t := range targets {
		switch {
		case t.matched != nil:
			// The filter narrowed to a container, not a leaf: drop the
			// matched elements themselves.
			dropElements(t.parent, t.prop, t.matched)

		case value != nil && attr != nil && attr.MultiValued():
			if err := removeByValue(t.parent, t.prop, value); err != nil {
				return trace.Wrap(err)
			}

		default:
			delete(t.parent, t.prop)
		}
	}
	return nil
}

func applyReplace(def *schema.Definition, data map[string]any, op Operation) error {
	if !op.hasPath || op.Path == "" {
		if err := applyPathless(def, data, OpReplace, op.Value); err != nil {
			return trace.Wrap(rewriteOpName(err))
		}
		return nil
	}

	segments, err := splitPath(strippedNamespacePath(def, op.Path))
	if err != nil {
		return trace.Wrap(err)
	}

	// A filter on the final segment replaces the matched elements in
	// place. The targets resolve before anything is removed, so the
	// remove step can never strand the add.
	if segments[len(segments)-1].filter != "" {
		targets, _, err := resolve(def, data, op.Path, false)
		if err != nil {
			return trace.Wrap(rewriteOpName(err))
		}
		if len(targets) == 0 {
			return scim.NewNoTarget("no target found for 'replace' op at path %q", op.Path)
		}
		for _, t := range targets {
			if err := replaceElements(t.parent, t.prop, t.matched, op.Value); err != nil {
				return trace.Wrap(err)
			}
		}
		return nil
	}

	// Elsewhere replace composes as best-effort remove followed by add;
	// a remove miss is fine, only add errors propagate, re-attributed to
	// the replace op.
	_ = applyRemove(def, data, op.Path, nil)
	if err := applyAdd(def, data, op.Path, op.Value); err != nil {
		return trace.Wrap(rewriteOpName(err))
	}
	return nil
}

// strippedNamespacePath drops the extension URN qualifier so splitPath only
// sees dotted segments.
func strippedNamespacePath(def *schema.Definition, path string) string {
	nsID, rest := def.ResolveNamespace(path)
	if nsID != "" && rest != "" {
		return rest
	}
	if nsID != "" {
		return nsID
	}
	return path
}

// mergeInto shallow-merges entries into dst, overwriting per key.
func mergeInto(dst, entries map[string]any) {
	for key, value := range entries {
		dst[actualKey(dst, key)] = value
	}
}

// dropElements removes the matched elements (by identity) from the slice at
// parent[prop], unsetting the property entirely when nothing remains.
func dropElements(parent map[string]any, prop string, matched []map[string]any) {
	elems, ok := parent[prop].([]any)
	if !ok {
		delete(parent, prop)
		return
	}
	kept := make([]any, 0, len(elems))
	for _, elem := range elems {
		m, isMap := elem.(map[string]any)
		if isMap && containsSameMap(matched, m) {
			continue
		}
		kept = append(kept, elem)
	}
	if len(kept) == 0 {
		delete(parent, prop)
		return
	}
	parent[prop] = kept
}

// replaceElements swaps each matched element for the replacement value in
// place, preserving the position of unmatched elements.
func replaceElements(parent map[string]any, prop string, matched []map[string]any, value any) error {
	elems, ok := parent[prop].([]any)
	if !ok {
		return scim.NewNoTarget("no multi-valued target found for 'replace' op at %q", prop)
	}
	for i, elem := range elems {
		m, isMap := elem.(map[string]any)
		if !isMap || !containsSameMap(matched, m) {
			continue
		}
		if entries, ok := value.(map[string]any); ok {
			merged := make(map[string]any, len(m)+len(entries))
			for k, v := range m {
				merged[k] = v
			}
			mergeInto(merged, entries)
			elems[i] = merged
		} else {
			elems[i] = value
		}
	}
	return nil
}

// removeByValue drops the elements of a multi-valued attribute matching the
// removal value: direct equality membership for scalar values, a
// constructed equality filter for complex values. The attribute unsets
// entirely when no elements remain.
func removeByValue(parent map[string]any, prop string, value any) error {
	elems, ok := parent[prop].([]any)
	if !ok {
		delete(parent, prop)
		return nil
	}

	removals, ok := value.([]any)
	if !ok {
		removals = []any{value}
	}

	kept := make([]any, 0, len(elems))
	for _, elem := range elems {
		matched, err := matchesRemoval(elem, removals)
		if err != nil {
			return trace.Wrap(err)
		}
		if !matched {
			kept = append(kept, elem)
		}
	}
	if len(kept) == 0 {
		delete(parent, prop)
		return nil
	}
	parent[prop] = kept
	return nil
}

func matchesRemoval(elem any, removals []any) (bool, error) {
	for _, removal := range removals {
		entries, isComplex := removal.(map[string]any)
		if !isComplex {
			if scalarEqual(elem, removal) {
				return true, nil
			}
			continue
		}

		m, isMap := elem.(map[string]any)
		if !isMap {
			continue
		}
		expr, err := removalFilter(entries)
		if err != nil {
			return false, trace.Wrap(err)
		}
		if expr.Matches(m) {
			return true, nil
		}
	}
	return false, nil
}

// removalFilter builds an equality filter expression from a complex removal
// value, one clause per entry.
func removalFilter(entries map[string]any) (*filter.Expression, error) {
	clauses := make([]string, 0, len(entries))
	for key, value := range entries {
		clauses = append(clauses, fmt.Sprintf("%s eq %s", key, filterLiteral(value)))
	}
	sort.Strings(clauses)
	expr, err := filter.New(strings.Join(clauses, " and "))
	return expr, trace.Wrap(err)
}

func filterLiteral(value any) string {
	switch v := value.(type) {
	case string:
		return strconv.Quote(v)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return "null"
	default:
		return fmt.Sprint(v)
	}
}

// scalarEqual compares a scalar removal value against a coerced element.
// Numbers compare across int/float representations: removal values arrive
// JSON-decoded as float64 while coerced integer elements are int64.
func scalarEqual(elem, removal any) bool {
	if ef, ok := toNumber(elem); ok {
		rf, ok := toNumber(removal)
		return ok && ef == rf
	}
	return reflect.DeepEqual(elem, removal)
}

func toNumber(value any) (float64, bool) {
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

func containsSameMap(set []map[string]any, m map[string]any) bool {
	for _, candidate := range set {
		if sameMap(candidate, m) {
			return true
		}
	}
	return false
}

// checkImmutable rejects operations that changed the value of an immutable
// attribute that was already set.
func checkImmutable(def *schema.Definition, before, after map[string]any) error {
	if err := checkImmutableAttrs(def.Attributes(), before, after); err != nil {
		return trace.Wrap(err)
	}
	for _, ext := range def.Extensions() {
		prevNS, _ := foldGet(before, ext.Definition.ID()).(map[string]any)
		nextNS, _ := foldGet(after, ext.Definition.ID()).(map[string]any)
		if prevNS == nil {
			continue
		}
		if err := checkImmutableAttrs(ext.Definition.Attributes(), prevNS, nextNS); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

func checkImmutableAttrs(attrs []*attribute.Type, before, after map[string]any) error {
	for _, attr := range attrs {
		prev := foldGet(before, attr.Name())
		next := foldGet(after, attr.Name())

		if attr.Mutability() == attribute.Immutable {
			if prev != nil && next != nil && !reflect.DeepEqual(prev, next) {
				return scim.NewMutability("attribute %q is immutable and already has a value", attr.Name())
			}
			continue
		}

		// Immutable sub-attributes of a single-valued complex attribute
		// are guarded too. Elements of a multi-valued attribute carry no
		// stable identity in plain-map form, so whole-element add and
		// remove stay legal there.
		if attr.Type() != attribute.Complex || attr.MultiValued() {
			continue
		}
		prevMap, _ := prev.(map[string]any)
		nextMap, _ := next.(map[string]any)
		if prevMap == nil || nextMap == nil {
			continue
		}
		if err := checkImmutableAttrs(attr.SubAttributes(), prevMap, nextMap); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// equalIgnoringMeta compares two attribute sets for deep equality, ignoring
// the meta attribute on both sides.
func equalIgnoringMeta(a, b map[string]any) bool {
	return reflect.DeepEqual(withoutMeta(a), withoutMeta(b))
}

func withoutMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for key, value := range m {
		if strings.EqualFold(key, "meta") {
			continue
		}
		out[key] = value
	}
	return out
}

// rewriteOpName re-attributes an error raised inside the remove/add legs of
// a replace so callers see the op they actually requested.
func rewriteOpName(err error) error {
	scimErr, ok := scim.AsError(err)
	if !ok {
		return err
	}
	detail := scimErr.Detail
	detail = strings.ReplaceAll(detail, "'add' op", "'replace' op")
	detail = strings.ReplaceAll(detail, "'remove' op", "'replace' op")
	if detail == scimErr.Detail {
		return err
	}
	return &scim.Error{Status: scimErr.Status, ScimType: scimErr.ScimType, Detail: detail}
}
