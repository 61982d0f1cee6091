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

package attribute

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/scim"
)

// Coerce validates and normalizes a raw value against the attribute
// definition for an operation running in the given direction. It returns the
// normalized value: scalars come back as their canonical Go type (string,
// bool, int64, float64), complex values as a sealed [*ComplexValue], and
// multi-valued attributes as a live-validating [*Collection].
//
// A nil value returns nil unless the attribute is required and applies to
// the direction. An attribute whose declared direction does not apply to the
// operation is invisible: its value passes through untouched as nil.
func (t *Type) Coerce(value any, dir scim.Direction) (any, error) {
	return t.coerce(value, dir, false)
}

func (t *Type) coerce(value any, dir scim.Direction, nested bool) (any, error) {
	if !t.direction.Applies(dir) {
		return nil, nil
	}

	if value == nil {
		if t.required {
			return nil, scim.NewInvalidValue("required attribute %q is missing", t.name)
		}
		return nil, nil
	}

	if t.multiValued && !nested {
		return t.coerceMulti(value, dir)
	}

	elems, isSlice := asSlice(value)
	if isSlice && !t.multiValued {
		return nil, scim.NewInvalidValue("attribute %q is not multi-valued and cannot hold %d values", t.name, len(elems))
	}

	return t.coerceScalar(value, dir, nested)
}

// coerceMulti wraps the raw value (a slice, or a scalar treated as a
// singleton) in a Collection whose mutating operations re-run scalar
// coercion.
func (t *Type) coerceMulti(value any, dir scim.Direction) (any, error) {
	if c, ok := value.(*Collection); ok {
		value = c.Values()
	}
	elems, ok := asSlice(value)
	if !ok {
		elems = []any{value}
	}

	collection := &Collection{attr: t, dir: dir}
	for i, elem := range elems {
		if err := collection.Append(elem); err != nil {
			return nil, trace.Wrap(err, "coercing element %d of attribute %q", i, t.name)
		}
	}
	return collection, nil
}

func (t *Type) coerceScalar(value any, dir scim.Direction, nested bool) (any, error) {
	switch t.typ {
	case String, Reference, Binary:
		return t.coerceStringish(value)
	case DateTime:
		return t.coerceDateTime(value)
	case Integer, Decimal:
		return t.coerceNumber(value)
	case Boolean:
		return t.coerceBoolean(value)
	case Complex:
		return t.coerceComplex(value, dir)
	default:
		return nil, scim.NewInvalidValue("attribute %q has unsupported type %q", t.name, t.typ)
	}
}

func (t *Type) coerceStringish(value any) (any, error) {
	s, ok := stringify(value)
	if !ok {
		return nil, scim.NewInvalidValue("attribute %q expected a %s value, got %T", t.name, t.typ, value)
	}

	switch t.typ {
	case Reference:
		if err := t.validateReference(s); err != nil {
			return nil, err
		}
	case Binary:
		if !isBase64(s) {
			return nil, scim.NewInvalidValue("attribute %q expected base64-encoded binary data", t.name)
		}
	}

	if err := t.checkCanonical(s); err != nil {
		return nil, err
	}
	return s, nil
}

// dateShaped is a plausibility gate applied after parsing: values that parse
// but do not look like ISO 8601 timestamps or dates are rejected.
var dateShaped = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([Tt ]\d{2}:\d{2}:\d{2}(\.\d+)?([Zz]|[+-]\d{2}:\d{2})?)?$`)

func (t *Type) coerceDateTime(value any) (any, error) {
	if ts, ok := value.(time.Time); ok {
		return ts.Format(time.RFC3339Nano), nil
	}
	if ts, ok := value.(*time.Time); ok && ts != nil {
		return ts.Format(time.RFC3339Nano), nil
	}

	s, ok := value.(string)
	if !ok || !dateShaped.MatchString(s) {
		return nil, scim.NewInvalidValue("attribute %q expected an ISO 8601 dateTime, got %v", t.name, value)
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.Format(time.RFC3339Nano), nil
		}
	}
	return nil, scim.NewInvalidValue("attribute %q expected an ISO 8601 dateTime, got %q", t.name, s)
}

var numberShaped = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// coerceNumber enforces the integer/decimal split: an integer value must not
// contain a fraction, and a decimal value must. The two are mutually
// exclusive type errors, never silent conversions.
func (t *Type) coerceNumber(value any) (any, error) {
	var s string
	switch v := value.(type) {
	case int:
		s = strconv.Itoa(v)
	case int32:
		s = strconv.FormatInt(int64(v), 10)
	case int64:
		s = strconv.FormatInt(v, 10)
	case float32:
		s = strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		s = v
	default:
		return nil, scim.NewInvalidValue("attribute %q expected a %s value, got %T", t.name, t.typ, value)
	}

	if !numberShaped.MatchString(s) {
		return nil, scim.NewInvalidValue("attribute %q expected a %s value, got %q", t.name, t.typ, s)
	}

	hasFraction := strings.Contains(s, ".")
	switch {
	case t.typ == Integer && hasFraction:
		return nil, scim.NewInvalidValue("attribute %q expected an integer value, got decimal %q", t.name, s)
	case t.typ == Decimal && !hasFraction:
		return nil, scim.NewInvalidValue("attribute %q expected a decimal value, got integer %q", t.name, s)
	}

	if t.typ == Integer {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, scim.NewInvalidValue("attribute %q expected an integer value, got %q", t.name, s)
		}
		return n, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, scim.NewInvalidValue("attribute %q expected a decimal value, got %q", t.name, s)
	}
	return f, nil
}

func (t *Type) coerceBoolean(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		if strings.EqualFold(v, "true") {
			return true, nil
		}
		if strings.EqualFold(v, "false") {
			return false, nil
		}
	}
	return nil, scim.NewInvalidValue("attribute %q expected a boolean value, got %v", t.name, value)
}

func (t *Type) coerceComplex(value any, dir scim.Direction) (any, error) {
	var source map[string]any
	switch v := value.(type) {
	case map[string]any:
		source = v
	case *ComplexValue:
		source = v.ToMap()
	default:
		return nil, scim.NewInvalidValue("attribute %q expected a complex value, got %T", t.name, value)
	}

	// Reject undeclared keys first so the error names the offending key
	// rather than a generic extensibility failure.
	for key := range source {
		if _, ok := t.SubAttribute(key); !ok {
			return nil, scim.NewInvalidValue("complex attribute %q does not declare sub-attribute %q", t.name, key)
		}
	}

	complexValue := &ComplexValue{attr: t, dir: dir, values: make(map[string]any)}
	for _, sub := range t.subAttributes {
		raw := lookupFold(source, sub.name)
		coerced, err := sub.coerce(raw, dir, true)
		if err != nil {
			return nil, trace.Wrap(err, "coercing sub-attribute of %q", t.name)
		}
		if coerced != nil {
			complexValue.values[strings.ToLower(sub.name)] = coerced
		}
	}
	return complexValue, nil
}

func (t *Type) checkCanonical(s string) error {
	if len(t.canonicalValues) == 0 {
		return nil
	}
	for _, canon := range t.canonicalValues {
		if s == canon || (!t.caseExact && strings.EqualFold(s, canon)) {
			return nil
		}
	}
	return scim.NewInvalidValue("attribute %q expects one of [%s], got %q",
		t.name, strings.Join(t.canonicalValues, ", "), s)
}

// validateReference checks a reference value against the declared reference
// kinds: a resource type name accepts values carrying that name as a path
// segment or prefix, "external" accepts absolute URLs with a hostname, and
// "uri" accepts absolute URLs or rooted paths.
func (t *Type) validateReference(s string) error {
	if len(t.referenceTypes) == 0 {
		return nil
	}
	for _, kind := range t.referenceTypes {
		switch kind {
		case ReferenceExternal:
			if u, err := url.Parse(s); err == nil && u.IsAbs() && u.Host != "" {
				return nil
			}
		case ReferenceURI:
			if strings.HasPrefix(s, "/") {
				return nil
			}
			if u, err := url.Parse(s); err == nil && u.IsAbs() {
				return nil
			}
		default:
			if strings.HasPrefix(s, kind) || slices.Contains(strings.Split(s, "/"), kind) {
				return nil
			}
		}
	}
	return scim.NewInvalidValue("attribute %q expects a reference of kind [%s], got %q",
		t.name, strings.Join(t.referenceTypes, ", "), s)
}

// stringify renders scalar values as strings the way JSON would; composite
// values are not castable.
func stringify(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case int:
		return strconv.Itoa(v), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case fmt.Stringer:
		return v.String(), true
	default:
		return "", false
	}
}

func isBase64(s string) bool {
	if _, err := base64.StdEncoding.DecodeString(s); err == nil {
		return true
	}
	_, err := base64.RawStdEncoding.DecodeString(s)
	return err == nil
}

// asSlice normalizes the slice shapes that reach coercion from JSON
// decoding and from the module's own containers.
func asSlice(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		elems := make([]any, len(v))
		for i, s := range v {
			elems[i] = s
		}
		return elems, true
	case []map[string]any:
		elems := make([]any, len(v))
		for i, m := range v {
			elems[i] = m
		}
		return elems, true
	case *Collection:
		return v.Values(), true
	default:
		return nil, false
	}
}

// lookupFold finds a map entry by case-insensitive key.
func lookupFold(m map[string]any, name string) any {
	if v, ok := m[name]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}
