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
	"reflect"
	"strings"

	"github.com/gravitational/scim"
)

// Collection is the value of a multi-valued attribute. Every mutating
// operation re-runs the owning attribute's scalar coercion, so a Collection
// can never hold an element that would not have passed initial validation.
type Collection struct {
	attr  *Type
	dir   scim.Direction
	elems []any
}

// Attribute returns the owning attribute definition.
func (c *Collection) Attribute() *Type { return c.attr }

// Len returns the number of elements.
func (c *Collection) Len() int { return len(c.elems) }

// At returns the element at index i.
func (c *Collection) At(i int) any { return c.elems[i] }

// Values returns a copy of the element slice; mutating the copy does not
// affect the collection.
func (c *Collection) Values() []any {
	return append([]any(nil), c.elems...)
}

// Append coerces the value through the owning attribute and appends it.
func (c *Collection) Append(value any) error {
	coerced, err := c.attr.coerce(value, c.dir, true)
	if err != nil {
		return err
	}
	if coerced != nil {
		c.elems = append(c.elems, coerced)
	}
	return nil
}

// Set coerces the value through the owning attribute and stores it at
// index i.
func (c *Collection) Set(i int, value any) error {
	if i < 0 || i >= len(c.elems) {
		return scim.NewInvalidValue("index %d out of range for attribute %q", i, c.attr.name)
	}
	coerced, err := c.attr.coerce(value, c.dir, true)
	if err != nil {
		return err
	}
	c.elems[i] = coerced
	return nil
}

// Remove drops the element at index i.
func (c *Collection) Remove(i int) {
	if i < 0 || i >= len(c.elems) {
		return
	}
	c.elems = append(c.elems[:i], c.elems[i+1:]...)
}

// Filter keeps only the elements for which keep returns true and reports
// whether anything remains.
func (c *Collection) Filter(keep func(any) bool) bool {
	kept := c.elems[:0]
	for _, elem := range c.elems {
		if keep(elem) {
			kept = append(kept, elem)
		}
	}
	c.elems = kept
	return len(c.elems) > 0
}

// ComplexValue is the value of a scalar complex attribute: a sealed
// container exposing one case-insensitive slot per declared sub-attribute.
// Writes to undeclared keys fail naming the offending key; writes to
// declared keys route through the sub-attribute's own coercion.
type ComplexValue struct {
	attr   *Type
	dir    scim.Direction
	values map[string]any // keyed by lower-cased sub-attribute name
}

// Attribute returns the owning attribute definition.
func (c *ComplexValue) Attribute() *Type { return c.attr }

// Get returns the value of the named sub-attribute, case-insensitively.
func (c *ComplexValue) Get(name string) (any, bool) {
	v, ok := c.values[strings.ToLower(name)]
	return v, ok
}

// Set coerces the value through the named sub-attribute's definition and
// stores it. A nil value clears the slot. Writing a different value to an
// immutable sub-attribute that already holds one fails with a mutability
// error.
func (c *ComplexValue) Set(name string, value any) error {
	sub, ok := c.attr.SubAttribute(name)
	if !ok {
		return scim.NewInvalidValue("complex attribute %q does not declare sub-attribute %q", c.attr.name, name)
	}
	slot := strings.ToLower(sub.name)
	if value == nil {
		delete(c.values, slot)
		return nil
	}
	coerced, err := sub.coerce(value, c.dir, true)
	if err != nil {
		return err
	}
	if existing, ok := c.values[slot]; ok && sub.Mutability() == Immutable {
		if !reflect.DeepEqual(Unwrap(existing), Unwrap(coerced)) {
			return scim.NewMutability("sub-attribute %q of %q is immutable and already has a value", sub.name, c.attr.name)
		}
	}
	c.values[slot] = coerced
	return nil
}

// Unset clears the named sub-attribute slot.
func (c *ComplexValue) Unset(name string) {
	delete(c.values, strings.ToLower(name))
}

// Len returns the number of populated sub-attribute slots.
func (c *ComplexValue) Len() int { return len(c.values) }

// ToMap renders the container as a plain map keyed by the declared
// (canonical-case) sub-attribute names, recursively unwrapping nested
// containers.
func (c *ComplexValue) ToMap() map[string]any {
	out := make(map[string]any, len(c.values))
	for _, sub := range c.attr.subAttributes {
		if v, ok := c.values[strings.ToLower(sub.name)]; ok {
			out[sub.name] = Unwrap(v)
		}
	}
	return out
}

// Unwrap recursively converts the module's validating containers into plain
// Go values: *ComplexValue becomes map[string]any and *Collection becomes []any.
// All other values pass through unchanged.
func Unwrap(value any) any {
	switch v := value.(type) {
	case *ComplexValue:
		return v.ToMap()
	case *Collection:
		out := make([]any, 0, len(v.elems))
		for _, elem := range v.elems {
			out = append(out, Unwrap(elem))
		}
		return out
	default:
		return value
	}
}
