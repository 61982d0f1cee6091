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

package schema

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/scim"
	"github.com/gravitational/scim/attribute"
)

// Resource is a validated instance of a schema definition: an opaque bag of
// coerced attribute values keyed case-insensitively by attribute name. No
// key beyond those the definition (and its extensions) declares can ever
// exist, and every write revalidates through the owning attribute's
// coercion.
type Resource struct {
	definition *Definition
	direction  scim.Direction
	values     map[string]any            // lower(name) -> coerced value
	extensions map[string]map[string]any // extension URN -> lower(name) -> coerced value
}

// Coerce is the schema-level validation entry point: it checks the schemas
// list against the definition's id and all required extension ids, then
// coerces every declared attribute of the raw data into a new Resource. Keys
// not declared by the definition or its extensions fail with an invalidValue
// error.
func (d *Definition) Coerce(data map[string]any, direction scim.Direction) (*Resource, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if err := d.validateSchemasList(data); err != nil {
		return nil, trace.Wrap(err)
	}

	res := &Resource{
		definition: d,
		direction:  direction,
		values:     make(map[string]any),
		extensions: make(map[string]map[string]any),
	}

	for key := range data {
		if strings.EqualFold(key, schemasAttributeName) {
			continue
		}
		if ext, _ := d.splitExtensionPath(key); ext != nil {
			continue
		}
		if d.lookupAttribute(key) == nil {
			return nil, scim.NewInvalidValue("schema %q does not declare attribute %q", d.id, key)
		}
	}

	declared := append(append([]*attribute.Type(nil), commonAttributes...), d.attributes...)
	for _, attr := range declared {
		coerced, err := attr.Coerce(lookupFold(data, attr.Name()), direction)
		if err != nil {
			return nil, trace.Wrap(err, "coercing attribute %q of schema %q", attr.Name(), d.id)
		}
		if coerced != nil {
			res.values[strings.ToLower(attr.Name())] = coerced
		}
	}

	for _, ext := range d.extensions {
		raw := lookupFold(data, ext.Definition.id)
		if raw == nil {
			if ext.Required {
				return nil, scim.NewInvalidValue("schema %q requires extension %q", d.id, ext.Definition.id)
			}
			continue
		}
		source, ok := raw.(map[string]any)
		if !ok {
			return nil, scim.NewInvalidValue("extension %q expects a complex value, got %T", ext.Definition.id, raw)
		}
		values, err := ext.Definition.coerceExtension(source, direction)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		res.extensions[ext.Definition.id] = values
	}

	return res, nil
}

// coerceExtension coerces an extension namespace's attributes. Extensions
// carry no common triad of their own.
func (d *Definition) coerceExtension(data map[string]any, direction scim.Direction) (map[string]any, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for key := range data {
		if d.extensionAttribute(key) == nil {
			return nil, scim.NewInvalidValue("extension %q does not declare attribute %q", d.id, key)
		}
	}

	values := make(map[string]any)
	for _, attr := range d.attributes {
		coerced, err := attr.Coerce(lookupFold(data, attr.Name()), direction)
		if err != nil {
			return nil, trace.Wrap(err, "coercing attribute %q of extension %q", attr.Name(), d.id)
		}
		if coerced != nil {
			values[strings.ToLower(attr.Name())] = coerced
		}
	}
	return values, nil
}

// extensionAttribute is lookupAttribute without the common triad.
func (d *Definition) extensionAttribute(name string) *attribute.Type {
	for _, attr := range d.attributes {
		if strings.EqualFold(attr.Name(), name) {
			return attr
		}
	}
	return nil
}

// validateSchemasList checks an explicit schemas array: it must include the
// definition's own id and the id of every required extension, and must not
// name schemas the definition does not know. An absent list is fine — it is
// recomputed on egress.
func (d *Definition) validateSchemasList(data map[string]any) error {
	raw := lookupFold(data, schemasAttributeName)
	if raw == nil {
		return nil
	}
	listed, ok := toStringSlice(raw)
	if !ok {
		return scim.NewInvalidSyntax("the schemas attribute must be a list of schema URNs")
	}

	if !containsFold(listed, d.id) {
		return scim.NewInvalidSyntax("the schemas list of a %q resource must include %q", d.name, d.id)
	}
	for _, ext := range d.extensions {
		if ext.Required && !containsFold(listed, ext.Definition.id) {
			return scim.NewInvalidSyntax("the schemas list must include required extension %q", ext.Definition.id)
		}
	}
	for _, urn := range listed {
		if strings.EqualFold(urn, d.id) {
			continue
		}
		known := false
		for _, ext := range d.extensions {
			if strings.EqualFold(urn, ext.Definition.id) {
				known = true
				break
			}
		}
		if !known {
			return scim.NewInvalidSyntax("schema %q does not recognize listed schema %q", d.id, urn)
		}
	}
	return nil
}

// Definition returns the schema definition the resource is bound to.
func (r *Resource) Definition() *Definition { return r.definition }

// Direction returns the direction tag the resource was constructed with.
func (r *Resource) Direction() scim.Direction { return r.direction }

// Get resolves a dotted (optionally URN-qualified) attribute path and
// returns the stored value, which may be nil when unset. Undeclared paths
// fail with invalidPath.
func (r *Resource) Get(path string) (any, error) {
	if _, err := r.definition.Attribute(path); err != nil {
		return nil, trace.Wrap(err)
	}
	values, rest, err := r.namespace(path, false)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if values == nil {
		return nil, nil
	}

	segments := strings.Split(rest, ".")
	value := values[strings.ToLower(segments[0])]
	for _, seg := range segments[1:] {
		switch v := value.(type) {
		case *attribute.ComplexValue:
			value, _ = v.Get(seg)
		case nil:
			return nil, nil
		default:
			return nil, scim.NewInvalidPath("attribute path %q does not resolve to a complex value", path)
		}
	}
	return value, nil
}

// Set resolves a dotted (optionally URN-qualified) attribute path and writes
// through the owning attribute's coercion. A nil value unsets the slot.
// Writes to an immutable attribute that already holds a different value fail
// with a mutability error; writes to undeclared attributes fail with
// invalidValue naming the offending key.
func (r *Resource) Set(path string, value any) error {
	def, values, rest, err := r.namespaceForWrite(path)
	if err != nil {
		return trace.Wrap(err)
	}

	segments := strings.Split(rest, ".")
	if len(segments) > 2 {
		return scim.NewInvalidPath("attribute path %q nests too deeply", path)
	}

	attr := def.lookupAttribute(segments[0])
	if def != r.definition {
		attr = def.extensionAttribute(segments[0])
	}
	if attr == nil {
		return scim.NewInvalidValue("schema %q does not declare attribute %q", def.id, segments[0])
	}

	slot := strings.ToLower(attr.Name())
	if len(segments) == 1 {
		return trace.Wrap(r.setDirect(values, attr, slot, value))
	}
	return trace.Wrap(r.setNested(values, attr, slot, segments[1], value))
}

func (r *Resource) setDirect(values map[string]any, attr *attribute.Type, slot string, value any) error {
	if value == nil {
		delete(values, slot)
		return nil
	}

	if existing, ok := values[slot]; ok && attr.Mutability() == attribute.Immutable {
		if !reflect.DeepEqual(attribute.Unwrap(existing), attribute.Unwrap(value)) {
			return scim.NewMutability("attribute %q is immutable and already has a value", attr.Name())
		}
	}

	coerced, err := attr.Coerce(value, r.direction)
	if err != nil {
		return trace.Wrap(err, "setting attribute %q", attr.Name())
	}
	if coerced == nil {
		delete(values, slot)
		return nil
	}
	values[slot] = coerced
	return nil
}

// setNested writes one sub-attribute of a complex value, lazily creating the
// enclosing container. On a multi-valued parent the write applies to every
// element.
func (r *Resource) setNested(values map[string]any, attr *attribute.Type, slot, sub string, value any) error {
	if attr.Type() != attribute.Complex {
		return scim.NewInvalidPath("attribute %q is not complex and has no sub-attribute %q", attr.Name(), sub)
	}

	current, ok := values[slot]
	if !ok {
		if value == nil {
			return nil
		}
		coerced, err := attr.Coerce(map[string]any{}, r.direction)
		if err != nil {
			return trace.Wrap(err, "initializing attribute %q", attr.Name())
		}
		if coerced == nil {
			// Direction-gated attribute: the write is invisible.
			return nil
		}
		values[slot] = coerced
		current = coerced
	}

	switch v := current.(type) {
	case *attribute.ComplexValue:
		return trace.Wrap(v.Set(sub, value))
	case *attribute.Collection:
		for _, elem := range v.Values() {
			if complexElem, ok := elem.(*attribute.ComplexValue); ok {
				if err := complexElem.Set(sub, value); err != nil {
					return trace.Wrap(err)
				}
			}
		}
		return nil
	default:
		return scim.NewInvalidPath("attribute %q does not hold a complex value", attr.Name())
	}
}

// namespace resolves the extension prefix of a path, returning the value map
// the remaining path applies to. The map is nil when the extension carries
// no values yet.
func (r *Resource) namespace(path string, create bool) (map[string]any, string, error) {
	ext, rest := r.definition.splitExtensionPath(path)
	if ext == nil {
		return r.values, path, nil
	}
	if rest == "" {
		return nil, "", scim.NewInvalidPath("path %q names an extension namespace, not an attribute", path)
	}
	values, ok := r.extensions[ext.id]
	if !ok {
		if !create {
			return nil, rest, nil
		}
		values = make(map[string]any)
		r.extensions[ext.id] = values
	}
	return values, rest, nil
}

// namespaceForWrite is namespace(create=true) plus resolution of the
// definition owning the remaining path.
func (r *Resource) namespaceForWrite(path string) (*Definition, map[string]any, string, error) {
	ext, rest := r.definition.splitExtensionPath(path)
	if ext == nil {
		return r.definition, r.values, path, nil
	}
	if rest == "" {
		return nil, nil, "", scim.NewInvalidPath("path %q names an extension namespace, not an attribute", path)
	}
	values, ok := r.extensions[ext.id]
	if !ok {
		values = make(map[string]any)
		r.extensions[ext.id] = values
	}
	return ext, values, rest, nil
}

// Schemas returns the resource's effective schemas list: the definition's id
// plus the URN of every extension currently holding real content.
func (r *Resource) Schemas() []string {
	schemas := []string{r.definition.id}
	for _, ext := range r.definition.Extensions() {
		if len(pruneMap(r.extensions[ext.Definition.id])) > 0 {
			schemas = append(schemas, ext.Definition.id)
		}
	}
	return schemas
}

// ToMap renders the resource as a plain attribute-set map with canonical
// attribute names, pruning attributes and objects left without real values
// and maintaining the schemas list as extensions gain and lose content.
func (r *Resource) ToMap() map[string]any {
	out := make(map[string]any)

	declared := append(append([]*attribute.Type(nil), commonAttributes...), r.definition.Attributes()...)
	for _, attr := range declared {
		if value, ok := r.values[strings.ToLower(attr.Name())]; ok {
			if unwrapped := pruneValue(attribute.Unwrap(value)); unwrapped != nil {
				out[attr.Name()] = unwrapped
			}
		}
	}

	for _, ext := range r.definition.Extensions() {
		values := r.extensions[ext.Definition.id]
		if len(values) == 0 {
			continue
		}
		extOut := make(map[string]any)
		for _, attr := range ext.Definition.Attributes() {
			if value, ok := values[strings.ToLower(attr.Name())]; ok {
				if unwrapped := pruneValue(attribute.Unwrap(value)); unwrapped != nil {
					extOut[attr.Name()] = unwrapped
				}
			}
		}
		if len(extOut) > 0 {
			out[ext.Definition.id] = extOut
		}
	}

	out[schemasAttributeName] = r.Schemas()
	return out
}

// MarshalJSON renders the resource in its wire form.
func (r *Resource) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToMap())
}

// pruneValue drops values that carry no real content: nils, empty strings
// are kept (they are real), but empty maps and slices vanish.
func pruneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		pruned := pruneMap(v)
		if len(pruned) == 0 {
			return nil
		}
		return pruned
	case []any:
		out := make([]any, 0, len(v))
		for _, elem := range v {
			if p := pruneValue(elem); p != nil {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return value
	}
}

func pruneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for key, value := range m {
		if p := pruneValue(attribute.Unwrap(value)); p != nil {
			out[key] = p
		}
	}
	return out
}

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

func toStringSlice(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, elem := range v {
			s, ok := elem.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func containsFold(list []string, target string) bool {
	for _, s := range list {
		if strings.EqualFold(s, target) {
			return true
		}
	}
	return false
}
