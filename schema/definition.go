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

// Package schema composes attribute definitions into named, URN-identified
// resource shapes and materializes validated resource instances from raw
// data. Definitions are built once at startup, optionally extended with
// secondary schemas, and shared by reference across all instances
// constructed from them.
package schema

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/gravitational/trace"

	"github.com/gravitational/scim"
	"github.com/gravitational/scim/attribute"
)

// Extension is a secondary schema definition namespaced under its own URN
// and attached to a primary resource schema.
type Extension struct {
	Definition *Definition
	Required   bool
}

// Definition is a named, identified resource shape: an ordered attribute
// list plus any attached extensions. The implicit id/externalId/meta triad
// (and the schemas list) is always present without being declared.
//
// A Definition is a shared singleton: many instance constructions may read
// it concurrently, so Extend and Truncate are serialized behind a lock and
// refused once the owning registry is sealed.
type Definition struct {
	id          string
	name        string
	description string

	mu         sync.RWMutex
	attributes []*attribute.Type
	extensions []Extension

	registry *Registry
}

// NewDefinition builds a resource schema definition. Attribute names must be
// unique at the top level, case-insensitively, and must not collide with the
// implicit common attributes.
func NewDefinition(id, name, description string, attrs ...*attribute.Type) (*Definition, error) {
	if id == "" {
		return nil, scim.NewInvalidSyntax("schema definition requires an id URN")
	}
	d := &Definition{id: id, name: name, description: description}
	if err := d.appendAttributes(attrs); err != nil {
		return nil, trace.Wrap(err)
	}
	return d, nil
}

// MustDefinition returns d or panics on err. For static declarations.
func MustDefinition(d *Definition, err error) *Definition {
	if err != nil {
		panic(trace.Wrap(err, "building schema definition"))
	}
	return d
}

// ID returns the definition's URN.
func (d *Definition) ID() string { return d.id }

// Name returns the definition's name.
func (d *Definition) Name() string { return d.name }

// Description returns the definition's description.
func (d *Definition) Description() string { return d.description }

// Attributes returns a copy of the declared attribute list, excluding the
// implicit common attributes.
func (d *Definition) Attributes() []*attribute.Type {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*attribute.Type(nil), d.attributes...)
}

// Extensions returns a copy of the attached extension list.
func (d *Definition) Extensions() []Extension {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Extension(nil), d.extensions...)
}

// Extend attaches a secondary schema definition under its URN namespace.
func (d *Definition) Extend(ext *Definition, required bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkMutable(); err != nil {
		return trace.Wrap(err)
	}
	for _, existing := range d.extensions {
		if strings.EqualFold(existing.Definition.id, ext.id) {
			return scim.NewInvalidSyntax("schema %q already carries extension %q", d.id, ext.id)
		}
	}
	d.extensions = append(d.extensions, Extension{Definition: ext, Required: required})
	return nil
}

// ExtendAttributes appends attribute definitions to the schema in place.
func (d *Definition) ExtendAttributes(attrs ...*attribute.Type) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkMutable(); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(d.appendAttributes(attrs))
}

// Truncate removes declared attributes or sub-attributes by name. A dotted
// name ("name.middleName") removes a sub-attribute from its complex parent;
// a URN removes the matching extension.
func (d *Definition) Truncate(names ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkMutable(); err != nil {
		return trace.Wrap(err)
	}
	for _, name := range names {
		if err := d.truncateOne(name); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

func (d *Definition) truncateOne(name string) error {
	if strings.Contains(name, ":") {
		for i, ext := range d.extensions {
			if strings.EqualFold(ext.Definition.id, name) {
				d.extensions = append(d.extensions[:i], d.extensions[i+1:]...)
				return nil
			}
		}
		return scim.NewInvalidPath("schema %q has no extension %q to truncate", d.id, name)
	}

	segments := strings.Split(name, ".")
	for i, attr := range d.attributes {
		if !strings.EqualFold(attr.Name(), segments[0]) {
			continue
		}
		if len(segments) == 1 {
			d.attributes = append(d.attributes[:i], d.attributes[i+1:]...)
			return nil
		}
		if _, ok := attr.SubAttribute(segments[1]); !ok {
			return scim.NewInvalidPath("attribute %q has no sub-attribute %q to truncate", attr.Name(), segments[1])
		}
		d.attributes[i] = attr.WithoutSubAttribute(segments[1])
		return nil
	}
	return scim.NewInvalidPath("schema %q has no attribute %q to truncate", d.id, segments[0])
}

// Attribute resolves a dotted attribute path, descending into sub-attributes
// and URN-qualified extensions. It fails with an invalidPath error when any
// segment does not resolve.
func (d *Definition) Attribute(path string) (*attribute.Type, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ext, rest := d.splitExtensionPath(path)
	if ext != nil {
		if rest == "" {
			return nil, scim.NewInvalidPath("path %q names an extension namespace, not an attribute", path)
		}
		return ext.Attribute(rest)
	}

	segments := strings.Split(path, ".")
	attr := d.lookupAttribute(segments[0])
	if attr == nil {
		return nil, scim.NewInvalidPath("schema %q has no attribute %q", d.id, segments[0])
	}
	for _, seg := range segments[1:] {
		sub, ok := attr.SubAttribute(seg)
		if !ok {
			return nil, scim.NewInvalidPath("attribute %q has no sub-attribute %q", attr.Name(), seg)
		}
		attr = sub
	}
	return attr, nil
}

// ResolveNamespace splits an optionally URN-qualified attribute path into
// the extension namespace id (empty for the core schema) and the remaining
// attribute path. The remainder is empty when the path names the extension
// namespace itself.
func (d *Definition) ResolveNamespace(path string) (string, string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ext, rest := d.splitExtensionPath(path)
	if ext == nil {
		return "", path
	}
	return ext.id, rest
}

// splitExtensionPath detects a path qualified by one of the definition's
// extension URNs and returns the extension plus the remaining attribute
// path. Callers must hold at least a read lock.
func (d *Definition) splitExtensionPath(path string) (*Definition, string) {
	for _, ext := range d.extensions {
		id := ext.Definition.id
		if len(path) >= len(id) && strings.EqualFold(path[:len(id)], id) {
			return ext.Definition, strings.TrimLeft(path[len(id):], ":.")
		}
	}
	return nil, path
}

// lookupAttribute finds a top-level or common attribute by name,
// case-insensitively. Callers must hold at least a read lock.
func (d *Definition) lookupAttribute(name string) *attribute.Type {
	for _, attr := range d.attributes {
		if strings.EqualFold(attr.Name(), name) {
			return attr
		}
	}
	for _, attr := range commonAttributes {
		if strings.EqualFold(attr.Name(), name) {
			return attr
		}
	}
	return nil
}

func (d *Definition) appendAttributes(attrs []*attribute.Type) error {
	for _, attr := range attrs {
		if d.lookupAttribute(attr.Name()) != nil {
			return scim.NewInvalidSyntax("schema %q already declares attribute %q", d.id, attr.Name())
		}
		d.attributes = append(d.attributes, attr)
	}
	return nil
}

func (d *Definition) checkMutable() error {
	if d.registry != nil && d.registry.isSealed() {
		return scim.NewInvalidSyntax("schema definition %q belongs to a sealed registry and cannot be modified", d.id)
	}
	return nil
}

// definitionJSON is the RFC 7643 §7 representation of a schema resource, as
// served under /Schemas.
type definitionJSON struct {
	Schemas     []string          `json:"schemas"`
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Attributes  []*attribute.Type `json:"attributes"`
	Meta        map[string]string `json:"meta"`
}

// MarshalJSON renders the definition as an RFC 7643 schema resource.
func (d *Definition) MarshalJSON() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return json.Marshal(definitionJSON{
		Schemas:     []string{"urn:ietf:params:scim:schemas:core:2.0:Schema"},
		ID:          d.id,
		Name:        d.name,
		Description: d.description,
		Attributes:  d.attributes,
		Meta: map[string]string{
			"resourceType": "Schema",
			"location":     "/Schemas/" + d.id,
		},
	})
}
