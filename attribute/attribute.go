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

// Package attribute implements RFC 7643 attribute type definitions and the
// coercion machinery that validates and normalizes raw values against them.
// A [Type] is immutable once built; every value that enters a resource flows
// through [Type.Coerce], including writes to the multi-valued and complex
// containers it hands out.
package attribute

import (
	"regexp"
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/scim"
)

// DataType enumerates the RFC 7643 §2.3 attribute data types.
type DataType string

const (
	String    DataType = "string"
	Complex   DataType = "complex"
	Boolean   DataType = "boolean"
	Binary    DataType = "binary"
	Decimal   DataType = "decimal"
	Integer   DataType = "integer"
	DateTime  DataType = "dateTime"
	Reference DataType = "reference"
)

// Mutability enumerates when an attribute may be written.
type Mutability string

const (
	ReadOnly  Mutability = "readOnly"
	ReadWrite Mutability = "readWrite"
	Immutable Mutability = "immutable"
	WriteOnly Mutability = "writeOnly"
)

// Returned enumerates when an attribute is included in responses.
type Returned string

const (
	Always        Returned = "always"
	Never         Returned = "never"
	DefaultReturn Returned = "default"
	RequestedOnly Returned = "request"
)

// Uniqueness enumerates how attribute values must be deduplicated.
type Uniqueness string

const (
	None   Uniqueness = "none"
	Server Uniqueness = "server"
	Global Uniqueness = "global"
)

// ReferenceExternal and ReferenceURI are the two non-resource reference
// kinds of RFC 7643 §7.
const (
	ReferenceExternal = "external"
	ReferenceURI      = "uri"
)

// Type is one attribute's definition: its data type, name, and
// characteristics. The shape (type, name, sub-attribute set) is fixed at
// construction; instances are safe for concurrent use.
type Type struct {
	typ             DataType
	name            string
	description     string
	multiValued     bool
	required        bool
	caseExact       bool
	mutability      Mutability
	returned        Returned
	uniqueness      Uniqueness
	canonicalValues []string
	referenceTypes  []string
	direction       scim.Direction
	subAttributes   []*Type
}

// SCIM ABNF permits letters, digits, '-', '_' and '$' in attribute names
// ('$ref' is a core attribute).
var validName = regexp.MustCompile(`^[$A-Za-z][-$_0-9A-Za-z]*$`)

var validTypes = map[DataType]bool{
	String: true, Complex: true, Boolean: true, Binary: true,
	Decimal: true, Integer: true, DateTime: true, Reference: true,
}

// Option configures an attribute Type under construction.
type Option func(*Type)

// MultiValued marks the attribute as multi-valued.
func MultiValued() Option { return func(t *Type) { t.multiValued = true } }

// Required marks the attribute as required.
func Required() Option { return func(t *Type) { t.required = true } }

// CaseExact marks string comparisons against the attribute case-sensitive.
func CaseExact() Option { return func(t *Type) { t.caseExact = true } }

// WithDescription sets the human-readable description.
func WithDescription(d string) Option { return func(t *Type) { t.description = d } }

// WithMutability sets the attribute's mutability characteristic.
func WithMutability(m Mutability) Option { return func(t *Type) { t.mutability = m } }

// WithReturned sets the attribute's returned characteristic.
func WithReturned(r Returned) Option { return func(t *Type) { t.returned = r } }

// WithUniqueness sets the attribute's uniqueness characteristic.
func WithUniqueness(u Uniqueness) Option { return func(t *Type) { t.uniqueness = u } }

// WithCanonicalValues restricts the attribute to an enumerated value set.
func WithCanonicalValues(values ...string) Option {
	return func(t *Type) { t.canonicalValues = append([]string(nil), values...) }
}

// WithReferenceTypes sets the acceptable reference kinds for a reference
// attribute: resource type names, "external", or "uri".
func WithReferenceTypes(kinds ...string) Option {
	return func(t *Type) { t.referenceTypes = append([]string(nil), kinds...) }
}

// WithDirection restricts the attribute to one provisioning direction.
func WithDirection(d scim.Direction) Option { return func(t *Type) { t.direction = d } }

// WithSubAttributes declares the sub-attributes of a complex attribute.
func WithSubAttributes(subs ...*Type) Option {
	return func(t *Type) { t.subAttributes = append([]*Type(nil), subs...) }
}

// New builds an immutable attribute type definition. It fails when the name
// contains characters outside the SCIM attribute charset, the data type is
// unknown, or sub-attributes are declared on a non-complex type.
func New(typ DataType, name string, opts ...Option) (*Type, error) {
	t := &Type{
		typ:        typ,
		name:       name,
		mutability: ReadWrite,
		returned:   DefaultReturn,
		uniqueness: None,
		direction:  scim.Both,
	}
	for _, opt := range opts {
		opt(t)
	}

	if !validTypes[typ] {
		return nil, scim.NewInvalidValue("unknown attribute data type %q for attribute %q", typ, name)
	}
	if !validName.MatchString(name) {
		return nil, scim.NewInvalidValue("invalid attribute name %q", name)
	}
	if len(t.subAttributes) > 0 && typ != Complex {
		return nil, scim.NewInvalidValue("attribute %q of type %q cannot declare sub-attributes", name, typ)
	}

	seen := make(map[string]bool, len(t.subAttributes))
	for _, sub := range t.subAttributes {
		key := strings.ToLower(sub.name)
		if seen[key] {
			return nil, scim.NewInvalidValue("attribute %q declares duplicate sub-attribute %q", name, sub.name)
		}
		seen[key] = true
	}

	return t, nil
}

// Must returns t or panics on err. For static schema declarations.
func Must(t *Type, err error) *Type {
	if err != nil {
		panic(trace.Wrap(err, "building attribute definition"))
	}
	return t
}

// Name returns the attribute's declared (canonical-case) name.
func (t *Type) Name() string { return t.name }

// Type returns the attribute's data type.
func (t *Type) Type() DataType { return t.typ }

// Description returns the attribute's description.
func (t *Type) Description() string { return t.description }

// MultiValued reports whether the attribute holds a collection.
func (t *Type) MultiValued() bool { return t.multiValued }

// IsRequired reports whether the attribute must be present.
func (t *Type) IsRequired() bool { return t.required }

// IsCaseExact reports whether string comparisons are case-sensitive.
func (t *Type) IsCaseExact() bool { return t.caseExact }

// Mutability returns the attribute's mutability characteristic.
func (t *Type) Mutability() Mutability { return t.mutability }

// Returned returns the attribute's returned characteristic.
func (t *Type) Returned() Returned { return t.returned }

// Uniqueness returns the attribute's uniqueness characteristic.
func (t *Type) Uniqueness() Uniqueness { return t.uniqueness }

// CanonicalValues returns a copy of the enumerated value set, if any.
func (t *Type) CanonicalValues() []string { return append([]string(nil), t.canonicalValues...) }

// ReferenceTypes returns a copy of the acceptable reference kinds, if any.
func (t *Type) ReferenceTypes() []string { return append([]string(nil), t.referenceTypes...) }

// Direction returns the attribute's declared provisioning direction.
func (t *Type) Direction() scim.Direction { return t.direction }

// SubAttributes returns a copy of the ordered sub-attribute list.
func (t *Type) SubAttributes() []*Type { return append([]*Type(nil), t.subAttributes...) }

// SubAttribute looks up a sub-attribute by name, case-insensitively.
func (t *Type) SubAttribute(name string) (*Type, bool) {
	for _, sub := range t.subAttributes {
		if strings.EqualFold(sub.name, name) {
			return sub, true
		}
	}
	return nil, false
}

// WithoutSubAttribute returns a copy of the complex attribute with the named
// sub-attribute removed. The receiver is unchanged.
func (t *Type) WithoutSubAttribute(name string) *Type {
	dup := *t
	dup.subAttributes = nil
	for _, sub := range t.subAttributes {
		if !strings.EqualFold(sub.name, name) {
			dup.subAttributes = append(dup.subAttributes, sub)
		}
	}
	return &dup
}
