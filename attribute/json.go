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

import "encoding/json"

// typeJSON is the RFC 7643 §7 wire representation of an attribute
// definition, as served under /Schemas.
type typeJSON struct {
	Name            string      `json:"name"`
	Type            DataType    `json:"type"`
	MultiValued     bool        `json:"multiValued"`
	Description     string      `json:"description"`
	Required        bool        `json:"required"`
	SubAttributes   []*Type     `json:"subAttributes,omitempty"`
	CaseExact       *bool       `json:"caseExact,omitempty"`
	CanonicalValues []string    `json:"canonicalValues,omitempty"`
	ReferenceTypes  []string    `json:"referenceTypes,omitempty"`
	Mutability      Mutability  `json:"mutability"`
	Returned        Returned    `json:"returned"`
	Uniqueness      *Uniqueness `json:"uniqueness,omitempty"`
}

// MarshalJSON renders the attribute definition in its RFC 7643 form.
// caseExact and uniqueness are omitted for complex attributes, where they
// carry no meaning.
func (t *Type) MarshalJSON() ([]byte, error) {
	out := typeJSON{
		Name:            t.name,
		Type:            t.typ,
		MultiValued:     t.multiValued,
		Description:     t.description,
		Required:        t.required,
		SubAttributes:   t.subAttributes,
		CanonicalValues: t.canonicalValues,
		ReferenceTypes:  t.referenceTypes,
		Mutability:      t.mutability,
		Returned:        t.returned,
	}
	if t.typ != Complex {
		caseExact := t.caseExact
		uniqueness := t.uniqueness
		out.CaseExact = &caseExact
		out.Uniqueness = &uniqueness
	}
	return json.Marshal(out)
}
