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
	"github.com/gravitational/scim"
	"github.com/gravitational/scim/attribute"
)

// schemasAttributeName is handled outside the attribute list: the schemas
// list is validated on ingress and recomputed on egress as extensions gain
// and lose content.
const schemasAttributeName = "schemas"

// commonAttributes is the implicit RFC 7643 §3.1 triad present on every
// resource without being declared: id, externalId and meta. They resolve
// through Definition.Attribute like any declared attribute but are never
// listed in the schema's wire representation.
var commonAttributes = []*attribute.Type{
	attribute.Must(attribute.New(attribute.String, "id",
		attribute.CaseExact(),
		attribute.WithMutability(attribute.ReadOnly),
		attribute.WithReturned(attribute.Always),
		attribute.WithUniqueness(attribute.Server),
		attribute.WithDirection(scim.Out),
		attribute.WithDescription("A unique identifier for a SCIM resource as defined by the service provider."),
	)),
	attribute.Must(attribute.New(attribute.String, "externalId",
		attribute.CaseExact(),
		attribute.WithDescription("A String that is an identifier for the resource as defined by the provisioning client."),
	)),
	attribute.Must(attribute.New(attribute.Complex, "meta",
		attribute.WithMutability(attribute.ReadOnly),
		attribute.WithDirection(scim.Out),
		attribute.WithDescription("A complex attribute containing resource metadata."),
		attribute.WithSubAttributes(
			attribute.Must(attribute.New(attribute.String, "resourceType",
				attribute.CaseExact(),
				attribute.WithMutability(attribute.ReadOnly),
			)),
			attribute.Must(attribute.New(attribute.DateTime, "created",
				attribute.WithMutability(attribute.ReadOnly),
			)),
			attribute.Must(attribute.New(attribute.DateTime, "lastModified",
				attribute.WithMutability(attribute.ReadOnly),
			)),
			attribute.Must(attribute.New(attribute.Reference, "location",
				attribute.WithReferenceTypes(attribute.ReferenceURI),
				attribute.WithMutability(attribute.ReadOnly),
			)),
			attribute.Must(attribute.New(attribute.String, "version",
				attribute.CaseExact(),
				attribute.WithMutability(attribute.ReadOnly),
			)),
		),
	)),
}
