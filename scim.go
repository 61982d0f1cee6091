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

// Package scim holds the shared vocabulary of the SCIM data-modeling core:
// the well-known schema and message URNs from RFC 7643 / RFC 7644, the
// attribute direction tags, and the typed SCIM error used by every layer of
// the module.
package scim

// Well-known RFC 7643 schema URNs.
const (
	// SchemaUser is the core User resource schema URN.
	SchemaUser = "urn:ietf:params:scim:schemas:core:2.0:User"

	// SchemaGroup is the core Group resource schema URN.
	SchemaGroup = "urn:ietf:params:scim:schemas:core:2.0:Group"

	// SchemaEnterpriseUser is the enterprise User extension schema URN.
	SchemaEnterpriseUser = "urn:ietf:params:scim:schemas:extension:enterprise:2.0:User"

	// SchemaServiceProviderConfig identifies the service provider
	// configuration resource.
	SchemaServiceProviderConfig = "urn:ietf:params:scim:schemas:core:2.0:ServiceProviderConfig"

	// SchemaResourceType identifies resource type metadata resources.
	SchemaResourceType = "urn:ietf:params:scim:schemas:core:2.0:ResourceType"
)

// Well-known RFC 7644 message URNs.
const (
	// MessagePatchOp identifies a PatchOp request body.
	MessagePatchOp = "urn:ietf:params:scim:api:messages:2.0:PatchOp"

	// MessageListResponse identifies a list/query response body.
	MessageListResponse = "urn:ietf:params:scim:api:messages:2.0:ListResponse"

	// MessageSearchRequest identifies a .search request body.
	MessageSearchRequest = "urn:ietf:params:scim:api:messages:2.0:SearchRequest"

	// MessageError identifies an error response body.
	MessageError = "urn:ietf:params:scim:api:messages:2.0:Error"
)

// Direction tags which way a value is crossing the provisioning boundary.
// Attributes may be declared as ingress-only ("in", e.g. passwords),
// egress-only ("out", e.g. server-assigned ids) or bidirectional ("both");
// coercion ignores attributes whose declared direction does not apply to the
// operation at hand.
type Direction string

const (
	// In marks values flowing into the service (request bodies).
	In Direction = "in"

	// Out marks values flowing out of the service (response bodies).
	Out Direction = "out"

	// Both marks values that cross the boundary in either direction.
	Both Direction = "both"
)

// Applies reports whether an attribute declared with direction d participates
// in an operation running in direction op. A "both" declaration always
// applies, as does a "both" operation.
func (d Direction) Applies(op Direction) bool {
	return d == Both || op == Both || d == op
}
