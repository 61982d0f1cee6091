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

// Package scimsdk carries the wire-level SCIM envelope: resource headers,
// list responses, search requests and error responses, plus preset User and
// Group schema definitions. It sits on top of the schema package — the
// envelope handles transport concerns (metadata, pagination, flattening),
// the schema package handles attribute validation.
package scimsdk

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/gravitational/scim"
)

const (
	// ResourceTypeUser indicates that an SCIM resource is a user, as per RFC 7643
	ResourceTypeUser = "User"

	// ResourceTypeGroup indicates that an SCIM resource is a group, as per RFC 7643
	ResourceTypeGroup = "Group"
)

// Names of the common resource attributes that frame every SCIM resource.
const (
	AttributeSchemas    = "schemas"
	AttributeID         = "id"
	AttributeExternalID = "externalId"
	AttributeMeta       = "meta"
)

// reservedAttributeNames lists the top-level keys that belong to the resource
// header rather than to the resource's own attribute set.
var reservedAttributeNames = []string{
	AttributeSchemas,
	AttributeID,
	AttributeExternalID,
	AttributeMeta,
}

// AttributeSet is the raw, flat key/value form of a SCIM resource as it
// appears on the wire.
type AttributeSet map[string]any

// Metadata is the common "meta" complex attribute, as per RFC 7643 §3.1.
type Metadata struct {
	ResourceType string     `json:"resourceType,omitempty" mapstructure:"resourceType,omitempty"`
	Created      *time.Time `json:"created,omitempty" mapstructure:"created,omitempty"`
	LastModified *time.Time `json:"lastModified,omitempty" mapstructure:"lastModified,omitempty"`
	Location     string     `json:"location,omitempty" mapstructure:"location,omitempty"`
	Version      string     `json:"version,omitempty" mapstructure:"version,omitempty"`
}

// NewMetadata mints resource metadata for a freshly-created resource, with
// the creation instant as both timestamps and a random version tag.
func NewMetadata(resourceType, location string) *Metadata {
	now := time.Now().UTC().Truncate(time.Second)
	return &Metadata{
		ResourceType: resourceType,
		Created:      &now,
		LastModified: &now,
		Location:     location,
		Version:      uuid.NewString(),
	}
}

// Touch updates the modification timestamp and rolls the version tag.
func (m *Metadata) Touch() {
	now := time.Now().UTC().Truncate(time.Second)
	m.LastModified = &now
	m.Version = uuid.NewString()
}

// Resource is the parsed header of a SCIM resource: the common attributes
// split out, with everything else collected into Attributes.
type Resource struct {
	Schemas    []string     `json:"schemas" mapstructure:"schemas"`
	ID         string       `json:"id,omitempty" mapstructure:"id,omitempty"`
	ExternalID string       `json:"externalId,omitempty" mapstructure:"externalId,omitempty"`
	Meta       *Metadata    `json:"meta,omitempty" mapstructure:"meta,omitempty"`
	Attributes AttributeSet `json:"-" mapstructure:",remain"`
}

// ListResponse is an RFC 7644 §3.4.2 query response envelope. Resources hold
// the flattened form of each matching resource.
type ListResponse struct {
	Schemas      []string       `json:"schemas"`
	TotalResults int            `json:"totalResults"`
	ItemsPerPage int            `json:"itemsPerPage,omitempty"`
	StartIndex   int            `json:"startIndex,omitempty"`
	Resources    []AttributeSet `json:"Resources,omitempty"`
}

// SearchRequest is an RFC 7644 §3.4.3 query request body.
type SearchRequest struct {
	Schemas    []string `json:"schemas"`
	Filter     string   `json:"filter,omitempty"`
	Attributes []string `json:"attributes,omitempty"`
	SortBy     string   `json:"sortBy,omitempty"`
	SortOrder  string   `json:"sortOrder,omitempty"`
	StartIndex int      `json:"startIndex,omitempty"`
	Count      int      `json:"count,omitempty"`
}

// NewSearchRequest builds a search request body carrying the given filter.
func NewSearchRequest(filterExpr string) *SearchRequest {
	return &SearchRequest{
		Schemas: []string{scim.MessageSearchRequest},
		Filter:  filterExpr,
	}
}

// ErrorResponse is an RFC 7644 §3.12 error response body.
type ErrorResponse struct {
	Schemas  []string `json:"schemas"`
	Status   string   `json:"status"`
	ScimType string   `json:"scimType,omitempty"`
	Detail   string   `json:"detail,omitempty"`
}

// NewErrorResponse wraps an error into a SCIM error response body. Errors
// that are not SCIM errors become a plain 500 with the error text as detail.
func NewErrorResponse(err error) *ErrorResponse {
	resp := &ErrorResponse{
		Schemas: []string{scim.MessageError},
		Status:  "500",
		Detail:  err.Error(),
	}
	if scimErr, ok := scim.AsError(err); ok {
		resp.Status = strconv.Itoa(scimErr.Status)
		resp.ScimType = scimErr.ScimType
		resp.Detail = scimErr.Detail
	}
	return resp
}
