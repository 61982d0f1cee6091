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

package scimsdk

import (
	"github.com/gravitational/scim"
	"github.com/gravitational/scim/schema"
)

// FeatureSupport is the {supported} sub-object the service provider
// configuration uses for simple feature flags.
type FeatureSupport struct {
	Supported bool `json:"supported"`
}

// FilterSupport extends FeatureSupport with the provider's result cap.
type FilterSupport struct {
	Supported  bool `json:"supported"`
	MaxResults int  `json:"maxResults,omitempty"`
}

// AuthenticationScheme describes one way of authenticating against the
// provider, as per RFC 7643 §5.
type AuthenticationScheme struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	SpecURI     string `json:"specUri,omitempty"`
	Primary     bool   `json:"primary,omitempty"`
}

// ServiceProviderConfig is the RFC 7643 §5 provider capability document.
type ServiceProviderConfig struct {
	Schemas               []string               `json:"schemas"`
	DocumentationURI      string                 `json:"documentationUri,omitempty"`
	Patch                 FeatureSupport         `json:"patch"`
	Bulk                  FeatureSupport         `json:"bulk"`
	Filter                FilterSupport          `json:"filter"`
	ChangePassword        FeatureSupport         `json:"changePassword"`
	Sort                  FeatureSupport         `json:"sort"`
	ETag                  FeatureSupport         `json:"etag"`
	AuthenticationSchemes []AuthenticationScheme `json:"authenticationSchemes"`
	Meta                  *Metadata              `json:"meta,omitempty"`
}

// NewServiceProviderConfig builds a capability document advertising what this
// module actually implements: patch and filtering. Everything else is left
// to the hosting server to flip on.
func NewServiceProviderConfig(maxResults int) *ServiceProviderConfig {
	return &ServiceProviderConfig{
		Schemas: []string{scim.SchemaServiceProviderConfig},
		Patch:   FeatureSupport{Supported: true},
		Filter:  FilterSupport{Supported: true, MaxResults: maxResults},
		Meta: &Metadata{
			ResourceType: "ServiceProviderConfig",
			Location:     "/ServiceProviderConfig",
		},
	}
}

// SchemaExtensionRef is one entry of a resource type's schemaExtensions list.
type SchemaExtensionRef struct {
	Schema   string `json:"schema"`
	Required bool   `json:"required"`
}

// ResourceType is the RFC 7643 §6 resource type document, as served under
// /ResourceTypes.
type ResourceType struct {
	Schemas          []string             `json:"schemas"`
	ID               string               `json:"id"`
	Name             string               `json:"name"`
	Endpoint         string               `json:"endpoint"`
	Description      string               `json:"description,omitempty"`
	Schema           string               `json:"schema"`
	SchemaExtensions []SchemaExtensionRef `json:"schemaExtensions,omitempty"`
	Meta             *Metadata            `json:"meta,omitempty"`
}

// NewResourceType derives the resource type document from a schema
// definition, carrying over its extension list.
func NewResourceType(def *schema.Definition, endpoint string) *ResourceType {
	rt := &ResourceType{
		Schemas:     []string{scim.SchemaResourceType},
		ID:          def.Name(),
		Name:        def.Name(),
		Endpoint:    endpoint,
		Description: def.Description(),
		Schema:      def.ID(),
		Meta: &Metadata{
			ResourceType: "ResourceType",
			Location:     "/ResourceTypes/" + def.Name(),
		},
	}
	for _, ext := range def.Extensions() {
		rt.SchemaExtensions = append(rt.SchemaExtensions, SchemaExtensionRef{
			Schema:   ext.Definition.ID(),
			Required: ext.Required,
		})
	}
	return rt
}
