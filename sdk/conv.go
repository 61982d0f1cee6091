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
	"encoding/json"
	"io"
	"maps"
	"reflect"
	"time"

	"github.com/gravitational/trace"
	"github.com/mitchellh/mapstructure"

	"github.com/gravitational/scim"
	"github.com/gravitational/scim/schema"
)

// UnmarshalResource parses a JSON stream into a SCIM resource envelope.
// We go through an intermediate attributeSet as we want to collect all of the
// top-level JSON fields that are not specifically part of the resource header
// and store them for later use, as these define the actual properties of the
// resource.
func UnmarshalResource(data io.Reader) (*Resource, error) {
	decoder := json.NewDecoder(data)

	var attribs AttributeSet
	if err := decoder.Decode(&attribs); err != nil {
		return nil, scim.NewInvalidSyntax("malformed resource body: %v", err)
	}

	res, err := DecodeResourceHeader(attribs)
	if err != nil {
		return nil, trace.Wrap(err, "decoding resource header")
	}
	return res, nil
}

// DecodeResourceHeader splits a flat attribute set into a SCIM resource
// envelope: the common attributes populate the header, everything else lands
// in Attributes.
func DecodeResourceHeader(attribs AttributeSet) (*Resource, error) {
	var res Resource
	mapDecoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     &res,
		DecodeHook: stringToDateTimeHook,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	if err := mapDecoder.Decode(map[string]any(attribs)); err != nil {
		return nil, scim.NewInvalidValue("malformed resource header: %v", err)
	}
	return &res, nil
}

// resourceHeader is the encode-side shape of the common attributes; a
// separate type so the remain-collected Attributes never leak into the
// flattened output under a literal key.
type resourceHeader struct {
	Schemas    []string  `mapstructure:"schemas"`
	ID         string    `mapstructure:"id,omitempty"`
	ExternalID string    `mapstructure:"externalId,omitempty"`
	Meta       *Metadata `mapstructure:"meta,omitempty"`
}

// flattenResource creates an attribute set representing the supplied SCIM
// resource. We go through this intermediate flattening stage so that we can
// merge the resource Attributes back into the top level of the structure
// before serializing to JSON.
func flattenResource(res *Resource) (AttributeSet, error) {
	header := resourceHeader{
		Schemas:    res.Schemas,
		ID:         res.ID,
		ExternalID: res.ExternalID,
		Meta:       res.Meta,
	}

	var attribs AttributeSet
	if err := mapstructure.Decode(&header, &attribs); err != nil {
		return nil, trace.Wrap(err)
	}

	// Copy the resource-specific attributes into the top level of the
	// output, minus anything that would collide with the header.
	resourceAttribs := maps.Clone(res.Attributes)
	for _, k := range reservedAttributeNames {
		delete(resourceAttribs, k)
	}
	maps.Copy(attribs, resourceAttribs)

	return attribs, nil
}

// MarshalResource flattens and formats a SCIM resource envelope into JSON.
func MarshalResource(res *Resource) ([]byte, error) {
	attribs, err := flattenResource(res)
	if err != nil {
		return nil, trace.Wrap(err, "marshaling SCIM resource")
	}

	data, err := json.Marshal(&attribs)
	if err != nil {
		return nil, trace.Wrap(err, "marshaling SCIM resource")
	}
	return data, nil
}

// MarshalResourceList flattens and formats a collection of resources,
// wrapping them in a valid SCIM list response before serializing to JSON.
func MarshalResourceList(resources []*Resource, totalResults, startIndex, itemsPerPage int) ([]byte, error) {
	flattened := make([]AttributeSet, len(resources))
	for i, r := range resources {
		attribs, err := flattenResource(r)
		if err != nil {
			return nil, trace.Wrap(err, "flattening resource %s", r.ID)
		}
		flattened[i] = attribs
	}

	body, err := json.Marshal(ListResponse{
		Schemas:      []string{scim.MessageListResponse},
		TotalResults: totalResults,
		ItemsPerPage: itemsPerPage,
		StartIndex:   startIndex,
		Resources:    flattened,
	})
	if err != nil {
		return nil, trace.Wrap(err, "serializing resource list")
	}
	return body, nil
}

// Validate coerces the envelope's full attribute set through a schema
// definition, returning the validated instance.
func (r *Resource) Validate(def *schema.Definition, dir scim.Direction) (*schema.Resource, error) {
	attribs, err := flattenResource(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	instance, err := def.Coerce(attribs, dir)
	return instance, trace.Wrap(err)
}

// FromInstance wraps a validated schema instance back into a wire envelope.
func FromInstance(instance *schema.Resource, meta *Metadata) (*Resource, error) {
	attribs := instance.ToMap()
	res, err := DecodeResourceHeader(attribs)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if meta != nil {
		res.Meta = meta
	}
	return res, nil
}

// stringToDateTimeHook parses an RFC3339 timestamp string into Go time.Time.
// For use with mapstructure.Decode()
func stringToDateTimeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	if to != reflect.TypeOf(&time.Time{}) && to != reflect.TypeOf(time.Time{}) {
		return data, nil
	}

	s, ok := data.(string)
	if !ok {
		return nil, trace.BadParameter("expected string, got %T", data)
	}
	value, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &value, nil
}
