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
	"github.com/gravitational/scim/attribute"
	"github.com/gravitational/scim/schema"
)

// multiValuedItemSubAttributes returns the conventional sub-attribute set of
// the core multi-valued complex attributes (emails, phoneNumbers and the
// like), optionally constraining the "type" sub-attribute to canonical
// values.
func multiValuedItemSubAttributes(canonicalTypes ...string) []*attribute.Type {
	typeOpts := []attribute.Option{}
	if len(canonicalTypes) > 0 {
		typeOpts = append(typeOpts, attribute.WithCanonicalValues(canonicalTypes...))
	}
	return []*attribute.Type{
		attribute.Must(attribute.New(attribute.String, "value")),
		attribute.Must(attribute.New(attribute.String, "display")),
		attribute.Must(attribute.New(attribute.String, "type", typeOpts...)),
		attribute.Must(attribute.New(attribute.Boolean, "primary")),
	}
}

// UserSchema builds the RFC 7643 §4.1 User resource schema.
func UserSchema() *schema.Definition {
	return schema.MustDefinition(schema.NewDefinition(
		scim.SchemaUser, "User", "User Account",
		attribute.Must(attribute.New(attribute.String, "userName",
			attribute.Required(),
			attribute.WithUniqueness(attribute.Server))),
		attribute.Must(attribute.New(attribute.Complex, "name",
			attribute.WithSubAttributes(
				attribute.Must(attribute.New(attribute.String, "formatted")),
				attribute.Must(attribute.New(attribute.String, "familyName")),
				attribute.Must(attribute.New(attribute.String, "givenName")),
				attribute.Must(attribute.New(attribute.String, "middleName")),
				attribute.Must(attribute.New(attribute.String, "honorificPrefix")),
				attribute.Must(attribute.New(attribute.String, "honorificSuffix")),
			))),
		attribute.Must(attribute.New(attribute.String, "displayName")),
		attribute.Must(attribute.New(attribute.String, "nickName")),
		attribute.Must(attribute.New(attribute.Reference, "profileUrl",
			attribute.WithReferenceTypes(attribute.ReferenceExternal))),
		attribute.Must(attribute.New(attribute.String, "title")),
		attribute.Must(attribute.New(attribute.String, "userType")),
		attribute.Must(attribute.New(attribute.String, "preferredLanguage")),
		attribute.Must(attribute.New(attribute.String, "locale")),
		attribute.Must(attribute.New(attribute.String, "timezone")),
		attribute.Must(attribute.New(attribute.Boolean, "active")),
		attribute.Must(attribute.New(attribute.String, "password",
			attribute.WithMutability(attribute.WriteOnly),
			attribute.WithReturned(attribute.Never),
			attribute.WithDirection(scim.In))),
		attribute.Must(attribute.New(attribute.Complex, "emails",
			attribute.MultiValued(),
			attribute.WithSubAttributes(multiValuedItemSubAttributes("work", "home", "other")...))),
		attribute.Must(attribute.New(attribute.Complex, "phoneNumbers",
			attribute.MultiValued(),
			attribute.WithSubAttributes(multiValuedItemSubAttributes("work", "home", "mobile", "fax", "pager", "other")...))),
		attribute.Must(attribute.New(attribute.Complex, "photos",
			attribute.MultiValued(),
			attribute.WithSubAttributes(multiValuedItemSubAttributes("photo", "thumbnail")...))),
		attribute.Must(attribute.New(attribute.Complex, "addresses",
			attribute.MultiValued(),
			attribute.WithSubAttributes(
				attribute.Must(attribute.New(attribute.String, "formatted")),
				attribute.Must(attribute.New(attribute.String, "streetAddress")),
				attribute.Must(attribute.New(attribute.String, "locality")),
				attribute.Must(attribute.New(attribute.String, "region")),
				attribute.Must(attribute.New(attribute.String, "postalCode")),
				attribute.Must(attribute.New(attribute.String, "country")),
				attribute.Must(attribute.New(attribute.String, "type",
					attribute.WithCanonicalValues("work", "home", "other"))),
				attribute.Must(attribute.New(attribute.Boolean, "primary")),
			))),
		attribute.Must(attribute.New(attribute.Complex, "groups",
			attribute.MultiValued(),
			attribute.WithMutability(attribute.ReadOnly),
			attribute.WithDirection(scim.Out),
			attribute.WithSubAttributes(
				attribute.Must(attribute.New(attribute.String, "value")),
				attribute.Must(attribute.New(attribute.Reference, "$ref",
					attribute.WithReferenceTypes("User", "Group"))),
				attribute.Must(attribute.New(attribute.String, "display")),
				attribute.Must(attribute.New(attribute.String, "type",
					attribute.WithCanonicalValues("direct", "indirect"))),
			))),
		attribute.Must(attribute.New(attribute.Complex, "roles",
			attribute.MultiValued(),
			attribute.WithSubAttributes(multiValuedItemSubAttributes()...))),
		attribute.Must(attribute.New(attribute.Complex, "entitlements",
			attribute.MultiValued(),
			attribute.WithSubAttributes(multiValuedItemSubAttributes()...))),
		attribute.Must(attribute.New(attribute.Complex, "x509Certificates",
			attribute.MultiValued(),
			attribute.WithSubAttributes(
				attribute.Must(attribute.New(attribute.Binary, "value")),
				attribute.Must(attribute.New(attribute.String, "display")),
				attribute.Must(attribute.New(attribute.String, "type")),
				attribute.Must(attribute.New(attribute.Boolean, "primary")),
			))),
	))
}

// GroupSchema builds the RFC 7643 §4.2 Group resource schema.
func GroupSchema() *schema.Definition {
	return schema.MustDefinition(schema.NewDefinition(
		scim.SchemaGroup, "Group", "Group",
		attribute.Must(attribute.New(attribute.String, "displayName",
			attribute.Required())),
		attribute.Must(attribute.New(attribute.Complex, "members",
			attribute.MultiValued(),
			attribute.WithSubAttributes(
				attribute.Must(attribute.New(attribute.String, "value",
					attribute.WithMutability(attribute.Immutable))),
				attribute.Must(attribute.New(attribute.Reference, "$ref",
					attribute.WithMutability(attribute.Immutable),
					attribute.WithReferenceTypes("User", "Group"))),
				attribute.Must(attribute.New(attribute.String, "display")),
				attribute.Must(attribute.New(attribute.String, "type",
					attribute.WithMutability(attribute.Immutable),
					attribute.WithCanonicalValues("User", "Group"))),
			))),
	))
}

// EnterpriseUserExtension builds the RFC 7643 §4.3 enterprise User schema
// extension.
func EnterpriseUserExtension() *schema.Definition {
	return schema.MustDefinition(schema.NewDefinition(
		scim.SchemaEnterpriseUser, "EnterpriseUser", "Enterprise User",
		attribute.Must(attribute.New(attribute.String, "employeeNumber")),
		attribute.Must(attribute.New(attribute.String, "costCenter")),
		attribute.Must(attribute.New(attribute.String, "organization")),
		attribute.Must(attribute.New(attribute.String, "division")),
		attribute.Must(attribute.New(attribute.String, "department")),
		attribute.Must(attribute.New(attribute.Complex, "manager",
			attribute.WithSubAttributes(
				attribute.Must(attribute.New(attribute.Reference, "$ref",
					attribute.WithReferenceTypes("User"))),
				attribute.Must(attribute.New(attribute.String, "value")),
				attribute.Must(attribute.New(attribute.String, "displayName",
					attribute.WithMutability(attribute.ReadOnly))),
			))),
	))
}

// NewRegistry builds a sealed registry carrying the preset User and Group
// schemas, with the enterprise extension attached to User.
func NewRegistry() (*schema.Registry, error) {
	user := UserSchema()
	if err := user.Extend(EnterpriseUserExtension(), false); err != nil {
		return nil, err
	}

	registry := schema.NewRegistry()
	if err := registry.Add(user); err != nil {
		return nil, err
	}
	if err := registry.Add(GroupSchema()); err != nil {
		return nil, err
	}
	registry.Seal()
	return registry, nil
}

// UserActiveState indicates whether a user is considered "active" or not, as
// per RFC 7643, section 4.1.1. The interpretation of "active" is loosely
// defined and varies between SCIM servers, but in general indicates whether a
// user should be enabled or disabled.
type UserActiveState bool

const (
	// UserActive indicates that the user should be enabled in the target
	// system
	UserActive UserActiveState = true

	// UserInactive indicates that the user should be disabled in the target
	// system
	UserInactive UserActiveState = false
)

// Name is the decomposed "name" attribute of a User resource.
type Name struct {
	Formatted  string `json:"formatted,omitempty" mapstructure:"formatted,omitempty"`
	FamilyName string `json:"familyName,omitempty" mapstructure:"familyName,omitempty"`
	GivenName  string `json:"givenName,omitempty" mapstructure:"givenName,omitempty"`
	MiddleName string `json:"middleName,omitempty" mapstructure:"middleName,omitempty"`
}

// MultiValuedItem is one element of a conventional multi-valued attribute
// such as emails or phoneNumbers.
type MultiValuedItem struct {
	Value   string `json:"value,omitempty" mapstructure:"value,omitempty"`
	Display string `json:"display,omitempty" mapstructure:"display,omitempty"`
	Type    string `json:"type,omitempty" mapstructure:"type,omitempty"`
	Primary bool   `json:"primary,omitempty" mapstructure:"primary,omitempty"`
}

// User is a typed view over the core User resource.
type User struct {
	Schemas      []string          `json:"schemas" mapstructure:"schemas"`
	ID           string            `json:"id,omitempty" mapstructure:"id,omitempty"`
	ExternalID   string            `json:"externalId,omitempty" mapstructure:"externalId,omitempty"`
	Meta         *Metadata         `json:"meta,omitempty" mapstructure:"meta,omitempty"`
	UserName     string            `json:"userName" mapstructure:"userName"`
	DisplayName  string            `json:"displayName,omitempty" mapstructure:"displayName,omitempty"`
	Name         *Name             `json:"name,omitempty" mapstructure:"name,omitempty"`
	Active       bool              `json:"active" mapstructure:"active"`
	Emails       []MultiValuedItem `json:"emails,omitempty" mapstructure:"emails,omitempty"`
	PhoneNumbers []MultiValuedItem `json:"phoneNumbers,omitempty" mapstructure:"phoneNumbers,omitempty"`
}

type userOption func(*User)

func WithUserID(id string) userOption {
	return func(u *User) {
		u.ID = id
	}
}

func WithActiveState(state UserActiveState) userOption {
	return func(u *User) {
		u.Active = bool(state)
	}
}

func WithUserEmail(email MultiValuedItem) userOption {
	return func(u *User) {
		u.Emails = append(u.Emails, email)
	}
}

// NewUser builds a User resource around the given user name. The user name
// doubles as external id and display name unless overridden by options.
func NewUser(userName string, options ...userOption) *User {
	u := &User{
		Schemas: []string{scim.SchemaUser},
		Meta: &Metadata{
			ResourceType: ResourceTypeUser,
		},
		ExternalID:  userName,
		UserName:    userName,
		DisplayName: userName,
		Active:      true,
	}
	for _, opt := range options {
		opt(u)
	}
	return u
}

// GroupMember is one element of a Group resource's "members" attribute.
type GroupMember struct {
	Value   string `json:"value,omitempty" mapstructure:"value,omitempty"`
	Ref     string `json:"$ref,omitempty" mapstructure:"$ref,omitempty"`
	Display string `json:"display,omitempty" mapstructure:"display,omitempty"`
	Type    string `json:"type,omitempty" mapstructure:"type,omitempty"`
}

// Group is a typed view over the core Group resource.
type Group struct {
	Schemas     []string      `json:"schemas" mapstructure:"schemas"`
	ID          string        `json:"id,omitempty" mapstructure:"id,omitempty"`
	ExternalID  string        `json:"externalId,omitempty" mapstructure:"externalId,omitempty"`
	Meta        *Metadata     `json:"meta,omitempty" mapstructure:"meta,omitempty"`
	DisplayName string        `json:"displayName" mapstructure:"displayName"`
	Members     []GroupMember `json:"members,omitempty" mapstructure:"members,omitempty"`
}

type groupOption func(*Group)

func WithGroupID(id string) groupOption {
	return func(grp *Group) {
		grp.ID = id
	}
}

func WithGroupMembers(members ...GroupMember) groupOption {
	return func(grp *Group) {
		grp.Members = append(grp.Members, members...)
	}
}

// NewGroup builds a Group resource around the given display name. Note that
// the returned Group does not include a member list unless one is supplied
// via options.
func NewGroup(displayName string, options ...groupOption) *Group {
	g := &Group{
		Schemas: []string{scim.SchemaGroup},
		Meta: &Metadata{
			ResourceType: ResourceTypeGroup,
		},
		DisplayName: displayName,
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}
