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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/scim"
	"github.com/gravitational/scim/attribute"
)

const (
	testUserURN       = "urn:example:params:scim:schemas:test:2.0:User"
	testEnterpriseURN = "urn:example:params:scim:schemas:test:extension:2.0:User"
)

func newUserDefinition(t *testing.T) *Definition {
	t.Helper()
	d, err := NewDefinition(testUserURN, "User", "Test user account",
		attribute.Must(attribute.New(attribute.String, "userName",
			attribute.Required(),
			attribute.WithUniqueness(attribute.Server))),
		attribute.Must(attribute.New(attribute.String, "displayName")),
		attribute.Must(attribute.New(attribute.Boolean, "active")),
		attribute.Must(attribute.New(attribute.String, "origin",
			attribute.WithMutability(attribute.Immutable))),
		attribute.Must(attribute.New(attribute.Complex, "name",
			attribute.WithSubAttributes(
				attribute.Must(attribute.New(attribute.String, "givenName")),
				attribute.Must(attribute.New(attribute.String, "familyName")),
			))),
		attribute.Must(attribute.New(attribute.Complex, "emails",
			attribute.MultiValued(),
			attribute.WithSubAttributes(
				attribute.Must(attribute.New(attribute.String, "value")),
				attribute.Must(attribute.New(attribute.String, "type",
					attribute.WithCanonicalValues("work", "home"))),
				attribute.Must(attribute.New(attribute.Boolean, "primary")),
			))),
	)
	require.NoError(t, err)
	return d
}

func newEnterpriseExtension(t *testing.T) *Definition {
	t.Helper()
	d, err := NewDefinition(testEnterpriseURN, "EnterpriseUser", "Test extension",
		attribute.Must(attribute.New(attribute.String, "employeeNumber")),
		attribute.Must(attribute.New(attribute.String, "department")),
	)
	require.NoError(t, err)
	return d
}

func TestNewDefinition(t *testing.T) {
	t.Run("requires an id", func(t *testing.T) {
		_, err := NewDefinition("", "User", "")
		require.Error(t, err)
	})

	t.Run("rejects duplicate attribute names", func(t *testing.T) {
		_, err := NewDefinition(testUserURN, "User", "",
			attribute.Must(attribute.New(attribute.String, "userName")),
			attribute.Must(attribute.New(attribute.String, "USERNAME")),
		)
		require.Error(t, err)
	})

	t.Run("rejects collisions with common attributes", func(t *testing.T) {
		_, err := NewDefinition(testUserURN, "User", "",
			attribute.Must(attribute.New(attribute.String, "externalId")),
		)
		require.Error(t, err)
	})
}

func TestAttributeResolution(t *testing.T) {
	def := newUserDefinition(t)
	require.NoError(t, def.Extend(newEnterpriseExtension(t), false))

	testCases := []struct {
		name      string
		path      string
		expected  string
		assertErr require.ErrorAssertionFunc
	}{
		{
			name:      "top-level",
			path:      "userName",
			expected:  "userName",
			assertErr: require.NoError,
		},
		{
			name:      "case-insensitive",
			path:      "USERNAME",
			expected:  "userName",
			assertErr: require.NoError,
		},
		{
			name:      "common attribute",
			path:      "externalId",
			expected:  "externalId",
			assertErr: require.NoError,
		},
		{
			name:      "sub-attribute",
			path:      "name.givenName",
			expected:  "givenName",
			assertErr: require.NoError,
		},
		{
			name:      "extension attribute",
			path:      testEnterpriseURN + ":employeeNumber",
			expected:  "employeeNumber",
			assertErr: require.NoError,
		},
		{
			name:      "unknown attribute",
			path:      "shoeSize",
			assertErr: require.Error,
		},
		{
			name:      "unknown sub-attribute",
			path:      "name.middleName",
			assertErr: require.Error,
		},
		{
			name:      "extension namespace alone",
			path:      testEnterpriseURN,
			assertErr: require.Error,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			attr, err := def.Attribute(tc.path)
			tc.assertErr(t, err)
			if err != nil {
				require.True(t, scim.IsInvalidPath(err))
				return
			}
			require.Equal(t, tc.expected, attr.Name())
		})
	}
}

func TestCoerce(t *testing.T) {
	def := newUserDefinition(t)
	require.NoError(t, def.Extend(newEnterpriseExtension(t), false))

	t.Run("valid resource", func(t *testing.T) {
		res, err := def.Coerce(map[string]any{
			"schemas":  []any{testUserURN, testEnterpriseURN},
			"userName": "bjensen",
			"active":   "true",
			"name":     map[string]any{"givenName": "Barbara"},
			"emails": []any{
				map[string]any{"value": "bjensen@example.com", "type": "work"},
			},
			testEnterpriseURN: map[string]any{"employeeNumber": 42},
		}, scim.Both)
		require.NoError(t, err)

		userName, err := res.Get("userName")
		require.NoError(t, err)
		require.Equal(t, "bjensen", userName)

		// Coercion normalized the boolean and stringified the number.
		active, err := res.Get("active")
		require.NoError(t, err)
		require.Equal(t, true, active)

		employeeNumber, err := res.Get(testEnterpriseURN + ":employeeNumber")
		require.NoError(t, err)
		require.Equal(t, "42", employeeNumber)
	})

	t.Run("undeclared attribute", func(t *testing.T) {
		_, err := def.Coerce(map[string]any{
			"userName": "bjensen",
			"shoeSize": 10,
		}, scim.Both)
		require.Error(t, err)
		require.True(t, scim.IsInvalidValue(err))
		require.ErrorContains(t, err, "shoeSize")
	})

	t.Run("missing required attribute", func(t *testing.T) {
		_, err := def.Coerce(map[string]any{
			"displayName": "Barbara Jensen",
		}, scim.Both)
		require.Error(t, err)
		require.ErrorContains(t, err, "userName")
	})

	t.Run("schemas list must include own id", func(t *testing.T) {
		_, err := def.Coerce(map[string]any{
			"schemas":  []any{testEnterpriseURN},
			"userName": "bjensen",
		}, scim.Both)
		require.Error(t, err)
		require.True(t, scim.IsInvalidSyntax(err))
	})

	t.Run("schemas list rejects unknown URNs", func(t *testing.T) {
		_, err := def.Coerce(map[string]any{
			"schemas":  []any{testUserURN, "urn:example:unknown"},
			"userName": "bjensen",
		}, scim.Both)
		require.Error(t, err)
		require.True(t, scim.IsInvalidSyntax(err))
	})

	t.Run("undeclared extension attribute", func(t *testing.T) {
		_, err := def.Coerce(map[string]any{
			"userName":        "bjensen",
			testEnterpriseURN: map[string]any{"badgeColor": "red"},
		}, scim.Both)
		require.Error(t, err)
		require.ErrorContains(t, err, "badgeColor")
	})
}

func TestCoerceRequiredExtension(t *testing.T) {
	def := newUserDefinition(t)
	require.NoError(t, def.Extend(newEnterpriseExtension(t), true))

	_, err := def.Coerce(map[string]any{"userName": "bjensen"}, scim.Both)
	require.Error(t, err)
	require.ErrorContains(t, err, testEnterpriseURN)

	_, err = def.Coerce(map[string]any{
		"userName":        "bjensen",
		testEnterpriseURN: map[string]any{"department": "sales"},
	}, scim.Both)
	require.NoError(t, err)
}

func TestResourceSet(t *testing.T) {
	def := newUserDefinition(t)
	require.NoError(t, def.Extend(newEnterpriseExtension(t), false))

	newResource := func(t *testing.T) *Resource {
		res, err := def.Coerce(map[string]any{
			"userName": "bjensen",
			"origin":   "okta",
		}, scim.Both)
		require.NoError(t, err)
		return res
	}

	t.Run("writes revalidate", func(t *testing.T) {
		res := newResource(t)
		require.NoError(t, res.Set("active", "true"))
		active, err := res.Get("ACTIVE")
		require.NoError(t, err)
		require.Equal(t, true, active)

		require.Error(t, res.Set("active", 12))
	})

	t.Run("undeclared attribute", func(t *testing.T) {
		res := newResource(t)
		err := res.Set("shoeSize", 10)
		require.Error(t, err)
		require.ErrorContains(t, err, "shoeSize")
	})

	t.Run("nil unsets", func(t *testing.T) {
		res := newResource(t)
		require.NoError(t, res.Set("displayName", "Babs"))
		require.NoError(t, res.Set("displayName", nil))
		value, err := res.Get("displayName")
		require.NoError(t, err)
		require.Nil(t, value)
	})

	t.Run("immutable accepts identical value", func(t *testing.T) {
		res := newResource(t)
		require.NoError(t, res.Set("origin", "okta"))
	})

	t.Run("immutable rejects different value", func(t *testing.T) {
		res := newResource(t)
		err := res.Set("origin", "azure")
		require.Error(t, err)
		require.True(t, scim.IsMutability(err))
	})

	t.Run("immutable sub-attribute", func(t *testing.T) {
		device, err := NewDefinition("urn:example:params:scim:schemas:test:2.0:Device", "Device", "Test device",
			attribute.Must(attribute.New(attribute.Complex, "provenance",
				attribute.WithSubAttributes(
					attribute.Must(attribute.New(attribute.String, "source",
						attribute.WithMutability(attribute.Immutable))),
					attribute.Must(attribute.New(attribute.String, "note")),
				))))
		require.NoError(t, err)

		res, err := device.Coerce(map[string]any{
			"provenance": map[string]any{"source": "okta"},
		}, scim.Both)
		require.NoError(t, err)

		// The same value passes, a different one does not.
		require.NoError(t, res.Set("provenance.source", "okta"))
		err = res.Set("provenance.source", "azure")
		require.Error(t, err)
		require.True(t, scim.IsMutability(err))

		// Mutable siblings stay writable.
		require.NoError(t, res.Set("provenance.note", "imported"))
	})

	t.Run("nested write with lazy container", func(t *testing.T) {
		res := newResource(t)
		require.NoError(t, res.Set("name.givenName", "Barbara"))
		given, err := res.Get("name.givenName")
		require.NoError(t, err)
		require.Equal(t, "Barbara", given)

		require.Error(t, res.Set("name.middleName", "J"))
	})

	t.Run("nested write fans out over elements", func(t *testing.T) {
		res, err := def.Coerce(map[string]any{
			"userName": "bjensen",
			"emails": []any{
				map[string]any{"value": "a@example.com", "type": "work"},
				map[string]any{"value": "b@example.com", "type": "home"},
			},
		}, scim.Both)
		require.NoError(t, err)

		require.NoError(t, res.Set("emails.primary", true))
		out := res.ToMap()
		for _, elem := range out["emails"].([]any) {
			require.Equal(t, true, elem.(map[string]any)["primary"])
		}
	})

	t.Run("too deep path", func(t *testing.T) {
		res := newResource(t)
		err := res.Set("name.givenName.extra", "x")
		require.Error(t, err)
		require.True(t, scim.IsInvalidPath(err))
	})

	t.Run("extension write creates the namespace", func(t *testing.T) {
		res := newResource(t)
		require.NoError(t, res.Set(testEnterpriseURN+":department", "sales"))
		department, err := res.Get(testEnterpriseURN + ":department")
		require.NoError(t, err)
		require.Equal(t, "sales", department)
	})
}

func TestResourceGet(t *testing.T) {
	def := newUserDefinition(t)
	res, err := def.Coerce(map[string]any{"userName": "bjensen"}, scim.Both)
	require.NoError(t, err)

	t.Run("undeclared attribute", func(t *testing.T) {
		_, err := res.Get("shoeSize")
		require.Error(t, err)
		require.True(t, scim.IsInvalidPath(err))
	})

	t.Run("undeclared sub-attribute", func(t *testing.T) {
		_, err := res.Get("name.middleName")
		require.Error(t, err)
		require.True(t, scim.IsInvalidPath(err))
	})

	t.Run("declared but unset is nil", func(t *testing.T) {
		displayName, err := res.Get("displayName")
		require.NoError(t, err)
		require.Nil(t, displayName)
	})
}

func TestSchemasListMaintenance(t *testing.T) {
	def := newUserDefinition(t)
	require.NoError(t, def.Extend(newEnterpriseExtension(t), false))

	res, err := def.Coerce(map[string]any{"userName": "bjensen"}, scim.Both)
	require.NoError(t, err)

	// No extension content: the list carries only the base URN.
	require.Equal(t, []string{testUserURN}, res.Schemas())

	// Populating the extension adds its URN.
	require.NoError(t, res.Set(testEnterpriseURN+":department", "sales"))
	require.Equal(t, []string{testUserURN, testEnterpriseURN}, res.Schemas())

	out := res.ToMap()
	require.Equal(t, []string{testUserURN, testEnterpriseURN}, out["schemas"])
	require.Equal(t, map[string]any{"department": "sales"}, out[testEnterpriseURN])

	// Draining the extension drops its URN again.
	require.NoError(t, res.Set(testEnterpriseURN+":department", nil))
	require.Equal(t, []string{testUserURN}, res.Schemas())
	require.NotContains(t, res.ToMap(), testEnterpriseURN)
}

func TestExtendAndTruncate(t *testing.T) {
	t.Run("duplicate extension", func(t *testing.T) {
		def := newUserDefinition(t)
		require.NoError(t, def.Extend(newEnterpriseExtension(t), false))
		require.Error(t, def.Extend(newEnterpriseExtension(t), false))
	})

	t.Run("extend attributes", func(t *testing.T) {
		def := newUserDefinition(t)
		require.NoError(t, def.ExtendAttributes(
			attribute.Must(attribute.New(attribute.String, "nickName"))))
		_, err := def.Attribute("nickName")
		require.NoError(t, err)

		// A second extension with the same name collides.
		require.Error(t, def.ExtendAttributes(
			attribute.Must(attribute.New(attribute.String, "NICKNAME"))))
	})

	t.Run("truncate attribute", func(t *testing.T) {
		def := newUserDefinition(t)
		require.NoError(t, def.Truncate("displayName"))
		_, err := def.Attribute("displayName")
		require.Error(t, err)
	})

	t.Run("truncate sub-attribute", func(t *testing.T) {
		def := newUserDefinition(t)
		require.NoError(t, def.Truncate("name.familyName"))
		_, err := def.Attribute("name.familyName")
		require.Error(t, err)
		_, err = def.Attribute("name.givenName")
		require.NoError(t, err)
	})

	t.Run("truncate extension", func(t *testing.T) {
		def := newUserDefinition(t)
		require.NoError(t, def.Extend(newEnterpriseExtension(t), false))
		require.NoError(t, def.Truncate(testEnterpriseURN))
		require.Empty(t, def.Extensions())
	})

	t.Run("truncate unknown", func(t *testing.T) {
		def := newUserDefinition(t)
		require.Error(t, def.Truncate("shoeSize"))
	})
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	user := newUserDefinition(t)
	ext := newEnterpriseExtension(t)

	require.NoError(t, registry.Add(user))
	require.NoError(t, registry.Add(ext))

	t.Run("duplicate registration", func(t *testing.T) {
		require.Error(t, registry.Add(newUserDefinition(t)))
	})

	t.Run("lookup is case-insensitive", func(t *testing.T) {
		d, err := registry.Get(testUserURN)
		require.NoError(t, err)
		require.Same(t, user, d)

		_, err = registry.Get("urn:example:unknown")
		require.Error(t, err)
	})

	t.Run("registration order", func(t *testing.T) {
		defs := registry.Definitions()
		require.Len(t, defs, 2)
		require.Same(t, user, defs[0])
		require.Same(t, ext, defs[1])
	})

	t.Run("sealing freezes every definition", func(t *testing.T) {
		registry.Seal()

		require.Error(t, registry.Add(newEnterpriseExtension(t)))
		require.Error(t, user.ExtendAttributes(
			attribute.Must(attribute.New(attribute.String, "nickName"))))
		require.Error(t, user.Truncate("displayName"))
		require.Error(t, user.Extend(newEnterpriseExtension(t), false))

		// Instance construction still works from sealed definitions.
		_, err := user.Coerce(map[string]any{"userName": "bjensen"}, scim.Both)
		require.NoError(t, err)
	})
}
