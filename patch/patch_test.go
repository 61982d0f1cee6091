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

package patch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/scim"
	"github.com/gravitational/scim/attribute"
	"github.com/gravitational/scim/schema"
)

const (
	testUserURN       = "urn:example:params:scim:schemas:test:2.0:User"
	testEnterpriseURN = "urn:example:params:scim:schemas:test:extension:2.0:User"
)

func newUserDefinition(t *testing.T) *schema.Definition {
	t.Helper()
	ext, err := schema.NewDefinition(testEnterpriseURN, "EnterpriseUser", "Test extension",
		attribute.Must(attribute.New(attribute.String, "employeeNumber")),
		attribute.Must(attribute.New(attribute.String, "department")),
	)
	require.NoError(t, err)

	def, err := schema.NewDefinition(testUserURN, "User", "Test user account",
		attribute.Must(attribute.New(attribute.String, "userName",
			attribute.Required())),
		attribute.Must(attribute.New(attribute.String, "displayName")),
		attribute.Must(attribute.New(attribute.Boolean, "active")),
		attribute.Must(attribute.New(attribute.String, "origin",
			attribute.WithMutability(attribute.Immutable))),
		attribute.Must(attribute.New(attribute.Integer, "gidNumbers",
			attribute.MultiValued())),
		attribute.Must(attribute.New(attribute.Complex, "provenance",
			attribute.WithSubAttributes(
				attribute.Must(attribute.New(attribute.String, "source",
					attribute.WithMutability(attribute.Immutable))),
				attribute.Must(attribute.New(attribute.String, "note")),
			))),
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
	require.NoError(t, def.Extend(ext, false))
	return def
}

func newResource(t *testing.T, data map[string]any) *schema.Resource {
	t.Helper()
	def := newUserDefinition(t)
	res, err := def.Coerce(data, scim.Both)
	require.NoError(t, err)
	return res
}

func bjensen(t *testing.T) *schema.Resource {
	t.Helper()
	return newResource(t, map[string]any{
		"userName": "bjensen",
		"origin":   "okta",
		"name":     map[string]any{"givenName": "Barbara"},
		"emails": []any{
			map[string]any{"value": "bjensen@example.com", "type": "work", "primary": true},
			map[string]any{"value": "babs@jensen.org", "type": "home"},
		},
	})
}

func TestParse(t *testing.T) {
	testCases := []struct {
		name      string
		body      string
		assertErr require.ErrorAssertionFunc
		check     func(t *testing.T, p *PatchOp)
	}{
		{
			name: "valid",
			body: `{
				"schemas": ["urn:ietf:params:scim:api:messages:2.0:PatchOp"],
				"Operations": [
					{"op": "Add", "path": "displayName", "value": "Babs"},
					{"op": "remove", "path": "emails[type eq \"home\"]"},
					{"op": "REPLACE", "value": {"active": false}}
				]
			}`,
			assertErr: require.NoError,
			check: func(t *testing.T, p *PatchOp) {
				require.Len(t, p.Operations, 3)
				// Op names normalize to lower case.
				require.Equal(t, OpAdd, p.Operations[0].Op)
				require.Equal(t, OpRemove, p.Operations[1].Op)
				require.Equal(t, OpReplace, p.Operations[2].Op)
			},
		},
		{
			name:      "malformed body",
			body:      `{"schemas": [`,
			assertErr: require.Error,
		},
		{
			name: "wrong message schema",
			body: `{
				"schemas": ["urn:ietf:params:scim:api:messages:2.0:ListResponse"],
				"Operations": [{"op": "add", "value": 1}]
			}`,
			assertErr: require.Error,
		},
		{
			name: "no operations",
			body: `{
				"schemas": ["urn:ietf:params:scim:api:messages:2.0:PatchOp"],
				"Operations": []
			}`,
			assertErr: require.Error,
		},
		{
			name: "non-string path",
			body: `{
				"schemas": ["urn:ietf:params:scim:api:messages:2.0:PatchOp"],
				"Operations": [{"op": "add", "path": 42, "value": 1}]
			}`,
			assertErr: require.Error,
		},
		{
			name: "add without value",
			body: `{
				"schemas": ["urn:ietf:params:scim:api:messages:2.0:PatchOp"],
				"Operations": [{"op": "add", "path": "displayName"}]
			}`,
			assertErr: require.Error,
		},
		{
			name: "remove without path",
			body: `{
				"schemas": ["urn:ietf:params:scim:api:messages:2.0:PatchOp"],
				"Operations": [{"op": "remove"}]
			}`,
			assertErr: require.Error,
		},
		{
			name: "unknown op",
			body: `{
				"schemas": ["urn:ietf:params:scim:api:messages:2.0:PatchOp"],
				"Operations": [{"op": "merge", "value": 1}]
			}`,
			assertErr: require.Error,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Parse([]byte(tc.body))
			tc.assertErr(t, err)
			if err == nil && tc.check != nil {
				tc.check(t, p)
			}
		})
	}
}

func TestSplitPath(t *testing.T) {
	testCases := []struct {
		name      string
		path      string
		expected  []segment
		assertErr require.ErrorAssertionFunc
	}{
		{
			name:      "plain",
			path:      "displayName",
			expected:  []segment{{name: "displayName"}},
			assertErr: require.NoError,
		},
		{
			name:      "dotted",
			path:      "name.givenName",
			expected:  []segment{{name: "name"}, {name: "givenName"}},
			assertErr: require.NoError,
		},
		{
			name: "filter",
			path: `emails[type eq "work"]`,
			expected: []segment{
				{name: "emails", filter: `type eq "work"`},
			},
			assertErr: require.NoError,
		},
		{
			name: "filter with trailing segment",
			path: `emails[type eq "work"].value`,
			expected: []segment{
				{name: "emails", filter: `type eq "work"`},
				{name: "value"},
			},
			assertErr: require.NoError,
		},
		{
			name:      "dot inside filter does not split",
			path:      `emails[value co "a.b"]`,
			expected:  []segment{{name: "emails", filter: `value co "a.b"`}},
			assertErr: require.NoError,
		},
		{
			name:      "unterminated filter",
			path:      `emails[type eq "work"`,
			assertErr: require.Error,
		},
		{
			name:      "empty segment",
			path:      ".displayName",
			assertErr: require.Error,
		},
		{
			name:      "empty path",
			path:      "",
			assertErr: require.Error,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			segments, err := splitPath(tc.path)
			tc.assertErr(t, err)
			if err == nil {
				require.Equal(t, tc.expected, segments)
			}
		})
	}
}

func mustPatch(t *testing.T, ops ...Operation) *PatchOp {
	t.Helper()
	p, err := New(ops...)
	require.NoError(t, err)
	return p
}

func TestApplyAdd(t *testing.T) {
	ctx := context.Background()

	t.Run("scalar", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t, Operation{Op: OpAdd, Path: "displayName", Value: "Babs Jensen"})

		patched, err := p.Apply(ctx, res)
		require.NoError(t, err)
		require.NotNil(t, patched)

		displayName, err := patched.Get("displayName")
		require.NoError(t, err)
		require.Equal(t, "Babs Jensen", displayName)

		// The input resource is untouched.
		original, err := res.Get("displayName")
		require.NoError(t, err)
		require.Nil(t, original)
	})

	t.Run("idempotent add returns nil", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t, Operation{Op: OpAdd, Path: "userName", Value: "bjensen"})

		patched, err := p.Apply(ctx, res)
		require.NoError(t, err)
		require.Nil(t, patched)
	})

	t.Run("pathless add merges an object", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t, Operation{Op: OpAdd, Value: map[string]any{
			"displayName": "Babs",
			"active":      true,
		}})

		patched, err := p.Apply(ctx, res)
		require.NoError(t, err)
		require.NotNil(t, patched)

		active, err := patched.Get("active")
		require.NoError(t, err)
		require.Equal(t, true, active)
	})

	t.Run("multi-valued append", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t, Operation{Op: OpAdd, Path: "emails", Value: map[string]any{
			"value": "work2@example.com", "type": "work",
		}})

		patched, err := p.Apply(ctx, res)
		require.NoError(t, err)
		emails := patched.ToMap()["emails"].([]any)
		require.Len(t, emails, 3)
		require.Equal(t, "work2@example.com", emails[2].(map[string]any)["value"])
	})

	t.Run("nested sub-attribute", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t, Operation{Op: OpAdd, Path: "name.familyName", Value: "Jensen"})

		patched, err := p.Apply(ctx, res)
		require.NoError(t, err)
		familyName, err := patched.Get("name.familyName")
		require.NoError(t, err)
		require.Equal(t, "Jensen", familyName)
	})

	t.Run("filtered add merges into matched elements", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t, Operation{
			Op:    OpAdd,
			Path:  `emails[type eq "home"]`,
			Value: map[string]any{"primary": false},
		})

		patched, err := p.Apply(ctx, res)
		require.NoError(t, err)
		emails := patched.ToMap()["emails"].([]any)
		for _, elem := range emails {
			m := elem.(map[string]any)
			if m["type"] == "home" {
				require.Equal(t, false, m["primary"])
			}
		}
	})

	t.Run("extension attribute", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t, Operation{
			Op:    OpAdd,
			Path:  testEnterpriseURN + ":department",
			Value: "sales",
		})

		patched, err := p.Apply(ctx, res)
		require.NoError(t, err)
		department, err := patched.Get(testEnterpriseURN + ":department")
		require.NoError(t, err)
		require.Equal(t, "sales", department)
		require.Contains(t, patched.Schemas(), testEnterpriseURN)
	})

	t.Run("unknown path", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t, Operation{Op: OpAdd, Path: "shoeSize", Value: 10})

		_, err := p.Apply(ctx, res)
		require.Error(t, err)
		require.True(t, scim.IsInvalidPath(err))
	})

	t.Run("value failing validation names the operation", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t,
			Operation{Op: OpAdd, Path: "displayName", Value: "Babs"},
			Operation{Op: OpAdd, Path: "active", Value: "banana"},
		)

		_, err := p.Apply(ctx, res)
		require.Error(t, err)
		require.ErrorContains(t, err, "operation 2")
	})
}

func TestApplyRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("scalar", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t, Operation{Op: OpRemove, Path: "name"})

		patched, err := p.Apply(ctx, res)
		require.NoError(t, err)
		require.NotContains(t, patched.ToMap(), "name")
	})

	t.Run("missing target", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t, Operation{Op: OpRemove, Path: "displayName"})

		_, err := p.Apply(ctx, res)
		require.Error(t, err)
		require.True(t, scim.IsNoTarget(err))
	})

	t.Run("filtered element removal", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t, Operation{Op: OpRemove, Path: `emails[type eq "home"]`})

		patched, err := p.Apply(ctx, res)
		require.NoError(t, err)
		emails := patched.ToMap()["emails"].([]any)
		require.Len(t, emails, 1)
		require.Equal(t, "work", emails[0].(map[string]any)["type"])
	})

	t.Run("removing every element unsets the attribute", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t, Operation{Op: OpRemove, Path: `emails[value pr]`})

		patched, err := p.Apply(ctx, res)
		require.NoError(t, err)
		require.NotContains(t, patched.ToMap(), "emails")
	})

	t.Run("removal by complex value", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t, Operation{
			Op:    OpRemove,
			Path:  "emails",
			Value: map[string]any{"type": "work"},
		})

		patched, err := p.Apply(ctx, res)
		require.NoError(t, err)
		emails := patched.ToMap()["emails"].([]any)
		require.Len(t, emails, 1)
		require.Equal(t, "home", emails[0].(map[string]any)["type"])
	})

	t.Run("removal by numeric value", func(t *testing.T) {
		res := newResource(t, map[string]any{
			"userName":   "bjensen",
			"gidNumbers": []any{1000, 2000},
		})
		// Through Parse the removal value arrives as a JSON number, while
		// the coerced elements are integers.
		p, err := Parse([]byte(`{
			"schemas": ["urn:ietf:params:scim:api:messages:2.0:PatchOp"],
			"Operations": [{"op": "remove", "path": "gidNumbers", "value": 1000}]
		}`))
		require.NoError(t, err)

		patched, err := p.Apply(ctx, res)
		require.NoError(t, err)
		require.NotNil(t, patched)
		require.Equal(t, []any{int64(2000)}, patched.ToMap()["gidNumbers"])
	})

	t.Run("sub-attribute of filtered elements", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t, Operation{Op: OpRemove, Path: `emails[type eq "work"].primary`})

		patched, err := p.Apply(ctx, res)
		require.NoError(t, err)
		emails := patched.ToMap()["emails"].([]any)
		for _, elem := range emails {
			m := elem.(map[string]any)
			if m["type"] == "work" {
				require.NotContains(t, m, "primary")
			}
		}
	})

	t.Run("removing a required attribute fails validation", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t, Operation{Op: OpRemove, Path: "userName"})

		_, err := p.Apply(ctx, res)
		require.Error(t, err)
		require.ErrorContains(t, err, "userName")
	})
}

func TestApplyReplace(t *testing.T) {
	ctx := context.Background()

	t.Run("scalar", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t, Operation{Op: OpReplace, Path: "userName", Value: "babs"})

		patched, err := p.Apply(ctx, res)
		require.NoError(t, err)
		userName, err := patched.Get("userName")
		require.NoError(t, err)
		require.Equal(t, "babs", userName)
	})

	t.Run("missing target is created", func(t *testing.T) {
		// Replace composes as remove-then-add: a miss on the remove leg
		// does not fail the operation.
		res := bjensen(t)
		p := mustPatch(t, Operation{Op: OpReplace, Path: "displayName", Value: "Babs"})

		patched, err := p.Apply(ctx, res)
		require.NoError(t, err)
		displayName, err := patched.Get("displayName")
		require.NoError(t, err)
		require.Equal(t, "Babs", displayName)
	})

	t.Run("pathless replace merges an object", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t, Operation{Op: OpReplace, Value: map[string]any{
			"displayName": "Babs",
		}})

		patched, err := p.Apply(ctx, res)
		require.NoError(t, err)
		displayName, err := patched.Get("displayName")
		require.NoError(t, err)
		require.Equal(t, "Babs", displayName)
	})

	t.Run("filtered elements replace in place", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t, Operation{
			Op:   OpReplace,
			Path: `emails[type eq "work"]`,
			Value: map[string]any{
				"value": "new-work@example.com",
			},
		})

		patched, err := p.Apply(ctx, res)
		require.NoError(t, err)
		emails := patched.ToMap()["emails"].([]any)
		require.Len(t, emails, 2)

		var work map[string]any
		for _, elem := range emails {
			if m := elem.(map[string]any); m["type"] == "work" {
				work = m
			}
		}
		require.NotNil(t, work)
		require.Equal(t, "new-work@example.com", work["value"])
		// Unmentioned sub-attributes of the matched element survive.
		require.Equal(t, true, work["primary"])
	})

	t.Run("filtered replace with no match", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t, Operation{
			Op:    OpReplace,
			Path:  `emails[value eq "nobody@example.com"]`,
			Value: map[string]any{"primary": false},
		})

		_, err := p.Apply(ctx, res)
		require.Error(t, err)
		require.True(t, scim.IsNoTarget(err))
	})

	t.Run("whole multi-valued attribute", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t, Operation{
			Op:   OpReplace,
			Path: "emails",
			Value: []any{
				map[string]any{"value": "only@example.com", "type": "work"},
			},
		})

		patched, err := p.Apply(ctx, res)
		require.NoError(t, err)
		emails := patched.ToMap()["emails"].([]any)
		require.Len(t, emails, 1)
	})

	t.Run("immutable attribute refuses a new value", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t, Operation{Op: OpReplace, Path: "origin", Value: "azure"})

		_, err := p.Apply(ctx, res)
		require.Error(t, err)
		require.True(t, scim.IsMutability(err))
	})

	t.Run("immutable attribute accepts the same value", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t, Operation{Op: OpReplace, Path: "origin", Value: "okta"})

		patched, err := p.Apply(ctx, res)
		require.NoError(t, err)
		require.Nil(t, patched)
	})

	t.Run("immutable sub-attribute refuses a new value", func(t *testing.T) {
		res := newResource(t, map[string]any{
			"userName":   "bjensen",
			"provenance": map[string]any{"source": "okta", "note": "seed"},
		})
		p := mustPatch(t, Operation{Op: OpReplace, Path: "provenance.source", Value: "azure"})

		_, err := p.Apply(ctx, res)
		require.Error(t, err)
		require.True(t, scim.IsMutability(err))
	})

	t.Run("sibling of an immutable sub-attribute stays writable", func(t *testing.T) {
		res := newResource(t, map[string]any{
			"userName":   "bjensen",
			"provenance": map[string]any{"source": "okta", "note": "seed"},
		})
		p := mustPatch(t, Operation{Op: OpReplace, Path: "provenance.note", Value: "updated"})

		patched, err := p.Apply(ctx, res)
		require.NoError(t, err)
		note, err := patched.Get("provenance.note")
		require.NoError(t, err)
		require.Equal(t, "updated", note)
	})
}

func TestApplyPipeline(t *testing.T) {
	ctx := context.Background()

	t.Run("operations apply strictly in order", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t,
			Operation{Op: OpAdd, Path: "displayName", Value: "First"},
			Operation{Op: OpReplace, Path: "displayName", Value: "Second"},
			Operation{Op: OpRemove, Path: "displayName"},
		)

		patched, err := p.Apply(ctx, res)
		require.NoError(t, err)
		// Net effect of the three ops is nothing.
		require.Nil(t, patched)
	})

	t.Run("failure aborts the whole apply", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t,
			Operation{Op: OpAdd, Path: "displayName", Value: "Babs"},
			Operation{Op: OpRemove, Path: "nonexistent"},
		)

		_, err := p.Apply(ctx, res)
		require.Error(t, err)

		// The original resource carries no trace of the first op.
		displayName, err := res.Get("displayName")
		require.NoError(t, err)
		require.Nil(t, displayName)
	})

	t.Run("finalizer round-trips the result", func(t *testing.T) {
		res := bjensen(t)
		p := mustPatch(t, Operation{Op: OpAdd, Path: "displayName", Value: "Babs"})

		calls := 0
		finalize := func(ctx context.Context, r *schema.Resource) (map[string]any, error) {
			calls++
			out := r.ToMap()
			out["id"] = "stored-id"
			return out, nil
		}

		patched, err := p.Apply(ctx, res, WithFinalizer(finalize))
		require.NoError(t, err)
		require.Equal(t, 1, calls)

		id, err := patched.Get("id")
		require.NoError(t, err)
		require.Equal(t, "stored-id", id)
	})
}
