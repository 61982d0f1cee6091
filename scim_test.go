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

package scim

import (
	"net/http"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestDirectionApplies(t *testing.T) {
	testCases := []struct {
		declared Direction
		op       Direction
		expected bool
	}{
		{Both, In, true},
		{Both, Out, true},
		{Both, Both, true},
		{In, In, true},
		{In, Out, false},
		{In, Both, true},
		{Out, Out, true},
		{Out, In, false},
		{Out, Both, true},
	}

	for _, tc := range testCases {
		t.Run(string(tc.declared)+"/"+string(tc.op), func(t *testing.T) {
			require.Equal(t, tc.expected, tc.declared.Applies(tc.op))
		})
	}
}

func TestErrorPredicates(t *testing.T) {
	testCases := []struct {
		name      string
		err       *Error
		predicate func(error) bool
	}{
		{"invalidSyntax", NewInvalidSyntax("bad message"), IsInvalidSyntax},
		{"invalidValue", NewInvalidValue("bad value"), IsInvalidValue},
		{"invalidPath", NewInvalidPath("bad path"), IsInvalidPath},
		{"invalidFilter", NewInvalidFilter("bad filter"), IsInvalidFilter},
		{"noTarget", NewNoTarget("no target"), IsNoTarget},
		{"mutability", NewMutability("immutable"), IsMutability},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, http.StatusBadRequest, tc.err.Status)
			require.True(t, tc.predicate(tc.err))

			// Predicates see through trace wrapping.
			wrapped := trace.Wrap(tc.err, "applying operation 3")
			require.True(t, tc.predicate(wrapped))

			scimErr, ok := AsError(wrapped)
			require.True(t, ok)
			require.Same(t, tc.err, scimErr)
		})
	}
}

func TestErrorString(t *testing.T) {
	err := NewInvalidValue("attribute %q is broken", "userName")
	require.Equal(t, `scim error 400 (invalidValue): attribute "userName" is broken`, err.Error())

	plain := &Error{Status: 500, Detail: "boom"}
	require.Equal(t, "scim error 500: boom", plain.Error())
}
