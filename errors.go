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
	"errors"
	"fmt"
	"net/http"
)

// RFC 7644 §3.12 scimType tokens.
const (
	// TypeInvalidSyntax indicates a structurally malformed message or
	// schemas list.
	TypeInvalidSyntax = "invalidSyntax"

	// TypeInvalidValue indicates a value that failed type, shape, canonical
	// or required-attribute validation, or a write to an undeclared
	// attribute.
	TypeInvalidValue = "invalidValue"

	// TypeInvalidPath indicates an attribute path that does not resolve
	// against the target schema.
	TypeInvalidPath = "invalidPath"

	// TypeInvalidFilter indicates a filter expression that failed to
	// tokenize or parse.
	TypeInvalidFilter = "invalidFilter"

	// TypeNoTarget indicates a patch path that resolved to no concrete
	// target on the resource.
	TypeNoTarget = "noTarget"

	// TypeMutability indicates a write to an immutable attribute that
	// already holds a different value.
	TypeMutability = "mutability"
)

// Error is the single error type surfaced by the SCIM core. It carries the
// HTTP-style status and scimType token that the protocol's Error message
// wrapper serializes verbatim. Errors are created at the violation site and
// may be wrapped with trace on the way up; use [errors.As] or the Is*
// predicates below rather than direct type assertions.
type Error struct {
	// Status is the HTTP status code associated with the violation.
	Status int

	// ScimType is the RFC 7644 error type token. May be empty for plain
	// status-only errors.
	ScimType string

	// Detail is the human-readable description of the first violation
	// encountered.
	Detail string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ScimType == "" {
		return fmt.Sprintf("scim error %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("scim error %d (%s): %s", e.Status, e.ScimType, e.Detail)
}

// NewInvalidSyntax creates a 400/invalidSyntax error.
func NewInvalidSyntax(format string, args ...any) *Error {
	return &Error{Status: http.StatusBadRequest, ScimType: TypeInvalidSyntax, Detail: fmt.Sprintf(format, args...)}
}

// NewInvalidValue creates a 400/invalidValue error.
func NewInvalidValue(format string, args ...any) *Error {
	return &Error{Status: http.StatusBadRequest, ScimType: TypeInvalidValue, Detail: fmt.Sprintf(format, args...)}
}

// NewInvalidPath creates a 400/invalidPath error.
func NewInvalidPath(format string, args ...any) *Error {
	return &Error{Status: http.StatusBadRequest, ScimType: TypeInvalidPath, Detail: fmt.Sprintf(format, args...)}
}

// NewInvalidFilter creates a 400/invalidFilter error.
func NewInvalidFilter(format string, args ...any) *Error {
	return &Error{Status: http.StatusBadRequest, ScimType: TypeInvalidFilter, Detail: fmt.Sprintf(format, args...)}
}

// NewNoTarget creates a 400/noTarget error.
func NewNoTarget(format string, args ...any) *Error {
	return &Error{Status: http.StatusBadRequest, ScimType: TypeNoTarget, Detail: fmt.Sprintf(format, args...)}
}

// NewMutability creates a 400/mutability error.
func NewMutability(format string, args ...any) *Error {
	return &Error{Status: http.StatusBadRequest, ScimType: TypeMutability, Detail: fmt.Sprintf(format, args...)}
}

// AsError unwraps err down to the underlying *Error, if any.
func AsError(err error) (*Error, bool) {
	var scimErr *Error
	ok := errors.As(err, &scimErr)
	return scimErr, ok
}

func hasType(err error, scimType string) bool {
	scimErr, ok := AsError(err)
	return ok && scimErr.ScimType == scimType
}

// IsInvalidSyntax reports whether err is (or wraps) an invalidSyntax error.
func IsInvalidSyntax(err error) bool { return hasType(err, TypeInvalidSyntax) }

// IsInvalidValue reports whether err is (or wraps) an invalidValue error.
func IsInvalidValue(err error) bool { return hasType(err, TypeInvalidValue) }

// IsInvalidPath reports whether err is (or wraps) an invalidPath error.
func IsInvalidPath(err error) bool { return hasType(err, TypeInvalidPath) }

// IsInvalidFilter reports whether err is (or wraps) an invalidFilter error.
func IsInvalidFilter(err error) bool { return hasType(err, TypeInvalidFilter) }

// IsNoTarget reports whether err is (or wraps) a noTarget error.
func IsNoTarget(err error) bool { return hasType(err, TypeNoTarget) }

// IsMutability reports whether err is (or wraps) a mutability error.
func IsMutability(err error) bool { return hasType(err, TypeMutability) }
