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

// Package patch implements the RFC 7644 §3.5.2 PatchOp message and the
// engine that applies its add/remove/replace operations to a schema
// resource instance. Operations apply strictly in order against a working
// copy; the first failing operation aborts the whole apply.
package patch

import (
	"encoding/json"
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/scim"
)

// Operation kinds.
const (
	OpAdd     = "add"
	OpRemove  = "remove"
	OpReplace = "replace"
)

// Operation is one add/remove/replace mutation. Op is matched
// case-insensitively on ingress and normalized to lower case.
type Operation struct {
	Op    string `json:"op"`
	Path  string `json:"path,omitempty"`
	Value any    `json:"value,omitempty"`

	hasPath bool
}

// PatchOp is a validated RFC 7644 PatchOp message.
type PatchOp struct {
	Schemas    []string    `json:"schemas"`
	Operations []Operation `json:"Operations"`
}

// rawOperation defers path/value decoding so structural violations (a
// non-string path, a missing value) are reported with SCIM error types
// rather than generic decode failures.
type rawOperation struct {
	Op    string          `json:"op"`
	Path  json.RawMessage `json:"path"`
	Value json.RawMessage `json:"value"`
}

type rawPatchOp struct {
	Schemas    []string       `json:"schemas"`
	Operations []rawOperation `json:"Operations"`
}

// Parse decodes and structurally validates a PatchOp request body. All
// validation here is resolution-free: it happens before the message ever
// meets a concrete resource.
func Parse(body []byte) (*PatchOp, error) {
	var raw rawPatchOp
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, scim.NewInvalidSyntax("malformed PatchOp request body: %v", err)
	}

	ops := make([]Operation, 0, len(raw.Operations))
	for i, rawOp := range raw.Operations {
		op := Operation{Op: rawOp.Op}
		if rawOp.Path != nil {
			var path string
			if err := json.Unmarshal(rawOp.Path, &path); err != nil {
				return nil, scim.NewInvalidValue("operation %d has a non-string 'path'", i+1)
			}
			op.Path = path
			op.hasPath = true
		}
		if rawOp.Value != nil {
			var value any
			if err := json.Unmarshal(rawOp.Value, &value); err != nil {
				return nil, scim.NewInvalidSyntax("operation %d has a malformed 'value': %v", i+1, err)
			}
			op.Value = value
		}
		ops = append(ops, op)
	}

	p := &PatchOp{Schemas: raw.Schemas, Operations: ops}
	if err := p.validate(); err != nil {
		return nil, trace.Wrap(err)
	}
	return p, nil
}

// New builds a PatchOp from pre-built operations, applying the same
// structural validation as Parse.
func New(ops ...Operation) (*PatchOp, error) {
	for i := range ops {
		if ops[i].Path != "" {
			ops[i].hasPath = true
		}
	}
	p := &PatchOp{Schemas: []string{scim.MessagePatchOp}, Operations: ops}
	if err := p.validate(); err != nil {
		return nil, trace.Wrap(err)
	}
	return p, nil
}

func (p *PatchOp) validate() error {
	if len(p.Schemas) != 1 || !strings.EqualFold(p.Schemas[0], scim.MessagePatchOp) {
		return scim.NewInvalidSyntax("PatchOp request body must declare exactly the %q schema", scim.MessagePatchOp)
	}
	if len(p.Operations) == 0 {
		return scim.NewInvalidValue("PatchOp request body must declare at least one operation")
	}

	for i := range p.Operations {
		op := &p.Operations[i]
		op.Op = strings.ToLower(op.Op)
		switch op.Op {
		case OpAdd:
			if op.Value == nil {
				return scim.NewInvalidValue("operation %d: 'add' requires a value", i+1)
			}
		case OpRemove:
			if !op.hasPath || op.Path == "" {
				return scim.NewNoTarget("operation %d: 'remove' requires a path", i+1)
			}
		case OpReplace:
		default:
			return scim.NewInvalidSyntax("operation %d has invalid op %q, expected add, remove or replace", i+1, op.Op)
		}
	}
	return nil
}
