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
	"strings"
	"sync"

	"github.com/gravitational/trace"
)

// Registry owns the schema definitions of a service. Definitions register
// during startup; once the registry is sealed their shape is frozen and
// instance construction may proceed from any number of goroutines.
type Registry struct {
	mu          sync.RWMutex
	sealed      bool
	definitions map[string]*Definition
	order       []string
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[string]*Definition)}
}

// Add registers a definition under its URN.
func (r *Registry) Add(d *Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return trace.BadParameter("schema registry is sealed")
	}
	key := strings.ToLower(d.id)
	if _, ok := r.definitions[key]; ok {
		return trace.AlreadyExists("schema %q is already registered", d.id)
	}
	d.registry = r
	r.definitions[key] = d
	r.order = append(r.order, key)
	return nil
}

// Get returns the definition registered under the given URN.
func (r *Registry) Get(id string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.definitions[strings.ToLower(id)]
	if !ok {
		return nil, trace.NotFound("schema %q is not registered", id)
	}
	return d, nil
}

// Definitions returns the registered definitions in registration order.
func (r *Registry) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.definitions[key])
	}
	return out
}

// Seal freezes the registry: no definitions can be added and no registered
// definition can be extended or truncated afterwards.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

func (r *Registry) isSealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}
