// Package registry maps sanitized module names to their implementations.
// Modules are registered explicitly at startup; there is no directory
// scanning or dynamic loading, and an env-driven allowlist can restrict the
// registered set.
package registry

import (
	"context"
	"sort"

	"github.com/CePCCo-Asesores/backend-universal/pkg/authn"
	"github.com/CePCCo-Asesores/backend-universal/pkg/moduleid"
)

// Module is the single operation a registered module exposes. A module keeps
// no state across activations beyond what it persists itself.
type Module interface {
	Run(ctx context.Context, payload map[string]any, user authn.User) (map[string]any, error)
}

type Registry struct {
	modules map[string]Module
}

func New() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

func (r *Registry) Register(name string, m Module) {
	r.modules[moduleid.Sanitize(name)] = m
}

// Restrict drops every module not named in the allowlist. An empty allowlist
// is a no-op.
func (r *Registry) Restrict(allowlist []string) {
	if len(allowlist) == 0 {
		return
	}
	allowed := make(map[string]bool, len(allowlist))
	for _, name := range allowlist {
		allowed[moduleid.Sanitize(name)] = true
	}
	for key := range r.modules {
		if !allowed[key] {
			delete(r.modules, key)
		}
	}
}

func (r *Registry) Resolve(name string) (Module, bool) {
	m, ok := r.modules[moduleid.Sanitize(name)]
	return m, ok
}

func (r *Registry) List() []string {
	keys := make([]string, 0, len(r.modules))
	for k := range r.modules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
