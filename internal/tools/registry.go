package tools

import (
	"context"
	"fmt"
)

// Registry holds the registered tools and dispatches executions.
//
// Registry is immutable after construction and safe for concurrent use.
// Definitions are cached once since tool metadata never changes.
type Registry struct {
	tools map[string]Tool
	defs  []Definition
}

// NewRegistry creates a registry from the given tools.
// Duplicate names are a wiring error.
func NewRegistry(toolList ...Tool) (*Registry, error) {
	r := &Registry{
		tools: make(map[string]Tool, len(toolList)),
		defs:  make([]Definition, 0, len(toolList)),
	}
	for _, t := range toolList {
		def := t.Definition()
		if _, dup := r.tools[def.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", def.Name)
		}
		r.tools[def.Name] = t
		r.defs = append(r.defs, def)
	}
	return r, nil
}

// Definitions returns the cached tool definitions in registration order.
// Callers must not mutate the returned slice.
func (r *Registry) Definitions() []Definition {
	return r.defs
}

// Execute runs the named tool. The caller always receives a structured
// result or a structured error, never a panic.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t.Execute(ctx, args)
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	return len(r.tools)
}
