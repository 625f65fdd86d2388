// Package tools provides the callable tool registry for the chat agent.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Definition describes a tool to the model: name, description, and a JSON
// schema for its parameters.
type Definition struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
}

// Tool is a callable unit: metadata plus an execution function.
type Tool interface {
	// Definition returns the tool's metadata. Pure; may be cached by callers.
	Definition() Definition

	// Execute runs the tool. Arguments arrive as decoded JSON. Failures are
	// structured (*ArgumentError, *RuntimeError); Execute never panics outward.
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// funcTool adapts a typed handler to the Tool interface with type erasure,
// validating arguments against the schema derived from In.
type funcTool struct {
	name        string
	description string
	schema      *jsonschema.Schema
	resolved    *jsonschema.Resolved
	handler     func(ctx context.Context, args map[string]any) (any, error)
}

func (t *funcTool) Definition() Definition {
	return Definition{Name: t.name, Description: t.description, Parameters: t.schema}
}

func (t *funcTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	if err := t.resolved.Validate(args); err != nil {
		return nil, &ArgumentError{Tool: t.name, Err: err}
	}
	return t.handler(ctx, args)
}

// New creates a tool from a typed handler. The parameter schema is derived
// from In's struct tags; validation runs before every call.
//
// Panics if In cannot be mapped to a JSON schema — a programmer error caught
// at startup, since tools are constructed during registry assembly.
func New[In, Out any](name, description string, handler func(ctx context.Context, in In) (Out, error)) Tool {
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		panic(fmt.Sprintf("tools: deriving schema for %s: %v", name, err))
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("tools: resolving schema for %s: %v", name, err))
	}

	return &funcTool{
		name:        name,
		description: description,
		schema:      schema,
		resolved:    resolved,
		handler: func(ctx context.Context, args map[string]any) (out any, err error) {
			defer func() {
				if r := recover(); r != nil {
					out = nil
					err = &RuntimeError{Tool: name, Err: fmt.Errorf("panic: %v", r)}
				}
			}()

			raw, err := json.Marshal(args)
			if err != nil {
				return nil, &ArgumentError{Tool: name, Err: err}
			}
			var in In
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, &ArgumentError{Tool: name, Err: err}
			}

			result, err := handler(ctx, in)
			if err != nil {
				return nil, &RuntimeError{Tool: name, Err: err}
			}
			return result, nil
		},
	}
}
