// Package tool declares the closed set of read capabilities the
// decision engine may invoke mid-decision. Tools are registered and
// validated at startup; dispatch happens over this static registry,
// never by ad-hoc string lookup at call time.
package tool

import (
	"context"
	"fmt"

	"github.com/shelfwatch/shelfwatch/internal/backend/openai"
)

// Tool is a single declared capability. Invocations must be pure reads:
// safe to call zero or more times without changing system state.
type Tool interface {
	// Name is the stable identifier declared to the reasoning backend.
	Name() string

	// Definition is the declaration sent with the backend request.
	Definition() openai.Tool

	// Invoke executes the tool with the model-supplied JSON arguments
	// and returns a result payload to feed back into the conversation.
	Invoke(ctx context.Context, arguments string) (string, error)
}

// Registry is the validated, immutable set of declared tools.
type Registry struct {
	tools map[string]Tool
	defs  []openai.Tool
}

// NewRegistry builds a registry from the given tools, rejecting
// duplicates and empty names at construction time.
func NewRegistry(tools ...Tool) (*Registry, error) {
	if len(tools) == 0 {
		return nil, fmt.Errorf("tool registry requires at least one tool")
	}

	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		name := t.Name()
		if name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if _, exists := r.tools[name]; exists {
			return nil, fmt.Errorf("duplicate tool %q", name)
		}
		def := t.Definition()
		if def.Function.Name != name {
			return nil, fmt.Errorf("tool %q declares mismatched function name %q", name, def.Function.Name)
		}
		r.tools[name] = t
		r.defs = append(r.defs, def)
	}
	return r, nil
}

// Get returns the tool with the given name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the declarations for all registered tools, in
// registration order.
func (r *Registry) Definitions() []openai.Tool {
	return r.defs
}
