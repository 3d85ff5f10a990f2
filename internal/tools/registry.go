// Package tools holds the tool registry, the executor that runs validated
// calls, the built-in data-root tools and remote tool sources.
package tools

import (
	"context"
	"fmt"

	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

// CompletionTool is the reserved tool name carrying the final answer. It is
// handled by the case runner and never dispatched.
const CompletionTool = "attempt_completion"

// CompletionSchema describes the final answer to the model.
var CompletionSchema = models.ToolSchema{
	Name:        CompletionTool,
	Description: "Submit the final root cause. result is a JSON object with component, reason, time and reasoning_trace.",
	Params: []models.ParamSpec{
		{Name: "result", Kind: models.KindString, Required: true, Description: `{"component": "...", "reason": "...", "time": "YYYY-MM-DD HH:MM:SS", "reasoning_trace": [{"step": 1, "action": "...", "observation": "..."}]}`},
	},
}

// Tool is a capability the model may invoke. Call receives arguments that
// already passed validation against Schema.
type Tool interface {
	Schema() models.ToolSchema
	Call(ctx context.Context, args map[string]any) (string, error)
}

// Registry is an immutable name → tool mapping built once at startup.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry registers tools in order. Duplicate names and the reserved
// completion name are rejected.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		name := t.Schema().Name
		switch {
		case name == "":
			return nil, fmt.Errorf("tool registry: tool with empty name")
		case name == CompletionTool:
			return nil, fmt.Errorf("tool registry: %q is reserved", name)
		}
		if _, dup := r.tools[name]; dup {
			return nil, fmt.Errorf("tool registry: duplicate tool %q", name)
		}
		r.tools[name] = t
		r.order = append(r.order, name)
	}
	return r, nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Schema returns the schema of a registered tool. The completion tool
// resolves to CompletionSchema.
func (r *Registry) Schema(name string) (models.ToolSchema, bool) {
	if name == CompletionTool {
		return CompletionSchema, true
	}
	t, ok := r.tools[name]
	if !ok {
		return models.ToolSchema{}, false
	}
	return t.Schema(), true
}

// Schemas lists the registered schemas in registration order, followed by
// the completion tool.
func (r *Registry) Schemas() []models.ToolSchema {
	out := make([]models.ToolSchema, 0, len(r.order)+1)
	for _, name := range r.order {
		out = append(out, r.tools[name].Schema())
	}
	return append(out, CompletionSchema)
}

// Names lists the callable tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Known reports whether name is a registered tool or the completion tool.
func (r *Registry) Known(name string) bool {
	if name == CompletionTool {
		return true
	}
	_, ok := r.tools[name]
	return ok
}

// Func adapts a function into a Tool.
type Func struct {
	Def models.ToolSchema
	Fn  func(ctx context.Context, args map[string]any) (string, error)
}

func (f Func) Schema() models.ToolSchema { return f.Def }

func (f Func) Call(ctx context.Context, args map[string]any) (string, error) {
	return f.Fn(ctx, args)
}
