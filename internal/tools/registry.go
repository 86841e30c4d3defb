package tools

import (
	"context"

	"github.com/nextlevelbuilder/goclaw/internal/providers"
)

// Tool is the shape every built-in tool implements: enough for a policy
// engine to build a provider schema and the runner to invoke it.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// ToProviderDef converts a Tool into the schema shape an LLM provider call
// expects. Mirrors dispatch.ToProviderDef — kept package-local so tools
// never has to import dispatch (dispatch already imports tools).
func ToProviderDef(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// Registry holds named tools for policy filtering within this package.
// The dispatcher (internal/dispatch) keeps its own registry of the exact
// same shape; this one exists solely so PolicyEngine.FilterTools can be
// called against a plain list of tool names without a dispatch import.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) List() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}
