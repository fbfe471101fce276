// Package tool holds the runtime tool model: declared schemas, the registry
// the engine looks tools up in, and the normalized output shape every
// invocation produces. Tool parameters and outputs are generic value trees
// (maps, slices, scalars) because the set of tools and their shapes is only
// known at runtime.
package tool

import (
	"context"

	"github.com/mcpgate/mcpgate/internal/provider"
)

type Param struct {
	Name        string   `yaml:"name" json:"name"`
	Type        string   `yaml:"type" json:"type"` // string|integer|number|boolean|array|object|any
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool     `yaml:"required,omitempty" json:"required,omitempty"`
	Default     any      `yaml:"default,omitempty" json:"default,omitempty"`
	Aliases     []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
}

// Schema describes one tool: its declared parameters in order and the shape
// of its output tree. Immutable once registered.
type Schema struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Category    string         `yaml:"category,omitempty" json:"category,omitempty"`
	Params      []Param        `yaml:"params,omitempty" json:"params,omitempty"`
	OutputShape map[string]any `yaml:"output_shape,omitempty" json:"output_shape,omitempty"`
}

// Param returns the declared parameter with the given name.
func (s *Schema) Param(name string) (*Param, bool) {
	for i := range s.Params {
		if s.Params[i].Name == name {
			return &s.Params[i], true
		}
	}
	return nil, false
}

// Def converts the schema to the JSON-schema form chat-completion APIs expect.
func (s *Schema) Def() provider.ToolDef {
	properties := make(map[string]any, len(s.Params))
	var required []string
	for _, p := range s.Params {
		prop := map[string]any{"type": jsonType(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return provider.ToolDef{
		Name:        s.Name,
		Description: s.Description,
		Parameters: map[string]any{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	}
}

func jsonType(t string) string {
	switch t {
	case "", "any":
		return "string"
	default:
		return t
	}
}

// OutputKeys returns the top-level keys of the declared output shape.
func (s *Schema) OutputKeys() []string {
	keys := make([]string, 0, len(s.OutputShape))
	for k := range s.OutputShape {
		keys = append(keys, k)
	}
	return keys
}

// Tool is an opaque callable registered alongside its schema.
type Tool interface {
	Invoke(ctx context.Context, params map[string]any) (*NodeOutput, error)
}

// Func adapts a plain function to the Tool interface.
type Func func(ctx context.Context, params map[string]any) (*NodeOutput, error)

func (f Func) Invoke(ctx context.Context, params map[string]any) (*NodeOutput, error) {
	return f(ctx, params)
}
