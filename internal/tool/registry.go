package tool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mcpgate/mcpgate/internal/provider"
)

// Registry maps tool names to their schema and callable. Reads are
// concurrent-safe; registration normally happens only at startup.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
	tools   map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]*Schema),
		tools:   make(map[string]Tool),
	}
}

func (r *Registry) Register(schema *Schema, t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if schema == nil || schema.Name == "" {
		return fmt.Errorf("tool schema must have a name")
	}
	if _, exists := r.schemas[schema.Name]; exists {
		return fmt.Errorf("tool %q already registered", schema.Name)
	}
	r.schemas[schema.Name] = schema
	r.tools[schema.Name] = t
	return nil
}

func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.schemas, name)
	delete(r.tools, name)
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Schema(name string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// List returns all schemas sorted by name.
func (r *Registry) List() []*Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]*Schema, 0, len(r.schemas))
	for _, s := range r.schemas {
		schemas = append(schemas, s)
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// Defs returns every schema in chat-completion tool format, sorted by name.
func (r *Registry) Defs() []provider.ToolDef {
	list := r.List()
	defs := make([]provider.ToolDef, len(list))
	for i, s := range list {
		defs[i] = s.Def()
	}
	return defs
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schemas)
}
