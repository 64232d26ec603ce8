package capability

import (
	"fmt"
	"sort"
	"strings"
)

// Param describes one parameter of a desktop helper.
type Param struct {
	Name string
	Type string
	// Default is the literal default value, empty when the parameter is required.
	Default string
	// Variadic marks a *args parameter.
	Variadic bool
}

// ToolDefinition describes one callable desktop helper.
type ToolDefinition struct {
	Module  string
	Name    string
	Params  []Param
	Returns string
	Doc     string
}

// QualifiedName returns "module.name".
func (d ToolDefinition) QualifiedName() string {
	return d.Module + "." + d.Name
}

// Signature renders the parameter list, e.g. "x: int, y: int, button: str = 'left'".
func (d ToolDefinition) Signature() string {
	parts := make([]string, 0, len(d.Params))
	for _, p := range d.Params {
		var b strings.Builder
		if p.Variadic {
			b.WriteString("*")
		}
		b.WriteString(p.Name)
		if p.Type != "" {
			b.WriteString(": ")
			b.WriteString(p.Type)
		}
		if p.Default != "" {
			b.WriteString(" = ")
			b.WriteString(p.Default)
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, ", ")
}

// Registry holds tool definitions keyed by qualified name.
// It is filled once at startup and read-only afterwards.
type Registry struct {
	defs map[string]ToolDefinition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]ToolDefinition)}
}

// NewBuiltinRegistry returns a registry holding every built-in desktop helper.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	for _, d := range Builtin() {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a definition. Names must be non-empty and unique.
func (r *Registry) Register(d ToolDefinition) error {
	if d.Module == "" || d.Name == "" {
		return fmt.Errorf("tool definition needs module and name: %q.%q", d.Module, d.Name)
	}
	q := d.QualifiedName()
	if _, dup := r.defs[q]; dup {
		return fmt.Errorf("duplicate tool definition: %s", q)
	}
	r.defs[q] = d
	return nil
}

// Get returns the definition for a qualified name.
func (r *Registry) Get(qualified string) (ToolDefinition, bool) {
	d, ok := r.defs[qualified]
	return d, ok
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.defs)
}

// Available returns all definitions sorted by qualified name.
func (r *Registry) Available() []ToolDefinition {
	if r == nil {
		return nil
	}
	out := make([]ToolDefinition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QualifiedName() < out[j].QualifiedName()
	})
	return out
}
