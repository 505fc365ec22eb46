// Package prompts holds the prompt template table used by the model gateway.
package prompts

import (
	"fmt"
	"sort"
)

// Role selects which half of a capability's prompt pair to render.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Key identifies a template by capability (or step name) and role.
type Key struct {
	Capability string
	Role       Role
}

func (k Key) String() string { return k.Capability + ":" + string(k.Role) }

// RenderFunc builds prompt text from two call-specific arguments.
type RenderFunc func(a, b string) string

// Template is either a static string or a rendering function. The zero value
// renders as the empty string.
type Template struct {
	static string
	render RenderFunc
}

// Static returns a template that always renders text verbatim.
func Static(text string) Template { return Template{static: text} }

// Rendered returns a template that calls fn with the call arguments.
func Rendered(fn RenderFunc) Template { return Template{render: fn} }

// IsStatic reports whether the template ignores its arguments.
func (t Template) IsStatic() bool { return t.render == nil }

// Render produces the prompt text.
func (t Template) Render(a, b string) string {
	if t.render != nil {
		return t.render(a, b)
	}
	return t.static
}

// MissingTemplateError is returned when no template is registered for a key.
type MissingTemplateError struct {
	Key Key
}

func (e *MissingTemplateError) Error() string {
	return fmt.Sprintf("no prompt template registered for %s", e.Key)
}

// Registry is an immutable template table. It is safe for concurrent use.
type Registry struct {
	templates map[Key]Template
}

// NewRegistry copies templates into a new registry.
func NewRegistry(templates map[Key]Template) *Registry {
	r := &Registry{templates: make(map[Key]Template, len(templates))}
	for k, t := range templates {
		r.templates[k] = t
	}
	return r
}

// Lookup returns the template for capability and role.
func (r *Registry) Lookup(capability string, role Role) (Template, error) {
	k := Key{Capability: capability, Role: role}
	if r == nil {
		return Template{}, &MissingTemplateError{Key: k}
	}
	t, ok := r.templates[k]
	if !ok {
		return Template{}, &MissingTemplateError{Key: k}
	}
	return t, nil
}

// Render looks up and renders a template in one call.
func (r *Registry) Render(capability string, role Role, a, b string) (string, error) {
	t, err := r.Lookup(capability, role)
	if err != nil {
		return "", err
	}
	return t.Render(a, b), nil
}

// Has reports whether both the system and user templates exist for capability.
func (r *Registry) Has(capability string) bool {
	if r == nil {
		return false
	}
	_, sys := r.templates[Key{capability, RoleSystem}]
	_, usr := r.templates[Key{capability, RoleUser}]
	return sys && usr
}

// Keys lists registered keys in a stable order.
func (r *Registry) Keys() []Key {
	if r == nil {
		return nil
	}
	out := make([]Key, 0, len(r.templates))
	for k := range r.templates {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
