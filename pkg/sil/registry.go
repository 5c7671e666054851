package sil

import "fmt"

// Registry is the set of loaded modules. Module resolution by assembly
// name (the #asmref directive, cross-module member references) searches
// here.
type Registry struct {
	modules map[string]*ModuleDef
	order   []*ModuleDef
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]*ModuleDef)}
}

// NewModule creates a module and registers it.
func (r *Registry) NewModule(name string) *ModuleDef {
	m := &ModuleDef{Name: name, registry: r, typesByName: make(map[string]*TypeDef)}
	r.modules[name] = m
	r.order = append(r.order, m)
	return m
}

// Resolve finds a loaded module by name.
func (r *Registry) Resolve(name string) (*ModuleDef, error) {
	m, ok := r.modules[name]
	if !ok {
		return nil, fmt.Errorf("module %q is not loaded", name)
	}
	return m, nil
}

// Modules returns the loaded modules in registration order.
func (r *Registry) Modules() []*ModuleDef {
	return r.order
}

// ModuleDef is one unit of compiled code: a named set of types, plus the
// durable references it holds to other modules.
type ModuleDef struct {
	Name         string
	Types        []*TypeDef
	AssemblyRefs []string

	registry    *Registry
	typesByName map[string]*TypeDef
}

// AddType declares a top-level type in the module.
func (m *ModuleDef) AddType(name string) *TypeDef {
	t := &TypeDef{Name: name, Module: m}
	m.Types = append(m.Types, t)
	m.typesByName[name] = t
	return t
}

// AddNestedType declares a type nested in outer.
func (m *ModuleDef) AddNestedType(outer *TypeDef, name string) *TypeDef {
	t := &TypeDef{Name: name, Module: m, DeclaringType: outer}
	m.Types = append(m.Types, t)
	m.typesByName[t.FullName()] = t
	return t
}

// TypeNamed finds a type by qualified name, or nil.
func (m *ModuleDef) TypeNamed(name string) *TypeDef {
	return m.typesByName[name]
}

// ResolveModule resolves another module through the owning registry.
func (m *ModuleDef) ResolveModule(name string) (*ModuleDef, error) {
	if m.registry == nil {
		return nil, fmt.Errorf("module %q has no registry", m.Name)
	}
	return m.registry.Resolve(name)
}

// RecordAssemblyRef records a durable dependency on another module so the
// reference survives past one method's compilation.
func (m *ModuleDef) RecordAssemblyRef(name string) {
	for _, r := range m.AssemblyRefs {
		if r == name {
			return
		}
	}
	m.AssemblyRefs = append(m.AssemblyRefs, name)
}
