package asm

import (
	"fmt"
	"strconv"

	"github.com/silasm/sil/pkg/sil"
)

// scope is what symbol resolution runs against: the ordered module search
// list plus, when resolving inside a method body, the method itself
// (needed for operand macros and generic parameters).
type scope struct {
	modules []*sil.ModuleDef
	method  *sil.MethodDef // nil outside a method body
}

func (s scope) owner() string {
	if s.method != nil {
		return s.method.FullName()
	}
	return "<signature>"
}

func (ctx *Context) scope() scope {
	return scope{modules: ctx.modules, method: ctx.method}
}

// ResolveType resolves a type reference against the context's imported
// modules: primitives, generic parameters, operand macros, then a
// first-match search of the module list, with `*` and `pinned` suffixes
// re-applied to the result.
func (ctx *Context) ResolveType(text string) (sil.TypeRef, error) {
	t, err := typeParser.ParseString("", text)
	if err != nil {
		return nil, &SyntaxError{Method: ctx.method.FullName(), Stmt: text, Msg: "malformed type reference"}
	}
	return resolveTypeExpr(ctx.scope(), t)
}

func resolveTypeExpr(s scope, t *typeExpr) (sil.TypeRef, error) {
	base, err := resolveBaseType(s, t)
	if err != nil {
		return nil, err
	}
	for range t.Stars {
		base = &sil.PointerType{Elem: base}
	}
	if t.Pinned {
		base = &sil.PinnedType{Elem: base}
	}
	return base, nil
}

func resolveBaseType(s scope, t *typeExpr) (sil.TypeRef, error) {
	switch {
	case t.Name != nil:
		name := *t.Name
		if p := sil.Primitive(name); p != nil {
			return p, nil
		}
		for _, m := range s.modules {
			if td := m.TypeNamed(name); td != nil {
				return td, nil
			}
		}
		return nil, &UnresolvedSymbolError{Method: s.owner(), Kind: "type", Name: name}

	case t.Generic != nil:
		return resolveGenericParam(s, *t.Generic)

	case t.Macro != nil:
		return resolveMacro(s, t.Macro)
	}
	return nil, &SyntaxError{Method: s.owner(), Stmt: "", Msg: "empty type reference"}
}

// resolveGenericParam searches the method's own generic parameters, then
// walks up through enclosing declaring types.
func resolveGenericParam(s scope, name string) (sil.TypeRef, error) {
	if s.method == nil {
		return nil, &UnresolvedSymbolError{Method: s.owner(), Kind: "generic parameter", Name: name}
	}
	for _, g := range s.method.GenericParams {
		if g == name {
			return &sil.GenericParam{Name: name, Owner: s.method.FullName()}, nil
		}
	}
	for td := s.method.Declaring; td != nil; td = td.DeclaringType {
		for _, g := range td.GenericParams {
			if g == name {
				return &sil.GenericParam{Name: name, Owner: td.FullName()}, nil
			}
		}
	}
	return nil, &UnresolvedSymbolError{Method: s.owner(), Kind: "generic parameter", Name: name}
}

func resolveMacro(s scope, m *macroExpr) (sil.TypeRef, error) {
	if s.method == nil {
		return nil, &SyntaxError{Method: s.owner(), Stmt: "", Msg: "operand macros need a method context"}
	}
	switch {
	case m.Declaring:
		return s.method.Declaring, nil
	case m.Param != nil:
		p := s.method.ParamNamed(*m.Param)
		if p == nil {
			return nil, &UnresolvedSymbolError{Method: s.owner(), Kind: "parameter", Name: *m.Param}
		}
		return p.Type, nil
	case m.Var != nil:
		v, err := resolveLocalIn(s.method, *m.Var)
		if err != nil {
			return nil, err
		}
		return v.Type, nil
	}
	return nil, &SyntaxError{Method: s.owner(), Stmt: "", Msg: "empty operand macro"}
}

// ResolveField resolves `Type::Name`, walking the base-type chain when the
// field is not declared directly on the resolved type.
func (ctx *Context) ResolveField(text string) (*sil.FieldDef, error) {
	m, err := memberParser.ParseString("", text)
	if err != nil {
		return nil, &SyntaxError{Method: ctx.method.FullName(), Stmt: text, Msg: "malformed field reference"}
	}
	if m.Args != nil {
		return nil, &SyntaxError{Method: ctx.method.FullName(), Stmt: text, Msg: "field reference cannot take a parameter list"}
	}
	td, err := ctx.resolveTypeDef(m.Type, text)
	if err != nil {
		return nil, err
	}
	for t := td; t != nil; t = t.Base {
		if f := t.FieldNamed(m.Name); f != nil {
			return f, nil
		}
	}
	return nil, &UnresolvedSymbolError{Method: ctx.method.FullName(), Kind: "field", Name: text}
}

// ResolveMethod resolves `Type::Name(ArgTypes)`. The parameter-type list
// is resolved recursively and matched by exact count and exact
// resolved-type identity; the base-type chain is walked; first exact
// match wins.
func (ctx *Context) ResolveMethod(text string) (*sil.MethodDef, error) {
	m, err := memberParser.ParseString("", text)
	if err != nil {
		return nil, &SyntaxError{Method: ctx.method.FullName(), Stmt: text, Msg: "malformed method reference"}
	}
	if m.Args == nil {
		return nil, &SyntaxError{Method: ctx.method.FullName(), Stmt: text, Msg: "method reference wants a parameter list"}
	}
	td, err := ctx.resolveTypeDef(m.Type, text)
	if err != nil {
		return nil, err
	}
	want := make([]uint64, len(m.Args.List))
	for i, at := range m.Args.List {
		r, err := resolveTypeExpr(ctx.scope(), at)
		if err != nil {
			return nil, err
		}
		want[i] = r.Token()
	}
	for t := td; t != nil; t = t.Base {
		for _, cand := range t.MethodsNamed(m.Name) {
			if methodMatches(cand, want) {
				return cand, nil
			}
		}
	}
	return nil, &UnresolvedSymbolError{Method: ctx.method.FullName(), Kind: "method", Name: text}
}

func methodMatches(m *sil.MethodDef, want []uint64) bool {
	if len(m.Params) != len(want) {
		return false
	}
	for i, p := range m.Params {
		if p.Type.Token() != want[i] {
			return false
		}
	}
	return true
}

// resolveTypeDef resolves a member's declaring type, which must be a
// defined type, not a primitive or a composed reference.
func (ctx *Context) resolveTypeDef(t *typeExpr, text string) (*sil.TypeDef, error) {
	r, err := resolveTypeExpr(ctx.scope(), t)
	if err != nil {
		return nil, err
	}
	td, ok := r.(*sil.TypeDef)
	if !ok {
		return nil, &UnresolvedSymbolError{Method: ctx.method.FullName(), Kind: "declaring type", Name: text}
	}
	return td, nil
}

// ResolveCallSite parses a calli operand into a call-site signature.
func (ctx *Context) ResolveCallSite(text string) (*sil.CallSite, error) {
	c, err := callSiteParser.ParseString("", text)
	if err != nil {
		return nil, &SyntaxError{Method: ctx.method.FullName(), Stmt: text, Msg: "malformed call-site signature"}
	}
	ret, err := resolveTypeExpr(ctx.scope(), c.Ret)
	if err != nil {
		return nil, err
	}
	site := &sil.CallSite{Convention: c.Conv, Return: ret}
	for _, at := range c.Args {
		r, err := resolveTypeExpr(ctx.scope(), at)
		if err != nil {
			return nil, err
		}
		site.Params = append(site.Params, r)
	}
	return site, nil
}

// ResolveTypeName resolves a bare type reference against a module search
// list, outside any method context (no macros, no generic parameters).
func ResolveTypeName(text string, modules []*sil.ModuleDef) (sil.TypeRef, error) {
	t, err := typeParser.ParseString("", text)
	if err != nil {
		return nil, fmt.Errorf("malformed type reference %q: %w", text, err)
	}
	return resolveTypeExpr(scope{modules: modules}, t)
}

// resolveLocal finds a declared local by zero-based index or exact name.
// The index form takes precedence when the text parses as an integer.
func (ctx *Context) resolveLocal(text string) (*sil.VariableDef, error) {
	return resolveLocalIn(ctx.method, text)
}

func resolveLocalIn(m *sil.MethodDef, text string) (*sil.VariableDef, error) {
	vars := m.Body.Variables
	if n, err := strconv.Atoi(text); err == nil && n >= 0 {
		if n >= len(vars) {
			return nil, &UnresolvedSymbolError{Method: m.FullName(), Kind: "local", Name: text}
		}
		return vars[n], nil
	}
	for _, v := range vars {
		if v.Name == text {
			return v, nil
		}
	}
	return nil, &UnresolvedSymbolError{Method: m.FullName(), Kind: "local", Name: text}
}

// resolveParam finds a parameter by exact name ("this" names the receiver
// of an instance method).
func (ctx *Context) resolveParam(text string) (*sil.ParameterDef, error) {
	if p := ctx.method.ParamNamed(text); p != nil {
		return p, nil
	}
	return nil, &UnresolvedSymbolError{Method: ctx.method.FullName(), Kind: "parameter", Name: text}
}

// Signature is a parsed and resolved method signature header.
type Signature struct {
	Static bool
	Name   string
	Return sil.TypeRef
	Params []SigParam
}

// SigParam is one named parameter of a Signature.
type SigParam struct {
	Name string
	Type sil.TypeRef
}

// ParseSignature parses `[static] rettype Name(type name, ...)` and
// resolves its types against the given module search list. Used by module
// source loaders; operand macros and generic parameters are not available
// here.
func ParseSignature(text string, modules []*sil.ModuleDef) (*Signature, error) {
	sg, err := sigParser.ParseString("", text)
	if err != nil {
		return nil, fmt.Errorf("malformed signature %q: %w", text, err)
	}
	s := scope{modules: modules}
	ret, err := resolveTypeExpr(s, sg.Ret)
	if err != nil {
		return nil, err
	}
	out := &Signature{Static: sg.Static, Name: sg.Name, Return: ret}
	seen := map[string]bool{}
	for _, p := range sg.Params {
		if seen[p.Name] {
			return nil, fmt.Errorf("signature %q: parameter %q is repeated", text, p.Name)
		}
		seen[p.Name] = true
		t, err := resolveTypeExpr(s, p.Type)
		if err != nil {
			return nil, err
		}
		out.Params = append(out.Params, SigParam{Name: p.Name, Type: t})
	}
	return out, nil
}
