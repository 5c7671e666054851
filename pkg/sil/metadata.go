package sil

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// TypeRef is a resolved reference to a type. Identity comparison (overload
// matching, exact-match rules) goes through Token, a 64-bit digest of the
// full name, so composed references (pointers, pinned wrappers) built at
// different times still compare equal.
type TypeRef interface {
	FullName() string
	Token() uint64
}

func nameToken(fullName string) uint64 {
	return xxhash.Sum64String(fullName)
}

// PrimitiveKind enumerates the built-in value types.
type PrimitiveKind uint8

const (
	KindVoid PrimitiveKind = iota
	KindBool
	KindChar
	KindI1
	KindU1
	KindI2
	KindU2
	KindI4
	KindU4
	KindI8
	KindU8
	KindR4
	KindR8
	KindString
	KindObject
	KindIntPtr
	KindUIntPtr
)

// PrimitiveType is one of the fixed built-in types.
type PrimitiveType struct {
	name string
	Kind PrimitiveKind
}

func (p *PrimitiveType) FullName() string { return p.name }
func (p *PrimitiveType) Token() uint64    { return nameToken(p.name) }

var primitives = map[string]*PrimitiveType{}

func registerPrimitive(name string, kind PrimitiveKind) *PrimitiveType {
	p := &PrimitiveType{name: name, Kind: kind}
	primitives[name] = p
	return p
}

// Canonical primitive instances. Lookup is case-insensitive via Primitive.
var (
	Void    = registerPrimitive("void", KindVoid)
	Bool    = registerPrimitive("bool", KindBool)
	Char    = registerPrimitive("char", KindChar)
	Int8    = registerPrimitive("int8", KindI1)
	UInt8   = registerPrimitive("uint8", KindU1)
	Int16   = registerPrimitive("int16", KindI2)
	UInt16  = registerPrimitive("uint16", KindU2)
	Int32T  = registerPrimitive("int32", KindI4)
	UInt32  = registerPrimitive("uint32", KindU4)
	Int64T  = registerPrimitive("int64", KindI8)
	UInt64  = registerPrimitive("uint64", KindU8)
	Float32 = registerPrimitive("float32", KindR4)
	Float64 = registerPrimitive("float64", KindR8)
	StringT = registerPrimitive("string", KindString)
	Object  = registerPrimitive("object", KindObject)
	IntPtr  = registerPrimitive("intptr", KindIntPtr)
	UIntPtr = registerPrimitive("uintptr", KindUIntPtr)
)

// Primitive looks up a built-in type by name, case-insensitively.
// Returns nil if the name is not a primitive.
func Primitive(name string) *PrimitiveType {
	return primitives[strings.ToLower(name)]
}

// PointerType is one level of pointer indirection over an element type.
type PointerType struct {
	Elem TypeRef
}

func (p *PointerType) FullName() string { return p.Elem.FullName() + "*" }
func (p *PointerType) Token() uint64    { return nameToken(p.FullName()) }

// PinnedType marks a type as pinned. Always the outermost wrapper.
type PinnedType struct {
	Elem TypeRef
}

func (p *PinnedType) FullName() string { return p.Elem.FullName() + " pinned" }
func (p *PinnedType) Token() uint64    { return nameToken(p.FullName()) }

// GenericParam is a reference to a generic parameter by name, scoped to
// the method or type that declares it.
type GenericParam struct {
	Name  string
	Owner string // full name of the declaring method or type
}

func (g *GenericParam) FullName() string { return g.Owner + "!!" + g.Name }
func (g *GenericParam) Token() uint64    { return nameToken(g.FullName()) }

// TypeDef is a type declared by a module.
type TypeDef struct {
	Name          string // qualified name, e.g. "Example.Hasher"
	Module        *ModuleDef
	Base          *TypeDef
	DeclaringType *TypeDef // non-nil for nested types
	GenericParams []string
	Fields        []*FieldDef
	Methods       []*MethodDef
	Attrs         []Attribute
}

func (t *TypeDef) FullName() string {
	if t.DeclaringType != nil {
		return t.DeclaringType.FullName() + "/" + t.Name
	}
	return t.Name
}

func (t *TypeDef) Token() uint64 { return nameToken(t.FullName()) }

// FieldNamed returns the field declared directly on t, or nil.
// Base-chain walking is the resolver's job.
func (t *TypeDef) FieldNamed(name string) *FieldDef {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// MethodsNamed returns the methods declared directly on t with that name.
func (t *TypeDef) MethodsNamed(name string) []*MethodDef {
	var out []*MethodDef
	for _, m := range t.Methods {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

// AddField declares a field on t.
func (t *TypeDef) AddField(name string, typ TypeRef, static bool) *FieldDef {
	f := &FieldDef{Name: name, Type: typ, Static: static, Declaring: t}
	t.Fields = append(t.Fields, f)
	return f
}

// AddMethod declares a method on t with an empty body. Parameter indices
// are assigned positionally; instance methods reserve slot 0 for the
// receiver.
func (t *TypeDef) AddMethod(name string, ret TypeRef, static bool) *MethodDef {
	m := &MethodDef{Name: name, Declaring: t, Return: ret, Static: static}
	m.Body = &MethodBody{Method: m}
	if !static {
		m.This = &ParameterDef{Name: "this", Type: t, Index: 0}
	}
	t.Methods = append(t.Methods, m)
	return m
}

// FieldDef is a field declared on a TypeDef.
type FieldDef struct {
	Name      string
	Type      TypeRef
	Static    bool
	Declaring *TypeDef
}

func (f *FieldDef) FullName() string { return f.Declaring.FullName() + "::" + f.Name }
func (f *FieldDef) Token() uint64    { return nameToken(f.FullName()) }

// ParameterDef is a declared method parameter. Index is the argument slot
// at call time, so explicit parameters of instance methods start at 1.
type ParameterDef struct {
	Name  string
	Type  TypeRef
	Index int
}

// VariableDef is a declared local. Index is positional in the body.
type VariableDef struct {
	Name  string
	Type  TypeRef
	Index int
}

// Attribute is a textual marker on a member: a name plus a single string
// argument.
type Attribute struct {
	Name string
	Arg  string
}

// MethodDef is a method declared on a TypeDef.
type MethodDef struct {
	Name          string
	Declaring     *TypeDef
	Static        bool
	Return        TypeRef
	This          *ParameterDef // nil for static methods
	Params        []*ParameterDef
	GenericParams []string
	Attrs         []Attribute
	Body          *MethodBody
}

func (m *MethodDef) FullName() string { return m.Declaring.FullName() + "::" + m.Name }

// AddParam appends an explicit parameter and assigns its argument slot.
func (m *MethodDef) AddParam(name string, t TypeRef) *ParameterDef {
	idx := len(m.Params)
	if !m.Static {
		idx++
	}
	p := &ParameterDef{Name: name, Type: t, Index: idx}
	m.Params = append(m.Params, p)
	return p
}

// ParamNamed finds an explicit parameter (or the receiver) by exact name.
func (m *MethodDef) ParamNamed(name string) *ParameterDef {
	if m.This != nil && name == "this" {
		return m.This
	}
	for _, p := range m.Params {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// ParamAt finds a parameter by argument slot, counting the receiver of an
// instance method as slot 0.
func (m *MethodDef) ParamAt(slot int) *ParameterDef {
	if m.This != nil {
		if slot == 0 {
			return m.This
		}
		slot--
	}
	if slot < 0 || slot >= len(m.Params) {
		return nil
	}
	return m.Params[slot]
}

// ArgCount is the number of call-time argument slots.
func (m *MethodDef) ArgCount() int {
	n := len(m.Params)
	if m.This != nil {
		n++
	}
	return n
}

// Attr finds a marker attribute by name, or nil.
func (m *MethodDef) Attr(name string) *Attribute {
	for i := range m.Attrs {
		if m.Attrs[i].Name == name {
			return &m.Attrs[i]
		}
	}
	return nil
}
