package sil

// Runtime values for the evaluator. Everything that can sit on the
// evaluation stack implements the Value interface.

import (
	"fmt"
	"strings"
)

// Value is the interface all evaluation-stack values implement.
type Value interface {
	// String returns a human-readable representation
	String() string
	// Kind returns the value kind for error messages
	Kind() string
	// Equal checks equality with another value
	Equal(other Value) bool
}

// Int32 is a 32-bit integer stack value. Unsigned operations reinterpret
// the bits, they do not change the representation.
type Int32 int32

func (n Int32) String() string { return fmt.Sprintf("%d", int32(n)) }
func (n Int32) Kind() string   { return "int32" }

func (n Int32) Equal(other Value) bool {
	if o, ok := other.(Int32); ok {
		return n == o
	}
	return false
}

// Int64 is a 64-bit integer stack value.
type Int64 int64

func (n Int64) String() string { return fmt.Sprintf("%d", int64(n)) }
func (n Int64) Kind() string   { return "int64" }

func (n Int64) Equal(other Value) bool {
	if o, ok := other.(Int64); ok {
		return n == o
	}
	return false
}

// Float is a floating-point stack value (both r4 and r8 widen to this).
type Float float64

func (f Float) String() string { return fmt.Sprintf("%g", float64(f)) }
func (f Float) Kind() string   { return "float" }

func (f Float) Equal(other Value) bool {
	if o, ok := other.(Float); ok {
		return f == o
	}
	return false
}

// Str is a string stack value.
type Str string

func (s Str) String() string { return fmt.Sprintf("%q", string(s)) }
func (s Str) Kind() string   { return "string" }

func (s Str) Equal(other Value) bool {
	if o, ok := other.(Str); ok {
		return s == o
	}
	return false
}

// Null is the null reference.
type Null struct{}

func (Null) String() string { return "null" }
func (Null) Kind() string   { return "null" }

func (Null) Equal(other Value) bool {
	_, ok := other.(Null)
	return ok
}

// Ptr is an unmanaged pointer: a byte buffer plus an offset. Pointer
// arithmetic moves the offset; ldind/stind dereference at it.
type Ptr struct {
	Mem []byte
	Off int
}

func (p Ptr) String() string { return fmt.Sprintf("ptr+%d", p.Off) }
func (p Ptr) Kind() string   { return "pointer" }

func (p Ptr) Equal(other Value) bool {
	if o, ok := other.(Ptr); ok {
		if len(p.Mem) == 0 || len(o.Mem) == 0 {
			return len(p.Mem) == len(o.Mem) && p.Off == o.Off
		}
		return &p.Mem[0] == &o.Mem[0] && p.Off == o.Off
	}
	return false
}

// Obj is an object instance: its type plus named field slots.
type Obj struct {
	Type   *TypeDef
	Fields map[string]Value
}

func NewObj(t *TypeDef) *Obj {
	return &Obj{Type: t, Fields: make(map[string]Value)}
}

func (o *Obj) String() string {
	var parts []string
	for name, v := range o.Fields {
		parts = append(parts, name+"="+v.String())
	}
	return "<" + o.Type.FullName() + " " + strings.Join(parts, " ") + ">"
}

func (o *Obj) Kind() string { return "object" }

func (o *Obj) Equal(other Value) bool {
	oo, ok := other.(*Obj)
	return ok && o == oo
}

// Fn is a method pointer (ldftn result, calli target).
type Fn struct {
	Method *MethodDef
}

func (f Fn) String() string { return "<fn:" + f.Method.FullName() + ">" }
func (f Fn) Kind() string   { return "fn" }

func (f Fn) Equal(other Value) bool {
	if o, ok := other.(Fn); ok {
		return f.Method == o.Method
	}
	return false
}

// Arr is a one-dimensional array instance.
type Arr struct {
	Elem TypeRef
	Vals []Value
}

func (a *Arr) String() string { return fmt.Sprintf("%s[%d]", a.Elem.FullName(), len(a.Vals)) }
func (a *Arr) Kind() string   { return "array" }

func (a *Arr) Equal(other Value) bool {
	oo, ok := other.(*Arr)
	return ok && a == oo
}
