package sil

import (
	"fmt"
	"strings"
)

// Instruction is one emitted operation. The operand's concrete type is
// dictated by the opcode's OperandKind:
//
//	OperandTarget    int (instruction index)
//	OperandTargets   []int
//	OperandInt32     int32
//	OperandInt8      int8
//	OperandInt64     int64
//	OperandFloat32   float32
//	OperandFloat64   float64
//	OperandString    string
//	OperandVariable  *VariableDef
//	OperandParameter *ParameterDef
//	OperandField     *FieldDef
//	OperandMethod    *MethodDef
//	OperandType      TypeRef
//	OperandCallSite  *CallSite
type Instruction struct {
	OpCode  *OpCode
	Operand any
}

// CallSite describes an indirect call signature (calli operand).
type CallSite struct {
	Convention string // "" means default
	Return     TypeRef
	Params     []TypeRef
}

func (c *CallSite) String() string {
	parts := make([]string, len(c.Params))
	for i, p := range c.Params {
		parts[i] = p.FullName()
	}
	s := c.Return.FullName() + "(" + strings.Join(parts, ",") + ")"
	if c.Convention != "" {
		s = c.Convention + " " + s
	}
	return s
}

func (ins *Instruction) String() string {
	if ins.Operand == nil {
		return ins.OpCode.Name
	}
	switch v := ins.Operand.(type) {
	case int:
		return fmt.Sprintf("%s -> %d", ins.OpCode.Name, v)
	case []int:
		parts := make([]string, len(v))
		for i, t := range v {
			parts[i] = fmt.Sprintf("%d", t)
		}
		return fmt.Sprintf("%s -> (%s)", ins.OpCode.Name, strings.Join(parts, ","))
	case string:
		return fmt.Sprintf("%s %q", ins.OpCode.Name, v)
	case *VariableDef:
		return fmt.Sprintf("%s %s", ins.OpCode.Name, v.Name)
	case *ParameterDef:
		return fmt.Sprintf("%s %s", ins.OpCode.Name, v.Name)
	case *FieldDef:
		return fmt.Sprintf("%s %s", ins.OpCode.Name, v.FullName())
	case *MethodDef:
		return fmt.Sprintf("%s %s", ins.OpCode.Name, v.FullName())
	case TypeRef:
		return fmt.Sprintf("%s %s", ins.OpCode.Name, v.FullName())
	case *CallSite:
		return fmt.Sprintf("%s %s", ins.OpCode.Name, v)
	default:
		return fmt.Sprintf("%s %v", ins.OpCode.Name, v)
	}
}

// MethodBody is the exclusively-owned instruction stream of one method,
// plus its declared locals. Branch operands are instruction indices, so
// in-place replacement never invalidates targets.
type MethodBody struct {
	Method       *MethodDef
	Instructions []*Instruction
	Variables    []*VariableDef
}

// Clear removes all instructions and locals.
func (b *MethodBody) Clear() {
	b.Instructions = b.Instructions[:0]
	b.Variables = b.Variables[:0]
}

// Append adds an instruction at the end of the stream.
func (b *MethodBody) Append(ins *Instruction) {
	b.Instructions = append(b.Instructions, ins)
}

// Replace swaps the instruction at index i. Used by branch patching.
func (b *MethodBody) Replace(i int, ins *Instruction) {
	b.Instructions[i] = ins
}

// AddVariable appends a local and assigns its positional index.
func (b *MethodBody) AddVariable(name string, t TypeRef) *VariableDef {
	v := &VariableDef{Name: name, Type: t, Index: len(b.Variables)}
	b.Variables = append(b.Variables, v)
	return v
}
