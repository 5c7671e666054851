package sil

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Encode flattens a method body to bytes. The layout is positional:
// a little-endian uint16 opcode followed by an operand whose width is
// fixed by the opcode's OperandKind. Member and type operands are encoded
// as their 64-bit identity tokens; branch targets as instruction indices.
func Encode(body *MethodBody) []byte {
	var out []byte
	u16 := func(v uint16) { out = binary.LittleEndian.AppendUint16(out, v) }
	u32 := func(v uint32) { out = binary.LittleEndian.AppendUint32(out, v) }
	u64 := func(v uint64) { out = binary.LittleEndian.AppendUint64(out, v) }

	for _, ins := range body.Instructions {
		u16(uint16(ins.OpCode.Code))
		switch ins.OpCode.Operand {
		case OperandNone:
		case OperandTarget:
			u32(uint32(ins.Operand.(int)))
		case OperandTargets:
			targets := ins.Operand.([]int)
			u16(uint16(len(targets)))
			for _, t := range targets {
				u32(uint32(t))
			}
		case OperandInt8:
			out = append(out, byte(ins.Operand.(int8)))
		case OperandInt32:
			u32(uint32(ins.Operand.(int32)))
		case OperandInt64:
			u64(uint64(ins.Operand.(int64)))
		case OperandFloat32:
			u32(math.Float32bits(ins.Operand.(float32)))
		case OperandFloat64:
			u64(math.Float64bits(ins.Operand.(float64)))
		case OperandString:
			s := ins.Operand.(string)
			u16(uint16(len(s)))
			out = append(out, s...)
		case OperandVariable:
			u16(uint16(ins.Operand.(*VariableDef).Index))
		case OperandParameter:
			u16(uint16(ins.Operand.(*ParameterDef).Index))
		case OperandField:
			u64(ins.Operand.(*FieldDef).Token())
		case OperandMethod:
			m := ins.Operand.(*MethodDef)
			u64(nameToken(m.FullName()))
		case OperandType:
			u64(ins.Operand.(TypeRef).Token())
		case OperandCallSite:
			u64(nameToken(ins.Operand.(*CallSite).String()))
		}
	}
	return out
}

// Disassemble renders a body as one instruction per line, index-prefixed.
func Disassemble(body *MethodBody) string {
	var sb strings.Builder
	for _, v := range body.Variables {
		sb.WriteString(fmt.Sprintf("      .local %s %s\n", v.Name, v.Type.FullName()))
	}
	for i, ins := range body.Instructions {
		sb.WriteString(fmt.Sprintf("%04d: %s\n", i, ins))
	}
	return sb.String()
}
