// Package sil implements an in-memory model of a stack-based intermediate
// language: opcodes, instructions, method bodies, and the metadata
// (modules, types, members) that instruction operands reference.
package sil

// Code identifies an opcode.
type Code uint16

// OperandKind describes what an opcode's operand slot carries.
type OperandKind uint8

const (
	OperandNone      OperandKind = iota // no operand
	OperandTarget                       // single branch target (instruction index)
	OperandTargets                      // ordered target list (switch)
	OperandInt32                        // 32-bit integer constant
	OperandInt8                         // 8-bit integer constant (short form)
	OperandInt64                        // 64-bit integer constant
	OperandFloat32                      // 32-bit float constant
	OperandFloat64                      // 64-bit float constant
	OperandString                       // string constant
	OperandVariable                     // local variable
	OperandParameter                    // method parameter
	OperandField                        // field reference
	OperandMethod                       // method reference
	OperandType                         // type reference
	OperandCallSite                     // indirect call signature
)

// FlowControl classifies an opcode's effect on control flow.
type FlowControl uint8

const (
	FlowNext       FlowControl = iota // falls through
	FlowBranch                        // unconditional transfer
	FlowCondBranch                    // conditional transfer
	FlowCall                          // call, falls through on return
	FlowReturn                        // leaves the method
	FlowThrow                         // raises an exception
)

// Opcode codes, grouped the way the mnemonic tables group them:
// plain stack operations first, then branches, then operand-carrying forms.
const (
	// Zero-operand.
	OpNop Code = iota
	OpBreak
	OpDup
	OpPop
	OpRet
	OpThrow
	OpRethrow
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpDivUn
	OpRem
	OpRemUn
	OpAnd
	OpOr
	OpXor
	OpNot
	OpNeg
	OpShl
	OpShr
	OpShrUn
	OpCeq
	OpCgt
	OpCgtUn
	OpClt
	OpCltUn
	OpLdnull
	OpLdlen
	OpLdcI4M1
	OpLdcI40
	OpLdcI41
	OpLdcI42
	OpLdcI43
	OpLdcI44
	OpLdcI45
	OpLdcI46
	OpLdcI47
	OpLdcI48
	OpLdarg0
	OpLdarg1
	OpLdarg2
	OpLdarg3
	OpLdloc0
	OpLdloc1
	OpLdloc2
	OpLdloc3
	OpStloc0
	OpStloc1
	OpStloc2
	OpStloc3
	OpLdindI1
	OpLdindU1
	OpLdindI2
	OpLdindU2
	OpLdindI4
	OpLdindU4
	OpLdindI8
	OpLdindI
	OpLdindR4
	OpLdindR8
	OpLdindRef
	OpStindI1
	OpStindI2
	OpStindI4
	OpStindI8
	OpStindI
	OpStindR4
	OpStindR8
	OpStindRef
	OpConvI1
	OpConvU1
	OpConvI2
	OpConvU2
	OpConvI4
	OpConvU4
	OpConvI8
	OpConvU8
	OpConvI
	OpConvU
	OpConvR4
	OpConvR8

	// Branches.
	OpBr
	OpBrS
	OpBrfalse
	OpBrfalseS
	OpBrtrue
	OpBrtrueS
	OpBeq
	OpBeqS
	OpBneUn
	OpBneUnS
	OpBge
	OpBgeS
	OpBgeUn
	OpBgeUnS
	OpBgt
	OpBgtS
	OpBgtUn
	OpBgtUnS
	OpBle
	OpBleS
	OpBleUn
	OpBleUnS
	OpBlt
	OpBltS
	OpBltUn
	OpBltUnS
	OpLeave
	OpLeaveS
	OpSwitch

	// Operand-carrying.
	OpLdcI4
	OpLdcI4S
	OpLdcI8
	OpLdcR4
	OpLdcR8
	OpLdstr
	OpLdloc
	OpLdloca
	OpStloc
	OpLdarg
	OpLdarga
	OpStarg
	OpCall
	OpCallvirt
	OpNewobj
	OpLdftn
	OpLdvirtftn
	OpCalli
	OpLdfld
	OpLdflda
	OpStfld
	OpLdsfld
	OpLdsflda
	OpStsfld
	OpCastclass
	OpIsinst
	OpBox
	OpUnbox
	OpUnboxAny
	OpNewarr
	OpInitobj
	OpSizeof
	OpLdobj
	OpStobj
	OpLdtoken
)

// OpCode is one row of the static instruction table. The table is built
// once and never mutated afterwards, so it is safe to share.
type OpCode struct {
	Name    string
	Code    Code
	Operand OperandKind
	Flow    FlowControl
}

// IsBranch reports whether the opcode takes one or more label targets.
func (op *OpCode) IsBranch() bool {
	return op.Operand == OperandTarget || op.Operand == OperandTargets
}

// IsTerminator reports whether the opcode validly ends a method body.
func (op *OpCode) IsTerminator() bool {
	return op.Flow == FlowReturn || op.Flow == FlowThrow
}

func plain(name string, c Code) OpCode {
	return OpCode{Name: name, Code: c, Operand: OperandNone, Flow: FlowNext}
}

func branch(name string, c Code) OpCode {
	return OpCode{Name: name, Code: c, Operand: OperandTarget, Flow: FlowCondBranch}
}

func with(name string, c Code, k OperandKind) OpCode {
	return OpCode{Name: name, Code: c, Operand: k, Flow: FlowNext}
}

// Opcodes is the full instruction table, indexed by Code.
var Opcodes = []OpCode{
	plain("nop", OpNop),
	plain("break", OpBreak),
	plain("dup", OpDup),
	plain("pop", OpPop),
	{Name: "ret", Code: OpRet, Flow: FlowReturn},
	{Name: "throw", Code: OpThrow, Flow: FlowThrow},
	{Name: "rethrow", Code: OpRethrow, Flow: FlowThrow},
	plain("add", OpAdd),
	plain("sub", OpSub),
	plain("mul", OpMul),
	plain("div", OpDiv),
	plain("div.un", OpDivUn),
	plain("rem", OpRem),
	plain("rem.un", OpRemUn),
	plain("and", OpAnd),
	plain("or", OpOr),
	plain("xor", OpXor),
	plain("not", OpNot),
	plain("neg", OpNeg),
	plain("shl", OpShl),
	plain("shr", OpShr),
	plain("shr.un", OpShrUn),
	plain("ceq", OpCeq),
	plain("cgt", OpCgt),
	plain("cgt.un", OpCgtUn),
	plain("clt", OpClt),
	plain("clt.un", OpCltUn),
	plain("ldnull", OpLdnull),
	plain("ldlen", OpLdlen),
	plain("ldc.i4.m1", OpLdcI4M1),
	plain("ldc.i4.0", OpLdcI40),
	plain("ldc.i4.1", OpLdcI41),
	plain("ldc.i4.2", OpLdcI42),
	plain("ldc.i4.3", OpLdcI43),
	plain("ldc.i4.4", OpLdcI44),
	plain("ldc.i4.5", OpLdcI45),
	plain("ldc.i4.6", OpLdcI46),
	plain("ldc.i4.7", OpLdcI47),
	plain("ldc.i4.8", OpLdcI48),
	plain("ldarg.0", OpLdarg0),
	plain("ldarg.1", OpLdarg1),
	plain("ldarg.2", OpLdarg2),
	plain("ldarg.3", OpLdarg3),
	plain("ldloc.0", OpLdloc0),
	plain("ldloc.1", OpLdloc1),
	plain("ldloc.2", OpLdloc2),
	plain("ldloc.3", OpLdloc3),
	plain("stloc.0", OpStloc0),
	plain("stloc.1", OpStloc1),
	plain("stloc.2", OpStloc2),
	plain("stloc.3", OpStloc3),
	plain("ldind.i1", OpLdindI1),
	plain("ldind.u1", OpLdindU1),
	plain("ldind.i2", OpLdindI2),
	plain("ldind.u2", OpLdindU2),
	plain("ldind.i4", OpLdindI4),
	plain("ldind.u4", OpLdindU4),
	plain("ldind.i8", OpLdindI8),
	plain("ldind.i", OpLdindI),
	plain("ldind.r4", OpLdindR4),
	plain("ldind.r8", OpLdindR8),
	plain("ldind.ref", OpLdindRef),
	plain("stind.i1", OpStindI1),
	plain("stind.i2", OpStindI2),
	plain("stind.i4", OpStindI4),
	plain("stind.i8", OpStindI8),
	plain("stind.i", OpStindI),
	plain("stind.r4", OpStindR4),
	plain("stind.r8", OpStindR8),
	plain("stind.ref", OpStindRef),
	plain("conv.i1", OpConvI1),
	plain("conv.u1", OpConvU1),
	plain("conv.i2", OpConvI2),
	plain("conv.u2", OpConvU2),
	plain("conv.i4", OpConvI4),
	plain("conv.u4", OpConvU4),
	plain("conv.i8", OpConvI8),
	plain("conv.u8", OpConvU8),
	plain("conv.i", OpConvI),
	plain("conv.u", OpConvU),
	plain("conv.r4", OpConvR4),
	plain("conv.r8", OpConvR8),

	{Name: "br", Code: OpBr, Operand: OperandTarget, Flow: FlowBranch},
	{Name: "br.s", Code: OpBrS, Operand: OperandTarget, Flow: FlowBranch},
	branch("brfalse", OpBrfalse),
	branch("brfalse.s", OpBrfalseS),
	branch("brtrue", OpBrtrue),
	branch("brtrue.s", OpBrtrueS),
	branch("beq", OpBeq),
	branch("beq.s", OpBeqS),
	branch("bne.un", OpBneUn),
	branch("bne.un.s", OpBneUnS),
	branch("bge", OpBge),
	branch("bge.s", OpBgeS),
	branch("bge.un", OpBgeUn),
	branch("bge.un.s", OpBgeUnS),
	branch("bgt", OpBgt),
	branch("bgt.s", OpBgtS),
	branch("bgt.un", OpBgtUn),
	branch("bgt.un.s", OpBgtUnS),
	branch("ble", OpBle),
	branch("ble.s", OpBleS),
	branch("ble.un", OpBleUn),
	branch("ble.un.s", OpBleUnS),
	branch("blt", OpBlt),
	branch("blt.s", OpBltS),
	branch("blt.un", OpBltUn),
	branch("blt.un.s", OpBltUnS),
	{Name: "leave", Code: OpLeave, Operand: OperandTarget, Flow: FlowBranch},
	{Name: "leave.s", Code: OpLeaveS, Operand: OperandTarget, Flow: FlowBranch},
	{Name: "switch", Code: OpSwitch, Operand: OperandTargets, Flow: FlowCondBranch},

	with("ldc.i4", OpLdcI4, OperandInt32),
	with("ldc.i4.s", OpLdcI4S, OperandInt8),
	with("ldc.i8", OpLdcI8, OperandInt64),
	with("ldc.r4", OpLdcR4, OperandFloat32),
	with("ldc.r8", OpLdcR8, OperandFloat64),
	with("ldstr", OpLdstr, OperandString),
	with("ldloc", OpLdloc, OperandVariable),
	with("ldloca", OpLdloca, OperandVariable),
	with("stloc", OpStloc, OperandVariable),
	with("ldarg", OpLdarg, OperandParameter),
	with("ldarga", OpLdarga, OperandParameter),
	with("starg", OpStarg, OperandParameter),
	{Name: "call", Code: OpCall, Operand: OperandMethod, Flow: FlowCall},
	{Name: "callvirt", Code: OpCallvirt, Operand: OperandMethod, Flow: FlowCall},
	{Name: "newobj", Code: OpNewobj, Operand: OperandMethod, Flow: FlowCall},
	with("ldftn", OpLdftn, OperandMethod),
	with("ldvirtftn", OpLdvirtftn, OperandMethod),
	{Name: "calli", Code: OpCalli, Operand: OperandCallSite, Flow: FlowCall},
	with("ldfld", OpLdfld, OperandField),
	with("ldflda", OpLdflda, OperandField),
	with("stfld", OpStfld, OperandField),
	with("ldsfld", OpLdsfld, OperandField),
	with("ldsflda", OpLdsflda, OperandField),
	with("stsfld", OpStsfld, OperandField),
	with("castclass", OpCastclass, OperandType),
	with("isinst", OpIsinst, OperandType),
	with("box", OpBox, OperandType),
	with("unbox", OpUnbox, OperandType),
	with("unbox.any", OpUnboxAny, OperandType),
	with("newarr", OpNewarr, OperandType),
	with("initobj", OpInitobj, OperandType),
	with("sizeof", OpSizeof, OperandType),
	with("ldobj", OpLdobj, OperandType),
	with("stobj", OpStobj, OperandType),
	with("ldtoken", OpLdtoken, OperandType),
}

var opcodesByName = buildNameIndex()

func buildNameIndex() map[string]*OpCode {
	m := make(map[string]*OpCode, len(Opcodes))
	for i := range Opcodes {
		m[Opcodes[i].Name] = &Opcodes[i]
	}
	return m
}

// Lookup returns the opcode for a mnemonic, or nil if unknown.
func Lookup(name string) *OpCode {
	return opcodesByName[name]
}

// ByCode returns the opcode for a code value, or nil if out of range.
func ByCode(c Code) *OpCode {
	if int(c) >= len(Opcodes) {
		return nil
	}
	return &Opcodes[c]
}

// shortSlots maps the compressed ldarg/ldloc/stloc forms to the slot they
// encode. Used by the evaluator.
var shortSlots = map[Code]int{
	OpLdarg0: 0, OpLdarg1: 1, OpLdarg2: 2, OpLdarg3: 3,
	OpLdloc0: 0, OpLdloc1: 1, OpLdloc2: 2, OpLdloc3: 3,
	OpStloc0: 0, OpStloc1: 1, OpStloc2: 2, OpStloc3: 3,
}
