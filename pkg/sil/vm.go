package sil

import (
	"encoding/binary"
	"fmt"
	"math"
)

// VM executes compiled method bodies. It is a testing and tooling
// collaborator, not part of the assembler: it implements the common
// arithmetic, load/store, branch, and call opcodes and reports a clear
// error for anything it does not model.
type VM struct {
	// Statics holds static field storage across calls.
	Statics map[*FieldDef]Value

	// MaxSteps bounds total executed instructions (0 = unlimited).
	MaxSteps int

	steps int
}

// NewVM creates a VM with empty static storage.
func NewVM() *VM {
	return &VM{Statics: make(map[*FieldDef]Value)}
}

// RuntimeError is a value thrown by the throw opcode.
type RuntimeError struct {
	Method *MethodDef
	Value  Value
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: thrown %s", e.Method.FullName(), e.Value)
}

type frame struct {
	method *MethodDef
	args   []Value
	locals []Value
	stack  []Value
	pc     int
}

func (f *frame) push(v Value) { f.stack = append(f.stack, v) }

func (f *frame) pop() (Value, error) {
	if len(f.stack) == 0 {
		return nil, fmt.Errorf("%s: stack underflow at %d", f.method.FullName(), f.pc)
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

// Run executes a method with the given arguments (receiver first for
// instance methods) and returns the value left on the stack, or nil for
// void methods.
func (vm *VM) Run(m *MethodDef, args ...Value) (Value, error) {
	vm.steps = 0
	return vm.call(m, args)
}

func (vm *VM) call(m *MethodDef, args []Value) (Value, error) {
	if m.Body == nil || len(m.Body.Instructions) == 0 {
		return nil, fmt.Errorf("%s: no body to execute", m.FullName())
	}
	if len(args) != m.ArgCount() {
		return nil, fmt.Errorf("%s: want %d arguments, got %d", m.FullName(), m.ArgCount(), len(args))
	}

	f := &frame{
		method: m,
		args:   args,
		locals: make([]Value, len(m.Body.Variables)),
	}
	for i := range f.locals {
		f.locals[i] = Int32(0)
	}

	body := m.Body.Instructions
	for f.pc >= 0 && f.pc < len(body) {
		if vm.MaxSteps > 0 {
			vm.steps++
			if vm.steps > vm.MaxSteps {
				return nil, fmt.Errorf("%s: step limit exceeded", m.FullName())
			}
		}

		ins := body[f.pc]
		next := f.pc + 1

		done, ret, err := vm.step(f, ins, &next)
		if err != nil {
			return nil, err
		}
		if done {
			return ret, nil
		}
		f.pc = next
	}
	return nil, fmt.Errorf("%s: fell off the end of the body", m.FullName())
}

// step executes one instruction. done reports that the method returned.
func (vm *VM) step(f *frame, ins *Instruction, next *int) (done bool, ret Value, err error) {
	op := ins.OpCode
	code := op.Code

	// Compressed argument/local forms share one path with the long forms.
	if slot, ok := shortSlots[code]; ok {
		switch {
		case code >= OpLdarg0 && code <= OpLdarg3:
			if slot >= len(f.args) {
				return false, nil, fmt.Errorf("%s: no argument slot %d", f.method.FullName(), slot)
			}
			f.push(f.args[slot])
		case code >= OpLdloc0 && code <= OpLdloc3:
			if slot >= len(f.locals) {
				return false, nil, fmt.Errorf("%s: no local slot %d", f.method.FullName(), slot)
			}
			f.push(f.locals[slot])
		default: // stloc.0-3
			v, err := f.pop()
			if err != nil {
				return false, nil, err
			}
			if slot >= len(f.locals) {
				return false, nil, fmt.Errorf("%s: no local slot %d", f.method.FullName(), slot)
			}
			f.locals[slot] = v
		}
		return false, nil, nil
	}

	switch code {
	case OpNop, OpBreak:

	case OpDup:
		v, err := f.pop()
		if err != nil {
			return false, nil, err
		}
		f.push(v)
		f.push(v)

	case OpPop:
		if _, err := f.pop(); err != nil {
			return false, nil, err
		}

	case OpRet:
		if f.method.Return == Void {
			return true, nil, nil
		}
		v, err := f.pop()
		if err != nil {
			return false, nil, err
		}
		return true, v, nil

	case OpThrow:
		v, err := f.pop()
		if err != nil {
			return false, nil, err
		}
		return false, nil, &RuntimeError{Method: f.method, Value: v}

	case OpLdnull:
		f.push(Null{})

	case OpLdcI4M1, OpLdcI40, OpLdcI41, OpLdcI42, OpLdcI43,
		OpLdcI44, OpLdcI45, OpLdcI46, OpLdcI47, OpLdcI48:
		f.push(Int32(int32(code) - int32(OpLdcI40)))

	case OpLdcI4:
		f.push(Int32(ins.Operand.(int32)))
	case OpLdcI4S:
		f.push(Int32(ins.Operand.(int8)))
	case OpLdcI8:
		f.push(Int64(ins.Operand.(int64)))
	case OpLdcR4:
		f.push(Float(ins.Operand.(float32)))
	case OpLdcR8:
		f.push(Float(ins.Operand.(float64)))
	case OpLdstr:
		f.push(Str(ins.Operand.(string)))

	case OpLdloc:
		f.push(f.locals[ins.Operand.(*VariableDef).Index])
	case OpStloc:
		v, err := f.pop()
		if err != nil {
			return false, nil, err
		}
		f.locals[ins.Operand.(*VariableDef).Index] = v
	case OpLdarg:
		f.push(f.args[ins.Operand.(*ParameterDef).Index])
	case OpStarg:
		v, err := f.pop()
		if err != nil {
			return false, nil, err
		}
		f.args[ins.Operand.(*ParameterDef).Index] = v

	case OpAdd, OpSub, OpMul, OpDiv, OpDivUn, OpRem, OpRemUn,
		OpAnd, OpOr, OpXor, OpShl, OpShr, OpShrUn:
		if err := vm.binary(f, code); err != nil {
			return false, nil, err
		}

	case OpNot:
		v, err := f.pop()
		if err != nil {
			return false, nil, err
		}
		switch n := v.(type) {
		case Int32:
			f.push(Int32(^int32(n)))
		case Int64:
			f.push(Int64(^int64(n)))
		default:
			return false, nil, vm.badOperand(f, op, v)
		}

	case OpNeg:
		v, err := f.pop()
		if err != nil {
			return false, nil, err
		}
		switch n := v.(type) {
		case Int32:
			f.push(Int32(-int32(n)))
		case Int64:
			f.push(Int64(-int64(n)))
		case Float:
			f.push(Float(-float64(n)))
		default:
			return false, nil, vm.badOperand(f, op, v)
		}

	case OpCeq, OpCgt, OpCgtUn, OpClt, OpCltUn:
		if err := vm.compare(f, code); err != nil {
			return false, nil, err
		}

	case OpBr, OpBrS, OpLeave, OpLeaveS:
		*next = ins.Operand.(int)

	case OpBrtrue, OpBrtrueS, OpBrfalse, OpBrfalseS:
		v, err := f.pop()
		if err != nil {
			return false, nil, err
		}
		truthy, err := isTruthy(v)
		if err != nil {
			return false, nil, vm.badOperand(f, op, v)
		}
		want := code == OpBrtrue || code == OpBrtrueS
		if truthy == want {
			*next = ins.Operand.(int)
		}

	case OpBeq, OpBeqS, OpBneUn, OpBneUnS, OpBge, OpBgeS, OpBgeUn, OpBgeUnS,
		OpBgt, OpBgtS, OpBgtUn, OpBgtUnS, OpBle, OpBleS, OpBleUn, OpBleUnS,
		OpBlt, OpBltS, OpBltUn, OpBltUnS:
		taken, err := vm.comparedBranch(f, code)
		if err != nil {
			return false, nil, err
		}
		if taken {
			*next = ins.Operand.(int)
		}

	case OpSwitch:
		v, err := f.pop()
		if err != nil {
			return false, nil, err
		}
		n, ok := v.(Int32)
		if !ok {
			return false, nil, vm.badOperand(f, op, v)
		}
		targets := ins.Operand.([]int)
		if int(n) >= 0 && int(n) < len(targets) {
			*next = targets[n]
		}

	case OpConvI1, OpConvU1, OpConvI2, OpConvU2, OpConvI4, OpConvU4,
		OpConvI8, OpConvU8, OpConvI, OpConvU, OpConvR4, OpConvR8:
		if err := vm.convert(f, code); err != nil {
			return false, nil, err
		}

	case OpLdindI1, OpLdindU1, OpLdindI2, OpLdindU2, OpLdindI4, OpLdindU4,
		OpLdindI8, OpLdindI, OpLdindR4, OpLdindR8:
		if err := vm.loadIndirect(f, code); err != nil {
			return false, nil, err
		}

	case OpStindI1, OpStindI2, OpStindI4, OpStindI8, OpStindI:
		if err := vm.storeIndirect(f, code); err != nil {
			return false, nil, err
		}

	case OpLdsfld:
		fld := ins.Operand.(*FieldDef)
		v, ok := vm.Statics[fld]
		if !ok {
			v = Int32(0)
		}
		f.push(v)
	case OpStsfld:
		v, err := f.pop()
		if err != nil {
			return false, nil, err
		}
		vm.Statics[ins.Operand.(*FieldDef)] = v

	case OpLdfld:
		v, err := f.pop()
		if err != nil {
			return false, nil, err
		}
		o, ok := v.(*Obj)
		if !ok {
			return false, nil, vm.badOperand(f, op, v)
		}
		fld := ins.Operand.(*FieldDef)
		fv, ok := o.Fields[fld.Name]
		if !ok {
			fv = Int32(0)
		}
		f.push(fv)
	case OpStfld:
		v, err := f.pop()
		if err != nil {
			return false, nil, err
		}
		tv, err := f.pop()
		if err != nil {
			return false, nil, err
		}
		o, ok := tv.(*Obj)
		if !ok {
			return false, nil, vm.badOperand(f, op, tv)
		}
		o.Fields[ins.Operand.(*FieldDef).Name] = v

	case OpCall, OpCallvirt:
		callee := ins.Operand.(*MethodDef)
		ret, err := vm.invoke(f, callee)
		if err != nil {
			return false, nil, err
		}
		if callee.Return != Void {
			f.push(ret)
		}

	case OpNewobj:
		ctor := ins.Operand.(*MethodDef)
		obj := NewObj(ctor.Declaring)
		n := len(ctor.Params)
		args := make([]Value, n+1)
		args[0] = obj
		for i := n; i >= 1; i-- {
			v, err := f.pop()
			if err != nil {
				return false, nil, err
			}
			args[i] = v
		}
		if _, err := vm.call(ctor, args); err != nil {
			return false, nil, err
		}
		f.push(obj)

	case OpLdftn, OpLdvirtftn:
		f.push(Fn{Method: ins.Operand.(*MethodDef)})

	case OpCalli:
		fv, err := f.pop()
		if err != nil {
			return false, nil, err
		}
		fn, ok := fv.(Fn)
		if !ok {
			return false, nil, vm.badOperand(f, op, fv)
		}
		site := ins.Operand.(*CallSite)
		if len(site.Params) != len(fn.Method.Params) {
			return false, nil, fmt.Errorf("%s: calli signature wants %d parameters, target %s has %d",
				f.method.FullName(), len(site.Params), fn.Method.FullName(), len(fn.Method.Params))
		}
		ret, err := vm.invoke(f, fn.Method)
		if err != nil {
			return false, nil, err
		}
		if site.Return != Void {
			f.push(ret)
		}

	case OpNewarr:
		v, err := f.pop()
		if err != nil {
			return false, nil, err
		}
		n, ok := v.(Int32)
		if !ok || n < 0 {
			return false, nil, vm.badOperand(f, op, v)
		}
		vals := make([]Value, n)
		for i := range vals {
			vals[i] = Int32(0)
		}
		f.push(&Arr{Elem: ins.Operand.(TypeRef), Vals: vals})

	case OpLdlen:
		v, err := f.pop()
		if err != nil {
			return false, nil, err
		}
		a, ok := v.(*Arr)
		if !ok {
			return false, nil, vm.badOperand(f, op, v)
		}
		f.push(Int32(len(a.Vals)))

	case OpBox, OpUnbox, OpUnboxAny, OpCastclass:
		// Value representations are already uniform here.

	case OpIsinst:
		v, err := f.pop()
		if err != nil {
			return false, nil, err
		}
		t := ins.Operand.(TypeRef)
		if o, ok := v.(*Obj); ok && o.Type.Token() == t.Token() {
			f.push(v)
		} else {
			f.push(Null{})
		}

	default:
		return false, nil, fmt.Errorf("%s: opcode %s is not supported by the evaluator",
			f.method.FullName(), op.Name)
	}

	return false, nil, nil
}

// invoke pops callee arguments off the caller frame and runs the callee.
func (vm *VM) invoke(f *frame, callee *MethodDef) (Value, error) {
	n := callee.ArgCount()
	args := make([]Value, n)
	for i := n - 1; i >= 0; i-- {
		v, err := f.pop()
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return vm.call(callee, args)
}

func (vm *VM) badOperand(f *frame, op *OpCode, v Value) error {
	return fmt.Errorf("%s: %s cannot operate on %s", f.method.FullName(), op.Name, v.Kind())
}

func isTruthy(v Value) (bool, error) {
	switch n := v.(type) {
	case Int32:
		return n != 0, nil
	case Int64:
		return n != 0, nil
	case Null:
		return false, nil
	case *Obj, *Arr, Fn, Str, Ptr:
		return true, nil
	default:
		return false, fmt.Errorf("not truthy: %s", v.Kind())
	}
}

// binary pops two values and pushes the arithmetic/bitwise result.
// int32 op int32 stays int32; anything involving int64 widens; floats
// win over integers; pointer plus/minus integer moves the pointer.
func (vm *VM) binary(f *frame, code Code) error {
	b, err := f.pop()
	if err != nil {
		return err
	}
	a, err := f.pop()
	if err != nil {
		return err
	}

	// Pointer arithmetic.
	if p, ok := a.(Ptr); ok {
		d, derr := intOf(b)
		if derr != nil {
			return vm.badOperand(f, ByCode(code), b)
		}
		switch code {
		case OpAdd:
			f.push(Ptr{Mem: p.Mem, Off: p.Off + int(d)})
			return nil
		case OpSub:
			f.push(Ptr{Mem: p.Mem, Off: p.Off - int(d)})
			return nil
		}
		return vm.badOperand(f, ByCode(code), a)
	}

	if af, aok := a.(Float); aok {
		bf, bok := b.(Float)
		if !bok {
			d, derr := intOf(b)
			if derr != nil {
				return vm.badOperand(f, ByCode(code), b)
			}
			bf = Float(d)
		}
		switch code {
		case OpAdd:
			f.push(af + bf)
		case OpSub:
			f.push(af - bf)
		case OpMul:
			f.push(af * bf)
		case OpDiv:
			f.push(af / bf)
		case OpRem:
			f.push(Float(math.Mod(float64(af), float64(bf))))
		default:
			return vm.badOperand(f, ByCode(code), a)
		}
		return nil
	}

	ai, aerr := intOf(a)
	bi, berr := intOf(b)
	if aerr != nil || berr != nil {
		return vm.badOperand(f, ByCode(code), a)
	}

	_, aWide := a.(Int64)
	_, bWide := b.(Int64)
	wide := aWide || bWide

	var r int64
	switch code {
	case OpAdd:
		r = ai + bi
	case OpSub:
		r = ai - bi
	case OpMul:
		r = ai * bi
	case OpDiv:
		if bi == 0 {
			return fmt.Errorf("%s: division by zero", f.method.FullName())
		}
		r = ai / bi
	case OpDivUn:
		if bi == 0 {
			return fmt.Errorf("%s: division by zero", f.method.FullName())
		}
		if wide {
			r = int64(uint64(ai) / uint64(bi))
		} else {
			r = int64(uint32(ai) / uint32(bi))
		}
	case OpRem:
		if bi == 0 {
			return fmt.Errorf("%s: division by zero", f.method.FullName())
		}
		r = ai % bi
	case OpRemUn:
		if bi == 0 {
			return fmt.Errorf("%s: division by zero", f.method.FullName())
		}
		if wide {
			r = int64(uint64(ai) % uint64(bi))
		} else {
			r = int64(uint32(ai) % uint32(bi))
		}
	case OpAnd:
		r = ai & bi
	case OpOr:
		r = ai | bi
	case OpXor:
		r = ai ^ bi
	case OpShl:
		r = ai << (uint64(bi) & 63)
	case OpShr:
		r = ai >> (uint64(bi) & 63)
	case OpShrUn:
		if wide {
			r = int64(uint64(ai) >> (uint64(bi) & 63))
		} else {
			r = int64(uint32(ai) >> (uint64(bi) & 31))
		}
	}

	if wide {
		f.push(Int64(r))
	} else {
		f.push(Int32(int32(r)))
	}
	return nil
}

func (vm *VM) compare(f *frame, code Code) error {
	b, err := f.pop()
	if err != nil {
		return err
	}
	a, err := f.pop()
	if err != nil {
		return err
	}
	res, err := compareValues(a, b, code)
	if err != nil {
		return fmt.Errorf("%s: %w", f.method.FullName(), err)
	}
	if res {
		f.push(Int32(1))
	} else {
		f.push(Int32(0))
	}
	return nil
}

func (vm *VM) comparedBranch(f *frame, code Code) (bool, error) {
	b, err := f.pop()
	if err != nil {
		return false, err
	}
	a, err := f.pop()
	if err != nil {
		return false, err
	}
	var cmp Code
	switch code {
	case OpBeq, OpBeqS:
		cmp = OpCeq
	case OpBneUn, OpBneUnS:
		res, err := compareValues(a, b, OpCeq)
		return !res, err
	case OpBgt, OpBgtS:
		cmp = OpCgt
	case OpBgtUn, OpBgtUnS:
		cmp = OpCgtUn
	case OpBlt, OpBltS:
		cmp = OpClt
	case OpBltUn, OpBltUnS:
		cmp = OpCltUn
	case OpBge, OpBgeS:
		res, err := compareValues(a, b, OpClt)
		return !res, err
	case OpBgeUn, OpBgeUnS:
		res, err := compareValues(a, b, OpCltUn)
		return !res, err
	case OpBle, OpBleS:
		res, err := compareValues(a, b, OpCgt)
		return !res, err
	case OpBleUn, OpBleUnS:
		res, err := compareValues(a, b, OpCgtUn)
		return !res, err
	}
	return compareValues(a, b, cmp)
}

func compareValues(a, b Value, code Code) (bool, error) {
	if af, ok := a.(Float); ok {
		bf, ok := b.(Float)
		if !ok {
			return false, fmt.Errorf("comparing float with %s", b.Kind())
		}
		switch code {
		case OpCeq:
			return af == bf, nil
		case OpCgt, OpCgtUn:
			return af > bf, nil
		case OpClt, OpCltUn:
			return af < bf, nil
		}
	}
	if code == OpCeq {
		return a.Equal(b), nil
	}
	ai, aerr := intOf(a)
	bi, berr := intOf(b)
	if aerr != nil || berr != nil {
		return false, fmt.Errorf("comparing %s with %s", a.Kind(), b.Kind())
	}
	switch code {
	case OpCgt:
		return ai > bi, nil
	case OpCgtUn:
		return uint64(ai) > uint64(bi), nil
	case OpClt:
		return ai < bi, nil
	case OpCltUn:
		return uint64(ai) < uint64(bi), nil
	}
	return false, fmt.Errorf("bad comparison opcode")
}

func intOf(v Value) (int64, error) {
	switch n := v.(type) {
	case Int32:
		return int64(n), nil
	case Int64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("not an integer: %s", v.Kind())
	}
}

func (vm *VM) convert(f *frame, code Code) error {
	v, err := f.pop()
	if err != nil {
		return err
	}

	if code == OpConvR4 || code == OpConvR8 {
		switch n := v.(type) {
		case Float:
			f.push(n)
		case Int32:
			f.push(Float(n))
		case Int64:
			f.push(Float(n))
		default:
			return vm.badOperand(f, ByCode(code), v)
		}
		return nil
	}

	var n int64
	switch t := v.(type) {
	case Int32:
		n = int64(t)
	case Int64:
		n = int64(t)
	case Float:
		n = int64(t)
	case Ptr:
		if code == OpConvI || code == OpConvU {
			f.push(t)
			return nil
		}
		return vm.badOperand(f, ByCode(code), v)
	default:
		return vm.badOperand(f, ByCode(code), v)
	}

	switch code {
	case OpConvI1:
		f.push(Int32(int8(n)))
	case OpConvU1:
		f.push(Int32(uint8(n)))
	case OpConvI2:
		f.push(Int32(int16(n)))
	case OpConvU2:
		f.push(Int32(uint16(n)))
	case OpConvI4, OpConvU4, OpConvI, OpConvU:
		f.push(Int32(int32(n)))
	case OpConvI8:
		f.push(Int64(n))
	case OpConvU8:
		if t, ok := v.(Int32); ok {
			f.push(Int64(uint32(t)))
		} else {
			f.push(Int64(n))
		}
	}
	return nil
}

func (vm *VM) loadIndirect(f *frame, code Code) error {
	v, err := f.pop()
	if err != nil {
		return err
	}
	p, ok := v.(Ptr)
	if !ok {
		return vm.badOperand(f, ByCode(code), v)
	}
	var width int
	switch code {
	case OpLdindI1, OpLdindU1:
		width = 1
	case OpLdindI2, OpLdindU2:
		width = 2
	case OpLdindI4, OpLdindU4, OpLdindI, OpLdindR4:
		width = 4
	case OpLdindI8, OpLdindR8:
		width = 8
	default:
		return fmt.Errorf("%s: %s is not supported by the evaluator",
			f.method.FullName(), ByCode(code).Name)
	}
	if err := checkPtr(f, p, width); err != nil {
		return err
	}
	mem := p.Mem[p.Off:]
	switch code {
	case OpLdindI1:
		f.push(Int32(int8(mem[0])))
	case OpLdindU1:
		f.push(Int32(mem[0]))
	case OpLdindI2:
		f.push(Int32(int16(binary.LittleEndian.Uint16(mem))))
	case OpLdindU2:
		f.push(Int32(binary.LittleEndian.Uint16(mem)))
	case OpLdindI4, OpLdindI:
		f.push(Int32(int32(binary.LittleEndian.Uint32(mem))))
	case OpLdindU4:
		f.push(Int32(int32(binary.LittleEndian.Uint32(mem))))
	case OpLdindI8:
		f.push(Int64(int64(binary.LittleEndian.Uint64(mem))))
	case OpLdindR4:
		f.push(Float(math.Float32frombits(binary.LittleEndian.Uint32(mem))))
	case OpLdindR8:
		f.push(Float(math.Float64frombits(binary.LittleEndian.Uint64(mem))))
	}
	return nil
}

// checkPtr rejects a dereference that would read or write outside the
// pointer's buffer. Programs can move pointers anywhere; only the access
// itself must stay in bounds.
func checkPtr(f *frame, p Ptr, width int) error {
	if p.Off < 0 || p.Off+width > len(p.Mem) {
		return fmt.Errorf("%s: pointer access out of bounds at offset %d",
			f.method.FullName(), p.Off)
	}
	return nil
}

func (vm *VM) storeIndirect(f *frame, code Code) error {
	v, err := f.pop()
	if err != nil {
		return err
	}
	pv, err := f.pop()
	if err != nil {
		return err
	}
	p, ok := pv.(Ptr)
	if !ok {
		return vm.badOperand(f, ByCode(code), pv)
	}
	n, err := intOf(v)
	if err != nil {
		return vm.badOperand(f, ByCode(code), v)
	}
	var width int
	switch code {
	case OpStindI1:
		width = 1
	case OpStindI2:
		width = 2
	case OpStindI4, OpStindI:
		width = 4
	case OpStindI8:
		width = 8
	}
	if err := checkPtr(f, p, width); err != nil {
		return err
	}
	mem := p.Mem[p.Off:]
	switch code {
	case OpStindI1:
		mem[0] = byte(n)
	case OpStindI2:
		binary.LittleEndian.PutUint16(mem, uint16(n))
	case OpStindI4, OpStindI:
		binary.LittleEndian.PutUint32(mem, uint32(n))
	case OpStindI8:
		binary.LittleEndian.PutUint64(mem, uint64(n))
	}
	return nil
}
