package sil

import (
	"errors"
	"strings"
	"testing"
)

// ins builds one instruction by mnemonic; unknown names fail the test at
// build time rather than mid-run.
func ins(t *testing.T, name string, operand any) *Instruction {
	t.Helper()
	op := Lookup(name)
	if op == nil {
		t.Fatalf("unknown opcode %q", name)
	}
	return &Instruction{OpCode: op, Operand: operand}
}

// push builds the load-constant instruction for a test value.
func push(t *testing.T, v Value) *Instruction {
	t.Helper()
	switch n := v.(type) {
	case Int32:
		return ins(t, "ldc.i4", int32(n))
	case Int64:
		return ins(t, "ldc.i8", int64(n))
	case Float:
		return ins(t, "ldc.r8", float64(n))
	case Str:
		return ins(t, "ldstr", string(n))
	default:
		t.Fatalf("no constant form for %s", v.Kind())
		return nil
	}
}

func staticMethod(t *testing.T, name string, ret TypeRef, params ...TypeRef) *MethodDef {
	t.Helper()
	mod := NewRegistry().NewModule("T")
	td := mod.AddType("T.Host")
	m := td.AddMethod(name, ret, true)
	for i, p := range params {
		m.AddParam(string(rune('a'+i)), p)
	}
	return m
}

func setBody(m *MethodDef, instructions ...*Instruction) {
	m.Body.Clear()
	for _, i := range instructions {
		m.Body.Append(i)
	}
}

func mustRun(t *testing.T, m *MethodDef, args ...Value) Value {
	t.Helper()
	v, err := NewVM().Run(m, args...)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return v
}

func TestBinaryOps(t *testing.T) {
	tests := []struct {
		name string
		op   string
		a, b Value
		want Value
	}{
		{"add", "add", Int32(3), Int32(4), Int32(7)},
		{"add wraps", "add", Int32(0x7FFFFFFF), Int32(1), Int32(-0x80000000)},
		{"mul wraps", "mul", Int32(0x40000000), Int32(4), Int32(0)},
		{"sub", "sub", Int32(10), Int32(4), Int32(6)},
		{"int64 widens", "add", Int32(1), Int64(2), Int64(3)},
		{"xor", "xor", Int32(0b1100), Int32(0b1010), Int32(0b0110)},
		{"and", "and", Int32(0b1100), Int32(0b1010), Int32(0b1000)},
		{"div truncates", "div", Int32(-7), Int32(2), Int32(-3)},
		{"div.un", "div.un", Int32(-2), Int32(3), Int32(0x55555554)},
		{"rem", "rem", Int32(7), Int32(3), Int32(1)},
		{"shl", "shl", Int32(1), Int32(5), Int32(32)},
		{"shr keeps sign", "shr", Int32(-8), Int32(1), Int32(-4)},
		{"shr.un", "shr.un", Int32(-1), Int32(28), Int32(15)},
		{"float mul", "mul", Float(1.5), Float(4), Float(6)},
		{"float add int", "add", Float(1.5), Int32(2), Float(3.5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := staticMethod(t, "F", Int32T)
			setBody(m, push(t, tt.a), push(t, tt.b), ins(t, tt.op, nil), ins(t, "ret", nil))
			got := mustRun(t, m)
			if !got.Equal(tt.want) {
				t.Errorf("%v %s %v = %v, want %v", tt.a, tt.op, tt.b, got, tt.want)
			}
		})
	}
}

func TestDivisionByZero(t *testing.T) {
	for _, op := range []string{"div", "div.un", "rem", "rem.un"} {
		m := staticMethod(t, "F", Int32T)
		setBody(m, push(t, Int32(1)), push(t, Int32(0)), ins(t, op, nil), ins(t, "ret", nil))
		if _, err := NewVM().Run(m); err == nil || !strings.Contains(err.Error(), "division by zero") {
			t.Errorf("%s: want division by zero, got %v", op, err)
		}
	}
}

func TestUnaryOps(t *testing.T) {
	m := staticMethod(t, "F", Int32T)
	setBody(m, push(t, Int32(0)), ins(t, "not", nil), ins(t, "ret", nil))
	if got := mustRun(t, m); !got.Equal(Int32(-1)) {
		t.Errorf("not 0 = %v, want -1", got)
	}
	setBody(m, push(t, Int32(5)), ins(t, "neg", nil), ins(t, "ret", nil))
	if got := mustRun(t, m); !got.Equal(Int32(-5)) {
		t.Errorf("neg 5 = %v, want -5", got)
	}
}

func TestShortConstantForms(t *testing.T) {
	m := staticMethod(t, "F", Int32T)
	setBody(m, ins(t, "ldc.i4.7", nil), ins(t, "ret", nil))
	if got := mustRun(t, m); !got.Equal(Int32(7)) {
		t.Errorf("ldc.i4.7 = %v", got)
	}
	setBody(m, ins(t, "ldc.i4.m1", nil), ins(t, "ret", nil))
	if got := mustRun(t, m); !got.Equal(Int32(-1)) {
		t.Errorf("ldc.i4.m1 = %v", got)
	}
	setBody(m, ins(t, "ldc.i4.s", int8(-100)), ins(t, "ret", nil))
	if got := mustRun(t, m); !got.Equal(Int32(-100)) {
		t.Errorf("ldc.i4.s -100 = %v", got)
	}
}

func TestArgsAndLocals(t *testing.T) {
	m := staticMethod(t, "F", Int32T, Int32T, Int32T)
	v := m.Body.AddVariable("tmp", Int32T)

	// tmp = a + b; return tmp (long and short forms mixed).
	setBody(m,
		ins(t, "ldarg.0", nil),
		ins(t, "ldarg", m.ParamAt(1)),
		ins(t, "add", nil),
		ins(t, "stloc", v),
		ins(t, "ldloc.0", nil),
		ins(t, "ret", nil),
	)
	if got := mustRun(t, m, Int32(30), Int32(12)); !got.Equal(Int32(42)) {
		t.Errorf("got %v, want 42", got)
	}
}

func TestLocalsStartAtZero(t *testing.T) {
	m := staticMethod(t, "F", Int32T)
	m.Body.AddVariable("x", Int32T)
	setBody(m, ins(t, "ldloc.0", nil), ins(t, "ret", nil))
	if got := mustRun(t, m); !got.Equal(Int32(0)) {
		t.Errorf("uninitialized local = %v, want 0", got)
	}
}

func TestBranching(t *testing.T) {
	// return a < b ? 1 : 0, via blt.
	m := staticMethod(t, "F", Int32T, Int32T, Int32T)
	setBody(m,
		ins(t, "ldarg.0", nil), // 0
		ins(t, "ldarg.1", nil), // 1
		ins(t, "blt", 5),       // 2
		ins(t, "ldc.i4.0", nil), // 3
		ins(t, "ret", nil),      // 4
		ins(t, "ldc.i4.1", nil), // 5
		ins(t, "ret", nil),      // 6
	)
	if got := mustRun(t, m, Int32(1), Int32(2)); !got.Equal(Int32(1)) {
		t.Errorf("1 < 2 = %v, want 1", got)
	}
	if got := mustRun(t, m, Int32(2), Int32(1)); !got.Equal(Int32(0)) {
		t.Errorf("2 < 1 = %v, want 0", got)
	}
}

func TestCountdownLoop(t *testing.T) {
	// for (; a != 0; a--) ; return a
	m := staticMethod(t, "F", Int32T, Int32T)
	setBody(m,
		ins(t, "ldarg.0", nil),        // 0
		ins(t, "brfalse", 7),          // 1
		ins(t, "ldarg.0", nil),        // 2
		ins(t, "ldc.i4.1", nil),       // 3
		ins(t, "sub", nil),            // 4
		ins(t, "starg", m.ParamAt(0)), // 5
		ins(t, "br", 0),               // 6
		ins(t, "ldarg.0", nil),        // 7
		ins(t, "ret", nil),            // 8
	)
	if got := mustRun(t, m, Int32(10)); !got.Equal(Int32(0)) {
		t.Errorf("countdown = %v, want 0", got)
	}
}

func TestSwitch(t *testing.T) {
	// switch(a) { 0 -> 10, 1 -> 20 }; default 99.
	m := staticMethod(t, "F", Int32T, Int32T)
	setBody(m,
		ins(t, "ldarg.0", nil),        // 0
		ins(t, "switch", []int{3, 5}), // 1
		ins(t, "br", 7),               // 2 default
		ins(t, "ldc.i4", int32(10)),   // 3
		ins(t, "ret", nil),            // 4
		ins(t, "ldc.i4", int32(20)),   // 5
		ins(t, "ret", nil),            // 6
		ins(t, "ldc.i4", int32(99)),   // 7
		ins(t, "ret", nil),            // 8
	)
	tests := []struct {
		arg, want int32
	}{{0, 10}, {1, 20}, {2, 99}, {-1, 99}}
	for _, tt := range tests {
		if got := mustRun(t, m, Int32(tt.arg)); !got.Equal(Int32(tt.want)) {
			t.Errorf("switch(%d) = %v, want %d", tt.arg, got, tt.want)
		}
	}
}

func TestIndirectLoads(t *testing.T) {
	mem := []byte{0xC5, 0x9D, 0x1C, 0x81, 0xFF}
	m := staticMethod(t, "F", Int32T, &PointerType{Elem: UInt16})
	setBody(m, ins(t, "ldarg.0", nil), ins(t, "ldind.u2", nil), ins(t, "ret", nil))
	if got := mustRun(t, m, Ptr{Mem: mem}); !got.Equal(Int32(0x9DC5)) {
		t.Errorf("ldind.u2 = %v, want 0x9DC5", got)
	}
	// Pointer arithmetic moves the window.
	setBody(m,
		ins(t, "ldarg.0", nil),
		ins(t, "ldc.i4.2", nil),
		ins(t, "add", nil),
		ins(t, "ldind.i1", nil),
		ins(t, "ret", nil),
	)
	if got := mustRun(t, m, Ptr{Mem: mem}); !got.Equal(Int32(0x1C)) {
		t.Errorf("ldind.i1 at +2 = %v, want 0x1C", got)
	}
	setBody(m, ins(t, "ldarg.0", nil), ins(t, "ldind.i4", nil), ins(t, "ret", nil))
	if got := mustRun(t, m, Ptr{Mem: mem}); !got.Equal(Int32(-0x7EE3623B)) {
		t.Errorf("ldind.i4 = %v, want 0x811C9DC5 as int32", got)
	}
}

func TestIndirectStore(t *testing.T) {
	mem := make([]byte, 4)
	m := staticMethod(t, "F", Void, &PointerType{Elem: UInt16})
	setBody(m,
		ins(t, "ldarg.0", nil),
		ins(t, "ldc.i4", int32(0xABCD)),
		ins(t, "stind.i2", nil),
		ins(t, "ret", nil),
	)
	mustRun(t, m, Ptr{Mem: mem})
	if mem[0] != 0xCD || mem[1] != 0xAB {
		t.Errorf("mem = %x, want little-endian 0xABCD", mem[:2])
	}
}

func TestIndirectAccessOutOfBounds(t *testing.T) {
	tests := []struct {
		name string
		op   string
		ptr  Ptr
	}{
		{"load at end", "ldind.u2", Ptr{Mem: make([]byte, 2), Off: 2}},
		{"load past end", "ldind.i4", Ptr{Mem: make([]byte, 4), Off: 8}},
		{"load partial", "ldind.i8", Ptr{Mem: make([]byte, 4), Off: 0}},
		{"load negative", "ldind.u1", Ptr{Mem: make([]byte, 2), Off: -1}},
		{"store at end", "stind.i2", Ptr{Mem: make([]byte, 2), Off: 2}},
		{"store partial", "stind.i4", Ptr{Mem: make([]byte, 4), Off: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := staticMethod(t, "F", Int32T, &PointerType{Elem: UInt16})
			if strings.HasPrefix(tt.op, "stind") {
				setBody(m,
					ins(t, "ldarg.0", nil),
					ins(t, "ldc.i4.1", nil),
					ins(t, tt.op, nil),
					ins(t, "ldc.i4.0", nil),
					ins(t, "ret", nil),
				)
			} else {
				setBody(m, ins(t, "ldarg.0", nil), ins(t, tt.op, nil), ins(t, "ret", nil))
			}
			_, err := NewVM().Run(m, tt.ptr)
			if err == nil || !strings.Contains(err.Error(), "out of bounds") {
				t.Errorf("%s at %d: want out-of-bounds error, got %v", tt.op, tt.ptr.Off, err)
			}
		})
	}
}

func TestStaticFields(t *testing.T) {
	mod := NewRegistry().NewModule("T")
	td := mod.AddType("T.Host")
	fld := td.AddField("counter", Int32T, true)
	m := td.AddMethod("Bump", Int32T, true)
	setBody(m,
		ins(t, "ldsfld", fld),
		ins(t, "ldc.i4.1", nil),
		ins(t, "add", nil),
		ins(t, "dup", nil),
		ins(t, "stsfld", fld),
		ins(t, "ret", nil),
	)
	vm := NewVM()
	for want := int32(1); want <= 3; want++ {
		got, err := vm.Run(m)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !got.Equal(Int32(want)) {
			t.Fatalf("bump %d = %v", want, got)
		}
	}
}

func TestCallAndInstanceFields(t *testing.T) {
	mod := NewRegistry().NewModule("T")
	td := mod.AddType("T.Counter")
	fld := td.AddField("n", Int32T, false)

	ctor := td.AddMethod(".ctor", Void, false)
	ctor.AddParam("start", Int32T)
	setBody(ctor,
		ins(t, "ldarg.0", nil),
		ins(t, "ldarg.1", nil),
		ins(t, "stfld", fld),
		ins(t, "ret", nil),
	)

	get := td.AddMethod("Get", Int32T, false)
	setBody(get, ins(t, "ldarg.0", nil), ins(t, "ldfld", fld), ins(t, "ret", nil))

	host := mod.AddType("T.Host")
	m := host.AddMethod("F", Int32T, true)
	setBody(m,
		ins(t, "ldc.i4", int32(41)),
		ins(t, "newobj", ctor),
		ins(t, "callvirt", get),
		ins(t, "ldc.i4.1", nil),
		ins(t, "add", nil),
		ins(t, "ret", nil),
	)
	if got := mustRun(t, m); !got.Equal(Int32(42)) {
		t.Errorf("got %v, want 42", got)
	}
}

func TestIndirectCall(t *testing.T) {
	mod := NewRegistry().NewModule("T")
	td := mod.AddType("T.Host")
	double := td.AddMethod("Double", Int32T, true)
	double.AddParam("x", Int32T)
	setBody(double, ins(t, "ldarg.0", nil), ins(t, "ldc.i4.2", nil), ins(t, "mul", nil), ins(t, "ret", nil))

	site := &CallSite{Return: Int32T, Params: []TypeRef{Int32T}}
	m := td.AddMethod("F", Int32T, true)
	setBody(m,
		ins(t, "ldc.i4", int32(21)),
		ins(t, "ldftn", double),
		ins(t, "calli", site),
		ins(t, "ret", nil),
	)
	if got := mustRun(t, m); !got.Equal(Int32(42)) {
		t.Errorf("got %v, want 42", got)
	}

	// Arity mismatch between the site and the target is an error.
	bad := &CallSite{Return: Int32T, Params: []TypeRef{Int32T, Int32T}}
	setBody(m,
		ins(t, "ldc.i4.1", nil),
		ins(t, "ldc.i4.2", nil),
		ins(t, "ldftn", double),
		ins(t, "calli", bad),
		ins(t, "ret", nil),
	)
	if _, err := NewVM().Run(m); err == nil || !strings.Contains(err.Error(), "calli signature") {
		t.Errorf("want signature mismatch, got %v", err)
	}
}

func TestThrow(t *testing.T) {
	m := staticMethod(t, "F", Void)
	setBody(m, push(t, Str("boom")), ins(t, "throw", nil), ins(t, "ret", nil))
	_, err := NewVM().Run(m)
	var re *RuntimeError
	if !errors.As(err, &re) {
		t.Fatalf("want RuntimeError, got %v", err)
	}
	if !re.Value.Equal(Str("boom")) {
		t.Errorf("thrown value = %v", re.Value)
	}
}

func TestStepLimit(t *testing.T) {
	m := staticMethod(t, "F", Void)
	setBody(m, ins(t, "br", 0), ins(t, "ret", nil))
	vm := NewVM()
	vm.MaxSteps = 1000
	if _, err := vm.Run(m); err == nil || !strings.Contains(err.Error(), "step limit") {
		t.Fatalf("want step limit error, got %v", err)
	}
}

func TestConversions(t *testing.T) {
	tests := []struct {
		op   string
		in   Value
		want Value
	}{
		{"conv.u1", Int32(0x1FF), Int32(0xFF)},
		{"conv.i1", Int32(0xFF), Int32(-1)},
		{"conv.u2", Int32(0x1FFFF), Int32(0xFFFF)},
		{"conv.i2", Int32(0xFFFF), Int32(-1)},
		{"conv.i4", Int64(1 << 33), Int32(0)},
		{"conv.i8", Int32(-1), Int64(-1)},
		{"conv.u8", Int32(-1), Int64(0xFFFFFFFF)},
		{"conv.r8", Int32(3), Float(3)},
		{"conv.i4", Float(3.9), Int32(3)},
	}
	for _, tt := range tests {
		m := staticMethod(t, "F", Int32T)
		setBody(m, push(t, tt.in), ins(t, tt.op, nil), ins(t, "ret", nil))
		if got := mustRun(t, m); !got.Equal(tt.want) {
			t.Errorf("%s(%v) = %v, want %v", tt.op, tt.in, got, tt.want)
		}
	}
}

func TestArrays(t *testing.T) {
	m := staticMethod(t, "F", Int32T)
	setBody(m,
		ins(t, "ldc.i4.5", nil),
		ins(t, "newarr", TypeRef(Int32T)),
		ins(t, "ldlen", nil),
		ins(t, "ret", nil),
	)
	if got := mustRun(t, m); !got.Equal(Int32(5)) {
		t.Errorf("ldlen = %v, want 5", got)
	}
}

func TestRunRejectsBadArity(t *testing.T) {
	m := staticMethod(t, "F", Void, Int32T)
	setBody(m, ins(t, "ret", nil))
	if _, err := NewVM().Run(m); err == nil {
		t.Error("want arity error")
	}
}

func TestUnsupportedOpcode(t *testing.T) {
	m := staticMethod(t, "F", Void)
	setBody(m, ins(t, "rethrow", nil), ins(t, "ret", nil))
	if _, err := NewVM().Run(m); err == nil || !strings.Contains(err.Error(), "not supported") {
		t.Errorf("want unsupported-opcode error, got %v", err)
	}
}
