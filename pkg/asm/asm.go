package asm

import (
	"fmt"
	"strings"

	"github.com/silasm/sil/pkg/sil"
)

// constPrefix marks named-constant references in operands and is prepended
// to constant names internally so they cannot collide with locals/labels.
const constPrefix = "#"

// Context holds the mutable compilation state for one method. A Context is
// created fresh per method and discarded once the body is finalized.
type Context struct {
	method *sil.MethodDef
	body   *sil.MethodBody

	labels  map[string]int // lower-cased label -> instruction index
	pending []pendingBranch
	consts  map[string]string // "#name" (lower-cased) -> literal text
	modules []*sil.ModuleDef  // search order; declaring module first
}

// pendingBranch is a branch awaiting label resolution. The placeholder nop
// emitted at stmt time reserves the instruction slot; resolution replaces
// it by index.
type pendingBranch struct {
	labels string // label name, or comma-separated list for switch
	op     *sil.OpCode
	index  int
}

// NewContext creates the compilation state for one method. The search
// list for symbol resolution starts with the method's own module.
func NewContext(method *sil.MethodDef) *Context {
	return &Context{
		method:  method,
		body:    method.Body,
		labels:  make(map[string]int),
		consts:  make(map[string]string),
		modules: []*sil.ModuleDef{method.Declaring.Module},
	}
}

// Assemble compiles a source block into the method's body, replacing
// whatever was there. On error the body must be treated as forfeit.
func Assemble(method *sil.MethodDef, source string) error {
	ctx := NewContext(method)
	ctx.PrepareOverwrite()
	for _, stmt := range splitStatements(source) {
		if err := ctx.statement(stmt); err != nil {
			return err
		}
	}
	return ctx.Finish()
}

// splitStatements breaks a block into trimmed, comment-stripped
// statements. `;`, `\n`, and `\r` all separate statements; a trailing
// `//` comment binds to its own statement only.
func splitStatements(source string) []string {
	raw := strings.FieldsFunc(source, func(r rune) bool {
		return r == ';' || r == '\n' || r == '\r'
	})
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if i := strings.Index(s, "//"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// splitOperand separates a statement into mnemonic and operand at the
// first space.
func splitOperand(stmt string) (string, string) {
	if i := strings.IndexByte(stmt, ' '); i >= 0 {
		return stmt[:i], strings.TrimSpace(stmt[i+1:])
	}
	return stmt, ""
}

// statement processes one normalized statement.
func (ctx *Context) statement(stmt string) error {
	mnemonic, operand := splitOperand(stmt)

	// A #-prefixed operand names a constant, unless the mnemonic itself
	// lives in the directive namespace.
	if strings.HasPrefix(operand, constPrefix) && !strings.HasPrefix(mnemonic, constPrefix) {
		lit, ok := ctx.consts[strings.ToLower(operand)]
		if !ok {
			return &UnresolvedSymbolError{Method: ctx.method.FullName(), Kind: "constant", Name: operand}
		}
		operand = lit
	}

	// Label definition.
	if operand == "" && strings.HasSuffix(mnemonic, ":") {
		name := strings.TrimSuffix(mnemonic, ":")
		if name == "" {
			return ctx.syntax(stmt, "empty label name")
		}
		return ctx.DefineLabel(name)
	}

	switch mnemonic {
	case "#var":
		name, typeText := splitOperand(operand)
		if typeText == "" {
			return ctx.syntax(stmt, "#var wants a name and a type")
		}
		t, err := ctx.ResolveType(typeText)
		if err != nil {
			return ctx.wrap(stmt, err)
		}
		return ctx.DefineVariable(name, t)

	case "#asmref":
		if operand == "" {
			return ctx.syntax(stmt, "#asmref wants a module name")
		}
		return ctx.ImportModule(operand)

	case "#const":
		name, value := splitOperand(operand)
		if value == "" {
			return ctx.syntax(stmt, "#const wants a name and a value")
		}
		return ctx.DefineConstant(name, value)
	}

	if op, ok := zeroOps[mnemonic]; ok {
		if operand != "" {
			return ctx.syntax(stmt, fmt.Sprintf("%s takes no operand", mnemonic))
		}
		ctx.Emit(&sil.Instruction{OpCode: op})
		return nil
	}

	if op, ok := branchOps[mnemonic]; ok {
		if operand == "" {
			return ctx.syntax(stmt, fmt.Sprintf("%s wants a label", mnemonic))
		}
		// The label may not exist yet. Reserve the slot with a nop and
		// resolve in the patch pass.
		ctx.pending = append(ctx.pending, pendingBranch{
			labels: operand,
			op:     op,
			index:  len(ctx.body.Instructions),
		})
		ctx.Emit(&sil.Instruction{OpCode: sil.Lookup("nop")})
		return nil
	}

	if h, ok := operandOps[mnemonic]; ok {
		ins, err := h.gen(ctx, operand)
		if err != nil {
			return ctx.wrap(stmt, err)
		}
		ctx.Emit(ins)
		return nil
	}

	return ctx.syntax(stmt, fmt.Sprintf("unrecognized mnemonic %q", mnemonic))
}

// PrepareOverwrite clears the target body and all scratch state so the
// block compiles into a clean method.
func (ctx *Context) PrepareOverwrite() {
	ctx.body.Clear()
	ctx.labels = make(map[string]int)
	ctx.consts = make(map[string]string)
	ctx.pending = ctx.pending[:0]
}

// DefineVariable appends a typed local. Names are case-sensitive.
func (ctx *Context) DefineVariable(name string, t sil.TypeRef) error {
	for _, v := range ctx.body.Variables {
		if v.Name == name {
			return &DuplicateDefinitionError{Method: ctx.method.FullName(), Kind: "local", Name: name}
		}
	}
	ctx.body.AddVariable(name, t)
	return nil
}

// DefineLabel records the current append position. Names are
// case-insensitive.
func (ctx *Context) DefineLabel(name string) error {
	key := strings.ToLower(name)
	if _, ok := ctx.labels[key]; ok {
		return &DuplicateDefinitionError{Method: ctx.method.FullName(), Kind: "label", Name: name}
	}
	ctx.labels[key] = len(ctx.body.Instructions)
	return nil
}

// DefineConstant records a literal substitution. Names are
// case-insensitive and stored with the reserved prefix.
func (ctx *Context) DefineConstant(name, value string) error {
	key := constPrefix + strings.ToLower(name)
	if _, ok := ctx.consts[key]; ok {
		return &DuplicateDefinitionError{Method: ctx.method.FullName(), Kind: "constant", Name: name}
	}
	ctx.consts[key] = value
	return nil
}

// ImportModule adds a module to the symbol search list and records a
// durable assembly reference on the owning module.
func (ctx *Context) ImportModule(name string) error {
	owner := ctx.method.Declaring.Module
	mod, err := owner.ResolveModule(name)
	if err != nil {
		return &UnresolvedSymbolError{Method: ctx.method.FullName(), Kind: "module", Name: name}
	}
	for _, m := range ctx.modules {
		if m == mod {
			return nil
		}
	}
	ctx.modules = append(ctx.modules, mod)
	owner.RecordAssemblyRef(name)
	return nil
}

// Emit appends an instruction in program order.
func (ctx *Context) Emit(ins *sil.Instruction) {
	ctx.body.Append(ins)
}

// Finish runs the patch pass: resolve every pending branch, then make
// sure the body ends in a return or throw. A label declared after the
// last instruction resolves to one past the end; a branch to it needs
// an appended return to land on even when the body already terminates.
func (ctx *Context) Finish() error {
	trailing := false
	end := len(ctx.body.Instructions)
	for _, p := range ctx.pending {
		if p.op.Operand == sil.OperandTargets {
			parts := strings.Split(p.labels, ",")
			targets := make([]int, len(parts))
			for i, part := range parts {
				idx, ok := ctx.labels[strings.ToLower(strings.TrimSpace(part))]
				if !ok {
					return &UnresolvedLabelError{Method: ctx.method.FullName(), Label: strings.TrimSpace(part)}
				}
				if idx == end {
					trailing = true
				}
				targets[i] = idx
			}
			ctx.body.Replace(p.index, &sil.Instruction{OpCode: p.op, Operand: targets})
			continue
		}
		idx, ok := ctx.labels[strings.ToLower(p.labels)]
		if !ok {
			return &UnresolvedLabelError{Method: ctx.method.FullName(), Label: p.labels}
		}
		if idx == end {
			trailing = true
		}
		ctx.body.Replace(p.index, &sil.Instruction{OpCode: p.op, Operand: idx})
	}
	ctx.pending = ctx.pending[:0]

	ins := ctx.body.Instructions
	if len(ins) == 0 {
		ctx.Emit(&sil.Instruction{OpCode: sil.Lookup("nop")})
		ctx.Emit(&sil.Instruction{OpCode: sil.Lookup("ret")})
	} else if !ins[len(ins)-1].OpCode.IsTerminator() || trailing {
		ctx.Emit(&sil.Instruction{OpCode: sil.Lookup("ret")})
	}
	return nil
}

// Method returns the method under compilation.
func (ctx *Context) Method() *sil.MethodDef { return ctx.method }

func (ctx *Context) syntax(stmt, msg string) error {
	return &SyntaxError{Method: ctx.method.FullName(), Stmt: stmt, Msg: msg}
}

// wrap attaches the failing statement to an error coming out of a
// resolver or generator.
func (ctx *Context) wrap(stmt string, err error) error {
	return fmt.Errorf("statement %q: %w", stmt, err)
}
