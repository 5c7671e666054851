package asm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/silasm/sil/pkg/sil"
)

// generator builds one instruction from an operand string. Generators run
// at statement time; they never reference forward labels.
type generator func(ctx *Context, operand string) (*sil.Instruction, error)

type operandOp struct {
	op  *sil.OpCode
	gen generator
}

// The three mnemonic tables, split by operand class. Built once from the
// opcode table and read-only afterwards.
var (
	zeroOps    map[string]*sil.OpCode
	branchOps  map[string]*sil.OpCode
	operandOps map[string]operandOp
)

func init() {
	zeroOps = make(map[string]*sil.OpCode)
	branchOps = make(map[string]*sil.OpCode)
	operandOps = make(map[string]operandOp)
	for i := range sil.Opcodes {
		op := &sil.Opcodes[i]
		switch {
		case op.Operand == sil.OperandNone:
			zeroOps[op.Name] = op
		case op.IsBranch():
			branchOps[op.Name] = op
		default:
			operandOps[op.Name] = operandOp{op: op, gen: generatorFor(op)}
		}
	}
}

func generatorFor(op *sil.OpCode) generator {
	switch op.Operand {
	case sil.OperandInt8:
		return genInt8(op)
	case sil.OperandInt32:
		return genInt32(op)
	case sil.OperandInt64:
		return genInt64(op)
	case sil.OperandFloat32:
		return genFloat32(op)
	case sil.OperandFloat64:
		return genFloat64(op)
	case sil.OperandString:
		return genString(op)
	case sil.OperandVariable:
		return genVariable(op)
	case sil.OperandParameter:
		return genParameter(op)
	case sil.OperandField:
		return genField(op)
	case sil.OperandMethod:
		return genMethod(op)
	case sil.OperandType:
		return genType(op)
	case sil.OperandCallSite:
		return genCallSite(op)
	}
	panic(fmt.Sprintf("opcode %s has no generator", op.Name))
}

func parseIntOperand(ctx *Context, op *sil.OpCode, operand string, bits int) (int64, error) {
	n, err := strconv.ParseInt(operand, 0, bits)
	if err != nil {
		return 0, &SyntaxError{
			Method: ctx.method.FullName(),
			Stmt:   operand,
			Msg:    fmt.Sprintf("%s wants a %d-bit integer", op.Name, bits),
		}
	}
	return n, nil
}

func genInt8(op *sil.OpCode) generator {
	return func(ctx *Context, operand string) (*sil.Instruction, error) {
		n, err := parseIntOperand(ctx, op, operand, 8)
		if err != nil {
			return nil, err
		}
		return &sil.Instruction{OpCode: op, Operand: int8(n)}, nil
	}
}

func genInt32(op *sil.OpCode) generator {
	return func(ctx *Context, operand string) (*sil.Instruction, error) {
		// Accept the unsigned spelling of large constants too.
		n, err := strconv.ParseInt(operand, 0, 32)
		if err != nil {
			if u, uerr := strconv.ParseUint(operand, 0, 32); uerr == nil {
				n = int64(int32(uint32(u)))
			} else {
				return nil, &SyntaxError{
					Method: ctx.method.FullName(),
					Stmt:   operand,
					Msg:    fmt.Sprintf("%s wants a 32-bit integer", op.Name),
				}
			}
		}
		return &sil.Instruction{OpCode: op, Operand: int32(n)}, nil
	}
}

func genInt64(op *sil.OpCode) generator {
	return func(ctx *Context, operand string) (*sil.Instruction, error) {
		n, err := strconv.ParseInt(operand, 0, 64)
		if err != nil {
			if u, uerr := strconv.ParseUint(operand, 0, 64); uerr == nil {
				n = int64(u)
			} else {
				return nil, &SyntaxError{
					Method: ctx.method.FullName(),
					Stmt:   operand,
					Msg:    fmt.Sprintf("%s wants a 64-bit integer", op.Name),
				}
			}
		}
		return &sil.Instruction{OpCode: op, Operand: n}, nil
	}
}

func genFloat32(op *sil.OpCode) generator {
	return func(ctx *Context, operand string) (*sil.Instruction, error) {
		f, err := strconv.ParseFloat(operand, 32)
		if err != nil {
			return nil, &SyntaxError{Method: ctx.method.FullName(), Stmt: operand,
				Msg: fmt.Sprintf("%s wants a float", op.Name)}
		}
		return &sil.Instruction{OpCode: op, Operand: float32(f)}, nil
	}
}

func genFloat64(op *sil.OpCode) generator {
	return func(ctx *Context, operand string) (*sil.Instruction, error) {
		f, err := strconv.ParseFloat(operand, 64)
		if err != nil {
			return nil, &SyntaxError{Method: ctx.method.FullName(), Stmt: operand,
				Msg: fmt.Sprintf("%s wants a float", op.Name)}
		}
		return &sil.Instruction{OpCode: op, Operand: f}, nil
	}
}

func genString(op *sil.OpCode) generator {
	return func(ctx *Context, operand string) (*sil.Instruction, error) {
		s := operand
		if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
			s = s[1 : len(s)-1]
		}
		return &sil.Instruction{OpCode: op, Operand: s}, nil
	}
}

func genVariable(op *sil.OpCode) generator {
	return func(ctx *Context, operand string) (*sil.Instruction, error) {
		v, err := ctx.resolveLocal(operand)
		if err != nil {
			return nil, err
		}
		return &sil.Instruction{OpCode: op, Operand: v}, nil
	}
}

func genParameter(op *sil.OpCode) generator {
	return func(ctx *Context, operand string) (*sil.Instruction, error) {
		p, err := ctx.resolveParam(operand)
		if err != nil {
			return nil, err
		}
		return &sil.Instruction{OpCode: op, Operand: p}, nil
	}
}

func genField(op *sil.OpCode) generator {
	return func(ctx *Context, operand string) (*sil.Instruction, error) {
		f, err := ctx.ResolveField(operand)
		if err != nil {
			return nil, err
		}
		return &sil.Instruction{OpCode: op, Operand: f}, nil
	}
}

func genMethod(op *sil.OpCode) generator {
	return func(ctx *Context, operand string) (*sil.Instruction, error) {
		m, err := ctx.ResolveMethod(operand)
		if err != nil {
			return nil, err
		}
		return &sil.Instruction{OpCode: op, Operand: m}, nil
	}
}

func genType(op *sil.OpCode) generator {
	return func(ctx *Context, operand string) (*sil.Instruction, error) {
		t, err := ctx.ResolveType(operand)
		if err != nil {
			return nil, err
		}
		return &sil.Instruction{OpCode: op, Operand: t}, nil
	}
}

func genCallSite(op *sil.OpCode) generator {
	return func(ctx *Context, operand string) (*sil.Instruction, error) {
		site, err := ctx.ResolveCallSite(operand)
		if err != nil {
			return nil, err
		}
		return &sil.Instruction{OpCode: op, Operand: site}, nil
	}
}
