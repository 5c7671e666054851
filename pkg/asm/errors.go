// Package asm compiles a small line-oriented assembly language into a
// method body: mnemonics, labels, typed locals, named constants, and
// operand macros resolved against a set of loaded modules.
package asm

import "fmt"

// SyntaxError reports a malformed directive, an unrecognized mnemonic, or
// a missing/forbidden operand.
type SyntaxError struct {
	Method string
	Stmt   string
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s: %s (in %q)", e.Method, e.Msg, e.Stmt)
}

// DuplicateDefinitionError reports a local, label, or constant name reused
// within one method.
type DuplicateDefinitionError struct {
	Method string
	Kind   string // "local", "label", "constant"
	Name   string
}

func (e *DuplicateDefinitionError) Error() string {
	return fmt.Sprintf("%s: %s %q is already defined", e.Method, e.Kind, e.Name)
}

// UnresolvedSymbolError reports a type, parameter, local, field, method,
// generic parameter, constant, or module that could not be found.
type UnresolvedSymbolError struct {
	Method string
	Kind   string
	Name   string
}

func (e *UnresolvedSymbolError) Error() string {
	return fmt.Sprintf("%s: cannot resolve %s %q", e.Method, e.Kind, e.Name)
}

// UnresolvedLabelError reports a branch whose label was never defined by
// the end of the block.
type UnresolvedLabelError struct {
	Method string
	Label  string
}

func (e *UnresolvedLabelError) Error() string {
	return fmt.Sprintf("%s: branch label %q is never defined", e.Method, e.Label)
}
