package asm

// Operand grammars, defined as Participle v2 struct tags. The entry
// points share one lexer: type references, member references,
// indirect-call signatures, and method signature headers.

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// typeExpr: a type reference. `parser:"[macro]"`, `parser:"!!T"`, or a qualified name,
// followed by any number of `parser:"*"` and an optional `parser:"pinned"` qualifier.
type typeExpr struct {
	Macro   *macroExpr `parser:"( \"[\" @@ \"]\""`
	Generic *string    `parser:"| \"!!\" @Ident"`
	Name    *string    `parser:"| @Ident )"`
	Stars   []string   `parser:"@\"*\"*"`
	Pinned  bool       `parser:"@\"pinned\"?"`
}

// macroExpr: the bracketed operand macros.
type macroExpr struct {
	Declaring bool    `parser:"  @\"declaringType\""`
	Param     *string `parser:"| (\"param\" | \"arg\") @Ident"`
	Var       *string `parser:"| \"var\" @(Ident | Int)"`
}

// memberExpr: `Type::Name` with a parenthesized parameter-type list for
// methods; fields have no list.
type memberExpr struct {
	Type *typeExpr `parser:"@@ \"::\""`
	Name string    `parser:"@Ident"`
	Args *argsExpr `parser:"@@?"`
}

type argsExpr struct {
	List []*typeExpr `parser:"\"(\" ( @@ ( \",\" @@ )* )? \")\""`
}

// callSiteExpr: calli operand, an optional calling convention followed by
// a return type and parameter-type list.
type callSiteExpr struct {
	Conv string      `parser:"@(\"default\" | \"cdecl\" | \"stdcall\" | \"thiscall\" | \"fastcall\" | \"vararg\")?"`
	Ret  *typeExpr   `parser:"@@"`
	Args []*typeExpr `parser:"\"(\" ( @@ ( \",\" @@ )* )? \")\""`
}

// sigExpr: a method signature header, used by module source loaders.
type sigExpr struct {
	Static bool        `parser:"@\"static\"?"`
	Ret    *typeExpr   `parser:"@@"`
	Name   string      `parser:"@Ident"`
	Params []*sigParam `parser:"\"(\" ( @@ ( \",\" @@ )* )? \")\""`
}

type sigParam struct {
	Type *typeExpr `parser:"@@"`
	Name string    `parser:"@Ident"`
}

var operandLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \t]+`},
	{Name: "DColon", Pattern: `::`},
	{Name: "DBang", Pattern: `!!`},
	{Name: "Star", Pattern: `\*`},
	{Name: "Punct", Pattern: `[\[\](),]`},
	{Name: "Int", Pattern: `\d+`},
	// Qualified names: dots, nested-type '/', generic '<T>' text, and a
	// leading dot for constructor names.
	{Name: "Ident", Pattern: `\.?[A-Za-z_][A-Za-z0-9_.$+/<>-]*`},
})

var operandOpts = []participle.Option{
	participle.Lexer(operandLexer),
	participle.Elide("Whitespace"),
	participle.UseLookahead(2),
}

var (
	typeParser     = participle.MustBuild[typeExpr](operandOpts...)
	memberParser   = participle.MustBuild[memberExpr](operandOpts...)
	callSiteParser = participle.MustBuild[callSiteExpr](operandOpts...)
	sigParser      = participle.MustBuild[sigExpr](operandOpts...)
)
