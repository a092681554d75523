package ast

import (
	"github.com/micalang/mica/compiler/tp"
)

type (
	Node interface{}

	// Base carries the source range of a node as byte offsets.
	Base struct {
		Pos int
		End int
	}

	// ExprBase additionally carries what the checker derives for every
	// expression: its resolved type and whether evaluating it has
	// observable side effects.
	ExprBase struct {
		Base

		Type tp.Type
		Eff  bool
	}

	Expr interface {
		Node

		ExprType() tp.Type
		HasEffects() bool
	}

	File struct {
		Name string

		Types []*TypeDecl
		Funcs []*Func
	}

	TypeDecl struct {
		Base

		Name   string
		Fields []Field
	}

	Field struct {
		Pos  int
		Name string
		Type tp.Type
	}

	Func struct {
		Base

		Name   string
		Params []*Param
		Ret    tp.Type // nil for void
		Body   *Block
	}

	Param struct {
		Pos  int
		Name string
		Type tp.Type
		Sym  int // set by the checker
	}

	Block struct {
		Base

		Stmts []Node
	}

	// VarDecl covers both `var x T = e` and `x := e`.
	// Type is nil until the checker infers or resolves it.
	// X is nil for `var x T`, which zero-initializes.
	VarDecl struct {
		Base

		Name string
		Type tp.Type
		X    Expr

		Sym int // set by the checker
	}

	Assign struct {
		Base

		LHS Expr
		RHS Expr
	}

	If struct {
		Base

		Cond Expr
		Then *Block
		Else Node // nil, *If or *Block
	}

	While struct {
		Base

		Cond Expr
		Body *Block
	}

	DoWhile struct {
		Base

		Body *Block
		Cond Expr
	}

	// Loop is the unconditional `loop { ... }` construct.
	Loop struct {
		Base

		Body *Block
	}

	Break struct {
		Base
	}

	Continue struct {
		Base
	}

	Return struct {
		Base

		X Expr // nil in void functions
	}

	ExprStmt struct {
		Base

		X Expr
	}

	Ident struct {
		ExprBase

		Name string
		Sym  int // set by the checker
	}

	IntLit struct {
		ExprBase

		Value uint64
	}

	BoolLit struct {
		ExprBase

		Value bool
	}

	UnOp int

	Unary struct {
		ExprBase

		Op UnOp
		X  Expr
	}

	// Ref is the address-of operator &x.
	Ref struct {
		ExprBase

		X Expr
	}

	// Deref is the pointer dereference *p.
	Deref struct {
		ExprBase

		X Expr
	}

	BinOp int

	Binary struct {
		ExprBase

		Op   BinOp
		L, R Expr
	}

	Builtin int

	Call struct {
		ExprBase

		Name    string
		Args    []Expr
		Builtin Builtin // BuiltinNone for ordinary calls
	}

	// Cast is cast(T, x). The target type is the node's Type.
	Cast struct {
		ExprBase

		X Expr
	}

	Index struct {
		ExprBase

		X     Expr
		Index Expr
	}

	// Selector is struct field access x.f.
	// Offset is the field byte offset, set by the checker.
	Selector struct {
		ExprBase

		X      Expr
		Name   string
		Offset int
	}

	ArrayLit struct {
		ExprBase

		Elems []Expr
	}

	StructLit struct {
		ExprBase

		Name  string
		Elems []Expr
	}
)

const (
	UnNeg UnOp = iota // -x
	UnNot             // !x
	UnCom             // ~x
)

const (
	BinAdd BinOp = iota
	BinSub
	BinMul
	BinDiv
	BinMod
	BinAnd
	BinOr
	BinXor
	BinShl
	BinShr

	BinEq
	BinNe
	BinLt
	BinLe
	BinGt
	BinGe

	// Strict boolean ops. No short circuit: both sides always evaluate.
	BinLAnd
	BinLOr
)

const (
	BuiltinNone Builtin = iota
	BuiltinPrint
	BuiltinPutc
	BuiltinGetc
	BuiltinExit
)

func (b *Base) Position() int { return b.Pos }

func (b *ExprBase) ExprType() tp.Type { return b.Type }
func (b *ExprBase) HasEffects() bool  { return b.Eff }

// IsCompare reports whether the op yields a bool from two operands.
func (op BinOp) IsCompare() bool {
	return op >= BinEq && op <= BinGe
}

var binNames = []string{
	"+", "-", "*", "/", "%", "&", "|", "^", "<<", ">>",
	"==", "!=", "<", "<=", ">", ">=",
	"&&", "||",
}

func (op BinOp) String() string {
	if int(op) < len(binNames) {
		return binNames[op]
	}

	return "?"
}

var unNames = []string{"-", "!", "~"}

func (op UnOp) String() string {
	if int(op) < len(unNames) {
		return unNames[op]
	}

	return "?"
}
