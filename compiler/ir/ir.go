package ir

import (
	"github.com/micalang/mica/compiler/tp"
)

type (
	// Tn is a virtual temporary: an id paired with the type of the
	// value it holds. Ids are unique for a whole compilation run.
	// The zero Tn means "no temporary".
	Tn struct {
		ID   int
		Type tp.Type
	}

	// Label is a jump target handle. It is resolved to a byte offset
	// after the whole package is emitted. Zero means "no label".
	Label int

	// Value is an operation operand: a Tn or an embedded constant
	// (Imm for scalars, Agg for constant aggregates).
	Value interface{}

	Imm struct {
		Value uint64
		Type  tp.Type
	}

	Agg struct {
		Elems []Value
		Type  tp.Type
	}

	BinOp int
	Cond  int

	// Bin is an arithmetic or bitwise operation: Dst = L op R.
	Bin struct {
		Op   BinOp
		Dst  Tn
		L, R Value
	}

	// Cmp writes 1 or 0 into Dst.
	Cmp struct {
		Cond Cond
		Dst  Tn
		L, R Value
	}

	UnOp int

	Un struct {
		Op  UnOp
		Dst Tn
		X   Value
	}

	// Load dereferences Addr: Dst = *(Addr).
	// The access size is the size of Dst's type.
	Load struct {
		Dst  Tn
		Addr Value
	}

	// Store writes through a pointer: *(Addr) = X.
	Store struct {
		Addr Value
		X    Value
	}

	// Ref takes the address of X's storage: Dst = &X.
	Ref struct {
		Dst Tn
		X   Tn
	}

	// Mov is an assignment: Dst = X.
	Mov struct {
		Dst Tn
		X   Value
	}

	// Conv widens X into Dst, zero or sign extending by X's type.
	Conv struct {
		Dst Tn
		X   Value
	}

	// Call transfers control to a function, arranging for execution
	// to resume at Ret, which the lowering engine marks immediately
	// after the call. Dst is the zero Tn for void calls.
	Call struct {
		Dst  Tn
		Func string
		Ret  Label
		Args []Value
	}

	// Ecall invokes the host: I/O and process exit.
	Ecall struct {
		Dst  Tn
		Num  int
		Args []Value
	}

	// B is an unconditional jump.
	B struct {
		Label Label
	}

	// BCond jumps to Label when X is zero (Z true) or non-zero (Z false).
	BCond struct {
		X     Value
		Z     bool
		Label Label
	}

	// Mark places a label at its list position.
	Mark struct {
		Label Label
	}

	// Ret stands for the function epilogue and return. The lowering
	// engine emits it exactly once per function, after the exit label.
	Ret struct{}

	Push struct {
		X Value
	}

	Pop struct {
		Dst Tn
	}

	Nop struct{}

	Param struct {
		Name string
		Sym  int
		Tn   Tn
	}

	// Func is one function's IR between lowering and emission.
	Func struct {
		Name string

		Entry, Exit Label

		Params []Param
		RetTn  Tn // zero for void

		Code  *List
		Scope *Scope
	}

	// Gen issues Tn and label ids. Both sequences are strictly
	// increasing for the lifetime of the generator.
	Gen struct {
		tn    int
		label int
	}
)

const (
	Add BinOp = iota
	Sub
	Mul
	Div
	Mod
	And
	Or
	Xor
	Shl
	Shr
)

const (
	Eq Cond = iota
	Ne
	Lt
	Le
	Gt
	Ge
)

const (
	Neg UnOp = iota // arithmetic negation
	Com             // bitwise complement
	Not             // boolean not
)

func (g *Gen) NextTn(t tp.Type) Tn {
	g.tn++

	return Tn{ID: g.tn, Type: t}
}

func (g *Gen) NextLabel() Label {
	g.label++

	return Label(g.label)
}

func (t Tn) Valid() bool { return t.ID != 0 }

var binNames = []string{"add", "sub", "mul", "div", "mod", "and", "or", "xor", "shl", "shr"}

func (op BinOp) String() string {
	if int(op) < len(binNames) {
		return binNames[op]
	}

	return "?"
}

var condNames = []string{"eq", "ne", "lt", "le", "gt", "ge"}

func (c Cond) String() string {
	if int(c) < len(condNames) {
		return condNames[c]
	}

	return "?"
}

var unNames = []string{"neg", "com", "not"}

func (op UnOp) String() string {
	if int(op) < len(unNames) {
		return unNames[op]
	}

	return "?"
}
