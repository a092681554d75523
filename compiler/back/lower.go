package back

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/micalang/mica/compiler/ast"
	"github.com/micalang/mica/compiler/ir"
	"github.com/micalang/mica/compiler/tp"
	"github.com/micalang/mica/compiler/vm"
)

var idxType = tp.Int{Bits: 64, Signed: false}

var binOps = map[ast.BinOp]ir.BinOp{
	ast.BinAdd: ir.Add,
	ast.BinSub: ir.Sub,
	ast.BinMul: ir.Mul,
	ast.BinDiv: ir.Div,
	ast.BinMod: ir.Mod,
	ast.BinAnd: ir.And,
	ast.BinOr:  ir.Or,
	ast.BinXor: ir.Xor,
	ast.BinShl: ir.Shl,
	ast.BinShr: ir.Shr,

	// both sides are already evaluated, so strict logic is bitwise on 0/1
	ast.BinLAnd: ir.And,
	ast.BinLOr:  ir.Or,
}

var cmpOps = map[ast.BinOp]ir.Cond{
	ast.BinEq: ir.Eq,
	ast.BinNe: ir.Ne,
	ast.BinLt: ir.Lt,
	ast.BinLe: ir.Le,
	ast.BinGt: ir.Gt,
	ast.BinGe: ir.Ge,
}

var unOps = map[ast.UnOp]ir.UnOp{
	ast.UnNeg: ir.Neg,
	ast.UnNot: ir.Not,
	ast.UnCom: ir.Com,
}

var builtinEcall = map[ast.Builtin]int{
	ast.BuiltinPrint: vm.EcallPrint,
	ast.BuiltinPutc:  vm.EcallPutc,
	ast.BuiltinGetc:  vm.EcallGetc,
	ast.BuiltinExit:  vm.EcallExit,
}

// lowerFunc turns one checked function into IR. The input tree is
// assumed well typed, violations are backend bugs and panic.
func (p *pkgContext) lowerFunc(ctx context.Context, af *ast.Func) (f *ir.Func) {
	tr := tlog.SpanFromContext(ctx)

	f = &ir.Func{
		Name:  af.Name,
		Entry: p.NextLabel(),
		Exit:  p.NextLabel(),
		Code:  ir.NewList(),
		Scope: ir.NewScope(nil),
	}

	p.funContext = &funContext{Func: f}
	p.s = f.Scope

	if af.Ret != nil {
		f.RetTn = p.NextTn(af.Ret)
		f.Scope.SetRet(f.RetTn)
	}

	for _, pa := range af.Params {
		t := p.NextTn(pa.Type)

		f.Scope.Bind(pa.Sym, t)
		f.Params = append(f.Params, ir.Param{Name: pa.Name, Sym: pa.Sym, Tn: t})
	}

	p.block(af.Body, nil)

	p.push(ir.Mark{Label: f.Exit}, false)
	p.push(ir.Ret{}, false)

	if tr.If("dump_ir_func") {
		tr.Printw("lowered func", "ir", string(ir.AppendFunc(nil, f)))
	}

	return f
}

func (p *pkgContext) push(op any, eff bool) {
	p.Code.PushBack(op, eff)
}

func (p *pkgContext) block(b *ast.Block, loop *loopLabels) {
	s := p.s
	p.s = ir.NewScope(s)

	for _, st := range b.Stmts {
		p.lower(st, ir.Tn{}, loop)
	}

	p.s = s
}

// lower emits IR for one node. dst is the caller's "write the result
// here" temporary, the zero Tn if the caller does not care. The
// returned Tn holds the expression value, the zero Tn for statements.
func (p *pkgContext) lower(n ast.Node, dst ir.Tn, loop *loopLabels) ir.Tn {
	switch x := n.(type) {
	case *ast.Block:
		p.block(x, loop)
	case *ast.VarDecl:
		t := p.NextTn(x.Type)
		p.s.Bind(x.Sym, t)

		if x.X != nil {
			p.assign(t, x.X, loop)
		} else {
			p.push(ir.Mov{Dst: t, X: ir.Imm{Type: x.Type}}, false)
		}
	case *ast.Assign:
		p.lowerAssign(x, loop)
	case *ast.If:
		p.lowerIf(x, loop)
	case *ast.While:
		p.lowerWhile(x, loop)
	case *ast.DoWhile:
		p.lowerDoWhile(x, loop)
	case *ast.Loop:
		p.lowerLoop(x)
	case *ast.Break:
		if loop == nil {
			panic("break outside a loop")
		}

		p.push(ir.B{Label: loop.after}, false)
	case *ast.Continue:
		if loop == nil {
			panic("continue outside a loop")
		}

		to := loop.check
		if to == 0 {
			to = loop.start
		}

		p.push(ir.B{Label: to}, false)
	case *ast.Return:
		if x.X != nil {
			p.assign(p.s.Ret(), x.X, loop)
		}

		p.push(ir.B{Label: p.Exit}, false)
	case *ast.ExprStmt:
		p.lower(x.X, ir.Tn{}, loop)

	case *ast.Ident:
		t := p.bound(x.Sym, x.Name)

		if dst.Valid() && dst.ID != t.ID {
			p.push(ir.Mov{Dst: dst, X: t}, x.Eff)

			return dst
		}

		return t
	case *ast.IntLit:
		return p.movConst(dst, ir.Imm{Value: x.Value, Type: x.Type}, x.Eff)
	case *ast.BoolLit:
		var v uint64
		if x.Value {
			v = 1
		}

		return p.movConst(dst, ir.Imm{Value: v, Type: x.Type}, x.Eff)
	case *ast.Unary:
		v := p.value(x.X, loop)

		t := dst
		if !t.Valid() {
			t = p.NextTn(x.Type)
		}

		p.push(ir.Un{Op: unOps[x.Op], Dst: t, X: v}, x.Eff)

		return t
	case *ast.Binary:
		return p.lowerBinary(x, dst, loop)
	case *ast.Call:
		return p.lowerCall(x, dst, loop)
	case *ast.Cast:
		return p.lowerCast(x, dst, loop)
	case *ast.Ref:
		return p.addrOf(x.X, loop)
	case *ast.Deref:
		a := p.value(x.X, loop)

		t := dst
		if !t.Valid() {
			t = p.NextTn(x.Type)
		}

		p.push(ir.Load{Dst: t, Addr: a}, x.Eff)

		return t
	case *ast.Index:
		return p.load(p.addrOf(x, loop), x.Type, dst, x.Eff)
	case *ast.Selector:
		return p.load(p.addrOf(x, loop), x.Type, dst, x.Eff)
	case *ast.ArrayLit:
		return p.lowerLit(x, x.Elems, dst, loop)
	case *ast.StructLit:
		return p.lowerLit(x, x.Elems, dst, loop)
	default:
		panic(x)
	}

	return ir.Tn{}
}

// assign lowers rhs into the target temporary, adding a copy if the
// value landed elsewhere.
func (p *pkgContext) assign(t ir.Tn, rhs ast.Expr, loop *loopLabels) {
	v := p.lower(rhs, t, loop)
	if !v.Valid() {
		panic("expression has no value")
	}

	if v.ID != t.ID {
		p.push(ir.Mov{Dst: t, X: v}, false)
	}
}

func (p *pkgContext) lowerAssign(x *ast.Assign, loop *loopLabels) {
	switch l := x.LHS.(type) {
	case *ast.Ident:
		p.assign(p.bound(l.Sym, l.Name), x.RHS, loop)
	case *ast.Deref, *ast.Index, *ast.Selector:
		a := p.addrOf(x.LHS, loop)
		v := p.value(x.RHS, loop)

		p.push(ir.Store{Addr: a, X: v}, true)
	default:
		panic(l)
	}
}

// lowerBinary evaluates operands with no target and writes the result
// into the caller's target if there is one. Writing x = x + 1 straight
// to x is fine: operands are staged in scratch registers before the
// store.
func (p *pkgContext) lowerBinary(x *ast.Binary, dst ir.Tn, loop *loopLabels) ir.Tn {
	l := p.value(x.L, loop)
	r := p.value(x.R, loop)

	t := dst
	if !t.Valid() {
		t = p.NextTn(x.Type)
	}

	if x.Op.IsCompare() {
		p.push(ir.Cmp{Cond: cmpOps[x.Op], Dst: t, L: l, R: r}, x.Eff)
	} else {
		p.push(ir.Bin{Op: binOps[x.Op], Dst: t, L: l, R: r}, x.Eff)
	}

	return t
}

func (p *pkgContext) lowerCall(x *ast.Call, dst ir.Tn, loop *loopLabels) ir.Tn {
	args := make([]ir.Value, len(x.Args))

	for i, a := range x.Args {
		args[i] = p.value(a, loop)
	}

	if x.Type != nil && !dst.Valid() {
		dst = p.NextTn(x.Type)
	}

	if x.Type == nil {
		dst = ir.Tn{}
	}

	if x.Builtin != ast.BuiltinNone {
		p.push(ir.Ecall{Dst: dst, Num: builtinEcall[x.Builtin], Args: args}, x.Eff)

		return dst
	}

	ret := p.NextLabel()

	p.push(ir.Call{Dst: dst, Func: x.Name, Ret: ret, Args: args}, x.Eff)
	p.push(ir.Mark{Label: ret}, false)

	return dst
}

// lowerCast widens with an explicit extension op. Narrowing and
// same-size casts relabel the value's type, no bytes change.
func (p *pkgContext) lowerCast(x *ast.Cast, dst ir.Tn, loop *loopLabels) ir.Tn {
	from := x.X.ExprType().Size()
	to := x.Type.Size()

	if from < to {
		v := p.value(x.X, loop)

		if !dst.Valid() {
			dst = p.NextTn(x.Type)
		}

		p.push(ir.Conv{Dst: dst, X: v}, x.Eff)

		return dst
	}

	t := p.lower(x.X, dst, loop)

	return ir.Tn{ID: t.ID, Type: x.Type}
}

func (p *pkgContext) lowerIf(x *ast.If, loop *loopLabels) {
	after := p.NextLabel()

	for {
		c := p.value(x.Cond, loop)

		next := after
		if x.Else != nil {
			next = p.NextLabel()
		}

		p.push(ir.BCond{X: c, Z: true, Label: next}, false)
		p.block(x.Then, loop)
		p.push(ir.B{Label: after}, false)

		if x.Else == nil {
			break
		}

		p.push(ir.Mark{Label: next}, false)

		if e, ok := x.Else.(*ast.If); ok {
			x = e
			continue
		}

		p.block(x.Else.(*ast.Block), loop)

		break
	}

	p.push(ir.Mark{Label: after}, false)
}

func (p *pkgContext) lowerWhile(x *ast.While, loop *loopLabels) {
	start := p.NextLabel()
	check := p.NextLabel()
	after := p.NextLabel()

	p.push(ir.B{Label: check}, false)
	p.push(ir.Mark{Label: start}, false)

	p.block(x.Body, &loopLabels{start: start, check: check, after: after})

	p.push(ir.Mark{Label: check}, false)

	c := p.value(x.Cond, loop)

	p.push(ir.BCond{X: c, Z: false, Label: start}, false)
	p.push(ir.Mark{Label: after}, false)
}

func (p *pkgContext) lowerDoWhile(x *ast.DoWhile, loop *loopLabels) {
	start := p.NextLabel()
	check := p.NextLabel()
	after := p.NextLabel()

	p.push(ir.Mark{Label: start}, false)

	p.block(x.Body, &loopLabels{start: start, check: check, after: after})

	p.push(ir.Mark{Label: check}, false)

	c := p.value(x.Cond, loop)

	p.push(ir.BCond{X: c, Z: false, Label: start}, false)
	p.push(ir.Mark{Label: after}, false)
}

func (p *pkgContext) lowerLoop(x *ast.Loop) {
	start := p.NextLabel()
	after := p.NextLabel()

	p.push(ir.Mark{Label: start}, false)

	p.block(x.Body, &loopLabels{start: start, after: after})

	p.push(ir.B{Label: start}, false)
	p.push(ir.Mark{Label: after}, false)
}

// value lowers an operand position: literals embed as constants,
// anything else evaluates into a temporary.
func (p *pkgContext) value(x ast.Expr, loop *loopLabels) ir.Value {
	switch l := x.(type) {
	case *ast.IntLit:
		return ir.Imm{Value: l.Value, Type: l.Type}
	case *ast.BoolLit:
		var v uint64
		if l.Value {
			v = 1
		}

		return ir.Imm{Value: v, Type: l.Type}
	}

	if a, ok := constAgg(x); ok {
		return a
	}

	t := p.lower(x, ir.Tn{}, loop)
	if !t.Valid() {
		panic("expression has no value")
	}

	return t
}

func (p *pkgContext) load(a ir.Tn, t tp.Type, dst ir.Tn, eff bool) ir.Tn {
	if !dst.Valid() {
		dst = p.NextTn(t)
	}

	p.push(ir.Load{Dst: dst, Addr: a}, eff)

	return dst
}

// addrOf lowers an lvalue to a temporary holding its address.
func (p *pkgContext) addrOf(x ast.Expr, loop *loopLabels) ir.Tn {
	switch l := x.(type) {
	case *ast.Ident:
		t := p.bound(l.Sym, l.Name)

		a := p.NextTn(tp.Ptr{X: t.Type})
		p.push(ir.Ref{Dst: a, X: t}, false)

		return a
	case *ast.Deref:
		v := p.value(l.X, loop)

		t, ok := v.(ir.Tn)
		if !ok {
			panic("pointer is not addressable")
		}

		return t
	case *ast.Index:
		base := p.addrOf(l.X, loop)
		size := uint64(l.Type.Size())

		a := p.NextTn(tp.Ptr{X: l.Type})

		if i, ok := l.Index.(*ast.IntLit); ok {
			p.push(ir.Bin{Op: ir.Add, Dst: a, L: base, R: ir.Imm{Value: i.Value * size, Type: idxType}}, false)

			return a
		}

		i := p.value(l.Index, loop)

		m := p.NextTn(idxType)
		p.push(ir.Bin{Op: ir.Mul, Dst: m, L: i, R: ir.Imm{Value: size, Type: idxType}}, false)
		p.push(ir.Bin{Op: ir.Add, Dst: a, L: base, R: m}, false)

		return a
	case *ast.Selector:
		base := p.addrOf(l.X, loop)

		if l.Offset == 0 {
			return ir.Tn{ID: base.ID, Type: tp.Ptr{X: l.Type}}
		}

		a := p.NextTn(tp.Ptr{X: l.Type})
		p.push(ir.Bin{Op: ir.Add, Dst: a, L: base, R: ir.Imm{Value: uint64(l.Offset), Type: idxType}}, false)

		return a
	case *ast.ArrayLit, *ast.StructLit:
		// indexing a literal: materialize it, then take the address
		t := p.lower(x, ir.Tn{}, loop)

		a := p.NextTn(tp.Ptr{X: t.Type})
		p.push(ir.Ref{Dst: a, X: t}, false)

		return a
	default:
		panic(x)
	}
}

// lowerLit constructs an array or struct literal in dst. Fully
// constant literals become one Mov of an embedded aggregate, the
// emitter writes or copies the bytes. Otherwise the elements are
// stored one by one through an advancing pointer.
func (p *pkgContext) lowerLit(x ast.Expr, elems []ast.Expr, dst ir.Tn, loop *loopLabels) ir.Tn {
	if !dst.Valid() {
		dst = p.NextTn(x.ExprType())
	}

	if a, ok := constAgg(x); ok {
		p.push(ir.Mov{Dst: dst, X: a}, false)

		return dst
	}

	ptr := p.NextTn(tp.Ptr{X: x.ExprType()})
	p.push(ir.Ref{Dst: ptr, X: dst}, false)

	p.buildLit(ptr, elems, loop)

	return dst
}

// buildLit stores elements through ptr, advancing it past each one.
// Nested literals recurse with the same cursor, so the advance
// happens leaf by leaf.
func (p *pkgContext) buildLit(ptr ir.Tn, elems []ast.Expr, loop *loopLabels) {
	for _, e := range elems {
		switch l := e.(type) {
		case *ast.ArrayLit:
			p.buildLit(ptr, l.Elems, loop)

			continue
		case *ast.StructLit:
			p.buildLit(ptr, l.Elems, loop)

			continue
		}

		v := p.value(e, loop)
		p.push(ir.Store{Addr: ptr, X: v}, true)

		size := uint64(e.ExprType().Size())
		p.push(ir.Bin{Op: ir.Add, Dst: ptr, L: ptr, R: ir.Imm{Value: size, Type: idxType}}, false)
	}
}

func (p *pkgContext) movConst(dst ir.Tn, v ir.Imm, eff bool) ir.Tn {
	if !dst.Valid() {
		dst = p.NextTn(v.Type)
	}

	p.push(ir.Mov{Dst: dst, X: v}, eff)

	return dst
}

func (p *pkgContext) bound(sym int, name string) ir.Tn {
	t, ok := p.s.Lookup(sym)
	if !ok {
		panic("undefined symbol: " + name)
	}

	return t
}

// constAgg folds a literal whose leaves are all constants into an
// embedded aggregate value.
func constAgg(x ast.Expr) (ir.Agg, bool) {
	var elems []ast.Expr

	switch l := x.(type) {
	case *ast.ArrayLit:
		elems = l.Elems
	case *ast.StructLit:
		elems = l.Elems
	default:
		return ir.Agg{}, false
	}

	a := ir.Agg{Type: x.ExprType()}

	for _, e := range elems {
		switch v := e.(type) {
		case *ast.IntLit:
			a.Elems = append(a.Elems, ir.Imm{Value: v.Value, Type: v.Type})
		case *ast.BoolLit:
			var b uint64
			if v.Value {
				b = 1
			}

			a.Elems = append(a.Elems, ir.Imm{Value: b, Type: v.Type})
		default:
			sub, ok := constAgg(e)
			if !ok {
				return ir.Agg{}, false
			}

			a.Elems = append(a.Elems, sub)
		}
	}

	return a, true
}
