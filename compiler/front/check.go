package front

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/micalang/mica/compiler/ast"
	"github.com/micalang/mica/compiler/tp"
)

type (
	checker struct {
		*State

		decls map[string]*ast.TypeDecl
		types map[string]tp.Struct
		funcs map[string]tp.Func

		m *SymTab

		fs   *funcSyms
		sc   *cscope
		deep int
	}

	cscope struct {
		par  *cscope
		vars map[string]int
	}
)

var builtins = map[string]ast.Builtin{
	"print": ast.BuiltinPrint,
	"putc":  ast.BuiltinPutc,
	"getc":  ast.BuiltinGetc,
	"exit":  ast.BuiltinExit,
}

var (
	intType  = tp.Int{Bits: 64, Signed: true}
	byteType = tp.Int{Bits: 8}
)

// Check resolves types and names in the file. Every expression gets
// its type and effect flag, every local a symbol id, every selector
// its field offset. The returned table is what the backend compiles
// against.
func (s *State) Check(ctx context.Context, f *ast.File) (m *SymTab, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "front: check", "name", f.Name, "types", len(f.Types), "funcs", len(f.Funcs))
	defer tr.Finish("err", &err)

	c := &checker{
		State: s,
		decls: map[string]*ast.TypeDecl{},
		types: map[string]tp.Struct{},
		funcs: map[string]tp.Func{},
		m:     newSymTab(s),
	}

	err = c.collect(f)
	if err != nil {
		return nil, err
	}

	for _, fn := range f.Funcs {
		err = c.checkFunc(ctx, fn)
		if err != nil {
			return nil, errors.Wrap(err, "func %v", fn.Name)
		}
	}

	return c.m, nil
}

func (c *checker) collect(f *ast.File) (err error) {
	for _, d := range f.Types {
		if _, ok := builtinTypes[d.Name]; ok {
			return errors.New("%v: cannot redeclare builtin type %v", c.PosString(d.Pos), d.Name)
		}

		if _, ok := c.decls[d.Name]; ok {
			return errors.New("%v: type %v redeclared", c.PosString(d.Pos), d.Name)
		}

		c.decls[d.Name] = d
	}

	for _, d := range f.Types {
		c.types[d.Name], err = c.structType(d, map[string]bool{d.Name: true})
		if err != nil {
			return errors.Wrap(err, "type %v", d.Name)
		}
	}

	for _, fn := range f.Funcs {
		if _, ok := builtins[fn.Name]; ok {
			return errors.New("%v: %v is a builtin", c.PosString(fn.Pos), fn.Name)
		}

		if _, ok := c.funcs[fn.Name]; ok {
			return errors.New("%v: func %v redeclared", c.PosString(fn.Pos), fn.Name)
		}

		var sig tp.Func

		for _, pa := range fn.Params {
			pa.Type, err = c.resolve(pa.Pos, pa.Type, nil)
			if err != nil {
				return errors.Wrap(err, "func %v", fn.Name)
			}

			if pa.Type.Size() < 0 {
				return errors.New("%v: size of parameter %v is not known at compile time", c.PosString(pa.Pos), pa.Name)
			}

			sig.In = append(sig.In, pa.Type)
		}

		if fn.Ret != nil {
			fn.Ret, err = c.resolve(fn.Pos, fn.Ret, nil)
			if err != nil {
				return errors.Wrap(err, "func %v", fn.Name)
			}

			if !tp.IsScalar(fn.Ret) {
				return errors.New("%v: func %v returns %v: only scalar returns are supported", c.PosString(fn.Pos), fn.Name, fn.Ret)
			}
		}

		sig.Out = fn.Ret
		c.funcs[fn.Name] = sig
	}

	main, ok := c.funcs["main"]
	if !ok {
		return errors.New("main is not defined")
	}

	if len(main.In) != 0 || main.Out != nil {
		return errors.New("main must take no arguments and return nothing")
	}

	return nil
}

func (c *checker) structType(d *ast.TypeDecl, path map[string]bool) (st tp.Struct, err error) {
	st = tp.Struct{Name: d.Name}

	seen := map[string]bool{}
	off := 0

	for _, f := range d.Fields {
		if seen[f.Name] {
			return st, errors.New("%v: field %v redeclared", c.PosString(f.Pos), f.Name)
		}

		seen[f.Name] = true

		ft, err := c.resolve(f.Pos, f.Type, path)
		if err != nil {
			return st, err
		}

		st.Fields = append(st.Fields, tp.StructField{Name: f.Name, Offset: off, Type: ft})

		if s := ft.Size(); s >= 0 {
			off += s
		}
	}

	return st, nil
}

// resolve replaces type names with their declared structs. A name on
// the path is a value cycle: it stays by name with unknown size and
// only errors if such a value is ever allocated. Pointers keep struct
// names, the pointee resolves at the use site, which is what lets
// self referential types work at all.
func (c *checker) resolve(pos int, t tp.Type, path map[string]bool) (tp.Type, error) {
	switch t := t.(type) {
	case tp.Name:
		d, ok := c.decls[string(t)]
		if !ok {
			return nil, errors.New("%v: undefined type: %v", c.PosString(pos), t)
		}

		if path[string(t)] {
			return t, nil
		}

		if st, ok := c.types[string(t)]; ok {
			return st, nil
		}

		sub := map[string]bool{string(t): true}
		for n := range path {
			sub[n] = true
		}

		return c.structType(d, sub)
	case tp.Ptr:
		if n, ok := t.X.(tp.Name); ok {
			if _, ok := c.decls[string(n)]; !ok {
				return nil, errors.New("%v: undefined type: %v", c.PosString(pos), n)
			}

			return t, nil
		}

		x, err := c.resolve(pos, t.X, path)
		if err != nil {
			return nil, err
		}

		return tp.Ptr{X: x}, nil
	case tp.Array:
		x, err := c.resolve(pos, t.X, path)
		if err != nil {
			return nil, err
		}

		return tp.Array{X: x, Len: t.Len}, nil
	default:
		return t, nil
	}
}

// value resolves a by-name pointee to its declared struct.
func (c *checker) value(t tp.Type) tp.Type {
	if n, ok := t.(tp.Name); ok {
		if st, ok := c.types[string(n)]; ok {
			return st
		}
	}

	return t
}

// ptrTo keeps declared structs by name under pointers so pointer
// types compare equal wherever they were spelled.
func (c *checker) ptrTo(t tp.Type) tp.Type {
	if st, ok := t.(tp.Struct); ok && st.Name != "" {
		return tp.Ptr{X: tp.Name(st.Name)}
	}

	return tp.Ptr{X: t}
}

func (c *checker) checkFunc(ctx context.Context, fn *ast.Func) (err error) {
	tr := tlog.SpanFromContext(ctx)

	c.fs = &funcSyms{sig: c.funcs[fn.Name]}
	c.m.funcs[fn.Name] = c.fs
	c.sc = &cscope{vars: map[string]int{}}
	c.deep = 0

	for _, pa := range fn.Params {
		pa.Sym, err = c.define(pa.Pos, pa.Name, pa.Type)
		if err != nil {
			return err
		}
	}

	err = c.checkBlock(fn.Body)
	if err != nil {
		return err
	}

	if fn.Ret != nil && !terminates(fn.Body) {
		return errors.New("%v: missing return", c.PosString(fn.End))
	}

	if tr.If("check_func") {
		tr.Printw("checked func", "name", fn.Name, "params", len(fn.Params), "locals", len(c.fs.locals))
	}

	return nil
}

func (c *checker) define(pos int, name string, t tp.Type) (int, error) {
	if _, ok := c.sc.vars[name]; ok {
		return 0, errors.New("%v: %v redeclared in this scope", c.PosString(pos), name)
	}

	id := len(c.fs.locals)

	c.fs.locals = append(c.fs.locals, local{name: name, typ: t, pos: pos})
	c.sc.vars[name] = id

	return id, nil
}

func (c *checker) lookup(name string) (int, bool) {
	for sc := c.sc; sc != nil; sc = sc.par {
		if id, ok := sc.vars[name]; ok {
			return id, true
		}
	}

	return 0, false
}

func (c *checker) checkBlock(b *ast.Block) error {
	c.sc = &cscope{par: c.sc, vars: map[string]int{}}
	defer func() { c.sc = c.sc.par }()

	for _, s := range b.Stmts {
		err := c.checkStmt(s)
		if err != nil {
			return err
		}
	}

	return nil
}

func (c *checker) checkStmt(n ast.Node) (err error) {
	switch x := n.(type) {
	case *ast.VarDecl:
		return c.checkVarDecl(x)
	case *ast.Assign:
		return c.checkAssign(x)
	case *ast.If:
		return c.checkIf(x)
	case *ast.While:
		err = c.checkCond(x.Cond)
		if err != nil {
			return err
		}

		return c.loopBody(x.Body)
	case *ast.DoWhile:
		err = c.loopBody(x.Body)
		if err != nil {
			return err
		}

		return c.checkCond(x.Cond)
	case *ast.Loop:
		return c.loopBody(x.Body)
	case *ast.Break:
		if c.deep == 0 {
			return errors.New("%v: break outside a loop", c.PosString(x.Pos))
		}
	case *ast.Continue:
		if c.deep == 0 {
			return errors.New("%v: continue outside a loop", c.PosString(x.Pos))
		}
	case *ast.Return:
		return c.checkReturn(x)
	case *ast.ExprStmt:
		call, ok := x.X.(*ast.Call)
		if !ok {
			return errors.New("%v: expression value is not used", c.PosString(x.Pos))
		}

		return c.checkExpr(call, nil)
	default:
		panic(n)
	}

	return nil
}

func (c *checker) checkVarDecl(x *ast.VarDecl) (err error) {
	if x.Type != nil {
		x.Type, err = c.resolve(x.Pos, x.Type, nil)
		if err != nil {
			return err
		}
	}

	if x.X != nil {
		err = c.checkExpr(x.X, x.Type)
		if err != nil {
			return err
		}

		xt := x.X.ExprType()
		if xt == nil {
			return errors.New("%v: expression has no value", c.PosString(x.Pos))
		}

		if x.Type == nil {
			x.Type = xt
		} else if !tp.Equal(x.Type, xt) {
			return errors.New("%v: cannot assign %v to %v", c.PosString(x.Pos), xt, x.Type)
		}
	}

	x.Sym, err = c.define(x.Pos, x.Name, x.Type)

	return err
}

func (c *checker) checkAssign(x *ast.Assign) (err error) {
	err = c.checkExpr(x.LHS, nil)
	if err != nil {
		return err
	}

	if !lvalue(x.LHS) {
		return errors.New("%v: cannot assign to this expression", c.PosString(x.Pos))
	}

	err = c.checkExpr(x.RHS, x.LHS.ExprType())
	if err != nil {
		return err
	}

	if !tp.Equal(x.LHS.ExprType(), x.RHS.ExprType()) {
		return errors.New("%v: cannot assign %v to %v", c.PosString(x.Pos), x.RHS.ExprType(), x.LHS.ExprType())
	}

	return nil
}

func (c *checker) checkIf(x *ast.If) (err error) {
	err = c.checkCond(x.Cond)
	if err != nil {
		return err
	}

	err = c.checkBlock(x.Then)
	if err != nil {
		return err
	}

	switch e := x.Else.(type) {
	case nil:
	case *ast.If:
		return c.checkIf(e)
	case *ast.Block:
		return c.checkBlock(e)
	}

	return nil
}

func (c *checker) checkCond(x ast.Expr) error {
	err := c.checkExpr(x, tp.Bool{})
	if err != nil {
		return err
	}

	if _, ok := x.ExprType().(tp.Bool); !ok {
		return errors.New("%v: condition must be bool, got %v", c.PosString(nodePos(x)), x.ExprType())
	}

	return nil
}

func (c *checker) loopBody(b *ast.Block) error {
	c.deep++
	defer func() { c.deep-- }()

	return c.checkBlock(b)
}

func (c *checker) checkReturn(x *ast.Return) (err error) {
	ret := c.fs.sig.Out

	if ret == nil {
		if x.X != nil {
			return errors.New("%v: unexpected return value", c.PosString(x.Pos))
		}

		return nil
	}

	if x.X == nil {
		return errors.New("%v: missing return value", c.PosString(x.Pos))
	}

	err = c.checkExpr(x.X, ret)
	if err != nil {
		return err
	}

	if !tp.Equal(ret, x.X.ExprType()) {
		return errors.New("%v: cannot return %v as %v", c.PosString(x.Pos), x.X.ExprType(), ret)
	}

	return nil
}

// checkExpr types the expression. want is the context type for
// literal adoption, nil when the context dictates nothing. Equality
// with want is still on the caller.
func (c *checker) checkExpr(x ast.Expr, want tp.Type) (err error) {
	switch x := x.(type) {
	case *ast.IntLit:
		return c.adopt(x, want, false)
	case *ast.BoolLit:
		x.Type = tp.Bool{}
	case *ast.Ident:
		id, ok := c.lookup(x.Name)
		if !ok {
			return errors.New("%v: undefined: %v", c.PosString(x.Pos), x.Name)
		}

		x.Sym = id
		x.Type = c.fs.locals[id].typ
	case *ast.Unary:
		return c.checkUnary(x, want)
	case *ast.Ref:
		return c.checkRef(x)
	case *ast.Deref:
		err = c.checkExpr(x.X, nil)
		if err != nil {
			return err
		}

		pt, ok := x.X.ExprType().(tp.Ptr)
		if !ok {
			return errors.New("%v: cannot dereference %v", c.PosString(x.Pos), x.X.ExprType())
		}

		x.Type = c.value(pt.X)
		x.Eff = x.X.HasEffects()
	case *ast.Binary:
		return c.checkBinary(x, want)
	case *ast.Call:
		return c.checkCall(x)
	case *ast.Cast:
		return c.checkCast(x)
	case *ast.Index:
		return c.checkIndex(x)
	case *ast.Selector:
		return c.checkSelector(x)
	case *ast.ArrayLit:
		return c.checkArrayLit(x, want)
	case *ast.StructLit:
		return c.checkStructLit(x)
	default:
		panic(x)
	}

	return nil
}

// adopt types an integer literal from context, i64 if the context
// does not say. neg allows the magnitude of the most negative value.
func (c *checker) adopt(l *ast.IntLit, want tp.Type, neg bool) error {
	t, ok := want.(tp.Int)
	if !ok {
		t = intType
	}

	var max uint64

	switch {
	case neg && !t.Signed:
		max = 0
	case neg:
		max = uint64(1) << (t.Bits - 1)
	case t.Signed:
		max = uint64(1)<<(t.Bits-1) - 1
	case t.Bits == 64:
		max = ^uint64(0)
	default:
		max = uint64(1)<<t.Bits - 1
	}

	if l.Value > max {
		if neg {
			return errors.New("%v: constant -%v overflows %v", c.PosString(l.Pos), l.Value, t)
		}

		return errors.New("%v: constant %v overflows %v", c.PosString(l.Pos), l.Value, t)
	}

	l.Type = t

	return nil
}

func (c *checker) checkUnary(x *ast.Unary, want tp.Type) (err error) {
	switch x.Op {
	case ast.UnNeg:
		if l, ok := x.X.(*ast.IntLit); ok {
			err = c.adopt(l, want, true)
		} else {
			err = c.checkExpr(x.X, want)
		}

		if err != nil {
			return err
		}

		if !tp.IsInt(x.X.ExprType()) {
			return errors.New("%v: cannot negate %v", c.PosString(x.Pos), x.X.ExprType())
		}
	case ast.UnCom:
		err = c.checkExpr(x.X, want)
		if err != nil {
			return err
		}

		if !tp.IsInt(x.X.ExprType()) {
			return errors.New("%v: cannot complement %v", c.PosString(x.Pos), x.X.ExprType())
		}
	case ast.UnNot:
		err = c.checkExpr(x.X, tp.Bool{})
		if err != nil {
			return err
		}

		if _, ok := x.X.ExprType().(tp.Bool); !ok {
			return errors.New("%v: ! needs a bool, got %v", c.PosString(x.Pos), x.X.ExprType())
		}
	default:
		panic(x.Op)
	}

	x.Type = x.X.ExprType()
	x.Eff = x.X.HasEffects()

	return nil
}

func (c *checker) checkRef(x *ast.Ref) (err error) {
	err = c.checkExpr(x.X, nil)
	if err != nil {
		return err
	}

	if !lvalue(x.X) {
		return errors.New("%v: cannot take the address of this expression", c.PosString(x.Pos))
	}

	x.Type = c.ptrTo(x.X.ExprType())
	x.Eff = x.X.HasEffects()

	return nil
}

func (c *checker) checkBinary(x *ast.Binary, want tp.Type) (err error) {
	switch {
	case x.Op == ast.BinLAnd || x.Op == ast.BinLOr:
		err = c.checkPair(x, tp.Bool{})
		if err != nil {
			return err
		}

		if _, ok := x.L.ExprType().(tp.Bool); !ok {
			return errors.New("%v: %v needs bool operands, got %v", c.PosString(x.Pos), x.Op, x.L.ExprType())
		}

		x.Type = tp.Bool{}
	case x.Op.IsCompare():
		err = c.checkPair(x, nil)
		if err != nil {
			return err
		}

		t := x.L.ExprType()

		ok := tp.IsInt(t)
		if x.Op == ast.BinEq || x.Op == ast.BinNe {
			switch t.(type) {
			case tp.Bool, tp.Ptr:
				ok = true
			}
		}

		if !ok {
			return errors.New("%v: cannot compare %v values with %v", c.PosString(x.Pos), t, x.Op)
		}

		x.Type = tp.Bool{}
	default:
		err = c.checkPair(x, want)
		if err != nil {
			return err
		}

		if !tp.IsInt(x.L.ExprType()) {
			return errors.New("%v: operator %v needs integer operands, got %v", c.PosString(x.Pos), x.Op, x.L.ExprType())
		}

		x.Type = x.L.ExprType()
	}

	x.Eff = x.L.HasEffects() || x.R.HasEffects()

	return nil
}

// checkPair checks both operands, literals adopting the other side's
// type, and requires the types to match.
func (c *checker) checkPair(x *ast.Binary, want tp.Type) (err error) {
	if lit(x.L) && !lit(x.R) {
		err = c.checkExpr(x.R, want)
		if err != nil {
			return err
		}

		err = c.checkExpr(x.L, x.R.ExprType())
	} else {
		err = c.checkExpr(x.L, want)
		if err != nil {
			return err
		}

		err = c.checkExpr(x.R, x.L.ExprType())
	}

	if err != nil {
		return err
	}

	if !tp.Equal(x.L.ExprType(), x.R.ExprType()) {
		return errors.New("%v: mismatched types %v and %v", c.PosString(x.Pos), x.L.ExprType(), x.R.ExprType())
	}

	return nil
}

// lit reports a literal whose type fully comes from context.
func lit(x ast.Expr) bool {
	switch l := x.(type) {
	case *ast.IntLit:
		return true
	case *ast.Unary:
		return l.Op == ast.UnNeg && lit(l.X)
	}

	return false
}

func lvalue(x ast.Expr) bool {
	switch l := x.(type) {
	case *ast.Ident:
		return true
	case *ast.Deref:
		return true
	case *ast.Index:
		return lvalue(l.X)
	case *ast.Selector:
		return lvalue(l.X)
	}

	return false
}

func (c *checker) checkCall(x *ast.Call) (err error) {
	if b, ok := builtins[x.Name]; ok {
		return c.checkBuiltin(x, b)
	}

	sig, ok := c.funcs[x.Name]
	if !ok {
		return errors.New("%v: undefined: %v", c.PosString(x.Pos), x.Name)
	}

	if len(x.Args) != len(sig.In) {
		return errors.New("%v: %v takes %v arguments, got %v", c.PosString(x.Pos), x.Name, len(sig.In), len(x.Args))
	}

	for i, a := range x.Args {
		err = c.checkExpr(a, sig.In[i])
		if err != nil {
			return err
		}

		if !tp.Equal(a.ExprType(), sig.In[i]) {
			return errors.New("%v: argument %v of %v must be %v, got %v", c.PosString(x.Pos), i+1, x.Name, sig.In[i], a.ExprType())
		}
	}

	x.Type = sig.Out
	x.Eff = true

	return nil
}

func (c *checker) checkBuiltin(x *ast.Call, b ast.Builtin) (err error) {
	x.Builtin = b
	x.Eff = true

	var in []tp.Type

	switch b {
	case ast.BuiltinPrint:
		in = []tp.Type{intType}
	case ast.BuiltinPutc:
		in = []tp.Type{byteType}
	case ast.BuiltinGetc:
		x.Type = intType
	case ast.BuiltinExit:
		in = []tp.Type{intType}
	}

	if len(x.Args) != len(in) {
		return errors.New("%v: %v takes %v arguments, got %v", c.PosString(x.Pos), x.Name, len(in), len(x.Args))
	}

	for i, a := range x.Args {
		err = c.checkExpr(a, in[i])
		if err != nil {
			return err
		}

		if !tp.Equal(a.ExprType(), in[i]) {
			return errors.New("%v: %v argument must be %v, got %v", c.PosString(x.Pos), x.Name, in[i], a.ExprType())
		}
	}

	return nil
}

func (c *checker) checkCast(x *ast.Cast) (err error) {
	x.Type, err = c.resolve(x.Pos, x.Type, nil)
	if err != nil {
		return err
	}

	err = c.checkExpr(x.X, nil)
	if err != nil {
		return err
	}

	if !castOK(x.X.ExprType(), x.Type) {
		return errors.New("%v: cannot cast %v to %v", c.PosString(x.Pos), x.X.ExprType(), x.Type)
	}

	x.Eff = x.X.HasEffects()

	return nil
}

// castOK: integers convert between each other, pointers convert
// between each other and 64 bit integers, bool widens to integers.
func castOK(from, to tp.Type) bool {
	switch from := from.(type) {
	case tp.Int:
		if _, ok := to.(tp.Int); ok {
			return true
		}

		if _, ok := to.(tp.Ptr); ok {
			return from.Bits == 64
		}
	case tp.Ptr:
		switch to := to.(type) {
		case tp.Ptr:
			return true
		case tp.Int:
			return to.Bits == 64
		}
	case tp.Bool:
		_, ok := to.(tp.Int)
		return ok
	}

	return false
}

func (c *checker) checkIndex(x *ast.Index) (err error) {
	err = c.checkExpr(x.X, nil)
	if err != nil {
		return err
	}

	at, ok := x.X.ExprType().(tp.Array)
	if !ok {
		return errors.New("%v: cannot index %v", c.PosString(x.Pos), x.X.ExprType())
	}

	err = c.checkExpr(x.Index, intType)
	if err != nil {
		return err
	}

	if !tp.IsInt(x.Index.ExprType()) {
		return errors.New("%v: array index must be an integer, got %v", c.PosString(x.Pos), x.Index.ExprType())
	}

	if l, ok := x.Index.(*ast.IntLit); ok && l.Value >= uint64(at.Len) {
		return errors.New("%v: index %v out of bounds [0:%v]", c.PosString(x.Pos), l.Value, at.Len)
	}

	x.Type = at.X
	x.Eff = x.X.HasEffects() || x.Index.HasEffects()

	return nil
}

func (c *checker) checkSelector(x *ast.Selector) (err error) {
	err = c.checkExpr(x.X, nil)
	if err != nil {
		return err
	}

	st, ok := x.X.ExprType().(tp.Struct)
	if !ok {
		return errors.New("%v: %v has no fields", c.PosString(x.Pos), x.X.ExprType())
	}

	for _, f := range st.Fields {
		if f.Name != x.Name {
			continue
		}

		x.Offset = f.Offset
		x.Type = f.Type
		x.Eff = x.X.HasEffects()

		return nil
	}

	return errors.New("%v: %v has no field %v", c.PosString(x.Pos), st, x.Name)
}

func (c *checker) checkArrayLit(x *ast.ArrayLit, want tp.Type) (err error) {
	at, ok := want.(tp.Array)
	if ok {
		if len(x.Elems) != at.Len {
			return errors.New("%v: %v literal needs %v elements, got %v", c.PosString(x.Pos), at, at.Len, len(x.Elems))
		}
	} else {
		if len(x.Elems) == 0 {
			return errors.New("%v: cannot tell the type of an empty array literal", c.PosString(x.Pos))
		}

		err = c.checkExpr(x.Elems[0], nil)
		if err != nil {
			return err
		}

		at = tp.Array{X: x.Elems[0].ExprType(), Len: len(x.Elems)}
	}

	for _, e := range x.Elems {
		err = c.checkExpr(e, at.X)
		if err != nil {
			return err
		}

		if !tp.Equal(e.ExprType(), at.X) {
			return errors.New("%v: array element must be %v, got %v", c.PosString(nodePos(e)), at.X, e.ExprType())
		}

		x.Eff = x.Eff || e.HasEffects()
	}

	x.Type = at

	return nil
}

func (c *checker) checkStructLit(x *ast.StructLit) (err error) {
	st, ok := c.types[x.Name]
	if !ok {
		return errors.New("%v: undefined type: %v", c.PosString(x.Pos), x.Name)
	}

	if len(x.Elems) != len(st.Fields) {
		return errors.New("%v: %v literal needs %v values, got %v", c.PosString(x.Pos), x.Name, len(st.Fields), len(x.Elems))
	}

	for i, e := range x.Elems {
		f := st.Fields[i]

		err = c.checkExpr(e, f.Type)
		if err != nil {
			return err
		}

		if !tp.Equal(e.ExprType(), f.Type) {
			return errors.New("%v: field %v must be %v, got %v", c.PosString(nodePos(e)), f.Name, f.Type, e.ExprType())
		}

		x.Eff = x.Eff || e.HasEffects()
	}

	x.Type = st

	return nil
}

// terminates reports whether the block always leaves the function.
func terminates(b *ast.Block) bool {
	for _, s := range b.Stmts {
		if stmtTerminates(s) {
			return true
		}
	}

	return false
}

func stmtTerminates(n ast.Node) bool {
	switch x := n.(type) {
	case *ast.Return:
		return true
	case *ast.If:
		if x.Else == nil || !terminates(x.Then) {
			return false
		}

		switch e := x.Else.(type) {
		case *ast.If:
			return stmtTerminates(e)
		case *ast.Block:
			return terminates(e)
		}
	case *ast.Loop:
		return !hasBreak(x.Body)
	case *ast.DoWhile:
		// runs at least once, but a break still falls out
		return terminates(x.Body) && !hasBreak(x.Body)
	}

	return false
}

// hasBreak reports a break bound to this loop. Nested loops keep
// theirs.
func hasBreak(b *ast.Block) bool {
	for _, s := range b.Stmts {
		switch x := s.(type) {
		case *ast.Break:
			return true
		case *ast.If:
			if hasBreakIf(x) {
				return true
			}
		}
	}

	return false
}

func hasBreakIf(x *ast.If) bool {
	if hasBreak(x.Then) {
		return true
	}

	switch e := x.Else.(type) {
	case *ast.If:
		return hasBreakIf(e)
	case *ast.Block:
		return hasBreak(e)
	}

	return false
}
