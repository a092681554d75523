package back

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"tlog.app/go/errors"

	"github.com/micalang/mica/compiler/ast"
	"github.com/micalang/mica/compiler/ir"
	"github.com/micalang/mica/compiler/obj"
	"github.com/micalang/mica/compiler/tp"
	"github.com/micalang/mica/compiler/vm"
)

var (
	i64 = tp.Int{Bits: 64, Signed: true}
	tI8 = tp.Int{Bits: 8, Signed: true}
	tU8 = tp.Int{Bits: 8, Signed: false}
	tB  = tp.Bool{}
)

type testSyms struct {
	sizes map[string]int
	errs  map[string]error

	bound map[string]ir.Label
}

func (s *testSyms) ScopeSize(fn string) (int, error) {
	if err := s.errs[fn]; err != nil {
		return 0, err
	}

	return s.sizes[fn], nil
}

func (s *testSyms) Bind(fn string, entry ir.Label, code []byte) {
	if s.bound == nil {
		s.bound = map[string]ir.Label{}
	}

	s.bound[fn] = entry
}

func eb(t tp.Type) ast.ExprBase { return ast.ExprBase{Type: t} }

func num(v uint64) *ast.IntLit { return &ast.IntLit{ExprBase: eb(i64), Value: v} }

func idT(sym int, name string, t tp.Type) *ast.Ident {
	return &ast.Ident{ExprBase: eb(t), Name: name, Sym: sym}
}

func id(sym int, name string) *ast.Ident { return idT(sym, name, i64) }

func bin(op ast.BinOp, l, r ast.Expr) *ast.Binary {
	t := l.ExprType()
	if op.IsCompare() {
		t = tB
	}

	return &ast.Binary{ExprBase: eb(t), Op: op, L: l, R: r}
}

func declT(sym int, name string, t tp.Type, x ast.Expr) *ast.VarDecl {
	return &ast.VarDecl{Name: name, Type: t, X: x, Sym: sym}
}

func decl(sym int, name string, x ast.Expr) *ast.VarDecl {
	return declT(sym, name, i64, x)
}

func set(lhs, rhs ast.Expr) *ast.Assign { return &ast.Assign{LHS: lhs, RHS: rhs} }

func call(name string, t tp.Type, args ...ast.Expr) *ast.Call {
	return &ast.Call{ExprBase: ast.ExprBase{Type: t, Eff: true}, Name: name, Args: args}
}

func printStmt(x ast.Expr) *ast.ExprStmt {
	return &ast.ExprStmt{X: &ast.Call{
		ExprBase: ast.ExprBase{Eff: true},
		Name:     "print",
		Args:     []ast.Expr{x},
		Builtin:  ast.BuiltinPrint,
	}}
}

func block(stmts ...ast.Node) *ast.Block { return &ast.Block{Stmts: stmts} }

func fn(name string, stmts ...ast.Node) *ast.Func {
	return &ast.Func{Name: name, Body: block(stmts...)}
}

func lowerOne(t *testing.T, f *ast.Func) *ir.Func {
	t.Helper()

	p := &pkgContext{
		Gen:    &ir.Gen{},
		byName: map[string]*ir.Func{},
		labels: map[ir.Label]int{},
	}

	lf := p.lowerFunc(context.Background(), f)

	t.Logf("ir:\n%s", ir.AppendFunc(nil, lf))

	return lf
}

func ops(f *ir.Func) (r []any) {
	for n := f.Code.Front(); n != 0; n = f.Code.Next(n) {
		r = append(r, f.Code.Op(n))
	}

	return r
}

func TestLowerArith(t *testing.T) {
	lf := lowerOne(t, fn("main",
		decl(1, "x", bin(ast.BinAdd, num(1), num(2))),
	))

	var bins []ir.Bin

	for _, op := range ops(lf) {
		switch x := op.(type) {
		case ir.Bin:
			bins = append(bins, x)
		case ir.Mov:
			t.Errorf("the sum must land in x directly, found %v", x)
		case ir.B, ir.BCond:
			t.Errorf("straight line code has a jump: %v", x)
		}
	}

	if len(bins) != 1 {
		t.Fatalf("want one add, got %d", len(bins))
	}

	add := bins[0]

	if add.Op != ir.Add {
		t.Errorf("op: %v", add.Op)
	}

	if l, ok := add.L.(ir.Imm); !ok || l.Value != 1 {
		t.Errorf("left operand: %v", add.L)
	}

	if r, ok := add.R.(ir.Imm); !ok || r.Value != 2 {
		t.Errorf("right operand: %v", add.R)
	}

	if !add.Dst.Valid() {
		t.Errorf("the sum has no destination")
	}
}

func TestLowerOperandOrder(t *testing.T) {
	lf := lowerOne(t, fn("main",
		decl(1, "a", num(2)),
		decl(2, "b", num(3)),
		decl(3, "c", num(4)),
		decl(4, "x", bin(ast.BinAdd, id(1, "a"), bin(ast.BinMul, id(2, "b"), id(3, "c")))),
	))

	var bins []ir.Bin

	for _, op := range ops(lf) {
		if x, ok := op.(ir.Bin); ok {
			bins = append(bins, x)
		}
	}

	if len(bins) != 2 {
		t.Fatalf("want mul then add, got %v", bins)
	}

	if bins[0].Op != ir.Mul || bins[1].Op != ir.Add {
		t.Fatalf("order: %v, %v", bins[0].Op, bins[1].Op)
	}

	if r, ok := bins[1].R.(ir.Tn); !ok || r.ID != bins[0].Dst.ID {
		t.Errorf("add right operand is %v, the product is T%d", bins[1].R, bins[0].Dst.ID)
	}
}

func TestLowerWhile(t *testing.T) {
	lf := lowerOne(t, fn("main",
		decl(1, "i", num(0)),
		&ast.While{
			Cond: bin(ast.BinLt, id(1, "i"), num(10)),
			Body: block(
				set(id(1, "i"), bin(ast.BinAdd, id(1, "i"), num(1))),
			),
		},
	))

	var bs []ir.B
	var bcs []ir.BCond
	var marks []ir.Mark

	for _, op := range ops(lf) {
		switch x := op.(type) {
		case ir.B:
			bs = append(bs, x)
		case ir.BCond:
			bcs = append(bcs, x)
		case ir.Mark:
			marks = append(marks, x)
		}
	}

	if len(bs) != 1 || len(bcs) != 1 {
		t.Fatalf("want one unconditional and one conditional jump, got %d and %d", len(bs), len(bcs))
	}

	// start, check, after, exit
	if len(marks) != 4 {
		t.Fatalf("marks: %v", marks)
	}

	start, check := marks[0].Label, marks[1].Label

	if bs[0].Label != check {
		t.Errorf("the entry jump goes to L%d, the check is L%d", bs[0].Label, check)
	}

	if bcs[0].Label != start || bcs[0].Z {
		t.Errorf("the back edge is %v, want nonzero to L%d", bcs[0], start)
	}
}

func TestLowerBreakContinue(t *testing.T) {
	lf := lowerOne(t, fn("main",
		declT(1, "c", tB, &ast.BoolLit{ExprBase: eb(tB), Value: true}),
		&ast.Loop{Body: block(
			&ast.If{
				Cond: idT(1, "c", tB),
				Then: block(&ast.Break{}),
			},
			&ast.Continue{},
		)},
	))

	var bs []ir.B
	var marks []ir.Mark

	for _, op := range ops(lf) {
		switch x := op.(type) {
		case ir.B:
			bs = append(bs, x)
		case ir.Mark:
			marks = append(marks, x)
		}
	}

	// break, if skip, continue, loop back edge
	if len(bs) != 4 {
		t.Fatalf("jumps: %v", bs)
	}

	// loop start, if after, loop after, exit
	if len(marks) != 4 {
		t.Fatalf("marks: %v", marks)
	}

	start, after := marks[0].Label, marks[2].Label

	if bs[0].Label != after {
		t.Errorf("break goes to L%d, the loop ends at L%d", bs[0].Label, after)
	}

	if bs[2].Label != start {
		t.Errorf("continue goes to L%d, the loop starts at L%d", bs[2].Label, start)
	}

	if bs[3].Label != start {
		t.Errorf("the loop back edge goes to L%d, want L%d", bs[3].Label, start)
	}
}

func TestLowerIfElseChain(t *testing.T) {
	cond := func(sym int, name string) *ast.Ident { return idT(sym, name, tB) }

	lf := lowerOne(t, fn("main",
		declT(1, "a", tB, &ast.BoolLit{ExprBase: eb(tB)}),
		declT(2, "b", tB, &ast.BoolLit{ExprBase: eb(tB)}),
		decl(3, "x", num(0)),
		&ast.If{
			Cond: cond(1, "a"),
			Then: block(set(id(3, "x"), num(1))),
			Else: &ast.If{
				Cond: cond(2, "b"),
				Then: block(set(id(3, "x"), num(2))),
				Else: block(set(id(3, "x"), num(3))),
			},
		},
		printStmt(id(3, "x")),
	))

	var bcs []ir.BCond
	var bs []ir.B

	for _, op := range ops(lf) {
		switch x := op.(type) {
		case ir.BCond:
			bcs = append(bcs, x)
		case ir.B:
			bs = append(bs, x)
		}
	}

	if len(bcs) != 2 {
		t.Fatalf("want a conditional jump per condition, got %v", bcs)
	}

	for _, bc := range bcs {
		if !bc.Z {
			t.Errorf("branch %v must skip on false", bc)
		}
	}

	if len(bs) != 2 {
		t.Fatalf("want a jump past the chain per taken branch, got %v", bs)
	}

	if bs[0].Label != bs[1].Label {
		t.Errorf("taken branches leave to different labels: %v", bs)
	}
}

func TestLowerReturnPaths(t *testing.T) {
	f := fn("f",
		&ast.If{
			Cond: bin(ast.BinEq, id(1, "n"), num(0)),
			Then: block(&ast.Return{X: num(1)}),
		},
		&ast.Return{X: bin(ast.BinAdd, id(1, "n"), num(2))},
	)
	f.Ret = i64
	f.Params = []*ast.Param{{Name: "n", Type: i64, Sym: 1}}

	lf := lowerOne(t, f)

	if !lf.RetTn.Valid() {
		t.Fatalf("no return slot")
	}

	oo := ops(lf)

	var rets, exits int

	for i, op := range oo {
		switch x := op.(type) {
		case ir.Ret:
			rets++
		case ir.Mark:
			if x.Label == lf.Exit {
				exits++
			}
		case ir.B:
			if x.Label != lf.Exit {
				break
			}

			var w ir.Tn

			switch prev := oo[i-1].(type) {
			case ir.Mov:
				w = prev.Dst
			case ir.Bin:
				w = prev.Dst
			default:
				t.Errorf("op before the exit jump: %v", prev)
			}

			if w.ID != lf.RetTn.ID {
				t.Errorf("return value lands in T%d, the slot is T%d", w.ID, lf.RetTn.ID)
			}
		}
	}

	if rets != 1 || exits != 1 {
		t.Errorf("one epilogue expected, got %d rets and %d exit marks", rets, exits)
	}
}

func TestSweep(t *testing.T) {
	g := &ir.Gen{}

	f := &ir.Func{Name: "f", Entry: g.NextLabel(), Exit: g.NextLabel(), Code: ir.NewList()}

	tA := g.NextTn(i64)
	tB2 := g.NextTn(i64)
	tC := g.NextTn(i64)
	tD := g.NextTn(i64)
	tE := g.NextTn(i64)

	one := ir.Imm{Value: 1, Type: i64}

	f.Code.PushBack(ir.Mov{Dst: tA, X: one}, false)                  // read by tB2 only
	f.Code.PushBack(ir.Mov{Dst: tB2, X: tA}, false)                  // unread
	f.Code.PushBack(ir.Bin{Op: ir.Add, Dst: tC, L: one, R: one}, false) // unread
	f.Code.PushBack(ir.Mov{Dst: tD, X: one}, false)                  // printed
	f.Code.PushBack(ir.Mov{Dst: tE, X: one}, true)                   // unread, has effects
	f.Code.PushBack(ir.Ecall{Num: vm.EcallPrint, Args: []ir.Value{tD}}, true)
	f.Code.PushBack(ir.Mark{Label: f.Exit}, false)
	f.Code.PushBack(ir.Ret{}, false)

	p := &pkgContext{}

	removed := p.sweep(f)

	t.Logf("after sweep:\n%s", ir.AppendFunc(nil, f))

	if removed != 3 {
		t.Errorf("removed %d ops, want the two dead assignments and the dead sum", removed)
	}

	for _, op := range ops(f) {
		switch x := op.(type) {
		case ir.Bin:
			t.Errorf("dead sum survived: %v", x)
		case ir.Mov:
			if x.Dst.ID == tA.ID || x.Dst.ID == tB2.ID {
				t.Errorf("dead assignment survived: %v", x)
			}
		}
	}

	if f.Code.Len() != 5 {
		t.Errorf("ops left: %d", f.Code.Len())
	}
}

func testFile() *ast.File {
	add := &ast.Func{
		Name: "add",
		Params: []*ast.Param{
			{Name: "a", Type: i64, Sym: 1},
			{Name: "b", Type: i64, Sym: 2},
		},
		Ret: i64,
		Body: block(
			&ast.Return{X: bin(ast.BinAdd, id(1, "a"), id(2, "b"))},
		),
	}

	main := fn("main",
		decl(3, "s", num(0)),
		decl(4, "i", num(0)),
		&ast.While{
			Cond: bin(ast.BinLt, id(4, "i"), num(5)),
			Body: block(
				set(id(3, "s"), call("add", i64, id(3, "s"), id(4, "i"))),
				set(id(4, "i"), bin(ast.BinAdd, id(4, "i"), num(1))),
			),
		},
		printStmt(id(3, "s")),
	)

	return &ast.File{Name: "test", Funcs: []*ast.Func{add, main}}
}

func compileFile(t *testing.T, c *Compiler, file *ast.File) *obj.Image {
	t.Helper()

	syms := &testSyms{sizes: map[string]int{}}

	img, err := c.CompilePackage(context.Background(), syms, file)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if _, ok := syms.bound["main"]; !ok {
		t.Errorf("main is not bound in the symbol table")
	}

	return img
}

func runImage(t *testing.T, img *obj.Image) (int64, string) {
	t.Helper()

	var out bytes.Buffer

	m, err := vm.New(img, vm.WithOutput(&out), vm.WithStepLimit(100000))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	status, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	return status, out.String()
}

func TestCompileRun(t *testing.T) {
	img := compileFile(t, New(), testFile())

	t.Logf("code:\n%s", vm.AppendDisasm(nil, img))

	if img.Entry != 0 {
		t.Errorf("entry: %#x", img.Entry)
	}

	if img.Code[0] != byte(vm.OpPsha) {
		t.Errorf("the image must start with the startup stub")
	}

	status, out := runImage(t, img)

	if status != 0 || out != "10\n" {
		t.Errorf("status %d, output %q", status, out)
	}
}

func TestCompileVariants(t *testing.T) {
	base := compileFile(t, New(), testFile())

	_, want := runImage(t, base)

	for _, tc := range []struct {
		name string
		c    *Compiler
	}{
		{"no_dce", &Compiler{NoDCE: true}},
		{"slot_reuse", &Compiler{SlotReuse: true}},
		{"both", &Compiler{NoDCE: true, SlotReuse: true}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			img := compileFile(t, tc.c, testFile())

			_, out := runImage(t, img)

			if out != want {
				t.Errorf("output %q, want %q", out, want)
			}
		})
	}
}

func TestCompileDeterminism(t *testing.T) {
	a := compileFile(t, New(), testFile())
	b := compileFile(t, New(), testFile())

	if !bytes.Equal(a.Code, b.Code) || !bytes.Equal(a.Data, b.Data) {
		t.Errorf("two compilations of the same file differ")
	}
}

func TestCompilePointers(t *testing.T) {
	arr := tp.Array{X: i64, Len: 3}
	pi := tp.Ptr{X: i64}

	a := func() *ast.Ident { return idT(1, "a", arr) }
	elem := func(i uint64) *ast.Index {
		return &ast.Index{ExprBase: eb(i64), X: a(), Index: num(i)}
	}

	file := &ast.File{Name: "test", Funcs: []*ast.Func{fn("main",
		declT(1, "a", arr, &ast.ArrayLit{
			ExprBase: eb(arr),
			Elems:    []ast.Expr{num(1), num(2), num(3)},
		}),
		declT(2, "p", pi, &ast.Ref{ExprBase: eb(pi), X: elem(1)}),
		set(&ast.Deref{ExprBase: eb(i64), X: idT(2, "p", pi)}, num(20)),
		printStmt(bin(ast.BinAdd, bin(ast.BinAdd, elem(0), elem(1)), elem(2))),
	)}}

	img := compileFile(t, New(), file)

	t.Logf("code:\n%s", vm.AppendDisasm(nil, img))

	// the 24 byte literal goes to the data area
	if len(img.Data) != 24 {
		t.Errorf("data: % x", img.Data)
	}

	_, out := runImage(t, img)

	if out != "24\n" {
		t.Errorf("output %q", out)
	}
}

func TestCompileCasts(t *testing.T) {
	file := &ast.File{Name: "test", Funcs: []*ast.Func{fn("main",
		decl(1, "x", bin(ast.BinAdd, num(199), num(1))),
		declT(2, "y", tU8, &ast.Cast{ExprBase: eb(tU8), X: id(1, "x")}),
		declT(3, "z", tI8, &ast.Cast{ExprBase: eb(tI8), X: id(1, "x")}),
		printStmt(&ast.Cast{ExprBase: eb(i64), X: idT(2, "y", tU8)}),
		printStmt(&ast.Cast{ExprBase: eb(i64), X: idT(3, "z", tI8)}),
	)}}

	img := compileFile(t, New(), file)

	_, out := runImage(t, img)

	if out != "200\n-56\n" {
		t.Errorf("output %q", out)
	}
}

func TestCompileScopeSizeError(t *testing.T) {
	syms := &testSyms{errs: map[string]error{
		"main": errors.New("size of x is not known at compile time"),
	}}

	_, err := New().CompilePackage(context.Background(), syms, testFile())
	if err == nil {
		t.Fatalf("want an error")
	}

	if !strings.Contains(err.Error(), "main") || !strings.Contains(err.Error(), "not known") {
		t.Errorf("error: %v", err)
	}
}

func TestCompileResolvedTargets(t *testing.T) {
	for _, img := range []*obj.Image{
		compileFile(t, New(), testFile()),
	} {
		bounds := map[int]bool{}

		var jumps, datas []int

		for pc := 0; pc < len(img.Code); {
			bounds[pc] = true

			i, err := vm.Decode(img.Code, pc)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}

			switch i.Op {
			case vm.OpJmp, vm.OpPsha, vm.OpJz, vm.OpJnz:
				jumps = append(jumps, int(i.Addr))
			case vm.OpLda:
				datas = append(datas, int(i.Addr))
			}

			pc += i.Len
		}

		for _, a := range jumps {
			if !bounds[a] {
				t.Errorf("jump to %#x is not an instruction boundary", a)
			}
		}

		for _, a := range datas {
			if a < len(img.Code) || a >= len(img.Code)+len(img.Data) {
				t.Errorf("data reference %#x is outside the data area", a)
			}
		}
	}
}
