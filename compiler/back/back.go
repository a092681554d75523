// Package back is the compiler backend. It lowers a checked syntax
// tree into linear three address IR over virtual temporaries, removes
// dead operations, and emits machine code for the vm package,
// resolving labels in a final pass.
package back

import (
	"context"
	"io"

	"nikand.dev/go/heap"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/micalang/mica/compiler/ast"
	"github.com/micalang/mica/compiler/ir"
	"github.com/micalang/mica/compiler/obj"
	"github.com/micalang/mica/compiler/set"
	"github.com/micalang/mica/compiler/vm"
)

type (
	// Symbols is what the backend needs from the front end symbol
	// table: local scope sizes and a place to record results.
	Symbols interface {
		ScopeSize(fn string) (int, error)
		Bind(fn string, entry ir.Label, code []byte)
	}

	Compiler struct {
		// NoDCE disables the dead operation sweep.
		NoDCE bool

		// SlotReuse returns stack slots of expired temporaries to a
		// free pool instead of always growing the frame.
		SlotReuse bool

		// DumpIR receives a listing of the lowered package.
		DumpIR io.Writer
	}

	pkgContext struct {
		*ir.Gen

		syms Symbols

		fns    []*ir.Func
		byName map[string]*ir.Func

		*funContext

		// current lexical scope during lowering
		s *ir.Scope

		b    []byte
		data []byte

		labels map[ir.Label]int
		fix    []fixup
		dfix   []dataFixup
	}

	funContext struct {
		*ir.Func

		loc   map[int]int // Tn id -> frame offset
		frame int

		used set.Bits[vm.Reg]

		reuse   bool
		lastUse map[int]int
		pos     int
		pool    map[slotKey][]int
		expq    heap.Heap[expiry]
	}

	loopLabels struct {
		start ir.Label
		check ir.Label // zero for the unconditional loop
		after ir.Label
	}
)

func New() *Compiler {
	return &Compiler{}
}

// CompilePackage turns a checked file into an executable image.
// The entry stub calls main and halts when it returns.
func (c *Compiler) CompilePackage(ctx context.Context, syms Symbols, file *ast.File) (_ *obj.Image, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "back: compile package", "name", file.Name)
	defer tr.Finish("err", &err)

	p := &pkgContext{
		Gen:    &ir.Gen{},
		syms:   syms,
		byName: map[string]*ir.Func{},
		labels: map[ir.Label]int{},
	}

	for _, af := range file.Funcs {
		f := p.lowerFunc(ctx, af)

		p.fns = append(p.fns, f)
		p.byName[f.Name] = f
	}

	if !c.NoDCE {
		for _, f := range p.fns {
			removed := p.sweep(f)

			tr.V("dce").Printw("dead ops removed", "func", f.Name, "removed", removed, "left", f.Code.Len())
		}
	}

	if c.DumpIR != nil || tr.If("dump_ir") {
		var d []byte

		for _, f := range p.fns {
			d = ir.AppendFunc(d, f)
			d = append(d, '\n')
		}

		if c.DumpIR != nil {
			_, _ = c.DumpIR.Write(d)
		}

		tr.V("dump_ir").Printw("lowered package", "ir", string(d))
	}

	main, ok := p.byName["main"]
	if !ok {
		panic("main is not defined")
	}

	p.emitEntry(main)

	for _, f := range p.fns {
		start := len(p.b)

		err = c.emitFunc(ctx, p, f)
		if err != nil {
			return nil, errors.Wrap(err, "func %v", f.Name)
		}

		p.syms.Bind(f.Name, f.Entry, p.b[start:])
	}

	p.resolve()

	img := &obj.Image{
		Entry:  0,
		Code:   p.b,
		Data:   p.data,
		Labels: map[string]uint32{},
	}

	for _, f := range p.fns {
		img.Labels[f.Name] = uint32(p.labels[f.Entry])
	}

	if tr.If("dump_code") {
		tr.Printw("emitted package", "code_len", len(img.Code), "data_len", len(img.Data), "listing", string(vm.AppendDisasm(nil, img)))
	}

	return img, nil
}

// emitEntry emits the startup stub at address 0: call main, then
// halt when it returns.
func (p *pkgContext) emitEntry(main *ir.Func) {
	halt := p.NextLabel()

	p.b = append(p.b, byte(vm.OpPsha))
	p.addFix(halt)

	p.b = append(p.b, byte(vm.OpJmp))
	p.addFix(main.Entry)

	p.labels[halt] = len(p.b)
	p.b = vm.AppendOp0(p.b, vm.OpHlt)
}
