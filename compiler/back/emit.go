package back

import (
	"context"
	"math"
	"strconv"

	"nikand.dev/go/heap"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/micalang/mica/compiler/ir"
	"github.com/micalang/mica/compiler/tp"
	"github.com/micalang/mica/compiler/vm"
)

// Aggregates up to this size are written in place with store
// immediates. Bigger ones are promoted to the data area and copied.
const staticLimit = 16

type (
	argLoc struct {
		reg int // -1 if the argument goes on the stack
		off int // offset inside the stack argument block
	}

	slotKey struct {
		size  int
		align int
	}

	expiry struct {
		end int
		id  int
		off int
		key slotKey
	}
)

// emitFunc allocates frame slots and emits code for one function.
// Temporaries live on the stack, two scratch registers stage
// operands and never carry a value across instruction boundaries.
func (c *Compiler) emitFunc(ctx context.Context, p *pkgContext, f *ir.Func) (err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "back: emit func", "name", f.Name)
	defer tr.Finish("err", &err)

	scope, err := p.syms.ScopeSize(f.Name)
	if err != nil {
		return errors.Wrap(err, "scope size")
	}

	p.funContext = &funContext{
		Func:  f,
		loc:   map[int]int{},
		reuse: c.SlotReuse,
	}

	if p.reuse {
		p.scanLastUse(f)

		p.pool = map[slotKey][]int{}
		p.expq = heap.Heap[expiry]{Less: expiryLess}
	}

	p.labels[f.Entry] = len(p.b)

	p.b = vm.AppendR(p.b, vm.OpPush, vm.FP)
	p.b = vm.AppendMov(p.b, vm.FP, vm.SP)

	frameFix := len(p.b) + 2
	p.b = vm.AppendAddi(p.b, vm.SP, 0)

	p.spillParams(f)

	for n := f.Code.Front(); n != 0; n = f.Code.Next(n) {
		p.pos++

		p.emitOp(f.Code.Op(n))

		p.expire()
	}

	total := p.frame
	if total < scope {
		total = scope
	}

	total = alignUp(total, 8)

	vm.PutAddr(p.b, frameFix, uint32(-int32(total)))

	tr.V("frame").Printw("frame laid out", "frame", total, "scope_size", scope, "temps", len(p.loc))

	return nil
}

// spillParams stores register arguments into their frame slots and
// binds stack arguments to their incoming location above the frame
// base: saved fp and the return address sit between.
func (p *pkgContext) spillParams(f *ir.Func) {
	types := make([]tp.Type, len(f.Params))
	for i := range f.Params {
		types[i] = f.Params[i].Tn.Type
	}

	plan, _ := argPlan(types)

	for i, pa := range f.Params {
		if pl := plan[i]; pl.reg >= 0 {
			off := p.defLoc(pa.Tn)

			p.b = vm.AppendMem(p.b, vm.StrOp(pa.Tn.Type.Size()), vm.FP, vm.Reg(pl.reg), int32(off))
		} else {
			p.loc[pa.Tn.ID] = 16 + pl.off
		}
	}
}

// argPlan assigns each argument a register or an offset in the stack
// argument block. Scalars take the next free argument register,
// aggregates and everything past the registers go on the stack.
// Callers and callees derive the same plan from the same types.
func argPlan(types []tp.Type) (plan []argLoc, total int) {
	reg := 0

	for _, t := range types {
		if reg < vm.NumArgRegs && tp.IsScalar(t) {
			plan = append(plan, argLoc{reg: reg, off: -1})
			reg++

			continue
		}

		total = alignUp(total, 8)
		plan = append(plan, argLoc{reg: -1, off: total})
		total += t.Size()
	}

	total = alignUp(total, 8)

	return plan, total
}

func (p *pkgContext) emitOp(op any) {
	switch x := op.(type) {
	case ir.Bin:
		p.emitBin(x)
	case ir.Cmp:
		p.emitCmp(x)
	case ir.Un:
		p.emitUn(x)
	case ir.Load:
		p.emitLoad(x)
	case ir.Store:
		p.emitStore(x)
	case ir.Ref:
		off := p.tnLoc(x.X)

		p.b = vm.AppendMem(p.b, vm.OpLea, vm.Scratch0, vm.FP, int32(off))
		p.storeTn(x.Dst, vm.Scratch0)
	case ir.Mov:
		p.emitMov(x)
	case ir.Conv:
		p.emitConv(x)
	case ir.Call:
		p.emitCall(x)
	case ir.Ecall:
		p.emitEcall(x)
	case ir.B:
		p.b = append(p.b, byte(vm.OpJmp))
		p.addFix(x.Label)
	case ir.BCond:
		p.loadVal(vm.Scratch0, x.X)

		jop := vm.OpJnz
		if x.Z {
			jop = vm.OpJz
		}

		p.b = append(p.b, byte(jop), byte(vm.Scratch0))
		p.addFix(x.Label)
	case ir.Mark:
		p.markLabel(x.Label)
	case ir.Ret:
		p.emitRet()
	case ir.Push:
		p.loadVal(vm.Scratch0, x.X)
		p.b = vm.AppendR(p.b, vm.OpPush, vm.Scratch0)
	case ir.Pop:
		p.b = vm.AppendR(p.b, vm.OpPop, vm.Scratch0)
		p.storeTn(x.Dst, vm.Scratch0)
	case ir.Nop:
	default:
		panic(x)
	}
}

// markLabel records the label address. Call return labels are pinned
// at the call site before their marker arrives, those are skipped.
func (p *pkgContext) markLabel(l ir.Label) {
	if _, ok := p.labels[l]; ok {
		return
	}

	p.labels[l] = len(p.b)
}

func (p *pkgContext) emitBin(x ir.Bin) {
	p.loadVal(vm.Scratch0, x.L)
	p.loadVal(vm.Scratch1, x.R)

	signed := signedVal(x.L)

	var op vm.Op

	switch x.Op {
	case ir.Add:
		op = vm.OpAdd
	case ir.Sub:
		op = vm.OpSub
	case ir.Mul:
		op = vm.OpMul
	case ir.Div:
		op = vm.OpDivu
		if signed {
			op = vm.OpDiv
		}
	case ir.Mod:
		op = vm.OpRemu
		if signed {
			op = vm.OpRem
		}
	case ir.And:
		op = vm.OpAnd
	case ir.Or:
		op = vm.OpOr
	case ir.Xor:
		op = vm.OpXor
	case ir.Shl:
		op = vm.OpShl
	case ir.Shr:
		op = vm.OpShr
		if signed {
			op = vm.OpSra
		}
	default:
		panic(x.Op)
	}

	p.b = vm.AppendRR(p.b, op, vm.Scratch0, vm.Scratch1)
	p.storeTn(x.Dst, vm.Scratch0)
}

func (p *pkgContext) emitCmp(x ir.Cmp) {
	p.loadVal(vm.Scratch0, x.L)
	p.loadVal(vm.Scratch1, x.R)

	signed := signedVal(x.L)

	var op vm.Op

	switch x.Cond {
	case ir.Eq:
		op = vm.OpCeq
	case ir.Ne:
		op = vm.OpCne
	case ir.Lt:
		op = vm.OpCltu
		if signed {
			op = vm.OpClt
		}
	case ir.Le:
		op = vm.OpCleu
		if signed {
			op = vm.OpCle
		}
	case ir.Gt:
		op = vm.OpCgtu
		if signed {
			op = vm.OpCgt
		}
	case ir.Ge:
		op = vm.OpCgeu
		if signed {
			op = vm.OpCge
		}
	default:
		panic(x.Cond)
	}

	p.b = vm.AppendRR(p.b, op, vm.Scratch0, vm.Scratch1)
	p.storeTn(x.Dst, vm.Scratch0)
}

func (p *pkgContext) emitUn(x ir.Un) {
	p.loadVal(vm.Scratch0, x.X)

	switch x.Op {
	case ir.Neg:
		p.b = vm.AppendR(p.b, vm.OpNeg, vm.Scratch0)
	case ir.Com:
		p.b = vm.AppendR(p.b, vm.OpNot, vm.Scratch0)
	case ir.Not:
		p.b = vm.AppendLdi(p.b, vm.Scratch1, 0)
		p.b = vm.AppendRR(p.b, vm.OpCeq, vm.Scratch0, vm.Scratch1)
	default:
		panic(x.Op)
	}

	p.storeTn(x.Dst, vm.Scratch0)
}

func (p *pkgContext) emitLoad(x ir.Load) {
	p.loadVal(vm.Scratch0, x.Addr)

	size := x.Dst.Type.Size()

	if tp.IsScalar(x.Dst.Type) {
		p.b = vm.AppendMem(p.b, ldOp(x.Dst.Type), vm.Scratch1, vm.Scratch0, 0)
		p.storeTn(x.Dst, vm.Scratch1)

		return
	}

	off := p.defLoc(x.Dst)

	p.b = vm.AppendMem(p.b, vm.OpLea, vm.Scratch1, vm.FP, int32(off))
	p.b = vm.AppendMcpy(p.b, vm.Scratch1, vm.Scratch0, uint32(size))
}

func (p *pkgContext) emitStore(x ir.Store) {
	p.loadVal(vm.Scratch0, x.Addr)

	switch v := x.X.(type) {
	case ir.Imm:
		if tp.IsScalar(v.Type) {
			p.b = vm.AppendSti(p.b, v.Type.Size(), vm.Scratch0, 0, v.Value)
		} else {
			p.zeroAt(vm.Scratch0, 0, v.Type.Size())
		}
	case ir.Agg:
		p.aggTo(vm.Scratch0, 0, v)
	case ir.Tn:
		size := v.Type.Size()

		if tp.IsScalar(v.Type) {
			p.loadVal(vm.Scratch1, v)
			p.b = vm.AppendMem(p.b, vm.StrOp(size), vm.Scratch0, vm.Scratch1, 0)

			return
		}

		src := p.tnLoc(v)

		p.b = vm.AppendMem(p.b, vm.OpLea, vm.Scratch1, vm.FP, int32(src))
		p.b = vm.AppendMcpy(p.b, vm.Scratch0, vm.Scratch1, uint32(size))
	default:
		panic(v)
	}
}

// emitMov writes constants in place and block copies between frame
// slots. The copy length is the destination size: a relabeled
// narrowing cast reads the low bytes of a wider slot.
func (p *pkgContext) emitMov(x ir.Mov) {
	size := x.Dst.Type.Size()

	switch v := x.X.(type) {
	case ir.Imm:
		off := p.defLoc(x.Dst)

		if tp.IsScalar(x.Dst.Type) {
			p.b = vm.AppendSti(p.b, size, vm.FP, int32(off), v.Value)
		} else {
			p.zeroAt(vm.FP, off, size)
		}
	case ir.Agg:
		p.aggTo(vm.FP, p.defLoc(x.Dst), v)
	case ir.Tn:
		src := p.tnLoc(v)
		dst := p.defLoc(x.Dst)

		p.b = vm.AppendMem(p.b, vm.OpLea, vm.Scratch0, vm.FP, int32(dst))
		p.b = vm.AppendMem(p.b, vm.OpLea, vm.Scratch1, vm.FP, int32(src))
		p.b = vm.AppendMcpy(p.b, vm.Scratch0, vm.Scratch1, uint32(size))
	default:
		panic(v)
	}
}

// emitConv widens: the load zero or sign extends by the source type,
// the result is stored at the destination width.
func (p *pkgContext) emitConv(x ir.Conv) {
	p.loadVal(vm.Scratch0, x.X)
	p.storeTn(x.Dst, vm.Scratch0)
}

func (p *pkgContext) emitCall(x ir.Call) {
	callee, ok := p.byName[x.Func]
	if !ok {
		panic("unknown function: " + x.Func)
	}

	types := make([]tp.Type, len(x.Args))
	for i, a := range x.Args {
		types[i] = valType(a)
	}

	plan, total := argPlan(types)

	var saved []vm.Reg

	p.used.Range(func(r vm.Reg) bool {
		p.b = vm.AppendR(p.b, vm.OpPush, r)
		saved = append(saved, r)

		return true
	})

	if total != 0 {
		p.b = vm.AppendAddi(p.b, vm.SP, int32(-total))
	}

	for i, a := range x.Args {
		if pl := plan[i]; pl.reg >= 0 {
			p.loadVal(vm.Reg(pl.reg), a)
			p.used.Set(vm.Reg(pl.reg))
		} else {
			p.argToStack(pl.off, a)
		}
	}

	p.b = append(p.b, byte(vm.OpPsha))
	p.addFix(x.Ret)

	p.b = append(p.b, byte(vm.OpJmp))
	p.addFix(callee.Entry)

	// execution resumes here: the return label points at the
	// argument block cleanup
	p.labels[x.Ret] = len(p.b)

	if total != 0 {
		p.b = vm.AppendAddi(p.b, vm.SP, int32(total))
	}

	for i := range x.Args {
		if plan[i].reg >= 0 {
			p.used.Clear(vm.Reg(plan[i].reg))
		}
	}

	if x.Dst.Valid() {
		p.storeTn(x.Dst, 0)
	}

	for i := len(saved) - 1; i >= 0; i-- {
		p.b = vm.AppendR(p.b, vm.OpPop, saved[i])
	}
}

func (p *pkgContext) argToStack(off int, v ir.Value) {
	switch x := v.(type) {
	case ir.Imm:
		p.b = vm.AppendSti(p.b, x.Type.Size(), vm.SP, int32(off), x.Value)
	case ir.Agg:
		p.aggTo(vm.SP, off, x)
	case ir.Tn:
		size := x.Type.Size()

		if tp.IsScalar(x.Type) {
			p.loadVal(vm.Scratch0, x)
			p.b = vm.AppendMem(p.b, vm.StrOp(size), vm.SP, vm.Scratch0, int32(off))

			return
		}

		src := p.tnLoc(x)

		p.b = vm.AppendMem(p.b, vm.OpLea, vm.Scratch0, vm.SP, int32(off))
		p.b = vm.AppendMem(p.b, vm.OpLea, vm.Scratch1, vm.FP, int32(src))
		p.b = vm.AppendMcpy(p.b, vm.Scratch0, vm.Scratch1, uint32(size))
	default:
		panic(x)
	}
}

func (p *pkgContext) emitEcall(x ir.Ecall) {
	for i, a := range x.Args {
		r := vm.Reg(1 + i)

		p.loadVal(r, a)
		p.used.Set(r)
	}

	p.b = vm.AppendEcall(p.b, byte(x.Num))

	for i := range x.Args {
		p.used.Clear(vm.Reg(1 + i))
	}

	if x.Num == vm.EcallGetc && x.Dst.Valid() {
		// byte in r0, eof flag in r1: fold eof into -1
		p.b = vm.AppendR(p.b, vm.OpNeg, 1)
		p.b = vm.AppendRR(p.b, vm.OpOr, 0, 1)

		p.storeTn(x.Dst, 0)
	}
}

// emitRet is the epilogue: result to r0, frame torn down, return.
// It is emitted exactly once per function.
func (p *pkgContext) emitRet() {
	if p.RetTn.Valid() {
		if !tp.IsScalar(p.RetTn.Type) {
			panic("aggregate return value")
		}

		off := p.tnLoc(p.RetTn)

		p.b = vm.AppendMem(p.b, ldOp(p.RetTn.Type), 0, vm.FP, int32(off))
	}

	p.b = vm.AppendMov(p.b, vm.SP, vm.FP)
	p.b = vm.AppendR(p.b, vm.OpPop, vm.FP)
	p.b = vm.AppendOp0(p.b, vm.OpRet)
}

// aggTo writes a constant aggregate at base+off. Small ones are
// stored immediate by immediate, big ones go to the data area once
// and are block copied from there.
func (p *pkgContext) aggTo(base vm.Reg, off int, a ir.Agg) {
	size := a.Type.Size()

	if size <= staticLimit {
		p.stiAgg(base, off, a)

		return
	}

	bytes := appendAgg(nil, a)
	if len(bytes) != size {
		panic("aggregate literal does not cover its type")
	}

	dr, sr := vm.Scratch0, vm.Scratch1
	if base == dr {
		dr, sr = sr, dr
	}

	p.b = vm.AppendMem(p.b, vm.OpLea, dr, base, int32(off))

	p.b = append(p.b, byte(vm.OpLda), byte(sr))
	p.addDataFix(p.addData(bytes))

	p.b = vm.AppendMcpy(p.b, dr, sr, uint32(size))
}

func (p *pkgContext) stiAgg(base vm.Reg, off int, a ir.Agg) int {
	for _, e := range a.Elems {
		switch v := e.(type) {
		case ir.Imm:
			size := v.Type.Size()

			p.b = vm.AppendSti(p.b, size, base, int32(off), v.Value)
			off += size
		case ir.Agg:
			off = p.stiAgg(base, off, v)
		default:
			panic(v)
		}
	}

	return off
}

func appendAgg(b []byte, a ir.Agg) []byte {
	for _, e := range a.Elems {
		switch v := e.(type) {
		case ir.Imm:
			for k := 0; k < v.Type.Size(); k++ {
				b = append(b, byte(v.Value>>(8*k)))
			}
		case ir.Agg:
			b = appendAgg(b, v)
		default:
			panic(v)
		}
	}

	return b
}

func (p *pkgContext) zeroAt(base vm.Reg, off, size int) {
	for _, s := range []int{8, 4, 2, 1} {
		for size >= s {
			p.b = vm.AppendSti(p.b, s, base, int32(off), 0)
			off += s
			size -= s
		}
	}
}

// loadVal stages a value in a register. Narrow signed integers are
// sign extended by the load so compares, division and shifts see the
// real value.
func (p *pkgContext) loadVal(r vm.Reg, v ir.Value) {
	switch x := v.(type) {
	case ir.Imm:
		p.b = vm.AppendLdi(p.b, r, x.Value)
	case ir.Tn:
		if !tp.IsScalar(x.Type) {
			panic("aggregate in a scalar position")
		}

		off := p.tnLoc(x)

		p.b = vm.AppendMem(p.b, ldOp(x.Type), r, vm.FP, int32(off))
	default:
		panic(x)
	}
}

func (p *pkgContext) storeTn(t ir.Tn, r vm.Reg) {
	off := p.defLoc(t)

	p.b = vm.AppendMem(p.b, vm.StrOp(t.Type.Size()), vm.FP, r, int32(off))
}

// defLoc is the location of t, allocating a frame slot the first
// time t is a target.
func (p *pkgContext) defLoc(t ir.Tn) int {
	if off, ok := p.loc[t.ID]; ok {
		return off
	}

	size := t.Type.Size()
	if size < 0 {
		panic("unsized type at emission: T" + strconv.Itoa(t.ID))
	}

	off := p.alloc(size, tp.AlignOf(t.Type))
	p.loc[t.ID] = off

	if p.reuse {
		p.expq.Push(expiry{
			end: p.lastUse[t.ID],
			id:  t.ID,
			off: off,
			key: slotKey{size: size, align: tp.AlignOf(t.Type)},
		})
	}

	return off
}

func (p *pkgContext) tnLoc(t ir.Tn) int {
	off, ok := p.loc[t.ID]
	if !ok {
		panic("Tn read before definition: T" + strconv.Itoa(t.ID))
	}

	return off
}

func (p *pkgContext) alloc(size, align int) int {
	if p.reuse {
		key := slotKey{size: size, align: align}

		if s := p.pool[key]; len(s) != 0 {
			off := s[len(s)-1]
			p.pool[key] = s[:len(s)-1]

			return off
		}
	}

	p.frame = alignUp(p.frame+size, align)

	return -p.frame
}

// expire returns slots of temporaries past their last use to the
// free pool.
func (p *pkgContext) expire() {
	if !p.reuse {
		return
	}

	for p.expq.Len() != 0 && p.expq.Data[0].end <= p.pos {
		e := p.expq.Pop()

		p.pool[e.key] = append(p.pool[e.key], e.off)
	}
}

// scanLastUse finds the last position each temporary is live at.
// Anything touched inside a loop stays live to the loop's back edge,
// or an iteration could read a slot reused by code after it.
// Address-taken temporaries never expire: a load through the pointer
// can alias them anywhere. The return slot is read by the epilogue.
func (p *pkgContext) scanLastUse(f *ir.Func) {
	p.lastUse = map[int]int{}

	marks := map[ir.Label]int{}

	type span struct{ s, e int }

	var spans []span

	pos := 0

	for n := f.Code.Front(); n != 0; n = f.Code.Next(n) {
		pos++

		switch x := f.Code.Op(n).(type) {
		case ir.Mark:
			marks[x.Label] = pos
		case ir.B:
			if s, ok := marks[x.Label]; ok {
				spans = append(spans, span{s: s, e: pos})
			}
		case ir.BCond:
			if s, ok := marks[x.Label]; ok {
				spans = append(spans, span{s: s, e: pos})
			}
		case ir.Ref:
			p.lastUse[x.X.ID] = math.MaxInt
		}
	}

	if f.RetTn.Valid() && pos > p.lastUse[f.RetTn.ID] {
		p.lastUse[f.RetTn.ID] = pos
	}

	pos = 0

	for n := f.Code.Front(); n != 0; n = f.Code.Next(n) {
		pos++

		use := pos

		for _, sp := range spans {
			if sp.s <= pos && pos <= sp.e && sp.e > use {
				use = sp.e
			}
		}

		opTns(f.Code.Op(n), func(t ir.Tn) {
			if use > p.lastUse[t.ID] {
				p.lastUse[t.ID] = use
			}
		})
	}
}

// opTns visits every temporary an operation touches, targets included.
func opTns(op any, f func(ir.Tn)) {
	val := func(vs ...ir.Value) {
		for _, v := range vs {
			if t, ok := v.(ir.Tn); ok {
				f(t)
			}
		}
	}

	switch x := op.(type) {
	case ir.Bin:
		f(x.Dst)
		val(x.L, x.R)
	case ir.Cmp:
		f(x.Dst)
		val(x.L, x.R)
	case ir.Un:
		f(x.Dst)
		val(x.X)
	case ir.Load:
		f(x.Dst)
		val(x.Addr)
	case ir.Store:
		val(x.Addr, x.X)
	case ir.Ref:
		f(x.Dst)
		f(x.X)
	case ir.Mov:
		f(x.Dst)
		val(x.X)
	case ir.Conv:
		f(x.Dst)
		val(x.X)
	case ir.Call:
		if x.Dst.Valid() {
			f(x.Dst)
		}

		val(x.Args...)
	case ir.Ecall:
		if x.Dst.Valid() {
			f(x.Dst)
		}

		val(x.Args...)
	case ir.BCond:
		val(x.X)
	case ir.Push:
		val(x.X)
	case ir.Pop:
		f(x.Dst)
	case ir.B, ir.Mark, ir.Ret, ir.Nop:
	default:
		panic(x)
	}
}

func expiryLess(d []expiry, i, j int) bool {
	if d[i].end != d[j].end {
		return d[i].end < d[j].end
	}

	return d[i].id < d[j].id
}

func ldOp(t tp.Type) vm.Op {
	size := t.Size()

	if i, ok := t.(tp.Int); ok && i.Signed && size < 8 {
		return vm.LdsOp(size)
	}

	return vm.LdrOp(size)
}

func valType(v ir.Value) tp.Type {
	switch x := v.(type) {
	case ir.Tn:
		return x.Type
	case ir.Imm:
		return x.Type
	case ir.Agg:
		return x.Type
	default:
		panic(x)
	}
}

func signedVal(v ir.Value) bool {
	i, ok := valType(v).(tp.Int)

	return ok && i.Signed
}

func alignUp(x, a int) int {
	return (x + a - 1) / a * a
}
