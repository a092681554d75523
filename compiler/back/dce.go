package back

import (
	"github.com/micalang/mica/compiler/ir"
	"github.com/micalang/mica/compiler/set"
)

// sweep removes pure operations whose results are never read. One
// backward pass over the function list. Jumps, labels, calls, stores,
// returns and stack ops are never removed. Side-effecting operations
// are kept too, but their operands still count as read, or upstream
// definitions would be swept from under them. The read set is
// preseeded with the reads the pass itself cannot see.
func (p *pkgContext) sweep(f *ir.Func) (removed int) {
	var read set.Bits[int]

	seedReads(f, &read)

	mark := func(vs ...ir.Value) {
		for _, v := range vs {
			if t, ok := v.(ir.Tn); ok {
				read.Set(t.ID)
			}
		}
	}

	for n := f.Code.Back(); n != 0; {
		prev := f.Code.Prev(n)

		switch x := f.Code.Op(n).(type) {
		case ir.B, ir.Mark, ir.Ret, ir.Pop:
		case ir.BCond:
			mark(x.X)
		case ir.Call:
			mark(x.Args...)
		case ir.Ecall:
			mark(x.Args...)
		case ir.Store:
			mark(x.Addr, x.X)
		case ir.Push:
			mark(x.X)
		case ir.Bin:
			if p.drop(f, n, &read, x.Dst) {
				removed++
			} else {
				mark(x.L, x.R)
			}
		case ir.Cmp:
			if p.drop(f, n, &read, x.Dst) {
				removed++
			} else {
				mark(x.L, x.R)
			}
		case ir.Un:
			if p.drop(f, n, &read, x.Dst) {
				removed++
			} else {
				mark(x.X)
			}
		case ir.Load:
			if p.drop(f, n, &read, x.Dst) {
				removed++
			} else {
				mark(x.Addr)
			}
		case ir.Ref:
			if p.drop(f, n, &read, x.Dst) {
				removed++
			} else {
				mark(x.X)
			}
		case ir.Mov:
			if p.drop(f, n, &read, x.Dst) {
				removed++
			} else {
				mark(x.X)
			}
		case ir.Conv:
			if p.drop(f, n, &read, x.Dst) {
				removed++
			} else {
				mark(x.X)
			}
		case ir.Nop:
			if p.drop(f, n, &read, ir.Tn{}) {
				removed++
			}
		default:
			panic(x)
		}

		n = prev
	}

	return removed
}

func (p *pkgContext) drop(f *ir.Func, n ir.Node, read *set.Bits[int], dst ir.Tn) bool {
	if f.Code.Effects(n) || read.IsSet(dst.ID) {
		return false
	}

	f.Code.Unlink(n)

	return true
}

// seedReads marks reads the backward pass cannot see. The epilogue
// loads the return slot. Loads through pointers alias address-taken
// temporaries. And inside a loop a write late in the body reaches
// reads above it over the back edge, so everything read between a
// label and a branch back to it is pinned before the sweep.
func seedReads(f *ir.Func, read *set.Bits[int]) {
	marks := map[ir.Label]int{}

	type span struct{ s, e int }

	var spans []span
	var ops []any

	for n := f.Code.Front(); n != 0; n = f.Code.Next(n) {
		ops = append(ops, f.Code.Op(n))
		pos := len(ops) - 1

		switch x := ops[pos].(type) {
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
			read.Set(x.X.ID)
		}
	}

	if f.RetTn.Valid() {
		read.Set(f.RetTn.ID)
	}

	for _, sp := range spans {
		for pos := sp.s; pos <= sp.e; pos++ {
			opReads(ops[pos], read)
		}
	}
}

func opReads(op any, read *set.Bits[int]) {
	mark := func(vs ...ir.Value) {
		for _, v := range vs {
			if t, ok := v.(ir.Tn); ok {
				read.Set(t.ID)
			}
		}
	}

	switch x := op.(type) {
	case ir.B, ir.Mark, ir.Ret, ir.Pop, ir.Nop:
	case ir.BCond:
		mark(x.X)
	case ir.Call:
		mark(x.Args...)
	case ir.Ecall:
		mark(x.Args...)
	case ir.Store:
		mark(x.Addr, x.X)
	case ir.Push:
		mark(x.X)
	case ir.Bin:
		mark(x.L, x.R)
	case ir.Cmp:
		mark(x.L, x.R)
	case ir.Un:
		mark(x.X)
	case ir.Load:
		mark(x.Addr)
	case ir.Ref:
		mark(x.X)
	case ir.Mov:
		mark(x.X)
	case ir.Conv:
		mark(x.X)
	default:
		panic(x)
	}
}
