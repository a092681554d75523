package ir

import (
	"github.com/nikandfor/hacked/hfmt"
)

// AppendFunc renders the function's operation list for debug output.
func AppendFunc(b []byte, f *Func) []byte {
	b = hfmt.AppendPrintf(b, "func %v  entry L%d  exit L%d", f.Name, f.Entry, f.Exit)

	if f.RetTn.Valid() {
		b = hfmt.AppendPrintf(b, "  ret T%d", f.RetTn.ID)
	}

	b = append(b, '\n')

	for n := f.Code.Front(); n != 0; n = f.Code.Next(n) {
		b = append(b, '\t')
		b = AppendOp(b, f.Code.Op(n))

		if f.Code.Effects(n) {
			b = append(b, "  !"...)
		}

		b = append(b, '\n')
	}

	return b
}

func AppendOp(b []byte, op any) []byte {
	switch op := op.(type) {
	case Bin:
		b = hfmt.AppendPrintf(b, "%-5v T%d = ", op.Op, op.Dst.ID)
		b = appendValue(b, op.L)
		b = append(b, ", "...)
		b = appendValue(b, op.R)
	case Cmp:
		b = hfmt.AppendPrintf(b, "c%-4v T%d = ", op.Cond, op.Dst.ID)
		b = appendValue(b, op.L)
		b = append(b, ", "...)
		b = appendValue(b, op.R)
	case Un:
		b = hfmt.AppendPrintf(b, "%-5v T%d = ", op.Op, op.Dst.ID)
		b = appendValue(b, op.X)
	case Load:
		b = hfmt.AppendPrintf(b, "load  T%d = *", op.Dst.ID)
		b = appendValue(b, op.Addr)
	case Store:
		b = append(b, "store *"...)
		b = appendValue(b, op.Addr)
		b = append(b, " = "...)
		b = appendValue(b, op.X)
	case Ref:
		b = hfmt.AppendPrintf(b, "ref   T%d = &T%d", op.Dst.ID, op.X.ID)
	case Mov:
		b = hfmt.AppendPrintf(b, "mov   T%d = ", op.Dst.ID)
		b = appendValue(b, op.X)
	case Conv:
		b = hfmt.AppendPrintf(b, "conv  T%d = ", op.Dst.ID)
		b = appendValue(b, op.X)
	case Call:
		b = append(b, "call  "...)

		if op.Dst.Valid() {
			b = hfmt.AppendPrintf(b, "T%d = ", op.Dst.ID)
		}

		b = hfmt.AppendPrintf(b, "%v(", op.Func)
		b = appendValues(b, op.Args)
		b = hfmt.AppendPrintf(b, ") ret L%d", op.Ret)
	case Ecall:
		b = append(b, "ecall "...)

		if op.Dst.Valid() {
			b = hfmt.AppendPrintf(b, "T%d = ", op.Dst.ID)
		}

		b = hfmt.AppendPrintf(b, "%d(", op.Num)
		b = appendValues(b, op.Args)
		b = append(b, ')')
	case B:
		b = hfmt.AppendPrintf(b, "b     L%d", op.Label)
	case BCond:
		cond := "!= 0"
		if op.Z {
			cond = "== 0"
		}

		b = append(b, "bcond "...)
		b = appendValue(b, op.X)
		b = hfmt.AppendPrintf(b, " %s -> L%d", cond, op.Label)
	case Mark:
		b = hfmt.AppendPrintf(b, "L%d:", op.Label)
	case Ret:
		b = append(b, "ret"...)
	case Push:
		b = append(b, "push  "...)
		b = appendValue(b, op.X)
	case Pop:
		b = hfmt.AppendPrintf(b, "pop   T%d", op.Dst.ID)
	case Nop:
		b = append(b, "nop"...)
	default:
		b = hfmt.AppendPrintf(b, "%+v", op)
	}

	return b
}

func appendValue(b []byte, v Value) []byte {
	switch v := v.(type) {
	case Tn:
		return hfmt.AppendPrintf(b, "T%d", v.ID)
	case Imm:
		return hfmt.AppendPrintf(b, "%d", int64(v.Value))
	case Agg:
		b = append(b, '{')
		b = appendValues(b, v.Elems)
		b = append(b, '}')

		return b
	default:
		panic(v)
	}
}

func appendValues(b []byte, vs []Value) []byte {
	for i, v := range vs {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = appendValue(b, v)
	}

	return b
}
