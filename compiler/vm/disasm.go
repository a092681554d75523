package vm

import (
	"sort"

	"github.com/nikandfor/hacked/hfmt"

	"github.com/micalang/mica/compiler/obj"
)

// AppendDisasm renders a full listing of the image: labels, decoded
// code, then a hex dump of the data area.
func AppendDisasm(b []byte, img *obj.Image) []byte {
	names := map[uint32][]string{}

	for name, addr := range img.Labels {
		names[addr] = append(names[addr], name)
	}

	for _, ns := range names {
		sort.Strings(ns)
	}

	for pc := 0; pc < len(img.Code); {
		for _, name := range names[uint32(pc)] {
			b = hfmt.AppendPrintf(b, "%v:\n", name)
		}

		i, err := Decode(img.Code, pc)
		if err != nil {
			b = hfmt.AppendPrintf(b, "  %06x  .byte %#02x\n", pc, img.Code[pc])
			pc++

			continue
		}

		b = hfmt.AppendPrintf(b, "  %06x  ", pc)
		b = AppendInstr(b, i)
		b = append(b, '\n')

		pc += i.Len
	}

	if len(img.Data) != 0 {
		b = append(b, ".data\n"...)

		for off := 0; off < len(img.Data); off += 16 {
			end := off + 16
			if end > len(img.Data) {
				end = len(img.Data)
			}

			b = hfmt.AppendPrintf(b, "  %06x ", len(img.Code)+off)

			for _, c := range img.Data[off:end] {
				b = hfmt.AppendPrintf(b, " %02x", c)
			}

			b = append(b, '\n')
		}
	}

	return b
}

// AppendInstr renders one decoded instruction.
func AppendInstr(b []byte, i Instr) []byte {
	switch op := i.Op; {
	case op == OpNop || op == OpHlt || op == OpRet:
		b = hfmt.AppendPrintf(b, "%v", op)
	case op == OpEcall:
		b = hfmt.AppendPrintf(b, "%v %d", op, i.Num)
	case op == OpLdi:
		b = hfmt.AppendPrintf(b, "%v %v, %d", op, i.Rd, int64(i.Imm))
	case op == OpAddi:
		b = hfmt.AppendPrintf(b, "%v %v, %d", op, i.Rd, int64(i.Imm))
	case op == OpMov || op >= OpAdd && op <= OpSra || op >= OpCeq && op <= OpCgeu:
		b = hfmt.AppendPrintf(b, "%v %v, %v", op, i.Rd, i.Rs)
	case op == OpNot || op == OpNeg || op == OpPush || op == OpPop:
		b = hfmt.AppendPrintf(b, "%v %v", op, i.Rd)
	case op >= OpLdr1 && op <= OpLdr8 || op >= OpLds1 && op <= OpLds4:
		b = hfmt.AppendPrintf(b, "%v %v, [%v%+d]", op, i.Rd, i.Rs, i.Off)
	case op >= OpStr1 && op <= OpStr8:
		b = hfmt.AppendPrintf(b, "%v [%v%+d], %v", op, i.Rd, i.Off, i.Rs)
	case op >= OpSti1 && op <= OpSti8:
		b = hfmt.AppendPrintf(b, "%v [%v%+d], %d", op, i.Rd, i.Off, int64(i.Imm))
	case op == OpLea:
		b = hfmt.AppendPrintf(b, "%v %v, %v, %d", op, i.Rd, i.Rs, i.Off)
	case op == OpMcpy:
		b = hfmt.AppendPrintf(b, "%v %v, %v, %d", op, i.Rd, i.Rs, i.Addr)
	case op == OpJmp || op == OpPsha:
		b = hfmt.AppendPrintf(b, "%v %#x", op, i.Addr)
	case op == OpJz || op == OpJnz:
		b = hfmt.AppendPrintf(b, "%v %v, %#x", op, i.Rd, i.Addr)
	case op == OpLda:
		b = hfmt.AppendPrintf(b, "%v %v, %#x", op, i.Rd, i.Addr)
	default:
		b = hfmt.AppendPrintf(b, "op %#02x", byte(op))
	}

	return b
}
