package vm

import (
	"tlog.app/go/errors"
)

type (
	// Instr is one decoded instruction.
	Instr struct {
		Op Op

		Rd, Rs Reg

		Size int    // access width of sized memory ops
		Off  int32  // memory operand offset
		Imm  uint64 // ldi, addi, sti immediate
		Addr uint32 // jump or absolute address operand
		Num  byte   // ecall number

		Len int // encoded length in bytes
	}
)

func AppendOp0(b []byte, op Op) []byte {
	return append(b, byte(op))
}

func AppendEcall(b []byte, num byte) []byte {
	return append(b, byte(OpEcall), num)
}

func AppendLdi(b []byte, rd Reg, v uint64) []byte {
	b = append(b, byte(OpLdi), byte(rd))
	return AppendU64(b, v)
}

func AppendMov(b []byte, rd, rs Reg) []byte {
	return append(b, byte(OpMov), byte(rd), byte(rs))
}

func AppendAddi(b []byte, rd Reg, v int32) []byte {
	b = append(b, byte(OpAddi), byte(rd))
	return AppendU32(b, uint32(v))
}

// AppendRR encodes two-register forms: arithmetic, compares, mov.
func AppendRR(b []byte, op Op, rd, rs Reg) []byte {
	return append(b, byte(op), byte(rd), byte(rs))
}

// AppendR encodes one-register forms: push, pop, not, neg.
func AppendR(b []byte, op Op, r Reg) []byte {
	return append(b, byte(op), byte(r))
}

// AppendMem encodes ldr/str/lea: op, rd, rb, off32.
func AppendMem(b []byte, op Op, rd, rb Reg, off int32) []byte {
	b = append(b, byte(op), byte(rd), byte(rb))
	return AppendU32(b, uint32(off))
}

// AppendSti encodes a typed store-immediate of the given size.
func AppendSti(b []byte, size int, rb Reg, off int32, v uint64) []byte {
	b = append(b, byte(StiOp(size)), byte(rb))
	b = AppendU32(b, uint32(off))

	for i := 0; i < size; i++ {
		b = append(b, byte(v>>(8*i)))
	}

	return b
}

func AppendMcpy(b []byte, rd, rs Reg, n uint32) []byte {
	b = append(b, byte(OpMcpy), byte(rd), byte(rs))
	return AppendU32(b, n)
}

// AppendU32 appends a little-endian address or immediate field.
// Jump encoders leave the field for the caller so label placeholders
// can be recorded at len(b) before the call.
func AppendU32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func AppendU64(b []byte, v uint64) []byte {
	b = AppendU32(b, uint32(v))
	return AppendU32(b, uint32(v>>32))
}

// PutAddr overwrites a 4-byte address field at off.
func PutAddr(b []byte, off int, addr uint32) {
	b[off] = byte(addr)
	b[off+1] = byte(addr >> 8)
	b[off+2] = byte(addr >> 16)
	b[off+3] = byte(addr >> 24)
}

func u32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func u64(b []byte) uint64 {
	return uint64(u32(b)) | uint64(u32(b[4:]))<<32
}

// Decode reads one instruction at pc.
func Decode(b []byte, pc int) (i Instr, err error) {
	if pc < 0 || pc >= len(b) {
		return i, errors.New("pc out of range: %#x", pc)
	}

	i.Op = Op(b[pc])

	need := func(n int) bool {
		i.Len = 1 + n
		return pc+i.Len <= len(b)
	}

	switch op := i.Op; {
	case op == OpNop || op == OpHlt || op == OpRet:
		need(0)

		return i, nil
	case op == OpEcall:
		if !need(1) {
			break
		}

		i.Num = b[pc+1]

		return i, nil
	case op == OpLdi:
		if !need(9) {
			break
		}

		i.Rd = Reg(b[pc+1])
		i.Imm = u64(b[pc+2:])

		return i, nil
	case op == OpAddi:
		if !need(5) {
			break
		}

		i.Rd = Reg(b[pc+1])
		i.Imm = uint64(int64(int32(u32(b[pc+2:]))))

		return i, nil
	case op == OpMov || op >= OpAdd && op <= OpSra || op >= OpCeq && op <= OpCgeu:
		if !need(2) {
			break
		}

		i.Rd = Reg(b[pc+1])
		i.Rs = Reg(b[pc+2])

		return i, nil
	case op == OpNot || op == OpNeg || op == OpPush || op == OpPop:
		if !need(1) {
			break
		}

		i.Rd = Reg(b[pc+1])

		return i, nil
	case op == OpLea || op >= OpLdr1 && op <= OpStr8 || op >= OpLds1 && op <= OpLds4:
		if !need(6) {
			break
		}

		i.Rd = Reg(b[pc+1])
		i.Rs = Reg(b[pc+2])
		i.Off = int32(u32(b[pc+3:]))

		if op != OpLea {
			i.Size = AccessSize(op)
		}

		return i, nil
	case op >= OpSti1 && op <= OpSti8:
		i.Size = AccessSize(op)

		if !need(5 + i.Size) {
			break
		}

		i.Rd = Reg(b[pc+1])
		i.Off = int32(u32(b[pc+2:]))

		for k := 0; k < i.Size; k++ {
			i.Imm |= uint64(b[pc+6+k]) << (8 * k)
		}

		return i, nil
	case op == OpMcpy:
		if !need(6) {
			break
		}

		i.Rd = Reg(b[pc+1])
		i.Rs = Reg(b[pc+2])
		i.Addr = u32(b[pc+3:]) // copy length

		return i, nil
	case op == OpJmp || op == OpPsha:
		if !need(4) {
			break
		}

		i.Addr = u32(b[pc+1:])

		return i, nil
	case op == OpJz || op == OpJnz || op == OpLda:
		if !need(5) {
			break
		}

		i.Rd = Reg(b[pc+1])
		i.Addr = u32(b[pc+2:])

		return i, nil
	default:
		return i, errors.New("pc %#x: bad opcode %#x", pc, byte(i.Op))
	}

	return i, errors.New("pc %#x: truncated %v", pc, i.Op)
}
