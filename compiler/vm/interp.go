package vm

import (
	"context"
	"io"
	"os"
	"strconv"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/micalang/mica/compiler/obj"
)

type (
	// Machine is one interpreter instance over a loaded image.
	Machine struct {
		mem []byte
		reg [NumRegs]uint64
		pc  int

		static int // end of code+data, stack must stay above

		in  io.Reader
		out io.Writer

		steps int64
		limit int64

		halted bool
		status int64

		rb [1]byte
	}

	Option func(*Machine)
)

const DefaultMemSize = 1 << 20

func WithMemSize(n int) Option { return func(m *Machine) { m.mem = make([]byte, n) } }

func WithOutput(w io.Writer) Option { return func(m *Machine) { m.out = w } }

func WithInput(r io.Reader) Option { return func(m *Machine) { m.in = r } }

// WithStepLimit makes Run fail after n instructions. 0 means no limit.
func WithStepLimit(n int64) Option { return func(m *Machine) { m.limit = n } }

// New loads the image at address 0 and points the stack at the top
// of memory.
func New(img *obj.Image, opts ...Option) (*Machine, error) {
	m := &Machine{
		in:  os.Stdin,
		out: os.Stdout,
	}

	for _, o := range opts {
		o(m)
	}

	if m.mem == nil {
		m.mem = make([]byte, DefaultMemSize)
	}

	m.static = len(img.Code) + len(img.Data)

	if m.static+1024 > len(m.mem) {
		return nil, errors.New("image does not fit in %d bytes of memory", len(m.mem))
	}

	copy(m.mem, img.Code)
	copy(m.mem[len(img.Code):], img.Data)

	m.pc = int(img.Entry)
	m.reg[SP] = uint64(len(m.mem))

	return m, nil
}

func (m *Machine) PC() int { return m.pc }

func (m *Machine) Reg(r Reg) uint64 { return m.reg[r] }

func (m *Machine) Halted() bool { return m.halted }

func (m *Machine) Status() int64 { return m.status }

func (m *Machine) Steps() int64 { return m.steps }

// Mem returns a view of n bytes at addr for inspection.
func (m *Machine) Mem(addr, n int) ([]byte, error) {
	if addr < 0 || n < 0 || addr+n > len(m.mem) {
		return nil, errors.New("address out of range: %#x+%d", addr, n)
	}

	return m.mem[addr : addr+n], nil
}

// Run executes until the program exits or faults.
func (m *Machine) Run(ctx context.Context) (status int64, err error) {
	tr := tlog.SpanFromContext(ctx)

	trace := tr.If("trace")

	for !m.halted {
		if trace {
			if i, e := Decode(m.mem, m.pc); e == nil {
				tr.Printw("step", "pc", tlog.FormatNext("%06x"), m.pc, "instr", string(AppendInstr(nil, i)))
			}
		}

		err = m.Step()
		if err != nil {
			return 0, err
		}

		if m.limit != 0 && m.steps >= m.limit {
			return 0, errors.New("step limit reached at pc %#x", m.pc)
		}
	}

	return m.status, nil
}

// Step executes a single instruction.
func (m *Machine) Step() error {
	if m.halted {
		return nil
	}

	i, err := Decode(m.mem, m.pc)
	if err != nil {
		return err
	}

	m.steps++

	next := m.pc + i.Len

	switch op := i.Op; {
	case op == OpNop:
	case op == OpHlt:
		m.halted = true
	case op == OpEcall:
		err = m.ecall(i.Num)
	case op == OpLdi:
		m.reg[i.Rd] = i.Imm
	case op == OpMov:
		m.reg[i.Rd] = m.reg[i.Rs]
	case op == OpAddi:
		m.reg[i.Rd] += i.Imm
	case op == OpLea:
		m.reg[i.Rd] = uint64(int64(m.reg[i.Rs]) + int64(i.Off))
	case op == OpLda:
		m.reg[i.Rd] = uint64(i.Addr)
	case op >= OpLdr1 && op <= OpLdr8:
		var v uint64

		v, err = m.load(int(int64(m.reg[i.Rs])+int64(i.Off)), i.Size)
		m.reg[i.Rd] = v
	case op >= OpLds1 && op <= OpLds4:
		var v uint64

		v, err = m.load(int(int64(m.reg[i.Rs])+int64(i.Off)), i.Size)

		sh := 64 - 8*i.Size
		m.reg[i.Rd] = uint64(int64(v<<sh) >> sh)
	case op >= OpStr1 && op <= OpStr8:
		err = m.store(int(int64(m.reg[i.Rd])+int64(i.Off)), i.Size, m.reg[i.Rs])
	case op >= OpSti1 && op <= OpSti8:
		err = m.store(int(int64(m.reg[i.Rd])+int64(i.Off)), i.Size, i.Imm)
	case op == OpMcpy:
		err = m.mcpy(int(m.reg[i.Rd]), int(m.reg[i.Rs]), int(i.Addr))
	case op >= OpAdd && op <= OpNeg:
		err = m.arith(i.Op, i.Rd, i.Rs)
	case op >= OpCeq && op <= OpCgeu:
		m.reg[i.Rd] = m.compare(i.Op, m.reg[i.Rd], m.reg[i.Rs])
	case op == OpJmp:
		next = int(i.Addr)
	case op == OpJz:
		if m.reg[i.Rd] == 0 {
			next = int(i.Addr)
		}
	case op == OpJnz:
		if m.reg[i.Rd] != 0 {
			next = int(i.Addr)
		}
	case op == OpPsha:
		err = m.push(uint64(i.Addr))
	case op == OpPush:
		err = m.push(m.reg[i.Rd])
	case op == OpPop:
		m.reg[i.Rd], err = m.pop()
	case op == OpRet:
		var a uint64

		a, err = m.pop()
		next = int(a)
	default:
		return errors.New("pc %#x: unsupported op %v", m.pc, i.Op)
	}

	if err != nil {
		return errors.Wrap(err, "pc %#x: %v", m.pc, i.Op)
	}

	m.pc = next

	return nil
}

func (m *Machine) arith(op Op, rd, rs Reg) error {
	a, b := m.reg[rd], m.reg[rs]

	switch op {
	case OpAdd:
		a += b
	case OpSub:
		a -= b
	case OpMul:
		a *= b
	case OpDiv, OpRem, OpDivu, OpRemu:
		if b == 0 {
			return errors.New("division by zero")
		}

		switch op {
		case OpDiv:
			a = uint64(int64(a) / int64(b))
		case OpRem:
			a = uint64(int64(a) % int64(b))
		case OpDivu:
			a /= b
		case OpRemu:
			a %= b
		}
	case OpAnd:
		a &= b
	case OpOr:
		a |= b
	case OpXor:
		a ^= b
	case OpShl:
		a <<= b & 63
	case OpShr:
		a >>= b & 63
	case OpSra:
		a = uint64(int64(a) >> (b & 63))
	case OpNot:
		a = ^a
	case OpNeg:
		a = -a
	default:
		panic(op)
	}

	m.reg[rd] = a

	return nil
}

func (m *Machine) compare(op Op, a, b uint64) uint64 {
	var r bool

	switch op {
	case OpCeq:
		r = a == b
	case OpCne:
		r = a != b
	case OpClt:
		r = int64(a) < int64(b)
	case OpCle:
		r = int64(a) <= int64(b)
	case OpCgt:
		r = int64(a) > int64(b)
	case OpCge:
		r = int64(a) >= int64(b)
	case OpCltu:
		r = a < b
	case OpCleu:
		r = a <= b
	case OpCgtu:
		r = a > b
	case OpCgeu:
		r = a >= b
	default:
		panic(op)
	}

	if r {
		return 1
	}

	return 0
}

func (m *Machine) ecall(num byte) error {
	switch num {
	case EcallExit:
		m.halted = true
		m.status = int64(m.reg[1])
	case EcallPrint:
		b := strconv.AppendInt(nil, int64(m.reg[1]), 10)
		b = append(b, '\n')

		_, err := m.out.Write(b)
		if err != nil {
			return errors.Wrap(err, "print")
		}
	case EcallPutc:
		_, err := m.out.Write([]byte{byte(m.reg[1])})
		if err != nil {
			return errors.Wrap(err, "putc")
		}
	case EcallGetc:
		n, err := io.ReadFull(m.in, m.rb[:])
		if n == 1 {
			m.reg[0] = uint64(m.rb[0])
			m.reg[1] = 0
		} else {
			m.reg[0] = 0
			m.reg[1] = 1

			if err != io.EOF && err != io.ErrUnexpectedEOF {
				return errors.Wrap(err, "getc")
			}
		}
	default:
		return errors.New("bad ecall: %d", num)
	}

	return nil
}

func (m *Machine) load(addr, size int) (uint64, error) {
	if addr < 0 || addr+size > len(m.mem) {
		return 0, errors.New("read out of range: %#x+%d", addr, size)
	}

	var v uint64

	for k := 0; k < size; k++ {
		v |= uint64(m.mem[addr+k]) << (8 * k)
	}

	return v, nil
}

func (m *Machine) store(addr, size int, v uint64) error {
	if addr < 0 || addr+size > len(m.mem) {
		return errors.New("write out of range: %#x+%d", addr, size)
	}

	for k := 0; k < size; k++ {
		m.mem[addr+k] = byte(v >> (8 * k))
	}

	return nil
}

func (m *Machine) mcpy(dst, src, n int) error {
	if src < 0 || src+n > len(m.mem) {
		return errors.New("copy source out of range: %#x+%d", src, n)
	}

	if dst < 0 || dst+n > len(m.mem) {
		return errors.New("copy destination out of range: %#x+%d", dst, n)
	}

	copy(m.mem[dst:dst+n], m.mem[src:src+n])

	return nil
}

func (m *Machine) push(v uint64) error {
	sp := int(m.reg[SP]) - 8

	if sp < m.static {
		return errors.New("stack overflow")
	}

	err := m.store(sp, 8, v)
	if err != nil {
		return err
	}

	m.reg[SP] = uint64(sp)

	return nil
}

func (m *Machine) pop() (uint64, error) {
	sp := int(m.reg[SP])

	v, err := m.load(sp, 8)
	if err != nil {
		return 0, errors.Wrap(err, "stack underflow")
	}

	m.reg[SP] = uint64(sp + 8)

	return v, nil
}
