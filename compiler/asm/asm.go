// Package asm assembles mica VM assembly text into an object image.
//
// The syntax is line oriented: optional "name:" labels, then a
// mnemonic with comma separated operands. // starts a comment.
// Registers are r0-r15, fp and sp. Memory operands are written
// [rb+off] with a signed offset and no spaces. Jump and lda targets
// are label names or absolute addresses.
//
// A .data directive switches to the data section for the rest of the
// file. .byte, .word (4 bytes), .quad (8 bytes) and .space items
// define its contents; .word and .quad values may be labels.
//
// The assembler runs two passes: the first sizes every statement and
// assigns label addresses, the second encodes with all labels known.
// Execution starts at the first code instruction.
package asm

import (
	"context"
	"strconv"
	"strings"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/micalang/mica/compiler/obj"
	"github.com/micalang/mica/compiler/vm"
)

type (
	state struct {
		name string

		labels     map[string]uint32
		dataLabels map[string]uint32 // offsets until code size is known

		code []byte
		data []byte
	}

	stmt struct {
		line   int
		labels []string
		mn     string
		ops    []string
	}

	form struct {
		op   vm.Op
		kind int
	}
)

const (
	fNone     = iota // no operands
	fReg             // rd
	fRegReg          // rd, rs
	fEcall           // num8
	fLdi             // rd, imm64
	fAddi            // rd, imm32
	fLea             // rd, rb, off32
	fLda             // rd, addr
	fLoad            // rd, [rb+off]
	fStore           // [rb+off], rs
	fStoreImm        // [rb+off], immN
	fMcpy            // rd, rs, len32
	fJump            // addr
	fJumpReg         // rs, addr
)

var forms = map[string]form{
	"nop": {vm.OpNop, fNone}, "hlt": {vm.OpHlt, fNone}, "ret": {vm.OpRet, fNone},
	"ecall": {vm.OpEcall, fEcall},
	"ldi":   {vm.OpLdi, fLdi},
	"mov":   {vm.OpMov, fRegReg},
	"addi":  {vm.OpAddi, fAddi},
	"lea":   {vm.OpLea, fLea},
	"lda":   {vm.OpLda, fLda},
	"ldr1":  {vm.OpLdr1, fLoad}, "ldr2": {vm.OpLdr2, fLoad}, "ldr4": {vm.OpLdr4, fLoad}, "ldr8": {vm.OpLdr8, fLoad},
	"lds1": {vm.OpLds1, fLoad}, "lds2": {vm.OpLds2, fLoad}, "lds4": {vm.OpLds4, fLoad},
	"str1": {vm.OpStr1, fStore}, "str2": {vm.OpStr2, fStore}, "str4": {vm.OpStr4, fStore}, "str8": {vm.OpStr8, fStore},
	"sti1": {vm.OpSti1, fStoreImm}, "sti2": {vm.OpSti2, fStoreImm}, "sti4": {vm.OpSti4, fStoreImm}, "sti8": {vm.OpSti8, fStoreImm},
	"mcpy": {vm.OpMcpy, fMcpy},
	"add":  {vm.OpAdd, fRegReg}, "sub": {vm.OpSub, fRegReg}, "mul": {vm.OpMul, fRegReg},
	"div": {vm.OpDiv, fRegReg}, "divu": {vm.OpDivu, fRegReg},
	"rem": {vm.OpRem, fRegReg}, "remu": {vm.OpRemu, fRegReg},
	"and": {vm.OpAnd, fRegReg}, "or": {vm.OpOr, fRegReg}, "xor": {vm.OpXor, fRegReg},
	"shl": {vm.OpShl, fRegReg}, "shr": {vm.OpShr, fRegReg}, "sra": {vm.OpSra, fRegReg},
	"not": {vm.OpNot, fReg}, "neg": {vm.OpNeg, fReg},
	"ceq": {vm.OpCeq, fRegReg}, "cne": {vm.OpCne, fRegReg},
	"clt": {vm.OpClt, fRegReg}, "cle": {vm.OpCle, fRegReg},
	"cgt": {vm.OpCgt, fRegReg}, "cge": {vm.OpCge, fRegReg},
	"cltu": {vm.OpCltu, fRegReg}, "cleu": {vm.OpCleu, fRegReg},
	"cgtu": {vm.OpCgtu, fRegReg}, "cgeu": {vm.OpCgeu, fRegReg},
	"jmp": {vm.OpJmp, fJump}, "psha": {vm.OpPsha, fJump},
	"jz": {vm.OpJz, fJumpReg}, "jnz": {vm.OpJnz, fJumpReg},
	"push": {vm.OpPush, fReg}, "pop": {vm.OpPop, fReg},
}

// Assemble translates one source file into an image.
func Assemble(ctx context.Context, name string, text []byte) (img *obj.Image, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "asm: assemble", "name", name)
	defer tr.Finish("err", &err)

	a := &state{
		name:       name,
		labels:     map[string]uint32{},
		dataLabels: map[string]uint32{},
	}

	stmts, err := a.parse(text)
	if err != nil {
		return nil, err
	}

	err = a.size(stmts)
	if err != nil {
		return nil, err
	}

	err = a.encode(stmts)
	if err != nil {
		return nil, err
	}

	img = &obj.Image{
		Code:   a.code,
		Data:   a.data,
		Labels: a.labels,
	}

	tr.Printw("assembled", "code", len(a.code), "data", len(a.data), "labels", len(a.labels))

	return img, nil
}

func (a *state) parse(text []byte) (stmts []stmt, err error) {
	for i, raw := range strings.Split(string(text), "\n") {
		s := stmt{line: i + 1}

		if j := strings.Index(raw, "//"); j >= 0 {
			raw = raw[:j]
		}

		for {
			raw = strings.TrimSpace(raw)

			tok := raw
			if j := strings.IndexAny(raw, " \t"); j >= 0 {
				tok = raw[:j]
			}

			if !strings.HasSuffix(tok, ":") {
				break
			}

			name := tok[:len(tok)-1]
			if !isIdent(name) {
				return nil, errors.New("%v:%d: bad label: %q", a.name, s.line, name)
			}

			s.labels = append(s.labels, name)
			raw = raw[len(tok):]
		}

		if raw != "" {
			j := strings.IndexAny(raw, " \t")
			if j < 0 {
				s.mn = raw
			} else {
				s.mn = raw[:j]

				for _, o := range strings.Split(raw[j+1:], ",") {
					o = strings.TrimSpace(o)
					if o == "" {
						return nil, errors.New("%v:%d: empty operand", a.name, s.line)
					}

					s.ops = append(s.ops, o)
				}
			}

			s.mn = strings.ToLower(s.mn)
		}

		if s.mn == "" && s.labels == nil {
			continue
		}

		stmts = append(stmts, s)
	}

	return stmts, nil
}

// size is the first pass: label addresses and statement placement.
func (a *state) size(stmts []stmt) error {
	data := false
	var coff, doff uint32

	for _, s := range stmts {
		for _, l := range s.labels {
			_, dup := a.labels[l]
			if _, ok := a.dataLabels[l]; ok {
				dup = true
			}

			if dup {
				return errors.New("%v:%d: duplicate label: %v", a.name, s.line, l)
			}

			if data {
				a.dataLabels[l] = doff
			} else {
				a.labels[l] = coff
			}
		}

		switch {
		case s.mn == "":
		case s.mn == ".data":
			if data {
				return errors.New("%v:%d: duplicate .data", a.name, s.line)
			}

			data = true
		case s.mn[0] == '.':
			if !data {
				return errors.New("%v:%d: %v before .data", a.name, s.line, s.mn)
			}

			n, err := sizeItem(s)
			if err != nil {
				return errors.Wrap(err, "%v:%d", a.name, s.line)
			}

			doff += n
		default:
			f, ok := forms[s.mn]
			if !ok {
				return errors.New("%v:%d: unknown instruction: %v", a.name, s.line, s.mn)
			}

			if data {
				return errors.New("%v:%d: instruction in the data section", a.name, s.line)
			}

			coff += uint32(f.size())
		}
	}

	// the data area starts right after the code
	for l, off := range a.dataLabels {
		a.labels[l] = coff + off
	}

	return nil
}

func sizeItem(s stmt) (uint32, error) {
	if len(s.ops) == 0 {
		return 0, errors.New("%v needs a value", s.mn)
	}

	switch s.mn {
	case ".byte":
		return uint32(len(s.ops)), nil
	case ".word":
		return uint32(4 * len(s.ops)), nil
	case ".quad":
		return uint32(8 * len(s.ops)), nil
	case ".space":
		if len(s.ops) != 1 {
			return 0, errors.New(".space takes 1 operand, got %d", len(s.ops))
		}

		n, err := imm(s.ops[0], 32)

		return uint32(n), err
	default:
		return 0, errors.New("unknown directive: %v", s.mn)
	}
}

// encode is the second pass. Placement and mnemonics are already
// checked, operands are parsed and encoded here.
func (a *state) encode(stmts []stmt) (err error) {
	for _, s := range stmts {
		switch {
		case s.mn == "" || s.mn == ".data":
		case s.mn[0] == '.':
			err = a.encodeItem(s)
		default:
			err = a.encodeInstr(s)
		}

		if err != nil {
			return errors.Wrap(err, "%v:%d", a.name, s.line)
		}
	}

	return nil
}

func (a *state) encodeItem(s stmt) error {
	size := 0

	switch s.mn {
	case ".byte":
		size = 1
	case ".word":
		size = 4
	case ".quad":
		size = 8
	case ".space":
		n, err := imm(s.ops[0], 32)
		if err != nil {
			return err
		}

		a.data = append(a.data, make([]byte, n)...)

		return nil
	default:
		panic(s.mn)
	}

	for _, o := range s.ops {
		var v uint64
		var err error

		if size == 1 {
			v, err = imm(o, 8)
		} else {
			v, err = a.value(o, 8*size)
		}
		if err != nil {
			return err
		}

		for i := 0; i < size; i++ {
			a.data = append(a.data, byte(v>>(8*i)))
		}
	}

	return nil
}

func (a *state) encodeInstr(s stmt) error {
	f := forms[s.mn]

	if n := f.args(); len(s.ops) != n {
		return errors.New("%v takes %d operands, got %d", s.mn, n, len(s.ops))
	}

	switch f.kind {
	case fNone:
		a.code = vm.AppendOp0(a.code, f.op)
	case fReg:
		r, err := reg(s.ops[0])
		if err != nil {
			return err
		}

		a.code = vm.AppendR(a.code, f.op, r)
	case fRegReg:
		rd, err := reg(s.ops[0])
		if err != nil {
			return err
		}

		rs, err := reg(s.ops[1])
		if err != nil {
			return err
		}

		a.code = vm.AppendRR(a.code, f.op, rd, rs)
	case fEcall:
		v, err := imm(s.ops[0], 8)
		if err != nil {
			return err
		}

		a.code = vm.AppendEcall(a.code, byte(v))
	case fLdi:
		rd, err := reg(s.ops[0])
		if err != nil {
			return err
		}

		v, err := imm(s.ops[1], 64)
		if err != nil {
			return err
		}

		a.code = vm.AppendLdi(a.code, rd, v)
	case fAddi:
		rd, err := reg(s.ops[0])
		if err != nil {
			return err
		}

		v, err := imm(s.ops[1], 32)
		if err != nil {
			return err
		}

		a.code = vm.AppendAddi(a.code, rd, int32(v))
	case fLea:
		rd, err := reg(s.ops[0])
		if err != nil {
			return err
		}

		rb, err := reg(s.ops[1])
		if err != nil {
			return err
		}

		off, err := imm(s.ops[2], 32)
		if err != nil {
			return err
		}

		a.code = vm.AppendMem(a.code, f.op, rd, rb, int32(off))
	case fLda:
		rd, err := reg(s.ops[0])
		if err != nil {
			return err
		}

		ad, err := a.addr(s.ops[1])
		if err != nil {
			return err
		}

		a.code = append(a.code, byte(f.op), byte(rd))
		a.code = vm.AppendU32(a.code, ad)
	case fLoad:
		rd, err := reg(s.ops[0])
		if err != nil {
			return err
		}

		rb, off, err := mem(s.ops[1])
		if err != nil {
			return err
		}

		a.code = vm.AppendMem(a.code, f.op, rd, rb, off)
	case fStore:
		rb, off, err := mem(s.ops[0])
		if err != nil {
			return err
		}

		rs, err := reg(s.ops[1])
		if err != nil {
			return err
		}

		a.code = vm.AppendMem(a.code, f.op, rb, rs, off)
	case fStoreImm:
		rb, off, err := mem(s.ops[0])
		if err != nil {
			return err
		}

		size := vm.AccessSize(f.op)

		v, err := imm(s.ops[1], 8*size)
		if err != nil {
			return err
		}

		a.code = vm.AppendSti(a.code, size, rb, off, v)
	case fMcpy:
		rd, err := reg(s.ops[0])
		if err != nil {
			return err
		}

		rs, err := reg(s.ops[1])
		if err != nil {
			return err
		}

		n, err := imm(s.ops[2], 32)
		if err != nil {
			return err
		}

		a.code = vm.AppendMcpy(a.code, rd, rs, uint32(n))
	case fJump:
		ad, err := a.addr(s.ops[0])
		if err != nil {
			return err
		}

		a.code = append(a.code, byte(f.op))
		a.code = vm.AppendU32(a.code, ad)
	case fJumpReg:
		rs, err := reg(s.ops[0])
		if err != nil {
			return err
		}

		ad, err := a.addr(s.ops[1])
		if err != nil {
			return err
		}

		a.code = append(a.code, byte(f.op), byte(rs))
		a.code = vm.AppendU32(a.code, ad)
	default:
		panic(f.kind)
	}

	return nil
}

func (f form) size() int {
	switch f.kind {
	case fNone:
		return 1
	case fReg, fEcall:
		return 2
	case fRegReg:
		return 3
	case fLdi:
		return 10
	case fAddi, fLda, fJumpReg:
		return 6
	case fLea, fLoad, fStore, fMcpy:
		return 7
	case fStoreImm:
		return 6 + vm.AccessSize(f.op)
	case fJump:
		return 5
	default:
		panic(f.kind)
	}
}

func (f form) args() int {
	switch f.kind {
	case fNone:
		return 0
	case fReg, fEcall, fJump:
		return 1
	case fRegReg, fLdi, fAddi, fLda, fLoad, fStore, fStoreImm, fJumpReg:
		return 2
	case fLea, fMcpy:
		return 3
	default:
		panic(f.kind)
	}
}

// addr resolves a jump or lda operand: a label or a plain address.
func (a *state) addr(s string) (uint32, error) {
	if isIdent(s) {
		v, ok := a.labels[s]
		if !ok {
			return 0, errors.New("undefined label: %v", s)
		}

		return v, nil
	}

	v, err := imm(s, 32)

	return uint32(v), err
}

// value is a data item: a label address or a number fitting the size.
func (a *state) value(s string, bits int) (uint64, error) {
	if isIdent(s) {
		v, err := a.addr(s)

		return uint64(v), err
	}

	return imm(s, bits)
}

func reg(s string) (vm.Reg, error) {
	switch s {
	case "fp":
		return vm.FP, nil
	case "sp":
		return vm.SP, nil
	}

	if len(s) >= 2 && s[0] == 'r' {
		n, err := strconv.Atoi(s[1:])
		if err == nil && n >= 0 && n < vm.NumRegs {
			return vm.Reg(n), nil
		}
	}

	return 0, errors.New("bad register: %v", s)
}

func mem(s string) (vm.Reg, int32, error) {
	if len(s) < 3 || s[0] != '[' || s[len(s)-1] != ']' {
		return 0, 0, errors.New("bad memory operand: %v", s)
	}

	in := s[1 : len(s)-1]

	i := strings.IndexAny(in[1:], "+-")
	if i < 0 {
		r, err := reg(in)

		return r, 0, err
	}

	r, err := reg(in[:1+i])
	if err != nil {
		return 0, 0, err
	}

	off, err := strconv.ParseInt(in[1+i:], 0, 32)
	if err != nil {
		return 0, 0, errors.New("bad offset: %v", in[1+i:])
	}

	return r, int32(off), nil
}

func imm(s string, bits int) (uint64, error) {
	if v, err := strconv.ParseUint(s, 0, bits); err == nil {
		return v, nil
	}

	v, err := strconv.ParseInt(s, 0, bits)
	if err != nil {
		return 0, errors.New("bad number: %v", s)
	}

	return uint64(v), nil
}

func isIdent(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]

		ok := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' || i > 0 && c >= '0' && c <= '9'
		if !ok {
			return false
		}
	}

	return s != ""
}
