// Package vm defines the mica virtual machine: its instruction set
// and encoding, an interpreter, and a disassembler.
//
// The machine has 16 registers of 64 bits. r0-r11 are general
// purpose: r0-r3 carry call arguments and r0 the return value.
// r12 and r13 are emitter scratch, r14 is the frame pointer, r15 the
// stack pointer. Memory is byte addressed, little endian; the stack
// grows down from the top.
package vm

import (
	"strconv"
)

type (
	Op  byte
	Reg uint8
)

const (
	Scratch0 Reg = 12
	Scratch1 Reg = 13
	FP       Reg = 14
	SP       Reg = 15

	NumRegs    = 16
	NumGPRegs  = 12 // r0-r11
	NumArgRegs = 4  // r0-r3
)

const (
	OpNop   Op = 0x00
	OpHlt   Op = 0x01
	OpEcall Op = 0x02 // ecall num8

	OpLdi  Op = 0x10 // ldi rd, imm64
	OpMov  Op = 0x11 // mov rd, rs
	OpAddi Op = 0x12 // addi rd, imm32 (sign extended)
	OpLea  Op = 0x13 // lea rd, rb, off32
	OpLda  Op = 0x14 // lda rd, addr32

	OpLdr1 Op = 0x20 // ldr rd, [rb+off32], zero extending
	OpLdr2 Op = 0x21
	OpLdr4 Op = 0x22
	OpLdr8 Op = 0x23

	OpStr1 Op = 0x24 // str [rb+off32], rs
	OpStr2 Op = 0x25
	OpStr4 Op = 0x26
	OpStr8 Op = 0x27

	OpSti1 Op = 0x28 // sti [rb+off32], immN
	OpSti2 Op = 0x29
	OpSti4 Op = 0x2a
	OpSti8 Op = 0x2b

	OpMcpy Op = 0x2c // mcpy rd, rs, len32

	OpLds1 Op = 0x2d // ldr rd, [rb+off32], sign extending
	OpLds2 Op = 0x2e
	OpLds4 Op = 0x2f

	OpAdd  Op = 0x30 // rd = rd op rs
	OpSub  Op = 0x31
	OpMul  Op = 0x32
	OpDiv  Op = 0x33
	OpDivu Op = 0x34
	OpRem  Op = 0x35
	OpRemu Op = 0x36
	OpAnd  Op = 0x37
	OpOr   Op = 0x38
	OpXor  Op = 0x39
	OpShl  Op = 0x3a
	OpShr  Op = 0x3b
	OpSra  Op = 0x3c
	OpNot  Op = 0x3d // rd = ^rd
	OpNeg  Op = 0x3e // rd = -rd

	OpCeq  Op = 0x40 // rd = rd cond rs ? 1 : 0
	OpCne  Op = 0x41
	OpClt  Op = 0x42
	OpCle  Op = 0x43
	OpCgt  Op = 0x44
	OpCge  Op = 0x45
	OpCltu Op = 0x46
	OpCleu Op = 0x47
	OpCgtu Op = 0x48
	OpCgeu Op = 0x49

	OpJmp  Op = 0x50 // jmp addr32
	OpJz   Op = 0x51 // jz rs, addr32
	OpJnz  Op = 0x52 // jnz rs, addr32
	OpPsha Op = 0x53 // push addr32
	OpRet  Op = 0x54 // pop pc
	OpPush Op = 0x55
	OpPop  Op = 0x56
)

// Host call numbers.
const (
	EcallExit  = 0 // status in r1
	EcallPrint = 1 // signed decimal of r1 and a newline
	EcallPutc  = 2 // byte in r1
	EcallGetc  = 3 // byte to r0, eof flag to r1
)

var opNames = map[Op]string{
	OpNop: "nop", OpHlt: "hlt", OpEcall: "ecall",
	OpLdi: "ldi", OpMov: "mov", OpAddi: "addi", OpLea: "lea", OpLda: "lda",
	OpLdr1: "ldr1", OpLdr2: "ldr2", OpLdr4: "ldr4", OpLdr8: "ldr8",
	OpStr1: "str1", OpStr2: "str2", OpStr4: "str4", OpStr8: "str8",
	OpSti1: "sti1", OpSti2: "sti2", OpSti4: "sti4", OpSti8: "sti8",
	OpMcpy: "mcpy",
	OpLds1: "lds1", OpLds2: "lds2", OpLds4: "lds4",
	OpAdd:  "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpDivu: "divu",
	OpRem: "rem", OpRemu: "remu", OpAnd: "and", OpOr: "or", OpXor: "xor",
	OpShl: "shl", OpShr: "shr", OpSra: "sra", OpNot: "not", OpNeg: "neg",
	OpCeq: "ceq", OpCne: "cne", OpClt: "clt", OpCle: "cle", OpCgt: "cgt", OpCge: "cge",
	OpCltu: "cltu", OpCleu: "cleu", OpCgtu: "cgtu", OpCgeu: "cgeu",
	OpJmp: "jmp", OpJz: "jz", OpJnz: "jnz", OpPsha: "psha", OpRet: "ret",
	OpPush: "push", OpPop: "pop",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}

	return "op?"
}

func (r Reg) String() string {
	switch {
	case r == FP:
		return "fp"
	case r == SP:
		return "sp"
	case r < NumRegs:
		return "r" + strconv.Itoa(int(r))
	default:
		return "r?"
	}
}

// LdrOp selects the load opcode for an access size of 1, 2, 4 or 8.
func LdrOp(size int) Op { return OpLdr1 + Op(sizeIdx(size)) }
func StrOp(size int) Op { return OpStr1 + Op(sizeIdx(size)) }
func StiOp(size int) Op { return OpSti1 + Op(sizeIdx(size)) }

// LdsOp is the sign extending load for a size of 1, 2 or 4.
func LdsOp(size int) Op {
	if size == 8 {
		return OpLdr8
	}

	return OpLds1 + Op(sizeIdx(size))
}

func sizeIdx(size int) int {
	switch size {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	default:
		panic(size)
	}
}

// AccessSize is the memory access width of a sized load/store opcode.
func AccessSize(o Op) int {
	switch {
	case o >= OpLdr1 && o <= OpLdr8:
		return 1 << (o - OpLdr1)
	case o >= OpStr1 && o <= OpStr8:
		return 1 << (o - OpStr1)
	case o >= OpSti1 && o <= OpSti8:
		return 1 << (o - OpSti1)
	case o >= OpLds1 && o <= OpLds4:
		return 1 << (o - OpLds1)
	default:
		panic(o)
	}
}
