package vm

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/micalang/mica/compiler/obj"
)

func run(t *testing.T, img *obj.Image, opts ...Option) (*Machine, int64, string) {
	t.Helper()

	var out bytes.Buffer

	m, err := New(img, append([]Option{WithOutput(&out), WithStepLimit(100000)}, opts...)...)
	require.NoError(t, err)

	status, err := m.Run(context.Background())
	require.NoError(t, err)

	return m, status, out.String()
}

func TestDecode(t *testing.T) {
	var b []byte

	b = AppendLdi(b, 3, 0x1122334455667788)
	b = AppendAddi(b, 3, -4)
	b = AppendMem(b, LdrOp(2), 5, FP, -16)
	b = AppendSti(b, 4, SP, 8, 0xdeadbeef)
	b = AppendMcpy(b, 1, 2, 24)

	pc := 0

	i, err := Decode(b, pc)
	require.NoError(t, err)
	assert.Equal(t, Instr{Op: OpLdi, Rd: 3, Imm: 0x1122334455667788, Len: 10}, i)
	pc += i.Len

	i, err = Decode(b, pc)
	require.NoError(t, err)
	assert.Equal(t, Instr{Op: OpAddi, Rd: 3, Imm: 0xfffffffffffffffc, Len: 6}, i)
	pc += i.Len

	i, err = Decode(b, pc)
	require.NoError(t, err)
	assert.Equal(t, Instr{Op: OpLdr2, Rd: 5, Rs: FP, Size: 2, Off: -16, Len: 7}, i)
	pc += i.Len

	i, err = Decode(b, pc)
	require.NoError(t, err)
	assert.Equal(t, Instr{Op: OpSti4, Rd: SP, Size: 4, Off: 8, Imm: 0xdeadbeef, Len: 10}, i)
	pc += i.Len

	i, err = Decode(b, pc)
	require.NoError(t, err)
	assert.Equal(t, Instr{Op: OpMcpy, Rd: 1, Rs: 2, Addr: 24, Len: 7}, i)
	pc += i.Len

	assert.Equal(t, len(b), pc)

	_, err = Decode(b, len(b))
	assert.Error(t, err)

	_, err = Decode(b[:3], 0)
	assert.Error(t, err)
}

func TestRunArith(t *testing.T) {
	var b []byte

	b = AppendLdi(b, 1, 6)
	b = AppendLdi(b, 2, 7)
	b = AppendRR(b, OpMul, 1, 2)
	b = AppendEcall(b, EcallPrint)
	b = AppendLdi(b, 1, 0)
	b = AppendEcall(b, EcallExit)

	_, status, out := run(t, &obj.Image{Code: b})
	assert.Equal(t, int64(0), status)
	assert.Equal(t, "42\n", out)
}

func TestRunCallRet(t *testing.T) {
	var b []byte

	b = append(b, byte(OpPsha))
	afterFix := len(b)
	b = AppendU32(b, 0)

	b = append(b, byte(OpJmp))
	fFix := len(b)
	b = AppendU32(b, 0)

	after := len(b)
	b = AppendMov(b, 1, 0)
	b = AppendEcall(b, EcallExit)

	f := len(b)
	b = AppendLdi(b, 0, 40)
	b = AppendAddi(b, 0, 2)
	b = AppendOp0(b, OpRet)

	PutAddr(b, afterFix, uint32(after))
	PutAddr(b, fFix, uint32(f))

	_, status, _ := run(t, &obj.Image{Code: b})
	assert.Equal(t, int64(42), status)
}

func TestRunMemory(t *testing.T) {
	var b []byte

	b = append(b, byte(OpLda), 4)
	dataFix := len(b)
	b = AppendU32(b, 0)

	b = AppendSti(b, 4, 4, 0, 0x11223344)
	b = AppendMem(b, LdrOp(2), 5, 4, 2)
	b = AppendMem(b, StrOp(1), 4, 5, 8)
	b = AppendMem(b, LdrOp(8), 6, 4, 8)

	b = AppendMem(b, OpLea, 7, 4, 8)
	b = AppendMcpy(b, 7, 4, 4)
	b = AppendMem(b, LdrOp(4), 8, 4, 8)

	b = AppendOp0(b, OpHlt)

	PutAddr(b, dataFix, uint32(len(b)))

	m, _, _ := run(t, &obj.Image{Code: b, Data: make([]byte, 16)})

	assert.Equal(t, uint64(0x1122), m.Reg(5))
	assert.Equal(t, uint64(0x22), m.Reg(6))
	assert.Equal(t, uint64(0x11223344), m.Reg(8))

	mem, err := m.Mem(len(b), 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x44, 0x33, 0x22, 0x11}, mem)
}

func TestRunSignExtend(t *testing.T) {
	var b []byte

	b = append(b, byte(OpLda), 4)
	dataFix := len(b)
	b = AppendU32(b, 0)

	b = AppendSti(b, 1, 4, 0, 0xfe)
	b = AppendMem(b, LdsOp(1), 1, 4, 0)
	b = AppendEcall(b, EcallPrint)

	b = AppendSti(b, 2, 4, 0, 0x8000)
	b = AppendMem(b, LdsOp(2), 5, 4, 0)
	b = AppendMem(b, LdrOp(2), 6, 4, 0)

	b = AppendOp0(b, OpHlt)

	PutAddr(b, dataFix, uint32(len(b)))

	m, _, out := run(t, &obj.Image{Code: b, Data: make([]byte, 8)})

	assert.Equal(t, "-2\n", out)
	assert.Equal(t, uint64(0xffffffffffff8000), m.Reg(5))
	assert.Equal(t, uint64(0x8000), m.Reg(6))
}

func TestRunBranches(t *testing.T) {
	var b []byte

	// count down from 3, printing each value
	b = AppendLdi(b, 4, 3)

	start := len(b)
	b = AppendMov(b, 1, 4)
	b = AppendEcall(b, EcallPrint)
	b = AppendAddi(b, 4, -1)

	b = append(b, byte(OpJnz), 4)
	startFix := len(b)
	b = AppendU32(b, 0)

	b = AppendLdi(b, 1, 0)
	b = AppendEcall(b, EcallExit)

	PutAddr(b, startFix, uint32(start))

	_, _, out := run(t, &obj.Image{Code: b})
	assert.Equal(t, "3\n2\n1\n", out)
}

func TestRunGetc(t *testing.T) {
	var b []byte

	start := len(b)
	b = AppendEcall(b, EcallGetc)

	b = append(b, byte(OpJnz), 1)
	endFix := len(b)
	b = AppendU32(b, 0)

	b = AppendMov(b, 1, 0)
	b = AppendEcall(b, EcallPutc)

	b = append(b, byte(OpJmp))
	startFix := len(b)
	b = AppendU32(b, 0)

	end := len(b)
	b = AppendLdi(b, 1, 0)
	b = AppendEcall(b, EcallExit)

	PutAddr(b, endFix, uint32(end))
	PutAddr(b, startFix, uint32(start))

	_, status, out := run(t, &obj.Image{Code: b}, WithInput(strings.NewReader("echo")))
	assert.Equal(t, int64(0), status)
	assert.Equal(t, "echo", out)
}

func TestRunFaults(t *testing.T) {
	for _, tc := range []struct {
		name string
		code func(b []byte) []byte
	}{
		{"div_zero", func(b []byte) []byte {
			b = AppendLdi(b, 1, 10)
			return AppendRR(b, OpDiv, 1, 2)
		}},
		{"bad_read", func(b []byte) []byte {
			b = AppendLdi(b, 1, 1<<32)
			return AppendMem(b, LdrOp(8), 2, 1, 0)
		}},
		{"ret_empty_stack", func(b []byte) []byte {
			return AppendOp0(b, OpRet)
		}},
		{"bad_ecall", func(b []byte) []byte {
			return AppendEcall(b, 200)
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m, err := New(&obj.Image{Code: tc.code(nil)}, WithStepLimit(100))
			require.NoError(t, err)

			_, err = m.Run(context.Background())
			assert.Error(t, err)
			t.Logf("fault: %v", err)
		})
	}
}

func TestRunStepLimit(t *testing.T) {
	b := append([]byte{byte(OpJmp)}, 0, 0, 0, 0)

	m, err := New(&obj.Image{Code: b}, WithStepLimit(100))
	require.NoError(t, err)

	_, err = m.Run(context.Background())
	assert.ErrorContains(t, err, "step limit")
}

func TestStackOverflow(t *testing.T) {
	var b []byte

	start := len(b)
	b = AppendR(b, OpPush, 0)

	b = append(b, byte(OpJmp))
	startFix := len(b)
	b = AppendU32(b, 0)

	PutAddr(b, startFix, uint32(start))

	m, err := New(&obj.Image{Code: b}, WithMemSize(1<<13))
	require.NoError(t, err)

	_, err = m.Run(context.Background())
	assert.ErrorContains(t, err, "stack overflow")
}

func TestDisasm(t *testing.T) {
	var b []byte

	b = AppendLdi(b, 1, 5)
	b = AppendEcall(b, EcallPrint)
	b = AppendOp0(b, OpHlt)

	img := &obj.Image{
		Code:   b,
		Data:   []byte{1, 2, 3},
		Labels: map[string]uint32{"main": 0},
	}

	exp := `main:
  000000  ldi r1, 5
  00000a  ecall 1
  00000c  hlt
.data
  00000d  01 02 03
`

	got := string(AppendDisasm(nil, img))
	assert.Equal(t, exp, got)

	t.Logf("listing:\n%s", got)
}
