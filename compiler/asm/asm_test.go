package asm

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/micalang/mica/compiler/vm"
)

func run(t *testing.T, src string) (int64, string) {
	t.Helper()

	ctx := context.Background()

	img, err := Assemble(ctx, "t.s", []byte(src))
	require.NoError(t, err)

	var out bytes.Buffer

	m, err := vm.New(img, vm.WithOutput(&out), vm.WithStepLimit(100_000))
	require.NoError(t, err)

	st, err := m.Run(ctx)
	require.NoError(t, err)

	return st, out.String()
}

func TestAssembleRun(t *testing.T) {
	st, out := run(t, `
// six times seven
	ldi r1, 6
	ldi r2, 7
	mul r1, r2
	ecall 1
	ldi r1, 3
	ecall 0
`)

	assert.Equal(t, int64(3), st)
	assert.Equal(t, "42\n", out)
}

func TestAssembleLoop(t *testing.T) {
	st, out := run(t, `
	ldi r1, 3
loop:
	jz r1, done
	ecall 1
	addi r1, -1
	jmp loop
done:
	hlt
`)

	assert.Equal(t, int64(0), st)
	assert.Equal(t, "3\n2\n1\n", out)
}

func TestAssembleCall(t *testing.T) {
	st, out := run(t, `
	ldi r1, 21
	psha back
	jmp double
back:
	ecall 1
	hlt
double:
	add r1, r1
	ret
`)

	assert.Equal(t, int64(0), st)
	assert.Equal(t, "42\n", out)
}

func TestAssembleMem(t *testing.T) {
	_, out := run(t, `
	lea r4, sp, -32
	ldi r1, -5
	str8 [r4+0], r1
	lds4 r2, [r4+0]
	mov r1, r2
	ecall 1
	sti4 [r4+8], 77
	ldr4 r1, [r4+8]
	ecall 1
	lea r5, r4, 16
	mcpy r5, r4, 8
	ldr8 r1, [r5+0]
	ecall 1
	hlt
`)

	assert.Equal(t, "-5\n77\n-5\n", out)
}

func TestAssembleData(t *testing.T) {
	ctx := context.Background()

	img, err := Assemble(ctx, "t.s", []byte(`
	lda r5, ptr
	ldr8 r4, [r5+0]
loop:
	ldr1 r1, [r4+0]
	jz r1, done
	ecall 2
	addi r4, 1
	jmp loop
done:
	hlt
.data
msg:
	.byte 104, 105, 10, 0
ptr:
	.quad msg
`))
	require.NoError(t, err)

	assert.EqualValues(t, 0, img.Entry)
	assert.EqualValues(t, len(img.Code), img.Labels["msg"])
	assert.EqualValues(t, len(img.Code)+4, img.Labels["ptr"])
	assert.Len(t, img.Data, 12)

	var out bytes.Buffer

	m, err := vm.New(img, vm.WithOutput(&out), vm.WithStepLimit(100_000))
	require.NoError(t, err)

	_, err = m.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, "hi\n", out.String())
}

func TestAssembleSpace(t *testing.T) {
	ctx := context.Background()

	img, err := Assemble(ctx, "t.s", []byte(`
	hlt
.data
buf:
	.space 16
end:
	.byte 1
`))
	require.NoError(t, err)

	assert.EqualValues(t, len(img.Code), img.Labels["buf"])
	assert.EqualValues(t, len(img.Code)+16, img.Labels["end"])
	assert.Len(t, img.Data, 17)
}

func TestAssembleErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		src  string
		want string
	}{
		{"unknown", "\tfrob r1\n", "t.s:1: unknown instruction: frob"},
		{"register", "\tmov rx, r1\n", "bad register: rx"},
		{"count", "\tmov r1\n", "mov takes 2 operands, got 1"},
		{"undefined", "\tjmp nowhere\n", "undefined label: nowhere"},
		{"duplicate", "a:\na:\n\thlt\n", "t.s:2: duplicate label: a"},
		{"number", "\tldi r1, abc\n", "bad number: abc"},
		{"item", "\t.byte 1\n\thlt\n", ".byte before .data"},
		{"code", ".data\n\thlt\n", "instruction in the data section"},
		{"mem", "\tldr8 r1, r2\n", "bad memory operand: r2"},
		{"empty", "\tmov r1,\n", "empty operand"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Assemble(context.Background(), "t.s", []byte(tc.src))
			require.Error(t, err)

			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestAssembleDisasm(t *testing.T) {
	ctx := context.Background()

	img, err := Assemble(ctx, "t.s", []byte("start:\n\tldi r1, 6\n\tjmp start\n"))
	require.NoError(t, err)

	lst := string(vm.AppendDisasm(nil, img))

	assert.Contains(t, lst, "start:")
	assert.Contains(t, lst, "ldi r1, 6")
	assert.Contains(t, lst, "jmp 0x0")
}
