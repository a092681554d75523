package tp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSize(t *testing.T) {
	assert.Equal(t, 1, Bool{}.Size())
	assert.Equal(t, 4, Int{Bits: 32, Signed: true}.Size())
	assert.Equal(t, 8, Ptr{X: Int{Bits: 8}}.Size())
	assert.Equal(t, 12, Array{X: Int{Bits: 32}, Len: 3}.Size())

	v := Struct{
		Name: "vec",
		Fields: []StructField{
			{Name: "x", Offset: 0, Type: Int{Bits: 32, Signed: true}},
			{Name: "y", Offset: 4, Type: Int{Bits: 32, Signed: true}},
		},
	}

	assert.Equal(t, 8, v.Size())
}

func TestSizeUnresolved(t *testing.T) {
	assert.Equal(t, -1, Name("vec").Size())
	assert.Equal(t, -1, Array{X: Name("vec"), Len: 4}.Size())
	assert.Equal(t, -1, Struct{Fields: []StructField{{Name: "x", Type: Name("q")}}}.Size())

	// pointers have a known size even if the element does not
	assert.Equal(t, 8, Ptr{X: Name("vec")}.Size())
}

func TestAlignOf(t *testing.T) {
	assert.Equal(t, 1, AlignOf(Bool{}))
	assert.Equal(t, 2, AlignOf(Int{Bits: 16}))
	assert.Equal(t, 8, AlignOf(Ptr{X: Bool{}}))
	assert.Equal(t, 4, AlignOf(Array{X: Int{Bits: 32}, Len: 3}))

	v := Struct{
		Fields: []StructField{
			{Name: "a", Type: Int{Bits: 8}},
			{Name: "b", Type: Int{Bits: 64}},
		},
	}

	assert.Equal(t, 8, AlignOf(v))
}

func TestEqual(t *testing.T) {
	i32 := Int{Bits: 32, Signed: true}
	u32 := Int{Bits: 32, Signed: false}

	assert.True(t, Equal(i32, Int{Bits: 32, Signed: true}))
	assert.False(t, Equal(i32, u32))
	assert.True(t, Equal(Ptr{X: i32}, Ptr{X: i32}))
	assert.False(t, Equal(Ptr{X: i32}, Ptr{X: u32}))
	assert.True(t, Equal(Array{X: u32, Len: 3}, Array{X: u32, Len: 3}))
	assert.False(t, Equal(Array{X: u32, Len: 3}, Array{X: u32, Len: 4}))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(Bool{}, nil))

	a := Struct{Name: "a", Fields: []StructField{{Name: "x", Type: i32}}}
	b := Struct{Name: "b", Fields: []StructField{{Name: "x", Type: i32}}}

	assert.True(t, Equal(a, a))
	assert.False(t, Equal(a, b))
}
