package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/micalang/mica/compiler/tp"
)

func TestGenMonotonic(t *testing.T) {
	var g Gen

	u32 := tp.Int{Bits: 32}

	prev := 0

	for i := 0; i < 100; i++ {
		tn := g.NextTn(u32)

		require.Greater(t, tn.ID, prev)
		prev = tn.ID
	}

	lprev := Label(0)

	for i := 0; i < 100; i++ {
		l := g.NextLabel()

		require.Greater(t, l, lprev)
		lprev = l
	}
}

func TestGenIndependent(t *testing.T) {
	var g Gen

	tn := g.NextTn(tp.Bool{})
	l := g.NextLabel()

	// both sequences start at 1 and do not share ids
	assert.Equal(t, 1, tn.ID)
	assert.Equal(t, Label(1), l)
}

func TestListPushBack(t *testing.T) {
	l := NewList()

	assert.Equal(t, Node(0), l.Front())
	assert.Equal(t, Node(0), l.Back())

	a := l.PushBack(Nop{}, false)
	b := l.PushBack(Ret{}, false)

	assert.Equal(t, 2, l.Len())
	assert.Equal(t, a, l.Front())
	assert.Equal(t, b, l.Back())
	assert.Equal(t, b, l.Next(a))
	assert.Equal(t, a, l.Prev(b))
	assert.Equal(t, Node(0), l.Next(b))

	assert.IsType(t, Nop{}, l.Op(a))
	assert.IsType(t, Ret{}, l.Op(b))
}

func TestListUnlink(t *testing.T) {
	l := NewList()

	a := l.PushBack(Mark{Label: 1}, false)
	b := l.PushBack(Nop{}, false)
	c := l.PushBack(Ret{}, false)

	l.Unlink(b)

	assert.Equal(t, 2, l.Len())
	assert.Equal(t, c, l.Next(a))
	assert.Equal(t, a, l.Prev(c))

	// removed slot is recycled by the next push
	d := l.PushBack(Push{X: Imm{Value: 4}}, false)
	assert.Equal(t, b, d)
	assert.Equal(t, d, l.Back())
}

func TestListUnlinkEnds(t *testing.T) {
	l := NewList()

	a := l.PushBack(Nop{}, false)
	b := l.PushBack(Nop{}, false)
	c := l.PushBack(Nop{}, false)

	l.Unlink(a)
	assert.Equal(t, b, l.Front())

	l.Unlink(c)
	assert.Equal(t, b, l.Back())

	l.Unlink(b)
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, Node(0), l.Front())

	assert.Panics(t, func() { l.Unlink(b) })
	assert.Panics(t, func() { l.Unlink(0) })
}

func TestListBackwardIter(t *testing.T) {
	l := NewList()

	l.PushBack(Mark{Label: 1}, false)
	l.PushBack(Mark{Label: 2}, false)
	l.PushBack(Mark{Label: 3}, false)

	var got []Label

	for n := l.Back(); n != 0; n = l.Prev(n) {
		got = append(got, l.Op(n).(Mark).Label)
	}

	assert.Equal(t, []Label{3, 2, 1}, got)
}

func TestScopeLookup(t *testing.T) {
	var g Gen

	u32 := tp.Int{Bits: 32}

	root := NewScope(nil)
	child := NewScope(root)

	x := g.NextTn(u32)
	y := g.NextTn(u32)

	root.Bind(1, x)
	child.Bind(2, y)

	got, ok := child.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, x, got)

	got, ok = child.Lookup(2)
	require.True(t, ok)
	assert.Equal(t, y, got)

	_, ok = root.Lookup(2)
	assert.False(t, ok)

	// shadowing: the innermost binding wins
	x2 := g.NextTn(u32)
	child.Bind(1, x2)

	got, _ = child.Lookup(1)
	assert.Equal(t, x2, got)
}

func TestScopeRet(t *testing.T) {
	var g Gen

	root := NewScope(nil)
	child := NewScope(root)

	assert.False(t, child.Ret().Valid())

	rt := g.NextTn(tp.Int{Bits: 64, Signed: true})
	root.SetRet(rt)

	assert.Equal(t, rt, child.Ret())
	assert.Equal(t, rt, root.Ret())
}
