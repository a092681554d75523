package front

import (
	"tlog.app/go/errors"

	"github.com/micalang/mica/compiler/ir"
	"github.com/micalang/mica/compiler/tp"
)

type (
	// SymTab is the checker's output the code generator works against:
	// per function scope sizes in, generated code bindings out.
	SymTab struct {
		s *State

		funcs map[string]*funcSyms
	}

	funcSyms struct {
		sig    tp.Func
		locals []local

		entry ir.Label
		code  []byte
		bound bool
	}

	local struct {
		name string
		typ  tp.Type
		pos  int
	}
)

func newSymTab(s *State) *SymTab {
	return &SymTab{s: s, funcs: map[string]*funcSyms{}}
}

// ScopeSize is the number of bytes the function's declared locals
// need. Types whose size is not known are an error.
func (m *SymTab) ScopeSize(fn string) (int, error) {
	fs, ok := m.funcs[fn]
	if !ok {
		return 0, errors.New("unknown function: %v", fn)
	}

	sz := 0

	for _, l := range fs.locals {
		s := l.typ.Size()
		if s < 0 {
			return 0, errors.New("%v: size of %v is not known at compile time", m.s.PosString(l.pos), l.name)
		}

		sz = alignUp(sz+s, tp.AlignOf(l.typ))
	}

	return sz, nil
}

// Bind records where the function ended up in the image.
func (m *SymTab) Bind(fn string, entry ir.Label, code []byte) {
	fs := m.funcs[fn]

	fs.entry = entry
	fs.code = code
	fs.bound = true
}

// Sig is the function signature, false for unknown names.
func (m *SymTab) Sig(fn string) (tp.Func, bool) {
	fs, ok := m.funcs[fn]
	if !ok {
		return tp.Func{}, false
	}

	return fs.sig, true
}

func alignUp(x, a int) int {
	return (x + a - 1) / a * a
}
