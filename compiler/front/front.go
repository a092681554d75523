// Package front is the compiler front end: a byte-slice lexer, a
// recursive descent parser producing the ast package tree, and a
// checker that resolves types and symbols and fills in what the
// backend trusts blindly.
package front

import (
	"context"
	"strconv"
)

type (
	// State accumulates source files. Positions everywhere in the
	// front end are byte offsets into the concatenated buffer, the
	// file list converts them back to file:line:col.
	State struct {
		b []byte

		files []file
	}

	file struct {
		name string
		base int
	}
)

func New() *State {
	return &State{}
}

func (s *State) AddFile(ctx context.Context, name string, text []byte) {
	s.files = append(s.files, file{name: name, base: len(s.b)})
	s.b = append(s.b, text...)
}

// LineCol converts a byte offset to a file name and 1-based line and
// column.
func (s *State) LineCol(pos int) (name string, line, col int) {
	base := 0

	for _, f := range s.files {
		if pos < f.base {
			break
		}

		name = f.name
		base = f.base
	}

	line, col = 1, 1

	for i := base; i < pos && i < len(s.b); i++ {
		if s.b[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}

	return name, line, col
}

func (s *State) PosString(pos int) string {
	name, line, col := s.LineCol(pos)

	return name + ":" + strconv.Itoa(line) + ":" + strconv.Itoa(col)
}
