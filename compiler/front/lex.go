package front

import (
	"context"
	"strconv"

	"tlog.app/go/loc"
	"tlog.app/go/tlog"
)

type (
	Token interface{}

	// Char is single character punctuation. Newline is a token:
	// it separates statements.
	Char byte

	// Punct is two character punctuation: == != <= >= << >> && || :=
	Punct string

	Keyword string
	Ident   string
	Number  string

	badChar byte

	UnexpectedError struct {
		Pos   int
		Token Token
		Want  []Token
	}
)

// next reads one token: the token, its start position and the
// position after it. nil means end of input. Spaces and // comments
// are skipped, newlines are not.
func (s *State) next(ctx context.Context, st int) (tk Token, tst, i int) {
	if tr := tlog.SpanFromContext(ctx); tr.If("tokens") {
		defer func(st int) {
			tr.Printw("token", "st", st, "tk", tk, "i", i, "from", loc.Callers(1, 2))
		}(st)
	}

	st = s.skipSpaces(st)
	i = st

	if i == len(s.b) {
		return nil, st, i
	}

	c := s.b[i]

	switch c {
	case '(', ')', '{', '}', '[', ']', ',', '.', ';', '\n', '~', '^', '%':
		return Char(c), st, i + 1
	}

	if i+1 < len(s.b) {
		switch two := string(s.b[i : i+2]); two {
		case "==", "!=", "<=", ">=", "<<", ">>", "&&", "||", ":=":
			return Punct(two), st, i + 2
		}
	}

	switch c {
	case '+', '-', '*', '/', '&', '|', '<', '>', '=', '!', ':':
		return Char(c), st, i + 1
	}

	switch {
	case c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
		e := skipIdent(s.b, i+1)

		switch string(s.b[i:e]) {
		case "func", "type", "struct", "var", "return",
			"if", "else", "while", "do", "loop", "break", "continue",
			"cast", "true", "false":
			return Keyword(s.b[i:e]), st, e
		}

		return Ident(s.b[i:e]), st, e
	case c >= '0' && c <= '9':
		e := skipNum(s.b, i)

		return Number(s.b[i:e]), st, e
	}

	return badChar(c), st, i + 1
}

func (s *State) skipSpaces(i int) int {
	for i < len(s.b) {
		switch s.b[i] {
		case ' ', '\t', '\r':
			i++
			continue
		case '/':
			if i+1 < len(s.b) && s.b[i+1] == '/' {
				i = skipLine(s.b, i)
				continue
			}
		}

		break
	}

	return i
}

func skipIdent(b []byte, i int) int {
	for i < len(b) && (b[i] == '_' ||
		b[i] >= 'A' && b[i] <= 'Z' ||
		b[i] >= 'a' && b[i] <= 'z' ||
		b[i] >= '0' && b[i] <= '9') {
		i++
	}

	return i
}

func skipLine(b []byte, i int) int {
	for i < len(b) && b[i] != '\n' {
		i++
	}

	return i
}

func skipNum(b []byte, i int) int {
	if i+1 < len(b) && b[i] == '0' && (b[i+1] == 'x' || b[i+1] == 'X') {
		i += 2

		for i < len(b) && (b[i] == '_' ||
			b[i] >= '0' && b[i] <= '9' ||
			b[i] >= 'a' && b[i] <= 'f' ||
			b[i] >= 'A' && b[i] <= 'F') {
			i++
		}

		return i
	}

	for i < len(b) && (b[i] == '_' || b[i] >= '0' && b[i] <= '9') {
		i++
	}

	return i
}

func (e UnexpectedError) Error() string {
	r := "unexpected " + tokString(e.Token)

	for i, w := range e.Want {
		switch i {
		case 0:
			r += ", want " + tokString(w)
		default:
			r += " or " + tokString(w)
		}
	}

	return r
}

func tokString(tk Token) string {
	switch t := tk.(type) {
	case nil:
		return "end of file"
	case Char:
		if t == '\n' {
			return "end of line"
		}

		return "'" + string(t) + "'"
	case Punct:
		return "'" + string(t) + "'"
	case Keyword:
		if t == "" {
			return "keyword"
		}

		return "'" + string(t) + "'"
	case Ident:
		if t == "" {
			return "identifier"
		}

		return "'" + string(t) + "'"
	case Number:
		if t == "" {
			return "number"
		}

		return "'" + string(t) + "'"
	case badChar:
		return strconv.QuoteRune(rune(t))
	default:
		return "???"
	}
}
