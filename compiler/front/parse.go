package front

import (
	"context"
	"strconv"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/micalang/mica/compiler/ast"
	"github.com/micalang/mica/compiler/tp"
)

type (
	parser struct {
		*State

		// noLit is set while parsing an if or while condition so that
		// Name{...} is not taken for a struct literal there. The block
		// brace would be eaten otherwise. Parens reset it.
		noLit bool
	}

	positioned interface {
		Position() int
	}
)

var builtinTypes = map[string]tp.Type{
	"bool": tp.Bool{},
	"i8":   tp.Int{Bits: 8, Signed: true},
	"u8":   tp.Int{Bits: 8},
	"i16":  tp.Int{Bits: 16, Signed: true},
	"u16":  tp.Int{Bits: 16},
	"i32":  tp.Int{Bits: 32, Signed: true},
	"u32":  tp.Int{Bits: 32},
	"i64":  tp.Int{Bits: 64, Signed: true},
	"u64":  tp.Int{Bits: 64},
}

// binLevels is operator precedence, loosest first.
var binLevels = []map[Token]ast.BinOp{
	{Punct("||"): ast.BinLOr},
	{Punct("&&"): ast.BinLAnd},
	{
		Punct("=="): ast.BinEq,
		Punct("!="): ast.BinNe,
		Char('<'):   ast.BinLt,
		Punct("<="): ast.BinLe,
		Char('>'):   ast.BinGt,
		Punct(">="): ast.BinGe,
	},
	{
		Char('+'): ast.BinAdd,
		Char('-'): ast.BinSub,
		Char('|'): ast.BinOr,
		Char('^'): ast.BinXor,
	},
	{
		Char('*'):   ast.BinMul,
		Char('/'):   ast.BinDiv,
		Char('%'):   ast.BinMod,
		Char('&'):   ast.BinAnd,
		Punct("<<"): ast.BinShl,
		Punct(">>"): ast.BinShr,
	},
}

// ParseFile adds the text to the state and parses it.
func (s *State) ParseFile(ctx context.Context, name string, text []byte) (f *ast.File, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "front: parse file", "name", name, "size", len(text))
	defer tr.Finish("err", &err)

	st := len(s.b)

	s.AddFile(ctx, name, text)

	p := &parser{State: s}

	return p.parseFile(ctx, name, st)
}

func (p *parser) parseFile(ctx context.Context, name string, st int) (f *ast.File, err error) {
	f = &ast.File{Name: name}

	i := st

	for {
		tk, tst, e := p.next(ctx, i)

		switch tk {
		case nil:
			return f, nil
		case Char('\n'), Char(';'):
			i = e
			continue
		case Keyword("type"):
			var d *ast.TypeDecl

			d, i, err = p.parseTypeDecl(ctx, tst, e)
			if err != nil {
				return f, err
			}

			f.Types = append(f.Types, d)
		case Keyword("func"):
			var fn *ast.Func

			fn, i, err = p.parseFunc(ctx, tst, e)
			if err != nil {
				return f, err
			}

			f.Funcs = append(f.Funcs, fn)
		default:
			return f, p.unexp(tst, tk, Keyword("func"), Keyword("type"))
		}
	}
}

func (p *parser) parseTypeDecl(ctx context.Context, pos, st int) (d *ast.TypeDecl, i int, err error) {
	d = &ast.TypeDecl{Base: ast.Base{Pos: pos}}

	tk, tst, i := p.next(ctx, st)

	name, ok := tk.(Ident)
	if !ok {
		return d, tst, p.unexp(tst, tk, Ident(""))
	}

	d.Name = string(name)

	i, err = p.expect(ctx, i, Keyword("struct"))
	if err != nil {
		return d, i, err
	}

	i, err = p.expect(ctx, i, Char('{'))
	if err != nil {
		return d, i, err
	}

	for {
		i = p.skipSep(ctx, i)

		tk, tst, e := p.next(ctx, i)
		if tk == Char('}') {
			i = e
			break
		}

		fname, ok := tk.(Ident)
		if !ok {
			return d, tst, p.unexp(tst, tk, Ident(""), Char('}'))
		}

		var ft tp.Type

		ft, i, err = p.parseType(ctx, e)
		if err != nil {
			return d, i, errors.Wrap(err, "field %v", fname)
		}

		d.Fields = append(d.Fields, ast.Field{Pos: tst, Name: string(fname), Type: ft})

		tk, tst, e = p.next(ctx, i)

		switch tk {
		case Char('\n'), Char(';'):
			i = e
		case Char('}'):
		default:
			return d, tst, p.unexp(tst, tk, Char('\n'), Char('}'))
		}
	}

	d.End = i

	return d, i, nil
}

func (p *parser) parseFunc(ctx context.Context, pos, st int) (fn *ast.Func, i int, err error) {
	fn = &ast.Func{Base: ast.Base{Pos: pos}}

	tk, tst, i := p.next(ctx, st)

	name, ok := tk.(Ident)
	if !ok {
		return fn, tst, p.unexp(tst, tk, Ident(""))
	}

	fn.Name = string(name)

	i, err = p.expect(ctx, i, Char('('))
	if err != nil {
		return fn, i, err
	}

	for {
		tk, tst, e := p.next(ctx, i)
		if tk == Char(')') {
			i = e
			break
		}

		if len(fn.Params) != 0 {
			if tk != Char(',') {
				return fn, tst, p.unexp(tst, tk, Char(','), Char(')'))
			}

			tk, tst, e = p.next(ctx, e)
		}

		pname, ok := tk.(Ident)
		if !ok {
			return fn, tst, p.unexp(tst, tk, Ident(""))
		}

		var pt tp.Type

		pt, i, err = p.parseType(ctx, e)
		if err != nil {
			return fn, i, errors.Wrap(err, "param %v", pname)
		}

		fn.Params = append(fn.Params, &ast.Param{Pos: tst, Name: string(pname), Type: pt})
	}

	if tk, _, _ := p.next(ctx, i); tk != Char('{') {
		fn.Ret, i, err = p.parseType(ctx, i)
		if err != nil {
			return fn, i, errors.Wrap(err, "return type")
		}
	}

	fn.Body, i, err = p.parseBlock(ctx, i)
	if err != nil {
		return fn, i, errors.Wrap(err, "func %v", fn.Name)
	}

	fn.End = i

	return fn, i, nil
}

func (p *parser) parseType(ctx context.Context, st int) (t tp.Type, i int, err error) {
	tk, tst, i := p.next(ctx, st)

	switch tk := tk.(type) {
	case Ident:
		if t, ok := builtinTypes[string(tk)]; ok {
			return t, i, nil
		}

		return tp.Name(tk), i, nil
	case Char:
		switch tk {
		case '*':
			var el tp.Type

			el, i, err = p.parseType(ctx, i)
			if err != nil {
				return nil, i, err
			}

			return tp.Ptr{X: el}, i, nil
		case '[':
			ntk, ntst, e := p.next(ctx, i)

			num, ok := ntk.(Number)
			if !ok {
				return nil, ntst, p.unexp(ntst, ntk, Number(""))
			}

			n, err := strconv.ParseUint(string(num), 0, 32)
			if err != nil {
				return nil, ntst, errors.Wrap(err, "%v: array length", p.PosString(ntst))
			}

			i, err = p.expect(ctx, e, Char(']'))
			if err != nil {
				return nil, i, err
			}

			var el tp.Type

			el, i, err = p.parseType(ctx, i)
			if err != nil {
				return nil, i, err
			}

			return tp.Array{X: el, Len: int(n)}, i, nil
		}
	}

	return nil, tst, p.unexp(tst, tk, Ident(""), Char('*'), Char('['))
}

func (p *parser) parseBlock(ctx context.Context, st int) (b *ast.Block, i int, err error) {
	tk, tst, i := p.next(ctx, st)
	if tk != Char('{') {
		return nil, tst, p.unexp(tst, tk, Char('{'))
	}

	b = &ast.Block{Base: ast.Base{Pos: tst}}

	for {
		i = p.skipSep(ctx, i)

		tk, tst, e := p.next(ctx, i)
		if tk == Char('}') {
			b.End = e

			return b, e, nil
		}

		if tk == nil {
			return b, tst, p.unexp(tst, tk, Char('}'))
		}

		var s ast.Node

		s, i, err = p.parseStmt(ctx, i)
		if err != nil {
			return b, i, err
		}

		b.Stmts = append(b.Stmts, s)

		tk, tst, e = p.next(ctx, i)

		switch tk {
		case Char('\n'), Char(';'):
			i = e
		case Char('}'), nil:
		default:
			return b, tst, p.unexp(tst, tk, Char('\n'), Char('}'))
		}
	}
}

func (p *parser) parseStmt(ctx context.Context, st int) (s ast.Node, i int, err error) {
	tk, tst, i := p.next(ctx, st)

	switch tk {
	case Keyword("var"):
		return p.parseVarDecl(ctx, tst, i)
	case Keyword("if"):
		return p.parseIf(ctx, tst, i)
	case Keyword("while"):
		return p.parseWhile(ctx, tst, i)
	case Keyword("do"):
		return p.parseDoWhile(ctx, tst, i)
	case Keyword("loop"):
		return p.parseLoop(ctx, tst, i)
	case Keyword("break"):
		return &ast.Break{Base: ast.Base{Pos: tst, End: i}}, i, nil
	case Keyword("continue"):
		return &ast.Continue{Base: ast.Base{Pos: tst, End: i}}, i, nil
	case Keyword("return"):
		return p.parseReturn(ctx, tst, i)
	}

	var x ast.Expr

	x, i, err = p.parseExpr(ctx, tst)
	if err != nil {
		return nil, i, err
	}

	tk, _, e := p.next(ctx, i)

	switch tk {
	case Punct(":="):
		id, ok := x.(*ast.Ident)
		if !ok {
			return nil, tst, errors.New("%v: left side of := must be a name", p.PosString(tst))
		}

		var rhs ast.Expr

		rhs, i, err = p.parseExpr(ctx, e)
		if err != nil {
			return nil, i, err
		}

		return &ast.VarDecl{Base: ast.Base{Pos: tst, End: i}, Name: id.Name, X: rhs}, i, nil
	case Char('='):
		var rhs ast.Expr

		rhs, i, err = p.parseExpr(ctx, e)
		if err != nil {
			return nil, i, err
		}

		return &ast.Assign{Base: ast.Base{Pos: tst, End: i}, LHS: x, RHS: rhs}, i, nil
	}

	return &ast.ExprStmt{Base: ast.Base{Pos: tst, End: i}, X: x}, i, nil
}

func (p *parser) parseVarDecl(ctx context.Context, pos, st int) (s ast.Node, i int, err error) {
	d := &ast.VarDecl{Base: ast.Base{Pos: pos}}

	tk, tst, i := p.next(ctx, st)

	name, ok := tk.(Ident)
	if !ok {
		return nil, tst, p.unexp(tst, tk, Ident(""))
	}

	d.Name = string(name)

	d.Type, i, err = p.parseType(ctx, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "var %v", d.Name)
	}

	if tk, _, e := p.next(ctx, i); tk == Char('=') {
		d.X, i, err = p.parseExpr(ctx, e)
		if err != nil {
			return nil, i, err
		}
	}

	d.End = i

	return d, i, nil
}

func (p *parser) parseIf(ctx context.Context, pos, st int) (s ast.Node, i int, err error) {
	x := &ast.If{Base: ast.Base{Pos: pos}}

	x.Cond, i, err = p.parseCond(ctx, st)
	if err != nil {
		return nil, i, err
	}

	x.Then, i, err = p.parseBlock(ctx, i)
	if err != nil {
		return nil, i, err
	}

	if tk, _, e := p.next(ctx, i); tk == Keyword("else") {
		tk, tst, e2 := p.next(ctx, e)

		switch tk {
		case Keyword("if"):
			x.Else, i, err = p.parseIf(ctx, tst, e2)
		case Char('{'):
			x.Else, i, err = p.parseBlock(ctx, e)
		default:
			return nil, tst, p.unexp(tst, tk, Keyword("if"), Char('{'))
		}

		if err != nil {
			return nil, i, err
		}
	}

	x.End = i

	return x, i, nil
}

func (p *parser) parseWhile(ctx context.Context, pos, st int) (s ast.Node, i int, err error) {
	x := &ast.While{Base: ast.Base{Pos: pos}}

	x.Cond, i, err = p.parseCond(ctx, st)
	if err != nil {
		return nil, i, err
	}

	x.Body, i, err = p.parseBlock(ctx, i)
	if err != nil {
		return nil, i, err
	}

	x.End = i

	return x, i, nil
}

func (p *parser) parseDoWhile(ctx context.Context, pos, st int) (s ast.Node, i int, err error) {
	x := &ast.DoWhile{Base: ast.Base{Pos: pos}}

	x.Body, i, err = p.parseBlock(ctx, st)
	if err != nil {
		return nil, i, err
	}

	i, err = p.expect(ctx, i, Keyword("while"))
	if err != nil {
		return nil, i, err
	}

	x.Cond, i, err = p.parseExpr(ctx, i)
	if err != nil {
		return nil, i, err
	}

	x.End = i

	return x, i, nil
}

func (p *parser) parseLoop(ctx context.Context, pos, st int) (s ast.Node, i int, err error) {
	x := &ast.Loop{Base: ast.Base{Pos: pos}}

	x.Body, i, err = p.parseBlock(ctx, st)
	if err != nil {
		return nil, i, err
	}

	x.End = i

	return x, i, nil
}

func (p *parser) parseReturn(ctx context.Context, pos, st int) (s ast.Node, i int, err error) {
	x := &ast.Return{Base: ast.Base{Pos: pos, End: st}}

	i = st

	switch tk, _, _ := p.next(ctx, i); tk {
	case Char('\n'), Char(';'), Char('}'), nil:
	default:
		x.X, i, err = p.parseExpr(ctx, i)
		if err != nil {
			return nil, i, err
		}

		x.End = i
	}

	return x, i, nil
}

func (p *parser) parseExpr(ctx context.Context, st int) (x ast.Expr, i int, err error) {
	return p.parseBin(ctx, st, 0)
}

// parseCond parses an if or while condition: an expression where a
// bare struct literal is not allowed.
func (p *parser) parseCond(ctx context.Context, st int) (x ast.Expr, i int, err error) {
	defer func(d bool) { p.noLit = d }(p.noLit)
	p.noLit = true

	return p.parseExpr(ctx, st)
}

// parseSub parses an expression inside brackets where struct literals
// are fine again whatever the outer context was.
func (p *parser) parseSub(ctx context.Context, st int) (x ast.Expr, i int, err error) {
	defer func(d bool) { p.noLit = d }(p.noLit)
	p.noLit = false

	return p.parseExpr(ctx, st)
}

func (p *parser) parseBin(ctx context.Context, st, lvl int) (x ast.Expr, i int, err error) {
	if lvl == len(binLevels) {
		return p.parseUnary(ctx, st)
	}

	x, i, err = p.parseBin(ctx, st, lvl+1)
	if err != nil {
		return x, i, err
	}

	for {
		tk, _, e := p.next(ctx, i)

		op, ok := binLevels[lvl][tk]
		if !ok {
			return x, i, nil
		}

		var r ast.Expr

		r, i, err = p.parseBin(ctx, e, lvl+1)
		if err != nil {
			return x, i, err
		}

		x = &ast.Binary{ExprBase: eb(nodePos(x), i), Op: op, L: x, R: r}
	}
}

func (p *parser) parseUnary(ctx context.Context, st int) (x ast.Expr, i int, err error) {
	tk, tst, e := p.next(ctx, st)

	switch tk {
	case Char('-'), Char('!'), Char('~'), Char('&'), Char('*'):
	default:
		return p.parsePostfix(ctx, st)
	}

	x, i, err = p.parseUnary(ctx, e)
	if err != nil {
		return x, i, err
	}

	switch tk {
	case Char('-'):
		x = &ast.Unary{ExprBase: eb(tst, i), Op: ast.UnNeg, X: x}
	case Char('!'):
		x = &ast.Unary{ExprBase: eb(tst, i), Op: ast.UnNot, X: x}
	case Char('~'):
		x = &ast.Unary{ExprBase: eb(tst, i), Op: ast.UnCom, X: x}
	case Char('&'):
		x = &ast.Ref{ExprBase: eb(tst, i), X: x}
	case Char('*'):
		x = &ast.Deref{ExprBase: eb(tst, i), X: x}
	}

	return x, i, nil
}

func (p *parser) parsePostfix(ctx context.Context, st int) (x ast.Expr, i int, err error) {
	x, i, err = p.parsePrimary(ctx, st)
	if err != nil {
		return x, i, err
	}

	for {
		tk, _, e := p.next(ctx, i)

		switch tk {
		case Char('['):
			var idx ast.Expr

			idx, i, err = p.parseSub(ctx, e)
			if err != nil {
				return x, i, err
			}

			i, err = p.expect(ctx, i, Char(']'))
			if err != nil {
				return x, i, err
			}

			x = &ast.Index{ExprBase: eb(nodePos(x), i), X: x, Index: idx}
		case Char('.'):
			ntk, ntst, e2 := p.next(ctx, e)

			name, ok := ntk.(Ident)
			if !ok {
				return x, ntst, p.unexp(ntst, ntk, Ident(""))
			}

			x = &ast.Selector{ExprBase: eb(nodePos(x), e2), X: x, Name: string(name)}
			i = e2
		default:
			return x, i, nil
		}
	}
}

func (p *parser) parsePrimary(ctx context.Context, st int) (x ast.Expr, i int, err error) {
	tk, tst, i := p.next(ctx, st)

	switch tk := tk.(type) {
	case Number:
		v, err := strconv.ParseUint(string(tk), 0, 64)
		if err != nil {
			return nil, tst, errors.Wrap(err, "%v: number", p.PosString(tst))
		}

		return &ast.IntLit{ExprBase: eb(tst, i), Value: v}, i, nil
	case Keyword:
		switch tk {
		case "true", "false":
			return &ast.BoolLit{ExprBase: eb(tst, i), Value: tk == "true"}, i, nil
		case "cast":
			return p.parseCast(ctx, tst, i)
		}
	case Ident:
		ntk, _, e := p.next(ctx, i)

		switch {
		case ntk == Char('('):
			return p.parseCall(ctx, tst, string(tk), e)
		case ntk == Char('{') && !p.noLit:
			return p.parseStructLit(ctx, tst, string(tk), e)
		}

		return &ast.Ident{ExprBase: eb(tst, i), Name: string(tk)}, i, nil
	case Char:
		switch tk {
		case '(':
			x, i, err = p.parseSub(ctx, i)
			if err != nil {
				return nil, i, err
			}

			i, err = p.expect(ctx, i, Char(')'))
			if err != nil {
				return nil, i, err
			}

			return x, i, nil
		case '[':
			return p.parseArrayLit(ctx, tst, i)
		}
	}

	return nil, tst, p.unexp(tst, tk, Ident(""), Number(""), Char('('))
}

func (p *parser) parseCast(ctx context.Context, pos, st int) (x ast.Expr, i int, err error) {
	i, err = p.expect(ctx, st, Char('('))
	if err != nil {
		return nil, i, err
	}

	var to tp.Type

	to, i, err = p.parseType(ctx, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "cast type")
	}

	i, err = p.expect(ctx, i, Char(','))
	if err != nil {
		return nil, i, err
	}

	var arg ast.Expr

	arg, i, err = p.parseSub(ctx, i)
	if err != nil {
		return nil, i, err
	}

	i, err = p.expect(ctx, i, Char(')'))
	if err != nil {
		return nil, i, err
	}

	c := &ast.Cast{ExprBase: eb(pos, i), X: arg}
	c.Type = to

	return c, i, nil
}

func (p *parser) parseCall(ctx context.Context, pos int, name string, st int) (x ast.Expr, i int, err error) {
	args, i, err := p.parseElems(ctx, st, Char(')'))
	if err != nil {
		return nil, i, errors.Wrap(err, "call %v", name)
	}

	return &ast.Call{ExprBase: eb(pos, i), Name: name, Args: args}, i, nil
}

func (p *parser) parseArrayLit(ctx context.Context, pos, st int) (x ast.Expr, i int, err error) {
	els, i, err := p.parseElems(ctx, st, Char(']'))
	if err != nil {
		return nil, i, err
	}

	return &ast.ArrayLit{ExprBase: eb(pos, i), Elems: els}, i, nil
}

func (p *parser) parseStructLit(ctx context.Context, pos int, name string, st int) (x ast.Expr, i int, err error) {
	els, i, err := p.parseElems(ctx, st, Char('}'))
	if err != nil {
		return nil, i, errors.Wrap(err, "literal %v", name)
	}

	return &ast.StructLit{ExprBase: eb(pos, i), Name: name, Elems: els}, i, nil
}

// parseElems parses a comma separated expression list up to the
// closing bracket. Newlines around commas are fine.
func (p *parser) parseElems(ctx context.Context, st int, fin Char) (els []ast.Expr, i int, err error) {
	defer func(d bool) { p.noLit = d }(p.noLit)
	p.noLit = false

	i = st

	for {
		i = p.skipNL(ctx, i)

		tk, tst, e := p.next(ctx, i)
		if tk == fin {
			i = e
			break
		}

		if len(els) != 0 {
			if tk != Char(',') {
				return els, tst, p.unexp(tst, tk, Char(','), fin)
			}

			i = p.skipNL(ctx, e)
		}

		var x ast.Expr

		x, i, err = p.parseExpr(ctx, i)
		if err != nil {
			return els, i, err
		}

		els = append(els, x)
	}

	return els, i, nil
}

func (p *parser) expect(ctx context.Context, st int, want Token) (i int, err error) {
	tk, tst, i := p.next(ctx, st)
	if tk != want {
		return tst, p.unexp(tst, tk, want)
	}

	return i, nil
}

// skipSep consumes statement separators: newlines and semicolons.
func (p *parser) skipSep(ctx context.Context, st int) int {
	for {
		tk, _, e := p.next(ctx, st)
		if tk != Char('\n') && tk != Char(';') {
			return st
		}

		st = e
	}
}

// skipNL consumes newlines inside a bracketed list.
func (p *parser) skipNL(ctx context.Context, st int) int {
	for {
		tk, _, e := p.next(ctx, st)
		if tk != Char('\n') {
			return st
		}

		st = e
	}
}

func (p *parser) unexp(pos int, tk Token, want ...Token) error {
	return errors.Wrap(UnexpectedError{Pos: pos, Token: tk, Want: want}, "%v", p.PosString(pos))
}

func eb(pos, end int) ast.ExprBase {
	return ast.ExprBase{Base: ast.Base{Pos: pos, End: end}}
}

func nodePos(n ast.Node) int {
	if x, ok := n.(positioned); ok {
		return x.Position()
	}

	return 0
}
