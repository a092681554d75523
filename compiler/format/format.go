// Package format renders syntax trees back as source text.
package format

import (
	"github.com/nikandfor/hacked/hfmt"

	"github.com/micalang/mica/compiler/ast"
)

// mirrors the parser's binding levels, loosest first
var prec = map[ast.BinOp]int{
	ast.BinLOr:  1,
	ast.BinLAnd: 2,
	ast.BinEq:   3, ast.BinNe: 3, ast.BinLt: 3, ast.BinLe: 3, ast.BinGt: 3, ast.BinGe: 3,
	ast.BinAdd: 4, ast.BinSub: 4, ast.BinOr: 4, ast.BinXor: 4,
	ast.BinMul: 5, ast.BinDiv: 5, ast.BinMod: 5, ast.BinAnd: 5, ast.BinShl: 5, ast.BinShr: 5,
}

// AppendFile renders type declarations, then functions, separated by
// blank lines.
func AppendFile(b []byte, x *ast.File) []byte {
	for i, d := range x.Types {
		if i != 0 {
			b = append(b, '\n')
		}

		b = appendTypeDecl(b, d)
	}

	for i, f := range x.Funcs {
		if i != 0 || len(x.Types) != 0 {
			b = append(b, '\n')
		}

		b = appendFunc(b, f)
	}

	return b
}

func appendTypeDecl(b []byte, x *ast.TypeDecl) []byte {
	b = hfmt.AppendPrintf(b, "type %v struct {\n", x.Name)

	for _, f := range x.Fields {
		b = hfmt.AppendPrintf(b, "\t%v %v\n", f.Name, f.Type)
	}

	return append(b, "}\n"...)
}

func appendFunc(b []byte, x *ast.Func) []byte {
	b = hfmt.AppendPrintf(b, "func %v(", x.Name)

	for i, p := range x.Params {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = hfmt.AppendPrintf(b, "%v %v", p.Name, p.Type)
	}

	b = append(b, ')')

	if x.Ret != nil {
		b = hfmt.AppendPrintf(b, " %v", x.Ret)
	}

	b = append(b, " {\n"...)
	b = appendBlock(b, x.Body, 1)
	b = append(b, "}\n"...)

	return b
}

func appendBlock(b []byte, x *ast.Block, d int) []byte {
	for _, s := range x.Stmts {
		b = appendStmt(b, s, d)
	}

	return b
}

func appendStmt(b []byte, s ast.Node, d int) []byte {
	switch s := s.(type) {
	case *ast.VarDecl:
		switch {
		case s.Type == nil:
			b = app(b, d, "%v := ", s.Name)
			b = AppendExpr(b, s.X)
		case s.X == nil:
			b = app(b, d, "var %v %v", s.Name, s.Type)
		default:
			b = app(b, d, "var %v %v = ", s.Name, s.Type)
			b = AppendExpr(b, s.X)
		}
	case *ast.Assign:
		b = app(b, d, "")
		b = AppendExpr(b, s.LHS)
		b = append(b, " = "...)
		b = AppendExpr(b, s.RHS)
	case *ast.If:
		b = app(b, d, "if ")
		b = appendIf(b, s, d)
	case *ast.While:
		b = app(b, d, "while ")
		b = AppendExpr(b, s.Cond)
		b = append(b, " {\n"...)
		b = appendBlock(b, s.Body, d+1)
		b = app(b, d, "}")
	case *ast.DoWhile:
		b = app(b, d, "do {\n")
		b = appendBlock(b, s.Body, d+1)
		b = app(b, d, "} while ")
		b = AppendExpr(b, s.Cond)
	case *ast.Loop:
		b = app(b, d, "loop {\n")
		b = appendBlock(b, s.Body, d+1)
		b = app(b, d, "}")
	case *ast.Break:
		b = app(b, d, "break")
	case *ast.Continue:
		b = app(b, d, "continue")
	case *ast.Return:
		b = app(b, d, "return")

		if s.X != nil {
			b = append(b, ' ')
			b = AppendExpr(b, s.X)
		}
	case *ast.ExprStmt:
		b = app(b, d, "")
		b = AppendExpr(b, s.X)
	default:
		panic(s)
	}

	return append(b, '\n')
}

func appendIf(b []byte, x *ast.If, d int) []byte {
	b = AppendExpr(b, x.Cond)
	b = append(b, " {\n"...)
	b = appendBlock(b, x.Then, d+1)
	b = app(b, d, "}")

	switch e := x.Else.(type) {
	case nil:
	case *ast.If:
		b = append(b, " else if "...)
		b = appendIf(b, e, d)
	case *ast.Block:
		b = append(b, " else {\n"...)
		b = appendBlock(b, e, d+1)
		b = app(b, d, "}")
	default:
		panic(x.Else)
	}

	return b
}

// AppendExpr renders an expression with minimal parentheses.
func AppendExpr(b []byte, x ast.Expr) []byte {
	switch x := x.(type) {
	case *ast.Ident:
		b = append(b, x.Name...)
	case *ast.IntLit:
		b = hfmt.AppendPrintf(b, "%d", x.Value)
	case *ast.BoolLit:
		if x.Value {
			b = append(b, "true"...)
		} else {
			b = append(b, "false"...)
		}
	case *ast.Unary:
		b = hfmt.AppendPrintf(b, "%v", x.Op)
		b = appendOperand(b, x.X)
	case *ast.Ref:
		b = append(b, '&')
		b = appendOperand(b, x.X)
	case *ast.Deref:
		b = append(b, '*')
		b = appendOperand(b, x.X)
	case *ast.Binary:
		b = appendBinOperand(b, x.L, prec[x.Op], false)
		b = hfmt.AppendPrintf(b, " %v ", x.Op)
		b = appendBinOperand(b, x.R, prec[x.Op], true)
	case *ast.Call:
		b = append(b, x.Name...)
		b = append(b, '(')

		for i, a := range x.Args {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = AppendExpr(b, a)
		}

		b = append(b, ')')
	case *ast.Cast:
		b = hfmt.AppendPrintf(b, "cast(%v, ", x.Type)
		b = AppendExpr(b, x.X)
		b = append(b, ')')
	case *ast.Index:
		b = appendPostfix(b, x.X)
		b = append(b, '[')
		b = AppendExpr(b, x.Index)
		b = append(b, ']')
	case *ast.Selector:
		b = appendPostfix(b, x.X)
		b = append(b, '.')
		b = append(b, x.Name...)
	case *ast.ArrayLit:
		b = append(b, '[')

		for i, e := range x.Elems {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = AppendExpr(b, e)
		}

		b = append(b, ']')
	case *ast.StructLit:
		b = append(b, x.Name...)
		b = append(b, '{')

		for i, e := range x.Elems {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = AppendExpr(b, e)
		}

		b = append(b, '}')
	default:
		panic(x)
	}

	return b
}

// appendOperand wraps unary operands that bind looser than the
// operator.
func appendOperand(b []byte, x ast.Expr) []byte {
	if _, ok := x.(*ast.Binary); ok {
		return appendParen(b, x)
	}

	return AppendExpr(b, x)
}

// appendPostfix wraps index and selector bases that are not postfix
// themselves: *p in (*p).f.
func appendPostfix(b []byte, x ast.Expr) []byte {
	switch x.(type) {
	case *ast.Unary, *ast.Ref, *ast.Deref, *ast.Binary:
		return appendParen(b, x)
	}

	return AppendExpr(b, x)
}

func appendBinOperand(b []byte, x ast.Expr, p int, right bool) []byte {
	if x, ok := x.(*ast.Binary); ok {
		if q := prec[x.Op]; q < p || right && q == p {
			return appendParen(b, x)
		}
	}

	return AppendExpr(b, x)
}

func appendParen(b []byte, x ast.Expr) []byte {
	b = append(b, '(')
	b = AppendExpr(b, x)

	return append(b, ')')
}

func app(b []byte, d int, f string, args ...any) []byte {
	const tabs = "\t\t\t\t\t\t\t\t\t\t\t\t\t\t\t"

	b = append(b, tabs[:d]...)

	return hfmt.AppendPrintf(b, f, args...)
}
