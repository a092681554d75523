package compiler

import (
	"context"
	"io"
	"os"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/micalang/mica/compiler/back"
	"github.com/micalang/mica/compiler/format"
	"github.com/micalang/mica/compiler/front"
	"github.com/micalang/mica/compiler/obj"
	"github.com/micalang/mica/compiler/vm"
)

type (
	// Options tune the pipeline. The zero value is the default build.
	Options struct {
		// NoDCE keeps dead operations in the emitted code.
		NoDCE bool

		// SlotReuse returns stack slots of expired temporaries to a
		// free pool instead of always growing the frame.
		SlotReuse bool

		// Dump selects a phase dump: ast, ir or asm.
		Dump string

		// DumpTo receives the dump. Stderr is the default.
		DumpTo io.Writer
	}
)

// CompileFile reads and compiles one source file.
func CompileFile(ctx context.Context, name string, opt Options) (*obj.Image, error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(text), "name", name)

	return Compile(ctx, name, text, opt)
}

// Compile runs the pipeline: parse, check, lower and emit.
func Compile(ctx context.Context, name string, text []byte, opt Options) (*obj.Image, error) {
	dump, err := opt.dump()
	if err != nil {
		return nil, err
	}

	st := front.New()

	f, err := st.ParseFile(ctx, name, text)
	if err != nil {
		return nil, errors.Wrap(err, "parse")
	}

	m, err := st.Check(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "check")
	}

	if opt.Dump == "ast" {
		_, _ = dump.Write(format.AppendFile(nil, f))
	}

	c := back.New()
	c.NoDCE = opt.NoDCE
	c.SlotReuse = opt.SlotReuse

	if opt.Dump == "ir" {
		c.DumpIR = dump
	}

	img, err := c.CompilePackage(ctx, m, f)
	if err != nil {
		return nil, errors.Wrap(err, "compile")
	}

	if opt.Dump == "asm" {
		_, _ = dump.Write(vm.AppendDisasm(nil, img))
	}

	return img, nil
}

func (opt Options) dump() (io.Writer, error) {
	switch opt.Dump {
	case "", "ast", "ir", "asm":
	default:
		return nil, errors.New("unknown dump phase: %v", opt.Dump)
	}

	if opt.DumpTo != nil {
		return opt.DumpTo, nil
	}

	return os.Stderr, nil
}
