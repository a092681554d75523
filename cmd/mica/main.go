package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/peterh/liner"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/micalang/mica/compiler"
	"github.com/micalang/mica/compiler/asm"
	"github.com/micalang/mica/compiler/obj"
	"github.com/micalang/mica/compiler/vm"
)

const historyFile = ".mica_history"

const monitorHelp = `commands:
  step [n]      execute n instructions (default 1)
  continue      run until the program halts
  regs          print registers
  mem addr len  dump len bytes of memory at addr
  dis [addr]    disassemble at addr (pc by default)
  quit          leave the monitor
`

type (
	// mon is the interactive machine monitor behind mica debug.
	mon struct {
		img *obj.Image
		m   *vm.Machine

		names map[int][]string
	}
)

func main() {
	buildCmd := &cli.Command{
		Name:        "build",
		Description: "compile a source file into an object image",
		Action:      buildAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("output,o", "", "image file to write (source name with .mo by default)"),
			cli.NewFlag("no-dce", false, "keep dead operations"),
			cli.NewFlag("slot-reuse", false, "reuse stack slots of expired temporaries"),
			cli.NewFlag("dump", "", "write a phase dump to stderr: ast, ir or asm"),
		},
	}

	asmCmd := &cli.Command{
		Name:        "asm",
		Description: "assemble a text listing into an object image",
		Action:      asmAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("output,o", "", "image file to write (source name with .mo by default)"),
		},
	}

	disCmd := &cli.Command{
		Name:        "dis",
		Description: "disassemble object images",
		Action:      disAct,
		Args:        cli.Args{},
	}

	runCmd := &cli.Command{
		Name:        "run",
		Description: "execute an object image and exit with its status",
		Action:      runAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("mem", 0, "machine memory size"),
			cli.NewFlag("steps", 0, "abort after that many instructions"),
		},
	}

	debugCmd := &cli.Command{
		Name:        "debug",
		Description: "inspect an image step by step in an interactive monitor",
		Action:      debugAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("mem", 0, "machine memory size"),
		},
	}

	app := &cli.Command{
		Name:        "mica",
		Description: "mica is a tool for building and running mica programs",
		Before:      before,
		Flags: []*cli.Flag{
			cli.NewFlag("log", "stderr", "log destination"),
			cli.NewFlag("debug,v", "", "verbosity topics"),
			cli.FlagfileFlag,
			cli.HelpFlag,
		},
		Commands: []*cli.Command{
			buildCmd,
			asmCmd,
			disCmd,
			runCmd,
			debugCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func before(c *cli.Command) error {
	w, err := openLog(c.String("log"))
	if err != nil {
		return errors.Wrap(err, "open log")
	}

	tlog.DefaultLogger = tlog.New(tlog.NewConsoleWriter(w, tlog.LstdFlags))

	tlog.SetVerbosity(c.String("debug"))

	return nil
}

func openLog(dst string) (io.Writer, error) {
	switch dst {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}

	return os.OpenFile(dst, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func buildAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	name, err := one(c)
	if err != nil {
		return err
	}

	opt := compiler.Options{
		NoDCE:     c.Bool("no-dce"),
		SlotReuse: c.Bool("slot-reuse"),
		Dump:      c.String("dump"),
	}

	img, err := compiler.CompileFile(ctx, name, opt)
	if err != nil {
		return errors.Wrap(err, "%v", name)
	}

	return writeImage(c, name, img)
}

func asmAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	name, err := one(c)
	if err != nil {
		return err
	}

	text, err := os.ReadFile(name)
	if err != nil {
		return errors.Wrap(err, "read listing")
	}

	img, err := asm.Assemble(ctx, name, text)
	if err != nil {
		return err
	}

	return writeImage(c, name, img)
}

func disAct(c *cli.Command) (err error) {
	for _, a := range c.Args {
		img, err := readImage(a)
		if err != nil {
			return err
		}

		_, err = os.Stdout.Write(vm.AppendDisasm(nil, img))
		if err != nil {
			return errors.Wrap(err, "write listing")
		}
	}

	return nil
}

func runAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	name, err := one(c)
	if err != nil {
		return err
	}

	img, err := readImage(name)
	if err != nil {
		return err
	}

	var opts []vm.Option

	if n := c.Int("mem"); n != 0 {
		opts = append(opts, vm.WithMemSize(n))
	}

	if n := c.Int("steps"); n != 0 {
		opts = append(opts, vm.WithStepLimit(int64(n)))
	}

	m, err := vm.New(img, opts...)
	if err != nil {
		return errors.Wrap(err, "load image")
	}

	status, err := m.Run(ctx)
	if err != nil {
		return errors.Wrap(err, "pc %#x", m.PC())
	}

	if status != 0 {
		os.Exit(int(status))
	}

	return nil
}

func debugAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	name, err := one(c)
	if err != nil {
		return err
	}

	img, err := readImage(name)
	if err != nil {
		return err
	}

	var opts []vm.Option

	if n := c.Int("mem"); n != 0 {
		opts = append(opts, vm.WithMemSize(n))
	}

	m, err := vm.New(img, opts...)
	if err != nil {
		return errors.Wrap(err, "load image")
	}

	fmt.Printf("%v: %d bytes of code, %d of data, entry %#x\n", name, len(img.Code), len(img.Data), img.Entry)

	d := newMon(img, m)

	return d.run(ctx)
}

func one(c *cli.Command) (string, error) {
	if len(c.Args) != 1 {
		return "", errors.New("one file expected")
	}

	return c.Args[0], nil
}

func writeImage(c *cli.Command, src string, img *obj.Image) error {
	out := c.String("output")
	if out == "" {
		out = strings.TrimSuffix(src, filepath.Ext(src)) + ".mo"
	}

	err := os.WriteFile(out, img.AppendTo(nil), 0o644)
	if err != nil {
		return errors.Wrap(err, "write image")
	}

	return nil
}

func readImage(name string) (*obj.Image, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read image")
	}

	img, err := obj.Unmarshal(data)
	if err != nil {
		return nil, errors.Wrap(err, "%v", name)
	}

	return img, nil
}

func newMon(img *obj.Image, m *vm.Machine) *mon {
	names := map[int][]string{}

	for name, addr := range img.Labels {
		names[int(addr)] = append(names[int(addr)], name)
	}

	for _, ns := range names {
		sort.Strings(ns)
	}

	return &mon{img: img, m: m, names: names}
}

func (d *mon) run(ctx context.Context) error {
	home, _ := os.UserHomeDir()
	hist := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()

	ln.SetCtrlCAborts(true)

	if f, err := os.Open(hist); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}

	defer func() {
		if f, err := os.Create(hist); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)

	go func() {
		<-sigc
		ln.Close()
		os.Exit(130)
	}()

	d.dis(d.m.PC(), 1)

	for {
		line, err := ln.Prompt("(mica) ")
		if errors.Is(err, io.EOF) {
			fmt.Println()
			return nil
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "prompt")
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		ln.AppendHistory(line)

		quit, err := d.command(ctx, line)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}

		if quit {
			return nil
		}
	}
}

func (d *mon) command(ctx context.Context, line string) (quit bool, err error) {
	args := strings.Fields(line)

	switch cmd := args[0]; cmd {
	case "step", "s":
		n := 1

		if len(args) > 1 {
			n, err = strconv.Atoi(args[1])
			if err != nil {
				return false, errors.New("bad count: %v", args[1])
			}
		}

		for i := 0; i < n && !d.m.Halted(); i++ {
			err = d.m.Step()
			if err != nil {
				return false, errors.Wrap(err, "pc %#x", d.m.PC())
			}
		}

		d.report()
	case "continue", "c":
		_, err = d.m.Run(ctx)
		if err != nil {
			return false, errors.Wrap(err, "pc %#x", d.m.PC())
		}

		d.report()
	case "regs", "r":
		d.regs()
	case "mem", "m":
		if len(args) != 3 {
			return false, errors.New("usage: mem addr len")
		}

		addr, err := num(args[1])
		if err != nil {
			return false, err
		}

		n, err := num(args[2])
		if err != nil {
			return false, err
		}

		err = d.mem(addr, n)
		if err != nil {
			return false, err
		}
	case "dis", "d":
		pc := d.m.PC()

		if len(args) > 1 {
			pc, err = num(args[1])
			if err != nil {
				return false, err
			}
		}

		d.dis(pc, 8)
	case "quit", "q", "exit":
		return true, nil
	case "help", "h", "?":
		fmt.Print(monitorHelp)
	default:
		return false, errors.New("unknown command: %v (try help)", cmd)
	}

	return false, nil
}

func (d *mon) report() {
	if d.m.Halted() {
		fmt.Printf("halted, status %d, %d steps\n", d.m.Status(), d.m.Steps())
		return
	}

	d.dis(d.m.PC(), 1)
}

func (d *mon) regs() {
	for r := vm.Reg(0); r < vm.NumRegs; r++ {
		v := d.m.Reg(r)

		fmt.Printf("%-3v %20d  %#018x\n", r, int64(v), v)
	}

	fmt.Printf("%-3v %#x, %d steps\n", "pc", d.m.PC(), d.m.Steps())
}

func (d *mon) mem(addr, n int) error {
	b, err := d.m.Mem(addr, n)
	if err != nil {
		return err
	}

	for off := 0; off < len(b); off += 16 {
		end := off + 16
		if end > len(b) {
			end = len(b)
		}

		fmt.Printf("  %06x ", addr+off)

		for _, c := range b[off:end] {
			fmt.Printf(" %02x", c)
		}

		fmt.Println()
	}

	return nil
}

func (d *mon) dis(pc, n int) {
	for i := 0; i < n && pc < len(d.img.Code); i++ {
		for _, l := range d.names[pc] {
			fmt.Printf("%v:\n", l)
		}

		in, err := vm.Decode(d.img.Code, pc)
		if err != nil {
			fmt.Printf("  %06x  .byte %#02x\n", pc, d.img.Code[pc])
			pc++

			continue
		}

		fmt.Printf("  %06x  %s\n", pc, vm.AppendInstr(nil, in))

		pc += in.Len
	}
}

func num(s string) (int, error) {
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, errors.New("bad number: %v", s)
	}

	return int(v), nil
}
