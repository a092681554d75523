package compiler

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/micalang/mica/compiler/obj"
	"github.com/micalang/mica/compiler/vm"
)

const fibSrc = `
func fib(n i64) i64 {
	if n < 2 {
		return n
	}
	return fib(n - 1) + fib(n - 2)
}

func main() {
	i := 0
	while i < 10 {
		print(fib(i))
		i = i + 1
	}
}
`

const fibWant = "0\n1\n1\n2\n3\n5\n8\n13\n21\n34\n"

func run(t *testing.T, img *obj.Image) string {
	t.Helper()

	var out bytes.Buffer

	m, err := vm.New(img, vm.WithOutput(&out), vm.WithStepLimit(1_000_000))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	st, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if st != 0 {
		t.Errorf("status: %v", st)
	}

	return out.String()
}

func TestCompile(t *testing.T) {
	img, err := Compile(context.Background(), "fib.mc", []byte(fibSrc), Options{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if out := run(t, img); out != fibWant {
		t.Errorf("output: %q", out)
	}
}

func TestCompileImageRoundTrip(t *testing.T) {
	img, err := Compile(context.Background(), "fib.mc", []byte(fibSrc), Options{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	got, err := obj.Unmarshal(img.AppendTo(nil))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if out := run(t, got); out != fibWant {
		t.Errorf("output: %q", out)
	}
}

func TestCompileOptions(t *testing.T) {
	ctx := context.Background()
	src := []byte("func main() {\n\tx := 1 + 2\n\tprint(7)\n}\n")

	img, err := Compile(ctx, "x.mc", src, Options{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	full, err := Compile(ctx, "x.mc", src, Options{NoDCE: true})
	if err != nil {
		t.Fatalf("compile nodce: %v", err)
	}

	if len(full.Code) <= len(img.Code) {
		t.Errorf("dead ops kept: %v bytes with dce, %v without", len(img.Code), len(full.Code))
	}

	if out := run(t, img); out != "7\n" {
		t.Errorf("output: %q", out)
	}

	if out := run(t, full); out != "7\n" {
		t.Errorf("nodce output: %q", out)
	}

	reuse, err := Compile(ctx, "fib.mc", []byte(fibSrc), Options{SlotReuse: true})
	if err != nil {
		t.Fatalf("compile reuse: %v", err)
	}

	if out := run(t, reuse); out != fibWant {
		t.Errorf("slot reuse output: %q", out)
	}
}

func TestCompileDump(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		phase string
		want  string
	}{
		{"ast", "func fib(n i64) i64 {"},
		{"ir", "func main  entry L"},
		{"asm", "main:"},
	} {
		var d bytes.Buffer

		img, err := Compile(ctx, "fib.mc", []byte(fibSrc), Options{Dump: tc.phase, DumpTo: &d})
		if err != nil {
			t.Fatalf("compile %v: %v", tc.phase, err)
		}

		if !strings.Contains(d.String(), tc.want) {
			t.Errorf("%v dump: %q not found in %q", tc.phase, tc.want, d.String())
		}

		if out := run(t, img); out != fibWant {
			t.Errorf("%v output: %q", tc.phase, out)
		}
	}

	_, err := Compile(ctx, "fib.mc", []byte(fibSrc), Options{Dump: "tokens"})
	if err == nil {
		t.Errorf("wanted an error for an unknown phase")
	}
}

func TestCompileFile(t *testing.T) {
	ctx := context.Background()

	name := filepath.Join(t.TempDir(), "fib.mc")

	err := os.WriteFile(name, []byte(fibSrc), 0o644)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	img, err := CompileFile(ctx, name, Options{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if out := run(t, img); out != fibWant {
		t.Errorf("output: %q", out)
	}

	_, err = CompileFile(ctx, filepath.Join(t.TempDir(), "missing.mc"), Options{})
	if err == nil {
		t.Errorf("wanted an error for a missing file")
	}
}
