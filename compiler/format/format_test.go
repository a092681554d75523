package format

import (
	"context"
	"testing"

	"github.com/micalang/mica/compiler/front"
)

func TestRoundTrip(t *testing.T) {
	src := `type Vec struct {
	x i32
	y i32
}

func add(a i32, b i32) i32 {
	return a + b
}

func main() {
	v := Vec{1, 2}
	if v.x < 3 && true {
		v.x = add(v.x, v.y)
	} else {
		while v.y > 0 {
			v.y = v.y - 1
		}
	}
	var xs [2]u8 = [1, 2]
	var q *Vec
	q = &v
	do {
		v.y = v.y + 1
	} while v.y < 0
	loop {
		break
	}
	print(cast(i64, (*q).x + cast(i32, xs[1])))
}
`

	f, err := front.New().ParseFile(context.Background(), "t.mc", []byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	got := string(AppendFile(nil, f))
	if got != src {
		t.Errorf("formatted:\n%s\nwanted:\n%s", got, src)
	}
}

func TestExprParens(t *testing.T) {
	for _, tc := range []struct {
		in, out string
	}{
		{"x := 1 + 2*3", "x := 1 + 2 * 3"},
		{"x := (1 + 2) * 3", "x := (1 + 2) * 3"},
		{"x := 1 - (2 - 3)", "x := 1 - (2 - 3)"},
		{"x := 1 - 2 - 3", "x := 1 - 2 - 3"},
		{"x := -(1 + 2)", "x := -(1 + 2)"},
		{"x := a&b | c", "x := a & b | c"},
		{"x := (a || b) && c", "x := (a || b) && c"},
	} {
		src := "func main() {\n\t" + tc.in + "\n}\n"

		f, err := front.New().ParseFile(context.Background(), "t.mc", []byte(src))
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}

		want := "func main() {\n\t" + tc.out + "\n}\n"

		if got := string(AppendFile(nil, f)); got != want {
			t.Errorf("formatted %q as %q, wanted %q", tc.in, got, want)
		}
	}
}
