package tp

import (
	"strconv"
)

type (
	// Type is a fully resolved data type.
	// Size is the number of bytes a value occupies, or -1 if the size
	// is not known yet (unresolved name somewhere in the type).
	Type interface {
		Size() int
	}

	// Name is a reference to a declared type that is not resolved yet.
	// It has no known size. The checker replaces all Names before
	// the tree reaches code generation.
	Name string

	Bool struct{}

	Int struct {
		Bits   int16
		Signed bool
	}

	Ptr struct {
		X Type
	}

	Array struct {
		X   Type
		Len int
	}

	Struct struct {
		Name   string
		Fields []StructField
	}

	StructField struct {
		Name   string
		Offset int
		Type   Type
	}

	// Func describes a function signature. It is not a value type
	// and intentionally does not implement Type.
	Func struct {
		In  []Type
		Out Type // nil for void
	}
)

func (x Name) Size() int { return -1 }

func (x Bool) Size() int { return 1 }

func (x Int) Size() int { return int(x.Bits) / 8 }

func (x Ptr) Size() int { return 8 }

func (x Array) Size() int {
	s := x.X.Size()
	if s < 0 {
		return -1
	}

	return s * x.Len
}

func (x Struct) Size() (s int) {
	for _, f := range x.Fields {
		fs := f.Type.Size()
		if fs < 0 {
			return -1
		}

		s += fs
	}

	return s
}

func (x Name) String() string { return string(x) }

func (x Bool) String() string { return "bool" }

func (x Int) String() string {
	if x.Signed {
		return "i" + strconv.Itoa(int(x.Bits))
	}

	return "u" + strconv.Itoa(int(x.Bits))
}

func (x Ptr) String() string { return "*" + typeName(x.X) }

func (x Array) String() string {
	return "[" + strconv.Itoa(x.Len) + "]" + typeName(x.X)
}

// String is just the name. Fields may point back at the struct
// itself, printing them would not end.
func (x Struct) String() string {
	if x.Name != "" {
		return x.Name
	}

	return "struct"
}

func typeName(x Type) string {
	if x == nil {
		return "void"
	}

	if s, ok := x.(interface{ String() string }); ok {
		return s.String()
	}

	return "?"
}

// AlignOf is the natural alignment of a type: the size itself for
// scalars, the element alignment for arrays, the widest field
// alignment for structs. Never more than 8.
func AlignOf(x Type) int {
	switch x := x.(type) {
	case Bool:
		return 1
	case Int:
		return int(x.Bits) / 8
	case Ptr:
		return 8
	case Array:
		return AlignOf(x.X)
	case Struct:
		a := 1

		for _, f := range x.Fields {
			if fa := AlignOf(f.Type); fa > a {
				a = fa
			}
		}

		return a
	case Name:
		return 1
	default:
		panic(x)
	}
}

// Equal compares types structurally. Structs are compared by name
// and field list so a declared struct only equals itself.
func Equal(a, b Type) bool {
	switch a := a.(type) {
	case nil:
		return b == nil
	case Bool:
		_, ok := b.(Bool)
		return ok
	case Int:
		y, ok := b.(Int)
		return ok && a == y
	case Ptr:
		y, ok := b.(Ptr)
		return ok && Equal(a.X, y.X)
	case Array:
		y, ok := b.(Array)
		return ok && a.Len == y.Len && Equal(a.X, y.X)
	case Struct:
		y, ok := b.(Struct)
		if !ok || a.Name != y.Name || len(a.Fields) != len(y.Fields) {
			return false
		}

		for i, f := range a.Fields {
			if f.Name != y.Fields[i].Name || !Equal(f.Type, y.Fields[i].Type) {
				return false
			}
		}

		return true
	case Name:
		y, ok := b.(Name)
		return ok && a == y
	default:
		panic(a)
	}
}

// IsInt reports whether x is an integer type.
func IsInt(x Type) bool {
	_, ok := x.(Int)
	return ok
}

// IsScalar reports whether a value of the type fits a register.
func IsScalar(x Type) bool {
	switch x.(type) {
	case Bool, Int, Ptr:
		return true
	}

	return false
}
