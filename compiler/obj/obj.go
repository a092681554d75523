// Package obj defines the binary image produced by the compiler and
// the assembler and consumed by the vm.
//
// Layout: magic, version, entry address, code, data, label table.
// All fields are little endian. The data area address space starts
// right after the code, so absolute references into data are
// len(Code)+offset.
package obj

import (
	"sort"

	"tlog.app/go/errors"
)

type (
	Image struct {
		Entry uint32
		Code  []byte
		Data  []byte

		// Labels maps exported names (functions, data items) to
		// absolute addresses. Debugging and linking aid only.
		Labels map[string]uint32
	}
)

var magic = []byte("MICA")

const version = 1

// AppendTo serializes the image.
func (img *Image) AppendTo(b []byte) []byte {
	b = append(b, magic...)
	b = append(b, version)

	b = appendU32(b, img.Entry)

	b = appendU32(b, uint32(len(img.Code)))
	b = append(b, img.Code...)

	b = appendU32(b, uint32(len(img.Data)))
	b = append(b, img.Data...)

	names := make([]string, 0, len(img.Labels))
	for name := range img.Labels {
		names = append(names, name)
	}

	sort.Strings(names)

	b = appendU32(b, uint32(len(names)))

	for _, name := range names {
		b = appendU16(b, uint16(len(name)))
		b = append(b, name...)
		b = appendU32(b, img.Labels[name])
	}

	return b
}

func Unmarshal(b []byte) (img *Image, err error) {
	if len(b) < len(magic)+1 {
		return nil, errors.New("truncated image")
	}

	if string(b[:len(magic)]) != string(magic) {
		return nil, errors.New("bad magic")
	}

	b = b[len(magic):]

	if b[0] != version {
		return nil, errors.New("unsupported version: %d", b[0])
	}

	b = b[1:]

	img = &Image{}

	img.Entry, b, err = readU32(b)
	if err != nil {
		return nil, errors.Wrap(err, "entry")
	}

	img.Code, b, err = readBytes(b)
	if err != nil {
		return nil, errors.Wrap(err, "code")
	}

	img.Data, b, err = readBytes(b)
	if err != nil {
		return nil, errors.Wrap(err, "data")
	}

	n, b, err := readU32(b)
	if err != nil {
		return nil, errors.Wrap(err, "label table")
	}

	img.Labels = make(map[string]uint32, n)

	for i := uint32(0); i < n; i++ {
		var l uint16
		var addr uint32

		l, b, err = readU16(b)
		if err != nil {
			return nil, errors.Wrap(err, "label %d", i)
		}

		if len(b) < int(l) {
			return nil, errors.New("label %d: truncated name", i)
		}

		name := string(b[:l])
		b = b[l:]

		addr, b, err = readU32(b)
		if err != nil {
			return nil, errors.Wrap(err, "label %q", name)
		}

		img.Labels[name] = addr
	}

	if len(b) != 0 {
		return nil, errors.New("%d trailing bytes", len(b))
	}

	return img, nil
}

func appendU16(b []byte, v uint16) []byte {
	return append(b, byte(v), byte(v>>8))
}

func appendU32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func readU16(b []byte) (uint16, []byte, error) {
	if len(b) < 2 {
		return 0, b, errors.New("truncated")
	}

	return uint16(b[0]) | uint16(b[1])<<8, b[2:], nil
}

func readU32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, b, errors.New("truncated")
	}

	v := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24

	return v, b[4:], nil
}

func readBytes(b []byte) ([]byte, []byte, error) {
	n, b, err := readU32(b)
	if err != nil {
		return nil, b, err
	}

	if len(b) < int(n) {
		return nil, b, errors.New("truncated: want %d bytes, have %d", n, len(b))
	}

	return b[:n:n], b[n:], nil
}
