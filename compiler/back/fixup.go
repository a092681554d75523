package back

import (
	"strconv"

	"github.com/micalang/mica/compiler/ir"
	"github.com/micalang/mica/compiler/vm"
)

type (
	fixup struct {
		off   int
		label ir.Label
	}

	dataFixup struct {
		off  int
		data int
	}
)

// addFix reserves an address slot to be patched later. The raw label
// id goes in as the placeholder, which makes unresolved slots easy to
// spot in a dump.
func (p *pkgContext) addFix(l ir.Label) {
	p.fix = append(p.fix, fixup{off: len(p.b), label: l})
	p.b = vm.AppendU32(p.b, uint32(l))
}

func (p *pkgContext) addData(data []byte) int {
	off := len(p.data)
	p.data = append(p.data, data...)

	return off
}

func (p *pkgContext) addDataFix(doff int) {
	p.dfix = append(p.dfix, dataFixup{off: len(p.b), data: doff})
	p.b = vm.AppendU32(p.b, 0)
}

// resolve patches every recorded fixup. The data area is loaded right
// after the code, so data references resolve to len(code)+off.
func (p *pkgContext) resolve() {
	for _, fx := range p.fix {
		addr, ok := p.labels[fx.label]
		if !ok {
			panic("unresolved label: L" + strconv.Itoa(int(fx.label)))
		}

		vm.PutAddr(p.b, fx.off, uint32(addr))
	}

	for _, fx := range p.dfix {
		vm.PutAddr(p.b, fx.off, uint32(len(p.b)+fx.data))
	}
}
