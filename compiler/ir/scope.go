package ir

type (
	// Scope mirrors one source lexical scope. It binds symbol ids to
	// the Tns holding their values and optionally carries the
	// function's return Tn. Lookups chain to the parent.
	Scope struct {
		par *Scope

		ret  Tn
		syms map[int]Tn
	}
)

func NewScope(par *Scope) *Scope {
	return &Scope{par: par}
}

func (s *Scope) Bind(sym int, t Tn) {
	if s.syms == nil {
		s.syms = map[int]Tn{}
	}

	s.syms[sym] = t
}

func (s *Scope) Lookup(sym int) (Tn, bool) {
	for sc := s; sc != nil; sc = sc.par {
		if t, ok := sc.syms[sym]; ok {
			return t, true
		}
	}

	return Tn{}, false
}

// SetRet installs the function return Tn on this scope node.
func (s *Scope) SetRet(t Tn) { s.ret = t }

// Ret is the nearest enclosing return Tn, the zero Tn for void.
func (s *Scope) Ret() Tn {
	for sc := s; sc != nil; sc = sc.par {
		if sc.ret.Valid() {
			return sc.ret
		}
	}

	return Tn{}
}
