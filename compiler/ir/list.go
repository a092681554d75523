package ir

type (
	// Node is a handle to an operation in a List. Zero is the list
	// sentinel and never holds an operation.
	Node int32

	// List is a doubly linked operation list backed by an arena.
	// Links are arena indices, removed slots go to a free list,
	// so unlinking is O(1) and reuses memory.
	List struct {
		arena []slot
		free  []Node
		n     int
	}

	slot struct {
		op  any
		eff bool

		prev, next Node
	}
)

func NewList() *List {
	return &List{
		arena: make([]slot, 1), // slot 0 is the sentinel, linked to itself
	}
}

func (l *List) Len() int { return l.n }

// PushBack appends an operation and returns its handle.
func (l *List) PushBack(op any, effects bool) Node {
	if op == nil {
		panic("nil op")
	}

	var n Node

	if k := len(l.free); k != 0 {
		n = l.free[k-1]
		l.free = l.free[:k-1]
	} else {
		l.arena = append(l.arena, slot{})
		n = Node(len(l.arena) - 1)
	}

	last := l.arena[0].prev

	l.arena[n] = slot{op: op, eff: effects, prev: last, next: 0}
	l.arena[last].next = n
	l.arena[0].prev = n

	l.n++

	return n
}

// Unlink removes the node from the list and recycles its slot.
func (l *List) Unlink(n Node) {
	if n == 0 {
		panic("unlink of sentinel")
	}

	s := &l.arena[n]
	if s.op == nil {
		panic("unlink of free node")
	}

	l.arena[s.prev].next = s.next
	l.arena[s.next].prev = s.prev

	*s = slot{}
	l.free = append(l.free, n)

	l.n--
}

func (l *List) Front() Node { return l.arena[0].next }
func (l *List) Back() Node  { return l.arena[0].prev }

func (l *List) Next(n Node) Node { return l.arena[n].next }
func (l *List) Prev(n Node) Node { return l.arena[n].prev }

func (l *List) Op(n Node) any       { return l.arena[n].op }
func (l *List) Effects(n Node) bool { return l.arena[n].eff }
