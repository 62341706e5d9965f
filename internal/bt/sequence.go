package bt

// Sequence runs its children one at a time in attachment order. A child
// success advances the cursor within the same cycle; a child failure
// fails the sequence with the child's contingency message, unless a
// contingency handler rewrites the status first. The sequence succeeds
// once the last child has succeeded.
type Sequence struct {
	Node
	children []childEntry
	idx      int
}

// NewSequence constructs a sequence with the given kind tag and
// declared slots.
func NewSequence(kind string, slots ...Slot) *Sequence {
	s := &Sequence{}
	s.Configure(kind, slots...)
	return s
}

// Attach appends a child with positional slot bindings. It panics when
// the bindings do not line up with the child's declared slots.
func (s *Sequence) Attach(child TreeNode, args ...Arg) {
	validateArgs(child.Ref(), args)
	s.children = append(s.children, childEntry{node: child, args: args})
}

// Children returns the attached children in order.
func (s *Sequence) Children() []TreeNode {
	out := make([]TreeNode, len(s.children))
	for i := range s.children {
		out[i] = s.children[i].node
	}
	return out
}

// OnInit rewinds the cursor so a re-activation replays the sequence
// from the first child.
func (s *Sequence) OnInit() {
	s.idx = 0
	for i := range s.children {
		s.children[i].activated = false
	}
}

// OnTick drives the current child and advances past it when it
// succeeds.
func (s *Sequence) OnTick() {
	for s.idx < len(s.children) {
		e := &s.children[s.idx]
		if !e.activated {
			activate(&s.Node, e)
		}
		visit(e.node)
		observeChild(&s.Node, e)
		switch e.node.Ref().Status() {
		case StatusSuccess:
			s.idx++
		case StatusFailure:
			s.Fail(e.node.Ref().Message())
			return
		default:
			return
		}
	}
	s.Succeed()
}
