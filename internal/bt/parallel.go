package bt

// Parallel runs all of its children within every tick cycle. Children
// share the composite's scope and are visited in attachment order, so
// an output flushed by an earlier child is visible to a later child in
// the same cycle.
//
// The composite succeeds once the number of successful children reaches
// the success threshold. A child failure does not fail the composite
// unless FailOnChildFailure is set; the failure stays visible through
// the child's status, its contingency message and whatever it flushed
// to the shared scope. Reaching the threshold does not stop the
// surviving children; the runner aborts them when the whole run ends,
// and their states stay queryable meanwhile.
type Parallel struct {
	Node
	children  []childEntry
	threshold int
	failFast  bool
}

// NewParallel constructs a parallel composite with the given kind tag,
// success threshold and declared slots. A threshold larger than the
// number of attached children can never be reached.
func NewParallel(kind string, threshold int, slots ...Slot) *Parallel {
	p := &Parallel{threshold: threshold}
	p.Configure(kind, slots...)
	return p
}

// Attach appends a child with positional slot bindings. It panics when
// the bindings do not line up with the child's declared slots.
func (p *Parallel) Attach(child TreeNode, args ...Arg) {
	validateArgs(child.Ref(), args)
	p.children = append(p.children, childEntry{node: child, args: args})
}

// FailOnChildFailure makes any child failure fail the composite
// immediately instead of waiting out the success threshold.
func (p *Parallel) FailOnChildFailure() { p.failFast = true }

// Children returns the attached children in order.
func (p *Parallel) Children() []TreeNode {
	out := make([]TreeNode, len(p.children))
	for i := range p.children {
		out[i] = p.children[i].node
	}
	return out
}

// ChildStatus returns the status of the i-th attached child.
func (p *Parallel) ChildStatus(i int) NodeStatus {
	return p.children[i].node.Ref().Status()
}

// ChildMessage returns the contingency message of the i-th attached
// child.
func (p *Parallel) ChildMessage(i int) string {
	return p.children[i].node.Ref().Message()
}

// OnInit activates every child into the shared scope, in attachment
// order.
func (p *Parallel) OnInit() {
	for i := range p.children {
		activate(&p.Node, &p.children[i])
	}
}

// OnTick visits every non-terminal child and checks the success
// threshold.
func (p *Parallel) OnTick() {
	succeeded := 0
	for i := range p.children {
		e := &p.children[i]
		visit(e.node)
		observeChild(&p.Node, e)
		switch e.node.Ref().Status() {
		case StatusSuccess:
			succeeded++
		case StatusFailure:
			if p.failFast {
				p.Fail(e.node.Ref().Message())
				return
			}
		}
	}
	if p.threshold > 0 && succeeded >= p.threshold {
		p.Succeed()
	}
}
