package bt

import "time"

// RateControl re-arms its single child at a minimum interval. Every
// re-arm is a fresh activation of the child with the bindings given at
// attach time, so the child restarts cleanly while its slot wiring is
// preserved. The first arm happens on the wrapper's first tick without
// waiting out the interval.
//
// A child's terminal status propagates to the wrapper unless a
// contingency handler rewrites it. The replanning idiom registers a
// handler that rewrites child success into running: the wrapper then
// stays running and re-arms the child forever, while each completed
// activation's outputs remain flushed into the wrapper's scope for
// siblings to consume.
type RateControl struct {
	Node
	child    childEntry
	interval time.Duration
	awaiting bool
	lastArm  time.Time
}

// NewRateControl constructs a rate-controlled wrapper with the given
// kind tag, minimum re-arm interval and declared slots.
func NewRateControl(kind string, interval time.Duration, slots ...Slot) *RateControl {
	if interval <= 0 {
		interval = time.Second
	}
	rc := &RateControl{interval: interval}
	rc.Configure(kind, slots...)
	return rc
}

// Attach sets the wrapped child with positional slot bindings. A
// RateControl has exactly one child; Attach panics when called twice or
// when the bindings do not line up with the child's declared slots.
func (rc *RateControl) Attach(child TreeNode, args ...Arg) {
	if rc.child.node != nil {
		panic("bt: RateControl " + rc.kind + " already has a child")
	}
	validateArgs(child.Ref(), args)
	rc.child = childEntry{node: child, args: args}
}

// Children returns the wrapped child.
func (rc *RateControl) Children() []TreeNode {
	if rc.child.node == nil {
		return nil
	}
	return []TreeNode{rc.child.node}
}

// ChildStatus returns the wrapped child's current status.
func (rc *RateControl) ChildStatus() NodeStatus {
	if rc.child.node == nil {
		return StatusRunning
	}
	return rc.child.node.Ref().Status()
}

// OnInit resets the arming state so a re-activation starts a fresh
// cycle of child activations.
func (rc *RateControl) OnInit() {
	rc.awaiting = false
	rc.lastArm = time.Time{}
	rc.child.activated = false
}

// OnTick arms the child when due and tracks the outstanding activation
// until it ends.
func (rc *RateControl) OnTick() {
	if rc.child.node == nil {
		rc.Fail("no child attached")
		return
	}
	if !rc.awaiting {
		if !rc.lastArm.IsZero() && time.Since(rc.lastArm) < rc.interval {
			return
		}
		activate(&rc.Node, &rc.child)
		rc.awaiting = true
		rc.lastArm = time.Now()
	}
	visit(rc.child.node)
	transitioned, raw := observeChild(&rc.Node, &rc.child)
	if !transitioned || !raw.Terminal() {
		return
	}
	rc.awaiting = false
	switch rc.child.node.Ref().Status() {
	case StatusSuccess:
		rc.Succeed()
	case StatusFailure:
		rc.Fail(rc.child.node.Ref().Message())
	}
}
