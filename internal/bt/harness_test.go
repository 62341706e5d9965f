package bt

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Small concrete nodes used across the engine tests.

// tickSuccess succeeds on its first tick, optionally writing an output
// first. OnInit counts activations so re-arm behavior is observable.
type tickSuccess struct {
	Node
	inits   atomic.Int32
	outSlot string
	outVal  any
	failAt  int32
	failMsg string
}

func newTickSuccess(kind string, slots ...Slot) *tickSuccess {
	n := &tickSuccess{}
	n.Configure(kind, slots...)
	return n
}

func (n *tickSuccess) OnInit() { n.inits.Add(1) }

func (n *tickSuccess) OnTick() {
	if n.failAt > 0 && n.inits.Load() >= n.failAt {
		n.Fail(n.failMsg)
		return
	}
	if n.outSlot != "" {
		n.Set(n.outSlot, n.outVal)
	}
	n.Succeed()
}

// countdown succeeds on the n-th tick of its current activation.
type countdown struct {
	Node
	remaining int
}

func newCountdown(kind string, n int) *countdown {
	c := &countdown{remaining: n}
	c.Configure(kind)
	return c
}

func (c *countdown) OnTick() {
	c.remaining--
	if c.remaining <= 0 {
		c.Succeed()
	}
}

// failNow fails on its first tick with a fixed message.
type failNow struct {
	Node
	msg string
}

func newFailNow(kind, msg string) *failNow {
	f := &failNow{msg: msg}
	f.Configure(kind)
	return f
}

func (f *failNow) OnTick() { f.Fail(f.msg) }

// forever ticks without ever finishing, recording each input it sees.
type forever struct {
	Node
	mu   sync.Mutex
	seen []any
}

func newForever(kind string, slots ...Slot) *forever {
	f := &forever{}
	f.Configure(kind, slots...)
	return f
}

func (f *forever) OnTick() {
	if len(f.slots) == 0 {
		return
	}
	f.mu.Lock()
	f.seen = append(f.seen, f.Get(f.slots[0].Name))
	f.mu.Unlock()
}

func (f *forever) observed() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.seen))
	copy(out, f.seen)
	return out
}

// asyncLeaf suspends on activation and waits for an external completer,
// like an action node with a pending remote request.
type asyncLeaf struct {
	Node
	canceled atomic.Int32
}

func newAsyncLeaf(kind string, slots ...Slot) *asyncLeaf {
	a := &asyncLeaf{}
	a.Configure(kind, slots...)
	return a
}

func (a *asyncLeaf) OnInit() {
	a.TrackRequest(func() { a.canceled.Add(1) })
	a.Suspend()
}

// pollLeaf suspends on activation and polls a condition in the
// background. Its timeout handler stops the worker and fails with its
// own diagnostic message.
type pollLeaf struct {
	Node
	interval   time.Duration
	cond       func(Completion) bool
	timeoutMsg string

	attempts  atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32
}

func newPollLeaf(kind string, interval time.Duration, cond func(Completion) bool, slots ...Slot) *pollLeaf {
	p := &pollLeaf{interval: interval, cond: cond}
	p.Configure(kind, slots...)
	return p
}

func (p *pollLeaf) OnInit() {
	p.StartPoll(p.interval, func(c Completion) bool {
		cur := p.active.Add(1)
		for {
			max := p.maxActive.Load()
			if cur <= max || p.maxActive.CompareAndSwap(max, cur) {
				break
			}
		}
		defer p.active.Add(-1)
		p.attempts.Add(1)
		if p.cond == nil {
			return false
		}
		return p.cond(c)
	})
	p.Suspend()
}

func (p *pollLeaf) OnTimeout() {
	p.StopPoll()
	if p.timeoutMsg != "" {
		p.Fail(p.timeoutMsg)
	}
}

// drive activates a node under a scratch scope and returns the scope
// and entry so tests can keep visiting it.
func drive(n TreeNode, args ...Arg) (*Node, *childEntry) {
	scope := &Node{}
	scope.Configure("scope")
	e := &childEntry{node: n, args: args}
	activate(scope, e)
	return scope, e
}

func waitStatus(t *testing.T, n *Node, want NodeStatus, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if n.Status() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("node %s: status %q, want %q within %v", n.Kind(), n.Status(), want, within)
}
