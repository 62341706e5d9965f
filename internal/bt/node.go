package bt

import (
	"sync"
	"time"
)

const (
	// TimeoutMessage is the contingency message the engine sets when it
	// enforces a timeout the node's own handler left unresolved.
	TimeoutMessage = "TIMEOUT"

	// AbortMessage is the contingency message set on nodes forced to
	// failure by an abort.
	AbortMessage = "ABORTED"
)

// TreeNode is implemented by every node in a tree. Concrete nodes embed
// a Node control block, whose Ref method satisfies the interface.
type TreeNode interface {
	Ref() *Node
}

// Initializer is the optional activation hook. It runs after input
// slots have been synchronized from the parent scope.
type Initializer interface {
	OnInit()
}

// Ticker is the optional per-cycle hook. It runs once per engine cycle
// while the node is running; suspended nodes are not ticked.
type Ticker interface {
	OnTick()
}

// Aborter is the optional cleanup hook for nodes aborted before
// reaching a terminal status.
type Aborter interface {
	OnAbort()
}

// TimeoutHandler is the optional timeout hook. It runs when the
// activation deadline expires, before the engine applies the default
// timeout behavior; the handler may finalize the node itself to supply
// a more specific contingency message.
type TimeoutHandler interface {
	OnTimeout()
}

// Container is implemented by composites so aborts, snapshots and
// transition reporting can reach their children.
type Container interface {
	Children() []TreeNode
}

// Node is the control block embedded in every tree node. It owns the
// guarded status, the contingency message, the activation epoch, the
// declared slots and their current values, the optional timeout, the
// tracked external request and the background poll worker.
//
// Status reads are safe from any goroutine. Status writes from
// asynchronous completers must go through a Completion so that writes
// belonging to a superseded activation are rejected.
type Node struct {
	kind    string
	slots   []Slot
	timeout time.Duration

	mu      sync.Mutex
	status  NodeStatus
	message string
	epoch   uint64
	vals    map[string]any
	dirty   map[string]bool
	parent  *Node
	args    []Arg
	cancel  func()
	timer   *time.Timer
	poll    *pollWorker

	// lifeMu serializes activation, timeout firing and abort so a
	// timeout hook can never land its writes on a fresher activation.
	lifeMu sync.Mutex

	table   contingencyTable
	current *Node
}

// Configure sets the node's kind tag and declares its parameter slots.
// Call it once from the concrete node's constructor. Slot names must be
// unique; Configure panics on a duplicate.
func (n *Node) Configure(kind string, slots ...Slot) {
	seen := make(map[string]bool, len(slots))
	for _, s := range slots {
		if seen[s.Name] {
			panic("bt: duplicate slot " + s.Name + " on node " + kind)
		}
		seen[s.Name] = true
	}
	n.kind = kind
	n.slots = slots
	n.status = StatusRunning
}

// SetTimeout arms a per-activation deadline. The deadline starts when
// an activation opens; zero disables it.
func (n *Node) SetTimeout(d time.Duration) { n.timeout = d }

// Ref returns the control block itself, satisfying TreeNode for every
// embedder.
func (n *Node) Ref() *Node { return n }

// Kind returns the node's declared kind tag.
func (n *Node) Kind() string { return n.kind }

// Status returns the current status. Safe from any goroutine.
func (n *Node) Status() NodeStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

// Message returns the contingency message of the current activation.
func (n *Node) Message() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.message
}

// Get returns the current value of a slot or scope variable.
func (n *Node) Get(name string) any {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.vals[name]
}

// Set writes a slot value from a tick-path hook. Asynchronous writers
// must use Completion.Set instead so stale activations cannot write.
func (n *Node) Set(name string, v any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.setLocked(name, v)
}

func (n *Node) setLocked(name string, v any) {
	if n.vals == nil {
		n.vals = make(map[string]any)
		n.dirty = make(map[string]bool)
	}
	n.vals[name] = v
	n.dirty[name] = true
}

// Suspend moves a running node into the suspended state, marking it as
// waiting on an asynchronous external operation.
func (n *Node) Suspend() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.status == StatusRunning {
		n.status = StatusSuspended
	}
}

// Succeed finalizes the current activation with StatusSuccess. The
// terminal latch makes repeated finalization a no-op.
func (n *Node) Succeed() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finalizeLocked(StatusSuccess, "")
}

// Fail finalizes the current activation with StatusFailure and the
// given contingency message.
func (n *Node) Fail(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finalizeLocked(StatusFailure, message)
}

// finalizeLocked applies a terminal status if the activation is still
// open. It reports whether the write landed.
func (n *Node) finalizeLocked(st NodeStatus, message string) bool {
	if n.status.Terminal() {
		return false
	}
	n.status = st
	n.message = message
	n.cancel = nil
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	if n.poll != nil {
		n.poll.signalStop()
	}
	return true
}

// TrackRequest records the cancel hook of an in-flight external
// request. The engine invokes the hook, fire and forget, when the
// activation times out or is aborted; finalization drops it.
func (n *Node) TrackRequest(cancel func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancel = cancel
}

// Completion is a single-activation write token handed to asynchronous
// completers such as poll workers and action result callbacks. Writes
// through a token issued for a superseded or finalized activation are
// rejected.
type Completion struct {
	n     *Node
	epoch uint64
}

// Completion issues a write token bound to the current activation.
func (n *Node) Completion() Completion {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Completion{n: n, epoch: n.epoch}
}

func (c Completion) liveLocked() bool {
	return c.n != nil && c.epoch == c.n.epoch && !c.n.status.Terminal()
}

// Valid reports whether the token can still write.
func (c Completion) Valid() bool {
	if c.n == nil {
		return false
	}
	c.n.mu.Lock()
	defer c.n.mu.Unlock()
	return c.liveLocked()
}

// Set writes a slot value if the token is still current. It reports
// whether the write landed.
func (c Completion) Set(name string, v any) bool {
	if c.n == nil {
		return false
	}
	c.n.mu.Lock()
	defer c.n.mu.Unlock()
	if !c.liveLocked() {
		return false
	}
	c.n.setLocked(name, v)
	return true
}

// Succeed finalizes the activation the token was issued for with
// StatusSuccess. Stale tokens are a no-op; the result reports whether
// the write landed.
func (c Completion) Succeed() bool {
	return c.finalize(StatusSuccess, "")
}

// Fail finalizes the activation the token was issued for with
// StatusFailure and the given contingency message.
func (c Completion) Fail(message string) bool {
	return c.finalize(StatusFailure, message)
}

func (c Completion) finalize(st NodeStatus, message string) bool {
	if c.n == nil {
		return false
	}
	c.n.mu.Lock()
	defer c.n.mu.Unlock()
	if !c.liveLocked() {
		return false
	}
	return c.n.finalizeLocked(st, message)
}

// childEntry ties an attached child to its positional bindings and the
// status last observed by the parent.
type childEntry struct {
	node      TreeNode
	args      []Arg
	activated bool
	lastSeen  NodeStatus
}

// activate opens a fresh activation epoch on e.node bound into the
// parent's scope: status returns to running, the contingency message
// clears, slot values reset, the timeout timer arms, and any leftover
// poll worker from the previous activation is told to stop. The init
// hook runs after input slots are synchronized.
func activate(parent *Node, e *childEntry) {
	t := e.node
	ref := t.Ref()

	ref.lifeMu.Lock()
	ref.mu.Lock()
	ref.epoch++
	epoch := ref.epoch
	ref.status = StatusRunning
	ref.message = ""
	ref.vals = make(map[string]any)
	ref.dirty = make(map[string]bool)
	ref.parent = parent
	ref.args = e.args
	ref.cancel = nil
	if ref.timer != nil {
		ref.timer.Stop()
		ref.timer = nil
	}
	if ref.poll != nil {
		ref.poll.signalStop()
	}
	if ref.timeout > 0 {
		ref.timer = time.AfterFunc(ref.timeout, func() { fireTimeout(t, epoch) })
	}
	ref.mu.Unlock()
	ref.lifeMu.Unlock()

	e.activated = true
	e.lastSeen = StatusRunning

	ref.syncIn()
	if init, ok := t.(Initializer); ok {
		init.OnInit()
	}
	ref.flushOut()
}

// syncIn refreshes in and inout slots from the parent scope, or from
// their bound literals.
func (n *Node) syncIn() {
	n.mu.Lock()
	parent := n.parent
	args := n.args
	slots := n.slots
	n.mu.Unlock()

	for i, s := range slots {
		if s.Dir == DirOut || i >= len(args) {
			continue
		}
		var v any
		switch {
		case args[i].literal:
			v = args[i].value
		case parent != nil:
			parent.mu.Lock()
			v = parent.vals[args[i].variable]
			parent.mu.Unlock()
		}
		n.mu.Lock()
		if n.vals == nil {
			n.vals = make(map[string]any)
			n.dirty = make(map[string]bool)
		}
		n.vals[s.Name] = v
		n.mu.Unlock()
	}
}

// flushOut copies out and inout slot values the node wrote during this
// activation to the parent scope. Untouched slots leave the parent
// variable alone.
func (n *Node) flushOut() {
	type outVal struct {
		variable string
		v        any
	}

	n.mu.Lock()
	parent := n.parent
	var outs []outVal
	for i, s := range n.slots {
		if s.Dir == DirIn || i >= len(n.args) || n.args[i].literal {
			continue
		}
		if !n.dirty[s.Name] {
			continue
		}
		outs = append(outs, outVal{n.args[i].variable, n.vals[s.Name]})
	}
	n.mu.Unlock()

	if parent == nil || len(outs) == 0 {
		return
	}
	parent.mu.Lock()
	for _, o := range outs {
		parent.setLocked(o.variable, o.v)
	}
	parent.mu.Unlock()
}

// visit drives one engine cycle for a node: refresh inputs and tick it
// when running, then flush its outputs. Suspended and terminal nodes
// have nothing to do on the tick path.
func visit(t TreeNode) {
	ref := t.Ref()
	if ref.Status() != StatusRunning {
		return
	}
	ref.syncIn()
	if tk, ok := t.(Ticker); ok {
		tk.OnTick()
	}
	ref.flushOut()
}

// observeChild notes a child's status transition, flushes its outputs
// on a terminal status, and dispatches the first matching contingency
// handler. It returns whether a transition was observed and the raw
// status that triggered it, before any handler rewrite.
func observeChild(parent *Node, e *childEntry) (bool, NodeStatus) {
	ref := e.node.Ref()
	st := ref.Status()
	if st == e.lastSeen {
		return false, st
	}
	e.lastSeen = st
	if st.Terminal() {
		ref.flushOut()
	}
	if fn := parent.table.match(ref.Kind(), st, ref.Message()); fn != nil {
		parent.current = ref
		fn()
		parent.current = nil
		e.lastSeen = ref.Status()
	}
	return true, st
}

// fireTimeout applies the timeout contract for one activation: the
// node's own timeout handler runs first, then the engine enforces
// failure if the handler left the node unresolved, stops the poll
// worker, and cancels any tracked external request.
func fireTimeout(t TreeNode, epoch uint64) {
	ref := t.Ref()
	ref.lifeMu.Lock()
	defer ref.lifeMu.Unlock()

	ref.mu.Lock()
	if epoch != ref.epoch || ref.status.Terminal() {
		ref.mu.Unlock()
		return
	}
	cancel := ref.cancel
	ref.cancel = nil
	ref.mu.Unlock()

	if h, ok := t.(TimeoutHandler); ok {
		h.OnTimeout()
	}

	ref.mu.Lock()
	if epoch == ref.epoch && !ref.status.Terminal() {
		ref.finalizeLocked(StatusFailure, TimeoutMessage)
	}
	if ref.poll != nil {
		ref.poll.signalStop()
	}
	ref.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Abort cancels a subtree, children first. A non-terminal node has its
// tracked request canceled fire and forget, its poll worker stopped,
// its abort hook run, and its status forced to failure with
// AbortMessage. Terminal nodes keep their status; their non-terminal
// descendants are still aborted.
func Abort(t TreeNode) {
	if c, ok := t.(Container); ok {
		for _, ch := range c.Children() {
			Abort(ch)
		}
	}

	ref := t.Ref()
	ref.lifeMu.Lock()

	ref.mu.Lock()
	if ref.status.Terminal() {
		if ref.poll != nil {
			ref.poll.signalStop()
		}
		ref.mu.Unlock()
		ref.lifeMu.Unlock()
		ref.waitPollDone()
		return
	}
	cancel := ref.cancel
	ref.cancel = nil
	if ref.poll != nil {
		ref.poll.signalStop()
	}
	ref.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if a, ok := t.(Aborter); ok {
		a.OnAbort()
	}

	ref.mu.Lock()
	ref.finalizeLocked(StatusFailure, AbortMessage)
	ref.mu.Unlock()
	ref.lifeMu.Unlock()

	ref.waitPollDone()
}

func (n *Node) waitPollDone() {
	n.mu.Lock()
	w := n.poll
	n.mu.Unlock()
	if w != nil {
		<-w.done
	}
}

// NodeSnapshot is a point-in-time view of one node for monitoring
// surfaces.
type NodeSnapshot struct {
	Kind     string         `json:"kind"`
	Status   NodeStatus     `json:"status"`
	Message  string         `json:"message,omitempty"`
	Children []NodeSnapshot `json:"children,omitempty"`
}

// Snapshot walks a subtree and captures the kind, status and message of
// every node.
func Snapshot(t TreeNode) NodeSnapshot {
	ref := t.Ref()
	s := NodeSnapshot{Kind: ref.Kind(), Status: ref.Status(), Message: ref.Message()}
	if c, ok := t.(Container); ok {
		for _, ch := range c.Children() {
			s.Children = append(s.Children, Snapshot(ch))
		}
	}
	return s
}
