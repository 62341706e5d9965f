package bt

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultTickInterval paces Runner cycles when no interval is given.
const DefaultTickInterval = 50 * time.Millisecond

// EventSink receives engine events. The events package's Emitter
// satisfies it; a nil sink disables emission.
type EventSink interface {
	Emit(level, name, message string, fields map[string]any)
}

// Runner drives one tree at a time from activation to a terminal root
// status at a fixed cadence. The tick loop itself never blocks on
// external work; long-running waits live in poll workers and action
// callbacks, which report back through the guarded status path.
type Runner struct {
	tick time.Duration
	sink EventSink

	scope Node

	mu     sync.Mutex
	root   TreeNode
	cycles uint64
	prev   map[string]nodeView
}

type nodeView struct {
	status  NodeStatus
	message string
}

// NewRunner constructs a runner ticking at the given interval. A
// non-positive interval falls back to DefaultTickInterval; a nil sink
// disables event emission.
func NewRunner(tick time.Duration, sink EventSink) *Runner {
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	r := &Runner{tick: tick, sink: sink}
	r.scope.Configure("root")
	return r
}

// Run activates root bound into the runner's scope and ticks it until
// the root reaches a terminal status or ctx is canceled. Cancellation
// aborts the tree. Either way, descendants still running after the root
// went terminal, such as parallel stragglers past their threshold, are
// aborted before Run returns, and their workers are drained.
func (r *Runner) Run(ctx context.Context, root TreeNode, args ...Arg) (NodeStatus, error) {
	validateArgs(root.Ref(), args)
	e := childEntry{node: root, args: args}

	r.mu.Lock()
	r.root = root
	r.cycles = 0
	r.prev = make(map[string]nodeView)
	r.mu.Unlock()

	activate(&r.scope, &e)
	r.emit("info", "tree.run.started", root.Ref().Kind(), nil)

	tk := time.NewTicker(r.tick)
	defer tk.Stop()

	for {
		visit(root)
		observeChild(&r.scope, &e)
		r.mu.Lock()
		r.cycles++
		r.mu.Unlock()
		r.emitTransitions()

		if st := root.Ref().Status(); st.Terminal() {
			Abort(root)
			r.emitTransitions()
			r.emit("info", "tree.run.finished", root.Ref().Kind(), map[string]any{
				"status":  string(st),
				"message": root.Ref().Message(),
			})
			return st, nil
		}

		select {
		case <-ctx.Done():
			Abort(root)
			r.emitTransitions()
			st := root.Ref().Status()
			r.emit("warning", "tree.run.aborted", root.Ref().Kind(), map[string]any{
				"status": string(st),
			})
			return st, ctx.Err()
		case <-tk.C:
		}
	}
}

// Snapshot returns the current view of the most recent tree, and false
// when no tree has been run yet. Safe to call while a run is in
// progress.
func (r *Runner) Snapshot() (NodeSnapshot, bool) {
	r.mu.Lock()
	root := r.root
	r.mu.Unlock()
	if root == nil {
		return NodeSnapshot{}, false
	}
	return Snapshot(root), true
}

// Cycles returns the number of completed engine cycles of the current
// run.
func (r *Runner) Cycles() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycles
}

// Var reads a variable from the runner's root scope. Outputs bound with
// Var at Run land here.
func (r *Runner) Var(name string) any {
	return r.scope.Get(name)
}

func (r *Runner) emit(level, name, message string, fields map[string]any) {
	if r.sink != nil {
		r.sink.Emit(level, name, message, fields)
	}
}

// emitTransitions walks the tree and emits one node.status.changed
// event per node whose status or message moved since the last walk.
func (r *Runner) emitTransitions() {
	if r.sink == nil {
		return
	}
	r.mu.Lock()
	root := r.root
	prev := r.prev
	r.mu.Unlock()
	if root == nil {
		return
	}
	walkTree(root, root.Ref().Kind(), func(path string, ref *Node) {
		cur := nodeView{status: ref.Status(), message: ref.Message()}
		if old, ok := prev[path]; ok && old == cur {
			return
		}
		prev[path] = cur
		r.sink.Emit("info", "node.status.changed", path, map[string]any{
			"kind":    ref.Kind(),
			"status":  string(cur.status),
			"message": cur.message,
		})
	})
}

func walkTree(t TreeNode, path string, fn func(string, *Node)) {
	fn(path, t.Ref())
	if c, ok := t.(Container); ok {
		for i, ch := range c.Children() {
			walkTree(ch, fmt.Sprintf("%s/%d:%s", path, i, ch.Ref().Kind()), fn)
		}
	}
}
