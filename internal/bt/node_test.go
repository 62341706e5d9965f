package bt

import (
	"testing"
	"time"
)

func TestTerminalLatch(t *testing.T) {
	n := newAsyncLeaf("probe")
	drive(n)

	if got := n.Status(); got != StatusSuspended {
		t.Fatalf("status after activation = %q, want %q", got, StatusSuspended)
	}

	c := n.Completion()
	if !c.Fail("FIRST") {
		t.Fatal("first finalization rejected")
	}
	if c.Succeed() {
		t.Error("second finalization through the same token landed")
	}
	if n.Completion().Succeed() {
		t.Error("finalization through a fresh token landed on a terminal node")
	}
	if got := n.Status(); got != StatusFailure {
		t.Errorf("status = %q, want %q", got, StatusFailure)
	}
	if got := n.Message(); got != "FIRST" {
		t.Errorf("message = %q, want FIRST", got)
	}
}

func TestStaleCompletionAfterReactivation(t *testing.T) {
	n := newAsyncLeaf("probe")
	scope, e := drive(n)

	stale := n.Completion()
	activate(scope, e)

	if stale.Succeed() {
		t.Error("completion from a superseded activation landed")
	}
	if stale.Set("x", 1) {
		t.Error("slot write from a superseded activation landed")
	}
	if got := n.Status(); got != StatusSuspended {
		t.Errorf("fresh activation status = %q, want %q", got, StatusSuspended)
	}

	if !n.Completion().Succeed() {
		t.Error("current activation's completion rejected")
	}
}

func TestTimeoutDefaultBehavior(t *testing.T) {
	n := newAsyncLeaf("probe")
	n.SetTimeout(30 * time.Millisecond)
	drive(n)

	waitStatus(t, &n.Node, StatusFailure, 300*time.Millisecond)
	if got := n.Message(); got != TimeoutMessage {
		t.Errorf("message = %q, want %q", got, TimeoutMessage)
	}
	if n.canceled.Load() != 1 {
		t.Errorf("tracked request canceled %d times, want 1", n.canceled.Load())
	}

	// A callback that raced the timeout and lost must be a no-op.
	if n.Completion().Succeed() {
		t.Error("late completion overwrote the timeout failure")
	}
	if got := n.Status(); got != StatusFailure {
		t.Errorf("status = %q, want %q", got, StatusFailure)
	}
}

func TestTimeoutHandlerMessageWins(t *testing.T) {
	p := newPollLeaf("wait_thing", 10*time.Millisecond, nil)
	p.timeoutMsg = "NOT_AVAILABLE"
	p.SetTimeout(40 * time.Millisecond)
	drive(p)

	waitStatus(t, &p.Node, StatusFailure, 300*time.Millisecond)
	if got := p.Message(); got != "NOT_AVAILABLE" {
		t.Errorf("message = %q, want the handler's diagnostic", got)
	}
}

func TestTimeoutAfterSuccessIsNoop(t *testing.T) {
	n := newAsyncLeaf("probe")
	drive(n)

	epoch := n.Completion().epoch
	if !n.Completion().Succeed() {
		t.Fatal("completion rejected")
	}

	fireTimeout(n, epoch)
	if got := n.Status(); got != StatusSuccess {
		t.Errorf("status = %q after late timeout, want %q", got, StatusSuccess)
	}
	if n.canceled.Load() != 0 {
		t.Error("timeout canceled a request that had already completed")
	}
}

func TestAbortForcesFailureAndCancels(t *testing.T) {
	n := newAsyncLeaf("probe")
	drive(n)

	Abort(n)
	if got := n.Status(); got != StatusFailure {
		t.Errorf("status = %q, want %q", got, StatusFailure)
	}
	if got := n.Message(); got != AbortMessage {
		t.Errorf("message = %q, want %q", got, AbortMessage)
	}
	if n.canceled.Load() != 1 {
		t.Errorf("tracked request canceled %d times, want 1", n.canceled.Load())
	}
}

func TestAbortLeavesTerminalNodesAlone(t *testing.T) {
	n := newAsyncLeaf("probe")
	drive(n)
	n.Completion().Succeed()

	Abort(n)
	if got := n.Status(); got != StatusSuccess {
		t.Errorf("status = %q, want %q", got, StatusSuccess)
	}
	if n.canceled.Load() != 0 {
		t.Error("abort canceled a request on a terminal node")
	}
}

func TestSuspendOnlyFromRunning(t *testing.T) {
	n := newTickSuccess("quick")
	drive(n)
	visit(n)
	if got := n.Status(); got != StatusSuccess {
		t.Fatalf("status = %q, want %q", got, StatusSuccess)
	}
	n.Suspend()
	if got := n.Status(); got != StatusSuccess {
		t.Errorf("suspend moved a terminal node to %q", got)
	}
}

func TestSnapshotCapturesSubtree(t *testing.T) {
	par := NewParallel("approach", 1)
	par.Attach(newFailNow("a", "A_FAILED"))
	par.Attach(newForever("b"))
	drive(par)
	visit(par)

	snap := Snapshot(par)
	if snap.Kind != "approach" {
		t.Fatalf("root kind = %q", snap.Kind)
	}
	if len(snap.Children) != 2 {
		t.Fatalf("children = %d, want 2", len(snap.Children))
	}
	if snap.Children[0].Status != StatusFailure || snap.Children[0].Message != "A_FAILED" {
		t.Errorf("child a = %+v, want failure/A_FAILED", snap.Children[0])
	}
	if snap.Children[1].Status != StatusRunning {
		t.Errorf("child b status = %q, want %q", snap.Children[1].Status, StatusRunning)
	}
}
