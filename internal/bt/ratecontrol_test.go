package bt

import (
	"testing"
	"time"

	"go.uber.org/goleak"
)

// plannerLoop builds the replanning idiom: a rate-controlled child
// whose success is rewritten to running so the wrapper re-arms forever.
func plannerLoop(interval time.Duration, child TreeNode, args ...Arg) *RateControl {
	rc := NewRateControl("plan_loop", interval)
	rc.Attach(child, args...)
	rc.RegisterContingency(child.Ref().Kind(), []NodeStatus{StatusSuccess}, ".*", func() {
		rc.SetCurrentChildStatus(StatusRunning)
	})
	return rc
}

func TestRateControlKeepsRunningForever(t *testing.T) {
	defer goleak.VerifyNone(t)

	child := newTickSuccess("quick")
	rc := plannerLoop(30*time.Millisecond, child)
	drive(rc)

	start := time.Now()
	ticks := 0
	for time.Since(start) < 160*time.Millisecond {
		visit(rc)
		if got := rc.Status(); got != StatusRunning {
			t.Fatalf("wrapper status = %q on tick %d, want %q forever", got, ticks, StatusRunning)
		}
		ticks++
		time.Sleep(5 * time.Millisecond)
	}

	inits := int(child.inits.Load())
	if inits < 3 {
		t.Errorf("child armed %d times over ~160ms at a 30ms interval, want at least 3", inits)
	}
	// The interval caps arming: elapsed/interval plus the immediate
	// first arm, with slack for scheduling jitter.
	if inits > 8 {
		t.Errorf("child armed %d times, rate limit not applied", inits)
	}
}

func TestRateControlImmediateFirstArm(t *testing.T) {
	child := newTickSuccess("quick")
	rc := plannerLoop(time.Hour, child)
	drive(rc)
	visit(rc)

	if got := child.inits.Load(); got != 1 {
		t.Errorf("child armed %d times on the first tick, want 1", got)
	}
	if got := rc.Status(); got != StatusRunning {
		t.Errorf("wrapper status = %q, want %q", got, StatusRunning)
	}
}

func TestRateControlChildFailurePropagates(t *testing.T) {
	child := newTickSuccess("quick")
	child.failAt = 2
	child.failMsg = "PLANNER_DOWN"
	rc := plannerLoop(10*time.Millisecond, child)
	drive(rc)

	deadline := time.Now().Add(time.Second)
	for rc.Status() == StatusRunning && time.Now().Before(deadline) {
		visit(rc)
		time.Sleep(3 * time.Millisecond)
	}

	if got := rc.Status(); got != StatusFailure {
		t.Fatalf("wrapper status = %q, want %q", got, StatusFailure)
	}
	if got := rc.Message(); got != "PLANNER_DOWN" {
		t.Errorf("wrapper message = %q, want the child's", got)
	}
}

func TestRateControlWithoutHandlerPropagatesSuccess(t *testing.T) {
	child := newTickSuccess("quick")
	rc := NewRateControl("one_shot", 10*time.Millisecond)
	rc.Attach(child)
	drive(rc)
	visit(rc)

	if got := rc.Status(); got != StatusSuccess {
		t.Errorf("wrapper status = %q, want %q", got, StatusSuccess)
	}
}

func TestRateControlOutputsReachWrapperScope(t *testing.T) {
	child := newTickSuccess("planner", Out("path"))
	child.outSlot = "path"
	child.outVal = "P1"

	rc := NewRateControl("plan_loop", 10*time.Millisecond, Out("path"))
	rc.Attach(child, Var("path"))
	rc.RegisterContingency("planner", []NodeStatus{StatusSuccess}, ".*", func() {
		rc.SetCurrentChildStatus(StatusRunning)
	})

	par := NewParallel("host", 1)
	par.Attach(rc, Var("path"))
	drive(par)
	visit(par)

	if got := par.Get("path"); got != "P1" {
		t.Errorf("host scope path = %v, want P1 flushed through the wrapper", got)
	}
	if got := rc.Status(); got != StatusRunning {
		t.Errorf("wrapper status = %q, want %q", got, StatusRunning)
	}
}
