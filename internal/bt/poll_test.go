package bt

import (
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestPollWorkerCompletesOnCondition(t *testing.T) {
	defer goleak.VerifyNone(t)

	var tries atomic.Int32
	p := newPollLeaf("wait_thing", 5*time.Millisecond, func(c Completion) bool {
		if tries.Add(1) < 3 {
			return false
		}
		c.Set("pose", "here")
		return true
	}, Out("pose"))
	scope, _ := drive(p, Var("pose"))

	waitStatus(t, &p.Node, StatusSuccess, time.Second)
	p.flushOut()
	if got := scope.Get("pose"); got != "here" {
		t.Errorf("scope pose = %v, want %q", got, "here")
	}
	p.waitPollDone()
}

func TestPollWorkerTimesOutWithinOneInterval(t *testing.T) {
	defer goleak.VerifyNone(t)

	const (
		interval = 20 * time.Millisecond
		timeout  = 80 * time.Millisecond
	)
	p := newPollLeaf("wait_thing", interval, nil)
	p.timeoutMsg = "NOT_AVAILABLE"
	p.SetTimeout(timeout)

	start := time.Now()
	drive(p)
	waitStatus(t, &p.Node, StatusFailure, time.Second)

	if got := p.Message(); got != "NOT_AVAILABLE" {
		t.Errorf("message = %q, want NOT_AVAILABLE", got)
	}

	// The worker must observe the stop flag within one poll interval of
	// the deadline. Generous margins keep this stable on loaded hosts.
	p.waitPollDone()
	if elapsed := time.Since(start); elapsed > timeout+10*interval {
		t.Errorf("worker drained after %v, want within ~%v", elapsed, timeout+interval)
	}
}

func TestPollReactivationWaitsForPreviousWorker(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newPollLeaf("wait_thing", 3*time.Millisecond, nil)
	scope, e := drive(p)

	for i := 0; i < 5; i++ {
		time.Sleep(5 * time.Millisecond)
		activate(scope, e)
	}
	if max := p.maxActive.Load(); max > 1 {
		t.Errorf("observed %d concurrent poll attempts, want at most 1", max)
	}

	Abort(p)
	p.waitPollDone()
}

func TestPollStopFlagWithoutTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newPollLeaf("wait_thing", 3*time.Millisecond, nil)
	drive(p)

	time.Sleep(10 * time.Millisecond)
	p.StopPoll()
	p.waitPollDone()

	// Stopping the worker by itself decides nothing; the status guard
	// owns the outcome and the node is still waiting.
	if got := p.Status(); got != StatusSuspended {
		t.Errorf("status = %q after stop flag, want %q", got, StatusSuspended)
	}
	Abort(p)
}

func TestWorkerSuccessBeatsLateTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newPollLeaf("wait_thing", 2*time.Millisecond, func(c Completion) bool { return true })
	p.timeoutMsg = "TOO_LATE"
	drive(p)

	waitStatus(t, &p.Node, StatusSuccess, time.Second)
	p.waitPollDone()

	// A timeout firing after the worker already won must not overwrite
	// the success.
	fireTimeout(p, p.Completion().epoch)
	if got := p.Status(); got != StatusSuccess {
		t.Errorf("status = %q, want %q", got, StatusSuccess)
	}
	if got := p.Message(); got != "" {
		t.Errorf("message = %q, want empty", got)
	}
}
