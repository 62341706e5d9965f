package bt

import (
	"testing"
)

func TestFirstRegisteredHandlerWins(t *testing.T) {
	child := newFailNow("worker", "ERR_PLANNER")
	seq := NewSequence("mission")
	seq.Attach(child)

	var fired []string
	seq.RegisterContingency("worker", []NodeStatus{StatusFailure}, "ERR.*", func() {
		fired = append(fired, "specific")
		seq.SetCurrentChildStatus(StatusRunning)
	})
	seq.RegisterContingency("worker", []NodeStatus{StatusFailure}, ".*", func() {
		fired = append(fired, "catchall")
	})

	drive(seq)
	visit(seq)

	if len(fired) != 1 || fired[0] != "specific" {
		t.Fatalf("fired = %v, want exactly the first registered match", fired)
	}
	if got := seq.Status(); got != StatusRunning {
		t.Errorf("sequence status = %q, want %q after the rewrite", got, StatusRunning)
	}
	if got := child.Status(); got != StatusRunning {
		t.Errorf("child status = %q, want %q", got, StatusRunning)
	}
}

func TestNonMatchingPatternFallsThrough(t *testing.T) {
	child := newFailNow("worker", "ERR_PLANNER")
	seq := NewSequence("mission")
	seq.Attach(child)

	var fired []string
	seq.RegisterContingency("worker", []NodeStatus{StatusFailure}, "NOPE.*", func() {
		fired = append(fired, "wrong_pattern")
	})
	seq.RegisterContingency("worker", []NodeStatus{StatusFailure}, "ERR_.*", func() {
		fired = append(fired, "right_pattern")
		seq.SetCurrentChildStatus(StatusRunning)
	})

	drive(seq)
	visit(seq)

	if len(fired) != 1 || fired[0] != "right_pattern" {
		t.Errorf("fired = %v, want the second entry only", fired)
	}
}

func TestKindFilterBlocksDispatch(t *testing.T) {
	child := newFailNow("worker", "ERR_PLANNER")
	seq := NewSequence("mission")
	seq.Attach(child)

	seq.RegisterContingency("other_kind", []NodeStatus{StatusFailure}, ".*", func() {
		t.Error("handler for a different kind fired")
	})

	drive(seq)
	visit(seq)

	// No handler matched, so the failure propagates unchanged.
	if got := seq.Status(); got != StatusFailure {
		t.Errorf("sequence status = %q, want %q", got, StatusFailure)
	}
	if got := seq.Message(); got != "ERR_PLANNER" {
		t.Errorf("sequence message = %q, want the child's", got)
	}
}

func TestStatusSetFilter(t *testing.T) {
	child := newTickSuccess("worker")
	seq := NewSequence("mission")
	seq.Attach(child)

	var fired int
	seq.RegisterContingency("worker", []NodeStatus{StatusFailure}, ".*", func() { fired++ })

	drive(seq)
	visit(seq)

	if fired != 0 {
		t.Errorf("failure handler fired %d times on a success transition", fired)
	}
	if got := seq.Status(); got != StatusSuccess {
		t.Errorf("sequence status = %q, want %q", got, StatusSuccess)
	}
}

func TestEmptyKindMatchesAnyChild(t *testing.T) {
	child := newFailNow("whatever", "X")
	seq := NewSequence("mission")
	seq.Attach(child)

	var fired int
	seq.RegisterContingency("", []NodeStatus{StatusFailure}, ".*", func() {
		fired++
		seq.SetCurrentChildStatus(StatusRunning)
	})

	drive(seq)
	visit(seq)

	if fired != 1 {
		t.Errorf("wildcard handler fired %d times, want 1", fired)
	}
}

func TestRewriteVoidsEarlierCompletions(t *testing.T) {
	child := newAsyncLeaf("planner", Out("path"))
	par := NewParallel("host", 2)
	par.Attach(child, Var("path"))
	par.RegisterContingency("planner", []NodeStatus{StatusSuccess}, ".*", func() {
		par.SetCurrentChildStatus(StatusRunning)
	})
	drive(par)
	visit(par)

	c := child.Completion()
	c.Succeed()
	visit(par)

	if got := child.Status(); got != StatusRunning {
		t.Fatalf("child status = %q, want rewritten %q", got, StatusRunning)
	}
	// A duplicate delivery of the already-consumed result must not
	// finalize the rewritten child again.
	if c.Succeed() {
		t.Error("pre-rewrite completion landed after the rewrite")
	}
	if got := child.Status(); got != StatusRunning {
		t.Errorf("child status = %q after duplicate delivery, want %q", got, StatusRunning)
	}
}
