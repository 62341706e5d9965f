package nav

import (
	"time"

	"github.com/tillerbot/tiller/internal/actionlib"
	"github.com/tillerbot/tiller/internal/bt"
	"github.com/tillerbot/tiller/internal/geom"
	"github.com/tillerbot/tiller/internal/kb"
)

// defaultPlanner looks up the planner plugin flagged as default in the
// knowledge base. Missing or unreadable entries fall back to the
// server's own default.
func defaultPlanner(store kb.Store) string {
	if store == nil {
		return ""
	}
	entries, err := store.Read(kb.Filter{"type": "planner", "default": true})
	if err != nil || len(entries) == 0 {
		return ""
	}
	id, _ := entries[0]["id"].(string)
	return id
}

// dispatchPlan sends one planning goal and suspends the node until the
// result lands through the completion. A canceled result is a
// supersession, not an answer, so it leaves the node suspended.
func dispatchPlan(n *bt.Node, client *actionlib.Client, goal PlanGoal) {
	c := n.Completion()
	h, err := client.SendGoal(goal, func(res actionlib.Result) {
		switch res.Status {
		case actionlib.StatusSucceeded:
			var out PlanResult
			if err := res.Decode(&out); err != nil || out.Path == nil {
				c.Fail("PLANNER_RESULT_INVALID")
				return
			}
			c.Set("path", out.Path)
			c.Succeed()
		case actionlib.StatusAborted:
			c.Fail("NO_VALID_PATH")
		}
	})
	if err != nil {
		n.Fail("PLANNER_UNAVAILABLE")
		return
	}
	n.TrackRequest(func() {
		h.Cancel()
		h.Forget()
	})
	n.Suspend()
}

// ComputePathToPose requests a path to a single goal pose. The start
// slot may carry a pose to plan from; nil plans from the robot's
// current pose.
type ComputePathToPose struct {
	bt.Node
	client *actionlib.Client
	store  kb.Store
}

func NewComputePathToPose(client *actionlib.Client, store kb.Store) *ComputePathToPose {
	n := &ComputePathToPose{client: client, store: store}
	n.Configure("compute_path_to_pose", bt.In("start"), bt.In("goal"), bt.Out("path"))
	return n
}

func (n *ComputePathToPose) OnInit() {
	goal, ok := n.Get("goal").(geom.Pose)
	if !ok {
		n.Fail("NO_GOAL")
		return
	}

	g := PlanGoal{Goal: &goal, PlannerID: defaultPlanner(n.store)}
	if start, ok := n.Get("start").(geom.Pose); ok {
		g.Start = &start
	}
	dispatchPlan(&n.Node, n.client, g)
}

// ComputePathThroughPoses requests a path visiting every goal pose in
// order.
type ComputePathThroughPoses struct {
	bt.Node
	client *actionlib.Client
	store  kb.Store
}

func NewComputePathThroughPoses(client *actionlib.Client, store kb.Store) *ComputePathThroughPoses {
	n := &ComputePathThroughPoses{client: client, store: store}
	n.Configure("compute_path_through_poses", bt.In("start"), bt.In("goals"), bt.Out("path"))
	return n
}

func (n *ComputePathThroughPoses) OnInit() {
	goals, ok := n.Get("goals").([]geom.Pose)
	if !ok || len(goals) == 0 {
		n.Fail("NO_GOALS")
		return
	}

	g := PlanGoal{Goals: goals, PlannerID: defaultPlanner(n.store)}
	if start, ok := n.Get("start").(geom.Pose); ok {
		g.Start = &start
	}
	dispatchPlan(&n.Node, n.client, g)
}

// PlanToPoseLoop wraps the planner in the replanning idiom: every
// interval the planner runs again, each success is rewritten to running
// so the loop never terminates on its own, and the fresh path lands in
// the shared scope for the follower to pick up.
func PlanToPoseLoop(client *actionlib.Client, store kb.Store, interval time.Duration) *bt.RateControl {
	rc := bt.NewRateControl("plan_to_pose_loop", interval,
		bt.In("start"), bt.In("goal"), bt.Out("path"))
	rc.Attach(NewComputePathToPose(client, store),
		bt.Var("start"), bt.Var("goal"), bt.Var("path"))
	rc.RegisterContingency("compute_path_to_pose",
		[]bt.NodeStatus{bt.StatusSuccess}, ".*", func() {
			rc.SetCurrentChildStatus(bt.StatusRunning)
		})
	return rc
}

// PlanThroughPosesLoop is PlanToPoseLoop for a multi-pose route.
func PlanThroughPosesLoop(client *actionlib.Client, store kb.Store, interval time.Duration) *bt.RateControl {
	rc := bt.NewRateControl("plan_through_poses_loop", interval,
		bt.In("start"), bt.In("goals"), bt.Out("path"))
	rc.Attach(NewComputePathThroughPoses(client, store),
		bt.Var("start"), bt.Var("goals"), bt.Var("path"))
	rc.RegisterContingency("compute_path_through_poses",
		[]bt.NodeStatus{bt.StatusSuccess}, ".*", func() {
			rc.SetCurrentChildStatus(bt.StatusRunning)
		})
	return rc
}
