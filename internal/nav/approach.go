package nav

import (
	"time"

	"github.com/tillerbot/tiller/internal/actionlib"
	"github.com/tillerbot/tiller/internal/bt"
	"github.com/tillerbot/tiller/internal/geom"
	"github.com/tillerbot/tiller/internal/kb"
	"github.com/tillerbot/tiller/internal/mqtt"
	"github.com/tillerbot/tiller/internal/tf"
)

// DefaultReplanInterval paces the replanning loop inside an approach.
const DefaultReplanInterval = time.Second

// Services bundles everything the navigation nodes talk to.
type Services struct {
	Planner      *actionlib.Client
	RoutePlanner *actionlib.Client
	Controller   *actionlib.Client
	Store        kb.Store
	TF           *tf.Buffer
	Odom         *tf.Smoother
}

// ApproachPose drives the robot to one goal pose: a replanning loop, a
// path follower and a feedback reporter run in parallel, and the first
// success, which can only come from the follower, finishes the
// approach.
func ApproachPose(s Services, replan time.Duration) *bt.Parallel {
	if replan <= 0 {
		replan = DefaultReplanInterval
	}
	par := bt.NewParallel("approach_pose", 1, bt.In("goal"), bt.Out("feedback"))
	par.Attach(PlanToPoseLoop(s.Planner, s.Store, replan),
		bt.Val(nil), bt.Var("goal"), bt.Var("path"))
	par.Attach(NewFollowPath(s.Controller), bt.Var("path"))
	par.Attach(NewApproachFeedback(s.TF, s.Odom), bt.Var("path"), bt.Var("feedback"))
	return par
}

// ApproachThroughPoses is ApproachPose for a route visiting several
// poses in order.
func ApproachThroughPoses(s Services, replan time.Duration) *bt.Parallel {
	if replan <= 0 {
		replan = DefaultReplanInterval
	}
	par := bt.NewParallel("approach_through_poses", 1, bt.In("goals"), bt.Out("feedback"))
	par.Attach(PlanThroughPosesLoop(s.RoutePlanner, s.Store, replan),
		bt.Val(nil), bt.Var("goals"), bt.Var("path"))
	par.Attach(NewFollowPath(s.Controller), bt.Var("path"))
	par.Attach(NewApproachFeedback(s.TF, s.Odom), bt.Var("path"), bt.Var("feedback"))
	return par
}

// Mission is the full delivery run: announce the initial pose, wait for
// the localization filter to pick it up, then approach the goal. A
// non-positive locTimeout keeps the wait node's default deadline.
func Mission(s Services, conn mqtt.Conn, initTopic string, initial geom.PoseWithCovariance, goal geom.Pose, replan, locTimeout time.Duration) *bt.Sequence {
	wait := NewWaitForLocalization(s.TF)
	if locTimeout > 0 {
		wait.SetTimeout(locTimeout)
	}

	seq := bt.NewSequence("navigate_mission", bt.Out("feedback"))
	seq.Attach(NewInitPose(conn, initTopic), bt.Val(initial))
	seq.Attach(wait, bt.Val(initial))
	seq.Attach(ApproachPose(s, replan), bt.Val(goal), bt.Var("feedback"))
	return seq
}
