package nav

import (
	"time"

	"github.com/tillerbot/tiller/internal/bt"
	"github.com/tillerbot/tiller/internal/geom"
	"github.com/tillerbot/tiller/internal/tf"
)

// DefaultCurrentPoseTimeout bounds the wait for a usable map to base
// transform.
const DefaultCurrentPoseTimeout = 3 * time.Second

// CurrentPose resolves the robot's pose in the map frame and writes it
// to the pose slot.
type CurrentPose struct {
	bt.Node
	tf *tf.Buffer
}

func NewCurrentPose(buffer *tf.Buffer) *CurrentPose {
	n := &CurrentPose{tf: buffer}
	n.Configure("current_pose", bt.Out("pose"))
	n.SetTimeout(DefaultCurrentPoseTimeout)
	return n
}

func (n *CurrentPose) OnInit() {
	n.StartPoll(bt.DefaultPollInterval, func(c bt.Completion) bool {
		tr, err := n.tf.Lookup(tf.FrameMap, tf.FrameBase)
		if err != nil {
			return false
		}
		c.Set("pose", tr.Pose())
		return true
	})
	n.Suspend()
}

func (n *CurrentPose) OnTimeout() {
	n.StopPoll()
	n.Fail("CURRENT_POSE_NOT_AVAILABLE")
}

// PoseWithCovariance stamps a plain pose with a diagonal covariance
// built from the variance inputs.
type PoseWithCovariance struct {
	bt.Node
}

func NewPoseWithCovariance() *PoseWithCovariance {
	n := &PoseWithCovariance{}
	n.Configure("pose_with_covariance",
		bt.In("pose"), bt.In("var_x"), bt.In("var_y"), bt.In("var_yaw"),
		bt.Out("stamped"))
	return n
}

func (n *PoseWithCovariance) OnTick() {
	pose, ok := n.Get("pose").(geom.Pose)
	if !ok {
		n.Fail("NO_POSE")
		return
	}
	n.Set("stamped", geom.StampCovariance(pose,
		asFloat(n.Get("var_x")), asFloat(n.Get("var_y")), asFloat(n.Get("var_yaw"))))
	n.Succeed()
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	}
	return 0
}
