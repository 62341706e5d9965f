package nav

import (
	"time"

	"github.com/tillerbot/tiller/internal/bt"
	"github.com/tillerbot/tiller/internal/geom"
	"github.com/tillerbot/tiller/internal/tf"
)

// ApproachFeedback publishes progress for a running approach: current
// pose, remaining path length and a speed-based time estimate. It never
// terminates on its own; the surrounding parallel decides when the
// approach is over.
type ApproachFeedback struct {
	bt.Node
	tf    *tf.Buffer
	odom  *tf.Smoother
	start time.Time
}

func NewApproachFeedback(buffer *tf.Buffer, odom *tf.Smoother) *ApproachFeedback {
	n := &ApproachFeedback{tf: buffer, odom: odom}
	n.Configure("approach_feedback", bt.In("path"), bt.Out("feedback"))
	return n
}

func (n *ApproachFeedback) OnInit() {
	n.start = time.Now()
}

func (n *ApproachFeedback) OnTick() {
	p, _ := n.Get("path").(*geom.Path)
	if p == nil {
		return
	}
	tr, err := n.tf.Lookup(tf.FrameMap, tf.FrameBase)
	if err != nil {
		return
	}

	cur := tr.Pose()
	remaining := p.RemainingLength(cur)

	var eta float64
	if speed := n.odom.Twist().Speed(); speed > 0.01 {
		eta = remaining / speed
	}

	n.Set("feedback", &Feedback{
		CurrentPose:         cur,
		RemainingPathLength: remaining,
		NavigationTime:      time.Since(n.start).Seconds(),
		EstimatedRemaining:  eta,
	})
}
