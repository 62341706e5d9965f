package nav

import (
	"math"
	"time"

	"github.com/tillerbot/tiller/internal/bt"
	"github.com/tillerbot/tiller/internal/geom"
	"github.com/tillerbot/tiller/internal/tf"
)

// DefaultLocalizationTimeout bounds how long the filter gets to
// converge on the published initial pose.
const DefaultLocalizationTimeout = 5 * time.Second

// WaitForLocalization polls the transform buffer until the map to base
// transform lands within one standard deviation of the initial pose
// estimate on both axes.
type WaitForLocalization struct {
	bt.Node
	tf *tf.Buffer
}

func NewWaitForLocalization(buffer *tf.Buffer) *WaitForLocalization {
	n := &WaitForLocalization{tf: buffer}
	n.Configure("wait_for_localization", bt.In("pose"))
	n.SetTimeout(DefaultLocalizationTimeout)
	return n
}

func (n *WaitForLocalization) OnInit() {
	target, ok := n.Get("pose").(geom.PoseWithCovariance)
	if !ok {
		n.Fail("NO_INITIAL_POSE")
		return
	}

	boundX := math.Sqrt(target.VarX())
	boundY := math.Sqrt(target.VarY())
	n.StartPoll(bt.DefaultPollInterval, func(bt.Completion) bool {
		tr, err := n.tf.Lookup(tf.FrameMap, tf.FrameBase)
		if err != nil {
			return false
		}
		return math.Abs(tr.X-target.Pose.X) <= boundX &&
			math.Abs(tr.Y-target.Pose.Y) <= boundY
	})
	n.Suspend()
}

func (n *WaitForLocalization) OnTimeout() {
	n.StopPoll()
	n.Fail("NOT_LOCALIZED")
}
