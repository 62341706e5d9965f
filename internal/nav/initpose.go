package nav

import (
	json "github.com/goccy/go-json"

	"github.com/tillerbot/tiller/internal/bt"
	"github.com/tillerbot/tiller/internal/geom"
	"github.com/tillerbot/tiller/internal/mqtt"
)

// InitPose publishes the operator's initial pose estimate for the
// localization filter and succeeds in the same cycle.
type InitPose struct {
	bt.Node
	conn  mqtt.Conn
	topic string
}

func NewInitPose(conn mqtt.Conn, topic string) *InitPose {
	n := &InitPose{conn: conn, topic: topic}
	n.Configure("init_pose", bt.In("pose"))
	return n
}

func (n *InitPose) OnTick() {
	pose, ok := n.Get("pose").(geom.PoseWithCovariance)
	if !ok {
		n.Fail("NO_INITIAL_POSE")
		return
	}

	b, err := json.Marshal(pose)
	if err != nil {
		n.Fail("INITIAL_POSE_ENCODE_FAILED")
		return
	}
	if err := n.conn.Publish(n.topic, b); err != nil {
		n.Fail("INITIAL_POSE_PUBLISH_FAILED")
		return
	}
	n.Succeed()
}
