package nav

import (
	"github.com/tillerbot/tiller/internal/actionlib"
	"github.com/tillerbot/tiller/internal/bt"
	"github.com/tillerbot/tiller/internal/geom"
)

// FollowPath streams the freshest planned path to the controller. The
// node stays running so every cycle can compare the path slot against
// what the controller was last given; a changed path preempts the
// outstanding goal and issues a new one. The node succeeds when the
// controller reports the end of the path was reached.
type FollowPath struct {
	bt.Node
	client  *actionlib.Client
	current *geom.Path
	handle  *actionlib.GoalHandle
}

func NewFollowPath(client *actionlib.Client) *FollowPath {
	n := &FollowPath{client: client}
	n.Configure("follow_path", bt.In("path"))
	return n
}

func (n *FollowPath) OnInit() {
	n.current = nil
	n.handle = nil
}

func (n *FollowPath) OnTick() {
	p, _ := n.Get("path").(*geom.Path)
	if p == nil || p.Equal(n.current) {
		return
	}

	// Preempt the stale goal before issuing the fresh one.
	if n.handle != nil {
		n.handle.Cancel()
		n.handle.Forget()
	}
	n.current = p

	c := n.Completion()
	h, err := n.client.SendGoal(FollowGoal{Path: p}, func(res actionlib.Result) {
		switch res.Status {
		case actionlib.StatusSucceeded:
			c.Succeed()
		case actionlib.StatusAborted:
			c.Fail("FOLLOW_PATH_ABORTED")
		}
	})
	if err != nil {
		n.Fail("CONTROLLER_UNAVAILABLE")
		return
	}
	n.handle = h
	n.TrackRequest(func() {
		h.Cancel()
		h.Forget()
	})
}
