package nav

import (
	"context"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tillerbot/tiller/internal/bt"
	"github.com/tillerbot/tiller/internal/events"
	"github.com/tillerbot/tiller/internal/geom"
	"github.com/tillerbot/tiller/internal/mqtt"
	"github.com/tillerbot/tiller/internal/tf"
)

func testRunner() *bt.Runner {
	return bt.NewRunner(10*time.Millisecond, events.Sink{})
}

func stamped(x, y, theta float64) geom.PoseWithCovariance {
	return geom.StampCovariance(geom.Pose{X: x, Y: y, Theta: theta}, 0.25, 0.25, 0.0685)
}

func TestInitPosePublishes(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := mqtt.NewBus()
	got := make(chan geom.PoseWithCovariance, 1)
	require.NoError(t, bus.Subscribe("tiller/initialpose", func(_ string, payload []byte) {
		var pc geom.PoseWithCovariance
		if err := json.Unmarshal(payload, &pc); err != nil {
			t.Errorf("bad initialpose payload: %v", err)
			return
		}
		got <- pc
	}))

	initial := stamped(1.5, -2.0, 0.5)
	st, err := testRunner().Run(context.Background(), NewInitPose(bus, "tiller/initialpose"), bt.Val(initial))
	require.NoError(t, err)
	assert.Equal(t, bt.StatusSuccess, st)

	bus.Drain()
	select {
	case pc := <-got:
		assert.Equal(t, initial.Pose, pc.Pose)
		assert.Equal(t, initial.VarX(), pc.VarX())
	default:
		t.Fatal("initial pose never published")
	}
}

func TestInitPoseWithoutPoseFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := mqtt.NewBus()
	node := NewInitPose(bus, "tiller/initialpose")
	st, err := testRunner().Run(context.Background(), node, bt.Val(nil))
	require.NoError(t, err)
	assert.Equal(t, bt.StatusFailure, st)
	assert.Equal(t, "NO_INITIAL_POSE", node.Message())
	bus.Drain()
}

func TestWaitForLocalizationConverges(t *testing.T) {
	defer goleak.VerifyNone(t)

	buffer := tf.NewBuffer(0)
	initial := stamped(2.0, 3.0, 0)

	// The filter "converges" shortly after the run starts.
	timer := time.AfterFunc(120*time.Millisecond, func() {
		buffer.Set(tf.Transform{Target: tf.FrameMap, Source: tf.FrameBase, X: 2.1, Y: 3.05})
	})
	defer timer.Stop()

	node := NewWaitForLocalization(buffer)
	st, err := testRunner().Run(context.Background(), node, bt.Val(initial))
	require.NoError(t, err)
	assert.Equal(t, bt.StatusSuccess, st)
}

func TestWaitForLocalizationTimesOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	buffer := tf.NewBuffer(0)
	buffer.Set(tf.Transform{Target: tf.FrameMap, Source: tf.FrameBase, X: 50, Y: 50})

	node := NewWaitForLocalization(buffer)
	node.SetTimeout(250 * time.Millisecond)

	st, err := testRunner().Run(context.Background(), node, bt.Val(stamped(0, 0, 0)))
	require.NoError(t, err)
	assert.Equal(t, bt.StatusFailure, st)
	assert.Equal(t, "NOT_LOCALIZED", node.Message())
}

func TestCurrentPoseResolvesTransform(t *testing.T) {
	defer goleak.VerifyNone(t)

	buffer := tf.NewBuffer(0)
	buffer.Set(tf.Transform{Target: tf.FrameMap, Source: tf.FrameBase, X: 4, Y: -1, Theta: 1.2})

	r := testRunner()
	st, err := r.Run(context.Background(), NewCurrentPose(buffer), bt.Var("pose"))
	require.NoError(t, err)
	assert.Equal(t, bt.StatusSuccess, st)

	pose, ok := r.Var("pose").(geom.Pose)
	require.True(t, ok, "pose missing from scope: %v", r.Var("pose"))
	assert.Equal(t, geom.Pose{X: 4, Y: -1, Theta: 1.2}, pose)
}

func TestCurrentPoseTimesOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	node := NewCurrentPose(tf.NewBuffer(0))
	node.SetTimeout(250 * time.Millisecond)

	st, err := testRunner().Run(context.Background(), node, bt.Var("pose"))
	require.NoError(t, err)
	assert.Equal(t, bt.StatusFailure, st)
	assert.Equal(t, "CURRENT_POSE_NOT_AVAILABLE", node.Message())
}

func TestPoseWithCovarianceStampsDiagonal(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := testRunner()
	st, err := r.Run(context.Background(), NewPoseWithCovariance(),
		bt.Val(geom.Pose{X: 1, Y: 2, Theta: 0.3}),
		bt.Val(0.5), bt.Val(0.5), bt.Val(0.1),
		bt.Var("stamped"))
	require.NoError(t, err)
	assert.Equal(t, bt.StatusSuccess, st)

	pc, ok := r.Var("stamped").(geom.PoseWithCovariance)
	require.True(t, ok)
	assert.Equal(t, 0.5, pc.VarX())
	assert.Equal(t, 0.5, pc.VarY())
	assert.Equal(t, 0.1, pc.VarYaw())
	assert.Equal(t, geom.Pose{X: 1, Y: 2, Theta: 0.3}, pc.Pose)
}

func TestPoseWithCovarianceRejectsMissingPose(t *testing.T) {
	defer goleak.VerifyNone(t)

	node := NewPoseWithCovariance()
	st, err := testRunner().Run(context.Background(), node,
		bt.Val(nil), bt.Val(0.5), bt.Val(0.5), bt.Val(0.1), bt.Var("stamped"))
	require.NoError(t, err)
	assert.Equal(t, bt.StatusFailure, st)
	assert.Equal(t, "NO_POSE", node.Message())
}
