package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tillerbot/tiller/internal/actionlib"
	"github.com/tillerbot/tiller/internal/geom"
	"github.com/tillerbot/tiller/internal/mqtt"
	"github.com/tillerbot/tiller/internal/nav"
	"github.com/tillerbot/tiller/internal/tf"
	"github.com/tillerbot/tiller/internal/version"
)

var (
	brokerURL    string
	clientID     string
	prefix       string
	planStep     float64
	driveTickMs  int
	heartbeatSec int
)

var rootCmd = &cobra.Command{
	Use:   "navsim",
	Short: "Simulated navigation stack for the tiller engine",
	Long: `navsim stands in for the robot's navigation stack during
development: it serves the planner and controller actions with
straight-line kinematics, publishes transforms and odometry for the
simulated base, and announces its services to the engine.`,
	RunE: runSim,
}

func init() {
	rootCmd.Flags().StringVar(&brokerURL, "broker", "", "MQTT broker URL (default from MQTT_URL)")
	rootCmd.Flags().StringVar(&clientID, "client-id", "navsim", "MQTT client ID")
	rootCmd.Flags().StringVar(&prefix, "prefix", "tiller", "Topic prefix shared with the engine")
	rootCmd.Flags().Float64Var(&planStep, "plan-step", 0.1, "Path discretization in meters")
	rootCmd.Flags().IntVar(&driveTickMs, "drive-tick-ms", 50, "Milliseconds per simulated drive step")
	rootCmd.Flags().IntVar(&heartbeatSec, "heartbeat-sec", 5, "Seconds between service heartbeats")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// sim holds the simulated base pose. The controller moves it, the
// localizer snaps it to operator initial poses, and the state publisher
// reads it.
type sim struct {
	mu   sync.Mutex
	pose geom.Pose
	step float64
	tick time.Duration
}

func (s *sim) Pose() geom.Pose {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pose
}

func (s *sim) setPose(p geom.Pose) {
	s.mu.Lock()
	s.pose = p
	s.mu.Unlock()
}

// plan answers both planner actions with straight segments between the
// waypoints, starting from the request's start pose or the simulated
// base.
func (s *sim) plan(req *actionlib.GoalRequest) {
	var goal nav.PlanGoal
	if err := req.Decode(&goal); err != nil {
		req.Abort()
		return
	}

	waypoints := goal.Goals
	if goal.Goal != nil {
		waypoints = []geom.Pose{*goal.Goal}
	}
	if len(waypoints) == 0 {
		req.Abort()
		return
	}

	from := s.Pose()
	if goal.Start != nil {
		from = *goal.Start
	}

	path := &geom.Path{Frame: tf.FrameMap}
	for _, wp := range waypoints {
		seg := geom.Line(from, wp, s.step)
		if len(path.Poses) > 0 && len(seg.Poses) > 0 && path.Poses[len(path.Poses)-1] == seg.Poses[0] {
			seg.Poses = seg.Poses[1:]
		}
		path.Poses = append(path.Poses, seg.Poses...)
		from = wp
	}

	req.Succeed(nav.PlanResult{Path: path})
}

// follow walks the base along the path one pose per drive tick until
// the end or a cancel from a fresher path.
func (s *sim) follow(req *actionlib.GoalRequest) {
	var goal nav.FollowGoal
	if err := req.Decode(&goal); err != nil || goal.Path == nil || len(goal.Path.Poses) == 0 {
		req.Abort()
		return
	}

	tk := time.NewTicker(s.tick)
	defer tk.Stop()

	for _, p := range goal.Path.Poses {
		select {
		case <-req.Canceled():
			req.AckCancel()
			return
		case <-tk.C:
			s.setPose(p)
		}
	}
	req.Succeed(nil)
}

// publishState streams the map to base transform and a smoothed twist
// derived from successive poses.
func (s *sim) publishState(ctx context.Context, conn mqtt.Conn, period time.Duration) error {
	tk := time.NewTicker(period)
	defer tk.Stop()

	prev := s.Pose()
	prevAt := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-tk.C:
			p := s.Pose()

			tr, err := json.Marshal(tf.Transform{
				Target: tf.FrameMap,
				Source: tf.FrameBase,
				X:      p.X,
				Y:      p.Y,
				Theta:  p.Theta,
				Stamp:  now,
			})
			if err == nil {
				if err := conn.Publish(prefix+"/tf", tr); err != nil {
					log.Printf("publish tf: %v", err)
				}
			}

			dt := now.Sub(prevAt).Seconds()
			var twist geom.Twist
			if dt > 0 {
				twist = geom.Twist{VX: (p.X - prev.X) / dt, VY: (p.Y - prev.Y) / dt, WZ: (p.Theta - prev.Theta) / dt}
			}
			if tw, err := json.Marshal(twist); err == nil {
				if err := conn.Publish(prefix+"/odom", tw); err != nil {
					log.Printf("publish odom: %v", err)
				}
			}

			prev, prevAt = p, now
		}
	}
}

type simService struct {
	id      string
	kind    string
	actions []string
}

var services = []simService{
	{"planner", "planner", []string{nav.ActionComputePathToPose, nav.ActionComputePathThroughPoses}},
	{"controller", "controller", []string{nav.ActionFollowPath}},
	{"localizer", "localizer", nil},
}

// announceLoop registers the simulated services and keeps their
// heartbeats flowing. Announcements repeat so an engine started later
// still discovers the stack.
func announceLoop(ctx context.Context, conn mqtt.Conn, start time.Time) error {
	announce := func() {
		for _, svc := range services {
			b, err := json.Marshal(mqtt.ServiceAnnouncement{
				Version: 1,
				Service: mqtt.ServiceInfo{
					ID:           svc.id,
					Kind:         svc.kind,
					Version:      version.Version,
					UptimeMS:     time.Since(start).Milliseconds(),
					HeartbeatSec: heartbeatSec,
				},
				Actions: svc.actions,
			})
			if err != nil {
				continue
			}
			if err := conn.Publish(mqtt.RegisterTopic(prefix), b); err != nil {
				log.Printf("announce %s: %v", svc.id, err)
			}
		}
	}

	heartbeat := func() {
		b, err := json.Marshal(map[string]any{"uptime_ms": time.Since(start).Milliseconds()})
		if err != nil {
			return
		}
		for _, svc := range services {
			if err := conn.Publish(mqtt.HeartbeatTopic(prefix, svc.id), b); err != nil {
				log.Printf("heartbeat %s: %v", svc.id, err)
			}
		}
	}

	announce()
	heartbeat()

	announceTk := time.NewTicker(30 * time.Second)
	defer announceTk.Stop()
	hbTk := time.NewTicker(time.Duration(heartbeatSec) * time.Second)
	defer hbTk.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-announceTk.C:
			announce()
		case <-hbTk.C:
			heartbeat()
		}
	}
}

func runSim(cmd *cobra.Command, args []string) error {
	start := time.Now()

	client := mqtt.NewClient(brokerURL, clientID)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	defer client.Disconnect()

	s := &sim{
		step: planStep,
		tick: time.Duration(driveTickMs) * time.Millisecond,
	}

	// The simulated localizer trusts operator initial poses outright.
	err := client.Subscribe(prefix+"/initialpose", func(_ string, payload []byte) {
		var pc geom.PoseWithCovariance
		if err := json.Unmarshal(payload, &pc); err != nil {
			log.Printf("dropping malformed initial pose: %v", err)
			return
		}
		s.setPose(pc.Pose)
	})
	if err != nil {
		return err
	}

	actionPrefix := prefix + "/action"
	servers := make([]*actionlib.Server, 0, 3)
	for action, handler := range map[string]actionlib.HandlerFunc{
		nav.ActionComputePathToPose:       s.plan,
		nav.ActionComputePathThroughPoses: s.plan,
		nav.ActionFollowPath:              s.follow,
	} {
		srv, err := actionlib.NewServer(client, actionPrefix, action, handler)
		if err != nil {
			return err
		}
		servers = append(servers, srv)
	}
	defer func() {
		for _, srv := range servers {
			srv.Drain()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	log.Printf("navsim %s serving %d actions on %s/*", version.Version, len(servers), actionPrefix)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.publishState(gctx, client, 50*time.Millisecond) })
	g.Go(func() error { return announceLoop(gctx, client, start) })
	return g.Wait()
}
