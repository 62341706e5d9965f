package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tillerbot/tiller/internal/actionlib"
	"github.com/tillerbot/tiller/internal/api"
	"github.com/tillerbot/tiller/internal/bt"
	"github.com/tillerbot/tiller/internal/config"
	"github.com/tillerbot/tiller/internal/events"
	"github.com/tillerbot/tiller/internal/geom"
	"github.com/tillerbot/tiller/internal/kb"
	"github.com/tillerbot/tiller/internal/mqtt"
	"github.com/tillerbot/tiller/internal/nav"
	"github.com/tillerbot/tiller/internal/storage/postgres"
	"github.com/tillerbot/tiller/internal/tf"
	"github.com/tillerbot/tiller/internal/version"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "tiller",
	Short: "Behavior tree engine supervising robot navigation",
	Long: `tiller runs a tick-driven behavior tree that supervises an
asynchronous navigation stack over MQTT: it requests paths from the
planner, streams them to the controller, watches localization, and
serves an operator API for missions, events and tree inspection.`,
	RunE: runEngine,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the engine version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tiller %s\n", version.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "tiller.yaml", "Path to the engine configuration")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig falls back to the built-in defaults when the default
// config file is absent. An explicitly named file must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		def := config.Default()
		return &def, nil
	}
	return cfg, err
}

func openKB(cfg *config.Config, db *sql.DB) (kb.Store, error) {
	switch cfg.KB.Backend {
	case "", "memory":
		return kb.NewSimpleStore("")
	case "file":
		return kb.NewSimpleStore(cfg.KB.Path)
	case "postgres":
		if db == nil {
			return nil, errors.New("kb backend postgres needs a reachable database")
		}
		return kb.NewPGStore(db, cfg.KB.Table)
	default:
		return nil, fmt.Errorf("unknown kb backend: %s", cfg.KB.Backend)
	}
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	hostname, _ := os.Hostname()
	events.Emit("info", "system.startup", "engine starting", map[string]any{
		"robot":    cfg.Robot.ID,
		"hostname": hostname,
		"pid":      os.Getpid(),
		"version":  version.Version,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		events.Emit("info", "system.shutdown", "signal received", nil)
		cancel()
	}()

	// Event persistence is optional: without Postgres the engine keeps
	// the in-memory ring only.
	var db *sql.DB
	if d, err := postgres.Open(); err != nil {
		log.Printf("postgres unavailable, events stay in memory: %v", err)
		api.SetPostgresState(false, true)
	} else {
		db = d
		defer db.Close()
		store, err := postgres.NewEventStore(db, cfg.Robot.ID)
		if err != nil {
			return fmt.Errorf("event store: %w", err)
		}
		events.SetStore(store)
		api.SetPostgresState(true, true)
	}

	kbStore, err := openKB(cfg, db)
	if err != nil {
		return err
	}

	client := mqtt.NewClient(cfg.Broker.URL, cfg.Broker.ClientID)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	defer client.Disconnect()
	api.SetMQTTState(true, false)

	prefix := cfg.Broker.Prefix
	if _, err := kb.NewRelay(client, prefix+"/kb/query", kbStore); err != nil {
		return err
	}

	tfBuf := tf.NewBuffer(0)
	if err := tf.Feed(client, prefix+"/tf", tfBuf); err != nil {
		return err
	}
	odom := tf.NewSmoother(time.Second)
	if err := tf.FeedOdom(client, prefix+"/odom", odom); err != nil {
		return err
	}

	actionPrefix := prefix + "/action"
	planner, err := actionlib.NewClient(client, actionPrefix, nav.ActionComputePathToPose)
	if err != nil {
		return err
	}
	routePlanner, err := actionlib.NewClient(client, actionPrefix, nav.ActionComputePathThroughPoses)
	if err != nil {
		return err
	}
	controller, err := actionlib.NewClient(client, actionPrefix, nav.ActionFollowPath)
	if err != nil {
		return err
	}

	svcs := nav.Services{
		Planner:      planner,
		RoutePlanner: routePlanner,
		Controller:   controller,
		Store:        kbStore,
		TF:           tfBuf,
		Odom:         odom,
	}

	specs := make(map[string]mqtt.ServiceSpec, len(cfg.Services))
	for id, def := range cfg.Services {
		specs[id] = mqtt.ServiceSpecFromConfig(def.Kind, def.Required, def.Actions)
	}
	monitor := mqtt.NewServiceMonitor(specs, 2.0)
	monitor.Start(5 * time.Second)
	defer monitor.Stop()

	heartbeats := mqtt.NewHeartbeatSubscriber(client, monitor, prefix)
	err = client.Subscribe(mqtt.RegisterTopic(prefix), func(_ string, payload []byte) {
		a, err := mqtt.ParseAnnouncement(payload)
		if err != nil {
			events.Emit("warning", "system.error", "dropping malformed service announcement", map[string]any{
				"error": err.Error(),
			})
			return
		}
		if result := monitor.HandleAnnouncement(a); result.Valid {
			if err := heartbeats.SubscribeService(a.Service.ID); err != nil {
				log.Printf("heartbeat subscribe %s: %v", a.Service.ID, err)
			}
		}
	})
	if err != nil {
		return err
	}

	runner := bt.NewRunner(cfg.TickInterval(), events.Sink{})
	eng := &engine{
		cfg:     cfg,
		runner:  runner,
		svcs:    svcs,
		conn:    client,
		monitor: monitor,
		specs:   specs,
		goals:   make(chan geom.Pose, 1),
	}

	if err := api.InitAuth(); err != nil {
		return err
	}
	api.InitTLS()
	api.InitAlerts()
	api.InitMetrics()
	api.SetRobotName(cfg.Robot.Name)
	api.SetEngine(runner)
	api.SetMissionHandler(eng.accept)
	defer api.SetMissionHandler(nil)

	g, gctx := errgroup.WithContext(ctx)
	api.StartAlertMonitor(gctx, 10*time.Second)
	g.Go(func() error { return api.Serve(gctx, cfg.API.Port) })
	g.Go(func() error { eng.loop(gctx); return nil })
	g.Go(func() error { watchReadiness(gctx, monitor, specs); return nil })
	return g.Wait()
}

// watchReadiness flips the engine readiness check with the presence of
// the required navigation services.
func watchReadiness(ctx context.Context, monitor *mqtt.ServiceMonitor, specs map[string]mqtt.ServiceSpec) {
	tk := time.NewTicker(2 * time.Second)
	defer tk.Stop()
	for {
		api.SetEngineReady(len(monitor.Registry().MissingRequired(specs)) == 0)
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
		}
	}
}

// engine owns the single active tree run. One mission at a time; a
// second request while one runs is refused, so preemption stays an
// explicit operator abort.
type engine struct {
	cfg     *config.Config
	runner  *bt.Runner
	svcs    nav.Services
	conn    mqtt.Conn
	monitor *mqtt.ServiceMonitor
	specs   map[string]mqtt.ServiceSpec

	mu      sync.Mutex
	running bool
	goals   chan geom.Pose
}

// accept queues a mission goal, refusing it when one is already running
// or a required service has not advertised the actions the tree needs.
func (e *engine) accept(goal geom.Pose) error {
	registry := e.monitor.Registry()
	if missing := registry.MissingRequired(e.specs); len(missing) > 0 {
		return fmt.Errorf("required services not registered: %s", strings.Join(missing, ", "))
	}
	for id, spec := range e.specs {
		if !spec.Required {
			continue
		}
		for _, action := range spec.Actions {
			if err := registry.ValidateRequest(id, action); err != nil {
				return err
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errors.New("mission already in progress")
	}
	e.running = true
	e.goals <- goal
	return nil
}

func (e *engine) clearRunning() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

func (e *engine) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case goal := <-e.goals:
			e.run(ctx, goal)
		}
	}
}

func (e *engine) run(ctx context.Context, goal geom.Pose) {
	defer e.clearRunning()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	api.SetAbortHandler(func(string) { cancel() })
	defer api.SetAbortHandler(nil)

	root := nav.Mission(e.svcs, e.conn, e.cfg.Broker.Prefix+"/initialpose",
		e.initialPose(), goal, e.cfg.ReplanInterval(), e.cfg.LocalizationTimeout())

	st, err := e.runner.Run(runCtx, root, bt.Var("feedback"))
	if err != nil {
		log.Printf("mission aborted: status=%s err=%v", st, err)
		return
	}
	log.Printf("mission finished: status=%s message=%q", st, root.Ref().Message())
	if st == bt.StatusFailure {
		api.SendAlert(api.AlertMissionFailed, api.SeverityWarning, root.Ref().Message(), map[string]any{
			"x": goal.X, "y": goal.Y, "theta": goal.Theta,
		})
	}
}

// initialPose seeds the localization filter with the last known map
// pose, or the origin when the robot has never localized.
func (e *engine) initialPose() geom.PoseWithCovariance {
	pose := geom.Pose{}
	if tr, err := e.svcs.TF.Lookup(tf.FrameMap, tf.FrameBase); err == nil {
		pose = tr.Pose()
	}
	return geom.StampCovariance(pose,
		e.cfg.Localization.VarX, e.cfg.Localization.VarY, e.cfg.Localization.VarYaw)
}
