package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tillerbot/tiller/internal/bt"
	"github.com/tillerbot/tiller/internal/events"
	"github.com/tillerbot/tiller/internal/geom"
	"github.com/tillerbot/tiller/internal/version"
)

// Engine is the view of the tree runner the API serves.
type Engine interface {
	Snapshot() (bt.NodeSnapshot, bool)
	Cycles() uint64
}

var (
	engineMu  sync.RWMutex
	engine    Engine
	abortFn   func(reason string)
	missionFn func(goal geom.Pose) error
)

// SetEngine exposes the runner behind /tree and /metrics.
func SetEngine(e Engine) {
	engineMu.Lock()
	engine = e
	engineMu.Unlock()
}

// SetAbortHandler installs the operator abort hook.
func SetAbortHandler(fn func(reason string)) {
	engineMu.Lock()
	abortFn = fn
	engineMu.Unlock()
}

// SetMissionHandler installs the operator mission hook.
func SetMissionHandler(fn func(goal geom.Pose) error) {
	engineMu.Lock()
	missionFn = fn
	engineMu.Unlock()
}

func currentEngine() Engine {
	engineMu.RLock()
	defer engineMu.RUnlock()
	return engine
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Hostname  string `json:"hostname"`
	Version   string `json:"version"`
	Timestamp string `json:"ts"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	resp := HealthResponse{
		Status:    "ok",
		Service:   "tiller",
		Hostname:  host,
		Version:   version.Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// ReadinessState tracks the dependencies the engine needs before it can
// accept missions.
type ReadinessState struct {
	mu                sync.RWMutex
	engineReady       bool
	mqttConnected     bool
	mqttOptional      bool
	postgresConnected bool
	postgresOptional  bool
}

var readiness = &ReadinessState{}

// SetEngineReady marks the tree runner as wired and ticking.
func SetEngineReady(ready bool) {
	readiness.mu.Lock()
	readiness.engineReady = ready
	readiness.mu.Unlock()
}

// SetMQTTState records broker connectivity. Optional marks the broker
// as non-blocking for readiness.
func SetMQTTState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.mqttConnected = connected
	readiness.mqttOptional = optional
	readiness.mu.Unlock()
}

// SetPostgresState records database connectivity. Optional marks the
// database as non-blocking for readiness.
func SetPostgresState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.postgresConnected = connected
	readiness.postgresOptional = optional
	readiness.mu.Unlock()
}

type CheckResult struct {
	Status   string `json:"status"`
	Optional bool   `json:"optional,omitempty"`
}

type ReadinessResponse struct {
	Ready       bool                   `json:"ready"`
	Checks      map[string]CheckResult `json:"checks"`
	NotReadyMsg string                 `json:"message,omitempty"`
}

func readyHandler(w http.ResponseWriter, r *http.Request) {
	readiness.mu.RLock()
	engineReady := readiness.engineReady
	mqttConnected := readiness.mqttConnected
	mqttOptional := readiness.mqttOptional
	postgresConnected := readiness.postgresConnected
	postgresOptional := readiness.postgresOptional
	readiness.mu.RUnlock()

	resp := ReadinessResponse{Ready: true, Checks: map[string]CheckResult{}}
	var reasons []string

	if engineReady {
		resp.Checks["engine"] = CheckResult{Status: "ok"}
	} else {
		resp.Checks["engine"] = CheckResult{Status: "not_ready"}
		resp.Ready = false
		reasons = append(reasons, "engine not ready")
	}

	switch {
	case mqttConnected:
		resp.Checks["mqtt"] = CheckResult{Status: "ok", Optional: mqttOptional}
	case mqttOptional:
		resp.Checks["mqtt"] = CheckResult{Status: "unavailable", Optional: true}
	default:
		resp.Checks["mqtt"] = CheckResult{Status: "not_ready"}
		resp.Ready = false
		reasons = append(reasons, "mqtt not connected")
	}

	switch {
	case postgresConnected:
		resp.Checks["postgres"] = CheckResult{Status: "ok", Optional: postgresOptional}
	case postgresOptional:
		resp.Checks["postgres"] = CheckResult{Status: "unavailable", Optional: true}
	default:
		resp.Checks["postgres"] = CheckResult{Status: "not_ready"}
		resp.Ready = false
		reasons = append(reasons, "postgres not connected")
	}

	if !resp.Ready {
		resp.NotReadyMsg = strings.Join(reasons, "; ")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func eventsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(OperatorResponse{OK: false, Error: "invalid limit"})
			return
		}
		_ = json.NewEncoder(w).Encode(events.RecentEvents(n))
		return
	}
	_ = json.NewEncoder(w).Encode(events.Snapshot())
}

type TreeResponse struct {
	Running bool             `json:"running"`
	Cycles  uint64           `json:"cycles"`
	Root    *bt.NodeSnapshot `json:"root,omitempty"`
}

func treeHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	e := currentEngine()
	if e == nil {
		_ = json.NewEncoder(w).Encode(TreeResponse{})
		return
	}

	resp := TreeResponse{Cycles: e.Cycles()}
	if snap, ok := e.Snapshot(); ok {
		resp.Root = &snap
		resp.Running = !snap.Status.Terminal()
	}
	_ = json.NewEncoder(w).Encode(resp)
}

type OperatorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type AbortRequest struct {
	Reason string `json:"reason"`
}

func operatorAbortHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		_ = json.NewEncoder(w).Encode(OperatorResponse{OK: false, Error: "method not allowed"})
		return
	}

	var req AbortRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(OperatorResponse{OK: false, Error: "invalid JSON"})
		return
	}
	if req.Reason == "" {
		req.Reason = "operator abort"
	}

	engineMu.RLock()
	fn := abortFn
	engineMu.RUnlock()
	if fn == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(OperatorResponse{OK: false, Error: "no run in progress"})
		return
	}

	events.Emit("warning", "operator.abort", req.Reason, nil)
	fn(req.Reason)
	_ = json.NewEncoder(w).Encode(OperatorResponse{OK: true})
}

type MissionRequest struct {
	Goal geom.Pose `json:"goal"`
}

func operatorMissionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		_ = json.NewEncoder(w).Encode(OperatorResponse{OK: false, Error: "method not allowed"})
		return
	}

	var req MissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(OperatorResponse{OK: false, Error: "invalid JSON"})
		return
	}

	engineMu.RLock()
	fn := missionFn
	engineMu.RUnlock()
	if fn == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(OperatorResponse{OK: false, Error: "engine not accepting missions"})
		return
	}

	events.Emit("info", "operator.mission", "", map[string]any{
		"x": req.Goal.X, "y": req.Goal.Y, "theta": req.Goal.Theta,
	})
	if err := fn(req.Goal); err != nil {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(OperatorResponse{OK: false, Error: err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(OperatorResponse{OK: true})
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler)
	mux.HandleFunc("/events", eventsHandler)
	mux.HandleFunc("/tree", treeHandler)
	mux.HandleFunc("/metrics", metricsHandler)
	mux.HandleFunc("/operator/abort", RequireAnyRole(operatorAbortHandler))
	mux.HandleFunc("/operator/mission", RequireAnyRole(operatorMissionHandler))
	mux.HandleFunc("/ws/events", wsEventsHandler)
	return mux
}

// Serve runs the API server on the given port until ctx is canceled,
// then shuts it down gracefully. With a TLS key pair configured the
// server speaks HTTPS, otherwise plain HTTP.
func Serve(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: newMux(),
	}

	errc := make(chan error, 1)
	if tlsCfg := LoadTLSConfig(); tlsCfg != nil {
		srv.TLSConfig = tlsCfg
		go func() { errc <- srv.ListenAndServeTLS("", "") }()
		log.Printf("api listening on %s (tls)", srv.Addr)
	} else {
		go func() { errc <- srv.ListenAndServe() }()
		log.Printf("api listening on %s", srv.Addr)
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errc
		return nil
	}
}
