package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/tillerbot/tiller/internal/bt"
	"github.com/tillerbot/tiller/internal/events"
	"github.com/tillerbot/tiller/internal/geom"
)

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", resp.Status)
	}
	if resp.Service != "tiller" {
		t.Errorf("expected service 'tiller', got '%s'", resp.Service)
	}
	if resp.Version == "" {
		t.Error("expected non-empty version")
	}
}

func setReadiness(t *testing.T, engine, mqtt, mqttOpt, pg, pgOpt bool) {
	t.Helper()
	readiness.mu.Lock()
	readiness.engineReady = engine
	readiness.mqttConnected = mqtt
	readiness.mqttOptional = mqttOpt
	readiness.postgresConnected = pg
	readiness.postgresOptional = pgOpt
	readiness.mu.Unlock()
}

func TestReadyEndpoint_AllReady(t *testing.T) {
	setReadiness(t, true, true, false, true, false)

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	readyHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp ReadinessResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Ready {
		t.Error("expected ready=true")
	}
	for _, check := range []string{"engine", "mqtt", "postgres"} {
		if resp.Checks[check].Status != "ok" {
			t.Errorf("expected %s status 'ok', got '%s'", check, resp.Checks[check].Status)
		}
	}
}

func TestReadyEndpoint_EngineNotReady(t *testing.T) {
	setReadiness(t, false, true, false, true, false)

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	readyHandler(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var resp ReadinessResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Ready {
		t.Error("expected ready=false")
	}
	if resp.Checks["engine"].Status != "not_ready" {
		t.Errorf("expected engine status 'not_ready', got '%s'", resp.Checks["engine"].Status)
	}
	if resp.NotReadyMsg == "" {
		t.Error("expected non-empty message")
	}
}

func TestReadyEndpoint_OptionalPostgresUnavailable(t *testing.T) {
	setReadiness(t, true, true, false, false, true)

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	readyHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200 (optional dependency), got %d", w.Code)
	}

	var resp ReadinessResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Ready {
		t.Error("expected ready=true with optional Postgres unavailable")
	}
	if resp.Checks["postgres"].Status != "unavailable" {
		t.Errorf("expected postgres status 'unavailable', got '%s'", resp.Checks["postgres"].Status)
	}
	if !resp.Checks["postgres"].Optional {
		t.Error("expected postgres optional=true")
	}
}

func TestReadyEndpoint_RequiredMQTTNotConnected(t *testing.T) {
	setReadiness(t, true, false, false, true, false)

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	readyHandler(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var resp ReadinessResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Ready {
		t.Error("expected ready=false")
	}
	if resp.Checks["mqtt"].Status != "not_ready" {
		t.Errorf("expected mqtt status 'not_ready', got '%s'", resp.Checks["mqtt"].Status)
	}
}

func TestEventsEndpointLimit(t *testing.T) {
	events.Clear()
	for i := 0; i < 10; i++ {
		events.Emit("info", "node.status.changed", "", map[string]any{"i": i})
	}

	req := httptest.NewRequest("GET", "/events?limit=3", nil)
	w := httptest.NewRecorder()
	eventsHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var got []events.Event
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 events, got %d", len(got))
	}

	req = httptest.NewRequest("GET", "/events?limit=nope", nil)
	w = httptest.NewRecorder()
	eventsHandler(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for bad limit, got %d", w.Code)
	}
}

type fakeEngine struct {
	snap   bt.NodeSnapshot
	has    bool
	cycles uint64
}

func (f *fakeEngine) Snapshot() (bt.NodeSnapshot, bool) { return f.snap, f.has }
func (f *fakeEngine) Cycles() uint64                    { return f.cycles }

func TestTreeEndpoint(t *testing.T) {
	t.Cleanup(func() { SetEngine(nil) })

	SetEngine(&fakeEngine{
		snap:   bt.NodeSnapshot{Kind: "approach_pose", Status: bt.StatusRunning},
		has:    true,
		cycles: 42,
	})

	req := httptest.NewRequest("GET", "/tree", nil)
	w := httptest.NewRecorder()
	treeHandler(w, req)

	var resp TreeResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Running {
		t.Error("expected running=true for a running root")
	}
	if resp.Cycles != 42 {
		t.Errorf("expected 42 cycles, got %d", resp.Cycles)
	}
	if resp.Root == nil || resp.Root.Kind != "approach_pose" {
		t.Errorf("expected approach_pose root, got %+v", resp.Root)
	}
}

func TestTreeEndpointWithoutEngine(t *testing.T) {
	SetEngine(nil)

	req := httptest.NewRequest("GET", "/tree", nil)
	w := httptest.NewRecorder()
	treeHandler(w, req)

	var resp TreeResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Running || resp.Root != nil {
		t.Errorf("expected empty tree response, got %+v", resp)
	}
}

func TestOperatorAbort(t *testing.T) {
	t.Cleanup(func() { SetAbortHandler(nil) })

	var gotReason string
	SetAbortHandler(func(reason string) { gotReason = reason })

	req := httptest.NewRequest("POST", "/operator/abort", strings.NewReader(`{"reason":"estop"}`))
	w := httptest.NewRecorder()
	operatorAbortHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp OperatorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.OK {
		t.Error("expected ok=true")
	}
	if gotReason != "estop" {
		t.Errorf("expected abort reason 'estop', got '%s'", gotReason)
	}
}

func TestOperatorAbortRejectsGet(t *testing.T) {
	req := httptest.NewRequest("GET", "/operator/abort", nil)
	w := httptest.NewRecorder()
	operatorAbortHandler(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", w.Code)
	}
}

func TestOperatorAbortWithoutRun(t *testing.T) {
	SetAbortHandler(nil)

	req := httptest.NewRequest("POST", "/operator/abort", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	operatorAbortHandler(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
}

func TestOperatorMission(t *testing.T) {
	t.Cleanup(func() { SetMissionHandler(nil) })

	var gotGoal geom.Pose
	SetMissionHandler(func(goal geom.Pose) error {
		gotGoal = goal
		return nil
	})

	req := httptest.NewRequest("POST", "/operator/mission",
		strings.NewReader(`{"goal":{"x":2.5,"y":-1.0,"theta":1.57}}`))
	w := httptest.NewRecorder()
	operatorMissionHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if gotGoal.X != 2.5 || gotGoal.Y != -1.0 {
		t.Errorf("expected goal (2.5,-1.0), got %+v", gotGoal)
	}
}

func TestOperatorMissionRejectsBadJSON(t *testing.T) {
	t.Cleanup(func() { SetMissionHandler(nil) })
	SetMissionHandler(func(geom.Pose) error { return nil })

	req := httptest.NewRequest("POST", "/operator/mission", strings.NewReader(`{nope`))
	w := httptest.NewRecorder()
	operatorMissionHandler(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	InitMetrics()
	SetRobotName("mule-7")
	setReadiness(t, true, true, false, false, true)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	metricsHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		"tiller_uptime_seconds",
		"tiller_engine_active",
		"tiller_events_total",
		`robot="mule-7"`,
		"tiller_postgres_connected",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
