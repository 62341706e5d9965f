package api

import (
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/tillerbot/tiller/internal/events"
	"github.com/tillerbot/tiller/internal/version"
)

var metricsState = &MetricsState{}

// MetricsState holds runtime metrics for the /metrics endpoint.
type MetricsState struct {
	mu        sync.RWMutex
	startTime time.Time
	robotName string
}

// InitMetrics initializes the metrics system. Must be called at startup.
func InitMetrics() {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.startTime = time.Now()
}

// SetRobotName sets the robot name for metrics labels.
func SetRobotName(name string) {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.robotName = name
}

// metricsHandler returns Prometheus-compatible metrics in text format.
func metricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	metricsState.mu.RLock()
	startTime := metricsState.startTime
	robotName := metricsState.robotName
	metricsState.mu.RUnlock()

	readiness.mu.RLock()
	engineReady := readiness.engineReady
	mqttConnected := readiness.mqttConnected
	postgresConnected := readiness.postgresConnected
	readiness.mu.RUnlock()

	uptime := time.Since(startTime).Seconds()
	eventsTotal := events.TotalCount()
	wsClients := events.SubscriberCount()

	engineActive := 0
	if engineReady {
		engineActive = 1
	}
	mqttConnectedVal := 0
	if mqttConnected {
		mqttConnectedVal = 1
	}
	postgresConnectedVal := 0
	if postgresConnected {
		postgresConnectedVal = 1
	}

	var cycles uint64
	if e := currentEngine(); e != nil {
		cycles = e.Cycles()
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	writeMetric := func(name, mtype, help string, value any, labels string) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		if labels != "" {
			fmt.Fprintf(w, "%s{%s} %v\n", name, labels, value)
		} else {
			fmt.Fprintf(w, "%s %v\n", name, value)
		}
	}

	labels := fmt.Sprintf(`robot="%s",instance="%s",version="%s"`, robotName, hostname, version.Version)

	writeMetric("tiller_uptime_seconds", "gauge",
		"Number of seconds since the engine started", uptime, labels)

	writeMetric("tiller_engine_active", "gauge",
		"Whether the tree runner is wired and ticking (1) or not (0)", engineActive, labels)

	writeMetric("tiller_engine_cycles_total", "counter",
		"Engine cycles completed by the current tree run", cycles, labels)

	writeMetric("tiller_events_total", "counter",
		"Total number of events emitted since startup", eventsTotal, labels)

	writeMetric("tiller_mqtt_connected", "gauge",
		"Whether the MQTT broker is connected (1) or not (0)", mqttConnectedVal, labels)

	writeMetric("tiller_postgres_connected", "gauge",
		"Whether PostgreSQL is connected (1) or not (0)", postgresConnectedVal, labels)

	writeMetric("tiller_ws_clients", "gauge",
		"Number of active WebSocket client connections", wsClients, labels)
}
