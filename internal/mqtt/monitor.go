package mqtt

import (
	"sync"
	"time"

	"github.com/tillerbot/tiller/internal/events"
)

// ServiceState tracks a registered service's health.
type ServiceState struct {
	ServiceID    string
	Kind         string
	LastSeen     time.Time
	HeartbeatSec int
	Online       bool
}

// ServiceMonitor tracks service registration and health.
type ServiceMonitor struct {
	mu        sync.RWMutex
	services  map[string]*ServiceState
	registry  *ServiceRegistry
	specs     map[string]ServiceSpec
	tolerance float64 // multiplier for heartbeat interval (e.g., 2.0 = 2x heartbeat)
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewServiceMonitor creates a new service monitor.
// tolerance is the multiplier for heartbeat interval before considering offline.
func NewServiceMonitor(specs map[string]ServiceSpec, tolerance float64) *ServiceMonitor {
	if tolerance <= 1.0 {
		tolerance = 2.0 // default: miss 1 heartbeat
	}
	return &ServiceMonitor{
		services:  make(map[string]*ServiceState),
		registry:  NewServiceRegistry(),
		specs:     specs,
		tolerance: tolerance,
		stopCh:    make(chan struct{}),
	}
}

// Registry returns the registry of announced services.
func (m *ServiceMonitor) Registry() *ServiceRegistry {
	return m.registry
}

// HandleAnnouncement processes a service announcement.
// Returns validation result and emits appropriate events.
func (m *ServiceMonitor) HandleAnnouncement(a *ServiceAnnouncement) *ValidationResult {
	result := ValidateAnnouncement(a, m.specs)

	m.mu.Lock()
	defer m.mu.Unlock()

	serviceID := a.Service.ID
	now := time.Now()

	if !result.Valid {
		events.Emit("error", "system.error", "service registration rejected", map[string]any{
			"service_id": serviceID,
			"errors":     result.Errors,
		})
		return result
	}

	existing := m.services[serviceID]
	isReconnect := existing != nil && !existing.Online

	m.services[serviceID] = &ServiceState{
		ServiceID:    serviceID,
		Kind:         a.Service.Kind,
		LastSeen:     now,
		HeartbeatSec: a.Service.HeartbeatSec,
		Online:       true,
	}
	m.registry.RegisterFromAnnouncement(a)

	switch {
	case existing == nil:
		events.Emit("info", "service.registered", "", map[string]any{
			"service_id": serviceID,
			"kind":       a.Service.Kind,
			"actions":    a.Actions,
		})
	case isReconnect:
		events.Emit("info", "service.online", "", map[string]any{
			"service_id": serviceID,
			"kind":       a.Service.Kind,
			"reconnect":  true,
		})
	}

	return result
}

// HandleHeartbeat refreshes a service's liveness. Returns false when the
// service never announced itself.
func (m *ServiceMonitor) HandleHeartbeat(serviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.services[serviceID]
	if !ok {
		return false
	}

	state.LastSeen = time.Now()
	if !state.Online {
		state.Online = true
		events.Emit("info", "service.online", "", map[string]any{
			"service_id": serviceID,
			"kind":       state.Kind,
			"reconnect":  true,
		})
	}
	return true
}

// Start begins the background health check loop.
func (m *ServiceMonitor) Start(checkInterval time.Duration) {
	m.wg.Add(1)
	go m.healthCheckLoop(checkInterval)
}

// Stop stops the background health check loop.
func (m *ServiceMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *ServiceMonitor) healthCheckLoop(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkHealth()
		}
	}
}

func (m *ServiceMonitor) checkHealth() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	for serviceID, state := range m.services {
		if !state.Online {
			continue
		}

		// Calculate timeout: heartbeat * tolerance
		timeout := time.Duration(float64(state.HeartbeatSec)*m.tolerance) * time.Second
		if now.Sub(state.LastSeen) > timeout {
			state.Online = false

			events.Emit("warning", "service.offline", "heartbeat timeout", map[string]any{
				"service_id":  serviceID,
				"kind":        state.Kind,
				"last_seen":   state.LastSeen.Format(time.RFC3339),
				"timeout_sec": timeout.Seconds(),
			})
		}
	}
}

// GetServiceState returns the state of a service (for testing/inspection).
func (m *ServiceMonitor) GetServiceState(serviceID string) *ServiceState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if state, ok := m.services[serviceID]; ok {
		// Return a copy
		cpy := *state
		return &cpy
	}
	return nil
}

// OnlineServices returns a list of currently online service IDs.
func (m *ServiceMonitor) OnlineServices() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, state := range m.services {
		if state.Online {
			ids = append(ids, id)
		}
	}
	return ids
}
