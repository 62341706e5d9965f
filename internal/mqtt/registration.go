package mqtt

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// RegisterTopic is where navigation services announce themselves.
func RegisterTopic(prefix string) string {
	return prefix + "/services/register"
}

// HeartbeatTopic is where one service publishes its liveness beacon.
func HeartbeatTopic(prefix, serviceID string) string {
	return prefix + "/services/" + serviceID + "/heartbeat"
}

// ServiceAnnouncement represents a v1 service registration message.
type ServiceAnnouncement struct {
	Version int         `json:"version"`
	Service ServiceInfo `json:"service"`
	Actions []string    `json:"actions"`
}

// ServiceInfo contains service metadata.
type ServiceInfo struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Version      string `json:"version"`
	UptimeMS     int64  `json:"uptime_ms"`
	HeartbeatSec int    `json:"heartbeat_sec"`
}

// ParseAnnouncement parses a service announcement from JSON bytes.
func ParseAnnouncement(data []byte) (*ServiceAnnouncement, error) {
	var a ServiceAnnouncement
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("invalid announcement JSON: %w", err)
	}

	if a.Version != 1 {
		return nil, fmt.Errorf("unsupported announcement version: %d", a.Version)
	}

	if a.Service.ID == "" {
		return nil, fmt.Errorf("service.id is required")
	}

	if a.Service.HeartbeatSec <= 0 {
		a.Service.HeartbeatSec = 5
	}

	return &a, nil
}

// ServiceSpec defines an expected service from tiller.yaml.
type ServiceSpec struct {
	Kind     string
	Required bool
	Actions  []string
}

// ValidationResult contains validation outcome.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// ValidateAnnouncement validates an announcement against the service specs.
func ValidateAnnouncement(a *ServiceAnnouncement, specs map[string]ServiceSpec) *ValidationResult {
	result := &ValidationResult{Valid: true}

	spec, known := specs[a.Service.ID]
	if !known {
		result.Warnings = append(result.Warnings, fmt.Sprintf("unrecognized service: %s", a.Service.ID))
		return result
	}

	if a.Service.Kind != spec.Kind {
		result.Errors = append(result.Errors, fmt.Sprintf("service %s: kind mismatch (expected %s, got %s)", a.Service.ID, spec.Kind, a.Service.Kind))
		result.Valid = false
	}

	for _, action := range spec.Actions {
		if !containsString(a.Actions, action) {
			result.Errors = append(result.Errors, fmt.Sprintf("service %s: missing action %s", a.Service.ID, action))
			result.Valid = false
		}
	}

	return result
}

func containsString(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}

// ServiceSpecFromConfig converts a service definition to a ServiceSpec.
func ServiceSpecFromConfig(kind string, required bool, actions []string) ServiceSpec {
	return ServiceSpec{
		Kind:     kind,
		Required: required,
		Actions:  actions,
	}
}
