package mqtt

import (
	"fmt"
	"sync"
)

// RegisteredService holds runtime information about an announced service.
type RegisteredService struct {
	ID           string
	Kind         string
	Version      string
	HeartbeatSec int
	Actions      []string
}

// ServiceRegistry maintains a mapping of service IDs to the actions they
// advertise.
type ServiceRegistry struct {
	mu       sync.RWMutex
	services map[string]*RegisteredService
}

// NewServiceRegistry creates a new empty service registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[string]*RegisteredService),
	}
}

// Register adds or updates a service in the registry.
func (r *ServiceRegistry) Register(svc *RegisteredService) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[svc.ID] = svc
}

// Unregister removes a service from the registry.
func (r *ServiceRegistry) Unregister(serviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services, serviceID)
}

// Get returns a service by ID, or nil if not found.
func (r *ServiceRegistry) Get(serviceID string) *RegisteredService {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if svc, ok := r.services[serviceID]; ok {
		// Return a copy to prevent mutation
		cpy := *svc
		cpy.Actions = append([]string{}, svc.Actions...)
		return &cpy
	}
	return nil
}

// Exists returns true if the service is registered.
func (r *ServiceRegistry) Exists(serviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.services[serviceID]
	return ok
}

// HasAction returns true if the service advertises the given action.
func (r *ServiceRegistry) HasAction(serviceID, action string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if svc, ok := r.services[serviceID]; ok {
		for _, a := range svc.Actions {
			if a == action {
				return true
			}
		}
	}
	return false
}

// ValidateRequest validates that a service exists and advertises the given
// action. Returns an error describing the validation failure, or nil if valid.
func (r *ServiceRegistry) ValidateRequest(serviceID, action string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[serviceID]
	if !ok {
		return fmt.Errorf("service not registered: %s", serviceID)
	}

	for _, a := range svc.Actions {
		if a == action {
			return nil
		}
	}

	return fmt.Errorf("service %s does not advertise action: %s", serviceID, action)
}

// All returns a copy of all registered services.
func (r *ServiceRegistry) All() []*RegisteredService {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*RegisteredService, 0, len(r.services))
	for _, svc := range r.services {
		cpy := *svc
		cpy.Actions = append([]string{}, svc.Actions...)
		result = append(result, &cpy)
	}
	return result
}

// RegisterFromAnnouncement registers the service described by an
// announcement.
func (r *ServiceRegistry) RegisterFromAnnouncement(a *ServiceAnnouncement) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.services[a.Service.ID] = &RegisteredService{
		ID:           a.Service.ID,
		Kind:         a.Service.Kind,
		Version:      a.Service.Version,
		HeartbeatSec: a.Service.HeartbeatSec,
		Actions:      append([]string{}, a.Actions...),
	}
}

// MissingRequired returns the IDs of required services that have not
// registered yet.
func (r *ServiceRegistry) MissingRequired(specs map[string]ServiceSpec) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for id, spec := range specs {
		if !spec.Required {
			continue
		}
		if _, ok := r.services[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// Clear removes all services from the registry.
func (r *ServiceRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = make(map[string]*RegisteredService)
}
