package mqtt

import (
	"sync"

	"github.com/tillerbot/tiller/internal/events"
)

// HeartbeatSubscriber manages subscriptions to service heartbeat topics.
// It ensures idempotent subscription handling across reconnects.
type HeartbeatSubscriber struct {
	mu         sync.RWMutex
	conn       Conn
	monitor    *ServiceMonitor
	prefix     string
	subscribed map[string]bool // topic -> subscribed
}

// NewHeartbeatSubscriber creates a new heartbeat subscriber.
func NewHeartbeatSubscriber(conn Conn, monitor *ServiceMonitor, prefix string) *HeartbeatSubscriber {
	return &HeartbeatSubscriber{
		conn:       conn,
		monitor:    monitor,
		prefix:     prefix,
		subscribed: make(map[string]bool),
	}
}

// SubscribeService subscribes to a service's heartbeat topic if not already
// subscribed. This is idempotent - calling multiple times for the same
// service is safe.
func (s *HeartbeatSubscriber) SubscribeService(serviceID string) error {
	topic := HeartbeatTopic(s.prefix, serviceID)

	s.mu.Lock()
	if s.subscribed[topic] {
		s.mu.Unlock()
		return nil // Already subscribed
	}
	s.mu.Unlock()

	handler := s.createHandler(serviceID)
	if err := s.conn.Subscribe(topic, handler); err != nil {
		return err
	}

	s.mu.Lock()
	s.subscribed[topic] = true
	s.mu.Unlock()

	return nil
}

// SubscribeAll subscribes to every service in the monitor's registry.
// Useful for initial subscription after connection.
func (s *HeartbeatSubscriber) SubscribeAll() error {
	for _, svc := range s.monitor.Registry().All() {
		if err := s.SubscribeService(svc.ID); err != nil {
			// Log error but continue with other services
			events.Emit("error", "system.error", "failed to subscribe to service heartbeat", map[string]any{
				"service_id": svc.ID,
				"topic":      HeartbeatTopic(s.prefix, svc.ID),
				"error":      err.Error(),
			})
		}
	}
	return nil
}

// createHandler creates a message handler that refreshes the service's
// liveness. Heartbeats from services that never announced are dropped.
func (s *HeartbeatSubscriber) createHandler(serviceID string) Handler {
	return func(topic string, payload []byte) {
		s.monitor.HandleHeartbeat(serviceID)
	}
}

// IsSubscribed returns true if the topic is already subscribed.
func (s *HeartbeatSubscriber) IsSubscribed(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscribed[topic]
}

// SubscribedTopics returns a list of all subscribed topics.
func (s *HeartbeatSubscriber) SubscribedTopics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topics := make([]string, 0, len(s.subscribed))
	for topic := range s.subscribed {
		topics = append(topics, topic)
	}
	return topics
}

// ClearSubscriptions clears the subscription tracking.
// Call this on disconnect to allow re-subscription on reconnect.
func (s *HeartbeatSubscriber) ClearSubscriptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = make(map[string]bool)
}
