package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// tree
	"tree.run.started":  {},
	"tree.run.finished": {},
	"tree.run.aborted":  {},

	// node
	"node.status.changed": {},
	"node.timeout":        {},
	"node.contingency":    {},

	// action
	"action.goal.sent":   {},
	"action.goal.result": {},
	"action.goal.cancel": {},

	// operator
	"operator.mission": {},
	"operator.abort":   {},

	// service
	"service.registered": {},
	"service.online":     {},
	"service.offline":    {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

// Validate rejects event names outside the registry so typos surface at
// the emit site instead of in downstream consumers.
func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
