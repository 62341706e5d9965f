package bt

// NodeStatus is the lifecycle state of a node within its current
// activation. StatusSuccess and StatusFailure are terminal: once a node
// reaches either, further status writes are rejected until the owner
// starts a fresh activation.
type NodeStatus string

const (
	// StatusRunning means the node is actively computing and receives a
	// tick every engine cycle.
	StatusRunning NodeStatus = "running"

	// StatusSuspended means the node is waiting on an asynchronous
	// external operation. Suspended nodes are not ticked.
	StatusSuspended NodeStatus = "suspended"

	// StatusSuccess is the terminal status of a completed activation.
	StatusSuccess NodeStatus = "success"

	// StatusFailure is the terminal status of a failed activation. The
	// node's contingency message carries the diagnostic reason.
	StatusFailure NodeStatus = "failure"
)

// Terminal reports whether the status ends an activation.
func (s NodeStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

func containsStatus(set []NodeStatus, s NodeStatus) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}
