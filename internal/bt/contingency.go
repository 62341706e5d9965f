package bt

import "regexp"

// contingencyEntry matches child status transitions by kind tag,
// trigger status set, and a pattern over the contingency message.
type contingencyEntry struct {
	kind     string
	statuses []NodeStatus
	re       *regexp.Regexp
	fn       func()
}

type contingencyTable struct {
	entries []contingencyEntry
}

func (t *contingencyTable) match(kind string, st NodeStatus, message string) func() {
	for _, e := range t.entries {
		if e.kind != "" && e.kind != kind {
			continue
		}
		if !containsStatus(e.statuses, st) {
			continue
		}
		if !e.re.MatchString(message) {
			continue
		}
		return e.fn
	}
	return nil
}

// RegisterContingency adds a handler for transitions of child nodes
// with the given kind into any of the trigger statuses, provided the
// child's contingency message matches pattern. An empty kind matches
// any child. Handlers are consulted in registration order and the first
// match wins; transitions with no matching handler propagate unchanged.
//
// Register handlers at construction time. The pattern must be a valid
// regular expression; RegisterContingency panics otherwise.
func (n *Node) RegisterContingency(kind string, statuses []NodeStatus, pattern string, fn func()) {
	n.table.entries = append(n.table.entries, contingencyEntry{
		kind:     kind,
		statuses: statuses,
		re:       regexp.MustCompile(pattern),
		fn:       fn,
	})
}

// SetCurrentChildStatus rewrites the status of the child whose
// transition is being dispatched. It is only meaningful inside a
// contingency handler. This is the one sanctioned way to clear a
// terminal status without a fresh activation; completions issued before
// the rewrite are voided so a straggling callback from the finished
// request cannot finalize the child a second time.
func (n *Node) SetCurrentChildStatus(st NodeStatus) {
	c := n.current
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.status = st
	if !st.Terminal() {
		c.message = ""
	}
}
