package bt

import (
	"sync"
	"time"
)

// DefaultPollInterval paces background poll workers when the caller
// passes a non-positive interval.
const DefaultPollInterval = 100 * time.Millisecond

// PollFunc is one poll attempt. It may write outputs through the
// completion; returning true completes the activation with success.
// Attempts must not block: they are paced by the worker, not by the
// condition itself.
type PollFunc func(Completion) bool

type pollWorker struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (w *pollWorker) signalStop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *pollWorker) stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// StartPoll launches the activation's background poll worker. The
// worker runs fn immediately and then once per interval until fn
// reports completion, the stop flag is raised, or the activation is
// superseded. A node has at most one worker; StartPoll waits for the
// previous activation's worker to acknowledge shutdown before starting
// the next, so two workers never race on one node.
//
// Call StartPoll from the init hook, typically followed by Suspend.
func (n *Node) StartPoll(interval time.Duration, fn PollFunc) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	n.mu.Lock()
	prev := n.poll
	n.mu.Unlock()
	if prev != nil {
		prev.signalStop()
		<-prev.done
	}

	c := n.Completion()
	w := &pollWorker{stop: make(chan struct{}), done: make(chan struct{})}
	n.mu.Lock()
	n.poll = w
	n.mu.Unlock()
	go w.run(interval, fn, c)
}

func (w *pollWorker) run(interval time.Duration, fn PollFunc, c Completion) {
	defer close(w.done)
	tk := time.NewTicker(interval)
	defer tk.Stop()
	for {
		if w.stopped() || !c.Valid() {
			return
		}
		if fn(c) {
			c.Succeed()
			return
		}
		select {
		case <-w.stop:
			return
		case <-tk.C:
		}
	}
}

// StopPoll raises the worker's stop flag without waiting for the worker
// to exit. The usual caller is a timeout handler, which stops the poll
// and then fails the node with its own message.
func (n *Node) StopPoll() {
	n.mu.Lock()
	w := n.poll
	n.mu.Unlock()
	if w != nil {
		w.signalStop()
	}
}
