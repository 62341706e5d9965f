package events

import "sync"

// Subscriber receives live events as they are emitted.
type Subscriber chan Event

// Broadcaster fans emitted events out to WebSocket subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]struct{}
}

var broadcaster = &Broadcaster{
	subscribers: make(map[Subscriber]struct{}),
}

// Subscribe adds a subscriber and returns its channel. The channel is
// buffered so a slow client cannot stall Emit.
func Subscribe() Subscriber {
	ch := make(Subscriber, 64)
	broadcaster.mu.Lock()
	broadcaster.subscribers[ch] = struct{}{}
	broadcaster.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func Unsubscribe(sub Subscriber) {
	broadcaster.mu.Lock()
	_, ok := broadcaster.subscribers[sub]
	delete(broadcaster.subscribers, sub)
	broadcaster.mu.Unlock()
	if ok {
		close(sub)
	}
}

// CloseAllSubscribers drops every subscriber. Used at shutdown.
func CloseAllSubscribers() {
	broadcaster.mu.Lock()
	subs := broadcaster.subscribers
	broadcaster.subscribers = make(map[Subscriber]struct{})
	broadcaster.mu.Unlock()

	for sub := range subs {
		close(sub)
	}
}

// broadcast delivers e to every subscriber whose buffer has room.
func broadcast(e Event) {
	broadcaster.mu.RLock()
	defer broadcaster.mu.RUnlock()

	for sub := range broadcaster.subscribers {
		select {
		case sub <- e:
		default:
			// Buffer full, drop for this slow subscriber.
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func SubscriberCount() int {
	broadcaster.mu.RLock()
	defer broadcaster.mu.RUnlock()
	return len(broadcaster.subscribers)
}

// RecentEvents returns the last n buffered events, oldest first. A
// non-positive n returns everything available.
func RecentEvents(n int) []Event {
	all := buffer.Snapshot()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}
