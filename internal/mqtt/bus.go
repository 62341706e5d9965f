package mqtt

import "sync"

// Bus is an in-process Conn for tests and simulations. Topics match
// exactly, and every delivery runs on its own goroutine so handlers see
// the same concurrency they would from a broker client.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]Handler
	wg   sync.WaitGroup
}

// NewBus creates an empty in-process bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]Handler)}
}

// Publish delivers the payload to every subscriber of the topic.
func (b *Bus) Publish(topic string, payload []byte) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subs[topic]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h := h
		p := append([]byte(nil), payload...)
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			h(topic, p)
		}()
	}
	return nil
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], handler)
	return nil
}

// Drain blocks until every delivery in flight has been handled. Tests
// call it before checking for goroutine leaks.
func (b *Bus) Drain() {
	b.wg.Wait()
}
