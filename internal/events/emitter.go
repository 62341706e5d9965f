package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tillerbot/tiller/internal/storage/postgres"
)

var (
	buffer = NewRingBuffer(256)
	total  atomic.Uint64
)

var (
	storeMu          sync.RWMutex
	store            *postgres.EventStore
	storeErrorLogged bool
)

// SetStore enables Postgres persistence for emitted events. Pass nil to
// turn it back off.
func SetStore(s *postgres.EventStore) {
	storeMu.Lock()
	store = s
	storeErrorLogged = false
	storeMu.Unlock()
}

// Store returns the current persistence backend, if any.
func Store() *postgres.EventStore {
	storeMu.RLock()
	defer storeMu.RUnlock()
	return store
}

// Event is one structured engine event.
type Event struct {
	Timestamp string         `json:"ts"`
	Level     string         `json:"level"`
	Name      string         `json:"event"`
	Message   string         `json:"msg,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Emit records one event: ring buffer, optional Postgres row, then
// live subscribers. The returned bytes are the event's JSON encoding.
func Emit(level, name, msg string, fields map[string]any) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	buffer.Add(e)
	total.Add(1)
	persist(ts, level, name, msg, fields)
	broadcast(e)

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return b, nil
}

// persist appends the event to Postgres when a store is set. A failing
// store is reported once, straight into the ring buffer so a dead
// database cannot recurse through Emit.
func persist(ts time.Time, level, name, msg string, fields map[string]any) {
	storeMu.RLock()
	s := store
	logged := storeErrorLogged
	storeMu.RUnlock()

	if s == nil {
		return
	}
	err := s.Append(ts, level, name, msg, fields, "")
	if err == nil || logged {
		return
	}

	storeMu.Lock()
	first := !storeErrorLogged
	storeErrorLogged = true
	storeMu.Unlock()

	if first {
		buffer.Add(Event{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Level:     "error",
			Name:      "system.error",
			Message:   "postgres append failed",
			Fields:    map[string]any{"error": err.Error()},
		})
	}
}

// Snapshot returns the buffered events oldest first.
func Snapshot() []Event {
	return buffer.Snapshot()
}

// TotalCount returns how many events have been emitted since startup.
func TotalCount() uint64 {
	return total.Load()
}

// Clear resets the event buffer. Used for testing.
func Clear() {
	buffer.Clear()
}

// Sink adapts the package to the engine's event hook.
type Sink struct{}

// Emit forwards one engine event, dropping the encoded form.
func (Sink) Emit(level, name, message string, fields map[string]any) {
	Emit(level, name, message, fields)
}
