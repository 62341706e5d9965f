package tf

import (
	"errors"
	"log"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tillerbot/tiller/internal/geom"
	"github.com/tillerbot/tiller/internal/mqtt"
)

// Frame names used across the navigation stack.
const (
	FrameMap  = "map"
	FrameBase = "base_link"
	FrameOdom = "odom"
)

// ErrTransformUnavailable is returned when a frame pair has no usable
// transform yet. Poll workers treat it as a transient and retry.
var ErrTransformUnavailable = errors.New("tf: transform unavailable")

// Transform is a planar transform from a source frame into a target
// frame.
type Transform struct {
	Target string    `json:"target"`
	Source string    `json:"source"`
	X      float64   `json:"x"`
	Y      float64   `json:"y"`
	Theta  float64   `json:"theta"`
	Stamp  time.Time `json:"stamp"`
}

// Pose returns the transform's translation and rotation as a pose in
// the target frame.
func (t Transform) Pose() geom.Pose {
	return geom.Pose{X: t.X, Y: t.Y, Theta: t.Theta}
}

type framePair struct {
	target, source string
}

// Buffer holds the latest transform per frame pair. Entries older than
// maxAge are treated as unavailable; a zero maxAge disables expiry.
type Buffer struct {
	mu         sync.RWMutex
	maxAge     time.Duration
	transforms map[framePair]Transform
}

// NewBuffer creates an empty transform buffer.
func NewBuffer(maxAge time.Duration) *Buffer {
	return &Buffer{
		maxAge:     maxAge,
		transforms: make(map[framePair]Transform),
	}
}

// Set stores a transform, replacing any previous one for the same frame
// pair. A zero stamp is filled with the current time.
func (b *Buffer) Set(t Transform) {
	if t.Stamp.IsZero() {
		t.Stamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transforms[framePair{t.Target, t.Source}] = t
}

// Lookup returns the latest transform from source into target, or
// ErrTransformUnavailable when none is known or the known one has
// expired.
func (b *Buffer) Lookup(target, source string) (Transform, error) {
	b.mu.RLock()
	t, ok := b.transforms[framePair{target, source}]
	maxAge := b.maxAge
	b.mu.RUnlock()
	if !ok {
		return Transform{}, ErrTransformUnavailable
	}
	if maxAge > 0 && time.Since(t.Stamp) > maxAge {
		return Transform{}, ErrTransformUnavailable
	}
	return t, nil
}

// Feed subscribes the buffer to a transform topic. Malformed payloads
// are dropped with a log line; the feed keeps going.
func Feed(conn mqtt.Conn, topic string, b *Buffer) error {
	return conn.Subscribe(topic, func(_ string, payload []byte) {
		var t Transform
		if err := json.Unmarshal(payload, &t); err != nil {
			log.Printf("tf: dropping malformed transform on %s: %v", topic, err)
			return
		}
		b.Set(t)
	})
}
