package tf

import (
	"log"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tillerbot/tiller/internal/geom"
	"github.com/tillerbot/tiller/internal/mqtt"
)

// Smoother keeps a sliding window of odometry twists and serves their
// average, which the feedback generator uses to estimate time
// remaining without chasing instantaneous velocity noise.
type Smoother struct {
	mu      sync.Mutex
	window  time.Duration
	samples []twistSample
}

type twistSample struct {
	stamp time.Time
	twist geom.Twist
}

// NewSmoother creates a smoother averaging over the given window.
func NewSmoother(window time.Duration) *Smoother {
	if window <= 0 {
		window = time.Second
	}
	return &Smoother{window: window}
}

// Add records a twist sample at the current time.
func (s *Smoother) Add(t geom.Twist) {
	s.addAt(t, time.Now())
}

func (s *Smoother) addAt(t geom.Twist, stamp time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, twistSample{stamp: stamp, twist: t})
	s.evictLocked(stamp)
}

func (s *Smoother) evictLocked(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.samples) && s.samples[i].stamp.Before(cutoff) {
		i++
	}
	s.samples = s.samples[i:]
}

// Twist returns the average twist over the window, or a zero twist when
// no samples are present.
func (s *Smoother) Twist() geom.Twist {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(time.Now())
	if len(s.samples) == 0 {
		return geom.Twist{}
	}
	var sum geom.Twist
	for _, sm := range s.samples {
		sum.VX += sm.twist.VX
		sum.VY += sm.twist.VY
		sum.WZ += sm.twist.WZ
	}
	n := float64(len(s.samples))
	return geom.Twist{VX: sum.VX / n, VY: sum.VY / n, WZ: sum.WZ / n}
}

// FeedOdom subscribes the smoother to an odometry twist topic.
func FeedOdom(conn mqtt.Conn, topic string, s *Smoother) error {
	return conn.Subscribe(topic, func(_ string, payload []byte) {
		var t geom.Twist
		if err := json.Unmarshal(payload, &t); err != nil {
			log.Printf("tf: dropping malformed twist on %s: %v", topic, err)
			return
		}
		s.Add(t)
	})
}
