package actionlib

import (
	"fmt"
	"log"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/tillerbot/tiller/internal/mqtt"
)

// HandlerFunc serves one goal. It runs on its own goroutine and must
// finish the goal exactly once via Succeed, Abort or AckCancel.
type HandlerFunc func(*GoalRequest)

// Server executes goals for a single action. Each accepted goal gets a
// GoalRequest carrying the payload and a cancellation channel fed by the
// cancel topic.
type Server struct {
	conn    mqtt.Conn
	prefix  string
	action  string
	handler HandlerFunc

	mu     sync.Mutex
	active map[string]chan struct{}
	wg     sync.WaitGroup
}

// NewServer subscribes to the goal and cancel topics for the named
// action and dispatches each goal to h.
func NewServer(conn mqtt.Conn, prefix, action string, h HandlerFunc) (*Server, error) {
	s := &Server{
		conn:    conn,
		prefix:  prefix,
		action:  action,
		handler: h,
		active:  make(map[string]chan struct{}),
	}
	if err := conn.Subscribe(topicGoal(prefix, action), s.onGoal); err != nil {
		return nil, fmt.Errorf("actionlib: subscribe %s goals: %w", action, err)
	}
	if err := conn.Subscribe(topicCancel(prefix, action), s.onCancel); err != nil {
		return nil, fmt.Errorf("actionlib: subscribe %s cancels: %w", action, err)
	}
	return s, nil
}

// Action returns the action name this server executes.
func (s *Server) Action() string { return s.action }

// Active reports how many goals are currently being served.
func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Drain blocks until every running handler has returned.
func (s *Server) Drain() { s.wg.Wait() }

func (s *Server) onGoal(_ string, payload []byte) {
	var msg goalMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("actionlib: dropping malformed %s goal: %v", s.action, err)
		return
	}
	if msg.ID == "" {
		log.Printf("actionlib: dropping %s goal without id", s.action)
		return
	}

	cancel := make(chan struct{})
	s.mu.Lock()
	if _, dup := s.active[msg.ID]; dup {
		s.mu.Unlock()
		log.Printf("actionlib: dropping duplicate %s goal %s", s.action, msg.ID)
		return
	}
	s.active[msg.ID] = cancel
	s.mu.Unlock()

	req := &GoalRequest{
		srv:     s,
		ID:      msg.ID,
		Payload: msg.Payload,
		cancel:  cancel,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.handler(req)
	}()
}

func (s *Server) onCancel(_ string, payload []byte) {
	var msg cancelMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("actionlib: dropping malformed %s cancel: %v", s.action, err)
		return
	}

	s.mu.Lock()
	ch, ok := s.active[msg.ID]
	if ok {
		delete(s.active, msg.ID)
	}
	s.mu.Unlock()

	if ok {
		close(ch)
	}
}

func (s *Server) finish(id, status string, payload []byte) error {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()

	msg, err := json.Marshal(Result{ID: id, Status: status, Payload: payload})
	if err != nil {
		return fmt.Errorf("actionlib: marshal %s result: %w", s.action, err)
	}
	if err := s.conn.Publish(topicResult(s.prefix, s.action), msg); err != nil {
		return fmt.Errorf("actionlib: publish %s result: %w", s.action, err)
	}
	return nil
}

// GoalRequest is one accepted goal on the server side.
type GoalRequest struct {
	srv     *Server
	ID      string
	Payload json.RawMessage
	cancel  chan struct{}
}

// Decode unmarshals the goal payload into v.
func (g *GoalRequest) Decode(v any) error {
	return json.Unmarshal(g.Payload, v)
}

// Canceled is closed when the client cancels this goal.
func (g *GoalRequest) Canceled() <-chan struct{} { return g.cancel }

// Succeed publishes a succeeded result carrying payload.
func (g *GoalRequest) Succeed(payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("actionlib: marshal %s result payload: %w", g.srv.action, err)
	}
	return g.srv.finish(g.ID, StatusSucceeded, raw)
}

// Abort publishes an aborted result.
func (g *GoalRequest) Abort() error {
	return g.srv.finish(g.ID, StatusAborted, nil)
}

// AckCancel publishes a canceled result, confirming the goal stopped.
func (g *GoalRequest) AckCancel() error {
	return g.srv.finish(g.ID, StatusCanceled, nil)
}
