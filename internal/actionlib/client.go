package actionlib

import (
	"fmt"
	"log"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tillerbot/tiller/internal/mqtt"
)

// ResultFunc consumes the terminal result of one goal. It runs on the
// transport's delivery goroutine and must not block.
type ResultFunc func(Result)

// Client sends goals to a single action server and routes each result
// back to the callback registered for that goal. A goal that never gets
// a result keeps its route until Forget is called on the handle.
type Client struct {
	conn   mqtt.Conn
	prefix string
	action string

	mu      sync.Mutex
	pending map[string]ResultFunc
}

// NewClient subscribes to the result topic for the named action. The
// subscription stays up for the life of the connection.
func NewClient(conn mqtt.Conn, prefix, action string) (*Client, error) {
	c := &Client{
		conn:    conn,
		prefix:  prefix,
		action:  action,
		pending: make(map[string]ResultFunc),
	}
	if err := conn.Subscribe(topicResult(prefix, action), c.onResult); err != nil {
		return nil, fmt.Errorf("actionlib: subscribe %s results: %w", action, err)
	}
	return c, nil
}

// Action returns the action name this client talks to.
func (c *Client) Action() string { return c.action }

// SendGoal publishes one goal and registers fn for its result. The
// returned handle cancels or abandons the goal.
func (c *Client) SendGoal(payload any, fn ResultFunc) (*GoalHandle, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("actionlib: marshal %s goal: %w", c.action, err)
	}
	id := uuid.NewString()
	msg, err := json.Marshal(goalMsg{ID: id, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("actionlib: marshal %s goal envelope: %w", c.action, err)
	}

	c.mu.Lock()
	c.pending[id] = fn
	c.mu.Unlock()

	if err := c.conn.Publish(topicGoal(c.prefix, c.action), msg); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("actionlib: publish %s goal: %w", c.action, err)
	}
	return &GoalHandle{client: c, id: id}, nil
}

// Pending reports how many goals are still waiting for a result.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) onResult(_ string, payload []byte) {
	var res Result
	if err := json.Unmarshal(payload, &res); err != nil {
		log.Printf("actionlib: dropping malformed %s result: %v", c.action, err)
		return
	}

	c.mu.Lock()
	fn, ok := c.pending[res.ID]
	delete(c.pending, res.ID)
	c.mu.Unlock()

	// Results for unknown goals are normal after Forget or a restart.
	if ok && fn != nil {
		fn(res)
	}
}

// GoalHandle identifies one in-flight goal.
type GoalHandle struct {
	client *Client
	id     string
}

// ID returns the goal's correlation id.
func (g *GoalHandle) ID() string { return g.id }

// Cancel asks the server to stop this goal. It does not wait for an
// acknowledgment; the outcome still arrives through the result callback.
func (g *GoalHandle) Cancel() {
	msg, err := json.Marshal(cancelMsg{ID: g.id})
	if err != nil {
		return
	}
	if err := g.client.conn.Publish(topicCancel(g.client.prefix, g.client.action), msg); err != nil {
		log.Printf("actionlib: publish %s cancel: %v", g.client.action, err)
	}
}

// Forget drops the result route for this goal. A result that arrives
// afterwards is discarded.
func (g *GoalHandle) Forget() {
	g.client.mu.Lock()
	delete(g.client.pending, g.id)
	g.client.mu.Unlock()
}
