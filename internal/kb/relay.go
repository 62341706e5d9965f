package kb

import (
	"fmt"
	"log"

	json "github.com/goccy/go-json"

	"github.com/tillerbot/tiller/internal/mqtt"
)

// queryMsg is one knowledge base request on the wire.
type queryMsg struct {
	Op      string `json:"op"`
	Filter  Filter `json:"filter,omitempty"`
	Set     Entry  `json:"set,omitempty"`
	ReplyTo string `json:"reply_to"`
}

// replyMsg answers one query on its reply topic.
type replyMsg struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Relay exposes a Store over the transport. Each query names its own
// reply topic; requests without one are dropped.
type Relay struct {
	conn  mqtt.Conn
	store Store
}

// NewRelay subscribes to the query topic and serves store operations.
func NewRelay(conn mqtt.Conn, topic string, store Store) (*Relay, error) {
	r := &Relay{conn: conn, store: store}
	if err := conn.Subscribe(topic, r.onQuery); err != nil {
		return nil, fmt.Errorf("kb: subscribe %s: %w", topic, err)
	}
	return r, nil
}

func (r *Relay) onQuery(topic string, payload []byte) {
	var q queryMsg
	if err := json.Unmarshal(payload, &q); err != nil {
		log.Printf("kb: dropping malformed query on %s: %v", topic, err)
		return
	}
	if q.ReplyTo == "" {
		log.Printf("kb: dropping %s query without reply_to", q.Op)
		return
	}

	result, err := r.dispatch(q)
	reply := replyMsg{OK: err == nil, Result: result}
	if err != nil {
		reply.Error = err.Error()
	}

	raw, err := json.Marshal(reply)
	if err != nil {
		log.Printf("kb: marshal reply for %s: %v", q.ReplyTo, err)
		return
	}
	if err := r.conn.Publish(q.ReplyTo, raw); err != nil {
		log.Printf("kb: publish reply to %s: %v", q.ReplyTo, err)
	}
}

func (r *Relay) dispatch(q queryMsg) (json.RawMessage, error) {
	switch q.Op {
	case "create":
		id, err := r.store.Create(q.Set)
		if err != nil {
			return nil, err
		}
		return json.Marshal(id)
	case "read":
		entries, err := r.store.Read(q.Filter)
		if err != nil {
			return nil, err
		}
		if entries == nil {
			entries = []Entry{}
		}
		return json.Marshal(entries)
	case "update":
		n, err := r.store.Update(q.Filter, q.Set)
		if err != nil {
			return nil, err
		}
		return json.Marshal(n)
	case "delete":
		n, err := r.store.Delete(q.Filter)
		if err != nil {
			return nil, err
		}
		return json.Marshal(n)
	case "count":
		n, err := r.store.Count(q.Filter)
		if err != nil {
			return nil, err
		}
		return json.Marshal(n)
	case "size":
		n, err := r.store.Size()
		if err != nil {
			return nil, err
		}
		return json.Marshal(n)
	}
	return nil, fmt.Errorf("unknown op %q", q.Op)
}
