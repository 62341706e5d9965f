package actionlib

import json "github.com/goccy/go-json"

// Terminal result statuses of the action protocol.
const (
	StatusSucceeded = "succeeded"
	StatusAborted   = "aborted"
	StatusCanceled  = "canceled"
)

// goalMsg is the wire form of one goal request.
type goalMsg struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// cancelMsg asks the server to stop one goal.
type cancelMsg struct {
	ID string `json:"id"`
}

// Result is the terminal answer for one goal.
type Result struct {
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the result payload into v.
func (r Result) Decode(v any) error {
	return json.Unmarshal(r.Payload, v)
}

func topicGoal(prefix, action string) string   { return prefix + "/" + action + "/goal" }
func topicCancel(prefix, action string) string { return prefix + "/" + action + "/cancel" }
func topicResult(prefix, action string) string { return prefix + "/" + action + "/result" }
