package session

import "time"

// Turn persists one agent contribution. Turns are immutable once appended.
type Turn struct {
	Sequence  int       `json:"sequence"`
	AgentID   string    `json:"agentId"`
	Content   string    `json:"content"`
	Prompt    string    `json:"prompt,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
