package session

import "time"

// Status 表示会话的生命周期状态。
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusStopped   Status = "STOPPED"
	StatusCompleted Status = "COMPLETED"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusStopped, StatusCompleted:
		return true
	default:
		return false
	}
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted
}

// DefaultTopic is used when the operator leaves the topic blank.
const DefaultTopic = "General Discussion"

// Session is a point-in-time snapshot of one orchestrated conversation.
// Values handed out by the service are never mutated afterwards.
type Session struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	AgentIDs  []string  `json:"agentIds"`
	MaxTurns  int       `json:"maxTurns"`
	Status    Status    `json:"status"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
