package session

import (
	"context"
	"strings"

	"github.com/zhouzirui/agent-salon/backend/internal/model/agent"
	"github.com/zhouzirui/agent-salon/backend/internal/model/session"
)

// ConclusionMarker ends an injection early when an agent emits it.
const ConclusionMarker = "[CONVERSATION_CONCLUDED]"

// Responder produces one agent's next contribution. Failures should wrap
// session.ErrUpstreamUnavailable; unclassified errors are wrapped by the
// service.
type Responder interface {
	Respond(ctx context.Context, req ResponseRequest) (string, error)
}

// ResponseRequest is the conversation context handed to a Responder.
type ResponseRequest struct {
	SessionID    string
	Topic        string
	Agent        agent.Profile
	Participants []agent.Profile
	// History holds committed turns followed by turns staged earlier in the
	// same injection.
	History []session.Turn
	// Prompt is the operator prompt still awaiting its first answer. It is
	// empty for later responders, which find it attached to History.
	Prompt string
}

// ResponderSelection picks who answers an injected prompt.
type ResponderSelection struct {
	// AgentIDs lists responders in speaking order; empty means every session
	// agent in roster order.
	AgentIDs []string `json:"agentIds,omitempty"`
	// Rounds repeats the responder list; <= 0 uses the service default.
	Rounds int `json:"rounds,omitempty"`
}

func stripConclusion(reply string) (string, bool) {
	if !strings.Contains(reply, ConclusionMarker) {
		return strings.TrimSpace(reply), false
	}
	return strings.TrimSpace(strings.ReplaceAll(reply, ConclusionMarker, "")), true
}
