package ai

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/agent-salon/backend/internal/model/agent"
	"github.com/zhouzirui/agent-salon/backend/internal/model/session"
	sessionsvc "github.com/zhouzirui/agent-salon/backend/internal/service/session"
)

// historyLimit caps how many committed turns are replayed to the model.
const historyLimit = 20

// BuildSystemPrompt combines an agent's own instructions with the rules of a
// multi-agent discussion.
func BuildSystemPrompt(self agent.Profile, participants []agent.Profile, topic string) string {
	var others []string
	for _, p := range participants {
		if p.ID == self.ID {
			continue
		}
		others = append(others, p.DisplayName())
	}
	peers := "no other agents"
	if len(others) > 0 {
		peers = strings.Join(others, ", ")
	}

	base := strings.TrimSpace(self.SystemPrompt)
	if base == "" {
		base = fmt.Sprintf("You are %s.", self.DisplayName())
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Profile:\n- Name: %s\n", self.DisplayName())
	if self.Title != "" {
		fmt.Fprintf(&b, "- Title: %s\n", self.Title)
	}
	if self.Tone != "" {
		fmt.Fprintf(&b, "- Tone: %s\n", self.Tone)
	}
	fmt.Fprintf(&b, "\nDiscussion topic: %s\n", topic)
	b.WriteString("\nIMPORTANT INSTRUCTIONS FOR MULTI-AGENT CONVERSATION:\n")
	fmt.Fprintf(&b, "- You are in a conversation with other agents: %s\n", peers)
	b.WriteString("- Respond naturally to the previous messages in the conversation\n")
	b.WriteString("- Build upon what others have said\n")
	fmt.Fprintf(&b, "- If you feel the discussion has reached a natural conclusion, end your response with the phrase: %q\n", sessionsvc.ConclusionMarker)
	b.WriteString("- If there's more to discuss, continue the dialogue\n")
	b.WriteString("- Be concise but meaningful in your responses")
	return b.String()
}

// buildHistoryMessages replays the ledger from the speaker's point of view:
// its own turns are assistant messages, everyone else speaks as a user.
func buildHistoryMessages(self string, names map[string]string, turns []session.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	start := 0
	if len(turns) > historyLimit {
		start = len(turns) - historyLimit
	}

	history := make([]*schema.Message, 0, len(turns)-start+1)
	for _, t := range turns[start:] {
		if t.Prompt != "" {
			history = append(history, schema.UserMessage("Operator: "+t.Prompt))
		}
		if t.AgentID == self {
			history = append(history, schema.AssistantMessage(t.Content, nil))
			continue
		}
		name := names[t.AgentID]
		if name == "" {
			name = t.AgentID
		}
		history = append(history, schema.UserMessage(name+": "+t.Content))
	}
	return history
}

func buildQuery(req sessionsvc.ResponseRequest) string {
	if req.Prompt != "" {
		return "Operator: " + req.Prompt
	}
	return fmt.Sprintf("Continue the discussion as %s.", req.Agent.DisplayName())
}

func participantNames(participants []agent.Profile) map[string]string {
	names := make(map[string]string, len(participants))
	for _, p := range participants {
		names[p.ID] = p.DisplayName()
	}
	return names
}
