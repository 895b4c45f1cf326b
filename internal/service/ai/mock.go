package ai

import (
	"fmt"
	"strings"

	sessionsvc "github.com/zhouzirui/agent-salon/backend/internal/service/session"
)

const mockModel = "mock"

// mockReply is the deterministic offline provider.
func mockReply(prompt, modelName string) string {
	if modelName == "" {
		modelName = mockModel
	}
	return fmt.Sprintf("Mock response to: %s (Model: %s)", strings.TrimSpace(prompt), modelName)
}

// mockPrompt answers the pending operator prompt, or the latest turn when
// the prompt was already taken by an earlier responder.
func mockPrompt(req sessionsvc.ResponseRequest) string {
	if req.Prompt != "" {
		return req.Prompt
	}
	if n := len(req.History); n > 0 {
		last := req.History[n-1]
		return participantNames(req.Participants)[last.AgentID] + ": " + last.Content
	}
	return req.Topic
}
