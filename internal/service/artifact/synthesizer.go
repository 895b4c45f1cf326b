package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zhouzirui/agent-salon/backend/internal/analysis/participation"
	"github.com/zhouzirui/agent-salon/backend/internal/model/agent"
	"github.com/zhouzirui/agent-salon/backend/internal/model/session"
)

// Artifact kinds.
const (
	KindSummary = "summary"
	KindReport  = "report"
)

const timeLayout = "2006-01-02 15:04:05"

// NarrationRequest is the composed input handed to a Narrator.
type NarrationRequest struct {
	SessionID string
	Kind      string
	// Agent is the session's first agent; its provider backs the narration.
	Agent        agent.Profile
	Instructions string
	Input        string
}

// Narrator produces free text from a composed request. Failures should wrap
// session.ErrUpstreamUnavailable.
type Narrator interface {
	Narrate(ctx context.Context, req NarrationRequest) (string, error)
}

// Synthesizer composes ledger snapshots into narrator input. It never retries
// and never substitutes placeholder text for a failed narration.
type Synthesizer struct {
	narrator Narrator
	agents   agent.Store
	logger   *slog.Logger
}

// NewSynthesizer creates a synthesizer. Pass nil logger for default.
func NewSynthesizer(narrator Narrator, agents agent.Store, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		narrator: narrator,
		agents:   agents,
		logger:   logger.With("component", "artifact"),
	}
}

// Summarize asks the narrator for a concise summary of the full turn history.
func (s *Synthesizer) Summarize(ctx context.Context, snap session.Session) (string, error) {
	if len(snap.Turns) == 0 {
		return "", fmt.Errorf("%w: no conversation to summarize", session.ErrInvalidInput)
	}

	req := NarrationRequest{
		SessionID:    snap.ID,
		Kind:         KindSummary,
		Agent:        s.leadAgent(snap),
		Instructions: summaryInstructions,
		Input:        "Please provide a concise summary of the following conversation:\n\n" + s.conversation(snap),
	}
	return s.narrate(ctx, req)
}

// Report asks the narrator for a detailed analysis of the history and its
// participation statistics.
func (s *Synthesizer) Report(ctx context.Context, snap session.Session, stats participation.Result) (string, error) {
	if len(snap.Turns) == 0 {
		return "", fmt.Errorf("%w: no conversation to analyze", session.ErrInvalidInput)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\nTopic: %s\nStatus: %s\nTotal Turns: %d / %d\n\n", snap.ID, snap.Topic, snap.Status, len(snap.Turns), snap.MaxTurns)
	b.WriteString("Agent participation:\n")
	for _, entry := range stats.Agents {
		fmt.Fprintf(&b, "- %s: %d turns (%.1f%%), average response length %d characters\n",
			s.displayName(entry.AgentID), entry.Turns, entry.Percentage, entry.AvgLength)
	}
	b.WriteString("\nTimeline:\n")
	fmt.Fprintf(&b, "- Started: %s\n", snap.CreatedAt.Format(timeLayout))
	if stats.LastTurnAt != nil {
		fmt.Fprintf(&b, "- Last Activity: %s\n", stats.LastTurnAt.Format(timeLayout))
	} else {
		b.WriteString("- Last Activity: N/A\n")
	}
	b.WriteString("\nConversation:\n\n")
	b.WriteString(s.conversation(snap))

	req := NarrationRequest{
		SessionID:    snap.ID,
		Kind:         KindReport,
		Agent:        s.leadAgent(snap),
		Instructions: reportInstructions,
		Input:        b.String(),
	}
	return s.narrate(ctx, req)
}

func (s *Synthesizer) narrate(ctx context.Context, req NarrationRequest) (string, error) {
	if s.narrator == nil {
		return "", fmt.Errorf("%w: no narrator configured", session.ErrUpstreamUnavailable)
	}

	text, err := s.narrator.Narrate(ctx, req)
	if err != nil {
		s.logger.Warn("narration failed", "session_id", req.SessionID, "kind", req.Kind, "error", err)
		if errors.Is(err, session.ErrUpstreamUnavailable) || ctx.Err() != nil {
			return "", fmt.Errorf("generate %s: %w", req.Kind, err)
		}
		return "", fmt.Errorf("%w: generate %s: %v", session.ErrUpstreamUnavailable, req.Kind, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty %s", session.ErrUpstreamUnavailable, req.Kind)
	}
	s.logger.Debug("artifact generated", "session_id", req.SessionID, "kind", req.Kind, "length", len(text))
	return text, nil
}

func (s *Synthesizer) conversation(snap session.Session) string {
	parts := make([]string, 0, len(snap.Turns))
	for _, turn := range snap.Turns {
		parts = append(parts, fmt.Sprintf("%s: %s", s.displayName(turn.AgentID), turn.Content))
	}
	return strings.Join(parts, "\n\n")
}

func (s *Synthesizer) leadAgent(snap session.Session) agent.Profile {
	if len(snap.AgentIDs) == 0 {
		return agent.Profile{}
	}
	id := snap.AgentIDs[0]
	if s.agents != nil {
		if p, ok := s.agents.FindByID(id); ok {
			return p
		}
	}
	return agent.Profile{ID: id, Name: id}
}

func (s *Synthesizer) displayName(agentID string) string {
	if s.agents != nil {
		if p, ok := s.agents.FindByID(agentID); ok {
			return p.DisplayName()
		}
	}
	return agentID
}

const summaryInstructions = "You are a helpful assistant that creates concise summaries."

const reportInstructions = "You are an analyst reviewing a multi-agent discussion. Write a detailed report covering the main arguments, points of agreement and disagreement, how each agent contributed, and any open questions. Use the participation statistics provided; do not invent numbers."
