package transcript

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zhouzirui/agent-salon/backend/internal/analysis/participation"
	"github.com/zhouzirui/agent-salon/backend/internal/model/session"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	ruleWidth  = 50
)

// Section headings in document order.
const (
	HeadingSummary       = "SUMMARY"
	HeadingReport        = "DETAILED REPORT"
	HeadingParticipation = "AGENT PARTICIPATION"
	HeadingTranscript    = "FULL TRANSCRIPT"
)

// Document gathers everything one export renders.
type Document struct {
	Session session.Session
	Stats   participation.Result
	// Names maps agent ids to display names; missing ids render as the id.
	Names map[string]string

	Summary    string
	SummaryErr error
	Report     string
	ReportErr  error
}

// Filename is the attachment name for a session transcript.
func Filename(sessionID string) string {
	return fmt.Sprintf("session-%s-transcript.txt", sessionID)
}

// Render writes the document with a fixed section order: header, summary,
// detailed report, participation, transcript. Every turn appears exactly once
// in ledger order.
func Render(doc Document) string {
	var b strings.Builder
	heavy := strings.Repeat("=", ruleWidth)
	light := strings.Repeat("-", ruleWidth)
	s := doc.Session

	b.WriteString("Agent Salon Session Transcript\n")
	b.WriteString(heavy + "\n\n")
	fmt.Fprintf(&b, "Session ID: %s\n", s.ID)
	fmt.Fprintf(&b, "Topic: %s\n", s.Topic)
	fmt.Fprintf(&b, "Status: %s\n", s.Status)
	fmt.Fprintf(&b, "Turns: %d / %d\n", len(s.Turns), s.MaxTurns)
	if !s.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "Created: %s\n", s.CreatedAt.Format(timeLayout))
	}
	names := make([]string, 0, len(s.AgentIDs))
	for _, id := range s.AgentIDs {
		names = append(names, doc.name(id))
	}
	fmt.Fprintf(&b, "Participants: %s\n", strings.Join(names, ", "))

	writeSection(&b, HeadingSummary, artifactText(doc.Summary, doc.SummaryErr, "summary"))
	writeSection(&b, HeadingReport, artifactText(doc.Report, doc.ReportErr, "report"))

	var stats strings.Builder
	if doc.Stats.TotalTurns == 0 {
		stats.WriteString("No turns recorded.\n")
	} else {
		// roster order; silent participants are listed with zero turns
		for _, id := range s.AgentIDs {
			entry, _ := doc.Stats.Lookup(id)
			fmt.Fprintf(&stats, "%s: %d turns (%.1f%%)\n", doc.name(id), entry.Turns, entry.Percentage)
		}
	}
	writeSection(&b, HeadingParticipation, stats.String())

	b.WriteString("\n" + heavy + "\n")
	b.WriteString(HeadingTranscript + "\n")
	b.WriteString(heavy + "\n\n")
	if len(s.Turns) == 0 {
		b.WriteString("No turns recorded.\n")
	}
	for _, turn := range s.Turns {
		fmt.Fprintf(&b, "Turn %d - %s\n", turn.Sequence, turn.AgentID)
		b.WriteString(light + "\n")
		if name := doc.name(turn.AgentID); name != turn.AgentID {
			fmt.Fprintf(&b, "Agent: %s\n", name)
		}
		if !turn.CreatedAt.IsZero() {
			fmt.Fprintf(&b, "Time: %s\n", turn.CreatedAt.Format(timeLayout))
		}
		if turn.Prompt != "" {
			fmt.Fprintf(&b, "Prompt: %s\n", turn.Prompt)
		}
		b.WriteString("\n")
		b.WriteString(turn.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}

func writeSection(b *strings.Builder, heading, body string) {
	rule := strings.Repeat("=", ruleWidth)
	b.WriteString("\n" + rule + "\n")
	b.WriteString(heading + "\n")
	b.WriteString(rule + "\n\n")
	b.WriteString(strings.TrimRight(body, "\n"))
	b.WriteString("\n")
}

func artifactText(text string, err error, kind string) string {
	switch {
	case err == nil:
		return text
	case errors.Is(err, session.ErrInvalidInput):
		return fmt.Sprintf("No %s available: the session has no turns yet.", kind)
	default:
		return fmt.Sprintf("The %s is unavailable: %v", kind, err)
	}
}

func (d Document) name(agentID string) string {
	if n := d.Names[agentID]; n != "" {
		return n
	}
	return agentID
}
