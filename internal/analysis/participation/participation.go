package participation

import (
	"math"
	"time"
	"unicode/utf8"

	"github.com/zhouzirui/agent-salon/backend/internal/analysis/palette"
	"github.com/zhouzirui/agent-salon/backend/internal/model/session"
)

// Entry describes one agent's share of a conversation.
type Entry struct {
	AgentID    string  `json:"agentId"`
	Turns      int     `json:"turns"`
	Percentage float64 `json:"percentage"`
	AvgLength  int     `json:"avgLength"`
	Color      string  `json:"color"`
}

// Result is derived from a ledger snapshot and is never cached.
type Result struct {
	TotalTurns  int        `json:"totalTurns"`
	Agents      []Entry    `json:"agents"`
	FirstTurnAt *time.Time `json:"firstTurnAt,omitempty"`
	LastTurnAt  *time.Time `json:"lastTurnAt,omitempty"`
}

// Aggregate counts turns per agent. Entries are ordered by each agent's first
// appearance so chart legends stay stable as the ledger grows. An empty
// ledger yields an empty result.
func Aggregate(turns []session.Turn) Result {
	result := Result{TotalTurns: len(turns), Agents: []Entry{}}
	if len(turns) == 0 {
		return result
	}

	index := make(map[string]int)
	chars := make([]int, 0, 4)
	for _, t := range turns {
		i, ok := index[t.AgentID]
		if !ok {
			i = len(result.Agents)
			index[t.AgentID] = i
			result.Agents = append(result.Agents, Entry{
				AgentID: t.AgentID,
				Color:   palette.Default[palette.TurnIndex(t.AgentID, t.Sequence, len(palette.Default))].Hex,
			})
			chars = append(chars, 0)
		}
		result.Agents[i].Turns++
		chars[i] += utf8.RuneCountInString(t.Content)
	}

	total := float64(len(turns))
	for i := range result.Agents {
		entry := &result.Agents[i]
		entry.Percentage = round1(float64(entry.Turns) / total * 100)
		entry.AvgLength = chars[i] / entry.Turns
	}

	first := turns[0].CreatedAt
	last := turns[len(turns)-1].CreatedAt
	result.FirstTurnAt = &first
	result.LastTurnAt = &last
	return result
}

// Lookup returns the entry for agentID.
func (r Result) Lookup(agentID string) (Entry, bool) {
	for _, e := range r.Agents {
		if e.AgentID == agentID {
			return e, true
		}
	}
	return Entry{}, false
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
