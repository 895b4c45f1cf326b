package palette

// Swatch is one presentation color.
type Swatch struct {
	Name string `json:"name"`
	Hex  string `json:"hex"`
}

// Default is the palette used for turn bubbles and participation charts.
var Default = []Swatch{
	{Name: "blue", Hex: "#3b82f6"},
	{Name: "green", Hex: "#10b981"},
	{Name: "purple", Hex: "#8b5cf6"},
	{Name: "orange", Hex: "#f59e0b"},
	{Name: "pink", Hex: "#ec4899"},
	{Name: "yellow", Hex: "#eab308"},
}

// Index maps an agent identity to a palette slot. The result depends only on
// agentID and size, so an agent keeps its color no matter where its turns
// fall in the ledger. An empty agentID maps to slot 0; size <= 0 yields 0.
func Index(agentID string, size int) int {
	if size <= 0 {
		return 0
	}
	sum := 0
	for _, r := range agentID {
		sum += int(r)
	}
	return sum % size
}

// TurnIndex colors a turn. Turns without an agent identity fall back to their
// 1-based position in the ledger so rendering never fails.
func TurnIndex(agentID string, position, size int) int {
	if size <= 0 {
		return 0
	}
	if agentID != "" {
		return Index(agentID, size)
	}
	if position < 1 {
		position = 1
	}
	return (position - 1) % size
}

// For returns the default swatch for an agent.
func For(agentID string) Swatch {
	return Default[Index(agentID, len(Default))]
}
