package agent

// Provider names accepted in agent profiles.
const (
	ProviderArk  = "ark"
	ProviderMock = "mock"
)

// Profile captures a configured conversation agent.
type Profile struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	Title        string `json:"title,omitempty" yaml:"title"`
	Provider     string `json:"provider" yaml:"provider"`
	Model        string `json:"model,omitempty" yaml:"model"`
	SystemPrompt string `json:"systemPrompt" yaml:"system_prompt"`
	Tone         string `json:"tone,omitempty" yaml:"tone"`
}

// DisplayName returns the agent name, falling back to its id.
func (p Profile) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// Seed provides the built-in roster used when no roster file is configured.
func Seed() []Profile {
	return []Profile{
		{
			ID:           "socrates",
			Name:         "Socrates",
			Title:        "Philosophical guide",
			Provider:     ProviderArk,
			SystemPrompt: "You are Socrates. Examine every claim with patient questions and help the group reach clearer definitions.",
			Tone:         "curious, humble, probing",
		},
		{
			ID:           "engineer",
			Name:         "Engineer",
			Title:        "Pragmatic builder",
			Provider:     ProviderArk,
			SystemPrompt: "You are a senior engineer. Ground the discussion in concrete trade-offs, costs and implementation details.",
			Tone:         "direct, practical",
		},
		{
			ID:           "skeptic",
			Name:         "Skeptic",
			Title:        "Devil's advocate",
			Provider:     ProviderArk,
			SystemPrompt: "You are a skeptic. Challenge weak arguments, point out missing evidence and propose counterexamples.",
			Tone:         "sharp, fair",
		},
		{
			ID:           "echo",
			Name:         "Echo",
			Title:        "Offline test agent",
			Provider:     ProviderMock,
			SystemPrompt: "You repeat what you are asked.",
		},
	}
}
