package agent

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type rosterFile struct {
	Agents []Profile `yaml:"agents"`
}

// LoadFile reads a YAML roster of the form:
//
//	agents:
//	  - id: socrates
//	    name: Socrates
//	    provider: ark
//	    system_prompt: ...
func LoadFile(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading agents file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML roster.
func Parse(data []byte) ([]Profile, error) {
	var file rosterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing agents file: %w", err)
	}
	if len(file.Agents) == 0 {
		return nil, fmt.Errorf("agents file defines no agents")
	}

	seen := make(map[string]struct{}, len(file.Agents))
	profiles := make([]Profile, 0, len(file.Agents))
	for i, p := range file.Agents {
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, fmt.Errorf("agent %d: id is required", i)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("agent %q: duplicate id", p.ID)
		}
		seen[p.ID] = struct{}{}

		p.Provider = strings.ToLower(strings.TrimSpace(p.Provider))
		switch p.Provider {
		case "":
			p.Provider = ProviderArk
		case ProviderArk, ProviderMock:
		default:
			return nil, fmt.Errorf("agent %q: unknown provider %q", p.ID, p.Provider)
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}
