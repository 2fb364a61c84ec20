// Package catalog holds the workshop agent catalog embedded in the binary.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed agents.json
var agentsJSON []byte

// Responsibility describes one duty of a workshop agent.
type Responsibility struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Agent is one entry in the workshop catalog.
type Agent struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	APIName          string           `json:"apiName"`
	Description      string           `json:"description"`
	Responsibilities []Responsibility `json:"responsibilities"`
	SampleUtterances []string         `json:"sampleUtterances"`
	Icon             string           `json:"icon"`
	Category         string           `json:"category"`
}

// Catalog is the parsed agent catalog.
type Catalog struct {
	agents []Agent
	byID   map[string]Agent
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	var agents []Agent
	if err := json.Unmarshal(agentsJSON, &agents); err != nil {
		return nil, fmt.Errorf("parse embedded agent catalog: %w", err)
	}

	byID := make(map[string]Agent, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}
	return &Catalog{agents: agents, byID: byID}, nil
}

// List returns all agents in catalog order.
func (c *Catalog) List() []Agent {
	out := make([]Agent, len(c.agents))
	copy(out, c.agents)
	return out
}

// Get returns the agent with the given ID.
func (c *Catalog) Get(id string) (Agent, bool) {
	a, ok := c.byID[id]
	return a, ok
}

// Search returns agents whose name, description, API name or category
// contains the query, case-insensitively. An empty query returns all agents.
func (c *Catalog) Search(query string) []Agent {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return c.List()
	}

	var out []Agent
	for _, a := range c.agents {
		haystack := strings.ToLower(strings.Join([]string{
			a.Name, a.Description, a.APIName, a.Category,
		}, " "))
		if strings.Contains(haystack, query) {
			out = append(out, a)
		}
	}
	return out
}
