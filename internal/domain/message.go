package domain

import "time"

// ToolOutput is structured output attached to an agent message by an
// upstream tool or action. It is read-only once created.
type ToolOutput struct {
	Type     string         `json:"type"`
	Value    map[string]any `json:"value"`
	Property string         `json:"property,omitempty"`
}

// ChatMessage is a finalized message in a conversation. Messages are never
// mutated after storage; duplicate IDs are dropped at the storage boundary.
type ChatMessage struct {
	ID          string       `json:"id"`
	Content     string       `json:"content"`
	IsUser      bool         `json:"isUser"`
	Timestamp   time.Time    `json:"timestamp"`
	ToolOutputs []ToolOutput `json:"toolOutputs,omitempty"`
}
