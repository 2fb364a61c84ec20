// Package domain defines the chat entities persisted by the portal.
package domain

import (
	"strings"
	"time"
)

// ChatSession is a live conversation session with an upstream agent.
// At most one session exists per agent per upstream endpoint.
type ChatSession struct {
	SessionID string    `json:"sessionId"`
	AgentID   string    `json:"agentId"`
	CreatedAt time.Time `json:"createdAt"`
	Endpoint  string    `json:"endpoint"`
}

// MatchesEndpoint reports whether the session was created against the given
// upstream endpoint. Trailing slashes are ignored on both sides.
func (s *ChatSession) MatchesEndpoint(endpoint string) bool {
	return NormalizeEndpoint(s.Endpoint) == NormalizeEndpoint(endpoint)
}

// Expired reports whether the session is older than ttl at the given instant.
func (s *ChatSession) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CreatedAt) >= ttl
}

// NormalizeEndpoint strips a trailing slash from an instance URL so that
// endpoint comparisons are stable regardless of how the URL was configured.
func NormalizeEndpoint(endpoint string) string {
	return strings.TrimSuffix(endpoint, "/")
}
