// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/nto-labs/agentforce-portal/internal/domain"
)

// Repository defines the interface for persisting conversation state.
//
// Sessions, messages and sequence counters are independent namespaces keyed
// by agent ID. ClearSession is the single invalidation entry point: expiry,
// endpoint mismatch and upstream not-found all route through it.
type Repository interface {
	// GetSession retrieves the stored session for an agent. It returns
	// (nil, nil) when no valid session exists. A stored session whose
	// endpoint does not match the configured upstream endpoint, or whose
	// age exceeds the session TTL, is invalidated and treated as absent.
	GetSession(ctx context.Context, agentID string) (*domain.ChatSession, error)

	// PutSession upserts the session for an agent, replacing any prior one.
	PutSession(ctx context.Context, session *domain.ChatSession) error

	// ClearSession removes the session, all messages and the sequence
	// counter for an agent in one transaction.
	ClearSession(ctx context.Context, agentID string) error

	// GetMessages returns the stored messages for an agent in insertion
	// order, oldest first. It returns an empty slice on missing or corrupt
	// data rather than failing.
	GetMessages(ctx context.Context, agentID string) ([]domain.ChatMessage, error)

	// AppendMessage appends a finalized message. A message whose ID already
	// exists for the agent is a logged no-op, never an overwrite.
	AppendMessage(ctx context.Context, agentID string, msg *domain.ChatMessage) error

	// NextSequenceID increments and returns the per-agent sequence counter.
	// The first call for an agent (or the first call after ClearSession)
	// returns 1. Call at most once per outgoing user message.
	NextSequenceID(ctx context.Context, agentID string) (int, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
