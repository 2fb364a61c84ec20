// Package agentforce implements the streaming conversation engine: session
// lifecycle against the upstream agent platform, the event-stream dispatcher
// and the conversation controller.
package agentforce

import (
	"context"

	"github.com/nto-labs/agentforce-portal/internal/domain"
)

// Streaming event types emitted by the upstream platform.
const (
	EventProgressIndicator      = "ProgressIndicator"
	EventTextChunk              = "TextChunk"
	EventValidationFailureChunk = "ValidationFailureChunk"
	EventInform                 = "Inform"
	EventInquire                = "Inquire"
	EventEndOfTurn              = "EndOfTurn"
	EventConfirm                = "Confirm"
	EventFailure                = "Failure"
	EventEscalate               = "Escalate"
	EventSessionEnded           = "SessionEnded"
	EventError                  = "Error"
)

// defaultProgressText is surfaced when a progress event carries no message.
const defaultProgressText = "Working on it..."

// StreamingMessage is the typed payload of a streaming event.
type StreamingMessage struct {
	Type    string              `json:"type"`
	ID      string              `json:"id"`
	Message string              `json:"message"`
	Offset  int                 `json:"offset"`
	Result  []domain.ToolOutput `json:"result"`
}

// StreamingEvent is one decoded unit from the response stream. Events are
// transient; they are consumed immediately by the dispatcher and never
// persisted.
type StreamingEvent struct {
	Timestamp     int64            `json:"timestamp"`
	OriginEventID string           `json:"originEventId"`
	TraceID       string           `json:"traceId"`
	Offset        int              `json:"offset"`
	Message       StreamingMessage `json:"message"`
}

// Callbacks receive turn-lifecycle events from the dispatcher. Nil fields
// are skipped.
type Callbacks struct {
	// OnProgress receives progress indicator text.
	OnProgress func(message string)
	// OnTextChunk receives a partial text chunk and its offset. Offset zero
	// starts a new buffer; any other offset appends.
	OnTextChunk func(chunk string, offset int)
	// OnInform receives a finalized agent message after it was persisted.
	OnInform func(msg domain.ChatMessage)
	// OnEndOfTurn signals that turn-transient state may be cleared.
	OnEndOfTurn func()
	// OnValidationFailure signals that the turn failed input validation.
	OnValidationFailure func()
	// OnError receives a human-readable description of any failure.
	OnError func(errMsg string)
}

// TokenSource supplies a bearer token for the upstream platform.
type TokenSource interface {
	GetValidToken(ctx context.Context) (string, error)
	Invalidate()
}

// Wire types for the fixed upstream contract.

type sessionRequest struct {
	ExternalSessionKey    string                `json:"externalSessionKey"`
	InstanceConfig        instanceConfig        `json:"instanceConfig"`
	StreamingCapabilities streamingCapabilities `json:"streamingCapabilities"`
	BypassUser            bool                  `json:"bypassUser"`
}

type instanceConfig struct {
	Endpoint string `json:"endpoint"`
}

type streamingCapabilities struct {
	ChunkTypes []string `json:"chunkTypes"`
}

type sessionResponse struct {
	SessionID             string                `json:"sessionId"`
	StreamingCapabilities streamingCapabilities `json:"streamingCapabilities"`
}

type messageRequest struct {
	Message messagePayload `json:"message"`
}

type messagePayload struct {
	Type       string `json:"type"`
	SequenceID int    `json:"sequenceId"`
	Text       string `json:"text"`
}

type messageResponse struct {
	Messages []StreamingMessage `json:"messages"`
}
